// Package encryption seals vendor API keys with AES-256-GCM before they reach
// the database and opens them again for outbound calls. The stored form is a
// colon-delimited hex bundle: ivHex:authTagHex:cipherHex.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the required size for AES-256 encryption keys (32 bytes).
	KeySize = 32

	// IVSize is the size of the GCM initialization vector (16 bytes).
	IVSize = 16

	// TagSize is the size of the GCM authentication tag (16 bytes).
	TagSize = 16
)

var (
	// ErrInvalidKeySize is returned when the encryption key has an invalid size.
	ErrInvalidKeySize = errors.New("encryption key must be exactly 32 bytes (64 hex characters)")

	// ErrNoEncryptionKey is returned when no encryption key is configured.
	ErrNoEncryptionKey = errors.New("no encryption key configured")

	// ErrInvalidFormat is returned when a ciphertext bundle does not have the
	// expected ivHex:authTagHex:cipherHex shape.
	ErrInvalidFormat = errors.New("invalid encrypted data format")

	// ErrAuthenticationFailed is returned when the GCM tag does not verify.
	// This indicates tampered or corrupted ciphertext, or the wrong key.
	ErrAuthenticationFailed = errors.New("ciphertext authentication failed")
)

// Cipher encrypts and decrypts API key material.
// It is safe for concurrent use; cipher.AEAD implementations are thread-safe.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher creates a Cipher from a raw 32-byte AES-256 key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	// 16-byte nonces to match the stored bundle format.
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{gcm: gcm}, nil
}

// NewCipherFromHexKey creates a Cipher from a 64-hex-character key string,
// the format used by the API_KEY_ENCRYPTION_SECRET environment variable.
func NewCipherFromHexKey(hexKey string) (*Cipher, error) {
	if hexKey == "" {
		return nil, ErrNoEncryptionKey
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex key: %w", err)
	}

	return NewCipher(key)
}

// Encrypt encrypts a plaintext secret and returns the ciphertext bundle.
// A fresh random IV is generated per call, so encrypting the same plaintext
// twice yields different bundles.
func (c *Cipher) Encrypt(plainText string) (string, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	// Seal appends the authentication tag to the ciphertext.
	sealed := c.gcm.Seal(nil, iv, []byte(plainText), nil)
	cipherText := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(cipherText), nil
}

// Decrypt opens a ciphertext bundle produced by Encrypt and returns the
// plaintext. The tag is verified before any plaintext is released: a
// malformed bundle yields ErrInvalidFormat, a tag mismatch yields
// ErrAuthenticationFailed, and in neither case is partial plaintext returned.
func (c *Cipher) Decrypt(encryptedData string) (string, error) {
	parts := strings.Split(encryptedData, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", ErrInvalidFormat
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != IVSize {
		return "", ErrInvalidFormat
	}

	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != TagSize {
		return "", ErrInvalidFormat
	}

	// The cipher segment may be empty: encrypting the empty string is legal.
	cipherText, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidFormat
	}

	plainText, err := c.gcm.Open(nil, iv, append(cipherText, tag...), nil)
	if err != nil {
		return "", ErrAuthenticationFailed
	}

	return string(plainText), nil
}

// GenerateKeyHex generates a new random AES-256 key as 64 hex characters,
// suitable for API_KEY_ENCRYPTION_SECRET.
func GenerateKeyHex() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
