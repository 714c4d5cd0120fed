package encryption

import "strings"

// maskedPlaceholder is returned for keys too short to reveal anything of.
const maskedPlaceholder = "••••••••"

// Mask redacts a decrypted API key for display. It is purely cosmetic and
// must only be called on plaintext key material, never on ciphertext bundles.
//
// Policy:
//   - 8 characters or fewer collapse to a fixed placeholder
//   - Anthropic keys (sk-ant-...) keep their prefix and last 4 characters
//   - OpenAI keys (sk-...) keep the sk- prefix and last 4 characters
//   - anything else keeps the first and last 4 characters
func Mask(key string) string {
	if len(key) <= 8 {
		return maskedPlaceholder
	}

	if strings.HasPrefix(key, "sk-ant-") {
		return "sk-ant-••••-" + key[len(key)-4:]
	}

	if strings.HasPrefix(key, "sk-") {
		return "sk-••••-" + key[len(key)-4:]
	}

	return key[:4] + "••••" + key[len(key)-4:]
}
