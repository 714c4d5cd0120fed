// Package apikey manages stored vendor API keys: creation, retrieval of the
// active key per provider, masked listings, and per-key usage summaries.
// Plaintext keys exist only transiently; at rest every key is an encrypted
// bundle, and listings only ever expose masked values.
package apikey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/liveyourdreams/backoffice-metering/internal/audit"
	"github.com/liveyourdreams/backoffice-metering/internal/database"
	"github.com/liveyourdreams/backoffice-metering/internal/encryption"
)

var (
	// ErrInvalidProvider is returned when the provider is not a known vendor.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidKeyFormat is returned when a plaintext key does not match the
	// expected prefix for its provider.
	ErrInvalidKeyFormat = errors.New("api key does not match provider format")

	// ErrEmptyName is returned when a key is created without a display name.
	ErrEmptyName = errors.New("api key name cannot be empty")
)

// Store is the persistence surface the service needs for key records.
type Store interface {
	CreateAPIKey(ctx context.Context, key database.APIKey) error
	GetAPIKeyByID(ctx context.Context, id string) (database.APIKey, error)
	GetActiveAPIKey(ctx context.Context, provider database.Provider) (database.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]database.APIKey, error)
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error
	DeactivateAPIKey(ctx context.Context, id string) error
}

// UsageReader provides the aggregations key listings are enriched with.
type UsageReader interface {
	CountUsageLogs(ctx context.Context, apiKeyID string) (int, error)
	SumUsage(ctx context.Context, apiKeyID string, since time.Time) (database.UsageTotals, error)
}

// KeySummary is the display shape for one stored key. MaskedKey is derived
// from the decrypted plaintext; the ciphertext bundle is never exposed.
type KeySummary struct {
	ID           string            `json:"id"`
	Provider     database.Provider `json:"provider"`
	Name         string            `json:"name"`
	MaskedKey    string            `json:"masked_key"`
	IsActive     bool              `json:"is_active"`
	MonthlyLimit *float64          `json:"monthly_limit,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastUsedAt   *time.Time        `json:"last_used_at,omitempty"`
	CallCount    int               `json:"call_count"`
	MonthlyCost  float64           `json:"monthly_cost"`
}

// MonthlyUsage aggregates a key's logs since the start of the current
// calendar month.
type MonthlyUsage struct {
	Calls       int     `json:"calls"`
	TotalTokens int64   `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

// KeyStats is a KeySummary plus the current-month usage block.
type KeyStats struct {
	KeySummary
	MonthlyUsage MonthlyUsage `json:"monthly_usage"`
}

// CreateKeyParams holds the inputs for storing a new vendor key.
type CreateKeyParams struct {
	Provider     database.Provider
	Name         string
	Key          string
	MonthlyLimit *float64
	// Actor identifies the caller for the audit trail.
	Actor string
}

// Service implements key management on top of a Store and a Cipher.
type Service struct {
	store   Store
	usage   UsageReader
	cipher  *encryption.Cipher
	auditor *audit.Logger
	logger  *zap.Logger
}

// NewService creates a key management service. auditor may be nil to disable
// audit logging.
func NewService(store Store, usage UsageReader, cipher *encryption.Cipher, auditor *audit.Logger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		usage:   usage,
		cipher:  cipher,
		auditor: auditor,
		logger:  logger,
	}
}

// GetActiveKey returns the decrypted plaintext of the most-recently-created
// active key for the provider, updating its last_used_at. A missing active
// key is an expected state: it returns ("", nil) and logs a warning rather
// than an error.
func (s *Service) GetActiveKey(ctx context.Context, provider database.Provider) (string, error) {
	if !provider.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidProvider, provider)
	}

	key, err := s.store.GetActiveAPIKey(ctx, provider)
	if err != nil {
		if errors.Is(err, database.ErrKeyNotFound) {
			s.logger.Warn("no active api key for provider", zap.String("provider", string(provider)))
			return "", nil
		}
		return "", fmt.Errorf("failed to load active api key: %w", err)
	}

	// Advisory field; a failed touch must not block key retrieval.
	if err := s.store.TouchAPIKey(ctx, key.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last_used_at",
			zap.String("key_id", key.ID), zap.Error(err))
	}

	plaintext, err := s.decrypt(key, audit.ActorSystem)
	if err != nil {
		return "", err
	}

	s.audit(audit.NewEvent(audit.ActionKeyAccess, audit.ActorSystem, audit.ResultSuccess).
		WithKeyID(key.ID).
		WithProvider(string(key.Provider)))

	return plaintext, nil
}

// ListKeys returns a summary for every stored key, newest first, with masked
// key values and current-month cost totals.
func (s *Service) ListKeys(ctx context.Context) ([]KeySummary, error) {
	keys, err := s.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}

	since := startOfMonth(time.Now().UTC())
	summaries := make([]KeySummary, 0, len(keys))
	for _, key := range keys {
		summary, err := s.summarize(ctx, key, since)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// GetKeyStats returns the masked summary and current-month usage block for
// one key, or nil when no such key exists.
func (s *Service) GetKeyStats(ctx context.Context, keyID string) (*KeyStats, error) {
	key, err := s.store.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, database.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load api key: %w", err)
	}

	since := startOfMonth(time.Now().UTC())
	summary, err := s.summarize(ctx, key, since)
	if err != nil {
		return nil, err
	}

	totals, err := s.usage.SumUsage(ctx, key.ID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate monthly usage: %w", err)
	}

	return &KeyStats{
		KeySummary: summary,
		MonthlyUsage: MonthlyUsage{
			Calls:       totals.Calls,
			TotalTokens: totals.TotalTokens,
			TotalCost:   totals.TotalCost,
		},
	}, nil
}

// CreateKey validates, encrypts, and stores a new vendor key, returning the
// stored record. The plaintext is discarded after encryption.
func (s *Service) CreateKey(ctx context.Context, params CreateKeyParams) (database.APIKey, error) {
	if !params.Provider.Valid() {
		return database.APIKey{}, fmt.Errorf("%w: %q", ErrInvalidProvider, params.Provider)
	}
	if strings.TrimSpace(params.Name) == "" {
		return database.APIKey{}, ErrEmptyName
	}
	if err := validateKeyFormat(params.Provider, params.Key); err != nil {
		return database.APIKey{}, err
	}

	bundle, err := s.cipher.Encrypt(params.Key)
	if err != nil {
		return database.APIKey{}, fmt.Errorf("failed to encrypt api key: %w", err)
	}

	key := database.APIKey{
		ID:           uuid.New().String(),
		Provider:     params.Provider,
		Name:         params.Name,
		KeyHash:      bundle,
		IsActive:     true,
		MonthlyLimit: params.MonthlyLimit,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return database.APIKey{}, fmt.Errorf("failed to store api key: %w", err)
	}

	s.audit(audit.NewEvent(audit.ActionKeyCreate, actorOrSystem(params.Actor), audit.ResultSuccess).
		WithKeyID(key.ID).
		WithProvider(string(key.Provider)).
		WithDetail("name", key.Name))

	s.logger.Info("api key created",
		zap.String("key_id", key.ID),
		zap.String("provider", string(key.Provider)),
		zap.String("name", key.Name))

	return key, nil
}

// DeactivateKey retires a key. Keys are never hard-deleted; usage history
// must stay attributable.
func (s *Service) DeactivateKey(ctx context.Context, keyID, actor string) error {
	if err := s.store.DeactivateAPIKey(ctx, keyID); err != nil {
		if errors.Is(err, database.ErrKeyNotFound) {
			return err
		}
		return fmt.Errorf("failed to deactivate api key: %w", err)
	}

	s.audit(audit.NewEvent(audit.ActionKeyDeactivate, actorOrSystem(actor), audit.ResultSuccess).
		WithKeyID(keyID))

	s.logger.Info("api key deactivated", zap.String("key_id", keyID))
	return nil
}

func (s *Service) summarize(ctx context.Context, key database.APIKey, since time.Time) (KeySummary, error) {
	plaintext, err := s.decrypt(key, audit.ActorSystem)
	if err != nil {
		return KeySummary{}, err
	}

	callCount, err := s.usage.CountUsageLogs(ctx, key.ID)
	if err != nil {
		return KeySummary{}, fmt.Errorf("failed to count usage logs: %w", err)
	}

	totals, err := s.usage.SumUsage(ctx, key.ID, since)
	if err != nil {
		return KeySummary{}, fmt.Errorf("failed to aggregate monthly cost: %w", err)
	}

	return KeySummary{
		ID:           key.ID,
		Provider:     key.Provider,
		Name:         key.Name,
		MaskedKey:    encryption.Mask(plaintext),
		IsActive:     key.IsActive,
		MonthlyLimit: key.MonthlyLimit,
		CreatedAt:    key.CreatedAt,
		LastUsedAt:   key.LastUsedAt,
		CallCount:    callCount,
		MonthlyCost:  totals.TotalCost,
	}, nil
}

// decrypt unwraps a stored bundle, auditing failures with the reason class so
// tampering is distinguishable from corruption.
func (s *Service) decrypt(key database.APIKey, actor string) (string, error) {
	plaintext, err := s.cipher.Decrypt(key.KeyHash)
	if err == nil {
		return plaintext, nil
	}

	reason := "unknown"
	switch {
	case errors.Is(err, encryption.ErrInvalidFormat):
		reason = "invalid_format"
	case errors.Is(err, encryption.ErrAuthenticationFailed):
		reason = "authentication_failed"
	}

	s.audit(audit.NewEvent(audit.ActionDecryptFailure, actor, audit.ResultFailure).
		WithKeyID(key.ID).
		WithProvider(string(key.Provider)).
		WithDetail("reason", reason))

	s.logger.Error("failed to decrypt stored api key",
		zap.String("key_id", key.ID),
		zap.String("reason", reason))

	return "", fmt.Errorf("failed to decrypt api key %s: %w", key.ID, err)
}

func (s *Service) audit(event *audit.Event) {
	if err := s.auditor.Log(event); err != nil {
		s.logger.Warn("failed to write audit event", zap.Error(err))
	}
}

func validateKeyFormat(provider database.Provider, key string) error {
	switch provider {
	case database.ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("%w: anthropic keys start with sk-ant-", ErrInvalidKeyFormat)
		}
	case database.ProviderOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("%w: openai keys start with sk-", ErrInvalidKeyFormat)
		}
	}
	return nil
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return audit.ActorSystem
	}
	return actor
}

// startOfMonth returns the first instant of t's calendar month in UTC.
func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
