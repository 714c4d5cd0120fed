package apikey

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/liveyourdreams/backoffice-metering/internal/audit"
	"github.com/liveyourdreams/backoffice-metering/internal/database"
	"github.com/liveyourdreams/backoffice-metering/internal/encryption"
)

func testService(t *testing.T) (*Service, *database.MemoryStore, *bytes.Buffer) {
	t.Helper()
	cipher, err := encryption.NewCipherFromHexKey(strings.Repeat("ab", 32))
	require.NoError(t, err)

	store := database.NewMemoryStore()
	var auditBuf bytes.Buffer
	svc := NewService(store, store, cipher, audit.NewWriterLogger(&auditBuf), zap.NewNop())
	return svc, store, &auditBuf
}

func createTestKey(t *testing.T, svc *Service, provider database.Provider, name, plaintext string) database.APIKey {
	t.Helper()
	key, err := svc.CreateKey(context.Background(), CreateKeyParams{
		Provider: provider,
		Name:     name,
		Key:      plaintext,
	})
	require.NoError(t, err)
	return key
}

func TestGetActiveKeyRoundTrip(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()

	created := createTestKey(t, svc, database.ProviderAnthropic, "production", "sk-ant-test1234")

	before := time.Now().UTC()
	plaintext, err := svc.GetActiveKey(ctx, database.ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test1234", plaintext)

	stored, err := store.GetAPIKeyByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastUsedAt)
	assert.False(t, stored.LastUsedAt.Before(before))
	assert.False(t, stored.LastUsedAt.After(time.Now().UTC()))
}

func TestGetActiveKeyNoneIsNotAnError(t *testing.T) {
	svc, _, _ := testService(t)

	plaintext, err := svc.GetActiveKey(context.Background(), database.ProviderAnthropic)
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestGetActiveKeyPicksNewest(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()

	older := createTestKey(t, svc, database.ProviderOpenAI, "old", "sk-old-key-111")
	// Force distinct created_at ordering.
	olderRec, err := store.GetAPIKeyByID(ctx, older.ID)
	require.NoError(t, err)
	olderRec.CreatedAt = olderRec.CreatedAt.Add(-time.Hour)
	require.NoError(t, store.CreateAPIKey(ctx, olderRec))

	createTestKey(t, svc, database.ProviderOpenAI, "new", "sk-new-key-222")

	plaintext, err := svc.GetActiveKey(ctx, database.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-new-key-222", plaintext)
}

func TestGetActiveKeyInvalidProvider(t *testing.T) {
	svc, _, _ := testService(t)

	_, err := svc.GetActiveKey(context.Background(), database.Provider("GOOGLE"))
	assert.ErrorIs(t, err, ErrInvalidProvider)
}

func TestGetActiveKeyDecryptFailureIsAudited(t *testing.T) {
	svc, store, auditBuf := testService(t)
	ctx := context.Background()

	created := createTestKey(t, svc, database.ProviderAnthropic, "tampered", "sk-ant-test1234")
	auditBuf.Reset()
	store.CorruptKeyHash(created.ID)

	_, err := svc.GetActiveKey(ctx, database.ProviderAnthropic)
	require.ErrorIs(t, err, encryption.ErrAuthenticationFailed)

	event := lastAuditEvent(t, auditBuf)
	assert.Equal(t, audit.ActionDecryptFailure, event.Action)
	assert.Equal(t, created.ID, event.KeyID)
	assert.Equal(t, "authentication_failed", event.Details["reason"])
}

func TestListKeysMasksAndAggregates(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()

	key := createTestKey(t, svc, database.ProviderAnthropic, "production", "sk-ant-api03-xyzw5678")

	now := time.Now().UTC()
	for _, cost := range []float64{1.0, 2.0, 3.0} {
		require.NoError(t, store.InsertUsageLog(ctx, database.UsageLog{
			ID:        "log-" + key.ID + "-" + time.Now().String(),
			APIKeyID:  key.ID,
			Feature:   "description",
			Model:     "claude-sonnet-4-5",
			TotalCost: cost,
			CreatedAt: now,
		}))
	}
	// A log from a past month must not count toward the monthly cost.
	require.NoError(t, store.InsertUsageLog(ctx, database.UsageLog{
		ID:        "log-old",
		APIKeyID:  key.ID,
		Feature:   "description",
		Model:     "claude-sonnet-4-5",
		TotalCost: 100.0,
		CreatedAt: now.AddDate(0, -2, 0),
	}))

	summaries, err := svc.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	summary := summaries[0]
	assert.Equal(t, "sk-ant-••••-5678", summary.MaskedKey)
	assert.Equal(t, 4, summary.CallCount)
	assert.InDelta(t, 6.0, summary.MonthlyCost, 1e-9)
	assert.True(t, summary.IsActive)
}

func TestListKeysPropagatesDecryptFailure(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()

	key := createTestKey(t, svc, database.ProviderOpenAI, "broken", "sk-proj-abcdefgh")
	store.CorruptKeyHash(key.ID)

	_, err := svc.ListKeys(ctx)
	assert.ErrorIs(t, err, encryption.ErrAuthenticationFailed)
}

func TestGetKeyStats(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()

	key := createTestKey(t, svc, database.ProviderAnthropic, "production", "sk-ant-test1234")
	now := time.Now().UTC()
	require.NoError(t, store.InsertUsageLog(ctx, database.UsageLog{
		ID:          "log-1",
		APIKeyID:    key.ID,
		Feature:     "description",
		Model:       "claude-sonnet-4-5",
		TotalTokens: 150,
		TotalCost:   0.5,
		CreatedAt:   now,
	}))

	stats, err := svc.GetKeyStats(ctx, key.ID)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.MonthlyUsage.Calls)
	assert.Equal(t, int64(150), stats.MonthlyUsage.TotalTokens)
	assert.InDelta(t, 0.5, stats.MonthlyUsage.TotalCost, 1e-9)
	assert.Equal(t, "sk-ant-••••-1234", stats.MaskedKey)
}

func TestGetKeyStatsMissingKeyReturnsNil(t *testing.T) {
	svc, _, _ := testService(t)

	stats, err := svc.GetKeyStats(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestCreateKeyValidation(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		params  CreateKeyParams
		wantErr error
	}{
		{
			name:    "unknown provider",
			params:  CreateKeyParams{Provider: "GOOGLE", Name: "x", Key: "sk-abc"},
			wantErr: ErrInvalidProvider,
		},
		{
			name:    "empty name",
			params:  CreateKeyParams{Provider: database.ProviderOpenAI, Name: "  ", Key: "sk-abc"},
			wantErr: ErrEmptyName,
		},
		{
			name:    "anthropic key without prefix",
			params:  CreateKeyParams{Provider: database.ProviderAnthropic, Name: "x", Key: "sk-wrong"},
			wantErr: ErrInvalidKeyFormat,
		},
		{
			name:    "openai key without prefix",
			params:  CreateKeyParams{Provider: database.ProviderOpenAI, Name: "x", Key: "pk-wrong"},
			wantErr: ErrInvalidKeyFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateKey(ctx, tt.params)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateKeyEncryptsAndAudits(t *testing.T) {
	svc, store, auditBuf := testService(t)
	ctx := context.Background()

	key, err := svc.CreateKey(ctx, CreateKeyParams{
		Provider: database.ProviderAnthropic,
		Name:     "production",
		Key:      "sk-ant-secret",
		Actor:    audit.ActorCLI,
	})
	require.NoError(t, err)

	stored, err := store.GetAPIKeyByID(ctx, key.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.KeyHash, "sk-ant-secret")
	assert.Len(t, strings.Split(stored.KeyHash, ":"), 3)
	assert.True(t, stored.IsActive)

	event := lastAuditEvent(t, auditBuf)
	assert.Equal(t, audit.ActionKeyCreate, event.Action)
	assert.Equal(t, audit.ActorCLI, event.Actor)
	assert.Equal(t, key.ID, event.KeyID)
}

func TestDeactivateKey(t *testing.T) {
	svc, _, auditBuf := testService(t)
	ctx := context.Background()

	key := createTestKey(t, svc, database.ProviderAnthropic, "retiring", "sk-ant-test1234")
	require.NoError(t, svc.DeactivateKey(ctx, key.ID, audit.ActorManagement))

	plaintext, err := svc.GetActiveKey(ctx, database.ProviderAnthropic)
	require.NoError(t, err)
	assert.Empty(t, plaintext)

	event := lastAuditEvent(t, auditBuf)
	assert.Equal(t, audit.ActionKeyDeactivate, event.Action)
}

func TestDeactivateKeyMissing(t *testing.T) {
	svc, _, _ := testService(t)
	err := svc.DeactivateKey(context.Background(), "nonexistent", "")
	assert.ErrorIs(t, err, database.ErrKeyNotFound)
}

func lastAuditEvent(t *testing.T, buf *bytes.Buffer) audit.Event {
	t.Helper()
	var event audit.Event
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	found := false
	for scanner.Scan() {
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		found = true
	}
	require.True(t, found, "expected at least one audit event")
	return event
}
