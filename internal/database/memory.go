package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of the store methods used by the
// apikey and usage services. It exists so service and handler tests can run
// without a real database.
type MemoryStore struct {
	mu    sync.RWMutex
	keys  map[string]APIKey
	logs  []UsageLog
	users map[string]User
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:  make(map[string]APIKey),
		users: make(map[string]User),
	}
}

// CreateAPIKey inserts a new API key record.
func (m *MemoryStore) CreateAPIKey(_ context.Context, key APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.ID] = key
	return nil
}

// GetAPIKeyByID retrieves an API key by ID.
func (m *MemoryStore) GetAPIKeyByID(_ context.Context, id string) (APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[id]
	if !ok {
		return APIKey{}, ErrKeyNotFound
	}
	return key, nil
}

// GetActiveAPIKey retrieves the most-recently-created active key for a provider.
func (m *MemoryStore) GetActiveAPIKey(_ context.Context, provider Provider) (APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *APIKey
	for id := range m.keys {
		key := m.keys[id]
		if key.Provider != provider || !key.IsActive {
			continue
		}
		if best == nil || key.CreatedAt.After(best.CreatedAt) {
			k := key
			best = &k
		}
	}
	if best == nil {
		return APIKey{}, ErrKeyNotFound
	}
	return *best, nil
}

// ListAPIKeys returns all key records, newest first.
func (m *MemoryStore) ListAPIKeys(_ context.Context) ([]APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]APIKey, 0, len(m.keys))
	for id := range m.keys {
		keys = append(keys, m.keys[id])
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

// TouchAPIKey updates last_used_at.
func (m *MemoryStore) TouchAPIKey(_ context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[id]
	if !ok {
		return ErrKeyNotFound
	}
	t := usedAt.UTC()
	key.LastUsedAt = &t
	m.keys[id] = key
	return nil
}

// DeactivateAPIKey sets is_active to false.
func (m *MemoryStore) DeactivateAPIKey(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[id]
	if !ok {
		return ErrKeyNotFound
	}
	key.IsActive = false
	m.keys[id] = key
	return nil
}

// InsertUsageLog appends one usage record.
func (m *MemoryStore) InsertUsageLog(_ context.Context, entry UsageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

// CountUsageLogs returns the total historical number of logs for a key.
func (m *MemoryStore) CountUsageLogs(_ context.Context, apiKeyID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, entry := range m.logs {
		if entry.APIKeyID == apiKeyID {
			count++
		}
	}
	return count, nil
}

// SumUsage aggregates logs created at or after since; empty apiKeyID means all keys.
func (m *MemoryStore) SumUsage(_ context.Context, apiKeyID string, since time.Time) (UsageTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var totals UsageTotals
	for _, entry := range m.logs {
		if apiKeyID != "" && entry.APIKeyID != apiKeyID {
			continue
		}
		if entry.CreatedAt.Before(since) {
			continue
		}
		totals.Calls++
		totals.InputTokens += int64(entry.InputTokens)
		totals.OutputTokens += int64(entry.OutputTokens)
		totals.TotalTokens += int64(entry.TotalTokens)
		totals.TotalCost += entry.TotalCost
	}
	return totals, nil
}

// FeatureBreakdown groups logs in [start, end] by (feature, model).
func (m *MemoryStore) FeatureBreakdown(_ context.Context, start, end time.Time) ([]FeatureUsageRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	groups := make(map[string]*FeatureUsageRow)
	for _, entry := range m.logs {
		if entry.CreatedAt.Before(start) || entry.CreatedAt.After(end) {
			continue
		}
		groupKey := entry.Feature + "\x00" + entry.Model
		row, ok := groups[groupKey]
		if !ok {
			row = &FeatureUsageRow{Feature: entry.Feature, Model: entry.Model}
			groups[groupKey] = row
		}
		row.Calls++
		row.Tokens += int64(entry.TotalTokens)
		row.Cost += entry.TotalCost
	}

	breakdown := make([]FeatureUsageRow, 0, len(groups))
	for _, row := range groups {
		breakdown = append(breakdown, *row)
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].Feature != breakdown[j].Feature {
			return breakdown[i].Feature < breakdown[j].Feature
		}
		return breakdown[i].Model < breakdown[j].Model
	})
	return breakdown, nil
}

// UsageSamplesSince returns slim rows for logs at or after since, ascending.
func (m *MemoryStore) UsageSamplesSince(_ context.Context, since time.Time) ([]UsageSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var samples []UsageSample
	for _, entry := range m.logs {
		if entry.CreatedAt.Before(since) {
			continue
		}
		samples = append(samples, UsageSample{
			CreatedAt:   entry.CreatedAt,
			TotalTokens: int64(entry.TotalTokens),
			TotalCost:   entry.TotalCost,
		})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].CreatedAt.Before(samples[j].CreatedAt) })
	return samples, nil
}

// RecentUsageLogs returns the limit most-recent logs with display joins.
func (m *MemoryStore) RecentUsageLogs(_ context.Context, limit int) ([]UsageLogDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logs := make([]UsageLog, len(m.logs))
	copy(logs, m.logs)
	sort.Slice(logs, func(i, j int) bool { return logs[i].CreatedAt.After(logs[j].CreatedAt) })
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}

	details := make([]UsageLogDetail, 0, len(logs))
	for _, entry := range logs {
		detail := UsageLogDetail{UsageLog: entry}
		if key, ok := m.keys[entry.APIKeyID]; ok {
			detail.KeyProvider = key.Provider
			detail.KeyName = key.Name
		}
		if user, ok := m.users[entry.UserID]; ok {
			detail.UserName = user.Name
			detail.UserEmail = user.Email
		}
		details = append(details, detail)
	}
	return details, nil
}

// CreateUser inserts a user record.
func (m *MemoryStore) CreateUser(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

// GetUserByID retrieves a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// CorruptKeyHash overwrites a stored key's ciphertext bundle. Test helper for
// exercising decryption-failure paths.
func (m *MemoryStore) CorruptKeyHash(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := m.keys[id]; ok {
		key.KeyHash = strings.Repeat("ab", 16) + ":" + strings.Repeat("cd", 16) + ":deadbeef"
		m.keys[id] = key
	}
}
