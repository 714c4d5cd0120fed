package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrKeyNotFound is returned when an API key record does not exist.
	ErrKeyNotFound = errors.New("api key not found")
)

// CreateAPIKey inserts a new API key record.
func (d *DB) CreateAPIKey(ctx context.Context, key APIKey) error {
	query := `
	INSERT INTO api_keys (id, provider, name, key_hash, is_active, monthly_limit, created_at, last_used_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := d.db.ExecContext(
		ctx,
		d.RebindQuery(query),
		key.ID,
		string(key.Provider),
		key.Name,
		key.KeyHash,
		key.IsActive,
		key.MonthlyLimit,
		key.CreatedAt.UTC(),
		key.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}

	return nil
}

// GetAPIKeyByID retrieves an API key by ID.
func (d *DB) GetAPIKeyByID(ctx context.Context, id string) (APIKey, error) {
	query := `
	SELECT id, provider, name, key_hash, is_active, monthly_limit, created_at, last_used_at
	FROM api_keys
	WHERE id = ?
	`

	return d.scanAPIKey(d.db.QueryRowContext(ctx, d.RebindQuery(query), id))
}

// GetActiveAPIKey retrieves the most-recently-created active key for a
// provider. Returns ErrKeyNotFound when no active key exists; callers treat
// that as an expected state, not a failure.
func (d *DB) GetActiveAPIKey(ctx context.Context, provider Provider) (APIKey, error) {
	query := `
	SELECT id, provider, name, key_hash, is_active, monthly_limit, created_at, last_used_at
	FROM api_keys
	WHERE provider = ? AND is_active = ?
	ORDER BY created_at DESC
	LIMIT 1
	`

	return d.scanAPIKey(d.db.QueryRowContext(ctx, d.RebindQuery(query), string(provider), true))
}

// ListAPIKeys returns all key records, newest first.
func (d *DB) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	query := `
	SELECT id, provider, name, key_hash, is_active, monthly_limit, created_at, last_used_at
	FROM api_keys
	ORDER BY created_at DESC
	`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []APIKey
	for rows.Next() {
		key, err := d.scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate api keys: %w", err)
	}

	return keys, nil
}

// TouchAPIKey updates last_used_at. Concurrent touches are last-writer-wins;
// the field is advisory, not correctness-critical.
func (d *DB) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	query := `UPDATE api_keys SET last_used_at = ? WHERE id = ?`

	result, err := d.db.ExecContext(ctx, d.RebindQuery(query), usedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update last_used_at: %w", err)
	}

	return requireRowAffected(result)
}

// DeactivateAPIKey sets is_active to false. Keys are never hard-deleted;
// deactivation is the documented retirement pattern.
func (d *DB) DeactivateAPIKey(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET is_active = ? WHERE id = ?`

	result, err := d.db.ExecContext(ctx, d.RebindQuery(query), false, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate api key: %w", err)
	}

	return requireRowAffected(result)
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func (d *DB) scanAPIKey(row rowScanner) (APIKey, error) {
	var key APIKey
	var provider string
	var monthlyLimit sql.NullFloat64
	var lastUsedAt sql.NullTime

	err := row.Scan(
		&key.ID,
		&provider,
		&key.Name,
		&key.KeyHash,
		&key.IsActive,
		&monthlyLimit,
		&key.CreatedAt,
		&lastUsedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return APIKey{}, ErrKeyNotFound
		}
		return APIKey{}, fmt.Errorf("failed to scan api key: %w", err)
	}

	key.Provider = Provider(provider)
	if monthlyLimit.Valid {
		key.MonthlyLimit = &monthlyLimit.Float64
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		key.LastUsedAt = &t
	}

	return key, nil
}

func requireRowAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}
