package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertUsageLog appends one usage record. Records are immutable once
// written; no update or delete path exists for this table.
func (d *DB) InsertUsageLog(ctx context.Context, entry UsageLog) error {
	query := `
	INSERT INTO api_usage_logs (
		id, api_key_id, user_id, feature, endpoint, model,
		input_tokens, output_tokens, total_tokens,
		input_cost, output_cost, total_cost,
		duration_ms, status, error_message, metadata, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := d.db.ExecContext(
		ctx,
		d.RebindQuery(query),
		entry.ID,
		entry.APIKeyID,
		nullString(entry.UserID),
		entry.Feature,
		entry.Endpoint,
		entry.Model,
		entry.InputTokens,
		entry.OutputTokens,
		entry.TotalTokens,
		entry.InputCost,
		entry.OutputCost,
		entry.TotalCost,
		entry.DurationMs,
		string(entry.Status),
		nullString(entry.ErrorMessage),
		nullString(entry.Metadata),
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage log: %w", err)
	}

	return nil
}

// CountUsageLogs returns the total historical number of logs for a key.
func (d *DB) CountUsageLogs(ctx context.Context, apiKeyID string) (int, error) {
	query := `SELECT COUNT(*) FROM api_usage_logs WHERE api_key_id = ?`

	var count int
	err := d.db.QueryRowContext(ctx, d.RebindQuery(query), apiKeyID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage logs: %w", err)
	}

	return count, nil
}

// SumUsage aggregates calls, tokens, and cost for logs created at or after
// since. An empty apiKeyID aggregates across all keys.
func (d *DB) SumUsage(ctx context.Context, apiKeyID string, since time.Time) (UsageTotals, error) {
	query := `
	SELECT
		COUNT(*),
		COALESCE(SUM(input_tokens), 0),
		COALESCE(SUM(output_tokens), 0),
		COALESCE(SUM(total_tokens), 0),
		COALESCE(SUM(total_cost), 0)
	FROM api_usage_logs
	WHERE created_at >= ?
	`
	args := []any{since.UTC()}

	if apiKeyID != "" {
		query += ` AND api_key_id = ?`
		args = append(args, apiKeyID)
	}

	var totals UsageTotals
	err := d.db.QueryRowContext(ctx, d.RebindQuery(query), args...).Scan(
		&totals.Calls,
		&totals.InputTokens,
		&totals.OutputTokens,
		&totals.TotalTokens,
		&totals.TotalCost,
	)
	if err != nil {
		return UsageTotals{}, fmt.Errorf("failed to aggregate usage: %w", err)
	}

	return totals, nil
}

// FeatureBreakdown groups logs in [start, end] by (feature, model) and sums
// calls, tokens, and cost per group.
func (d *DB) FeatureBreakdown(ctx context.Context, start, end time.Time) ([]FeatureUsageRow, error) {
	query := `
	SELECT feature, model, COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(total_cost), 0)
	FROM api_usage_logs
	WHERE created_at >= ? AND created_at <= ?
	GROUP BY feature, model
	ORDER BY feature, model
	`

	rows, err := d.db.QueryContext(ctx, d.RebindQuery(query), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query feature breakdown: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var breakdown []FeatureUsageRow
	for rows.Next() {
		var row FeatureUsageRow
		if err := rows.Scan(&row.Feature, &row.Model, &row.Calls, &row.Tokens, &row.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan feature breakdown row: %w", err)
		}
		breakdown = append(breakdown, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feature breakdown: %w", err)
	}

	return breakdown, nil
}

// UsageSamplesSince returns the slim (created_at, tokens, cost) rows for all
// logs created at or after since, in ascending creation order. Callers bucket
// these by calendar day.
func (d *DB) UsageSamplesSince(ctx context.Context, since time.Time) ([]UsageSample, error) {
	query := `
	SELECT created_at, total_tokens, total_cost
	FROM api_usage_logs
	WHERE created_at >= ?
	ORDER BY created_at ASC
	`

	rows, err := d.db.QueryContext(ctx, d.RebindQuery(query), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query usage samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var samples []UsageSample
	for rows.Next() {
		var sample UsageSample
		if err := rows.Scan(&sample.CreatedAt, &sample.TotalTokens, &sample.TotalCost); err != nil {
			return nil, fmt.Errorf("failed to scan usage sample: %w", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage samples: %w", err)
	}

	return samples, nil
}

// RecentUsageLogs returns the limit most-recent logs, newest first, enriched
// with the owning key's provider/name and the acting user's display fields.
func (d *DB) RecentUsageLogs(ctx context.Context, limit int) ([]UsageLogDetail, error) {
	query := `
	SELECT
		l.id, l.api_key_id, l.user_id, l.feature, l.endpoint, l.model,
		l.input_tokens, l.output_tokens, l.total_tokens,
		l.input_cost, l.output_cost, l.total_cost,
		l.duration_ms, l.status, l.error_message, l.metadata, l.created_at,
		k.provider, k.name,
		u.name, u.email
	FROM api_usage_logs l
	JOIN api_keys k ON k.id = l.api_key_id
	LEFT JOIN users u ON u.id = l.user_id
	ORDER BY l.created_at DESC
	LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, d.RebindQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent usage logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var details []UsageLogDetail
	for rows.Next() {
		var detail UsageLogDetail
		var userID, errorMessage, metadata, status, provider sql.NullString
		var userName, userEmail sql.NullString

		err := rows.Scan(
			&detail.ID,
			&detail.APIKeyID,
			&userID,
			&detail.Feature,
			&detail.Endpoint,
			&detail.Model,
			&detail.InputTokens,
			&detail.OutputTokens,
			&detail.TotalTokens,
			&detail.InputCost,
			&detail.OutputCost,
			&detail.TotalCost,
			&detail.DurationMs,
			&status,
			&errorMessage,
			&metadata,
			&detail.CreatedAt,
			&provider,
			&detail.KeyName,
			&userName,
			&userEmail,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recent usage log: %w", err)
		}

		detail.UserID = userID.String
		detail.Status = CallStatus(status.String)
		detail.ErrorMessage = errorMessage.String
		detail.Metadata = metadata.String
		detail.KeyProvider = Provider(provider.String)
		detail.UserName = userName.String
		detail.UserEmail = userEmail.String

		details = append(details, detail)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recent usage logs: %w", err)
	}

	return details, nil
}

// nullString maps empty strings to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
