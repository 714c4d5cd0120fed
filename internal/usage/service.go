// Package usage records external API calls as an append-only ledger and
// serves the aggregation views built on it. Costs are computed once, at log
// time, from the pricing table; aggregations only ever sum persisted values.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/liveyourdreams/backoffice-metering/internal/database"
	"github.com/liveyourdreams/backoffice-metering/internal/eventbus"
	"github.com/liveyourdreams/backoffice-metering/internal/pricing"
)

const (
	defaultRecentLimit = 20
	defaultDailyDays   = 30
)

var (
	// ErrMissingKeyID is returned when a log entry has no owning key.
	ErrMissingKeyID = errors.New("api key id is required")

	// ErrMissingFeature is returned when a log entry has no feature label.
	ErrMissingFeature = errors.New("feature is required")

	// ErrNegativeValue is returned when token counts or duration are negative.
	ErrNegativeValue = errors.New("token counts and duration cannot be negative")

	// ErrInvalidStatus is returned for a status outside SUCCESS/ERROR.
	ErrInvalidStatus = errors.New("invalid call status")
)

// Store is the persistence surface the service needs for the usage ledger.
type Store interface {
	InsertUsageLog(ctx context.Context, entry database.UsageLog) error
	SumUsage(ctx context.Context, apiKeyID string, since time.Time) (database.UsageTotals, error)
	FeatureBreakdown(ctx context.Context, start, end time.Time) ([]database.FeatureUsageRow, error)
	UsageSamplesSince(ctx context.Context, since time.Time) ([]database.UsageSample, error)
	RecentUsageLogs(ctx context.Context, limit int) ([]database.UsageLogDetail, error)
}

// LogParams holds the inputs for recording one external API call.
type LogParams struct {
	APIKeyID     string
	UserID       string
	Feature      string
	Endpoint     string
	Model        string
	InputTokens  int
	OutputTokens int
	DurationMs   int
	Status       database.CallStatus
	ErrorMessage string
	Metadata     map[string]any
}

// DailyUsage is one calendar day's summed activity.
type DailyUsage struct {
	Date       string  `json:"date"`
	TotalCost  float64 `json:"total_cost"`
	Tokens     int64   `json:"tokens"`
	TotalCalls int     `json:"total_calls"`
}

// PeriodStats aggregates all activity since a window start.
type PeriodStats struct {
	TotalCost    float64 `json:"total_cost"`
	TotalCalls   int     `json:"total_calls"`
	TotalTokens  int64   `json:"total_tokens"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
}

// OverallStats pairs today's activity with the current month's.
type OverallStats struct {
	Today PeriodStats `json:"today"`
	Month PeriodStats `json:"month"`
}

// Service implements the usage ledger on top of a Store, a pricing table,
// and an event publisher.
type Service struct {
	store     Store
	prices    *pricing.Table
	publisher eventbus.Publisher
	logger    *zap.Logger
}

// NewService creates a usage service. publisher may be nil to disable event
// publication.
func NewService(store Store, prices *pricing.Table, publisher eventbus.Publisher, logger *zap.Logger) *Service {
	if prices == nil {
		prices = pricing.Default()
	}
	if publisher == nil {
		publisher = eventbus.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		prices:    prices,
		publisher: publisher,
		logger:    logger,
	}
}

// LogUsage computes costs for the call and appends one immutable record.
// An unknown model prices at zero rather than failing; pricing tables lag
// new model releases and a metering gap must not break the calling feature.
func (s *Service) LogUsage(ctx context.Context, params LogParams) (database.UsageLog, error) {
	if params.APIKeyID == "" {
		return database.UsageLog{}, ErrMissingKeyID
	}
	if params.Feature == "" {
		return database.UsageLog{}, ErrMissingFeature
	}
	if params.InputTokens < 0 || params.OutputTokens < 0 || params.DurationMs < 0 {
		return database.UsageLog{}, ErrNegativeValue
	}

	status := params.Status
	if status == "" {
		status = database.StatusSuccess
	}
	if status != database.StatusSuccess && status != database.StatusError {
		return database.UsageLog{}, fmt.Errorf("%w: %q", ErrInvalidStatus, params.Status)
	}

	metadata := ""
	if len(params.Metadata) > 0 {
		encoded, err := json.Marshal(params.Metadata)
		if err != nil {
			return database.UsageLog{}, fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = string(encoded)
	}

	inputCost, outputCost := s.prices.Cost(params.Model, params.InputTokens, params.OutputTokens)
	if !s.prices.Known(params.Model) {
		s.logger.Warn("no pricing for model, recording zero cost",
			zap.String("model", params.Model))
	}

	entry := database.UsageLog{
		ID:           uuid.New().String(),
		APIKeyID:     params.APIKeyID,
		UserID:       params.UserID,
		Feature:      params.Feature,
		Endpoint:     params.Endpoint,
		Model:        params.Model,
		InputTokens:  params.InputTokens,
		OutputTokens: params.OutputTokens,
		TotalTokens:  params.InputTokens + params.OutputTokens,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		TotalCost:    inputCost + outputCost,
		DurationMs:   params.DurationMs,
		Status:       status,
		ErrorMessage: params.ErrorMessage,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.InsertUsageLog(ctx, entry); err != nil {
		return database.UsageLog{}, fmt.Errorf("failed to record usage: %w", err)
	}

	s.publisher.Publish(ctx, eventbus.Event{
		ID:          entry.ID,
		APIKeyID:    entry.APIKeyID,
		Feature:     entry.Feature,
		Endpoint:    entry.Endpoint,
		Model:       entry.Model,
		TotalTokens: entry.TotalTokens,
		TotalCost:   entry.TotalCost,
		Status:      string(entry.Status),
		Timestamp:   entry.CreatedAt,
	})

	return entry, nil
}

// GetMonthlyUsage aggregates a key's logs since the start of the current
// calendar month.
func (s *Service) GetMonthlyUsage(ctx context.Context, apiKeyID string) (database.UsageTotals, error) {
	if apiKeyID == "" {
		return database.UsageTotals{}, ErrMissingKeyID
	}
	totals, err := s.store.SumUsage(ctx, apiKeyID, startOfMonth(time.Now().UTC()))
	if err != nil {
		return database.UsageTotals{}, fmt.Errorf("failed to aggregate monthly usage: %w", err)
	}
	return totals, nil
}

// GetFeatureBreakdown groups logs in [start, end] by (feature, model).
func (s *Service) GetFeatureBreakdown(ctx context.Context, start, end time.Time) ([]database.FeatureUsageRow, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s precedes start date %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	breakdown, err := s.store.FeatureBreakdown(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to compute feature breakdown: %w", err)
	}
	return breakdown, nil
}

// GetDailyUsage buckets the last days calendar days of logs by ISO date,
// ascending. Days without activity are omitted.
func (s *Service) GetDailyUsage(ctx context.Context, days int) ([]DailyUsage, error) {
	if days <= 0 {
		days = defaultDailyDays
	}

	since := startOfDay(time.Now().UTC()).AddDate(0, 0, -days)
	samples, err := s.store.UsageSamplesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage samples: %w", err)
	}

	// Samples arrive in ascending creation order, so first occurrence of a
	// date fixes its position.
	index := make(map[string]int)
	var daily []DailyUsage
	for _, sample := range samples {
		date := sample.CreatedAt.UTC().Format("2006-01-02")
		i, ok := index[date]
		if !ok {
			i = len(daily)
			index[date] = i
			daily = append(daily, DailyUsage{Date: date})
		}
		daily[i].TotalCost += sample.TotalCost
		daily[i].Tokens += sample.TotalTokens
		daily[i].TotalCalls++
	}

	return daily, nil
}

// GetRecentCalls returns the limit most-recent logs, newest first, with key
// and user display fields joined in.
func (s *Service) GetRecentCalls(ctx context.Context, limit int) ([]database.UsageLogDetail, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	details, err := s.store.RecentUsageLogs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent calls: %w", err)
	}
	return details, nil
}

// GetOverallStats aggregates all activity twice: since today 00:00 UTC and
// since the first of the current month 00:00 UTC.
func (s *Service) GetOverallStats(ctx context.Context) (OverallStats, error) {
	now := time.Now().UTC()

	today, err := s.store.SumUsage(ctx, "", startOfDay(now))
	if err != nil {
		return OverallStats{}, fmt.Errorf("failed to aggregate today's usage: %w", err)
	}

	month, err := s.store.SumUsage(ctx, "", startOfMonth(now))
	if err != nil {
		return OverallStats{}, fmt.Errorf("failed to aggregate monthly usage: %w", err)
	}

	return OverallStats{
		Today: periodStats(today),
		Month: periodStats(month),
	}, nil
}

func periodStats(totals database.UsageTotals) PeriodStats {
	return PeriodStats{
		TotalCost:    totals.TotalCost,
		TotalCalls:   totals.Calls,
		TotalTokens:  totals.TotalTokens,
		InputTokens:  totals.InputTokens,
		OutputTokens: totals.OutputTokens,
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
