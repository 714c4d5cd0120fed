package database

import (
	"time"
)

// Provider identifies an external LLM vendor.
type Provider string

const (
	// ProviderAnthropic is the Anthropic API.
	ProviderAnthropic Provider = "ANTHROPIC"
	// ProviderOpenAI is the OpenAI API.
	ProviderOpenAI Provider = "OPENAI"
)

// Valid reports whether the provider is one this system knows about.
func (p Provider) Valid() bool {
	return p == ProviderAnthropic || p == ProviderOpenAI
}

// CallStatus is the outcome of a single external API call.
type CallStatus string

const (
	// StatusSuccess marks a call that completed normally.
	StatusSuccess CallStatus = "SUCCESS"
	// StatusError marks a call that failed.
	StatusError CallStatus = "ERROR"
)

// APIKey represents a stored vendor API key.
// KeyHash is always the ciphertext bundle produced by encryption.Cipher;
// the plaintext key never touches the database.
type APIKey struct {
	ID           string     `json:"id"`
	Provider     Provider   `json:"provider"`
	Name         string     `json:"name"`
	KeyHash      string     `json:"-"` // Ciphertext bundle, not included in JSON
	IsActive     bool       `json:"is_active"`
	MonthlyLimit *float64   `json:"monthly_limit,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// UsageLog is one immutable record of a single external API call.
// Rows are append-only: aggregations never mutate past entries.
type UsageLog struct {
	ID           string     `json:"id"`
	APIKeyID     string     `json:"api_key_id"`
	UserID       string     `json:"user_id,omitempty"`
	Feature      string     `json:"feature"`
	Endpoint     string     `json:"endpoint"`
	Model        string     `json:"model"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	TotalTokens  int        `json:"total_tokens"`
	InputCost    float64    `json:"input_cost"`
	OutputCost   float64    `json:"output_cost"`
	TotalCost    float64    `json:"total_cost"`
	DurationMs   int        `json:"duration_ms"`
	Status       CallStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Metadata     string     `json:"metadata,omitempty"` // JSON-encoded context
	CreatedAt    time.Time  `json:"created_at"`
}

// User is the display-join target for recent-call listings.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UsageTotals aggregates usage rows for a key and time window.
type UsageTotals struct {
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// FeatureUsageRow is one (feature, model) group in a breakdown query.
type FeatureUsageRow struct {
	Feature string  `json:"feature"`
	Model   string  `json:"model"`
	Calls   int     `json:"calls"`
	Tokens  int64   `json:"tokens"`
	Cost    float64 `json:"cost"`
}

// UsageSample is the slim row shape used for daily bucketing.
type UsageSample struct {
	CreatedAt   time.Time `json:"created_at"`
	TotalTokens int64     `json:"total_tokens"`
	TotalCost   float64   `json:"total_cost"`
}

// UsageLogDetail is a usage log enriched with key and user display fields.
type UsageLogDetail struct {
	UsageLog
	KeyProvider Provider `json:"key_provider"`
	KeyName     string   `json:"key_name"`
	UserName    string   `json:"user_name,omitempty"`
	UserEmail   string   `json:"user_email,omitempty"`
}
