// Package tokencount estimates token counts and projected cost for a prompt
// before the call is made. Estimates use the cl100k tokenizer family; vendor
// tokenizers differ slightly, so results are planning figures, not billing.
package tokencount

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/liveyourdreams/backoffice-metering/internal/pricing"
)

const fallbackEncoding = "cl100k_base"

// Estimate is the projected footprint of one prospective call.
type Estimate struct {
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	TotalCost    float64 `json:"total_cost"`
	PricingKnown bool    `json:"pricing_known"`
}

// encodeFunc counts tokens for a prompt under a model's tokenizer.
type encodeFunc func(model, prompt string) (int, error)

// Estimator computes Estimates against a pricing table.
type Estimator struct {
	prices *pricing.Table
	encode encodeFunc
}

// NewEstimator creates an estimator over the given pricing table.
func NewEstimator(prices *pricing.Table) *Estimator {
	if prices == nil {
		prices = pricing.Default()
	}
	return &Estimator{prices: prices, encode: tiktokenCount}
}

// Estimate tokenizes the prompt and projects the cost of a call to model
// that returns expectedOutputTokens.
func (e *Estimator) Estimate(model, prompt string, expectedOutputTokens int) (Estimate, error) {
	if model == "" {
		return Estimate{}, fmt.Errorf("model is required")
	}
	if expectedOutputTokens < 0 {
		return Estimate{}, fmt.Errorf("expected output tokens cannot be negative")
	}

	inputTokens, err := e.encode(model, prompt)
	if err != nil {
		return Estimate{}, fmt.Errorf("failed to tokenize prompt: %w", err)
	}

	inputCost, outputCost := e.prices.Cost(model, inputTokens, expectedOutputTokens)
	return Estimate{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: expectedOutputTokens,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		TotalCost:    inputCost + outputCost,
		PricingKnown: e.prices.Known(model),
	}, nil
}

// tiktokenCount counts tokens with the model's own encoding when tiktoken
// knows the model, falling back to cl100k_base for everything else
// (Anthropic models in particular).
func tiktokenCount(model, prompt string) (int, error) {
	tk, err := tiktoken.EncodingForModel(model)
	if err != nil || strings.HasPrefix(model, "claude") {
		tk, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return 0, err
		}
	}
	return len(tk.Encode(prompt, nil, nil)), nil
}
