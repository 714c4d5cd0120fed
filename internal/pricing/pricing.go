// Package pricing holds the per-model token prices used to cost API usage.
// Prices are EUR per one million tokens and are maintained by hand when
// vendors publish new models; unknown models cost zero so a usage record is
// never lost to a stale table.
package pricing

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModelPrice is the price of one million input or output tokens for a model.
type ModelPrice struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table maps model names to prices in a single display currency.
type Table struct {
	Currency string
	prices   map[string]ModelPrice
}

const tokensPerMillion = 1_000_000

// defaultPrices is the built-in table, EUR per 1M tokens.
// Source: Anthropic & OpenAI pricing, October 2025.
var defaultPrices = map[string]ModelPrice{
	// Anthropic Claude models
	"claude-sonnet-4-5":          {Input: 3.0, Output: 15.0},
	"claude-sonnet-4-5-20250929": {Input: 3.0, Output: 15.0},
	"claude-sonnet-4-20250514":   {Input: 3.0, Output: 15.0},
	"claude-sonnet-4":            {Input: 3.0, Output: 15.0},
	"claude-opus-4-20250514":     {Input: 15.0, Output: 75.0},
	"claude-opus-4":              {Input: 15.0, Output: 75.0},
	"claude-3-7-sonnet-20250219": {Input: 3.0, Output: 15.0},
	"claude-3-5-sonnet-20241022": {Input: 3.0, Output: 15.0},
	"claude-3-5-haiku-20241022":  {Input: 0.8, Output: 4.0},
	"claude-3-haiku-20240307":    {Input: 0.25, Output: 1.25},

	// OpenAI GPT models
	"gpt-5":                  {Input: 1.25, Output: 10.0},
	"gpt-5-mini":             {Input: 0.3, Output: 1.2},
	"gpt-5-nano":             {Input: 0.1, Output: 0.4},
	"gpt-4o":                 {Input: 2.5, Output: 10.0},
	"gpt-4o-2024-08-06":      {Input: 2.5, Output: 10.0},
	"gpt-4o-mini":            {Input: 0.15, Output: 0.6},
	"gpt-4o-mini-2024-07-18": {Input: 0.15, Output: 0.6},
	"gpt-4-turbo-2024-04-09": {Input: 10.0, Output: 30.0},
	"gpt-4-turbo":            {Input: 10.0, Output: 30.0},
	"gpt-3.5-turbo":          {Input: 0.5, Output: 1.5},
	"o4-mini":                {Input: 1.0, Output: 4.0},
}

// Default returns the built-in pricing table.
func Default() *Table {
	prices := make(map[string]ModelPrice, len(defaultPrices))
	for model, price := range defaultPrices {
		prices[model] = price
	}
	return &Table{Currency: "EUR", prices: prices}
}

// fileFormat is the YAML shape of a pricing override file.
type fileFormat struct {
	Currency string                `yaml:"currency"`
	Models   map[string]ModelPrice `yaml:"models"`
}

// LoadFile returns the default table overlaid with entries from a YAML file.
// File entries replace built-in entries for the same model name and may add
// models the built-in table does not know yet.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file: %w", err)
	}

	table := Default()
	if ff.Currency != "" {
		table.Currency = ff.Currency
	}
	for model, price := range ff.Models {
		table.prices[model] = price
	}

	return table, nil
}

// Lookup returns the price for a model. Unknown models return the zero price;
// this is the documented fallback, not an error, because pricing tables lag
// new model releases.
func (t *Table) Lookup(model string) ModelPrice {
	return t.prices[model]
}

// Known reports whether the table has an explicit entry for the model.
func (t *Table) Known(model string) bool {
	_, ok := t.prices[model]
	return ok
}

// Cost computes the input and output cost of a call from its token counts.
func (t *Table) Cost(model string, inputTokens, outputTokens int) (inputCost, outputCost float64) {
	price := t.Lookup(model)
	inputCost = float64(inputTokens) / tokensPerMillion * price.Input
	outputCost = float64(outputTokens) / tokensPerMillion * price.Output
	return inputCost, outputCost
}

// Models returns the known model names in sorted order.
func (t *Table) Models() []string {
	models := make([]string, 0, len(t.prices))
	for model := range t.prices {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}
