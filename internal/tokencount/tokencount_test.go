package tokencount

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveyourdreams/backoffice-metering/internal/pricing"
)

// fixedEncoder avoids downloading tokenizer data in tests.
func fixedEncoder(tokens int) encodeFunc {
	return func(string, string) (int, error) { return tokens, nil }
}

func TestEstimateProjectsCost(t *testing.T) {
	est := NewEstimator(pricing.Default())
	est.encode = fixedEncoder(1_000_000)

	result, err := est.Estimate("gpt-4o", "some prompt", 2_000_000)
	require.NoError(t, err)

	// gpt-4o prices at 2.50 in / 10.00 out per million tokens.
	assert.Equal(t, 1_000_000, result.InputTokens)
	assert.Equal(t, 2_000_000, result.OutputTokens)
	assert.InDelta(t, 2.5, result.InputCost, 1e-9)
	assert.InDelta(t, 20.0, result.OutputCost, 1e-9)
	assert.InDelta(t, 22.5, result.TotalCost, 1e-9)
	assert.True(t, result.PricingKnown)
}

func TestEstimateUnknownModel(t *testing.T) {
	est := NewEstimator(pricing.Default())
	est.encode = fixedEncoder(500)

	result, err := est.Estimate("nonexistent-model-xyz", "prompt", 100)
	require.NoError(t, err)
	assert.Zero(t, result.TotalCost)
	assert.False(t, result.PricingKnown)
	assert.Equal(t, 500, result.InputTokens)
}

func TestEstimateValidation(t *testing.T) {
	est := NewEstimator(nil)
	est.encode = fixedEncoder(1)

	_, err := est.Estimate("", "prompt", 0)
	assert.Error(t, err)

	_, err = est.Estimate("gpt-4o", "prompt", -1)
	assert.Error(t, err)
}

func TestEstimateEncoderFailure(t *testing.T) {
	est := NewEstimator(nil)
	est.encode = func(string, string) (int, error) {
		return 0, errors.New("no such encoding")
	}

	_, err := est.Estimate("gpt-4o", "prompt", 0)
	assert.Error(t, err)
}
