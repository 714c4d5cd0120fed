package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	table := Default()

	assert.Equal(t, "EUR", table.Currency)

	price := table.Lookup("claude-sonnet-4-5")
	assert.Equal(t, 3.0, price.Input)
	assert.Equal(t, 15.0, price.Output)

	price = table.Lookup("gpt-4o-mini")
	assert.Equal(t, 0.15, price.Input)
	assert.Equal(t, 0.6, price.Output)
}

func TestLookupUnknownModelIsZero(t *testing.T) {
	table := Default()

	price := table.Lookup("nonexistent-model-xyz")
	assert.Zero(t, price.Input)
	assert.Zero(t, price.Output)
	assert.False(t, table.Known("nonexistent-model-xyz"))
	assert.True(t, table.Known("gpt-4o"))
}

func TestCost(t *testing.T) {
	table := Default()

	// claude-sonnet-4-5: 3.0 in / 15.0 out per 1M tokens
	inputCost, outputCost := table.Cost("claude-sonnet-4-5", 1_000_000, 2_000_000)
	assert.InDelta(t, 3.0, inputCost, 1e-9)
	assert.InDelta(t, 30.0, outputCost, 1e-9)

	inputCost, outputCost = table.Cost("claude-sonnet-4-5", 500, 1000)
	assert.InDelta(t, 0.0015, inputCost, 1e-9)
	assert.InDelta(t, 0.015, outputCost, 1e-9)

	// Unknown models cost nothing.
	inputCost, outputCost = table.Cost("nonexistent-model-xyz", 1000, 1000)
	assert.Zero(t, inputCost)
	assert.Zero(t, outputCost)
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	content := `currency: EUR
models:
  gpt-4o:
    input: 99.0
    output: 199.0
  brand-new-model:
    input: 1.0
    output: 2.0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	table, err := LoadFile(path)
	require.NoError(t, err)

	// Overridden entry wins.
	assert.Equal(t, 99.0, table.Lookup("gpt-4o").Input)
	// New entry is added.
	assert.Equal(t, 2.0, table.Lookup("brand-new-model").Output)
	// Untouched defaults survive.
	assert.Equal(t, 3.0, table.Lookup("claude-sonnet-4-5").Input)
}

func TestLoadFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("models: [not a map"), 0644))
		_, err := LoadFile(path)
		assert.Error(t, err)
	})
}

func TestModelsSorted(t *testing.T) {
	models := Default().Models()
	require.NotEmpty(t, models)
	assert.IsNonDecreasing(t, models)
	assert.Contains(t, models, "claude-3-haiku-20240307")
}
