package config

import (
	"os"
	"path/filepath"
	"testing"

	"confluence-trade-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"symbols": ["BTCUSDT"]}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "1h", cfg.Timeframe)
	assert.Equal(t, 250, cfg.LookbackBars)
	assert.Equal(t, 200, cfg.Indicators.TrendPeriod)
	assert.Equal(t, "confluence", cfg.SignalSource)
	assert.InDelta(t, 0.25, cfg.Signal.Weights[models.CondRegime], 1e-9)
	assert.Len(t, cfg.Signal.Tiers, 3)
	assert.InDelta(t, 0.15, cfg.Risk.MaxPositionPct, 1e-9)
}

func TestLoadConfigRequiresSymbols(t *testing.T) {
	path := writeConfig(t, `{}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol")
}

func TestLoadConfigRejectsBadWeights(t *testing.T) {
	path := writeConfig(t, `{
		"symbols": ["BTCUSDT"],
		"signal": {"weights": {"regime": 0.5, "trend": 0.2}}
	}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestLoadConfigRejectsShortLookback(t *testing.T) {
	path := writeConfig(t, `{"symbols": ["BTCUSDT"], "lookback_bars": 50}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookback_bars")
}

func TestLoadConfigRejectsUnknownSignalSource(t *testing.T) {
	path := writeConfig(t, `{"symbols": ["BTCUSDT"], "signal_source": "tarot"}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal_source")
}

func TestLoadConfigRejectsNonMonotonicTiers(t *testing.T) {
	path := writeConfig(t, `{
		"symbols": ["BTCUSDT"],
		"signal": {"tiers": [
			{"min_confidence": 0.5, "size_pct": 0.10},
			{"min_confidence": 0.8, "size_pct": 0.05}
		]}
	}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monotonic")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
