package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"confluence-trade-bot-go/internal/models"
)

// LoadConfig reads the JSON config file, applies defaults for anything left
// unset, and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := &models.Config{}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with the documented defaults.
func ApplyDefaults(cfg *models.Config) {
	if cfg.BotID == "" {
		cfg.BotID = "bot-1"
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1h"
	}
	if cfg.LookbackBars == 0 {
		cfg.LookbackBars = 250
	}
	if cfg.CycleIntervalSec == 0 {
		cfg.CycleIntervalSec = 300
	}
	if cfg.SignalSource == "" {
		cfg.SignalSource = "confluence"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "trader.db"
	}
	if cfg.StateDBPath == "" {
		cfg.StateDBPath = "state"
	}

	ind := &cfg.Indicators
	if ind.TrendPeriod == 0 {
		ind.TrendPeriod = 200
	}
	if ind.FastPeriod == 0 {
		ind.FastPeriod = 20
	}
	if ind.EntryBandPct == 0 {
		ind.EntryBandPct = 0.0125
	}
	if ind.RSIPeriod == 0 {
		ind.RSIPeriod = 14
	}
	if ind.ADXPeriod == 0 {
		ind.ADXPeriod = 14
	}
	if ind.ATRPeriod == 0 {
		ind.ATRPeriod = 14
	}
	if ind.SupertrendMult == 0 {
		ind.SupertrendMult = 3.0
	}
	if ind.VolumePeriod == 0 {
		ind.VolumePeriod = 20
	}

	sig := &cfg.Signal
	if len(sig.Weights) == 0 {
		sig.Weights = map[string]float64{
			models.CondRegime:   0.25,
			models.CondTrend:    0.20,
			models.CondEntry:    0.20,
			models.CondMomentum: 0.20,
			models.CondVolume:   0.15,
		}
	}
	if sig.MinTrendStrength == 0 {
		sig.MinTrendStrength = 20
	}
	if sig.StrongTrend == 0 {
		sig.StrongTrend = 25
	}
	if sig.MomentumPullbackLow == 0 {
		sig.MomentumPullbackLow = 40
	}
	if sig.MomentumPullbackHigh == 0 {
		sig.MomentumPullbackHigh = 60
	}
	if sig.MomentumExhaustion == 0 {
		sig.MomentumExhaustion = 75
	}
	if sig.VolumeConfirmRatio == 0 {
		sig.VolumeConfirmRatio = 1.2
	}
	if len(sig.Tiers) == 0 {
		sig.Tiers = []models.ConfidenceTier{
			{MinConfidence: 0.50, SizePct: 0.05},
			{MinConfidence: 0.65, SizePct: 0.10},
			{MinConfidence: 0.80, SizePct: 0.15},
		}
	}
	if sig.StopLossPct == 0 {
		sig.StopLossPct = 0.03
	}
	if sig.TargetRewardRisk == 0 {
		sig.TargetRewardRisk = 2.0
	}
	if sig.MinHoldingTimeSec == 0 {
		sig.MinHoldingTimeSec = 3600
	}

	risk := &cfg.Risk
	if risk.MaxPositionPct == 0 {
		risk.MaxPositionPct = 0.15
	}
	if risk.MaxExposurePct == 0 {
		risk.MaxExposurePct = 0.60
	}
	if risk.MinRewardRisk == 0 {
		risk.MinRewardRisk = 1.5
	}
	if risk.MinNotional == 0 {
		risk.MinNotional = 10
	}

	ora := &cfg.Oracle
	if ora.TimeoutSec == 0 {
		ora.TimeoutSec = 30
	}
	if ora.RequestsPerMinute == 0 {
		ora.RequestsPerMinute = 10
	}
	if ora.MaxConcurrent == 0 {
		ora.MaxConcurrent = 2
	}
	if ora.MaxStopLossPct == 0 {
		ora.MaxStopLossPct = 0.5
	}

	if cfg.TakerFeeRate == 0 {
		cfg.TakerFeeRate = 0.0004
	}
	if cfg.LiveAPIURL == "" {
		cfg.LiveAPIURL = "https://api.binance.com"
	}
	if cfg.LiveWSURL == "" {
		cfg.LiveWSURL = "wss://stream.binance.com:9443"
	}
	if cfg.TestnetAPIURL == "" {
		cfg.TestnetAPIURL = "https://testnet.binance.vision"
	}
	if cfg.TestnetWSURL == "" {
		cfg.TestnetWSURL = "wss://stream.testnet.binance.vision"
	}
}

// Validate rejects configs that would make the pipeline misbehave rather than
// letting them surface as runtime oddities.
func Validate(cfg *models.Config) error {
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("config: at least one symbol is required")
	}
	if models.TimeframeDuration(cfg.Timeframe) == 0 {
		return fmt.Errorf("config: unknown timeframe %q", cfg.Timeframe)
	}
	if cfg.LookbackBars < cfg.Indicators.TrendPeriod {
		return fmt.Errorf("config: lookback_bars (%d) must cover the trend period (%d)",
			cfg.LookbackBars, cfg.Indicators.TrendPeriod)
	}
	if cfg.SignalSource != "confluence" && cfg.SignalSource != "oracle" {
		return fmt.Errorf("config: signal_source must be \"confluence\" or \"oracle\", got %q", cfg.SignalSource)
	}
	if cfg.SignalSource == "oracle" && cfg.Oracle.URL == "" {
		return fmt.Errorf("config: oracle.url is required when signal_source is \"oracle\"")
	}

	var sum float64
	for name, w := range cfg.Signal.Weights {
		if w < 0 {
			return fmt.Errorf("config: weight %q is negative", name)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("config: signal weights must sum to 1.0, got %.4f", sum)
	}

	prev := 0.0
	prevSize := 0.0
	for i, tier := range cfg.Signal.Tiers {
		if i > 0 && tier.MinConfidence <= prev {
			return fmt.Errorf("config: confidence tiers must be strictly increasing")
		}
		if tier.SizePct < prevSize {
			return fmt.Errorf("config: tier size must be monotonic in confidence")
		}
		prev = tier.MinConfidence
		prevSize = tier.SizePct
	}

	if cfg.Risk.MaxPositionPct <= 0 || cfg.Risk.MaxPositionPct > 1 {
		return fmt.Errorf("config: risk.max_position_pct must be in (0, 1]")
	}
	if cfg.Risk.MaxExposurePct <= 0 || cfg.Risk.MaxExposurePct > 1 {
		return fmt.Errorf("config: risk.max_exposure_pct must be in (0, 1]")
	}
	return nil
}
