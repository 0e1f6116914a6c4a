package models

// Config holds every tunable of a trading bot instance. It is decoded from a
// JSON file; secrets (exchange and oracle API keys) come from the environment,
// never from this file.
type Config struct {
	BotID            string   `json:"bot_id"`
	Symbols          []string `json:"symbols"`            // tradable instruments, e.g. ["BTCUSDT", "ETHUSDT"]
	Timeframe        string   `json:"timeframe"`          // candle timeframe, e.g. "1h"
	LookbackBars     int      `json:"lookback_bars"`      // bars fetched per cycle, >= slowest indicator period
	CycleIntervalSec int      `json:"cycle_interval_sec"` // seconds between cycles
	InitialCash      float64  `json:"initial_cash"`       // starting quote balance for a fresh bot
	SignalSource     string   `json:"signal_source"`      // "confluence" or "oracle"
	CloseAllOnStop   bool     `json:"close_all_on_stop"`  // market-close all positions as the final stop step
	DBPath           string   `json:"db_path"`            // sqlite database file
	StateDBPath      string   `json:"state_db_path"`      // badger directory for session checkpoints

	IsTestnet     bool   `json:"is_testnet"`
	LiveAPIURL    string `json:"live_api_url"`
	LiveWSURL     string `json:"live_ws_url"`
	TestnetAPIURL string `json:"testnet_api_url"`
	TestnetWSURL  string `json:"testnet_ws_url"`

	// Paper execution parameters.
	TakerFeeRate float64 `json:"taker_fee_rate"`
	SlippageRate float64 `json:"slippage_rate"`

	Indicators IndicatorConfig `json:"indicators"`
	Signal     SignalConfig    `json:"signal"`
	Risk       RiskConfig      `json:"risk"`
	Oracle     OracleConfig    `json:"oracle"`
	LogConfig  LogConfig       `json:"log"`
}

// IndicatorConfig holds the periods and bands of the indicator set.
type IndicatorConfig struct {
	TrendPeriod     int     `json:"trend_period"`     // long-horizon regime SMA, default 200
	FastPeriod      int     `json:"fast_period"`      // short-horizon entry SMA, default 20
	EntryBandPct    float64 `json:"entry_band_pct"`   // tolerance band around the fast SMA, default 0.0125
	RSIPeriod       int     `json:"rsi_period"`       // Wilder RSI period, default 14
	ADXPeriod       int     `json:"adx_period"`       // trend strength period, default 14
	ATRPeriod       int     `json:"atr_period"`       // true range period, default 14
	SupertrendMult  float64 `json:"supertrend_mult"`  // ATR multiplier of the trailing stop line, default 3.0
	VolumePeriod    int     `json:"volume_period"`    // rolling volume baseline period, default 20
}

// ConfidenceTier maps a minimum confidence to a position size bucket.
// Tiers are evaluated highest first; a confidence below every tier is a hold.
type ConfidenceTier struct {
	MinConfidence float64 `json:"min_confidence"`
	SizePct       float64 `json:"size_pct"`
}

// SignalConfig tunes the confluence engine. Weights must sum to 1.0 across
// the enabled condition set.
type SignalConfig struct {
	Weights              map[string]float64 `json:"weights"`                 // condition name -> weight
	MinTrendStrength     float64            `json:"min_trend_strength"`      // ADX hard gate, default 20
	StrongTrend          float64            `json:"strong_trend"`            // ADX level counted as a trend vote, default 25
	MomentumPullbackLow  float64            `json:"momentum_pullback_low"`   // RSI pullback band, default 40
	MomentumPullbackHigh float64            `json:"momentum_pullback_high"`  // default 60
	MomentumExhaustion   float64            `json:"momentum_exhaustion"`     // RSI extreme that forces an exit, default 75
	VolumeConfirmRatio   float64            `json:"volume_confirm_ratio"`    // volume / baseline ratio counted as confirmation, default 1.2
	Tiers                []ConfidenceTier   `json:"tiers"`                   // confidence -> size step function
	StopLossPct          float64            `json:"stop_loss_pct"`           // default stop distance for entries, default 0.03
	TargetRewardRisk     float64            `json:"target_reward_risk"`      // take profit = stop * this, default 2.0
	MinHoldingTimeSec    int                `json:"min_holding_time_sec"`    // guard against momentum-exhaustion thrashing, default 3600
}

// Condition names used as keys in SignalConfig.Weights.
const (
	CondRegime   = "regime"
	CondTrend    = "trend"
	CondEntry    = "entry"
	CondMomentum = "momentum"
	CondVolume   = "volume"
)

// RiskConfig holds the risk gate limits.
type RiskConfig struct {
	MaxPositionPct  float64 `json:"max_position_pct"`  // single position cap as a fraction of equity
	MaxExposurePct  float64 `json:"max_exposure_pct"`  // total invested cap as a fraction of equity
	MinRewardRisk   float64 `json:"min_reward_risk"`   // minimum take_profit_pct / stop_loss_pct
	MinNotional     float64 `json:"min_notional"`      // smallest tradable order value in quote currency
	AllowPyramiding bool    `json:"allow_pyramiding"`  // permit multiple open positions per symbol
}

// OracleConfig tunes the external reasoning adapter.
type OracleConfig struct {
	URL               string  `json:"url"`
	Model             string  `json:"model"`
	TimeoutSec        int     `json:"timeout_sec"`         // per-call ceiling, exceeded => hold
	RequestsPerMinute int     `json:"requests_per_minute"` // rate ceiling across all symbols
	MaxConcurrent     int     `json:"max_concurrent"`      // bounded in-flight calls
	MaxStopLossPct    float64 `json:"max_stop_loss_pct"`   // sanity bound on returned stops, default 0.5
}

// LogConfig defines logging output and rotation.
type LogConfig struct {
	Level      string `json:"level"`       // "debug", "info", "warn", "error"
	Output     string `json:"output"`      // "console", "file", "both"
	File       string `json:"file"`        // log file path
	MaxSize    int    `json:"max_size"`    // max size of one log file (MB)
	MaxBackups int    `json:"max_backups"` // rotated files kept
	MaxAge     int    `json:"max_age"`     // days rotated files are kept
	Compress   bool   `json:"compress"`    // gzip rotated files
}
