package indicator

import (
	"confluence-trade-bot-go/internal/models"
)

// Engine computes the full indicator snapshot for a candle series. Compute is
// a pure, deterministic function of the series: same bars in, same snapshot
// out.
type Engine struct {
	cfg models.IndicatorConfig
}

// NewEngine builds an engine from the indicator config.
func NewEngine(cfg models.IndicatorConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Compute derives every configured indicator from the series. Indicators
// whose period exceeds the series length come back undefined and are excluded
// from confluence scoring by the signal engine.
func (e *Engine) Compute(series *models.CandleSeries) Snapshot {
	snap := Snapshot{
		Symbol: series.Symbol,
		Price:  series.LastClose(),
	}
	if series.Len() == 0 {
		return snap
	}

	closes := series.Closes()
	volumes := series.Volumes()
	candles := series.Candles

	if v, ok := sma(closes, e.cfg.TrendPeriod); ok {
		snap.TrendSMA = value(v)
	}
	if v, ok := sma(closes, e.cfg.FastPeriod); ok {
		snap.FastSMA = value(v)
	}
	if v, ok := wilderRSI(closes, e.cfg.RSIPeriod); ok {
		snap.RSI = value(v)
	}
	if adxV, plusDI, minusDI, ok := adx(candles, e.cfg.ADXPeriod); ok {
		snap.ADX = value(adxV)
		snap.PlusDI = value(plusDI)
		snap.MinusDI = value(minusDI)
	}
	if atr, ok := atrSeries(candles, e.cfg.ATRPeriod); ok {
		snap.ATR = value(atr[len(atr)-1])
	}
	if line, dir, flipped, ok := supertrend(candles, e.cfg.ATRPeriod, e.cfg.SupertrendMult); ok {
		snap.Supertrend = value(line)
		snap.SupertrendDir = value(dir)
		snap.SupertrendFlipped = flipped
	}
	if v, ok := volumeRatio(volumes, e.cfg.VolumePeriod); ok {
		snap.VolumeRatio = value(v)
	}

	return snap
}
