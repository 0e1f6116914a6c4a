package signal

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"confluence-trade-bot-go/internal/indicator"
	"confluence-trade-bot-go/internal/models"
)

const confluenceSource = "confluence"

// Engine is the rule-based signal source. It is stateless per invocation:
// entry and exit evaluation both depend only on the Context handed in, so the
// same inputs always produce the same Decision.
type Engine struct {
	cfg  models.SignalConfig
	band float64 // entry tolerance around the fast SMA
	log  *zap.SugaredLogger
}

// NewEngine builds the confluence engine from the signal and indicator config.
func NewEngine(cfg models.SignalConfig, indicators models.IndicatorConfig, log *zap.SugaredLogger) *Engine {
	return &Engine{cfg: cfg, band: indicators.EntryBandPct, log: log}
}

func (e *Engine) Name() string { return confluenceSource }

// Evaluate runs exit rules when a position is open and entry rules otherwise.
// The two evaluations are independent: an open position is never re-scored
// for entry.
func (e *Engine) Evaluate(_ context.Context, sc Context) (models.Decision, error) {
	if sc.Position != nil && sc.Position.Status == models.PositionOpen {
		return e.evaluateExit(sc), nil
	}
	return e.evaluateEntry(sc), nil
}

// vote is one weighted condition. An undefined condition is excluded from
// both the numerator and the denominator of the score.
type vote struct {
	name    string
	weight  float64
	defined bool
	met     bool
}

func (e *Engine) evaluateEntry(sc Context) models.Decision {
	snap := sc.Snapshot

	// Hard gate 1: regime direction. No trade without a defined regime.
	if !snap.TrendSMA.Valid {
		return models.Hold(sc.Symbol, confluenceSource, "regime undefined: not enough bars for the trend SMA")
	}
	var side models.PositionSide
	switch {
	case sc.Price > snap.TrendSMA.V:
		side = models.SideLong
	case sc.Price < snap.TrendSMA.V:
		side = models.SideShort
	default:
		return models.Hold(sc.Symbol, confluenceSource, "price sitting exactly on the trend SMA")
	}

	// Hard gate 2: minimum trend strength.
	if !snap.ADX.Valid {
		return models.Hold(sc.Symbol, confluenceSource, "trend strength undefined: not enough bars for ADX")
	}
	if snap.ADX.V < e.cfg.MinTrendStrength {
		return models.Hold(sc.Symbol, confluenceSource,
			fmt.Sprintf("ADX %.1f below minimum trend strength %.1f", snap.ADX.V, e.cfg.MinTrendStrength))
	}

	votes := e.votes(snap, sc.Price, side)

	var definedWeight, metWeight float64
	var metNames []string
	for _, v := range votes {
		if !v.defined {
			continue
		}
		definedWeight += v.weight
		if v.met {
			metWeight += v.weight
			metNames = append(metNames, v.name)
		}
	}
	if definedWeight <= 0 {
		return models.Hold(sc.Symbol, confluenceSource, "no scorable conditions: all indicator inputs undefined")
	}
	confidence := metWeight / definedWeight

	sizePct := 0.0
	tiered := false
	for _, t := range e.cfg.Tiers {
		if confidence >= t.MinConfidence {
			sizePct = t.SizePct
			tiered = true
		}
	}
	if !tiered {
		e.log.Debugw("confluence below entry tier",
			"symbol", sc.Symbol, "side", side, "confidence", confidence, "met", metNames)
		return models.Hold(sc.Symbol, confluenceSource,
			fmt.Sprintf("confidence %.2f below the lowest entry tier", confidence))
	}

	stop := e.cfg.StopLossPct
	take := stop * e.cfg.TargetRewardRisk
	return models.Decision{
		Symbol:        sc.Symbol,
		Action:        models.ActionEnter,
		Side:          side,
		Confidence:    confidence,
		SizePct:       sizePct,
		StopLossPct:   stop,
		TakeProfitPct: take,
		Rationale: fmt.Sprintf("%d/%d conditions met (%s), confidence %.2f",
			len(metNames), len(votes), strings.Join(metNames, ", "), confidence),
		Invalidation: invalidationFor(side),
		Source:       confluenceSource,
		CreatedAt:    time.Now(),
	}
}

// votes scores the five weighted conditions for the given side. Mirrored
// conditions (regime alignment, momentum) read the snapshot relative to the
// trade direction.
func (e *Engine) votes(snap indicator.Snapshot, price float64, side models.PositionSide) []vote {
	dir := 1.0
	if side == models.SideShort {
		dir = -1.0
	}

	out := make([]vote, 0, 5)
	add := func(name string, defined, met bool) {
		out = append(out, vote{name: name, weight: e.cfg.Weights[name], defined: defined, met: defined && met})
	}

	// Regime alignment: the supertrend direction agrees with the regime side.
	add(models.CondRegime, snap.SupertrendDir.Valid, snap.SupertrendDir.V == dir)
	// Trend strength: ADX at the strong-trend level, above the hard gate.
	add(models.CondTrend, snap.ADX.Valid, snap.ADX.V >= e.cfg.StrongTrend)
	// Entry zone: price inside the tolerance band around the fast SMA.
	entryDefined := snap.FastSMA.Valid && snap.FastSMA.V > 0
	inBand := entryDefined && math.Abs(price-snap.FastSMA.V)/snap.FastSMA.V <= e.band
	add(models.CondEntry, entryDefined, inBand)
	// Momentum pullback: RSI in the mid band rather than at an extreme.
	add(models.CondMomentum, snap.RSI.Valid,
		snap.RSI.V >= e.cfg.MomentumPullbackLow && snap.RSI.V <= e.cfg.MomentumPullbackHigh)
	// Volume confirmation: latest volume meaningfully above the baseline.
	add(models.CondVolume, snap.VolumeRatio.Valid, snap.VolumeRatio.V >= e.cfg.VolumeConfirmRatio)

	return out
}

func (e *Engine) evaluateExit(sc Context) models.Decision {
	snap := sc.Snapshot
	pos := sc.Position

	dir := 1.0
	if pos.Side == models.SideShort {
		dir = -1.0
	}

	if snap.SupertrendDir.Valid && snap.SupertrendDir.V == -dir {
		return exitDecision(sc.Symbol, pos.Side,
			fmt.Sprintf("supertrend flipped against the %s position", pos.Side))
	}

	if snap.TrendSMA.Valid {
		breached := (pos.Side == models.SideLong && sc.Price < snap.TrendSMA.V) ||
			(pos.Side == models.SideShort && sc.Price > snap.TrendSMA.V)
		if breached {
			return exitDecision(sc.Symbol, pos.Side,
				fmt.Sprintf("regime breach: price %.4f crossed the trend SMA %.4f against the %s position",
					sc.Price, snap.TrendSMA.V, pos.Side))
		}
	}

	if snap.RSI.Valid {
		exhausted := (pos.Side == models.SideLong && snap.RSI.V >= e.cfg.MomentumExhaustion) ||
			(pos.Side == models.SideShort && snap.RSI.V <= 100-e.cfg.MomentumExhaustion)
		if exhausted {
			held := sc.Now.Sub(pos.OpenedAt)
			minHold := time.Duration(e.cfg.MinHoldingTimeSec) * time.Second
			if held >= minHold {
				return exitDecision(sc.Symbol, pos.Side,
					fmt.Sprintf("momentum exhaustion: RSI %.1f beyond %.1f", snap.RSI.V, e.cfg.MomentumExhaustion))
			}
			return models.Hold(sc.Symbol, confluenceSource,
				fmt.Sprintf("momentum exhausted but position held only %s of the %s minimum", held.Round(time.Second), minHold))
		}
	}

	return models.Hold(sc.Symbol, confluenceSource, "position healthy, no exit rule fired")
}

func exitDecision(symbol string, side models.PositionSide, rationale string) models.Decision {
	return models.Decision{
		Symbol:     symbol,
		Action:     models.ActionExit,
		Side:       side,
		Confidence: 1.0,
		Rationale:  rationale,
		Source:     confluenceSource,
		CreatedAt:  time.Now(),
	}
}

func invalidationFor(side models.PositionSide) string {
	if side == models.SideShort {
		return "supertrend flip up or close above the trend SMA"
	}
	return "supertrend flip down or close below the trend SMA"
}
