package models

import "time"

// Action is what a signal source wants done with a symbol this cycle.
type Action string

const (
	ActionEnter Action = "enter"
	ActionExit  Action = "exit"
	ActionHold  Action = "hold"
)

// PositionSide is the direction of a position or a proposed entry.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Opposite returns the other direction.
func (s PositionSide) Opposite() PositionSide {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Decision is the validated output of a signal source for one symbol in one
// cycle. Exactly one source produces it per symbol per cycle; downstream
// components consume only this type, never raw payloads.
//
// For ActionEnter, Side, SizePct, StopLossPct and TakeProfitPct must all be
// present and positive. The reward:risk ratio is enforced by the risk gate,
// not by the producer.
type Decision struct {
	Symbol        string       `json:"symbol"`
	Action        Action       `json:"action"`
	Side          PositionSide `json:"side,omitempty"`
	Confidence    float64      `json:"confidence"`
	SizePct       float64      `json:"size_pct,omitempty"`
	StopLossPct   float64      `json:"stop_loss_pct,omitempty"`
	TakeProfitPct float64      `json:"take_profit_pct,omitempty"`
	Rationale     string       `json:"rationale"`
	Invalidation  string       `json:"invalidation_condition,omitempty"`
	Source        string       `json:"source"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Hold returns a hold decision for symbol with the given rationale.
func Hold(symbol, source, rationale string) Decision {
	return Decision{
		Symbol:    symbol,
		Action:    ActionHold,
		Rationale: rationale,
		Source:    source,
		CreatedAt: time.Now(),
	}
}

// RewardRisk returns TakeProfitPct / StopLossPct, or 0 when the stop is not
// positive.
func (d Decision) RewardRisk() float64 {
	if d.StopLossPct <= 0 {
		return 0
	}
	return d.TakeProfitPct / d.StopLossPct
}
