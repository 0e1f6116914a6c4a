package models

import "time"

// BotStatus is the lifecycle state of a bot session.
type BotStatus string

const (
	StatusIdle    BotStatus = "idle"
	StatusRunning BotStatus = "running"
	StatusPaused  BotStatus = "paused"
	StatusHalted  BotStatus = "halted" // ledger inconsistency; manual reconciliation required
)

// SessionState is the checkpointed runtime state of a bot session. Positions,
// trades and cash live in the relational store; this records only what the
// store does not: the session status, symbols disabled mid-run, and cycle
// progress. It is persisted on every transition and reloaded on start.
type SessionState struct {
	BotID           string    `json:"bot_id"`
	Version         int       `json:"version"` // state model version for future migrations
	Status          BotStatus `json:"status"`
	DisabledSymbols []string  `json:"disabled_symbols"` // symbols dropped after a fatal fetch error
	CycleCount      int64     `json:"cycle_count"`
	LastCycleAt     time.Time `json:"last_cycle_at"`
	LastUpdateTime  time.Time `json:"last_update_time"`
}

// IsDisabled reports whether symbol has been disabled for this session.
func (s *SessionState) IsDisabled(symbol string) bool {
	for _, d := range s.DisabledSymbols {
		if d == symbol {
			return true
		}
	}
	return false
}

// Disable adds symbol to the disabled set if not already present.
func (s *SessionState) Disable(symbol string) {
	if s.IsDisabled(symbol) {
		return
	}
	s.DisabledSymbols = append(s.DisabledSymbols, symbol)
}
