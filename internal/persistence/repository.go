package persistence

import "confluence-trade-bot-go/internal/models"

// SessionRepository persists the lightweight session checkpoint: bot status,
// disabled symbols and cycle progress. Trading data (positions, trades, cash)
// lives in the sqlite store; this repository only carries what a restart
// needs to resume the session loop.
type SessionRepository interface {
	// SaveSession atomically saves the session checkpoint.
	SaveSession(state *models.SessionState) error

	// LoadSession loads the checkpoint. Returns (nil, nil) when none exists.
	LoadSession() (*models.SessionState, error)

	// Close gracefully closes the underlying database.
	Close() error
}
