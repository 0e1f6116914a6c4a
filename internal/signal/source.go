package signal

import (
	"context"
	"time"

	"confluence-trade-bot-go/internal/indicator"
	"confluence-trade-bot-go/internal/models"
)

// Context carries everything a signal source may consider for one symbol in
// one cycle. Portfolio and position data are read-only here; sources decide,
// they never mutate.
type Context struct {
	Symbol    string
	Snapshot  indicator.Snapshot
	Price     float64
	Position  *models.Position // open position on the symbol, nil when flat
	Portfolio models.PortfolioState
	Now       time.Time
}

// Source produces exactly one Decision per symbol per cycle. The confluence
// engine and the reasoning adapter are interchangeable behind this interface;
// the pipeline never depends on which one is active.
type Source interface {
	Name() string
	Evaluate(ctx context.Context, sc Context) (models.Decision, error)
}
