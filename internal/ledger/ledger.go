package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"confluence-trade-bot-go/internal/models"
)

// Ledger owns the in-memory view of open positions and cash. It is a
// projection of the sqlite store: rebuilt from it at startup and kept in step
// by the executor after every committed fill. Only the executor opens and
// closes positions; only RefreshPrices touches CurrentPrice.
type Ledger struct {
	mu        sync.RWMutex
	botID     string
	cash      decimal.Decimal
	positions map[string]*models.Position
	log       *zap.SugaredLogger
}

// New builds an empty ledger with the given starting cash.
func New(botID string, cash decimal.Decimal, log *zap.SugaredLogger) *Ledger {
	return &Ledger{
		botID:     botID,
		cash:      cash,
		positions: make(map[string]*models.Position),
		log:       log,
	}
}

// Restore replaces the ledger content with the authoritative store state.
// Called once at startup so a crashed session resumes with its real
// positions and capital.
func (l *Ledger) Restore(cash decimal.Decimal, positions []*models.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cash = cash
	l.positions = make(map[string]*models.Position, len(positions))
	for _, p := range positions {
		cp := *p
		l.positions[p.ID] = &cp
	}
	l.log.Infow("ledger restored", "bot", l.botID, "cash", cash, "open_positions", len(positions))
}

// ApplyEntry records a newly opened position and debits its total cost
// (notional plus fees) from cash.
func (l *Ledger) ApplyEntry(pos *models.Position, cost decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := *pos
	l.positions[pos.ID] = &cp
	l.cash = l.cash.Sub(cost)
}

// ApplyExit marks a position closed and credits the exit proceeds (notional
// minus fees) to cash.
func (l *Ledger) ApplyExit(positionID string, proceeds decimal.Decimal, closedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[positionID]
	if !ok {
		return &models.LedgerInconsistencyError{BotID: l.botID, Detail: fmt.Sprintf("exit for unknown position %s", positionID)}
	}
	if pos.Status == models.PositionClosed {
		return &models.LedgerInconsistencyError{BotID: l.botID, Detail: fmt.Sprintf("double exit for position %s", positionID)}
	}

	pos.Status = models.PositionClosed
	pos.ClosedAt = &closedAt
	l.cash = l.cash.Add(proceeds)
	return nil
}

// RefreshPrices updates CurrentPrice on every open position. Idempotent:
// re-applying the same prices changes nothing. Returns the symbols of open
// positions that got no price; callers must not publish an equity snapshot
// for a cycle whose refresh was incomplete.
func (l *Ledger) RefreshPrices(prices map[string]float64) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var missing []string
	for _, p := range l.positions {
		if p.Status != models.PositionOpen {
			continue
		}
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			missing = append(missing, p.Symbol)
			continue
		}
		p.CurrentPrice = decimal.NewFromFloat(price)
	}
	return missing
}

// Snapshot recomputes the portfolio view from live positions. Never cached:
// equity always reflects the marks set by the latest price refresh, not entry
// prices.
func (l *Ledger) Snapshot() models.PortfolioState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	invested := decimal.Zero
	unrealized := decimal.Zero
	open := 0
	for _, p := range l.positions {
		if p.Status != models.PositionOpen {
			continue
		}
		invested = invested.Add(p.MarketValue())
		unrealized = unrealized.Add(p.UnrealizedPnL())
		open++
	}

	return models.PortfolioState{
		Cash:          l.cash,
		Invested:      invested,
		Equity:        l.cash.Add(invested),
		UnrealizedPnL: unrealized,
		OpenPositions: open,
		Timestamp:     time.Now(),
	}
}

// OpenPositions returns copies of every open position.
func (l *Ledger) OpenPositions() []*models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*models.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if p.Status != models.PositionOpen {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// OpenPositionFor returns a copy of the open position on symbol, or nil when
// flat.
func (l *Ledger) OpenPositionFor(symbol string) *models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, p := range l.positions {
		if p.Status == models.PositionOpen && p.Symbol == symbol {
			cp := *p
			return &cp
		}
	}
	return nil
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// SetCash overwrites the cash balance with the authoritative store value.
func (l *Ledger) SetCash(cash decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = cash
}

// ReconcileCash compares the ledger's cash against the store's. A mismatch
// beyond a dust epsilon is a LedgerInconsistencyError, which halts the bot.
func (l *Ledger) ReconcileCash(storeCash decimal.Decimal) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	epsilon := decimal.NewFromFloat(1e-6)
	if l.cash.Sub(storeCash).Abs().GreaterThan(epsilon) {
		return &models.LedgerInconsistencyError{
			BotID:  l.botID,
			Detail: fmt.Sprintf("ledger cash %s diverged from store cash %s", l.cash, storeCash),
		}
	}
	return nil
}
