package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"confluence-trade-bot-go/internal/indicator"
	"confluence-trade-bot-go/internal/ledger"
	"confluence-trade-bot-go/internal/models"
	"confluence-trade-bot-go/internal/persistence"
	"confluence-trade-bot-go/internal/risk"
	"confluence-trade-bot-go/internal/signal"
)

// MarketData is the gateway surface the bot consumes.
type MarketData interface {
	Fetch(ctx context.Context, symbol, timeframe string, limit int) (*models.CandleSeries, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Trader is the executor surface the bot consumes.
type Trader interface {
	ExecuteEntry(ctx context.Context, d models.Decision, price float64) (*models.Position, error)
	ExecuteExit(ctx context.Context, pos *models.Position, reason string) (*models.Trade, error)
	CloseAll(ctx context.Context) error
}

// DecisionStore is the audit-trail surface the bot consumes.
type DecisionStore interface {
	RecordDecision(botID string, d models.Decision) error
	RecentDecisions(botID string, limit int) ([]models.Decision, error)
}

// Reporter renders cycle and session output. Nil disables reporting.
type Reporter interface {
	CycleReport(cycle int64, state models.PortfolioState, positions []*models.Position)
	SessionSummary(initial decimal.Decimal, final models.PortfolioState, peakEquity decimal.Decimal, cycles int64)
}

// Bot is one trading session: the cycle scheduler plus the wiring between the
// pipeline stages. One Bot instance per bot id; nothing here is global.
type Bot struct {
	cfg      models.Config
	data     MarketData
	engine   *indicator.Engine
	source   signal.Source
	gate     *risk.Gate
	trader   Trader
	ledger   *ledger.Ledger
	store    DecisionStore
	sessions persistence.SessionRepository
	reporter Reporter
	log      *zap.SugaredLogger

	mu         sync.RWMutex
	session    *models.SessionState
	peakEquity decimal.Decimal
	started    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// New wires a bot session. The ledger must already be restored from the
// store by the caller.
func New(
	cfg models.Config,
	data MarketData,
	engine *indicator.Engine,
	source signal.Source,
	gate *risk.Gate,
	trader Trader,
	ldg *ledger.Ledger,
	store DecisionStore,
	sessions persistence.SessionRepository,
	reporter Reporter,
	log *zap.SugaredLogger,
) *Bot {
	return &Bot{
		cfg:      cfg,
		data:     data,
		engine:   engine,
		source:   source,
		gate:     gate,
		trader:   trader,
		ledger:   ldg,
		store:    store,
		sessions: sessions,
		reporter: reporter,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run executes cycles at the configured interval until Stop is called or the
// context ends. A ledger inconsistency is the only error that ends the loop;
// everything else is isolated per symbol.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	defer close(b.doneCh)

	if err := b.loadSession(); err != nil {
		return err
	}
	if b.Status() == models.StatusPaused {
		b.log.Infow("session checkpoint is paused, ticking idle until resume", "bot", b.cfg.BotID)
	} else {
		b.setStatus(models.StatusRunning)
	}

	interval := time.Duration(b.cfg.CycleIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.log.Infow("bot running", "bot", b.cfg.BotID, "symbols", b.cfg.Symbols, "interval", interval, "source", b.source.Name())

	// First cycle immediately, then on the ticker.
	if err := b.runCycle(ctx); err != nil {
		return b.halt(err)
	}
	for {
		select {
		case <-ctx.Done():
			b.finish()
			return nil
		case <-b.stopCh:
			b.finish()
			return nil
		case <-ticker.C:
			if err := b.runCycle(ctx); err != nil {
				return b.halt(err)
			}
		}
	}
}

// Stop requests a graceful stop: no new cycles start, the in-flight cycle
// finishes, then the session is finalized. Stop on a bot whose Run was never
// called returns immediately.
func (b *Bot) Stop() {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()
	if started {
		<-b.doneCh
	}
}

// Pause suspends cycling without ending the session. Ticks are ignored until
// Resume; the paused status is checkpointed and survives a restart.
func (b *Bot) Pause() {
	if b.Status() != models.StatusRunning {
		return
	}
	b.log.Infow("bot paused", "bot", b.cfg.BotID)
	b.setStatus(models.StatusPaused)
}

// Resume restarts cycling after a Pause.
func (b *Bot) Resume() {
	if b.Status() != models.StatusPaused {
		return
	}
	b.log.Infow("bot resumed", "bot", b.cfg.BotID)
	b.setStatus(models.StatusRunning)
}

func (b *Bot) loadSession() error {
	state, err := b.sessions.LoadSession()
	if err != nil {
		return fmt.Errorf("failed to load session checkpoint: %w", err)
	}
	if state == nil {
		state = &models.SessionState{BotID: b.cfg.BotID, Version: 1, Status: models.StatusIdle}
	}
	if state.Status == models.StatusHalted {
		return fmt.Errorf("bot %s is halted pending manual reconciliation; refusing to start", b.cfg.BotID)
	}
	b.mu.Lock()
	b.session = state
	b.peakEquity = b.ledger.Snapshot().Equity
	b.mu.Unlock()
	if len(state.DisabledSymbols) > 0 {
		b.log.Warnw("resuming with disabled symbols", "symbols", state.DisabledSymbols)
	}
	return nil
}

// runCycle is one pass over every enabled symbol. Prices are refreshed on the
// ledger before any equity read; a cycle whose refresh is incomplete does not
// publish a snapshot.
func (b *Bot) runCycle(ctx context.Context) error {
	if b.Status() == models.StatusPaused {
		b.log.Debugw("cycle skipped, session paused", "bot", b.cfg.BotID)
		return nil
	}

	// A disabled symbol still holding a position keeps its mark refreshed:
	// its market value feeds the equity every other symbol is sized against.
	prices := make(map[string]float64, len(b.cfg.Symbols))
	for _, symbol := range b.cfg.Symbols {
		if b.isDisabled(symbol) && b.ledger.OpenPositionFor(symbol) == nil {
			continue
		}
		price, err := b.data.GetPrice(ctx, symbol)
		if err != nil {
			if herr := b.handleSymbolError(ctx, symbol, err); herr != nil {
				return herr
			}
			continue
		}
		prices[symbol] = price
	}

	missing := b.ledger.RefreshPrices(prices)
	snapshotOK := len(missing) == 0
	if !snapshotOK {
		b.log.Warnw("price refresh incomplete, snapshot suppressed this cycle", "missing", missing)
	}

	for _, symbol := range b.cfg.Symbols {
		if b.isDisabled(symbol) {
			continue
		}
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		if err := b.processSymbol(ctx, symbol, price); err != nil {
			var inconsistent *models.LedgerInconsistencyError
			if errors.As(err, &inconsistent) {
				return err
			}
			if herr := b.handleSymbolError(ctx, symbol, err); herr != nil {
				return herr
			}
		}
	}

	b.mu.Lock()
	b.session.CycleCount++
	b.session.LastCycleAt = time.Now()
	cycle := b.session.CycleCount
	b.mu.Unlock()
	b.checkpoint()

	if snapshotOK {
		state := b.ledger.Snapshot()
		b.mu.Lock()
		if state.Equity.GreaterThan(b.peakEquity) {
			b.peakEquity = state.Equity
		}
		b.mu.Unlock()
		if b.reporter != nil {
			b.reporter.CycleReport(cycle, state, b.ledger.OpenPositions())
		}
	}
	return nil
}

// processSymbol runs the full pipeline for one symbol. Returned errors are
// handled at the cycle boundary; only ledger inconsistencies escape further.
func (b *Bot) processSymbol(ctx context.Context, symbol string, price float64) error {
	series, err := b.data.Fetch(ctx, symbol, b.cfg.Timeframe, b.cfg.LookbackBars)
	if err != nil {
		return err
	}

	snap := b.engine.Compute(series)
	pos := b.ledger.OpenPositionFor(symbol)
	portfolio := b.ledger.Snapshot()

	decision, err := b.source.Evaluate(ctx, signal.Context{
		Symbol:    symbol,
		Snapshot:  snap,
		Price:     price,
		Position:  pos,
		Portfolio: portfolio,
		Now:       time.Now(),
	})
	if err != nil {
		// A schema violation already degraded the decision to hold; log and
		// keep going with it.
		b.log.Errorw("signal source error", "symbol", symbol, "error", err)
	}
	if recErr := b.store.RecordDecision(b.cfg.BotID, decision); recErr != nil {
		b.log.Errorw("failed to record decision", "symbol", symbol, "error", recErr)
	}

	switch decision.Action {
	case models.ActionEnter:
		if pos != nil && !b.cfg.Risk.AllowPyramiding {
			b.log.Debugw("entry skipped, position already open", "symbol", symbol)
			return nil
		}
		adjusted, err := b.gate.Validate(portfolio, b.ledger.OpenPositions(), decision)
		if err != nil {
			var rejected *models.RiskRejectedError
			if errors.As(err, &rejected) {
				b.log.Infow("risk gate rejected entry", "symbol", symbol, "reason", rejected.Reason)
				return nil
			}
			return err
		}
		if _, err := b.trader.ExecuteEntry(ctx, adjusted, price); err != nil {
			return err
		}
	case models.ActionExit:
		if pos == nil {
			b.log.Debugw("exit decision with no open position", "symbol", symbol)
			return nil
		}
		if _, err := b.trader.ExecuteExit(ctx, pos, decision.Rationale); err != nil {
			return err
		}
	case models.ActionHold:
		b.log.Debugw("hold", "symbol", symbol, "rationale", decision.Rationale)
	}
	return nil
}

// handleSymbolError applies the error taxonomy at the symbol boundary. A
// fatal error disables the symbol for the rest of the session; an open
// position on it is market-closed so it cannot strand with a frozen mark.
// Only a ledger inconsistency from that close escapes.
func (b *Bot) handleSymbolError(ctx context.Context, symbol string, err error) error {
	var fatal *models.FatalFetchError
	if errors.As(err, &fatal) {
		b.log.Errorw("disabling symbol after fatal fetch error", "symbol", symbol, "error", err)
		b.mu.Lock()
		b.session.Disable(symbol)
		b.mu.Unlock()
		b.checkpoint()
		if pos := b.ledger.OpenPositionFor(symbol); pos != nil {
			if _, exitErr := b.trader.ExecuteExit(ctx, pos, "symbol disabled after fatal fetch error"); exitErr != nil {
				var inconsistent *models.LedgerInconsistencyError
				if errors.As(exitErr, &inconsistent) {
					return exitErr
				}
				b.log.Errorw("failed to close position on disabled symbol, keeping its mark refreshed",
					"symbol", symbol, "error", exitErr)
			}
		}
		return nil
	}

	var unavailable *models.DataUnavailableError
	var transient *models.TransientFetchError
	if errors.As(err, &unavailable) || errors.As(err, &transient) {
		b.log.Warnw("symbol skipped this cycle", "symbol", symbol, "error", err)
		return nil
	}

	b.log.Errorw("symbol cycle failed", "symbol", symbol, "error", err)
	return nil
}

// halt records the halted status and surfaces the inconsistency. The bot
// refuses to restart until the checkpoint is manually cleared.
func (b *Bot) halt(err error) error {
	b.log.Errorw("halting: ledger inconsistency", "bot", b.cfg.BotID, "error", err)
	b.setStatus(models.StatusHalted)
	return err
}

func (b *Bot) finish() {
	if b.cfg.CloseAllOnStop {
		b.log.Infow("closing all positions on stop", "bot", b.cfg.BotID)
		// The run context is usually already canceled here; the exit orders
		// get their own deadline so they can still reach the exchange.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := b.trader.CloseAll(ctx); err != nil {
			b.log.Errorw("close-all on stop failed", "error", err)
		}
	}
	b.setStatus(models.StatusIdle)

	if b.reporter != nil {
		b.mu.RLock()
		peak := b.peakEquity
		cycles := b.session.CycleCount
		b.mu.RUnlock()
		b.reporter.SessionSummary(decimal.NewFromFloat(b.cfg.InitialCash), b.ledger.Snapshot(), peak, cycles)
	}
	b.log.Infow("bot stopped", "bot", b.cfg.BotID)
}

func (b *Bot) setStatus(status models.BotStatus) {
	b.mu.Lock()
	if b.session != nil {
		b.session.Status = status
	}
	b.mu.Unlock()
	b.checkpoint()
}

func (b *Bot) checkpoint() {
	b.mu.RLock()
	if b.session == nil {
		b.mu.RUnlock()
		return
	}
	cp := *b.session
	cp.LastUpdateTime = time.Now()
	b.mu.RUnlock()

	if err := b.sessions.SaveSession(&cp); err != nil {
		b.log.Errorw("failed to checkpoint session", "error", err)
	}
}

func (b *Bot) isDisabled(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session != nil && b.session.IsDisabled(symbol)
}

// GetPositions returns the open positions.
func (b *Bot) GetPositions() []*models.Position {
	return b.ledger.OpenPositions()
}

// PortfolioSnapshot returns the live portfolio view.
func (b *Bot) PortfolioSnapshot() models.PortfolioState {
	return b.ledger.Snapshot()
}

// RecentDecisions returns the latest decisions, newest first.
func (b *Bot) RecentDecisions(limit int) ([]models.Decision, error) {
	return b.store.RecentDecisions(b.cfg.BotID, limit)
}

// Status returns the session status.
func (b *Bot) Status() models.BotStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil {
		return models.StatusIdle
	}
	return b.session.Status
}
