package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"confluence-trade-bot-go/internal/exchange"
	"confluence-trade-bot-go/internal/ledger"
	"confluence-trade-bot-go/internal/models"
)

// Store is the slice of the persistence layer the executor needs: the
// authoritative cash read and the two atomic commit paths.
type Store interface {
	GetCash(botID string) (decimal.Decimal, error)
	CommitEntry(pos *models.Position, trade *models.Trade, newCash decimal.Decimal) error
	CommitExit(pos *models.Position, trade *models.Trade, newCash decimal.Decimal) error
}

// Executor turns accepted decisions into orders and keeps the store and the
// ledger in step. Capital is always re-read from the store immediately before
// sizing: the pipeline's in-memory snapshot may be stale if another execution
// committed since the cycle started.
type Executor struct {
	botID  string
	ex     exchange.Exchange
	store  Store
	ledger *ledger.Ledger
	log    *zap.SugaredLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an executor.
func New(botID string, ex exchange.Exchange, store Store, ldg *ledger.Ledger, log *zap.SugaredLogger) *Executor {
	return &Executor{
		botID:  botID,
		ex:     ex,
		store:  store,
		ledger: ldg,
		log:    log,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockFor serializes executions per symbol. Different symbols may execute
// concurrently; two executions on the same symbol never interleave.
func (e *Executor) lockFor(symbol string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.locks[symbol] = l
	}
	return l
}

// ExecuteEntry opens a position for an accepted enter decision at the given
// reference price. Quantity is sized as sizePct of current equity, computed
// against the store's cash, never the pipeline's.
func (e *Executor) ExecuteEntry(ctx context.Context, d models.Decision, price float64) (*models.Position, error) {
	lock := e.lockFor(d.Symbol)
	lock.Lock()
	defer lock.Unlock()

	cash, err := e.store.GetCash(e.botID)
	if err != nil {
		return nil, fmt.Errorf("entry aborted, cash read failed: %w", err)
	}
	e.ledger.SetCash(cash)

	snap := e.ledger.Snapshot()
	notional := snap.Equity.Mul(decimal.NewFromFloat(d.SizePct))
	if notional.GreaterThan(cash) {
		notional = cash
	}
	priceDec := decimal.NewFromFloat(price)
	if priceDec.LessThanOrEqual(decimal.Zero) || notional.LessThanOrEqual(decimal.Zero) {
		return nil, &models.OrderRejectedError{Symbol: d.Symbol, Reason: "nothing to buy: zero notional or price"}
	}
	qty := notional.Div(priceDec)

	clientOrderID := newClientOrderID()
	result, err := e.submitAndReconcile(ctx, models.OrderRequest{
		Symbol:        d.Symbol,
		Side:          models.EntrySide(d.Side),
		Type:          models.OrderMarket,
		Quantity:      qty,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		return nil, err
	}
	if result.FilledQty.LessThanOrEqual(decimal.Zero) {
		return nil, &models.OrderRejectedError{Symbol: d.Symbol, Reason: fmt.Sprintf("order %s ended %s with no fill", clientOrderID, result.Status)}
	}
	if result.Status == models.OrderStatusPartiallyFilled {
		e.log.Warnw("partial fill reconciled", "symbol", d.Symbol,
			"requested", qty, "filled", result.FilledQty, "client_order_id", clientOrderID)
	}

	now := time.Now()
	fillPrice := result.AvgPrice
	stopMult := decimal.NewFromFloat(1 - d.StopLossPct)
	takeMult := decimal.NewFromFloat(1 + d.TakeProfitPct)
	if d.Side == models.SideShort {
		stopMult = decimal.NewFromFloat(1 + d.StopLossPct)
		takeMult = decimal.NewFromFloat(1 - d.TakeProfitPct)
	}

	pos := &models.Position{
		ID:           uuid.NewString(),
		BotID:        e.botID,
		Symbol:       d.Symbol,
		Side:         d.Side,
		Quantity:     result.FilledQty,
		EntryPrice:   fillPrice,
		CurrentPrice: fillPrice,
		StopLoss:     fillPrice.Mul(stopMult),
		TakeProfit:   fillPrice.Mul(takeMult),
		Status:       models.PositionOpen,
		OpenedAt:     now,
	}
	trade := &models.Trade{
		ID:         uuid.NewString(),
		BotID:      e.botID,
		PositionID: pos.ID,
		Symbol:     d.Symbol,
		Side:       d.Side,
		Quantity:   result.FilledQty,
		Price:      fillPrice,
		Fees:       result.Fees,
		ExecutedAt: now,
	}

	cost := result.FilledQty.Mul(fillPrice).Add(result.Fees)
	newCash := cash.Sub(cost)
	if err := e.store.CommitEntry(pos, trade, newCash); err != nil {
		return nil, fmt.Errorf("entry fill for %s not committed: %w", d.Symbol, err)
	}
	e.ledger.ApplyEntry(pos, cost)

	e.log.Infow("position opened", "symbol", d.Symbol, "side", d.Side,
		"qty", pos.Quantity, "price", fillPrice, "cash", newCash, "source", d.Source)
	return pos, nil
}

// ExecuteExit closes an open position with a market order and realizes its
// PnL. Proceeds return the entry notional plus the realized result so cash
// accounting closes the loop for both directions.
func (e *Executor) ExecuteExit(ctx context.Context, pos *models.Position, reason string) (*models.Trade, error) {
	lock := e.lockFor(pos.Symbol)
	lock.Lock()
	defer lock.Unlock()

	cash, err := e.store.GetCash(e.botID)
	if err != nil {
		return nil, fmt.Errorf("exit aborted, cash read failed: %w", err)
	}
	e.ledger.SetCash(cash)

	clientOrderID := newClientOrderID()
	result, err := e.submitAndReconcile(ctx, models.OrderRequest{
		Symbol:        pos.Symbol,
		Side:          models.ExitSide(pos.Side),
		Type:          models.OrderMarket,
		Quantity:      pos.Quantity,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		return nil, err
	}
	if result.FilledQty.LessThanOrEqual(decimal.Zero) {
		return nil, &models.OrderRejectedError{Symbol: pos.Symbol, Reason: fmt.Sprintf("exit order %s ended %s with no fill", clientOrderID, result.Status)}
	}

	now := time.Now()
	exitPrice := result.AvgPrice

	grossPnL := exitPrice.Sub(pos.EntryPrice).Mul(result.FilledQty)
	if pos.Side == models.SideShort {
		grossPnL = grossPnL.Neg()
	}
	realized := grossPnL.Sub(result.Fees)
	entryNotional := result.FilledQty.Mul(pos.EntryPrice)
	proceeds := entryNotional.Add(realized)

	closed := *pos
	closed.Status = models.PositionClosed
	closed.CurrentPrice = exitPrice
	closed.ClosedAt = &now

	trade := &models.Trade{
		ID:          uuid.NewString(),
		BotID:       e.botID,
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side.Opposite(),
		Quantity:    result.FilledQty,
		Price:       exitPrice,
		Fees:        result.Fees,
		RealizedPnL: decimal.NewNullDecimal(realized),
		ExecutedAt:  now,
	}

	newCash := cash.Add(proceeds)
	if err := e.store.CommitExit(&closed, trade, newCash); err != nil {
		return nil, fmt.Errorf("exit fill for %s not committed: %w", pos.Symbol, err)
	}
	if err := e.ledger.ApplyExit(pos.ID, proceeds, now); err != nil {
		return nil, err
	}

	e.log.Infow("position closed", "symbol", pos.Symbol, "side", pos.Side,
		"qty", result.FilledQty, "price", exitPrice, "realized_pnl", realized, "reason", reason)
	return trade, nil
}

// CloseAll exits every open position. Used on graceful shutdown when the
// session is configured to go flat. Errors are collected; one symbol failing
// to close does not stop the rest.
func (e *Executor) CloseAll(ctx context.Context) error {
	var errs []error
	for _, pos := range e.ledger.OpenPositions() {
		if _, err := e.ExecuteExit(ctx, pos, "close-all on stop"); err != nil {
			e.log.Errorw("close-all failed for symbol", "symbol", pos.Symbol, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// submitAndReconcile submits the order and, when the submission times out
// with an unknown outcome, queries the order status before giving up. A
// possibly-filled order is never blind-retried.
func (e *Executor) submitAndReconcile(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	result, err := e.ex.SubmitOrder(ctx, req)
	if err == nil {
		return result, nil
	}

	var timeout *models.ExecutionTimeoutError
	if !errors.As(err, &timeout) {
		return nil, err
	}

	e.log.Warnw("order submission timed out, reconciling against exchange",
		"symbol", req.Symbol, "client_order_id", req.ClientOrderID)
	status, statusErr := e.ex.GetOrderStatus(ctx, req.Symbol, req.ClientOrderID)
	if statusErr != nil {
		return nil, err
	}
	if status.Status == models.OrderStatusFilled || status.Status == models.OrderStatusPartiallyFilled {
		return status, nil
	}
	return nil, err
}

// newClientOrderID returns a short idempotency key for one order attempt.
func newClientOrderID() string {
	uid := uuid.New()
	return "cb" + base62.EncodeToString(uid[:])
}
