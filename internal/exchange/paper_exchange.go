package exchange

import (
	"context"
	"fmt"
	"sync"

	"confluence-trade-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// PaperExchange simulates execution against live (or injected) market data.
// Market orders fill immediately at the current price, moved against the
// taker by the slippage rate, with fees charged on the filled notional.
// It implements the same Exchange interface as the live venue.
type PaperExchange struct {
	data         Exchange // market data passthrough; may be nil when prices are set manually
	feeRate      decimal.Decimal
	slippageRate decimal.Decimal

	mu         sync.Mutex
	prices     map[string]float64
	orders     map[string]*models.OrderResult
	nextID     int64
}

// NewPaperExchange wraps a market-data source with simulated execution.
func NewPaperExchange(data Exchange, feeRate, slippageRate float64) *PaperExchange {
	return &PaperExchange{
		data:         data,
		feeRate:      decimal.NewFromFloat(feeRate),
		slippageRate: decimal.NewFromFloat(slippageRate),
		prices:       make(map[string]float64),
		orders:       make(map[string]*models.OrderResult),
		nextID:       1,
	}
}

// SetPrice pins the simulated price for symbol. Used without a data source
// (tests, replays); a pinned price takes precedence over the data source.
func (p *PaperExchange) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

func (p *PaperExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if p.data == nil {
		return nil, &models.DataUnavailableError{Symbol: symbol, Got: 0, Want: limit}
	}
	return p.data.FetchOHLCV(ctx, symbol, timeframe, limit)
}

func (p *PaperExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	price, ok := p.prices[symbol]
	p.mu.Unlock()
	if ok {
		return price, nil
	}
	if p.data == nil {
		return 0, &models.DataUnavailableError{Symbol: symbol, Got: 0, Want: 1}
	}
	return p.data.GetPrice(ctx, symbol)
}

// SubmitOrder fills the order in full at the slipped price.
func (p *PaperExchange) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	if !req.Quantity.IsPositive() {
		return nil, &models.OrderRejectedError{Symbol: req.Symbol, Reason: "quantity must be positive"}
	}

	price, err := p.GetPrice(ctx, req.Symbol)
	if err != nil {
		return nil, &models.OrderRejectedError{Symbol: req.Symbol, Reason: fmt.Sprintf("no price available: %v", err)}
	}

	fillPrice := decimal.NewFromFloat(price)
	if req.Type == models.OrderLimit && req.Price.IsPositive() {
		fillPrice = req.Price
	}

	// Slippage moves the fill against the taker.
	slip := fillPrice.Mul(p.slippageRate)
	if req.Side == models.OrderBuy {
		fillPrice = fillPrice.Add(slip)
	} else {
		fillPrice = fillPrice.Sub(slip)
	}

	notional := fillPrice.Mul(req.Quantity)
	fees := notional.Mul(p.feeRate)

	p.mu.Lock()
	defer p.mu.Unlock()

	result := &models.OrderResult{
		OrderID:       p.nextID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Status:        models.OrderStatusFilled,
		FilledQty:     req.Quantity,
		AvgPrice:      fillPrice,
		Fees:          fees,
	}
	p.nextID++
	p.orders[req.ClientOrderID] = result
	return result, nil
}

func (p *PaperExchange) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*models.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[clientOrderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s for %s", clientOrderID, symbol)
	}
	return order, nil
}

func (p *PaperExchange) Close() error {
	if p.data != nil {
		return p.data.Close()
	}
	return nil
}
