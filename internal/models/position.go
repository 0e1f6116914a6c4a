package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is a single directional holding in one symbol. It is owned by the
// position ledger; only the trade executor opens and closes it, and only the
// per-cycle price refresh touches CurrentPrice.
type Position struct {
	ID           string          `json:"id"`
	BotID        string          `json:"bot_id"`
	Symbol       string          `json:"symbol"`
	Side         PositionSide    `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"take_profit"`
	Status       PositionStatus  `json:"status"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

// MarketValue is Quantity × CurrentPrice.
func (p *Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// UnrealizedPnL is (CurrentPrice − EntryPrice) × Quantity, sign-flipped for
// shorts.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	pnl := p.CurrentPrice.Sub(p.EntryPrice).Mul(p.Quantity)
	if p.Side == SideShort {
		return pnl.Neg()
	}
	return pnl
}

// Trade is the immutable record of one executed fill. Entries carry no
// realized PnL; exits do.
type Trade struct {
	ID          string              `json:"id"`
	BotID       string              `json:"bot_id"`
	PositionID  string              `json:"position_id"`
	Symbol      string              `json:"symbol"`
	Side        PositionSide        `json:"side"`
	Quantity    decimal.Decimal     `json:"quantity"`
	Price       decimal.Decimal     `json:"price"`
	Fees        decimal.Decimal     `json:"fees"`
	RealizedPnL decimal.NullDecimal `json:"realized_pnl,omitempty"`
	ExecutedAt  time.Time           `json:"executed_at"`
}

// PortfolioState is a derived view of the portfolio at one instant. It is
// never stored: every read recomputes it from live position data so equity
// always reflects current marks, not entry prices.
type PortfolioState struct {
	Cash          decimal.Decimal `json:"cash"`
	Invested      decimal.Decimal `json:"invested"`
	Equity        decimal.Decimal `json:"equity"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	OpenPositions int             `json:"open_positions"`
	Timestamp     time.Time       `json:"timestamp"`
}

// OrderRequest is what the executor hands to the exchange boundary.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal // limit orders only
	ClientOrderID string
}

// OrderSide is the exchange-level direction of an order.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// OrderType is the exchange-level order type.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderStatus is the exchange-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
)

// OrderResult is the exchange's answer to a submitted order.
type OrderResult struct {
	OrderID       int64           `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Status        OrderStatus     `json:"status"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	Fees          decimal.Decimal `json:"fees"`
}

// EntrySide maps a position side to the order side that opens it.
func EntrySide(s PositionSide) OrderSide {
	if s == SideShort {
		return OrderSell
	}
	return OrderBuy
}

// ExitSide maps a position side to the order side that closes it.
func ExitSide(s PositionSide) OrderSide {
	if s == SideShort {
		return OrderBuy
	}
	return OrderSell
}
