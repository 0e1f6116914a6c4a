package exchange

import (
	"context"

	"confluence-trade-bot-go/internal/models"
)

// Exchange is the boundary to the trading venue. Live and paper
// implementations are interchangeable so the pipeline never knows whether an
// order is real.
type Exchange interface {
	// FetchOHLCV returns up to limit bars for symbol at the given timeframe,
	// oldest first. Errors are classified into the fetch taxonomy
	// (TransientFetchError / FatalFetchError) where the venue allows it.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)

	// GetPrice returns the latest traded price for symbol.
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// SubmitOrder places an order and returns the venue's fill report.
	// A declined order surfaces as OrderRejectedError; an unknown outcome as
	// ExecutionTimeoutError.
	SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error)

	// GetOrderStatus reconciles an order by client order ID. Used after an
	// ExecutionTimeoutError before any retry.
	GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*models.OrderResult, error)

	// Close releases background resources (price streams, connections).
	Close() error
}
