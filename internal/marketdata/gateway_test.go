package marketdata

import (
	"context"
	"testing"
	"time"

	"confluence-trade-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockExchange counts fetches and serves canned candles.
type mockExchange struct {
	candles    []models.Candle
	fetchErr   error
	fetchCount int
	price      float64
}

func (m *mockExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	m.fetchCount++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.candles, nil
}

func (m *mockExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return m.price, nil
}

func (m *mockExchange) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	return nil, nil
}

func (m *mockExchange) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*models.OrderResult, error) {
	return nil, nil
}

func (m *mockExchange) Close() error { return nil }

func makeCandles(n int, start time.Time, step time.Duration) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		t := start.Add(time.Duration(i) * step)
		out[i] = models.Candle{
			OpenTime:  t,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100.5,
			Volume:    10,
			CloseTime: t.Add(step),
		}
	}
	return out
}

func TestGatewayFetchNormalizesSeries(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ex := &mockExchange{candles: makeCandles(250, start, time.Hour)}
	g := NewGateway(ex, 200, time.Minute, zap.NewNop().Sugar())

	series, err := g.Fetch(context.Background(), "BTCUSDT", "1h", 250)
	require.NoError(t, err)
	assert.Equal(t, 250, series.Len())
	assert.Equal(t, "BTCUSDT", series.Symbol)
}

func TestGatewayRejectsShortSeries(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ex := &mockExchange{candles: makeCandles(50, start, time.Hour)}
	g := NewGateway(ex, 200, time.Minute, zap.NewNop().Sugar())

	_, err := g.Fetch(context.Background(), "BTCUSDT", "1h", 250)
	var unavailable *models.DataUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 50, unavailable.Got)
	assert.Equal(t, 200, unavailable.Want)
}

func TestGatewayRejectsGappedSeries(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := makeCandles(250, start, time.Hour)
	// Punch a hole in the middle.
	candles = append(candles[:100], candles[101:]...)
	ex := &mockExchange{candles: candles}
	g := NewGateway(ex, 200, time.Minute, zap.NewNop().Sugar())

	_, err := g.Fetch(context.Background(), "BTCUSDT", "1h", 240)
	var transient *models.TransientFetchError
	require.ErrorAs(t, err, &transient)
}

func TestGatewayRejectsOutOfOrderSeries(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := makeCandles(250, start, time.Hour)
	candles[10], candles[11] = candles[11], candles[10]
	ex := &mockExchange{candles: candles}
	g := NewGateway(ex, 200, time.Minute, zap.NewNop().Sugar())

	_, err := g.Fetch(context.Background(), "BTCUSDT", "1h", 250)
	var transient *models.TransientFetchError
	require.ErrorAs(t, err, &transient)
}

func TestGatewayCachesWithinTTL(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ex := &mockExchange{candles: makeCandles(250, start, time.Hour)}
	g := NewGateway(ex, 200, time.Minute, zap.NewNop().Sugar())

	_, err := g.Fetch(context.Background(), "BTCUSDT", "1h", 250)
	require.NoError(t, err)
	_, err = g.Fetch(context.Background(), "BTCUSDT", "1h", 250)
	require.NoError(t, err)
	assert.Equal(t, 1, ex.fetchCount, "second fetch inside the TTL should hit the cache")
}

func TestGatewayPropagatesFetchTaxonomy(t *testing.T) {
	ex := &mockExchange{fetchErr: &models.FatalFetchError{Symbol: "NOPEUSDT"}}
	g := NewGateway(ex, 200, time.Minute, zap.NewNop().Sugar())

	_, err := g.Fetch(context.Background(), "NOPEUSDT", "1h", 250)
	var fatal *models.FatalFetchError
	require.ErrorAs(t, err, &fatal)
}
