package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"confluence-trade-bot-go/internal/exchange"
	"confluence-trade-bot-go/internal/models"

	"go.uber.org/zap"
)

// Gateway fetches candle series from the exchange boundary and normalizes
// them into the canonical series type: strictly time-ordered, gap-checked,
// minimum length enforced. A short-TTL cache avoids refetching within one
// cycle; the TTL never exceeds the cycle interval, so the freshness contract
// holds.
type Gateway struct {
	ex       exchange.Exchange
	minBars  int
	cacheTTL time.Duration
	logger   *zap.SugaredLogger

	mu    sync.Mutex
	cache map[string]cachedSeries
}

type cachedSeries struct {
	series    *models.CandleSeries
	fetchedAt time.Time
}

// NewGateway builds a gateway. minBars is the lookback floor dictated by the
// slowest indicator; cacheTTL should be at most the cycle interval.
func NewGateway(ex exchange.Exchange, minBars int, cacheTTL time.Duration, logger *zap.SugaredLogger) *Gateway {
	return &Gateway{
		ex:       ex,
		minBars:  minBars,
		cacheTTL: cacheTTL,
		logger:   logger,
		cache:    make(map[string]cachedSeries),
	}
}

// Fetch returns a normalized candle series for symbol at the given timeframe.
// Fails with DataUnavailableError when the venue returns fewer bars than the
// slowest indicator needs, and with the fetch taxonomy otherwise.
func (g *Gateway) Fetch(ctx context.Context, symbol, timeframe string, lookbackBars int) (*models.CandleSeries, error) {
	if lookbackBars < g.minBars {
		lookbackBars = g.minBars
	}

	key := symbol + "|" + timeframe
	g.mu.Lock()
	cached, ok := g.cache[key]
	g.mu.Unlock()
	if ok && time.Since(cached.fetchedAt) <= g.cacheTTL && cached.series.Len() >= lookbackBars {
		return cached.series, nil
	}

	candles, err := g.ex.FetchOHLCV(ctx, symbol, timeframe, lookbackBars)
	if err != nil {
		return nil, err
	}
	if len(candles) < g.minBars {
		return nil, &models.DataUnavailableError{Symbol: symbol, Got: len(candles), Want: g.minBars}
	}

	if err := checkSeries(symbol, timeframe, candles); err != nil {
		return nil, err
	}

	series := &models.CandleSeries{Symbol: symbol, Timeframe: timeframe, Candles: candles}
	g.mu.Lock()
	g.cache[key] = cachedSeries{series: series, fetchedAt: time.Now()}
	g.mu.Unlock()
	return series, nil
}

// GetPrice returns the latest traded price for symbol.
func (g *Gateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return g.ex.GetPrice(ctx, symbol)
}

// checkSeries enforces strict ascending order and uniform bar spacing.
// A venue handing back shuffled or gapped bars would silently corrupt every
// indicator downstream, so both are fetch failures, not warnings.
func checkSeries(symbol, timeframe string, candles []models.Candle) error {
	barDur := models.TimeframeDuration(timeframe)
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1], candles[i]
		if !cur.OpenTime.After(prev.OpenTime) {
			return &models.TransientFetchError{
				Symbol: symbol,
				Cause:  fmt.Errorf("bars out of order at index %d (%s >= %s)", i, prev.OpenTime, cur.OpenTime),
			}
		}
		if barDur > 0 {
			gap := cur.OpenTime.Sub(prev.OpenTime)
			if gap != barDur {
				return &models.TransientFetchError{
					Symbol: symbol,
					Cause:  fmt.Errorf("gap of %s between bars %d and %d, expected %s", gap, i-1, i, barDur),
				}
			}
		}
	}
	return nil
}
