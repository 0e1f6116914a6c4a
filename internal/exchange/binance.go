package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"confluence-trade-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Binance API error codes that decide retryability.
const (
	codeTooManyRequests = -1003
	codeInvalidSymbol   = -1121
)

// maxStreamPriceAge bounds how stale a streamed price may be before GetPrice
// falls back to REST.
const maxStreamPriceAge = 10 * time.Second

// BinanceExchange talks to Binance spot over the official client, with a
// websocket aggTrade stream keeping a hot cache of latest prices.
type BinanceExchange struct {
	client    *binance.Client
	wsBaseURL string
	symbols   []string
	logger    *zap.SugaredLogger

	mu     sync.RWMutex
	prices map[string]streamedPrice

	stopChan chan struct{}
	wg       sync.WaitGroup
}

type streamedPrice struct {
	price float64
	at    time.Time
}

// NewBinanceExchange builds the live exchange and starts the price stream for
// the configured symbols.
func NewBinanceExchange(apiKey, secretKey, apiURL, wsBaseURL string, symbols []string, logger *zap.SugaredLogger) *BinanceExchange {
	client := binance.NewClient(apiKey, secretKey)
	client.BaseURL = apiURL

	e := &BinanceExchange{
		client:    client,
		wsBaseURL: wsBaseURL,
		symbols:   symbols,
		logger:    logger,
		prices:    make(map[string]streamedPrice),
		stopChan:  make(chan struct{}),
	}

	if len(symbols) > 0 {
		e.wg.Add(1)
		go e.priceStreamLoop()
	}
	return e
}

// FetchOHLCV pulls klines and normalizes them into candles, oldest first.
func (e *BinanceExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	klines, err := e.client.NewKlinesService().
		Symbol(symbol).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classifyFetchError(symbol, err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		o, errO := strconv.ParseFloat(k.Open, 64)
		h, errH := strconv.ParseFloat(k.High, 64)
		l, errL := strconv.ParseFloat(k.Low, 64)
		c, errC := strconv.ParseFloat(k.Close, 64)
		v, errV := strconv.ParseFloat(k.Volume, 64)
		if errO != nil || errH != nil || errL != nil || errC != nil || errV != nil {
			return nil, &models.TransientFetchError{
				Symbol: symbol,
				Cause:  fmt.Errorf("unparseable kline at %d", k.OpenTime),
			}
		}
		candles = append(candles, models.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Volume:    v,
			CloseTime: time.UnixMilli(k.CloseTime),
		})
	}
	return candles, nil
}

// GetPrice serves from the stream cache when fresh, otherwise falls back to
// the REST ticker.
func (e *BinanceExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	e.mu.RLock()
	sp, ok := e.prices[symbol]
	e.mu.RUnlock()
	if ok && time.Since(sp.at) <= maxStreamPriceAge {
		return sp.price, nil
	}

	prices, err := e.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, classifyFetchError(symbol, err)
	}
	if len(prices) == 0 {
		return 0, &models.FatalFetchError{Symbol: symbol, Cause: fmt.Errorf("no ticker returned")}
	}
	p, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, &models.TransientFetchError{Symbol: symbol, Cause: err}
	}
	return p, nil
}

// SubmitOrder places the order on Binance and maps the response into the
// execution taxonomy.
func (e *BinanceExchange) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	svc := e.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderType(req.Type)).
		Quantity(req.Quantity.String()).
		NewClientOrderID(req.ClientOrderID)
	if req.Type == models.OrderLimit {
		svc = svc.TimeInForce(binance.TimeInForceTypeGTC).Price(req.Price.String())
	}

	res, err := svc.Do(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, &models.ExecutionTimeoutError{Symbol: req.Symbol, ClientOrderID: req.ClientOrderID}
		}
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			return nil, &models.OrderRejectedError{Symbol: req.Symbol, Reason: apiErr.Message}
		}
		return nil, &models.OrderRejectedError{Symbol: req.Symbol, Reason: err.Error()}
	}

	result := &models.OrderResult{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Status:        models.OrderStatus(res.Status),
	}

	filled, _ := decimal.NewFromString(res.ExecutedQuantity)
	result.FilledQty = filled

	var fees decimal.Decimal
	var notional decimal.Decimal
	for _, f := range res.Fills {
		price, _ := decimal.NewFromString(f.Price)
		qty, _ := decimal.NewFromString(f.Quantity)
		commission, _ := decimal.NewFromString(f.Commission)
		notional = notional.Add(price.Mul(qty))
		fees = fees.Add(commission)
	}
	result.Fees = fees
	if filled.IsPositive() {
		result.AvgPrice = notional.Div(filled)
	}

	if result.Status == models.OrderStatusRejected {
		return nil, &models.OrderRejectedError{Symbol: req.Symbol, Reason: "exchange rejected order"}
	}
	return result, nil
}

// GetOrderStatus reconciles an order by its client order ID.
func (e *BinanceExchange) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*models.OrderResult, error) {
	order, err := e.client.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, classifyFetchError(symbol, err)
	}

	filled, _ := decimal.NewFromString(order.ExecutedQuantity)
	result := &models.OrderResult{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Status:        models.OrderStatus(order.Status),
		FilledQty:     filled,
	}
	cumQuote, err2 := decimal.NewFromString(order.CummulativeQuoteQuantity)
	if err2 == nil && filled.IsPositive() {
		result.AvgPrice = cumQuote.Div(filled)
	}
	return result, nil
}

// Close stops the price stream.
func (e *BinanceExchange) Close() error {
	close(e.stopChan)
	e.wg.Wait()
	return nil
}

// priceStreamLoop keeps a combined aggTrade subscription alive, reconnecting
// with a fixed backoff on any failure.
func (e *BinanceExchange) priceStreamLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopChan:
			return
		default:
		}

		conn, err := e.dialPriceStream()
		if err != nil {
			e.logger.Warnf("price stream connect failed: %v, retrying in 5s", err)
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-e.stopChan:
				return
			}
		}

		if err := e.readPriceStream(conn); err != nil {
			e.logger.Warnf("price stream read error: %v, reconnecting", err)
		}
		conn.Close()

		select {
		case <-time.After(5 * time.Second):
		case <-e.stopChan:
			return
		}
	}
}

func (e *BinanceExchange) dialPriceStream() (*websocket.Conn, error) {
	streams := make([]string, 0, len(e.symbols))
	for _, s := range e.symbols {
		streams = append(streams, strings.ToLower(s)+"@aggTrade")
	}
	wsURL := fmt.Sprintf("%s/stream?streams=%s", e.wsBaseURL, strings.Join(streams, "/"))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	return conn, err
}

// readPriceStream blocks reading trade ticks until the connection breaks or
// the exchange is closed. Pongs extend the read deadline.
func (e *BinanceExchange) readPriceStream(conn *websocket.Conn) error {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10
	)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()
	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-e.stopChan:
				return
			}
		}
	}()

	for {
		select {
		case <-e.stopChan:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return err
			}

			var wrapper struct {
				Data struct {
					Symbol string      `json:"s"`
					Price  json.Number `json:"p"`
				} `json:"data"`
			}
			if err := json.Unmarshal(message, &wrapper); err != nil {
				continue
			}
			price, err := wrapper.Data.Price.Float64()
			if err != nil || wrapper.Data.Symbol == "" {
				continue
			}

			e.mu.Lock()
			e.prices[wrapper.Data.Symbol] = streamedPrice{price: price, at: time.Now()}
			e.mu.Unlock()
		}
	}
}

// classifyFetchError maps venue errors onto the fetch taxonomy: unknown
// symbols are fatal, everything else (network, rate limits) retries next
// cycle.
func classifyFetchError(symbol string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeInvalidSymbol:
			return &models.FatalFetchError{Symbol: symbol, Cause: err}
		case codeTooManyRequests:
			return &models.TransientFetchError{Symbol: symbol, Cause: err}
		}
		return &models.TransientFetchError{Symbol: symbol, Cause: err}
	}
	return &models.TransientFetchError{Symbol: symbol, Cause: err}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
