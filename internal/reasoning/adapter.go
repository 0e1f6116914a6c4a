package reasoning

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"confluence-trade-bot-go/internal/indicator"
	"confluence-trade-bot-go/internal/models"
	"confluence-trade-bot-go/internal/signal"
)

const oracleSource = "oracle"

// Adapter is the alternate signal source. It sends the market and portfolio
// context to an external reasoning oracle and validates the returned decision
// before anything downstream may see it. An unvalidated decision is never
// executed: every failure path degrades to hold.
type Adapter struct {
	cfg      models.OracleConfig
	client   *resty.Client
	limiter  *rate.Limiter
	inFlight chan struct{}
	validate *validator.Validate
	log      *zap.SugaredLogger
}

// NewAdapter builds the oracle adapter. apiKey may be empty for unauthenticated
// endpoints.
func NewAdapter(cfg models.OracleConfig, apiKey string, log *zap.SugaredLogger) *Adapter {
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(time.Duration(cfg.TimeoutSec) * time.Second).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}
	concurrent := cfg.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 1
	}

	return &Adapter{
		cfg:      cfg,
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		inFlight: make(chan struct{}, concurrent),
		validate: validator.New(),
		log:      log,
	}
}

func (a *Adapter) Name() string { return oracleSource }

// oracleRequest is the context object sent to the oracle. Undefined indicator
// values are encoded as null, never as zero.
type oracleRequest struct {
	Model     string                `json:"model,omitempty"`
	Symbol    string                `json:"symbol"`
	Price     float64               `json:"price"`
	Snapshot  map[string]*float64   `json:"indicators"`
	Position  *models.Position      `json:"open_position,omitempty"`
	Portfolio models.PortfolioState `json:"portfolio"`
	Timestamp time.Time             `json:"timestamp"`
}

// oracleDecision is the strict response schema. Anything outside it is a
// DecisionSchemaError.
type oracleDecision struct {
	Action        string  `json:"action" validate:"required,oneof=enter exit hold"`
	Side          string  `json:"side" validate:"omitempty,oneof=long short"`
	Confidence    float64 `json:"confidence" validate:"gte=0,lte=1"`
	SizePct       float64 `json:"size_pct" validate:"gte=0,lte=1"`
	StopLossPct   float64 `json:"stop_loss_pct" validate:"gte=0"`
	TakeProfitPct float64 `json:"take_profit_pct" validate:"gte=0"`
	Rationale     string  `json:"rationale"`
	Invalidation  string  `json:"invalidation_condition"`
}

// Evaluate submits the cycle context to the oracle. Rate-limit waits, call
// timeouts and transport failures all fall back to hold; a malformed decision
// additionally surfaces a DecisionSchemaError alongside the hold.
func (a *Adapter) Evaluate(ctx context.Context, sc signal.Context) (models.Decision, error) {
	select {
	case a.inFlight <- struct{}{}:
		defer func() { <-a.inFlight }()
	case <-ctx.Done():
		return models.Hold(sc.Symbol, oracleSource, "oracle concurrency slot unavailable before deadline"), nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return models.Hold(sc.Symbol, oracleSource, "oracle rate limit wait exceeded the deadline"), nil
	}

	body, err := json.Marshal(a.buildRequest(sc))
	if err != nil {
		return models.Hold(sc.Symbol, oracleSource, "failed to encode oracle context"), nil
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/decide")
	if err != nil {
		a.log.Warnw("oracle call failed, holding", "symbol", sc.Symbol, "error", err)
		return models.Hold(sc.Symbol, oracleSource, fmt.Sprintf("oracle unreachable: %v", err)), nil
	}
	if resp.StatusCode() != 200 {
		a.log.Warnw("oracle returned non-200, holding", "symbol", sc.Symbol, "status", resp.StatusCode())
		return models.Hold(sc.Symbol, oracleSource, fmt.Sprintf("oracle returned status %d", resp.StatusCode())), nil
	}

	var raw oracleDecision
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		schemaErr := &models.DecisionSchemaError{Symbol: sc.Symbol, Reason: fmt.Sprintf("malformed JSON: %v", err)}
		return models.Hold(sc.Symbol, oracleSource, schemaErr.Error()), schemaErr
	}

	decision, err := a.toDecision(sc.Symbol, raw)
	if err != nil {
		return models.Hold(sc.Symbol, oracleSource, err.Error()), err
	}
	return decision, nil
}

func (a *Adapter) buildRequest(sc signal.Context) oracleRequest {
	snap := sc.Snapshot
	return oracleRequest{
		Model:  a.cfg.Model,
		Symbol: sc.Symbol,
		Price:  sc.Price,
		Snapshot: map[string]*float64{
			"trend_sma":      fl(snap.TrendSMA),
			"fast_sma":       fl(snap.FastSMA),
			"rsi":            fl(snap.RSI),
			"adx":            fl(snap.ADX),
			"plus_di":        fl(snap.PlusDI),
			"minus_di":       fl(snap.MinusDI),
			"atr":            fl(snap.ATR),
			"supertrend":     fl(snap.Supertrend),
			"supertrend_dir": fl(snap.SupertrendDir),
			"volume_ratio":   fl(snap.VolumeRatio),
		},
		Position:  sc.Position,
		Portfolio: sc.Portfolio,
		Timestamp: sc.Now,
	}
}

// toDecision validates the raw payload and converts it into a typed Decision.
func (a *Adapter) toDecision(symbol string, raw oracleDecision) (models.Decision, error) {
	if err := a.validate.Struct(raw); err != nil {
		return models.Decision{}, &models.DecisionSchemaError{Symbol: symbol, Reason: err.Error()}
	}

	if raw.Action == string(models.ActionEnter) {
		switch {
		case raw.Side == "":
			return models.Decision{}, &models.DecisionSchemaError{Symbol: symbol, Reason: "enter without a side"}
		case raw.SizePct <= 0:
			return models.Decision{}, &models.DecisionSchemaError{Symbol: symbol, Reason: "enter with non-positive size_pct"}
		case raw.StopLossPct <= 0 || raw.StopLossPct > a.cfg.MaxStopLossPct:
			return models.Decision{}, &models.DecisionSchemaError{
				Symbol: symbol,
				Reason: fmt.Sprintf("stop_loss_pct %.4f outside (0, %.2f]", raw.StopLossPct, a.cfg.MaxStopLossPct),
			}
		case raw.TakeProfitPct <= 0:
			return models.Decision{}, &models.DecisionSchemaError{Symbol: symbol, Reason: "enter with non-positive take_profit_pct"}
		}
	}

	return models.Decision{
		Symbol:        symbol,
		Action:        models.Action(raw.Action),
		Side:          models.PositionSide(raw.Side),
		Confidence:    raw.Confidence,
		SizePct:       raw.SizePct,
		StopLossPct:   raw.StopLossPct,
		TakeProfitPct: raw.TakeProfitPct,
		Rationale:     raw.Rationale,
		Invalidation:  raw.Invalidation,
		Source:        oracleSource,
		CreatedAt:     time.Now(),
	}, nil
}

func fl(v indicator.Value) *float64 {
	if !v.Valid {
		return nil
	}
	x := v.V
	return &x
}
