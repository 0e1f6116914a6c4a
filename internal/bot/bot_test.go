package bot

import (
	"context"
	"testing"
	"time"

	"confluence-trade-bot-go/internal/indicator"
	"confluence-trade-bot-go/internal/ledger"
	"confluence-trade-bot-go/internal/models"
	"confluence-trade-bot-go/internal/risk"
	"confluence-trade-bot-go/internal/signal"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeData struct {
	series   map[string]*models.CandleSeries
	fetchErr map[string]error
	prices   map[string]float64
	priceErr map[string]error
	fetched  []string
}

func (f *fakeData) Fetch(ctx context.Context, symbol, timeframe string, limit int) (*models.CandleSeries, error) {
	f.fetched = append(f.fetched, symbol)
	if err, ok := f.fetchErr[symbol]; ok {
		return nil, err
	}
	return f.series[symbol], nil
}

func (f *fakeData) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err, ok := f.priceErr[symbol]; ok {
		return 0, err
	}
	return f.prices[symbol], nil
}

type fakeTrader struct {
	entries        []models.Decision
	exits          []string
	exitErr        error
	enterErr       error
	closedAll      bool
	closeAllCtxErr error
}

func (f *fakeTrader) ExecuteEntry(ctx context.Context, d models.Decision, price float64) (*models.Position, error) {
	if f.enterErr != nil {
		return nil, f.enterErr
	}
	f.entries = append(f.entries, d)
	return &models.Position{ID: "p-" + d.Symbol, Symbol: d.Symbol, Status: models.PositionOpen}, nil
}

func (f *fakeTrader) ExecuteExit(ctx context.Context, pos *models.Position, reason string) (*models.Trade, error) {
	if f.exitErr != nil {
		return nil, f.exitErr
	}
	f.exits = append(f.exits, pos.Symbol)
	return &models.Trade{PositionID: pos.ID}, nil
}

func (f *fakeTrader) CloseAll(ctx context.Context) error {
	f.closedAll = true
	f.closeAllCtxErr = ctx.Err()
	return nil
}

type fakeDecisionStore struct {
	recorded []models.Decision
}

func (f *fakeDecisionStore) RecordDecision(botID string, d models.Decision) error {
	f.recorded = append(f.recorded, d)
	return nil
}

func (f *fakeDecisionStore) RecentDecisions(botID string, limit int) ([]models.Decision, error) {
	if limit > len(f.recorded) {
		limit = len(f.recorded)
	}
	out := make([]models.Decision, 0, limit)
	for i := len(f.recorded) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.recorded[i])
	}
	return out, nil
}

type memSessions struct {
	state *models.SessionState
}

func (m *memSessions) SaveSession(state *models.SessionState) error {
	cp := *state
	m.state = &cp
	return nil
}

func (m *memSessions) LoadSession() (*models.SessionState, error) { return m.state, nil }
func (m *memSessions) Close() error                               { return nil }

type countingReporter struct {
	cycleReports int
	summaries    int
}

func (c *countingReporter) CycleReport(cycle int64, state models.PortfolioState, positions []*models.Position) {
	c.cycleReports++
}

func (c *countingReporter) SessionSummary(initial decimal.Decimal, final models.PortfolioState, peak decimal.Decimal, cycles int64) {
	c.summaries++
}

type stubSource struct {
	decisions map[string]models.Decision
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Evaluate(_ context.Context, sc signal.Context) (models.Decision, error) {
	if d, ok := s.decisions[sc.Symbol]; ok {
		return d, nil
	}
	return models.Hold(sc.Symbol, "stub", "no opinion"), nil
}

func smallSeries(symbol string) *models.CandleSeries {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, 10)
	for i := range candles {
		candles[i] = models.Candle{
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			Open:      100, High: 101, Low: 99, Close: 100, Volume: 10,
			CloseTime: start.Add(time.Duration(i+1) * time.Hour),
		}
	}
	return &models.CandleSeries{Symbol: symbol, Timeframe: "1h", Candles: candles}
}

func testBotConfig(symbols ...string) models.Config {
	return models.Config{
		BotID:            "bot-1",
		Symbols:          symbols,
		Timeframe:        "1h",
		LookbackBars:     10,
		CycleIntervalSec: 60,
		InitialCash:      1000,
		Risk: models.RiskConfig{
			MaxPositionPct: 0.15,
			MaxExposurePct: 0.60,
			MinRewardRisk:  1.5,
			MinNotional:    10,
		},
	}
}

type fixture struct {
	bot      *Bot
	data     *fakeData
	trader   *fakeTrader
	store    *fakeDecisionStore
	sessions *memSessions
	reporter *countingReporter
	ledger   *ledger.Ledger
}

func newFixture(t *testing.T, cfg models.Config, source signal.Source, data *fakeData) *fixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	f := &fixture{
		data:     data,
		trader:   &fakeTrader{},
		store:    &fakeDecisionStore{},
		sessions: &memSessions{},
		reporter: &countingReporter{},
		ledger:   ledger.New(cfg.BotID, decimal.NewFromFloat(cfg.InitialCash), log),
	}
	f.bot = New(cfg, data, indicator.NewEngine(models.IndicatorConfig{TrendPeriod: 5, FastPeriod: 3, RSIPeriod: 3, ADXPeriod: 3, ATRPeriod: 3, SupertrendMult: 3, VolumePeriod: 3}),
		source, risk.NewGate(cfg.Risk), f.trader, f.ledger, f.store, f.sessions, f.reporter, log)
	require.NoError(t, f.bot.loadSession())
	return f
}

func enter(symbol string, sizePct float64) models.Decision {
	return models.Decision{
		Symbol: symbol, Action: models.ActionEnter, Side: models.SideLong,
		Confidence: 0.9, SizePct: sizePct, StopLossPct: 0.03, TakeProfitPct: 0.06,
		Source: "stub", CreatedAt: time.Now(),
	}
}

func TestFatalFetchErrorIsolatedToItsSymbol(t *testing.T) {
	data := &fakeData{
		series:   map[string]*models.CandleSeries{"ETHUSDT": smallSeries("ETHUSDT")},
		fetchErr: map[string]error{"NOPEUSDT": &models.FatalFetchError{Symbol: "NOPEUSDT"}},
		prices:   map[string]float64{"NOPEUSDT": 1, "ETHUSDT": 3000},
	}
	f := newFixture(t, testBotConfig("NOPEUSDT", "ETHUSDT"), &stubSource{}, data)

	require.NoError(t, f.bot.runCycle(context.Background()))

	// The healthy symbol completed and the poisoned one is now disabled.
	assert.Contains(t, data.fetched, "ETHUSDT")
	assert.True(t, f.sessions.state.IsDisabled("NOPEUSDT"))

	// Next cycle never touches the disabled symbol again.
	data.fetched = nil
	require.NoError(t, f.bot.runCycle(context.Background()))
	assert.Equal(t, []string{"ETHUSDT"}, data.fetched)
}

func TestTransientErrorSkipsCycleWithoutDisabling(t *testing.T) {
	data := &fakeData{
		fetchErr: map[string]error{"BTCUSDT": &models.TransientFetchError{Symbol: "BTCUSDT"}},
		prices:   map[string]float64{"BTCUSDT": 50000},
	}
	f := newFixture(t, testBotConfig("BTCUSDT"), &stubSource{}, data)

	require.NoError(t, f.bot.runCycle(context.Background()))
	assert.False(t, f.sessions.state.IsDisabled("BTCUSDT"))
}

func TestAcceptedEntryReachesTheTrader(t *testing.T) {
	data := &fakeData{
		series: map[string]*models.CandleSeries{"BTCUSDT": smallSeries("BTCUSDT")},
		prices: map[string]float64{"BTCUSDT": 100},
	}
	source := &stubSource{decisions: map[string]models.Decision{"BTCUSDT": enter("BTCUSDT", 0.10)}}
	f := newFixture(t, testBotConfig("BTCUSDT"), source, data)

	require.NoError(t, f.bot.runCycle(context.Background()))

	require.Len(t, f.trader.entries, 1)
	assert.Equal(t, "BTCUSDT", f.trader.entries[0].Symbol)
	require.NotEmpty(t, f.store.recorded, "every decision lands in the audit trail")
}

func TestRiskRejectionIsLoggedNotFatal(t *testing.T) {
	data := &fakeData{
		series: map[string]*models.CandleSeries{"BTCUSDT": smallSeries("BTCUSDT")},
		prices: map[string]float64{"BTCUSDT": 100},
	}
	// 20% against a 15% cap: rejected at the gate.
	source := &stubSource{decisions: map[string]models.Decision{"BTCUSDT": enter("BTCUSDT", 0.20)}}
	f := newFixture(t, testBotConfig("BTCUSDT"), source, data)

	require.NoError(t, f.bot.runCycle(context.Background()))
	assert.Empty(t, f.trader.entries)
}

func TestExitDecisionClosesTheOpenPosition(t *testing.T) {
	data := &fakeData{
		series: map[string]*models.CandleSeries{"BTCUSDT": smallSeries("BTCUSDT")},
		prices: map[string]float64{"BTCUSDT": 100},
	}
	source := &stubSource{decisions: map[string]models.Decision{"BTCUSDT": {
		Symbol: "BTCUSDT", Action: models.ActionExit, Side: models.SideLong,
		Rationale: "supertrend flipped", Source: "stub",
	}}}
	f := newFixture(t, testBotConfig("BTCUSDT"), source, data)
	f.ledger.ApplyEntry(&models.Position{
		ID: "p1", BotID: "bot-1", Symbol: "BTCUSDT", Side: models.SideLong,
		Quantity: decimal.NewFromFloat(1), EntryPrice: decimal.NewFromFloat(90),
		Status: models.PositionOpen, OpenedAt: time.Now(),
	}, decimal.NewFromFloat(90))

	require.NoError(t, f.bot.runCycle(context.Background()))
	assert.Equal(t, []string{"BTCUSDT"}, f.trader.exits)
}

func TestLedgerInconsistencyEscapesTheCycle(t *testing.T) {
	data := &fakeData{
		series: map[string]*models.CandleSeries{"BTCUSDT": smallSeries("BTCUSDT")},
		prices: map[string]float64{"BTCUSDT": 100},
	}
	source := &stubSource{decisions: map[string]models.Decision{"BTCUSDT": {
		Symbol: "BTCUSDT", Action: models.ActionExit, Side: models.SideLong, Source: "stub",
	}}}
	f := newFixture(t, testBotConfig("BTCUSDT"), source, data)
	f.ledger.ApplyEntry(&models.Position{
		ID: "p1", Symbol: "BTCUSDT", Side: models.SideLong,
		Quantity: decimal.NewFromFloat(1), EntryPrice: decimal.NewFromFloat(90),
		Status: models.PositionOpen, OpenedAt: time.Now(),
	}, decimal.NewFromFloat(90))
	f.trader.exitErr = &models.LedgerInconsistencyError{BotID: "bot-1", Detail: "cash diverged"}

	err := f.bot.runCycle(context.Background())

	var inconsistent *models.LedgerInconsistencyError
	require.ErrorAs(t, err, &inconsistent)
}

func TestIncompletePriceRefreshSuppressesSnapshot(t *testing.T) {
	data := &fakeData{
		series:   map[string]*models.CandleSeries{"BTCUSDT": smallSeries("BTCUSDT")},
		prices:   map[string]float64{},
		priceErr: map[string]error{"BTCUSDT": &models.TransientFetchError{Symbol: "BTCUSDT"}},
	}
	f := newFixture(t, testBotConfig("BTCUSDT"), &stubSource{}, data)
	f.ledger.ApplyEntry(&models.Position{
		ID: "p1", Symbol: "BTCUSDT", Side: models.SideLong,
		Quantity: decimal.NewFromFloat(1), EntryPrice: decimal.NewFromFloat(90),
		Status: models.PositionOpen, OpenedAt: time.Now(),
	}, decimal.NewFromFloat(90))

	require.NoError(t, f.bot.runCycle(context.Background()))
	assert.Zero(t, f.reporter.cycleReports, "no snapshot may be published off unrefreshed marks")
}

func TestHaltedSessionRefusesToStart(t *testing.T) {
	data := &fakeData{prices: map[string]float64{}}
	f := newFixture(t, testBotConfig("BTCUSDT"), &stubSource{}, data)

	f.sessions.state = &models.SessionState{BotID: "bot-1", Status: models.StatusHalted}
	err := f.bot.loadSession()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "halted")
}

func TestPauseSkipsCyclesUntilResume(t *testing.T) {
	data := &fakeData{
		series: map[string]*models.CandleSeries{"BTCUSDT": smallSeries("BTCUSDT")},
		prices: map[string]float64{"BTCUSDT": 100},
	}
	f := newFixture(t, testBotConfig("BTCUSDT"), &stubSource{}, data)
	f.bot.setStatus(models.StatusRunning)

	f.bot.Pause()
	assert.Equal(t, models.StatusPaused, f.bot.Status())
	assert.Equal(t, models.StatusPaused, f.sessions.state.Status, "pause is checkpointed")

	require.NoError(t, f.bot.runCycle(context.Background()))
	assert.Empty(t, data.fetched, "a paused session must not touch the market")
	assert.Equal(t, int64(0), f.sessions.state.CycleCount)

	f.bot.Resume()
	assert.Equal(t, models.StatusRunning, f.bot.Status())
	require.NoError(t, f.bot.runCycle(context.Background()))
	assert.Equal(t, []string{"BTCUSDT"}, data.fetched)
	assert.Equal(t, int64(1), f.sessions.state.CycleCount)
}

func TestPausedCheckpointIsHonoredAfterRestart(t *testing.T) {
	data := &fakeData{
		series: map[string]*models.CandleSeries{"BTCUSDT": smallSeries("BTCUSDT")},
		prices: map[string]float64{"BTCUSDT": 100},
	}
	f := newFixture(t, testBotConfig("BTCUSDT"), &stubSource{}, data)

	f.sessions.state = &models.SessionState{BotID: "bot-1", Status: models.StatusPaused}
	require.NoError(t, f.bot.loadSession())

	assert.Equal(t, models.StatusPaused, f.bot.Status())
	require.NoError(t, f.bot.runCycle(context.Background()))
	assert.Empty(t, data.fetched)
}

func TestDisablingSymbolClosesItsOpenPosition(t *testing.T) {
	data := &fakeData{
		fetchErr: map[string]error{"BTCUSDT": &models.FatalFetchError{Symbol: "BTCUSDT"}},
		prices:   map[string]float64{"BTCUSDT": 100},
	}
	f := newFixture(t, testBotConfig("BTCUSDT"), &stubSource{}, data)
	f.ledger.ApplyEntry(&models.Position{
		ID: "p1", BotID: "bot-1", Symbol: "BTCUSDT", Side: models.SideLong,
		Quantity: decimal.NewFromFloat(1), EntryPrice: decimal.NewFromFloat(100),
		Status: models.PositionOpen, OpenedAt: time.Now(),
	}, decimal.NewFromFloat(100))

	require.NoError(t, f.bot.runCycle(context.Background()))

	assert.True(t, f.sessions.state.IsDisabled("BTCUSDT"))
	assert.Equal(t, []string{"BTCUSDT"}, f.trader.exits, "the position must not strand on a disabled symbol")
}

func TestDisabledSymbolKeepsItsMarkFreshWhenTheCloseFails(t *testing.T) {
	data := &fakeData{
		fetchErr: map[string]error{"BTCUSDT": &models.FatalFetchError{Symbol: "BTCUSDT"}},
		prices:   map[string]float64{"BTCUSDT": 100},
	}
	f := newFixture(t, testBotConfig("BTCUSDT"), &stubSource{}, data)
	f.ledger.ApplyEntry(&models.Position{
		ID: "p1", BotID: "bot-1", Symbol: "BTCUSDT", Side: models.SideLong,
		Quantity: decimal.NewFromFloat(1), EntryPrice: decimal.NewFromFloat(100),
		Status: models.PositionOpen, OpenedAt: time.Now(),
	}, decimal.NewFromFloat(100))
	f.trader.exitErr = &models.OrderRejectedError{Symbol: "BTCUSDT", Reason: "exchange maintenance"}

	require.NoError(t, f.bot.runCycle(context.Background()))
	require.True(t, f.sessions.state.IsDisabled("BTCUSDT"))

	// The close failed, the position is still open. The market moves; the
	// next cycle must still refresh the mark and publish a snapshot even
	// though the symbol no longer trades.
	data.prices["BTCUSDT"] = 50
	data.fetched = nil
	require.NoError(t, f.bot.runCycle(context.Background()))

	assert.Empty(t, data.fetched, "disabled symbols fetch no klines")
	positions := f.bot.GetPositions()
	require.Len(t, positions, 1)
	assert.True(t, positions[0].CurrentPrice.Equal(decimal.NewFromFloat(50)),
		"mark %s", positions[0].CurrentPrice)
	assert.Equal(t, 2, f.reporter.cycleReports)
}

func TestFatalPriceErrorDisablesSymbol(t *testing.T) {
	data := &fakeData{
		priceErr: map[string]error{"BTCUSDT": &models.FatalFetchError{Symbol: "BTCUSDT"}},
		prices:   map[string]float64{},
	}
	f := newFixture(t, testBotConfig("BTCUSDT"), &stubSource{}, data)

	require.NoError(t, f.bot.runCycle(context.Background()))
	assert.True(t, f.sessions.state.IsDisabled("BTCUSDT"))
}

func TestStopWithoutRunReturnsImmediately(t *testing.T) {
	data := &fakeData{prices: map[string]float64{}}
	f := newFixture(t, testBotConfig("BTCUSDT"), &stubSource{}, data)

	done := make(chan struct{})
	go func() {
		f.bot.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a bot that never ran")
	}
}

func TestStopAfterRefusedStartDoesNotBlock(t *testing.T) {
	data := &fakeData{prices: map[string]float64{}}
	f := newFixture(t, testBotConfig("BTCUSDT"), &stubSource{}, data)

	f.sessions.state = &models.SessionState{BotID: "bot-1", Status: models.StatusHalted}
	require.Error(t, f.bot.Run(context.Background()))

	done := make(chan struct{})
	go func() {
		f.bot.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked after a refused start")
	}
}

func TestCloseAllOnStopRunsOnALiveContext(t *testing.T) {
	data := &fakeData{
		series: map[string]*models.CandleSeries{"BTCUSDT": smallSeries("BTCUSDT")},
		prices: map[string]float64{"BTCUSDT": 100},
	}
	cfg := testBotConfig("BTCUSDT")
	cfg.CloseAllOnStop = true
	f := newFixture(t, cfg, &stubSource{}, data)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.bot.Run(ctx))

	assert.True(t, f.trader.closedAll)
	assert.NoError(t, f.trader.closeAllCtxErr, "exit orders need a context that can still carry them")
}

func TestCycleCountAndCheckpointAdvance(t *testing.T) {
	data := &fakeData{
		series: map[string]*models.CandleSeries{"BTCUSDT": smallSeries("BTCUSDT")},
		prices: map[string]float64{"BTCUSDT": 100},
	}
	f := newFixture(t, testBotConfig("BTCUSDT"), &stubSource{}, data)

	require.NoError(t, f.bot.runCycle(context.Background()))
	require.NoError(t, f.bot.runCycle(context.Background()))

	require.NotNil(t, f.sessions.state)
	assert.Equal(t, int64(2), f.sessions.state.CycleCount)
	assert.Equal(t, 2, f.reporter.cycleReports)
}
