package reporter

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"confluence-trade-bot-go/internal/models"
)

// Reporter renders the per-cycle portfolio table and the end-of-session
// summary to stdout. Everything it prints is derived; it never touches state.
type Reporter struct {
	botID string
	log   *zap.SugaredLogger
}

// New builds a reporter for the bot.
func New(botID string, log *zap.SugaredLogger) *Reporter {
	return &Reporter{botID: botID, log: log}
}

// CycleReport prints the portfolio snapshot and open positions for one cycle.
func (r *Reporter) CycleReport(cycle int64, state models.PortfolioState, positions []*models.Position) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("cycle %d | bot %s", cycle, r.botID)
	t.AppendHeader(table.Row{"Cash", "Invested", "Equity", "Unrealized PnL", "Open"})
	t.AppendRow(table.Row{
		state.Cash.StringFixed(2),
		state.Invested.StringFixed(2),
		state.Equity.StringFixed(2),
		state.UnrealizedPnL.StringFixed(2),
		state.OpenPositions,
	})
	t.Render()

	if len(positions) == 0 {
		return
	}
	pt := table.NewWriter()
	pt.SetOutputMirror(os.Stdout)
	pt.AppendHeader(table.Row{"Symbol", "Side", "Qty", "Entry", "Mark", "Unrealized", "Opened"})
	for _, p := range positions {
		pt.AppendRow(table.Row{
			p.Symbol,
			p.Side,
			p.Quantity.String(),
			p.EntryPrice.StringFixed(4),
			p.CurrentPrice.StringFixed(4),
			p.UnrealizedPnL().StringFixed(2),
			p.OpenedAt.Format("2006-01-02 15:04"),
		})
	}
	pt.Render()
}

// SessionSummary prints the final account of the session: return against the
// starting capital and the worst drawdown from the equity peak.
func (r *Reporter) SessionSummary(initial decimal.Decimal, final models.PortfolioState, peakEquity decimal.Decimal, cycles int64) {
	profit := final.Equity.Sub(initial)
	returnPct := decimal.Zero
	if initial.IsPositive() {
		returnPct = profit.Div(initial).Mul(decimal.NewFromInt(100))
	}
	drawdownPct := decimal.Zero
	if peakEquity.IsPositive() && peakEquity.GreaterThan(final.Equity) {
		drawdownPct = peakEquity.Sub(final.Equity).Div(peakEquity).Mul(decimal.NewFromInt(100))
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("session summary | bot %s", r.botID)
	t.AppendRows([]table.Row{
		{"Cycles", cycles},
		{"Initial capital", initial.StringFixed(2)},
		{"Final equity", final.Equity.StringFixed(2)},
		{"Profit", profit.StringFixed(2)},
		{"Return", returnPct.StringFixed(2) + "%"},
		{"Peak equity", peakEquity.StringFixed(2)},
		{"Drawdown from peak", drawdownPct.StringFixed(2) + "%"},
		{"Open positions", final.OpenPositions},
	})
	t.Render()

	r.log.Infow("session summary",
		"bot", r.botID, "cycles", cycles,
		"initial", initial, "final_equity", final.Equity, "profit", profit)
}
