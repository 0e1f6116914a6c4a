package risk

import (
	"fmt"

	"confluence-trade-bot-go/internal/models"
)

// Gate validates proposed entries against the configured limits. It is pure:
// no state, no side effects, every rejection carries a distinct policy reason.
// Exits and holds pass through untouched; the gate only polices new exposure.
type Gate struct {
	cfg models.RiskConfig
}

// NewGate builds a gate from the risk limits.
func NewGate(cfg models.RiskConfig) *Gate {
	return &Gate{cfg: cfg}
}

// Validate runs the checks in order, short-circuiting on the first failure.
// On success it returns the decision, downsized if the exposure cap required
// it. On failure it returns a RiskRejectedError with the reason.
func (g *Gate) Validate(portfolio models.PortfolioState, open []*models.Position, d models.Decision) (models.Decision, error) {
	if d.Action != models.ActionEnter {
		return d, nil
	}

	if d.SizePct > g.cfg.MaxPositionPct {
		return d, reject(d.Symbol, fmt.Sprintf("position size %.0f%% exceeds max %.0f%%",
			d.SizePct*100, g.cfg.MaxPositionPct*100))
	}

	equity, _ := portfolio.Equity.Float64()
	invested, _ := portfolio.Invested.Float64()
	if equity <= 0 {
		return d, reject(d.Symbol, "no equity to trade against")
	}

	investedPct := invested / equity
	if investedPct+d.SizePct > g.cfg.MaxExposurePct {
		headroom := g.cfg.MaxExposurePct - investedPct
		if headroom > 0 && headroom*equity >= g.cfg.MinNotional {
			d.SizePct = headroom
			d.Rationale += fmt.Sprintf(" [downsized to %.1f%% by exposure cap]", headroom*100)
		} else {
			return d, reject(d.Symbol, fmt.Sprintf("projected exposure %.0f%% exceeds max %.0f%%",
				(investedPct+d.SizePct)*100, g.cfg.MaxExposurePct*100))
		}
	}

	if rr := d.RewardRisk(); rr < g.cfg.MinRewardRisk {
		return d, reject(d.Symbol, fmt.Sprintf("reward:risk %.2f below minimum %.2f", rr, g.cfg.MinRewardRisk))
	}

	if notional := d.SizePct * equity; notional < g.cfg.MinNotional {
		return d, reject(d.Symbol, fmt.Sprintf("order value %.2f below minimum notional %.2f",
			notional, g.cfg.MinNotional))
	}

	if !g.cfg.AllowPyramiding {
		for _, p := range open {
			if p.Symbol == d.Symbol && p.Status == models.PositionOpen {
				return d, reject(d.Symbol, fmt.Sprintf("open position already exists on %s and pyramiding is disabled", d.Symbol))
			}
		}
	}

	return d, nil
}

func reject(symbol, reason string) error {
	return &models.RiskRejectedError{Symbol: symbol, Reason: reason}
}
