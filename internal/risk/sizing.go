// Package risk holds lot sizing, daily-loss accounting and the session
// filter. Money math uses decimals; lot volumes stay float64 because brokers
// quote them that way.
package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"cluster_go/internal/domain"
)

// LotSize computes the order volume for one entry.
//
// dynamic_pct risks risk_percent (in percent, 1.0 = 1%) of current equity,
// static_pct risks it against the configured base balance, fixed_lots ignores
// the account. The result is floored to the symbol's volume step and clamped
// to its limits.
func LotSize(cfg *domain.EngineConfig, acct domain.Account, spec domain.SymbolSpec, slDistance float64) (float64, error) {
	if cfg.RiskMode == domain.RiskFixedLots {
		return clampVolume(cfg.FixedLots, spec), nil
	}
	if slDistance <= 0 {
		return 0, fmt.Errorf("lot size: non-positive stop distance %v", slDistance)
	}
	if spec.ContractSize <= 0 {
		return 0, fmt.Errorf("lot size: contract size not set for %s", spec.Symbol)
	}

	base := acct.Equity
	if cfg.RiskMode == domain.RiskStaticPct {
		base = decimal.NewFromFloat(cfg.StaticBaseBalance)
	}
	riskMoney := base.Mul(decimal.NewFromFloat(cfg.RiskPercent)).Div(decimal.NewFromInt(100))
	if riskMoney.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("lot size: non-positive risk amount %s", riskMoney)
	}

	perLot := decimal.NewFromFloat(slDistance).Mul(decimal.NewFromFloat(spec.ContractSize))
	lots, _ := riskMoney.Div(perLot).Float64()
	return clampVolume(lots, spec), nil
}

func clampVolume(lots float64, spec domain.SymbolSpec) float64 {
	if spec.VolumeStep > 0 {
		steps := math.Floor(lots/spec.VolumeStep + 1e-9)
		lots = steps * spec.VolumeStep
	}
	if spec.VolumeMax > 0 && lots > spec.VolumeMax {
		lots = spec.VolumeMax
	}
	if lots < spec.VolumeMin {
		lots = spec.VolumeMin
	}
	return lots
}
