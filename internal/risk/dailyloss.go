package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// LossLimits are the daily circuit-breaker thresholds, expressed as positive
// money amounts. A zero threshold disables that check.
type LossLimits struct {
	PerEngine decimal.Decimal
	Total     decimal.Decimal
}

// EngineLoss is one engine's money state for the current day.
type EngineLoss struct {
	EngineID int
	Realized decimal.Decimal // closed PnL since the daily boundary, negative when losing
	Floating decimal.Decimal // open PnL right now
}

// Net is realized plus floating.
func (l EngineLoss) Net() decimal.Decimal {
	return l.Realized.Add(l.Floating)
}

// Verdict is the outcome of one loss evaluation.
type Verdict struct {
	BreachedEngines []int
	TotalBreached   bool
	TotalNet        decimal.Decimal
}

// Evaluate applies both layers of the daily-loss breaker. Floating losses
// count: a breach can occur with every position still open.
func Evaluate(limits LossLimits, losses []EngineLoss) Verdict {
	var v Verdict
	for _, l := range losses {
		net := l.Net()
		v.TotalNet = v.TotalNet.Add(net)
		if limits.PerEngine.IsPositive() && net.LessThanOrEqual(limits.PerEngine.Neg()) {
			v.BreachedEngines = append(v.BreachedEngines, l.EngineID)
		}
	}
	if limits.Total.IsPositive() && v.TotalNet.LessThanOrEqual(limits.Total.Neg()) {
		v.TotalBreached = true
	}
	return v
}

// DayStart returns midnight of now's day in loc. Loss accumulators reset at
// this boundary, which deliberately differs from the UTC VWAP anchor.
func DayStart(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// NextDayStart returns the following midnight in loc, the moment a breached
// engine or a halted book is allowed to trade again.
func NextDayStart(now time.Time, loc *time.Location) time.Time {
	return DayStart(now, loc).AddDate(0, 0, 1)
}
