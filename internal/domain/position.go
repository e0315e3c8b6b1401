package domain

import "time"

// TradeMode records how a direction decision was made. Momentum follows the
// cluster's side, inverse fades it.
type TradeMode string

const (
	ModeInverse  TradeMode = "inverse"
	ModeMomentum TradeMode = "momentum"
	ModeUnknown  TradeMode = "unknown" // adopted from the executor, origin not ours
)

// OpenPosition is the engine's view of one live position. CurrentSL only ever
// moves toward lower risk; TakeProfit is set at entry and never modified.
// A zero TakeProfit means no target.
type OpenPosition struct {
	Ticket     string
	EngineID   int
	Side       Side
	Mode       TradeMode
	EntryPrice float64
	InitialSL  float64
	CurrentSL  float64
	TakeProfit float64
	Lots       float64
	OpenedAt   time.Time
	Breakeven  bool
}

// InitialRisk is the entry-to-initial-stop distance in price units (the R unit).
func (p *OpenPosition) InitialRisk() float64 {
	if p.Side == SideBuy {
		return p.EntryPrice - p.InitialSL
	}
	return p.InitialSL - p.EntryPrice
}

// OpenR returns the current unrealized gain measured in R units at price.
// Returns 0 when the initial risk is degenerate.
func (p *OpenPosition) OpenR(price float64) float64 {
	risk := p.InitialRisk()
	if risk <= 0 {
		return 0
	}
	if p.Side == SideBuy {
		return (price - p.EntryPrice) / risk
	}
	return (p.EntryPrice - price) / risk
}

// Improves reports whether newSL is strictly closer to lower risk than the
// current stop for this position's side.
func (p *OpenPosition) Improves(newSL float64) bool {
	if p.Side == SideBuy {
		return newSL > p.CurrentSL
	}
	return newSL < p.CurrentSL
}

// BrokerPosition is an open position as reported by the executor.
type BrokerPosition struct {
	Ticket     string
	EngineID   int
	Side       Side
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Lots       float64
	OpenedAt   time.Time
	Profit     float64
}
