package domain

import "time"

// OrderRequest is a pending limit order to be placed with the executor.
type OrderRequest struct {
	EngineID   int
	Symbol     string
	Side       Side
	Mode       TradeMode
	LimitPrice float64
	StopLoss   float64
	TakeProfit float64 // 0 means no target
	Lots       float64
	Comment    string
}

// PendingOrder is the engine's record of one working limit order. At most one
// exists per engine. MarketAtPlace keeps the mid price seen when the order was
// placed so fill quality can be logged when it fills.
type PendingOrder struct {
	Ticket        string
	EngineID      int
	Side          Side
	Mode          TradeMode
	LimitPrice    float64
	StopLoss      float64
	TakeProfit    float64
	Lots          float64
	MarketAtPlace float64
	PlacedAt      time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the order's time-to-live has elapsed at now.
func (o *PendingOrder) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// BrokerOrder is a working pending order as reported by the executor.
type BrokerOrder struct {
	Ticket     string
	EngineID   int
	Side       Side
	LimitPrice float64
	StopLoss   float64
	TakeProfit float64
	Lots       float64
	PlacedAt   time.Time
}

// Close reasons recorded in the journal and on executor calls. Closes the
// engine did not initiate are attributed to CloseReasonExternal.
const (
	CloseReasonStopLoss   = "stop_loss"
	CloseReasonTakeProfit = "take_profit"
	CloseReasonTimeExit   = "time_exit"
	CloseReasonZoneFlat   = "zone_flatten"
	CloseReasonLossLimit  = "loss_limit"
	CloseReasonShutdown   = "shutdown"
	CloseReasonExternal   = "external"
)

// Cancel reasons for pending orders.
const (
	CancelReasonExpired  = "ttl_expired"
	CancelReasonZoneFlat = "zone_flatten"
	CancelReasonShutdown = "shutdown"
)
