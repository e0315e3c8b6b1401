package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Account is the executor's money view. Equity includes floating PnL,
// Balance does not.
type Account struct {
	Equity  decimal.Decimal
	Balance decimal.Decimal
}

// SymbolSpec describes the traded instrument's volume and pricing constraints.
type SymbolSpec struct {
	Symbol       string
	ContractSize float64
	VolumeMin    float64
	VolumeMax    float64
	VolumeStep   float64
	Digits       int
}

// Execution is the order/position gateway. Implementations must be safe for
// the single engine goroutine plus any internal goroutines of their own.
type Execution interface {
	PlaceLimit(ctx context.Context, req OrderRequest) (ticket string, err error)
	ModifyStop(ctx context.Context, ticket string, newSL float64) error
	ClosePosition(ctx context.Context, ticket, reason string) error
	CancelPending(ctx context.Context, ticket, reason string) error
	OpenPositions(ctx context.Context, engineID int) ([]BrokerPosition, error)
	PendingOrders(ctx context.Context, engineID int) ([]BrokerOrder, error)
	Account(ctx context.Context) (Account, error)
	Spec() SymbolSpec
}

// EventSource yields third-party trader position events. Implementations
// de-duplicate internally; every returned event is new to the caller.
type EventSource interface {
	RecentEvents(ctx context.Context, lookback time.Duration) ([]PositionEvent, error)
}

// CandleSource serves completed-bar snapshots, ascending by time, newest last.
// An empty slice means no market data yet.
type CandleSource interface {
	Candles(n int) []Candle
}

// TradeJournal persists closed trades and answers realized-PnL queries.
type TradeJournal interface {
	RecordClose(trade ClosedTrade) error
	RealizedSince(engineID int, since time.Time) (decimal.Decimal, error)
	RealizedSinceAll(since time.Time) (decimal.Decimal, error)
}

// ClosedTrade is one journal row.
type ClosedTrade struct {
	Ticket     string
	EngineID   int
	EngineName string
	Side       Side
	Mode       TradeMode
	EntryPrice float64
	ExitPrice  float64
	Lots       float64
	Profit     decimal.Decimal
	Reason     string
	OpenedAt   time.Time
	ClosedAt   time.Time
}
