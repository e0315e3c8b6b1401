package domain

import "time"

// Side of a trade or a trader event.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// PositionEvent is one observed position-open by a third-party trader.
// OrderID is unique per broker order and is the de-dup key; TraderID is the
// account that opened it and is the uniqueness key for cluster counting.
type PositionEvent struct {
	OrderID  string
	TraderID string
	Side     Side
	Symbol   string
	Lots     float64
	Price    float64
	OpenedAt time.Time
}
