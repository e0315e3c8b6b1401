package domain

import "time"

// NoTradeZone is one scheduled blackout interval, inclusive of Start,
// exclusive of End. Times are absolute (already resolved from local wall
// clock at load time).
type NoTradeZone struct {
	Start  time.Time
	End    time.Time
	Reason string
}

// Covers reports whether t falls inside the zone.
func (z NoTradeZone) Covers(t time.Time) bool {
	return !t.Before(z.Start) && t.Before(z.End)
}

// ActiveZone returns the first zone covering t, or nil.
func ActiveZone(zones []NoTradeZone, t time.Time) *NoTradeZone {
	for i := range zones {
		if zones[i].Covers(t) {
			return &zones[i]
		}
	}
	return nil
}
