package indicator

import (
	"time"

	"cluster_go/internal/domain"
)

// Snapshot is the per-tick indicator state handed to the direction decision.
// Each value carries its own availability flag; a missing RSI or VWAP forces
// the hybrid decision onto its inverse branch.
type Snapshot struct {
	RSI       float64
	VWAP      float64
	ATR       float64
	LastPrice float64
	RSIOK     bool
	VWAPOK    bool
	ATROK     bool
}

// MomentumReady reports whether both momentum inputs are available.
func (s Snapshot) MomentumReady() bool { return s.RSIOK && s.VWAPOK }

// Compute evaluates RSI, session VWAP and ATR for one engine's settings over
// the same candle snapshot.
func Compute(candles []domain.Candle, cfg *domain.EngineConfig, now time.Time) Snapshot {
	var s Snapshot
	s.LastPrice = domain.LastClose(candles)
	s.RSI, s.RSIOK = RSI(Closes(candles), cfg.RSIPeriod, cfg.RSISmoothing)
	s.VWAP, s.VWAPOK = VWAP(candles, cfg.VWAPPrice, SessionAnchor(now))
	s.ATR, s.ATROK = ATR(candles, cfg.ATRPeriod)
	return s
}
