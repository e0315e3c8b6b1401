// Package strategy maps a fired cluster signal to a trade intent.
package strategy

import (
	"cluster_go/internal/domain"
	"cluster_go/internal/indicator"
)

// Decision is the outcome of the direction unit for one signal.
type Decision struct {
	Side   domain.Side
	Mode   domain.TradeMode
	Reason string
}

// Decide maps the cluster side to a trade side.
//
// In hybrid mode a sell cluster is followed (momentum) only when RSI shows
// overbought and price stretches above the VWAP band; a buy cluster is
// followed only when RSI shows oversold and price stretches below the band.
// Everything else, including any unavailable indicator, fades the crowd
// (inverse). With hybrid_any_signal set, either condition alone confirms.
func Decide(clusterSide domain.Side, snap indicator.Snapshot, cfg *domain.EngineConfig) Decision {
	switch cfg.DirectionMode {
	case domain.DirectionMomentum:
		return Decision{Side: clusterSide, Mode: domain.ModeMomentum, Reason: "configured_momentum"}
	case domain.DirectionInverse:
		return Decision{Side: clusterSide.Opposite(), Mode: domain.ModeInverse, Reason: "configured_inverse"}
	}

	if !snap.MomentumReady() {
		return Decision{Side: clusterSide.Opposite(), Mode: domain.ModeInverse, Reason: "indicators_unavailable"}
	}

	var rsiHot, priceStretched bool
	if clusterSide == domain.SideSell {
		rsiHot = snap.RSI > cfg.RSIOverbought
		priceStretched = snap.LastPrice > snap.VWAP*(1+cfg.VWAPBandPct)
	} else {
		rsiHot = snap.RSI < cfg.RSIOversold
		priceStretched = snap.LastPrice < snap.VWAP*(1-cfg.VWAPBandPct)
	}

	confirmed := rsiHot && priceStretched
	if cfg.HybridAnySignal {
		confirmed = rsiHot || priceStretched
	}
	if confirmed {
		return Decision{Side: clusterSide, Mode: domain.ModeMomentum, Reason: "momentum_confirmed"}
	}
	return Decision{Side: clusterSide.Opposite(), Mode: domain.ModeInverse, Reason: "momentum_rejected"}
}
