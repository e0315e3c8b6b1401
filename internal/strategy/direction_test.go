package strategy

import (
	"testing"

	"cluster_go/internal/domain"
	"cluster_go/internal/indicator"
)

func hybridConfig() *domain.EngineConfig {
	return &domain.EngineConfig{
		DirectionMode: domain.DirectionHybrid,
		RSIOverbought: 70,
		RSIOversold:   30,
		VWAPBandPct:   0.001,
	}
}

func snap(rsi, vwap, price float64) indicator.Snapshot {
	return indicator.Snapshot{
		RSI: rsi, VWAP: vwap, LastPrice: price,
		RSIOK: true, VWAPOK: true, ATROK: true,
	}
}

func TestDecide_Hybrid(t *testing.T) {
	t.Run("sell cluster with hot momentum is followed", func(t *testing.T) {
		// RSI 75 > 70 and 2310 > 2305 * 1.001 = 2307.305.
		d := Decide(domain.SideSell, snap(75, 2305, 2310), hybridConfig())
		if d.Side != domain.SideSell || d.Mode != domain.ModeMomentum {
			t.Errorf("got %+v, want momentum sell", d)
		}
	})

	t.Run("sell cluster with neutral rsi is faded", func(t *testing.T) {
		d := Decide(domain.SideSell, snap(55, 2305, 2310), hybridConfig())
		if d.Side != domain.SideBuy || d.Mode != domain.ModeInverse {
			t.Errorf("got %+v, want inverse buy", d)
		}
	})

	t.Run("sell cluster inside vwap band is faded", func(t *testing.T) {
		// RSI hot but price under the band edge.
		d := Decide(domain.SideSell, snap(75, 2305, 2306), hybridConfig())
		if d.Side != domain.SideBuy || d.Mode != domain.ModeInverse {
			t.Errorf("got %+v, want inverse buy", d)
		}
	})

	t.Run("buy cluster with washed-out momentum is followed", func(t *testing.T) {
		d := Decide(domain.SideBuy, snap(25, 2305, 2300), hybridConfig())
		if d.Side != domain.SideBuy || d.Mode != domain.ModeMomentum {
			t.Errorf("got %+v, want momentum buy", d)
		}
	})

	t.Run("buy cluster without confirmation is faded", func(t *testing.T) {
		d := Decide(domain.SideBuy, snap(45, 2305, 2304), hybridConfig())
		if d.Side != domain.SideSell || d.Mode != domain.ModeInverse {
			t.Errorf("got %+v, want inverse sell", d)
		}
	})

	t.Run("unavailable indicators force inverse", func(t *testing.T) {
		s := snap(75, 2305, 2310)
		s.VWAPOK = false
		d := Decide(domain.SideSell, s, hybridConfig())
		if d.Side != domain.SideBuy || d.Mode != domain.ModeInverse {
			t.Errorf("got %+v, want inverse buy when vwap missing", d)
		}
		if d.Reason != "indicators_unavailable" {
			t.Errorf("reason = %q", d.Reason)
		}
	})

	t.Run("any-signal mode confirms on rsi alone", func(t *testing.T) {
		cfg := hybridConfig()
		cfg.HybridAnySignal = true
		d := Decide(domain.SideSell, snap(75, 2305, 2306), cfg)
		if d.Mode != domain.ModeMomentum {
			t.Errorf("got %+v, want momentum with any-signal set", d)
		}
	})
}

func TestDecide_FixedModes(t *testing.T) {
	t.Run("inverse always fades", func(t *testing.T) {
		cfg := hybridConfig()
		cfg.DirectionMode = domain.DirectionInverse
		d := Decide(domain.SideSell, snap(75, 2305, 2310), cfg)
		if d.Side != domain.SideBuy || d.Mode != domain.ModeInverse {
			t.Errorf("got %+v, want inverse buy regardless of indicators", d)
		}
	})

	t.Run("momentum always follows", func(t *testing.T) {
		cfg := hybridConfig()
		cfg.DirectionMode = domain.DirectionMomentum
		d := Decide(domain.SideBuy, indicator.Snapshot{}, cfg)
		if d.Side != domain.SideBuy || d.Mode != domain.ModeMomentum {
			t.Errorf("got %+v, want momentum buy even without indicators", d)
		}
	})
}
