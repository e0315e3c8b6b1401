// Package indicator holds the pure candle-series math used by the decision
// and position-management paths. All functions treat the input as ascending
// by time, newest bar last, and report availability explicitly instead of
// returning NaN.
package indicator

import (
	"time"

	"cluster_go/internal/domain"
)

// Closes extracts the close series from candles.
func Closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// RSI computes the relative strength index of the close series. Wilder
// smoothing seeds with the simple average of the first period deltas and
// recurses over the rest; simple smoothing averages only the last period
// deltas. Returns ok=false when fewer than period+1 closes are available.
func RSI(closes []float64, period int, smoothing domain.RSISmoothing) (float64, bool) {
	if period <= 1 || len(closes) < period+1 {
		return 0, false
	}
	if smoothing == domain.RSISimple {
		return rsiSimple(closes, period)
	}
	return rsiWilder(closes, period)
}

func rsiWilder(closes []float64, period int) (float64, bool) {
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	return rsiFromAverages(avgGain, avgLoss), true
}

func rsiSimple(closes []float64, period int) (float64, bool) {
	var gains, losses float64
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	return rsiFromAverages(gains/float64(period), losses/float64(period)), true
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ATR computes the average true range over the last period bars. Needs
// period+1 candles so every bar has a previous close.
func ATR(candles []domain.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	var sum float64
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		sum += trueRange(candles[i], candles[i-1].Close)
	}
	return sum / float64(period), true
}

func trueRange(c domain.Candle, prevClose float64) float64 {
	tr := c.High - c.Low
	if d := abs(c.High - prevClose); d > tr {
		tr = d
	}
	if d := abs(c.Low - prevClose); d > tr {
		tr = d
	}
	return tr
}

// VWAP computes the volume-weighted average price of all candles at or after
// anchor. Returns ok=false when no bar qualifies or total volume is zero.
func VWAP(candles []domain.Candle, mode domain.VWAPPrice, anchor time.Time) (float64, bool) {
	var pv, vol float64
	for _, c := range candles {
		if c.OpenTime.Before(anchor) {
			continue
		}
		p := c.TypicalPrice()
		if mode == domain.VWAPClose {
			p = c.Close
		}
		pv += p * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return 0, false
	}
	return pv / vol, true
}

// SessionAnchor returns the UTC midnight preceding t, the VWAP session start.
func SessionAnchor(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// HighestHigh returns the maximum high of the last lookback candles.
func HighestHigh(candles []domain.Candle, lookback int) (float64, bool) {
	if lookback <= 0 || len(candles) < lookback {
		return 0, false
	}
	hh := candles[len(candles)-lookback].High
	for _, c := range candles[len(candles)-lookback:] {
		if c.High > hh {
			hh = c.High
		}
	}
	return hh, true
}

// LowestLow returns the minimum low of the last lookback candles.
func LowestLow(candles []domain.Candle, lookback int) (float64, bool) {
	if lookback <= 0 || len(candles) < lookback {
		return 0, false
	}
	ll := candles[len(candles)-lookback].Low
	for _, c := range candles[len(candles)-lookback:] {
		if c.Low < ll {
			ll = c.Low
		}
	}
	return ll, true
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
