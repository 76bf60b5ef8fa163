// Package indicators implements the pure numerical kernels the Signal Engine
// runs over fixed-size windows: EMA, RSI, ATR, Bollinger Bands, squeeze
// detection, VWAP, RVOL, order-book imbalance, and ATR-based trailing stops.
//
// Every function here is a pure function over a flat slice — no hidden
// state, no allocation once the caller's buffers are sized, deterministic on
// identical input. Where there isn't enough history to compute a real value,
// each kernel returns a defined sentinel instead of NaN or panicking.
package indicators

import "math"

// EMA computes the exponential moving average with smoothing constant
// k = 2/(period+1). If there are fewer than period samples, the last price
// is returned unchanged; an empty slice returns 0.
func EMA(prices []float64, period int) float64 {
	n := len(prices)
	if n == 0 {
		return 0
	}
	if n < period {
		return prices[n-1]
	}
	k := 2.0 / (float64(period) + 1.0)
	result := prices[0]
	for i := 1; i < n; i++ {
		result = prices[i]*k + result*(1.0-k)
	}
	return result
}

// RSI computes Wilder's relative-strength index. If fewer than period+1
// samples are available, the neutral sentinel 50 is returned. If the
// average loss is exactly zero, 100 is returned (no downside at all).
func RSI(prices []float64, period int) float64 {
	n := len(prices)
	if n < period+1 {
		return 50.0
	}
	start := n - period - 1
	var avgGain, avgLoss float64

	delta := prices[start+1] - prices[start]
	if delta > 0 {
		avgGain = delta
	} else {
		avgLoss = -delta
	}

	for i := start + 2; i < n; i++ {
		delta = prices[i] - prices[i-1]
		if delta > 0 {
			avgGain = (avgGain*float64(period-1) + delta) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + (-delta)) / float64(period)
		}
	}

	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// trueRange is the single-bar true range used by ATR.
func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// ATR computes Wilder's average true range. With fewer than two bars it
// returns high[0]-low[0] (or 0 if empty). With fewer than period+1 bars it
// falls back to the simple mean of the true ranges available. Otherwise the
// seed is the simple mean of the first `period` true ranges, Wilder-smoothed
// thereafter.
func ATR(highs, lows, closes []float64, period int) float64 {
	n := len(highs)
	if n < 2 {
		if n > 0 {
			return highs[0] - lows[0]
		}
		return 0
	}
	if n < period+1 {
		var total float64
		for i := 1; i < n; i++ {
			total += trueRange(highs[i], lows[i], closes[i-1])
		}
		denom := n - 1
		if denom < 1 {
			denom = 1
		}
		return total / float64(denom)
	}

	var atr float64
	for i := 1; i <= period; i++ {
		atr += trueRange(highs[i], lows[i], closes[i-1])
	}
	atr /= float64(period)

	for i := period + 1; i < n; i++ {
		tr := trueRange(highs[i], lows[i], closes[i-1])
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

// Bollinger returns (upper, middle, lower) bands over the last `period`
// closes, with middle = SMA and band width = numStd * sample standard
// deviation (n-1 denominator). With fewer than period samples, all three
// values collapse to the last close (or 0 if empty).
func Bollinger(closes []float64, period int, numStd float64) (upper, middle, lower float64) {
	n := len(closes)
	if n < period {
		v := 0.0
		if n > 0 {
			v = closes[n-1]
		}
		return v, v, v
	}
	window := closes[n-period:]
	var total float64
	for _, c := range window {
		total += c
	}
	middle = total / float64(period)

	var sqSum float64
	for _, c := range window {
		diff := c - middle
		sqSum += diff * diff
	}
	std := math.Sqrt(sqSum / float64(period-1))

	return middle + numStd*std, middle, middle - numStd*std
}

// Squeeze reports whether the current Bollinger bandwidth sits in the bottom
// 15% of its distribution over the last `lookback` bar-offsets. Returns
// false if there isn't enough history to evaluate the full lookback window.
func Squeeze(closes []float64, bbPeriod int, bbStd float64, lookback int) bool {
	n := len(closes)
	if n < bbPeriod+lookback {
		return false
	}

	minBW := math.Inf(1)
	maxBW := math.Inf(-1)
	var currentBW float64

	for offset := 0; offset < lookback; offset++ {
		end := n - offset
		start := end - bbPeriod
		if start < 0 {
			break
		}
		window := closes[start:end]
		var total float64
		for _, c := range window {
			total += c
		}
		mid := total / float64(bbPeriod)
		if mid <= 0 {
			continue
		}
		var sqSum float64
		for _, c := range window {
			diff := c - mid
			sqSum += diff * diff
		}
		std := math.Sqrt(sqSum / float64(bbPeriod-1))
		bw := (2.0 * bbStd * std) / mid
		if offset == 0 {
			currentBW = bw
		}
		if bw < minBW {
			minBW = bw
		}
		if bw > maxBW {
			maxBW = bw
		}
	}

	bwRange := maxBW - minBW
	if bwRange <= 0 {
		return false
	}
	percentile := (currentBW - minBW) / bwRange
	return percentile < 0.15
}

// VWAP computes the volume-weighted average price over the last `period`
// bars. If total volume is non-positive or there isn't enough history, the
// last close is returned instead.
func VWAP(closes, volumes []float64, period int) float64 {
	n := len(closes)
	if n < period {
		if n > 0 {
			return closes[n-1]
		}
		return 0
	}
	var totalPV, totalV float64
	for i := n - period; i < n; i++ {
		totalPV += closes[i] * volumes[i]
		totalV += volumes[i]
	}
	if totalV <= 0 {
		return closes[n-1]
	}
	return totalPV / totalV
}

// RVOL is the current bar's volume relative to the mean of the preceding
// `period` bars. Returns 0 if there isn't enough history or the trailing
// average is non-positive.
func RVOL(volumes []float64, period int) float64 {
	n := len(volumes)
	if n < period+1 {
		return 0
	}
	current := volumes[n-1]
	var total float64
	for i := n - period - 1; i < n-1; i++ {
		total += volumes[i]
	}
	avg := total / float64(period)
	if avg <= 0 {
		return 0
	}
	return current / avg
}

// OBI is the order-book imbalance at top of book: (bid-ask)/(bid+ask) in
// [-1, +1]. Returns 0 if both sides are empty.
func OBI(bidQty, askQty float64) float64 {
	total := bidQty + askQty
	if total == 0 {
		return 0
	}
	return (bidQty - askQty) / total
}

// TrailingStop computes a volatility-based trailing stop using real-time
// ATR. It returns (active, newStop); newStop should replace prevStop only
// when active is true. sideIsLong selects the long or short formula.
func TrailingStop(sideIsLong bool, highest, lowest, currentATR, entryPrice, activateATRMult, trailATRMult, prevStop float64) (bool, float64) {
	if sideIsLong {
		unrealized := highest - entryPrice
		if unrealized >= currentATR*activateATRMult {
			newStop := highest - currentATR*trailATRMult
			return true, math.Max(newStop, prevStop)
		}
		return false, prevStop
	}

	unrealized := entryPrice - lowest
	if unrealized >= currentATR*activateATRMult {
		newStop := lowest + currentATR*trailATRMult
		if prevStop <= 0 {
			return true, newStop
		}
		return true, math.Min(newStop, prevStop)
	}
	return false, prevStop
}
