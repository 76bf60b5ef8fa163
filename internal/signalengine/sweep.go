package signalengine

import "github.com/nvega-systems/perp-scalper/pkg/types"

// SweepDetector flags failed-breakout / stop-run patterns: price wicks
// through a recent swing level on a volume spike, then closes back inside
// it within the reversal window — an adversarial counter-trend entry.
type SweepDetector struct {
	lookback     int
	volSpikeMult float64
	reversalBars int
}

// NewSweepDetector builds a detector with the given lookback window, volume
// spike multiplier, and reversal-confirmation bar count.
func NewSweepDetector(lookback int, volSpikeMult float64, reversalBars int) *SweepDetector {
	return &SweepDetector{lookback: lookback, volSpikeMult: volSpikeMult, reversalBars: reversalBars}
}

// Detect inspects the tail of highs/lows/closes/volumes (chronological
// order) for a sweep pattern and returns SweepLong, SweepShort, or
// SignalNone. avgVolume is the baseline volume the spike is measured
// against.
func (d *SweepDetector) Detect(highs, lows, closes, volumes []float64, avgVolume float64) types.SignalType {
	n := len(closes)
	needed := d.lookback + d.reversalBars
	if n < needed {
		return types.SignalNone
	}

	swingHigh := maxOf(highs[n-needed : n-d.reversalBars])
	swingLow := minOf(lows[n-needed : n-d.reversalBars])

	sweepHighs := highs[n-d.reversalBars:]
	sweepLows := lows[n-d.reversalBars:]
	sweepCloses := closes[n-d.reversalBars:]
	sweepVols := volumes[n-d.reversalBars:]

	lastClose := sweepCloses[len(sweepCloses)-1]
	maxSweepVol := maxOf(sweepVols)

	if anyAbove(sweepHighs, swingHigh) && lastClose < swingHigh && maxSweepVol > avgVolume*d.volSpikeMult {
		return types.SweepShort
	}
	if anyBelow(sweepLows, swingLow) && lastClose > swingLow && maxSweepVol > avgVolume*d.volSpikeMult {
		return types.SweepLong
	}

	return types.SignalNone
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func anyAbove(xs []float64, threshold float64) bool {
	for _, x := range xs {
		if x > threshold {
			return true
		}
	}
	return false
}

func anyBelow(xs []float64, threshold float64) bool {
	for _, x := range xs {
		if x < threshold {
			return true
		}
	}
	return false
}
