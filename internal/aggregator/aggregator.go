// Package aggregator turns a raw trade tape into fixed-notional volume bars.
package aggregator

import "github.com/nvega-systems/perp-scalper/pkg/types"

// VolumeBarAggregator accumulates trades into a Bar until the accumulated
// notional crosses a threshold, then emits the completed bar and starts a
// fresh one. It is single-owner: callers must not share an instance across
// goroutines without external synchronization.
type VolumeBarAggregator struct {
	thresholdUSD       float64
	current            types.Bar
	accumulatedNotional float64
}

// New builds an aggregator for the given per-bar notional threshold in quote
// currency (e.g. USD).
func New(thresholdUSD float64) *VolumeBarAggregator {
	return &VolumeBarAggregator{thresholdUSD: thresholdUSD}
}

// OnTrade folds one trade into the in-progress bar. It returns the completed
// bar and true once accumulated notional reaches the threshold; otherwise it
// returns the zero Bar and false.
func (a *VolumeBarAggregator) OnTrade(price, qty float64, isBuyerMaker bool, tsMs int64) (types.Bar, bool) {
	notional := price * qty

	if a.current.TickCount == 0 {
		a.current.Open = price
		a.current.High = price
		a.current.Low = price
		a.current.TsStart = tsMs
	}

	if price > a.current.High {
		a.current.High = price
	}
	if price < a.current.Low {
		a.current.Low = price
	}
	a.current.Close = price
	a.current.Volume += qty
	a.current.TickCount++
	a.current.TsEnd = tsMs

	if isBuyerMaker {
		a.current.SellVolume += qty
	} else {
		a.current.BuyVolume += qty
	}

	a.accumulatedNotional += notional

	if a.accumulatedNotional >= a.thresholdUSD {
		completed := a.current
		a.current = types.Bar{}
		a.accumulatedNotional = 0
		return completed, true
	}
	return types.Bar{}, false
}
