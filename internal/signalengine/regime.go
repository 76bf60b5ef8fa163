package signalengine

import (
	"sort"

	"github.com/nvega-systems/perp-scalper/pkg/types"
)

// DetectRegime classifies the market into CHOPPY/TRENDING/VOLATILE from the
// ATR's percentile rank within its own recent history plus how converged the
// three EMAs are relative to price. With fewer than 50 ATR samples there
// isn't enough history to rank against, so it defaults to TRENDING (normal
// trading, no halt).
func DetectRegime(atrHistory []float64, lastClose, emaFast, emaMedium, emaTrend float64) types.MarketRegime {
	if len(atrHistory) < 50 {
		return types.RegimeTrending
	}

	window := atrHistory
	if len(window) > 100 {
		window = window[len(window)-100:]
	}
	currentATR := atrHistory[len(atrHistory)-1]

	sorted := append([]float64(nil), window...)
	sort.Float64s(sorted)
	rank := sort.SearchFloat64s(sorted, currentATR)
	percentile := float64(rank) / float64(len(sorted))

	price := lastClose
	if price <= 0 {
		price = 1.0
	}
	maxEMA := maxOf([]float64{emaFast, emaMedium, emaTrend})
	minEMA := minOf([]float64{emaFast, emaMedium, emaTrend})
	emaRangePct := (maxEMA - minEMA) / price

	if percentile < 0.25 && emaRangePct < 0.0005 {
		return types.RegimeChoppy
	}
	if percentile > 0.90 {
		return types.RegimeVolatile
	}
	return types.RegimeTrending
}
