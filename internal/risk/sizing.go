package risk

import "math"

// DynamicPositionSize sizes a position from the ATR-implied stop distance:
// size = (balance * riskPct) / (ATR * slATRMult), capped at maxPositionPct
// of leveraged balance. Returns 0 if atr or price is non-positive.
func DynamicPositionSize(balance, atr, price, riskPct, slATRMult, maxPositionPct float64, leverage int) float64 {
	if atr <= 0 || price <= 0 {
		return 0
	}
	riskAmount := balance * riskPct
	stopDistance := atr * slATRMult
	if stopDistance <= 0 {
		return 0
	}
	rawQty := riskAmount / stopDistance
	maxQty := (balance * maxPositionPct * float64(leverage)) / price
	qty := math.Min(rawQty, maxQty)
	return roundTo(qty, 3)
}

// KellyPositionSize sizes a position's risk budget using fractional Kelly:
// f* = (p*b - q) / b, where p is win rate, q = 1-p, b = avgWin/avgLoss.
// `fraction` scales Kelly down for safety (e.g. 0.25 for quarter-Kelly);
// the resulting risk amount is further capped at maxRiskPct of balance.
// Returns a risk budget in quote currency, not a position size in units —
// callers still need to divide by stop distance to get quantity.
func KellyPositionSize(balance, winRate, avgWin, avgLoss, fraction, maxRiskPct float64) float64 {
	if avgLoss <= 0 || winRate <= 0 {
		return 0
	}
	b := avgWin / avgLoss
	q := 1.0 - winRate
	kellyF := (winRate*b - q) / b
	kellyF = math.Max(0, math.Min(1, kellyF)) * fraction
	riskAmount := balance * math.Min(kellyF, maxRiskPct)
	return riskAmount
}

func roundTo(v float64, decimals int) float64 {
	mult := math.Pow(10, float64(decimals))
	return math.Round(v*mult) / mult
}
