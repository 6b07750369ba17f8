package risk

import "math"

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// finite maps NaN and ±Inf to 0 so garbage input cannot poison state.
func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// Drawdown is the fractional decline of equity below peak, never negative.
// When peak is not positive the base falls back to equity, then to twice
// the daily loss cap; with no usable base the drawdown is 0.
func Drawdown(peak, equity, dailyLossCap float64) float64 {
	base := peak
	if base <= 0 {
		base = equity
	}
	if base <= 0 {
		base = 2 * dailyLossCap
	}
	if base <= 0 {
		return 0
	}
	return max((base-equity)/base, 0)
}
