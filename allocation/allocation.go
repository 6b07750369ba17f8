// Package allocation sizes a fixed universe of instruments with
// inverse-volatility weights bounded by the account's capital limits.
// Everything here is a pure function of its inputs.
package allocation

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Epsilon floors volatility so a zero estimate cannot divide by zero.
const Epsilon = 1e-6

// Instrument is one tradable symbol with its volatility estimate.
type Instrument struct {
	Symbol     string  `json:"symbol" yaml:"symbol"`
	Volatility float64 `json:"volatility" yaml:"volatility"`
}

// Budget carries the capital limits from the risk config.
type Budget struct {
	TotalCapital     float64 `json:"total_capital"`
	DailyInvestLimit float64 `json:"daily_invest_limit"`
	SingleTradeLimit float64 `json:"single_trade_limit"`
}

// Limits returns the effective daily and single-trade limits:
// daily = min(daily_invest_limit, total_capital) and
// single = min(single_trade_limit, daily). Garbage values count as 0.
func (b Budget) Limits() (daily, single float64) {
	daily = min(clean(b.DailyInvestLimit), clean(b.TotalCapital))
	single = min(clean(b.SingleTradeLimit), daily)
	return daily, single
}

// Target is the allocation for one instrument.
type Target struct {
	Symbol     string  `json:"symbol"`
	Volatility float64 `json:"volatility"`
	Weight     float64 `json:"weight"`
	Notional   float64 `json:"notional"`
}

// Weights returns the normalized inverse-volatility weight of each
// instrument, in universe order. The weights sum to 1.
func Weights(universe []Instrument) []float64 {
	if len(universe) == 0 {
		return nil
	}
	inv := make([]float64, len(universe))
	var sum float64
	for i, in := range universe {
		inv[i] = 1 / floorVol(in.Volatility)
		sum += inv[i]
	}
	if sum == 0 {
		// every estimate was infinite
		for i := range inv {
			inv[i] = 1 / float64(len(inv))
		}
		return inv
	}
	for i := range inv {
		inv[i] /= sum
	}
	return inv
}

// Allocate splits the effective daily limit across universe by inverse
// volatility. Notionals are rounded to cents; any rounding overshoot is
// taken back from the largest targets so the total never exceeds the
// effective daily limit. An empty universe yields an empty allocation.
func Allocate(universe []Instrument, b Budget) []Target {
	if len(universe) == 0 {
		return []Target{}
	}
	daily, _ := b.Limits()
	limit := decimal.NewFromFloat(daily).RoundDown(2)

	weights := Weights(universe)
	amounts := make([]decimal.Decimal, len(universe))
	total := decimal.Zero
	for i, w := range weights {
		amounts[i] = decimal.NewFromFloat(daily * w).Round(2)
		total = total.Add(amounts[i])
	}

	if over := total.Sub(limit); over.IsPositive() {
		trim(amounts, over)
	}

	out := make([]Target, len(universe))
	for i, in := range universe {
		out[i] = Target{
			Symbol:     in.Symbol,
			Volatility: in.Volatility,
			Weight:     weights[i],
			Notional:   amounts[i].InexactFloat64(),
		}
	}
	return out
}

// trim removes over from amounts, largest first, never going below zero.
func trim(amounts []decimal.Decimal, over decimal.Decimal) {
	idx := make([]int, len(amounts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return amounts[idx[a]].GreaterThan(amounts[idx[b]])
	})
	for _, i := range idx {
		if !over.IsPositive() {
			return
		}
		cut := decimal.Min(over, amounts[i])
		amounts[i] = amounts[i].Sub(cut)
		over = over.Sub(cut)
	}
}

// Total sums the target notionals.
func Total(targets []Target) float64 {
	sum := decimal.Zero
	for _, t := range targets {
		sum = sum.Add(decimal.NewFromFloat(t.Notional))
	}
	return sum.InexactFloat64()
}

// ScaleVolatility returns a copy of universe with every volatility
// multiplied by m. A non-positive or non-finite multiplier is treated as 1.
func ScaleVolatility(universe []Instrument, m float64) []Instrument {
	if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		m = 1
	}
	out := make([]Instrument, len(universe))
	for i, in := range universe {
		out[i] = Instrument{Symbol: in.Symbol, Volatility: in.Volatility * m}
	}
	return out
}

// Plan is the read-only allocation preview handed to operators.
type Plan struct {
	TotalCapital      float64       `json:"total_capital"`
	DailyLimit        float64       `json:"daily_limit"`
	SingleTradeLimit  float64       `json:"single_trade_limit"`
	Targets           []Target      `json:"allocations"`
	SuggestedInterval time.Duration `json:"-"`
	SuggestedSeconds  int           `json:"suggested_interval_s"`
}

// NewPlan allocates universe (volatility already scaled) under b.
func NewPlan(universe []Instrument, b Budget, interval time.Duration) Plan {
	daily, single := b.Limits()
	return Plan{
		TotalCapital:      clean(b.TotalCapital),
		DailyLimit:        daily,
		SingleTradeLimit:  single,
		Targets:           Allocate(universe, b),
		SuggestedInterval: interval,
		SuggestedSeconds:  int(math.Round(interval.Seconds())),
	}
}

func floorVol(v float64) float64 {
	if math.IsNaN(v) || v < Epsilon {
		return Epsilon
	}
	return v
}

func clean(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
		return 0
	}
	return x
}
