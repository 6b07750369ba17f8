package orchestrator

import (
	"math"
	"time"

	"github.com/rustyeddy/riskguard/allocation"
	"github.com/rustyeddy/riskguard/risk"
)

// MinInterval floors the suggested time between cycles.
const MinInterval = 30 * time.Second

// Order-shape constants.
const (
	limitOrderVolatility = 1.5

	baseStopLossPct   = 0.01
	baseTakeProfitPct = 0.02
)

// Signals is the exogenous context for one cycle. All fields are optional.
type Signals struct {
	// Volatility is a market-wide multiplier applied to every
	// instrument's estimate; 1 is normal. Non-positive means 1.
	Volatility float64 `json:"volatility"`

	// Sentiment in [-1, 1]; its sign sets the side of every proposal.
	Sentiment float64 `json:"sentiment"`

	// Confidence is the historical win rate in [0, 1].
	Confidence float64 `json:"confidence"`

	// Equity is the account's current equity. Non-positive means
	// total capital plus realized pnl.
	Equity float64 `json:"equity"`

	// Prices are optional reference prices for limit orders.
	Prices map[string]float64 `json:"prices,omitempty"`
}

func (s Signals) volatility() float64 {
	if s.Volatility <= 0 || !isFinite(s.Volatility) {
		return 1
	}
	return s.Volatility
}

func (s Signals) confidence() float64 {
	return clamp(finiteOr(s.Confidence, 0), 0, 1)
}

func (s Signals) sentiment() float64 {
	return finiteOr(s.Sentiment, 0)
}

// Complexity scores how hard a decision is:
//
//	clamp(vol, 0.1, 3) * (1+exposureRatio) * (1+max(drawdown,0))
//	  * max(1-confidence, 0.3) * (1+|sentiment|)
func Complexity(vol, exposureRatio, drawdown, confidence, sentiment float64) float64 {
	return clamp(finiteOr(vol, 0), 0.1, 3.0) *
		(1 + max(finiteOr(exposureRatio, 0), 0)) *
		(1 + max(finiteOr(drawdown, 0), 0)) *
		max(1-finiteOr(confidence, 0), 0.3) *
		(1 + math.Abs(finiteOr(sentiment, 0)))
}

// FrequencyMultiplier stretches or shrinks the base interval: higher
// volatility slows the cadence, negative sentiment speeds it up, and a
// decision budget under 20% triples it.
func FrequencyMultiplier(vol, sentiment, budgetRatio float64) float64 {
	m := clamp(finiteOr(vol, 1), 0.5, 3.0)
	if finiteOr(sentiment, 0) < 0 {
		m *= 0.7
	}
	if finiteOr(budgetRatio, 1) < 0.2 {
		m *= 3
	}
	return m
}

// NextInterval is base scaled by mult, never below MinInterval.
func NextInterval(base time.Duration, mult float64) time.Duration {
	d := time.Duration(float64(base) * finiteOr(mult, 1))
	return max(d, MinInterval)
}

// BuildProposals turns allocation targets into one proposal per
// non-zero target, clamped to the single-trade limit, in target order.
func BuildProposals(targets []allocation.Target, singleLimit float64, sig Signals) []risk.Proposal {
	side := risk.SideBuy
	if sig.sentiment() < 0 {
		side = risk.SideSell
	}
	conf := sig.confidence()
	sl := baseStopLossPct + 0.01*(1-conf)
	tp := baseTakeProfitPct + 0.02*conf

	out := make([]risk.Proposal, 0, len(targets))
	for _, t := range targets {
		n := min(t.Notional, singleLimit)
		if n <= 0 {
			continue
		}
		slPct, tpPct := sl, tp
		p := risk.Proposal{
			Symbol:        t.Symbol,
			Side:          side,
			Notional:      n,
			OrderType:     risk.OrderMarket,
			StopLossPct:   &slPct,
			TakeProfitPct: &tpPct,
		}
		if t.Volatility >= limitOrderVolatility {
			p.OrderType = risk.OrderLimit
			if px, ok := sig.Prices[t.Symbol]; ok && px > 0 {
				p.Price = &px
			}
		}
		out = append(out, p)
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	return max(lo, min(x, hi))
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func finiteOr(x, def float64) float64 {
	if !isFinite(x) {
		return def
	}
	return x
}
