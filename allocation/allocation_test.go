package allocation

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var majors = []Instrument{
	{Symbol: "BTCUSDT", Volatility: 0.6},
	{Symbol: "ETHUSDT", Volatility: 0.7},
	{Symbol: "SOLUSDT", Volatility: 0.9},
}

func TestWeightsInverseVol(t *testing.T) {
	t.Parallel()

	w := Weights(majors)
	require.Len(t, w, 3)

	var sum float64
	for _, x := range w {
		sum += x
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, w[0], w[1])
	assert.Greater(t, w[1], w[2])
	assert.InDelta(t, 0.39622641509433965, w[0], 1e-12)
}

func TestWeightsEdgeCases(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Weights(nil))

	// zero and negative volatility are floored at Epsilon and dominate
	w := Weights([]Instrument{{"A", 0}, {"B", -1}, {"C", 1}})
	assert.InDelta(t, 0.5, w[0], 1e-6)
	assert.InDelta(t, 0.5, w[1], 1e-6)

	w = Weights([]Instrument{{"A", math.Inf(1)}, {"B", math.Inf(1)}})
	assert.Equal(t, []float64{0.5, 0.5}, w)
}

func TestAllocateExample(t *testing.T) {
	t.Parallel()

	got := Allocate(majors, Budget{TotalCapital: 10000, DailyInvestLimit: 500, SingleTradeLimit: 50})
	require.Len(t, got, 3)

	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, 198.11, got[0].Notional)
	assert.Equal(t, 169.81, got[1].Notional)
	assert.Equal(t, 132.08, got[2].Notional)
	assert.Equal(t, 500.0, Total(got))
}

func TestAllocateTrimsRoundingOvershoot(t *testing.T) {
	t.Parallel()

	universe := []Instrument{{"A", 0.3}, {"B", 0.5}, {"C", 0.7}, {"D", 1.1}, {"E", 2.0}}
	got := Allocate(universe, Budget{TotalCapital: 1e6, DailyInvestLimit: 333.33})

	// unrounded sum would be 333.34; the cent comes off the largest
	assert.Equal(t, 135.97, got[0].Notional)
	assert.Equal(t, 81.59, got[1].Notional)
	assert.Equal(t, 333.33, Total(got))
}

func TestAllocateClampsToCapital(t *testing.T) {
	t.Parallel()

	b := Budget{TotalCapital: 90, DailyInvestLimit: 500, SingleTradeLimit: 200}
	daily, single := b.Limits()
	assert.Equal(t, 90.0, daily)
	assert.Equal(t, 90.0, single)
	assert.LessOrEqual(t, Total(Allocate(majors, b)), 90.0)
}

func TestAllocateEmptyAndZero(t *testing.T) {
	t.Parallel()

	got := Allocate(nil, Budget{TotalCapital: 100, DailyInvestLimit: 100})
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got = Allocate(majors, Budget{TotalCapital: math.NaN(), DailyInvestLimit: 100})
	for _, tg := range got {
		assert.Zero(t, tg.Notional)
	}
}

func TestAllocateNeverExceedsDailyLimit(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for i := range 500 {
		n := 1 + rng.Intn(12)
		universe := make([]Instrument, n)
		for j := range universe {
			universe[j] = Instrument{Symbol: string(rune('A' + j)), Volatility: rng.Float64() * 3}
		}
		b := Budget{
			TotalCapital:     rng.Float64() * 20000,
			DailyInvestLimit: math.Round(rng.Float64()*100000) / 100,
		}
		daily, _ := b.Limits()

		got := Allocate(universe, b)
		require.Len(t, got, n)
		assert.LessOrEqual(t, Total(got), daily+1e-9, "case %d", i)
		for _, tg := range got {
			assert.GreaterOrEqual(t, tg.Notional, 0.0)
		}
	}
}

func TestAllocateIsDeterministic(t *testing.T) {
	t.Parallel()

	b := Budget{TotalCapital: 10000, DailyInvestLimit: 777.77}
	assert.Equal(t, Allocate(majors, b), Allocate(majors, b))
}

func TestScaleVolatility(t *testing.T) {
	t.Parallel()

	scaled := ScaleVolatility(majors, 2)
	assert.Equal(t, 1.2, scaled[0].Volatility)
	assert.Equal(t, 0.6, majors[0].Volatility, "input must not change")

	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		assert.Equal(t, majors, ScaleVolatility(majors, bad))
	}

	// a uniform multiplier leaves the weights unchanged
	assert.InDeltaSlice(t, Weights(majors), Weights(scaled), 1e-12)
}

func TestNewPlan(t *testing.T) {
	t.Parallel()

	p := NewPlan(majors, Budget{TotalCapital: 10000, DailyInvestLimit: 500, SingleTradeLimit: 50}, 90*time.Second)
	assert.Equal(t, 10000.0, p.TotalCapital)
	assert.Equal(t, 500.0, p.DailyLimit)
	assert.Equal(t, 50.0, p.SingleTradeLimit)
	assert.Equal(t, 90, p.SuggestedSeconds)
	assert.Len(t, p.Targets, 3)
}
