package risk

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func TestDrawdown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                  string
		peak, equity, lossCap float64
		want                  float64
	}{
		{"at peak", 100, 100, 0, 0},
		{"twenty pct", 100, 80, 0, 0.2},
		{"above peak clamps", 100, 120, 0, 0},
		{"no peak uses equity", 0, 50, 0, 0},
		{"no peak no equity uses loss cap", 0, 0, 100, 1},
		{"loss cap base partial", 0, -50, 100, 1.25},
		{"nothing usable", 0, 0, 0, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, Drawdown(tt.peak, tt.equity, tt.lossCap), 1e-12)
		})
	}
}

func TestEvaluatePeakIsRunningMax(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxExposurePerSymbol = 1 // every check fails on exposure
	st := NewState()

	seen := 0.0
	for _, eq := range []float64{100, 250, 240, 900, 10, 901} {
		v := evaluate(cfg, &st, "BTCUSDT", 50, t0, eq)
		seen = max(seen, eq)
		assert.False(t, v.Allowed)
		assert.Equal(t, seen, st.EquityPeak, "equity %v", eq)
	}
}

func TestEvaluatePriority(t *testing.T) {
	t.Parallel()

	cfg := Config{
		DailyLossCap:         100,
		MaxExposurePerSymbol: 200,
		CooldownSeconds:      30,
		MaxDrawdownStop:      0.2,
		Mode:                 ModePaper,
	}

	base := func() State {
		st := NewState()
		st.EquityPeak = 10000
		st.SymbolExposure["BTCUSDT"] = 150
		return st
	}

	tests := []struct {
		name     string
		mutate   func(*State)
		notional float64
		equity   float64
		want     Reason
	}{
		{"drawdown beats exposure", nil, 60, 7000, ReasonDrawdownStop},
		{"drawdown beats daily cap", func(s *State) { s.RealizedPnL = -500 }, 10, 7000, ReasonDrawdownStop},
		{"drawdown at exact stop", nil, 10, 8000, ReasonDrawdownStop},
		{"daily cap beats exposure", func(s *State) { s.RealizedPnL = -100 }, 60, 10000, ReasonDailyCap},
		{"exposure beats cooldown", func(s *State) { s.LastOrderAt["BTCUSDT"] = t0 }, 60, 10000, ReasonExposureLimit},
		{"cooldown", func(s *State) { s.LastOrderAt["BTCUSDT"] = t0.Add(-10 * time.Second) }, 10, 10000, ReasonCooldown},
		{"ok", nil, 50, 10000, ReasonOK},
		{"negative notional uses abs", nil, -60, 10000, ReasonExposureLimit},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := base()
			if tt.mutate != nil {
				tt.mutate(&st)
			}
			v := evaluate(cfg, &st, "BTCUSDT", tt.notional, t0, tt.equity)
			assert.Equal(t, tt.want, v.Reason)
			assert.Equal(t, tt.want == ReasonOK, v.Allowed)
		})
	}
}

func TestEvaluateDailyCapAnySymbol(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.DailyLossCap = 100
	st := NewState()
	st.RealizedPnL = -100.01

	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "DOGEUSDT"} {
		for _, n := range []float64{0, 1, 49.99} {
			v := evaluate(cfg, &st, sym, n, t0, 10000)
			assert.Equal(t, ReasonDailyCap, v.Reason, "%s %v", sym, n)
		}
	}
}

func TestEvaluateExposureBoundary(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxExposurePerSymbol = 200
	st := NewState()
	st.SymbolExposure["ETHUSDT"] = 150

	v := evaluate(cfg, &st, "ETHUSDT", 60, t0, 10000)
	assert.Equal(t, ReasonExposureLimit, v.Reason)

	v = evaluate(cfg, &st, "ETHUSDT", 50, t0, 10000)
	assert.True(t, v.Allowed)
	assert.Equal(t, 150.0, st.SymbolExposure["ETHUSDT"])
}

func TestEvaluateCooldownBoundary(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	st := NewState()
	st.commit("SOLUSDT", 10, t0)

	v := evaluate(cfg, &st, "SOLUSDT", 10, t0.Add(29*time.Second), 10000)
	require.Equal(t, ReasonCooldown, v.Reason)
	assert.Equal(t, time.Second, v.Remaining)
	assert.Equal(t, 1, v.RemainingSeconds())

	v = evaluate(cfg, &st, "SOLUSDT", 10, t0.Add(30*time.Second), 10000)
	assert.True(t, v.Allowed)

	// other symbols have their own clock
	v = evaluate(cfg, &st, "BTCUSDT", 10, t0, 10000)
	assert.True(t, v.Allowed)
}

func TestEvaluateZeroThresholdsDisableChecks(t *testing.T) {
	t.Parallel()

	cfg := Config{Mode: ModePaper}
	st := NewState()
	st.EquityPeak = 1000
	st.RealizedPnL = -1e9
	st.SymbolExposure["BTCUSDT"] = 1e9
	st.LastOrderAt["BTCUSDT"] = t0

	v := evaluate(cfg, &st, "BTCUSDT", 1e6, t0, 1)
	assert.True(t, v.Allowed)
	assert.Equal(t, ReasonOK, v.Reason)
}

func TestEvaluateGarbageInput(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	st := NewState()
	st.EquityPeak = 500

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		v := evaluate(cfg, &st, "BTCUSDT", bad, t0, 500)
		assert.True(t, v.Allowed)
		assert.Zero(t, st.SymbolExposure["BTCUSDT"])
	}

	// NaN equity counts as 0, which is a full drawdown from 500
	v := evaluate(cfg, &st, "BTCUSDT", 10, t0, math.NaN())
	assert.Equal(t, ReasonDrawdownStop, v.Reason)
	assert.Equal(t, 500.0, st.EquityPeak)
}

func TestVerdictErr(t *testing.T) {
	t.Parallel()

	ok := Verdict{Allowed: true, Reason: ReasonOK}
	assert.NoError(t, ok.Err("BTCUSDT"))

	cd := Verdict{Reason: ReasonCooldown, Remaining: 1400 * time.Millisecond}
	err := cd.Err("BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)

	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonCooldown, rej.Code)
	assert.Equal(t, "cooldown active, retry in 1s", rej.Hint)
	assert.Equal(t, "BTCUSDT COOLDOWN: cooldown active, retry in 1s", err.Error())
}

func TestStateMutations(t *testing.T) {
	t.Parallel()

	st := NewState()
	st.EquityPeak = 1200
	st.commit("BTCUSDT", -40, t0)
	st.commit("BTCUSDT", 60, t0.Add(time.Minute))
	assert.Equal(t, 100.0, st.SymbolExposure["BTCUSDT"])
	assert.Equal(t, t0.Add(time.Minute), st.LastOrderAt["BTCUSDT"])

	for range 3 {
		st.registerFill("BTCUSDT", -5, 70)
		assert.GreaterOrEqual(t, st.SymbolExposure["BTCUSDT"], 0.0)
	}
	assert.Zero(t, st.SymbolExposure["BTCUSDT"])
	assert.Equal(t, -15.0, st.RealizedPnL)

	st.SymbolExposure["ETHUSDT"] = 25
	st.resetDaily()
	assert.Zero(t, st.RealizedPnL)
	assert.Empty(t, st.LastOrderAt)
	assert.Equal(t, 25.0, st.SymbolExposure["ETHUSDT"])
	assert.Equal(t, 1200.0, st.EquityPeak)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, st.Symbols())
	assert.Equal(t, 25.0, st.TotalExposure())
}

func TestStateCloneIsDeep(t *testing.T) {
	t.Parallel()

	st := NewState()
	st.commit("BTCUSDT", 10, t0)
	cp := st.Clone()
	cp.SymbolExposure["BTCUSDT"] = 999
	cp.LastOrderAt["ETHUSDT"] = t0

	assert.Equal(t, 10.0, st.SymbolExposure["BTCUSDT"])
	assert.NotContains(t, st.LastOrderAt, "ETHUSDT")
}
