package risk

import (
	"fmt"
	"math"
	"time"
)

// Reason is the outcome code of a guard check.
type Reason string

const (
	ReasonOK            Reason = "OK"
	ReasonDrawdownStop  Reason = "DRAWDOWN_STOP"
	ReasonDailyCap      Reason = "DAILY_CAP"
	ReasonExposureLimit Reason = "EXPOSURE_LIMIT"
	ReasonCooldown      Reason = "COOLDOWN"
)

// Reasons lists every reason in check order.
var Reasons = []Reason{ReasonDrawdownStop, ReasonDailyCap, ReasonExposureLimit, ReasonCooldown, ReasonOK}

// Verdict is the result of a guard check. Rejections are values, not errors.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`

	// Remaining is the cooldown left; only set for ReasonCooldown.
	Remaining time.Duration `json:"remaining,omitempty"`

	// Drawdown observed while checking, for display.
	Drawdown float64 `json:"drawdown"`
	Detail   string  `json:"detail,omitempty"`
}

// RemainingSeconds rounds Remaining to whole seconds for display.
func (v Verdict) RemainingSeconds() int {
	return int(math.Round(v.Remaining.Seconds()))
}

// Err converts a rejection into a *RejectionError; nil when allowed.
func (v Verdict) Err(symbol string) error {
	if v.Allowed {
		return nil
	}
	hint := v.Detail
	if v.Reason == ReasonCooldown {
		hint = fmt.Sprintf("cooldown active, retry in %ds", v.RemainingSeconds())
	}
	return &RejectionError{Symbol: symbol, Code: v.Reason, Hint: hint}
}

func reject(r Reason, dd float64, format string, args ...any) Verdict {
	return Verdict{Reason: r, Drawdown: dd, Detail: fmt.Sprintf(format, args...)}
}

// evaluate runs the checks in their fixed priority order; the first
// failing check wins. The equity peak in st is raised before the drawdown
// test and stays raised whatever the verdict. Nothing else in st changes.
func evaluate(cfg Config, st *State, symbol string, notional float64, now time.Time, equity float64) Verdict {
	notional = abs(finite(notional))
	equity = finite(equity)

	if equity > st.EquityPeak {
		st.EquityPeak = equity
	}
	dd := Drawdown(st.EquityPeak, equity, cfg.DailyLossCap)

	if cfg.MaxDrawdownStop > 0 && dd >= cfg.MaxDrawdownStop {
		return reject(ReasonDrawdownStop, dd,
			"drawdown %.2f%% >= stop %.2f%%", 100*dd, 100*cfg.MaxDrawdownStop)
	}

	if cfg.DailyLossCap > 0 && st.RealizedPnL <= -cfg.DailyLossCap {
		return reject(ReasonDailyCap, dd,
			"realized pnl %.2f <= -%.2f", st.RealizedPnL, cfg.DailyLossCap)
	}

	if cfg.MaxExposurePerSymbol > 0 {
		after := st.SymbolExposure[symbol] + notional
		if after > cfg.MaxExposurePerSymbol {
			return reject(ReasonExposureLimit, dd,
				"exposure %.2f would exceed %.2f", after, cfg.MaxExposurePerSymbol)
		}
	}

	if cd := cfg.Cooldown(); cd > 0 {
		if last, ok := st.LastOrderAt[symbol]; ok {
			elapsed := now.Sub(last)
			if elapsed < cd {
				v := reject(ReasonCooldown, dd, "last order %s ago", elapsed.Round(time.Second))
				v.Remaining = cd - elapsed
				return v
			}
		}
	}

	return Verdict{Allowed: true, Reason: ReasonOK, Drawdown: dd}
}
