package risk

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Mode is the trading mode orders are routed under.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeReal  Mode = "real"
)

func (m Mode) Valid() bool { return m == ModePaper || m == ModeReal }

// Config is the mutable, versioned set of limits every order is checked
// against. A zero threshold disables its check.
type Config struct {
	// Risk thresholds
	DailyLossCap         float64 `json:"daily_loss_cap" yaml:"daily_loss_cap"`                   // magnitude of realized loss tolerated per day
	MaxExposurePerSymbol float64 `json:"max_exposure_per_symbol" yaml:"max_exposure_per_symbol"` // ceiling on open notional per symbol
	CooldownSeconds      int     `json:"cooldown_seconds" yaml:"cooldown_seconds"`               // min gap between accepted orders per symbol
	MaxDrawdownStop      float64 `json:"max_drawdown_stop" yaml:"max_drawdown_stop"`             // fraction below peak that blocks all orders

	// Capital limits
	TotalCapital     float64 `json:"total_capital" yaml:"total_capital"`
	DailyInvestLimit float64 `json:"daily_invest_limit" yaml:"daily_invest_limit"`
	SingleTradeLimit float64 `json:"single_trade_limit" yaml:"single_trade_limit"`

	Mode Mode `json:"mode" yaml:"mode"`
}

// DefaultConfig is used the first time an account is opened.
func DefaultConfig() Config {
	return Config{
		DailyLossCap:         1000,
		MaxExposurePerSymbol: 3000,
		CooldownSeconds:      30,
		MaxDrawdownStop:      0.2,
		TotalCapital:         10000,
		DailyInvestLimit:     500,
		SingleTradeLimit:     50,
		Mode:                 ModePaper,
	}
}

// Cooldown returns CooldownSeconds as a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c Config) Validate() error {
	nonNeg := []struct {
		field string
		v     float64
	}{
		{"daily_loss_cap", c.DailyLossCap},
		{"max_exposure_per_symbol", c.MaxExposurePerSymbol},
		{"cooldown_seconds", float64(c.CooldownSeconds)},
		{"max_drawdown_stop", c.MaxDrawdownStop},
		{"total_capital", c.TotalCapital},
		{"daily_invest_limit", c.DailyInvestLimit},
		{"single_trade_limit", c.SingleTradeLimit},
	}
	for _, f := range nonNeg {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &ConfigError{Field: f.field, Value: formatFloat(f.v), Reason: "must be a finite number"}
		}
		if f.v < 0 {
			return &ConfigError{Field: f.field, Value: formatFloat(f.v), Reason: "must be non-negative"}
		}
	}
	if c.MaxDrawdownStop > 1 {
		return &ConfigError{Field: "max_drawdown_stop", Value: formatFloat(c.MaxDrawdownStop), Reason: "must be between 0 and 1"}
	}
	if !c.Mode.Valid() {
		return &ConfigError{Field: "mode", Value: string(c.Mode), Reason: "must be 'paper' or 'real'"}
	}
	return nil
}

// ConfigPatch is a partial update. Nil fields are left unchanged.
type ConfigPatch struct {
	DailyLossCap         *float64 `json:"daily_loss_cap,omitempty"`
	MaxExposurePerSymbol *float64 `json:"max_exposure_per_symbol,omitempty"`
	CooldownSeconds      *int     `json:"cooldown_seconds,omitempty"`
	MaxDrawdownStop      *float64 `json:"max_drawdown_stop,omitempty"`
	TotalCapital         *float64 `json:"total_capital,omitempty"`
	DailyInvestLimit     *float64 `json:"daily_invest_limit,omitempty"`
	SingleTradeLimit     *float64 `json:"single_trade_limit,omitempty"`
	Mode                 *Mode    `json:"mode,omitempty"`
}

// ParsePatch builds a patch from string key/value pairs as they arrive
// from the CLI or an HTTP form. Keys use the JSON field names.
func ParsePatch(values map[string]string) (ConfigPatch, error) {
	var p ConfigPatch

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		raw := strings.TrimSpace(values[k])
		field := strings.ToLower(strings.TrimSpace(k))

		switch field {
		case "mode":
			m := Mode(strings.ToLower(raw))
			if !m.Valid() {
				return ConfigPatch{}, &ConfigError{Field: field, Value: raw, Reason: "must be 'paper' or 'real'"}
			}
			p.Mode = &m
		case "cooldown_seconds":
			n, err := strconv.Atoi(raw)
			if err != nil {
				return ConfigPatch{}, &ConfigError{Field: field, Value: raw, Reason: "not an integer"}
			}
			p.CooldownSeconds = &n
		default:
			dst := p.floatField(field)
			if dst == nil {
				return ConfigPatch{}, &ConfigError{Field: field, Value: raw, Reason: "unknown field"}
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return ConfigPatch{}, &ConfigError{Field: field, Value: raw, Reason: "not a number"}
			}
			*dst = &v
		}
	}
	return p, nil
}

func (p *ConfigPatch) floatField(name string) **float64 {
	switch name {
	case "daily_loss_cap":
		return &p.DailyLossCap
	case "max_exposure_per_symbol":
		return &p.MaxExposurePerSymbol
	case "max_drawdown_stop":
		return &p.MaxDrawdownStop
	case "total_capital":
		return &p.TotalCapital
	case "daily_invest_limit":
		return &p.DailyInvestLimit
	case "single_trade_limit":
		return &p.SingleTradeLimit
	}
	return nil
}

// Empty reports whether the patch changes nothing.
func (p ConfigPatch) Empty() bool {
	return p == ConfigPatch{}
}

// FieldChange is one entry of a Diff.
type FieldChange struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// Diff maps a JSON field name to its before/after values.
type Diff map[string]FieldChange

// Fields returns the changed field names in sorted order.
func (d Diff) Fields() []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Merge applies p on top of c. The result is validated; on error c is
// returned unchanged.
func Merge(c Config, p ConfigPatch) (Config, Diff, error) {
	next := c
	if p.DailyLossCap != nil {
		next.DailyLossCap = *p.DailyLossCap
	}
	if p.MaxExposurePerSymbol != nil {
		next.MaxExposurePerSymbol = *p.MaxExposurePerSymbol
	}
	if p.CooldownSeconds != nil {
		next.CooldownSeconds = *p.CooldownSeconds
	}
	if p.MaxDrawdownStop != nil {
		next.MaxDrawdownStop = *p.MaxDrawdownStop
	}
	if p.TotalCapital != nil {
		next.TotalCapital = *p.TotalCapital
	}
	if p.DailyInvestLimit != nil {
		next.DailyInvestLimit = *p.DailyInvestLimit
	}
	if p.SingleTradeLimit != nil {
		next.SingleTradeLimit = *p.SingleTradeLimit
	}
	if p.Mode != nil {
		next.Mode = *p.Mode
	}

	if err := next.Validate(); err != nil {
		return c, nil, err
	}
	return next, diffConfigs(c, next), nil
}

func diffConfigs(a, b Config) Diff {
	d := Diff{}
	add := func(field, before, after string) {
		if before != after {
			d[field] = FieldChange{Before: before, After: after}
		}
	}
	add("daily_loss_cap", formatFloat(a.DailyLossCap), formatFloat(b.DailyLossCap))
	add("max_exposure_per_symbol", formatFloat(a.MaxExposurePerSymbol), formatFloat(b.MaxExposurePerSymbol))
	add("cooldown_seconds", strconv.Itoa(a.CooldownSeconds), strconv.Itoa(b.CooldownSeconds))
	add("max_drawdown_stop", formatFloat(a.MaxDrawdownStop), formatFloat(b.MaxDrawdownStop))
	add("total_capital", formatFloat(a.TotalCapital), formatFloat(b.TotalCapital))
	add("daily_invest_limit", formatFloat(a.DailyInvestLimit), formatFloat(b.DailyInvestLimit))
	add("single_trade_limit", formatFloat(a.SingleTradeLimit), formatFloat(b.SingleTradeLimit))
	add("mode", string(a.Mode), string(b.Mode))
	return d
}

// ConfigVersion is one immutable entry of the config history.
type ConfigVersion struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Config    Config    `json:"config"`
	Diff      Diff      `json:"diff,omitempty"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateResult is returned by Manager.UpdateConfig.
type UpdateResult struct {
	Version int    `json:"version"`
	Diff    Diff   `json:"diff"`
	Config  Config `json:"config"`
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
