// Package config loads the bootstrap configuration for riskguard from a
// YAML or JSON file with an optional .env overlay.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/riskguard/allocation"
	"github.com/rustyeddy/riskguard/cost"
	"github.com/rustyeddy/riskguard/risk"
	"github.com/rustyeddy/riskguard/store"
)

// Config is the complete bootstrap configuration. The risk section only
// seeds the first version of the risk config; once a version exists in the
// store, the store wins.
type Config struct {
	Store        store.Config            `json:"store" yaml:"store"`
	Risk         risk.Config             `json:"risk" yaml:"risk"`
	Universe     []allocation.Instrument `json:"universe" yaml:"universe"`
	Orchestrator OrchestratorConfig      `json:"orchestrator" yaml:"orchestrator"`
	Cost         CostConfig              `json:"cost" yaml:"cost"`
	Paper        PaperConfig             `json:"paper" yaml:"paper"`
	Breaker      BreakerConfig           `json:"breaker" yaml:"breaker"`
	Journal      JournalConfig           `json:"journal" yaml:"journal"`
	Metrics      MetricsConfig           `json:"metrics" yaml:"metrics"`
	Log          LogConfig               `json:"log" yaml:"log"`
}

// OrchestratorConfig controls the autopilot cadence.
type OrchestratorConfig struct {
	BaseInterval string `json:"base_interval" yaml:"base_interval"` // e.g. "60s", "5m"
}

// Interval parses BaseInterval.
func (o OrchestratorConfig) Interval() (time.Duration, error) {
	if o.BaseInterval == "" {
		return 0, nil
	}
	return time.ParseDuration(o.BaseInterval)
}

// CostConfig is the daily decision-model budget. A zero limit is unlimited.
type CostConfig struct {
	DailyLimit float64     `json:"daily_limit" yaml:"daily_limit"`
	Tiers      []cost.Tier `json:"tiers,omitempty" yaml:"tiers,omitempty"`

	// PreferredTier restricts normal selection to it and dearer tiers.
	PreferredTier string `json:"preferred_tier,omitempty" yaml:"preferred_tier,omitempty"`
}

// PaperConfig configures the in-process paper exchange used by run.
type PaperConfig struct {
	Balance float64 `json:"balance" yaml:"balance"` // 0 means risk.total_capital
	Spread  float64 `json:"spread" yaml:"spread"`   // fraction of price between bid and ask
}

// BreakerConfig guards order submission. MaxErrors failures within
// Window open the breaker for OpenFor. A zero MaxErrors disables it.
type BreakerConfig struct {
	Window    string `json:"window" yaml:"window"`
	MaxErrors int    `json:"max_errors" yaml:"max_errors"`
	OpenFor   string `json:"open_for" yaml:"open_for"`
}

// Durations parses Window and OpenFor.
func (b BreakerConfig) Durations() (window, openFor time.Duration, err error) {
	if b.Window != "" {
		if window, err = time.ParseDuration(b.Window); err != nil {
			return 0, 0, fmt.Errorf("breaker.window: %w", err)
		}
	}
	if b.OpenFor != "" {
		if openFor, err = time.ParseDuration(b.OpenFor); err != nil {
			return 0, 0, fmt.Errorf("breaker.open_for: %w", err)
		}
	}
	return window, openFor, nil
}

// JournalConfig names the CSV files run appends fills and cycles to.
// Leave both empty to disable the journal.
type JournalConfig struct {
	FillsFile  string `json:"fills_file,omitempty" yaml:"fills_file,omitempty"`
	CyclesFile string `json:"cycles_file,omitempty" yaml:"cycles_file,omitempty"`
}

// Enabled reports whether a journal is configured.
func (j JournalConfig) Enabled() bool { return j.FillsFile != "" || j.CyclesFile != "" }

type MetricsConfig struct {
	Listen string `json:"listen" yaml:"listen"` // empty disables the endpoint
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	if len(cfg.Cost.Tiers) == 0 {
		cfg.Cost.Tiers = cost.DefaultTiers()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads path (or the defaults when path is empty), then applies the
// environment. Variables from envFile fill in anything the process
// environment does not already set; a missing envFile is not an error.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	env := map[string]string{}
	if envFile != "" {
		dotenv, err := godotenv.Read(envFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read env file: %w", err)
		default:
			env = dotenv
		}
	}
	for _, key := range EnvKeys {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}

	if err := cfg.ApplyEnv(env); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EnvKeys are the environment variables ApplyEnv understands.
var EnvKeys = []string{
	"MODE",
	"TOTAL_CAPITAL_USDT",
	"DAILY_INVEST_LIMIT_USDT",
	"SINGLE_TRADE_LIMIT_USDT",
	"AI_DAILY_COST_LIMIT_USD",
	"AI_MODEL_TIER",
	"CB_WINDOW_SEC",
	"CB_MAX_ERRORS",
	"CB_OPEN_SEC",
	"RISKGUARD_STORE_DRIVER",
	"RISKGUARD_STORE_DSN",
	"RISKGUARD_METRICS_LISTEN",
	"LOG_LEVEL",
}

// ApplyEnv overrides fields from env. Empty values are ignored.
func (c *Config) ApplyEnv(env map[string]string) error {
	floats := map[string]*float64{
		"TOTAL_CAPITAL_USDT":      &c.Risk.TotalCapital,
		"DAILY_INVEST_LIMIT_USDT": &c.Risk.DailyInvestLimit,
		"SINGLE_TRADE_LIMIT_USDT": &c.Risk.SingleTradeLimit,
		"AI_DAILY_COST_LIMIT_USD": &c.Cost.DailyLimit,
	}
	for key, dst := range floats {
		v := strings.TrimSpace(env[key])
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = f
	}

	ints := map[string]*int{"CB_MAX_ERRORS": &c.Breaker.MaxErrors}
	seconds := map[string]*string{
		"CB_WINDOW_SEC": &c.Breaker.Window,
		"CB_OPEN_SEC":   &c.Breaker.OpenFor,
	}
	for key, dst := range seconds {
		if v := strings.TrimSpace(env[key]); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = (time.Duration(n) * time.Second).String()
		}
	}
	for key, dst := range ints {
		if v := strings.TrimSpace(env[key]); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
	}
	if v := strings.TrimSpace(env["AI_MODEL_TIER"]); v != "" {
		c.Cost.PreferredTier = v
	}

	if v := strings.TrimSpace(env["MODE"]); v != "" {
		c.Risk.Mode = risk.Mode(strings.ToLower(v))
	}
	if v := strings.TrimSpace(env["RISKGUARD_STORE_DRIVER"]); v != "" {
		c.Store.Driver = v
	}
	if v := strings.TrimSpace(env["RISKGUARD_STORE_DSN"]); v != "" {
		c.Store.DSN = v
	}
	if v := strings.TrimSpace(env["RISKGUARD_METRICS_LISTEN"]); v != "" {
		c.Metrics.Listen = v
	}
	if v := strings.TrimSpace(env["LOG_LEVEL"]); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	switch c.Store.Driver {
	case "", "memory":
	case "file", store.DriverSQLite, store.DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be memory, file, sqlite3 or postgres")
	}

	seen := make(map[string]bool, len(c.Universe))
	for i, in := range c.Universe {
		if in.Symbol == "" {
			return fmt.Errorf("universe[%d].symbol is required", i)
		}
		if seen[in.Symbol] {
			return fmt.Errorf("universe[%d]: duplicate symbol %s", i, in.Symbol)
		}
		seen[in.Symbol] = true
		if in.Volatility < 0 {
			return fmt.Errorf("universe[%d].volatility must not be negative", i)
		}
	}

	if d, err := c.Orchestrator.Interval(); err != nil {
		return fmt.Errorf("orchestrator.base_interval: %w", err)
	} else if d < 0 {
		return fmt.Errorf("orchestrator.base_interval must not be negative")
	}

	if c.Cost.DailyLimit < 0 {
		return fmt.Errorf("cost.daily_limit must not be negative")
	}
	for i, t := range c.Cost.Tiers {
		if t.Name == "" || t.Cost <= 0 {
			return fmt.Errorf("cost.tiers[%d] needs a name and a positive cost", i)
		}
	}

	if p := c.Cost.PreferredTier; p != "" {
		known := false
		for _, t := range c.Cost.Tiers {
			known = known || t.Name == p
		}
		if !known {
			return fmt.Errorf("cost.preferred_tier %q is not a configured tier", p)
		}
	}

	if c.Breaker.MaxErrors < 0 {
		return fmt.Errorf("breaker.max_errors must not be negative")
	}
	if w, o, err := c.Breaker.Durations(); err != nil {
		return err
	} else if w < 0 || o < 0 {
		return fmt.Errorf("breaker durations must not be negative")
	}

	if c.Journal.Enabled() && (c.Journal.FillsFile == "" || c.Journal.CyclesFile == "") {
		return fmt.Errorf("journal fills_file and cycles_file must be set together")
	}

	if c.Paper.Balance < 0 {
		return fmt.Errorf("paper.balance must not be negative")
	}
	if c.Paper.Spread < 0 || c.Paper.Spread >= 1 {
		return fmt.Errorf("paper.spread must be between 0 and 1")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Store: store.Config{
			Driver: store.DriverSQLite,
			DSN:    "./riskguard.db",
		},
		Risk: risk.DefaultConfig(),
		Universe: []allocation.Instrument{
			{Symbol: "BTCUSDT", Volatility: 0.6},
			{Symbol: "ETHUSDT", Volatility: 0.7},
			{Symbol: "SOLUSDT", Volatility: 0.9},
		},
		Orchestrator: OrchestratorConfig{BaseInterval: "60s"},
		Cost: CostConfig{
			DailyLimit: 5,
			Tiers:      cost.DefaultTiers(),
		},
		Paper:   PaperConfig{Spread: 0.0005},
		Breaker: BreakerConfig{Window: "60s", MaxErrors: 6, OpenFor: "30s"},
		Journal: JournalConfig{
			FillsFile:  "./fills.csv",
			CyclesFile: "./cycles.csv",
		},
		Metrics: MetricsConfig{Listen: ":9090"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}
