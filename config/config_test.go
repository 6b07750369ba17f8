package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskguard/risk"
	"github.com/rustyeddy/riskguard/store"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, 10000.0, cfg.Risk.TotalCapital)
	assert.Equal(t, risk.ModePaper, cfg.Risk.Mode)
	assert.Len(t, cfg.Universe, 3)
	assert.Equal(t, "sqlite3", cfg.Store.Driver)
	assert.NoError(t, cfg.Validate())

	d, err := cfg.Orchestrator.Interval()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	window, openFor, err := cfg.Breaker.Durations()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, window)
	assert.Equal(t, 6, cfg.Breaker.MaxErrors)
	assert.Equal(t, 30*time.Second, openFor)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"memory store needs no dsn", func(c *Config) { c.Store = storeCfg("memory", "") }, ""},
		{"negative daily loss cap", func(c *Config) { c.Risk.DailyLossCap = -1 }, "daily_loss_cap"},
		{"bad mode", func(c *Config) { c.Risk.Mode = "live" }, "mode"},
		{"sqlite without dsn", func(c *Config) { c.Store.DSN = "" }, "store.dsn is required"},
		{"unknown driver", func(c *Config) { c.Store = storeCfg("mysql", "x") }, "store.driver"},
		{"empty symbol", func(c *Config) { c.Universe[1].Symbol = "" }, "universe[1].symbol"},
		{"duplicate symbol", func(c *Config) { c.Universe[2].Symbol = "BTCUSDT" }, "duplicate symbol"},
		{"negative volatility", func(c *Config) { c.Universe[0].Volatility = -0.1 }, "volatility"},
		{"bad interval", func(c *Config) { c.Orchestrator.BaseInterval = "soon" }, "base_interval"},
		{"negative cost limit", func(c *Config) { c.Cost.DailyLimit = -1 }, "cost.daily_limit"},
		{"free tier", func(c *Config) { c.Cost.Tiers[0].Cost = 0 }, "cost.tiers[0]"},
		{"preferred tier", func(c *Config) { c.Cost.PreferredTier = "mini" }, ""},
		{"unknown preferred tier", func(c *Config) { c.Cost.PreferredTier = "GPT-9" }, "cost.preferred_tier"},
		{"breaker disabled", func(c *Config) { c.Breaker.MaxErrors = 0 }, ""},
		{"negative breaker errors", func(c *Config) { c.Breaker.MaxErrors = -1 }, "breaker.max_errors"},
		{"bad breaker window", func(c *Config) { c.Breaker.Window = "a while" }, "breaker.window"},
		{"negative open_for", func(c *Config) { c.Breaker.OpenFor = "-5s" }, "breaker durations"},
		{"half a journal", func(c *Config) { c.Journal.CyclesFile = "" }, "journal"},
		{"no journal", func(c *Config) { c.Journal = JournalConfig{} }, ""},
		{"spread too wide", func(c *Config) { c.Paper.Spread = 1 }, "paper.spread"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateWrapsRiskConfigError(t *testing.T) {
	cfg := Default()
	cfg.Risk.MaxDrawdownStop = 1.5
	assert.ErrorIs(t, cfg.Validate(), risk.ErrInvalidConfig)
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		ext  string
	}{
		{"json format", ".json"},
		{"yaml format", ".yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Risk.CooldownSeconds = 45
			cfg.Universe = cfg.Universe[:2]
			path := filepath.Join(tmpDir, "riskguard"+tt.ext)

			require.NoError(t, cfg.SaveToFile(path))
			_, err := os.Stat(path)
			require.NoError(t, err)

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestLoadFromFilePartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
risk:
  daily_invest_limit: 250
universe:
  - symbol: DOGEUSDT
    volatility: 1.8
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 250.0, cfg.Risk.DailyInvestLimit)
	assert.Equal(t, 50.0, cfg.Risk.SingleTradeLimit)
	require.Len(t, cfg.Universe, 1)
	assert.Equal(t, "DOGEUSDT", cfg.Universe[0].Symbol)
	assert.Len(t, cfg.Cost.Tiers, 3)
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk: [unterminated"), 0o644))
	_, err = LoadFromFile(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(map[string]string{
		"MODE":                    "REAL",
		"TOTAL_CAPITAL_USDT":      "20000",
		"DAILY_INVEST_LIMIT_USDT": " 800 ",
		"SINGLE_TRADE_LIMIT_USDT": "",
		"AI_DAILY_COST_LIMIT_USD": "2.5",
		"RISKGUARD_STORE_DRIVER":  "postgres",
		"RISKGUARD_STORE_DSN":     "postgres://localhost/riskguard",
		"LOG_LEVEL":               "DEBUG",
		"AI_MODEL_TIER":           "mini",
		"CB_WINDOW_SEC":           "120",
		"CB_MAX_ERRORS":           "4",
		"CB_OPEN_SEC":             "45",
	})
	require.NoError(t, err)

	assert.Equal(t, risk.ModeReal, cfg.Risk.Mode)
	assert.Equal(t, 20000.0, cfg.Risk.TotalCapital)
	assert.Equal(t, 800.0, cfg.Risk.DailyInvestLimit)
	assert.Equal(t, 50.0, cfg.Risk.SingleTradeLimit)
	assert.Equal(t, 2.5, cfg.Cost.DailyLimit)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "mini", cfg.Cost.PreferredTier)
	assert.Equal(t, 4, cfg.Breaker.MaxErrors)
	window, openFor, err := cfg.Breaker.Durations()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, window)
	assert.Equal(t, 45*time.Second, openFor)

	err = cfg.ApplyEnv(map[string]string{"TOTAL_CAPITAL_USDT": "lots"})
	assert.ErrorContains(t, err, "TOTAL_CAPITAL_USDT")

	err = cfg.ApplyEnv(map[string]string{"CB_MAX_ERRORS": "six"})
	assert.ErrorContains(t, err, "CB_MAX_ERRORS")
}

func TestLoadWithEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DAILY_INVEST_LIMIT_USDT=300\nMODE=real\n"), 0o644))

	// the process environment beats the file
	t.Setenv("MODE", "paper")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, 300.0, cfg.Risk.DailyInvestLimit)
	assert.Equal(t, risk.ModePaper, cfg.Risk.Mode)

	_, err = Load("", filepath.Join(dir, "missing.env"))
	assert.NoError(t, err)

	t.Setenv("MODE", "yolo")
	_, err = Load("", envFile)
	assert.ErrorIs(t, err, risk.ErrInvalidConfig)
}

func storeCfg(driver, dsn string) store.Config {
	return store.Config{Driver: driver, DSN: dsn}
}
