package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskguard/config"
	"github.com/rustyeddy/riskguard/risk"
	"github.com/rustyeddy/riskguard/store"
)

// session is what a subcommand works with: the loaded config, a logger,
// and the risk manager over the configured store.
type session struct {
	cfg   *config.Config
	log   *slog.Logger
	store store.Store
	risk  *risk.Manager

	out  io.Writer
	json bool
}

func (rc *RootConfig) loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(rc.ConfigPath, rc.EnvFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.Level
	if rc.LogLevel != "" {
		level = rc.LogLevel
	}
	return cfg, newLogger(cmd.ErrOrStderr(), level, cfg.Log.Format), nil
}

// open loads the config and opens the store and risk manager. Callers
// must Close the session.
func (rc *RootConfig) open(cmd *cobra.Command, opts ...risk.Option) (*session, error) {
	cfg, log, err := rc.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	opts = append([]risk.Option{risk.WithLogger(log)}, opts...)
	rm, err := risk.Open(cmd.Context(), st, cfg.Risk, opts...)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open risk manager: %w", err)
	}

	return &session{
		cfg:   cfg,
		log:   log,
		store: st,
		risk:  rm,
		out:   cmd.OutOrStdout(),
		json:  rc.JSON,
	}, nil
}

func (s *session) Close() error { return s.store.Close() }

func (s *session) table(title string, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(s.out)
	t.SetStyle(table.StyleRounded)
	if title != "" {
		t.SetTitle(title)
	}
	if header != nil {
		t.AppendHeader(header)
	}
	return t
}

func (s *session) printJSON(v any) error {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func money(v float64) string { return fmt.Sprintf("%.2f", v) }

func pct(v float64) string { return fmt.Sprintf("%.2f%%", 100*v) }
