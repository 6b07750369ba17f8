package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rustyeddy/riskguard/pkg/id"
	"github.com/rustyeddy/riskguard/store"
)

// Store keys
const (
	KeyConfig           = "risk.config"
	KeyState            = "risk.state"
	StreamConfigHistory = "risk.config.history"
)

// Observer is notified of every verdict and of state changes. The
// metrics package provides one.
type Observer interface {
	ObserveVerdict(symbol string, v Verdict)
	ObserveState(s State)
}

// Manager owns the risk config and state for one account and persists
// both after every mutation. Its methods are safe for concurrent use, but
// callers that need whole-cycle exclusivity (see orchestrator.Desk) must
// serialize above it.
type Manager struct {
	mu    sync.Mutex
	store store.Store
	cfg   ConfigVersion
	state State

	log      *slog.Logger
	observer Observer
	now      func() time.Time
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithClock overrides the clock used to stamp config versions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Open loads config and state from st. On first use the config is seeded
// from seed as version 1 and the state starts empty.
func Open(ctx context.Context, st store.Store, seed Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		store: st,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "risk")

	if err := m.loadConfig(ctx, seed); err != nil {
		return nil, err
	}
	if err := m.loadState(ctx); err != nil {
		return nil, err
	}
	if m.observer != nil {
		m.observer.ObserveState(m.state.Clone())
	}
	return m, nil
}

func (m *Manager) loadConfig(ctx context.Context, seed Config) error {
	hist, err := m.history(ctx)
	if err != nil {
		return err
	}

	var cur ConfigVersion
	b, err := m.store.Get(ctx, KeyConfig)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load risk config: %w", err)
	default:
		if err := json.Unmarshal(b, &cur); err != nil {
			return fmt.Errorf("decode risk config: %w", err)
		}
	}

	// History is written first, so a newer tail means the current-pointer
	// write was lost.
	if n := len(hist); n > 0 && hist[n-1].Version > cur.Version {
		cur = hist[n-1]
		if err := m.putJSON(ctx, KeyConfig, cur); err != nil {
			return err
		}
	}

	if cur.Version > 0 {
		m.cfg = cur
		return nil
	}

	if err := seed.Validate(); err != nil {
		return fmt.Errorf("seed risk config: %w", err)
	}
	now := m.now().UTC()
	first := ConfigVersion{
		ID:        id.NewAt(now),
		Version:   1,
		Config:    seed,
		UpdatedBy: "bootstrap",
		UpdatedAt: now,
	}
	if err := m.appendVersion(ctx, first); err != nil {
		return err
	}
	m.cfg = first
	m.log.Info("seeded risk config", "version", first.Version, "mode", seed.Mode)
	return nil
}

func (m *Manager) loadState(ctx context.Context) error {
	b, err := m.store.Get(ctx, KeyState)
	if errors.Is(err, store.ErrNotFound) {
		m.state = NewState()
		return m.putJSON(ctx, KeyState, m.state)
	}
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}

	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decode risk state: %w", err)
	}
	s.ensureMaps()
	m.state = s
	return nil
}

// Check is the pre-trade guard. It never returns an error: the only state
// it touches is the equity peak, which is raised and persisted whatever
// the verdict. A failed save is logged.
func (m *Manager) Check(symbol string, notional float64, now time.Time, equity float64) Verdict {
	m.mu.Lock()
	peak := m.state.EquityPeak
	v := evaluate(m.cfg.Config, &m.state, symbol, notional, now, equity)
	var snap State
	if m.state.EquityPeak != peak {
		if err := m.saveState(context.Background()); err != nil {
			m.log.Error("persist equity peak", "err", err, "peak", m.state.EquityPeak)
		}
		snap = m.state.Clone()
	}
	m.mu.Unlock()

	if !v.Allowed {
		attrs := []any{"symbol", symbol, "reason", v.Reason, "detail", v.Detail}
		if v.Reason == ReasonCooldown {
			attrs = append(attrs, "remaining_s", v.RemainingSeconds())
		}
		m.log.Info("guard rejected", attrs...)
	}
	if m.observer != nil {
		m.observer.ObserveVerdict(symbol, v)
		if snap.SymbolExposure != nil {
			m.observer.ObserveState(snap)
		}
	}
	return v
}

// Commit records a submitted order: exposure grows by |notional| and the
// symbol's cooldown restarts at now. Call it only after the exchange has
// accepted the order. The in-memory update stands even if the save fails,
// since the order is already live.
func (m *Manager) Commit(ctx context.Context, symbol string, notional float64, now time.Time) error {
	return m.mutate(ctx, "commit", func(s *State) {
		s.commit(symbol, finite(notional), now)
	})
}

// RegisterFill releases exposure on a fill (floored at zero) and books pnl.
func (m *Manager) RegisterFill(ctx context.Context, symbol string, pnl, notional float64) error {
	return m.mutate(ctx, "register fill", func(s *State) {
		s.registerFill(symbol, finite(pnl), finite(notional))
	})
}

// ResetDaily clears realized pnl and cooldown timestamps. Exposure and
// the equity peak are kept.
func (m *Manager) ResetDaily(ctx context.Context) error {
	err := m.mutate(ctx, "reset daily", func(s *State) { s.resetDaily() })
	if err == nil {
		m.log.Info("daily risk counters reset")
	}
	return err
}

func (m *Manager) mutate(ctx context.Context, op string, fn func(*State)) error {
	m.mu.Lock()
	fn(&m.state)
	err := m.saveState(ctx)
	snap := m.state.Clone()
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.ObserveState(snap)
	}
	if err != nil {
		m.log.Error("persist risk state", "op", op, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Exposure returns open notional for symbol and across all symbols.
func (m *Manager) Exposure(symbol string) (symbolExposure, total float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SymbolExposure[symbol], m.state.TotalExposure()
}

// Config returns the current config.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Config
}

// Version returns the current config version record.
func (m *Manager) Version() ConfigVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Drawdown reports the drawdown equity would show against the recorded
// peak, without moving the peak.
func (m *Manager) Drawdown(equity float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	equity = finite(equity)
	return Drawdown(max(m.state.EquityPeak, equity), equity, m.cfg.Config.DailyLossCap)
}

// UpdateConfig merges patch into the current config, appends the result
// to the version history and bumps the version. Invalid patches are
// rejected before anything is written.
func (m *Manager) UpdateConfig(ctx context.Context, patch ConfigPatch, updatedBy string) (UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, diff, err := Merge(m.cfg.Config, patch)
	if err != nil {
		return UpdateResult{}, err
	}
	if updatedBy == "" {
		updatedBy = "unknown"
	}

	now := m.now().UTC()
	v := ConfigVersion{
		ID:        id.NewAt(now),
		Version:   m.cfg.Version + 1,
		Config:    next,
		Diff:      diff,
		UpdatedBy: updatedBy,
		UpdatedAt: now,
	}
	if err := m.appendVersion(ctx, v); err != nil {
		return UpdateResult{}, err
	}
	m.cfg = v

	m.log.Info("risk config updated", "version", v.Version, "by", updatedBy, "fields", diff.Fields())
	return UpdateResult{Version: v.Version, Diff: diff, Config: next}, nil
}

// ConfigHistory returns every recorded config version, oldest first.
func (m *Manager) ConfigHistory(ctx context.Context) ([]ConfigVersion, error) {
	return m.history(ctx)
}

// ConfigAt returns the config recorded as version.
func (m *Manager) ConfigAt(ctx context.Context, version int) (ConfigVersion, error) {
	hist, err := m.history(ctx)
	if err != nil {
		return ConfigVersion{}, err
	}
	for _, v := range hist {
		if v.Version == version {
			return v, nil
		}
	}
	return ConfigVersion{}, fmt.Errorf("version %d: %w", version, ErrUnknownVersion)
}

func (m *Manager) history(ctx context.Context) ([]ConfigVersion, error) {
	raw, err := m.store.Range(ctx, StreamConfigHistory)
	if err != nil {
		return nil, fmt.Errorf("load config history: %w", err)
	}
	out := make([]ConfigVersion, 0, len(raw))
	for i, b := range raw {
		var v ConfigVersion
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("decode config history entry %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// appendVersion writes history first, then the current pointer. Once the
// history append succeeds the version is durable: a failed pointer write
// is logged and repaired by the next Open.
func (m *Manager) appendVersion(ctx context.Context, v ConfigVersion) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode config version: %w", err)
	}
	if err := m.store.Append(ctx, StreamConfigHistory, b); err != nil {
		return fmt.Errorf("append config version: %w", err)
	}
	if err := m.store.Put(ctx, KeyConfig, b); err != nil {
		m.log.Error("store current config pointer", "version", v.Version, "err", err)
	}
	return nil
}

// saveState must be called with m.mu held.
func (m *Manager) saveState(ctx context.Context) error {
	return m.putJSON(ctx, KeyState, m.state)
}

func (m *Manager) putJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := m.store.Put(ctx, key, b); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}
