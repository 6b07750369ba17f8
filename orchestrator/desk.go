// Package orchestrator runs decision cycles: it plans an allocation,
// turns it into proposals, and walks each one through the risk guard and
// the exchange in a fixed order.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/riskguard/allocation"
	"github.com/rustyeddy/riskguard/broker"
	"github.com/rustyeddy/riskguard/cost"
	"github.com/rustyeddy/riskguard/pkg/id"
	"github.com/rustyeddy/riskguard/risk"
)

// CostGate picks and pays for the decision tier of a cycle.
// *cost.Ledger implements it.
type CostGate interface {
	Select(complexity float64) (cost.Tier, bool)
	RemainingRatio() float64
}

// Observer receives submission and cycle outcomes. *metrics.Metrics
// implements it.
type Observer interface {
	ObserveSubmit(mode string, ok bool, code string)
	ObserveCycle(status string, d time.Duration)
}

// Recorder receives every finished cycle. *journal.CSVJournal
// implements it.
type Recorder interface {
	RecordCycle(CycleResult) error
}

// Status is the outcome of one proposal.
type Status string

const (
	// StatusSubmitted: guard passed, exchange accepted, exposure committed.
	StatusSubmitted Status = "submitted"
	// StatusApproved: guard passed and no Submitter is configured; the
	// caller submits and then calls Desk.Commit.
	StatusApproved Status = "approved"
	// StatusBlocked: the guard rejected the proposal; the batch continues.
	StatusBlocked Status = "blocked"
	// StatusFailed: the exchange refused or was unreachable; nothing was
	// committed and the batch continues.
	StatusFailed Status = "failed"
	// StatusAborted: not evaluated because the batch hit the daily budget
	// or the context ended.
	StatusAborted Status = "aborted"
)

// Decision is the fate of one proposal.
type Decision struct {
	Proposal risk.Proposal `json:"proposal"`
	Status   Status        `json:"status"`
	Verdict  *risk.Verdict `json:"verdict,omitempty"`
	OrderID  string        `json:"order_id,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Cycle outcome labels.
const (
	CycleOK        = "ok"
	CycleSkipped   = "skipped"
	CycleAborted   = "aborted"
	CycleCancelled = "cancelled"
)

// CycleResult records one RunCycle.
type CycleResult struct {
	ID           string          `json:"id"`
	StartedAt    time.Time       `json:"started_at"`
	Status       string          `json:"status"`
	Complexity   float64         `json:"complexity"`
	Tier         string          `json:"tier,omitempty"`
	Equity       float64         `json:"equity"`
	Plan         allocation.Plan `json:"plan"`
	Decisions    []Decision      `json:"decisions"`
	NextInterval time.Duration   `json:"-"`
}

// Desk serializes every state-changing operation behind one lock:
// scheduled cycles, manual batches, fills, config updates and daily
// resets never interleave.
type Desk struct {
	mu sync.Mutex

	risk      *risk.Manager
	universe  []allocation.Instrument
	submitter broker.Submitter
	cost      CostGate
	observer  Observer
	recorder  Recorder

	base time.Duration
	next time.Duration
	last *CycleResult

	log *slog.Logger
	now func() time.Time
}

type Option func(*Desk)

// WithSubmitter routes approved proposals to s. Without one, proposals
// stop at StatusApproved.
func WithSubmitter(s broker.Submitter) Option {
	return func(d *Desk) { d.submitter = s }
}

func WithCostGate(g CostGate) Option {
	return func(d *Desk) { d.cost = g }
}

func WithObserver(o Observer) Option {
	return func(d *Desk) { d.observer = o }
}

func WithRecorder(r Recorder) Option {
	return func(d *Desk) { d.recorder = r }
}

// WithBaseInterval sets the unscaled time between cycles.
func WithBaseInterval(base time.Duration) Option {
	return func(d *Desk) {
		if base > 0 {
			d.base = base
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Desk) {
		if l != nil {
			d.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Desk) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDesk builds a desk trading universe, in order, under rm.
func NewDesk(rm *risk.Manager, universe []allocation.Instrument, opts ...Option) *Desk {
	d := &Desk{
		risk:     rm,
		universe: append([]allocation.Instrument(nil), universe...),
		base:     60 * time.Second,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.next = max(d.base, MinInterval)
	d.log = d.log.With("component", "desk")
	return d
}

// RunCycle runs one scheduled decision cycle. A skipped cycle returns
// ErrCostBudgetExhausted; a batch stopped by the daily budget returns a
// *BudgetError alongside the partial result. Exposure committed before
// an abort or cancellation stays committed.
func (d *Desk) RunCycle(ctx context.Context, sig Signals) (CycleResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := d.now()
	res := CycleResult{ID: id.NewAt(start), StartedAt: start}
	log := d.log.With("cycle", res.ID)

	cfg := d.risk.Config()
	snap := d.risk.Snapshot()
	res.Equity = d.equity(sig, cfg, snap)

	budget := budgetOf(cfg)
	_, single := budget.Limits()
	vol := sig.volatility()

	var exposureRatio float64
	if cfg.TotalCapital > 0 {
		exposureRatio = snap.TotalExposure() / cfg.TotalCapital
	}
	res.Complexity = Complexity(vol, exposureRatio, d.risk.Drawdown(res.Equity), sig.confidence(), sig.sentiment())

	ratio := 1.0
	if d.cost != nil {
		ratio = d.cost.RemainingRatio()
	}
	d.next = NextInterval(d.base, FrequencyMultiplier(vol, sig.sentiment(), ratio))
	res.NextInterval = d.next

	if d.cost != nil {
		tier, ok := d.cost.Select(res.Complexity)
		if !ok {
			res.Status = CycleSkipped
			d.finish(&res, start)
			log.Warn("cycle skipped", "reason", "cost budget exhausted", "complexity", res.Complexity)
			return res, ErrCostBudgetExhausted
		}
		res.Tier = tier.Name
	}

	res.Plan = allocation.NewPlan(allocation.ScaleVolatility(d.universe, vol), budget, d.next)
	proposals := BuildProposals(res.Plan.Targets, single, sig)

	decisions, err := d.evaluate(ctx, proposals, res.Equity, cfg, log)
	res.Decisions = decisions
	switch {
	case err == nil:
		res.Status = CycleOK
	case ctx.Err() != nil:
		res.Status = CycleCancelled
	default:
		res.Status = CycleAborted
	}
	d.finish(&res, start)

	log.Info("cycle done",
		"status", res.Status,
		"tier", res.Tier,
		"proposals", len(proposals),
		"submitted", count(decisions, StatusSubmitted),
		"blocked", count(decisions, StatusBlocked),
		"next", d.next,
	)
	return res, err
}

// SubmitBatch walks caller-built proposals through the same path as a
// scheduled cycle. Malformed proposals reject the whole batch before any
// guard check runs.
func (d *Desk) SubmitBatch(ctx context.Context, proposals []risk.Proposal, equity float64) ([]Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cfg := d.risk.Config()
	_, single := budgetOf(cfg).Limits()
	for i, p := range proposals {
		if err := validate(i, p, single); err != nil {
			return nil, err
		}
	}
	if equity <= 0 {
		equity = d.equity(Signals{}, cfg, d.risk.Snapshot())
	}
	return d.evaluate(ctx, proposals, equity, cfg, d.log.With("batch", "manual"))
}

// evaluate runs proposals in order. Each commit lands before the next
// guard check, so later proposals see earlier exposure.
func (d *Desk) evaluate(ctx context.Context, proposals []risk.Proposal, equity float64, cfg risk.Config, log *slog.Logger) ([]Decision, error) {
	daily, _ := budgetOf(cfg).Limits()
	out := make([]Decision, 0, len(proposals))
	var cumulative float64

	abort := func(from int, err error) ([]Decision, error) {
		for _, p := range proposals[from:] {
			out = append(out, Decision{Proposal: p, Status: StatusAborted, Error: err.Error()})
		}
		return out, err
	}

	for i, p := range proposals {
		if err := ctx.Err(); err != nil {
			log.Warn("batch cancelled", "remaining", len(proposals)-i, "err", err)
			return abort(i, err)
		}

		n := math.Abs(p.Notional)
		if cumulative+n > daily+1e-9 {
			err := &BudgetError{Symbol: p.Symbol, Cumulative: cumulative, Notional: n, Limit: daily}
			log.Warn("batch stopped", "err", err, "remaining", len(proposals)-i)
			return abort(i, err)
		}
		cumulative += n

		now := d.now()
		v := d.risk.Check(p.Symbol, n, now, equity)
		dec := Decision{Proposal: p, Verdict: &v}
		if !v.Allowed {
			dec.Status = StatusBlocked
			dec.Error = v.Err(p.Symbol).Error()
			out = append(out, dec)
			continue
		}

		if d.submitter == nil {
			dec.Status = StatusApproved
			out = append(out, dec)
			continue
		}

		order := broker.FromProposal(p, cfg.Mode, id.NewAt(now))
		ack, err := d.submitter.Submit(ctx, order)
		if d.observer != nil {
			d.observer.ObserveSubmit(string(cfg.Mode), err == nil, broker.Code(err))
		}
		if err != nil {
			log.Warn("submit failed", "symbol", p.Symbol, "notional", n, "err", err)
			dec.Status = StatusFailed
			dec.Error = err.Error()
			out = append(out, dec)
			continue
		}

		dec.Status = StatusSubmitted
		dec.OrderID = ack.OrderID
		if err := d.risk.Commit(ctx, p.Symbol, n, now); err != nil {
			// the order is live; keep going with the in-memory state
			dec.Error = err.Error()
		}
		out = append(out, dec)
	}
	return out, nil
}

// Commit records an order the caller submitted after StatusApproved.
func (d *Desk) Commit(ctx context.Context, symbol string, notional float64, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.risk.Commit(ctx, symbol, notional, at)
}

// RegisterFill books a closed position.
func (d *Desk) RegisterFill(ctx context.Context, symbol string, pnl, notional float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.risk.RegisterFill(ctx, symbol, pnl, notional)
}

// OnFill lets a paper exchange report closes straight to the desk.
func (d *Desk) OnFill(ctx context.Context, f broker.Fill) {
	if err := d.RegisterFill(ctx, f.Symbol, f.PnL, f.Notional); err != nil {
		d.log.Error("register fill", "order_id", f.OrderID, "err", err)
		return
	}
	d.log.Info("fill registered", "order_id", f.OrderID, "symbol", f.Symbol, "pnl", f.PnL, "reason", f.Reason)
}

func (d *Desk) UpdateConfig(ctx context.Context, patch risk.ConfigPatch, updatedBy string) (risk.UpdateResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.risk.UpdateConfig(ctx, patch, updatedBy)
}

func (d *Desk) ResetDaily(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.risk.ResetDaily(ctx)
}

// PlanAllocation previews the allocation with every volatility scaled by
// volMultiplier. It has no side effects.
func (d *Desk) PlanAllocation(volMultiplier float64) allocation.Plan {
	d.mu.Lock()
	defer d.mu.Unlock()

	cfg := d.risk.Config()
	ratio := 1.0
	if d.cost != nil {
		ratio = d.cost.RemainingRatio()
	}
	vol := Signals{Volatility: volMultiplier}.volatility()
	next := NextInterval(d.base, FrequencyMultiplier(vol, 0, ratio))
	return allocation.NewPlan(allocation.ScaleVolatility(d.universe, vol), budgetOf(cfg), next)
}

// NextInterval is the wait suggested by the last cycle.
func (d *Desk) NextInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next
}

// LastCycle returns the most recent cycle result, if any.
func (d *Desk) LastCycle() (CycleResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return CycleResult{}, false
	}
	return *d.last, true
}

func (d *Desk) finish(res *CycleResult, start time.Time) {
	last := *res
	d.last = &last
	if d.observer != nil {
		d.observer.ObserveCycle(res.Status, d.now().Sub(start))
	}
	if d.recorder != nil {
		if err := d.recorder.RecordCycle(last); err != nil {
			d.log.Error("record cycle", "cycle", res.ID, "err", err)
		}
	}
}

func (d *Desk) equity(sig Signals, cfg risk.Config, snap risk.State) float64 {
	if sig.Equity > 0 && isFinite(sig.Equity) {
		return sig.Equity
	}
	return cfg.TotalCapital + snap.RealizedPnL
}

func budgetOf(cfg risk.Config) allocation.Budget {
	return allocation.Budget{
		TotalCapital:     cfg.TotalCapital,
		DailyInvestLimit: cfg.DailyInvestLimit,
		SingleTradeLimit: cfg.SingleTradeLimit,
	}
}

func validate(i int, p risk.Proposal, single float64) error {
	perr := func(reason string) error {
		return &ProposalError{Index: i, Symbol: p.Symbol, Reason: reason}
	}
	switch {
	case p.Symbol == "":
		return perr("missing symbol")
	case p.Side != risk.SideBuy && p.Side != risk.SideSell:
		return perr(fmt.Sprintf("unknown side %q", p.Side))
	case p.OrderType != risk.OrderMarket && p.OrderType != risk.OrderLimit:
		return perr(fmt.Sprintf("unknown order type %q", p.OrderType))
	case !isFinite(p.Notional) || p.Notional <= 0:
		return perr("notional must be a positive number")
	case p.Notional > single+1e-9:
		return perr(fmt.Sprintf("notional %.2f exceeds single trade limit %.2f", p.Notional, single))
	case p.OrderType == risk.OrderLimit && (p.Price == nil || *p.Price <= 0):
		return perr("limit order needs a positive price")
	}
	return nil
}

func count(ds []Decision, s Status) int {
	n := 0
	for _, d := range ds {
		if d.Status == s {
			n++
		}
	}
	return n
}
