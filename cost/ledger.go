// Package cost tracks the daily spend on decision-model calls and picks
// the model tier a cycle can afford.
package cost

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// Tier is one decision-model size and its per-call price in USD.
type Tier struct {
	Name string  `json:"name" yaml:"name"`
	Cost float64 `json:"cost" yaml:"cost"`
}

// DefaultTiers are the stock model tiers, most expensive first.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "large", Cost: 0.12},
		{Name: "mini", Cost: 0.06},
		{Name: "nano", Cost: 0.02},
	}
}

// Budget is a point-in-time view of the ledger.
type Budget struct {
	Limit     float64 `json:"limit"`
	Spent     float64 `json:"spent"`
	Remaining float64 `json:"remaining"`
}

// Observer receives every recorded spend and budget change.
type Observer interface {
	ObserveSpend(tier string, cost float64)
	ObserveBudget(b Budget)
}

// Ledger is a daily spend counter that resets at UTC midnight. A zero
// limit means unlimited.
type Ledger struct {
	mu    sync.Mutex
	limit float64
	spent float64
	day   time.Time
	tiers []Tier
	pref  string

	now      func() time.Time
	observer Observer
	log      *slog.Logger
}

type Option func(*Ledger)

// WithTiers replaces DefaultTiers. Tiers are re-sorted most expensive first.
func WithTiers(tiers []Tier) Option {
	return func(l *Ledger) {
		if len(tiers) > 0 {
			l.tiers = append([]Tier(nil), tiers...)
		}
	}
}

// WithPreferredTier limits normal selection to name and the tiers priced
// above it. Cheaper tiers are left to the fallback. An empty or unknown
// name allows every tier.
func WithPreferredTier(name string) Option {
	return func(l *Ledger) { l.pref = name }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observer = o }
}

func WithLogger(lg *slog.Logger) Option {
	return func(l *Ledger) {
		if lg != nil {
			l.log = lg
		}
	}
}

func NewLedger(limit float64, opts ...Option) *Ledger {
	l := &Ledger{
		limit: clean(limit),
		tiers: DefaultTiers(),
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	sort.SliceStable(l.tiers, func(i, j int) bool { return l.tiers[i].Cost > l.tiers[j].Cost })
	l.day = utcDay(l.now())
	l.log = l.log.With("component", "cost")
	l.notify("", 0)
	return l
}

// SetLimit changes the daily limit without touching today's spend.
func (l *Ledger) SetLimit(limit float64) {
	l.mu.Lock()
	l.limit = clean(limit)
	l.mu.Unlock()
	l.notify("", 0)
}

// CanSpend reports whether cost fits in what is left of today's budget.
func (l *Ledger) CanSpend(cost float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.canSpend(cost)
}

// Record books cost against today's budget.
func (l *Ledger) Record(cost float64) {
	l.mu.Lock()
	l.rollover()
	l.spent += clean(cost)
	l.mu.Unlock()
	l.notify("", cost)
}

// Budget returns today's limit, spend and remainder.
func (l *Ledger) Budget() Budget {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.budget()
}

// RemainingRatio is remaining/limit in [0,1]; 1 when unlimited.
func (l *Ledger) RemainingRatio() float64 {
	b := l.Budget()
	if b.Limit == 0 {
		return 1
	}
	return b.Remaining / b.Limit
}

// Select picks a tier for a decision of the given complexity and books
// its cost. Simple decisions (complexity <= 1) try the cheapest tier
// first; others start from the most expensive. A tier is skipped when the
// remaining budget is under half its cost. If nothing fits, the cheapest
// tier is tried once more; ok is false when even that is unaffordable.
// With a preferred tier, only it and the dearer tiers are tried before
// the fallback.
func (l *Ledger) Select(complexity float64) (tier Tier, ok bool) {
	l.mu.Lock()
	l.rollover()

	candidates := l.candidates()
	cheapest := l.tiers[len(l.tiers)-1]
	if last := len(candidates) - 1; complexity <= 1 && candidates[last] == cheapest {
		candidates = append([]Tier{cheapest}, candidates[:last]...)
	}

	remaining := l.budget().Remaining
	for _, t := range candidates {
		if l.limit > 0 && remaining < t.Cost*0.5 {
			continue
		}
		if l.canSpend(t.Cost) {
			tier, ok = t, true
			break
		}
	}
	if !ok && l.canSpend(cheapest.Cost) {
		tier, ok = cheapest, true
	}
	if ok {
		l.spent += tier.Cost
	}
	l.mu.Unlock()

	if !ok {
		l.log.Warn("decision budget exhausted", "complexity", complexity, "remaining", remaining)
		return Tier{}, false
	}
	l.log.Debug("tier selected", "tier", tier.Name, "cost", tier.Cost, "complexity", complexity)
	l.notify(tier.Name, tier.Cost)
	return tier, true
}

// candidates are the tiers Select tries before the fallback, most
// expensive first.
func (l *Ledger) candidates() []Tier {
	for i, t := range l.tiers {
		if t.Name == l.pref {
			return append([]Tier(nil), l.tiers[:i+1]...)
		}
	}
	return append([]Tier(nil), l.tiers...)
}

// Tiers returns the configured tiers, most expensive first.
func (l *Ledger) Tiers() []Tier {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Tier(nil), l.tiers...)
}

func (l *Ledger) canSpend(cost float64) bool {
	if l.limit == 0 {
		return true
	}
	return l.spent+cost <= l.limit+1e-9
}

func (l *Ledger) budget() Budget {
	return Budget{
		Limit:     l.limit,
		Spent:     l.spent,
		Remaining: max(l.limit-l.spent, 0),
	}
}

// rollover must be called with l.mu held.
func (l *Ledger) rollover() {
	today := utcDay(l.now())
	if today.After(l.day) {
		l.spent = 0
		l.day = today
	}
}

func (l *Ledger) notify(tier string, cost float64) {
	if l.observer == nil {
		return
	}
	if tier != "" {
		l.observer.ObserveSpend(tier, cost)
	}
	l.observer.ObserveBudget(l.Budget())
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func clean(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
		return 0
	}
	return x
}
