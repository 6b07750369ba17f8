package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// CodeCircuitOpen is the OrderError code returned while a Breaker is open.
const CodeCircuitOpen = "circuit_open"

// Breaker stops calling a failing exchange. After MaxErrors failures
// within Window it refuses every order for OpenFor; one success clears
// the error history.
type Breaker struct {
	mu        sync.Mutex
	next      Submitter
	errs      []time.Time
	openUntil time.Time

	window    time.Duration
	maxErrors int
	openFor   time.Duration

	now func() time.Time
	log *slog.Logger
}

type BreakerOption func(*Breaker)

// WithThresholds sets the rolling window, the failures that trip the
// breaker, and how long it stays open. Non-positive values keep the
// defaults.
func WithThresholds(window time.Duration, maxErrors int, openFor time.Duration) BreakerOption {
	return func(b *Breaker) {
		if window > 0 {
			b.window = window
		}
		if maxErrors > 0 {
			b.maxErrors = maxErrors
		}
		if openFor > 0 {
			b.openFor = openFor
		}
	}
}

func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

func WithBreakerLogger(l *slog.Logger) BreakerOption {
	return func(b *Breaker) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBreaker wraps next. Defaults: 6 errors in 60s open it for 30s.
func NewBreaker(next Submitter, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		next:      next,
		window:    60 * time.Second,
		maxErrors: 6,
		openFor:   30 * time.Second,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("component", "breaker")
	return b
}

func (b *Breaker) Submit(ctx context.Context, o Order) (Ack, error) {
	if !b.allow() {
		return Ack{}, &OrderError{Symbol: o.Symbol, Code: CodeCircuitOpen}
	}

	ack, err := b.next.Submit(ctx, o)
	switch {
	case err == nil:
		b.onSuccess()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		b.onError()
	}
	return ack, err
}

// Open reports whether orders are currently refused.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.openUntil)
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if now.Before(b.openUntil) {
		return false
	}
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.errs) && b.errs[i].Before(cutoff) {
		i++
	}
	b.errs = b.errs[i:]
	return true
}

func (b *Breaker) onError() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.errs = append(b.errs, now)
	if len(b.errs) >= b.maxErrors {
		b.openUntil = now.Add(b.openFor)
		b.log.Warn("circuit open", "errors", len(b.errs), "until", b.openUntil)
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = nil
	b.openUntil = time.Time{}
}
