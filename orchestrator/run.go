package orchestrator

import (
	"context"
	"errors"
	"time"
)

// SignalSource supplies the context for the next cycle.
type SignalSource interface {
	Signals(ctx context.Context) (Signals, error)
}

// SignalFunc adapts a function to SignalSource.
type SignalFunc func(ctx context.Context) (Signals, error)

func (f SignalFunc) Signals(ctx context.Context) (Signals, error) { return f(ctx) }

// Run drives cycles until ctx ends, waiting NextInterval between them.
// The first cycle runs immediately. Risk counters are reset the first time
// a cycle starts on a new UTC day. Cycle errors are logged, not returned.
func (d *Desk) Run(ctx context.Context, src SignalSource) error {
	d.log.Info("autopilot started", "base_interval", d.base)
	defer d.log.Info("autopilot stopped")

	day := utcDay(d.now())
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if today := utcDay(d.now()); today.After(day) {
			if err := d.ResetDaily(ctx); err != nil {
				d.log.Error("daily reset", "err", err)
			}
			day = today
		}

		d.tick(ctx, src)
		timer.Reset(d.NextInterval())
	}
}

func (d *Desk) tick(ctx context.Context, src SignalSource) {
	sig, err := src.Signals(ctx)
	if err != nil {
		d.log.Error("signals unavailable, cycle skipped", "err", err)
		return
	}
	_, err = d.RunCycle(ctx, sig)
	switch {
	case err == nil:
	case errors.Is(err, ErrCostBudgetExhausted), errors.Is(err, ErrBudgetExceeded):
		// logged by RunCycle
	case ctx.Err() != nil:
	default:
		d.log.Error("cycle failed", "err", err)
	}
}

func utcDay(t time.Time) time.Time {
	y, m, dd := t.UTC().Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}
