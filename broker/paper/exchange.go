// Package paper is an in-memory exchange for paper trading and tests.
// Orders fill immediately against the last quote; stop-loss and
// take-profit levels are checked on every price update.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/riskguard/broker"
	"github.com/rustyeddy/riskguard/pkg/id"
	"github.com/rustyeddy/riskguard/risk"
)

// Quote is a top-of-book price.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// FillListener is notified of every closed position, after the exchange
// lock is released.
type FillListener interface {
	OnFill(ctx context.Context, f broker.Fill)
}

type Exchange struct {
	mu       sync.Mutex
	balance  float64
	quotes   map[string]Quote
	trades   map[string]*Trade
	fills    []broker.Fill
	failures []string // codes for the next N submissions
	listener FillListener

	ids *id.Generator
	now func() time.Time
	log *slog.Logger
}

type Option func(*Exchange)

func WithClock(now func() time.Time) Option {
	return func(e *Exchange) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Exchange) {
		if l != nil {
			e.log = l
		}
	}
}

// New returns an exchange holding balance in quote currency.
func New(balance float64, opts ...Option) *Exchange {
	e := &Exchange{
		balance: balance,
		quotes:  make(map[string]Quote),
		trades:  make(map[string]*Trade),
		ids:     id.NewGenerator(),
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "paper")
	return e
}

// SetFillListener registers l for position closes.
func (e *Exchange) SetFillListener(l FillListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

// FailNext makes the next submissions fail with the given codes, in order.
func (e *Exchange) FailNext(codes ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, codes...)
}

// Submit fills o at the current quote: buys at the ask, sells at the bid.
// A limit order without a quote fills at its limit price.
func (e *Exchange) Submit(ctx context.Context, o broker.Order) (broker.Ack, error) {
	if err := ctx.Err(); err != nil {
		return broker.Ack{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.failures) > 0 {
		code := e.failures[0]
		e.failures = e.failures[1:]
		return broker.Ack{}, &broker.OrderError{Symbol: o.Symbol, Code: code, Msg: "injected failure"}
	}
	if o.Notional <= 0 {
		return broker.Ack{}, &broker.OrderError{Symbol: o.Symbol, Code: "invalid_size"}
	}
	if o.Notional > e.balance {
		return broker.Ack{}, &broker.OrderError{
			Symbol: o.Symbol,
			Code:   "insufficient_balance",
			Msg:    fmt.Sprintf("need %.2f, have %.2f", o.Notional, e.balance),
		}
	}

	price, err := e.fillPriceLocked(o)
	if err != nil {
		return broker.Ack{}, err
	}

	now := e.now()
	t := &Trade{
		ID:         e.ids.NewAt(now),
		Symbol:     o.Symbol,
		Side:       o.Side,
		Notional:   o.Notional,
		Units:      o.Notional / price,
		EntryPrice: price,
		OpenTime:   now,
		Open:       true,
	}
	t.setLevels(o.StopLoss, o.TakeProfit)
	e.trades[t.ID] = t
	e.balance -= o.Notional

	e.log.Debug("paper fill", "order_id", t.ID, "symbol", o.Symbol, "side", o.Side, "price", price, "notional", o.Notional)
	return broker.Ack{
		OrderID:  t.ID,
		ClientID: o.ClientID,
		Symbol:   o.Symbol,
		Price:    price,
		Units:    t.Units,
		At:       now,
	}, nil
}

func (e *Exchange) fillPriceLocked(o broker.Order) (float64, error) {
	q, ok := e.quotes[o.Symbol]
	if !ok {
		if o.Type == risk.OrderLimit && o.Price != nil && *o.Price > 0 {
			return *o.Price, nil
		}
		return 0, &broker.OrderError{Symbol: o.Symbol, Code: "no_price"}
	}

	price := q.Ask
	if o.Side == risk.SideSell {
		price = q.Bid
	}
	if o.Type == risk.OrderLimit && o.Price != nil && *o.Price > 0 {
		if o.Side == risk.SideSell {
			price = max(price, *o.Price)
		} else {
			price = min(price, *o.Price)
		}
	}
	if price <= 0 {
		return 0, &broker.OrderError{Symbol: o.Symbol, Code: "no_price"}
	}
	return price, nil
}

// UpdatePrice records q and closes any open trade on its symbol whose
// stop-loss or take-profit is hit. Longs are marked on the bid, shorts on
// the ask.
func (e *Exchange) UpdatePrice(ctx context.Context, q Quote) []broker.Fill {
	e.mu.Lock()
	if q.Time.IsZero() {
		q.Time = e.now()
	}
	e.quotes[q.Symbol] = q

	var closed []broker.Fill
	for _, t := range e.sortedOpenLocked(q.Symbol) {
		mark := t.markPrice(q)
		reason := ""
		switch {
		case t.triggerStopLoss(mark):
			reason = "StopLoss"
		case t.triggerTakeProfit(mark):
			reason = "TakeProfit"
		default:
			continue
		}
		closed = append(closed, e.closeLocked(t, mark, q.Time, reason))
	}
	listener := e.listener
	e.mu.Unlock()

	e.notify(ctx, listener, closed)
	return closed
}

// Close closes an open trade at the current mark.
func (e *Exchange) Close(ctx context.Context, orderID, reason string) (broker.Fill, error) {
	if reason == "" {
		reason = "ManualClose"
	}

	e.mu.Lock()
	t, ok := e.trades[orderID]
	if !ok {
		e.mu.Unlock()
		return broker.Fill{}, fmt.Errorf("close %q: trade not found", orderID)
	}
	if !t.Open {
		e.mu.Unlock()
		return broker.Fill{}, fmt.Errorf("close %q: trade already closed", orderID)
	}
	q, ok := e.quotes[t.Symbol]
	if !ok {
		e.mu.Unlock()
		return broker.Fill{}, fmt.Errorf("close %q: no price for %s", orderID, t.Symbol)
	}
	f := e.closeLocked(t, t.markPrice(q), e.now(), reason)
	listener := e.listener
	e.mu.Unlock()

	e.notify(ctx, listener, []broker.Fill{f})
	return f, nil
}

// closeLocked must be called with e.mu held.
func (e *Exchange) closeLocked(t *Trade, price float64, at time.Time, reason string) broker.Fill {
	pnl := t.pnl(price)
	t.Open = false
	t.ClosePrice = price
	t.CloseTime = at
	t.RealizedPL = pnl
	e.balance += t.Notional + pnl

	f := broker.Fill{
		OrderID:  t.ID,
		Symbol:   t.Symbol,
		Side:     t.Side,
		Notional: t.Notional,
		Entry:    t.EntryPrice,
		Exit:     price,
		PnL:      pnl,
		Reason:   reason,
		At:       at,
	}
	e.fills = append(e.fills, f)
	return f
}

func (e *Exchange) notify(ctx context.Context, l FillListener, fills []broker.Fill) {
	if l == nil {
		return
	}
	for _, f := range fills {
		l.OnFill(ctx, f)
	}
}

// sortedOpenLocked returns open trades for symbol in ID (time) order.
func (e *Exchange) sortedOpenLocked(symbol string) []*Trade {
	var out []*Trade
	for _, t := range e.trades {
		if t.Open && t.Symbol == symbol {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Balance is free cash.
func (e *Exchange) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// Equity is free cash plus the marked value of open trades.
func (e *Exchange) Equity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	eq := e.balance
	for _, t := range e.trades {
		if !t.Open {
			continue
		}
		if q, ok := e.quotes[t.Symbol]; ok {
			eq += t.Notional + t.pnl(t.markPrice(q))
		} else {
			eq += t.Notional
		}
	}
	return eq
}

// Quote returns the last price seen for symbol.
func (e *Exchange) Quote(symbol string) (Quote, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.quotes[symbol]
	return q, ok
}

// Fills returns every close in the order it happened.
func (e *Exchange) Fills() []broker.Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]broker.Fill(nil), e.fills...)
}

// OpenTrades returns a copy of every open trade in ID order.
func (e *Exchange) OpenTrades() []Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Trade
	for _, t := range e.trades {
		if t.Open {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
