package paper

import (
	"time"

	"github.com/rustyeddy/riskguard/risk"
)

type Trade struct {
	ID         string
	Symbol     string
	Side       risk.Side
	Notional   float64
	Units      float64
	EntryPrice float64
	OpenTime   time.Time

	StopLoss   *float64
	TakeProfit *float64

	// Realized
	ClosePrice float64
	CloseTime  time.Time
	RealizedPL float64
	Open       bool
}

func (t *Trade) long() bool { return t.Side != risk.SideSell }

// setLevels turns percentage distances from entry into price levels.
func (t *Trade) setLevels(slPct, tpPct *float64) {
	if slPct != nil && *slPct > 0 {
		p := t.EntryPrice * (1 - *slPct)
		if !t.long() {
			p = t.EntryPrice * (1 + *slPct)
		}
		t.StopLoss = &p
	}
	if tpPct != nil && *tpPct > 0 {
		p := t.EntryPrice * (1 + *tpPct)
		if !t.long() {
			p = t.EntryPrice * (1 - *tpPct)
		}
		t.TakeProfit = &p
	}
}

func (t *Trade) markPrice(q Quote) float64 {
	if t.long() {
		return q.Bid
	}
	return q.Ask
}

func (t *Trade) triggerStopLoss(price float64) bool {
	if t.StopLoss == nil {
		return false
	}
	if t.long() {
		return price <= *t.StopLoss
	}
	return price >= *t.StopLoss
}

func (t *Trade) triggerTakeProfit(price float64) bool {
	if t.TakeProfit == nil {
		return false
	}
	if t.long() {
		return price >= *t.TakeProfit
	}
	return price <= *t.TakeProfit
}

func (t *Trade) pnl(price float64) float64 {
	if t.long() {
		return t.Units * (price - t.EntryPrice)
	}
	return t.Units * (t.EntryPrice - price)
}
