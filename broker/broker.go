// Package broker defines the order-submission boundary between the desk
// and an exchange.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/riskguard/risk"
)

// Submitter places orders. Implementations must not retry on their own.
type Submitter interface {
	Submit(ctx context.Context, o Order) (Ack, error)
}

// Order is a guard-approved proposal ready for the exchange.
type Order struct {
	ClientID   string         `json:"client_id"`
	Symbol     string         `json:"symbol"`
	Side       risk.Side      `json:"side"`
	Type       risk.OrderType `json:"type"`
	Notional   float64        `json:"notional"`
	Price      *float64       `json:"price,omitempty"`
	StopLoss   *float64       `json:"sl_pct,omitempty"`
	TakeProfit *float64       `json:"tp_pct,omitempty"`
	Mode       risk.Mode      `json:"mode"`
}

// FromProposal copies p into an Order routed under mode.
func FromProposal(p risk.Proposal, mode risk.Mode, clientID string) Order {
	return Order{
		ClientID:   clientID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Type:       p.OrderType,
		Notional:   p.Notional,
		Price:      p.Price,
		StopLoss:   p.StopLossPct,
		TakeProfit: p.TakeProfitPct,
		Mode:       mode,
	}
}

// Ack is the exchange's acceptance of an order.
type Ack struct {
	OrderID  string    `json:"order_id"`
	ClientID string    `json:"client_id"`
	Symbol   string    `json:"symbol"`
	Price    float64   `json:"price"`
	Units    float64   `json:"units"`
	At       time.Time `json:"at"`
}

// Fill reports a closed position: exposure to release and pnl to book.
type Fill struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Side     risk.Side `json:"side"`
	Notional float64   `json:"notional"`
	Entry    float64   `json:"entry"`
	Exit     float64   `json:"exit"`
	PnL      float64   `json:"pnl"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// ErrOrderRejected wraps every *OrderError.
var ErrOrderRejected = errors.New("order rejected by exchange")

// OrderError is an exchange-side refusal. Code is short and stable enough
// to use as a metric label.
type OrderError struct {
	Symbol string
	Code   string
	Msg    string
}

func (e *OrderError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Symbol, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Symbol, e.Code, e.Msg)
}

func (e *OrderError) Unwrap() error { return ErrOrderRejected }

// Code extracts the rejection code from err, or "error" for anything
// that is not an *OrderError.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return "error"
}
