package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrBudgetExceeded wraps every *BudgetError.
	ErrBudgetExceeded = errors.New("daily invest budget exceeded")

	// ErrCostBudgetExhausted is returned when no decision tier is
	// affordable; the cycle is skipped before any proposal is built.
	ErrCostBudgetExhausted = errors.New("decision cost budget exhausted")

	// ErrInvalidProposal wraps every *ProposalError.
	ErrInvalidProposal = errors.New("invalid proposal")
)

// BudgetError stops a batch: accepting Symbol would take the batch's
// proposed notional past the effective daily limit.
type BudgetError struct {
	Symbol     string
	Cumulative float64 // proposed before Symbol
	Notional   float64
	Limit      float64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%s: %.2f + %.2f exceeds daily limit %.2f", e.Symbol, e.Cumulative, e.Notional, e.Limit)
}

func (e *BudgetError) Unwrap() error { return ErrBudgetExceeded }

// ProposalError rejects a manual proposal before anything is evaluated.
type ProposalError struct {
	Index  int
	Symbol string
	Reason string
}

func (e *ProposalError) Error() string {
	return fmt.Sprintf("proposal %d (%s): %s", e.Index, e.Symbol, e.Reason)
}

func (e *ProposalError) Unwrap() error { return ErrInvalidProposal }
