// Package journal keeps an append-only audit trail of paper fills and
// decision cycles.
package journal

import (
	"github.com/rustyeddy/riskguard/broker"
	"github.com/rustyeddy/riskguard/orchestrator"
)

type Journal interface {
	RecordFill(broker.Fill) error
	RecordCycle(orchestrator.CycleResult) error
	Close() error
}
