package risk

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig wraps every ConfigError.
	ErrInvalidConfig = errors.New("invalid risk config")

	// ErrUnknownVersion is returned when a config version was never recorded.
	ErrUnknownVersion = errors.New("unknown config version")

	// ErrRejected wraps every RejectionError.
	ErrRejected = errors.New("order rejected by risk guard")
)

// ConfigError describes a rejected config value. The store is left at
// its last valid value whenever one is returned.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s=%q: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// RejectionError carries a guard rejection to callers that speak in
// errors (CLI, HTTP). Code is the Reason, Hint is for humans.
type RejectionError struct {
	Symbol string
	Code   Reason
	Hint   string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Symbol, e.Code, e.Hint)
}

func (e *RejectionError) Unwrap() error { return ErrRejected }
