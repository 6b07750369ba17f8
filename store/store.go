// Package store persists riskguard state behind a small key-value
// interface with append-only streams for history.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when a key has never been written.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence collaborator used by the risk manager.
// Values are opaque bytes; callers own the encoding.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error

	// Append adds value to the end of stream. Streams are never rewritten.
	Append(ctx context.Context, stream string, value []byte) error
	// Range returns every value in stream in insertion order.
	Range(ctx context.Context, stream string) ([][]byte, error)

	Close() error
}

// Config selects and configures a Store implementation.
type Config struct {
	Driver string `json:"driver" yaml:"driver"` // "memory", "file", "sqlite3" or "postgres"
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// Open builds the Store described by cfg.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store: file driver requires a path")
		}
		return NewFile(cfg.DSN)
	case DriverSQLite, DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store: %s driver requires a dsn", cfg.Driver)
		}
		return NewSQL(cfg.Driver, cfg.DSN)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
