package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQL is a Store on database/sql. The same queries run on sqlite3 and
// postgres; only placeholders differ.
type SQL struct {
	db     *sql.DB
	driver string

	// serializes Append so seq allocation cannot race
	appendMu sync.Mutex
	now      func() time.Time
}

func NewSQL(driver, dsn string) (*SQL, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// a single connection keeps ":memory:" databases coherent and
		// avoids SQLITE_BUSY between our own writers
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQL{db: db, driver: driver, now: time.Now}, nil
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM kv WHERE key = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return []byte(v), nil
}

func (s *SQL) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`),
		key, string(value), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (s *SQL) Append(ctx context.Context, stream string, value []byte) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append %q: %w", stream, err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(MAX(seq), 0) FROM log WHERE stream = ?`), stream).Scan(&seq)
	if err != nil {
		return fmt.Errorf("append %q: next seq: %w", stream, err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO log (stream, seq, value, created_at)
		VALUES (?, ?, ?, ?)`),
		stream, seq+1, string(value), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append %q: %w", stream, err)
	}
	return tx.Commit()
}

func (s *SQL) Range(ctx context.Context, stream string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT value FROM log
		WHERE stream = ?
		ORDER BY seq ASC`), stream)
	if err != nil {
		return nil, fmt.Errorf("range %q: %w", stream, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, []byte(v))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

// rebind rewrites '?' placeholders to '$n' for postgres.
func (s *SQL) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
