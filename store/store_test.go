package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()

	dir := t.TempDir()

	f, err := NewFile(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	s, err := NewSQL(DriverSQLite, filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"file":   f,
		"sqlite": s,
	}
}

func TestStoreGetPut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, st := range openAll(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			_, err := st.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, st.Put(ctx, "risk.state", []byte(`{"a":1}`)))
			got, err := st.Get(ctx, "risk.state")
			require.NoError(t, err)
			assert.Equal(t, `{"a":1}`, string(got))

			require.NoError(t, st.Put(ctx, "risk.state", []byte(`{"a":2}`)))
			got, err = st.Get(ctx, "risk.state")
			require.NoError(t, err)
			assert.Equal(t, `{"a":2}`, string(got))
		})
	}
}

func TestStoreAppendRange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, st := range openAll(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			empty, err := st.Range(ctx, "history")
			require.NoError(t, err)
			assert.Empty(t, empty)

			for _, v := range []string{"v1", "v2", "v3"} {
				require.NoError(t, st.Append(ctx, "history", []byte(v)))
			}
			require.NoError(t, st.Append(ctx, "other", []byte("x")))

			got, err := st.Range(ctx, "history")
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, "v1", string(got[0]))
			assert.Equal(t, "v2", string(got[1]))
			assert.Equal(t, "v3", string(got[2]))
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMemory()
	v := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", v))
	v[0] = 'z'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestFileSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "state.json")
	f, err := NewFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Put(ctx, "k", []byte("v")))
	require.NoError(t, f.Append(ctx, "s", []byte("1")))
	require.NoError(t, f.Close())

	again, err := NewFile(path)
	require.NoError(t, err)

	got, err := again.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	hist, err := again.Range(ctx, "s")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "1", string(hist[0]))
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQL(DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('kv','log')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["kv"])
	assert.True(t, found["log"])
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQL(DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "risk.config", []byte(`{"version":2}`)))
	require.NoError(t, s.Append(ctx, "risk.config.history", []byte("a")))
	require.NoError(t, s.Append(ctx, "risk.config.history", []byte("b")))
	require.NoError(t, s.Close())

	again, err := NewSQL(DriverSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = again.Close() })

	got, err := again.Get(ctx, "risk.config")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":2}`, string(got))

	require.NoError(t, again.Append(ctx, "risk.config.history", []byte("c")))
	hist, err := again.Range(ctx, "risk.config.history")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "c", string(hist[2]))
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := &SQL{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", pg.rebind("SELECT a FROM t WHERE b = ? AND c = ?"))

	lite := &SQL{driver: DriverSQLite}
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func TestOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default memory", Config{}, false},
		{"memory", Config{Driver: "memory"}, false},
		{"file", Config{Driver: "file", DSN: filepath.Join(t.TempDir(), "s.json")}, false},
		{"sqlite", Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "s.db")}, false},
		{"file without path", Config{Driver: "file"}, true},
		{"postgres without dsn", Config{Driver: DriverPostgres}, true},
		{"unknown", Config{Driver: "redis", DSN: "x"}, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st, err := Open(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, st.Close())
		})
	}
}
