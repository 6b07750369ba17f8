package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskguard/broker"
	"github.com/rustyeddy/riskguard/orchestrator"
	"github.com/rustyeddy/riskguard/risk"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return rows
}

func paths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "fills.csv"), filepath.Join(dir, "cycles.csv")
}

func TestCSVJournalHeaders(t *testing.T) {
	t.Parallel()

	fills, cycles := paths(t)
	j, err := NewCSV(fills, cycles)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Equal(t, [][]string{fillHeader}, readCSV(t, fills))
	assert.Equal(t, [][]string{cycleHeader}, readCSV(t, cycles))
}

func TestCSVJournalRecordFill(t *testing.T) {
	t.Parallel()

	fills, cycles := paths(t)
	j, err := NewCSV(fills, cycles)
	require.NoError(t, err)

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, j.RecordFill(broker.Fill{
		OrderID:  "01J00000000000000000000000",
		Symbol:   "ETHUSDT",
		Side:     risk.SideBuy,
		Notional: 50,
		Entry:    3000,
		Exit:     3120.5,
		PnL:      2.008333,
		Reason:   "TakeProfit",
		At:       at,
	}))
	require.NoError(t, j.Close())

	rows := readCSV(t, fills)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{
		"01J00000000000000000000000",
		"ETHUSDT",
		"buy",
		"50.000000",
		"3000.000000",
		"3120.500000",
		"2.008333",
		"TakeProfit",
		at.Format(time.RFC3339),
	}, rows[1])
}

func TestCSVJournalRecordCycle(t *testing.T) {
	t.Parallel()

	fills, cycles := paths(t)
	j, err := NewCSV(fills, cycles)
	require.NoError(t, err)

	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, j.RecordCycle(orchestrator.CycleResult{
		ID:         "C1",
		StartedAt:  start,
		Status:     orchestrator.CycleAborted,
		Tier:       "mini",
		Complexity: 1.25,
		Equity:     10000,
		Decisions: []orchestrator.Decision{
			{Status: orchestrator.StatusSubmitted},
			{Status: orchestrator.StatusBlocked},
			{Status: orchestrator.StatusSubmitted},
			{Status: orchestrator.StatusAborted},
		},
		NextInterval: 90 * time.Second,
	}))
	require.NoError(t, j.Close())

	rows := readCSV(t, cycles)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{
		"C1", start.Format(time.RFC3339), "aborted", "mini", "1.250000", "10000.000000",
		"2", "0", "1", "0", "1", "90",
	}, rows[1])
}

func TestCSVJournalAppendsAcrossReopen(t *testing.T) {
	t.Parallel()

	fills, cycles := paths(t)
	for i := 0; i < 2; i++ {
		j, err := NewCSV(fills, cycles)
		require.NoError(t, err)
		require.NoError(t, j.RecordFill(broker.Fill{OrderID: "X", Symbol: "BTCUSDT", Side: risk.SideSell}))
		require.NoError(t, j.Close())
	}

	rows := readCSV(t, fills)
	require.Len(t, rows, 3, "one header, two rows")
	assert.Equal(t, fillHeader, rows[0])
}

func TestNewCSVBadPath(t *testing.T) {
	t.Parallel()

	_, err := NewCSV(filepath.Join(t.TempDir(), "missing", "fills.csv"), filepath.Join(t.TempDir(), "cycles.csv"))
	assert.Error(t, err)
}
