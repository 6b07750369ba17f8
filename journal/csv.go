package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rustyeddy/riskguard/broker"
	"github.com/rustyeddy/riskguard/orchestrator"
)

var (
	fillHeader  = []string{"order_id", "symbol", "side", "notional", "entry_price", "exit_price", "realized_pl", "reason", "close_time"}
	cycleHeader = []string{"cycle_id", "started_at", "status", "tier", "complexity", "equity", "submitted", "approved", "blocked", "failed", "aborted", "next_interval_s"}
)

// CSVJournal appends to two CSV files. Existing files are kept and a
// header is only written to an empty file.
type CSVJournal struct {
	mu     sync.Mutex
	fills  *csv.Writer
	cycles *csv.Writer
	ff, cf *os.File
}

func NewCSV(fillsPath, cyclesPath string) (*CSVJournal, error) {
	ff, fw, err := openCSV(fillsPath, fillHeader)
	if err != nil {
		return nil, err
	}
	cf, cw, err := openCSV(cyclesPath, cycleHeader)
	if err != nil {
		ff.Close()
		return nil, err
	}
	return &CSVJournal{fills: fw, cycles: cw, ff: ff, cf: cf}, nil
}

func openCSV(path string, header []string) (*os.File, *csv.Writer, error) {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	size, err := fh.Seek(0, io.SeekEnd)
	if err != nil {
		fh.Close()
		return nil, nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	w := csv.NewWriter(fh)
	if size == 0 {
		if err := w.Write(header); err != nil {
			fh.Close()
			return nil, nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			fh.Close()
			return nil, nil, err
		}
	}
	return fh, w, nil
}

func (j *CSVJournal) RecordFill(fl broker.Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return writeRow(j.fills, []string{
		fl.OrderID,
		fl.Symbol,
		string(fl.Side),
		f(fl.Notional),
		f(fl.Entry),
		f(fl.Exit),
		f(fl.PnL),
		fl.Reason,
		fl.At.UTC().Format(time.RFC3339),
	})
}

func (j *CSVJournal) RecordCycle(res orchestrator.CycleResult) error {
	counts := map[orchestrator.Status]int{}
	for _, d := range res.Decisions {
		counts[d.Status]++
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return writeRow(j.cycles, []string{
		res.ID,
		res.StartedAt.UTC().Format(time.RFC3339),
		res.Status,
		res.Tier,
		f(res.Complexity),
		f(res.Equity),
		strconv.Itoa(counts[orchestrator.StatusSubmitted]),
		strconv.Itoa(counts[orchestrator.StatusApproved]),
		strconv.Itoa(counts[orchestrator.StatusBlocked]),
		strconv.Itoa(counts[orchestrator.StatusFailed]),
		strconv.Itoa(counts[orchestrator.StatusAborted]),
		strconv.Itoa(int(res.NextInterval / time.Second)),
	})
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.fills.Flush()
	if err := j.fills.Error(); err != nil {
		return err
	}
	j.cycles.Flush()
	if err := j.cycles.Error(); err != nil {
		return err
	}

	if err := j.ff.Close(); err != nil {
		return err
	}
	return j.cf.Close()
}

func writeRow(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
