package risk

import (
	"sort"
	"time"
)

// State is the mutable risk bookkeeping for one trading account.
type State struct {
	RealizedPnL    float64              `json:"realized_pnl"`
	SymbolExposure map[string]float64   `json:"symbol_exposure"` // always >= 0
	LastOrderAt    map[string]time.Time `json:"last_order_ts"`
	EquityPeak     float64              `json:"equity_peak"` // only rises, except on explicit reset
}

func NewState() State {
	return State{
		SymbolExposure: make(map[string]float64),
		LastOrderAt:    make(map[string]time.Time),
	}
}

// Clone returns a deep copy safe to hand to callers.
func (s State) Clone() State {
	out := State{
		RealizedPnL:    s.RealizedPnL,
		EquityPeak:     s.EquityPeak,
		SymbolExposure: make(map[string]float64, len(s.SymbolExposure)),
		LastOrderAt:    make(map[string]time.Time, len(s.LastOrderAt)),
	}
	for k, v := range s.SymbolExposure {
		out.SymbolExposure[k] = v
	}
	for k, v := range s.LastOrderAt {
		out.LastOrderAt[k] = v
	}
	return out
}

// TotalExposure sums open notional across symbols.
func (s State) TotalExposure() float64 {
	var total float64
	for _, v := range s.SymbolExposure {
		total += v
	}
	return total
}

// Symbols returns every symbol with recorded exposure or order time, sorted.
func (s State) Symbols() []string {
	seen := make(map[string]struct{}, len(s.SymbolExposure)+len(s.LastOrderAt))
	for k := range s.SymbolExposure {
		seen[k] = struct{}{}
	}
	for k := range s.LastOrderAt {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *State) ensureMaps() {
	if s.SymbolExposure == nil {
		s.SymbolExposure = make(map[string]float64)
	}
	if s.LastOrderAt == nil {
		s.LastOrderAt = make(map[string]time.Time)
	}
}

func (s *State) commit(symbol string, notional float64, now time.Time) {
	s.ensureMaps()
	s.SymbolExposure[symbol] += abs(notional)
	s.LastOrderAt[symbol] = now
}

func (s *State) registerFill(symbol string, pnl, notional float64) {
	s.ensureMaps()
	s.SymbolExposure[symbol] = max(s.SymbolExposure[symbol]-abs(notional), 0)
	s.RealizedPnL += pnl
}

// resetDaily leaves SymbolExposure and EquityPeak untouched.
func (s *State) resetDaily() {
	s.RealizedPnL = 0
	s.LastOrderAt = make(map[string]time.Time)
}
