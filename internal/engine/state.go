package engine

import (
	"sort"

	"lagbot-go/internal/registry"
	"lagbot-go/internal/stats"
)

// SymbolState is the observable snapshot of one tracked symbol.
type SymbolState struct {
	Symbol          string        `json:"symbol"`
	SpotSamples     int           `json:"spot_samples"`
	OracleSamples   int           `json:"oracle_samples"`
	SpotOldestMs    int64         `json:"spot_oldest_ms"`
	SpotNewestMs    int64         `json:"spot_newest_ms"`
	OracleOldestMs  int64         `json:"oracle_oldest_ms"`
	OracleNewestMs  int64         `json:"oracle_newest_ms"`
	LastAnalysis    *stats.Result `json:"last_analysis,omitempty"`
	TauVariance     float64       `json:"tau_variance"`
	TauStable       bool          `json:"tau_stable"`
	TauHistoryDepth int           `json:"tau_history_depth"`
}

// State is a structured snapshot of the whole engine for external
// observability or export.
type State struct {
	Symbols []SymbolState  `json:"symbols"`
	Signals registry.Stats `json:"signals"`
}

// State assembles the snapshot under the engine lock; buffer contents are
// summarized, never exposed.
func (e *Engine) State() State {
	e.mu.Lock()

	out := State{Symbols: make([]SymbolState, 0, len(e.symbols))}
	for sym, st := range e.symbols {
		entry := SymbolState{
			Symbol:          sym,
			SpotSamples:     st.spot.Len(),
			OracleSamples:   st.oracle.Len(),
			TauHistoryDepth: len(st.tauHistory),
		}
		if ts, ok := st.spot.OldestTimestamp(); ok {
			entry.SpotOldestMs = ts
		}
		if ts, ok := st.spot.NewestTimestamp(); ok {
			entry.SpotNewestMs = ts
		}
		if ts, ok := st.oracle.OldestTimestamp(); ok {
			entry.OracleOldestMs = ts
		}
		if ts, ok := st.oracle.NewestTimestamp(); ok {
			entry.OracleNewestMs = ts
		}
		if st.lastResult != nil {
			copied := *st.lastResult
			entry.LastAnalysis = &copied
		}
		out.Symbols = append(out.Symbols, entry)
	}
	e.mu.Unlock()

	// Stability takes the lock itself; fill it in after releasing.
	for i := range out.Symbols {
		out.Symbols[i].TauVariance, out.Symbols[i].TauStable = e.Stability(out.Symbols[i].Symbol)
	}
	sort.Slice(out.Symbols, func(i, j int) bool {
		return out.Symbols[i].Symbol < out.Symbols[j].Symbol
	})

	if e.reg != nil {
		out.Signals = e.reg.AccuracyStats()
	}
	return out
}
