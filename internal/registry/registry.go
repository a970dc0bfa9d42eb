// Package registry keeps the bounded store of in-flight lag signals and the
// running accuracy accounting over their recorded outcomes.
package registry

import (
	"sync"

	"github.com/rs/zerolog"

	"lagbot-go/internal/metrics"
	"lagbot-go/internal/signal"
)

const defaultMaxPending = 1000

// Stats is a point-in-time copy of the aggregate signal counters.
type Stats struct {
	TotalSignals   int64   `json:"total_signals"`
	TotalOutcomes  int64   `json:"total_outcomes"`
	TotalCorrect   int64   `json:"total_correct"`
	SignalsDropped int64   `json:"signals_dropped"`
	Accuracy       float64 `json:"accuracy"`
}

// Registry assigns strictly increasing ids to created signals and holds at
// most maxPending of them. Inserting beyond capacity evicts the lowest-id
// (oldest) signal and counts the drop; evictions are expected under load,
// never silent.
type Registry struct {
	mu         sync.Mutex
	log        zerolog.Logger
	maxPending int

	nextID  int64
	order   []int64 // id insertion order, pruned as signals are cleared
	pending map[int64]*signal.LagSignal

	generated int64
	outcomes  int64
	correct   int64
	dropped   int64
}

// New builds an empty registry with the given capacity.
func New(maxPending int, log zerolog.Logger) *Registry {
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	return &Registry{
		log:        log,
		maxPending: maxPending,
		pending:    make(map[int64]*signal.LagSignal, maxPending),
	}
}

// Create registers a signal, assigns its id, and returns it.
func (r *Registry) Create(sig signal.LagSignal) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.pending) >= r.maxPending {
		r.evictOldestLocked()
	}

	r.nextID++
	sig.ID = r.nextID
	r.pending[sig.ID] = &sig
	r.order = append(r.order, sig.ID)
	r.generated++

	metrics.SignalsTotal.WithLabelValues(sig.Symbol, string(sig.Direction)).Inc()
	return sig.ID
}

// evictOldestLocked drops the lowest-id pending signal. ClearPersisted keeps
// the queue in sync with the pending map, so the head is always live.
func (r *Registry) evictOldestLocked() {
	if len(r.order) == 0 {
		return
	}
	id := r.order[0]
	r.order = r.order[1:]
	delete(r.pending, id)
	r.dropped++
	metrics.SignalsDropped.Inc()
	r.log.Debug().Int64("id", id).Msg("evicted oldest pending signal")
}

// RecordOutcome scores a signal against the realized direction and attaches
// the supplied pnl. An unknown id is logged and ignored; the signal may have
// been evicted under load. Returns whether the outcome was applied.
func (r *Registry) RecordOutcome(id int64, outcome signal.Direction, pnl float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sig, ok := r.pending[id]
	if !ok {
		r.log.Warn().Int64("id", id).Msg("outcome for unknown signal id, ignoring")
		return false
	}
	if sig.PredictionCorrect != nil {
		r.log.Warn().Int64("id", id).Msg("outcome already recorded, ignoring")
		return false
	}

	correct := 0
	if sig.Direction == outcome {
		correct = 1
	}
	sig.OutcomeDirection = &outcome
	sig.PredictionCorrect = &correct
	sig.PnL = &pnl

	r.outcomes++
	label := "false"
	if correct == 1 {
		r.correct++
		label = "true"
	}
	metrics.OutcomesTotal.WithLabelValues(label).Inc()
	return true
}

// AccuracyStats returns the aggregate counters; accuracy is 0 until the
// first outcome lands.
func (r *Registry) AccuracyStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		TotalSignals:   r.generated,
		TotalOutcomes:  r.outcomes,
		TotalCorrect:   r.correct,
		SignalsDropped: r.dropped,
	}
	if r.outcomes > 0 {
		stats.Accuracy = float64(r.correct) / float64(r.outcomes)
	}
	return stats
}

// Pending returns copies of every held signal in id order, for an external
// persistence collaborator to flush.
func (r *Registry) Pending() []signal.LagSignal {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]signal.LagSignal, 0, len(r.pending))
	for _, id := range r.order {
		if sig, ok := r.pending[id]; ok {
			out = append(out, *sig)
		}
	}
	return out
}

// PendingCount reports how many signals are currently held.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// ClearPersisted drops the given ids after the collaborator has durably
// stored them. Unknown ids are ignored. The id queue is pruned in the same
// pass so steady create/flush churn cannot grow it past the pending set.
func (r *Registry) ClearPersisted(ids []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := false
	for _, id := range ids {
		if _, ok := r.pending[id]; ok {
			delete(r.pending, id)
			removed = true
		}
	}
	if !removed {
		return
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if _, ok := r.pending[id]; ok {
			kept = append(kept, id)
		}
	}
	r.order = kept
}
