// Package engine owns the per-symbol buffer pairs and turns the detected
// spot→oracle lag plus fresh spot moves into directional signals.
package engine

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lagbot-go/internal/buffer"
	"lagbot-go/internal/metrics"
	"lagbot-go/internal/registry"
	"lagbot-go/internal/signal"
	"lagbot-go/internal/stats"
)

// Config fixes the engine's knobs for its lifetime.
type Config struct {
	Symbols             []string
	BufferMaxSize       int
	BufferMaxAgeMs      int64
	CleanupInterval     int
	TauCandidatesMs     []int64
	ToleranceMs         int64
	SpotMoveWindowMs    int64
	MinMoveMagnitude    float64
	MinCorrelation      float64
	StabilityWindowSize int
	StabilityThreshold  float64
	StaleThresholdMs    int64
}

func (c Config) withDefaults() Config {
	if len(c.TauCandidatesMs) == 0 {
		c.TauCandidatesMs = []int64{0, 500, 1000, 2000, 3000, 5000}
	}
	if c.ToleranceMs <= 0 {
		c.ToleranceMs = 250
	}
	if c.SpotMoveWindowMs <= 0 {
		c.SpotMoveWindowMs = 5000
	}
	if c.MinMoveMagnitude <= 0 {
		c.MinMoveMagnitude = 0.001
	}
	if c.MinCorrelation <= 0 {
		c.MinCorrelation = 0.6
	}
	if c.StabilityWindowSize <= 0 {
		c.StabilityWindowSize = 20
	}
	if c.StabilityThreshold <= 0 {
		c.StabilityThreshold = 250_000 // tau variance in ms²
	}
	if c.StaleThresholdMs <= 0 {
		c.StaleThresholdMs = 2000
	}
	return c
}

// symbolState is everything the engine tracks for one symbol. Cross-symbol
// state is fully independent.
type symbolState struct {
	spot       *buffer.Series
	oracle     *buffer.Series
	tauHistory []int64
	lastResult *stats.Result
}

// Engine routes ticks into buffer pairs, re-runs the optimal-lag search on a
// caller-chosen cadence, and derives signals from the cached analysis. One
// mutex serializes tick ingestion and analysis; nothing here blocks or
// performs I/O.
type Engine struct {
	cfg Config
	log zerolog.Logger
	reg *registry.Registry

	mu      sync.Mutex
	symbols map[string]*symbolState
}

// New constructs an engine tracking exactly the configured symbol set;
// symbols are registered up front, never lazily.
func New(cfg Config, reg *registry.Registry, log zerolog.Logger) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		symbols: make(map[string]*symbolState, len(cfg.Symbols)),
	}
	for _, sym := range cfg.Symbols {
		if sym == "" {
			continue
		}
		e.symbols[sym] = &symbolState{
			spot:   buffer.NewSeries(cfg.BufferMaxSize, cfg.BufferMaxAgeMs, cfg.CleanupInterval),
			oracle: buffer.NewSeries(cfg.BufferMaxSize, cfg.BufferMaxAgeMs, cfg.CleanupInterval),
		}
	}
	return e
}

// Registry exposes the signal registry shared with downstream consumers.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Symbols returns the tracked symbol set in sorted order. The tracked map is
// fixed at construction, so reading it needs no lock.
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.symbols))
	for sym := range e.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// HandleTick routes a tick to the matching feed buffer. Garbage is routine in
// market data streams, so rejects are counted and debug-logged, never errors.
func (e *Engine) HandleTick(t signal.Tick) {
	switch t.Feed {
	case signal.FeedSpot:
		e.HandleSpotTick(t)
	case signal.FeedOracle:
		e.HandleOracleTick(t)
	default:
		metrics.TicksRejected.WithLabelValues(t.Symbol, string(t.Feed)).Inc()
		e.log.Debug().Str("sym", t.Symbol).Str("feed", string(t.Feed)).Msg("tick for unknown feed dropped")
	}
}

// HandleSpotTick ingests a spot feed sample.
func (e *Engine) HandleSpotTick(t signal.Tick) {
	e.ingest(t, signal.FeedSpot)
}

// HandleOracleTick ingests an oracle feed sample.
func (e *Engine) HandleOracleTick(t signal.Tick) {
	e.ingest(t, signal.FeedOracle)
}

func (e *Engine) ingest(t signal.Tick, feed signal.FeedKind) {
	e.mu.Lock()
	state := e.symbols[t.Symbol]
	if state == nil {
		e.mu.Unlock()
		metrics.TicksRejected.WithLabelValues(t.Symbol, string(feed)).Inc()
		e.log.Debug().Str("sym", t.Symbol).Str("feed", string(feed)).Msg("tick for untracked symbol dropped")
		return
	}
	series := state.spot
	if feed == signal.FeedOracle {
		series = state.oracle
	}
	ok := series.Add(t.Price, t.Ts.UnixMilli())
	e.mu.Unlock()

	if !ok {
		metrics.TicksRejected.WithLabelValues(t.Symbol, string(feed)).Inc()
		e.log.Debug().Str("sym", t.Symbol).Str("feed", string(feed)).Float64("px", t.Price).Msg("invalid or out-of-order tick dropped")
		return
	}
	metrics.TicksTotal.WithLabelValues(t.Symbol, string(feed)).Inc()
}

// Analyze re-runs the optimal-lag search for one symbol. On success the
// result is cached and τ* is appended to the bounded stability history. On
// failure the previous cache stays available for signal generation.
func (e *Engine) Analyze(symbol string) *stats.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.symbols[symbol]
	if state == nil {
		return nil
	}

	res := stats.FindOptimalLag(state.spot, state.oracle, e.cfg.TauCandidatesMs, e.cfg.ToleranceMs)
	if res == nil {
		return nil
	}

	state.tauHistory = append(state.tauHistory, res.TauStarMs)
	if over := len(state.tauHistory) - e.cfg.StabilityWindowSize; over > 0 {
		state.tauHistory = state.tauHistory[over:]
	}
	state.lastResult = res

	label := "false"
	if res.Significant {
		label = "true"
	}
	metrics.AnalysesTotal.WithLabelValues(symbol, label).Inc()

	e.log.Debug().
		Str("sym", symbol).
		Int64("tau_ms", res.TauStarMs).
		Float64("corr", res.Correlation).
		Float64("p", res.PValue).
		Int("n", res.SampleSize).
		Msg("lag analysis")

	copied := *res
	return &copied
}

// Stability reports the population variance of the recent τ* history and
// whether it sits under the configured threshold. An empty history carries no
// evidence of instability and is reported stable with zero variance.
func (e *Engine) Stability(symbol string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.symbols[symbol]
	if state == nil || len(state.tauHistory) == 0 {
		return 0, true
	}

	var sum float64
	for _, tau := range state.tauHistory {
		sum += float64(tau)
	}
	mean := sum / float64(len(state.tauHistory))

	var variance float64
	for _, tau := range state.tauHistory {
		d := float64(tau) - mean
		variance += d * d
	}
	variance /= float64(len(state.tauHistory))
	return variance, variance < e.cfg.StabilityThreshold
}

// View is an emit-eligible signal derived from current state. Consumers that
// act on it register it through the registry themselves.
type View struct {
	Symbol      string
	TsMs        int64
	Direction   signal.Direction
	TauMs       int64
	Correlation float64
	Confidence  float64
	SpotPrice   float64
	OraclePrice float64
	SpotMove    float64
}

// LagSignal evaluates the signal gates for one symbol at the given time. It
// is a pure read: no gate failure or success mutates anything. Gate order:
// enough recent spot samples, a large-enough spot move, a stale oracle, a
// significant cached analysis, and a correlation above the floor.
func (e *Engine) LagSignal(symbol string, now time.Time) (View, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.symbols[symbol]
	if state == nil {
		return View{}, false
	}
	nowMs := now.UnixMilli()

	window := state.spot.Range(nowMs-e.cfg.SpotMoveWindowMs, nowMs)
	if len(window) < 2 {
		return View{}, false
	}
	first, last := window[0], window[len(window)-1]
	move := (last.Price - first.Price) / first.Price
	if math.IsNaN(move) || math.IsInf(move, 0) || math.Abs(move) < e.cfg.MinMoveMagnitude {
		return View{}, false
	}

	oracleNewest, ok := state.oracle.NewestTimestamp()
	if !ok || nowMs-oracleNewest <= e.cfg.StaleThresholdMs {
		// Oracle already caught up; nothing left to front-run.
		return View{}, false
	}

	res := state.lastResult
	if res == nil || !res.Significant {
		return View{}, false
	}
	if math.Abs(res.Correlation) < e.cfg.MinCorrelation {
		return View{}, false
	}

	direction := signal.DirectionUp
	if move < 0 {
		direction = signal.DirectionDown
	}

	oraclePoints := state.oracle.All()
	oraclePrice := oraclePoints[len(oraclePoints)-1].Price

	return View{
		Symbol:      symbol,
		TsMs:        nowMs,
		Direction:   direction,
		TauMs:       res.TauStarMs,
		Correlation: res.Correlation,
		Confidence:  math.Abs(res.Correlation),
		SpotPrice:   last.Price,
		OraclePrice: oraclePrice,
		SpotMove:    move,
	}, true
}
