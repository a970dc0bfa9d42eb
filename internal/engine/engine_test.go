package engine

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lagbot-go/internal/registry"
	"lagbot-go/internal/signal"
)

// Aperiodic upward walk; shifted alignments correlate strictly worse than the
// true lag.
var wigglePrices = []float64{
	100, 101.5, 100.8, 102.3, 103.1, 102.2, 104.0, 103.1,
	105.2, 106.4, 105.1, 107.3, 106.2, 108.5, 109.0,
}

const baseMs = int64(1_700_000_000_000)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := Config{
		Symbols:             []string{"BTCUSD"},
		BufferMaxSize:       512,
		BufferMaxAgeMs:      600_000,
		CleanupInterval:     100,
		TauCandidatesMs:     []int64{0, 1000, 2000, 3000},
		ToleranceMs:         100,
		SpotMoveWindowMs:    5000,
		MinMoveMagnitude:    0.001,
		MinCorrelation:      0.6,
		StabilityWindowSize: 5,
		StabilityThreshold:  250_000,
		StaleThresholdMs:    2000,
	}
	return New(cfg, registry.New(100, zerolog.Nop()), zerolog.Nop())
}

func tick(symbol string, feed signal.FeedKind, price float64, tsMs int64) signal.Tick {
	return signal.Tick{Symbol: symbol, Price: price, Feed: feed, Ts: time.UnixMilli(tsMs)}
}

// loadLaggedFeeds fills the spot buffer with the wiggle path and re-emits the
// same prices on the oracle feed delayed by lagMs.
func loadLaggedFeeds(e *Engine, lagMs int64) {
	for i, px := range wigglePrices {
		e.HandleSpotTick(tick("BTCUSD", signal.FeedSpot, px, baseMs+int64(i)*1000))
	}
	for i := 0; i < 13; i++ {
		e.HandleOracleTick(tick("BTCUSD", signal.FeedOracle, wigglePrices[i], baseMs+int64(i)*1000+lagMs))
	}
}

func TestSymbolsMatchesTrackedSet(t *testing.T) {
	e := New(Config{
		Symbols: []string{"ETHUSD", "", "BTCUSD", "BTCUSD"},
	}, registry.New(10, zerolog.Nop()), zerolog.Nop())

	syms := e.Symbols()
	if len(syms) != 2 || syms[0] != "BTCUSD" || syms[1] != "ETHUSD" {
		t.Fatalf("expected deduplicated sorted tracked symbols, got %+v", syms)
	}
}

func TestHandleTickRoutesAndDrops(t *testing.T) {
	e := testEngine(t)

	e.HandleTick(tick("BTCUSD", signal.FeedSpot, 100, baseMs))
	e.HandleTick(tick("BTCUSD", signal.FeedOracle, 100, baseMs))
	e.HandleTick(tick("DOGEUSD", signal.FeedSpot, 1, baseMs))   // untracked symbol
	e.HandleTick(tick("BTCUSD", signal.FeedSpot, -5, baseMs))   // invalid price
	e.HandleTick(tick("BTCUSD", "candles", 100, baseMs))        // unknown feed
	e.HandleTick(tick("BTCUSD", signal.FeedSpot, 101, baseMs-1000)) // out of order

	state := e.State()
	if len(state.Symbols) != 1 {
		t.Fatalf("expected one tracked symbol, got %d", len(state.Symbols))
	}
	if state.Symbols[0].SpotSamples != 1 || state.Symbols[0].OracleSamples != 1 {
		t.Fatalf("expected exactly the valid ticks buffered, got %+v", state.Symbols[0])
	}
}

func TestAnalyzeDetectsLagAndCaches(t *testing.T) {
	e := testEngine(t)
	loadLaggedFeeds(e, 2000)

	res := e.Analyze("BTCUSD")
	if res == nil {
		t.Fatalf("expected analysis result")
	}
	if res.TauStarMs != 2000 {
		t.Fatalf("expected tau*=2000, got %d", res.TauStarMs)
	}
	if math.Abs(res.Correlation-1) > 1e-6 || !res.Significant {
		t.Fatalf("expected significant near-perfect correlation, got %+v", res)
	}

	state := e.State()
	if state.Symbols[0].LastAnalysis == nil || state.Symbols[0].LastAnalysis.TauStarMs != 2000 {
		t.Fatalf("expected cached analysis in state snapshot")
	}
}

func TestAnalyzeFailureKeepsStaleCache(t *testing.T) {
	cfg := Config{
		Symbols:          []string{"BTCUSD"},
		BufferMaxSize:    512,
		BufferMaxAgeMs:   300_000,
		CleanupInterval:  1, // evict on every insert so one late tick empties the window
		TauCandidatesMs:  []int64{0, 1000, 2000, 3000},
		ToleranceMs:      100,
		SpotMoveWindowMs: 5000,
	}
	e := New(cfg, registry.New(100, zerolog.Nop()), zerolog.Nop())
	loadLaggedFeeds(e, 2000)

	if res := e.Analyze("BTCUSD"); res == nil {
		t.Fatalf("seed analysis failed")
	}

	// A spot tick far in the future ages out the whole spot window, so the
	// next analysis has too little data and must fail without touching the
	// cached result.
	e.HandleSpotTick(tick("BTCUSD", signal.FeedSpot, 110, baseMs+700_000))
	if res := e.Analyze("BTCUSD"); res != nil {
		t.Fatalf("expected failed re-analysis, got %+v", res)
	}

	state := e.State()
	if state.Symbols[0].LastAnalysis == nil || state.Symbols[0].LastAnalysis.TauStarMs != 2000 {
		t.Fatalf("cached analysis must survive failed re-analysis")
	}

	if res := e.Analyze("UNKNOWN"); res != nil {
		t.Fatalf("expected nil for untracked symbol")
	}
}

func TestStability(t *testing.T) {
	e := testEngine(t)

	variance, stable := e.Stability("BTCUSD")
	if variance != 0 || !stable {
		t.Fatalf("empty history must be stable with zero variance, got %v %v", variance, stable)
	}

	loadLaggedFeeds(e, 2000)
	for i := 0; i < 3; i++ {
		if res := e.Analyze("BTCUSD"); res == nil {
			t.Fatalf("analysis %d failed", i)
		}
	}
	variance, stable = e.Stability("BTCUSD")
	if variance != 0 || !stable {
		t.Fatalf("constant tau history must have zero variance, got %v stable=%v", variance, stable)
	}

	state := e.State()
	if state.Symbols[0].TauHistoryDepth != 3 {
		t.Fatalf("expected 3 tau samples, got %d", state.Symbols[0].TauHistoryDepth)
	}
}

func TestStabilityWindowIsFIFOBounded(t *testing.T) {
	e := testEngine(t) // StabilityWindowSize: 5
	loadLaggedFeeds(e, 2000)
	for i := 0; i < 8; i++ {
		if res := e.Analyze("BTCUSD"); res == nil {
			t.Fatalf("analysis %d failed", i)
		}
	}
	if depth := e.State().Symbols[0].TauHistoryDepth; depth != 5 {
		t.Fatalf("expected tau history capped at 5, got %d", depth)
	}
}

func TestLagSignalEmitsAfterStaleOracle(t *testing.T) {
	e := testEngine(t)
	loadLaggedFeeds(e, 2000)
	if res := e.Analyze("BTCUSD"); res == nil {
		t.Fatalf("analysis failed")
	}

	// Newest oracle sample sits at base+14000; three seconds later the oracle
	// is stale and the last 5s of spot shows an upward move.
	now := time.UnixMilli(baseMs + 17_000)
	view, ok := e.LagSignal("BTCUSD", now)
	if !ok {
		t.Fatalf("expected a signal")
	}
	if view.Direction != signal.DirectionUp {
		t.Fatalf("expected up direction, got %s", view.Direction)
	}
	if view.TauMs != 2000 {
		t.Fatalf("expected tau 2000, got %d", view.TauMs)
	}
	if math.Abs(view.Confidence-math.Abs(view.Correlation)) > 1e-12 {
		t.Fatalf("confidence must equal |correlation|")
	}
	if view.SpotPrice != wigglePrices[len(wigglePrices)-1] {
		t.Fatalf("unexpected spot price %v", view.SpotPrice)
	}
	if view.OraclePrice != wigglePrices[12] {
		t.Fatalf("unexpected oracle price %v", view.OraclePrice)
	}
	if view.SpotMove <= 0 {
		t.Fatalf("expected positive spot move, got %v", view.SpotMove)
	}
}

func TestLagSignalBlockedByFreshOracle(t *testing.T) {
	e := testEngine(t)
	loadLaggedFeeds(e, 2000)
	if res := e.Analyze("BTCUSD"); res == nil {
		t.Fatalf("analysis failed")
	}

	// Oracle updated 500ms ago: fresh, so no edge regardless of correlation.
	now := time.UnixMilli(baseMs + 14_500)
	if _, ok := e.LagSignal("BTCUSD", now); ok {
		t.Fatalf("fresh oracle must block the signal")
	}
}

func TestLagSignalBlockedWithoutAnalysis(t *testing.T) {
	e := testEngine(t)
	loadLaggedFeeds(e, 2000)

	now := time.UnixMilli(baseMs + 17_000)
	if _, ok := e.LagSignal("BTCUSD", now); ok {
		t.Fatalf("missing analysis must block the signal")
	}
}

func TestLagSignalBlockedBySmallMove(t *testing.T) {
	e := testEngine(t)
	loadLaggedFeeds(e, 2000)
	if res := e.Analyze("BTCUSD"); res == nil {
		t.Fatalf("analysis failed")
	}

	// Two flat spot ticks dominate the recent window: move is zero.
	e.HandleSpotTick(tick("BTCUSD", signal.FeedSpot, 109.0, baseMs+20_000))
	e.HandleSpotTick(tick("BTCUSD", signal.FeedSpot, 109.0, baseMs+21_000))
	now := time.UnixMilli(baseMs + 22_000)
	if _, ok := e.LagSignal("BTCUSD", now); ok {
		t.Fatalf("flat spot window must block the signal")
	}
}

func TestLagSignalBlockedByThinSpotWindow(t *testing.T) {
	e := testEngine(t)
	loadLaggedFeeds(e, 2000)
	if res := e.Analyze("BTCUSD"); res == nil {
		t.Fatalf("analysis failed")
	}

	// 30s later the 5s spot window is empty.
	now := time.UnixMilli(baseMs + 44_000)
	if _, ok := e.LagSignal("BTCUSD", now); ok {
		t.Fatalf("empty spot window must block the signal")
	}
}

func TestLagSignalDownDirection(t *testing.T) {
	e := testEngine(t)
	loadLaggedFeeds(e, 2000)
	if res := e.Analyze("BTCUSD"); res == nil {
		t.Fatalf("analysis failed")
	}

	e.HandleSpotTick(tick("BTCUSD", signal.FeedSpot, 108.0, baseMs+15_000))
	e.HandleSpotTick(tick("BTCUSD", signal.FeedSpot, 105.0, baseMs+16_000))
	now := time.UnixMilli(baseMs + 17_000)
	view, ok := e.LagSignal("BTCUSD", now)
	if !ok {
		t.Fatalf("expected a signal")
	}
	if view.Direction != signal.DirectionDown {
		t.Fatalf("expected down direction, got %s", view.Direction)
	}
	if view.SpotMove >= 0 {
		t.Fatalf("expected negative move, got %v", view.SpotMove)
	}
}

func TestLagSignalIsPure(t *testing.T) {
	e := testEngine(t)
	loadLaggedFeeds(e, 2000)
	if res := e.Analyze("BTCUSD"); res == nil {
		t.Fatalf("analysis failed")
	}

	now := time.UnixMilli(baseMs + 17_000)
	before := e.State()
	if _, ok := e.LagSignal("BTCUSD", now); !ok {
		t.Fatalf("expected a signal")
	}
	after := e.State()
	if before.Symbols[0].SpotSamples != after.Symbols[0].SpotSamples ||
		before.Signals.TotalSignals != after.Signals.TotalSignals {
		t.Fatalf("LagSignal must not mutate engine or registry state")
	}
}

func TestStateIncludesRegistryCounters(t *testing.T) {
	e := testEngine(t)
	id := e.Registry().Create(signal.LagSignal{Symbol: "BTCUSD", Direction: signal.DirectionUp})
	e.Registry().RecordOutcome(id, signal.DirectionUp, 0.5)

	state := e.State()
	if state.Signals.TotalSignals != 1 || state.Signals.TotalCorrect != 1 {
		t.Fatalf("expected registry counters in state, got %+v", state.Signals)
	}
}
