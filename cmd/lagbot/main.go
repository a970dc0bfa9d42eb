package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"lagbot-go/internal/config"
	"lagbot-go/internal/engine"
	"lagbot-go/internal/exchange"
	"lagbot-go/internal/metrics"
	"lagbot-go/internal/registry"
	sig "lagbot-go/internal/signal"
	"lagbot-go/internal/util"
)

const defaultConfigPath = "config.yaml"

// openSignal tracks a created signal until the oracle resolves it.
type openSignal struct {
	id          int64
	oraclePrice float64
	createdMs   int64
	tauMs       int64
}

func main() {
	_ = godotenv.Load() // best-effort

	path := os.Getenv("LAGBOT_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}

	bootLog := util.NewLogger("info")
	cfg, err := config.Load(path)
	if err != nil {
		bootLog.Fatal().Err(err).Str("path", path).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(cfg.Registry.MaxPending, log)
	eng := engine.New(engine.Config{
		Symbols:             cfg.Feed.Symbols,
		BufferMaxSize:       cfg.Engine.BufferMaxSize,
		BufferMaxAgeMs:      cfg.Engine.BufferMaxAgeMs,
		CleanupInterval:     cfg.Engine.CleanupInterval,
		TauCandidatesMs:     cfg.Engine.TauCandidatesMs,
		ToleranceMs:         cfg.Engine.ToleranceMs,
		SpotMoveWindowMs:    cfg.Engine.SpotMoveWindowMs,
		MinMoveMagnitude:    cfg.Engine.MinMoveMagnitude,
		MinCorrelation:      cfg.Engine.MinCorrelation,
		StabilityWindowSize: cfg.Engine.StabilityWindowSize,
		StabilityThreshold:  cfg.Engine.StabilityThreshold,
		StaleThresholdMs:    cfg.Engine.StaleThresholdMs,
	}, reg, log)

	ticks := make(chan sig.Tick, 1024)
	startFeeds(ctx, cfg, log, ticks, cancel)

	persister, err := registry.NewJSONLPersister(cfg.Registry.FlushPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open signal persister")
	}
	defer persister.Close()

	analysisEvery := time.Duration(cfg.Engine.AnalysisIntervalMs) * time.Millisecond
	if analysisEvery <= 0 {
		analysisEvery = 5 * time.Second
	}
	flushEvery := time.Duration(cfg.Registry.FlushIntervalMs) * time.Millisecond
	if flushEvery <= 0 {
		flushEvery = 10 * time.Second
	}

	analysisTicker := time.NewTicker(analysisEvery)
	defer analysisTicker.Stop()
	flushTicker := time.NewTicker(flushEvery)
	defer flushTicker.Stop()

	open := make(map[string]*openSignal)

	log.Info().Strs("symbols", cfg.Feed.Symbols).Msg("lag engine started")
	for {
		select {
		case <-ctx.Done():
			flushResolved(reg, persister, log)
			log.Info().Interface("stats", reg.AccuracyStats()).Msg("shutting down")
			return

		case tk := <-ticks:
			eng.HandleTick(tk)
			if tk.Feed == sig.FeedOracle {
				resolve(reg, open, tk, log)
			}

		case <-analysisTicker.C:
			now := time.Now()
			for _, symbol := range eng.Symbols() {
				eng.Analyze(symbol)
				if _, tracking := open[symbol]; tracking {
					continue // one open signal per symbol at a time
				}
				view, ok := eng.LagSignal(symbol, now)
				if !ok {
					continue
				}
				id := reg.Create(sig.LagSignal{
					Symbol:      view.Symbol,
					TsMs:        view.TsMs,
					Direction:   view.Direction,
					TauMs:       view.TauMs,
					Correlation: view.Correlation,
					Confidence:  view.Confidence,
					SpotPrice:   view.SpotPrice,
					OraclePrice: view.OraclePrice,
					SpotMove:    view.SpotMove,
				})
				open[symbol] = &openSignal{
					id:          id,
					oraclePrice: view.OraclePrice,
					createdMs:   view.TsMs,
					tauMs:       view.TauMs,
				}
				log.Info().
					Str("sym", symbol).
					Int64("id", id).
					Str("dir", string(view.Direction)).
					Float64("conf", view.Confidence).
					Int64("tau_ms", view.TauMs).
					Msg("signal created")
			}

		case <-flushTicker.C:
			flushResolved(reg, persister, log)
		}
	}
}

// startFeeds launches the configured providers. The stub provider emits both
// feeds from one synthetic walk, so it runs alone.
func startFeeds(ctx context.Context, cfg *config.Config, log zerolog.Logger, ticks chan sig.Tick, cancel context.CancelFunc) {
	run := func(name string, feed *exchange.Feed) {
		go func() {
			if err := feed.Run(ctx, ticks); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("feed", name).Msg("feed stopped")
				cancel()
			}
		}()
	}

	if cfg.Feed.SpotProvider == exchange.ProviderStub || cfg.Feed.SpotProvider == "" {
		stubLag := time.Duration(cfg.Feed.StubLagMs) * time.Millisecond
		run("stub", exchange.NewFeed(exchange.ProviderStub, cfg.Feed.Symbols, log, exchange.WithStubLag(stubLag)))
		return
	}

	run("spot", exchange.NewFeed(cfg.Feed.SpotProvider, cfg.Feed.Symbols, log))
	run("oracle", exchange.NewFeed(cfg.Feed.OracleProvider, cfg.Feed.Symbols, log,
		exchange.WithOracleURL(cfg.Feed.Oracle.BaseURL),
		exchange.WithPollInterval(time.Duration(cfg.Feed.Oracle.PollIntervalMs)*time.Millisecond)))
}

// resolve scores the symbol's open signal once the detected lag has elapsed
// and the oracle prints a price away from where it stood at signal creation.
// Earlier oracle prints predate the move the signal forecast and are skipped.
func resolve(reg *registry.Registry, open map[string]*openSignal, tk sig.Tick, log zerolog.Logger) {
	pending, ok := open[tk.Symbol]
	if !ok {
		return
	}
	if tk.Ts.UnixMilli()-pending.createdMs < pending.tauMs {
		return
	}
	if tk.Price == pending.oraclePrice {
		return
	}

	outcome := sig.DirectionUp
	if tk.Price < pending.oraclePrice {
		outcome = sig.DirectionDown
	}
	move := (tk.Price - pending.oraclePrice) / pending.oraclePrice
	reg.RecordOutcome(pending.id, outcome, move)
	delete(open, tk.Symbol)

	log.Info().
		Str("sym", tk.Symbol).
		Int64("id", pending.id).
		Str("outcome", string(outcome)).
		Float64("move", move).
		Msg("signal resolved")
}

// flushResolved persists every signal that already has an outcome and drops
// it from the registry.
func flushResolved(reg *registry.Registry, persister *registry.JSONLPersister, log zerolog.Logger) {
	var resolved []sig.LagSignal
	for _, pending := range reg.Pending() {
		if pending.PredictionCorrect != nil {
			resolved = append(resolved, pending)
		}
	}
	if len(resolved) == 0 {
		return
	}
	ids, err := persister.Persist(resolved)
	if err != nil {
		log.Error().Err(err).Msg("persist signals")
	}
	if len(ids) > 0 {
		reg.ClearPersisted(ids)
		log.Debug().Int("count", len(ids)).Msg("signals flushed")
	}
}
