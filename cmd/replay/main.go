// Command replay runs a recorded tick stream through the lag engine offline
// and reports the final state and signal accuracy.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lagbot-go/internal/config"
	"lagbot-go/internal/engine"
	"lagbot-go/internal/registry"
	sig "lagbot-go/internal/signal"
	"lagbot-go/internal/util"
)

// replayTick is one line of a recorded tick file.
type replayTick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Feed   string  `json:"feed"`
	TsMs   int64   `json:"ts_ms"`
}

func main() {
	ticksPath := flag.String("ticks", "", "JSONL tick recording to replay")
	configPath := flag.String("config", "", "optional YAML config")
	logLevel := flag.String("log", "warn", "log level during replay")
	flag.Parse()

	log := util.NewLogger(*logLevel)
	if *ticksPath == "" {
		log.Fatal().Msg("missing -ticks path")
	}

	cfg := replayConfig(*configPath, log)
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

	file, err := os.Open(*ticksPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open tick recording")
	}
	defer file.Close()

	analysisEveryMs := int64(cfg.Engine.AnalysisIntervalMs)
	if analysisEveryMs <= 0 {
		analysisEveryMs = 5000
	}

	var lastAnalysisMs int64
	var lines int
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rt replayTick
		if err := json.Unmarshal(scanner.Bytes(), &rt); err != nil {
			log.Warn().Err(err).Int("line", lines+1).Msg("skipping bad line")
			continue
		}
		lines++

		eng.HandleTick(sig.Tick{
			Symbol: rt.Symbol,
			Price:  rt.Price,
			Feed:   sig.FeedKind(rt.Feed),
			Ts:     time.UnixMilli(rt.TsMs),
		})

		// Drive the analysis cadence off the replay clock, not wall time.
		if rt.TsMs-lastAnalysisMs >= analysisEveryMs {
			lastAnalysisMs = rt.TsMs
			now := time.UnixMilli(rt.TsMs)
			for _, symbol := range eng.Symbols() {
				eng.Analyze(symbol)
				if view, ok := eng.LagSignal(symbol, now); ok {
					reg.Create(sig.LagSignal{
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
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatal().Err(err).Msg("read tick recording")
	}

	out, err := json.MarshalIndent(eng.State(), "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("marshal state")
	}
	fmt.Printf("replayed %d ticks\n%s\n", lines, out)
}

// replayConfig loads the YAML config when given one, otherwise falls back to
// engine defaults over the symbols found in LAGBOT_SYMBOLS.
func replayConfig(path string, log zerolog.Logger) *config.Config {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			log.Fatal().Err(err).Msg("load config")
		}
		return cfg
	}
	symbols := []string{"BTCUSDT"}
	if env := os.Getenv("LAGBOT_SYMBOLS"); env != "" {
		symbols = symbols[:0]
		for _, sym := range strings.Split(env, ",") {
			if sym = strings.TrimSpace(sym); sym != "" {
				symbols = append(symbols, sym)
			}
		}
	}
	return &config.Config{Feed: config.Feed{Symbols: symbols}}
}
