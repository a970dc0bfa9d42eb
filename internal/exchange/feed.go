// Package exchange hosts the connectors producing spot and oracle ticks.
package exchange

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lagbot-go/internal/signal"
)

const (
	// ProviderStub emits a deterministic synthetic spot walk plus the same
	// prices re-published on the oracle feed after a fixed delay (useful for
	// tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance streams live spot trades from Binance public websockets.
	ProviderBinance = "binance"
	// ProviderOracleHTTP polls a JSON price endpoint for oracle updates.
	ProviderOracleHTTP = "http"
)

// Feed represents a pluggable tick stream implementation.
type Feed struct {
	provider     string
	symbols      []string
	log          zerolog.Logger
	pollInterval time.Duration
	oracleURL    string
	stubLag      time.Duration
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const (
	defaultPollInterval = time.Second
	defaultStubLag      = 1500 * time.Millisecond
)

// WithPollInterval overrides the default polling cadence for HTTP-based feeds.
func WithPollInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithOracleURL injects the base URL of the oracle price endpoint.
func WithOracleURL(url string) Option {
	return func(f *Feed) {
		if url != "" {
			f.oracleURL = strings.TrimSuffix(url, "/")
		}
	}
}

// WithStubLag sets how far the stub oracle trails the stub spot walk.
func WithStubLag(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stubLag = d
		}
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          log,
		pollInterval: defaultPollInterval,
		stubLag:      defaultStubLag,
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Feed) setSymbols(symbols []string) {
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

// Run pushes ticks onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Tick) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	case ProviderOracleHTTP:
		return f.runOracle(ctx, out)
	default:
		return f.runStubPair(ctx, out)
	}
}

// runStubPair walks each symbol's price sinusoidally with drift on the spot
// feed and re-emits every spot print on the oracle feed stubLag later.
func (f *Feed) runStubPair(ctx context.Context, out chan<- signal.Tick) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	step := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			step++
			px := 100 + 0.02*float64(step) + 2*math.Sin(float64(step)/7)
			for _, sym := range f.symbols {
				spot := signal.Tick{Symbol: sym, Price: px, Feed: signal.FeedSpot, Ts: ts}
				if err := emit(ctx, out, spot); err != nil {
					return err
				}
				oracle := spot
				oracle.Feed = signal.FeedOracle
				oracle.Ts = ts.Add(f.stubLag)
				// The oracle tick is stamped in the future; deliver it when
				// its timestamp arrives so downstream ordering holds.
				go func(t signal.Tick) {
					select {
					case <-time.After(f.stubLag):
					case <-ctx.Done():
						return
					}
					_ = emit(ctx, out, t)
				}(oracle)
			}
		}
	}
}

func emit(ctx context.Context, out chan<- signal.Tick, t signal.Tick) error {
	select {
	case out <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
