package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"lagbot-go/internal/signal"
)

// oraclePrice is the JSON shape served per symbol by the oracle endpoint:
// GET {base_url}/{symbol} → {"symbol": "...", "price": 1.23, "timestamp_ms": 1700000000000}
type oraclePrice struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// runOracle polls the configured endpoint per symbol. Oracle feeds update on
// their own slow cadence, so a poll that returns an already-seen timestamp is
// skipped rather than re-emitted.
func (f *Feed) runOracle(ctx context.Context, out chan<- signal.Tick) error {
	if f.oracleURL == "" {
		return fmt.Errorf("oracle feed requires a base URL")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	lastSeen := make(map[string]int64, len(f.symbols))

	if err := f.pollOracle(ctx, client, lastSeen, out); err != nil && !errors.Is(err, context.Canceled) {
		f.log.Warn().Err(err).Msg("initial oracle poll failed")
	}

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.pollOracle(ctx, client, lastSeen, out); err != nil {
				if errors.Is(err, context.Canceled) {
					return ctx.Err()
				}
				f.log.Warn().Err(err).Msg("oracle poll failed")
			}
		}
	}
}

func (f *Feed) pollOracle(ctx context.Context, client *http.Client, lastSeen map[string]int64, out chan<- signal.Tick) error {
	for _, sym := range f.symbols {
		update, err := f.fetchOraclePrice(ctx, client, sym)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			f.log.Warn().Err(err).Str("sym", sym).Msg("oracle fetch failed")
			continue
		}
		if update.TimestampMs <= lastSeen[sym] {
			continue // stale publication, nothing new
		}
		lastSeen[sym] = update.TimestampMs

		tick := signal.Tick{
			Symbol: sym,
			Price:  update.Price,
			Feed:   signal.FeedOracle,
			Ts:     time.UnixMilli(update.TimestampMs),
		}
		if err := emit(ctx, out, tick); err != nil {
			return err
		}
	}
	return nil
}

func (f *Feed) fetchOraclePrice(ctx context.Context, client *http.Client, symbol string) (*oraclePrice, error) {
	url := fmt.Sprintf("%s/%s", f.oracleURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle endpoint returned %s", resp.Status)
	}

	var update oraclePrice
	if err := json.NewDecoder(resp.Body).Decode(&update); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}
	if update.Price <= 0 || update.TimestampMs <= 0 {
		return nil, fmt.Errorf("oracle returned degenerate price %v at %d", update.Price, update.TimestampMs)
	}
	return &update, nil
}
