// Package signal standardizes payloads shared between data ingestion, the lag
// engine, and downstream signal consumers.
package signal

import "time"

// FeedKind distinguishes the two price streams tracked per symbol.
type FeedKind string

const (
	// FeedSpot is the fast exchange price stream.
	FeedSpot FeedKind = "spot"
	// FeedOracle is the slower, periodically-updated oracle stream.
	FeedOracle FeedKind = "oracle"
)

// Direction is the predicted (or realized) move of the lagging feed.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Tick models a single price observation from one feed.
type Tick struct {
	Symbol string
	Price  float64
	Feed   FeedKind
	Ts     time.Time
}

// LagSignal is a directional prediction derived from a fresh spot move, the
// detected spot→oracle lag, and oracle staleness. Outcome fields stay nil
// until the market resolves and an outcome is recorded.
type LagSignal struct {
	ID          int64     `json:"id"`
	Symbol      string    `json:"symbol"`
	TsMs        int64     `json:"timestamp_ms"`
	Direction   Direction `json:"direction"`
	TauMs       int64     `json:"tau_ms"`
	Correlation float64   `json:"correlation"`
	Confidence  float64   `json:"confidence"`
	SpotPrice   float64   `json:"spot_price"`
	OraclePrice float64   `json:"oracle_price"`
	SpotMove    float64   `json:"spot_move_magnitude"`

	OutcomeDirection  *Direction `json:"outcome_direction,omitempty"`
	PredictionCorrect *int       `json:"prediction_correct,omitempty"`
	PnL               *float64   `json:"pnl,omitempty"`
}
