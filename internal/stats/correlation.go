// Package stats implements the cross-correlation and significance math used
// to detect the lag between a spot feed and its trailing oracle feed.
package stats

import (
	"math"
	"sort"
	"time"

	"lagbot-go/internal/buffer"
)

const (
	// MinSampleSize is the minimum number of aligned pairs required before a
	// correlation estimate is considered usable.
	MinSampleSize = 10
	// SignificanceLevel is the two-tailed p-value threshold for flagging a
	// detected lag as statistically significant.
	SignificanceLevel = 0.05
)

// Correlation holds a Pearson coefficient together with the number of aligned
// pairs that produced it.
type Correlation struct {
	Coefficient float64
	SampleSize  int
}

// Result is the outcome of an optimal-lag sweep over candidate τ values.
type Result struct {
	TauStarMs   int64
	Correlation float64
	PValue      float64
	Significant bool
	SampleSize  int
	TimestampMs int64
}

// CrossCorrelation computes the Pearson correlation between the spot series
// and the oracle series shifted back by tauMs. For every oracle sample the
// spot sample closest to (oracle.Ts - tauMs) is used, accepted only when the
// match is within toleranceMs. Both slices must be timestamp-ordered. Returns
// false when fewer than MinSampleSize pairs align.
func CrossCorrelation(spot, oracle []buffer.PricePoint, tauMs, toleranceMs int64) (Correlation, bool) {
	var n int
	var sumA, sumB, sumAB, sumA2, sumB2 float64

	for _, b := range oracle {
		a, ok := closest(spot, b.TsMs-tauMs, toleranceMs)
		if !ok {
			continue
		}
		n++
		sumA += a.Price
		sumB += b.Price
		sumAB += a.Price * b.Price
		sumA2 += a.Price * a.Price
		sumB2 += b.Price * b.Price
	}
	if n < MinSampleSize {
		return Correlation{}, false
	}

	fn := float64(n)
	num := fn*sumAB - sumA*sumB
	den := math.Sqrt((fn*sumA2 - sumA*sumA) * (fn*sumB2 - sumB*sumB))

	// A constant series has zero variance; report no correlation, not NaN.
	coeff := 0.0
	if den != 0 {
		coeff = num / den
	}
	return Correlation{Coefficient: coeff, SampleSize: n}, true
}

// closest binary-searches a timestamp-ordered slice for the sample nearest to
// targetMs within toleranceMs.
func closest(points []buffer.PricePoint, targetMs, toleranceMs int64) (buffer.PricePoint, bool) {
	n := len(points)
	if n == 0 {
		return buffer.PricePoint{}, false
	}
	idx := sort.Search(n, func(i int) bool {
		return points[i].TsMs >= targetMs
	})
	best := buffer.PricePoint{}
	switch {
	case idx == 0:
		best = points[0]
	case idx == n:
		best = points[n-1]
	default:
		best = points[idx]
		if prev := points[idx-1]; targetMs-prev.TsMs < best.TsMs-targetMs {
			best = prev
		}
	}
	diff := best.TsMs - targetMs
	if diff < 0 {
		diff = -diff
	}
	if diff > toleranceMs {
		return buffer.PricePoint{}, false
	}
	return best, true
}

// FindOptimalLag sweeps the candidate τ values and returns the one whose
// cross-correlation has the largest magnitude, with its two-tailed p-value
// attached. Ties keep the first candidate found. Returns nil when either
// series is too short or no candidate aligned enough pairs.
func FindOptimalLag(spot, oracle *buffer.Series, tauValues []int64, toleranceMs int64) *Result {
	if spot.Len() < MinSampleSize || oracle.Len() < MinSampleSize {
		return nil
	}

	spotPoints := spot.All()
	oraclePoints := oracle.All()

	var best *Result
	for _, tau := range tauValues {
		corr, ok := CrossCorrelation(spotPoints, oraclePoints, tau, toleranceMs)
		if !ok {
			continue
		}
		if best != nil && math.Abs(corr.Coefficient) <= math.Abs(best.Correlation) {
			continue
		}
		best = &Result{
			TauStarMs:   tau,
			Correlation: corr.Coefficient,
			SampleSize:  corr.SampleSize,
		}
	}
	if best == nil {
		return nil
	}

	best.PValue = PValue(best.Correlation, best.SampleSize)
	best.Significant = best.PValue < SignificanceLevel
	best.TimestampMs = time.Now().UnixMilli()
	return best
}
