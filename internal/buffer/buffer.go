// Package buffer provides the bounded, age-limited price series backing each
// tracked feed.
package buffer

import (
	"math"
	"sort"
)

// PricePoint is a single immutable (price, timestamp) sample.
type PricePoint struct {
	Price float64
	TsMs  int64
}

// Series is an append-only, timestamp-ordered sample window. Appends must
// arrive in non-decreasing timestamp order; Add enforces this by rejecting
// anything older than the newest stored sample, which keeps the binary-search
// cleanup and closest-match lookups sound.
type Series struct {
	points          []PricePoint
	maxSize         int
	maxAgeMs        int64
	cleanupInterval int
	inserts         int
}

const (
	defaultMaxSize         = 2048
	defaultMaxAgeMs        = 5 * 60 * 1000
	defaultCleanupInterval = 100
)

// NewSeries constructs an empty series with the provided bounds. Non-positive
// arguments fall back to defaults.
func NewSeries(maxSize int, maxAgeMs int64, cleanupInterval int) *Series {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if maxAgeMs <= 0 {
		maxAgeMs = defaultMaxAgeMs
	}
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	return &Series{
		points:          make([]PricePoint, 0, maxSize),
		maxSize:         maxSize,
		maxAgeMs:        maxAgeMs,
		cleanupInterval: cleanupInterval,
	}
}

// Add appends a sample. It returns false without mutating anything when the
// price is non-finite or non-positive, or when the timestamp would break the
// ordering invariant. Age-based eviction runs every cleanupInterval-th
// accepted insert; the size cap is checked on every insert.
func (s *Series) Add(price float64, tsMs int64) bool {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return false
	}
	if n := len(s.points); n > 0 && tsMs < s.points[n-1].TsMs {
		return false
	}

	s.points = append(s.points, PricePoint{Price: price, TsMs: tsMs})
	s.inserts++

	if s.inserts%s.cleanupInterval == 0 {
		s.evictExpired(tsMs)
	}
	if len(s.points) > s.maxSize {
		// Hard cap: shed the oldest 10% in one go rather than one-by-one.
		drop := (s.maxSize + 9) / 10
		if drop > len(s.points) {
			drop = len(s.points)
		}
		s.points = s.points[:copy(s.points, s.points[drop:])]
	}
	return true
}

// evictExpired removes every sample older than nowMs-maxAgeMs. Locating the
// cutoff is O(log n) on the sorted timestamps, removal is a single bulk copy.
func (s *Series) evictExpired(nowMs int64) {
	cutoff := nowMs - s.maxAgeMs
	idx := sort.Search(len(s.points), func(i int) bool {
		return s.points[i].TsMs >= cutoff
	})
	if idx > 0 {
		s.points = s.points[:copy(s.points, s.points[idx:])]
	}
}

// FindClosest returns the sample whose timestamp is nearest to targetMs,
// provided the distance is within toleranceMs.
func (s *Series) FindClosest(targetMs, toleranceMs int64) (PricePoint, bool) {
	n := len(s.points)
	if n == 0 {
		return PricePoint{}, false
	}
	if targetMs <= s.points[0].TsMs {
		return s.within(s.points[0], targetMs, toleranceMs)
	}
	if targetMs >= s.points[n-1].TsMs {
		return s.within(s.points[n-1], targetMs, toleranceMs)
	}

	idx := sort.Search(n, func(i int) bool {
		return s.points[i].TsMs >= targetMs
	})
	best := s.points[idx]
	if prev := s.points[idx-1]; targetMs-prev.TsMs < best.TsMs-targetMs {
		best = prev
	}
	return s.within(best, targetMs, toleranceMs)
}

func (s *Series) within(p PricePoint, targetMs, toleranceMs int64) (PricePoint, bool) {
	diff := p.TsMs - targetMs
	if diff < 0 {
		diff = -diff
	}
	if diff > toleranceMs {
		return PricePoint{}, false
	}
	return p, true
}

// Range returns a copy of every sample with startMs <= ts <= endMs.
func (s *Series) Range(startMs, endMs int64) []PricePoint {
	var out []PricePoint
	for _, p := range s.points {
		if p.TsMs >= startMs && p.TsMs <= endMs {
			out = append(out, p)
		}
	}
	return out
}

// All returns a copy of the full window in timestamp order.
func (s *Series) All() []PricePoint {
	out := make([]PricePoint, len(s.points))
	copy(out, s.points)
	return out
}

// Len reports the number of buffered samples.
func (s *Series) Len() int { return len(s.points) }

// Clear drops every sample while keeping the configured bounds.
func (s *Series) Clear() {
	s.points = s.points[:0]
	s.inserts = 0
}

// OldestTimestamp returns the first buffered timestamp, if any.
func (s *Series) OldestTimestamp() (int64, bool) {
	if len(s.points) == 0 {
		return 0, false
	}
	return s.points[0].TsMs, true
}

// NewestTimestamp returns the last buffered timestamp, if any.
func (s *Series) NewestTimestamp() (int64, bool) {
	if len(s.points) == 0 {
		return 0, false
	}
	return s.points[len(s.points)-1].TsMs, true
}
