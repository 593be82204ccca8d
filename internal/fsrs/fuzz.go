package fsrs

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"
)

// Fuzzer supplies the uniform sample in [0, 1) used to spread a review
// interval. Implementations must be safe for concurrent use.
type Fuzzer interface {
	Sample(c Card, now time.Time) float64
}

// SeededFuzzer derives its sample from Seed, the card being scheduled and the
// review time. Identical inputs always produce the same sample.
type SeededFuzzer struct {
	Seed uint64
}

func (f SeededFuzzer) Sample(c Card, now time.Time) float64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range []uint64{
		uint64(now.UnixNano()),
		uint64(c.Reps),
		uint64(c.Lapses),
		math.Float64bits(c.Stability),
		math.Float64bits(c.Difficulty),
	} {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	return rand.New(rand.NewPCG(f.Seed, h.Sum64())).Float64()
}

// FixedFuzzer always returns the same sample.
type FixedFuzzer float64

func (f FixedFuzzer) Sample(Card, time.Time) float64 {
	return float64(f)
}

type fuzzBand struct {
	start, end float64
	factor     float64
}

var fuzzBands = []fuzzBand{
	{2.5, 7.0, 0.15},
	{7.0, 20.0, 0.10},
	{20.0, math.Inf(1), 0.05},
}

// fuzzDelta is 1 + the sum over bands of factor * overlap(interval, band).
func fuzzDelta(interval float64) float64 {
	delta := 1.0
	for _, b := range fuzzBands {
		delta += b.factor * math.Max(math.Min(interval, b.end)-b.start, 0)
	}
	return delta
}

// applyFuzz moves interval to a random day within its fuzz range. Intervals
// under 2.5 days are returned unchanged.
func applyFuzz(interval, maxIvl int, u float64) int {
	if float64(interval) < 2.5 {
		return interval
	}
	ivl := float64(interval)
	delta := fuzzDelta(ivl)

	lo := max(2, int(math.Round(ivl-delta)))
	hi := min(int(math.Round(ivl+delta)), maxIvl)
	lo = min(lo, hi)

	fuzzed := int(math.Floor(u*float64(hi-lo+1))) + lo
	return min(fuzzed, hi)
}
