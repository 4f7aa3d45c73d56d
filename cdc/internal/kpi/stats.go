package kpi

import (
	"math"
	"slices"
)

// Summary describes a sample of durations or minutes.
type Summary struct {
	Count  int     `json:"count"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
}

// Summarize computes the summary of values. An empty sample is all zeros.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return Summary{
		Count:  len(sorted),
		Median: Quantile(sorted, 0.5),
		P95:    Quantile(sorted, 0.95),
		Max:    sorted[len(sorted)-1],
		Avg:    sum / float64(len(sorted)),
	}
}

// Quantile returns the q-quantile of sorted, interpolating linearly between
// the closest ranks.
func Quantile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(pos)), int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}
