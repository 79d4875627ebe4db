package metrics

import "sort"

// Summary condenses one downsampled series.
type Summary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	Med float64 `json:"med"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
}

// Summarize computes the idle/usage summary of a series.
// ok is false for an empty series.
func Summarize(samples []Sample) (Summary, bool) {
	if len(samples) == 0 {
		return Summary{}, false
	}

	values := make([]float64, len(samples))
	sum := 0.0
	for i, s := range samples {
		values[i] = s.Value
		sum += s.Value
	}
	sort.Float64s(values)

	return Summary{
		Min: values[0],
		Max: values[len(values)-1],
		Avg: sum / float64(len(values)),
		Med: percentile(values, 0.50),
		P75: percentile(values, 0.75),
		P90: percentile(values, 0.90),
	}, true
}

// percentile reads from a sorted slice by nearest-rank.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := int(p * float64(len(sorted)-1))
	return sorted[rank]
}
