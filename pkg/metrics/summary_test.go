package metrics_test

import (
	"testing"

	"github.com/bkpaas/apcp/pkg/metrics"
)

func TestSummarize(t *testing.T) {

	samples := func(values ...float64) []metrics.Sample {
		s := make([]metrics.Sample, len(values))
		for i, v := range values {
			s[i] = metrics.Sample{Value: v}
		}
		return s
	}

	t.Run("empty series", func(t *testing.T) {
		if _, ok := metrics.Summarize(nil); ok {
			t.Error("empty series summarized, unexpectedly")
		}
	})

	t.Run("single sample", func(t *testing.T) {
		s, ok := metrics.Summarize(samples(42))
		if !ok {
			t.Fatal("series not summarized")
		}
		want := metrics.Summary{Min: 42, Max: 42, Avg: 42, Med: 42, P75: 42, P90: 42}
		if s != want {
			t.Errorf("unmatch: (actual, expected) = (%+v, %+v)", s, want)
		}
	})

	t.Run("unordered series", func(t *testing.T) {
		s, ok := metrics.Summarize(samples(30, 10, 50, 20, 40))
		if !ok {
			t.Fatal("series not summarized")
		}
		if s.Min != 10 || s.Max != 50 {
			t.Errorf("unmatch: Min/Max: (actual) = (%v, %v)", s.Min, s.Max)
		}
		if s.Avg != 30 {
			t.Errorf("unmatch: Avg: (actual, expected) = (%v, 30)", s.Avg)
		}
		if s.Med != 30 {
			t.Errorf("unmatch: Med: (actual, expected) = (%v, 30)", s.Med)
		}
		if s.P75 != 40 {
			t.Errorf("unmatch: P75: (actual, expected) = (%v, 40)", s.P75)
		}
	})
}
