package metrics_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bkpaas/apcp/pkg/domain"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	"github.com/bkpaas/apcp/pkg/metrics"
	"github.com/bkpaas/apcp/pkg/utils/try"
)

// scriptedBackend answers by query-name prefix: samples, no series, or
// an empty result set.
type scriptedBackend struct {
	samples map[string][]metrics.Sample
	noStore map[string]bool
}

func (b scriptedBackend) GeneralQuery(_ context.Context, queries []metrics.MetricQuery, _ string) ([]metrics.MetricSeriesResult, error) {
	results := make([]metrics.MetricSeriesResult, 0, len(queries))
	for _, q := range queries {
		if b.noStore[q.Name] {
			return nil, kerr.Wrap(kerr.ErrNoSeries, "%s", q.Name)
		}
		results = append(results, metrics.MetricSeriesResult{
			Query:   q.Name,
			Samples: b.samples[q.Name],
		})
	}
	return results, nil
}

func TestProcessUsage(t *testing.T) {
	ctx := context.Background()
	wlapp := domain.WlApp{Name: "bkapp-demo-prod", Namespace: "bkapp-demo-prod"}
	window := metrics.MetricSmartTimeRange{
		Start: time.Date(2026, 8, 29, 11, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
		Step:  5 * time.Minute,
	}
	at := window.Start

	t.Run("instances without a series are omitted", func(t *testing.T) {
		backend := scriptedBackend{
			samples: map[string][]metrics.Sample{
				"pod-a/cpu_usage": {{Timestamp: at, Value: 0.25}},
				// pod-a/memory_usage answers with zero samples
				"pod-b/memory_usage": {{Timestamp: at, Value: 512 * 1024 * 1024}},
			},
			noStore: map[string]bool{
				"pod-b/cpu_usage": true,
			},
		}
		testee := metrics.NewService(backend)

		usages := try.To(
			testee.ProcessUsage(ctx, wlapp, []string{"pod-a", "pod-b"}, window),
		).OrFatal(t)

		if len(usages) != 2 {
			t.Fatalf("unmatch: usages: (actual, expected) = (%d, 2): %+v", len(usages), usages)
		}
		cpu, mem := usages[0], usages[1]
		if cpu.InstanceName != "pod-a" || cpu.Metric != metrics.MetricCPU {
			t.Errorf("unexpected first usage: %+v", cpu)
		}
		if cpu.Summary.Avg != 250 { // 0.25 cores in millicores
			t.Errorf("unmatch: cpu avg: (actual, expected) = (%f, 250)", cpu.Summary.Avg)
		}
		if mem.InstanceName != "pod-b" || mem.Metric != metrics.MetricMemory {
			t.Errorf("unexpected second usage: %+v", mem)
		}
		if mem.Summary.Avg != 512 { // bytes in MiB
			t.Errorf("unmatch: memory avg: (actual, expected) = (%f, 512)", mem.Summary.Avg)
		}
	})

	t.Run("backend failures other than no-series propagate", func(t *testing.T) {
		testee := metrics.NewService(failingBackend{})

		_, err := testee.ProcessUsage(ctx, wlapp, []string{"pod-a"}, window)
		if err == nil || !strings.Contains(err.Error(), "store exploded") {
			t.Errorf("unexpected error: %+v", err)
		}
	})
}

type failingBackend struct{}

func (failingBackend) GeneralQuery(_ context.Context, _ []metrics.MetricQuery, _ string) ([]metrics.MetricSeriesResult, error) {
	return nil, errors.New("store exploded")
}
