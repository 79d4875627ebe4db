package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/bkpaas/apcp/pkg/cluster/mapper"
	"github.com/bkpaas/apcp/pkg/domain"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
)

// ResourceMetric names one measured quantity.
type ResourceMetric string

const (
	MetricCPU    ResourceMetric = "cpu_usage"
	MetricMemory ResourceMetric = "memory_usage"
)

// InstanceUsage is the measured series of one pod, in display units
// (millicores and MiB).
type InstanceUsage struct {
	InstanceName string             `json:"instance_name"`
	Metric       ResourceMetric     `json:"metric"`
	Series       MetricSeriesResult `json:"series"`
	Summary      Summary            `json:"summary"`
}

// Service aggregates per-instance usage for whole processes.
type Service struct {
	backend Backend
}

func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

// ProcessUsage returns one series per (instance, metric) for every pod
// of the process within the range. Instances without a series are
// omitted; a zero-valued Summary always means a measured zero.
func (s *Service) ProcessUsage(ctx context.Context, wlapp domain.WlApp, instanceNames []string, r MetricSmartTimeRange) ([]InstanceUsage, error) {
	usages := make([]InstanceUsage, 0, len(instanceNames)*2)
	for _, instance := range instanceNames {
		for _, metric := range []ResourceMetric{MetricCPU, MetricMemory} {
			q := MetricQuery{
				Name:   fmt.Sprintf("%s/%s", instance, metric),
				PromQL: promQLFor(metric, wlapp.Namespace, instance),
				Range:  &r,
			}
			results, err := s.backend.GeneralQuery(ctx, []MetricQuery{q}, "")
			if err != nil {
				if errors.Is(err, kerr.ErrNoSeries) {
					continue
				}
				return nil, err
			}
			series := normalizeUnits(metric, results[0])
			summary, ok := Summarize(series.Samples)
			if !ok {
				continue
			}
			usages = append(usages, InstanceUsage{
				InstanceName: instance,
				Metric:       metric,
				Series:       series,
				Summary:      summary,
			})
		}
	}
	return usages, nil
}

// PodPattern is the regexp matching every pod of a process. It comes
// from the mapper, so both naming generations match.
func PodPattern(wlapp domain.WlApp, procType string) string {
	return mapper.ProcResources(wlapp, procType).PodNamePattern
}

func promQLFor(metric ResourceMetric, namespace string, podName string) string {
	switch metric {
	case MetricCPU:
		return fmt.Sprintf(
			`rate(container_cpu_usage_seconds_total{namespace=%q, pod=~%q, container!="POD"}[1m])`,
			namespace, podName,
		)
	case MetricMemory:
		return fmt.Sprintf(
			`container_memory_working_set_bytes{namespace=%q, pod=~%q, container!="POD"}`,
			namespace, podName,
		)
	}
	return ""
}

func normalizeUnits(metric ResourceMetric, series MetricSeriesResult) MetricSeriesResult {
	convert := MemoryToMiB
	if metric == MetricCPU {
		convert = CPUToMillicores
	}
	out := series
	out.Samples = make([]Sample, len(series.Samples))
	for i, s := range series.Samples {
		out.Samples[i] = Sample{Timestamp: s.Timestamp, Value: convert(s.Value)}
	}
	return out
}
