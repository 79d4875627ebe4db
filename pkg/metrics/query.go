// Package metrics answers "how much CPU and memory do the instances of
// this process use" over two interchangeable backends.
package metrics

import (
	"context"
	"time"
)

// MetricQuery bundles a semantic name with the PromQL that computes it.
// A nil Range means an instant query.
type MetricQuery struct {
	Name   string
	PromQL string
	Range  *MetricSmartTimeRange
}

type MetricSmartTimeRange struct {
	Start time.Time
	End   time.Time
	Step  time.Duration
}

type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricSeriesResult is one series of one query, already filtered to
// the requested container and converted to display units.
type MetricSeriesResult struct {
	Query   string            `json:"query"`
	Labels  map[string]string `json:"labels"`
	Samples []Sample          `json:"samples"`
}

// Backend is the shared protocol of Prometheus and BK-Monitor.
//
// containerName filters each query's response to one container's
// series; when empty, the first series is returned, preserving the
// behaviour legacy dashboards depend on.
type Backend interface {
	GeneralQuery(ctx context.Context, queries []MetricQuery, containerName string) ([]MetricSeriesResult, error)
}

// CPUToMillicores converts a core-seconds rate into millicores.
func CPUToMillicores(v float64) float64 {
	return v * 1000
}

// MemoryToMiB converts bytes into MiB.
func MemoryToMiB(v float64) float64 {
	return v / (1024 * 1024)
}
