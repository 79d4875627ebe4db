package metrics

import (
	"context"
	"strings"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
)

type prometheusBackend struct {
	api promv1.API
}

// NewPrometheus builds the backend against a Prometheus HTTP endpoint.
func NewPrometheus(address string) (Backend, error) {
	client, err := promapi.NewClient(promapi.Config{Address: address})
	if err != nil {
		return nil, err
	}
	return &prometheusBackend{api: promv1.NewAPI(client)}, nil
}

func (p *prometheusBackend) GeneralQuery(ctx context.Context, queries []MetricQuery, containerName string) ([]MetricSeriesResult, error) {
	results := make([]MetricSeriesResult, 0, len(queries))
	for _, q := range queries {
		series, err := p.query(ctx, q)
		if err != nil {
			return nil, err
		}
		picked, err := pickSeries(q.Name, series, containerName)
		if err != nil {
			return nil, err
		}
		results = append(results, picked)
	}
	return results, nil
}

func (p *prometheusBackend) query(ctx context.Context, q MetricQuery) ([]MetricSeriesResult, error) {
	var value model.Value
	var err error
	if q.Range == nil {
		value, _, err = p.api.Query(ctx, q.PromQL, time.Now())
	} else {
		value, _, err = p.api.QueryRange(ctx, q.PromQL, promv1.Range{
			Start: q.Range.Start,
			End:   q.Range.End,
			Step:  q.Range.Step,
		})
	}
	if err != nil {
		if strings.Contains(err.Error(), "No store matched") {
			return nil, kerr.Wrap(kerr.ErrNoSeries, "%s", q.Name)
		}
		return nil, err
	}
	return seriesOf(q.Name, value), nil
}

func seriesOf(name string, value model.Value) []MetricSeriesResult {
	switch v := value.(type) {
	case model.Matrix:
		results := make([]MetricSeriesResult, 0, len(v))
		for _, stream := range v {
			r := MetricSeriesResult{
				Query: name, Labels: labelsOf(stream.Metric),
			}
			for _, pair := range stream.Values {
				r.Samples = append(r.Samples, Sample{
					Timestamp: pair.Timestamp.Time(),
					Value:     float64(pair.Value),
				})
			}
			results = append(results, r)
		}
		return results
	case model.Vector:
		results := make([]MetricSeriesResult, 0, len(v))
		for _, sample := range v {
			results = append(results, MetricSeriesResult{
				Query:  name,
				Labels: labelsOf(sample.Metric),
				Samples: []Sample{{
					Timestamp: sample.Timestamp.Time(),
					Value:     float64(sample.Value),
				}},
			})
		}
		return results
	}
	return nil
}

func labelsOf(metric model.Metric) map[string]string {
	labels := make(map[string]string, len(metric))
	for k, v := range metric {
		labels[string(k)] = string(v)
	}
	return labels
}

// pickSeries filters one query's series down to the requested
// container. Empty containerName keeps the first series.
func pickSeries(name string, series []MetricSeriesResult, containerName string) (MetricSeriesResult, error) {
	if len(series) == 0 {
		return MetricSeriesResult{}, kerr.Wrap(kerr.ErrNoSeries, "%s", name)
	}
	if containerName == "" {
		return series[0], nil
	}
	for _, s := range series {
		if s.Labels["container_name"] == containerName || s.Labels["container"] == containerName {
			return s, nil
		}
	}
	return MetricSeriesResult{}, kerr.Wrap(kerr.ErrNoSeries, "%s: container %s", name, containerName)
}
