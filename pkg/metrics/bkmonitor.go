package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
)

// bkMonitorBackend queries the BK-Monitor unified query API, which
// accepts PromQL over plain HTTP.
type bkMonitorBackend struct {
	base   string
	bizId  string
	client *http.Client
}

func NewBKMonitor(baseURL string, bizId string, client *http.Client) Backend {
	if client == nil {
		client = http.DefaultClient
	}
	return &bkMonitorBackend{base: baseURL, bizId: bizId, client: client}
}

type bkMonitorRequest struct {
	BkBizId string `json:"bk_biz_id"`
	PromQL  string `json:"promql"`
	Start   int64  `json:"start_time,omitempty"`
	End     int64  `json:"end_time,omitempty"`
	Step    string `json:"step,omitempty"`
}

type bkMonitorResponse struct {
	Result  bool   `json:"result"`
	Message string `json:"message"`
	Data    struct {
		Series []struct {
			Dimensions map[string]string `json:"dimensions"`
			// datapoints are [value, timestamp-millis] pairs
			Datapoints [][2]*float64 `json:"datapoints"`
		} `json:"series"`
	} `json:"data"`
}

func (b *bkMonitorBackend) GeneralQuery(ctx context.Context, queries []MetricQuery, containerName string) ([]MetricSeriesResult, error) {
	results := make([]MetricSeriesResult, 0, len(queries))
	for _, q := range queries {
		series, err := b.query(ctx, q)
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

func (b *bkMonitorBackend) query(ctx context.Context, q MetricQuery) ([]MetricSeriesResult, error) {
	reqBody := bkMonitorRequest{BkBizId: b.bizId, PromQL: q.PromQL}
	if q.Range != nil {
		reqBody.Start = q.Range.Start.Unix()
		reqBody.End = q.Range.End.Unix()
		reqBody.Step = q.Range.Step.String()
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.base+"/query/ts/promql", bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if 300 <= resp.StatusCode {
		return nil, fmt.Errorf("bk-monitor: %s: status %d", q.Name, resp.StatusCode)
	}

	body := bkMonitorResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if !body.Result {
		if strings.Contains(body.Message, "No store matched") {
			return nil, kerr.Wrap(kerr.ErrNoSeries, "%s", q.Name)
		}
		return nil, fmt.Errorf("bk-monitor: %s: %s", q.Name, body.Message)
	}

	results := make([]MetricSeriesResult, 0, len(body.Data.Series))
	for _, s := range body.Data.Series {
		r := MetricSeriesResult{Query: q.Name, Labels: s.Dimensions}
		for _, dp := range s.Datapoints {
			if dp[0] == nil || dp[1] == nil {
				continue
			}
			r.Samples = append(r.Samples, Sample{
				Timestamp: time.UnixMilli(int64(*dp[1])),
				Value:     *dp[0],
			})
		}
		results = append(results, r)
	}
	return results, nil
}
