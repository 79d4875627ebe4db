package builder

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bkpaas/apcp/pkg/cluster/k8s"
	"github.com/bkpaas/apcp/pkg/domain"
	builddb "github.com/bkpaas/apcp/pkg/domain/build/db"
)

type streamingBuilds struct {
	builddb.Interface
	bp domain.BuildProcess
}

func (s streamingBuilds) GetBuildProcess(_ context.Context, _ string) (domain.BuildProcess, error) {
	return s.bp, nil
}

type logOnlyClient struct {
	k8s.K8sClient
	log string
}

func (c logOnlyClient) Log(_ context.Context, _ string, _ string, _ string, _ bool) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(c.log)), nil
}

// one long line must not abort the stream
func TestStreamLogs_LongLines(t *testing.T) {
	long := strings.Repeat("x", 256*1024)
	client := logOnlyClient{log: long + "\nBuild complete.\n"}

	testee := &Executor{
		builds:      streamingBuilds{bp: domain.BuildProcess{Id: "bp-1", Status: domain.StatusPending}},
		logsTimeout: time.Minute,
	}

	sink := &bytes.Buffer{}
	err := testee.streamLogs(
		context.Background(), client,
		domain.WlApp{Name: "bkapp-demo-stag", Namespace: "bkapp-demo-stag"},
		"bp-1", "slug-builder--bkapp-demo-stag", sink,
	)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if !strings.Contains(sink.String(), long) {
		t.Errorf("the long line was not forwarded (sink holds %d bytes)", sink.Len())
	}
	if !strings.Contains(sink.String(), "Build complete.") {
		t.Errorf("the tail of the stream was lost")
	}
}

func TestStreamLogs_Interrupt(t *testing.T) {
	at := time.Now()
	client := logOnlyClient{log: "line 1\nline 2\n"}

	testee := &Executor{
		builds: streamingBuilds{bp: domain.BuildProcess{
			Id: "bp-1", Status: domain.StatusPending, InterruptRequestedAt: &at,
		}},
		logsTimeout: time.Minute,
	}

	err := testee.streamLogs(
		context.Background(), client,
		domain.WlApp{Name: "bkapp-demo-stag", Namespace: "bkapp-demo-stag"},
		"bp-1", "slug-builder--bkapp-demo-stag", &bytes.Buffer{},
	)
	if err != ErrInterrupted {
		t.Errorf("unexpected error: %+v", err)
	}
}
