package cluster

import (
	"context"
	"time"

	"github.com/bkpaas/apcp/pkg/cluster/k8s"
)

// WithRequestTimeout overrides the total timeout of K8s calls issued
// through this context. The override is resolved per call inside the
// k8s facade; cached clients always keep the registry defaults.
func WithRequestTimeout(ctx context.Context, d time.Duration) context.Context {
	return k8s.WithRequestTimeout(ctx, d)
}
