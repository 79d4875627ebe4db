package k8s

import (
	"context"
	"time"
)

type timeoutKey struct{}

// WithRequestTimeout overrides the total timeout of unary K8s calls
// issued through this context. Streams (watch, log follow) are exempt;
// their lifetime belongs to the consumer.
func WithRequestTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, timeoutKey{}, d)
}

func requestTimeout(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(timeoutKey{}).(time.Duration)
	return d, ok
}

// bound derives the per-call context. The override is read at call
// time, never baked into a cached client.
func bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if d, ok := requestTimeout(ctx); ok {
		return context.WithTimeout(ctx, d)
	}
	return ctx, func() {}
}
