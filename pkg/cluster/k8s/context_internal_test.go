package k8s

import (
	"context"
	"testing"
	"time"
)

func TestBound(t *testing.T) {

	t.Run("an override becomes a per-call deadline", func(t *testing.T) {
		ctx, cancel := bound(WithRequestTimeout(context.Background(), 30*time.Second))
		defer cancel()

		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatal("no deadline derived from the override")
		}
		remaining := time.Until(deadline)
		if remaining <= 0 || 30*time.Second < remaining {
			t.Errorf("unexpected deadline: %s from now", remaining)
		}
	})

	t.Run("without an override the context passes through", func(t *testing.T) {
		base := context.Background()
		ctx, cancel := bound(base)
		defer cancel()

		if ctx != base {
			t.Errorf("unmatch: context: (actual, expected) = (%v, %v)", ctx, base)
		}
		if _, ok := ctx.Deadline(); ok {
			t.Errorf("unexpected deadline without an override")
		}
	})

	t.Run("the derived deadline does not outlive the parent's", func(t *testing.T) {
		parent, pcancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer pcancel()

		ctx, cancel := bound(WithRequestTimeout(parent, time.Hour))
		defer cancel()

		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatal("no deadline derived")
		}
		if time.Hour/2 < time.Until(deadline) {
			t.Errorf("deadline escaped the parent: %s from now", time.Until(deadline))
		}
	})
}
