package loop_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bkpaas/apcp/pkg/loop"
)

func TestStart(t *testing.T) {

	t.Run("runs until the task breaks, threading the value", func(t *testing.T) {
		task := func(_ context.Context, n int) (int, loop.Next) {
			if 3 <= n {
				return n, loop.Break(nil)
			}
			return n + 1, loop.Continue(0)
		}

		got, err := loop.Start(context.Background(), 0, task)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if got != 3 {
			t.Errorf("unmatch: (actual, expected) = (%d, 3)", got)
		}
	})

	t.Run("returns the break error", func(t *testing.T) {
		wantErr := errors.New("fake error")
		task := func(_ context.Context, n int) (int, loop.Next) {
			return n + 1, loop.Break(wantErr)
		}

		got, err := loop.Start(context.Background(), 0, task)
		if !errors.Is(err, wantErr) {
			t.Errorf("unexpected error: %+v", err)
		}
		if got != 1 {
			t.Errorf("unmatch: (actual, expected) = (%d, 1)", got)
		}
	})

	t.Run("stops when the context is cancelled during the interval", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		task := func(_ context.Context, n int) (int, loop.Next) {
			if n == 1 {
				cancel()
			}
			return n + 1, loop.Continue(time.Hour)
		}

		got, err := loop.Start(ctx, 1, task)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %+v", err)
		}
		if got != 2 {
			t.Errorf("unmatch: (actual, expected) = (%d, 2)", got)
		}
	})

	t.Run("does not invoke the task once the context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		invoked := false
		task := func(context.Context, int) (int, loop.Next) {
			invoked = true
			return 0, loop.Break(nil)
		}

		if _, err := loop.Start(ctx, 0, task); !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %+v", err)
		}
		if invoked {
			t.Error("task invoked after cancel")
		}
	})
}
