// Package loop runs a task repeatedly until it asks to stop.
//
// It is the scheduling primitive of the background workers: each worker
// is a Task returning Continue(interval) to be rescheduled or Break(err)
// to terminate the loop.
package loop

import (
	"context"
	"fmt"
	"time"
)

type Next struct {
	err      error
	quit     bool
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}
	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// Continue reschedules the task after interval. Continue(0) means "again, now".
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break stops the loop. err may be nil for a normal stop.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task receives the value returned by its previous invocation.
type Task[T any] func(context.Context, T) (T, Next)

// Start invokes task(ctx, init) and keeps invoking it with its own last
// return value until the task Breaks or the context is done.
//
// The final T and the Break error (or ctx.Err()) are returned.
func Start[T any](ctx context.Context, init T, task Task[T]) (T, error) {
	value := init
	for {
		select {
		case <-ctx.Done():
			return value, ctx.Err()
		default:
		}

		v, next := task(ctx, value)
		value = v
		if next.quit {
			return value, next.err
		}
		if next.interval <= 0 {
			continue
		}

		timer := time.NewTimer(next.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}
