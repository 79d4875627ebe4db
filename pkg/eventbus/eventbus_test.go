package eventbus_test

import (
	"context"
	"testing"

	"github.com/bkpaas/apcp/pkg/eventbus"
	"github.com/bkpaas/apcp/pkg/utils/cmp"
)

func TestBus(t *testing.T) {

	t.Run("delivers to subscribers of the event type, in order", func(t *testing.T) {
		bus := eventbus.New(nil)

		got := []string{}
		eventbus.Subscribe(bus, func(_ context.Context, ev eventbus.ProcessUpdated) {
			got = append(got, "first:"+ev.Operation)
		})
		eventbus.Subscribe(bus, func(_ context.Context, ev eventbus.ProcessUpdated) {
			got = append(got, "second:"+ev.Operation)
		})
		eventbus.Subscribe(bus, func(_ context.Context, ev eventbus.DomainChanged) {
			t.Errorf("subscriber of another type invoked: %+v", ev)
		})

		eventbus.Publish(context.Background(), bus, eventbus.ProcessUpdated{
			WlAppName: "bkapp-demo-stag", ProcessType: "web", Operation: "scale",
		})

		want := []string{"first:scale", "second:scale"}
		if !cmp.SliceEq(got, want) {
			t.Errorf("unmatch: (actual, expected) = (%v, %v)", got, want)
		}
	})

	t.Run("a panicking subscriber does not break the others", func(t *testing.T) {
		bus := eventbus.New(nil)

		eventbus.Subscribe(bus, func(context.Context, eventbus.BuildFinished) {
			panic("boom")
		})
		delivered := false
		eventbus.Subscribe(bus, func(context.Context, eventbus.BuildFinished) {
			delivered = true
		})

		eventbus.Publish(context.Background(), bus, eventbus.BuildFinished{
			BuildProcessId: "bp-1",
		})
		if !delivered {
			t.Error("second subscriber skipped after a panic in the first")
		}
	})

	t.Run("publishing without subscribers is a no-op", func(t *testing.T) {
		bus := eventbus.New(nil)
		eventbus.Publish(context.Background(), bus, eventbus.ReleaseAdvanced{DeploymentId: "d-1"})
	})
}
