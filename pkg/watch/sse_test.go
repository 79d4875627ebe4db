package watch_test

import (
	"strings"
	"testing"
	"time"

	"github.com/bkpaas/apcp/pkg/watch"
)

// a session is framed as ping, zero or more messages, then EOF.
func TestSSEFraming(t *testing.T) {
	sb := &strings.Builder{}

	if err := watch.WritePing(sb); err != nil {
		t.Fatal(err)
	}
	if err := watch.WriteMessage(sb, 1, watch.Event{
		ObjectType: watch.ObjectProcess,
		Type:       watch.Added,
		Object: watch.ProcessEvent{
			Name: "demo--web", ProcessType: "web", Replicas: 2, ReadyReplicas: 2,
		},
		ResourceVersion: "1000",
	}); err != nil {
		t.Fatal(err)
	}
	if err := watch.WriteEOF(sb); err != nil {
		t.Fatal(err)
	}

	got := sb.String()

	if !strings.HasPrefix(got, "event: ping\ndata: \n\n") {
		t.Errorf("stream does not open with a ping frame: %q", got)
	}
	if !strings.HasSuffix(got, "id: -1\nevent: EOF\ndata: \n\n") {
		t.Errorf("stream does not close with the EOF frame: %q", got)
	}

	frames := strings.Split(strings.TrimSuffix(got, "\n\n"), "\n\n")
	if len(frames) != 3 {
		t.Fatalf("unmatch: frame count: (actual, expected) = (%d, 3)", len(frames))
	}

	message := frames[1]
	if !strings.HasPrefix(message, "id: 1\nevent: message\ndata: ") {
		t.Errorf("malformed message frame: %q", message)
	}
	for _, fragment := range []string{
		`"object_type":"process"`,
		`"type":"ADDED"`,
		`"process_type":"web"`,
		`"resource_version":"1000"`,
	} {
		if !strings.Contains(message, fragment) {
			t.Errorf("message frame misses %s: %q", fragment, message)
		}
	}
}

func TestSessionLimiter(t *testing.T) {

	t.Run("refuses the session beyond the limit", func(t *testing.T) {
		testee := watch.NewSessionLimiter(2, 30*time.Second)

		if !testee.Acquire("alice") {
			t.Fatal("first session refused")
		}
		if !testee.Acquire("alice") {
			t.Fatal("second session refused")
		}
		if testee.Acquire("alice") {
			t.Error("third session admitted beyond the limit")
		}
	})

	t.Run("limits are per user", func(t *testing.T) {
		testee := watch.NewSessionLimiter(1, 30*time.Second)

		if !testee.Acquire("alice") {
			t.Fatal("alice's session refused")
		}
		if !testee.Acquire("bob") {
			t.Error("bob's session refused by alice's usage")
		}
	})
}
