package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// SSE framing. Each frame is an event line, a data line and a blank
// line. The first frame of a session is a ping so proxies flush their
// response buffers before real events arrive.

// WritePing emits the initial heartbeat frame.
func WritePing(w io.Writer) error {
	_, err := fmt.Fprint(w, "event: ping\ndata: \n\n")
	return err
}

// WriteMessage emits one watch event as a message frame.
func WriteMessage(w io.Writer, id int, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", id, payload)
	return err
}

// WriteEOF emits the terminal frame. Clients treat it as a clean close.
func WriteEOF(w io.Writer) error {
	_, err := fmt.Fprint(w, "id: -1\nevent: EOF\ndata: \n\n")
	return err
}

// SessionLimiter bounds watch sessions per user inside a sliding
// window. The default is 8 sessions per 30 seconds.
type SessionLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string][]time.Time
}

func NewSessionLimiter(limit int, window time.Duration) *SessionLimiter {
	if limit <= 0 {
		limit = 8
	}
	if window <= 0 {
		window = 30 * time.Second
	}
	return &SessionLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		sessions: map[string][]time.Time{},
	}
}

// Acquire reports whether the user may open one more session now.
func (l *SessionLimiter) Acquire(user string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	horizon := now.Add(-l.window)

	kept := l.sessions[user][:0]
	for _, t := range l.sessions[user] {
		if t.After(horizon) {
			kept = append(kept, t)
		}
	}
	if l.limit <= len(kept) {
		l.sessions[user] = kept
		return false
	}
	l.sessions[user] = append(kept, now)
	return true
}
