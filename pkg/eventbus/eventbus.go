// Package eventbus is the in-process publish/subscribe seam between the
// control plane and its side effects (audit trails, cache busting,
// notifications). Subscribers register at startup; delivery is
// synchronous and in registration order.
package eventbus

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/bkpaas/apcp/pkg/domain"
)

// Event kinds. Each has its own payload struct.

type ProcessUpdated struct {
	WlAppName   string
	ProcessType string
	Operation   string
}

type BuildFinished struct {
	BuildProcessId string
	WlAppName      string
	Status         domain.OperationStatus
}

type ReleaseAdvanced struct {
	DeploymentId string
	StageName    string
	Status       domain.StageStatus
}

type DomainChanged struct {
	AppCode string
	Host    string
	Change  string
}

// Bus fans events out to typed subscribers. A panicking subscriber is
// logged and skipped; it never breaks the publishing transaction.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]func(context.Context, any)
	logger *log.Logger
}

func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		subs:   map[string][]func(context.Context, any){},
		logger: logger,
	}
}

// Subscribe registers fn for events of type T.
func Subscribe[T any](b *Bus, fn func(context.Context, T)) {
	key := keyOf[T]()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[key] = append(b.subs[key], func(ctx context.Context, ev any) {
		fn(ctx, ev.(T))
	})
}

// Publish delivers ev to every subscriber of its type, synchronously.
func Publish[T any](ctx context.Context, b *Bus, ev T) {
	key := keyOf[T]()
	b.mu.RLock()
	subs := b.subs[key]
	b.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Printf("eventbus: subscriber of %s panicked: %+v", key, r)
				}
			}()
			fn(ctx, ev)
		}()
	}
}

func keyOf[T any]() string {
	var zero T
	return fmt.Sprintf("%T", zero)
}
