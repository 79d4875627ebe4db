// Package watch joins the process and pod watch streams of an env into
// one ordered event flow.
//
// Two workers write into a bounded channel; the consumer reads in
// arrival order. No cross-stream per-object ordering is promised, since
// the API server does not provide one.
package watch

import (
	"context"
	"log"
	"sync"
	"time"

	kubeapps "k8s.io/api/apps/v1"
	kubecore "k8s.io/api/core/v1"
	kubewatch "k8s.io/apimachinery/pkg/watch"

	"github.com/bkpaas/apcp/pkg/cluster"
	"github.com/bkpaas/apcp/pkg/cluster/mapper"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	"github.com/bkpaas/apcp/pkg/processes"
)

type ObjectType string

const (
	ObjectProcess  ObjectType = "process"
	ObjectInstance ObjectType = "instance"
)

type EventType string

const (
	Added    EventType = "ADDED"
	Modified EventType = "MODIFIED"
	Deleted  EventType = "DELETED"
	Error    EventType = "ERROR"
)

// Event is one normalised observation from the cluster.
type Event struct {
	ObjectType      ObjectType `json:"object_type"`
	Type            EventType  `json:"type"`
	Object          any        `json:"object"`
	ResourceVersion string     `json:"resource_version,omitempty"`
}

// ProcessEvent is the payload of a process-typed event.
type ProcessEvent struct {
	Name          string `json:"name"`
	ProcessType   string `json:"process_type"`
	Replicas      int32  `json:"replicas"`
	ReadyReplicas int32  `json:"ready_replicas"`
}

// Options tunes one watch session.
type Options struct {
	// RVProc / RVInst are the resource versions to resume from.
	RVProc string
	RVInst string

	// Timeout closes the stream after the window elapses. Zero means
	// the caller's context bounds the session.
	Timeout time.Duration

	// BufferSize caps the fan-in channel. Defaults to 64.
	BufferSize int
}

type Watcher struct {
	apps    appdb.Interface
	clients cluster.Clients
	logger  *log.Logger
}

func New(apps appdb.Interface, clients cluster.Clients, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{apps: apps, clients: clients, logger: logger}
}

// Watch opens the aggregated stream over every env given. All envs must
// resolve to the same cluster; resource versions are not comparable
// across API servers, so a mixed set fails with ErrCrossClusterWatch.
//
// The returned channel closes when the context is done, the timeout
// elapses, or every underlying watch ends. Workers stop their watches
// on exit; leaking one exhausts the API server's connection budget.
func (w *Watcher) Watch(ctx context.Context, envs []domain.ModuleEnv, opts Options) (<-chan Event, error) {
	if len(envs) == 0 {
		return nil, kerr.Wrap(kerr.ErrInvalid, "no envs to watch")
	}

	clusterName := ""
	wlapps := make([]domain.WlApp, 0, len(envs))
	for _, env := range envs {
		c, err := w.apps.ClusterForEnv(ctx, env)
		if err != nil {
			return nil, err
		}
		if clusterName == "" {
			clusterName = c.Name
		} else if clusterName != c.Name {
			return nil, kerr.Wrap(
				kerr.ErrCrossClusterWatch, "%s and %s", clusterName, c.Name,
			)
		}
		wlapp, err := w.apps.GetWlApp(ctx, env.WlAppName)
		if err != nil {
			return nil, err
		}
		wlapps = append(wlapps, wlapp)
	}

	client, err := w.clients.For(ctx, clusterName)
	if err != nil {
		return nil, err
	}

	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	var wctx context.Context
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		wctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		wctx, cancel = context.WithCancel(ctx)
	}

	out := make(chan Event, opts.BufferSize)
	wg := &sync.WaitGroup{}

	for _, wlapp := range wlapps {
		selector := mapper.EnvSelector(wlapp)

		procWatch, err := client.WatchDeployments(wctx, wlapp.Namespace, selector, opts.RVProc)
		if err != nil {
			cancel()
			return nil, err
		}
		podWatch, err := client.WatchPods(wctx, wlapp.Namespace, selector, opts.RVInst)
		if err != nil {
			procWatch.Stop()
			cancel()
			return nil, err
		}

		wg.Add(2)
		go w.pumpProcesses(wctx, wg, wlapp, procWatch, out)
		go w.pumpInstances(wctx, wg, wlapp, podWatch, out)
	}

	go func() {
		wg.Wait()
		cancel()
		close(out)
	}()
	return out, nil
}

func (w *Watcher) pumpProcesses(ctx context.Context, wg *sync.WaitGroup, wlapp domain.WlApp, src kubewatch.Interface, out chan<- Event) {
	defer wg.Done()
	defer src.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src.ResultChan():
			if !ok {
				return
			}
			depl, ok := ev.Object.(*kubeapps.Deployment)
			if !ok {
				w.emit(ctx, out, Event{ObjectType: ObjectProcess, Type: Error})
				continue
			}
			procType := depl.Labels[mapper.LabelProcessId]
			if procType == "" {
				if procType, ok = mapper.ExtractTypeFromName(depl.Name, wlapp); !ok {
					continue
				}
			}
			w.emit(ctx, out, Event{
				ObjectType: ObjectProcess,
				Type:       EventType(ev.Type),
				Object: ProcessEvent{
					Name:          depl.Name,
					ProcessType:   procType,
					Replicas:      depl.Status.Replicas,
					ReadyReplicas: depl.Status.ReadyReplicas,
				},
				ResourceVersion: depl.ResourceVersion,
			})
		}
	}
}

// pumpInstances ignores pods it cannot attribute to a process: legacy
// pods without the process_id label must not halt the stream.
func (w *Watcher) pumpInstances(ctx context.Context, wg *sync.WaitGroup, wlapp domain.WlApp, src kubewatch.Interface, out chan<- Event) {
	defer wg.Done()
	defer src.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src.ResultChan():
			if !ok {
				return
			}
			pod, ok := ev.Object.(*kubecore.Pod)
			if !ok {
				w.emit(ctx, out, Event{ObjectType: ObjectInstance, Type: Error})
				continue
			}
			inst, ok := processes.InstanceOf(pod, wlapp)
			if !ok {
				continue
			}
			w.emit(ctx, out, Event{
				ObjectType:      ObjectInstance,
				Type:            EventType(ev.Type),
				Object:          inst,
				ResourceVersion: pod.ResourceVersion,
			})
		}
	}
}

func (w *Watcher) emit(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
