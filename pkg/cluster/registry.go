// Package cluster resolves (app, env) to an authenticated Kubernetes
// client. Clients are cached per cluster, not per app.
package cluster

import (
	"context"
	"sync"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/bkpaas/apcp/pkg/domain"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 60 * time.Second
)

// Source fetches cluster rows. Usually the app store.
type Source interface {
	GetCluster(ctx context.Context, name string) (domain.Cluster, error)
	ClusterForEnv(ctx context.Context, env domain.ModuleEnv) (domain.Cluster, error)
}

type entry struct {
	client kubernetes.Interface
	token  string
}

type Registry struct {
	source         Source
	connectTimeout time.Duration
	readTimeout    time.Duration

	// newClient is swapped in tests to avoid real connections.
	newClient func(*rest.Config) (kubernetes.Interface, error)

	mu      sync.Mutex
	clients map[string]entry
}

type Option func(*Registry)

func WithTimeouts(connect, read time.Duration) Option {
	return func(r *Registry) {
		r.connectTimeout = connect
		r.readTimeout = read
	}
}

// WithClientFactory substitutes clientset construction. For tests.
func WithClientFactory(f func(*rest.Config) (kubernetes.Interface, error)) Option {
	return func(r *Registry) { r.newClient = f }
}

func NewRegistry(source Source, opts ...Option) *Registry {
	r := &Registry{
		source:         source,
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
		newClient: func(c *rest.Config) (kubernetes.Interface, error) {
			return kubernetes.NewForConfig(c)
		},
		clients: map[string]entry{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ClientFor returns the cached client of the named cluster, building one
// on first use. When the stored token changed since the client was built
// the stale entry is replaced, which is how token refresh propagates.
func (r *Registry) ClientFor(ctx context.Context, clusterName string) (kubernetes.Interface, error) {
	cluster, err := r.source.GetCluster(ctx, clusterName)
	if err != nil {
		return nil, err
	}
	return r.clientOf(cluster)
}

// ClientForEnv resolves the env's cluster binding first.
// ErrClusterNotBound when the env has none.
func (r *Registry) ClientForEnv(ctx context.Context, env domain.ModuleEnv) (kubernetes.Interface, error) {
	cluster, err := r.source.ClusterForEnv(ctx, env)
	if err != nil {
		return nil, err
	}
	return r.clientOf(cluster)
}

func (r *Registry) clientOf(cluster domain.Cluster) (kubernetes.Interface, error) {
	if cluster.APIServerURL == "" {
		return nil, kerr.Wrap(kerr.ErrClusterNotBound, "cluster %s has no api server", cluster.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.clients[cluster.Name]; ok && e.token == cluster.Token {
		return e.client, nil
	}

	// Only registry defaults here. Per-request overrides are resolved
	// in the k8s facade; a cached client must never absorb them.
	conf := &rest.Config{
		Host:        cluster.APIServerURL,
		BearerToken: cluster.Token,
		Timeout:     r.connectTimeout + r.readTimeout,
	}
	if 0 < len(cluster.CACertData) {
		conf.TLSClientConfig = rest.TLSClientConfig{CAData: cluster.CACertData}
	} else {
		conf.TLSClientConfig = rest.TLSClientConfig{Insecure: true}
	}

	client, err := r.newClient(conf)
	if err != nil {
		return nil, err
	}
	r.clients[cluster.Name] = entry{client: client, token: cluster.Token}
	return client, nil
}

// Invalidate drops the cached client, forcing a rebuild on next use.
func (r *Registry) Invalidate(clusterName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clusterName)
}
