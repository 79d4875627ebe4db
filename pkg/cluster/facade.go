package cluster

import (
	"context"

	"github.com/bkpaas/apcp/pkg/cluster/k8s"
	"github.com/bkpaas/apcp/pkg/domain"
)

// Clients hands out the wrapped facade instead of the raw clientset.
// Controllers depend on this interface.
type Clients interface {
	For(ctx context.Context, clusterName string) (k8s.K8sClient, error)
	ForEnv(ctx context.Context, env domain.ModuleEnv) (k8s.K8sClient, error)
}

type facade struct {
	registry *Registry
}

var _ Clients = facade{}

// AsClients adapts the registry to the facade interface.
func (r *Registry) AsClients() Clients {
	return facade{registry: r}
}

func (f facade) For(ctx context.Context, clusterName string) (k8s.K8sClient, error) {
	c, err := f.registry.ClientFor(ctx, clusterName)
	if err != nil {
		return nil, err
	}
	return k8s.Wrap(c), nil
}

func (f facade) ForEnv(ctx context.Context, env domain.ModuleEnv) (k8s.K8sClient, error) {
	c, err := f.registry.ClientForEnv(ctx, env)
	if err != nil {
		return nil, err
	}
	return k8s.Wrap(c), nil
}
