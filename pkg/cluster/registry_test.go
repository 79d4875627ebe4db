package cluster_test

import (
	"context"
	"testing"
	"time"

	kubernetes "k8s.io/client-go/kubernetes"
	kubefake "k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"

	"github.com/bkpaas/apcp/pkg/cluster"
	"github.com/bkpaas/apcp/pkg/domain"
	"github.com/bkpaas/apcp/pkg/utils/try"
)

type fixedSource struct {
	clusters map[string]domain.Cluster
}

func (s fixedSource) GetCluster(_ context.Context, name string) (domain.Cluster, error) {
	return s.clusters[name], nil
}

func (s fixedSource) ClusterForEnv(_ context.Context, env domain.ModuleEnv) (domain.Cluster, error) {
	return s.clusters[env.ClusterName], nil
}

func TestRegistry_ClientFor(t *testing.T) {
	ctx := context.Background()

	source := fixedSource{clusters: map[string]domain.Cluster{
		"main": {Name: "main", APIServerURL: "https://main.cluster.invalid:6443", Token: "tok-1"},
	}}

	t.Run("a request timeout override never reaches the cached client", func(t *testing.T) {
		built := []*rest.Config{}
		testee := cluster.NewRegistry(source, cluster.WithClientFactory(
			func(conf *rest.Config) (kubernetes.Interface, error) {
				built = append(built, conf)
				return kubefake.NewSimpleClientset(), nil
			},
		))

		overridden := cluster.WithRequestTimeout(ctx, 1*time.Second)
		first := try.To(testee.ClientFor(overridden, "main")).OrFatal(t)
		second := try.To(testee.ClientFor(ctx, "main")).OrFatal(t)

		if len(built) != 1 {
			t.Fatalf("unmatch: clients built: (actual, expected) = (%d, 1)", len(built))
		}
		want := cluster.DefaultConnectTimeout + cluster.DefaultReadTimeout
		if built[0].Timeout != want {
			t.Errorf(
				"unmatch: config timeout: (actual, expected) = (%s, %s)",
				built[0].Timeout, want,
			)
		}
		if first != second {
			t.Errorf("cache miss: both callers should share the client")
		}
	})

	t.Run("a changed token replaces the cached client", func(t *testing.T) {
		builds := 0
		source := fixedSource{clusters: map[string]domain.Cluster{
			"main": {Name: "main", APIServerURL: "https://main.cluster.invalid:6443", Token: "tok-1"},
		}}
		testee := cluster.NewRegistry(source, cluster.WithClientFactory(
			func(conf *rest.Config) (kubernetes.Interface, error) {
				builds += 1
				return kubefake.NewSimpleClientset(), nil
			},
		))

		first := try.To(testee.ClientFor(ctx, "main")).OrFatal(t)
		source.clusters["main"] = domain.Cluster{
			Name: "main", APIServerURL: "https://main.cluster.invalid:6443", Token: "tok-2",
		}
		second := try.To(testee.ClientFor(ctx, "main")).OrFatal(t)

		if builds != 2 {
			t.Errorf("unmatch: clients built: (actual, expected) = (%d, 2)", builds)
		}
		if first == second {
			t.Errorf("stale client survived a token change")
		}
	})

	t.Run("an unbound cluster is refused", func(t *testing.T) {
		source := fixedSource{clusters: map[string]domain.Cluster{"main": {Name: "main"}}}
		testee := cluster.NewRegistry(source)

		if _, err := testee.ClientFor(ctx, "main"); err == nil {
			t.Errorf("expected error, got nil")
		}
	})
}
