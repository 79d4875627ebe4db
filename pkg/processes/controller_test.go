package processes_test

import (
	"context"
	"errors"
	"testing"

	kubefake "k8s.io/client-go/kubernetes/fake"

	"github.com/bkpaas/apcp/pkg/cluster"
	"github.com/bkpaas/apcp/pkg/cluster/k8s"
	"github.com/bkpaas/apcp/pkg/cluster/mapper"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	builddb "github.com/bkpaas/apcp/pkg/domain/build/db"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	processdb "github.com/bkpaas/apcp/pkg/domain/process/db"
	releasedb "github.com/bkpaas/apcp/pkg/domain/release/db"
	"github.com/bkpaas/apcp/pkg/processes"
	"github.com/bkpaas/apcp/pkg/utils/try"
)

var testEnv = domain.ModuleEnv{
	AppCode: "demo", ModuleName: "default", Environment: domain.EnvStag,
	WlAppName: "bkapp-demo-stag", ClusterName: "default",
}

var testWlApp = domain.WlApp{
	Name: "bkapp-demo-stag", AppCode: "demo", ModuleName: "default",
	Environment: domain.EnvStag, Namespace: "bkapp-demo-stag",
	MapperVersion: domain.MapperV2,
}

type fakeApps struct {
	appdb.Interface
	offlined bool
}

func (f *fakeApps) GetWlApp(context.Context, string) (domain.WlApp, error) {
	return testWlApp, nil
}

func (f *fakeApps) SetEnvOffline(_ context.Context, _ string, _ string, _ domain.Environment, offline bool) error {
	f.offlined = offline
	return nil
}

type fakeSpecs struct {
	processdb.Interface
	specs map[string]domain.ProcessSpec

	// tooOften simulates the store's frequency floor for one call.
	tooOften bool
}

func newFakeSpecs() *fakeSpecs {
	return &fakeSpecs{specs: map[string]domain.ProcessSpec{}}
}

func (f *fakeSpecs) Get(_ context.Context, wlappName string, procName string) (domain.ProcessSpec, error) {
	spec, ok := f.specs[procName]
	if !ok {
		return domain.ProcessSpec{}, kerr.Wrap(kerr.ErrMissing, "no spec %s", procName)
	}
	return spec, nil
}

func (f *fakeSpecs) List(context.Context, string) ([]domain.ProcessSpec, error) {
	specs := []domain.ProcessSpec{}
	for _, spec := range f.specs {
		specs = append(specs, spec)
	}
	return specs, nil
}

func (f *fakeSpecs) Upsert(_ context.Context, spec domain.ProcessSpec) error {
	f.specs[spec.Name] = spec
	return nil
}

func (f *fakeSpecs) Delete(_ context.Context, wlappName string, procName string) error {
	delete(f.specs, procName)
	return nil
}

func (f *fakeSpecs) Mutate(ctx context.Context, wlappName string, procName string, fn func(*domain.ProcessSpec) error) (domain.ProcessSpec, error) {
	if f.tooOften {
		return domain.ProcessSpec{}, kerr.Wrap(kerr.ErrTooOften, "operated %s within the floor", procName)
	}
	spec, ok := f.specs[procName]
	if !ok {
		return domain.ProcessSpec{}, kerr.Wrap(kerr.ErrMissing, "no spec %s", procName)
	}
	if err := fn(&spec); err != nil {
		return domain.ProcessSpec{}, err
	}
	f.specs[procName] = spec
	return spec, nil
}

type fakeBuilds struct {
	builddb.Interface
	build domain.Build
}

func (f *fakeBuilds) GetBuild(context.Context, string) (domain.Build, error) {
	return f.build, nil
}

type fakeReleases struct {
	releasedb.Interface

	latest    *domain.Release
	op        domain.OfflineOperation
	pendingOp bool
}

func (f *fakeReleases) LatestRelease(context.Context, string) (domain.Release, error) {
	if f.latest == nil {
		return domain.Release{}, kerr.Wrap(kerr.ErrMissing, "never deployed")
	}
	return *f.latest, nil
}

func (f *fakeReleases) NewOfflineOperation(_ context.Context, env domain.ModuleEnv, operator string) (domain.OfflineOperation, error) {
	if f.pendingOp {
		return domain.OfflineOperation{}, kerr.Wrap(kerr.ErrPendingOperation, "another operation runs on %s", env.WlAppName)
	}
	f.op = domain.OfflineOperation{
		Id: "off-1", AppCode: env.AppCode, ModuleName: env.ModuleName,
		Environment: env.Environment, Status: domain.StatusPending, Operator: operator,
	}
	return f.op, nil
}

func (f *fakeReleases) SetOfflineOperationStatus(_ context.Context, id string, status domain.OperationStatus, message string) error {
	f.op.Status = status
	f.op.Err = message
	return nil
}

// fixedClients serves one wrapped clientset for every cluster.
type fixedClients struct {
	client k8s.K8sClient
}

func (f fixedClients) For(context.Context, string) (k8s.K8sClient, error) {
	return f.client, nil
}

func (f fixedClients) ForEnv(context.Context, domain.ModuleEnv) (k8s.K8sClient, error) {
	return f.client, nil
}

var _ cluster.Clients = fixedClients{}

type harness struct {
	apps     *fakeApps
	specs    *fakeSpecs
	builds   *fakeBuilds
	releases *fakeReleases
	client   k8s.K8sClient
	testee   *processes.Controller
}

func newHarness() *harness {
	h := &harness{
		apps:   &fakeApps{},
		specs:  newFakeSpecs(),
		builds: &fakeBuilds{build: domain.Build{Id: "build-1", ArtifactType: domain.ArtifactSlug}},
		releases: &fakeReleases{latest: &domain.Release{
			WlAppName: testWlApp.Name, Version: 3, BuildId: "build-1",
			Procfile: map[string]string{"web": "python app.py"},
		}},
		client: k8s.Wrap(kubefake.NewSimpleClientset()),
	}
	h.testee = processes.New(
		h.apps, h.specs, h.builds, h.releases, fixedClients{client: h.client},
		processes.WithSlugRunnerImage("bkpaas/slug-runner:test"),
	)
	return h
}

func (h *harness) deploy(t *testing.T) {
	t.Helper()
	release := *h.releases.latest
	if err := h.testee.Deploy(context.Background(), testEnv, release); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) replicasOf(t *testing.T, procType string) int32 {
	t.Helper()
	res := mapper.ProcResources(testWlApp, procType)
	depl := try.To(
		h.client.GetDeployment(context.Background(), testWlApp.Namespace, res.DeploymentName),
	).OrFatal(t)
	if depl.Spec.Replicas == nil {
		return 1
	}
	return *depl.Spec.Replicas
}

func TestController_Deploy(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a spec, a deployment and a service per process", func(t *testing.T) {
		h := newHarness()
		h.deploy(t)

		spec, err := h.specs.Get(ctx, testWlApp.Name, "web")
		if err != nil {
			t.Fatalf("no spec created: %+v", err)
		}
		if spec.TargetReplicas != 1 || spec.TargetStatus != domain.TargetStart {
			t.Errorf("unexpected default spec: %+v", spec)
		}

		res := mapper.ProcResources(testWlApp, "web")
		depl := try.To(h.client.GetDeployment(ctx, testWlApp.Namespace, res.DeploymentName)).OrFatal(t)
		if got := depl.Spec.Template.Spec.Containers[0].Image; got != "bkpaas/slug-runner:test" {
			t.Errorf("unmatch: image: (actual, expected) = (%s, bkpaas/slug-runner:test)", got)
		}
		if got := depl.Labels[mapper.LabelProcessId]; got != "web" {
			t.Errorf("unmatch: process label: (actual, expected) = (%s, web)", got)
		}
		if _, err := h.client.GetService(ctx, testWlApp.Namespace, res.ServiceName); err != nil {
			t.Errorf("no service created: %+v", err)
		}
	})

	t.Run("an image artifact overrides the runner image", func(t *testing.T) {
		h := newHarness()
		h.builds.build = domain.Build{
			Id: "build-1", ArtifactType: domain.ArtifactImage, Image: "registry.example.com/demo:v3",
		}
		h.deploy(t)

		res := mapper.ProcResources(testWlApp, "web")
		depl := try.To(h.client.GetDeployment(ctx, testWlApp.Namespace, res.DeploymentName)).OrFatal(t)
		if got := depl.Spec.Template.Spec.Containers[0].Image; got != "registry.example.com/demo:v3" {
			t.Errorf("unmatch: image: (actual, expected) = (%s, registry.example.com/demo:v3)", got)
		}
	})

	t.Run("a redeploy keeps the tuned spec", func(t *testing.T) {
		h := newHarness()
		h.deploy(t)

		if err := h.testee.Scale(ctx, testEnv, "web", 4); err != nil {
			t.Fatal(err)
		}
		h.deploy(t)

		spec := try.To(h.specs.Get(ctx, testWlApp.Name, "web")).OrFatal(t)
		if spec.TargetReplicas != 4 {
			t.Errorf("unmatch: target replicas: (actual, expected) = (%d, 4)", spec.TargetReplicas)
		}
	})
}

func TestController_Operations(t *testing.T) {
	ctx := context.Background()

	t.Run("scale patches the cluster replicas", func(t *testing.T) {
		h := newHarness()
		h.deploy(t)

		if err := h.testee.Scale(ctx, testEnv, "web", 3); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if got := h.replicasOf(t, "web"); got != 3 {
			t.Errorf("unmatch: replicas: (actual, expected) = (%d, 3)", got)
		}
	})

	t.Run("stop zeroes the pods but keeps the target", func(t *testing.T) {
		h := newHarness()
		h.deploy(t)
		if err := h.testee.Scale(ctx, testEnv, "web", 3); err != nil {
			t.Fatal(err)
		}

		if err := h.testee.Stop(ctx, testEnv, "web"); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if got := h.replicasOf(t, "web"); got != 0 {
			t.Errorf("unmatch: replicas: (actual, expected) = (%d, 0)", got)
		}

		if err := h.testee.Start(ctx, testEnv, "web"); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if got := h.replicasOf(t, "web"); got != 3 {
			t.Errorf("unmatch: replicas after restart: (actual, expected) = (%d, 3)", got)
		}
	})

	t.Run("operating an undeployed process fails with missing", func(t *testing.T) {
		h := newHarness()
		h.specs.specs["web"] = domain.ProcessSpec{WlAppName: testWlApp.Name, Name: "web", TargetReplicas: 1}

		if err := h.testee.Scale(ctx, testEnv, "web", 3); !errors.Is(err, kerr.ErrMissing) {
			t.Errorf("unexpected error: %+v", err)
		}
	})

	t.Run("the frequency floor surfaces unchanged", func(t *testing.T) {
		h := newHarness()
		h.deploy(t)
		h.specs.tooOften = true

		if err := h.testee.Scale(ctx, testEnv, "web", 3); !errors.Is(err, kerr.ErrTooOften) {
			t.Errorf("unexpected error: %+v", err)
		}
	})

	t.Run("an offline env refuses operations", func(t *testing.T) {
		h := newHarness()
		h.deploy(t)

		offline := testEnv
		offline.IsOffline = true
		if err := h.testee.Start(ctx, offline, "web"); !errors.Is(err, kerr.ErrCannotOperate) {
			t.Errorf("unexpected error: %+v", err)
		}
	})
}

func TestController_Snapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("an undeployed env yields an empty snapshot", func(t *testing.T) {
		h := newHarness()
		h.releases.latest = nil

		snap, err := h.testee.Snapshot(ctx, testEnv, 0)
		if err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if len(snap.Processes) != 0 || len(snap.Instances) != 0 {
			t.Errorf("snapshot not empty: %+v", snap)
		}
	})

	t.Run("processes come from the latest procfile", func(t *testing.T) {
		h := newHarness()
		h.releases.latest.Procfile = map[string]string{
			"web": "python app.py", "worker": "celery worker",
		}
		h.deploy(t)

		snap, err := h.testee.Snapshot(ctx, testEnv, 0)
		if err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if len(snap.Processes) != 2 {
			t.Fatalf("unmatch: processes: (actual, expected) = (%d, 2)", len(snap.Processes))
		}
		for _, proc := range snap.Processes {
			if proc.Version != 3 {
				t.Errorf("unmatch: version of %s: (actual, expected) = (%d, 3)", proc.Type, proc.Version)
			}
		}
	})
}

func TestController_Archive(t *testing.T) {
	ctx := context.Background()

	t.Run("archive stops processes, sweeps resources and marks the env", func(t *testing.T) {
		h := newHarness()
		h.deploy(t)

		op, err := h.testee.Archive(ctx, testEnv, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if op.Status != domain.StatusSuccessful {
			t.Errorf("unmatch: status: (actual, expected) = (%s, successful)", op.Status)
		}
		if !h.apps.offlined {
			t.Error("env not marked offline")
		}

		res := mapper.ProcResources(testWlApp, "web")
		if _, err := h.client.GetDeployment(ctx, testWlApp.Namespace, res.DeploymentName); !k8s.IsNotFound(err) {
			t.Errorf("deployment survived the sweep: %+v", err)
		}
		if _, err := h.client.GetService(ctx, testWlApp.Namespace, res.ServiceName); !k8s.IsNotFound(err) {
			t.Errorf("service survived the sweep: %+v", err)
		}
	})

	t.Run("the pending guard refuses a second archive", func(t *testing.T) {
		h := newHarness()
		h.deploy(t)
		h.releases.pendingOp = true

		if _, err := h.testee.Archive(ctx, testEnv, "alice"); !errors.Is(err, kerr.ErrPendingOperation) {
			t.Errorf("unexpected error: %+v", err)
		}
	})
}

func TestController_Delete(t *testing.T) {
	ctx := context.Background()

	h := newHarness()
	h.deploy(t)

	if err := h.testee.Delete(ctx, testEnv, "web", true); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if _, err := h.specs.Get(ctx, testWlApp.Name, "web"); !errors.Is(err, kerr.ErrMissing) {
		t.Errorf("spec row not deleted: %+v", err)
	}

	res := mapper.ProcResources(testWlApp, "web")
	if _, err := h.client.GetDeployment(ctx, testWlApp.Namespace, res.DeploymentName); !k8s.IsNotFound(err) {
		t.Errorf("deployment not deleted: %+v", err)
	}
	if _, err := h.client.GetService(ctx, testWlApp.Namespace, res.ServiceName); !k8s.IsNotFound(err) {
		t.Errorf("service not deleted: %+v", err)
	}
}
