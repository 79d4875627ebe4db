// Package processes implements start/stop/scale/deploy/archive on the
// named processes of a WlApp.
//
// Intent lives in ProcessSpec rows; the cluster is only ever written,
// never read back as intent. Every mutating operation goes through the
// store's frequency floor, so overlapping reconciliations on the same
// process fail fast with ErrTooOften instead of racing.
package processes

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/bkpaas/apcp/pkg/cluster"
	"github.com/bkpaas/apcp/pkg/cluster/k8s"
	"github.com/bkpaas/apcp/pkg/cluster/mapper"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	builddb "github.com/bkpaas/apcp/pkg/domain/build/db"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	processdb "github.com/bkpaas/apcp/pkg/domain/process/db"
	releasedb "github.com/bkpaas/apcp/pkg/domain/release/db"
)

type Controller struct {
	apps     appdb.Interface
	specs    processdb.Interface
	builds   builddb.Interface
	releases releasedb.Interface
	clients  cluster.Clients

	schedule Schedule

	// slugRunnerImage runs slug artifacts; image artifacts carry their own.
	slugRunnerImage string

	logger *log.Logger
}

type Option func(*Controller)

func WithSchedule(s Schedule) Option {
	return func(c *Controller) { c.schedule = s }
}

func WithSlugRunnerImage(image string) Option {
	return func(c *Controller) { c.slugRunnerImage = image }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func New(
	apps appdb.Interface,
	specs processdb.Interface,
	builds builddb.Interface,
	releases releasedb.Interface,
	clients cluster.Clients,
	opts ...Option,
) *Controller {
	c := &Controller{
		apps:            apps,
		specs:           specs,
		builds:          builds,
		releases:        releases,
		clients:         clients,
		slugRunnerImage: "bkpaas/slug-runner:latest",
		logger:          log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Scale sets target_replicas and patches the in-cluster Deployment.
// Applying the same scale twice yields the same cluster state.
func (c *Controller) Scale(ctx context.Context, env domain.ModuleEnv, procType string, replicas int) error {
	if err := c.operable(env); err != nil {
		return err
	}
	spec, err := c.specs.Mutate(ctx, env.WlAppName, procType, func(s *domain.ProcessSpec) error {
		s.TargetReplicas = replicas
		return nil
	})
	if err != nil {
		return err
	}
	return c.apply(ctx, env, spec)
}

// Start brings the process up. A zero target is bumped to one replica.
func (c *Controller) Start(ctx context.Context, env domain.ModuleEnv, procType string) error {
	if err := c.operable(env); err != nil {
		return err
	}
	spec, err := c.specs.Mutate(ctx, env.WlAppName, procType, func(s *domain.ProcessSpec) error {
		if s.TargetReplicas == 0 {
			s.TargetReplicas = 1
		}
		s.TargetStatus = domain.TargetStart
		return nil
	})
	if err != nil {
		return err
	}
	return c.apply(ctx, env, spec)
}

// Stop scales the process to zero pods. The Deployment and Service stay
// in the cluster; target_replicas is kept so Start restores it.
func (c *Controller) Stop(ctx context.Context, env domain.ModuleEnv, procType string) error {
	if err := c.operable(env); err != nil {
		return err
	}
	spec, err := c.specs.Mutate(ctx, env.WlAppName, procType, func(s *domain.ProcessSpec) error {
		s.TargetStatus = domain.TargetStop
		return nil
	})
	if err != nil {
		return err
	}
	return c.apply(ctx, env, spec)
}

// SetAutoscaling stores the autoscaling intent. nil clears it.
func (c *Controller) SetAutoscaling(ctx context.Context, env domain.ModuleEnv, procType string, as *domain.AutoscalingSpec) error {
	if err := c.operable(env); err != nil {
		return err
	}
	spec, err := c.specs.Mutate(ctx, env.WlAppName, procType, func(s *domain.ProcessSpec) error {
		s.Autoscaling = as
		return nil
	})
	if err != nil {
		return err
	}
	return c.apply(ctx, env, spec)
}

// Deploy applies the release's Procfile: a spec row, a Deployment and a
// Service per process. Spec rows survive redeploys; new processes get a
// default spec, processes dropped from the Procfile keep their rows
// until Delete.
func (c *Controller) Deploy(ctx context.Context, env domain.ModuleEnv, release domain.Release) error {
	wlapp, err := c.apps.GetWlApp(ctx, env.WlAppName)
	if err != nil {
		return err
	}
	client, err := c.clients.ForEnv(ctx, env)
	if err != nil {
		return err
	}
	if err := client.EnsureNamespace(ctx, wlapp.Namespace); err != nil {
		return err
	}

	image, err := c.imageOf(ctx, release)
	if err != nil {
		return err
	}

	for procType, command := range release.Procfile {
		spec, err := c.specs.Get(ctx, env.WlAppName, procType)
		if errors.Is(err, kerr.ErrMissing) {
			spec = defaultSpec(env.WlAppName, procType)
			if err := c.specs.Upsert(ctx, spec); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		proc := domain.Process{
			WlAppName: env.WlAppName,
			Type:      procType,
			Command:   command,
			Image:     image,
			Version:   release.Version,
			Spec:      spec,
		}
		if err := c.applyProcess(ctx, client, wlapp, proc, release.EnvVars); err != nil {
			return fmt.Errorf("deploy %s/%s: %w", env.WlAppName, procType, err)
		}
	}
	return nil
}

// Shutdown stops every process of the env, bypassing the frequency
// floor: it is the archive path, not a user knob.
func (c *Controller) Shutdown(ctx context.Context, env domain.ModuleEnv) error {
	wlapp, err := c.apps.GetWlApp(ctx, env.WlAppName)
	if err != nil {
		return err
	}
	client, err := c.clients.ForEnv(ctx, env)
	if err != nil {
		return err
	}
	specs, err := c.specs.List(ctx, env.WlAppName)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		spec.TargetStatus = domain.TargetStop
		if err := c.specs.Upsert(ctx, spec); err != nil {
			return err
		}
		if err := c.patchReplicas(ctx, client, wlapp, spec.Name, 0); err != nil {
			return err
		}
	}
	return nil
}

// Delete drops the spec row and its Deployment. The Service is kept
// unless withService is set.
func (c *Controller) Delete(ctx context.Context, env domain.ModuleEnv, procType string, withService bool) error {
	wlapp, err := c.apps.GetWlApp(ctx, env.WlAppName)
	if err != nil {
		return err
	}
	client, err := c.clients.ForEnv(ctx, env)
	if err != nil {
		return err
	}
	if err := c.specs.Delete(ctx, env.WlAppName, procType); err != nil {
		return err
	}
	res := mapper.ProcResources(wlapp, procType)
	if err := client.DeleteDeployment(ctx, wlapp.Namespace, res.DeploymentName); err != nil && !k8s.IsNotFound(err) {
		return err
	}
	if withService {
		if err := client.DeleteService(ctx, wlapp.Namespace, res.ServiceName); err != nil && !k8s.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// Archive takes the env down: records the OfflineOperation (the pending
// guard refuses a second one), stops every process and sweeps resources
// whose labels mark them as owned by the env.
func (c *Controller) Archive(ctx context.Context, env domain.ModuleEnv, operator string) (domain.OfflineOperation, error) {
	op, err := c.releases.NewOfflineOperation(ctx, env, operator)
	if err != nil {
		return domain.OfflineOperation{}, err
	}

	if err := c.archive(ctx, env); err != nil {
		if serr := c.releases.SetOfflineOperationStatus(ctx, op.Id, domain.StatusFailed, err.Error()); serr != nil {
			c.logger.Printf("archive %s: recording failure: %s", env.WlAppName, serr)
		}
		return domain.OfflineOperation{}, err
	}

	if err := c.releases.SetOfflineOperationStatus(ctx, op.Id, domain.StatusSuccessful, ""); err != nil {
		return domain.OfflineOperation{}, err
	}
	if err := c.apps.SetEnvOffline(ctx, env.AppCode, env.ModuleName, env.Environment, true); err != nil {
		return domain.OfflineOperation{}, err
	}
	op.Status = domain.StatusSuccessful
	return op, nil
}

func (c *Controller) archive(ctx context.Context, env domain.ModuleEnv) error {
	if err := c.Shutdown(ctx, env); err != nil {
		return err
	}

	wlapp, err := c.apps.GetWlApp(ctx, env.WlAppName)
	if err != nil {
		return err
	}
	client, err := c.clients.ForEnv(ctx, env)
	if err != nil {
		return err
	}

	selector := mapper.EnvSelector(wlapp)
	depls, err := client.FindDeployments(ctx, wlapp.Namespace, selector)
	if err != nil {
		return err
	}
	for _, d := range depls {
		if err := client.DeleteDeployment(ctx, wlapp.Namespace, d.Name); err != nil && !k8s.IsNotFound(err) {
			return err
		}
	}
	svcs, err := client.FindServices(ctx, wlapp.Namespace, selector)
	if err != nil {
		return err
	}
	for _, s := range svcs {
		if err := client.DeleteService(ctx, wlapp.Namespace, s.Name); err != nil && !k8s.IsNotFound(err) {
			return err
		}
	}
	ings, err := client.FindIngresses(ctx, wlapp.Namespace, selector)
	if err != nil {
		return err
	}
	for _, ing := range ings {
		if err := client.DeleteIngress(ctx, wlapp.Namespace, ing.Name); err != nil && !k8s.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// apply reconciles one spec against the cluster: patch replicas on the
// existing Deployment, ensure the Service. Missing Deployment means the
// env was never deployed; replica patches are then meaningless.
func (c *Controller) apply(ctx context.Context, env domain.ModuleEnv, spec domain.ProcessSpec) error {
	wlapp, err := c.apps.GetWlApp(ctx, env.WlAppName)
	if err != nil {
		return err
	}
	client, err := c.clients.ForEnv(ctx, env)
	if err != nil {
		return err
	}

	replicas := spec.TargetReplicas
	if spec.TargetStatus == domain.TargetStop {
		replicas = 0
	}
	if err := c.patchReplicas(ctx, client, wlapp, spec.Name, replicas); err != nil {
		return err
	}

	if _, err := client.UpsertService(ctx, wlapp.Namespace, serviceFor(wlapp, spec.Name)); err != nil {
		return err
	}
	return nil
}

func (c *Controller) applyProcess(ctx context.Context, client k8s.K8sClient, wlapp domain.WlApp, proc domain.Process, envVars map[string]string) error {
	if _, err := client.UpsertDeployment(ctx, wlapp.Namespace, deploymentFor(wlapp, proc, envVars, c.schedule)); err != nil {
		return err
	}
	if _, err := client.UpsertService(ctx, wlapp.Namespace, serviceFor(wlapp, proc.Type)); err != nil {
		return err
	}
	return nil
}

func (c *Controller) patchReplicas(ctx context.Context, client k8s.K8sClient, wlapp domain.WlApp, procType string, replicas int) error {
	res := mapper.ProcResources(wlapp, procType)
	depl, err := client.GetDeployment(ctx, wlapp.Namespace, res.DeploymentName)
	if err != nil {
		if k8s.IsNotFound(err) {
			return kerr.Wrap(kerr.ErrMissing, "process %s of %s is not deployed", procType, wlapp.Name)
		}
		return err
	}
	n := int32(replicas)
	depl.Spec.Replicas = &n
	_, err = client.UpsertDeployment(ctx, wlapp.Namespace, depl)
	return err
}

func (c *Controller) imageOf(ctx context.Context, release domain.Release) (string, error) {
	build, err := c.builds.GetBuild(ctx, release.BuildId)
	if err != nil {
		return "", err
	}
	if build.ArtifactType == domain.ArtifactImage {
		return build.Image, nil
	}
	return c.slugRunnerImage, nil
}

func (c *Controller) operable(env domain.ModuleEnv) error {
	if env.IsOffline {
		return kerr.Wrap(kerr.ErrCannotOperate, "env %s/%s/%s is offline", env.AppCode, env.ModuleName, env.Environment)
	}
	return nil
}

func defaultSpec(wlappName string, procType string) domain.ProcessSpec {
	return domain.ProcessSpec{
		WlAppName:      wlappName,
		Name:           procType,
		TargetReplicas: 1,
		TargetStatus:   domain.TargetStart,
		Plan: domain.Plan{
			Name:          "default",
			MaxReplicas:   5,
			CPULimit:      "4",
			MemoryLimit:   "1Gi",
			CPURequest:    "200m",
			MemoryRequest: "256Mi",
		},
	}
}
