package processes

import (
	"context"
	"errors"
	"strconv"

	kubecore "k8s.io/api/core/v1"

	"github.com/bkpaas/apcp/pkg/cluster/mapper"
	"github.com/bkpaas/apcp/pkg/domain"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
)

// Snapshot is the point-in-time view of an env: the computed processes
// and the pods backing them.
type Snapshot struct {
	Processes []domain.Process
	Instances []domain.Instance
}

// Snapshot joins intent (spec rows + latest release) with observation
// (deployments and pods in the namespace). An env that was never
// deployed yields an empty snapshot, not an error.
func (c *Controller) Snapshot(ctx context.Context, env domain.ModuleEnv, releaseVersion int) (Snapshot, error) {
	release, err := c.releases.LatestRelease(ctx, env.WlAppName)
	if errors.Is(err, kerr.ErrMissing) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}

	wlapp, err := c.apps.GetWlApp(ctx, env.WlAppName)
	if err != nil {
		return Snapshot{}, err
	}
	client, err := c.clients.ForEnv(ctx, env)
	if err != nil {
		return Snapshot{}, err
	}
	image, err := c.imageOf(ctx, release)
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	for procType, command := range release.Procfile {
		spec, err := c.specs.Get(ctx, env.WlAppName, procType)
		if errors.Is(err, kerr.ErrMissing) {
			spec = defaultSpec(env.WlAppName, procType)
		} else if err != nil {
			return Snapshot{}, err
		}

		proc := domain.Process{
			WlAppName: env.WlAppName,
			Type:      procType,
			Command:   command,
			Image:     image,
			Version:   release.Version,
			Spec:      spec,
		}

		res := mapper.ProcResources(wlapp, procType)
		pods, err := client.FindPods(ctx, wlapp.Namespace, res.Selector)
		if err != nil {
			return Snapshot{}, err
		}
		for _, pod := range pods {
			inst, ok := InstanceOf(&pod, wlapp)
			if !ok {
				continue
			}
			if releaseVersion != 0 && inst.ReleaseVersion != releaseVersion {
				continue
			}
			proc.Replicas += 1
			switch inst.State {
			case domain.InstanceRunning, domain.InstanceSucceeded:
				proc.Success += 1
			case domain.InstanceFailed:
				proc.Failed += 1
			}
			snap.Instances = append(snap.Instances, inst)
		}
		snap.Processes = append(snap.Processes, proc)
	}
	return snap, nil
}

// InstanceOf normalises a pod into an Instance. Returns ok=false for
// pods whose process type cannot be determined (unknown legacy names).
func InstanceOf(pod *kubecore.Pod, wlapp domain.WlApp) (domain.Instance, bool) {
	procType, ok := mapper.ProcTypeOf(pod.Labels, pod.Name, wlapp)
	if !ok {
		return domain.Instance{}, false
	}

	inst := domain.Instance{
		Name:        pod.Name,
		ProcessType: procType,
		Ready:       podReady(pod),
		State:       instanceState(pod),
	}
	if len(pod.Spec.Containers) != 0 {
		inst.Image = pod.Spec.Containers[0].Image
	}
	if v, err := strconv.Atoi(pod.Annotations[mapper.AnnotationReleaseVersion]); err == nil {
		inst.ReleaseVersion = v
	}
	if pod.Status.StartTime != nil {
		t := pod.Status.StartTime.Time
		inst.StartTime = &t
	}
	if info := terminatedInfo(pod); info != nil {
		inst.TerminatedInfo = info
		inst.State = domain.InstanceTerminated
	}
	return inst, true
}

func instanceState(pod *kubecore.Pod) domain.InstanceState {
	switch pod.Status.Phase {
	case kubecore.PodPending:
		return domain.InstancePending
	case kubecore.PodRunning:
		// running but not ready is still coming up
		if !podReady(pod) {
			return domain.InstanceStarting
		}
		return domain.InstanceRunning
	case kubecore.PodSucceeded:
		return domain.InstanceSucceeded
	case kubecore.PodFailed:
		return domain.InstanceFailed
	}
	return domain.InstanceUnknown
}

func podReady(pod *kubecore.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == kubecore.PodReady {
			return cond.Status == kubecore.ConditionTrue
		}
	}
	return false
}

func terminatedInfo(pod *kubecore.Pod) *domain.TerminatedInfo {
	for _, cs := range pod.Status.ContainerStatuses {
		if term := cs.State.Terminated; term != nil {
			return &domain.TerminatedInfo{
				ExitCode: term.ExitCode,
				Reason:   term.Reason,
			}
		}
	}
	return nil
}
