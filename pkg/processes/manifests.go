package processes

import (
	"sort"
	"strconv"

	kubeapps "k8s.io/api/apps/v1"
	kubecore "k8s.io/api/core/v1"
	kuberesource "k8s.io/apimachinery/pkg/api/resource"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/bkpaas/apcp/pkg/cluster/mapper"
	"github.com/bkpaas/apcp/pkg/domain"
)

const (
	// ContainerPort is where every app process listens. The platform
	// injects it as $PORT; processes that ignore it do not get traffic.
	ContainerPort = 5000

	healthzPath = "/healthz"
)

// Schedule carries the cluster placement constraints applied to every
// pod the controller creates.
type Schedule struct {
	Tolerations  []kubecore.Toleration
	NodeSelector map[string]string
}

// deploymentFor renders the Deployment of one process.
//
// The replica count honours TargetStatus: a stopped process keeps its
// spec row (and its target_replicas) but runs zero pods.
func deploymentFor(wlapp domain.WlApp, proc domain.Process, envVars map[string]string, schedule Schedule) *kubeapps.Deployment {
	res := mapper.ProcResources(wlapp, proc.Type)

	replicas := int32(proc.Spec.TargetReplicas)
	if proc.Spec.TargetStatus == domain.TargetStop {
		replicas = 0
	}

	return &kubeapps.Deployment{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:      res.DeploymentName,
			Namespace: wlapp.Namespace,
			Labels:    res.Labels,
		},
		Spec: kubeapps.DeploymentSpec{
			Replicas: &replicas,
			Selector: &kubeapimeta.LabelSelector{MatchLabels: res.Selector},
			Template: kubecore.PodTemplateSpec{
				ObjectMeta: kubeapimeta.ObjectMeta{
					Labels: res.Labels,
					Annotations: map[string]string{
						mapper.AnnotationReleaseVersion: strconv.Itoa(proc.Version),
					},
				},
				Spec: kubecore.PodSpec{
					Containers: []kubecore.Container{
						{
							Name:    proc.Type,
							Image:   proc.Image,
							Command: []string{"/bin/sh", "-c"},
							Args:    []string{proc.Command},
							Env:     containerEnv(proc, envVars),
							Ports: []kubecore.ContainerPort{
								{ContainerPort: ContainerPort},
							},
							Resources:      resourcesOf(proc.Spec.Plan),
							ReadinessProbe: readinessProbe(),
						},
					},
					Tolerations:  schedule.Tolerations,
					NodeSelector: schedule.NodeSelector,
				},
			},
		},
	}
}

func serviceFor(wlapp domain.WlApp, procType string) *kubecore.Service {
	res := mapper.ProcResources(wlapp, procType)
	return &kubecore.Service{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:      res.ServiceName,
			Namespace: wlapp.Namespace,
			Labels:    res.Labels,
		},
		Spec: kubecore.ServiceSpec{
			Selector: res.Selector,
			Ports: []kubecore.ServicePort{
				{
					Name:       "http",
					Port:       80,
					TargetPort: intstr.FromInt(ContainerPort),
				},
			},
		},
	}
}

func containerEnv(proc domain.Process, envVars map[string]string) []kubecore.EnvVar {
	keys := make([]string, 0, len(envVars))
	for k := range envVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	envs := make([]kubecore.EnvVar, 0, len(keys)+2)
	for _, k := range keys {
		envs = append(envs, kubecore.EnvVar{Name: k, Value: envVars[k]})
	}
	envs = append(envs,
		kubecore.EnvVar{Name: "PORT", Value: "5000"},
		kubecore.EnvVar{Name: "BKPAAS_PROCESS_TYPE", Value: proc.Type},
	)
	return envs
}

func resourcesOf(plan domain.Plan) kubecore.ResourceRequirements {
	req := kubecore.ResourceRequirements{
		Limits:   kubecore.ResourceList{},
		Requests: kubecore.ResourceList{},
	}
	set := func(list kubecore.ResourceList, name kubecore.ResourceName, value string) {
		if value == "" {
			return
		}
		if q, err := kuberesource.ParseQuantity(value); err == nil {
			list[name] = q
		}
	}
	set(req.Limits, kubecore.ResourceCPU, plan.CPULimit)
	set(req.Limits, kubecore.ResourceMemory, plan.MemoryLimit)
	set(req.Requests, kubecore.ResourceCPU, plan.CPURequest)
	set(req.Requests, kubecore.ResourceMemory, plan.MemoryRequest)
	return req
}

func readinessProbe() *kubecore.Probe {
	return &kubecore.Probe{
		ProbeHandler: kubecore.ProbeHandler{
			HTTPGet: &kubecore.HTTPGetAction{
				Path: healthzPath,
				Port: intstr.FromInt(ContainerPort),
			},
		},
		SuccessThreshold: 3,
		PeriodSeconds:    5,
	}
}
