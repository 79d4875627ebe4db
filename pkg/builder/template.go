package builder

import (
	"sort"

	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/bkpaas/apcp/pkg/cluster/mapper"
	"github.com/bkpaas/apcp/pkg/domain"
)

// SlugBuilderTemplate is everything needed to launch one builder pod.
type SlugBuilderTemplate struct {
	Image    string
	Envs     map[string]string
	Schedule Schedule
}

// Schedule is the placement constraint set for builder pods.
type Schedule struct {
	Tolerations  []kubecore.Toleration
	NodeSelector map[string]string
}

// podFor renders the one-shot builder pod. restartPolicy is Never: a
// failed build is diagnosed from its logs, not retried by the kubelet.
func podFor(wlapp domain.WlApp, tmpl SlugBuilderTemplate) *kubecore.Pod {
	keys := make([]string, 0, len(tmpl.Envs))
	for k := range tmpl.Envs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	envs := make([]kubecore.EnvVar, 0, len(keys))
	for _, k := range keys {
		envs = append(envs, kubecore.EnvVar{Name: k, Value: tmpl.Envs[k]})
	}

	return &kubecore.Pod{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:      mapper.BuilderPodName(wlapp),
			Namespace: wlapp.Namespace,
			Labels: map[string]string{
				mapper.LabelApp:      wlapp.Name,
				mapper.LabelEnv:      string(wlapp.Environment),
				mapper.LabelModule:   wlapp.ModuleName,
				mapper.LabelCategory: mapper.CategoryBuilder,
			},
		},
		Spec: kubecore.PodSpec{
			RestartPolicy: kubecore.RestartPolicyNever,
			Containers: []kubecore.Container{
				{
					Name:  "slug-builder",
					Image: tmpl.Image,
					Env:   envs,
				},
			},
			Tolerations:  tmpl.Schedule.Tolerations,
			NodeSelector: tmpl.Schedule.NodeSelector,
		},
	}
}
