// Package mapper is the single place that knows how domain objects map to
// Kubernetes resource names and labels.
//
// Two naming generations coexist: v1 (legacy) and v2 (current). Each app
// is pinned to one at creation; migration is an explicit operation, never
// a side effect.
package mapper

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bkpaas/apcp/pkg/domain"
)

const (
	LabelApp           = "app"
	LabelEnv           = "env"
	LabelModule        = "module"
	LabelProcessId     = "process_id"
	LabelCategory      = "category"
	LabelMapperVersion = "mapper_version"

	// CategoryApp marks resources owned by the process controller.
	CategoryApp = "bkapp"

	// CategoryBuilder marks one-shot builder pods.
	CategoryBuilder = "slug-builder"

	// AnnotationReleaseVersion records which release a pod runs.
	AnnotationReleaseVersion = "bkpaas/release-version"
)

// Resources is everything the controller needs to address one process in
// the cluster.
type Resources struct {
	DeploymentName string
	ServiceName    string
	PodNamePattern string
	Labels         map[string]string
	Selector       map[string]string
}

// ProcResources computes names and labels for (wlapp, process type).
func ProcResources(wlapp domain.WlApp, procType string) Resources {
	labels := Labels(wlapp, procType)

	var deployment string
	switch wlapp.MapperVersion {
	case domain.MapperV1:
		deployment = fmt.Sprintf("%s-%s-deployment", wlapp.Name, procType)
	default:
		deployment = fmt.Sprintf("%s--%s", wlapp.Name, procType)
	}

	return Resources{
		DeploymentName: deployment,
		ServiceName:    ServiceName(wlapp, procType),
		PodNamePattern: deployment + "-[a-z0-9]+-[a-z0-9]+",
		Labels:         labels,
		Selector: map[string]string{
			LabelApp:       wlapp.Name,
			LabelProcessId: procType,
		},
	}
}

// Labels returns the canonical label set of a process's resources.
func Labels(wlapp domain.WlApp, procType string) map[string]string {
	return map[string]string{
		LabelApp:           wlapp.Name,
		LabelEnv:           string(wlapp.Environment),
		LabelModule:        wlapp.ModuleName,
		LabelProcessId:     procType,
		LabelCategory:      CategoryApp,
		LabelMapperVersion: string(wlapp.MapperVersion),
	}
}

// EnvSelector selects every resource of the env, across processes.
// Used by archive to sweep the namespace.
func EnvSelector(wlapp domain.WlApp) map[string]string {
	return map[string]string{
		LabelApp:      wlapp.Name,
		LabelCategory: CategoryApp,
	}
}

// ServiceName is shared by both mapper versions: services were introduced
// after the v1-to-v2 split and never carried legacy names.
func ServiceName(wlapp domain.WlApp, procType string) string {
	return fmt.Sprintf("%s--%s-svc", wlapp.Name, procType)
}

// BuilderPodName names the one-shot builder pod of a WlApp.
// Deterministic: re-launching a build reuses the name, which is how the
// "one builder per app" rule shows up in the cluster.
func BuilderPodName(wlapp domain.WlApp) string {
	return fmt.Sprintf("slug-builder-%s", wlapp.Name)
}

// v1 pod name suffix patterns, carried over from the historical clusters.
// Order matters: the first match wins.
var v1PodPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?P<wlapp>.+)-(?P<type>[a-z0-9]+)-deployment-[a-z0-9]{1,10}-[a-z0-9]{5}$`),
	regexp.MustCompile(`^(?P<wlapp>.+)-(?P<type>[a-z0-9]+)-deploy-[a-z0-9]{1,10}-[a-z0-9]{5}$`),
	regexp.MustCompile(`^(?P<wlapp>.+)-(?P<type>[a-z0-9]+)-[a-z0-9]{1,10}-[a-z0-9]{5}$`),
}

var v2PodPattern = regexp.MustCompile(`^(?P<wlapp>.+)--(?P<type>[a-z0-9]+)-[a-z0-9]{1,10}-[a-z0-9]{5}$`)

// ExtractTypeFromName recovers the process type from a pod name.
//
// Pods created under v2 carry the process_id label and never reach this
// path; it exists for legacy pods whose labels are incomplete. Returns
// ("", false) when the name matches no known shape for the WlApp.
func ExtractTypeFromName(podName string, wlapp domain.WlApp) (string, bool) {
	if !strings.HasPrefix(podName, wlapp.Name) {
		return "", false
	}

	if m := v2PodPattern.FindStringSubmatch(podName); m != nil {
		if m[v2PodPattern.SubexpIndex("wlapp")] == wlapp.Name {
			return m[v2PodPattern.SubexpIndex("type")], true
		}
	}
	for _, p := range v1PodPatterns {
		m := p.FindStringSubmatch(podName)
		if m == nil {
			continue
		}
		if m[p.SubexpIndex("wlapp")] != wlapp.Name {
			continue
		}
		return m[p.SubexpIndex("type")], true
	}
	return "", false
}

// ProcTypeOf reads the process type of a pod, preferring the process_id
// label and falling back to name parsing for legacy pods.
func ProcTypeOf(labels map[string]string, podName string, wlapp domain.WlApp) (string, bool) {
	if t, ok := labels[LabelProcessId]; ok && t != "" {
		return t, true
	}
	return ExtractTypeFromName(podName, wlapp)
}
