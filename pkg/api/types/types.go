package types

import (
	"time"

	"github.com/bkpaas/apcp/pkg/domain"
	"github.com/bkpaas/apcp/pkg/metrics"
)

// OperateProcessRequest is the body of POST .../processes/.
type OperateProcessRequest struct {
	ProcessType    string                  `json:"process_type"`
	OperateType    string                  `json:"operate_type"` // start | stop | scale
	TargetReplicas *int                    `json:"target_replicas,omitempty"`
	Autoscaling    *domain.AutoscalingSpec `json:"autoscaling,omitempty"`
}

// ProcessDetail is one process in the list snapshot.
type ProcessDetail struct {
	Type           string        `json:"type"`
	Command        string        `json:"command"`
	Replicas       int           `json:"replicas"`
	Success        int           `json:"success"`
	Failed         int           `json:"failed"`
	TargetReplicas int           `json:"target_replicas"`
	TargetStatus   string        `json:"target_status"`
	MaxReplicas    int           `json:"max_replicas"`
	Version        int           `json:"version"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Instances      []InstanceRef `json:"instances"`
}

type InstanceRef struct {
	Name           string                 `json:"name"`
	State          string                 `json:"state"`
	Ready          bool                   `json:"ready"`
	Image          string                 `json:"image"`
	ReleaseVersion int                    `json:"version"`
	StartTime      *time.Time             `json:"start_time,omitempty"`
	TerminatedInfo *domain.TerminatedInfo `json:"terminated_info,omitempty"`
}

// ProcessListResponse is the body of GET .../processes/list/.
type ProcessListResponse struct {
	Processes []ProcessDetail `json:"processes"`
}

// OfflineResponse is the body of POST .../offlines/.
type OfflineResponse struct {
	OfflineOperationId string `json:"offline_operation_id"`
	Status             string `json:"status"`
}

// OfflineResultResponse is the poll body of an archive.
type OfflineResultResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// DomainRequest is the body of custom-domain create/update.
type DomainRequest struct {
	ModuleName     string `json:"module_name"`
	Environment    string `json:"environment"`
	Host           string `json:"host"`
	PathPrefix     string `json:"path_prefix"`
	HTTPSEnabled   bool   `json:"https_enabled"`
	SharedCertName string `json:"shared_cert_name,omitempty"`
}

// DomainResponse is one custom domain.
type DomainResponse struct {
	Id           string `json:"id"`
	Host         string `json:"host"`
	PathPrefix   string `json:"path_prefix"`
	HTTPSEnabled bool   `json:"https_enabled"`
	Environment  string `json:"environment"`
	Type         string `json:"type"` // always "custom"
}

// MetricsResponse is the body of GET .../metrics/.
type MetricsResponse struct {
	Usages []metrics.InstanceUsage `json:"usages"`
}

// DeploymentResponse reports a release pipeline run.
type DeploymentResponse struct {
	Id          string          `json:"id"`
	Status      string          `json:"status"`
	Environment string          `json:"environment"`
	Operator    string          `json:"operator"`
	Stages      []StageResponse `json:"stages,omitempty"`
}

type StageResponse struct {
	Name         string `json:"name"`
	InvokeMethod string `json:"invoke_method"`
	Status       string `json:"status"`
	TicketSn     string `json:"ticket_sn,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BuildRequest is the body of POST .../build_processes/ .
type BuildRequest struct {
	ModuleName  string            `json:"module_name"`
	Environment string            `json:"environment"`
	Branch      string            `json:"branch"`
	Revision    string            `json:"revision"`
	Procfile    map[string]string `json:"procfile"`
	EnvVars     map[string]string `json:"env_vars,omitempty"`

	// ArtifactImage registers a pre-built image instead of running the
	// builder. For engineless apps.
	ArtifactImage string `json:"artifact_image,omitempty"`
}

// DeployRequest is the body of POST .../deployments/ .
type DeployRequest struct {
	ModuleName  string `json:"module_name"`
	Environment string `json:"environment"`
	BuildId     string `json:"build_id"`

	// Gray routes the deployment through the canary pipeline.
	Gray bool `json:"gray,omitempty"`
}

// ConfigVarItem is one user-managed env var on the wire.
type ConfigVarItem struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	Scope       string `json:"scope"`
}

// ConfigVarBatchRequest is the body of config-var apply/batch save.
type ConfigVarBatchRequest struct {
	Vars []ConfigVarItem `json:"env_variables"`
}

// ConfigVarApplyResponse counts what a config-var write did.
type ConfigVarApplyResponse struct {
	Created     int `json:"create_num"`
	Overwritten int `json:"overwrited_num"`
	Ignored     int `json:"ignored_num"`
	Deleted     int `json:"deleted_num"`
}

// BuildProcessResponse reports one build run.
type BuildProcessResponse struct {
	Id      string  `json:"id"`
	Status  string  `json:"status"`
	BuildId *string `json:"build_id,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// ProcessDetailOf assembles the wire view of a process and its pods.
func ProcessDetailOf(proc domain.Process, instances []domain.Instance) ProcessDetail {
	detail := ProcessDetail{
		Type:           proc.Type,
		Command:        proc.Command,
		Replicas:       proc.Replicas,
		Success:        proc.Success,
		Failed:         proc.Failed,
		TargetReplicas: proc.Spec.TargetReplicas,
		TargetStatus:   string(proc.Spec.TargetStatus),
		MaxReplicas:    proc.Spec.Plan.MaxReplicas,
		Version:        proc.Version,
		UpdatedAt:      proc.Spec.UpdatedAt,
	}
	for _, inst := range instances {
		if inst.ProcessType != proc.Type {
			continue
		}
		detail.Instances = append(detail.Instances, InstanceRef{
			Name:           inst.Name,
			State:          string(inst.State),
			Ready:          inst.Ready,
			Image:          inst.Image,
			ReleaseVersion: inst.ReleaseVersion,
			StartTime:      inst.StartTime,
			TerminatedInfo: inst.TerminatedInfo,
		})
	}
	return detail
}
