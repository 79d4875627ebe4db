package domain

import "time"

type TargetStatus string

const (
	TargetStart TargetStatus = "start"
	TargetStop  TargetStatus = "stop"
)

// Plan bounds the resources of one process.
type Plan struct {
	Name          string
	MaxReplicas   int
	CPULimit      string
	MemoryLimit   string
	CPURequest    string
	MemoryRequest string
}

// AutoscalingSpec is optional per-process autoscaling intent.
type AutoscalingSpec struct {
	MinReplicas int    `json:"min_replicas"`
	MaxReplicas int    `json:"max_replicas"`
	Metric      string `json:"metric"`
	Threshold   int    `json:"threshold"`
}

// ProcessSpec is the declared intent for one named process of a WlApp.
//
// UpdatedAt implements the operation-frequency floor: mutating the same
// spec twice inside the floor window fails with ErrTooOften.
type ProcessSpec struct {
	WlAppName      string
	Name           string
	TargetReplicas int
	TargetStatus   TargetStatus
	Plan           Plan
	Autoscaling    *AutoscalingSpec
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Process is the runtime pairing of a ProcessSpec with a Release's
// Procfile entry. Never persisted; always computed.
type Process struct {
	WlAppName string
	Type      string
	Command   string
	Image     string
	Version   int
	Spec      ProcessSpec

	// Observed state, filled from the cluster.
	Replicas int
	Success  int
	Failed   int
}

// InstanceState is the normalised pod phase.
type InstanceState string

const (
	InstancePending    InstanceState = "Pending"
	InstanceStarting   InstanceState = "Starting"
	InstanceRunning    InstanceState = "Running"
	InstanceSucceeded  InstanceState = "Succeeded"
	InstanceFailed     InstanceState = "Failed"
	InstanceTerminated InstanceState = "Terminated"
	InstanceUnknown    InstanceState = "Unknown"
)

type TerminatedInfo struct {
	ExitCode int32  `json:"exit_code"`
	Reason   string `json:"reason"`
}

// Instance is a pod backing a Process. Derived from the cluster, never owned.
type Instance struct {
	Name           string
	ProcessType    string
	State          InstanceState
	Ready          bool
	Image          string
	ReleaseVersion int
	StartTime      *time.Time
	TerminatedInfo *TerminatedInfo
}
