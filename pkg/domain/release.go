package domain

import "time"

// Release pairs a Build with the Procfile and env-var snapshot in effect.
// Versions are dense and strictly increasing per WlApp.
type Release struct {
	WlAppName string
	Version   int
	BuildId   string
	Procfile  map[string]string
	EnvVars   map[string]string
	Operator  string
	CreatedAt time.Time
}

// Deployment is a user-facing request to release a source version into an env.
type Deployment struct {
	Id          string
	AppCode     string
	ModuleName  string
	Environment Environment
	Status      OperationStatus
	BuildId     string
	Operator    string
	Err         string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OfflineOperation takes an env down. Mutually exclusive with an in-flight
// Deployment on the same env.
type OfflineOperation struct {
	Id          string
	AppCode     string
	ModuleName  string
	Environment Environment
	Status      OperationStatus
	Operator    string
	Err         string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StageStatus is the state of one release-pipeline stage.
type StageStatus string

const (
	StageInitial     StageStatus = "initial"
	StagePending     StageStatus = "pending"
	StageSuccessful  StageStatus = "successful"
	StageFailed      StageStatus = "failed"
	StageInterrupted StageStatus = "interrupted"
)

func (s StageStatus) Terminal() bool {
	switch s {
	case StageSuccessful, StageFailed, StageInterrupted:
		return true
	}
	return false
}

// InvokeMethod selects the executor of a stage.
type InvokeMethod string

const (
	InvokeBuiltin        InvokeMethod = "builtin"
	InvokeDeployAPI      InvokeMethod = "deployAPI"
	InvokeITSM           InvokeMethod = "itsm"
	InvokeCanaryWithITSM InvokeMethod = "canary_with_itsm"
)

// ReleaseStage is one step of a deployment pipeline run.
type ReleaseStage struct {
	Id           string
	DeploymentId string
	Index        int
	Name         string
	InvokeMethod InvokeMethod
	Status       StageStatus

	// TicketSn is the external ITSM ticket serial, when the stage is
	// backed by a ticket.
	TicketSn  string
	Operator  string
	Err       string
	UpdatedAt time.Time
}
