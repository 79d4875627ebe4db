package domain

import "time"

// OperationStatus is shared by BuildProcess, Deployment and OfflineOperation.
type OperationStatus string

const (
	StatusPending     OperationStatus = "pending"
	StatusSuccessful  OperationStatus = "successful"
	StatusFailed      OperationStatus = "failed"
	StatusInterrupted OperationStatus = "interrupted"
)

// Terminal reports whether no further transition is possible.
func (s OperationStatus) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusInterrupted:
		return true
	}
	return false
}

type ArtifactType string

const (
	ArtifactSlug  ArtifactType = "slug"
	ArtifactImage ArtifactType = "image"
)

// Build is the immutable record of one successful build.
type Build struct {
	Id           string
	WlAppName    string
	ArtifactType ArtifactType

	// SlugPath is set for slug artifacts, Image for image artifacts.
	SlugPath string
	Image    string

	Branch   string
	Revision string

	// Procfile maps process name to command.
	Procfile map[string]string

	// EnvVars are the built-in vars baked at build time.
	EnvVars map[string]string

	CreatedAt time.Time
}

// BuildProcess is one run of the build pipeline.
//
// At most one non-terminal BuildProcess may exist per WlApp; the store
// enforces this with a pending guard.
type BuildProcess struct {
	Id        string
	WlAppName string
	Status    OperationStatus

	// BuildId points at the produced Build once Status is successful.
	BuildId *string

	// InterruptRequestedAt is observed by the executor at the next
	// streamed log line.
	InterruptRequestedAt *time.Time

	BuilderPodName string
	Err            string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
