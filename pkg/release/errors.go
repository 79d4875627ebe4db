package release

import "errors"

// Stage machine refusals. The API layer maps each to its response code.
var (
	// ErrExecuteStage : the stage's executor reported a failure.
	ErrExecuteStage = errors.New("execute stage error")

	// ErrCannotRerun : rerun was requested while the pipeline is ongoing
	// or the release is not retryable.
	ErrCannotRerun = errors.New("cannot rerun ongoing steps")

	// ErrCannotRollback : the current step refuses to be rolled back.
	ErrCannotRollback = errors.New("cannot rollback current step")

	// ErrCannotReset : reset is only allowed from an abnormal terminal state.
	ErrCannotReset = errors.New("cannot reset release")

	// ErrCannotCancel : cancel is only allowed while the release runs.
	ErrCannotCancel = errors.New("cannot cancel release")

	// ErrThirdPartyAPI : an external system (ITSM, deploy API) failed.
	ErrThirdPartyAPI = errors.New("third party api error")
)
