package release

import (
	"context"
	"fmt"

	"github.com/bkpaas/apcp/pkg/domain"
)

// StageExecutor performs one kind of stage. Implementations are looked
// up by invoke method from a registry populated at startup.
type StageExecutor interface {
	// Execute starts the stage. The executor may set the stage status
	// itself (builtin stages usually complete synchronously); when it
	// leaves the stage in INITIAL, the machine forces PENDING so the
	// stage cannot be executed twice.
	Execute(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage, operator string) (domain.StageStatus, error)

	// Poll reports the current status of an in-flight stage. Executors
	// of synchronous stages return the stored status unchanged.
	Poll(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage) (domain.StageStatus, string, error)

	// Cancel aborts an in-flight stage. Executors that cannot abort
	// (externally owned tickets) return ErrCannotCancel.
	Cancel(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage, operator string) error
}

// Registry maps invoke methods to executors. Registration is explicit
// at startup; executing a stage with no registered method is an error.
type Registry struct {
	executors map[domain.InvokeMethod]StageExecutor
}

func NewRegistry() *Registry {
	return &Registry{executors: map[domain.InvokeMethod]StageExecutor{}}
}

func (r *Registry) Register(method domain.InvokeMethod, exec StageExecutor) {
	r.executors[method] = exec
}

func (r *Registry) executorOf(method domain.InvokeMethod) (StageExecutor, error) {
	exec, ok := r.executors[method]
	if !ok {
		return nil, fmt.Errorf("%w: no executor for invoke method %s", ErrExecuteStage, method)
	}
	return exec, nil
}

// BuiltinExecutor runs a stage as an in-process function call, e.g. the
// deploy stage invoking the process controller.
type BuiltinExecutor struct {
	Run func(ctx context.Context, dep domain.Deployment, operator string) error
}

var _ StageExecutor = BuiltinExecutor{}

func (b BuiltinExecutor) Execute(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage, operator string) (domain.StageStatus, error) {
	if err := b.Run(ctx, dep, operator); err != nil {
		return domain.StageFailed, fmt.Errorf("%w: %s: %s", ErrExecuteStage, stage.Name, err)
	}
	return domain.StageSuccessful, nil
}

func (b BuiltinExecutor) Poll(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage) (domain.StageStatus, string, error) {
	return stage.Status, "", nil
}

func (b BuiltinExecutor) Cancel(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage, operator string) error {
	// synchronous stages are never in flight long enough to cancel
	return nil
}

// BuiltinSteps dispatches builtin stages by stage name, so one
// registration covers a whole pipeline of in-process steps.
type BuiltinSteps map[string]func(ctx context.Context, dep domain.Deployment, operator string) error

var _ StageExecutor = BuiltinSteps{}

func (s BuiltinSteps) Execute(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage, operator string) (domain.StageStatus, error) {
	run, ok := s[stage.Name]
	if !ok {
		return domain.StageFailed, fmt.Errorf("%w: no builtin step named %s", ErrExecuteStage, stage.Name)
	}
	if err := run(ctx, dep, operator); err != nil {
		return domain.StageFailed, fmt.Errorf("%w: %s: %s", ErrExecuteStage, stage.Name, err)
	}
	return domain.StageSuccessful, nil
}

func (s BuiltinSteps) Poll(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage) (domain.StageStatus, string, error) {
	return stage.Status, "", nil
}

func (s BuiltinSteps) Cancel(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage, operator string) error {
	return nil
}
