// Package release advances a Deployment through its ordered stage
// pipeline: build, approvals, deploy, with retry, rollback, cancel and
// reset on top.
//
// Refusals are typed values, never panics: the HTTP layer maps them to
// response codes.
package release

import (
	"context"
	"fmt"
	"log"

	"github.com/bkpaas/apcp/pkg/domain"
	releasedb "github.com/bkpaas/apcp/pkg/domain/release/db"
)

// StageDef is one step of the pipeline template.
type StageDef struct {
	Name         string
	InvokeMethod domain.InvokeMethod
}

// DefaultPlan is the standard two-step pipeline: deploy after a
// built-in no-op bootstrap.
var DefaultPlan = []StageDef{
	{Name: "build", InvokeMethod: domain.InvokeBuiltin},
	{Name: "deploy", InvokeMethod: domain.InvokeBuiltin},
}

type Machine struct {
	store    releasedb.Interface
	registry *Registry

	plan     []StageDef
	grayPlan []StageDef

	// retryable gates RerunCurrentStage.
	retryable bool

	logger *log.Logger
}

type Option func(*Machine)

func WithPlan(plan []StageDef) Option {
	return func(m *Machine) { m.plan = plan }
}

// WithGrayPlan sets the pipeline used by GrayRelease. It should contain
// a canary_with_itsm stage.
func WithGrayPlan(plan []StageDef) Option {
	return func(m *Machine) { m.grayPlan = plan }
}

func WithRetryable(retryable bool) Option {
	return func(m *Machine) { m.retryable = retryable }
}

func WithLogger(l *log.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

func New(store releasedb.Interface, registry *Registry, opts ...Option) *Machine {
	m := &Machine{
		store:     store,
		registry:  registry,
		plan:      DefaultPlan,
		retryable: true,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.grayPlan == nil {
		m.grayPlan = m.plan
	}
	return m
}

// Initial bootstraps the stage set of a fresh deployment and executes
// the first stage.
func (m *Machine) Initial(ctx context.Context, deploymentId string, operator string) error {
	return m.bootstrap(ctx, deploymentId, operator, m.plan)
}

// GrayRelease is the canary entry point: same bootstrap, but over the
// gray plan, whose canary stage submits a ticket instead of deploying.
func (m *Machine) GrayRelease(ctx context.Context, deploymentId string, operator string) error {
	return m.bootstrap(ctx, deploymentId, operator, m.grayPlan)
}

func (m *Machine) bootstrap(ctx context.Context, deploymentId string, operator string, plan []StageDef) error {
	dep, err := m.store.GetDeployment(ctx, deploymentId)
	if err != nil {
		return err
	}
	if dep.Status.Terminal() {
		return fmt.Errorf("%w: deployment %s is %s", ErrExecuteStage, dep.Id, dep.Status)
	}

	stages := make([]domain.ReleaseStage, len(plan))
	for i, def := range plan {
		stages[i] = domain.ReleaseStage{
			DeploymentId: deploymentId,
			Index:        i,
			Name:         def.Name,
			InvokeMethod: def.InvokeMethod,
			Status:       domain.StageInitial,
			Operator:     operator,
		}
	}
	if err := m.store.InitStages(ctx, deploymentId, stages); err != nil {
		return err
	}
	return m.ExecuteCurrentStage(ctx, deploymentId, operator)
}

// ExecuteCurrentStage runs the current stage. Allowed only while the
// stage is INITIAL; a stage that did not transition itself is forced to
// PENDING so it cannot be entered twice.
func (m *Machine) ExecuteCurrentStage(ctx context.Context, deploymentId string, operator string) error {
	dep, stages, err := m.load(ctx, deploymentId)
	if err != nil {
		return err
	}
	if dep.Status.Terminal() {
		return fmt.Errorf("%w: deployment %s is %s", ErrExecuteStage, dep.Id, dep.Status)
	}

	cur := currentIndex(stages)
	stage := stages[cur]
	if stage.Status != domain.StageInitial {
		return fmt.Errorf("%w: stage %s is %s, not initial", ErrExecuteStage, stage.Name, stage.Status)
	}
	return m.execute(ctx, dep, stage, operator)
}

// EnterNextStage moves on after the current stage succeeded.
func (m *Machine) EnterNextStage(ctx context.Context, deploymentId string, operator string) error {
	dep, stages, err := m.load(ctx, deploymentId)
	if err != nil {
		return err
	}
	if dep.Status.Terminal() {
		return fmt.Errorf("%w: deployment %s is %s", ErrExecuteStage, dep.Id, dep.Status)
	}

	cur := currentIndex(stages)
	if stages[cur].Status != domain.StageSuccessful {
		return fmt.Errorf("%w: stage %s is %s, not successful", ErrExecuteStage, stages[cur].Name, stages[cur].Status)
	}
	if len(stages) <= cur+1 {
		return fmt.Errorf("%w: no stage after %s", ErrExecuteStage, stages[cur].Name)
	}
	next := stages[cur+1]
	if next.Status != domain.StageInitial {
		return fmt.Errorf("%w: stage %s is %s, not initial", ErrExecuteStage, next.Name, next.Status)
	}
	return m.execute(ctx, dep, next, operator)
}

// RerunCurrentStage retries a failed or interrupted stage.
func (m *Machine) RerunCurrentStage(ctx context.Context, deploymentId string, operator string) error {
	if !m.retryable {
		return fmt.Errorf("%w: release is not retryable", ErrCannotRerun)
	}
	dep, stages, err := m.load(ctx, deploymentId)
	if err != nil {
		return err
	}

	cur := currentIndex(stages)
	stage := stages[cur]
	switch stage.Status {
	case domain.StageFailed, domain.StageInterrupted:
		// rerunnable
	default:
		return fmt.Errorf("%w: stage %s is %s", ErrCannotRerun, stage.Name, stage.Status)
	}

	if dep.Status.Terminal() {
		if err := m.store.ReopenDeployment(ctx, dep.Id); err != nil {
			return err
		}
		dep.Status = domain.StatusPending
	}
	if err := m.store.SetStageStatus(ctx, stage.Id, domain.StageInitial, ""); err != nil {
		return err
	}
	stage.Status = domain.StageInitial
	return m.execute(ctx, dep, stage, operator)
}

// BackToPreviousStage resets the current stage and re-runs the previous
// one. Refused once the release succeeded, and while the current stage
// is owned by an external system (open ticket, running deploy API).
func (m *Machine) BackToPreviousStage(ctx context.Context, deploymentId string, operator string) error {
	dep, stages, err := m.load(ctx, deploymentId)
	if err != nil {
		return err
	}
	if dep.Status == domain.StatusSuccessful {
		return fmt.Errorf("%w: release already succeeded", ErrCannotRollback)
	}

	cur := currentIndex(stages)
	stage := stages[cur]
	if cur == 0 {
		return fmt.Errorf("%w: %s is the first stage", ErrCannotRollback, stage.Name)
	}
	if stage.Status == domain.StagePending {
		switch stage.InvokeMethod {
		case domain.InvokeITSM, domain.InvokeCanaryWithITSM:
			if stage.TicketSn != "" {
				return fmt.Errorf("%w: withdraw ticket %s first", ErrCannotRollback, stage.TicketSn)
			}
		case domain.InvokeDeployAPI:
			return fmt.Errorf("%w: deploy api stage %s is still running", ErrCannotRollback, stage.Name)
		}
	}

	if dep.Status.Terminal() {
		if err := m.store.ReopenDeployment(ctx, dep.Id); err != nil {
			return err
		}
		dep.Status = domain.StatusPending
	}
	if err := m.store.SetStageStatus(ctx, stage.Id, domain.StageInitial, ""); err != nil {
		return err
	}
	prev := stages[cur-1]
	if err := m.store.SetStageStatus(ctx, prev.Id, domain.StageInitial, ""); err != nil {
		return err
	}
	prev.Status = domain.StageInitial
	return m.execute(ctx, dep, prev, operator)
}

// ResetRelease rebuilds the whole stage set. Allowed only from an
// abnormal terminal state.
func (m *Machine) ResetRelease(ctx context.Context, deploymentId string, operator string) error {
	dep, err := m.store.GetDeployment(ctx, deploymentId)
	if err != nil {
		return err
	}
	switch dep.Status {
	case domain.StatusFailed, domain.StatusInterrupted:
		// resettable
	default:
		return fmt.Errorf("%w: deployment %s is %s", ErrCannotReset, dep.Id, dep.Status)
	}

	if err := m.store.ReopenDeployment(ctx, dep.Id); err != nil {
		return err
	}
	return m.bootstrap(ctx, deploymentId, operator, m.plan)
}

// CancelRelease aborts a running release. ITSM-backed stages refuse:
// the user must cancel the ticket in the external system. Canary
// stages withdraw their ticket through the API.
func (m *Machine) CancelRelease(ctx context.Context, deploymentId string, operator string) error {
	dep, stages, err := m.load(ctx, deploymentId)
	if err != nil {
		return err
	}
	if dep.Status != domain.StatusPending {
		return fmt.Errorf("%w: deployment %s is %s, not running", ErrCannotCancel, dep.Id, dep.Status)
	}

	cur := currentIndex(stages)
	stage := stages[cur]
	if stage.Status == domain.StagePending {
		exec, err := m.registry.executorOf(stage.InvokeMethod)
		if err != nil {
			return err
		}
		if err := exec.Cancel(ctx, dep, stage, operator); err != nil {
			return err
		}
	}

	if err := m.store.SetStageStatus(ctx, stage.Id, domain.StageInterrupted, "cancelled by "+operator); err != nil {
		return err
	}
	return m.store.SetDeploymentStatus(ctx, dep.Id, domain.StatusInterrupted, "cancelled by "+operator)
}

// PollCurrentStage refreshes an in-flight stage from its executor and
// advances the pipeline when it succeeded. Run from the background
// stage poller.
func (m *Machine) PollCurrentStage(ctx context.Context, deploymentId string) error {
	dep, stages, err := m.load(ctx, deploymentId)
	if err != nil {
		return err
	}
	if dep.Status.Terminal() {
		return nil
	}

	cur := currentIndex(stages)
	stage := stages[cur]
	if stage.Status != domain.StagePending {
		return nil
	}

	exec, err := m.registry.executorOf(stage.InvokeMethod)
	if err != nil {
		return err
	}
	status, message, err := exec.Poll(ctx, dep, stage)
	if err != nil {
		return err
	}
	if status == stage.Status {
		return nil
	}
	if err := m.store.SetStageStatus(ctx, stage.Id, status, message); err != nil {
		return err
	}
	stages[cur].Status = status
	stages[cur].Err = message
	return m.reconcile(ctx, dep, stages, stage.Operator)
}

// ResolveTicket applies an external ticket callback to the stage that
// owns the ticket, then reconciles the pipeline.
func (m *Machine) ResolveTicket(ctx context.Context, deploymentId string, ticket TicketStatus) error {
	dep, stages, err := m.load(ctx, deploymentId)
	if err != nil {
		return err
	}

	for i, stage := range stages {
		if stage.TicketSn != ticket.Sn {
			continue
		}
		status := MapTicketStatus(ticket)
		if status == stage.Status {
			return nil
		}
		if err := m.store.SetStageStatus(ctx, stage.Id, status, ""); err != nil {
			return err
		}
		stages[i].Status = status
		return m.reconcile(ctx, dep, stages, stage.Operator)
	}
	return fmt.Errorf("%w: no stage of deployment %s holds ticket %s", ErrThirdPartyAPI, deploymentId, ticket.Sn)
}

func (m *Machine) load(ctx context.Context, deploymentId string) (domain.Deployment, []domain.ReleaseStage, error) {
	dep, err := m.store.GetDeployment(ctx, deploymentId)
	if err != nil {
		return domain.Deployment{}, nil, err
	}
	stages, err := m.store.GetStages(ctx, deploymentId)
	if err != nil {
		return domain.Deployment{}, nil, err
	}
	if len(stages) == 0 {
		return domain.Deployment{}, nil, fmt.Errorf("%w: deployment %s has no stages", ErrExecuteStage, deploymentId)
	}
	return dep, stages, nil
}

func (m *Machine) execute(ctx context.Context, dep domain.Deployment, stage domain.ReleaseStage, operator string) error {
	exec, err := m.registry.executorOf(stage.InvokeMethod)
	if err != nil {
		return err
	}

	status, execErr := exec.Execute(ctx, dep, stage, operator)
	if status == domain.StageInitial {
		// the executor did not transition the stage; force PENDING to
		// prevent re-entry
		status = domain.StagePending
	}
	message := ""
	if execErr != nil {
		message = execErr.Error()
	}
	if err := m.store.SetStageStatus(ctx, stage.Id, status, message); err != nil {
		return err
	}

	stages, err := m.store.GetStages(ctx, dep.Id)
	if err != nil {
		return err
	}
	if err := m.reconcile(ctx, dep, stages, operator); err != nil {
		return err
	}
	return execErr
}

// reconcile folds the stage statuses into the deployment status and
// auto-advances past a freshly successful stage.
func (m *Machine) reconcile(ctx context.Context, dep domain.Deployment, stages []domain.ReleaseStage, operator string) error {
	cur := currentIndex(stages)
	stage := stages[cur]

	switch stage.Status {
	case domain.StageFailed:
		return m.store.SetDeploymentStatus(ctx, dep.Id, domain.StatusFailed, stage.Err)
	case domain.StageInterrupted:
		return m.store.SetDeploymentStatus(ctx, dep.Id, domain.StatusInterrupted, stage.Err)
	case domain.StageSuccessful:
		if cur == len(stages)-1 {
			return m.store.SetDeploymentStatus(ctx, dep.Id, domain.StatusSuccessful, "")
		}
		return m.EnterNextStage(ctx, dep.Id, operator)
	}
	return nil
}

// currentIndex picks the active stage: the last one that has been
// started, or the first stage when none has.
func currentIndex(stages []domain.ReleaseStage) int {
	cur := 0
	for i, s := range stages {
		if s.Status != domain.StageInitial {
			cur = i
		}
	}
	return cur
}
