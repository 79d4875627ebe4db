package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	kpool "github.com/bkpaas/apcp/pkg/conn/pool"
	"github.com/bkpaas/apcp/pkg/domain"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	"github.com/bkpaas/apcp/pkg/domain/errors/dberrors"
	kdb "github.com/bkpaas/apcp/pkg/domain/release/db"
)

type pgRelease struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgRelease{pool: pool}
}

func (r *pgRelease) NewRelease(
	ctx context.Context, wlappName string, buildId string,
	procfile map[string]string, envVars map[string]string, operator string,
) (domain.Release, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Release{}, err
	}
	defer tx.Rollback(ctx)

	// the lock makes max(version)+1 race free
	locked := ""
	if err := tx.QueryRow(
		ctx,
		`select "name" from "wlapp" where "name" = $1 for update`,
		wlappName,
	).Scan(&locked); err != nil {
		return domain.Release{}, dberrors.Classify(err)
	}

	pf, err := json.Marshal(procfile)
	if err != nil {
		return domain.Release{}, err
	}
	ev, err := json.Marshal(envVars)
	if err != nil {
		return domain.Release{}, err
	}

	rel := domain.Release{
		WlAppName: wlappName,
		BuildId:   buildId,
		Procfile:  procfile,
		EnvVars:   envVars,
		Operator:  operator,
	}
	if err := tx.QueryRow(
		ctx,
		`
		insert into "release"
		    ("wlapp_name", "version", "build_id", "procfile", "env_vars", "operator")
		values (
		    $1,
		    (select coalesce(max("version"), 0) + 1 from "release" where "wlapp_name" = $1),
		    $2, $3, $4, $5
		)
		returning "version", "created_at"
		`,
		wlappName, buildId, pf, ev, operator,
	).Scan(&rel.Version, &rel.CreatedAt); err != nil {
		return domain.Release{}, dberrors.Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Release{}, err
	}
	return rel, nil
}

const releaseColumns = `
	select "wlapp_name", "version", "build_id", "procfile", "env_vars",
	       "operator", "created_at"
	from "release"
`

func (r *pgRelease) LatestRelease(ctx context.Context, wlappName string) (domain.Release, error) {
	return scanRelease(r.pool.QueryRow(
		ctx,
		releaseColumns+`where "wlapp_name" = $1 order by "version" desc limit 1`,
		wlappName,
	))
}

func (r *pgRelease) GetRelease(ctx context.Context, wlappName string, version int) (domain.Release, error) {
	return scanRelease(r.pool.QueryRow(
		ctx,
		releaseColumns+`where "wlapp_name" = $1 and "version" = $2`,
		wlappName, version,
	))
}

type row interface {
	Scan(dest ...interface{}) error
}

func scanRelease(rw row) (domain.Release, error) {
	rel := domain.Release{}
	var pf, ev []byte
	err := rw.Scan(
		&rel.WlAppName, &rel.Version, &rel.BuildId, &pf, &ev,
		&rel.Operator, &rel.CreatedAt,
	)
	if err != nil {
		return domain.Release{}, dberrors.Classify(err)
	}
	if err := json.Unmarshal(pf, &rel.Procfile); err != nil {
		return domain.Release{}, err
	}
	if err := json.Unmarshal(ev, &rel.EnvVars); err != nil {
		return domain.Release{}, err
	}
	return rel, nil
}

// pendingOps counts non-terminal Deployments and OfflineOperations of the
// env. Callers must hold the env's advisory scope (we lock the module_env
// row) so the count stays stable until commit.
func pendingOps(ctx context.Context, tx kpool.Tx, env domain.ModuleEnv) (int, error) {
	locked := ""
	if err := tx.QueryRow(
		ctx,
		`
		select "wlapp_name" from "module_env"
		where "app_code" = $1 and "module_name" = $2 and "environment" = $3
		for update
		`,
		env.AppCode, env.ModuleName, env.Environment,
	).Scan(&locked); err != nil {
		return 0, dberrors.Classify(err)
	}

	count := 0
	if err := tx.QueryRow(
		ctx,
		`
		select
		    (select count(*) from "deployment"
		     where "app_code" = $1 and "module_name" = $2
		       and "environment" = $3 and "status" = $4)
		  + (select count(*) from "offline_operation"
		     where "app_code" = $1 and "module_name" = $2
		       and "environment" = $3 and "status" = $4)
		`,
		env.AppCode, env.ModuleName, env.Environment, domain.StatusPending,
	).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *pgRelease) NewDeployment(ctx context.Context, env domain.ModuleEnv, buildId string, operator string) (domain.Deployment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Deployment{}, err
	}
	defer tx.Rollback(ctx)

	if n, err := pendingOps(ctx, tx, env); err != nil {
		return domain.Deployment{}, err
	} else if 0 < n {
		return domain.Deployment{}, kerr.Wrap(
			kerr.ErrPendingOperation, "deploy %s/%s/%s",
			env.AppCode, env.ModuleName, env.Environment,
		)
	}

	d := domain.Deployment{
		Id:          uuid.NewString(),
		AppCode:     env.AppCode,
		ModuleName:  env.ModuleName,
		Environment: env.Environment,
		Status:      domain.StatusPending,
		BuildId:     buildId,
		Operator:    operator,
	}
	if err := tx.QueryRow(
		ctx,
		`
		insert into "deployment"
		    ("id", "app_code", "module_name", "environment",
		     "status", "build_id", "operator")
		values ($1, $2, $3, $4, $5, $6, $7)
		returning "created_at", "updated_at"
		`,
		d.Id, d.AppCode, d.ModuleName, d.Environment,
		d.Status, d.BuildId, d.Operator,
	).Scan(&d.CreatedAt, &d.UpdatedAt); err != nil {
		return domain.Deployment{}, dberrors.Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Deployment{}, err
	}
	return d, nil
}

func (r *pgRelease) GetDeployment(ctx context.Context, id string) (domain.Deployment, error) {
	d := domain.Deployment{}
	err := r.pool.QueryRow(
		ctx,
		`
		select "id", "app_code", "module_name", "environment",
		       "status", "build_id", "operator", "error",
		       "created_at", "updated_at"
		from "deployment" where "id" = $1
		`,
		id,
	).Scan(
		&d.Id, &d.AppCode, &d.ModuleName, &d.Environment,
		&d.Status, &d.BuildId, &d.Operator, &d.Err,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return domain.Deployment{}, dberrors.Classify(err)
	}
	return d, nil
}

func (r *pgRelease) ListPendingDeployments(ctx context.Context) ([]domain.Deployment, error) {
	rows, err := r.pool.Query(
		ctx,
		`
		select "id", "app_code", "module_name", "environment",
		       "status", "build_id", "operator", "error",
		       "created_at", "updated_at"
		from "deployment" where "status" = $1
		order by "created_at"
		`,
		domain.StatusPending,
	)
	if err != nil {
		return nil, dberrors.Classify(err)
	}
	defer rows.Close()

	found := []domain.Deployment{}
	for rows.Next() {
		d := domain.Deployment{}
		if err := rows.Scan(
			&d.Id, &d.AppCode, &d.ModuleName, &d.Environment,
			&d.Status, &d.BuildId, &d.Operator, &d.Err,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		found = append(found, d)
	}
	return found, rows.Err()
}

func (r *pgRelease) SetDeploymentStatus(ctx context.Context, id string, status domain.OperationStatus, message string) error {
	return setOpStatus(ctx, r.pool, "deployment", id, status, message)
}

func setOpStatus(ctx context.Context, pool kpool.Pool, table string, id string, status domain.OperationStatus, message string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cur := domain.OperationStatus("")
	if err := tx.QueryRow(
		ctx,
		`select "status" from "`+table+`" where "id" = $1 for update`,
		id,
	).Scan(&cur); err != nil {
		return dberrors.Classify(err)
	}
	if cur.Terminal() {
		return kerr.Wrap(kerr.ErrConflict, "%s %s is already %s", table, id, cur)
	}

	if _, err := tx.Exec(
		ctx,
		`update "`+table+`" set "status" = $2, "error" = $3, "updated_at" = now() where "id" = $1`,
		id, status, message,
	); err != nil {
		return dberrors.Classify(err)
	}
	return tx.Commit(ctx)
}

func (r *pgRelease) ReopenDeployment(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	d := domain.Deployment{}
	if err := tx.QueryRow(
		ctx,
		`
		select "app_code", "module_name", "environment", "status"
		from "deployment" where "id" = $1 for update
		`,
		id,
	).Scan(&d.AppCode, &d.ModuleName, &d.Environment, &d.Status); err != nil {
		return dberrors.Classify(err)
	}
	switch d.Status {
	case domain.StatusFailed, domain.StatusInterrupted:
		// reopenable
	default:
		return kerr.Wrap(kerr.ErrConflict, "deployment %s is %s, not reopenable", id, d.Status)
	}

	env := domain.ModuleEnv{
		AppCode:     d.AppCode,
		ModuleName:  d.ModuleName,
		Environment: d.Environment,
	}
	if n, err := pendingOps(ctx, tx, env); err != nil {
		return err
	} else if 0 < n {
		return kerr.Wrap(kerr.ErrPendingOperation, "reopen deployment %s", id)
	}

	if _, err := tx.Exec(
		ctx,
		`update "deployment" set "status" = $2, "error" = '', "updated_at" = now() where "id" = $1`,
		id, domain.StatusPending,
	); err != nil {
		return dberrors.Classify(err)
	}
	return tx.Commit(ctx)
}

func (r *pgRelease) HasSuccessfulDeployment(ctx context.Context, env domain.ModuleEnv) (bool, error) {
	count := 0
	err := r.pool.QueryRow(
		ctx,
		`
		select count(*) from "deployment"
		where "app_code" = $1 and "module_name" = $2
		  and "environment" = $3 and "status" = $4
		`,
		env.AppCode, env.ModuleName, env.Environment, domain.StatusSuccessful,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return 0 < count, nil
}

func (r *pgRelease) NewOfflineOperation(ctx context.Context, env domain.ModuleEnv, operator string) (domain.OfflineOperation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.OfflineOperation{}, err
	}
	defer tx.Rollback(ctx)

	deployed := 0
	if err := tx.QueryRow(
		ctx,
		`
		select count(*) from "deployment"
		where "app_code" = $1 and "module_name" = $2
		  and "environment" = $3 and "status" = $4
		`,
		env.AppCode, env.ModuleName, env.Environment, domain.StatusSuccessful,
	).Scan(&deployed); err != nil {
		return domain.OfflineOperation{}, err
	}
	if deployed == 0 {
		return domain.OfflineOperation{}, kerr.Wrap(
			kerr.ErrCannotOffline, "%s/%s/%s has never been deployed",
			env.AppCode, env.ModuleName, env.Environment,
		)
	}

	if n, err := pendingOps(ctx, tx, env); err != nil {
		return domain.OfflineOperation{}, err
	} else if 0 < n {
		return domain.OfflineOperation{}, kerr.Wrap(
			kerr.ErrCannotOffline, "another operation is in progress",
		)
	}

	op := domain.OfflineOperation{
		Id:          uuid.NewString(),
		AppCode:     env.AppCode,
		ModuleName:  env.ModuleName,
		Environment: env.Environment,
		Status:      domain.StatusPending,
		Operator:    operator,
	}
	if err := tx.QueryRow(
		ctx,
		`
		insert into "offline_operation"
		    ("id", "app_code", "module_name", "environment", "status", "operator")
		values ($1, $2, $3, $4, $5, $6)
		returning "created_at", "updated_at"
		`,
		op.Id, op.AppCode, op.ModuleName, op.Environment, op.Status, op.Operator,
	).Scan(&op.CreatedAt, &op.UpdatedAt); err != nil {
		return domain.OfflineOperation{}, dberrors.Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.OfflineOperation{}, err
	}
	return op, nil
}

func (r *pgRelease) GetOfflineOperation(ctx context.Context, id string) (domain.OfflineOperation, error) {
	op := domain.OfflineOperation{}
	err := r.pool.QueryRow(
		ctx,
		`
		select "id", "app_code", "module_name", "environment",
		       "status", "operator", "error", "created_at", "updated_at"
		from "offline_operation" where "id" = $1
		`,
		id,
	).Scan(
		&op.Id, &op.AppCode, &op.ModuleName, &op.Environment,
		&op.Status, &op.Operator, &op.Err, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		return domain.OfflineOperation{}, dberrors.Classify(err)
	}
	return op, nil
}

func (r *pgRelease) SetOfflineOperationStatus(ctx context.Context, id string, status domain.OperationStatus, message string) error {
	return setOpStatus(ctx, r.pool, "offline_operation", id, status, message)
}

func (r *pgRelease) InitStages(ctx context.Context, deploymentId string, stages []domain.ReleaseStage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(
		ctx,
		`delete from "release_stage" where "deployment_id" = $1`,
		deploymentId,
	); err != nil {
		return dberrors.Classify(err)
	}

	for _, s := range stages {
		id := s.Id
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.Exec(
			ctx,
			`
			insert into "release_stage"
			    ("id", "deployment_id", "index", "name", "invoke_method",
			     "status", "ticket_sn", "operator")
			values ($1, $2, $3, $4, $5, $6, $7, $8)
			`,
			id, deploymentId, s.Index, s.Name, s.InvokeMethod,
			s.Status, s.TicketSn, s.Operator,
		); err != nil {
			return dberrors.Classify(err)
		}
	}
	return tx.Commit(ctx)
}

func (r *pgRelease) GetStages(ctx context.Context, deploymentId string) ([]domain.ReleaseStage, error) {
	rows, err := r.pool.Query(
		ctx,
		`
		select "id", "deployment_id", "index", "name", "invoke_method",
		       "status", "ticket_sn", "operator", "error", "updated_at"
		from "release_stage"
		where "deployment_id" = $1 order by "index"
		`,
		deploymentId,
	)
	if err != nil {
		return nil, dberrors.Classify(err)
	}
	defer rows.Close()

	stages := []domain.ReleaseStage{}
	for rows.Next() {
		s := domain.ReleaseStage{}
		if err := rows.Scan(
			&s.Id, &s.DeploymentId, &s.Index, &s.Name, &s.InvokeMethod,
			&s.Status, &s.TicketSn, &s.Operator, &s.Err, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func (r *pgRelease) SetStageStatus(ctx context.Context, stageId string, status domain.StageStatus, message string) error {
	tag, err := r.pool.Exec(
		ctx,
		`
		update "release_stage"
		set "status" = $2, "error" = $3, "updated_at" = now()
		where "id" = $1
		`,
		stageId, status, message,
	)
	if err != nil {
		return dberrors.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return kerr.Wrap(kerr.ErrMissing, "stage %s", stageId)
	}
	return nil
}

func (r *pgRelease) SetStageTicket(ctx context.Context, stageId string, ticketSn string) error {
	tag, err := r.pool.Exec(
		ctx,
		`update "release_stage" set "ticket_sn" = $2, "updated_at" = now() where "id" = $1`,
		stageId, ticketSn,
	)
	if err != nil {
		return dberrors.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return kerr.Wrap(kerr.ErrMissing, "stage %s", stageId)
	}
	return nil
}
