package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"

	kpool "github.com/bkpaas/apcp/pkg/conn/pool"
	"github.com/bkpaas/apcp/pkg/domain"
	kdb "github.com/bkpaas/apcp/pkg/domain/build/db"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	"github.com/bkpaas/apcp/pkg/domain/errors/dberrors"
)

type pgBuild struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgBuild{pool: pool}
}

func (b *pgBuild) NewBuildProcess(ctx context.Context, wlappName string, builderPodName string) (domain.BuildProcess, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return domain.BuildProcess{}, err
	}
	defer tx.Rollback(ctx)

	// lock parent row; the guard below stays stable until commit
	if _, err := lockWlApp(ctx, tx, wlappName); err != nil {
		return domain.BuildProcess{}, err
	}

	var pending int
	if err := tx.QueryRow(
		ctx,
		`
		select count(*) from "build_process"
		where "wlapp_name" = $1 and "status" = $2
		`,
		wlappName, domain.StatusPending,
	).Scan(&pending); err != nil {
		return domain.BuildProcess{}, err
	}
	if 0 < pending {
		return domain.BuildProcess{}, kerr.Wrap(
			kerr.ErrPendingOperation, "build for %s", wlappName,
		)
	}

	bp := domain.BuildProcess{
		Id:             uuid.NewString(),
		WlAppName:      wlappName,
		Status:         domain.StatusPending,
		BuilderPodName: builderPodName,
	}
	if err := tx.QueryRow(
		ctx,
		`
		insert into "build_process"
		    ("id", "wlapp_name", "status", "builder_pod_name")
		values ($1, $2, $3, $4)
		returning "created_at", "updated_at"
		`,
		bp.Id, bp.WlAppName, bp.Status, bp.BuilderPodName,
	).Scan(&bp.CreatedAt, &bp.UpdatedAt); err != nil {
		return domain.BuildProcess{}, dberrors.Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.BuildProcess{}, err
	}
	return bp, nil
}

func (b *pgBuild) GetBuildProcess(ctx context.Context, id string) (domain.BuildProcess, error) {
	return getBuildProcess(ctx, b.pool, id)
}

func getBuildProcess(ctx context.Context, q kpool.Queryer, id string) (domain.BuildProcess, error) {
	bp := domain.BuildProcess{}
	var buildId pgtype.Text
	var interruptedAt pgtype.Timestamptz
	err := q.QueryRow(
		ctx,
		`
		select "id", "wlapp_name", "status", "build_id",
		       "interrupt_requested_at", "builder_pod_name", "error",
		       "created_at", "updated_at"
		from "build_process" where "id" = $1
		`,
		id,
	).Scan(
		&bp.Id, &bp.WlAppName, &bp.Status, &buildId,
		&interruptedAt, &bp.BuilderPodName, &bp.Err,
		&bp.CreatedAt, &bp.UpdatedAt,
	)
	if err != nil {
		return domain.BuildProcess{}, dberrors.Classify(err)
	}
	if buildId.Status == pgtype.Present {
		s := buildId.String
		bp.BuildId = &s
	}
	if interruptedAt.Status == pgtype.Present {
		t := interruptedAt.Time
		bp.InterruptRequestedAt = &t
	}
	return bp, nil
}

func (b *pgBuild) SetStatus(ctx context.Context, id string, status domain.OperationStatus, message string) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cur := domain.OperationStatus("")
	if err := tx.QueryRow(
		ctx,
		`select "status" from "build_process" where "id" = $1 for update`,
		id,
	).Scan(&cur); err != nil {
		return dberrors.Classify(err)
	}
	if cur.Terminal() {
		return kerr.Wrap(kerr.ErrConflict, "build process %s is already %s", id, cur)
	}

	if _, err := tx.Exec(
		ctx,
		`
		update "build_process"
		set "status" = $2, "error" = $3, "updated_at" = now()
		where "id" = $1
		`,
		id, status, message,
	); err != nil {
		return dberrors.Classify(err)
	}
	return tx.Commit(ctx)
}

func (b *pgBuild) StalePending(ctx context.Context, age time.Duration) ([]domain.BuildProcess, error) {
	rows, err := b.pool.Query(
		ctx,
		`
		select "id" from "build_process"
		where "status" = $1 and "updated_at" < now() - $2::interval
		order by "updated_at"
		`,
		domain.StatusPending, age.String(),
	)
	if err != nil {
		return nil, dberrors.Classify(err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	found := make([]domain.BuildProcess, 0, len(ids))
	for _, id := range ids {
		bp, err := getBuildProcess(ctx, b.pool, id)
		if err != nil {
			return nil, err
		}
		found = append(found, bp)
	}
	return found, nil
}

func (b *pgBuild) RequestInterrupt(ctx context.Context, id string, at time.Time) error {
	// keep the first timestamp; interrupting a terminal run is a no-op
	_, err := b.pool.Exec(
		ctx,
		`
		update "build_process"
		set "interrupt_requested_at" = coalesce("interrupt_requested_at", $2)
		where "id" = $1 and "status" = $3
		`,
		id, at, domain.StatusPending,
	)
	return dberrors.Classify(err)
}

func (b *pgBuild) Finalize(ctx context.Context, id string, build domain.Build) (domain.Build, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return domain.Build{}, err
	}
	defer tx.Rollback(ctx)

	bp, err := getBuildProcess(ctx, tx, id)
	if err != nil {
		return domain.Build{}, err
	}
	if bp.Status.Terminal() {
		return domain.Build{}, kerr.Wrap(
			kerr.ErrConflict, "build process %s is already %s", id, bp.Status,
		)
	}

	if build.Id == "" {
		build.Id = uuid.NewString()
	}
	build.WlAppName = bp.WlAppName

	procfile, err := json.Marshal(build.Procfile)
	if err != nil {
		return domain.Build{}, err
	}
	envVars, err := json.Marshal(build.EnvVars)
	if err != nil {
		return domain.Build{}, err
	}

	if err := tx.QueryRow(
		ctx,
		`
		insert into "build"
		    ("id", "wlapp_name", "artifact_type", "slug_path", "image",
		     "branch", "revision", "procfile", "env_vars")
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning "created_at"
		`,
		build.Id, build.WlAppName, build.ArtifactType, build.SlugPath,
		build.Image, build.Branch, build.Revision, procfile, envVars,
	).Scan(&build.CreatedAt); err != nil {
		return domain.Build{}, dberrors.Classify(err)
	}

	if _, err := tx.Exec(
		ctx,
		`
		update "build_process"
		set "status" = $2, "build_id" = $3, "updated_at" = now()
		where "id" = $1
		`,
		id, domain.StatusSuccessful, build.Id,
	); err != nil {
		return domain.Build{}, dberrors.Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Build{}, err
	}
	return build, nil
}

func (b *pgBuild) GetBuild(ctx context.Context, id string) (domain.Build, error) {
	return scanBuild(b.pool.QueryRow(
		ctx, buildColumns+`where "id" = $1`, id,
	))
}

func (b *pgBuild) LatestSuccessful(ctx context.Context, wlappName string) (domain.Build, error) {
	return scanBuild(b.pool.QueryRow(
		ctx,
		buildColumns+`
		where "wlapp_name" = $1
		order by "created_at" desc limit 1
		`,
		wlappName,
	))
}

const buildColumns = `
	select "id", "wlapp_name", "artifact_type", "slug_path", "image",
	       "branch", "revision", "procfile", "env_vars", "created_at"
	from "build"
`

type row interface {
	Scan(dest ...interface{}) error
}

func scanBuild(r row) (domain.Build, error) {
	build := domain.Build{}
	var procfile, envVars []byte
	err := r.Scan(
		&build.Id, &build.WlAppName, &build.ArtifactType, &build.SlugPath,
		&build.Image, &build.Branch, &build.Revision, &procfile, &envVars,
		&build.CreatedAt,
	)
	if err != nil {
		return domain.Build{}, dberrors.Classify(err)
	}
	if err := json.Unmarshal(procfile, &build.Procfile); err != nil {
		return domain.Build{}, err
	}
	if err := json.Unmarshal(envVars, &build.EnvVars); err != nil {
		return domain.Build{}, err
	}
	return build, nil
}

// lockWlApp takes a row lock on the WlApp. Every transaction mutating
// builds, releases or process specs of the same WlApp serialises here.
func lockWlApp(ctx context.Context, q kpool.Queryer, name string) (string, error) {
	locked := ""
	err := q.QueryRow(
		ctx,
		`select "name" from "wlapp" where "name" = $1 for update`,
		name,
	).Scan(&locked)
	if err != nil {
		return "", dberrors.Classify(err)
	}
	return locked, nil
}
