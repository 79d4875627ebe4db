package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgtype"

	kpool "github.com/bkpaas/apcp/pkg/conn/pool"
	"github.com/bkpaas/apcp/pkg/domain"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	"github.com/bkpaas/apcp/pkg/domain/errors/dberrors"
	kdb "github.com/bkpaas/apcp/pkg/domain/process/db"
)

type pgProcess struct {
	pool  kpool.Pool
	floor time.Duration
	now   func() time.Time
}

type Option func(*pgProcess)

// WithOperationFloor overrides the default 3s frequency floor.
func WithOperationFloor(d time.Duration) Option {
	return func(p *pgProcess) { p.floor = d }
}

// WithClock substitutes the wall clock. For tests.
func WithClock(now func() time.Time) Option {
	return func(p *pgProcess) { p.now = now }
}

func New(pool kpool.Pool, opts ...Option) kdb.Interface {
	p := &pgProcess{
		pool:  pool,
		floor: kdb.DefaultOperationFloor,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

const specColumns = `
	select "wlapp_name", "name", "target_replicas", "target_status",
	       "plan", "autoscaling", "created_at", "updated_at"
	from "process_spec"
`

func (p *pgProcess) Get(ctx context.Context, wlappName string, procName string) (domain.ProcessSpec, error) {
	return scanSpec(p.pool.QueryRow(
		ctx,
		specColumns+`where "wlapp_name" = $1 and "name" = $2`,
		wlappName, procName,
	))
}

func (p *pgProcess) List(ctx context.Context, wlappName string) ([]domain.ProcessSpec, error) {
	rows, err := p.pool.Query(
		ctx,
		specColumns+`where "wlapp_name" = $1 order by "name"`,
		wlappName,
	)
	if err != nil {
		return nil, dberrors.Classify(err)
	}
	defer rows.Close()

	specs := []domain.ProcessSpec{}
	for rows.Next() {
		s, err := scanSpec(rows)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, rows.Err()
}

type row interface {
	Scan(dest ...interface{}) error
}

func scanSpec(r row) (domain.ProcessSpec, error) {
	s := domain.ProcessSpec{}
	var plan []byte
	var autoscaling pgtype.JSONB
	err := r.Scan(
		&s.WlAppName, &s.Name, &s.TargetReplicas, &s.TargetStatus,
		&plan, &autoscaling, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return domain.ProcessSpec{}, dberrors.Classify(err)
	}
	if err := json.Unmarshal(plan, &s.Plan); err != nil {
		return domain.ProcessSpec{}, err
	}
	if autoscaling.Status == pgtype.Present {
		a := domain.AutoscalingSpec{}
		if err := json.Unmarshal(autoscaling.Bytes, &a); err != nil {
			return domain.ProcessSpec{}, err
		}
		s.Autoscaling = &a
	}
	return s, nil
}

func (p *pgProcess) Upsert(ctx context.Context, spec domain.ProcessSpec) error {
	plan, err := json.Marshal(spec.Plan)
	if err != nil {
		return err
	}
	var autoscaling interface{}
	if spec.Autoscaling != nil {
		a, err := json.Marshal(spec.Autoscaling)
		if err != nil {
			return err
		}
		autoscaling = a
	}

	_, err = p.pool.Exec(
		ctx,
		`
		insert into "process_spec"
		    ("wlapp_name", "name", "target_replicas", "target_status",
		     "plan", "autoscaling")
		values ($1, $2, $3, $4, $5, $6)
		on conflict ("wlapp_name", "name") do update
		set "target_replicas" = excluded."target_replicas",
		    "target_status" = excluded."target_status",
		    "plan" = excluded."plan",
		    "autoscaling" = excluded."autoscaling",
		    "updated_at" = now()
		`,
		spec.WlAppName, spec.Name, spec.TargetReplicas, spec.TargetStatus,
		plan, autoscaling,
	)
	return dberrors.Classify(err)
}

func (p *pgProcess) Mutate(
	ctx context.Context, wlappName string, procName string,
	fn func(*domain.ProcessSpec) error,
) (domain.ProcessSpec, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.ProcessSpec{}, err
	}
	defer tx.Rollback(ctx)

	spec, err := scanSpec(tx.QueryRow(
		ctx,
		specColumns+`where "wlapp_name" = $1 and "name" = $2 for update`,
		wlappName, procName,
	))
	if err != nil {
		return domain.ProcessSpec{}, err
	}

	if since := p.now().Sub(spec.UpdatedAt); since < p.floor {
		return domain.ProcessSpec{}, kerr.Wrap(
			kerr.ErrTooOften, "process %s/%s changed %s ago (floor %s)",
			wlappName, procName, since, p.floor,
		)
	}

	if err := fn(&spec); err != nil {
		return domain.ProcessSpec{}, err
	}
	if spec.TargetReplicas < 0 {
		return domain.ProcessSpec{}, domain.NewInvalid(
			"target replicas %d < 0", spec.TargetReplicas,
		)
	}
	if spec.Plan.MaxReplicas < spec.TargetReplicas {
		return domain.ProcessSpec{}, domain.NewInvalid(
			"target replicas %d exceeds plan limit %d",
			spec.TargetReplicas, spec.Plan.MaxReplicas,
		)
	}

	plan, err := json.Marshal(spec.Plan)
	if err != nil {
		return domain.ProcessSpec{}, err
	}
	var autoscaling interface{}
	if spec.Autoscaling != nil {
		a, err := json.Marshal(spec.Autoscaling)
		if err != nil {
			return domain.ProcessSpec{}, err
		}
		autoscaling = a
	}

	now := p.now()
	if _, err := tx.Exec(
		ctx,
		`
		update "process_spec"
		set "target_replicas" = $3, "target_status" = $4,
		    "plan" = $5, "autoscaling" = $6, "updated_at" = $7
		where "wlapp_name" = $1 and "name" = $2
		`,
		wlappName, procName, spec.TargetReplicas, spec.TargetStatus,
		plan, autoscaling, now,
	); err != nil {
		return domain.ProcessSpec{}, dberrors.Classify(err)
	}
	spec.UpdatedAt = now

	if err := tx.Commit(ctx); err != nil {
		return domain.ProcessSpec{}, err
	}
	return spec, nil
}

func (p *pgProcess) Delete(ctx context.Context, wlappName string, procName string) error {
	tag, err := p.pool.Exec(
		ctx,
		`delete from "process_spec" where "wlapp_name" = $1 and "name" = $2`,
		wlappName, procName,
	)
	if err != nil {
		return dberrors.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return kerr.Wrap(kerr.ErrMissing, "process spec %s/%s", wlappName, procName)
	}
	return nil
}
