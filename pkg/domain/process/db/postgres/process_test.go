package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"

	kpool "github.com/bkpaas/apcp/pkg/conn/pool"
	"github.com/bkpaas/apcp/pkg/domain"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	kdb "github.com/bkpaas/apcp/pkg/domain/process/db"
	postgres "github.com/bkpaas/apcp/pkg/domain/process/db/postgres"
	"github.com/bkpaas/apcp/pkg/utils/try"
)

// specRow plays the locked row of a Mutate transaction.
type specRow struct {
	spec domain.ProcessSpec
}

func (r specRow) Scan(dest ...interface{}) error {
	plan, err := json.Marshal(r.spec.Plan)
	if err != nil {
		return err
	}
	*dest[0].(*string) = r.spec.WlAppName
	*dest[1].(*string) = r.spec.Name
	*dest[2].(*int) = r.spec.TargetReplicas
	*dest[3].(*domain.TargetStatus) = r.spec.TargetStatus
	*dest[4].(*[]byte) = plan
	dest[5].(*pgtype.JSONB).Status = pgtype.Null
	*dest[6].(*time.Time) = r.spec.CreatedAt
	*dest[7].(*time.Time) = r.spec.UpdatedAt
	return nil
}

type fakeTx struct {
	row specRow

	execs     []string
	committed bool
	rolled    bool
}

func (tx *fakeTx) Exec(_ context.Context, sql string, _ ...interface{}) (pgconn.CommandTag, error) {
	tx.execs = append(tx.execs, sql)
	return pgconn.CommandTag("UPDATE 1"), nil
}

func (tx *fakeTx) Query(_ context.Context, _ string, _ ...interface{}) (pgx.Rows, error) {
	panic("unexpected Query in transaction")
}

func (tx *fakeTx) QueryRow(_ context.Context, _ string, _ ...interface{}) pgx.Row {
	return tx.row
}

func (tx *fakeTx) Commit(_ context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(_ context.Context) error {
	tx.rolled = true
	return nil
}

type fakePool struct {
	tx *fakeTx
}

var _ kpool.Pool = fakePool{}

func (p fakePool) Exec(_ context.Context, _ string, _ ...interface{}) (pgconn.CommandTag, error) {
	panic("unexpected Exec outside a transaction")
}

func (p fakePool) Query(_ context.Context, _ string, _ ...interface{}) (pgx.Rows, error) {
	panic("unexpected Query outside a transaction")
}

func (p fakePool) QueryRow(_ context.Context, _ string, _ ...interface{}) pgx.Row {
	panic("unexpected QueryRow outside a transaction")
}

func (p fakePool) Begin(_ context.Context) (kpool.Tx, error) { return p.tx, nil }

func (p fakePool) Close() {}

func TestMutate_OperationFloor(t *testing.T) {
	ctx := context.Background()
	lastChanged := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	newTestee := func(now time.Time) (*fakeTx, kdb.Interface) {
		tx := &fakeTx{row: specRow{spec: domain.ProcessSpec{
			WlAppName: "bkapp-demo-stag", Name: "web",
			TargetReplicas: 2, TargetStatus: domain.TargetStart,
			Plan:      domain.Plan{Name: "default", MaxReplicas: 5},
			CreatedAt: lastChanged, UpdatedAt: lastChanged,
		}}}
		store := postgres.New(
			fakePool{tx: tx},
			postgres.WithOperationFloor(3*time.Second),
			postgres.WithClock(func() time.Time { return now }),
		)
		return tx, store
	}

	scaleTo := func(n int) func(*domain.ProcessSpec) error {
		return func(spec *domain.ProcessSpec) error {
			spec.TargetReplicas = n
			return nil
		}
	}

	t.Run("a second change within the floor is too often", func(t *testing.T) {
		tx, testee := newTestee(lastChanged.Add(1 * time.Second))

		_, err := testee.Mutate(ctx, "bkapp-demo-stag", "web", scaleTo(3))
		if !errors.Is(err, kerr.ErrTooOften) {
			t.Errorf("unexpected error: %+v", err)
		}
		if len(tx.execs) != 0 {
			t.Errorf("the row was written inside the floor: %v", tx.execs)
		}
		if tx.committed {
			t.Errorf("the transaction was committed inside the floor")
		}
		if !tx.rolled {
			t.Errorf("the transaction was not rolled back")
		}
	})

	t.Run("a change at the floor boundary still refuses", func(t *testing.T) {
		tx, testee := newTestee(lastChanged.Add(3*time.Second - time.Nanosecond))

		if _, err := testee.Mutate(ctx, "bkapp-demo-stag", "web", scaleTo(3)); !errors.Is(err, kerr.ErrTooOften) {
			t.Errorf("unexpected error: %+v", err)
		}
		if tx.committed {
			t.Errorf("the transaction was committed inside the floor")
		}
	})

	t.Run("a retry after the floor goes through", func(t *testing.T) {
		now := lastChanged.Add(4 * time.Second)
		tx, testee := newTestee(now)

		spec := try.To(testee.Mutate(ctx, "bkapp-demo-stag", "web", scaleTo(3))).OrFatal(t)

		if spec.TargetReplicas != 3 {
			t.Errorf("unmatch: target replicas: (actual, expected) = (%d, 3)", spec.TargetReplicas)
		}
		if !spec.UpdatedAt.Equal(now) {
			t.Errorf("unmatch: updated at: (actual, expected) = (%s, %s)", spec.UpdatedAt, now)
		}
		if len(tx.execs) != 1 {
			t.Fatalf("unmatch: writes: (actual, expected) = (%d, 1)", len(tx.execs))
		}
		if !tx.committed {
			t.Errorf("the transaction was not committed")
		}
	})

	t.Run("the floor does not excuse an invalid target", func(t *testing.T) {
		tx, testee := newTestee(lastChanged.Add(10 * time.Second))

		if _, err := testee.Mutate(ctx, "bkapp-demo-stag", "web", scaleTo(9)); !errors.Is(err, kerr.ErrInvalid) {
			t.Errorf("unexpected error: %+v", err)
		}
		if tx.committed {
			t.Errorf("the transaction was committed for an invalid target")
		}
	})
}
