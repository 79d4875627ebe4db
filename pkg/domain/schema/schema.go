// Package schema creates the control-plane tables.
package schema

import (
	"context"
	_ "embed"

	kpool "github.com/bkpaas/apcp/pkg/conn/pool"
)

//go:embed schema.sql
var ddl string

// Ensure applies the schema. Every statement is idempotent
// ("create ... if not exists"), so Ensure is safe to run at each startup.
func Ensure(ctx context.Context, pool kpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, ddl); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
