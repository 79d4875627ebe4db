// Package dberrors classifies postgres driver errors into domain errors.
package dberrors

import (
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"

	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
)

// Classify converts pgx/pgconn errors into domain sentinels.
//
// Unique and exclusion violations become ErrConflict, no-rows becomes
// ErrMissing. Anything else passes through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return kerr.Wrap(kerr.ErrMissing, "%s", err.Error())
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation, pgerrcode.ExclusionViolation:
			return kerr.Wrap(kerr.ErrConflict, "%s", pgErr.Detail)
		}
	}
	return err
}
