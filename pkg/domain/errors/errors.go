// Package errors holds the semantic error kinds of the control plane.
//
// Stores and controllers return errors wrapping one of the sentinels
// below; the API layer maps sentinels to response codes.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrMissing : the requested row or resource does not exist.
	ErrMissing = errors.New("missing")

	// ErrConflict : an invariant would be violated (duplicate key,
	// resource already exists).
	ErrConflict = errors.New("conflict")

	// ErrInvalid : bad input from a caller.
	ErrInvalid = errors.New("invalid")

	// ErrTooOften : the operation-frequency floor refused a mutation.
	ErrTooOften = errors.New("requested too often")

	// ErrPendingOperation : another non-terminal operation exists in the
	// same scope (pending guard).
	ErrPendingOperation = errors.New("another operation is in progress")

	// ErrCannotOffline : the env cannot be archived.
	ErrCannotOffline = errors.New("cannot offline app")

	// ErrCannotOperate : process operations are refused, typically
	// because the env is offline.
	ErrCannotOperate = errors.New("cannot operate process")

	// ErrClusterNotBound : the env has no cluster binding.
	ErrClusterNotBound = errors.New("cluster not bound")

	// ErrCrossClusterWatch : list-watch over namespaces in different
	// clusters; resource versions are not comparable across API servers.
	ErrCrossClusterWatch = errors.New("list-watch across clusters unsupported")

	// ErrNoSeries : the metrics backend returned no usable series.
	ErrNoSeries = errors.New("no metric series matched")

	// ErrUsedByMarket : the domain is the market entrance and may not be
	// changed or removed.
	ErrUsedByMarket = errors.New("domain is used as market entrance")

	// ErrCertInUse : the shared cert is still referenced by domains.
	ErrCertInUse = errors.New("shared cert is referenced by domains")

	// ErrDeadlineExceeded : a cluster resource did not reach the wanted
	// state in time.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// Wrap attaches a formatted message in front of a sentinel.
func Wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
