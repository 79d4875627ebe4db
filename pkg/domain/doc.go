// Package domain defines the entities of the application process control
// plane: the identity triple (Application, Module, ModuleEnv) consumed from
// the surrounding platform, the workload twin (WlApp) owned here, and the
// build / release / process records reconciled against Kubernetes.
//
// Rows in these types are intent. Observed state always comes from the
// cluster, never from the store.
package domain

import kerr "github.com/bkpaas/apcp/pkg/domain/errors"

// NewInvalid wraps ErrInvalid with a formatted message.
func NewInvalid(format string, args ...any) error {
	return kerr.Wrap(kerr.ErrInvalid, format, args...)
}
