package db

import (
	"context"

	"github.com/bkpaas/apcp/pkg/domain"
)

// Interface persists custom domains and shared TLS certs.
type Interface interface {
	// CreateDomain fails with ErrConflict when (host, path prefix) is
	// already taken, platform wide.
	CreateDomain(ctx context.Context, d domain.AppDomain) (domain.AppDomain, error)

	GetDomain(ctx context.Context, id string) (domain.AppDomain, error)

	ListDomains(ctx context.Context, env domain.ModuleEnv) ([]domain.AppDomain, error)

	UpdateDomain(ctx context.Context, d domain.AppDomain) error

	DeleteDomain(ctx context.Context, id string) error

	GetSharedCert(ctx context.Context, tenantId string, name string) (domain.AppDomainSharedCert, error)

	UpsertSharedCert(ctx context.Context, cert domain.AppDomainSharedCert) error

	// DeleteSharedCert fails with ErrCertInUse while any domain
	// references the cert.
	DeleteSharedCert(ctx context.Context, tenantId string, name string) error

	// DomainsMatchingCert returns every domain whose host matches one of
	// the cert's auto-match patterns.
	DomainsMatchingCert(ctx context.Context, cert domain.AppDomainSharedCert) ([]domain.AppDomain, error)
}
