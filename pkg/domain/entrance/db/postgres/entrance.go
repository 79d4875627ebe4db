package postgres

import (
	"context"
	"strings"

	"github.com/google/uuid"

	kpool "github.com/bkpaas/apcp/pkg/conn/pool"
	"github.com/bkpaas/apcp/pkg/domain"
	kdb "github.com/bkpaas/apcp/pkg/domain/entrance/db"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	"github.com/bkpaas/apcp/pkg/domain/errors/dberrors"
)

type pgEntrance struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgEntrance{pool: pool}
}

const domainColumns = `
	select "id", "host", "path_prefix", "app_code", "module_name",
	       "environment", "https_enabled", "shared_cert_name",
	       "created_at", "updated_at"
	from "app_domain"
`

type row interface {
	Scan(dest ...interface{}) error
}

func scanDomain(r row) (domain.AppDomain, error) {
	d := domain.AppDomain{}
	err := r.Scan(
		&d.Id, &d.Host, &d.PathPrefix, &d.AppCode, &d.ModuleName,
		&d.Environment, &d.HTTPSEnabled, &d.SharedCertName,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return domain.AppDomain{}, dberrors.Classify(err)
	}
	return d, nil
}

func (e *pgEntrance) CreateDomain(ctx context.Context, d domain.AppDomain) (domain.AppDomain, error) {
	if d.Id == "" {
		d.Id = uuid.NewString()
	}
	err := e.pool.QueryRow(
		ctx,
		`
		insert into "app_domain"
		    ("id", "host", "path_prefix", "app_code", "module_name",
		     "environment", "https_enabled", "shared_cert_name")
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning "created_at", "updated_at"
		`,
		d.Id, d.Host, d.PathPrefix, d.AppCode, d.ModuleName,
		d.Environment, d.HTTPSEnabled, d.SharedCertName,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return domain.AppDomain{}, dberrors.Classify(err)
	}
	return d, nil
}

func (e *pgEntrance) GetDomain(ctx context.Context, id string) (domain.AppDomain, error) {
	return scanDomain(e.pool.QueryRow(ctx, domainColumns+`where "id" = $1`, id))
}

func (e *pgEntrance) ListDomains(ctx context.Context, env domain.ModuleEnv) ([]domain.AppDomain, error) {
	rows, err := e.pool.Query(
		ctx,
		domainColumns+`
		where "app_code" = $1 and "module_name" = $2 and "environment" = $3
		order by "host", "path_prefix"
		`,
		env.AppCode, env.ModuleName, env.Environment,
	)
	if err != nil {
		return nil, dberrors.Classify(err)
	}
	defer rows.Close()

	ds := []domain.AppDomain{}
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	return ds, rows.Err()
}

func (e *pgEntrance) UpdateDomain(ctx context.Context, d domain.AppDomain) error {
	tag, err := e.pool.Exec(
		ctx,
		`
		update "app_domain"
		set "host" = $2, "path_prefix" = $3, "https_enabled" = $4,
		    "shared_cert_name" = $5, "updated_at" = now()
		where "id" = $1
		`,
		d.Id, d.Host, d.PathPrefix, d.HTTPSEnabled, d.SharedCertName,
	)
	if err != nil {
		return dberrors.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return kerr.Wrap(kerr.ErrMissing, "domain %s", d.Id)
	}
	return nil
}

func (e *pgEntrance) DeleteDomain(ctx context.Context, id string) error {
	tag, err := e.pool.Exec(ctx, `delete from "app_domain" where "id" = $1`, id)
	if err != nil {
		return dberrors.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return kerr.Wrap(kerr.ErrMissing, "domain %s", id)
	}
	return nil
}

func (e *pgEntrance) GetSharedCert(ctx context.Context, tenantId string, name string) (domain.AppDomainSharedCert, error) {
	c := domain.AppDomainSharedCert{}
	var cns string
	err := e.pool.QueryRow(
		ctx,
		`
		select "name", "tenant_id", "cert_data", "key_data",
		       "auto_match_cns", "updated_at"
		from "shared_cert" where "tenant_id" = $1 and "name" = $2
		`,
		tenantId, name,
	).Scan(&c.Name, &c.TenantId, &c.CertData, &c.KeyData, &cns, &c.UpdatedAt)
	if err != nil {
		return domain.AppDomainSharedCert{}, dberrors.Classify(err)
	}
	if cns != "" {
		c.AutoMatchCNs = strings.Split(cns, ";")
	}
	return c, nil
}

func (e *pgEntrance) UpsertSharedCert(ctx context.Context, cert domain.AppDomainSharedCert) error {
	_, err := e.pool.Exec(
		ctx,
		`
		insert into "shared_cert"
		    ("name", "tenant_id", "cert_data", "key_data", "auto_match_cns")
		values ($1, $2, $3, $4, $5)
		on conflict ("tenant_id", "name") do update
		set "cert_data" = excluded."cert_data",
		    "key_data" = excluded."key_data",
		    "auto_match_cns" = excluded."auto_match_cns",
		    "updated_at" = now()
		`,
		cert.Name, cert.TenantId, cert.CertData, cert.KeyData,
		strings.Join(cert.AutoMatchCNs, ";"),
	)
	return dberrors.Classify(err)
}

func (e *pgEntrance) DeleteSharedCert(ctx context.Context, tenantId string, name string) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	refs := 0
	if err := tx.QueryRow(
		ctx,
		`select count(*) from "app_domain" where "shared_cert_name" = $1`,
		name,
	).Scan(&refs); err != nil {
		return err
	}
	if 0 < refs {
		return kerr.Wrap(kerr.ErrCertInUse, "%s is referenced by %d domains", name, refs)
	}

	tag, err := tx.Exec(
		ctx,
		`delete from "shared_cert" where "tenant_id" = $1 and "name" = $2`,
		tenantId, name,
	)
	if err != nil {
		return dberrors.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return kerr.Wrap(kerr.ErrMissing, "shared cert %s", name)
	}
	return tx.Commit(ctx)
}

func (e *pgEntrance) DomainsMatchingCert(ctx context.Context, cert domain.AppDomainSharedCert) ([]domain.AppDomain, error) {
	rows, err := e.pool.Query(ctx, domainColumns+`order by "host", "path_prefix"`)
	if err != nil {
		return nil, dberrors.Classify(err)
	}
	defer rows.Close()

	matched := []domain.AppDomain{}
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		if HostMatchesAny(d.Host, cert.AutoMatchCNs) {
			matched = append(matched, d)
		}
	}
	return matched, rows.Err()
}

// HostMatchesAny reports whether host matches one of the CN patterns.
// A leading "*." matches exactly one extra label, as in TLS.
func HostMatchesAny(host string, patterns []string) bool {
	for _, p := range patterns {
		if p == host {
			return true
		}
		if rest, ok := strings.CutPrefix(p, "*."); ok {
			label, parent, found := strings.Cut(host, ".")
			if found && label != "" && parent == rest {
				return true
			}
		}
	}
	return false
}
