package postgres

import (
	"context"
	"encoding/json"

	kpool "github.com/bkpaas/apcp/pkg/conn/pool"
	"github.com/bkpaas/apcp/pkg/domain"
	kdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	"github.com/bkpaas/apcp/pkg/domain/errors/dberrors"
)

type pgApp struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgApp{pool: pool}
}

func (a *pgApp) GetApplication(ctx context.Context, code string) (domain.Application, error) {
	app := domain.Application{}
	err := a.pool.QueryRow(
		ctx,
		`
		select "code", "name", "type", "tenant_id", "creator", "created_at", "updated_at"
		from "application" where "code" = $1
		`,
		code,
	).Scan(
		&app.Code, &app.Name, &app.Type, &app.TenantId,
		&app.Creator, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return domain.Application{}, dberrors.Classify(err)
	}
	return app, nil
}

func (a *pgApp) ListApplications(ctx context.Context) ([]domain.Application, error) {
	rows, err := a.pool.Query(
		ctx,
		`
		select "code", "name", "type", "tenant_id", "creator", "created_at", "updated_at"
		from "application" order by "code"
		`,
	)
	if err != nil {
		return nil, dberrors.Classify(err)
	}
	defer rows.Close()

	found := []domain.Application{}
	for rows.Next() {
		app := domain.Application{}
		if err := rows.Scan(
			&app.Code, &app.Name, &app.Type, &app.TenantId,
			&app.Creator, &app.CreatedAt, &app.UpdatedAt,
		); err != nil {
			return nil, err
		}
		found = append(found, app)
	}
	return found, rows.Err()
}

func (a *pgApp) GetModule(ctx context.Context, appCode string, moduleName string) (domain.Module, error) {
	m := domain.Module{}
	err := a.pool.QueryRow(
		ctx,
		`
		select "app_code", "name", "is_default", "language",
		       "exposed_url_type", "preferred_root_domain", "source_origin"
		from "module" where "app_code" = $1 and "name" = $2
		`,
		appCode, moduleName,
	).Scan(
		&m.AppCode, &m.Name, &m.IsDefault, &m.Language,
		&m.ExposedURLType, &m.PreferredRootDomain, &m.SourceOrigin,
	)
	if err != nil {
		return domain.Module{}, dberrors.Classify(err)
	}
	return m, nil
}

func (a *pgApp) DefaultModule(ctx context.Context, appCode string) (domain.Module, error) {
	m := domain.Module{}
	err := a.pool.QueryRow(
		ctx,
		`
		select "app_code", "name", "is_default", "language",
		       "exposed_url_type", "preferred_root_domain", "source_origin"
		from "module" where "app_code" = $1 and "is_default"
		`,
		appCode,
	).Scan(
		&m.AppCode, &m.Name, &m.IsDefault, &m.Language,
		&m.ExposedURLType, &m.PreferredRootDomain, &m.SourceOrigin,
	)
	if err != nil {
		return domain.Module{}, dberrors.Classify(err)
	}
	return m, nil
}

func (a *pgApp) ListModules(ctx context.Context, appCode string) ([]domain.Module, error) {
	rows, err := a.pool.Query(
		ctx,
		`
		select "app_code", "name", "is_default", "language",
		       "exposed_url_type", "preferred_root_domain", "source_origin"
		from "module" where "app_code" = $1 order by "name"
		`,
		appCode,
	)
	if err != nil {
		return nil, dberrors.Classify(err)
	}
	defer rows.Close()

	mods := []domain.Module{}
	for rows.Next() {
		m := domain.Module{}
		if err := rows.Scan(
			&m.AppCode, &m.Name, &m.IsDefault, &m.Language,
			&m.ExposedURLType, &m.PreferredRootDomain, &m.SourceOrigin,
		); err != nil {
			return nil, err
		}
		mods = append(mods, m)
	}
	return mods, rows.Err()
}

func (a *pgApp) GetEnv(ctx context.Context, appCode string, moduleName string, env domain.Environment) (domain.ModuleEnv, error) {
	e := domain.ModuleEnv{}
	err := a.pool.QueryRow(
		ctx,
		`
		select "app_code", "module_name", "environment",
		       "wlapp_name", "cluster_name", "is_offline"
		from "module_env"
		where "app_code" = $1 and "module_name" = $2 and "environment" = $3
		`,
		appCode, moduleName, env,
	).Scan(
		&e.AppCode, &e.ModuleName, &e.Environment,
		&e.WlAppName, &e.ClusterName, &e.IsOffline,
	)
	if err != nil {
		return domain.ModuleEnv{}, dberrors.Classify(err)
	}
	return e, nil
}

func (a *pgApp) ListEnvs(ctx context.Context, appCode string) ([]domain.ModuleEnv, error) {
	rows, err := a.pool.Query(
		ctx,
		`
		select "app_code", "module_name", "environment",
		       "wlapp_name", "cluster_name", "is_offline"
		from "module_env" where "app_code" = $1
		order by "module_name", "environment"
		`,
		appCode,
	)
	if err != nil {
		return nil, dberrors.Classify(err)
	}
	defer rows.Close()

	envs := []domain.ModuleEnv{}
	for rows.Next() {
		e := domain.ModuleEnv{}
		if err := rows.Scan(
			&e.AppCode, &e.ModuleName, &e.Environment,
			&e.WlAppName, &e.ClusterName, &e.IsOffline,
		); err != nil {
			return nil, err
		}
		envs = append(envs, e)
	}
	return envs, rows.Err()
}

func (a *pgApp) GetWlApp(ctx context.Context, name string) (domain.WlApp, error) {
	w := domain.WlApp{}
	err := a.pool.QueryRow(
		ctx,
		`
		select "name", "app_code", "module_name", "environment",
		       "namespace", "region", "type", "mapper_version"
		from "wlapp" where "name" = $1
		`,
		name,
	).Scan(
		&w.Name, &w.AppCode, &w.ModuleName, &w.Environment,
		&w.Namespace, &w.Region, &w.Type, &w.MapperVersion,
	)
	if err != nil {
		return domain.WlApp{}, dberrors.Classify(err)
	}
	return w, nil
}

func (a *pgApp) CreateWlApp(ctx context.Context, wlapp domain.WlApp) error {
	_, err := a.pool.Exec(
		ctx,
		`
		insert into "wlapp"
		    ("name", "app_code", "module_name", "environment",
		     "namespace", "region", "type", "mapper_version")
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
		wlapp.Name, wlapp.AppCode, wlapp.ModuleName, wlapp.Environment,
		wlapp.Namespace, wlapp.Region, wlapp.Type, wlapp.MapperVersion,
	)
	return dberrors.Classify(err)
}

func (a *pgApp) SetEnvOffline(ctx context.Context, appCode string, moduleName string, env domain.Environment, offline bool) error {
	tag, err := a.pool.Exec(
		ctx,
		`
		update "module_env" set "is_offline" = $4
		where "app_code" = $1 and "module_name" = $2 and "environment" = $3
		`,
		appCode, moduleName, env, offline,
	)
	if err != nil {
		return dberrors.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return kerr.Wrap(kerr.ErrMissing, "env %s/%s/%s", appCode, moduleName, env)
	}
	return nil
}

func (a *pgApp) GetCluster(ctx context.Context, name string) (domain.Cluster, error) {
	c := domain.Cluster{}
	var ingressConf, featureFlags []byte
	err := a.pool.QueryRow(
		ctx,
		`
		select "name", "api_server_url", "token", "ca_cert_data",
		       "ingress_config", "feature_flags", "is_default"
		from "cluster" where "name" = $1
		`,
		name,
	).Scan(
		&c.Name, &c.APIServerURL, &c.Token, &c.CACertData,
		&ingressConf, &featureFlags, &c.IsDefault,
	)
	if err != nil {
		return domain.Cluster{}, dberrors.Classify(err)
	}
	if err := json.Unmarshal(ingressConf, &c.IngressConfig); err != nil {
		return domain.Cluster{}, err
	}
	if len(featureFlags) != 0 {
		if err := json.Unmarshal(featureFlags, &c.FeatureFlags); err != nil {
			return domain.Cluster{}, err
		}
	}
	return c, nil
}

func (a *pgApp) ClusterForEnv(ctx context.Context, env domain.ModuleEnv) (domain.Cluster, error) {
	if env.ClusterName == "" {
		return domain.Cluster{}, kerr.Wrap(
			kerr.ErrClusterNotBound, "env %s/%s/%s",
			env.AppCode, env.ModuleName, env.Environment,
		)
	}
	return a.GetCluster(ctx, env.ClusterName)
}
