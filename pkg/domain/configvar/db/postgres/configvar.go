package postgres

import (
	"context"

	kpool "github.com/bkpaas/apcp/pkg/conn/pool"
	"github.com/bkpaas/apcp/pkg/domain"
	kdb "github.com/bkpaas/apcp/pkg/domain/configvar/db"
	"github.com/bkpaas/apcp/pkg/domain/errors/dberrors"
)

type pgConfigVar struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgConfigVar{pool: pool}
}

func (c *pgConfigVar) List(ctx context.Context, appCode string, moduleName string) ([]domain.ConfigVar, error) {
	rows, err := c.pool.Query(
		ctx,
		`
		select "app_code", "module_name", "key", "value",
		       "description", "scope", "updated_at"
		from "config_var"
		where "app_code" = $1 and "module_name" = $2
		order by "scope", "key"
		`,
		appCode, moduleName,
	)
	if err != nil {
		return nil, dberrors.Classify(err)
	}
	defer rows.Close()

	vars := []domain.ConfigVar{}
	for rows.Next() {
		v := domain.ConfigVar{}
		if err := rows.Scan(
			&v.AppCode, &v.ModuleName, &v.Key, &v.Value,
			&v.Description, &v.Scope, &v.UpdatedAt,
		); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

func (c *pgConfigVar) Apply(ctx context.Context, appCode string, moduleName string, vars []domain.ConfigVar) (domain.ApplyResult, error) {
	return c.save(ctx, appCode, moduleName, vars, false)
}

func (c *pgConfigVar) BatchSave(ctx context.Context, appCode string, moduleName string, vars []domain.ConfigVar) (domain.ApplyResult, error) {
	return c.save(ctx, appCode, moduleName, vars, true)
}

type varKey struct {
	key   string
	scope domain.ConfigVarScope
}

func (c *pgConfigVar) save(
	ctx context.Context, appCode string, moduleName string,
	vars []domain.ConfigVar, deleteAbsent bool,
) (domain.ApplyResult, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return domain.ApplyResult{}, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(
		ctx,
		`
		select "key", "value", "description", "scope"
		from "config_var"
		where "app_code" = $1 and "module_name" = $2
		for update
		`,
		appCode, moduleName,
	)
	if err != nil {
		return domain.ApplyResult{}, dberrors.Classify(err)
	}

	existing := map[varKey]domain.ConfigVar{}
	for rows.Next() {
		v := domain.ConfigVar{AppCode: appCode, ModuleName: moduleName}
		if err := rows.Scan(&v.Key, &v.Value, &v.Description, &v.Scope); err != nil {
			rows.Close()
			return domain.ApplyResult{}, err
		}
		existing[varKey{v.Key, v.Scope}] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.ApplyResult{}, err
	}

	result := domain.ApplyResult{}
	incoming := map[varKey]bool{}
	for _, v := range vars {
		k := varKey{v.Key, v.Scope}
		incoming[k] = true

		old, found := existing[k]
		switch {
		case !found:
			if _, err := tx.Exec(
				ctx,
				`
				insert into "config_var"
				    ("app_code", "module_name", "key", "value", "description", "scope")
				values ($1, $2, $3, $4, $5, $6)
				`,
				appCode, moduleName, v.Key, v.Value, v.Description, v.Scope,
			); err != nil {
				return domain.ApplyResult{}, dberrors.Classify(err)
			}
			result.Created += 1
		case old.Equivalent(v):
			result.Ignored += 1
		default:
			if _, err := tx.Exec(
				ctx,
				`
				update "config_var"
				set "value" = $4, "description" = $5, "updated_at" = now()
				where "app_code" = $1 and "module_name" = $2
				  and "key" = $3 and "scope" = $6
				`,
				appCode, moduleName, v.Key, v.Value, v.Description, v.Scope,
			); err != nil {
				return domain.ApplyResult{}, dberrors.Classify(err)
			}
			result.Overwritten += 1
		}
	}

	if deleteAbsent {
		for k := range existing {
			if incoming[k] {
				continue
			}
			if _, err := tx.Exec(
				ctx,
				`
				delete from "config_var"
				where "app_code" = $1 and "module_name" = $2
				  and "key" = $3 and "scope" = $4
				`,
				appCode, moduleName, k.key, k.scope,
			); err != nil {
				return domain.ApplyResult{}, dberrors.Classify(err)
			}
			result.Deleted += 1
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ApplyResult{}, err
	}
	return result, nil
}
