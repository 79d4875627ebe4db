package entrance

import (
	"context"

	"github.com/google/uuid"

	"github.com/bkpaas/apcp/pkg/cluster"
	"github.com/bkpaas/apcp/pkg/cluster/k8s"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	entrancedb "github.com/bkpaas/apcp/pkg/domain/entrance/db"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	releasedb "github.com/bkpaas/apcp/pkg/domain/release/db"
)

// MarketEntrance resolves the app's market entrance address, when one
// is published. The market itself is an external collaborator.
type MarketEntrance interface {
	EntranceOf(ctx context.Context, appCode string) (host string, pathPrefix string, ok bool, err error)
}

// NoMarket is the MarketEntrance of deployments without a market.
type NoMarket struct{}

func (NoMarket) EntranceOf(ctx context.Context, appCode string) (string, string, bool, error) {
	return "", "", false, nil
}

// CustomDomainManager owns custom-domain CRUD and its cluster side
// effects. Behaviour differs between app types only in the annotations
// written onto the Ingress.
type CustomDomainManager struct {
	store    entrancedb.Interface
	apps     appdb.Interface
	releases releasedb.Interface
	clients  cluster.Clients
	market   MarketEntrance
}

func NewCustomDomainManager(
	store entrancedb.Interface,
	apps appdb.Interface,
	releases releasedb.Interface,
	clients cluster.Clients,
	market MarketEntrance,
) *CustomDomainManager {
	if market == nil {
		market = NoMarket{}
	}
	return &CustomDomainManager{
		store:    store,
		apps:     apps,
		releases: releases,
		clients:  clients,
		market:   market,
	}
}

// Create binds a hostname to the env. The env must be running: deployed
// at least once and not offline.
func (m *CustomDomainManager) Create(ctx context.Context, env domain.ModuleEnv, d domain.AppDomain) (domain.AppDomain, error) {
	if err := m.running(ctx, env); err != nil {
		return domain.AppDomain{}, err
	}

	d.Id = uuid.NewString()
	d.AppCode = env.AppCode
	d.ModuleName = env.ModuleName
	d.Environment = env.Environment
	if d.PathPrefix == "" {
		d.PathPrefix = "/"
	}

	created, err := m.store.CreateDomain(ctx, d)
	if err != nil {
		return domain.AppDomain{}, err
	}
	if err := m.applyToCluster(ctx, env, created); err != nil {
		return domain.AppDomain{}, err
	}
	return created, nil
}

// Update changes host, path or TLS settings. Refused while the domain
// is the app's market entrance.
func (m *CustomDomainManager) Update(ctx context.Context, env domain.ModuleEnv, d domain.AppDomain) error {
	current, err := m.store.GetDomain(ctx, d.Id)
	if err != nil {
		return err
	}
	if err := m.guardMarket(ctx, current); err != nil {
		return err
	}
	if err := m.running(ctx, env); err != nil {
		return err
	}
	if err := m.store.UpdateDomain(ctx, d); err != nil {
		return err
	}
	return m.applyToCluster(ctx, env, d)
}

// Delete unbinds the hostname and removes its Ingress.
func (m *CustomDomainManager) Delete(ctx context.Context, env domain.ModuleEnv, id string) error {
	current, err := m.store.GetDomain(ctx, id)
	if err != nil {
		return err
	}
	if err := m.guardMarket(ctx, current); err != nil {
		return err
	}
	if err := m.store.DeleteDomain(ctx, id); err != nil {
		return err
	}

	wlapp, err := m.apps.GetWlApp(ctx, env.WlAppName)
	if err != nil {
		return err
	}
	client, err := m.clients.ForEnv(ctx, env)
	if err != nil {
		return err
	}
	if err := client.DeleteIngress(ctx, wlapp.Namespace, ingressName(id)); err != nil && !k8s.IsNotFound(err) {
		return err
	}
	return nil
}

func (m *CustomDomainManager) List(ctx context.Context, env domain.ModuleEnv) ([]domain.AppDomain, error) {
	return m.store.ListDomains(ctx, env)
}

// IsLiveCustomDomain reports whether host is currently bound to the
// env. The market checks this before accepting a domain as entrance.
func (m *CustomDomainManager) IsLiveCustomDomain(ctx context.Context, env domain.ModuleEnv, host string) (bool, error) {
	domains, err := m.store.ListDomains(ctx, env)
	if err != nil {
		return false, err
	}
	for _, d := range domains {
		if d.Host == host {
			return true, nil
		}
	}
	return false, nil
}

func (m *CustomDomainManager) applyToCluster(ctx context.Context, env domain.ModuleEnv, d domain.AppDomain) error {
	wlapp, err := m.apps.GetWlApp(ctx, env.WlAppName)
	if err != nil {
		return err
	}
	client, err := m.clients.ForEnv(ctx, env)
	if err != nil {
		return err
	}

	if d.HTTPSEnabled && d.SharedCertName != "" {
		app, err := m.apps.GetApplication(ctx, env.AppCode)
		if err != nil {
			return err
		}
		cert, err := m.store.GetSharedCert(ctx, app.TenantId, d.SharedCertName)
		if err != nil {
			return err
		}
		if err := ensureTLSSecret(ctx, client, wlapp.Namespace, cert); err != nil {
			return err
		}
	}

	_, err = client.UpsertIngress(ctx, wlapp.Namespace, ingressForDomain(wlapp, d, m.annotationsFor(ctx, env)))
	return err
}

// annotationsFor is the only point where app types diverge: cloud
// native apps mark their ingresses as operator managed.
func (m *CustomDomainManager) annotationsFor(ctx context.Context, env domain.ModuleEnv) map[string]string {
	app, err := m.apps.GetApplication(ctx, env.AppCode)
	if err != nil || app.Type != domain.AppTypeCloudNative {
		return nil
	}
	return map[string]string{"bkapp.paas.bk.tencent.com/managed-by": "bkapp"}
}

func (m *CustomDomainManager) running(ctx context.Context, env domain.ModuleEnv) error {
	if env.IsOffline {
		return kerr.Wrap(kerr.ErrInvalid, "env %s/%s/%s is offline", env.AppCode, env.ModuleName, env.Environment)
	}
	deployed, err := m.releases.HasSuccessfulDeployment(ctx, env)
	if err != nil {
		return err
	}
	if !deployed {
		return kerr.Wrap(kerr.ErrInvalid, "env %s/%s/%s is not running", env.AppCode, env.ModuleName, env.Environment)
	}
	return nil
}

func (m *CustomDomainManager) guardMarket(ctx context.Context, d domain.AppDomain) error {
	host, pathPrefix, ok, err := m.market.EntranceOf(ctx, d.AppCode)
	if err != nil {
		return err
	}
	if ok && host == d.Host && pathPrefix == d.PathPrefix {
		return kerr.Wrap(kerr.ErrUsedByMarket, "domain %s%s", d.Host, d.PathPrefix)
	}
	return nil
}
