package entrance

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	releasedb "github.com/bkpaas/apcp/pkg/domain/release/db"
)

// Service answers "where is this env reachable".
type Service struct {
	apps     appdb.Interface
	releases releasedb.Interface
}

func NewService(apps appdb.Interface, releases releasedb.Interface) *Service {
	return &Service{apps: apps, releases: releases}
}

// GetExposedURL returns the live preferred address of the env, or nil
// when the env has never been deployed.
func (s *Service) GetExposedURL(ctx context.Context, env domain.ModuleEnv) (*URL, error) {
	deployed, err := s.releases.HasSuccessfulDeployment(ctx, env)
	if err != nil {
		return nil, err
	}
	if !deployed {
		return nil, nil
	}

	module, err := s.apps.GetModule(ctx, env.AppCode, env.ModuleName)
	if err != nil {
		return nil, err
	}
	cluster, err := s.apps.ClusterForEnv(ctx, env)
	if err != nil {
		return nil, err
	}
	url, ok := PreferredURL(module, env.Environment, cluster.IngressConfig)
	if !ok {
		return nil, nil
	}
	return &url, nil
}

// PreallocatedURLs renders the BKPAAS_DEFAULT_PREALLOCATED_URLS value:
// a JSON object {"stag": <url>, "prod": <url>} computed from the
// default module, or "" when no root domain is configured.
func (s *Service) PreallocatedURLs(ctx context.Context, appCode string) (string, error) {
	module, err := s.apps.DefaultModule(ctx, appCode)
	if err != nil {
		return "", err
	}

	urls := map[string]string{}
	for _, environment := range []domain.Environment{domain.EnvStag, domain.EnvProd} {
		env, err := s.apps.GetEnv(ctx, appCode, module.Name, environment)
		if err != nil {
			if errors.Is(err, kerr.ErrMissing) {
				continue
			}
			return "", err
		}
		cluster, err := s.apps.ClusterForEnv(ctx, env)
		if err != nil {
			if errors.Is(err, kerr.ErrClusterNotBound) {
				continue
			}
			return "", err
		}
		if url, ok := PreferredURL(module, environment, cluster.IngressConfig); ok {
			urls[string(environment)] = url.AsAddress()
		}
	}
	if len(urls) == 0 {
		return "", nil
	}

	payload, err := json.Marshal(urls)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
