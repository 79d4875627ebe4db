package entrance_test

import (
	"testing"

	"github.com/bkpaas/apcp/pkg/domain"
	"github.com/bkpaas/apcp/pkg/entrance"
	"github.com/bkpaas/apcp/pkg/utils/cmp"
)

func TestCandidateURLs(t *testing.T) {

	type When struct {
		Module domain.Module
		Env    domain.Environment
		Config domain.IngressConfig
	}

	type Then struct {
		Addresses []string
	}

	theory := func(when When, then Then) func(t *testing.T) {
		return func(t *testing.T) {
			urls := entrance.CandidateURLs(when.Module, when.Env, when.Config)

			got := make([]string, 0, len(urls))
			for _, u := range urls {
				got = append(got, u.AsAddress())
			}
			if !cmp.SliceContentEq(got, then.Addresses) {
				t.Errorf("unmatch: (actual, expected) = (%v, %v)", got, then.Addresses)
			}
		}
	}

	t.Run("subdomain, default module, prod", theory(
		When{
			Module: domain.Module{
				AppCode: "demo", Name: "default", IsDefault: true,
				ExposedURLType: domain.ExposedSubdomain,
			},
			Env: domain.EnvProd,
			Config: domain.IngressConfig{
				AppRootDomains: []domain.RootDomain{{Name: "apps.example.com"}},
			},
		},
		Then{Addresses: []string{
			"http://prod-dot-default-dot-demo.apps.example.com/",
			"http://prod-dot-demo.apps.example.com/",
			"http://demo.apps.example.com/",
		}},
	))

	t.Run("subdomain, secondary module, stag", theory(
		When{
			Module: domain.Module{
				AppCode: "demo", Name: "backend", IsDefault: false,
				ExposedURLType: domain.ExposedSubdomain,
			},
			Env: domain.EnvStag,
			Config: domain.IngressConfig{
				AppRootDomains: []domain.RootDomain{{Name: "apps.example.com"}},
			},
		},
		Then{Addresses: []string{
			"http://stag-dot-backend-dot-demo.apps.example.com/",
		}},
	))

	t.Run("subpath, default module, stag", theory(
		When{
			Module: domain.Module{
				AppCode: "demo", Name: "default", IsDefault: true,
				ExposedURLType: domain.ExposedSubpath,
			},
			Env: domain.EnvStag,
			Config: domain.IngressConfig{
				SubpathDomains: []domain.RootDomain{{Name: "sub.example.com"}},
			},
		},
		Then{Addresses: []string{
			"http://sub.example.com/stag--default--demo/",
			"http://sub.example.com/stag--demo/",
		}},
	))

	t.Run("reserved roots are skipped", theory(
		When{
			Module: domain.Module{
				AppCode: "demo", Name: "default", IsDefault: true,
				ExposedURLType: domain.ExposedSubdomain,
			},
			Env: domain.EnvStag,
			Config: domain.IngressConfig{
				AppRootDomains: []domain.RootDomain{
					{Name: "legacy.example.com", Reserved: true},
					{Name: "apps.example.com"},
				},
			},
		},
		Then{Addresses: []string{
			"http://stag-dot-default-dot-demo.apps.example.com/",
			"http://stag-dot-demo.apps.example.com/",
		}},
	))

	t.Run("the preferred root domain joins the candidates", theory(
		When{
			Module: domain.Module{
				AppCode: "demo", Name: "default", IsDefault: true,
				ExposedURLType:      domain.ExposedSubdomain,
				PreferredRootDomain: "vip.example.com",
			},
			Env: domain.EnvProd,
			Config: domain.IngressConfig{
				AppRootDomains: []domain.RootDomain{{Name: "apps.example.com", HTTPSEnabled: true}},
			},
		},
		Then{Addresses: []string{
			"https://prod-dot-default-dot-demo.apps.example.com/",
			"https://prod-dot-demo.apps.example.com/",
			"https://demo.apps.example.com/",
			"http://prod-dot-default-dot-demo.vip.example.com/",
			"http://prod-dot-demo.vip.example.com/",
			"http://demo.vip.example.com/",
		}},
	))

	t.Run("no exposure type yields no candidates", theory(
		When{
			Module: domain.Module{
				AppCode: "demo", Name: "default", IsDefault: true,
				ExposedURLType: domain.ExposedNone,
			},
			Env: domain.EnvProd,
			Config: domain.IngressConfig{
				AppRootDomains: []domain.RootDomain{{Name: "apps.example.com"}},
			},
		},
		Then{Addresses: []string{}},
	))
}

func TestPreferredURL(t *testing.T) {

	type When struct {
		Module domain.Module
		Env    domain.Environment
	}

	type Then struct {
		Address string
	}

	cfg := domain.IngressConfig{
		SubpathDomains: []domain.RootDomain{{Name: "sub.example.com"}},
	}

	theory := func(when When, then Then) func(t *testing.T) {
		return func(t *testing.T) {
			u, ok := entrance.PreferredURL(when.Module, when.Env, cfg)
			if !ok {
				t.Fatal("no URL allocated")
			}
			if got := u.AsAddress(); got != then.Address {
				t.Errorf("unmatch: (actual, expected) = (%s, %s)", got, then.Address)
			}
		}
	}

	demo := domain.Module{
		AppCode: "demo", Name: "default", IsDefault: true,
		ExposedURLType: domain.ExposedSubpath,
	}

	t.Run("stag prefers the short module-free path", theory(
		When{Module: demo, Env: domain.EnvStag},
		Then{Address: "http://sub.example.com/stag--demo/"},
	))

	t.Run("prod prefers the bare code path", theory(
		When{Module: demo, Env: domain.EnvProd},
		Then{Address: "http://sub.example.com/demo/"},
	))

	t.Run("nothing allocatable", func(t *testing.T) {
		hidden := demo
		hidden.ExposedURLType = domain.ExposedNone
		if _, ok := entrance.PreferredURL(hidden, domain.EnvProd, cfg); ok {
			t.Error("URL allocated for an unexposed module")
		}
	})
}
