package entrance

import (
	"fmt"
	"strings"

	"github.com/bkpaas/apcp/pkg/domain"
)

// Allocation priorities. Lower trumps higher only through address
// length: all candidates are produced and the shortest wins.
//
//	STABLE          {env}-dot-{module}-dot-{code}.{root}   /{env}--{module}--{code}/
//	WITHOUT_MODULE  {env}-dot-{code}.{root}                /{env}--{code}/       (default module)
//	ONLY_CODE       {code}.{root}                          /{code}/              (default module, prod)
//	USER_PREFERRED  same shapes on the user's root domain

// CandidateURLs computes every address the env can be served on, given
// the cluster's ingress material.
func CandidateURLs(module domain.Module, env domain.Environment, cfg domain.IngressConfig) []URL {
	switch module.ExposedURLType {
	case domain.ExposedSubdomain:
		return subdomainURLs(module, env, cfg.AppRootDomains)
	case domain.ExposedSubpath:
		return subpathURLs(module, env, cfg.SubpathDomains)
	}
	return nil
}

// PreferredURL picks the live address of the env: the shortest
// candidate, ignoring scheme. ok is false when nothing is allocatable.
func PreferredURL(module domain.Module, env domain.Environment, cfg domain.IngressConfig) (URL, bool) {
	candidates := CandidateURLs(module, env, cfg)
	if len(candidates) == 0 {
		return URL{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if shorter(c, best) {
			best = c
		}
	}
	return best, true
}

func subdomainURLs(module domain.Module, env domain.Environment, roots []domain.RootDomain) []URL {
	urls := []URL{}
	for _, root := range rootsWithPreferred(module, roots) {
		for _, host := range subdomainHosts(module, env, root.Name) {
			urls = append(urls, URL{
				Scheme: schemeOf(root),
				Host:   host,
				Path:   "/",
				Type:   AddrSubdomain,
			})
		}
	}
	return urls
}

func subdomainHosts(module domain.Module, env domain.Environment, root string) []string {
	hosts := []string{
		// STABLE
		fmt.Sprintf("%s-dot-%s-dot-%s.%s", env, module.Name, module.AppCode, root),
	}
	if module.IsDefault {
		// WITHOUT_MODULE
		hosts = append(hosts, fmt.Sprintf("%s-dot-%s.%s", env, module.AppCode, root))
		if env == domain.EnvProd {
			// ONLY_CODE
			hosts = append(hosts, fmt.Sprintf("%s.%s", module.AppCode, root))
		}
	}
	return hosts
}

func subpathURLs(module domain.Module, env domain.Environment, roots []domain.RootDomain) []URL {
	urls := []URL{}
	for _, root := range rootsWithPreferred(module, roots) {
		for _, path := range subpathPaths(module, env) {
			urls = append(urls, URL{
				Scheme: schemeOf(root),
				Host:   root.Name,
				Path:   path,
				Type:   AddrSubpath,
			})
		}
	}
	return urls
}

func subpathPaths(module domain.Module, env domain.Environment) []string {
	paths := []string{
		// STABLE
		fmt.Sprintf("/%s--%s--%s/", env, module.Name, module.AppCode),
	}
	if module.IsDefault {
		// WITHOUT_MODULE
		paths = append(paths, fmt.Sprintf("/%s--%s/", env, module.AppCode))
		if env == domain.EnvProd {
			// ONLY_CODE
			paths = append(paths, fmt.Sprintf("/%s/", module.AppCode))
		}
	}
	return paths
}

// rootsWithPreferred appends the user's root domain (USER_PREFERRED)
// unless the cluster already lists it.
func rootsWithPreferred(module domain.Module, roots []domain.RootDomain) []domain.RootDomain {
	usable := make([]domain.RootDomain, 0, len(roots)+1)
	seen := false
	for _, r := range roots {
		if r.Reserved {
			continue
		}
		if strings.EqualFold(r.Name, module.PreferredRootDomain) {
			seen = true
		}
		usable = append(usable, r)
	}
	if module.PreferredRootDomain != "" && !seen {
		usable = append(usable, domain.RootDomain{Name: module.PreferredRootDomain})
	}
	return usable
}

func schemeOf(root domain.RootDomain) string {
	if root.HTTPSEnabled {
		return "https"
	}
	return "http"
}
