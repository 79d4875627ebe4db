package entrance

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"sort"

	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/bkpaas/apcp/pkg/cluster"
	"github.com/bkpaas/apcp/pkg/cluster/k8s"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	entrancedb "github.com/bkpaas/apcp/pkg/domain/entrance/db"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
)

// ValidateCert checks that the cert/key pair is well-formed PEM holding
// a parseable x509 certificate that matches the key.
func ValidateCert(certPEM []byte, keyPEM []byte) error {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return kerr.Wrap(kerr.ErrInvalid, "cert is not PEM")
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return kerr.Wrap(kerr.ErrInvalid, "cert does not parse: %s", err)
	}
	if _, err := tls.X509KeyPair(certPEM, keyPEM); err != nil {
		return kerr.Wrap(kerr.ErrInvalid, "cert and key do not match: %s", err)
	}
	return nil
}

// CertRefresher pushes a shared cert into the TLS Secret of every
// namespace whose domains the cert serves.
type CertRefresher struct {
	store   entrancedb.Interface
	apps    appdb.Interface
	clients cluster.Clients
}

func NewCertRefresher(store entrancedb.Interface, apps appdb.Interface, clients cluster.Clients) *CertRefresher {
	return &CertRefresher{store: store, apps: apps, clients: clients}
}

// RefreshResult lists what was (or would be) touched.
type RefreshResult struct {
	// WlAppNames whose namespaces hold a refreshed Secret.
	WlAppNames []string
	DryRun     bool
}

// Refresh validates the stored cert, finds every WlApp whose domains it
// matches and update-or-creates the TLS Secret in each namespace.
// With dryRun, affected apps are enumerated and nothing is mutated.
func (r *CertRefresher) Refresh(ctx context.Context, tenantId string, certName string, dryRun bool) (RefreshResult, error) {
	cert, err := r.store.GetSharedCert(ctx, tenantId, certName)
	if err != nil {
		return RefreshResult{}, err
	}
	if err := ValidateCert(cert.CertData, cert.KeyData); err != nil {
		return RefreshResult{}, err
	}

	domains, err := r.store.DomainsMatchingCert(ctx, cert)
	if err != nil {
		return RefreshResult{}, err
	}

	// one refresh per env, even when several domains share it
	seen := map[string]domain.ModuleEnv{}
	for _, d := range domains {
		env, err := r.apps.GetEnv(ctx, d.AppCode, d.ModuleName, d.Environment)
		if err != nil {
			return RefreshResult{}, err
		}
		seen[env.WlAppName] = env
	}

	result := RefreshResult{DryRun: dryRun}
	for wlappName := range seen {
		result.WlAppNames = append(result.WlAppNames, wlappName)
	}
	sort.Strings(result.WlAppNames)
	if dryRun {
		return result, nil
	}

	for _, wlappName := range result.WlAppNames {
		env := seen[wlappName]
		wlapp, err := r.apps.GetWlApp(ctx, wlappName)
		if err != nil {
			return RefreshResult{}, err
		}
		client, err := r.clients.ForEnv(ctx, env)
		if err != nil {
			return RefreshResult{}, err
		}
		if err := ensureTLSSecret(ctx, client, wlapp.Namespace, cert); err != nil {
			return RefreshResult{}, err
		}
	}
	return result, nil
}

func ensureTLSSecret(ctx context.Context, client k8s.K8sClient, namespace string, cert domain.AppDomainSharedCert) error {
	_, err := client.UpsertSecret(ctx, namespace, &kubecore.Secret{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:      TLSSecretName(cert.Name),
			Namespace: namespace,
		},
		Type: kubecore.SecretTypeTLS,
		Data: map[string][]byte{
			kubecore.TLSCertKey:       cert.CertData,
			kubecore.TLSPrivateKeyKey: cert.KeyData,
		},
	})
	return err
}

// ReconcileEntrances ensures one Ingress per allocated address of the
// env. Run after a successful deploy.
func ReconcileEntrances(ctx context.Context, apps appdb.Interface, clients cluster.Clients, env domain.ModuleEnv) error {
	module, err := apps.GetModule(ctx, env.AppCode, env.ModuleName)
	if err != nil {
		return err
	}
	clusterRow, err := apps.ClusterForEnv(ctx, env)
	if err != nil {
		return err
	}
	wlapp, err := apps.GetWlApp(ctx, env.WlAppName)
	if err != nil {
		return err
	}
	client, err := clients.ForEnv(ctx, env)
	if err != nil {
		return err
	}

	for i, u := range CandidateURLs(module, env.Environment, clusterRow.IngressConfig) {
		if _, err := client.UpsertIngress(ctx, wlapp.Namespace, ingressForURL(wlapp, u, i)); err != nil {
			return err
		}
	}
	return nil
}
