// Command certrefresh pushes a shared TLS cert into the Secret of every
// namespace whose domains the cert serves.
//
// Exit codes: 0 on success, 2 when aborted by the operator or when the
// cert does not exist.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"

	apcp "github.com/bkpaas/apcp/pkg"
	"github.com/bkpaas/apcp/pkg/cluster/k8s"
	"github.com/bkpaas/apcp/pkg/configs"
	kpool "github.com/bkpaas/apcp/pkg/conn/pool"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	"github.com/bkpaas/apcp/pkg/entrance"
	"github.com/bkpaas/apcp/pkg/utils/try"
)

func main() {
	logger := log.Default()

	pconfig := flag.String("config", os.Getenv("APCP_CONFIG"), "path to config file")
	tenantId := flag.String("tenant_id", "", "tenant owning the cert")
	name := flag.String("name", "", "shared cert name")
	fullScan := flag.Bool("full-scan", false, "also refresh namespaces already holding the secret")
	dryRun := flag.Bool("dry-run", false, "enumerate affected apps without mutating")
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
	flag.Parse()

	if *tenantId == "" || *name == "" {
		fmt.Fprintln(os.Stderr, "both --tenant_id and --name are required")
		os.Exit(2)
	}

	ctx := context.Background()
	conf := try.To(configs.Load(*pconfig)).OrFatal(logger)
	pool := try.To(kpool.New(ctx, conf.DB.URI)).OrFatal(logger)
	defer pool.Close()
	rt := try.To(apcp.Attach(ctx, conf, pool, logger)).OrFatal(logger)

	refresher := entrance.NewCertRefresher(rt.Entrances, rt.Apps, rt.Clients)

	preview, err := refresher.Refresh(ctx, *tenantId, *name, true)
	if err != nil {
		if errors.Is(err, kerr.ErrMissing) {
			fmt.Fprintf(os.Stderr, "shared cert %s not found for tenant %s\n", *name, *tenantId)
			os.Exit(2)
		}
		logger.Fatal(err)
	}

	fmt.Printf("cert %s serves %d app(s):\n", *name, len(preview.WlAppNames))
	for _, wlappName := range preview.WlAppNames {
		fmt.Printf("  - %s\n", wlappName)
	}
	if *dryRun {
		fmt.Println("dry run, nothing mutated")
		return
	}

	if !*yes && !confirm(fmt.Sprintf("refresh %d app(s)?", len(preview.WlAppNames))) {
		fmt.Println("aborted")
		os.Exit(2)
	}

	result := try.To(refresher.Refresh(ctx, *tenantId, *name, false)).OrFatal(logger)
	fmt.Printf("refreshed %d app(s)\n", len(result.WlAppNames))

	if *fullScan {
		refreshed := try.To(refreshHolders(ctx, rt, *tenantId, *name)).OrFatal(logger)
		fmt.Printf("full scan refreshed %d more namespace(s)\n", refreshed)
	}
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

// refreshHolders rewrites the secret in every namespace that already
// holds one, catching apps whose domains no longer match the cert but
// whose Ingresses still reference it.
func refreshHolders(ctx context.Context, rt *apcp.Runtime, tenantId string, name string) (int, error) {
	cert, err := rt.Entrances.GetSharedCert(ctx, tenantId, name)
	if err != nil {
		return 0, err
	}
	if err := entrance.ValidateCert(cert.CertData, cert.KeyData); err != nil {
		return 0, err
	}

	apps, err := rt.Apps.ListApplications(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, app := range apps {
		if app.TenantId != tenantId {
			continue
		}
		envs, err := rt.Apps.ListEnvs(ctx, app.Code)
		if err != nil {
			return refreshed, err
		}
		for _, env := range envs {
			wlapp, err := rt.Apps.GetWlApp(ctx, env.WlAppName)
			if err != nil {
				return refreshed, err
			}
			client, err := rt.Clients.ForEnv(ctx, env)
			if err != nil {
				return refreshed, err
			}

			secretName := entrance.TLSSecretName(cert.Name)
			if _, err := client.GetSecret(ctx, wlapp.Namespace, secretName); err != nil {
				if k8s.IsNotFound(err) {
					continue
				}
				return refreshed, err
			}
			_, err = client.UpsertSecret(ctx, wlapp.Namespace, &kubecore.Secret{
				ObjectMeta: kubeapimeta.ObjectMeta{
					Name:      secretName,
					Namespace: wlapp.Namespace,
				},
				Type: kubecore.SecretTypeTLS,
				Data: map[string][]byte{
					kubecore.TLSCertKey:       cert.CertData,
					kubecore.TLSPrivateKeyKey: cert.KeyData,
				},
			})
			if err != nil {
				return refreshed, err
			}
			refreshed += 1
		}
	}
	return refreshed, nil
}
