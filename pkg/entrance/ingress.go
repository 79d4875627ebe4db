package entrance

import (
	"fmt"

	kubenet "k8s.io/api/networking/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/bkpaas/apcp/pkg/cluster/mapper"
	"github.com/bkpaas/apcp/pkg/domain"
)

const (
	// defaultBackendProcess receives entrance traffic.
	defaultBackendProcess = "web"

	servicePort = 80
)

// TLSSecretName is the per-namespace Secret populated from a shared cert.
func TLSSecretName(certName string) string {
	return fmt.Sprintf("eng-shared-cert-%s", certName)
}

// ingressName derives a deterministic, DNS-safe Ingress name from a
// custom domain id.
func ingressName(domainId string) string {
	return "custom-" + domainId
}

// ingressForDomain renders the Ingress of one custom domain.
func ingressForDomain(wlapp domain.WlApp, d domain.AppDomain, annotations map[string]string) *kubenet.Ingress {
	pathType := kubenet.PathTypePrefix
	svc := mapper.ServiceName(wlapp, defaultBackendProcess)

	ing := &kubenet.Ingress{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:        ingressName(d.Id),
			Namespace:   wlapp.Namespace,
			Labels:      mapper.EnvSelector(wlapp),
			Annotations: annotations,
		},
		Spec: kubenet.IngressSpec{
			Rules: []kubenet.IngressRule{
				{
					Host: d.Host,
					IngressRuleValue: kubenet.IngressRuleValue{
						HTTP: &kubenet.HTTPIngressRuleValue{
							Paths: []kubenet.HTTPIngressPath{
								{
									Path:     d.PathPrefix,
									PathType: &pathType,
									Backend: kubenet.IngressBackend{
										Service: &kubenet.IngressServiceBackend{
											Name: svc,
											Port: kubenet.ServiceBackendPort{Number: servicePort},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
	if d.HTTPSEnabled && d.SharedCertName != "" {
		ing.Spec.TLS = []kubenet.IngressTLS{
			{
				Hosts:      []string{d.Host},
				SecretName: TLSSecretName(d.SharedCertName),
			},
		}
	}
	return ing
}

// ingressForURL renders the Ingress of one platform-allocated address.
func ingressForURL(wlapp domain.WlApp, u URL, index int) *kubenet.Ingress {
	pathType := kubenet.PathTypePrefix
	svc := mapper.ServiceName(wlapp, defaultBackendProcess)

	return &kubenet.Ingress{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:      fmt.Sprintf("%s-entrance-%d", wlapp.Name, index),
			Namespace: wlapp.Namespace,
			Labels:    mapper.EnvSelector(wlapp),
		},
		Spec: kubenet.IngressSpec{
			Rules: []kubenet.IngressRule{
				{
					Host: u.Host,
					IngressRuleValue: kubenet.IngressRuleValue{
						HTTP: &kubenet.HTTPIngressRuleValue{
							Paths: []kubenet.HTTPIngressPath{
								{
									Path:     u.Path,
									PathType: &pathType,
									Backend: kubenet.IngressBackend{
										Service: &kubenet.IngressServiceBackend{
											Name: svc,
											Port: kubenet.ServiceBackendPort{Number: servicePort},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}
