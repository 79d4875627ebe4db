// Package k8s wraps the clientset behind a flat interface.
// Handlers and controllers depend on this, never on kubernetes.Interface,
// so tests can substitute the fake clientset at one seam.
package k8s

import (
	"context"
	"io"

	kubeapps "k8s.io/api/apps/v1"
	kubecore "k8s.io/api/core/v1"
	kubenet "k8s.io/api/networking/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	kubelabels "k8s.io/apimachinery/pkg/labels"
	kubewatch "k8s.io/apimachinery/pkg/watch"
	kubernetes "k8s.io/client-go/kubernetes"
)

// subset of kubernetes.Interface
type K8sClient interface {
	GetDeployment(ctx context.Context, namespace string, name string) (*kubeapps.Deployment, error)
	UpsertDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error)
	DeleteDeployment(ctx context.Context, namespace string, name string) error
	FindDeployments(ctx context.Context, namespace string, selector map[string]string) ([]kubeapps.Deployment, error)
	WatchDeployments(ctx context.Context, namespace string, selector map[string]string, resourceVersion string) (kubewatch.Interface, error)

	GetService(ctx context.Context, namespace string, name string) (*kubecore.Service, error)
	UpsertService(ctx context.Context, namespace string, svc *kubecore.Service) (*kubecore.Service, error)
	DeleteService(ctx context.Context, namespace string, name string) error
	FindServices(ctx context.Context, namespace string, selector map[string]string) ([]kubecore.Service, error)

	GetIngress(ctx context.Context, namespace string, name string) (*kubenet.Ingress, error)
	UpsertIngress(ctx context.Context, namespace string, ing *kubenet.Ingress) (*kubenet.Ingress, error)
	DeleteIngress(ctx context.Context, namespace string, name string) error
	FindIngresses(ctx context.Context, namespace string, selector map[string]string) ([]kubenet.Ingress, error)

	GetSecret(ctx context.Context, namespace string, name string) (*kubecore.Secret, error)
	UpsertSecret(ctx context.Context, namespace string, sec *kubecore.Secret) (*kubecore.Secret, error)
	DeleteSecret(ctx context.Context, namespace string, name string) error

	EnsureNamespace(ctx context.Context, name string) error
	DeleteNamespace(ctx context.Context, name string) error

	CreatePod(ctx context.Context, namespace string, pod *kubecore.Pod) (*kubecore.Pod, error)
	GetPod(ctx context.Context, namespace string, name string) (*kubecore.Pod, error)
	DeletePod(ctx context.Context, namespace string, name string) error
	FindPods(ctx context.Context, namespace string, selector map[string]string) ([]kubecore.Pod, error)
	WatchPods(ctx context.Context, namespace string, selector map[string]string, resourceVersion string) (kubewatch.Interface, error)

	// Log streams container logs. follow=true keeps the stream open until
	// the container terminates or ctx is cancelled.
	Log(ctx context.Context, namespace string, podname string, container string, follow bool) (io.ReadCloser, error)
}

type k8sClient struct {
	client kubernetes.Interface
}

// type check: k8sClient implements K8sClient
var _ K8sClient = &k8sClient{}

func Wrap(c kubernetes.Interface) K8sClient {
	return &k8sClient{client: c}
}

func selectorString(selector map[string]string) string {
	return kubelabels.Set(selector).String()
}

func (k *k8sClient) GetDeployment(ctx context.Context, namespace string, name string) (*kubeapps.Deployment, error) {
	ctx, cancel := bound(ctx)
	defer cancel()
	return k.client.AppsV1().Deployments(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) UpsertDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error) {
	ctx, cancel := bound(ctx)
	defer cancel()
	created, err := k.client.AppsV1().Deployments(namespace).Create(ctx, depl, kubeapimeta.CreateOptions{})
	if err == nil {
		return created, nil
	}
	if !kubeerr.IsAlreadyExists(err) {
		return nil, err
	}
	current, err := k.client.AppsV1().Deployments(namespace).Get(ctx, depl.Name, kubeapimeta.GetOptions{})
	if err != nil {
		return nil, err
	}
	depl.ResourceVersion = current.ResourceVersion
	return k.client.AppsV1().Deployments(namespace).Update(ctx, depl, kubeapimeta.UpdateOptions{})
}

func (k *k8sClient) DeleteDeployment(ctx context.Context, namespace string, name string) error {
	ctx, cancel := bound(ctx)
	defer cancel()
	return k.client.AppsV1().Deployments(namespace).Delete(ctx, name, *kubeapimeta.NewDeleteOptions(0))
}

func (k *k8sClient) FindDeployments(ctx context.Context, namespace string, selector map[string]string) ([]kubeapps.Deployment, error) {
	ctx, cancel := bound(ctx)
	defer cancel()
	resp, err := k.client.AppsV1().Deployments(namespace).List(ctx, kubeapimeta.ListOptions{
		LabelSelector: selectorString(selector),
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (k *k8sClient) WatchDeployments(ctx context.Context, namespace string, selector map[string]string, resourceVersion string) (kubewatch.Interface, error) {
	return k.client.AppsV1().Deployments(namespace).Watch(ctx, kubeapimeta.ListOptions{
		LabelSelector:   selectorString(selector),
		ResourceVersion: resourceVersion,
	})
}

func (k *k8sClient) GetService(ctx context.Context, namespace string, name string) (*kubecore.Service, error) {
	ctx, cancel := bound(ctx)
	defer cancel()
	return k.client.CoreV1().Services(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) UpsertService(ctx context.Context, namespace string, svc *kubecore.Service) (*kubecore.Service, error) {
	ctx, cancel := bound(ctx)
	defer cancel()
	created, err := k.client.CoreV1().Services(namespace).Create(ctx, svc, kubeapimeta.CreateOptions{})
	if err == nil {
		return created, nil
	}
	if !kubeerr.IsAlreadyExists(err) {
		return nil, err
	}
	current, err := k.client.CoreV1().Services(namespace).Get(ctx, svc.Name, kubeapimeta.GetOptions{})
	if err != nil {
		return nil, err
	}
	// ClusterIP is immutable; carry it over on update.
	svc.ResourceVersion = current.ResourceVersion
	svc.Spec.ClusterIP = current.Spec.ClusterIP
	return k.client.CoreV1().Services(namespace).Update(ctx, svc, kubeapimeta.UpdateOptions{})
}

func (k *k8sClient) DeleteService(ctx context.Context, namespace string, name string) error {
	ctx, cancel := bound(ctx)
	defer cancel()
	return k.client.CoreV1().Services(namespace).Delete(ctx, name, *kubeapimeta.NewDeleteOptions(0))
}

func (k *k8sClient) FindServices(ctx context.Context, namespace string, selector map[string]string) ([]kubecore.Service, error) {
	ctx, cancel := bound(ctx)
	defer cancel()
	resp, err := k.client.CoreV1().Services(namespace).List(ctx, kubeapimeta.ListOptions{
		LabelSelector: selectorString(selector),
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (k *k8sClient) GetIngress(ctx context.Context, namespace string, name string) (*kubenet.Ingress, error) {
	ctx, cancel := bound(ctx)
	defer cancel()
	return k.client.NetworkingV1().Ingresses(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) UpsertIngress(ctx context.Context, namespace string, ing *kubenet.Ingress) (*kubenet.Ingress, error) {
	ctx, cancel := bound(ctx)
	defer cancel()
	created, err := k.client.NetworkingV1().Ingresses(namespace).Create(ctx, ing, kubeapimeta.CreateOptions{})
	if err == nil {
		return created, nil
	}
	if !kubeerr.IsAlreadyExists(err) {
		return nil, err
	}
	current, err := k.client.NetworkingV1().Ingresses(namespace).Get(ctx, ing.Name, kubeapimeta.GetOptions{})
	if err != nil {
		return nil, err
	}
	ing.ResourceVersion = current.ResourceVersion
	return k.client.NetworkingV1().Ingresses(namespace).Update(ctx, ing, kubeapimeta.UpdateOptions{})
}

func (k *k8sClient) DeleteIngress(ctx context.Context, namespace string, name string) error {
	ctx, cancel := bound(ctx)
	defer cancel()
	return k.client.NetworkingV1().Ingresses(namespace).Delete(ctx, name, *kubeapimeta.NewDeleteOptions(0))
}

func (k *k8sClient) FindIngresses(ctx context.Context, namespace string, selector map[string]string) ([]kubenet.Ingress, error) {
	ctx, cancel := bound(ctx)
	defer cancel()
	resp, err := k.client.NetworkingV1().Ingresses(namespace).List(ctx, kubeapimeta.ListOptions{
		LabelSelector: selectorString(selector),
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (k *k8sClient) GetSecret(ctx context.Context, namespace string, name string) (*kubecore.Secret, error) {
	ctx, cancel := bound(ctx)
	defer cancel()
	return k.client.CoreV1().Secrets(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) UpsertSecret(ctx context.Context, namespace string, sec *kubecore.Secret) (*kubecore.Secret, error) {
	ctx, cancel := bound(ctx)
	defer cancel()
	created, err := k.client.CoreV1().Secrets(namespace).Create(ctx, sec, kubeapimeta.CreateOptions{})
	if err == nil {
		return created, nil
	}
	if !kubeerr.IsAlreadyExists(err) {
		return nil, err
	}
	current, err := k.client.CoreV1().Secrets(namespace).Get(ctx, sec.Name, kubeapimeta.GetOptions{})
	if err != nil {
		return nil, err
	}
	sec.ResourceVersion = current.ResourceVersion
	return k.client.CoreV1().Secrets(namespace).Update(ctx, sec, kubeapimeta.UpdateOptions{})
}

func (k *k8sClient) DeleteSecret(ctx context.Context, namespace string, name string) error {
	ctx, cancel := bound(ctx)
	defer cancel()
	return k.client.CoreV1().Secrets(namespace).Delete(ctx, name, *kubeapimeta.NewDeleteOptions(0))
}

func (k *k8sClient) EnsureNamespace(ctx context.Context, name string) error {
	ctx, cancel := bound(ctx)
	defer cancel()
	_, err := k.client.CoreV1().Namespaces().Create(ctx, &kubecore.Namespace{
		ObjectMeta: kubeapimeta.ObjectMeta{Name: name},
	}, kubeapimeta.CreateOptions{})
	if kubeerr.IsAlreadyExists(err) {
		return nil
	}
	return err
}

func (k *k8sClient) DeleteNamespace(ctx context.Context, name string) error {
	ctx, cancel := bound(ctx)
	defer cancel()
	err := k.client.CoreV1().Namespaces().Delete(ctx, name, kubeapimeta.DeleteOptions{})
	if kubeerr.IsNotFound(err) {
		return nil
	}
	return err
}

func (k *k8sClient) CreatePod(ctx context.Context, namespace string, pod *kubecore.Pod) (*kubecore.Pod, error) {
	ctx, cancel := bound(ctx)
	defer cancel()
	return k.client.CoreV1().Pods(namespace).Create(ctx, pod, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) GetPod(ctx context.Context, namespace string, name string) (*kubecore.Pod, error) {
	ctx, cancel := bound(ctx)
	defer cancel()
	return k.client.CoreV1().Pods(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) DeletePod(ctx context.Context, namespace string, name string) error {
	ctx, cancel := bound(ctx)
	defer cancel()
	return k.client.CoreV1().Pods(namespace).Delete(ctx, name, *kubeapimeta.NewDeleteOptions(0))
}

func (k *k8sClient) FindPods(ctx context.Context, namespace string, selector map[string]string) ([]kubecore.Pod, error) {
	ctx, cancel := bound(ctx)
	defer cancel()
	resp, err := k.client.CoreV1().Pods(namespace).List(ctx, kubeapimeta.ListOptions{
		LabelSelector: selectorString(selector),
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (k *k8sClient) WatchPods(ctx context.Context, namespace string, selector map[string]string, resourceVersion string) (kubewatch.Interface, error) {
	return k.client.CoreV1().Pods(namespace).Watch(ctx, kubeapimeta.ListOptions{
		LabelSelector:   selectorString(selector),
		ResourceVersion: resourceVersion,
	})
}

func (k *k8sClient) Log(ctx context.Context, namespace string, podname string, container string, follow bool) (io.ReadCloser, error) {
	return k.client.
		CoreV1().
		Pods(namespace).
		GetLogs(podname, &kubecore.PodLogOptions{Container: container, Follow: follow}).
		Stream(ctx)
}

// IsNotFound reports whether err is the apiserver's 404.
// Re-exported so callers need not import apimachinery's errors package.
func IsNotFound(err error) bool {
	return kubeerr.IsNotFound(err)
}
