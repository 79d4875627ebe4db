// Package builder drives one BuildProcess to termination.
//
// The executor owns a builder pod end to end: launch, log streaming,
// outcome, cleanup. Interrupts arrive out of band as a timestamp on the
// BuildProcess row and are honoured at the next streamed log line.
package builder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/bkpaas/apcp/pkg/cluster"
	"github.com/bkpaas/apcp/pkg/cluster/k8s"
	"github.com/bkpaas/apcp/pkg/cluster/mapper"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	builddb "github.com/bkpaas/apcp/pkg/domain/build/db"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	"github.com/bkpaas/apcp/pkg/utils/retry"
)

const (
	// DefaultWaitForReadinessTimeout bounds stage 4 (logs become tailable).
	DefaultWaitForReadinessTimeout = 300 * time.Second

	// DefaultFollowingLogsTimeout is the hard cap on log streaming.
	DefaultFollowingLogsTimeout = 300 * time.Second

	// waitForSuccessTimeout bounds the post-stream phase poll.
	waitForSuccessTimeout = 60 * time.Second

	// maxLogLine caps one streamed log line.
	maxLogLine = 1024 * 1024
)

// ErrInterrupted : the build was stopped by an interrupt request.
var ErrInterrupted = errors.New("build interrupted")

// Metadata is what the caller knows about the source being built.
type Metadata struct {
	Branch   string
	Revision string

	// Procfile is persisted on the Build when the run succeeds.
	Procfile map[string]string

	// EnvVars are build-time vars assembled by external collaborators.
	EnvVars map[string]string
}

type Executor struct {
	builds  builddb.Interface
	apps    appdb.Interface
	clients cluster.Clients

	builderImage string
	pipIndexURL  string
	slugPrefix   string
	schedule     Schedule

	// extraEnv contributes computed vars, e.g. preallocated URLs.
	extraEnv func(ctx context.Context, wlapp domain.WlApp) (map[string]string, error)

	// pullSecret, when set, is ensured in the namespace before launch.
	pullSecretName string
	pullSecretData []byte

	readinessTimeout time.Duration
	logsTimeout      time.Duration

	logger *log.Logger
}

type Option func(*Executor)

func WithBuilderImage(image string) Option {
	return func(e *Executor) { e.builderImage = image }
}

func WithPipIndexURL(url string) Option {
	return func(e *Executor) { e.pipIndexURL = url }
}

func WithSlugPrefix(prefix string) Option {
	return func(e *Executor) { e.slugPrefix = prefix }
}

func WithSchedule(s Schedule) Option {
	return func(e *Executor) { e.schedule = s }
}

func WithExtraEnv(f func(ctx context.Context, wlapp domain.WlApp) (map[string]string, error)) Option {
	return func(e *Executor) { e.extraEnv = f }
}

func WithImagePullSecret(name string, dockerconfigjson []byte) Option {
	return func(e *Executor) {
		e.pullSecretName = name
		e.pullSecretData = dockerconfigjson
	}
}

func WithTimeouts(readiness, logs time.Duration) Option {
	return func(e *Executor) {
		e.readinessTimeout = readiness
		e.logsTimeout = logs
	}
}

func WithLogger(l *log.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func New(builds builddb.Interface, apps appdb.Interface, clients cluster.Clients, opts ...Option) *Executor {
	e := &Executor{
		builds:           builds,
		apps:             apps,
		clients:          clients,
		builderImage:     "bkpaas/slug-builder:latest",
		slugPrefix:       "home/slug",
		readinessTimeout: DefaultWaitForReadinessTimeout,
		logsTimeout:      DefaultFollowingLogsTimeout,
		logger:           log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the whole pipeline for one BuildProcess and records its
// outcome. sink receives titled stage messages and the builder's log
// lines. The returned Build is zero unless the run succeeded.
func (e *Executor) Execute(ctx context.Context, buildProcessId string, sink io.Writer, meta Metadata) (domain.Build, error) {
	bp, err := e.builds.GetBuildProcess(ctx, buildProcessId)
	if err != nil {
		return domain.Build{}, err
	}
	if bp.Status.Terminal() {
		return domain.Build{}, kerr.Wrap(kerr.ErrConflict, "build process %s is already %s", bp.Id, bp.Status)
	}

	build, err := e.run(ctx, bp, sink, meta)
	switch {
	case err == nil:
		return build, nil
	case errors.Is(err, ErrInterrupted):
		if serr := e.builds.SetStatus(ctx, bp.Id, domain.StatusInterrupted, ""); serr != nil {
			e.logger.Printf("build %s: recording interrupt: %s", bp.Id, serr)
		}
		return domain.Build{}, err
	default:
		if serr := e.builds.SetStatus(ctx, bp.Id, domain.StatusFailed, firstLine(err.Error())); serr != nil {
			e.logger.Printf("build %s: recording failure: %s", bp.Id, serr)
		}
		return domain.Build{}, err
	}
}

func (e *Executor) run(ctx context.Context, bp domain.BuildProcess, sink io.Writer, meta Metadata) (domain.Build, error) {
	// 1. prepare
	stage(sink, "Preparing build environment")
	wlapp, err := e.apps.GetWlApp(ctx, bp.WlAppName)
	if err != nil {
		return domain.Build{}, err
	}
	env, err := e.apps.GetEnv(ctx, wlapp.AppCode, wlapp.ModuleName, wlapp.Environment)
	if err != nil {
		return domain.Build{}, err
	}
	client, err := e.clients.ForEnv(ctx, env)
	if err != nil {
		return domain.Build{}, err
	}

	// 2. compose env
	stage(sink, "Composing build variables")
	envs, err := e.composeEnv(ctx, wlapp, bp, meta)
	if err != nil {
		return domain.Build{}, err
	}

	// 3. launch builder pod
	stage(sink, "Launching builder")
	pod, err := e.launch(ctx, client, wlapp, envs)
	if err != nil {
		return domain.Build{}, err
	}
	defer e.cleanup(client, wlapp, pod.Name)

	// 4. wait for log readiness
	stage(sink, "Waiting for builder to start")
	if err := e.waitReadable(ctx, client, wlapp, pod.Name); err != nil {
		return domain.Build{}, err
	}

	// 5. stream logs, observing interrupts per line
	stage(sink, "Building")
	if err := e.streamLogs(ctx, client, wlapp, bp.Id, pod.Name, sink); err != nil {
		return domain.Build{}, err
	}

	// 6. wait for success
	stage(sink, "Checking build result")
	if err := e.waitSucceeded(ctx, client, wlapp, pod.Name); err != nil {
		return domain.Build{}, err
	}

	// 7. persist Build and bind, in one tx
	stage(sink, "Saving artifact")
	build, err := e.builds.Finalize(ctx, bp.Id, domain.Build{
		WlAppName:    wlapp.Name,
		ArtifactType: domain.ArtifactSlug,
		SlugPath:     e.slugPathOf(wlapp, bp),
		Branch:       meta.Branch,
		Revision:     meta.Revision,
		Procfile:     meta.Procfile,
		EnvVars:      meta.EnvVars,
	})
	if err != nil {
		return domain.Build{}, err
	}
	stage(sink, "Build succeeded")
	return build, nil
	// 8. cleanup runs deferred, unconditionally
}

func (e *Executor) composeEnv(ctx context.Context, wlapp domain.WlApp, bp domain.BuildProcess, meta Metadata) (map[string]string, error) {
	envs := map[string]string{
		"BKPAAS_APP_ID":      wlapp.AppCode,
		"BKPAAS_APP_MODULE":  wlapp.ModuleName,
		"BKPAAS_ENVIRONMENT": string(wlapp.Environment),
		"SLUG_SET":           e.slugPathOf(wlapp, bp),
	}
	if e.pipIndexURL != "" {
		envs["PIP_INDEX_URL"] = e.pipIndexURL
	}
	if e.extraEnv != nil {
		extra, err := e.extraEnv(ctx, wlapp)
		if err != nil {
			return nil, err
		}
		for k, v := range extra {
			envs[k] = v
		}
	}
	for k, v := range meta.EnvVars {
		envs[k] = v
	}
	return envs, nil
}

func (e *Executor) launch(ctx context.Context, client k8s.K8sClient, wlapp domain.WlApp, envs map[string]string) (*kubecore.Pod, error) {
	if err := client.EnsureNamespace(ctx, wlapp.Namespace); err != nil {
		return nil, err
	}
	if e.pullSecretName != "" {
		if err := e.ensurePullSecret(ctx, client, wlapp.Namespace); err != nil {
			return nil, err
		}
	}

	name := mapper.BuilderPodName(wlapp)
	if old, err := client.GetPod(ctx, wlapp.Namespace, name); err == nil {
		switch old.Status.Phase {
		case kubecore.PodSucceeded, kubecore.PodFailed:
			if err := client.DeletePod(ctx, wlapp.Namespace, name); err != nil && !k8s.IsNotFound(err) {
				return nil, err
			}
		default:
			busyUntil := time.Now().Add(e.readinessTimeout + e.logsTimeout + waitForSuccessTimeout)
			if old.Status.StartTime != nil {
				busyUntil = old.Status.StartTime.Add(e.readinessTimeout + e.logsTimeout + waitForSuccessTimeout)
			}
			return nil, kerr.Wrap(
				kerr.ErrConflict,
				"builder pod %s is busy until %s", name, busyUntil.Format(time.RFC3339),
			)
		}
	} else if !k8s.IsNotFound(err) {
		return nil, err
	}

	return client.CreatePod(ctx, wlapp.Namespace, podFor(wlapp, SlugBuilderTemplate{
		Image:    e.builderImage,
		Envs:     envs,
		Schedule: e.schedule,
	}))
}

func (e *Executor) ensurePullSecret(ctx context.Context, client k8s.K8sClient, namespace string) error {
	_, err := client.UpsertSecret(ctx, namespace, &kubecore.Secret{
		ObjectMeta: kubeapimeta.ObjectMeta{Name: e.pullSecretName, Namespace: namespace},
		Type:       kubecore.SecretTypeDockerConfigJson,
		Data: map[string][]byte{
			kubecore.DockerConfigJsonKey: e.pullSecretData,
		},
	})
	return err
}

// waitReadable blocks until the pod's logs can be tailed.
func (e *Executor) waitReadable(ctx context.Context, client k8s.K8sClient, wlapp domain.WlApp, podName string) error {
	wctx, cancel := context.WithTimeout(ctx, e.readinessTimeout)
	defer cancel()

	_, err := retry.Blocking(wctx, retry.StaticBackoff(1*time.Second), func() (struct{}, error) {
		pod, err := client.GetPod(wctx, wlapp.Namespace, podName)
		if err != nil {
			return struct{}{}, err
		}
		switch pod.Status.Phase {
		case kubecore.PodRunning, kubecore.PodSucceeded, kubecore.PodFailed:
			return struct{}{}, nil
		}
		return struct{}{}, retry.ErrRetry
	})
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return kerr.Wrap(kerr.ErrDeadlineExceeded, "builder %s did not become readable in %s", podName, e.readinessTimeout)
	}
	return err
}

// streamLogs copies the builder's log to sink line by line. After each
// line the BuildProcess row is reloaded; a set interrupt_requested_at
// stops the stream with ErrInterrupted.
func (e *Executor) streamLogs(ctx context.Context, client k8s.K8sClient, wlapp domain.WlApp, buildProcessId string, podName string, sink io.Writer) error {
	sctx, cancel := context.WithTimeout(ctx, e.logsTimeout)
	defer cancel()

	stream, err := client.Log(sctx, wlapp.Namespace, podName, "slug-builder", true)
	if err != nil {
		return err
	}
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	// builder output can carry very long lines (asset pipelines, pip
	// progress); the default 64 KiB token cap would abort the stream.
	scanner.Buffer(make([]byte, 64*1024), maxLogLine)
	for scanner.Scan() {
		fmt.Fprintln(sink, scanner.Text())

		bp, err := e.builds.GetBuildProcess(ctx, buildProcessId)
		if err != nil {
			return err
		}
		if bp.InterruptRequestedAt != nil {
			return ErrInterrupted
		}
	}
	if err := scanner.Err(); err != nil && sctx.Err() == nil {
		return err
	}
	return nil
}

func (e *Executor) waitSucceeded(ctx context.Context, client k8s.K8sClient, wlapp domain.WlApp, podName string) error {
	wctx, cancel := context.WithTimeout(ctx, waitForSuccessTimeout)
	defer cancel()

	phase, err := retry.Blocking(wctx, retry.StaticBackoff(1*time.Second), func() (kubecore.PodPhase, error) {
		pod, err := client.GetPod(wctx, wlapp.Namespace, podName)
		if err != nil {
			return "", err
		}
		switch pod.Status.Phase {
		case kubecore.PodSucceeded, kubecore.PodFailed:
			return pod.Status.Phase, nil
		}
		return pod.Status.Phase, retry.ErrRetry
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return kerr.Wrap(kerr.ErrDeadlineExceeded, "builder %s did not terminate in %s", podName, waitForSuccessTimeout)
		}
		return err
	}
	if phase != kubecore.PodSucceeded {
		return fmt.Errorf("builder pod %s ended with phase %s", podName, phase)
	}
	return nil
}

// cleanup always deletes the builder pod. Failures are logged only;
// cleanup never changes the outcome of the run.
func (e *Executor) cleanup(client k8s.K8sClient, wlapp domain.WlApp, podName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.DeletePod(ctx, wlapp.Namespace, podName); err != nil && !k8s.IsNotFound(err) {
		e.logger.Printf("cleanup: deleting builder pod %s/%s: %s", wlapp.Namespace, podName, err)
	}
}

// Interrupt requests the running build to stop. Idempotent; interrupting
// a terminal BuildProcess is a no-op.
func (e *Executor) Interrupt(ctx context.Context, buildProcessId string) error {
	return e.builds.RequestInterrupt(ctx, buildProcessId, time.Now())
}

func (e *Executor) slugPathOf(wlapp domain.WlApp, bp domain.BuildProcess) string {
	return fmt.Sprintf("%s/%s/%s", e.slugPrefix, wlapp.Name, bp.Id)
}

func stage(sink io.Writer, title string) {
	fmt.Fprintf(sink, "-----> %s\n", title)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); 0 <= i {
		return s[:i]
	}
	return s
}
