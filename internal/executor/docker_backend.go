package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerBackend runs one command per call inside a fresh, locked-down
// container, rather than the ghostpool warm-container pool the teacher
// used for long-lived agent sandboxes: a broker command is a single
// isolated invocation, so there is nothing to keep warm between calls.
// Selected when BOUNCER_EXECUTOR_IMAGE is set; the host backend remains
// the default.
type DockerBackend struct {
	api   *client.Client
	image string
}

// NewDockerBackend connects to the local Docker daemon via the standard
// DOCKER_HOST/TLS environment, matching the teacher's client construction.
func NewDockerBackend(image string) (*DockerBackend, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker backend: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := api.Ping(pingCtx); err != nil {
		_ = api.Close()
		return nil, fmt.Errorf("docker backend: daemon unreachable: %w", err)
	}
	if image == "" {
		image = "amazon/aws-cli:latest"
	}
	return &DockerBackend{api: api, image: image}, nil
}

func (b *DockerBackend) Close() error {
	if b == nil || b.api == nil {
		return nil
	}
	return b.api.Close()
}

// Run creates a non-privileged, read-only-rootfs, memory- and CPU-capped
// container on the default bridge network (outbound network access is not
// restricted) for exactly one invocation of argv, with env injected as the
// container's environment (never the broker process's own), waits up to
// timeout, collects combined output, and removes the container
// unconditionally.
func (b *DockerBackend) Run(ctx context.Context, argv []string, env map[string]string, timeout time.Duration) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("executor: empty argv")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg := &dockercontainer.Config{
		Image:      b.image,
		Cmd:        argv,
		Env:        envSlice(env),
		Tty:        false,
		StopSignal: "SIGKILL",
	}
	hostCfg := &dockercontainer.HostConfig{
		AutoRemove:     false, // removed explicitly below so exit inspection always runs first
		ReadonlyRootfs: true,
		NetworkMode:    "bridge",
		Resources: dockercontainer.Resources{
			Memory:   256 << 20,
			NanoCPUs: 1_000_000_000,
		},
	}

	created, err := b.api.ContainerCreate(runCtx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("executor: create sandbox container: %w", err)
	}
	defer func() {
		_ = b.api.ContainerRemove(context.Background(), created.ID, dockercontainer.RemoveOptions{Force: true})
	}()

	if err := b.api.ContainerStart(runCtx, created.ID, dockercontainer.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("executor: start sandbox container: %w", err)
	}

	statusCh, errCh := b.api.ContainerWait(runCtx, created.ID, dockercontainer.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if runCtx.Err() == context.DeadlineExceeded {
			return Result{TimedOut: true, ExitCode: -1, Output: "(command killed after exceeding the execution timeout)"}, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("executor: wait sandbox container: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	output, err := b.collectOutput(context.Background(), created.ID)
	if err != nil {
		return Result{}, fmt.Errorf("executor: collect sandbox output: %w", err)
	}
	return Result{ExitCode: exitCode, Output: normalizeOutput(output)}, nil
}

func (b *DockerBackend) collectOutput(ctx context.Context, containerID string) (string, error) {
	reader, err := b.api.ContainerLogs(ctx, containerID, dockercontainer.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var buf bytes.Buffer
	limited := &boundedWriter{buf: &buf, limit: MaxOutputBytes}
	if _, err := stdcopy.StdCopy(limited, limited, reader); err != nil && err != io.EOF {
		_, _ = io.Copy(limited, reader)
	}
	return buf.String(), nil
}

var _ Backend = (*DockerBackend)(nil)
