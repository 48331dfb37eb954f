package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// DockerConfig configures the Docker-backed Provider.
type DockerConfig struct {
	Image       string
	MemoryMB    int64
	NetworkMode string
	WorkspaceRoot string // parent directory under which per-chat workspaces are bind-mounted
}

func (c DockerConfig) withDefaults() DockerConfig {
	if c.Image == "" {
		c.Image = "golang:alpine"
	}
	if c.MemoryMB <= 0 {
		c.MemoryMB = 512
	}
	if c.NetworkMode == "" {
		c.NetworkMode = "none"
	}
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = filepath.Join(os.TempDir(), "chatstreamd-sandboxes")
	}
	return c
}

// DockerProvider is a Provider backed by ephemeral Docker containers, one
// per sandbox instance, each bind-mounting a dedicated workspace directory.
type DockerProvider struct {
	client client.APIClient
	cfg    DockerConfig
}

// NewDockerProvider dials the local Docker daemon via the standard
// environment-derived client (DOCKER_HOST etc.), negotiating the API
// version against the daemon.
func NewDockerProvider(cfg DockerConfig) (*DockerProvider, error) {
	cfg = cfg.withDefaults()
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create workspace root: %w", err)
	}
	return &DockerProvider{client: cli, cfg: cfg}, nil
}

func (p *DockerProvider) workspaceFor(chatID string) string {
	return filepath.Join(p.cfg.WorkspaceRoot, chatID)
}

// Create provisions a persistent workspace directory and a long-lived
// sleeping container bound to it, so the orchestrator can later exec into
// the same container across multiple stream turns for a chat.
func (p *DockerProvider) Create(ctx context.Context, chatID string) (Instance, error) {
	workspace := p.workspaceFor(chatID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return Instance{}, fmt.Errorf("sandbox: create workspace: %w", err)
	}

	resp, err := p.client.ContainerCreate(ctx, &container.Config{
		Image:      p.cfg.Image,
		Cmd:        []string{"sh", "-c", "sleep infinity"},
		WorkingDir: "/workspace",
		Tty:        false,
	}, &container.HostConfig{
		Resources:   container.Resources{Memory: p.cfg.MemoryMB * 1024 * 1024},
		NetworkMode: container.NetworkMode(p.cfg.NetworkMode),
		Binds:       []string{fmt.Sprintf("%s:/workspace", workspace)},
	}, nil, nil, "chatstreamd-sbx-"+chatID)
	if err != nil {
		return Instance{}, fmt.Errorf("sandbox: create container: %w", err)
	}
	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return Instance{}, fmt.Errorf("sandbox: start container: %w", err)
	}
	return Instance{ID: resp.ID, Provider: "docker"}, nil
}

// Initialize writes settings as environment-style key=value lines into the
// workspace so the sandboxed agent process can load them; what those
// settings mean is opaque to this package (spec §1 treats the substrate as
// an external collaborator).
func (p *DockerProvider) Initialize(ctx context.Context, instance Instance, settings map[string]string) error {
	var buf bytes.Buffer
	for k, v := range settings {
		fmt.Fprintf(&buf, "%s=%s\n", k, v)
	}
	_, _, _, err := p.exec(ctx, instance, fmt.Sprintf("cat > /workspace/.env <<'EOF'\n%s\nEOF", buf.String()))
	return err
}

// Checkpoint commits the running container to a new image, returning the
// image id as the opaque checkpoint identifier (spec GLOSSARY
// "Checkpoint").
func (p *DockerProvider) Checkpoint(ctx context.Context, instance Instance) (string, error) {
	resp, err := p.client.ContainerCommit(ctx, instance.ID, container.CommitOptions{
		Reference: "chatstreamd-checkpoint-" + uuid.NewString(),
	})
	if err != nil {
		return "", fmt.Errorf("sandbox: checkpoint: %w", err)
	}
	return resp.ID, nil
}

// Close disconnects the Docker client. Individual containers created by
// Create are left running (they back a chat's persistent workspace) and
// are reaped separately out of band.
func (p *DockerProvider) Close() error {
	return p.client.Close()
}

func (p *DockerProvider) exec(ctx context.Context, instance Instance, cmd string) (stdout, stderr string, exitCode int, err error) {
	execResp, err := p.client.ContainerExecCreate(ctx, instance.ID, container.ExecOptions{
		Cmd:          []string{"sh", "-c", cmd},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", "", -1, fmt.Errorf("sandbox: exec create: %w", err)
	}
	attach, err := p.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", "", -1, fmt.Errorf("sandbox: exec attach: %w", err)
	}
	defer attach.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attach.Reader); err != nil {
		return "", "", -1, fmt.Errorf("sandbox: demux exec output: %w", err)
	}

	inspect, err := p.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("sandbox: exec inspect: %w", err)
	}
	return stdoutBuf.String(), stderrBuf.String(), inspect.ExitCode, nil
}
