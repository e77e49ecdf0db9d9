// Package sandbox provides secure code execution capabilities.
//
// The ContainerManager drives the Docker Engine API for one execution unit:
// create, attach, start, wait, stop, remove, and resource stats. Units run
// with a memory cap, a fixed CPU share, no network and a noexec /tmp.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// LabelEnvironment marks every container with the environment that owns it.
const LabelEnvironment = "execengine.environment"

// ContainerAPI is the subset of the Docker Engine API used by the engine.
// *client.Client satisfies it; tests substitute a fake.
type ContainerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerStatsOneShot(ctx context.Context, containerID string) (container.StatsResponseReader, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

var _ ContainerAPI = (*client.Client)(nil)

// NewDockerClient connects to the daemon from the environment, or host when set.
func NewDockerClient(host string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// ContainerManager owns the lifecycle calls for execution units.
type ContainerManager struct {
	api    ContainerAPI
	config *Config
	logger *zap.Logger
}

// NewContainerManager creates a ContainerManager.
func NewContainerManager(api ContainerAPI, config *Config, logger *zap.Logger) *ContainerManager {
	return &ContainerManager{api: api, config: config, logger: logger}
}

// Create builds the unit for env. The image is pulled and creation retried
// once when the image is missing and pulling is enabled.
func (m *ContainerManager) Create(ctx context.Context, env *Environment, req ExecutionRequest) (string, error) {
	cmd, err := GetRunCommand(req.Language)
	if err != nil {
		return "", err
	}
	img := m.image(req.Language)

	cfg := &container.Config{
		Image:        img,
		Cmd:          cmd,
		WorkingDir:   WorkspaceMount,
		Env:          m.environment(req),
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
		Labels:       map[string]string{LabelEnvironment: env.ID},
	}
	if !m.config.NetworkEnabled {
		cfg.NetworkDisabled = true
	}

	hostCfg := &container.HostConfig{
		Binds:       []string{fmt.Sprintf("%s:%s", env.Directory, WorkspaceMount)},
		NetworkMode: container.NetworkMode(m.networkMode()),
		SecurityOpt: []string{"no-new-privileges"},
		Tmpfs: map[string]string{
			"/tmp": fmt.Sprintf("rw,noexec,nosuid,size=%s", m.config.TmpfsSize),
		},
		Resources: container.Resources{
			Memory:     env.MemoryLimit,
			MemorySwap: env.MemoryLimit,
			CPUShares:  m.config.CPUShares,
		},
	}
	if m.config.PidsLimit > 0 {
		pids := m.config.PidsLimit
		hostCfg.Resources.PidsLimit = &pids
	}

	m.logger.Debug("creating container",
		zap.String("environment_id", env.ID),
		zap.String("image", img),
		zap.String("memory_limit", units.BytesSize(float64(env.MemoryLimit))),
		zap.Int64("cpu_shares", m.config.CPUShares),
		zap.String("network_mode", m.networkMode()))

	resp, err := m.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "execengine-"+env.ID)
	if err != nil && cerrdefs.IsNotFound(err) && m.config.PullImages {
		if pullErr := m.pullImage(ctx, img); pullErr != nil {
			return "", pullErr
		}
		resp, err = m.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "execengine-"+env.ID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnitCreation, err)
	}

	for _, warning := range resp.Warnings {
		m.logger.Warn("container create warning", zap.String("environment_id", env.ID), zap.String("warning", warning))
	}
	return resp.ID, nil
}

// Start starts the unit.
func (m *ContainerManager) Start(ctx context.Context, id string) error {
	if err := m.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// Attach opens the multiplexed stdout/stderr stream of the unit.
func (m *ContainerManager) Attach(ctx context.Context, id string) (types.HijackedResponse, error) {
	resp, err := m.api.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return types.HijackedResponse{}, fmt.Errorf("failed to attach to container: %w", err)
	}
	return resp, nil
}

// Wait blocks until the unit is no longer running and returns its exit code.
func (m *ContainerManager) Wait(ctx context.Context, id string) (int, error) {
	statusCh, errCh := m.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return int(status.StatusCode), fmt.Errorf("container wait: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	case err := <-errCh:
		return 0, fmt.Errorf("failed to wait for container: %w", err)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop sends SIGTERM, then SIGKILL after the configured grace period.
// Stopping a missing or already stopped unit is not an error.
func (m *ContainerManager) Stop(ctx context.Context, id string) error {
	grace := int(m.config.StopGrace / time.Second)
	err := m.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &grace})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Remove force-removes the unit. Removing a missing unit is not an error.
func (m *ContainerManager) Remove(ctx context.Context, id string) error {
	err := m.api.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Stats takes a one-shot resource snapshot of the unit.
func (m *ContainerManager) Stats(ctx context.Context, id string) (container.StatsResponse, error) {
	var stats container.StatsResponse

	reader, err := m.api.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return stats, fmt.Errorf("failed to read container stats: %w", err)
	}
	defer reader.Body.Close()

	if err := json.NewDecoder(reader.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("failed to decode container stats: %w", err)
	}
	return stats, nil
}

// List returns every unit carrying the environment label, running or not.
func (m *ContainerManager) List(ctx context.Context) ([]container.Summary, error) {
	units, err := m.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelEnvironment)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return units, nil
}

func (m *ContainerManager) pullImage(ctx context.Context, ref string) error {
	m.logger.Info("pulling docker image", zap.String("image", ref))

	reader, err := m.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("%w: pull image %s: %v", ErrUnitCreation, ref, err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is consumed.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("%w: pull image %s: %v", ErrUnitCreation, ref, err)
	}

	m.logger.Info("docker image is ready", zap.String("image", ref))
	return nil
}

func (m *ContainerManager) image(language Language) string {
	if img := m.config.Images[language]; img != "" {
		return img
	}
	img, _ := DefaultImage(language)
	return img
}

func (m *ContainerManager) networkMode() string {
	if m.config.NetworkEnabled {
		return "bridge"
	}
	return "none"
}

// environment returns KEY=VALUE pairs: defaults, then language config, then
// the project's variables. Later sources win; output is sorted by key.
func (m *ContainerManager) environment(req ExecutionRequest) []string {
	vars := map[string]string{
		"NODE_ENV":   "sandbox",
		"PYTHONPATH": WorkspaceMount,
	}
	for k, v := range m.config.Environment[req.Language] {
		vars[k] = v
	}
	if req.ProjectContext != nil {
		for k, v := range req.ProjectContext.EnvironmentVariables {
			vars[k] = v
		}
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, vars[k]))
	}
	return env
}
