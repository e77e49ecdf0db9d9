package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// mockRun describes what a started mock container does.
type mockRun struct {
	stdout   string
	stderr   string
	exitCode int
	// hang keeps the container running until it is stopped.
	hang bool
}

// mockContainer is the state of one container inside MockDocker.
type mockContainer struct {
	id         string
	name       string
	config     *container.Config
	hostConfig *container.HostConfig

	pr *io.PipeReader
	pw *io.PipeWriter

	stopCh   chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
	exitCode int

	started  bool
	stops    int
	removes  int
	statsN   int
	attached bool
}

// workspace returns the host directory bound to /workspace.
func (c *mockContainer) workspace() string {
	if len(c.hostConfig.Binds) == 0 {
		return ""
	}
	return strings.SplitN(c.hostConfig.Binds[0], ":", 2)[0]
}

// source returns the content of the materialized main file.
func (c *mockContainer) source() string {
	matches, _ := filepath.Glob(filepath.Join(c.workspace(), "main.*"))
	if len(matches) == 0 {
		return ""
	}
	data, _ := os.ReadFile(matches[0])
	return string(data)
}

// MockDocker implements ContainerAPI in memory
type MockDocker struct {
	mu         sync.Mutex
	containers map[string]*mockContainer
	order      []string
	nextID     int

	createErr     error
	missingImages map[string]bool
	pulled        []string
	closed        bool

	// beforeCreate runs at the start of every ContainerCreate, outside the lock.
	beforeCreate func(hostConfig *container.HostConfig)
	// run decides the behavior of a container when it starts.
	run func(c *mockContainer) mockRun
	// stats returns the JSON body for the n-th stats call of a container.
	stats func(c *mockContainer, n int) string
}

func NewMockDocker() *MockDocker {
	return &MockDocker{
		containers:    make(map[string]*mockContainer),
		missingImages: make(map[string]bool),
		run: func(*mockContainer) mockRun {
			return mockRun{stdout: "hello\n"}
		},
		stats: func(*mockContainer, int) string {
			return `{"memory_stats":{"usage":1048576}}`
		},
	}
}

func (m *MockDocker) get(id string) (*mockContainer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id]
	if !ok {
		return nil, fmt.Errorf("no such container %s: %w", id, cerrdefs.ErrNotFound)
	}
	return c, nil
}

// Containers returns the created containers in creation order.
func (m *MockDocker) Containers() []*mockContainer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*mockContainer, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.containers[id])
	}
	return out
}

func (m *MockDocker) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	if m.beforeCreate != nil {
		m.beforeCreate(hostConfig)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return container.CreateResponse{}, m.createErr
	}
	if m.missingImages[config.Image] {
		return container.CreateResponse{}, fmt.Errorf("no such image %s: %w", config.Image, cerrdefs.ErrNotFound)
	}

	m.nextID++
	pr, pw := io.Pipe()
	c := &mockContainer{
		id:         fmt.Sprintf("container-%d", m.nextID),
		name:       name,
		config:     config,
		hostConfig: hostConfig,
		pr:         pr,
		pw:         pw,
		stopCh:     make(chan struct{}),
		exited:     make(chan struct{}),
	}
	m.containers[c.id] = c
	m.order = append(m.order, c.id)
	return container.CreateResponse{ID: c.id}, nil
}

func (m *MockDocker) ContainerAttach(_ context.Context, id string, _ container.AttachOptions) (types.HijackedResponse, error) {
	c, err := m.get(id)
	if err != nil {
		return types.HijackedResponse{}, err
	}
	m.mu.Lock()
	c.attached = true
	m.mu.Unlock()

	conn, peer := net.Pipe()
	_ = peer.Close()
	return types.HijackedResponse{Conn: conn, Reader: bufio.NewReader(c.pr)}, nil
}

func (m *MockDocker) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	c, err := m.get(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	c.started = true
	m.mu.Unlock()

	behavior := m.run(c)
	go func() {
		if behavior.stdout != "" {
			_, _ = stdcopy.NewStdWriter(c.pw, stdcopy.Stdout).Write([]byte(behavior.stdout))
		}
		if behavior.stderr != "" {
			_, _ = stdcopy.NewStdWriter(c.pw, stdcopy.Stderr).Write([]byte(behavior.stderr))
		}

		code := behavior.exitCode
		if behavior.hang {
			<-c.stopCh
			code = 137
		}
		_ = c.pw.Close()

		m.mu.Lock()
		c.exitCode = code
		m.mu.Unlock()
		close(c.exited)
	}()
	return nil
}

func (m *MockDocker) ContainerWait(ctx context.Context, id string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)

	c, err := m.get(id)
	if err != nil {
		errCh <- err
		return statusCh, errCh
	}

	go func() {
		select {
		case <-c.exited:
			m.mu.Lock()
			code := c.exitCode
			m.mu.Unlock()
			statusCh <- container.WaitResponse{StatusCode: int64(code)}
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()
	return statusCh, errCh
}

func (m *MockDocker) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	c, err := m.get(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	c.stops++
	m.mu.Unlock()
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}

func (m *MockDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id]
	if !ok || c.removes > 0 {
		return fmt.Errorf("no such container %s: %w", id, cerrdefs.ErrNotFound)
	}
	c.removes++
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}

func (m *MockDocker) ContainerStatsOneShot(_ context.Context, id string) (container.StatsResponseReader, error) {
	c, err := m.get(id)
	if err != nil {
		return container.StatsResponseReader{}, err
	}
	m.mu.Lock()
	c.statsN++
	n := c.statsN
	m.mu.Unlock()
	return container.StatsResponseReader{Body: io.NopCloser(strings.NewReader(m.stats(c, n)))}, nil
}

// ContainerList honors only label-key filters.
func (m *MockDocker) ContainerList(_ context.Context, options container.ListOptions) ([]container.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	labels := options.Filters.Get("label")
	var out []container.Summary
	for _, id := range m.order {
		c := m.containers[id]
		if c.removes > 0 {
			continue
		}
		matches := true
		for _, key := range labels {
			if _, ok := c.config.Labels[key]; !ok {
				matches = false
			}
		}
		if matches {
			out = append(out, container.Summary{ID: c.id, Names: []string{"/" + c.name}, Labels: c.config.Labels})
		}
	}
	return out, nil
}

func (m *MockDocker) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulled = append(m.pulled, ref)
	delete(m.missingImages, ref)
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded newer image"}`)), nil
}

func (m *MockDocker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Snapshot helpers guarded by the mock's lock.

func (m *MockDocker) removes(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containers[id].removes
}

func (m *MockDocker) stops(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containers[id].stops
}

// MockFileSystem wraps RealFileSystem with injectable failures
type MockFileSystem struct {
	RealFileSystem
	writeFileErrors map[string]error
	removeAllErrors map[string]error
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	if err, exists := m.writeFileErrors[filepath.Base(filename)]; exists {
		return err
	}
	return m.RealFileSystem.WriteFile(filename, data, perm)
}

func (m *MockFileSystem) RemoveAll(path string) error {
	if err, exists := m.removeAllErrors[path]; exists {
		return err
	}
	return m.RealFileSystem.RemoveAll(path)
}
