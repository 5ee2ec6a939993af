package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeRun scripts what a fake container does once started.
type fakeRun struct {
	stdout string
	stderr string
	exit   int64
	oom    bool
	block  bool
}

type fakeContainer struct {
	config     *container.Config
	hostConfig *container.HostConfig
	run        fakeRun
	stopped    chan struct{}
	stopOnce   sync.Once
	removed    bool
}

type fakeDockerClient struct {
	mu         sync.Mutex
	nextID     int
	imagePulls []string
	containers map[string]*fakeContainer
	order      []string
	stopCalls  []string
	behave     func(config *container.Config) fakeRun
	closed     bool
}

func newFakeDockerClient(behave func(config *container.Config) fakeRun) *fakeDockerClient {
	return &fakeDockerClient{
		containers: make(map[string]*fakeContainer),
		behave:     behave,
	}
}

func (f *fakeDockerClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.imagePulls = append(f.imagePulls, ref)
	f.mu.Unlock()
	return io.NopCloser(strings.NewReader(`{"status":"done"}`)), nil
}

func (f *fakeDockerClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := fmt.Sprintf("container-%d", f.nextID)
	f.nextID++

	var run fakeRun
	if f.behave != nil {
		run = f.behave(config)
	}
	f.containers[id] = &fakeContainer{
		config:     config,
		hostConfig: hostConfig,
		run:        run,
		stopped:    make(chan struct{}),
	}
	f.order = append(f.order, id)
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDockerClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return nil
}

func (f *fakeDockerClient) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)

	c := f.container(containerID)
	if c == nil {
		errCh <- fmt.Errorf("no such container: %s", containerID)
		return statusCh, errCh
	}
	if !c.run.block {
		statusCh <- container.WaitResponse{StatusCode: c.run.exit}
		return statusCh, errCh
	}

	go func() {
		select {
		case <-c.stopped:
			statusCh <- container.WaitResponse{StatusCode: 137}
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()
	return statusCh, errCh
}

func (f *fakeDockerClient) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	c := f.container(containerID)
	if c == nil {
		return types.ContainerJSON{}, fmt.Errorf("no such container: %s", containerID)
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			State: &types.ContainerState{OOMKilled: c.run.oom},
		},
	}, nil
}

func (f *fakeDockerClient) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	c := f.container(containerID)
	if c == nil {
		return nil, fmt.Errorf("no such container: %s", containerID)
	}

	var buf bytes.Buffer
	if c.run.stdout != "" {
		w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
		_, _ = w.Write([]byte(c.run.stdout))
	}
	if c.run.stderr != "" {
		w := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
		_, _ = w.Write([]byte(c.run.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDockerClient) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	f.stopCalls = append(f.stopCalls, containerID)
	c := f.containers[containerID]
	f.mu.Unlock()

	if c != nil {
		c.stopOnce.Do(func() { close(c.stopped) })
	}
	return nil
}

func (f *fakeDockerClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[containerID]; ok {
		c.removed = true
	}
	return nil
}

func (f *fakeDockerClient) container(id string) *fakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containers[id]
}

// created returns the containers in creation order.
func (f *fakeDockerClient) created() []*fakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeContainer, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.containers[id])
	}
	return out
}

func envValue(config *container.Config, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range config.Env {
		if strings.HasPrefix(kv, prefix) {
			return strings.TrimPrefix(kv, prefix), true
		}
	}
	return "", false
}

func isBuild(config *container.Config) bool {
	return config.Labels[SandboxLabel+".stage"] == string(StageBuild)
}
