package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	logrus "github.com/sirupsen/logrus"
)

// SandboxLabel marks every container the worker creates.
const SandboxLabel = "codetutor.sandbox"

const (
	stopGrace   = 5 * time.Second
	reapTimeout = 15 * time.Second
)

// Limits caps the resources of every sandbox container.
type Limits struct {
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
}

// ContainerInfo holds information about an in-flight container.
type ContainerInfo struct {
	ID    string
	Stage Stage
	Image string
}

// ContainerManager creates, runs and reaps throwaway sandbox containers.
type ContainerManager struct {
	dockerClient dockerClient
	limits       Limits
	logger       *logrus.Logger

	mu         sync.Mutex
	containers map[string]*ContainerInfo
	pulls      map[string]*imagePull
}

type imagePull struct {
	once sync.Once
	err  error
}

// NewContainerManager connects to the Docker daemon configured in the environment.
func NewContainerManager(limits Limits, logger *logrus.Logger) (*ContainerManager, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return newContainerManager(dockerClient, limits, logger), nil
}

func newContainerManager(cli dockerClient, limits Limits, logger *logrus.Logger) *ContainerManager {
	if logger == nil {
		logger = NewLogger("")
	}
	return &ContainerManager{
		dockerClient: cli,
		limits:       limits,
		logger:       logger,
		containers:   make(map[string]*ContainerInfo),
		pulls:        make(map[string]*imagePull),
	}
}

// NewLogger returns the container-layer logger. It appends to path when the
// file can be opened and falls back to stderr otherwise.
func NewLogger(path string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if path == "" {
		return logger
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Warnf("container log directory unavailable, logging to stderr: %v", err)
		return logger
	}
	logFile, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		logger.Warnf("failed to open log file, logging to stderr: %v", err)
		return logger
	}
	logger.SetOutput(logFile)
	return logger
}

// EnsureImage pulls ref once per manager; later calls return the first result.
func (cm *ContainerManager) EnsureImage(ctx context.Context, ref string) error {
	cm.mu.Lock()
	pull, ok := cm.pulls[ref]
	if !ok {
		pull = &imagePull{}
		cm.pulls[ref] = pull
	}
	cm.mu.Unlock()

	pull.once.Do(func() {
		start := time.Now()
		pull.err = cm.pullImage(ctx, ref)
		entry := cm.logger.WithFields(logrus.Fields{"image": ref, "duration": time.Since(start)})
		if pull.err != nil {
			entry.WithError(pull.err).Error("Image pull failed")
			return
		}
		entry.Info("Image ready")
	})
	return pull.err
}

func (cm *ContainerManager) pullImage(ctx context.Context, ref string) error {
	reader, err := cm.dockerClient.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("consume pull output for %s: %w", ref, err)
	}
	return nil
}

// Run executes spec in a fresh container and always removes it afterwards.
// Hitting spec.Timeout is reported through containerResult.TimedOut, not as
// an error.
func (cm *ContainerManager) Run(ctx context.Context, spec containerSpec) (*containerResult, error) {
	containerID, err := cm.createContainer(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer cm.RemoveContainer(containerID)

	log := cm.logger.WithFields(logrus.Fields{
		"container": shortID(containerID),
		"stage":     spec.Stage,
		"image":     spec.Image,
	})

	start := time.Now()
	if err := cm.dockerClient.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		log.WithError(err).Error("Container start failed")
		return nil, fmt.Errorf("start container: %w", err)
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	status, err := cm.waitForExit(waitCtx, containerID)
	if cancel != nil {
		cancel()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && spec.Timeout > 0 && ctx.Err() == nil {
			log.WithField("limit", spec.Timeout).Warn("Time limit exceeded, stopping container")
			return cm.handleTimeLimit(containerID, start)
		}
		cm.stopContainer(containerID)
		log.WithError(err).Error("Container wait failed")
		return nil, err
	}

	inspectCtx := ctx
	if inspectCtx.Err() != nil {
		inspectCtx = context.Background()
	}
	inspect, err := cm.dockerClient.ContainerInspect(inspectCtx, containerID)
	if err != nil {
		return nil, fmt.Errorf("inspect container: %w", err)
	}

	stdout, stderr, err := cm.fetchLogs(inspectCtx, containerID)
	if err != nil {
		return nil, fmt.Errorf("fetch logs: %w", err)
	}

	result := &containerResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: status.StatusCode,
		Duration: time.Since(start),
	}
	if inspect.ContainerJSONBase != nil && inspect.State != nil && inspect.State.OOMKilled {
		result.OOMKilled = true
	}

	log.WithFields(logrus.Fields{
		"exit_code": result.ExitCode,
		"oom":       result.OOMKilled,
		"duration":  result.Duration,
	}).Debug("Container finished")
	return result, nil
}

func (cm *ContainerManager) createContainer(ctx context.Context, spec containerSpec) (string, error) {
	memory := spec.Memory
	if memory <= 0 {
		memory = cm.limits.MemoryBytes
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: cm.limits.NanoCPUs,
		},
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
	}
	if memory > 0 {
		hostConfig.Resources.Memory = memory
		hostConfig.Resources.MemorySwap = memory
	}
	if cm.limits.PidsLimit > 0 {
		pids := cm.limits.PidsLimit
		hostConfig.Resources.PidsLimit = &pids
	}

	config := &container.Config{
		Image:           spec.Image,
		Cmd:             []string{"sh", "-c", spec.Script},
		Env:             spec.Env,
		WorkingDir:      "/tmp",
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
		Labels: map[string]string{
			SandboxLabel:            "true",
			SandboxLabel + ".stage": string(spec.Stage),
		},
	}

	resp, err := cm.dockerClient.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		cm.logger.WithFields(logrus.Fields{"stage": spec.Stage, "image": spec.Image}).
			WithError(err).Error("Container create failed")
		return "", fmt.Errorf("create container: %w", err)
	}

	cm.mu.Lock()
	cm.containers[resp.ID] = &ContainerInfo{ID: resp.ID, Stage: spec.Stage, Image: spec.Image}
	cm.mu.Unlock()
	return resp.ID, nil
}

func (cm *ContainerManager) handleTimeLimit(containerID string, start time.Time) (*containerResult, error) {
	cm.stopContainer(containerID)

	waitCtx, cancelWait := context.WithTimeout(context.Background(), reapTimeout)
	defer cancelWait()

	status, waitErr := cm.waitForExit(waitCtx, containerID)
	if waitErr != nil && !errors.Is(waitErr, context.DeadlineExceeded) && !client.IsErrNotFound(waitErr) {
		return nil, fmt.Errorf("wait for container after time limit: %w", waitErr)
	}

	stdout, stderr, err := cm.fetchLogs(context.Background(), containerID)
	if err != nil {
		return nil, fmt.Errorf("fetch logs: %w", err)
	}

	exitCode := int64(-1)
	if status != nil {
		exitCode = status.StatusCode
	}
	return &containerResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		TimedOut: true,
		Duration: time.Since(start),
	}, nil
}

func (cm *ContainerManager) stopContainer(containerID string) {
	stopCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()

	immediate := 0
	err := cm.dockerClient.ContainerStop(stopCtx, containerID, container.StopOptions{Timeout: &immediate})
	if err != nil && !client.IsErrNotFound(err) {
		cm.logger.WithField("container", shortID(containerID)).WithError(err).Warn("Failed to stop container")
	}
}

func (cm *ContainerManager) waitForExit(ctx context.Context, containerID string) (*container.WaitResponse, error) {
	statusCh, errCh := cm.dockerClient.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container error: %s", status.Error.Message)
		}
		return &status, nil
	case err := <-errCh:
		return nil, fmt.Errorf("wait for container: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for container: %w", ctx.Err())
	}
}

func (cm *ContainerManager) fetchLogs(ctx context.Context, containerID string) (stdout, stderr string, err error) {
	logs, err := cm.dockerClient.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer logs.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logs); err != nil {
		return "", "", err
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

// RemoveContainer force-removes a container and forgets it.
func (cm *ContainerManager) RemoveContainer(containerID string) {
	err := cm.dockerClient.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		cm.logger.WithField("container", shortID(containerID)).WithError(err).Warn("Failed to remove container")
	}

	cm.mu.Lock()
	delete(cm.containers, containerID)
	cm.mu.Unlock()
}

// ContainerCount returns the number of containers currently in flight.
func (cm *ContainerManager) ContainerCount() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.containers)
}

// Shutdown removes any container still in flight and closes the client.
func (cm *ContainerManager) Shutdown() {
	cm.mu.Lock()
	ids := make([]string, 0, len(cm.containers))
	for id := range cm.containers {
		ids = append(ids, id)
	}
	cm.mu.Unlock()

	for _, id := range ids {
		cm.RemoveContainer(id)
		cm.logger.WithField("container", shortID(id)).Info("Shutdown: removed container")
	}
	if err := cm.dockerClient.Close(); err != nil {
		cm.logger.WithError(err).Warn("Failed to close Docker client")
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
