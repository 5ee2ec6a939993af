package executor

import (
	"context"
	"time"

	"codetutor-exec/model"
)

// Stage names the container a run belongs to.
type Stage string

const (
	StageBuild Stage = "build"
	StageRun   Stage = "run"
)

// Job represents a code execution request queued on the worker pool.
type Job struct {
	Ctx     context.Context
	Request model.WorkerRequest
	Result  chan model.ExecutionOutcome
}

// containerSpec describes one throwaway container.
type containerSpec struct {
	Stage   Stage
	Image   string
	Script  string
	Env     []string
	Timeout time.Duration
	Memory  int64
}

// containerResult is what a finished (or killed) container left behind.
type containerResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int64
	TimedOut  bool
	OOMKilled bool
	Duration  time.Duration
}
