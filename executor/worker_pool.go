package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logrus "github.com/sirupsen/logrus"

	"codetutor-exec/model"
)

var (
	// ErrQueueFull is returned when every worker is busy and the queue is at capacity.
	ErrQueueFull = errors.New("job queue full")
	// ErrPoolClosed is returned for jobs submitted after Shutdown.
	ErrPoolClosed = errors.New("worker pool shut down")
)

// ExecuteFunc performs one job on a pool worker.
type ExecuteFunc func(ctx context.Context, req model.WorkerRequest) model.ExecutionOutcome

// WorkerPool bounds how many executions run at once. Jobs beyond maxWorkers
// wait in a queue of maxJobCount; anything more is rejected.
type WorkerPool struct {
	jobs         chan Job
	execute      ExecuteFunc
	logger       *logrus.Logger
	maxWorkers   int
	maxJobCount  int
	wg           sync.WaitGroup
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewWorkerPool starts maxWorkers goroutines feeding from a queue of maxJobCount.
func NewWorkerPool(maxWorkers, maxJobCount int, execute ExecuteFunc, logger *logrus.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxJobCount < 0 {
		maxJobCount = 0
	}
	if logger == nil {
		logger = NewLogger("")
	}

	pool := &WorkerPool{
		jobs:         make(chan Job, maxJobCount),
		execute:      execute,
		logger:       logger,
		maxWorkers:   maxWorkers,
		maxJobCount:  maxJobCount,
		shutdownChan: make(chan struct{}),
	}

	for i := 0; i < maxWorkers; i++ {
		pool.wg.Add(1)
		go pool.worker(i + 1)
	}
	return pool
}

// worker processes jobs from the queue
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	p.logger.WithField("worker", id).Debug("Worker started")

	for {
		select {
		case job := <-p.jobs:
			p.executeJob(id, job)
		case <-p.shutdownChan:
			p.logger.WithField("worker", id).Debug("Worker received shutdown signal")
			return
		}
	}
}

func (p *WorkerPool) executeJob(workerID int, job Job) {
	if err := job.Ctx.Err(); err != nil {
		p.logger.WithField("worker", workerID).WithError(err).Warn("Skipping job cancelled while queued")
		job.Result <- model.Failed(model.KindTimeout, "", "Execution error: "+err.Error(), 0)
		return
	}
	job.Result <- p.execute(job.Ctx, job.Request)
}

// ExecuteJob submits a job and waits for its outcome, for ctx to end or for
// the pool to shut down.
func (p *WorkerPool) ExecuteJob(ctx context.Context, req model.WorkerRequest) (model.ExecutionOutcome, error) {
	select {
	case <-p.shutdownChan:
		return model.ExecutionOutcome{}, ErrPoolClosed
	default:
	}

	result := make(chan model.ExecutionOutcome, 1)
	select {
	case <-p.shutdownChan:
		return model.ExecutionOutcome{}, ErrPoolClosed
	case p.jobs <- Job{Ctx: ctx, Request: req, Result: result}:
	default:
		return model.ExecutionOutcome{}, fmt.Errorf("%w, max capacity: %d", ErrQueueFull, p.maxJobCount)
	}

	select {
	case outcome := <-result:
		return outcome, nil
	case <-ctx.Done():
		return model.ExecutionOutcome{}, ctx.Err()
	case <-p.shutdownChan:
		// A job queued after Shutdown drained the queue is never picked up.
		select {
		case outcome := <-result:
			return outcome, nil
		default:
			return model.ExecutionOutcome{}, ErrPoolClosed
		}
	}
}

// Shutdown stops the workers after their current job and fails anything
// still queued.
func (p *WorkerPool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.logger.Info("Shutting down worker pool...")
		close(p.shutdownChan)
		p.wg.Wait()

		for {
			select {
			case job := <-p.jobs:
				job.Result <- model.Failed(model.KindBackendUnavailable, "", "Execution error: "+ErrPoolClosed.Error(), 0)
			default:
				p.logger.Info("Worker pool shutdown complete")
				return
			}
		}
	})
}
