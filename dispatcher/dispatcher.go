// Package dispatcher routes execution requests to the backend registered for
// their language and normalises every failure into an outcome plus an HTTP
// status.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"codetutor-exec/model"
)

// DefaultTimeout bounds a dispatch from start to backend answer.
const DefaultTimeout = 10 * time.Second

// Result is the status and body the caller should relay.
type Result struct {
	StatusCode int                    `json:"statusCode"`
	Outcome    model.ExecutionOutcome `json:"outcome"`
}

// Dispatcher routes requests through an immutable Table.
type Dispatcher struct {
	table   *Table
	timeout time.Duration
	logger  *zap.Logger
}

type Option func(*Dispatcher)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(disp *Dispatcher) { disp.logger = l }
}

func New(table *Table, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		table:   table,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Languages lists the languages this dispatcher accepts.
func (d *Dispatcher) Languages() []string {
	return d.table.Languages()
}

// Dispatch validates req, forwards it to its backend under the dispatch
// deadline and converts the answer or failure into a Result. It makes no
// backend call for invalid or unsupported requests and never retries.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.ExecutionRequest) Result {
	start := time.Now()

	if strings.TrimSpace(req.Language) == "" || strings.TrimSpace(req.Code) == "" {
		return Result{
			StatusCode: http.StatusBadRequest,
			Outcome:    model.Failed(model.KindValidation, "", "Language and code are required", time.Since(start)),
		}
	}

	backend, err := d.table.Resolve(req.Language)
	if err != nil {
		d.logger.Info("rejected request", zap.Error(err))
		return Result{
			StatusCode: http.StatusBadRequest,
			Outcome:    model.Failed(model.KindValidation, "", "Unsupported language: "+req.Language, time.Since(start)),
		}
	}

	timeout := d.deadline(backend, req)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, err := backend.Execute(callCtx, req)
	elapsed := time.Since(start)

	result := d.resolve(callCtx, req.Language, timeout, outcome, err, elapsed)
	fields := []zap.Field{
		zap.String("language", req.Language),
		zap.String("backend", backend.Name()),
		zap.Int("status", result.StatusCode),
		zap.Duration("deadline", timeout),
		zap.Duration("duration", elapsed),
	}
	if err != nil {
		d.logger.Warn("dispatch failed", append(fields, zap.Error(err))...)
	} else {
		d.logger.Info("dispatch completed", fields...)
	}
	return result
}

// deadline is the dispatch timeout, extended to the backend's budget for req
// when that is longer.
func (d *Dispatcher) deadline(backend Backend, req model.ExecutionRequest) time.Duration {
	timeout := d.timeout
	if b, ok := backend.(budgeted); ok {
		if worst := b.Budget().For(req); worst > timeout {
			timeout = worst
		}
	}
	return timeout
}

func (d *Dispatcher) resolve(ctx context.Context, language string, timeout time.Duration, outcome *model.ExecutionOutcome, err error, elapsed time.Duration) Result {
	if err == nil {
		if outcome == nil {
			return Result{
				StatusCode: http.StatusBadGateway,
				Outcome:    model.Failed(model.KindUpstream, "", fmt.Sprintf("Dispatch to %s executor failed: empty response", language), elapsed),
			}
		}
		out := *outcome
		out.ExecutionTimeMs = model.Millis(elapsed)
		return Result{StatusCode: http.StatusOK, Outcome: out}
	}

	var upstream *UpstreamError
	switch {
	case errors.As(err, &upstream):
		return Result{StatusCode: upstream.StatusCode, Outcome: upstreamOutcome(upstream, elapsed)}

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		msg := fmt.Sprintf("Executor service for %s timed out after %s", language, model.DurationText(timeout))
		return Result{StatusCode: http.StatusGatewayTimeout, Outcome: model.Failed(model.KindTimeout, "", msg, elapsed)}

	case errors.Is(err, ErrUnavailable):
		msg := fmt.Sprintf("Executor service for %s is not available. Please ensure the executor is running.", language)
		return Result{StatusCode: http.StatusServiceUnavailable, Outcome: model.Failed(model.KindBackendUnavailable, "", msg, elapsed)}

	default:
		msg := fmt.Sprintf("Dispatch to %s executor failed: %v", language, err)
		return Result{StatusCode: http.StatusBadGateway, Outcome: model.Failed(model.KindUpstream, "", msg, elapsed)}
	}
}

// upstreamOutcome relays the backend's own body, falling back to its raw
// text when it was not an outcome.
func upstreamOutcome(e *UpstreamError, elapsed time.Duration) model.ExecutionOutcome {
	if e.Outcome != nil {
		out := *e.Outcome
		if !out.Success && out.Kind == "" {
			out.Kind = model.KindUpstream
		}
		return out
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return model.Failed(model.KindUpstream, "", msg, elapsed)
}
