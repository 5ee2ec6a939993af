// Package service runs execution requests for every inbound transport:
// dispatch, audit logging and report publishing.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"codetutor-exec/dispatcher"
	"codetutor-exec/model"
	"codetutor-exec/publisher"
)

const (
	auditLayer     = "execution-service"
	publishTimeout = 5 * time.Second
)

// Dispatcher routes one request to its backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, req model.ExecutionRequest) dispatcher.Result
}

// AuditLogger records one entry per dispatch.
type AuditLogger interface {
	Log(level zapcore.Level, traceID string, message string, attributes map[string]any, layer string, err error)
}

// ReportPublisher ships a report of every dispatch.
type ReportPublisher interface {
	Publish(ctx context.Context, report publisher.Report) error
}

// RequestSource yields queued execution requests until it returns io.EOF or
// the context ends.
type RequestSource interface {
	Next(ctx context.Context) (publisher.Request, error)
}

// ExecutionService is shared by the HTTP, NATS and Kafka transports.
type ExecutionService struct {
	dispatcher Dispatcher
	audit      AuditLogger
	publisher  ReportPublisher
	logger     *zap.Logger
}

type Option func(*ExecutionService)

// WithAudit enables per-dispatch audit records.
func WithAudit(a AuditLogger) Option {
	return func(s *ExecutionService) { s.audit = a }
}

// WithPublisher enables report publishing.
func WithPublisher(p ReportPublisher) Option {
	return func(s *ExecutionService) { s.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *ExecutionService) { s.logger = l }
}

func NewExecutionService(d Dispatcher, opts ...Option) *ExecutionService {
	s := &ExecutionService{
		dispatcher: d,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute dispatches req under a fresh trace id.
func (s *ExecutionService) Execute(ctx context.Context, req model.ExecutionRequest) dispatcher.Result {
	return s.ExecuteTraced(ctx, uuid.NewString(), req)
}

// ExecuteTraced dispatches req, records it and publishes its report.
// Publishing failures are logged and never change the result.
func (s *ExecutionService) ExecuteTraced(ctx context.Context, traceID string, req model.ExecutionRequest) dispatcher.Result {
	if traceID == "" {
		traceID = uuid.NewString()
	}

	result := s.dispatcher.Dispatch(ctx, req)
	s.record(traceID, req, result)

	if s.publisher != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		report := publisher.Report{
			TraceID:    traceID,
			Language:   req.Language,
			StatusCode: result.StatusCode,
			Outcome:    result.Outcome,
		}
		if err := s.publisher.Publish(pubCtx, report); err != nil {
			s.logger.Warn("Failed to publish execution report", zap.String("traceID", traceID), zap.Error(err))
		}
	}
	return result
}

func (s *ExecutionService) record(traceID string, req model.ExecutionRequest, result dispatcher.Result) {
	if s.audit == nil {
		return
	}

	attributes := map[string]any{
		"language":        req.Language,
		"statusCode":      result.StatusCode,
		"success":         result.Outcome.Success,
		"executionTimeMs": result.Outcome.ExecutionTimeMs,
		"testCases":       len(req.TestCases),
	}
	if result.Outcome.Kind != "" {
		attributes["errorKind"] = string(result.Outcome.Kind)
	}
	if result.Outcome.TestResults != nil {
		attributes["testsPassed"] = result.Outcome.TestResults.Passed
		attributes["testsFailed"] = result.Outcome.TestResults.Failed
	}

	var err error
	if result.Outcome.Error != nil {
		err = errors.New(*result.Outcome.Error)
	}

	switch {
	case result.StatusCode >= 500:
		s.audit.Log(zapcore.ErrorLevel, traceID, "Execution dispatch failed", attributes, auditLayer, err)
	case result.StatusCode >= 400:
		s.audit.Log(zapcore.WarnLevel, traceID, "Execution request rejected", attributes, auditLayer, err)
	default:
		s.audit.Log(zapcore.InfoLevel, traceID, "Execution completed", attributes, auditLayer, err)
	}
}

// Consume executes requests from source with at most maxParallel in flight
// until source is exhausted or ctx ends. Malformed messages are skipped.
func (s *ExecutionService) Consume(ctx context.Context, source RequestSource, maxParallel int) error {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxParallel)

	finish := func(err error) error {
		wg.Wait()
		return err
	}

	for {
		msg, err := source.Next(ctx)
		if err != nil {
			if errors.Is(err, publisher.ErrMalformedRequest) {
				s.logger.Warn("Skipping malformed execution request", zap.String("traceID", msg.TraceID), zap.Error(err))
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return finish(nil)
			}
			return finish(fmt.Errorf("read next request: %w", err))
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(msg publisher.Request) {
			defer wg.Done()
			defer func() { <-sem }()
			s.ExecuteTraced(ctx, msg.TraceID, msg.Request)
		}(msg)
	}
}
