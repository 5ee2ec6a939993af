// Package natshandler serves execution requests over NATS request/reply.
package natshandler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"codetutor-exec/dispatcher"
	"codetutor-exec/model"
)

// Executor is satisfied by service.ExecutionService.
type Executor interface {
	Execute(ctx context.Context, req model.ExecutionRequest) dispatcher.Result
}

// Replier publishes the reply. *nats.Conn satisfies it.
type Replier interface {
	Publish(subject string, data []byte) error
}

// Subscribe answers every request on subject with a JSON dispatcher.Result.
func Subscribe(ctx context.Context, nc *nats.Conn, subject string, svc Executor, logger *zap.Logger) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		HandleExecutionRequest(ctx, msg, nc, svc, logger)
	})
}

// HandleExecutionRequest decodes one request, executes it and publishes the
// result to the message's reply subject.
func HandleExecutionRequest(ctx context.Context, msg *nats.Msg, nc Replier, svc Executor, logger *zap.Logger) {
	var result dispatcher.Result

	var req model.ExecutionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		logger.Warn("Failed to parse execution request", zap.String("subject", msg.Subject), zap.Error(err))
		result = dispatcher.Result{
			StatusCode: http.StatusBadRequest,
			Outcome:    model.Failed(model.KindValidation, "", "Invalid request body: "+err.Error(), 0),
		}
	} else {
		result = svc.Execute(ctx, req)
	}

	if msg.Reply == "" {
		logger.Warn("Execution request has no reply subject", zap.String("subject", msg.Subject))
		return
	}

	resData, err := json.Marshal(result)
	if err != nil {
		logger.Error("Failed to encode execution result", zap.Error(err))
		return
	}
	if err := nc.Publish(msg.Reply, resData); err != nil {
		logger.Error("Failed to publish execution result", zap.String("reply", msg.Reply), zap.Error(err))
	}
}
