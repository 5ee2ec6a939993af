// Package routes exposes workers and the gateway over HTTP.
package routes

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"codetutor-exec/dispatcher"
	"codetutor-exec/model"
)

// Executor runs one worker request to completion.
type Executor interface {
	Execute(ctx context.Context, req model.WorkerRequest) model.ExecutionOutcome
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req model.WorkerRequest) model.ExecutionOutcome

func (f ExecutorFunc) Execute(ctx context.Context, req model.WorkerRequest) model.ExecutionOutcome {
	return f(ctx, req)
}

// ExecutionService is the gateway side of the service package.
type ExecutionService interface {
	Execute(ctx context.Context, req model.ExecutionRequest) dispatcher.Result
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewWorkerRouter serves POST /execute and GET /health for one worker.
func NewWorkerRouter(service string, exec Executor, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := newEngine(logger)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": service})
	})

	r.POST("/execute", func(c *gin.Context) {
		var req model.WorkerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body: " + err.Error()})
			return
		}
		if req.Code == "" {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "No code provided"})
			return
		}

		outcome := exec.Execute(c.Request.Context(), req)
		logger.Debug("Execution finished",
			zap.String("service", service),
			zap.String("language", req.Language),
			zap.Bool("success", outcome.Success),
			zap.Int64("executionTimeMs", outcome.ExecutionTimeMs))
		c.JSON(http.StatusOK, outcome)
	})

	return cors.AllowAll().Handler(r)
}

// NewGatewayRouter serves POST /execute through svc and GET /health listing
// the dispatchable languages.
func NewGatewayRouter(svc ExecutionService, languages []string, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := newEngine(logger)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "execution-gateway", "languages": languages})
	})

	r.POST("/execute", func(c *gin.Context) {
		var req model.ExecutionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			failure := model.Failed(model.KindValidation, "", "Invalid request body: "+err.Error(), 0)
			c.JSON(http.StatusBadRequest, failure)
			return
		}

		result := svc.Execute(c.Request.Context(), req)
		c.JSON(result.StatusCode, result.Outcome)
	})

	return cors.AllowAll().Handler(r)
}

func newEngine(logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("Handler panicked", zap.String("path", c.Request.URL.Path), zap.Any("panic", recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("Server error: %v", recovered)})
	}))
	return r
}
