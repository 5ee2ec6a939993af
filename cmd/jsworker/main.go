package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"codetutor-exec/config"
	"codetutor-exec/lang"
	"codetutor-exec/logger"
	"codetutor-exec/model"
	"codetutor-exec/routes"
)

func main() {
	cfg := config.LoadWorkerConfig(":4005")

	log, err := logger.New(cfg.Environment)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sandbox := lang.NewSandbox(lang.Options{
		Timeout:   cfg.ExecutionTimeout,
		MaxOutput: cfg.MaxOutputLength,
		Logger:    log,
	})
	exec := routes.ExecutorFunc(func(ctx context.Context, req model.WorkerRequest) model.ExecutionOutcome {
		return sandbox.Execute(ctx, req.Language, req.Code, req.TestCases)
	})

	log.Info("JavaScript/TypeScript executor ready", zap.String("port", cfg.Port))
	if err := routes.Serve(ctx, cfg.Port, routes.NewWorkerRouter("javascript-executor", exec, log), log); err != nil {
		log.Error("JavaScript executor stopped", zap.Error(err))
	}
}
