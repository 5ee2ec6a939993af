package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"codetutor-exec/config"
	"codetutor-exec/executor"
	"codetutor-exec/logger"
	"codetutor-exec/routes"
)

func main() {
	cfg := config.LoadWorkerConfig(":4004")

	log, err := logger.New(cfg.Environment)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker, err := executor.NewWorker(executor.Options{
		ExecutionTimeout: cfg.ExecutionTimeout,
		CompileTimeout:   cfg.CompileTimeout,
		MaxOutput:        cfg.MaxOutputLength,
		MaxWorkers:       cfg.MaxWorkers,
		MaxJobs:          cfg.MaxJobs,
		Limits: executor.Limits{
			MemoryBytes: int64(cfg.MemoryLimitMB) << 20,
			NanoCPUs:    cfg.NanoCPUs,
			PidsLimit:   cfg.PidsLimit,
		},
		Languages: cfg.CompiledLanguages,
		Images: map[string]string{
			"csharp": cfg.CSharpImage,
			"java":   cfg.JavaImage,
		},
		Logger: executor.NewLogger(cfg.ContainerLogPath),
	})
	if err != nil {
		log.Fatal("Failed to start compiled-language worker", zap.Error(err))
	}
	defer worker.Shutdown()

	if err := worker.Warmup(ctx); err != nil {
		log.Warn("Image warm-up incomplete, images will be pulled on first use", zap.Error(err))
	}

	log.Info("C# executor ready", zap.String("port", cfg.Port), zap.Strings("languages", cfg.CompiledLanguages))
	if err := routes.Serve(ctx, cfg.Port, routes.NewWorkerRouter("csharp-executor", worker, log), log); err != nil {
		log.Error("C# executor stopped", zap.Error(err))
	}
}
