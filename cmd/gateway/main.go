package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"codetutor-exec/config"
	"codetutor-exec/dispatcher"
	"codetutor-exec/logger"
	"codetutor-exec/natshandler"
	"codetutor-exec/piston"
	"codetutor-exec/publisher"
	"codetutor-exec/routes"
	"codetutor-exec/service"
)

func main() {
	cfg := config.LoadConfig()

	log, err := logger.New(cfg.Environment)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtimes := piston.DefaultRuntimes()
	if cfg.PistonRuntimesFile != "" {
		runtimes, err = piston.LoadRuntimes(cfg.PistonRuntimesFile)
		if err != nil {
			log.Fatal("Failed to load Piston runtimes", zap.String("path", cfg.PistonRuntimesFile), zap.Error(err))
		}
	}
	pistonClient := piston.New(cfg.PistonURL, piston.WithRuntimes(runtimes), piston.WithLogger(log))
	if len(cfg.DelegatedLanguages) > 0 && !pistonClient.IsAvailable(ctx) {
		log.Warn("Piston is not reachable, delegated languages will fail until it is", zap.String("url", cfg.PistonURL))
	}

	table := dispatcher.BuildTable(dispatcher.TableConfig{
		ExecutorURLs: cfg.ExecutorURLs,
		Delegated:    cfg.DelegatedLanguages,
		HTTPClient:   &http.Client{},
		Piston:       pistonClient,
		Budget:       cfg.WorkerBudget,
		Compiled:     cfg.CompiledLanguages,
	})
	disp := dispatcher.New(table, dispatcher.WithTimeout(cfg.DispatchTimeout), dispatcher.WithLogger(log))

	streamer := logger.NewStreamer(logger.StreamerOptions{
		SourceToken: cfg.BetterStackSourceToken,
		Environment: cfg.Environment,
		UploadURL:   cfg.BetterStackUploadURL,
		Logger:      log,
	})
	defer streamer.Close()

	opts := []service.Option{service.WithAudit(streamer), service.WithLogger(log)}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := publisher.NewPublisher(publisher.PublisherConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaResultsTopic})
		if err != nil {
			log.Fatal("Failed to create Kafka publisher", zap.Error(err))
		}
		defer pub.Close()
		opts = append(opts, service.WithPublisher(pub))
	}
	svc := service.NewExecutionService(disp, opts...)

	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.String("url", cfg.NatsURL), zap.Error(err))
		}
		defer nc.Close()

		if _, err := natshandler.Subscribe(ctx, nc, cfg.NatsSubject, svc, log); err != nil {
			log.Fatal("Failed to subscribe", zap.String("subject", cfg.NatsSubject), zap.Error(err))
		}
		log.Info("Listening for NATS execution requests", zap.String("subject", cfg.NatsSubject))
	}

	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaRequestsTopic != "" {
		consumer, err := publisher.NewConsumer(publisher.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaRequestsTopic,
			GroupID: cfg.KafkaGroupID,
		})
		if err != nil {
			log.Fatal("Failed to create Kafka consumer", zap.Error(err))
		}
		defer consumer.Close()

		go func() {
			if err := svc.Consume(ctx, consumer, cfg.KafkaMaxParallel); err != nil {
				log.Error("Kafka request consumer stopped", zap.Error(err))
			}
		}()
	}

	log.Info("Execution gateway ready", zap.Strings("languages", disp.Languages()))
	if err := routes.Serve(ctx, cfg.Port, routes.NewGatewayRouter(svc, disp.Languages(), log), log); err != nil {
		log.Error("Gateway stopped", zap.Error(err))
	}
}
