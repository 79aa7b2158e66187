package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/storefront-orders/internal/config"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/logger"
	"github.com/ariefcatur/storefront-orders/internal/projector"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/ariefcatur/storefront-orders/internal/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{
		ServiceName: cfg.ServiceName + "-projector",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})
	if err := run(cfg, log); err != nil {
		log.Error(context.Background(), "projector stopped", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	if !cfg.KafkaEnabled() || !cfg.RedisEnabled() {
		return errors.New("the projector needs KAFKA_BROKERS and REDIS_ADDR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		ServiceName: cfg.ServiceName + "-projector",
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	rc, err := redisx.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rc.Close()

	p := projector.New(rc, cfg.ProjectorGroup, log)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, projector.Topics(), cfg.ProjectorWorkers, log)

	log.Info(log.WithFields(ctx, map[string]any{
		"group":   cfg.ProjectorGroup,
		"topics":  projector.Topics(),
		"workers": cfg.ProjectorWorkers,
	}), "status projector started")

	// Start returns once ctx is cancelled and in-flight messages are done.
	if err := cons.Start(ctx, p.Handle); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info(context.Background(), "status projector stopped")
	return nil
}
