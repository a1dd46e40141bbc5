package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"IntentMCP/internal/config"
	"IntentMCP/internal/tmfmock"
	"IntentMCP/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("tmfmockd failed: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	server, err := tmfmock.NewServer(tmfmock.Config{
		Addr:         cfg.Mock.Address,
		MappingsPath: cfg.Mock.MappingsPath,
	})
	if err != nil {
		return err
	}

	logger.L().Info("tmfmockd starting", "address", cfg.Mock.Address)
	return server.Start(ctx)
}
