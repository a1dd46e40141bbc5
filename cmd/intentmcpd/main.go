package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"IntentMCP/internal/auth"
	"IntentMCP/internal/backend"
	"IntentMCP/internal/config"
	"IntentMCP/internal/intent"
	"IntentMCP/internal/observability/alerting"
	"IntentMCP/internal/observability/metrics"
	"IntentMCP/internal/tools"
	"IntentMCP/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("intentmcpd failed: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	client, err := buildBackend(cfg)
	if err != nil {
		return err
	}

	publisher, err := buildPublisher(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.L().Warn("close event publisher failed", "error", err)
		}
	}()

	engineOpts := []intent.EngineOption{
		intent.WithPublisher(publisher),
		intent.WithBackendTimeout(config.Duration(cfg.Backend.Timeout, 30*time.Second)),
	}
	if cfg.Alerts.WebhookURL != "" {
		dispatcher := alerting.NewFanout(&alerting.WebhookNotifier{URL: cfg.Alerts.WebhookURL})
		engineOpts = append(engineOpts, intent.WithAlertDispatcher(dispatcher))
	}

	engine, err := intent.NewEngine(store, client, engineOpts...)
	if err != nil {
		return err
	}

	service, err := tools.NewService(engine, client, cfg.Server.Version)
	if err != nil {
		return err
	}

	authService, err := auth.NewService(auth.Config{
		Mode:   auth.Mode(cfg.Auth.Mode),
		Tokens: authTokens(cfg),
	})
	if err != nil {
		return err
	}

	if cfg.Server.MetricsAddr != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddr); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("metrics server exited", "error", err)
			}
		}()
	}

	server, err := tools.NewServer(cfg.Server.Address, service, authService, cfg.Server.Name, cfg.Server.Version)
	if err != nil {
		return err
	}

	logger.L().Info("intentmcpd starting",
		"address", cfg.Server.Address,
		"store", cfg.Storage.IntentStore.Driver,
		"events", cfg.Events.Driver,
		"backend", cfg.Backend.BaseURL,
	)
	return server.Start(ctx)
}

func buildStore(cfg *config.Config) (intent.Store, error) {
	switch cfg.Storage.IntentStore.Driver {
	case "", "memory":
		return intent.NewMemoryStore(), nil
	case "mysql":
		return intent.NewMySQLStore(intent.MySQLConfig{
			DSN:             cfg.Storage.IntentStore.DSN,
			MaxOpenConns:    cfg.Storage.IntentStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.IntentStore.MaxIdleConns,
			ConnMaxLifetime: config.Duration(cfg.Storage.IntentStore.ConnMaxLifetime, 10*time.Minute),
		})
	default:
		return nil, fmt.Errorf("unknown intent store driver: %s", cfg.Storage.IntentStore.Driver)
	}
}

func buildBackend(cfg *config.Config) (*backend.Client, error) {
	var tokens backend.TokenSource
	if cfg.Backend.OAuth.Enabled {
		source, err := backend.NewOAuthTokenSource(backend.OAuthConfig{
			TokenURL:     cfg.Backend.OAuth.TokenURL,
			ClientID:     cfg.Backend.OAuth.ClientID,
			ClientSecret: cfg.Backend.OAuth.ClientSecret,
			Username:     cfg.Backend.OAuth.Username,
			Password:     cfg.Backend.OAuth.Password,
			Scope:        cfg.Backend.OAuth.Scope,
		}, nil)
		if err != nil {
			return nil, err
		}
		tokens = source
	} else if cfg.Backend.StaticToken != "" {
		tokens = backend.StaticTokenSource(cfg.Backend.StaticToken)
	}

	return backend.NewClient(backend.Config{
		BaseURL:         cfg.Backend.BaseURL,
		Timeout:         config.Duration(cfg.Backend.Timeout, 30*time.Second),
		MaxAttempts:     cfg.Backend.MaxAttempts,
		RetryBackoff:    config.Duration(cfg.Backend.RetryBackoff, 500*time.Millisecond),
		RetryBackoffCap: config.Duration(cfg.Backend.RetryBackoffCap, 5*time.Second),
	}, tokens, nil)
}

func buildPublisher(cfg *config.Config) (intent.Publisher, error) {
	switch cfg.Events.Driver {
	case "", "memory":
		return intent.NewMemoryPublisher(1024), nil
	case "redis":
		return intent.NewRedisPublisher(intent.RedisPublisherConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Stream:   cfg.Events.Redis.Stream,
			MaxLen:   cfg.Events.Redis.MaxLen,
		})
	case "rabbitmq":
		return intent.NewRabbitMQPublisher(intent.RabbitMQPublisherConfig{
			URL:        cfg.Events.RabbitMQ.URL,
			Queue:      cfg.Events.RabbitMQ.Queue,
			Durable:    cfg.Events.RabbitMQ.Durable,
			AutoDelete: cfg.Events.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("unknown event driver: %s", cfg.Events.Driver)
	}
}

func authTokens(cfg *config.Config) []auth.TokenEntry {
	entries := make([]auth.TokenEntry, 0, len(cfg.Auth.Tokens))
	for _, token := range cfg.Auth.Tokens {
		entries = append(entries, auth.TokenEntry{Subject: token.Subject, Token: token.Token})
	}
	return entries
}
