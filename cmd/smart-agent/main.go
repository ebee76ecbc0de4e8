package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/target/smart-agent/config"
	"github.com/target/smart-agent/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		bootstrap.InitLogger("info").ErrorContext(ctx, "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}

	logger := bootstrap.InitLogger(cfg.LogLevel)
	if err := run(ctx, logger, &cfg); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) (err error) {
	// Log startup info
	logStartupInfo(ctx, logger, cfg)

	// Validate configuration
	if err = bootstrap.ValidateServiceConfig(cfg); err != nil {
		return err
	}

	// Initialize infrastructure
	handle, err := bootstrap.OpenJobRecordStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close job record store failed", "error", cerr)
		}
	}()

	deps := &bootstrap.ServiceDeps{
		Config: cfg,
		Store:  handle.Store,
		Ready:  handle.Ping,
		Logger: logger,
	}
	if cfg.IsHTTPServerEnabled() {
		conv, convErr := bootstrap.BuildConversation(cfg, logger)
		if convErr != nil {
			return convErr
		}
		deps.Conversation = conv
	}

	// Initialize and run services
	services, err := bootstrap.NewServices(deps)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := services.Observability.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close metrics client failed", "error", cerr)
		}
	}()
	// Covers exits that bypass graceful shutdown; a completed sweep is not repeated.
	defer func() {
		if services.Cleanup == nil {
			return
		}
		if _, serr := services.Cleanup.Sweep(context.WithoutCancel(ctx)); serr != nil && err == nil {
			err = serr
		}
	}()

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:   cfg,
		Services: services,
		Logger:   logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	enabledServices := bootstrap.GetEnabledServices(cfg)
	logger.InfoContext(ctx, "starting smart-agent service",
		"agent", cfg.Agent.Name,
		"agent_type", cfg.Agent.Type,
		"environment", cfg.Agent.Environment,
		"variant", cfg.Agent.Variant,
		"store", cfg.Store.Backend,
		"concurrency_limit", cfg.Agent.ConcurrencyLimit,
		"enabled_services", enabledServices)
}
