package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/target/smart-agent/config"
	"github.com/target/smart-agent/internal/adapters/reaper"
	"github.com/target/smart-agent/internal/adapters/webhook"
	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
	"github.com/target/smart-agent/internal/observability/notify/pagerduty"
	"github.com/target/smart-agent/internal/observability/notify/slack"
	"github.com/target/smart-agent/internal/observability/statsd"
	"github.com/target/smart-agent/internal/service"
	"github.com/target/smart-agent/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Orchestrator *service.OrchestratorService
	Admission    *service.AdmissionService
	Abort        *service.AbortService
	Status       *service.StatusService
	Cleanup      *service.CleanupService
	Notifier     *webhook.Notifier
	Store        core.JobRecordStore
	Ready        func(context.Context) error

	// Tags are stamped on every record this process creates; Scope is the
	// subset used for capacity counting, listing, and sweeps.
	Tags          model.Tags
	Scope         model.Tags
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	// MetricsSink is nil when metrics are disabled.
	MetricsSink     statsd.Sink
	metricsClient   *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// Close releases the metrics connection.
func (o ObservabilityContainer) Close() error {
	if o.metricsClient == nil {
		return nil
	}
	return o.metricsClient.Close()
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config       *config.AppConfig
	Store        core.JobRecordStore
	Conversation service.TurnRunner
	// Ready backs the /healthz readiness probe; optional.
	Ready  func(context.Context) error
	Logger *slog.Logger
}

// AgentTags returns the tags this process stamps on its records.
func AgentTags(cfg config.AgentConfig) model.Tags {
	return model.Tags{AgentName: cfg.Name, AgentType: cfg.Type, Environment: cfg.Environment}
}

// AgentScope returns the tags that scope capacity, listing, and sweeps.
func AgentScope(cfg config.AgentConfig) model.Tags {
	return model.Tags{AgentName: cfg.Name, Environment: cfg.Environment}
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg *config.AppConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	obs := ObservabilityContainer{
		MetricsConfig:  cfg.Observability.Metrics,
		NotifierConfig: cfg.Observability.Notifications,
	}

	if cfg.Observability.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Observability.Metrics.StatsdAddress,
			Prefix:  cfg.Observability.Metrics.Prefix,
			Logger:  obsLogger,
			GlobalTags: map[string]string{
				"agent":       cfg.Agent.Name,
				"environment": cfg.Agent.Environment,
			},
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			obs.metricsClient = client
			obs.MetricsSink = client
		}
	}

	obs.FailureNotifier = buildFailureNotifier(obsLogger, cfg.Observability.Notifications)
	return obs
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger.With("component", "failure_notifier"),
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:      cfg.Slack.WebhookURL,
			Channel:         cfg.Slack.Channel,
			Username:        cfg.Slack.Username,
			Timeout:         cfg.Timeout,
			RetryLimit:      cfg.RetryLimit,
			StatusURLPrefix: cfg.Slack.StatusURLPrefix,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger:      baseLogger.With("component", "failure_notifier"),
		Sinks:       sinks,
		SinkTimeout: cfg.Timeout * time.Duration(cfg.RetryLimit+1),
	})
}

func buildWebhookNotifier(cfg *config.AppConfig, metrics statsd.Sink, logger *slog.Logger) (*webhook.Notifier, error) {
	sender, err := webhook.NewSender(webhook.Config{
		Timeout:    cfg.Webhook.Timeout,
		RetryLimit: cfg.Webhook.RetryLimit,
		AuthHeader: cfg.Webhook.AuthHeader,
		AuthToken:  cfg.Webhook.AuthToken,
		BodyExpr:   cfg.Webhook.BodyExpr,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook sender: %w", err)
	}
	return webhook.NewNotifier(webhook.NotifierOptions{
		Sender:       sender,
		DefaultURL:   cfg.Webhook.DefaultURL,
		Shards:       cfg.Webhook.Shards,
		QueueSize:    cfg.Webhook.QueueSize,
		SendTimeout:  cfg.Webhook.Timeout * time.Duration(cfg.Webhook.RetryLimit+1),
		DrainTimeout: cfg.Cleanup.Timeout,
		Metrics:      metrics,
		Logger:       logger,
	})
}

// NewServices builds the job runner services around an opened store and conversation.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	if deps.Store == nil {
		return ServiceContainer{}, errors.New("job record store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	obs := buildObservability(logger, cfg)
	tags := AgentTags(cfg.Agent)
	scope := AgentScope(cfg.Agent)

	notifier, err := buildWebhookNotifier(cfg, obs.MetricsSink, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	admission, err := service.NewAdmissionService(service.AdmissionServiceOptions{
		Store:   deps.Store,
		Config:  service.AdmissionConfig{Limit: cfg.Agent.ConcurrencyLimit, Scope: scope},
		Logger:  logger,
		Metrics: obs.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create admission service: %w", err)
	}

	container := ServiceContainer{
		Admission:     admission,
		Notifier:      notifier,
		Store:         deps.Store,
		Ready:         deps.Ready,
		Tags:          tags,
		Scope:         scope,
		Observability: obs,
	}

	if container.Abort, err = service.NewAbortService(service.AbortServiceOptions{
		Store:   deps.Store,
		Logger:  logger,
		Metrics: obs.MetricsSink,
	}); err != nil {
		return ServiceContainer{}, fmt.Errorf("create abort service: %w", err)
	}

	if container.Status, err = service.NewStatusService(service.StatusServiceOptions{
		Store:     deps.Store,
		Admission: admission,
	}); err != nil {
		return ServiceContainer{}, fmt.Errorf("create status service: %w", err)
	}

	// Only processes that accept jobs own in-progress records; a reaper-only
	// process must not sweep records held by live HTTP replicas.
	if cfg.IsHTTPServerEnabled() {
		if container.Cleanup, err = service.NewCleanupService(service.CleanupServiceOptions{
			Store: deps.Store,
			Config: service.CleanupConfig{
				Scope:       scope,
				Timeout:     cfg.Cleanup.Timeout,
				Concurrency: cfg.Cleanup.Concurrency,
			},
			Logger:  logger,
			Metrics: obs.MetricsSink,
		}); err != nil {
			return ServiceContainer{}, fmt.Errorf("create cleanup service: %w", err)
		}
	}

	// Without a conversation only the read, abort, and reaper paths are available.
	if deps.Conversation == nil {
		return container, nil
	}

	worker, err := service.NewWorkerService(service.WorkerServiceOptions{
		Conversation: deps.Conversation,
		Notifier:     notifier,
		Logger:       logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create worker service: %w", err)
	}

	container.Orchestrator, err = service.NewOrchestratorService(service.OrchestratorServiceOptions{
		Deps: service.OrchestratorDeps{
			Admission: admission,
			Worker:    worker,
			Store:     deps.Store,
			Notifier:  notifier,
			Failures:  obs.FailureNotifier,
			Metrics:   obs.MetricsSink,
		},
		Config: service.OrchestratorConfig{
			Tags:      tags,
			Variant:   deps.Conversation.Variant().Name,
			RecordTTL: cfg.Store.RecordTTL,
		},
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create orchestrator service: %w", err)
	}

	return container, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode   config.ServiceMode
	name   string
	start  func(context.Context) error
	always bool // start regardless of the enabled modes
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
		ErrCh:    deps.errCh,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || (!descriptor.always && !deps.enabledServices[descriptor.mode]) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name,
					"error", errMsg,
				)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var reaperCfg config.ReaperConfig
			if deps.cfg.Config != nil {
				reaperCfg = deps.cfg.Config.Reaper
			}
			runner, err := reaper.NewRunner(reaper.RunnerOptions{
				Store:   deps.cfg.Services.Store,
				Config:  reaperCfg,
				Scope:   deps.cfg.Services.Scope,
				Logger:  deps.logger,
				Metrics: deps.cfg.Services.Observability.MetricsSink,
			})
			if err != nil {
				return err
			}
			return runner.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newReaperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// startNotifier runs webhook delivery on its own context so notifications queued
// by requests still draining during shutdown are sent.
func startNotifier(deps *serviceStartupDeps) (backgroundServiceHandle, context.CancelFunc) {
	notifier := deps.cfg.Services.Notifier
	if notifier == nil {
		return backgroundServiceHandle{}, func() {}
	}
	notifierCtx, stop := context.WithCancel(context.WithoutCancel(deps.ctx))
	done := launchBackground(notifierCtx, deps, backgroundService{
		always: true,
		name:   "webhook notifier",
		start:  notifier.Run,
	})
	return backgroundServiceHandle{name: "webhook notifier", done: done}, stop
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}
	notifierHandle, stopNotifier := startNotifier(deps)
	defer stopNotifier()
	result := startServices(deps)

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		cancel:       cancel,
		errCh:        errCh,
		httpServer:   result.HTTPServer,
		httpTimeout:  cfg.Config.HTTP.ShutdownTimeout,
		cleanup:      cfg.Services.Cleanup,
		stopNotifier: stopNotifier,
		notifier:     notifierHandle,
		logger:       logger,
		backgrounds:  result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

// errorChannelBufferSize leaves one slot for the always-on webhook notifier.
func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel       context.CancelFunc
	errCh        <-chan error
	httpServer   *http.Server
	httpTimeout  time.Duration
	cleanup      *service.CleanupService
	stopNotifier context.CancelFunc
	notifier     backgroundServiceHandle
	logger       *slog.Logger
	backgrounds  []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		cfg.logger.Info("shutting down services...", "signal", sig.String())
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop drains HTTP, stops background loops, sweeps this process's
// in-progress records, and finally flushes queued webhooks.
func gracefulStop(cfg shutdownConfig) error {
	var stopErr error

	if cfg.httpServer != nil {
		if err := ShutdownHTTPServer(ShutdownConfig{
			Server:  cfg.httpServer,
			Timeout: cfg.httpTimeout,
			Logger:  cfg.logger,
		}); err != nil {
			stopErr = errors.Join(stopErr, err)
		}
	}

	if cfg.cancel != nil {
		cfg.cancel()
	}
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	if cfg.cleanup != nil {
		if _, err := cfg.cleanup.Sweep(context.Background()); err != nil {
			stopErr = errors.Join(stopErr, fmt.Errorf("cleanup sweep: %w", err))
		}
	}

	if cfg.stopNotifier != nil {
		cfg.stopNotifier()
	}
	waitForService(cfg.notifier.done, cfg.notifier.name, cfg.logger)

	return stopErr
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
