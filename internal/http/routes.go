package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/target/smart-agent/internal/domain/model"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Runner  TaskRunner
	Aborter JobAborter
	Status  StatusReader
	// Scope restricts job listings to this agent's records.
	Scope model.Tags
	// ServiceName is reported by the /status health probe.
	ServiceName string
	// MaxBodyBytes caps request bodies; zero disables the cap.
	MaxBodyBytes int64
	// Ready is probed by /healthz; nil always reports ready.
	Ready  func(context.Context) error
	Logger *slog.Logger // optional
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := services.ServiceName
	if name == "" {
		name = "agent"
	}

	jobHandlers := &JobHandlers{
		Runner:  services.Runner,
		Aborter: services.Aborter,
		Status:  services.Status,
		Scope:   services.Scope,
		Logger:  logger,
	}
	registerJobRoutes(mux, jobHandlers, services.MaxBodyBytes)

	mux.Handle("GET /status", serviceHealthHandler(name))
	ready := readinessHandler(services.Ready, logger)
	mux.Handle("GET /healthz", ready)
	mux.Handle("HEAD /healthz", ready)

	return mux
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers, maxBody int64) {
	if h.Runner != nil {
		mux.Handle("POST /execute", LimitBody(maxBody)(http.HandlerFunc(h.Execute)))
	}
	if h.Aborter != nil {
		mux.HandleFunc("POST /abort/{id}", h.Abort)
		mux.HandleFunc("POST /abort", h.Abort)
	}
	if h.Status != nil {
		mux.HandleFunc("GET /status/{id}", h.GetStatus)
		mux.HandleFunc("GET /task-status", h.GetStatus)
		mux.HandleFunc("GET /jobs", h.ListJobs)
		mux.HandleFunc("GET /capacity", h.Capacity)
	}
}
