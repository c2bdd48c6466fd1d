package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxpanel/workflow-engine/pkg/clients/durable"
	"github.com/fluxpanel/workflow-engine/pkg/config"
	"github.com/fluxpanel/workflow-engine/pkg/db"
	"github.com/fluxpanel/workflow-engine/pkg/handlestore"
	"github.com/fluxpanel/workflow-engine/pkg/metrics"
	"github.com/fluxpanel/workflow-engine/pkg/remotetask"
	"github.com/fluxpanel/workflow-engine/pkg/remotetask/localrunner"
	"github.com/fluxpanel/workflow-engine/pkg/remotetask/mediarunner"
	"github.com/fluxpanel/workflow-engine/pkg/remotetask/openairunner"
	"github.com/fluxpanel/workflow-engine/pkg/tracing"
	"github.com/fluxpanel/workflow-engine/services/assets"
	"github.com/fluxpanel/workflow-engine/services/nodes"
	"github.com/fluxpanel/workflow-engine/services/storage"
	"github.com/fluxpanel/workflow-engine/services/workflow"
)

func main() {
	ctx := context.Background()
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(logHandler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return
	}

	if _, err := tracing.NewProvider("workflow-engine"); err != nil {
		slog.Error("failed to set up tracing", "error", err)
		return
	}

	dbCfg := db.DefaultConfig(cfg.DatabaseURL)
	pool, err := db.Connect(ctx, dbCfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		return
	}
	defer pool.Close()

	pgStore, err := storage.NewInstance(pool)
	if err != nil {
		slog.Error("failed to create store instance", "error", err)
		return
	}

	taskStore := newHandleStore(cfg)

	durableClient := durable.NewClient(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, nil)
	assetStore := assets.NewStorageStore(pgStore)
	assetPersister := assets.New(durableClient, assetStore)

	fallback := localrunner.New()
	taskRunner := remotetask.NewClient(
		remoteBackends(cfg, taskStore),
		fallback,
		remotetask.WithPollInterval(cfg.PollInterval),
		remotetask.WithTaskTimeout(cfg.TaskTimeout),
	)

	deps := nodes.Deps{Tasks: taskRunner, Assets: assetPersister}

	workflowMetrics := metrics.New(prometheus.DefaultRegisterer)
	workflowService, err := workflow.NewService(pgStore, deps, workflow.WithMetrics(workflowMetrics))
	if err != nil {
		slog.Error("failed to create workflow service", "error", err)
		return
	}

	mainRouter := mux.NewRouter()
	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()
	workflowService.LoadRoutes(apiRouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins([]string{"http://localhost:3003"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-User-ID"}),
		handlers.AllowCredentials(),
	)(mainRouter)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: corsHandler,
	}

	if cfg.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)

	case sig := <-shutdown:
		slog.Info("shutdown signal received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("could not stop server gracefully", "error", err)
			srv.Close()
		}
	}
}

// newHandleStore selects the Redis-backed handle store when REDIS_ADDR is
// configured, falling back to an in-process map otherwise.
func newHandleStore(cfg config.Config) handlestore.Store {
	if cfg.RedisAddr == "" {
		return handlestore.NewMemoryStore()
	}
	return handlestore.NewRedisStore(handlestore.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// remoteBackends maps compute task names to their concrete runner, or
// returns an empty map (so every task falls through to the local backend)
// when remote dispatch is disabled.
func remoteBackends(cfg config.Config, taskStore handlestore.Store) map[string]remotetask.Backend {
	if !cfg.TriggerEnabled {
		return map[string]remotetask.Backend{}
	}

	backends := map[string]remotetask.Backend{}

	if cfg.OpenAIAPIKey != "" {
		llmBackend := openairunner.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, taskStore)
		backends["llm-execute"] = llmBackend
	}

	if cfg.MediaTaskBaseURL != "" {
		mediaBackend := mediarunner.New(cfg.MediaTaskBaseURL, nil, taskStore)
		backends["crop-image"] = mediaBackend
		backends["extract-frame"] = mediaBackend
		backends["generate-image"] = mediaBackend
	}

	return backends
}
