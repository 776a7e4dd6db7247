package notificationservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-notify-service/internal/api"
	"github.com/tinywideclouds/go-notify-service/internal/pipeline"
	"github.com/tinywideclouds/go-notify-service/notificationservice/config"
	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

// Drainer waits for background work, such as pending log writes, to finish.
type Drainer interface {
	Wait()
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[dispatch.DispatchRequest]
	metricsServer   *http.Server
	drainer         Drainer
	logger          *slog.Logger
}

// New assembles the service. consumer may be nil, in which case only the
// HTTP entry point is served.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	dispatcher pipeline.RequestDispatcher,
	registry dispatch.TokenRegistry,
	drainer Drainer,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Pipeline (optional Pub/Sub ingress)
	var streamingService *messagepipeline.StreamingService[dispatch.DispatchRequest]
	if consumer != nil {
		processor := pipeline.NewProcessor(dispatcher, logger)

		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.DispatchRequestTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 3. APIs
	dispatchAPI := api.NewDispatchAPI(dispatcher, logger)
	tokenAPI := api.NewTokenAPI(registry, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// 1. Dispatch
	handle("POST /api/v1/notify", dispatchAPI.Notify)

	// 2. Registration Paths
	handle("POST /api/v1/register/fcm", tokenAPI.RegisterFCM)
	handle("POST /api/v1/register/apns", tokenAPI.RegisterAPNS)
	handle("POST /api/v1/unregister/fcm", tokenAPI.UnregisterFCM)

	// 3. Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Just returns 200 OK with CORS headers handled by middleware
	})))

	// 4. Metrics on their own listener
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	}

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		metricsServer:   metricsServer,
		drainer:         drainer,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	if w.metricsServer != nil {
		go func() {
			w.logger.Info("Metrics HTTP server starting", "address", w.metricsServer.Addr)
			if err := w.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				w.logger.Error("Metrics HTTP server failed", "err", err)
			}
		}()
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	if w.metricsServer != nil {
		if err := w.metricsServer.Shutdown(ctx); err != nil {
			w.logger.Error("Metrics server shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if w.drainer != nil {
		w.logger.Info("Waiting for pending notification logs...")
		w.drainer.Wait()
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
