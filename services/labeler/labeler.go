// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package labeler wires the labeling-rule service together.
//
// # Description
//
// NewApp builds the storage, search and labeling components from a
// config.Config. The CLI uses an App directly; NewServer puts the HTTP API,
// the otelgin middleware and the tracer in front of it.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	app, err := labeler.NewApp(ctx, cfg, slog.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Close()
//	srv, err := labeler.NewServer(ctx, app)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = srv.Run(ctx)
package labeler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/config"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/labeling"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/observability"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/routes"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/search"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const shutdownTimeout = 10 * time.Second

// App holds the constructed components of the labeler.
//
// # Thread Safety
//
// All components are safe for concurrent use once NewApp returns.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	DB       *storage.DB
	Datasets *storage.DatasetStore
	Records  *storage.RecordStore
	Searcher search.Searcher
	Indexer  search.Indexer
	Labeling *labeling.Service
	Metrics  *observability.LabelingMetrics
	Registry *prometheus.Registry
}

// NewApp opens storage and builds the search engine and labeling service.
//
// # Description
//
// The "local" backend evaluates rules over records kept in badger next to
// the datasets. The "weaviate" backend connects to WeaviateURL, creates the
// record class if missing, and indexes and searches records there.
//
// # Inputs
//
//   - ctx: Bounds the Weaviate schema check.
//   - cfg: Validated configuration.
//   - logger: Destination for component logs. Nil uses slog.Default().
//
// # Outputs
//
//   - *App: Ready components. Call Close when done.
//   - error: Storage or Weaviate initialization failure.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dbCfg := storage.DefaultConfig(cfg.Storage.Path)
	if cfg.Storage.InMemory {
		dbCfg = storage.InMemoryConfig()
	}
	dbCfg.SyncWrites = cfg.Storage.SyncWrites && !cfg.Storage.InMemory
	dbCfg.GCInterval = cfg.Storage.GCInterval
	dbCfg.Logger = logger

	db, err := storage.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	app := &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Datasets: storage.NewDatasetStore(db),
		Records:  storage.NewRecordStore(db),
		Registry: prometheus.NewRegistry(),
	}
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.Metrics = observability.NewLabelingMetrics(app.Registry)

	if err := app.initSearch(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	app.Labeling = labeling.NewService(app.Datasets, app.Searcher,
		labeling.WithMetrics(app.Metrics),
		labeling.WithLogger(logger))

	logger.Info("Labeler initialized",
		"search_backend", cfg.Search.Backend,
		"in_memory", cfg.Storage.InMemory)
	return app, nil
}

func (a *App) initSearch(ctx context.Context) error {
	switch a.Config.Search.Backend {
	case config.BackendWeaviate:
		client, err := search.NewWeaviateClient(a.Config.Search.WeaviateURL)
		if err != nil {
			return err
		}
		if err := search.EnsureSchema(ctx, client, a.Config.Search.ClassName); err != nil {
			return fmt.Errorf("failed to prepare weaviate schema: %w", err)
		}
		engine := search.NewWeaviateEngine(client, search.WeaviateOptions{
			ClassName:   a.Config.Search.ClassName,
			Concurrency: a.Config.Search.Concurrency,
		})
		a.Searcher, a.Indexer = engine, engine
		a.Logger.Info("Weaviate search backend initialized", "url", a.Config.Search.WeaviateURL)
	case config.BackendLocal:
		engine := search.NewLocalEngine(a.Records)
		a.Searcher, a.Indexer = engine, engine
	default:
		return fmt.Errorf("unknown search backend %q", a.Config.Search.Backend)
	}
	return nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}

// Server is the HTTP front of an App.
type Server struct {
	app           *App
	router        *gin.Engine
	tracerCleanup func(context.Context)
}

// NewServer builds the router and starts the tracer.
//
// # Description
//
// Spans are exported according to Telemetry.Exporter. With "none" they go
// to the global no-op provider.
//
// # Outputs
//
//   - *Server: Server ready for Run or Serve.
//   - error: Non-nil if the trace exporter cannot be created.
func NewServer(ctx context.Context, app *App) (*Server, error) {
	cleanup, err := initTracer(ctx, app.Config.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(app.Config.Telemetry.ServiceName))
	routes.SetupRoutes(router, app.Datasets, app.Labeling, app.Registry)

	return &Server{app: app, router: router, tracerCleanup: cleanup}, nil
}

// Router returns the underlying Gin engine for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run listens on the configured port and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.app.Config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.app.Config.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is done, then shuts down gracefully.
//
// # Outputs
//
//   - error: nil after a clean shutdown, otherwise the server error.
//
// # Limitations
//
//   - In-flight requests get shutdownTimeout to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.tracerCleanup(context.Background())

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.app.Logger.Info("Starting labeler server", "addr", ln.Addr().String())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.app.Logger.Info("Shutting down labeler server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// initTracer installs a tracer provider for the configured exporter.
//
// # Description
//
// "otlp" exports over gRPC to OTLPEndpoint, "stdout" pretty-prints spans,
// and "none" leaves the global no-op provider in place.
//
// # Limitations
//
//   - The OTLP connection is insecure (internal networks only).
func initTracer(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context), error) {
	var (
		exporter sdktrace.SpanExporter
		closers  []func() error
		err      error
	)

	switch cfg.Exporter {
	case config.ExporterNone, "":
		return func(context.Context) {}, nil
	case config.ExporterOTLP:
		conn, connErr := grpc.NewClient(cfg.OTLPEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if connErr != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", connErr)
		}
		closers = append(closers, conn.Close)
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	case config.ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		closeAll(closers)
	}, nil
}

func closeAll(closers []func() error) {
	for _, c := range closers {
		if err := c(); err != nil {
			slog.Warn("failed to close telemetry connection", "error", err)
		}
	}
}
