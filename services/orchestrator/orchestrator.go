// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the advisor service.
//
// # Description
//
// New wires the workspace store, the tool registry and executor, the intent
// router, the confirmation manager, the conversation context store and the
// streaming pipeline behind a gin router. Run serves HTTP and runs the
// confirmation sweep until its context ends.
//
// # Usage
//
//	svc, err := orchestrator.New(orchestrator.Config{Server: orchestrator.ServerConfig{Port: 12310}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

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
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/audit"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/confirmation"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/pipeline"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/responder"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/routing"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/tools"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/ttl"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/workspace"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultPort is the HTTP port when none is configured.
	DefaultPort = 12310

	// DefaultServiceName labels traces and the otelgin middleware.
	DefaultServiceName = "advisor-service"

	// DefaultShutdownTimeout bounds http.Server.Shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	// TracingStdout selects the stdout span exporter.
	TracingStdout = "stdout"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Classifier kinds.
const (
	ClassifierRules = "rules"
	ClassifierLLM   = "llm"
)

// =============================================================================
// Interfaces
// =============================================================================

// Service is the advisor HTTP service.
//
// # Description
//
// Run blocks until ctx ends or the server fails, then shuts down gracefully
// and releases every store. Router exposes the gin engine for tests.
//
// # Thread Safety
//
// Run must be called at most once. Router is safe to call at any time.
type Service interface {
	Run(ctx context.Context) error
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the service. Zero values select defaults.
type Config struct {
	Server       ServerConfig         `yaml:"server"`
	Routing      routing.Config       `yaml:"routing"`
	Confirmation ConfirmationConfig   `yaml:"confirmation"`
	Executor     tools.ExecutorConfig `yaml:"executor"`
	Pipeline     pipeline.Config      `yaml:"pipeline"`
	Storage      StorageConfig        `yaml:"storage"`
	Audit        AuditConfig          `yaml:"audit"`
	Tracing      TracingConfig        `yaml:"tracing"`
	Classifier   ClassifierConfig     `yaml:"classifier"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Port to listen on. Zero selects DefaultPort; use -1 for an ephemeral
	// port in tests.
	Port int `yaml:"port"`

	// AuthToken, when set, is required as a bearer token on /v1.
	AuthToken string `yaml:"auth_token,omitempty"`

	// AllowedOrigins restricts WebSocket origins. Empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	// Heartbeat is the SSE keepalive interval.
	Heartbeat time.Duration `yaml:"heartbeat"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ConfirmationConfig configures pending confirmations.
type ConfirmationConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// StorageConfig selects the workspace and conversation context backends.
type StorageConfig struct {
	// Workspace is "memory" or "sqlite".
	Workspace string `yaml:"workspace"`

	// SQLitePath is the workspace database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path,omitempty"`

	// SeedFile is a YAML seed loaded at startup. Empty uses the demo seed
	// for an empty workspace.
	SeedFile string `yaml:"seed_file,omitempty"`

	// Context is "memory" or "badger".
	Context string `yaml:"context"`

	// ContextDir is the BadgerDB directory for the badger backend.
	ContextDir string `yaml:"context_dir,omitempty"`

	// ContextLifetime is how long an idle conversation's context is kept.
	ContextLifetime time.Duration `yaml:"context_lifetime"`
}

// AuditConfig configures the confirmation audit log.
type AuditConfig struct {
	// LogPath is the hash-chained JSONL file. Empty keeps records in memory.
	LogPath string `yaml:"log_path,omitempty"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	// Endpoint is an OTLP gRPC address, "stdout", or empty for no export.
	Endpoint string `yaml:"endpoint,omitempty"`

	ServiceName string `yaml:"service_name"`
}

// ClassifierConfig selects the intent classifier.
type ClassifierConfig struct {
	// Kind is "rules" or "llm".
	Kind string `yaml:"kind"`

	OpenAIAPIKey string `yaml:"openai_api_key,omitempty"`
	Model        string `yaml:"model,omitempty"`
}

// =============================================================================
// Service Implementation
// =============================================================================

// service implements Service.
type service struct {
	config Config
	router *gin.Engine

	workspace workspace.Store
	contexts  conversation.Store
	sink      audit.Sink
	scheduler *ttl.Scheduler
	registry  *prometheus.Registry

	tracerCleanup func(context.Context)
}

// New creates a fully wired service.
//
// # Description
//
// Opens the configured stores, seeds the workspace, registers the built-in
// tools and builds the router, confirmation manager and pipeline. Nothing
// listens until Run.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if a store, the tracer or the classifier cannot start.
//     Anything already opened is closed.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if err := s.init(); err != nil {
		s.cleanup()
		return nil, err
	}
	return s, nil
}

func (s *service) init() error {
	ctx := context.Background()
	clock := ttl.NewSystemClock()

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(s.registry)

	if err := s.initWorkspace(ctx, clock); err != nil {
		return err
	}
	if err := s.initContexts(); err != nil {
		return err
	}
	if err := s.initAudit(); err != nil {
		return err
	}

	reg := tools.NewRegistry()
	if err := tools.RegisterDefaults(reg, tools.Deps{Store: s.workspace, Mailer: tools.LogMailer{}, Clock: clock}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	classifier, err := s.initClassifier(reg)
	if err != nil {
		return err
	}

	router := routing.NewRouter(routing.Deps{
		Classifier: classifier,
		Catalog:    reg,
		Source:     routing.StoreSource{Store: s.workspace},
		Clock:      clock,
		Metrics:    metrics,
	}, s.config.Routing)

	confirms := confirmation.NewManager(clock, s.sink, metrics, confirmation.Config{TTL: s.config.Confirmation.TTL})
	s.scheduler = ttl.NewScheduler(confirms, ttl.SchedulerConfig{
		Name:     "confirmations",
		Interval: s.config.Confirmation.SweepInterval,
	}, logSweep)

	executor := tools.NewExecutor(reg, clock, metrics, s.config.Executor)

	orch := pipeline.New(pipeline.Deps{
		Router:        router,
		Executor:      executor,
		Confirmations: confirms,
		Contexts:      s.contexts,
		Detector:      confirmation.NewRegexDetector(),
		Responder:     responder.New(clock),
		Clock:         clock,
		Metrics:       metrics,
	}, s.config.Pipeline)

	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(s.config.Tracing.ServiceName))
	routes.SetupRoutes(s.router, routes.Deps{
		Commands:      handlers.NewCommandHandler(orch, metrics, s.config.Server.Heartbeat),
		Upgrader:      handlers.NewUpgrader(s.config.Server.AllowedOrigins),
		Confirmations: confirms,
		Contexts:      s.contexts,
		Tools:         reg,
		Auth:          middleware.ProviderFor(s.config.Server.AuthToken),
		Gatherer:      s.registry,
	})
	return nil
}

// Run implements Service.
//
// # Description
//
// Serves HTTP and runs the sweep scheduler in an errgroup. When ctx ends,
// the server drains within Server.ShutdownTimeout and the scheduler stops.
// Stores, the audit log and the tracer are closed before Run returns.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              listenAddr(s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting advisor server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := s.scheduler.Start(gctx); err != nil {
			return fmt.Errorf("start sweep scheduler: %w", err)
		}
		<-gctx.Done()
		return s.scheduler.Stop()
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down advisor server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Helper Functions
// =============================================================================

// applyConfigDefaults fills zero-valued fields.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Heartbeat <= 0 {
		cfg.Server.Heartbeat = handlers.DefaultHeartbeatInterval
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Routing == (routing.Config{}) {
		cfg.Routing = routing.DefaultConfig()
	}
	if cfg.Confirmation.TTL <= 0 {
		cfg.Confirmation.TTL = confirmation.DefaultTTL
	}
	if cfg.Confirmation.SweepInterval <= 0 {
		cfg.Confirmation.SweepInterval = ttl.DefaultSweepInterval
	}
	if cfg.Executor == (tools.ExecutorConfig{}) {
		cfg.Executor = tools.DefaultExecutorConfig()
	}
	if cfg.Storage.Workspace == "" {
		cfg.Storage.Workspace = BackendMemory
	}
	if cfg.Storage.Context == "" {
		cfg.Storage.Context = BackendMemory
	}
	if cfg.Storage.ContextLifetime <= 0 {
		cfg.Storage.ContextLifetime = conversation.DefaultLifetime
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultServiceName
	}
	if cfg.Classifier.Kind == "" {
		cfg.Classifier.Kind = ClassifierRules
	}
	return cfg
}

// listenAddr maps a negative port to an ephemeral one.
func listenAddr(port int) string {
	if port < 0 {
		return "127.0.0.1:0"
	}
	return fmt.Sprintf(":%d", port)
}

func (s *service) initWorkspace(ctx context.Context, clock ttl.Clock) error {
	switch s.config.Storage.Workspace {
	case BackendMemory:
		s.workspace = workspace.NewMemoryStore()
	case BackendSQLite:
		store, err := workspace.OpenSQLiteStore(s.config.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open workspace: %w", err)
		}
		s.workspace = store
	default:
		return fmt.Errorf("unknown workspace backend %q", s.config.Storage.Workspace)
	}

	if s.config.Storage.SeedFile != "" {
		seed, err := workspace.LoadSeedFile(s.config.Storage.SeedFile)
		if err != nil {
			return err
		}
		if err := workspace.Seed(ctx, s.workspace, seed); err != nil {
			return fmt.Errorf("failed to seed workspace: %w", err)
		}
		slog.Info("Workspace seeded from file", "path", s.config.Storage.SeedFile)
		return nil
	}

	existing, err := s.workspace.ListClients(ctx, workspace.ClientFilter{})
	if err != nil {
		return fmt.Errorf("failed to read workspace: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	if err := workspace.Seed(ctx, s.workspace, workspace.DefaultSeed(clock.Now())); err != nil {
		return fmt.Errorf("failed to seed workspace: %w", err)
	}
	slog.Info("Empty workspace seeded with demo data", "backend", s.config.Storage.Workspace)
	return nil
}

func (s *service) initContexts() error {
	switch s.config.Storage.Context {
	case BackendMemory:
		s.contexts = conversation.NewMemoryStore(s.config.Storage.ContextLifetime)
	case BackendBadger:
		bcfg := conversation.DefaultBadgerConfig()
		bcfg.Path = s.config.Storage.ContextDir
		bcfg.Lifetime = s.config.Storage.ContextLifetime
		bcfg.Logger = slog.Default()
		store, err := conversation.OpenBadgerStore(bcfg)
		if err != nil {
			return fmt.Errorf("failed to open context store: %w", err)
		}
		s.contexts = store
	default:
		return fmt.Errorf("unknown context backend %q", s.config.Storage.Context)
	}
	return nil
}

func (s *service) initAudit() error {
	if s.config.Audit.LogPath == "" {
		s.sink = audit.NewMemorySink()
		return nil
	}
	sink, err := audit.OpenFileSink(s.config.Audit.LogPath)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	s.sink = sink
	return nil
}

func (s *service) initClassifier(catalog routing.Catalog) (routing.Classifier, error) {
	switch strings.ToLower(s.config.Classifier.Kind) {
	case ClassifierRules:
		return routing.NewRuleClassifier(nil), nil
	case ClassifierLLM:
		c, err := routing.NewOpenAIClassifier(s.config.Classifier.OpenAIAPIKey, s.config.Classifier.Model, catalog)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize classifier: %w", err)
		}
		s.config.Classifier.OpenAIAPIKey = ""
		slog.Info("Using LLM intent classifier", "model", s.config.Classifier.Model)
		return c, nil
	default:
		return nil, fmt.Errorf("unknown classifier %q", s.config.Classifier.Kind)
	}
}

// initTracer installs the global tracer provider.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()
	endpoint := s.config.Tracing.Endpoint

	if endpoint == "" {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))
		return func(context.Context) {}, nil
	}

	var exporter sdktrace.SpanExporter
	if endpoint == TracingStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	} else {
		conn, err := grpc.NewClient(endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(s.config.Tracing.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

// cleanup releases everything New opened. Safe on a partially built service.
func (s *service) cleanup() {
	if s.scheduler != nil {
		if err := s.scheduler.Stop(); err != nil {
			slog.Warn("Sweep scheduler stop error", "error", err)
		}
	}
	if s.contexts != nil {
		if err := s.contexts.Close(); err != nil {
			slog.Warn("Context store close error", "error", err)
		}
	}
	if s.workspace != nil {
		if err := s.workspace.Close(); err != nil {
			slog.Warn("Workspace close error", "error", err)
		}
	}
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			slog.Warn("Audit log close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

func logSweep(name string, result ttl.SweepResult, err error) {
	if err != nil {
		slog.Warn("Sweep failed", "sweeper", name, "error", err)
		return
	}
	if result.Removed > 0 {
		slog.Info("Sweep removed entries",
			"sweeper", name,
			"expired", result.Expired,
			"removed", result.Removed,
			"duration_ms", result.DurationMs())
	}
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var _ Service = (*service)(nil)
