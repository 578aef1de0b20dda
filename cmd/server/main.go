package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-context-service/internal/api"
	"github.com/teresa-solution/tenant-context-service/internal/audit"
	"github.com/teresa-solution/tenant-context-service/internal/binder"
	"github.com/teresa-solution/tenant-context-service/internal/config"
	"github.com/teresa-solution/tenant-context-service/internal/crypto"
	"github.com/teresa-solution/tenant-context-service/internal/monitoring"
	"github.com/teresa-solution/tenant-context-service/internal/override"
	"github.com/teresa-solution/tenant-context-service/internal/service"
	"github.com/teresa-solution/tenant-context-service/internal/session"
	"github.com/teresa-solution/tenant-context-service/internal/store"
	"github.com/teresa-solution/tenant-context-service/internal/tenant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.NewPool(ctx, store.PoolConfig{
		DSN:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
		MaxConnIdleTime: cfg.DBMaxConnIdleTime,
		SessionKeys:     []string{cfg.IsolationSetting, cfg.BypassSetting},
		RetryAttempts:   5,
		RetryInterval:   2 * time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	rdb, err := store.ConnectRedis(ctx, cfg.RedisURL, 5, 2*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer rdb.Close()

	auditStore, err := store.NewAuditStore(cfg.AuditDatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to audit database")
	}
	defer auditStore.Close()

	sealer, err := crypto.NewSealer([]byte(cfg.SessionSealingKey))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create session sealer")
	}

	// Initialize metrics
	monitoring.InitMetrics()

	auditor := audit.NewAuditor(auditStore, cfg.AuditBufferSize)
	directory := store.NewDirectory(pool, rdb)

	cache := tenant.NewDirectoryCache(cfg.TenantCacheTTL, cfg.TenantCacheSize)
	resolver := tenant.NewResolver(directory, cache,
		tenant.WithBaseDomain(cfg.BaseDomain),
		tenant.WithPublicPaths(cfg.PublicPaths),
	)

	overrides := override.NewController(store.NewOverrideStore(rdb), directory, auditor,
		override.WithMaxDuration(cfg.OverrideMaxDuration),
	)
	sessions := session.NewManager(store.NewSessionStore(rdb, sealer), directory, auditor,
		session.NewTokenCodec([]byte(cfg.SessionSigningKey)),
		session.WithLifetime(cfg.SessionLifetime),
		session.WithOverrideClearer(overrides),
	)
	scopes := binder.NewBinder(pool,
		binder.WithSettings(cfg.IsolationSetting, cfg.BypassSetting),
		binder.WithOverrideLimit(cfg.OverrideMaxDuration),
	)
	lifecycle := service.NewLifecycleService(directory, resolver)

	go func() {
		if err := store.SubscribeInvalidations(ctx, rdb, resolver.InvalidateTenant); err != nil {
			log.Error().Err(err).Msg("Tenant invalidation subscriber stopped")
		}
	}()

	// gRPC server
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		binder.UnaryServerInterceptor(resolver, sessions, overrides,
			"/grpc.health.v1.Health/", "/grpc.reflection."),
	))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	go func() {
		log.Info().Msgf("gRPC server listening at %v", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("Failed to start gRPC server")
		}
	}()

	// HTTP API
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(resolver, scopes, sessions, overrides, lifecycle).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Msgf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Health checks and metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Msgf("HTTP server for health checks and metrics started on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Metrics server shutdown failed")
	}
	grpcServer.GracefulStop()
	if err := auditor.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Audit queue not drained")
	}
	log.Info().Msg("Server exiting")
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
