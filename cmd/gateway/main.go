// Package main composes the gateway's eleven components and ambient
// infrastructure into a running HTTP server.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sllogging "github.com/r3e-network/gateway-core/infrastructure/logging"
	slmetrics "github.com/r3e-network/gateway-core/infrastructure/metrics"
	slmiddleware "github.com/r3e-network/gateway-core/infrastructure/middleware"
	"github.com/r3e-network/gateway-core/infrastructure/runtime"
	"github.com/r3e-network/gateway-core/internal/authn"
	"github.com/r3e-network/gateway-core/internal/authz"
	"github.com/r3e-network/gateway-core/internal/bridge"
	"github.com/r3e-network/gateway-core/internal/proxy"
	"github.com/r3e-network/gateway-core/internal/registry"
	"github.com/r3e-network/gateway-core/internal/router"
	"github.com/r3e-network/gateway-core/internal/scheduler"
	"github.com/r3e-network/gateway-core/internal/streamhub"
	"github.com/r3e-network/gateway-core/internal/threadpool"
	"github.com/r3e-network/gateway-core/internal/tracker"
)

var errSchedulerStopped = errors.New("scheduler is not running")

func main() {
	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	cfg := loadConfig()
	logger := sllogging.NewFromEnv("gateway")

	requireSecret(cfg.jwtSecret, "JWT_SECRET_KEY")
	requireSecret(cfg.internalSecret, "INTERNAL_SECRET_KEY")

	var metricsCollector *slmetrics.Metrics
	if slmetrics.Enabled() {
		metricsCollector = slmetrics.Init("gateway")
	} else {
		metricsCollector = slmetrics.New("gateway")
	}

	// --- C1/C2: registry and load-balanced instance selection ---
	reg := registry.New(logger, metricsCollector, registry.DefaultConfig())

	// --- C3: credential verification ---
	denylist, rateLimiter := authStores(cfg)
	jwtVerifier := authn.NewJWTVerifier(cfg.jwtSecret, denylist)
	keyManager := authn.NewKeyManager(authn.NewMemoryKeyStore(), rateLimiter)
	internalTokens := authn.NewInternalTokenManager(cfg.internalSecret)
	verifier := authn.NewCredentialVerifier(jwtVerifier, keyManager, internalTokens)

	// --- C4: permission engine, seeded with the illustrative default roles ---
	permissions := authz.New()
	permissions.SeedDefaultRoles()

	// --- C5: proxy engine ---
	proxyCfg := proxy.DefaultConfig()
	proxyCfg.Timeout = cfg.proxyTimeout
	proxyCfg.MaxRetries = cfg.proxyMaxRetries
	proxyEngine := proxy.New(proxyCfg, logger, metricsCollector)

	// --- C7: request tracker ---
	requestTracker := tracker.New()

	// --- C8: task scheduler ---
	sched := scheduler.New(scheduler.Config{MaxWorkers: cfg.schedulerWorkers, QueueSize: cfg.schedulerQueueSize}, logger)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	// --- C9: named thread pools ---
	pools := threadpool.New(ctx, logger)

	// --- C10: SSE stream hub ---
	hub := streamhub.New(logger)

	// --- C11: service-registry bridge ---
	gatewayBridge, bridgeStore := buildBridge(ctx, cfg, reg, logger)

	// --- background workers ---
	stopWorkers := make(chan struct{})
	reg.StartHealthChecks(cfg.healthCheckInterval, stopWorkers)
	tracker.StartSweeper(requestTracker, 5*time.Minute, stopWorkers)
	hub.StartReaper(60*time.Second, stopWorkers)
	gatewayBridge.StartReconciler(cfg.bridgeReconcileInterval, stopWorkers)
	stopTokenRefresh := startServiceTokenRefresher(internalTokens, logger)

	// --- HTTP surface ---
	local := &router.LocalHandlers{
		Tasks:      tasksHandlers(sched),
		Services:   servicesHandlers(reg),
		Monitoring: monitoringHandlers(requestTracker, pools),
		Config:     configHandlers(cfg),
	}
	gatewayRouter := router.New(verifier, reg, proxyEngine, local, logger)

	mr := mux.NewRouter()
	mr.Use(slmiddleware.LoggingMiddleware(logger))
	mr.Use(slmiddleware.NewRecoveryMiddleware(logger).Handler)
	mr.Use(tracker.Middleware(requestTracker))
	if metricsCollector != nil {
		mr.Use(slmiddleware.MetricsMiddleware("gateway", metricsCollector))
	}
	mr.Use(slmiddleware.NewCORSMiddleware(&slmiddleware.CORSConfig{
		AllowedOrigins:         cfg.corsAllowedOrigins,
		AllowedMethods:         []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:         []string{"Content-Type", "Authorization", "X-API-Key", "X-API-Secret", "X-Internal-Token", "X-Trace-ID"},
		ExposedHeaders:         []string{"X-Trace-ID", "X-Request-ID"},
		AllowCredentials:       true,
		MaxAgeSeconds:          3600,
		PreflightStatus:        http.StatusOK,
		RejectDisallowedOrigin: true,
	}).Handler)
	mr.Use(slmiddleware.NewBodyLimitMiddleware(0).Handler)
	mr.Use(slmiddleware.NewSecurityHeadersMiddleware(nil).Handler)
	mr.Use(slmiddleware.NewTimeoutMiddleware(cfg.proxyTimeout + 5*time.Second).Handler)

	if cfg.rateLimitEnabled {
		httpRateLimiter := slmiddleware.NewRateLimiterWithWindow(cfg.rateLimitRequests, cfg.rateLimitWindow, cfg.rateLimitBurst, logger)
		stopRL := httpRateLimiter.StartCleanup(5 * time.Minute)
		defer stopRL()
		mr.Use(httpRateLimiter.Handler)
	}

	ready := true
	healthChecker := slmiddleware.NewHealthChecker("gateway")
	healthChecker.RegisterCheck("scheduler", func() error {
		if !sched.Stats().Running {
			return errSchedulerStopped
		}
		return nil
	})
	mr.HandleFunc("/health", slmiddleware.LivenessHandler()).Methods(http.MethodGet)
	mr.Handle("/ready", healthChecker.Handler()).Methods(http.MethodGet)
	mr.HandleFunc("/ready/live", slmiddleware.ReadinessHandler(&ready)).Methods(http.MethodGet)
	mr.Handle("/gateway/health", healthChecker.Handler()).Methods(http.MethodGet)
	mr.Handle("/gateway/metrics", promhttp.Handler()).Methods(http.MethodGet)

	mountGatewayIntrospection(mr, reg, gatewayBridge)
	mr.HandleFunc("/gateway/internal/services", gatewayBridge.ListHandler()).Methods(http.MethodGet)
	mr.HandleFunc("/gateway/internal/services/stats", gatewayBridge.StatsHandler()).Methods(http.MethodGet)
	mr.HandleFunc("/gateway/internal/services/{service_id}", gatewayBridge.DeregisterHandler()).Methods(http.MethodDelete)
	mr.HandleFunc("/gateway/internal/services/{service_id}/renew", gatewayBridge.RenewHandler()).Methods(http.MethodPut)

	streams := mr.PathPrefix("/streams").Subrouter()
	streams.HandleFunc("/{stream_id}", hub.Handler()).Methods(http.MethodGet)

	gatewayRouter.Mount(mr)

	server := &http.Server{
		Addr:              ":" + cfg.port,
		Handler:           mr,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Printf("gateway listening on port %s", cfg.port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down...")
	ready = false

	// Shutdown cascade per spec §5: stop accepting → stop health-check loop →
	// stop scheduler (bounded drain) → close all streams → close pools.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.shutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}

	close(stopWorkers)
	stopTokenRefresh()
	cancelBackground()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Printf("scheduler shutdown error: %v", err)
	}
	hub.Shutdown()
	if err := pools.StopAll(shutdownCtx); err != nil {
		log.Printf("thread pool shutdown error: %v", err)
	}
	if bridgeStore != nil {
		if err := bridgeStore.Close(); err != nil {
			log.Printf("bridge store close error: %v", err)
		}
	}

	log.Println("shutdown complete")
}

func requireSecret(value, envVar string) {
	if len(value) >= 32 {
		return
	}
	if runtime.IsDevelopmentOrTesting() {
		log.Printf("WARNING: %s is unset or shorter than 32 bytes; refusing to run with a weak secret even in development", envVar)
	}
	log.Fatalf("CRITICAL: %s must be set to at least 32 bytes", envVar)
}

// authStores wires the denylist and the per-key rate limiter backing store:
// Redis when REDIS_URL is configured (so both survive a gateway restart and
// are shared across replicas), in-process otherwise.
func authStores(cfg gatewayConfig) (authn.Denylist, authn.RateLimiter) {
	if cfg.redisURL == "" {
		return authn.NewMemoryDenylist(), authn.NewMemoryRateLimiter()
	}
	opts, err := redis.ParseURL(cfg.redisURL)
	if err != nil {
		log.Fatalf("CRITICAL: invalid REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	return authn.NewRedisDenylist(client), authn.NewRedisRateLimiter(client)
}

// buildBridge opens the durable mirror when BRIDGE_DATABASE_URL is set and
// replays it into the registry, matching the bridge's crash-recovery
// contract; absent a DSN the bridge runs purely in-memory.
func buildBridge(ctx context.Context, cfg gatewayConfig, reg *registry.Registry, logger *sllogging.Logger) (*bridge.Bridge, bridge.Store) {
	if cfg.bridgeDatabaseURL == "" {
		return bridge.New(reg, nil, logger), nil
	}

	store, err := bridge.OpenPostgresStore(ctx, cfg.bridgeDatabaseURL)
	if err != nil {
		log.Fatalf("CRITICAL: failed to open bridge durable mirror: %v", err)
	}
	b := bridge.New(reg, store, logger)
	loaded, err := b.LoadFromStore(ctx)
	if err != nil {
		logger.Warn(ctx, "bridge recovery failed", map[string]interface{}{"error": err.Error()})
	} else {
		logger.Info(ctx, "bridge recovered registrations from durable mirror", map[string]interface{}{"count": loaded})
	}
	return b, store
}

// startServiceTokenRefresher pre-generates one internal token per known
// service and refreshes it shortly before expiry, so the gateway's own
// outbound calls to other backends never block on a first-use token mint.
func startServiceTokenRefresher(tokens *authn.InternalTokenManager, logger *sllogging.Logger) func() {
	for _, name := range authn.KnownServiceNames() {
		if _, err := tokens.ServiceToken(name); err != nil {
			logger.Warn(context.Background(), "initial internal token mint failed", map[string]interface{}{"service": name, "error": err.Error()})
		}
	}

	stop := make(chan struct{})
	ticker := time.NewTicker(45 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, name := range authn.KnownServiceNames() {
					if _, err := tokens.RefreshServiceToken(name); err != nil {
						logger.Warn(context.Background(), "internal token refresh failed", map[string]interface{}{"service": name, "error": err.Error()})
					}
				}
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}
