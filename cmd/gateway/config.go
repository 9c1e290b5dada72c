package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// gatewayConfig collects every environment-tunable the composed root needs
// at construction time. Each field has a hardcoded default matching
// spec.md's documented default, overridable through the corresponding
// environment variable.
type gatewayConfig struct {
	port string

	jwtSecret      string
	internalSecret string

	healthCheckInterval time.Duration
	proxyTimeout        time.Duration
	proxyMaxRetries     int

	schedulerWorkers   int
	schedulerQueueSize int

	streamTimeout   time.Duration
	streamKeepalive time.Duration

	bridgeDatabaseURL       string
	bridgeReconcileInterval time.Duration

	redisURL string

	corsAllowedOrigins []string
	rateLimitEnabled   bool
	rateLimitRequests  int
	rateLimitWindow    time.Duration
	rateLimitBurst     int

	shutdownGrace time.Duration
}

func loadConfig() gatewayConfig {
	cfg := gatewayConfig{
		port:                    envOr("PORT", "8080"),
		jwtSecret:               os.Getenv("JWT_SECRET_KEY"),
		internalSecret:          os.Getenv("INTERNAL_SECRET_KEY"),
		healthCheckInterval:     envDuration("HEALTH_CHECK_INTERVAL_SEC", 30*time.Second),
		proxyTimeout:            envDuration("PROXY_TIMEOUT_SEC", 30*time.Second),
		proxyMaxRetries:         envInt("PROXY_MAX_RETRIES", 3),
		schedulerWorkers:        envInt("TASK_POOL_SIZE", 10),
		schedulerQueueSize:      envInt("QUEUE_SIZE", 1000),
		streamTimeout:           envDuration("STREAM_DEFAULT_TIMEOUT", 300*time.Second),
		streamKeepalive:         envDuration("STREAM_KEEPALIVE", 30*time.Second),
		bridgeDatabaseURL:       os.Getenv("BRIDGE_DATABASE_URL"),
		bridgeReconcileInterval: envDuration("BRIDGE_RECONCILE_INTERVAL_SEC", 60*time.Second),
		redisURL:                os.Getenv("REDIS_URL"),
		corsAllowedOrigins:      corsOrigins(),
		rateLimitEnabled:        envBool("RATE_LIMIT_ENABLED", false),
		rateLimitRequests:       envInt("RATE_LIMIT_REQUESTS", 100),
		rateLimitWindow:         envDurationRaw("RATE_LIMIT_WINDOW", time.Minute),
		rateLimitBurst:          envInt("RATE_LIMIT_BURST", 100),
		shutdownGrace:           envDurationRaw("SHUTDOWN_GRACE", 30*time.Second),
	}
	if cfg.rateLimitBurst <= 0 {
		cfg.rateLimitBurst = cfg.rateLimitRequests
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envDuration reads a bare integer-seconds env var, matching spec.md's
// `_SEC`-suffixed variable convention.
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

// envDurationRaw reads a Go duration string (e.g. "90s", "5m").
func envDurationRaw(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func corsOrigins() []string {
	raw := envOr("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
