package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/gateway-core/infrastructure/httputil"
	"github.com/r3e-network/gateway-core/infrastructure/runtime"
)

// configHandlers builds the local "config" sub-plane (resolved Open
// Question D.3): a read-only reflection of the gateway's own tunables, for
// an internal caller to confirm what a given deployment is actually running
// with. It never exposes secrets.
func configHandlers(cfg gatewayConfig) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/system/config", func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"environment":                   string(runtime.Env()),
			"health_check_interval_sec":     int(cfg.healthCheckInterval.Seconds()),
			"proxy_timeout_sec":             int(cfg.proxyTimeout.Seconds()),
			"proxy_max_retries":             cfg.proxyMaxRetries,
			"task_pool_size":                cfg.schedulerWorkers,
			"task_queue_size":               cfg.schedulerQueueSize,
			"stream_default_timeout_sec":    int(cfg.streamTimeout.Seconds()),
			"stream_keepalive_sec":          int(cfg.streamKeepalive.Seconds()),
			"bridge_reconcile_interval_sec": int(cfg.bridgeReconcileInterval.Seconds()),
			"durable_mirror_enabled":        cfg.bridgeDatabaseURL != "",
		})
	}).Methods(http.MethodGet)
	return r
}
