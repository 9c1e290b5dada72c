package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/gateway-core/infrastructure/httputil"
	"github.com/r3e-network/gateway-core/internal/threadpool"
	"github.com/r3e-network/gateway-core/internal/tracker"
)

// monitoringHandlers builds the local "monitoring" sub-plane (resolved Open
// Question D.3): request-tracker snapshots plus thread-pool stats and
// health, the two components whose introspection the original spreads
// across separate internal endpoints.
func monitoringHandlers(t *tracker.Tracker, pools *threadpool.Manager) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/system/monitoring/requests", tracker.StatsHandler(t)).Methods(http.MethodGet)
	r.HandleFunc("/system/monitoring/requests/active", tracker.ActiveRequestsHandler(t)).Methods(http.MethodGet)
	r.HandleFunc("/system/monitoring/pools", poolStatsHandler(pools)).Methods(http.MethodGet)
	r.HandleFunc("/system/monitoring/pools/health", poolHealthHandler(pools)).Methods(http.MethodGet)
	return r
}

func poolStatsHandler(pools *threadpool.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, summary := pools.AllStats()
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"pools": stats, "summary": summary})
	}
}

func poolHealthHandler(pools *threadpool.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, pools.CheckHealth(r.Context()))
	}
}
