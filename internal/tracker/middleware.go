package tracker

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-network/gateway-core/infrastructure/httputil"
)

// Middleware records the lifecycle of every request that passes through it:
// start on entry, end (with captured status code) on completion.
func Middleware(t *Tracker) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					endpoint = tmpl
				}
			}

			requestID := t.Start(endpoint, r.Method, httputil.ClientIP(r), r.UserAgent())
			w.Header().Set("X-Request-ID", requestID)
			wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			errMsg := ""
			if wrapped.statusCode >= 400 {
				errMsg = http.StatusText(wrapped.statusCode)
			}
			t.End(requestID, wrapped.statusCode, errMsg)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// StartSweeper runs Sweep on interval until stop is closed.
func StartSweeper(t *Tracker, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// StatsHandler serves the aggregate request statistics as JSON.
func StatsHandler(t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := t.Snapshot()
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"total_requests":      stats.TotalRequests,
			"successful_requests": stats.SuccessfulRequests,
			"failed_requests":     stats.FailedRequests,
			"error_rate_percent":  stats.ErrorRatePercent,
			"response_time_ms": map[string]float64{
				"average": float64(stats.AverageLatency.Microseconds()) / 1000,
				"min":     float64(stats.MinLatency.Microseconds()) / 1000,
				"max":     float64(stats.MaxLatency.Microseconds()) / 1000,
			},
			"status_codes":        statusCodeStrings(stats.StatusCodes),
			"top_endpoints":       stats.TopEndpoints,
			"recent_errors":       stats.RecentErrors,
			"uptime_seconds":      stats.UptimeSeconds,
			"requests_per_second": stats.RequestsPerSecond,
			"active_requests":     stats.ActiveRequestCount,
		})
	}
}

// ActiveRequestsHandler serves the current in-flight requests as JSON.
func ActiveRequestsHandler(t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"active_requests": t.ActiveRequests(),
			"count":           len(t.ActiveRequests()),
		})
	}
}

func statusCodeStrings(in map[int]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for code, count := range in {
		out[strconv.Itoa(code)] = count
	}
	return out
}
