package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/gateway-core/infrastructure/httputil"
	"github.com/r3e-network/gateway-core/internal/scheduler"
)

// tasksHandlers builds the local "tasks" sub-plane (resolved Open Question
// D.3): introspection and cancellation over the Scheduler, reached through
// the system plane's internal-token auth rather than the scheduler ever
// accepting arbitrary callables over HTTP.
func tasksHandlers(sched *scheduler.Scheduler) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/system/tasks", listTasksHandler(sched)).Methods(http.MethodGet)
	r.HandleFunc("/system/tasks/stats", taskStatsHandler(sched)).Methods(http.MethodGet)
	r.HandleFunc("/system/tasks/{id}", getTaskHandler(sched)).Methods(http.MethodGet)
	r.HandleFunc("/system/tasks/{id}", cancelTaskHandler(sched)).Methods(http.MethodDelete)
	return r
}

func listTasksHandler(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var status *scheduler.Status
		if raw := httputil.QueryString(r, "status", ""); raw != "" {
			s := scheduler.Status(raw)
			status = &s
		}
		limit := httputil.QueryInt(r, "limit", 50)
		offset := httputil.QueryInt(r, "offset", 0)
		snaps := sched.List(status, limit, offset)
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"tasks": snaps, "count": len(snaps)})
	}
}

func getTaskHandler(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		snap, ok := sched.Get(id)
		if !ok {
			httputil.NotFound(w, "no task with id "+id)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, snap)
	}
}

func cancelTaskHandler(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if !sched.Cancel(id) {
			httputil.Conflict(w, "task "+id+" is not cancellable")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": "cancelled"})
	}
}

func taskStatsHandler(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, sched.Stats())
	}
}
