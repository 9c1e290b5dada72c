package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/gateway-core/infrastructure/httputil"
	"github.com/r3e-network/gateway-core/internal/registry"
)

// servicesHandlers builds the local "services" sub-plane (resolved Open
// Question D.3): the same registry snapshot the public /gateway/* endpoints
// expose, reachable from internal callers under the system plane's own
// credential.
func servicesHandlers(reg *registry.Registry) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/system/services", describeServicesHandler(reg, "")).Methods(http.MethodGet)
	r.HandleFunc("/system/services/{name}", func(w http.ResponseWriter, req *http.Request) {
		describeServicesHandler(reg, mux.Vars(req)["name"])(w, req)
	}).Methods(http.MethodGet)
	return r
}

func describeServicesHandler(reg *registry.Registry, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, reg.Describe(name))
	}
}
