package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/gateway-core/infrastructure/httputil"
	"github.com/r3e-network/gateway-core/internal/bridge"
	"github.com/r3e-network/gateway-core/internal/registry"
)

// mountGatewayIntrospection wires the `/gateway/*` surface: registry and
// health introspection, plus the backend registration intake that the
// Service-Registry Bridge (C11) fronts. These sit outside the three
// credentialed planes, the same way /health and /ready do.
func mountGatewayIntrospection(r *mux.Router, reg *registry.Registry, b *bridge.Bridge) {
	r.HandleFunc("/gateway/services", gatewayDescribeHandler(reg, "")).Methods(http.MethodGet)
	r.HandleFunc("/gateway/services/{name}", func(w http.ResponseWriter, req *http.Request) {
		gatewayDescribeHandler(reg, mux.Vars(req)["name"])(w, req)
	}).Methods(http.MethodGet)
	r.HandleFunc("/gateway/services/register", b.RegisterHandler()).Methods(http.MethodPost)
	r.HandleFunc("/gateway/services/{name}/{instance_id}", b.DeregisterInstanceHandler()).Methods(http.MethodDelete)
	r.HandleFunc("/gateway/services/batch/health-check", gatewayBatchHealthCheckHandler(reg)).Methods(http.MethodPost)
	r.HandleFunc("/gateway/registry/status", gatewayRegistryStatusHandler(reg)).Methods(http.MethodGet)
}

func gatewayDescribeHandler(reg *registry.Registry, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, reg.Describe(name))
	}
}

func gatewayBatchHealthCheckHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg.RunHealthChecks(r.Context())
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "checked"})
	}
}

func gatewayRegistryStatusHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := reg.Describe("")
		healthy, total := 0, 0
		for _, instances := range all {
			for _, inst := range instances {
				total++
				if inst.Status == registry.StatusHealthy {
					healthy++
				}
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"services":          len(all),
			"instances_total":   total,
			"instances_healthy": healthy,
		})
	}
}
