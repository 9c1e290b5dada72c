package router

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/r3e-network/gateway-core/infrastructure/errors"
	"github.com/r3e-network/gateway-core/infrastructure/httputil"
	"github.com/r3e-network/gateway-core/infrastructure/logging"
	"github.com/r3e-network/gateway-core/internal/authn"
	"github.com/r3e-network/gateway-core/internal/proxy"
	"github.com/r3e-network/gateway-core/internal/registry"
)

// exemptPaths never require a credential on the frontend and v1 planes; the
// system plane does not consult it.
var exemptPaths = map[string]struct{}{
	"auth/login":    {},
	"auth/register": {},
}

// LocalHandlers are the system-plane sub-paths the gateway answers itself,
// per resolved Open Question D.3, instead of forwarding to a backend.
type LocalHandlers struct {
	Tasks      http.Handler
	Services   http.Handler
	Monitoring http.Handler
	Config     http.Handler
}

func (h *LocalHandlers) forPrefix(prefix string) http.Handler {
	switch prefix {
	case "tasks":
		return h.Tasks
	case "services":
		return h.Services
	case "monitoring":
		return h.Monitoring
	case "config":
		return h.Config
	default:
		return nil
	}
}

// Router mounts the three authentication planes onto a shared mux.Router.
type Router struct {
	verifier *authn.CredentialVerifier
	registry *registry.Registry
	proxy    *proxy.Proxy
	local    *LocalHandlers
	logger   *logging.Logger
}

func New(verifier *authn.CredentialVerifier, reg *registry.Registry, p *proxy.Proxy, local *LocalHandlers, logger *logging.Logger) *Router {
	return &Router{verifier: verifier, registry: reg, proxy: p, local: local, logger: logger}
}

// Mount wires all three planes plus the /gateway/* introspection endpoints
// onto mr.
func (rt *Router) Mount(mr *mux.Router) {
	rt.mountPlane(mr, "/frontend", FrontendMapping, rt.requireUserAuth, "/api")
	rt.mountPlane(mr, "/v1", V1Mapping, rt.requireAPIKeyAuth, "/api")
	rt.mountSystemPlane(mr)

	mr.HandleFunc("/gateway/routes", rt.handleRoutesIntrospection).Methods(http.MethodGet)
}

type authFunc func(r *http.Request) (authn.Principal, error)

func (rt *Router) mountPlane(mr *mux.Router, prefix string, mapping map[string]serviceMapping, auth authFunc, upstreamPrefix string) {
	if !validatePrefix(prefix) {
		panic("router: prefix already embeds /api: " + prefix)
	}

	sub := mr.PathPrefix(prefix).Subrouter()
	sub.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remainder := strings.TrimPrefix(r.URL.Path, prefix)
		remainder = strings.TrimPrefix(remainder, "/")

		if !isExempt(remainder) {
			principal, err := auth(r)
			if err != nil {
				httputil.WriteErrorResponse(w, r, errors.HTTPStatus(err), "AUTH_FAILED", err.Error(), nil)
				return
			}
			r = r.WithContext(authn.WithPrincipal(r.Context(), principal))
		}

		mapping, ok := resolve(mapping, remainder)
		if !ok {
			httputil.NotFound(w, "no route for "+remainder)
			return
		}

		strategy := registry.StrategyRoundRobin
		if prefix == "/v1" {
			strategy = registry.StrategyLeastConnections
		}
		instance, err := rt.registry.Select(mapping.ServiceName, strategy)
		if err != nil {
			httputil.WriteErrorResponse(w, r, errors.HTTPStatus(err), "UPSTREAM_UNAVAILABLE", err.Error(), nil)
			return
		}

		targetURL := instance.BaseURL() + upstreamPrefix + "/" + remainder
		if err := rt.proxy.Forward(r.Context(), w, r, targetURL, mapping.ServiceName); err != nil {
			httputil.WriteErrorResponse(w, r, errors.HTTPStatus(err), "PROXY_ERROR", err.Error(), nil)
		}
	})
}

func (rt *Router) mountSystemPlane(mr *mux.Router) {
	sub := mr.PathPrefix("/system").Subrouter()
	sub.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remainder := strings.TrimPrefix(r.URL.Path, "/system")
		remainder = strings.TrimPrefix(remainder, "/")

		principal, err := rt.requireInternalAuth(r)
		if err != nil {
			httputil.WriteErrorResponse(w, r, errors.HTTPStatus(err), "AUTH_FAILED", err.Error(), nil)
			return
		}
		r = r.WithContext(authn.WithPrincipal(r.Context(), principal))

		segment := remainder
		if idx := strings.Index(remainder, "/"); idx >= 0 {
			segment = remainder[:idx]
		}

		if systemModeFor(segment) == modeLocal {
			if handler := rt.local.forPrefix(segment); handler != nil {
				handler.ServeHTTP(w, r)
				return
			}
			httputil.NotFound(w, "no local handler for "+segment)
			return
		}

		mapping, ok := resolve(SystemMapping, remainder)
		if !ok {
			httputil.NotFound(w, "no route for "+remainder)
			return
		}
		instance, err := rt.registry.Select(mapping.ServiceName, registry.StrategyRoundRobin)
		if err != nil {
			httputil.WriteErrorResponse(w, r, errors.HTTPStatus(err), "UPSTREAM_UNAVAILABLE", err.Error(), nil)
			return
		}

		// System-plane forward routes skip the /api insertion (Open Question D.1).
		targetURL := instance.BaseURL() + "/" + remainder
		if err := rt.proxy.Forward(r.Context(), w, r, targetURL, mapping.ServiceName); err != nil {
			httputil.WriteErrorResponse(w, r, errors.HTTPStatus(err), "PROXY_ERROR", err.Error(), nil)
		}
	})
}

func isExempt(remainder string) bool {
	_, ok := exemptPaths[remainder]
	return ok
}

func (rt *Router) requireUserAuth(r *http.Request) (authn.Principal, error) {
	p, err := rt.verifier.Authenticate(r.Context(), r)
	if err != nil {
		return authn.Principal{}, err
	}
	if p.Kind != "user" {
		return authn.Principal{}, errors.AuthenticationFailed("frontend plane requires a user session")
	}
	return p, nil
}

func (rt *Router) requireAPIKeyAuth(r *http.Request) (authn.Principal, error) {
	p, err := rt.verifier.Authenticate(r.Context(), r)
	if err != nil {
		return authn.Principal{}, err
	}
	if p.Kind != "api_key" {
		return authn.Principal{}, errors.AuthenticationFailed("v1 plane requires an API key")
	}
	return p, nil
}

func (rt *Router) requireInternalAuth(r *http.Request) (authn.Principal, error) {
	p, err := rt.verifier.Authenticate(r.Context(), r)
	if err != nil {
		return authn.Principal{}, err
	}
	if p.Kind != "internal_service" {
		return authn.Principal{}, errors.AuthenticationFailed("system plane requires an internal service token")
	}
	return p, nil
}

func (rt *Router) handleRoutesIntrospection(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"frontend": mappingNames(FrontendMapping),
		"v1":       mappingNames(V1Mapping),
		"system":   mappingNames(SystemMapping),
	})
}

func mappingNames(mapping map[string]serviceMapping) map[string]string {
	out := make(map[string]string, len(mapping))
	for prefix, m := range mapping {
		out[prefix] = m.ServiceName
	}
	return out
}
