package bridge

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	svcerrors "github.com/r3e-network/gateway-core/infrastructure/errors"
	"github.com/r3e-network/gateway-core/infrastructure/httputil"
)

type registerRequest struct {
	ServiceID       string            `json:"service_id"`
	ServiceName     string            `json:"service_name"`
	InstanceID      string            `json:"instance_id"`
	Host            string            `json:"host"`
	Port            int               `json:"port"`
	ServiceType     string            `json:"service_type"`
	Version         string            `json:"version"`
	Tags            []string          `json:"tags"`
	Metadata        map[string]string `json:"metadata"`
	HealthCheckPath string            `json:"health_check_path"`
	Weight          int               `json:"weight"`
	TTLSeconds      int               `json:"ttl_seconds"`
}

// RegisterHandler handles POST /gateway/internal/services/register.
func (b *Bridge) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}

		reg := Registration{
			ServiceID:       req.ServiceID,
			ServiceName:     req.ServiceName,
			InstanceID:      req.InstanceID,
			Host:            req.Host,
			Port:            req.Port,
			ServiceType:     req.ServiceType,
			Version:         req.Version,
			Tags:            req.Tags,
			Metadata:        req.Metadata,
			HealthCheckPath: req.HealthCheckPath,
			Weight:          req.Weight,
			TTL:             time.Duration(req.TTLSeconds) * time.Second,
		}

		if err := b.Register(r.Context(), reg); err != nil {
			writeBridgeError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{"service_id": reg.ServiceID, "status": "registered"})
	}
}

// DeregisterHandler handles DELETE /gateway/internal/services/{service_id}.
func (b *Bridge) DeregisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceID := mux.Vars(r)["service_id"]
		if err := b.Deregister(r.Context(), serviceID); err != nil {
			writeBridgeError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"service_id": serviceID, "status": "deregistered"})
	}
}

// DeregisterInstanceHandler handles DELETE /gateway/services/{name}/{instance_id}.
func (b *Bridge) DeregisterInstanceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if err := b.DeregisterInstance(r.Context(), vars["name"], vars["instance_id"]); err != nil {
			writeBridgeError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"service_name": vars["name"], "instance_id": vars["instance_id"], "status": "deregistered"})
	}
}

// RenewHandler handles PUT /gateway/internal/services/{service_id}/renew.
func (b *Bridge) RenewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceID := mux.Vars(r)["service_id"]
		if err := b.Renew(serviceID); err != nil {
			writeBridgeError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"service_id": serviceID, "status": "renewed"})
	}
}

// ListHandler handles GET /gateway/internal/services.
func (b *Bridge) ListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		regs := b.List()
		out := make([]map[string]interface{}, 0, len(regs))
		for _, reg := range regs {
			out = append(out, map[string]interface{}{
				"service_id":   reg.ServiceID,
				"service_name": reg.ServiceName,
				"instance_id":  reg.InstanceID,
				"host":         reg.Host,
				"port":         reg.Port,
				"health_status": reg.HealthStatus,
				"registered_at": reg.RegisteredAt,
			})
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"services": out, "count": len(out)})
	}
}

// StatsHandler handles GET /gateway/internal/services/stats.
func (b *Bridge) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, b.Stats())
	}
}

func writeBridgeError(w http.ResponseWriter, err error) {
	if se := svcerrors.As(err); se != nil {
		httputil.WriteErrorWithCode(w, se.HTTPStatus(), string(se.Kind), se.Message)
		return
	}
	httputil.InternalError(w, err.Error())
}
