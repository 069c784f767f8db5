package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"policyhub/internal/license"
	api "policyhub/pkg/contracts/api/v1"
)

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	service     LicenseService
	connections Counter
	subscribers Counter
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service LicenseService, connections, subscribers Counter) *HealthHandler {
	return &HealthHandler{
		service:     service,
		connections: connections,
		subscribers: subscribers,
	}
}

// HealthCheck handles GET /api/health. The service is healthy even without
// a license; policy.loaded reports whether one is held.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Policy:    policyStatus(h.service.Status()),
	}
	if h.connections != nil {
		resp.Connections = h.connections.Len()
	}
	if h.subscribers != nil {
		resp.Subscribers = h.subscribers.Len()
	}
	render.JSON(w, r, resp)
}

// LivenessCheck handles GET /api/health/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "alive"})
}

func policyStatus(st license.Status) api.PolicyStatus {
	out := api.PolicyStatus{Loaded: st.Loaded, Fragments: st.Fragments}
	if !st.UpdatedAt.IsZero() {
		ts := st.UpdatedAt
		out.UpdatedAt = &ts
	}
	return out
}
