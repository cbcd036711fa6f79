package api

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/CDdanieldeng/excel-accelerator/pkg/backend"
)

// BackendRegistry reports model backend status. *backend.Registry
// implements it.
type BackendRegistry interface {
	Status(ctx context.Context) map[string]backend.Status
	List() []string
}

// Counter reports a size; used for session and client gauges.
type Counter func() int

// HealthHandler serves liveness and backend status.
type HealthHandler struct {
	registry BackendRegistry
	sessions Counter
	clients  Counter
	started  time.Time
}

// NewHealthHandler creates a HealthHandler. Counters may be nil.
func NewHealthHandler(registry BackendRegistry, sessions, clients Counter) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		sessions: sessions,
		clients:  clients,
		started:  time.Now(),
	}
}

// RegisterRoutes registers the health API routes on the router.
func (h *HealthHandler) RegisterRoutes(router *Router) {
	router.GET("/api/health", h.Health)
	router.GET("/api/backends/:name", h.GetBackend)
}

// HealthResponse is the JSON response for GET /api/health.
type HealthResponse struct {
	Status   string           `json:"status"` // ok or degraded
	Uptime   string           `json:"uptime"`
	Backends []backend.Status `json:"backends"`
	Sessions int              `json:"sessions"`
	Clients  int              `json:"wsClients"`
}

// Health handles GET /api/health. The service is degraded when no model
// backend is reachable; chitchat fallbacks still answer.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	}
	if h.registry != nil {
		for _, s := range h.registry.Status(ctx) {
			resp.Backends = append(resp.Backends, s)
		}
		sort.Slice(resp.Backends, func(i, j int) bool {
			return resp.Backends[i].Name < resp.Backends[j].Name
		})
	}
	available := false
	for _, b := range resp.Backends {
		available = available || b.Available
	}
	if !available {
		resp.Status = "degraded"
	}
	if h.sessions != nil {
		resp.Sessions = h.sessions()
	}
	if h.clients != nil {
		resp.Clients = h.clients()
	}
	WriteJSON(w, r, http.StatusOK, resp)
}

// GetBackend handles GET /api/backends/:name.
func (h *HealthHandler) GetBackend(w http.ResponseWriter, r *http.Request) {
	name := PathParam(r, "name")
	if h.registry == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "NO_REGISTRY", "Backend registry is not available")
		return
	}
	status, found := h.registry.Status(r.Context())[name]
	if !found {
		WriteError(w, r, http.StatusNotFound, "BACKEND_NOT_FOUND",
			"Backend '"+name+"' not found. Available backends: "+joinBackendNames(h.registry.List()))
		return
	}
	WriteJSON(w, r, http.StatusOK, status)
}

// joinBackendNames joins backend names into a sorted, comma-separated string.
func joinBackendNames(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}
