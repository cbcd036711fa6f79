package api

import (
	"errors"
	"net/http"
	"sort"

	werrors "github.com/CDdanieldeng/excel-accelerator/pkg/errors"
	"github.com/CDdanieldeng/excel-accelerator/pkg/export"
	"github.com/CDdanieldeng/excel-accelerator/pkg/session"
)

// SessionsHandler serves session inspection and eviction.
type SessionsHandler struct {
	store session.Store
	// exportDir enables POST /api/chat/sessions/:id/export when set.
	exportDir  string
	exportOpts export.Options
}

// NewSessionsHandler creates a new SessionsHandler over store.
func NewSessionsHandler(store session.Store, exportDir string, opts export.Options) *SessionsHandler {
	return &SessionsHandler{store: store, exportDir: exportDir, exportOpts: opts}
}

// ExportResponse is the JSON response for a session export.
type ExportResponse struct {
	Path     string `json:"path"`
	Manifest string `json:"manifestHash"`
}

// RegisterRoutes registers the session API routes on the router.
func (h *SessionsHandler) RegisterRoutes(router *Router) {
	router.GET("/api/chat/sessions", h.ListSessions)
	router.GET("/api/chat/sessions/:id", h.GetSession)
	router.DELETE("/api/chat/sessions/:id", h.DeleteSession)
	router.POST("/api/chat/sessions/:id/export", h.ExportSession)
}

// SessionListResponse is the JSON response for GET /api/chat/sessions.
type SessionListResponse struct {
	Sessions []session.Summary `json:"sessions"`
	Total    int               `json:"total"`
}

// ListSessions handles GET /api/chat/sessions, most recently active first.
func (h *SessionsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	list := h.store.List(r.Context())
	sort.Slice(list, func(i, j int) bool {
		return list[i].LastActiveAt.After(list[j].LastActiveAt)
	})
	WriteJSON(w, r, http.StatusOK, SessionListResponse{Sessions: list, Total: len(list)})
}

// GetSession handles GET /api/chat/sessions/:id.
func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := PathParam(r, "id")
	s, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err, id)
		return
	}
	WriteJSON(w, r, http.StatusOK, s)
}

// DeleteSession handles DELETE /api/chat/sessions/:id.
func (h *SessionsHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := PathParam(r, "id")
	if !h.store.Evict(r.Context(), id) {
		WriteFailure(w, r, werrors.SessionNotFound(id), id, nil)
		return
	}
	WriteJSON(w, r, http.StatusOK, map[string]string{"deleted": id})
}

// ExportSession handles POST /api/chat/sessions/:id/export.
func (h *SessionsHandler) ExportSession(w http.ResponseWriter, r *http.Request) {
	id := PathParam(r, "id")
	if h.exportDir == "" {
		WriteError(w, r, http.StatusNotImplemented, "EXPORT_DISABLED", "session export is not configured")
		return
	}
	s, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err, id)
		return
	}
	path, err := export.Session(s, h.exportDir, h.exportOpts)
	if err != nil {
		WriteFailure(w, r, werrors.Flow(err, "could not export the session"), id, nil)
		return
	}
	WriteJSON(w, r, http.StatusOK, ExportResponse{
		Path:     path,
		Manifest: export.ManifestFor(s, h.exportOpts).Hash,
	})
}

func (h *SessionsHandler) writeStoreError(w http.ResponseWriter, r *http.Request, err error, id string) {
	if errors.Is(err, session.ErrNotFound) {
		err = werrors.SessionNotFound(id)
	}
	WriteFailure(w, r, err, id, nil)
}
