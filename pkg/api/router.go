// Package api is the HTTP/WebSocket transport of the chat engine.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	werrors "github.com/CDdanieldeng/excel-accelerator/pkg/errors"
)

// HandlerFunc is the function signature for API handlers.
type HandlerFunc func(w http.ResponseWriter, r *http.Request)

// Route represents a registered route with its handler.
type Route struct {
	Method  string
	Pattern string
	Handler HandlerFunc
}

// Router is a small HTTP router with :param path parameters.
type Router struct {
	routes []Route
	mu     sync.RWMutex

	// NotFound is called when no route matches
	NotFound http.Handler
}

// NewRouter creates a new Router instance.
func NewRouter() *Router {
	return &Router{
		routes: make([]Route, 0),
		NotFound: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "The requested resource was not found")
		}),
	}
}

// Handle registers a handler for the given method and pattern.
// Patterns support path parameters with :param syntax (e.g., /api/datasets/:ref).
func (rt *Router) Handle(method, pattern string, handler HandlerFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.routes = append(rt.routes, Route{
		Method:  method,
		Pattern: pattern,
		Handler: handler,
	})
}

// GET registers a handler for GET requests.
func (rt *Router) GET(pattern string, handler HandlerFunc) {
	rt.Handle(http.MethodGet, pattern, handler)
}

// POST registers a handler for POST requests.
func (rt *Router) POST(pattern string, handler HandlerFunc) {
	rt.Handle(http.MethodPost, pattern, handler)
}

// DELETE registers a handler for DELETE requests.
func (rt *Router) DELETE(pattern string, handler HandlerFunc) {
	rt.Handle(http.MethodDelete, pattern, handler)
}

// ServeHTTP implements the http.Handler interface. A path that matches a
// route under another method gets 405.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	path := r.URL.Path
	methodMismatch := false

	for _, route := range rt.routes {
		params, matched := matchPath(route.Pattern, path)
		if !matched {
			continue
		}
		if route.Method != r.Method {
			methodMismatch = true
			continue
		}
		if len(params) > 0 {
			r = setPathParams(r, params)
		}
		route.Handler(w, r)
		return
	}

	if methodMismatch {
		WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" is not supported on "+path)
		return
	}
	rt.NotFound.ServeHTTP(w, r)
}

// matchPath matches a URL path against a pattern and extracts path parameters.
func matchPath(pattern, path string) (map[string]string, bool) {
	patternParts := strings.Split(strings.Trim(pattern, "/"), "/")
	pathParts := strings.Split(strings.Trim(path, "/"), "/")

	if len(patternParts) != len(pathParts) {
		return nil, false
	}

	params := make(map[string]string)
	for i, patternPart := range patternParts {
		if strings.HasPrefix(patternPart, ":") {
			params[patternPart[1:]] = pathParts[i]
		} else if patternPart != pathParts[i] {
			return nil, false
		}
	}
	return params, true
}

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	pathParamsKey contextKey = "pathParams"
	requestIDKey  contextKey = "requestID"
)

func setPathParams(r *http.Request, params map[string]string) *http.Request {
	ctx := context.WithValue(r.Context(), pathParamsKey, params)
	return r.WithContext(ctx)
}

// PathParam extracts a path parameter from the request.
func PathParam(r *http.Request, name string) string {
	params, ok := r.Context().Value(pathParamsKey).(map[string]string)
	if !ok {
		return ""
	}
	return params[name]
}

// RequestID returns the id assigned by RequestIDMiddleware.
func RequestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// -----------------------------------------------------------------------------
// Response Helpers
// -----------------------------------------------------------------------------

// APIResponse is the standard response wrapper for API endpoints.
type APIResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
}

// APIError represents an error response.
type APIError struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Category    string            `json:"category,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, status, APIResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		RequestID: RequestID(r),
	})
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeEnvelope(w, status, APIResponse{
		Error:     &APIError{Code: code, Message: message},
		RequestID: RequestID(r),
	})
}

// WriteFailure writes err as a structured error. data, when not nil, is
// sent alongside it (the partial turn of a failed message).
func WriteFailure(w http.ResponseWriter, r *http.Request, err error, sessionID string, data any) {
	e, ok := werrors.AsError(err)
	if !ok {
		e = werrors.Flow(err, "something went wrong while answering the question")
	}
	writeEnvelope(w, StatusFor(e.Code), APIResponse{
		Data: data,
		Error: &APIError{
			Code:        e.Code,
			Message:     werrors.UserMessage(e, RequestID(r), sessionID),
			Category:    string(e.Category),
			Suggestions: e.Suggestions,
			Context:     e.Context,
		},
		RequestID: RequestID(r),
	})
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case werrors.ErrInvalidRequest, werrors.ErrDatasetLoadFailed:
		return http.StatusBadRequest
	case werrors.ErrDatasetNotFound, werrors.ErrSessionNotFound:
		return http.StatusNotFound
	case werrors.ErrUnclearIntent, werrors.ErrUnresolvedColumns:
		return http.StatusOK
	case werrors.ErrModelCallFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeEnvelope(w http.ResponseWriter, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encoding failure cannot be reported.
	_ = json.NewEncoder(w).Encode(body)
}

// ReadJSON decodes a JSON request body of at most 1 MiB into target.
func ReadJSON(w http.ResponseWriter, r *http.Request, target any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}
