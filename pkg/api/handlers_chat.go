package api

import (
	"context"
	"net/http"

	werrors "github.com/CDdanieldeng/excel-accelerator/pkg/errors"
	"github.com/CDdanieldeng/excel-accelerator/pkg/orchestrator"
)

// ChatEngine runs conversations. *orchestrator.Orchestrator implements it.
type ChatEngine interface {
	Init(ctx context.Context, datasetRef, userID string) (*orchestrator.InitResult, error)
	Message(ctx context.Context, req orchestrator.MessageRequest) (*orchestrator.Response, error)
}

// ChatHandler serves the conversation endpoints.
type ChatHandler struct {
	engine ChatEngine
	events EventBroadcaster
	// debug keeps the internal trace in message responses.
	debug bool
}

// NewChatHandler creates a ChatHandler. events may be nil.
func NewChatHandler(engine ChatEngine, events EventBroadcaster, debug bool) *ChatHandler {
	return &ChatHandler{engine: engine, events: events, debug: debug}
}

// RegisterRoutes registers the chat API routes on the router.
func (h *ChatHandler) RegisterRoutes(router *Router) {
	router.POST("/api/chat/init", h.Init)
	router.POST("/api/chat/message", h.Message)
}

// InitRequest is the body of POST /api/chat/init.
type InitRequest struct {
	DatasetRef string `json:"datasetRef"`
	UserID     string `json:"userId,omitempty"`
}

// MessageBody is the body of POST /api/chat/message.
type MessageBody struct {
	SessionID  string `json:"sessionId"`
	Message    string `json:"message"`
	DatasetRef string `json:"datasetRef,omitempty"`
}

// Init handles POST /api/chat/init.
func (h *ChatHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req InitRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteFailure(w, r, werrors.InvalidRequest("invalid JSON body: "+err.Error()), "", nil)
		return
	}

	res, err := h.engine.Init(r.Context(), req.DatasetRef, req.UserID)
	if err != nil {
		WriteFailure(w, r, err, "", nil)
		return
	}
	WriteJSON(w, r, http.StatusOK, res)
}

// Message handles POST /api/chat/message. Clarifications are successful
// responses; a turn that ended in error returns its partial response in
// data next to the error.
func (h *ChatHandler) Message(w http.ResponseWriter, r *http.Request) {
	var body MessageBody
	if err := ReadJSON(w, r, &body); err != nil {
		WriteFailure(w, r, werrors.InvalidRequest("invalid JSON body: "+err.Error()), body.SessionID, nil)
		return
	}

	resp, err := h.engine.Message(r.Context(), orchestrator.MessageRequest{
		SessionID:  body.SessionID,
		Utterance:  body.Message,
		DatasetRef: body.DatasetRef,
		RequestID:  RequestID(r),
	})
	if resp != nil {
		if !h.debug {
			resp.Debug = orchestrator.Debug{}
		}
		if h.events != nil {
			_ = h.events.BroadcastTurnComplete(NewTurnCompleteEvent(resp))
		}
	}
	if err != nil {
		var data any
		if resp != nil {
			data = resp
		}
		WriteFailure(w, r, err, body.SessionID, data)
		return
	}
	WriteJSON(w, r, http.StatusOK, resp)
}
