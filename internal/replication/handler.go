package replication

import (
	"context"
	"net/http"
	"strconv"

	"github.com/bissquit/shelfsync/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrDeadLetterNotFound, Status: http.StatusNotFound, Message: "dead letter not found"},
	{Error: ErrAlreadyResubmitted, Status: http.StatusConflict, Message: "dead letter already resubmitted"},
}

// Handler exposes sync state and controls over HTTP.
type Handler struct {
	dispatcher *Dispatcher
	// baseCtx outlives requests; the loop started over HTTP runs on it.
	baseCtx context.Context
}

// NewHandler creates a new sync handler.
func NewHandler(baseCtx context.Context, dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher, baseCtx: baseCtx}
}

// RegisterRoutes registers read-only sync routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sync/status", h.GetStatus)
}

// RegisterAdminRoutes registers sync control routes.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/sync/start", h.Start)
	r.Post("/sync/stop", h.Stop)
	r.Get("/sync/dead-letters", h.ListDeadLetters)
	r.Post("/sync/dead-letters/{id}/resubmit", h.Resubmit)
}

// GetStatus handles GET /sync/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.dispatcher.Status(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, status)
}

// Start handles POST /sync/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.dispatcher.Start(h.baseCtx)
	h.GetStatus(w, r)
}

// Stop handles POST /sync/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.dispatcher.Stop()
	h.GetStatus(w, r)
}

// ListDeadLetters handles GET /sync/dead-letters.
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeadLetterLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxDeadLetterLimit)
	}

	letters, err := h.dispatcher.DeadLetters(r.Context(), limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, letters)
}

// Resubmit handles POST /sync/dead-letters/{id}/resubmit.
func (h *Handler) Resubmit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid dead letter id")
		return
	}

	entry, err := h.dispatcher.Resubmit(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, entry)
}
