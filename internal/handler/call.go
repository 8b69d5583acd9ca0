package handler

import (
	"net/http"

	"github.com/chatroom/internal/call"
	"github.com/go-chi/chi/v5"
)

// CallHandler lets the media layer report call progress.
type CallHandler struct {
	calls *call.Manager
}

func NewCallHandler(calls *call.Manager) *CallHandler {
	return &CallHandler{calls: calls}
}

func (h *CallHandler) Answer(w http.ResponseWriter, r *http.Request) {
	if !h.calls.Answer(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "no call")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CallHandler) End(w http.ResponseWriter, r *http.Request) {
	if !h.calls.End(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "no call")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
