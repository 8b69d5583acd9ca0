package handler

import (
	"net/http"

	"github.com/chatroom/internal/directory"
	"github.com/chatroom/internal/model"
	"github.com/go-chi/chi/v5"
)

type ContactHandler struct {
	dir *directory.Directory
}

func NewContactHandler(dir *directory.Directory) *ContactHandler {
	return &ContactHandler{dir: dir}
}

type contactView struct {
	model.Contact
	LastInteraction int64 `json:"last_interaction,omitempty"`
}

func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	contacts := h.dir.Contacts()
	out := make([]contactView, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, contactView{Contact: c, LastInteraction: h.dir.LastInteraction(c.Handle)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ContactHandler) Put(w http.ResponseWriter, r *http.Request) {
	var c model.Contact
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	c.Handle = chi.URLParam(r, "handle")
	h.dir.Put(c)
	writeJSON(w, http.StatusOK, c)
}

func (h *ContactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.dir.Remove(chi.URLParam(r, "handle"))
	w.WriteHeader(http.StatusNoContent)
}
