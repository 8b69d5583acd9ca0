package handler

import (
	"errors"
	"net/http"

	"github.com/chatroom/internal/model"
	"github.com/chatroom/internal/upload"
	"github.com/go-chi/chi/v5"
)

// UploadHandler receives upload manager signals from the UI. The registry
// hands them to rooms on the event loop.
type UploadHandler struct {
	uploads *upload.Registry
}

func NewUploadHandler(uploads *upload.Registry) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

type nodeRequest struct {
	Handle string `json:"h"`
	Owner  string `json:"u"`
	Key    string `json:"k"`
	Type   int    `json:"t"`
	Size   int64  `json:"s"`
	Name   string `json:"name"`
	Hash   string `json:"hash"`
	FA     string `json:"fa"`
	TS     int64  `json:"ts"`
}

func (n nodeRequest) node() model.Node {
	return model.Node{
		Handle: n.Handle,
		Owner:  n.Owner,
		Key:    n.Key,
		Type:   n.Type,
		Size:   n.Size,
		Name:   n.Name,
		Hash:   n.Hash,
		FA:     n.FA,
		TS:     n.TS,
	}
}

func (h *UploadHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.uploads.Pending())
}

// PutNode registers a node the UI already knows about, e.g. one picked from the file manager.
func (h *UploadHandler) PutNode(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if err := decodeJSON(r, &req); err != nil || req.Handle == "" {
		writeError(w, http.StatusBadRequest, "node handle required")
		return
	}
	h.uploads.PutNode(req.node())
	w.WriteHeader(http.StatusNoContent)
}

type completeRequest struct {
	Node nodeRequest `json:"node"`
	FAID string      `json:"faid"`
	Chat string      `json:"chat"`
}

func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil || req.Node.Handle == "" {
		writeError(w, http.StatusBadRequest, "node handle required")
		return
	}
	h.uploads.Complete(chi.URLParam(r, "uid"), req.Node.node(), req.FAID, req.Chat)
	w.WriteHeader(http.StatusAccepted)
}

type failRequest struct {
	Error  string `json:"error"`
	Failed int    `json:"failed"`
}

func (h *UploadHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	_ = decodeJSON(r, &req)
	if req.Error == "" {
		req.Error = "upload failed"
	}
	h.uploads.Fail(chi.URLParam(r, "uid"), errors.New(req.Error))
	w.WriteHeader(http.StatusAccepted)
}

func (h *UploadHandler) Abort(w http.ResponseWriter, r *http.Request) {
	h.uploads.Abort(chi.URLParam(r, "uid"))
	w.WriteHeader(http.StatusAccepted)
}

// AttributeError reports that req.Failed file attributes for faid will never arrive.
func (h *UploadHandler) AttributeError(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := decodeJSON(r, &req); err != nil || req.Failed <= 0 {
		writeError(w, http.StatusBadRequest, "failed count required")
		return
	}
	if req.Error == "" {
		req.Error = "file attribute failed"
	}
	h.uploads.AttributeError(chi.URLParam(r, "faid"), errors.New(req.Error), req.Failed)
	w.WriteHeader(http.StatusAccepted)
}

type attributeRequest struct {
	FA string `json:"fa"`
}

func (h *UploadHandler) AttributeReady(w http.ResponseWriter, r *http.Request) {
	var req attributeRequest
	if err := decodeJSON(r, &req); err != nil || req.FA == "" {
		writeError(w, http.StatusBadRequest, "fa required")
		return
	}
	h.uploads.AttributeReady(chi.URLParam(r, "handle"), req.FA)
	w.WriteHeader(http.StatusAccepted)
}
