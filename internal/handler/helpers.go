package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/chatroom/internal/call"
	"github.com/chatroom/internal/eventloop"
	"github.com/chatroom/internal/logger"
	"github.com/chatroom/internal/room"
)

// Runner выполняет fn в event loop и ждёт завершения (eventloop.Loop.Do).
type Runner func(ctx context.Context, fn func()) error

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeErr выбирает HTTP-статус по ошибке комнаты.
func writeErr(w http.ResponseWriter, err error) {
	var authErr *room.AuthorityError
	if errors.As(err, &authErr) {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Code: authErr.Code})
		return
	}
	writeError(w, errorStatus(err), err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrRoomExists),
		errors.Is(err, room.ErrHistoryLoading),
		errors.Is(err, room.ErrNothingToTruncate),
		errors.Is(err, room.ErrInvalidTransition),
		errors.Is(err, call.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, room.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, room.ErrRoomLeft):
		return http.StatusGone
	case errors.Is(err, room.ErrCannotLeave),
		errors.Is(err, room.ErrMissingIdentity),
		errors.Is(err, room.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, eventloop.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
