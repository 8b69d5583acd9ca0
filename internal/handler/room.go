package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chatroom/internal/model"
	"github.com/chatroom/internal/room"
	"github.com/go-chi/chi/v5"
	"github.com/hako/durafmt"
)

// RoomHandler exposes room operations to the local UI. Every call into the
// session goes through run so it happens on the event loop.
type RoomHandler struct {
	run     Runner
	session *room.Session
	timeout time.Duration
	now     func() time.Time
}

func NewRoomHandler(run Runner, session *room.Session, timeout time.Duration) *RoomHandler {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RoomHandler{run: run, session: session, timeout: timeout, now: time.Now}
}

// roomView is room.Info plus a human readable idle time.
type roomView struct {
	room.Info
	Idle string `json:"idle,omitempty"`
}

func (h *RoomHandler) view(info room.Info) roomView {
	v := roomView{Info: info}
	if info.LastActivity > 0 {
		idle := h.now().Sub(time.Unix(info.LastActivity, 0))
		if idle > 0 {
			v.Idle = durafmt.Parse(idle).LimitFirstN(1).String()
		}
	}
	return v
}

// onRoom runs fn with room id on the event loop.
func (h *RoomHandler) onRoom(ctx context.Context, id string, fn func(*room.Room) error) error {
	var fnErr error
	err := h.run(ctx, func() {
		rm, ok := h.session.Room(id)
		if !ok {
			fnErr = fmt.Errorf("%w: %s", room.ErrRoomNotFound, id)
			return
		}
		fnErr = fn(rm)
	})
	if err != nil {
		return err
	}
	return fnErr
}

// await starts op on the loop, waits for its completion and replies with
// the room's state afterwards.
func (h *RoomHandler) await(w http.ResponseWriter, r *http.Request, op func(*room.Room) *room.Completion) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	id := chi.URLParam(r, "id")

	var c *room.Completion
	if err := h.onRoom(ctx, id, func(rm *room.Room) error {
		c = op(rm)
		return nil
	}); err != nil {
		writeErr(w, err)
		return
	}
	if err := c.Wait(ctx); err != nil {
		writeErr(w, err)
		return
	}
	var info room.Info
	if err := h.onRoom(ctx, id, func(rm *room.Room) error {
		info = rm.Info()
		return nil
	}); err != nil {
		// комната могла быть удалена самой операцией
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, h.view(info))
}

// do runs a synchronous room operation and replies with the room's state.
func (h *RoomHandler) do(w http.ResponseWriter, r *http.Request, op func(*room.Room) error) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	var info room.Info
	if err := h.onRoom(ctx, chi.URLParam(r, "id"), func(rm *room.Room) error {
		if err := op(rm); err != nil {
			return err
		}
		info = rm.Info()
		return nil
	}); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(info))
}

type sessionResponse struct {
	Self     string `json:"self"`
	Rooms    int    `json:"rooms"`
	Archived int    `json:"archived"`
	Current  string `json:"current,omitempty"`
}

func (h *RoomHandler) Session(w http.ResponseWriter, r *http.Request) {
	var resp sessionResponse
	if err := h.run(r.Context(), func() {
		resp = sessionResponse{
			Self:     h.session.Self(),
			Rooms:    len(h.session.Rooms()),
			Archived: h.session.ArchivedCount(),
		}
		if cur, ok := h.session.Current(); ok {
			resp.Current = cur.ID()
		}
	}); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// List returns displayable rooms, most recently active first. ?all=true
// includes hidden archived rooms.
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	all := queryBool(r, "all")
	var infos []room.Info
	if err := h.run(r.Context(), func() {
		for _, rm := range h.session.Rooms() {
			if all || rm.IsDisplayable() {
				infos = append(infos, rm.Info())
			}
		}
	}); err != nil {
		writeErr(w, err)
		return
	}
	out := make([]roomView, 0, len(infos))
	for _, info := range infos {
		out = append(out, h.view(info))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, func(*room.Room) error { return nil })
}

type createRoomRequest struct {
	RoomID string         `json:"room_id"`
	ChatID string         `json:"chat_id"`
	Shard  *int           `json:"shard"`
	Type   model.RoomType `json:"type"`
	Users  []string       `json:"users"`
	Topic  string         `json:"topic"`
	Flags  model.Flags    `json:"flags"`
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.RoomID == "" {
		writeError(w, http.StatusBadRequest, "room_id required")
		return
	}
	switch req.Type {
	case model.RoomTypePrivate, model.RoomTypeGroup:
	default:
		writeError(w, http.StatusBadRequest, "type must be private or group")
		return
	}
	var (
		info      room.Info
		createErr error
	)
	if err := h.run(r.Context(), func() {
		rm, err := h.session.CreateRoom(room.Params{
			RoomID: req.RoomID,
			ChatID: req.ChatID,
			Shard:  req.Shard,
			Type:   req.Type,
			Users:  req.Users,
			Topic:  req.Topic,
			Flags:  req.Flags,
		})
		if err != nil {
			createErr = err
			return
		}
		if err := rm.Join(); err != nil {
			createErr = err
			return
		}
		info = rm.Info()
	}); err != nil {
		writeErr(w, err)
		return
	}
	if createErr != nil {
		writeErr(w, createErr)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(info))
}

// Messages returns the newest messages, up to ?limit (default 50).
func (h *RoomHandler) Messages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var msgs []model.Message
	if err := h.onRoom(r.Context(), chi.URLParam(r, "id"), func(rm *room.Room) error {
		all := rm.Messages()
		if len(all) > limit {
			all = all[len(all)-limit:]
		}
		msgs = make([]model.Message, 0, len(all))
		for _, m := range all {
			msgs = append(msgs, *m)
		}
		return nil
	}); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendRequest struct {
	Text string `json:"text"`
}

func (h *RoomHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}
	var msg model.Message
	if err := h.onRoom(r.Context(), chi.URLParam(r, "id"), func(rm *room.Room) error {
		m, err := rm.SendMessage(req.Text)
		if err != nil {
			return err
		}
		msg = *m
		return nil
	}); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *RoomHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, func(rm *room.Room) error {
		rm.MarkAsSeen()
		return nil
	})
}

func (h *RoomHandler) Show(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, func(rm *room.Room) error {
		rm.ShowArchived(queryBool(r, "archived"))
		rm.Show()
		return nil
	})
}

func (h *RoomHandler) Hide(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, func(rm *room.Room) error {
		rm.Hide()
		return nil
	})
}

type topicRequest struct {
	Topic string `json:"topic"`
}

func (h *RoomHandler) SetTopic(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	h.do(w, r, func(rm *room.Room) error {
		rm.SetTopic(req.Topic)
		return nil
	})
}

func (h *RoomHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.await(w, r, (*room.Room).Archive)
}

func (h *RoomHandler) Unarchive(w http.ResponseWriter, r *http.Request) {
	h.await(w, r, (*room.Room).Unarchive)
}

func (h *RoomHandler) Truncate(w http.ResponseWriter, r *http.Request) {
	h.await(w, r, (*room.Room).Truncate)
}

func (h *RoomHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	h.await(w, r, (*room.Room).ClearHistory)
}

func (h *RoomHandler) History(w http.ResponseWriter, r *http.Request) {
	h.await(w, r, (*room.Room).RetrieveAllHistory)
}

func (h *RoomHandler) Recover(w http.ResponseWriter, r *http.Request) {
	h.await(w, r, (*room.Room).Recover)
}

// Leave leaves the room; ?notify=true tells the user's other devices.
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	notify := queryBool(r, "notify")
	h.await(w, r, func(rm *room.Room) *room.Completion { return rm.Leave(notify) })
}

// Destroy removes the room; ?redirect=false keeps the UI where it is.
func (h *RoomHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	noRedirect := r.URL.Query().Get("redirect") == "false"
	notify := queryBool(r, "notify")
	if err := h.onRoom(r.Context(), chi.URLParam(r, "id"), func(rm *room.Room) error {
		rm.Destroy(notify, noRedirect)
		return nil
	}); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type attachRequest struct {
	Nodes []string `json:"nodes"`
}

func (h *RoomHandler) AttachNodes(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if err := decodeJSON(r, &req); err != nil || len(req.Nodes) == 0 {
		writeError(w, http.StatusBadRequest, "nodes required")
		return
	}
	h.await(w, r, func(rm *room.Room) *room.Completion { return rm.AttachNodes(req.Nodes) })
}

type contactsRequest struct {
	Handles []string `json:"handles"`
}

func (h *RoomHandler) AttachContacts(w http.ResponseWriter, r *http.Request) {
	var req contactsRequest
	if err := decodeJSON(r, &req); err != nil || len(req.Handles) == 0 {
		writeError(w, http.StatusBadRequest, "handles required")
		return
	}
	var msg model.Message
	if err := h.onRoom(r.Context(), chi.URLParam(r, "id"), func(rm *room.Room) error {
		m, err := rm.AttachContacts(req.Handles)
		if err != nil {
			return err
		}
		msg = *m
		return nil
	}); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type trackUploadRequest struct {
	UID string `json:"uid"`
	EFA int    `json:"efa"`
}

// TrackUpload registers an upload started from this room.
func (h *RoomHandler) TrackUpload(w http.ResponseWriter, r *http.Request) {
	var req trackUploadRequest
	if err := decodeJSON(r, &req); err != nil || req.UID == "" {
		writeError(w, http.StatusBadRequest, "uid required")
		return
	}
	h.do(w, r, func(rm *room.Room) error {
		rm.TrackUpload(req.UID, req.EFA)
		return nil
	})
}

type callRequest struct {
	Video bool `json:"video"`
}

func (h *RoomHandler) StartCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	_ = decodeJSON(r, &req)
	if req.Video {
		h.await(w, r, (*room.Room).StartVideoCall)
		return
	}
	h.await(w, r, (*room.Room).StartAudioCall)
}

func (h *RoomHandler) RetrieveTurnServers(w http.ResponseWriter, r *http.Request) {
	h.await(w, r, (*room.Room).RetrieveTurnServers)
}
