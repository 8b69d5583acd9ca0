package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chatroom/internal/eventloop"
	"github.com/chatroom/internal/model"
	"github.com/chatroom/internal/room"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type received struct {
	Type    EventType      `json:"type"`
	Payload map[string]any `json:"payload"`
}

type env struct {
	t       *testing.T
	ctx     context.Context
	loop    *eventloop.Loop
	hub     *Hub
	session *room.Session
	conn    *websocket.Conn
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	loop := eventloop.New(0)
	go loop.Run(ctx)
	hub := NewHub(0, loop.Do)
	go hub.Run(ctx)

	s, err := room.NewSession(room.Options{Self: "me", Scheduler: loop, View: hub})
	require.NoError(t, err)
	require.NoError(t, loop.Do(ctx, func() { hub.Attach(s) }))

	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(ctx)
		c := NewClient(hub, conn, "ui-1")
		c.Start(cctx, ccancel)
		hub.Register(c)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	return &env{t: t, ctx: ctx, loop: loop, hub: hub, session: s, conn: conn}
}

func (e *env) do(fn func()) {
	require.NoError(e.t, e.loop.Do(e.ctx, fn))
}

// until reads frames up to and including the first of type want.
func (e *env) until(want EventType) []received {
	e.t.Helper()
	var got []received
	require.NoError(e.t, e.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var m received
		require.NoError(e.t, e.conn.ReadJSON(&m))
		got = append(got, m)
		if m.Type == want {
			return got
		}
	}
}

func types(msgs []received) []EventType {
	out := make([]EventType, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func (e *env) createPrivate(peer string) {
	e.do(func() {
		shard := 1
		_, err := e.session.CreateRoom(room.Params{
			RoomID: peer,
			ChatID: "AAAAAAAAAAI",
			Shard:  &shard,
			Type:   model.RoomTypePrivate,
			Users:  []string{"me", peer},
		})
		require.NoError(e.t, err)
	})
}

func TestHubStreamsRoomCreation(t *testing.T) {
	e := newEnv(t)
	e.createPrivate("alice")

	got := e.until(EventRoomCreated)
	last := got[len(got)-1]
	require.Equal(t, "alice", last.Payload["room_id"])
	require.Equal(t, "fm/chat/p/alice", last.Payload["url"])
	watched := 0
	e.do(func() { watched = e.hub.Watched() })
	require.Equal(t, 1, watched)
}

func TestHubSendMessageCommand(t *testing.T) {
	e := newEnv(t)
	e.createPrivate("alice")
	e.until(EventRoomCreated)

	require.NoError(t, e.conn.WriteJSON(IncomingMessage{Type: EventSendMessage, RoomID: "alice", Text: "hi"}))
	got := e.until(EventAck)
	require.Contains(t, types(got), EventMessageAppended)
	ack := got[len(got)-1]
	require.Equal(t, string(EventSendMessage), ack.Payload["command"])
	require.Equal(t, "alice", ack.Payload["room_id"])

	var appended received
	for _, m := range got {
		if m.Type == EventMessageAppended {
			appended = m
		}
	}
	msg := appended.Payload["message"].(map[string]any)
	require.Equal(t, "hi", msg["text"])
	require.Equal(t, "me", msg["user_id"])
}

func TestHubShowRoomUpdatesDashboard(t *testing.T) {
	e := newEnv(t)
	e.createPrivate("alice")
	e.until(EventRoomCreated)

	require.NoError(t, e.conn.WriteJSON(IncomingMessage{Type: EventShowRoom, RoomID: "alice"}))
	got := e.until(EventDashboard)
	require.Contains(t, types(got), EventChatShown)
}

func TestHubRejectsBadCommands(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.conn.WriteJSON(IncomingMessage{Type: EventSendMessage, RoomID: "nobody", Text: "hi"}))
	got := e.until(EventError)
	require.Len(t, got, 1)
	require.Equal(t, string(EventSendMessage), got[0].Payload["command"])
	require.Contains(t, got[0].Payload["error"], "not found")

	require.NoError(t, e.conn.WriteJSON(IncomingMessage{Type: "dance", RoomID: "nobody"}))
	got = e.until(EventError)
	require.Equal(t, "unknown event type", got[len(got)-1].Payload["error"])

	require.NoError(t, e.conn.WriteJSON(IncomingMessage{Type: EventMarkSeen}))
	got = e.until(EventError)
	require.Equal(t, "room_id required", got[len(got)-1].Payload["error"])
}

func TestHubDestroyStopsWatching(t *testing.T) {
	e := newEnv(t)
	e.createPrivate("alice")
	e.until(EventRoomCreated)

	e.do(func() {
		r, ok := e.session.Room("alice")
		require.True(t, ok)
		r.Destroy(false, true)
	})
	e.until(EventRoomDestroyed)
	require.Eventually(t, func() bool {
		n := -1
		e.do(func() { n = e.hub.Watched() })
		return n == 0
	}, 5*time.Second, 10*time.Millisecond)
}
