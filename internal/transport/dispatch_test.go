package transport

import (
	"testing"

	"github.com/chatroom/internal/eventloop"
	"github.com/chatroom/internal/model"
	"github.com/chatroom/internal/room"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T) (*eventloop.Manual, *room.Session, *room.Room) {
	t.Helper()
	loop := eventloop.NewManual()
	s, err := room.NewSession(room.Options{Self: "me", Scheduler: loop})
	require.NoError(t, err)
	shard := 2
	r, err := s.CreateRoom(room.Params{
		RoomID: "g1",
		ChatID: "AAAAAAAAAAE",
		Shard:  &shard,
		Type:   model.RoomTypeGroup,
		Users:  []string{"me", "alice"},
	})
	require.NoError(t, err)
	return loop, s, r
}

func TestDispatcherRunsOnLoop(t *testing.T) {
	loop, s, r := newSession(t)
	push := Dispatcher(loop, s)

	push(Frame{Type: FrameNewMessage, RoomID: "g1", Message: &model.Message{MessageID: "m1", UserID: "alice", TS: 100}})
	require.Empty(t, r.Messages(), "applied before the loop ran")
	loop.Flush()
	require.Len(t, r.Messages(), 1)

	push(Frame{Type: FrameMembers, RoomID: "g1", UserID: "me", Permission: model.PermOperator})
	loop.Flush()
	require.True(t, r.IAmOperator())

	push(Frame{Type: FrameFlags, ChatID: "AAAAAAAAAAE", Flags: model.FlagArchived})
	loop.Flush()
	require.True(t, r.IsArchived())
	require.Equal(t, 1, s.ArchivedCount())
}

func TestDispatcherDropsUnknownRoom(t *testing.T) {
	loop, s, r := newSession(t)
	push := Dispatcher(loop, s)
	push(Frame{Type: FrameNewMessage, RoomID: "nope", Message: &model.Message{MessageID: "m1"}})
	push(Frame{Type: "bogus"})
	loop.Flush()
	require.Empty(t, r.Messages())
}
