package room

import (
	"context"
	"testing"

	"github.com/chatroom/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoomValidatesIdentity(t *testing.T) {
	h := newHarness(t)
	_, err := h.session.CreateRoom(Params{Type: model.RoomTypeGroup})
	require.ErrorIs(t, err, ErrMissingIdentity)

	_, err = h.session.CreateRoom(Params{RoomID: "x", ChatID: "!!", Type: model.RoomTypeGroup})
	require.ErrorIs(t, err, ErrMissingIdentity)

	_, err = h.session.CreateRoom(Params{RoomID: "x", Type: "channel"})
	require.Error(t, err)

	h.group(t, "g1", me)
	_, err = h.session.CreateRoom(Params{RoomID: "g1", Type: model.RoomTypeGroup})
	require.ErrorIs(t, err, ErrRoomExists)
}

func TestChatIDBin(t *testing.T) {
	h := newHarness(t)
	r := h.group(t, "g1", me)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1}, r.ChatIDBin())

	bare, err := h.session.CreateRoom(Params{RoomID: "new", Type: model.RoomTypeGroup})
	require.NoError(t, err)
	require.Nil(t, bare.ChatIDBin())
}

func TestRecoverRejoinsUnlessLeft(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.group(t, "g1", me, "alice")
	h.ready(t, r, model.PermStandard)
	created := 0
	h.session.On(EventRoomCreated, func(Event) { created++ })

	require.NoError(r.Recover().Err())
	require.Equal(model.StateJoining, r.State())
	require.False(r.MembersLoaded())
	require.Equal(1, created)

	require.NoError(r.Leave(false).Err())
	require.Equal(model.StateLeft, r.State())
	require.ErrorIs(r.Recover().Err(), ErrRoomLeft)
	require.Equal(model.StateLeft, r.State())
	require.Equal(1, created)
}

func TestLeaveGroupWaitsForAuthority(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.group(t, "g1", me, "alice")
	h.ready(t, r, model.PermStandard)
	got := kinds(r, EventLeaveRequested)

	c := r.Leave(true)
	require.Equal(model.StateLeaving, r.State())
	require.True(r.IsReadOnly())
	h.loop.Flush()
	require.NoError(c.Err())
	require.Equal(model.StateLeft, r.State())
	require.Equal([]string{"AAAAAAAAAAE"}, h.authority.left)
	require.Equal([]EventKind{EventLeaveRequested}, *got)

	_, err := r.SendMessage("late")
	require.ErrorIs(err, ErrReadOnly)
}

func TestLeavePrivateWithNotifyFails(t *testing.T) {
	h := newHarness(t)
	r := h.private(t, "alice")
	require.ErrorIs(t, r.Leave(true).Err(), ErrCannotLeave)
	require.Equal(t, model.StateInitialized, r.State())
}

func TestDestroyRemovesRoom(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.private(t, "alice")
	r.UpdateFlags(model.FlagArchived, false)
	r.Show()
	destroyed := 0
	h.session.On(EventRoomDestroyed, func(Event) { destroyed++ })

	r.Destroy(true, false)
	require.Equal(model.StateLeft, r.State())
	require.False(r.IsActive())
	require.Zero(h.dir.total())
	_, ok := h.session.Room("alice")
	require.True(ok, "removed on the next loop turn")

	h.loop.Flush()
	_, ok = h.session.Room("alice")
	require.False(ok)
	require.Equal(1, destroyed)
	require.Zero(h.session.ArchivedCount())
	require.Equal([]string{"fm/chat"}, h.view.navigated)
	_, ok = h.session.Current()
	require.False(ok)
}

func TestTruncateUsesLastAckedMessage(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.private(t, "alice")
	require.ErrorIs(r.Truncate().Err(), ErrNothingToTruncate)

	r.AppendMessage(incoming("m1", "alice", 1))
	h.transport.err = ErrSubmitRejected
	_, err := r.SendMessage("never acked")
	require.NoError(err)
	h.loop.Flush()

	c := r.Truncate()
	h.loop.Flush()
	require.NoError(c.Err())
	require.Equal([]string{"m1"}, h.authority.truncated)
}

func TestTruncateTooOldWarns(t *testing.T) {
	h := newHarness(t)
	r := h.private(t, "alice")
	r.AppendMessage(incoming("m1", "alice", 1))
	h.authority.truncateErr = &AuthorityError{Op: "mct", Code: CodeTooOld}

	c := r.Truncate()
	h.loop.Flush()
	require.True(t, IsAuthorityCode(c.Err(), CodeTooOld))
	require.Equal(t, []string{"Clear history"}, h.view.warnings)
}

func TestOnTruncatedReplacesHistory(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.private(t, "alice")
	r.AppendMessage(incoming("m1", "alice", 1))
	r.AppendMessage(incoming("m2", "alice", 2))
	r.AppendMessage(incoming("m3", "alice", 3))

	require.True(r.OnTruncated("m2", "alice"))
	msgs := r.Messages()
	require.Len(msgs, 2)
	require.Equal(model.DialogTruncated, msgs[0].DialogType)
	require.Equal("m3", msgs[1].MessageID)
	require.False(r.OnTruncated("m2", "alice"))
}

func TestClearHistorySetsRetention(t *testing.T) {
	h := newHarness(t)
	r := h.group(t, "g1", me)
	c := r.ClearHistory()
	h.loop.Flush()
	require.NoError(t, c.Err())
	require.Equal(t, map[string]int{"AAAAAAAAAAE": 1}, h.transport.retention)
}

func TestStartCallRecordsRequest(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.private(t, "alice")
	r.UpdateFlags(model.FlagArchived, false)
	require.False(r.IsDisplayable())

	c := r.StartVideoCall()
	h.loop.Flush()
	require.NoError(c.Err())
	require.Equal([]MediaOptions{{Audio: true, Video: true}}, h.calls.started)
	require.NotNil(r.CallRequest())
	require.True(r.IsDisplayable(), "rooms with a call stay listed")

	r.Recover()
	require.Nil(r.CallRequest())
}

func TestRetrieveTurnServersFeedsCallManager(t *testing.T) {
	h := newHarness(t)
	r := h.private(t, "alice")
	c := r.RetrieveTurnServers()
	h.loop.Flush()
	require.NoError(t, c.Err())
	require.Equal(t, h.turn.servers, h.calls.servers)
}

func TestShowHidesPreviousRoom(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	a := h.private(t, "alice")
	b := h.group(t, "g1", me, "alice")
	got := kinds(a, EventChatShown, EventActivity)

	require.True(a.Show())
	require.False(a.Show())
	require.Equal([]EventKind{EventChatShown, EventActivity}, *got)

	require.True(b.Show())
	require.False(a.IsActive())
	cur, ok := h.session.Current()
	require.True(ok)
	require.Same(b, cur)

	b.Hide()
	_, ok = h.session.Current()
	require.False(ok)
	h.loop.Flush()
	require.Equal(2, h.view.dashboard, "one per Show")
}

func TestTitleAndURL(t *testing.T) {
	h := newHarness(t)
	priv := h.private(t, "alice")
	assert.Equal(t, "Alice", priv.Title())
	assert.Equal(t, "fm/chat/p/alice", priv.URL())

	grp := h.group(t, "g1", me, "alice", "bob")
	assert.Equal(t, "Alice, bob@example.com", grp.Title())
	assert.Equal(t, "fm/chat/g/g1", grp.URL())

	grp.SetTopic("A very long topic that goes on and on")
	assert.Equal(t, "A very long topic that goes on...", grp.Title())

	empty := h.group(t, "g2", me)
	assert.Equal(t, "Conversation created at 2024-03-01 12:00", empty.Title())
}

func TestSetTypePersistsGroupFlag(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.private(t, "alice")
	h.loop.Flush()

	r.SetType(model.RoomTypeGroup)
	h.loop.Flush()
	require.Equal(model.RoomTypeGroup, r.Type())
	var rec model.RoomRecord
	require.NoError(h.store.Get(context.Background(), model.RoomsCollection, r.ChatID(), &rec))
	require.Equal(1, rec.Group)
	require.False(r.StateIsLeftOrLeaving())
}

func TestLastActivityIsMonotonic(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.group(t, "g1", me, "alice", "bob")

	r.AppendMessage(incoming("m1", "alice", 100))
	require.Equal(int64(100), r.LastActivity())
	require.Equal(int64(100), h.dir.interaction["alice"])

	r.AppendMessage(incoming("m2", "bob", 50))
	require.Equal(int64(100), r.LastActivity())
	_, touched := h.dir.interaction["bob"]
	require.False(touched)

	r.AppendMessage(incoming("m3", me, 200))
	require.Equal(int64(200), r.LastActivity())
	require.Equal(int64(200), h.dir.interaction["alice"])
	require.Equal(int64(200), h.dir.interaction["bob"])
}

func TestEmitterOff(t *testing.T) {
	var e Emitter
	calls := 0
	id := e.On(EventActivity, func(Event) { calls++ })
	e.On(EventActivity, func(Event) { calls += 10 })
	e.Emit(Event{Kind: EventActivity})
	e.Off(id)
	e.Emit(Event{Kind: EventActivity})
	require.Equal(t, 21, calls)
	require.Equal(t, 1, e.Count(EventActivity))
}
