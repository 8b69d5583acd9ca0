package room

import (
	"errors"
	"testing"
	"time"

	"github.com/chatroom/internal/model"
	"github.com/stretchr/testify/require"
)

func TestSendAppendsBeforeSubmit(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.private(t, "alice")
	var order []EventKind
	for _, k := range []EventKind{EventSendMessageRequested, EventMessageAppended, EventPreBeforeSend, EventBeforeSend, EventPostBeforeSend} {
		r.On(k, func(ev Event) { order = append(order, ev.Kind) })
	}

	msg, err := r.SendMessage("hello")
	require.NoError(err)
	require.Equal([]EventKind{
		EventSendMessageRequested,
		EventMessageAppended,
		EventPreBeforeSend,
		EventBeforeSend,
		EventPostBeforeSend,
	}, order)

	// visible before the transport answers
	require.Same(msg, r.MessageByID(msg.MessageID))
	require.Equal(model.MessageNotSent, msg.Status)
	require.Equal(model.SourceSent, msg.Source)
	require.True(IsTempID(msg.MessageID))
	require.Empty(h.transport.submitted)

	h.loop.Flush()
	require.Len(h.transport.submitted, 1)
	require.Equal("hello", h.transport.submitted[0].TextContents)
	require.Equal(model.MessageSent, msg.Status)
	require.Equal(int64(1001), msg.InternalID)
	require.Equal(float64(1001), msg.OrderValue)
}

func TestAckDoesNotReorder(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.private(t, "alice")
	h.transport.nextID = 0

	first, err := r.SendMessage("one")
	require.NoError(err)
	r.AppendMessage(incoming("srv", "alice", 5))
	h.loop.Flush()

	msgs := r.Messages()
	require.Same(first, msgs[0])
	require.Equal("srv", msgs[1].MessageID)
	require.Equal(float64(1), first.OrderValue)
}

func TestSendHookCancelKeepsMessageNotSent(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.private(t, "alice")
	r.On(EventBeforeSend, func(ev Event) { ev.Send.Cancel = true })
	post := 0
	r.On(EventPostBeforeSend, func(Event) { post++ })

	msg, err := r.SendMessage("queued")
	require.NoError(err)
	h.loop.Flush()
	require.Equal(model.MessageNotSent, msg.Status)
	require.Empty(h.transport.submitted)
	require.Zero(post)
	require.Len(r.Messages(), 1)
}

func TestSendFailureKeepsMessage(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.private(t, "alice")

	h.transport.err = errors.New("socket closed")
	msg, err := r.SendMessage("lost")
	require.NoError(err)
	h.loop.Flush()
	require.Equal(model.MessageNotSent, msg.Status)
	require.Zero(msg.InternalID)

	h.transport.err = ErrSubmitRejected
	bad, err := r.SendMessage("bad")
	require.NoError(err)
	h.loop.Flush()
	require.Equal(model.MessageFailed, bad.Status)
	require.Len(r.Messages(), 2)
}

func TestResendHonoursWindow(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.private(t, "alice")
	h.transport.err = errors.New("offline")

	old, _ := r.SendMessage("old")
	fresh, _ := r.SendMessage("fresh")
	h.loop.Flush()
	old.Delay = epoch.Add(-2 * time.Minute).Unix()

	h.transport.err = nil
	require.Equal(1, h.session.ResendUnsent())
	h.loop.Flush()
	require.Equal(model.MessageNotSent, old.Status)
	require.Equal(model.MessageSent, fresh.Status)
}

func TestResendSkipsMessagesInFlight(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)
	r := h.private(t, "alice")

	msg, err := r.SendMessage("hi")
	require.NoError(err)
	require.Equal(model.MessageNotSent, msg.Status)
	require.Zero(h.session.ResendUnsent(), "submission still outstanding")

	h.loop.Flush()
	require.Len(h.transport.submitted, 1)
	require.Equal(model.MessageSent, msg.Status)
}

func TestTempMessageID(t *testing.T) {
	a := TempMessageID("room", 1, "hi")
	require.Equal(t, a, TempMessageID("room", 1, "hi"))
	require.NotEqual(t, a, TempMessageID("room", 2, "hi"))
	require.NotEqual(t, a, TempMessageID("other", 1, "hi"))
	require.True(t, IsTempID(a))
	require.False(t, IsTempID("tmp_"))
}

func TestIdenticalTextsGetDistinctIDs(t *testing.T) {
	h := newHarness(t)
	r := h.private(t, "alice")
	a, err := r.SendMessage("same")
	require.NoError(t, err)
	b, err := r.SendMessage("same")
	require.NoError(t, err)
	require.NotEqual(t, a.MessageID, b.MessageID)
	require.Len(t, r.Messages(), 2)
}
