package call

import (
	"context"
	"testing"

	"github.com/chatroom/internal/room"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func TestStartAnswerEnd(t *testing.T) {
	require := require.New(t)
	var ended []string
	m := NewManager(func(roomID string) { ended = append(ended, roomID) })

	require.NoError(m.StartCall(context.Background(), "g1", room.MediaOptions{Audio: true}))
	require.ErrorIs(m.StartCall(context.Background(), "g1", room.MediaOptions{Audio: true, Video: true}), ErrBusy)

	calls := m.Calls()
	require.Len(calls, 1)
	require.Equal(StatusRinging, calls[0].Status)
	require.True(calls[0].Audio)
	require.False(calls[0].Video)
	require.NotEmpty(calls[0].ID)

	require.True(m.Answer("g1"))
	require.Equal(StatusActive, m.Calls()[0].Status)

	require.True(m.End("g1"))
	require.False(m.End("g1"))
	require.Equal([]string{"g1"}, ended)
	require.Empty(m.Calls())
}

func TestStartCallCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewManager(nil)
	require.ErrorIs(t, m.StartCall(ctx, "g1", room.MediaOptions{}), context.Canceled)
	require.Empty(t, m.Calls())
}

func TestIceServersAreCopied(t *testing.T) {
	m := NewManager(nil)
	in := []webrtc.ICEServer{{URLs: []string{"turn:relay:3478?transport=udp"}, Username: "u"}}
	m.UpdateIceServers(in)
	in[0].Username = "changed"

	cfg := m.Configuration()
	require.Len(t, cfg.ICEServers, 1)
	require.Equal(t, "u", cfg.ICEServers[0].Username)
	require.Equal(t, webrtc.ICETransportPolicyAll, cfg.ICETransportPolicy)
}
