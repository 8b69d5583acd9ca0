package transport

import (
	"context"
	"testing"
	"time"

	"github.com/chatroom/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLinkDisconnected(t *testing.T) {
	l := NewLink(Options{URL: "ws://127.0.0.1:1/none"}, nil, nil)
	require.False(t, l.Connected())
	_, err := l.Submit(context.Background(), "room1", model.Message{})
	require.ErrorIs(t, err, ErrClosed)
	_, err = l.RetrieveHistoryPage(context.Background(), "room1")
	require.ErrorIs(t, err, ErrClosed)
	require.True(t, l.HasMoreHistory("room1"))
}

func TestLinkHistoryAndReconnect(t *testing.T) {
	f := newFakeChatd(t)
	f.pages["room1"] = [][]model.Message{
		{{MessageID: "m3"}, {MessageID: "m2"}},
		{{MessageID: "m1"}},
	}
	connects := make(chan struct{}, 4)
	l := NewLink(Options{URL: f.url()}, nil, func() { connects <- struct{}{} })
	l.backoff.Initial = 10 * time.Millisecond
	l.backoff.Max = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	waitConnect := func() {
		select {
		case <-connects:
		case <-time.After(5 * time.Second):
			t.Fatal("link did not connect")
		}
	}
	waitConnect()

	rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
	defer rcancel()
	page, err := l.RetrieveHistoryPage(rctx, "room1")
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, l.HasMoreHistory("room1"))

	page, err = l.RetrieveHistoryPage(rctx, "room1")
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.False(t, l.HasMoreHistory("room1"))

	f.dropAll()
	waitConnect()
	require.Eventually(t, l.Connected, 5*time.Second, 10*time.Millisecond)
	_, err = l.Submit(rctx, "room1", model.Message{TextContents: "after reconnect"})
	require.NoError(t, err)
}
