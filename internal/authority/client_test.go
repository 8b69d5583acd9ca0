package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/chatroom/internal/model"
	"github.com/chatroom/internal/room"
	"github.com/stretchr/testify/require"
)

type apiServer struct {
	mu    sync.Mutex
	calls []map[string]any
	reply func(req map[string]any) string
}

func newAPIServer(t *testing.T, reply func(map[string]any) string) (*apiServer, *Client) {
	t.Helper()
	s := &apiServer{reply: reply}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NotEmpty(t, r.URL.Query().Get("id"))
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.calls = append(s.calls, req)
		s.mu.Unlock()
		_, _ = w.Write([]byte(s.reply(req)))
	}))
	t.Cleanup(srv.Close)
	return s, New(srv.URL, "me", 0)
}

func TestSetFlagsSuccess(t *testing.T) {
	s, c := newAPIServer(t, func(map[string]any) string { return "0" })
	require.NoError(t, c.SetFlags(context.Background(), "AAAAAAAAAAE", model.FlagArchived, model.FlagArchived))

	require.Len(t, s.calls, 1)
	require.Equal(t, "mcsf", s.calls[0]["a"])
	require.Equal(t, "AAAAAAAAAAE", s.calls[0]["id"])
	require.EqualValues(t, 1, s.calls[0]["m"])
	require.EqualValues(t, 1, s.calls[0]["f"])
}

func TestTruncateTooOld(t *testing.T) {
	_, c := newAPIServer(t, func(map[string]any) string { return "-2" })
	err := c.Truncate(context.Background(), "AAAAAAAAAAE", "m5")
	require.Error(t, err)
	require.True(t, room.IsAuthorityCode(err, room.CodeTooOld))

	var authErr *room.AuthorityError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "mct", authErr.Op)
}

func TestGrantAccessAndLeaveArgs(t *testing.T) {
	s, c := newAPIServer(t, func(map[string]any) string { return "0" })
	ctx := context.Background()
	require.NoError(t, c.GrantAccess(ctx, "chat", "node1", "alice"))
	require.NoError(t, c.Leave(ctx, "chat"))

	require.Equal(t, "mcga", s.calls[0]["a"])
	require.Equal(t, "node1", s.calls[0]["n"])
	require.Equal(t, "alice", s.calls[0]["u"])
	require.Equal(t, "mcr", s.calls[1]["a"])
	require.Equal(t, "me", s.calls[1]["u"])
}

func TestCopyToChatFolder(t *testing.T) {
	_, c := newAPIServer(t, func(req map[string]any) string {
		if req["n"] == "missing" {
			return "-9"
		}
		return `{"h":"copy_of_` + req["n"].(string) + `"}`
	})
	h, err := c.CopyToChatFolder(context.Background(), "n1")
	require.NoError(t, err)
	require.Equal(t, "copy_of_n1", h)

	_, err = c.CopyToChatFolder(context.Background(), "missing")
	require.True(t, room.IsAuthorityCode(err, -9))
}

func TestHTTPErrorIsNotAuthorityError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := New(srv.URL, "me", 0).Leave(context.Background(), "chat")
	require.Error(t, err)
	var authErr *room.AuthorityError
	require.False(t, errors.As(err, &authErr))
}
