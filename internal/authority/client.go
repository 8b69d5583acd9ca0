// Package authority talks to the request/response API that confirms
// room-level changes: flags, truncation, node access and leaving.
//
// Every request is one JSON object POSTed to the API URL. The reply is either
// a bare integer status (0 = success) or a JSON object for requests that
// return data.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/chatroom/internal/logger"
	"github.com/chatroom/internal/model"
	"github.com/chatroom/internal/room"
)

// Version is sent with chat requests so the server can reject stale clients.
const Version = 0

const maxReplySize = 1 << 20

type Client struct {
	url  string
	self string
	http *http.Client
	seq  atomic.Uint64
}

// New creates a client for apiURL acting as self.
func New(apiURL, self string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{url: apiURL, self: self, http: &http.Client{Timeout: timeout}}
}

func (c *Client) SetFlags(ctx context.Context, chatID string, mask, flags model.Flags) error {
	return c.call(ctx, "mcsf", map[string]any{"id": chatID, "m": mask, "f": flags, "v": Version}, nil)
}

func (c *Client) Truncate(ctx context.Context, chatID, uptoMessageID string) error {
	return c.call(ctx, "mct", map[string]any{"id": chatID, "m": uptoMessageID, "v": Version}, nil)
}

func (c *Client) GrantAccess(ctx context.Context, chatID, nodeHandle, userHandle string) error {
	return c.call(ctx, "mcga", map[string]any{"id": chatID, "n": nodeHandle, "u": userHandle, "v": Version}, nil)
}

func (c *Client) CopyToChatFolder(ctx context.Context, nodeHandle string) (string, error) {
	var reply struct {
		Handle string `json:"h"`
	}
	if err := c.call(ctx, "mccf", map[string]any{"n": nodeHandle}, &reply); err != nil {
		return "", err
	}
	if reply.Handle == "" {
		return "", fmt.Errorf("authority.CopyToChatFolder %s: empty handle in reply", nodeHandle)
	}
	return reply.Handle, nil
}

// Leave removes the local user from the chat.
func (c *Client) Leave(ctx context.Context, chatID string) error {
	return c.call(ctx, "mcr", map[string]any{"id": chatID, "u": c.self, "v": Version}, nil)
}

func (c *Client) call(ctx context.Context, op string, args map[string]any, out any) error {
	args["a"] = op
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("authority.%s: %w", op, err)
	}
	id := c.seq.Add(1)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"?id="+strconv.FormatUint(id, 10), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("authority.%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	defer logger.DeferLogDuration("authority."+op, time.Now())()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("authority.%s: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return fmt.Errorf("authority.%s: read reply: %w", op, err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("authority.%s: http %d", op, resp.StatusCode)
	}
	return decodeReply(op, raw, out)
}

// decodeReply maps an integer reply to a status and anything else to out.
func decodeReply(op string, raw []byte, out any) error {
	raw = bytes.TrimSpace(raw)
	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		if code != room.CodeOK {
			return &room.AuthorityError{Op: op, Code: code}
		}
		return nil
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("authority.%s: decode reply: %w", op, err)
	}
	return nil
}
