package transport

import (
	"github.com/chatroom/internal/model"
)

type FrameType string

const (
	// client -> server
	FrameSend      FrameType = "send"
	FrameHistory   FrameType = "history"
	FrameRetention FrameType = "retention"

	// server -> client, replies carry the request's req_id
	FrameAck         FrameType = "ack"
	FrameError       FrameType = "error"
	FrameHistoryPage FrameType = "history_page"

	// server -> client pushes
	FrameNewMessage FrameType = "new_message"
	FrameMembers    FrameType = "members_updated"
	FrameTruncated  FrameType = "truncated"
	FrameFlags      FrameType = "flags"
)

// Frame is one JSON message on the chatd socket. Only the fields relevant to
// Type are set.
type Frame struct {
	Type  FrameType `json:"type"`
	ReqID string    `json:"req_id,omitempty"`

	RoomID string `json:"room_id,omitempty"`
	ChatID string `json:"chat_id,omitempty"`

	Message  *model.Message  `json:"message,omitempty"`
	Messages []model.Message `json:"messages,omitempty"`
	More     bool            `json:"more,omitempty"`
	Count    int             `json:"count,omitempty"`
	Seconds  int             `json:"seconds,omitempty"`

	// MsgID is the server sequencing token returned in an ack.
	MsgID     int64  `json:"msg_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`

	UserID     string           `json:"user_id,omitempty"`
	Permission model.Permission `json:"priv,omitempty"`
	Removed    bool             `json:"removed,omitempty"`
	Flags      model.Flags      `json:"flags,omitempty"`

	Code     int    `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`
	Rejected bool   `json:"rejected,omitempty"`
}
