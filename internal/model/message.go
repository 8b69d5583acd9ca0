package model

import (
	"encoding/json"
	"strings"
)

type MessageStatus string

const (
	MessageNotSent MessageStatus = "not_sent"
	// MessageSending is reserved for transports that report progress; the
	// room keeps its own submissions not_sent until the ack.
	MessageSending MessageStatus = "sending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

type MessageSource string

const (
	SourceSent    MessageSource = "sent"
	SourceChatd   MessageSource = "chatd"
	SourceHistory MessageSource = "history"
)

// DialogTruncated marks the placeholder left after history truncation.
const DialogTruncated = "truncated"

type Message struct {
	MessageID    string        `json:"message_id"`
	InternalID   int64         `json:"internal_id,omitempty"`
	OrderValue   float64       `json:"order_value"`
	UserID       string        `json:"user_id"`
	TextContents string        `json:"text"`
	Delay        int64         `json:"delay,omitempty"`
	TS           int64         `json:"ts,omitempty"`
	Status       MessageStatus `json:"sent"`
	Source       MessageSource `json:"source,omitempty"`
	Deleted      bool          `json:"deleted,omitempty"`
	DialogType   string        `json:"dialog_type,omitempty"`
	// FromRoom is set on system notices authored by the room itself.
	FromRoom bool `json:"from_room,omitempty"`
}

// Timestamp returns the server delay when present, otherwise the creation time.
func (m *Message) Timestamp() int64 {
	if m.Delay != 0 {
		return m.Delay
	}
	return m.TS
}

// Management message prefixes: one byte for the class, one for the kind.
const (
	ManagementPrefix       = "\x00"
	ManagementAttachment   = "\x10"
	ManagementRevokeAttach = "\x11"
	ManagementContact      = "\x12"
)

// NodeMeta describes an attached file node.
type NodeMeta struct {
	Handle string `json:"h"`
	Key    string `json:"k"`
	Type   int    `json:"t"`
	Size   int64  `json:"s"`
	Name   string `json:"name"`
	Hash   string `json:"hash"`
	FA     string `json:"fa"`
	TS     int64  `json:"ts"`
}

// ContactMeta describes a shared contact card.
type ContactMeta struct {
	Handle string `json:"u"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// ManagementMessage builds the text body of a structured message.
func ManagementMessage(kind string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return ManagementPrefix + kind + string(data), nil
}

// IsManagement reports whether text carries a structured payload.
func IsManagement(text string) bool {
	return len(text) >= 2 && strings.HasPrefix(text, ManagementPrefix)
}

// ParseManagement splits a structured message into its kind and JSON payload.
func ParseManagement(text string) (kind string, payload []byte, ok bool) {
	if !IsManagement(text) {
		return "", nil, false
	}
	return text[1:2], []byte(text[2:]), true
}
