package ws

import (
	"github.com/chatroom/internal/model"
)

type EventType string

const (
	// комнаты
	EventRoomCreated     EventType = "room_created"
	EventRoomDestroyed   EventType = "room_destroyed"
	EventStateChanged    EventType = "state_changed"
	EventMessageAppended EventType = "message_appended"
	EventMembersUpdated  EventType = "members_updated"
	EventDataChanged     EventType = "data_changed"
	EventChatShown       EventType = "chat_shown"
	EventLeaveRequested  EventType = "leave_requested"

	// команды UI (View)
	EventNavigate      EventType = "navigate"
	EventConversations EventType = "refresh_conversations"
	EventDashboard     EventType = "update_dashboard"
	EventWarning       EventType = "warning"

	// от UI к клиенту
	EventSendMessage EventType = "send_message"
	EventMarkSeen    EventType = "mark_seen"
	EventShowRoom    EventType = "show_room"

	EventAck   EventType = "ack"
	EventError EventType = "error"
)

// IncomingMessage is what the UI sends over /ws/events.
type IncomingMessage struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id,omitempty"`
	Text   string    `json:"text,omitempty"`
}

// OutgoingMessage is what the UI receives.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type StatePayload struct {
	RoomID string `json:"room_id"`
	Old    string `json:"old"`
	New    string `json:"new"`
}

type MessagePayload struct {
	RoomID  string        `json:"room_id"`
	Message model.Message `json:"message"`
}

type MembersPayload struct {
	RoomID     string           `json:"room_id"`
	UserID     string           `json:"user_id"`
	Permission model.Permission `json:"priv"`
	Removed    bool             `json:"removed,omitempty"`
}

type NavigatePayload struct {
	Path string `json:"path"`
}

type WarningPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type DashboardPayload struct {
	Archived int `json:"archived"`
}

type AckPayload struct {
	Command EventType `json:"command"`
	RoomID  string    `json:"room_id"`
}

type ErrorPayload struct {
	Command EventType `json:"command,omitempty"`
	RoomID  string    `json:"room_id,omitempty"`
	Error   string    `json:"error"`
}
