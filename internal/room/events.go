package room

import (
	"github.com/chatroom/internal/model"
)

// EventKind names a room or session notification.
type EventKind string

const (
	EventRoomCreated          EventKind = "room-created"
	EventRoomDestroyed        EventKind = "room-destroyed"
	EventStateChanged         EventKind = "state-changed"
	EventMessageAppended      EventKind = "message-appended"
	EventMembersUpdated       EventKind = "members-updated"
	EventDataChanged          EventKind = "data-changed"
	EventSendMessageRequested EventKind = "send-message-requested"
	EventPreBeforeSend        EventKind = "pre-before-send"
	EventBeforeSend           EventKind = "before-send"
	EventPostBeforeSend       EventKind = "post-before-send"
	EventChatShown            EventKind = "chat-shown"
	EventActivity             EventKind = "activity"
	EventLeaveRequested       EventKind = "leave-requested"
)

type StateChange struct {
	Old model.RoomState
	New model.RoomState
}

// MembersUpdate is a single membership delta. Removed drops the user.
type MembersUpdate struct {
	UserID     string
	Permission model.Permission
	Removed    bool
}

// SendRequest is handed to the send hooks. Setting Cancel holds the message
// back in the not-sent state.
type SendRequest struct {
	Message *model.Message
	Cancel  bool
}

// Event is a notification with its payload. Only the field matching Kind is set.
type Event struct {
	Kind    EventKind
	Room    *Room
	State   *StateChange
	Message *model.Message
	Members *MembersUpdate
	Send    *SendRequest
}

type Handler func(Event)

type subscription struct {
	id model.ListenerID
	fn Handler
}

// Emitter keeps handlers in registration order. It is not safe for
// concurrent use; rooms only touch it from the event loop.
type Emitter struct {
	next uint64
	subs map[EventKind][]subscription
}

func (e *Emitter) On(kind EventKind, fn Handler) model.ListenerID {
	if e.subs == nil {
		e.subs = make(map[EventKind][]subscription)
	}
	e.next++
	id := model.ListenerID(e.next)
	e.subs[kind] = append(e.subs[kind], subscription{id: id, fn: fn})
	return id
}

// Off removes a handler. Unknown ids are ignored.
func (e *Emitter) Off(id model.ListenerID) {
	for kind, list := range e.subs {
		for i, s := range list {
			if s.id != id {
				continue
			}
			e.subs[kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (e *Emitter) Emit(ev Event) {
	list := e.subs[ev.Kind]
	if len(list) == 0 {
		return
	}
	snapshot := make([]subscription, len(list))
	copy(snapshot, list)
	for _, s := range snapshot {
		s.fn(ev)
	}
}

// Count returns the number of handlers registered for kind.
func (e *Emitter) Count(kind EventKind) int {
	return len(e.subs[kind])
}

func (e *Emitter) reset() {
	e.subs = nil
}
