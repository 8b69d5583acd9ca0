package ws

import (
	"fmt"

	"github.com/chatroom/internal/model"
	"github.com/chatroom/internal/room"
)

// bridge forwards session and room events to the hub. It lives on the event loop.
type bridge struct {
	hub     *Hub
	session *room.Session
	rooms   map[*room.Room][]model.ListenerID
}

var forwarded = []room.EventKind{
	room.EventStateChanged,
	room.EventMessageAppended,
	room.EventMembersUpdated,
	room.EventDataChanged,
	room.EventChatShown,
	room.EventLeaveRequested,
}

// Attach starts streaming s to UI clients and routes UI commands to it.
// Must be called on the event loop.
func (h *Hub) Attach(s *room.Session) {
	b := &bridge{hub: h, session: s, rooms: make(map[*room.Room][]model.ListenerID)}
	h.bridge = b
	h.commands = sessionCommands{s}
	s.On(room.EventRoomCreated, b.onCreated)
	s.On(room.EventRoomDestroyed, b.onDestroyed)
	for _, r := range s.Rooms() {
		b.watch(r)
	}
}

func (b *bridge) onCreated(ev room.Event) {
	b.watch(ev.Room)
	b.hub.Broadcast(OutgoingMessage{Type: EventRoomCreated, Payload: ev.Room.Info()})
}

func (b *bridge) onDestroyed(ev room.Event) {
	for _, id := range b.rooms[ev.Room] {
		ev.Room.Off(id)
	}
	delete(b.rooms, ev.Room)
	b.hub.Broadcast(OutgoingMessage{Type: EventRoomDestroyed, Payload: ev.Room.Info()})
}

// watch subscribes once per room; recovery re-announces rooms already watched.
func (b *bridge) watch(r *room.Room) {
	if _, ok := b.rooms[r]; ok {
		return
	}
	ids := make([]model.ListenerID, 0, len(forwarded))
	for _, kind := range forwarded {
		ids = append(ids, r.On(kind, b.forward))
	}
	b.rooms[r] = ids
}

func (b *bridge) forward(ev room.Event) {
	roomID := ev.Room.ID()
	var out OutgoingMessage
	switch ev.Kind {
	case room.EventStateChanged:
		out = OutgoingMessage{Type: EventStateChanged, Payload: StatePayload{
			RoomID: roomID,
			Old:    ev.State.Old.String(),
			New:    ev.State.New.String(),
		}}
	case room.EventMessageAppended:
		out = OutgoingMessage{Type: EventMessageAppended, Payload: MessagePayload{RoomID: roomID, Message: *ev.Message}}
	case room.EventMembersUpdated:
		out = OutgoingMessage{Type: EventMembersUpdated, Payload: MembersPayload{
			RoomID:     roomID,
			UserID:     ev.Members.UserID,
			Permission: ev.Members.Permission,
			Removed:    ev.Members.Removed,
		}}
	case room.EventDataChanged:
		out = OutgoingMessage{Type: EventDataChanged, Payload: ev.Room.Info()}
	case room.EventChatShown:
		out = OutgoingMessage{Type: EventChatShown, Payload: ev.Room.Info()}
	case room.EventLeaveRequested:
		out = OutgoingMessage{Type: EventLeaveRequested, Payload: ev.Room.Info()}
	default:
		return
	}
	b.hub.Broadcast(out)
}

// Watched returns the number of rooms whose events are streamed.
func (h *Hub) Watched() int {
	if h.bridge == nil {
		return 0
	}
	return len(h.bridge.rooms)
}

type sessionCommands struct {
	s *room.Session
}

func (c sessionCommands) room(id string) (*room.Room, error) {
	r, ok := c.s.Room(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", room.ErrRoomNotFound, id)
	}
	return r, nil
}

func (c sessionCommands) SendMessage(roomID, text string) error {
	r, err := c.room(roomID)
	if err != nil {
		return err
	}
	_, err = r.SendMessage(text)
	return err
}

func (c sessionCommands) MarkSeen(roomID string) error {
	r, err := c.room(roomID)
	if err != nil {
		return err
	}
	r.MarkAsSeen()
	return nil
}

func (c sessionCommands) ShowRoom(roomID string) error {
	r, err := c.room(roomID)
	if err != nil {
		return err
	}
	r.Show()
	return nil
}
