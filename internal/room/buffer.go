package room

import (
	"sort"

	"github.com/chatroom/internal/model"
)

// orderStep separates a locally appended message from its predecessor until
// the server assigns a real sequencing token.
const orderStep = 0.1

// MessageBuffer is the ordered list of shown messages. A message id is shown
// at most once; the shown set only shrinks on truncation.
type MessageBuffer struct {
	self     string
	messages []*model.Message
	shown    map[string]struct{}
	// seen is the id of the last message the user has looked at.
	seen   string
	joined bool
}

func newMessageBuffer(self string) *MessageBuffer {
	return &MessageBuffer{self: self, shown: make(map[string]struct{})}
}

// Append adds msg at the tail. Deleted messages, notices authored by the
// room itself and already shown ids are skipped. local marks a message the
// user has just composed.
func (b *MessageBuffer) Append(msg *model.Message, local bool) bool {
	if msg == nil || msg.MessageID == "" || msg.Deleted || msg.FromRoom {
		return false
	}
	if _, ok := b.shown[msg.MessageID]; ok {
		return false
	}
	if msg.OrderValue == 0 && msg.InternalID != 0 {
		msg.OrderValue = float64(msg.InternalID)
	}
	if msg.OrderValue == 0 {
		if last := b.Last(); last != nil {
			msg.OrderValue = last.OrderValue + orderStep
		}
	}
	if local {
		msg.Source = model.SourceSent
	} else if msg.Source == "" {
		msg.Source = model.SourceChatd
	}
	b.shown[msg.MessageID] = struct{}{}
	b.messages = append(b.messages, msg)
	return true
}

// Insert places an older message by its order value. History pages use it,
// so the server order is kept rather than arrival order.
func (b *MessageBuffer) Insert(msg *model.Message) bool {
	if msg == nil || msg.MessageID == "" || msg.Deleted || msg.FromRoom {
		return false
	}
	if _, ok := b.shown[msg.MessageID]; ok {
		return false
	}
	if msg.OrderValue == 0 && msg.InternalID != 0 {
		msg.OrderValue = float64(msg.InternalID)
	}
	if msg.Source == "" {
		msg.Source = model.SourceHistory
	}
	i := sort.Search(len(b.messages), func(i int) bool {
		return b.messages[i].OrderValue > msg.OrderValue
	})
	b.messages = append(b.messages, nil)
	copy(b.messages[i+1:], b.messages[i:])
	b.messages[i] = msg
	b.shown[msg.MessageID] = struct{}{}
	return true
}

func (b *MessageBuffer) Len() int { return len(b.messages) }

func (b *MessageBuffer) Last() *model.Message {
	if len(b.messages) == 0 {
		return nil
	}
	return b.messages[len(b.messages)-1]
}

// Messages returns the buffer in display order. The slice is a copy; the
// messages are not.
func (b *MessageBuffer) Messages() []*model.Message {
	out := make([]*model.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

func (b *MessageBuffer) ByID(id string) *model.Message {
	for _, m := range b.messages {
		if m.MessageID == id {
			return m
		}
	}
	return nil
}

func (b *MessageBuffer) Shown(id string) bool {
	_, ok := b.shown[id]
	return ok
}

// MarkAsSeen moves the seen marker to the newest message.
func (b *MessageBuffer) MarkAsSeen() {
	if last := b.Last(); last != nil {
		b.seen = last.MessageID
	}
}

// UnreadCount counts messages from other users after the seen marker.
func (b *MessageBuffer) UnreadCount() int {
	start := 0
	if b.seen != "" {
		for i, m := range b.messages {
			if m.MessageID == b.seen {
				start = i + 1
				break
			}
		}
	}
	n := 0
	for _, m := range b.messages[start:] {
		if m.UserID != b.self && !model.IsManagement(m.TextContents) {
			n++
		}
	}
	return n
}

// LastTruncatable returns the newest message the server knows about.
// Unsent local messages and the truncation marker itself do not count.
func (b *MessageBuffer) LastTruncatable() *model.Message {
	for i := len(b.messages) - 1; i >= 0; i-- {
		m := b.messages[i]
		if m.DialogType == model.DialogTruncated {
			continue
		}
		if m.Status == model.MessageNotSent || m.Status == model.MessageSending || m.Status == model.MessageFailed {
			continue
		}
		return m
	}
	return nil
}

// TruncateUpTo drops every message up to and including id and leaves a
// marker in their place. It reports whether id was found.
func (b *MessageBuffer) TruncateUpTo(id string, marker *model.Message) bool {
	idx := -1
	for i, m := range b.messages {
		if m.MessageID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	for _, m := range b.messages[:idx+1] {
		delete(b.shown, m.MessageID)
	}
	rest := b.messages[idx+1:]
	b.messages = make([]*model.Message, 0, len(rest)+1)
	if marker != nil {
		b.shown[marker.MessageID] = struct{}{}
		b.messages = append(b.messages, marker)
	}
	b.messages = append(b.messages, rest...)
	b.seen = ""
	return true
}

// SetJoined records that the local user's membership was confirmed.
func (b *MessageBuffer) SetJoined() { b.joined = true }

func (b *MessageBuffer) Joined() bool { return b.joined }
