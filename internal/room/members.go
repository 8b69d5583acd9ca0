package room

import (
	"sort"

	"github.com/chatroom/internal/model"
)

// MembershipTracker holds the member permission map and one directory
// subscription per member.
type MembershipTracker struct {
	self     string
	roomType model.RoomType
	members  map[string]model.Permission
	dir      Directory
	// subscribed is the member set observed at the last resubscribe.
	subscribed map[string]model.ListenerID
	onContact  func(handle string)
}

// newMembershipTracker seeds the map from the initial user list. Private rooms
// start everyone at operator level, group rooms at read-only until the server
// sends real permissions.
func newMembershipTracker(self string, roomType model.RoomType, users []string, dir Directory, onContact func(string)) *MembershipTracker {
	seed := model.PermReadOnly
	if roomType == model.RoomTypePrivate {
		seed = model.PermOperator
	}
	t := &MembershipTracker{
		self:       self,
		roomType:   roomType,
		members:    make(map[string]model.Permission, len(users)),
		dir:        dir,
		subscribed: make(map[string]model.ListenerID),
		onContact:  onContact,
	}
	for _, u := range users {
		t.members[u] = seed
	}
	return t
}

// Apply records a membership delta and reports whether it concerns the
// local user and whether the member set changed.
func (t *MembershipTracker) Apply(upd MembersUpdate) (self, changed bool) {
	self = upd.UserID == t.self
	prev, had := t.members[upd.UserID]
	if upd.Removed {
		if had {
			delete(t.members, upd.UserID)
			changed = true
		}
		return self, changed
	}
	t.members[upd.UserID] = upd.Permission
	return self, !had || prev != upd.Permission
}

// Resubscribe diffs the current members against the previous snapshot.
// Stale subscriptions are removed before new ones are added; unchanged
// members keep theirs. It reports whether anything was removed.
func (t *MembershipTracker) Resubscribe() (removed bool) {
	for handle, id := range t.subscribed {
		if _, ok := t.members[handle]; ok {
			continue
		}
		if t.dir != nil {
			t.dir.Unsubscribe(handle, id)
		}
		delete(t.subscribed, handle)
		removed = true
	}
	if t.dir == nil {
		return removed
	}
	for handle := range t.members {
		if _, ok := t.subscribed[handle]; ok {
			continue
		}
		h := handle
		id, ok := t.dir.Subscribe(h, func() {
			if t.onContact != nil {
				t.onContact(h)
			}
		})
		if ok {
			t.subscribed[h] = id
		}
	}
	return removed
}

// Close drops every directory subscription.
func (t *MembershipTracker) Close() {
	for handle, id := range t.subscribed {
		if t.dir != nil {
			t.dir.Unsubscribe(handle, id)
		}
	}
	t.subscribed = make(map[string]model.ListenerID)
}

func (t *MembershipTracker) Permission(handle string) (model.Permission, bool) {
	p, ok := t.members[handle]
	return p, ok
}

// Members returns a copy of the permission map.
func (t *MembershipTracker) Members() map[string]model.Permission {
	out := make(map[string]model.Permission, len(t.members))
	for k, v := range t.members {
		out[k] = v
	}
	return out
}

// Participants returns member handles in a stable order.
func (t *MembershipTracker) Participants() []string {
	out := make([]string, 0, len(t.members))
	for h := range t.members {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func (t *MembershipTracker) ParticipantsExceptMe() []string {
	all := t.Participants()
	out := all[:0]
	for _, h := range all {
		if h != t.self {
			out = append(out, h)
		}
	}
	return out
}

// Subscriptions returns the number of live directory subscriptions.
func (t *MembershipTracker) Subscriptions() int { return len(t.subscribed) }

// ReadOnly reports whether the local user may not post: either the local
// permission is read-only, or the peer of a private room is no longer a contact.
func (t *MembershipTracker) ReadOnly() bool {
	if p, ok := t.members[t.self]; ok && p <= model.PermReadOnly {
		return true
	}
	if t.roomType != model.RoomTypePrivate || t.dir == nil {
		return false
	}
	for _, h := range t.ParticipantsExceptMe() {
		if c, ok := t.dir.Lookup(h); ok && !c.IsContact {
			return true
		}
	}
	return false
}

func (t *MembershipTracker) IAmOperator() bool {
	if t.roomType == model.RoomTypePrivate {
		return true
	}
	return t.members[t.self] == model.PermOperator
}
