// Package room models a single conversation as seen by one participant: its
// lifecycle, member permissions, ordered message buffer, outgoing delivery,
// attachment coordination and local persistence.
//
// Rooms are not safe for concurrent use. Every call must run on the
// session's event loop; network work is pushed off the loop and its result
// is applied back on it.
package room

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/chatroom/internal/eventloop"
	"github.com/chatroom/internal/logger"
	"github.com/chatroom/internal/model"
)

// titleMaxRunes caps topics shown as room titles.
const titleMaxRunes = 30

// Params describe a room at creation time.
type Params struct {
	RoomID string
	// ChatID is the base64url server id; it may be unknown for new rooms.
	ChatID       string
	Shard        *int
	Type         model.RoomType
	Users        []string
	CTime        int64
	LastActivity int64
	Flags        model.Flags
	Topic        string
}

// CallRequest is the call the room asked the call manager to start.
type CallRequest struct {
	Media   MediaOptions
	Started int64
}

type Room struct {
	session *Session
	sched   eventloop.Scheduler
	log     *logger.Scoped
	events  Emitter

	roomID    string
	chatID    string
	chatIDBin []byte
	shard     *int
	roomType  model.RoomType
	topic     string
	ctime     int64

	lastActivity  int64
	flags         model.Flags
	showArchived  bool
	active        bool
	membersLoaded bool
	callRequest   *CallRequest

	state       *StateMachine
	members     *MembershipTracker
	buffer      *MessageBuffer
	history     *HistoryLoader
	delivery    *DeliveryPipeline
	attachments *AttachmentCoordinator
	persistence *PersistenceAdapter
}

func newRoom(s *Session, p Params) (*Room, error) {
	if p.RoomID == "" {
		return nil, fmt.Errorf("%w: empty room id", ErrMissingIdentity)
	}
	switch p.Type {
	case model.RoomTypePrivate, model.RoomTypeGroup:
	default:
		return nil, fmt.Errorf("room %s: unknown type %q", p.RoomID, p.Type)
	}
	var bin []byte
	if p.ChatID != "" {
		var err error
		bin, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(p.ChatID, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: chat id %q: %v", ErrMissingIdentity, p.ChatID, err)
		}
	}
	r := &Room{
		session:      s,
		sched:        s.opts.Scheduler,
		log:          logger.Named("room " + p.RoomID),
		roomID:       p.RoomID,
		chatID:       p.ChatID,
		chatIDBin:    bin,
		shard:        p.Shard,
		roomType:     p.Type,
		topic:        p.Topic,
		ctime:        p.CTime,
		lastActivity: p.LastActivity,
		flags:        p.Flags,
	}
	if r.ctime == 0 {
		r.ctime = s.now().Unix()
	}
	r.state = newStateMachine(r.log, func(old, next model.RoomState) {
		r.events.Emit(Event{Kind: EventStateChanged, Room: r, State: &StateChange{Old: old, New: next}})
	})
	r.members = newMembershipTracker(s.self, p.Type, p.Users, s.opts.Directory, func(string) {
		r.emitDataChanged()
	})
	r.buffer = newMessageBuffer(s.self)
	r.history = &HistoryLoader{
		roomID:    r.roomID,
		transport: s.opts.Transport,
		sched:     r.sched,
		log:       r.log,
		onPage:    r.mergeHistory,
	}
	r.delivery = &DeliveryPipeline{room: r}
	r.attachments = newAttachmentCoordinator(r)
	r.persistence = &PersistenceAdapter{room: r}

	if err := r.state.Set(model.StateInitialized, false); err != nil {
		return nil, err
	}
	r.members.Resubscribe()
	return r, nil
}

func (r *Room) ID() string { return r.roomID }
func (r *Room) ChatID() string { return r.chatID }
func (r *Room) Type() model.RoomType { return r.roomType }
func (r *Room) CTime() int64 { return r.ctime }
func (r *Room) LastActivity() int64 { return r.lastActivity }
func (r *Room) Flags() model.Flags { return r.flags }
func (r *Room) State() model.RoomState { return r.state.State() }
func (r *Room) IsActive() bool { return r.active }
func (r *Room) CallRequest() *CallRequest { return r.callRequest }

// ChatIDBin returns the decoded chat id, or nil when it is not known yet.
func (r *Room) ChatIDBin() []byte {
	if r.chatIDBin == nil {
		return nil
	}
	out := make([]byte, len(r.chatIDBin))
	copy(out, r.chatIDBin)
	return out
}

// SetIdentity records the server identity once the chat is created remotely.
func (r *Room) SetIdentity(chatID string, shard int) error {
	bin, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(chatID, "="))
	if err != nil {
		return fmt.Errorf("%w: chat id %q: %v", ErrMissingIdentity, chatID, err)
	}
	r.chatID = chatID
	r.chatIDBin = bin
	r.shard = &shard
	r.persistence.Persist()
	return nil
}

func (r *Room) On(kind EventKind, fn Handler) model.ListenerID { return r.events.On(kind, fn) }

func (r *Room) Off(id model.ListenerID) { r.events.Off(id) }

func (r *Room) emitDataChanged() {
	r.events.Emit(Event{Kind: EventDataChanged, Room: r})
}

// SetState moves the lifecycle forward, or back into JOINING/INITIALIZED
// when recovering.
func (r *Room) SetState(next model.RoomState, recovering bool) error {
	return r.state.Set(next, recovering)
}

func (r *Room) StateIsLeftOrLeaving() bool { return r.state.LeftOrLeaving() }

// SetType changes the room type, e.g. when a private chat is turned into a
// group by inviting a third participant.
func (r *Room) SetType(t model.RoomType) {
	if r.roomType == t {
		return
	}
	r.roomType = t
	r.persistence.Persist()
	r.emitDataChanged()
}

// Join marks the room as joining; the server's membership confirmation for
// the local user then makes it ready.
func (r *Room) Join() error {
	return r.state.Set(model.StateJoining, false)
}

// Members returns a copy of the member permission map.
func (r *Room) Members() map[string]model.Permission { return r.members.Members() }

func (r *Room) Participants() []string { return r.members.Participants() }

func (r *Room) ParticipantsExceptMe() []string { return r.members.ParticipantsExceptMe() }

func (r *Room) IsReadOnly() bool {
	return r.state.LeftOrLeaving() || r.members.ReadOnly()
}

func (r *Room) IAmOperator() bool { return r.members.IAmOperator() }

// MembersLoaded reports whether the server confirmed the local membership
// since the last (re)join.
func (r *Room) MembersLoaded() bool { return r.membersLoaded }

// OnMembersUpdated applies a membership delta from the server.
func (r *Room) OnMembersUpdated(upd MembersUpdate) {
	self, changed := r.members.Apply(upd)
	r.events.Emit(Event{Kind: EventMembersUpdated, Room: r, Members: &upd})
	removed := r.members.Resubscribe()
	if self {
		r.buffer.SetJoined()
		r.membersLoaded = true
		if r.state.State() == model.StateJoining {
			if err := r.state.Set(model.StateReady, false); err != nil {
				r.log.Warnf("members: %v", err)
			}
		}
	}
	if changed {
		r.persistence.Persist()
	}
	if self || removed || changed {
		r.emitDataChanged()
	}
}

// appendMessage is the single entry for new tail messages.
func (r *Room) appendMessage(msg *model.Message, local bool) bool {
	if !r.buffer.Append(msg, local) {
		return false
	}
	r.events.Emit(Event{Kind: EventMessageAppended, Room: r, Message: msg})
	r.touch(msg)
	r.session.view().UpdateDashboard()
	return true
}

// AppendMessage adds a message received from the server.
func (r *Room) AppendMessage(msg *model.Message) bool {
	return r.appendMessage(msg, false)
}

func (r *Room) mergeHistory(page []model.Message) {
	added := 0
	for i := range page {
		msg := &page[i]
		if !r.buffer.Insert(msg) {
			continue
		}
		added++
		r.events.Emit(Event{Kind: EventMessageAppended, Room: r, Message: msg})
		r.touch(msg)
	}
	if added > 0 {
		r.session.view().UpdateDashboard()
	}
}

// touch moves lastActivity forward and records the interaction with the author.
func (r *Room) touch(msg *model.Message) {
	ts := msg.Timestamp()
	if ts <= r.lastActivity {
		return
	}
	r.lastActivity = ts
	r.didInteraction(msg.UserID, ts)
}

func (r *Room) didInteraction(user string, ts int64) {
	dir := r.session.opts.Directory
	if dir == nil {
		return
	}
	if user == r.session.self {
		for _, h := range r.members.ParticipantsExceptMe() {
			if c, ok := dir.Lookup(h); ok && c.IsContact {
				dir.SetLastInteraction(h, ts)
			}
		}
		return
	}
	if c, ok := dir.Lookup(user); ok && c.IsContact {
		dir.SetLastInteraction(user, ts)
	}
}

func (r *Room) SendMessage(text string) (*model.Message, error) {
	return r.delivery.Send(text)
}

// Resend resubmits local messages that never left, newer than maxAge.
func (r *Room) Resend(maxAge time.Duration) int {
	return r.delivery.Resend(maxAge)
}

func (r *Room) Messages() []*model.Message { return r.buffer.Messages() }

func (r *Room) MessageByID(id string) *model.Message { return r.buffer.ByID(id) }

func (r *Room) UnreadCount() int { return r.buffer.UnreadCount() }

func (r *Room) MarkAsSeen() {
	r.buffer.MarkAsSeen()
	r.session.view().UpdateDashboard()
}

// TrackUpload registers an upload whose node should be attached here once done.
func (r *Room) TrackUpload(uid string, expectedAttributes int) {
	r.attachments.Track(uid, expectedAttributes)
}

func (r *Room) IsArchived() bool { return r.flags&model.FlagArchived != 0 }

// IsDisplayable reports whether the room belongs in the conversation list.
func (r *Room) IsDisplayable() bool {
	return r.showArchived || !r.IsArchived() || r.callRequest != nil
}

// ShowArchived overrides hiding of an archived room until its flags change.
func (r *Room) ShowArchived(show bool) { r.showArchived = show }

func (r *Room) Archive() *Completion { return r.persistence.setArchived(true) }
func (r *Room) Unarchive() *Completion { return r.persistence.setArchived(false) }

func (r *Room) UpdateFlags(flags model.Flags, updateUI bool) {
	r.persistence.UpdateFlags(flags, updateUI)
}

// Persist writes the room record to the local store.
func (r *Room) Persist() *Completion { return r.persistence.Persist() }

func (r *Room) RetrieveAllHistory() *Completion {
	return r.history.RetrieveAll(r.session.ctx)
}

// Truncate asks the authority to drop history up to the newest acked message.
func (r *Room) Truncate() *Completion {
	if r.IsReadOnly() {
		return resolved(ErrReadOnly)
	}
	auth := r.session.opts.Authority
	if auth == nil || r.chatID == "" {
		return resolved(ErrMissingIdentity)
	}
	last := r.buffer.LastTruncatable()
	if last == nil {
		return resolved(ErrNothingToTruncate)
	}
	c := newCompletion()
	chatID, msgID := r.chatID, last.MessageID
	ctx, cancel := r.session.requestContext()
	r.sched.Async(func() func() {
		defer cancel()
		err := auth.Truncate(ctx, chatID, msgID)
		return func() {
			if IsAuthorityCode(err, CodeTooOld) {
				r.session.view().Warn("Clear history", "The history of this conversation could not be cleared.")
			} else if err != nil {
				r.log.Warnf("truncate up to %s: %v", msgID, err)
			}
			c.resolve(err)
		}
	})
	return c
}

// OnTruncated applies a confirmed truncation: everything up to msgID is
// replaced by a single marker.
func (r *Room) OnTruncated(msgID, by string) bool {
	marker := &model.Message{
		MessageID:  msgID + ".truncated",
		UserID:     by,
		TS:         r.session.now().Unix(),
		Status:     model.MessageSent,
		Source:     model.SourceChatd,
		DialogType: model.DialogTruncated,
	}
	if !r.buffer.TruncateUpTo(msgID, marker) {
		return false
	}
	r.emitDataChanged()
	r.session.view().UpdateDashboard()
	return true
}

// ClearHistory sets a one second retention so the server expires every
// message of the room.
func (r *Room) ClearHistory() *Completion {
	t := r.session.opts.Transport
	if t == nil || r.chatID == "" {
		return resolved(ErrMissingIdentity)
	}
	c := newCompletion()
	chatID := r.chatID
	ctx, cancel := r.session.requestContext()
	r.sched.Async(func() func() {
		defer cancel()
		err := t.SetRetentionPolicy(ctx, chatID, 1)
		return func() {
			if err != nil {
				r.log.Warnf("clear history: %v", err)
			}
			c.resolve(err)
		}
	})
	return c
}

func (r *Room) StartAudioCall() *Completion { return r.startCall(MediaOptions{Audio: true}) }

func (r *Room) StartVideoCall() *Completion {
	return r.startCall(MediaOptions{Audio: true, Video: true})
}

func (r *Room) startCall(media MediaOptions) *Completion {
	calls := r.session.opts.Calls
	if calls == nil {
		return resolved(fmt.Errorf("room %s: calls are not available", r.roomID))
	}
	if r.IsReadOnly() {
		return resolved(ErrReadOnly)
	}
	c := newCompletion()
	ctx, cancel := r.session.requestContext()
	r.sched.Async(func() func() {
		defer cancel()
		err := calls.StartCall(ctx, r.roomID, media)
		return func() {
			if err == nil {
				r.callRequest = &CallRequest{Media: media, Started: r.session.now().Unix()}
				r.emitDataChanged()
			}
			c.resolve(err)
		}
	})
	return c
}

// OnCallEnded forgets the call request.
func (r *Room) OnCallEnded() {
	if r.callRequest == nil {
		return
	}
	r.callRequest = nil
	r.emitDataChanged()
}

// RetrieveTurnServers refreshes the ICE servers of the call manager from the
// TURN load balancer.
func (r *Room) RetrieveTurnServers() *Completion {
	turn, calls := r.session.opts.Turn, r.session.opts.Calls
	if turn == nil {
		return resolved(nil)
	}
	c := newCompletion()
	ctx, cancel := r.session.requestContext()
	r.sched.Async(func() func() {
		defer cancel()
		servers, err := turn.RetrieveTurnServers(ctx)
		return func() {
			if err != nil {
				r.log.Warnf("turn servers: %v", err)
			} else if calls != nil {
				calls.UpdateIceServers(servers)
			}
			c.resolve(err)
		}
	})
	return c
}

// Leave moves the room to LEFT. With notify set, a group room asks the
// authority to drop the local user first and stays LEAVING until it answers.
func (r *Room) Leave(notify bool) *Completion {
	if r.state.State() == model.StateLeft {
		return resolved(nil)
	}
	if notify && r.roomType == model.RoomTypePrivate {
		return resolved(ErrCannotLeave)
	}
	auth := r.session.opts.Authority
	if !notify || auth == nil || r.chatID == "" {
		if notify {
			r.events.Emit(Event{Kind: EventLeaveRequested, Room: r})
		}
		return resolved(r.state.Set(model.StateLeft, false))
	}
	r.events.Emit(Event{Kind: EventLeaveRequested, Room: r})
	if err := r.state.Set(model.StateLeaving, false); err != nil {
		return resolved(err)
	}
	c := newCompletion()
	chatID := r.chatID
	ctx, cancel := r.session.requestContext()
	r.sched.Async(func() func() {
		defer cancel()
		err := auth.Leave(ctx, chatID)
		return func() {
			if err != nil {
				r.log.Warnf("leave: %v", err)
			}
			if setErr := r.state.Set(model.StateLeft, false); setErr != nil && err == nil {
				err = setErr
			}
			c.resolve(err)
		}
	})
	return c
}

// Destroy leaves the room if needed, drops every subscription and removes the
// room from the session on the next loop turn.
func (r *Room) Destroy(notify, noRedirect bool) {
	r.session.events.Emit(Event{Kind: EventRoomDestroyed, Room: r})
	if !r.state.LeftOrLeaving() {
		r.Leave(notify && r.roomType == model.RoomTypeGroup)
	}
	r.Hide()
	r.members.Close()
	r.attachments.abandon()
	r.sched.Post(func() {
		r.session.remove(r)
		view := r.session.view()
		if !noRedirect {
			view.Navigate("fm/chat")
		}
		view.RefreshConversations()
	})
}

// Recover re-enters JOINING after a reconnect. Rooms already left stay left.
func (r *Room) Recover() *Completion {
	r.callRequest = nil
	if r.state.State() == model.StateLeft {
		return resolved(ErrRoomLeft)
	}
	r.membersLoaded = false
	if err := r.state.Set(model.StateJoining, true); err != nil {
		return resolved(err)
	}
	r.session.events.Emit(Event{Kind: EventRoomCreated, Room: r})
	return resolved(nil)
}

// Show makes this the active room, hiding whichever was active before.
func (r *Room) Show() bool {
	if r.active {
		return false
	}
	r.session.hideActive()
	r.active = true
	r.session.current = r.roomID
	r.events.Emit(Event{Kind: EventChatShown, Room: r})
	r.events.Emit(Event{Kind: EventActivity, Room: r})
	view := r.session.view()
	r.sched.Post(view.UpdateDashboard)
	return true
}

func (r *Room) Hide() {
	if !r.active {
		return
	}
	r.active = false
	if r.session.current == r.roomID {
		r.session.current = ""
	}
}

func (r *Room) Topic() string { return r.topic }

func (r *Room) SetTopic(topic string) {
	if topic == r.topic {
		return
	}
	r.topic = topic
	r.emitDataChanged()
}

// Title is the topic if set, otherwise the names of the other members.
func (r *Room) Title() string {
	if t := strings.TrimSpace(r.topic); t != "" {
		runes := []rune(t)
		if len(runes) > titleMaxRunes {
			return string(runes[:titleMaxRunes]) + "..."
		}
		return t
	}
	peers := r.members.ParticipantsExceptMe()
	names := make([]string, 0, len(peers))
	for _, h := range peers {
		names = append(names, r.displayName(h))
	}
	if len(names) == 0 {
		if r.roomType == model.RoomTypeGroup {
			return "Conversation created at " + time.Unix(r.ctime, 0).UTC().Format("2006-01-02 15:04")
		}
		return ""
	}
	if r.roomType == model.RoomTypePrivate {
		return names[0]
	}
	return strings.Join(names, ", ")
}

func (r *Room) displayName(handle string) string {
	if dir := r.session.opts.Directory; dir != nil {
		if c, ok := dir.Lookup(handle); ok {
			if c.Name != "" {
				return c.Name
			}
			if c.Email != "" {
				return c.Email
			}
		}
	}
	return handle
}

// URL is the UI route of the room.
func (r *Room) URL() string {
	if r.roomType == model.RoomTypePrivate {
		if peers := r.members.ParticipantsExceptMe(); len(peers) > 0 {
			return "fm/chat/p/" + peers[0]
		}
	}
	return "fm/chat/g/" + r.roomID
}

// Info is a read-only view of the room for callers outside the loop.
type Info struct {
	RoomID       string                      `json:"room_id"`
	ChatID       string                      `json:"chat_id,omitempty"`
	Type         model.RoomType              `json:"type"`
	State        string                      `json:"state"`
	Title        string                      `json:"title"`
	URL          string                      `json:"url"`
	Members      map[string]model.Permission `json:"members"`
	Flags        model.Flags                 `json:"flags"`
	Archived     bool                        `json:"archived"`
	Displayable  bool                        `json:"displayable"`
	ReadOnly     bool                        `json:"read_only"`
	Operator     bool                        `json:"operator"`
	Active       bool                        `json:"active"`
	LastActivity int64                       `json:"last_activity"`
	Unread       int                         `json:"unread"`
	Messages     int                         `json:"messages"`
}

func (r *Room) Info() Info {
	return Info{
		RoomID:       r.roomID,
		ChatID:       r.chatID,
		Type:         r.roomType,
		State:        r.state.State().String(),
		Title:        r.Title(),
		URL:          r.URL(),
		Members:      r.members.Members(),
		Flags:        r.flags,
		Archived:     r.IsArchived(),
		Displayable:  r.IsDisplayable(),
		ReadOnly:     r.IsReadOnly(),
		Operator:     r.IAmOperator(),
		Active:       r.active,
		LastActivity: r.lastActivity,
		Unread:       r.buffer.UnreadCount(),
		Messages:     r.buffer.Len(),
	}
}
