package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chatroom/internal/eventloop"
	"github.com/chatroom/internal/logger"
	"github.com/chatroom/internal/model"
)

const defaultRequestTimeout = 15 * time.Second

// Options wire a session to its collaborators. Only Self and Scheduler are
// required; a missing collaborator disables the features that need it.
type Options struct {
	Self      string
	Scheduler eventloop.Scheduler

	Transport Transport
	Authority Authority
	Directory Directory
	Uploads   Uploads
	Nodes     Nodes
	Store     Store
	Calls     CallManager
	Turn      TurnProvider
	View      View

	RequestTimeout      time.Duration
	DontResendOlderThan time.Duration
	Now                 func() time.Time
}

// Session owns every room of the local user together with the state they
// share: the archived counter, the active room and the upload listeners.
type Session struct {
	opts   Options
	self   string
	log    *logger.Scoped
	events Emitter

	ctx    context.Context
	cancel context.CancelFunc

	rooms         map[string]*Room
	archivedCount int
	current       string
	uploadHolders map[*AttachmentCoordinator]struct{}
}

func NewSession(opts Options) (*Session, error) {
	if opts.Self == "" {
		return nil, fmt.Errorf("%w: empty self handle", ErrMissingIdentity)
	}
	if opts.Scheduler == nil {
		return nil, errors.New("room: session needs a scheduler")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		opts:          opts,
		self:          opts.Self,
		log:           logger.Named("session"),
		ctx:           ctx,
		cancel:        cancel,
		rooms:         make(map[string]*Room),
		uploadHolders: make(map[*AttachmentCoordinator]struct{}),
	}, nil
}

// Init binds background requests to ctx. Cancelling ctx aborts them.
func (s *Session) Init(ctx context.Context) {
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
}

// Close drops every room subscription and cancels outstanding requests.
func (s *Session) Close() {
	for _, r := range s.rooms {
		r.members.Close()
		r.attachments.abandon()
	}
	s.rooms = make(map[string]*Room)
	s.archivedCount = 0
	s.current = ""
	s.cancel()
}

func (s *Session) Self() string { return s.self }

func (s *Session) On(kind EventKind, fn Handler) model.ListenerID { return s.events.On(kind, fn) }

func (s *Session) Off(id model.ListenerID) { s.events.Off(id) }

func (s *Session) now() time.Time { return s.opts.Now() }

func (s *Session) view() View {
	if s.opts.View == nil {
		return nopView{}
	}
	return s.opts.View
}

func (s *Session) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.opts.RequestTimeout)
}

func (s *Session) node(handle string) (model.Node, bool) {
	if s.opts.Nodes == nil {
		return model.Node{}, false
	}
	return s.opts.Nodes.Node(handle)
}

// CreateRoom adds a room and announces it on the session bus.
func (s *Session) CreateRoom(p Params) (*Room, error) {
	if _, ok := s.rooms[p.RoomID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomExists, p.RoomID)
	}
	r, err := newRoom(s, p)
	if err != nil {
		return nil, err
	}
	s.rooms[r.roomID] = r
	if r.IsArchived() {
		s.archivedCount++
	}
	s.events.Emit(Event{Kind: EventRoomCreated, Room: r})
	return r, nil
}

func (s *Session) Room(id string) (*Room, bool) {
	r, ok := s.rooms[id]
	return r, ok
}

func (s *Session) RoomByChatID(chatID string) (*Room, bool) {
	for _, r := range s.rooms {
		if r.chatID == chatID {
			return r, true
		}
	}
	return nil, false
}

// Rooms returns all rooms, most recently active first.
func (s *Session) Rooms() []*Room {
	out := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].lastActivity != out[j].lastActivity {
			return out[i].lastActivity > out[j].lastActivity
		}
		return out[i].roomID < out[j].roomID
	})
	return out
}

// ArchivedCount is the number of rooms with the archived flag set.
func (s *Session) ArchivedCount() int { return s.archivedCount }

// Current returns the active room, if any.
func (s *Session) Current() (*Room, bool) {
	if s.current == "" {
		return nil, false
	}
	return s.Room(s.current)
}

func (s *Session) hideActive() {
	if r, ok := s.Current(); ok {
		r.Hide()
	}
	s.current = ""
}

func (s *Session) remove(r *Room) {
	if s.rooms[r.roomID] != r {
		return
	}
	delete(s.rooms, r.roomID)
	if r.IsArchived() && s.archivedCount > 0 {
		s.archivedCount--
	}
}

func (s *Session) holdUploads(a *AttachmentCoordinator) {
	s.uploadHolders[a] = struct{}{}
}

func (s *Session) dropUploadHolder(a *AttachmentCoordinator) {
	delete(s.uploadHolders, a)
}

// releaseUploadListeners tears down every room's upload listener once no
// upload is pending anywhere.
func (s *Session) releaseUploadListeners() {
	if s.opts.Uploads == nil || s.opts.Uploads.Len() > 0 {
		return
	}
	for a := range s.uploadHolders {
		a.release()
		delete(s.uploadHolders, a)
	}
}

func (s *Session) lookup(roomID string) (*Room, error) {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return r, nil
}

// Deliver appends a message pushed by the server.
func (s *Session) Deliver(roomID string, msg *model.Message) error {
	r, err := s.lookup(roomID)
	if err != nil {
		return err
	}
	r.AppendMessage(msg)
	return nil
}

func (s *Session) ApplyMembers(roomID string, upd MembersUpdate) error {
	r, err := s.lookup(roomID)
	if err != nil {
		return err
	}
	r.OnMembersUpdated(upd)
	return nil
}

func (s *Session) ApplyTruncate(roomID, msgID, by string) error {
	r, err := s.lookup(roomID)
	if err != nil {
		return err
	}
	r.OnTruncated(msgID, by)
	return nil
}

// ApplyFlags applies flags changed from another device.
func (s *Session) ApplyFlags(chatID string, flags model.Flags) error {
	r, ok := s.RoomByChatID(chatID)
	if !ok {
		return fmt.Errorf("%w: chat %s", ErrRoomNotFound, chatID)
	}
	r.UpdateFlags(flags, true)
	return nil
}

// Reconnected recovers every room that was not left and resubmits unsent
// messages within the resend window.
func (s *Session) Reconnected() (recovered, resent int) {
	for _, r := range s.Rooms() {
		if r.Recover().Err() == nil {
			recovered++
		}
	}
	return recovered, s.ResendUnsent()
}

// ResendUnsent resubmits unsent local messages in every room.
func (s *Session) ResendUnsent() int {
	n := 0
	for _, r := range s.Rooms() {
		n += r.Resend(s.opts.DontResendOlderThan)
	}
	return n
}

// Restore recreates rooms from the local store. Rooms already present are
// left untouched.
func (s *Session) Restore() *Completion {
	store := s.opts.Store
	if store == nil {
		return resolved(nil)
	}
	c := newCompletion()
	ctx, cancel := s.requestContext()
	s.opts.Scheduler.Async(func() func() {
		defer cancel()
		records, err := loadRecords(ctx, store)
		return func() {
			if err != nil {
				s.log.Errorf("restore: %v", err)
				c.resolve(err)
				return
			}
			restored := 0
			for _, rec := range records {
				if _, ok := s.RoomByChatID(rec.ID); ok {
					continue
				}
				r, err := s.CreateRoom(s.paramsFromRecord(rec))
				if err != nil {
					s.log.Warnf("restore %s: %v", rec.ID, err)
					continue
				}
				for _, u := range rec.Users {
					r.members.members[u.User] = u.Permission
				}
				restored++
			}
			s.log.Infof("restore: %d rooms", restored)
			c.resolve(nil)
		}
	})
	return c
}

func loadRecords(ctx context.Context, store Store) ([]model.RoomRecord, error) {
	ids, err := store.Keys(ctx, model.RoomsCollection)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	records := make([]model.RoomRecord, 0, len(ids))
	for _, id := range ids {
		var rec model.RoomRecord
		if err := store.Get(ctx, model.RoomsCollection, id, &rec); err != nil {
			return nil, fmt.Errorf("load %s: %w", id, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Session) paramsFromRecord(rec model.RoomRecord) Params {
	shard := rec.Shard
	p := Params{
		RoomID: rec.ID,
		ChatID: rec.ID,
		Shard:  &shard,
		Type:   model.RoomTypeGroup,
		CTime:  rec.Created,
		Flags:  rec.Flags,
	}
	for _, u := range rec.Users {
		p.Users = append(p.Users, u.User)
	}
	if rec.Group == 0 {
		p.Type = model.RoomTypePrivate
		for _, u := range p.Users {
			if u != s.self {
				p.RoomID = u
				break
			}
		}
	}
	return p
}
