package room

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/chatroom/internal/eventloop"
	"github.com/chatroom/internal/model"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const me = "me"

type fakeTransport struct {
	mu        sync.Mutex
	nextID    int64
	err       error
	submitted []model.Message
	pages     [][]model.Message
	pageErr   error
	retention map[string]int
}

func (f *fakeTransport) Submit(_ context.Context, _ string, msg model.Message) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, msg)
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeTransport) RetrieveHistoryPage(context.Context, string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeTransport) HasMoreHistory(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pages) > 0
}

func (f *fakeTransport) SetRetentionPolicy(_ context.Context, chatID string, seconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retention == nil {
		f.retention = make(map[string]int)
	}
	f.retention[chatID] = seconds
	return nil
}

type grant struct{ chat, node, user string }

type fakeAuthority struct {
	flagsErr    error
	truncateErr error
	grantErr    error
	flags       []model.Flags
	truncated   []string
	grants      []grant
	copies      []string
	left        []string
}

func (f *fakeAuthority) SetFlags(_ context.Context, _ string, _, flags model.Flags) error {
	f.flags = append(f.flags, flags)
	return f.flagsErr
}

func (f *fakeAuthority) Truncate(_ context.Context, _, upto string) error {
	f.truncated = append(f.truncated, upto)
	return f.truncateErr
}

func (f *fakeAuthority) GrantAccess(_ context.Context, chatID, node, user string) error {
	f.grants = append(f.grants, grant{chatID, node, user})
	return f.grantErr
}

func (f *fakeAuthority) CopyToChatFolder(_ context.Context, node string) (string, error) {
	f.copies = append(f.copies, node)
	return node + "-copy", nil
}

func (f *fakeAuthority) Leave(_ context.Context, chatID string) error {
	f.left = append(f.left, chatID)
	return nil
}

type fakeDirectory struct {
	contacts    map[string]model.Contact
	next        uint64
	subs        map[string]map[model.ListenerID]func()
	interaction map[string]int64
}

func newFakeDirectory(contacts ...model.Contact) *fakeDirectory {
	d := &fakeDirectory{
		contacts:    make(map[string]model.Contact),
		subs:        make(map[string]map[model.ListenerID]func()),
		interaction: make(map[string]int64),
	}
	for _, c := range contacts {
		d.contacts[c.Handle] = c
	}
	return d
}

func (d *fakeDirectory) Lookup(h string) (model.Contact, bool) {
	c, ok := d.contacts[h]
	return c, ok
}

func (d *fakeDirectory) Subscribe(h string, fn func()) (model.ListenerID, bool) {
	d.next++
	id := model.ListenerID(d.next)
	if d.subs[h] == nil {
		d.subs[h] = make(map[model.ListenerID]func())
	}
	d.subs[h][id] = fn
	return id, true
}

func (d *fakeDirectory) Unsubscribe(h string, id model.ListenerID) {
	delete(d.subs[h], id)
	if len(d.subs[h]) == 0 {
		delete(d.subs, h)
	}
}

func (d *fakeDirectory) SetLastInteraction(h string, ts int64) { d.interaction[h] = ts }

func (d *fakeDirectory) subCount(h string) int { return len(d.subs[h]) }

func (d *fakeDirectory) total() int {
	n := 0
	for _, s := range d.subs {
		n += len(s)
	}
	return n
}

type fakeUploads struct {
	pending   map[string]*model.PendingUpload
	next      uint64
	listeners map[model.ListenerID]UploadListener
	nodes     map[string]model.Node
}

func newFakeUploads() *fakeUploads {
	return &fakeUploads{
		pending:   make(map[string]*model.PendingUpload),
		listeners: make(map[model.ListenerID]UploadListener),
		nodes:     make(map[string]model.Node),
	}
}

func (u *fakeUploads) Add(p *model.PendingUpload) { u.pending[p.UID] = p }

func (u *fakeUploads) Get(uid string) (*model.PendingUpload, bool) {
	p, ok := u.pending[uid]
	return p, ok
}

func (u *fakeUploads) Remove(uid string) { delete(u.pending, uid) }

func (u *fakeUploads) Len() int { return len(u.pending) }

func (u *fakeUploads) Lookup(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	for uid, p := range u.pending {
		if p.FAID == id || p.Handle == id {
			return uid, true
		}
	}
	return "", false
}

func (u *fakeUploads) Subscribe(l UploadListener) model.ListenerID {
	u.next++
	id := model.ListenerID(u.next)
	u.listeners[id] = l
	return id
}

func (u *fakeUploads) Unsubscribe(id model.ListenerID) { delete(u.listeners, id) }

func (u *fakeUploads) Node(h string) (model.Node, bool) {
	n, ok := u.nodes[h]
	return n, ok
}

func (u *fakeUploads) complete(uid, handle, faid, chat string) {
	for _, l := range u.listeners {
		l.OnCompletion(uid, handle, faid, chat)
	}
}

func (u *fakeUploads) attrReady(handle, fa string) {
	for _, l := range u.listeners {
		l.OnAttributeReady(handle, fa)
	}
}

func (u *fakeUploads) attrError(faid string, failed int) {
	for _, l := range u.listeners {
		l.OnAttributeError(faid, context.Canceled, failed)
	}
}

func (u *fakeUploads) fail(uid string) {
	for _, l := range u.listeners {
		l.OnError(uid, context.DeadlineExceeded)
	}
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	puts int
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Put(_ context.Context, collection, id string, record any) error {
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[collection+"/"+id] = b
	m.puts++
	return nil
}

func (m *memStore) Get(_ context.Context, collection, id string, dst any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[collection+"/"+id]
	if !ok {
		return ErrRoomNotFound
	}
	return json.Unmarshal(b, dst)
}

func (m *memStore) Keys(_ context.Context, collection string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		if len(k) > len(collection)+1 && k[:len(collection)+1] == collection+"/" {
			out = append(out, k[len(collection)+1:])
		}
	}
	sort.Strings(out)
	return out, nil
}

type fakeView struct {
	navigated []string
	refreshes int
	dashboard int
	warnings  []string
}

func (v *fakeView) Navigate(p string) { v.navigated = append(v.navigated, p) }
func (v *fakeView) RefreshConversations() { v.refreshes++ }
func (v *fakeView) UpdateDashboard() { v.dashboard++ }
func (v *fakeView) Warn(title, _ string) { v.warnings = append(v.warnings, title) }

type fakeCalls struct {
	started []MediaOptions
	servers []webrtc.ICEServer
}

func (c *fakeCalls) StartCall(_ context.Context, _ string, opts MediaOptions) error {
	c.started = append(c.started, opts)
	return nil
}

func (c *fakeCalls) UpdateIceServers(s []webrtc.ICEServer) { c.servers = s }

type fakeTurn struct{ servers []webrtc.ICEServer }

func (t *fakeTurn) RetrieveTurnServers(context.Context) ([]webrtc.ICEServer, error) {
	return t.servers, nil
}

// harness bundles a session with fakes for every collaborator.
type harness struct {
	loop      *eventloop.Manual
	session   *Session
	transport *fakeTransport
	authority *fakeAuthority
	dir       *fakeDirectory
	uploads   *fakeUploads
	store     *memStore
	view      *fakeView
	calls     *fakeCalls
	turn      *fakeTurn
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		loop:      eventloop.NewManual(),
		transport: &fakeTransport{nextID: 1000},
		authority: &fakeAuthority{},
		dir: newFakeDirectory(
			model.Contact{Handle: "alice", Name: "Alice", IsContact: true},
			model.Contact{Handle: "bob", Email: "bob@example.com", IsContact: true},
		),
		uploads: newFakeUploads(),
		store:   newMemStore(),
		view:    &fakeView{},
		calls:   &fakeCalls{},
		turn:    &fakeTurn{servers: []webrtc.ICEServer{{URLs: []string{"turn:relay:3478?transport=udp"}}}},
	}
	s, err := NewSession(Options{
		Self:                me,
		Scheduler:           h.loop,
		Transport:           h.transport,
		Authority:           h.authority,
		Directory:           h.dir,
		Uploads:             h.uploads,
		Nodes:               h.uploads,
		Store:               h.store,
		Calls:               h.calls,
		Turn:                h.turn,
		View:                h.view,
		DontResendOlderThan: time.Minute,
		Now:                 func() time.Time { return epoch },
	})
	require.NoError(t, err)
	h.session = s
	return h
}

func shard(n int) *int { return &n }

func (h *harness) group(t *testing.T, id string, users ...string) *Room {
	t.Helper()
	r, err := h.session.CreateRoom(Params{
		RoomID: id,
		ChatID: "AAAAAAAAAAE",
		Shard:  shard(3),
		Type:   model.RoomTypeGroup,
		Users:  users,
	})
	require.NoError(t, err)
	return r
}

func (h *harness) private(t *testing.T, peer string) *Room {
	t.Helper()
	r, err := h.session.CreateRoom(Params{
		RoomID: peer,
		ChatID: "AAAAAAAAAAI",
		Shard:  shard(1),
		Type:   model.RoomTypePrivate,
		Users:  []string{me, peer},
	})
	require.NoError(t, err)
	return r
}

// ready joins r and confirms the local membership with the given permission.
func (h *harness) ready(t *testing.T, r *Room, perm model.Permission) {
	t.Helper()
	require.NoError(t, r.Join())
	r.OnMembersUpdated(MembersUpdate{UserID: me, Permission: perm})
	require.Equal(t, model.StateReady, r.State())
}

// kinds records every event of the given kinds emitted by r.
func kinds(r *Room, ks ...EventKind) *[]EventKind {
	var got []EventKind
	for _, k := range ks {
		r.On(k, func(ev Event) { got = append(got, ev.Kind) })
	}
	return &got
}
