// Package call tracks outgoing call requests and the ICE servers calls use.
// Media signalling itself happens elsewhere.
package call

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/chatroom/internal/logger"
	"github.com/chatroom/internal/room"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var ErrBusy = errors.New("call: room already has a call")

const (
	StatusRinging = "ringing"
	StatusActive  = "active"
)

// State: состояние одного звонка.
type State struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Audio     bool      `json:"audio"`
	Video     bool      `json:"video"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type Manager struct {
	mu      sync.RWMutex
	calls   map[string]*State
	servers []webrtc.ICEServer
	onEnded func(roomID string)
}

// NewManager creates a manager. onEnded runs after a call is ended, from the
// caller's goroutine.
func NewManager(onEnded func(roomID string)) *Manager {
	return &Manager{calls: make(map[string]*State), onEnded: onEnded}
}

func (m *Manager) StartCall(ctx context.Context, roomID string, opts room.MediaOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[roomID]; ok {
		return ErrBusy
	}
	st := &State{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Audio:     opts.Audio,
		Video:     opts.Video,
		Status:    StatusRinging,
		CreatedAt: time.Now().UTC(),
	}
	m.calls[roomID] = st
	logger.Infof("call %s started room=%s audio=%t video=%t", st.ID, roomID, opts.Audio, opts.Video)
	return nil
}

// Answer marks the room's call as connected.
func (m *Manager) Answer(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.calls[roomID]
	if !ok {
		return false
	}
	st.Status = StatusActive
	return true
}

// End drops the room's call and reports whether there was one.
func (m *Manager) End(roomID string) bool {
	m.mu.Lock()
	st, ok := m.calls[roomID]
	delete(m.calls, roomID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	logger.Infof("call %s ended room=%s", st.ID, roomID)
	if m.onEnded != nil {
		m.onEnded(roomID)
	}
	return true
}

func (m *Manager) Calls() []State {
	m.mu.RLock()
	out := make([]State, 0, len(m.calls))
	for _, st := range m.calls {
		out = append(out, *st)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

func (m *Manager) UpdateIceServers(servers []webrtc.ICEServer) {
	cp := make([]webrtc.ICEServer, len(servers))
	copy(cp, servers)
	m.mu.Lock()
	m.servers = cp
	m.mu.Unlock()
	logger.Debugf("call: %d ice servers", len(cp))
}

func (m *Manager) ICEServers() []webrtc.ICEServer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]webrtc.ICEServer, len(m.servers))
	copy(out, m.servers)
	return out
}

// Configuration returns the peer connection settings for new calls.
func (m *Manager) Configuration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers:         m.ICEServers(),
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}
