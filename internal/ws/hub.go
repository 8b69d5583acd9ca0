package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatroom/internal/logger"
)

// Runner выполняет fn в event loop и ждёт завершения (eventloop.Loop.Do).
type Runner func(ctx context.Context, fn func()) error

// Hub раздаёт события комнат всем подключённым UI и принимает от них команды.
// Broadcast и методы View безопасны из любой горутины.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	maxConns   int
	run        Runner
	commands   Commands
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// bridge трогается только из event loop
	bridge *bridge
}

// Commands is the room side of UI commands. Methods run on the event loop.
type Commands interface {
	SendMessage(roomID, text string) error
	MarkSeen(roomID string) error
	ShowRoom(roomID string) error
}

func NewHub(maxConns int, run Runner) *Hub {
	if maxConns <= 0 {
		maxConns = 64
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		maxConns:   maxConns,
		run:        run,
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Собираем клиентов под локом, I/O без мьютекса.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting client=%s", h.maxConns, c.id)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.Debugf("ws client=%s connected", c.id)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()

	c.Close()
	logger.Debugf("ws client=%s disconnected", c.id)
}

// Clients returns the number of connected UI clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleMessage executes a UI command on the event loop.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.HandleMessage", time.Now())()
	if h.commands == nil || h.run == nil {
		h.replyError(c, msg, "not ready")
		return
	}
	if msg.RoomID == "" {
		h.replyError(c, msg, "room_id required")
		return
	}

	var cmd func() error
	switch msg.Type {
	case EventSendMessage:
		if msg.Text == "" {
			h.replyError(c, msg, "text required")
			return
		}
		cmd = func() error { return h.commands.SendMessage(msg.RoomID, msg.Text) }
	case EventMarkSeen:
		cmd = func() error { return h.commands.MarkSeen(msg.RoomID) }
	case EventShowRoom:
		cmd = func() error { return h.commands.ShowRoom(msg.RoomID) }
	default:
		h.replyError(c, msg, "unknown event type")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var cmdErr error
	if err := h.run(ctx, func() { cmdErr = cmd() }); err != nil {
		cmdErr = err
	}
	if cmdErr != nil {
		if !errors.Is(cmdErr, context.Canceled) {
			logger.Errorf("ws %s room=%s client=%s: %v", msg.Type, msg.RoomID, c.id, cmdErr)
		}
		h.replyError(c, msg, cmdErr.Error())
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventAck, Payload: AckPayload{Command: msg.Type, RoomID: msg.RoomID}})
}

func (h *Hub) replyError(c *Client, msg IncomingMessage, text string) {
	h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Command: msg.Type, RoomID: msg.RoomID, Error: text}})
}

// Broadcast sends msg to every connected UI.
func (h *Hub) Broadcast(msg OutgoingMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client=%s", c.id)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Navigate, RefreshConversations, UpdateDashboard and Warn make the hub a room.View.

func (h *Hub) Navigate(path string) {
	h.Broadcast(OutgoingMessage{Type: EventNavigate, Payload: NavigatePayload{Path: path}})
}

func (h *Hub) RefreshConversations() {
	h.Broadcast(OutgoingMessage{Type: EventConversations, Payload: nil})
}

func (h *Hub) UpdateDashboard() {
	archived := 0
	if h.bridge != nil {
		archived = h.bridge.session.ArchivedCount()
	}
	h.Broadcast(OutgoingMessage{Type: EventDashboard, Payload: DashboardPayload{Archived: archived}})
}

func (h *Hub) Warn(title, body string) {
	h.Broadcast(OutgoingMessage{Type: EventWarning, Payload: WarningPayload{Title: title, Body: body}})
}
