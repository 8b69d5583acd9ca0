package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chatroom/internal/logger"
	"github.com/chatroom/internal/model"
	"github.com/chatroom/internal/room"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 1 << 20
	defaultPageSize       = 32
	sendBufSize           = 256
)

var ErrClosed = errors.New("transport: connection closed")

// bufPool pools bytes.Buffer for JSON encoding in writePump.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

type Options struct {
	URL            string
	Header         http.Header
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	PageSize       int
	Dialer         *websocket.Dialer
}

func (o *Options) withDefaults() {
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// Client is one chatd WebSocket connection.
// Lifecycle: Dial -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	opts   Options
	conn   *websocket.Conn
	send   chan Frame
	onPush func(Frame)

	mu      sync.Mutex
	pending map[string]chan Frame

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// Dial connects and starts the pumps. Frames without a matching request are
// passed to onPush from the read goroutine.
func Dial(ctx context.Context, opts Options, onPush func(Frame)) (*Client, error) {
	opts.withDefaults()
	conn, _, err := opts.Dialer.DialContext(ctx, opts.URL, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	pumpCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:    opts,
		conn:    conn,
		send:    make(chan Frame, sendBufSize),
		onPush:  onPush,
		pending: make(map[string]chan Frame),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	c.wg.Add(2)
	go c.writePump(pumpCtx)
	go c.readPump(pumpCtx)
	return c, nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() { c.wg.Wait() }

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer c.Close()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		logger.Errorf("chatd set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("chatd read error: %v", err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Errorf("chatd unmarshal error: %v", err)
			continue
		}
		if f.ReqID != "" && c.resolve(f) {
			continue
		}
		if c.onPush != nil {
			c.onPush(f)
		}
	}
}

func (c *Client) resolve(f Frame) bool {
	c.mu.Lock()
	ch, ok := c.pending[f.ReqID]
	delete(c.pending, f.ReqID)
	c.mu.Unlock()
	if ok {
		ch <- f
	}
	return ok
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case f := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Errorf("chatd set write deadline: %v", err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(f); err != nil {
				bufPool.Put(buf)
				logger.Errorf("chatd marshal error: %v", err)
				continue
			}
			data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				logger.Errorf("chatd write error: %v", writeErr)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// request sends f and waits for the frame carrying the same req_id.
func (c *Client) request(ctx context.Context, f Frame) (Frame, error) {
	f.ReqID = uuid.NewString()
	ch := make(chan Frame, 1)
	c.mu.Lock()
	c.pending[f.ReqID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, f.ReqID)
		c.mu.Unlock()
	}()

	select {
	case c.send <- f:
	case <-c.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
	select {
	case resp := <-ch:
		if resp.Type == FrameError {
			return resp, frameError(f.Type, resp)
		}
		return resp, nil
	case <-c.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func frameError(op FrameType, f Frame) error {
	if f.Rejected {
		return fmt.Errorf("%s: %w: %s", op, room.ErrSubmitRejected, f.Error)
	}
	return fmt.Errorf("%s: chatd error %d: %s", op, f.Code, f.Error)
}

// Submit sends one message and returns the sequencing token from the ack.
func (c *Client) Submit(ctx context.Context, roomID string, msg model.Message) (int64, error) {
	resp, err := c.request(ctx, Frame{Type: FrameSend, RoomID: roomID, Message: &msg})
	if err != nil {
		return 0, err
	}
	return resp.MsgID, nil
}

// History fetches the next page of older messages and whether more remain.
func (c *Client) History(ctx context.Context, roomID string) ([]model.Message, bool, error) {
	resp, err := c.request(ctx, Frame{Type: FrameHistory, RoomID: roomID, Count: c.opts.PageSize})
	if err != nil {
		return nil, false, err
	}
	return resp.Messages, resp.More, nil
}

func (c *Client) SetRetention(ctx context.Context, chatID string, seconds int) error {
	_, err := c.request(ctx, Frame{Type: FrameRetention, ChatID: chatID, Seconds: seconds})
	return err
}
