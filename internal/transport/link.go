package transport

import (
	"context"
	"sync"
	"time"

	"github.com/chatroom/internal/logger"
	"github.com/chatroom/internal/model"
	"github.com/chatroom/internal/startup"
)

// Link keeps a chatd connection alive and exposes it to rooms as a single
// transport across reconnects. Requests made while disconnected fail with
// ErrClosed.
type Link struct {
	opts      Options
	onPush    func(Frame)
	onConnect func()
	backoff   startup.Backoff

	mu   sync.RWMutex
	cur  *Client
	more map[string]bool
}

// NewLink creates a link. onConnect runs after every successful dial,
// including the first.
func NewLink(opts Options, onPush func(Frame), onConnect func()) *Link {
	opts.withDefaults()
	return &Link{
		opts:      opts,
		onPush:    onPush,
		onConnect: onConnect,
		backoff:   startup.DefaultBackoff,
		more:      make(map[string]bool),
	}
}

// Run dials, waits for the connection to drop and dials again until ctx is done.
func (l *Link) Run(ctx context.Context) {
	delay := l.backoff.Initial
	for {
		c, err := Dial(ctx, l.opts, l.onPush)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("chatd: %v, retry in %v", err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay < l.backoff.Max {
				delay *= 2
			}
			continue
		}
		delay = l.backoff.Initial
		logger.Infof("chatd: connected to %s", l.opts.URL)
		l.set(c)
		if l.onConnect != nil {
			l.onConnect()
		}
		select {
		case <-ctx.Done():
			c.Close()
			c.Wait()
			l.set(nil)
			return
		case <-c.Done():
			c.Wait()
			l.set(nil)
			logger.Errorf("chatd: connection lost")
		}
	}
}

func (l *Link) set(c *Client) {
	l.mu.Lock()
	l.cur = c
	l.mu.Unlock()
}

func (l *Link) current() (*Client, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.cur == nil {
		return nil, ErrClosed
	}
	return l.cur, nil
}

// Connected reports whether a connection is currently up.
func (l *Link) Connected() bool {
	_, err := l.current()
	return err == nil
}

func (l *Link) Submit(ctx context.Context, roomID string, msg model.Message) (int64, error) {
	c, err := l.current()
	if err != nil {
		return 0, err
	}
	return c.Submit(ctx, roomID, msg)
}

func (l *Link) RetrieveHistoryPage(ctx context.Context, roomID string) ([]model.Message, error) {
	c, err := l.current()
	if err != nil {
		return nil, err
	}
	msgs, more, err := c.History(ctx, roomID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.more[roomID] = more
	l.mu.Unlock()
	return msgs, nil
}

// HasMoreHistory is true until the server returns a page without more.
func (l *Link) HasMoreHistory(roomID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	more, ok := l.more[roomID]
	return !ok || more
}

func (l *Link) SetRetentionPolicy(ctx context.Context, chatID string, seconds int) error {
	c, err := l.current()
	if err != nil {
		return err
	}
	return c.SetRetention(ctx, chatID, seconds)
}
