package room

import (
	"context"

	"github.com/chatroom/internal/eventloop"
	"github.com/chatroom/internal/logger"
	"github.com/chatroom/internal/model"
)

// HistoryLoader pulls older pages until the transport reports there are none
// left. Pages are fetched off the loop and merged on it.
type HistoryLoader struct {
	roomID    string
	transport Transport
	sched     eventloop.Scheduler
	log       *logger.Scoped
	loading   bool
	onPage    func([]model.Message)
}

// RetrieveAll fetches every remaining page. Only one retrieval runs at a time.
func (h *HistoryLoader) RetrieveAll(ctx context.Context) *Completion {
	c := newCompletion()
	if h.loading {
		c.resolve(ErrHistoryLoading)
		return c
	}
	if h.transport == nil || !h.transport.HasMoreHistory(h.roomID) {
		c.resolve(nil)
		return c
	}
	h.loading = true
	h.sched.Async(func() func() {
		pages, err := h.fetch(ctx)
		return func() {
			h.loading = false
			if err != nil {
				h.log.Warnf("history: stopped after %d pages: %v", pages, err)
			} else {
				h.log.Debugf("history: retrieved %d pages", pages)
			}
			c.resolve(err)
		}
	})
	return c
}

func (h *HistoryLoader) fetch(ctx context.Context) (int, error) {
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		page, err := h.transport.RetrieveHistoryPage(ctx, h.roomID)
		if err != nil {
			return pages, err
		}
		pages++
		if len(page) > 0 {
			h.sched.Post(func() { h.onPage(page) })
		}
		if !h.transport.HasMoreHistory(h.roomID) {
			return pages, nil
		}
	}
}

// Loading reports whether a retrieval is in flight.
func (h *HistoryLoader) Loading() bool { return h.loading }
