// Package eventloop runs room handlers one at a time on a single goroutine.
//
// Blocking work (network requests, history pages) runs off the loop via
// Async; its continuation is posted back and runs to completion before the
// next event is taken, so handlers never observe partial mutations.
package eventloop

import (
	"context"
	"errors"
	"sync"

	"github.com/chatroom/internal/logger"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("eventloop: stopped")

// Scheduler is what rooms use to defer work.
type Scheduler interface {
	// Post queues fn to run on the loop after the current handler.
	Post(fn func())
	// Async runs work off the loop and queues the continuation it returns.
	Async(work func() func())
}

// Loop queues without bound, so a handler posting to its own loop never blocks.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// New creates a loop. buffer is the initial queue capacity.
func New(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{
		queue: make([]func(), 0, buffer),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Run processes tasks until ctx is cancelled. In-flight Async work is waited for
// before Run returns; continuations arriving after shutdown are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer func() {
		l.mu.Lock()
		l.once.Do(func() { close(l.done) })
		l.queue = nil
		l.mu.Unlock()
		l.wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
		for ctx.Err() == nil {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.run(fn)
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

// push queues fn and wakes the loop. It reports false once the loop has stopped.
func (l *Loop) push(fn func()) bool {
	l.mu.Lock()
	select {
	case <-l.done:
		l.mu.Unlock()
		return false
	default:
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) run(fn func()) {
	defer func() {
		if err := recover(); err != nil {
			logger.Errorf("eventloop: panic in handler: %v", err)
		}
	}()
	fn()
}

func (l *Loop) Post(fn func()) {
	if fn != nil {
		l.push(fn)
	}
}

func (l *Loop) Async(work func() func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		then := work()
		if then != nil {
			l.Post(then)
		}
	}()
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	finished := make(chan struct{})
	if !l.push(func() { defer close(finished); fn() }) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
