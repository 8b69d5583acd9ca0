package room

import "context"

// Completion resolves once an asynchronous room operation finishes. It is
// resolved on the event loop and may be waited on from any goroutine.
type Completion struct {
	done chan struct{}
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func resolved(err error) *Completion {
	c := newCompletion()
	c.resolve(err)
	return c
}

func (c *Completion) resolve(err error) {
	select {
	case <-c.done:
		return
	default:
	}
	c.err = err
	close(c.done)
}

func (c *Completion) Done() <-chan struct{} { return c.done }

// Err returns the outcome. It is nil until Done is closed.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Resolved reports whether the operation has finished.
func (c *Completion) Resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
