// Package directory is the local contact list rooms resolve members against.
package directory

import (
	"sort"
	"sync"

	"github.com/chatroom/internal/eventloop"
	"github.com/chatroom/internal/model"
)

// Directory is safe for concurrent use. Change callbacks are posted to the
// event loop.
type Directory struct {
	sched eventloop.Scheduler

	mu          sync.RWMutex
	contacts    map[string]model.Contact
	interaction map[string]int64
	listeners   map[string]map[model.ListenerID]func()
	nextID      model.ListenerID
}

func New(sched eventloop.Scheduler) *Directory {
	return &Directory{
		sched:       sched,
		contacts:    make(map[string]model.Contact),
		interaction: make(map[string]int64),
		listeners:   make(map[string]map[model.ListenerID]func()),
	}
}

// Put adds or replaces a contact and notifies its subscribers.
func (d *Directory) Put(c model.Contact) {
	d.mu.Lock()
	prev, had := d.contacts[c.Handle]
	d.contacts[c.Handle] = c
	d.mu.Unlock()
	if !had || prev != c {
		d.notify(c.Handle)
	}
}

func (d *Directory) Remove(handle string) {
	d.mu.Lock()
	_, had := d.contacts[handle]
	delete(d.contacts, handle)
	d.mu.Unlock()
	if had {
		d.notify(handle)
	}
}

func (d *Directory) Lookup(handle string) (model.Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[handle]
	return c, ok
}

// Contacts returns all known users sorted by handle.
func (d *Directory) Contacts() []model.Contact {
	d.mu.RLock()
	out := make([]model.Contact, 0, len(d.contacts))
	for _, c := range d.contacts {
		out = append(out, c)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (d *Directory) Subscribe(handle string, fn func()) (model.ListenerID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.contacts[handle]; !ok {
		return 0, false
	}
	d.nextID++
	if d.listeners[handle] == nil {
		d.listeners[handle] = make(map[model.ListenerID]func())
	}
	d.listeners[handle][d.nextID] = fn
	return d.nextID, true
}

func (d *Directory) Unsubscribe(handle string, id model.ListenerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listeners[handle], id)
	if len(d.listeners[handle]) == 0 {
		delete(d.listeners, handle)
	}
}

// Subscriptions returns the number of live subscriptions for handle.
func (d *Directory) Subscriptions(handle string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[handle])
}

// SetLastInteraction keeps the newest timestamp seen for handle.
func (d *Directory) SetLastInteraction(handle string, ts int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts > d.interaction[handle] {
		d.interaction[handle] = ts
	}
}

func (d *Directory) LastInteraction(handle string) int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.interaction[handle]
}

func (d *Directory) notify(handle string) {
	d.sched.Post(func() {
		d.mu.RLock()
		fns := make([]func(), 0, len(d.listeners[handle]))
		for _, fn := range d.listeners[handle] {
			fns = append(fns, fn)
		}
		d.mu.RUnlock()
		for _, fn := range fns {
			fn()
		}
	})
}
