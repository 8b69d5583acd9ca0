// Package upload keeps the process-wide table of uploads that target rooms
// and fans upload manager signals out to room listeners.
//
// Signal methods may be called from any goroutine; listeners always run on
// the event loop.
package upload

import (
	"sort"
	"sync"

	"github.com/chatroom/internal/eventloop"
	"github.com/chatroom/internal/model"
	"github.com/chatroom/internal/room"
)

type Registry struct {
	sched eventloop.Scheduler

	mu        sync.Mutex
	pending   map[string]*model.PendingUpload
	nodes     map[string]model.Node
	listeners map[model.ListenerID]room.UploadListener
	nextID    model.ListenerID
}

func NewRegistry(sched eventloop.Scheduler) *Registry {
	return &Registry{
		sched:     sched,
		pending:   make(map[string]*model.PendingUpload),
		nodes:     make(map[string]model.Node),
		listeners: make(map[model.ListenerID]room.UploadListener),
	}
}

func (r *Registry) Add(p *model.PendingUpload) {
	r.mu.Lock()
	r.pending[p.UID] = p
	r.mu.Unlock()
}

func (r *Registry) Get(uid string) (*model.PendingUpload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[uid]
	return p, ok
}

func (r *Registry) Remove(uid string) {
	r.mu.Lock()
	delete(r.pending, uid)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Pending returns a copy of every pending upload ordered by uid.
func (r *Registry) Pending() []model.PendingUpload {
	r.mu.Lock()
	out := make([]model.PendingUpload, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, *p)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// Lookup finds the upload waiting on a file attribute id or node handle.
func (r *Registry) Lookup(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		return "", false
	}
	for uid, p := range r.pending {
		if (p.FAID != "" && p.FAID == id) || (p.Handle != "" && p.Handle == id) {
			return uid, true
		}
	}
	return "", false
}

func (r *Registry) Subscribe(l room.UploadListener) model.ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.listeners[r.nextID] = l
	return r.nextID
}

func (r *Registry) Unsubscribe(id model.ListenerID) {
	r.mu.Lock()
	delete(r.listeners, id)
	r.mu.Unlock()
}

// Listeners returns the number of registered listeners.
func (r *Registry) Listeners() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// PutNode records a node so rooms can resolve it when attaching. Attributes
// already reported for the handle survive a put that carries fewer.
func (r *Registry) PutNode(n model.Node) {
	r.mu.Lock()
	if old, ok := r.nodes[n.Handle]; ok && model.CountAttributes(old.FA) > model.CountAttributes(n.FA) {
		n.FA = old.FA
	}
	r.nodes[n.Handle] = n
	r.mu.Unlock()
}

func (r *Registry) Node(handle string) (model.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[handle]
	return n, ok
}

// Complete reports a finished upload that produced node. faid is the file
// attribute id still being stored, chat is the room the upload was started from.
func (r *Registry) Complete(uid string, node model.Node, faid, chat string) {
	r.PutNode(node)
	r.emit(func(l room.UploadListener) {
		if l.OnCompletion != nil {
			l.OnCompletion(uid, node.Handle, faid, chat)
		}
	})
}

func (r *Registry) Fail(uid string, err error) {
	r.emit(func(l room.UploadListener) {
		if l.OnError != nil {
			l.OnError(uid, err)
		}
	})
}

func (r *Registry) Abort(uid string) {
	r.emit(func(l room.UploadListener) {
		if l.OnAbort != nil {
			l.OnAbort(uid)
		}
	})
}

// AttributeError reports that failed attributes for faid will never arrive.
func (r *Registry) AttributeError(faid string, err error, failed int) {
	r.emit(func(l room.UploadListener) {
		if l.OnAttributeError != nil {
			l.OnAttributeError(faid, err, failed)
		}
	})
}

// AttributeReady reports the node's updated attribute string. It may arrive
// before the upload completion that introduces the node.
func (r *Registry) AttributeReady(handle, fa string) {
	r.mu.Lock()
	n, ok := r.nodes[handle]
	if !ok {
		n = model.Node{Handle: handle}
	}
	if model.CountAttributes(fa) >= model.CountAttributes(n.FA) {
		n.FA = fa
	}
	r.nodes[handle] = n
	r.mu.Unlock()
	r.emit(func(l room.UploadListener) {
		if l.OnAttributeReady != nil {
			l.OnAttributeReady(handle, fa)
		}
	})
}

// emit calls every listener registered when the signal reaches the loop,
// in registration order.
func (r *Registry) emit(call func(room.UploadListener)) {
	r.sched.Post(func() {
		r.mu.Lock()
		ids := make([]model.ListenerID, 0, len(r.listeners))
		for id := range r.listeners {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		snapshot := make([]room.UploadListener, 0, len(ids))
		for _, id := range ids {
			snapshot = append(snapshot, r.listeners[id])
		}
		r.mu.Unlock()
		for _, l := range snapshot {
			call(l)
		}
	})
}
