package room

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chatroom/internal/model"
)

// AttachmentCoordinator ties pending uploads to this room and attaches the
// resulting nodes exactly once, after the node has all expected file
// attributes. Upload manager listeners are installed on the first pending
// upload and released by the session once no upload is pending anywhere.
type AttachmentCoordinator struct {
	room     *Room
	listener model.ListenerID
	uids     map[string]struct{}
	// ready holds the newest attribute string per handle while a check is queued.
	ready map[string]string
}

func newAttachmentCoordinator(r *Room) *AttachmentCoordinator {
	return &AttachmentCoordinator{
		room:  r,
		uids:  make(map[string]struct{}),
		ready: make(map[string]string),
	}
}

// Track registers an upload started for this room. efa is the number of
// file attributes the resulting node is expected to carry.
func (a *AttachmentCoordinator) Track(uid string, efa int) {
	uploads := a.room.session.opts.Uploads
	if uploads == nil || uid == "" {
		return
	}
	if efa < 0 {
		efa = 0
	}
	uploads.Add(&model.PendingUpload{UID: uid, RoomID: a.room.roomID, EFA: efa})
	a.uids[uid] = struct{}{}
	a.install()
}

// Listening reports whether upload manager listeners are installed.
func (a *AttachmentCoordinator) Listening() bool { return a.listener != 0 }

func (a *AttachmentCoordinator) install() {
	if a.listener != 0 {
		return
	}
	post := a.room.sched.Post
	a.listener = a.room.session.opts.Uploads.Subscribe(UploadListener{
		OnCompletion: func(uid, handle, faid, chat string) {
			post(func() { a.onCompletion(uid, handle, faid, chat) })
		},
		OnError: func(uid string, err error) {
			post(func() { a.onFailure(uid, err) })
		},
		OnAbort: func(uid string) {
			post(func() { a.onFailure(uid, errors.New("aborted")) })
		},
		OnAttributeError: func(faid string, err error, failed int) {
			post(func() { a.onAttributeError(faid, err, failed) })
		},
		OnAttributeReady: func(handle, fa string) {
			post(func() { a.onAttributeReady(handle, fa) })
		},
	})
	a.room.session.holdUploads(a)
}

// release removes the upload manager listener.
func (a *AttachmentCoordinator) release() {
	if a.listener == 0 {
		return
	}
	a.room.session.opts.Uploads.Unsubscribe(a.listener)
	a.listener = 0
}

// pending returns the upload record if it belongs to this room.
func (a *AttachmentCoordinator) pending(uid string) (*model.PendingUpload, bool) {
	ul, ok := a.room.session.opts.Uploads.Get(uid)
	if !ok || ul.RoomID != a.room.roomID {
		return nil, false
	}
	return ul, true
}

func (a *AttachmentCoordinator) onCompletion(uid, handle, faid, chat string) {
	if chat == "" {
		return
	}
	if !strings.Contains(chat, "/"+a.room.roomID) {
		if _, ok := a.uids[uid]; !ok {
			return
		}
	}
	ul, ok := a.pending(uid)
	if !ok {
		if _, mine := a.uids[uid]; mine {
			a.room.log.Errorf("upload %s completed with no pending record", uid)
		}
		return
	}
	node, ok := a.room.session.node(handle)
	if !ok {
		a.onFailure(uid, fmt.Errorf("%w: %s", ErrNodeNotFound, handle))
		return
	}
	ul.Handle = handle
	ul.Completed = true
	if ul.EFA > 0 && node.AttributeCount() < ul.EFA {
		ul.FAID = faid
		a.room.log.Debugf("upload %s waiting for %d file attributes", uid, ul.EFA)
		return
	}
	a.complete(ul)
}

func (a *AttachmentCoordinator) onFailure(uid string, err error) {
	if _, ok := a.pending(uid); !ok {
		return
	}
	a.room.log.Warnf("upload %s failed: %v", uid, err)
	a.room.session.opts.Uploads.Remove(uid)
	delete(a.uids, uid)
	a.room.session.releaseUploadListeners()
}

func (a *AttachmentCoordinator) onAttributeError(faid string, err error, failed int) {
	uid, ok := a.room.session.opts.Uploads.Lookup(faid)
	if !ok {
		return
	}
	ul, ok := a.pending(uid)
	if !ok {
		return
	}
	a.room.log.Warnf("upload %s: %d file attributes failed: %v", uid, failed, err)
	ul.EFA -= failed
	if ul.EFA < 0 {
		ul.EFA = 0
	}
	if ul.Handle == "" {
		return
	}
	node, ok := a.room.session.node(ul.Handle)
	if ul.EFA == 0 || (ok && node.AttributeCount() >= ul.EFA) {
		a.complete(ul)
	}
}

// onAttributeReady coalesces bursts of attribute signals for one handle into
// a single check.
func (a *AttachmentCoordinator) onAttributeReady(handle, fa string) {
	if _, queued := a.ready[handle]; queued {
		a.ready[handle] = fa
		return
	}
	a.ready[handle] = fa
	a.room.sched.Post(func() {
		latest := a.ready[handle]
		delete(a.ready, handle)
		uid, ok := a.room.session.opts.Uploads.Lookup(handle)
		if !ok {
			return
		}
		ul, ok := a.pending(uid)
		if !ok {
			return
		}
		if ul.Handle == "" {
			a.room.log.Warnf("attributes ready for %s before upload %s completed", handle, uid)
			return
		}
		if model.CountAttributes(latest) >= ul.EFA {
			a.complete(ul)
		}
	})
}

// complete attaches the node of ul unless that already happened.
func (a *AttachmentCoordinator) complete(ul *model.PendingUpload) {
	uploads := a.room.session.opts.Uploads
	if _, ok := uploads.Get(ul.UID); !ok {
		return
	}
	uploads.Remove(ul.UID)
	delete(a.uids, ul.UID)
	a.room.AttachNodes([]string{ul.Handle})
	a.room.session.releaseUploadListeners()
}

// abandon drops every pending upload of this room and its listener.
func (a *AttachmentCoordinator) abandon() {
	if uploads := a.room.session.opts.Uploads; uploads != nil {
		for uid := range a.uids {
			uploads.Remove(uid)
		}
	}
	a.uids = make(map[string]struct{})
	a.release()
	a.room.session.dropUploadHolder(a)
	a.room.session.releaseUploadListeners()
}

// attachment is a node ready to be shared in the room.
type attachment struct {
	meta model.NodeMeta
	err  error
}

// AttachNodes shares nodes with every other member and posts one attachment
// message per node. Nodes owned by someone else are first copied into the
// local chat folder.
func (r *Room) AttachNodes(handles []string) *Completion {
	c := newCompletion()
	if r.IsReadOnly() {
		c.resolve(ErrReadOnly)
		return c
	}
	auth := r.session.opts.Authority
	self := r.session.self
	peers := r.members.ParticipantsExceptMe()
	var (
		nodes   []model.Node
		missing []error
	)
	for _, h := range handles {
		n, ok := r.session.node(h)
		if !ok {
			missing = append(missing, fmt.Errorf("%w: %s", ErrNodeNotFound, h))
			continue
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 || auth == nil {
		if auth == nil && len(nodes) > 0 {
			missing = append(missing, errors.New("room: no authority configured"))
		}
		c.resolve(errors.Join(missing...))
		return c
	}
	chatID := r.chatID
	ctx, cancel := r.session.requestContext()
	r.sched.Async(func() func() {
		defer cancel()
		results := make([]attachment, 0, len(nodes))
		for _, n := range nodes {
			meta := n.Meta()
			if n.Owner != self {
				copied, err := auth.CopyToChatFolder(ctx, n.Handle)
				if err != nil {
					results = append(results, attachment{err: fmt.Errorf("copy %s: %w", n.Handle, err)})
					continue
				}
				meta.Handle = copied
			}
			var grantErr error
			for _, u := range peers {
				if err := auth.GrantAccess(ctx, chatID, meta.Handle, u); err != nil {
					grantErr = fmt.Errorf("grant %s to %s: %w", meta.Handle, u, err)
					break
				}
			}
			results = append(results, attachment{meta: meta, err: grantErr})
		}
		return func() {
			errs := missing
			for _, res := range results {
				if res.err != nil {
					errs = append(errs, res.err)
					continue
				}
				body, err := model.ManagementMessage(model.ManagementAttachment, []model.NodeMeta{res.meta})
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if _, err := r.SendMessage(body); err != nil {
					errs = append(errs, err)
				}
			}
			if len(errs) > 0 {
				r.log.Warnf("attach: %v", errors.Join(errs...))
			}
			c.resolve(errors.Join(errs...))
		}
	})
	return c
}

// AttachContacts posts a single message sharing the given contact cards.
func (r *Room) AttachContacts(handles []string) (*model.Message, error) {
	dir := r.session.opts.Directory
	cards := make([]model.ContactMeta, 0, len(handles))
	for _, h := range handles {
		card := model.ContactMeta{Handle: h}
		if dir != nil {
			if c, ok := dir.Lookup(h); ok {
				card.Email = c.Email
				card.Name = c.Name
			}
		}
		cards = append(cards, card)
	}
	if len(cards) == 0 {
		return nil, nil
	}
	body, err := model.ManagementMessage(model.ManagementContact, cards)
	if err != nil {
		return nil, err
	}
	return r.SendMessage(body)
}
