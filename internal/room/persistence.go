package room

import (
	"errors"

	"github.com/chatroom/internal/model"
)

// PersistenceAdapter writes the room record to the local store and keeps the
// session's archived counter in step with the archived flag.
type PersistenceAdapter struct {
	room *Room
}

// Record builds the persisted form. ok is false while the room has no chat
// id or shard.
func (p *PersistenceAdapter) Record() (model.RoomRecord, bool) {
	r := p.room
	if r.chatID == "" || r.shard == nil {
		return model.RoomRecord{}, false
	}
	rec := model.RoomRecord{
		ID:      r.chatID,
		Shard:   *r.shard,
		Created: r.ctime,
		Flags:   r.flags,
	}
	if r.roomType == model.RoomTypeGroup {
		rec.Group = 1
	}
	for _, u := range r.members.Participants() {
		perm, _ := r.members.Permission(u)
		rec.Users = append(rec.Users, model.MemberRecord{User: u, Permission: perm})
	}
	return rec, true
}

// Persist saves the record in the background. Rooms without a chat id or
// shard are skipped.
func (p *PersistenceAdapter) Persist() *Completion {
	r := p.room
	rec, ok := p.Record()
	store := r.session.opts.Store
	if !ok || store == nil {
		return resolved(nil)
	}
	c := newCompletion()
	ctx, cancel := r.session.requestContext()
	r.sched.Async(func() func() {
		defer cancel()
		err := store.Put(ctx, model.RoomsCollection, rec.ID, rec)
		return func() {
			if err != nil {
				r.log.Errorf("persist %s: %v", rec.ID, err)
			}
			c.resolve(err)
		}
	})
	return c
}

// UpdateFlags replaces the flag set, adjusts the archived counter when the
// archived bit flips, persists, and optionally refreshes the UI.
func (p *PersistenceAdapter) UpdateFlags(flags model.Flags, updateUI bool) {
	r := p.room
	was := r.flags&model.FlagArchived != 0
	r.flags = flags
	now := r.flags&model.FlagArchived != 0
	if was != now {
		if now {
			r.session.archivedCount++
		} else if r.session.archivedCount > 0 {
			r.session.archivedCount--
		}
		r.showArchived = false
	}
	p.Persist()
	r.emitDataChanged()
	if !updateUI {
		return
	}
	view := r.session.view()
	if r.session.current == r.roomID {
		view.Navigate(r.URL())
	} else {
		view.RefreshConversations()
	}
}

// setArchived asks the authority to flip the archived bit and applies the
// change locally only once it is confirmed. Rejections are logged and
// otherwise ignored.
func (p *PersistenceAdapter) setArchived(archived bool) *Completion {
	r := p.room
	auth := r.session.opts.Authority
	if auth == nil {
		return resolved(errors.New("room: no authority configured"))
	}
	if r.chatID == "" {
		return resolved(ErrMissingIdentity)
	}
	var target model.Flags
	if archived {
		target = model.FlagArchived
	}
	c := newCompletion()
	chatID := r.chatID
	ctx, cancel := r.session.requestContext()
	r.sched.Async(func() func() {
		defer cancel()
		err := auth.SetFlags(ctx, chatID, model.FlagArchived, target)
		return func() {
			if err != nil {
				var authErr *AuthorityError
				if errors.As(err, &authErr) {
					r.log.Debugf("set archived=%v rejected: %v", archived, err)
				} else {
					r.log.Warnf("set archived=%v: %v", archived, err)
				}
				c.resolve(err)
				return
			}
			p.UpdateFlags(r.flags&^model.FlagArchived|target, true)
			c.resolve(nil)
		}
	})
	return c
}
