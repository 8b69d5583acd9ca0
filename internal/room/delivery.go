package room

import (
	"errors"
	"time"

	"github.com/chatroom/internal/model"
)

// DeliveryPipeline turns composed text into buffered messages and hands them
// to the transport once every send hook lets them through.
type DeliveryPipeline struct {
	room *Room
	seq  uint64
	// inflight holds ids handed to the transport and not answered yet. They
	// stay not_sent until the ack.
	inflight map[string]struct{}
}

// Send appends a new local message and starts its submission. The message is
// visible in the buffer before the transport is involved.
func (d *DeliveryPipeline) Send(text string) (*model.Message, error) {
	r := d.room
	if r.IsReadOnly() {
		return nil, ErrReadOnly
	}
	if r.state.LeftOrLeaving() {
		return nil, ErrRoomLeft
	}
	d.seq++
	now := r.session.now()
	msg := &model.Message{
		MessageID:    TempMessageID(r.roomID, d.seq, text),
		UserID:       r.session.self,
		TextContents: text,
		Delay:        now.Unix(),
		TS:           now.Unix(),
		Status:       model.MessageNotSent,
	}
	r.events.Emit(Event{Kind: EventSendMessageRequested, Room: r, Message: msg})
	r.appendMessage(msg, true)
	d.submit(msg)
	return msg, nil
}

// submit runs the hooks in order and sends msg unless one of them holds it back.
func (d *DeliveryPipeline) submit(msg *model.Message) bool {
	r := d.room
	req := &SendRequest{Message: msg}
	for _, kind := range []EventKind{EventPreBeforeSend, EventBeforeSend, EventPostBeforeSend} {
		r.events.Emit(Event{Kind: kind, Room: r, Message: msg, Send: req})
		if req.Cancel {
			r.log.Debugf("send of %s held back by %s hook", msg.MessageID, kind)
			return false
		}
	}
	t := r.session.opts.Transport
	if t == nil {
		r.log.Warnf("send of %s: no transport", msg.MessageID)
		return false
	}
	if d.inflight == nil {
		d.inflight = make(map[string]struct{})
	}
	d.inflight[msg.MessageID] = struct{}{}
	snapshot := *msg
	ctx, cancel := r.session.requestContext()
	r.sched.Async(func() func() {
		defer cancel()
		id, err := t.Submit(ctx, r.roomID, snapshot)
		return func() { d.onSubmitted(msg, id, err) }
	})
	return true
}

func (d *DeliveryPipeline) onSubmitted(msg *model.Message, id int64, err error) {
	r := d.room
	delete(d.inflight, msg.MessageID)
	if err != nil {
		if errors.Is(err, ErrSubmitRejected) {
			msg.Status = model.MessageFailed
		} else {
			msg.Status = model.MessageNotSent
		}
		r.log.Warnf("send of %s failed: %v", msg.MessageID, err)
		r.emitDataChanged()
		return
	}
	// The message keeps its slot; only its sequencing changes.
	msg.InternalID = id
	msg.OrderValue = float64(id)
	msg.Status = model.MessageSent
	r.emitDataChanged()
}

// Resend resubmits local messages still marked not sent, skipping those older
// than maxAge. It returns how many were handed to the transport.
func (d *DeliveryPipeline) Resend(maxAge time.Duration) int {
	r := d.room
	if r.state.LeftOrLeaving() || r.IsReadOnly() {
		return 0
	}
	cutoff := r.session.now().Add(-maxAge).Unix()
	n := 0
	for _, msg := range r.buffer.messages {
		if msg.UserID != r.session.self || msg.Status != model.MessageNotSent {
			continue
		}
		if _, busy := d.inflight[msg.MessageID]; busy {
			continue
		}
		if maxAge > 0 && msg.Timestamp() < cutoff {
			continue
		}
		if d.submit(msg) {
			n++
		}
	}
	return n
}
