package transport

import (
	"github.com/chatroom/internal/eventloop"
	"github.com/chatroom/internal/logger"
	"github.com/chatroom/internal/room"
)

// Dispatcher returns an onPush callback that hands server pushes to the
// session on its loop. It is called from the read goroutine.
func Dispatcher(sched eventloop.Scheduler, s *room.Session) func(Frame) {
	return func(f Frame) {
		sched.Post(func() {
			if err := apply(s, f); err != nil {
				logger.Debugf("chatd: %s for %s%s dropped: %v", f.Type, f.RoomID, f.ChatID, err)
			}
		})
	}
}

// Reconnected returns an onConnect callback that recovers rooms and resends
// unsent messages on the loop.
func Reconnected(sched eventloop.Scheduler, s *room.Session) func() {
	return func() {
		sched.Post(func() {
			recovered, resent := s.Reconnected()
			logger.Infof("chatd: recovered %d rooms, resent %d messages", recovered, resent)
		})
	}
}

func apply(s *room.Session, f Frame) error {
	switch f.Type {
	case FrameNewMessage:
		if f.Message == nil {
			return nil
		}
		return s.Deliver(f.RoomID, f.Message)
	case FrameMembers:
		return s.ApplyMembers(f.RoomID, room.MembersUpdate{
			UserID:     f.UserID,
			Permission: f.Permission,
			Removed:    f.Removed,
		})
	case FrameTruncated:
		return s.ApplyTruncate(f.RoomID, f.MessageID, f.UserID)
	case FrameFlags:
		return s.ApplyFlags(f.ChatID, f.Flags)
	default:
		logger.Debugf("chatd: unknown frame %q", f.Type)
		return nil
	}
}
