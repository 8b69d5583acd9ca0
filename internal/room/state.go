package room

import (
	"fmt"

	"github.com/chatroom/internal/logger"
	"github.com/chatroom/internal/model"
)

// StateMachine enforces forward-only lifecycle transitions. Only recovery may
// move a room back, and only into JOINING or INITIALIZED.
type StateMachine struct {
	state    model.RoomState
	log      *logger.Scoped
	onChange func(old, next model.RoomState)
}

func newStateMachine(log *logger.Scoped, onChange func(old, next model.RoomState)) *StateMachine {
	return &StateMachine{log: log, onChange: onChange}
}

func (m *StateMachine) State() model.RoomState { return m.state }

// Set moves to next. Setting the current state again is a logged no-op.
func (m *StateMachine) Set(next model.RoomState, recovering bool) error {
	if !next.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidState, int(next))
	}
	if next == m.state {
		m.log.Debugf("state %s set again, ignoring", next)
		return nil
	}
	allowed := next > m.state ||
		(recovering && (next == model.StateJoining || next == model.StateInitialized))
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
	}
	old := m.state
	m.state = next
	m.log.Debugf("state %s -> %s", old, next)
	if m.onChange != nil {
		m.onChange(old, next)
	}
	return nil
}

// LeftOrLeaving reports whether the room is on its way out.
func (m *StateMachine) LeftOrLeaving() bool {
	return m.state == model.StateLeaving || m.state == model.StateLeft
}
