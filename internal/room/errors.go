package room

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("room: invalid state transition")
	ErrInvalidState      = errors.New("room: unknown state")
	ErrMissingIdentity   = errors.New("room: missing identity")
	ErrRoomExists        = errors.New("room: already exists")
	ErrRoomNotFound      = errors.New("room: not found")
	ErrReadOnly          = errors.New("room: read only")
	ErrRoomLeft          = errors.New("room: already left")
	ErrCannotLeave       = errors.New("room: private rooms cannot be left")
	ErrHistoryLoading    = errors.New("room: history retrieval already running")
	ErrNothingToTruncate = errors.New("room: nothing to truncate")
	ErrNodeNotFound      = errors.New("room: node not found")
	ErrSendCancelled     = errors.New("room: send held back by hook")
	// ErrSubmitRejected is returned by a Transport when the server refused a
	// message outright; retrying it will not help.
	ErrSubmitRejected = errors.New("room: message rejected")
)

// Remote authority status codes this layer reacts to.
const (
	CodeOK      = 0
	CodeTooOld  = -2
	CodeAccess  = -11
	CodeUnknown = -1
)

// AuthorityError is a non-zero status returned by the remote authority.
// Callers can use errors.As to extract it:
//
//	var authErr *AuthorityError
//	if errors.As(err, &authErr) && authErr.Code == CodeTooOld { ... }
type AuthorityError struct {
	Op   string
	Code int
}

func (e *AuthorityError) Error() string {
	return fmt.Sprintf("authority: %s rejected with code %d", e.Op, e.Code)
}

// IsAuthorityCode checks whether err is an *AuthorityError with the given code.
func IsAuthorityCode(err error, code int) bool {
	var authErr *AuthorityError
	if errors.As(err, &authErr) {
		return authErr.Code == code
	}
	return false
}
