package session

import "errors"

// Per-session failures are contained to the session that raised them; these
// values exist so callers can classify, not to abort the run.
var (
	// ErrNotConnected means a write was attempted on a dead session.
	ErrNotConnected = errors.New("not connected")

	// ErrDisabled means a write was attempted on a disabled session.
	ErrDisabled = errors.New("session disabled")

	// ErrNotDead means reconnect was attempted on a session that is still
	// live; only dead sessions can reconnect.
	ErrNotDead = errors.New("session is not dead")

	// ErrNameCollision means a rename targeted a display name already held
	// by another session.
	ErrNameCollision = errors.New("display name already in use")

	// ErrBadName means a display name used the reserved '#' character.
	ErrBadName = errors.New("display names cannot contain '#'")
)
