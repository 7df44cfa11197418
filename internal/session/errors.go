package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingCredentials = errors.New("missing username or password")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLockedOut          = errors.New("too many failed login attempts")
	ErrNoFile             = errors.New("no file selected")
	ErrEntryNotFound      = errors.New("history entry not found")
	ErrNoActiveDataset    = errors.New("no dataset selected")
	ErrSessionClosed      = errors.New("session closed")
	ErrSuperseded         = errors.New("superseded by a newer upload")
)

// LockedOutError is returned by Login while a username and client are locked out.
type LockedOutError struct {
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ErrLockedOut, e.RetryIn())
}

// RetryIn is the remaining lockout rounded up to whole seconds.
func (e *LockedOutError) RetryIn() time.Duration {
	d := e.Remaining.Round(time.Second)
	if d < e.Remaining {
		d += time.Second
	}
	return d
}

func (e *LockedOutError) Is(target error) bool {
	return target == ErrLockedOut
}
