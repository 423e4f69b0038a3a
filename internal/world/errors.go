package world

import (
	"errors"
	"fmt"

	"github.com/l1jgo/worldcore/internal/core/ecs"
)

var (
	ErrInvalidDestination = errors.New("invalid destination")
	ErrLayerOccupied      = errors.New("layer occupied by an unevictable item")
	ErrWouldCreateCycle   = errors.New("move would create a containment cycle")
	ErrCancelled          = errors.New("cancelled by trigger")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrAccountExists      = errors.New("account already exists")
	ErrNoSuchAccount      = errors.New("no such account")
	ErrUnknownDefinition  = errors.New("unknown definition")

	errDisplaced = errors.New("entity displaced during placement")
)

// DenyError is a refused move. Nothing was changed.
type DenyError struct {
	Err    error
	UID    ecs.UID
	Reason string
}

func (e *DenyError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.UID, e.Err, e.Reason)
}

func (e *DenyError) Unwrap() error { return e.Err }

func deny(err error, uid ecs.UID, format string, args ...any) error {
	return &DenyError{Err: err, UID: uid, Reason: fmt.Sprintf(format, args...)}
}

// DenyReason extracts the human readable reason of a refused move.
func DenyReason(err error) (string, bool) {
	var d *DenyError
	if errors.As(err, &d) {
		return d.Reason, true
	}
	return "", false
}

// IsDenied reports whether err is a refusal rather than a failure.
func IsDenied(err error) bool {
	var d *DenyError
	return errors.As(err, &d)
}
