package routing

import (
	"errors"
	"fmt"
)

// ErrCrossNet is returned when a click lands on a connection point that
// belongs to a different net than the active session. The click is
// refused outright; no query is issued and no snap happens.
var ErrCrossNet = errors.New("connection point belongs to a different net")

// ErrBusy is returned when an operation requires the idle mode but a
// routing or companion session is already active.
var ErrBusy = errors.New("another routing session is active")

// ErrNoReference is returned when a companion session is requested
// without a committed reference route.
var ErrNoReference = errors.New("no reference route")

// ErrDuplicateCompanion is returned when a companion net is added twice.
var ErrDuplicateCompanion = errors.New("net already has a companion")

// ViaError reports a refused layer switch. The current layer and
// position are unchanged when this is returned.
type ViaError struct {
	Reason string
}

func (e *ViaError) Error() string {
	return fmt.Sprintf("via placement rejected: %s", e.Reason)
}
