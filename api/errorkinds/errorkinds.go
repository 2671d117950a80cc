// Package errorkinds classifies the errors returned by the transport core.
package errorkinds

import (
	"errors"

	"github.com/Southclaws/fault/ftag"
)

// Sentinel errors matching the kinds of spec section 7. Compare with
// errors.Is; classify a wrapped error's kind with ftag.Get.
var (
	// ErrNotSupported indicates the requested operation does not apply to
	// this transport's profile or codec (e.g. HSP codec switching).
	ErrNotSupported = errors.New("transport: operation not supported")

	// ErrIO indicates a socket or mediator RPC failure after an attempted
	// operation (as opposed to a benign, already-torn-down condition).
	ErrIO = errors.New("transport: io error")

	// ErrBusy indicates the transport is already acquired; the caller
	// receives the existing descriptor rather than a new one. Not an error
	// condition by itself, but returned by APIs that must distinguish it
	// from a fresh acquisition.
	ErrBusy = errors.New("transport: already acquired")

	// ErrNoThread indicates an operation (e.g. drain) requires a running
	// worker thread but none is attached to the PCM endpoint.
	ErrNoThread = errors.New("transport: no running worker thread")

	// ErrInvalidArg indicates a programmer error such as locking PCMs on a
	// transport whose profile is NONE.
	ErrInvalidArg = errors.New("transport: invalid argument")

	// ErrMediatorGone indicates the mediator (or the transport object on
	// the mediator side) is already gone; absorbed silently during release.
	ErrMediatorGone = errors.New("transport: mediator gone")

	// ErrAlreadyClosed indicates an operation on a Transport or Device that
	// has already completed its teardown.
	ErrAlreadyClosed = errors.New("transport: already closed")
)

// TagFor maps a sentinel error to the github.com/Southclaws/fault tag used
// when wrapping it, so callers of fault.Wrap stay consistent without
// re-deriving the mapping at each call site.
func TagFor(err error) ftag.Tag {
	switch {
	case errors.Is(err, ErrNotSupported):
		return ftag.NotImplemented
	case errors.Is(err, ErrIO):
		return ftag.ThirdParty
	case errors.Is(err, ErrNoThread):
		return ftag.NotFound
	case errors.Is(err, ErrInvalidArg):
		return ftag.InvalidArgument
	case errors.Is(err, ErrBusy):
		return ftag.AlreadyExists
	case errors.Is(err, ErrMediatorGone):
		return ftag.NotFound
	case errors.Is(err, ErrAlreadyClosed):
		return ftag.NotFound
	default:
		return ftag.Internal
	}
}

// IsMediatorGoneErr reports whether err wraps ErrMediatorGone, the
// sentinel a Mediator implementation returns for the dbus error names
// IsMediatorBenign recognizes.
func IsMediatorGoneErr(err error) bool {
	return errors.Is(err, ErrMediatorGone)
}

// IsMediatorBenign reports whether the dbus error name corresponds to one of the mediator
// error kinds that a release path should absorb rather than propagate:
// the mediator, or the transport object on the mediator side, is already
// gone (spec section 4.3, 6).
func IsMediatorBenign(name string) bool {
	switch name {
	case "org.freedesktop.DBus.Error.NoReply",
		"org.freedesktop.DBus.Error.ServiceUnknown",
		"org.freedesktop.DBus.Error.UnknownObject":
		return true
	default:
		return false
	}
}
