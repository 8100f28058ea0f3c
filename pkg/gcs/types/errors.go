package types

import "errors"

// ErrorKind classifies a library error by category, so callers can
// branch on category instead of matching strings.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindState
	KindTransport
	KindViewChange
	KindResource
	KindShutdown
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindState:
		return "state"
	case KindTransport:
		return "transport"
	case KindViewChange:
		return "view-change"
	case KindResource:
		return "resource"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// KindedError tags a sentinel error with its taxonomy kind.
type KindedError struct {
	kind ErrorKind
	err  error
}

func (e *KindedError) Error() string { return e.err.Error() }
func (e *KindedError) Unwrap() error { return e.err }
func (e *KindedError) Kind() ErrorKind { return e.kind }

func newKinded(kind ErrorKind, message string) *KindedError {
	return &KindedError{kind: kind, err: errors.New(message)}
}

// Kind extracts the taxonomy kind of err, if it (or something it wraps)
// carries one.
func Kind(err error) (ErrorKind, bool) {
	var ke *KindedError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return 0, false
}

var (
	// ErrEAgain: no donor currently suitable, caller retries later.
	ErrEAgain = newKinded(KindTransient, "no suitable donor available, retry later")

	// ErrBusy: init called while open.
	ErrBusy = newKinded(KindState, "connection busy: already open")

	// ErrBadFD: use of a destroyed connection.
	ErrBadFD = newKinded(KindState, "connection destroyed")

	// ErrNotOpen: an operation requiring an open connection was called
	// before the first open.
	ErrNotOpen = newKinded(KindState, "connection not open")

	// ErrInvalidPacketSize: a non-positive packet size was configured.
	ErrInvalidPacketSize = newKinded(KindResource, "invalid packet size")

	// ErrTransport wraps an unrecoverable backend send/recv failure.
	ErrTransport = newKinded(KindTransport, "transport failure")

	// ErrViewChange: the action was lost to a reconfiguration before
	// being delivered; the caller may resubmit after the next primary
	// CONF.
	ErrViewChange = newKinded(KindViewChange, "action lost to view change, not ordered")

	// ErrShutdown: the connection is closed. Returned to repl() calls
	// still outstanding at Close and to Send/Repl made after it.
	ErrShutdown = newKinded(KindShutdown, "connection closed")

	// ErrNotSendable: the application attempted to Send/Repl an
	// internally-generated action type.
	ErrNotSendable = newKinded(KindResource, "action type is not application-sendable")

	// ErrNotPrimary: a send/repl was attempted while the node is not
	// in a primary component.
	ErrNotPrimary = newKinded(KindState, "not in a primary component")
)
