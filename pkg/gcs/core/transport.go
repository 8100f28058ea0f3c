package core

import (
	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

// Backend is the uniform interface to a virtually synchronous
// transport. Within a primary component all members deliver the same
// messages in the same total order; across configuration changes the
// backend delivers a view-change event bounding which messages belong
// to which view.
//
// SendMessage is non-blocking to the extent the backend allows it;
// failures are surfaced as errors and degrade the connection to
// NON-PRIMARY or CLOSED by the node state machine.
type Backend interface {
	// SendMessage submits one already-fragmented wire message for
	// total-order delivery to the group.
	SendMessage(data []byte) error

	// RecvEvent is the channel of delivered messages and view changes.
	// It is closed when the backend shuts down.
	RecvEvent() <-chan types.Event

	// Close tears down the backend. Idempotent.
	Close() error

	// Name identifies this backend variant, e.g. "dummy" or "relt".
	Name() string

	// Self reports the sender identity this backend delivers messages
	// under, so the node glue can recognize its own fragments as they
	// come back through the total-order stream.
	Self() types.SenderID
}
