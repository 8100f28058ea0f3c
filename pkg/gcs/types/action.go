package types

import (
	"fmt"

	"github.com/google/uuid"
)

// ActionType tags an Action with its role in the protocol. Only the
// first three are sendable by the application; the rest are generated
// internally and handed to the application (or consumed internally, in
// the case of FLOW and SERVICE) through the same ordered stream.
type ActionType uint8

const (
	// TORDERED is a plain totally-ordered application action.
	TORDERED ActionType = iota
	// COMMITCUT asks the group to agree on a truncation point.
	COMMITCUT
	// STATEREQ requests state transfer for the sending node.
	STATEREQ
	// CONF carries a configuration-view change, synthesized by the
	// node state machine at every backend view change.
	CONF
	// JOIN is emitted by a donor (or a joiner on its own behalf) to
	// signal a state-transfer outcome.
	JOIN
	// SYNC marks a JOINED node as caught up with the group.
	SYNC
	// FLOW carries a flow-control pause/resume notification.
	FLOW
	// SERVICE carries the library's quorum votes exchanged at each view
	// change; it is consumed internally, never handed to the application.
	SERVICE
	// ERROR surfaces an asynchronous failure to the application.
	ERROR
	// UNKNOWN is the zero value of an action that failed to decode.
	UNKNOWN
)

func (t ActionType) String() string {
	switch t {
	case TORDERED:
		return "TORDERED"
	case COMMITCUT:
		return "COMMIT_CUT"
	case STATEREQ:
		return "STATE_REQ"
	case CONF:
		return "CONF"
	case JOIN:
		return "JOIN"
	case SYNC:
		return "SYNC"
	case FLOW:
		return "FLOW"
	case SERVICE:
		return "SERVICE"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Sendable reports whether the application may submit this action type
// through Send/Repl. The remaining types are library-generated.
func (t ActionType) Sendable() bool {
	return t == TORDERED || t == COMMITCUT || t == STATEREQ
}

// Ordered reports whether this action type receives a global seqno when
// delivered in a primary component.
func (t ActionType) Ordered() bool {
	return t == TORDERED || t == COMMITCUT || t == STATEREQ
}

// UUID is a 16-byte identifier tagging a history line. Two nodes agree
// on (UUID, seqno) iff they share history up to seqno.
type UUID [16]byte

// NilUUID is the zero-valued, unset UUID.
var NilUUID UUID

// NewUUID generates a fresh random UUID for a new history line.
func NewUUID() UUID {
	var id UUID
	copy(id[:], uuid.New()[:])
	return id
}

func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// SenderID identifies the node that originated an action.
type SenderID uint64

// Action is a variable-sized opaque payload plus metadata, the unit the
// application sends and receives.
type Action struct {
	Type        ActionType
	Data        []byte
	GlobalSeqNo SeqNo
	LocalSeqNo  SeqNo
	Sender      SenderID

	// Timestamp is the sender's wall clock at fragmentation time, in
	// UnixNano. Zero unless the sender had self-timestamping enabled.
	Timestamp int64
}

func (a Action) String() string {
	return fmt.Sprintf("Action{type=%s size=%d global=%d local=%d sender=%d}",
		a.Type, len(a.Data), a.GlobalSeqNo, a.LocalSeqNo, a.Sender)
}

// ConfPayload is the decoded body of a CONF action: the configuration
// header fields followed by the member list. It is gob-encoded like
// every other payload, so member identifiers are length-prefixed strings
// rather than null-terminated ones.
type ConfPayload struct {
	ConfID      int64
	GroupUUID   UUID
	Seqno       SeqNo
	StRequired  bool
	Members     []string
	MyIdx       int
}

// FlowPayload is the decoded body of a FLOW action.
type FlowPayload struct {
	Paused bool
	Node   SenderID
}

// ServicePayload carries a node's (uuid, seqno) history position during
// the quorum exchange that follows a view change. It is internal
// protocol traffic, never surfaced to the application.
type ServicePayload struct {
	UUID   UUID
	Seqno  SeqNo
	ConfID int64
}

// JoinPayload is the decoded body of a JOIN action: the outcome of an
// out-of-band state transfer the donor performed for the joiner whose
// STATE_REQ was assigned RequestSeqno.
type JoinPayload struct {
	Status       int64
	RequestSeqno SeqNo
	Donor        int
}

// SyncPayload is the decoded body of a SYNC action: the sender has
// caught its local applier up to the configuration's target seqno.
type SyncPayload struct {
	Node SenderID
}

// MaxMemberIDLen is the bound on a member identifier, null terminator
// included, of the CONF wire layout. ConfPayload does not check member
// identifiers against it.
const MaxMemberIDLen = 40
