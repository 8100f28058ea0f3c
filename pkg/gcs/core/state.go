package core

import (
	"sync"

	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

// NodeState enumerates the connection lifecycle states: CLOSED -> OPEN
// -> (NON_PRIMARY | PRIMARY{JOINER, DONOR, JOINED, SYNCED}) -> CLOSED.
type NodeState int

const (
	StateClosed NodeState = iota
	StateOpen
	StateNonPrimary
	StateJoiner
	StateDonor
	StateJoined
	StateSynced
)

func (s NodeState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateNonPrimary:
		return "NON_PRIMARY"
	case StateJoiner:
		return "JOINER"
	case StateDonor:
		return "DONOR"
	case StateJoined:
		return "JOINED"
	case StateSynced:
		return "SYNCED"
	default:
		return "UNKNOWN"
	}
}

// pendingTransfer tracks the single in-flight state-transfer request
// this implementation supports at a time: the requester's STATE_REQ
// seqno and the donor chosen for it.
type pendingTransfer struct {
	requestSeqno types.SeqNo
	donorIdx     int
}

// StateMachine is C7: it owns the node's lifecycle state, the quorum-
// determined (uuid, seqno) history position, and the donor/joiner
// bookkeeping for state transfer.
type StateMachine struct {
	mutex sync.Mutex

	state NodeState

	uuid         types.UUID
	historySeqno types.SeqNo // our own history position, seeded by Init or learned at quorum

	confID      int64 // last primary conf_id assigned; -1 while non-primary
	primaryCtr  int64 // successive primary conf_id counter
	members     []string
	myIdx       int
	stRequired  bool

	pending *pendingTransfer

	lastStateReqSeqno types.SeqNo // global seqno of the most recently delivered STATE_REQ, any requester
	syncAnnounced     bool        // true once this node has broadcast its own SYNC for the current Joined episode
}

// NewStateMachine builds a CLOSED state machine, optionally seeded with
// a prior (uuid, seqno) via Init.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateClosed, confID: -1, lastStateReqSeqno: types.SeqNoIllegal}
}

// Init seeds the history position. Valid only before Open or after
// Close.
func (s *StateMachine) Init(seqno types.SeqNo, uuid types.UUID) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state != StateClosed {
		return types.ErrBusy
	}
	s.uuid = uuid
	s.historySeqno = seqno
	return nil
}

// Open transitions CLOSED -> OPEN, awaiting the first CONF.
func (s *StateMachine) Open() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state != StateClosed {
		return types.ErrBusy
	}
	s.state = StateOpen
	return nil
}

// Snapshot is a cheap consistent read of the fields other components
// need without holding the state lock for the duration of their own
// work.
type Snapshot struct {
	State        NodeState
	UUID         types.UUID
	HistorySeqno types.SeqNo
	ConfID       int64
	Members      []string
	MyIdx        int
}

func (s *StateMachine) Snapshot() Snapshot {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return Snapshot{
		State:        s.state,
		UUID:         s.uuid,
		HistorySeqno: s.historySeqno,
		ConfID:       s.confID,
		Members:      append([]string(nil), s.members...),
		MyIdx:        s.myIdx,
	}
}

// ResolveQuorum applies the outcome of the quorum exchange that follows
// a backend view change: the dominant (uuid, seqno) across the new
// membership, and whether this node's own history matches it. It
// returns the CONF payload to synthesize and push through the action
// pipeline, and the new node state.
func (s *StateMachine) ResolveQuorum(view types.View, dominantUUID types.UUID, dominantSeqno types.SeqNo) (types.ConfPayload, NodeState) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.members = view.Members
	s.myIdx = view.MyIndex

	if !view.Primary {
		s.state = StateNonPrimary
		s.confID = -1
		return types.ConfPayload{
			ConfID:     -1,
			GroupUUID:  s.uuid,
			Seqno:      s.historySeqno,
			StRequired: false,
			Members:    view.Members,
			MyIdx:      view.MyIndex,
		}, s.state
	}

	s.primaryCtr++
	s.confID = s.primaryCtr

	stRequired := dominantUUID != s.uuid || dominantSeqno > s.historySeqno
	s.stRequired = stRequired
	if dominantUUID != types.NilUUID && s.uuid == types.NilUUID {
		// We had no seeded history at all: adopt the dominant line's
		// identity; our own seqno still lags until state transfer.
		s.uuid = dominantUUID
	}

	switch {
	case stRequired:
		s.state = StateJoiner
	case s.state == StateSynced:
		// Staying synced across a reconfiguration that doesn't change
		// our history position requires no transition.
	default:
		if s.state != StateJoined {
			s.syncAnnounced = false
		}
		s.state = StateJoined
	}

	return types.ConfPayload{
		ConfID:     s.confID,
		GroupUUID:  s.uuid,
		Seqno:      dominantSeqno,
		StRequired: stRequired,
		Members:    view.Members,
		MyIdx:      view.MyIndex,
	}, s.state
}

// BeginStateTransfer records this node's own outstanding STATE_REQ and
// picks a donor using this implementation's policy: the lowest-indexed
// other current member. Returns ErrEAgain if no other member is
// available.
func (s *StateMachine) BeginStateTransfer(requestSeqno types.SeqNo) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	donor := -1
	for i := range s.members {
		if i != s.myIdx {
			donor = i
			break
		}
	}
	if donor == -1 {
		return 0, types.ErrEAgain
	}
	s.pending = &pendingTransfer{requestSeqno: requestSeqno, donorIdx: donor}
	return donor, nil
}

// BecomeDonor marks this node DONOR while it services someone else's
// state transfer out-of-band.
func (s *StateMachine) BecomeDonor() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state == StateJoined || s.state == StateSynced {
		s.state = StateDonor
	}
}

// ApplyJoin processes a delivered JOIN action. If it resolves this
// node's own pending transfer and status >= 0, the node moves to
// JOINED and its history position becomes requestSeqno+1 (the transfer
// target); status < 0 leaves it JOINER so the caller may request again.
// A donor returns to JOINED once its own JOIN is delivered.
func (s *StateMachine) ApplyJoin(payload types.JoinPayload, wasDonor bool) NodeState {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if wasDonor && s.state == StateDonor {
		s.state = StateJoined
		s.syncAnnounced = false
	}

	if s.pending != nil && s.pending.requestSeqno == payload.RequestSeqno {
		s.pending = nil
		if s.state == StateJoiner {
			if payload.Status >= 0 {
				s.historySeqno = payload.RequestSeqno + 1
				s.state = StateJoined
				s.syncAnnounced = false
			}
			// status < 0: remain JOINER, caller may request again.
		}
	}
	return s.state
}

// RecordStateReq notes the global seqno of a delivered STATE_REQ action,
// observed by every member (not only the requester), so whichever node
// later calls Join as donor can reference "the current request" without
// the public Join(status) signature needing to name it explicitly.
func (s *StateMachine) RecordStateReq(seqno types.SeqNo) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastStateReqSeqno = seqno
}

// LastStateReqSeqno reports the most recently delivered STATE_REQ seqno.
func (s *StateMachine) LastStateReqSeqno() types.SeqNo {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastStateReqSeqno
}

// ShouldAnnounceSync reports whether this node, now that its application
// has applied up to appliedSeqno, should broadcast its own SYNC action:
// true at most once per Joined episode, and only once caught up to its
// history target.
func (s *StateMachine) ShouldAnnounceSync(appliedSeqno types.SeqNo) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state == StateJoined && !s.syncAnnounced && appliedSeqno >= s.historySeqno {
		s.syncAnnounced = true
		return true
	}
	return false
}

// ApplySync processes a delivered SYNC action for this node, moving
// JOINED -> SYNCED.
func (s *StateMachine) ApplySync() NodeState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state == StateJoined {
		s.state = StateSynced
	}
	return s.state
}

// Close transitions to CLOSED from any state. Idempotent.
func (s *StateMachine) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state = StateClosed
	s.pending = nil
}

// State reports the current lifecycle state.
func (s *StateMachine) State() NodeState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// HistorySeqno reports the seqno the node's own history stands at.
func (s *StateMachine) HistorySeqno() types.SeqNo {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.historySeqno
}

// UUID reports the node's current group UUID.
func (s *StateMachine) UUID() types.UUID {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.uuid
}
