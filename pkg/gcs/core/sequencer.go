package core

import (
	"sync"

	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

// Sequencer assigns two independent seqno axes: a group-wide monotonic
// global seqno for ordered action types, and a per-node gapless local
// seqno for every delivered action. Total order is authoritative from
// the backend; the sequencer never tie-breaks, it only counts.
type Sequencer struct {
	mutex  sync.Mutex
	global types.SeqNo
	local  types.SeqNo
}

// NewSequencer starts counting from the given seed (the history
// position a node was init'd with, or SeqNoNil for a fresh history).
func NewSequencer(seed types.SeqNo) *Sequencer {
	return &Sequencer{global: seed}
}

// Next assigns seqnos to a delivered action. If ordered is true (the
// action type is one of TORDERED/COMMIT_CUT/STATE_REQ and the node is
// in a primary component) the global seqno advances; local always
// advances, gaplessly, across view changes and SYNC events.
func (s *Sequencer) Next(ordered bool) (global types.SeqNo, local types.SeqNo) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if ordered {
		s.global++
		global = s.global
	} else {
		global = types.SeqNoIllegal
	}
	s.local++
	local = s.local
	return global, local
}

// Local returns the last local seqno assigned, without assigning a new
// one — the basis of Conn.Caused().
func (s *Sequencer) Local() types.SeqNo {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.local
}

// Global returns the last global seqno assigned.
func (s *Sequencer) Global() types.SeqNo {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.global
}

// AdoptGlobal fast-forwards the group seqno, used when a node learns
// (via quorum at a view change) that the dominant history line is ahead
// of its own count.
func (s *Sequencer) AdoptGlobal(seqno types.SeqNo) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if seqno > s.global {
		s.global = seqno
	}
}
