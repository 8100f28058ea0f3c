package core

import (
	"sync"

	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

// matchResult is what a repl() caller is woken with: its own action's
// assigned seqnos, or an error if the action was never ordered.
type matchResult struct {
	global types.SeqNo
	local  types.SeqNo
	err    error
}

// waiter is one outstanding-send table entry: one per in-flight repl
// call on this node, keyed by the local_action_id the fragmenter
// allocated for it.
type waiter struct {
	actionType types.ActionType
	notify     chan matchResult
}

// Matcher is the replication matcher (C4): it matches each inbound
// delivered action against outstanding local send requests so a
// blocked repl() caller is woken with its own action's seqnos.
type Matcher struct {
	mutex   sync.Mutex
	waiters map[uint64]*waiter
}

// NewMatcher builds an empty outstanding-send table.
func NewMatcher() *Matcher {
	return &Matcher{waiters: make(map[uint64]*waiter)}
}

// Register adds a waiter for local_action_id id and returns the channel
// it will be woken on. Only repl() registers; send() does not.
func (m *Matcher) Register(id uint64, actionType types.ActionType) <-chan matchResult {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	w := &waiter{actionType: actionType, notify: make(chan matchResult, 1)}
	m.waiters[id] = w
	return w.notify
}

// Unregister removes a waiter without completing it, used if Register
// was called but encoding or submitting one of its fragments failed.
func (m *Matcher) Unregister(id uint64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.waiters, id)
}

// Match looks up id; if found it completes the waiter with the given
// seqnos and returns true, telling the caller not to enqueue this
// action into the receive queue (the repl call itself returns the
// delivery). If not found (a send(), or another node's action, or an
// id this node never issued) it returns false and the caller should
// enqueue normally.
func (m *Matcher) Match(id uint64, global, local types.SeqNo) bool {
	m.mutex.Lock()
	w, ok := m.waiters[id]
	if ok {
		delete(m.waiters, id)
	}
	m.mutex.Unlock()
	if !ok {
		return false
	}
	w.notify <- matchResult{global: global, local: local}
	close(w.notify)
	return true
}

// Fail completes the waiter for id with an error instead of seqnos,
// e.g. when the defragmenter discards a partial action because its
// sender was lost in a view change.
func (m *Matcher) Fail(id uint64, err error) {
	m.mutex.Lock()
	w, ok := m.waiters[id]
	if ok {
		delete(m.waiters, id)
	}
	m.mutex.Unlock()
	if !ok {
		return
	}
	w.notify <- matchResult{err: err}
	close(w.notify)
}

// FailAll completes every outstanding waiter with err, used on close
// and when the primary component is lost before delivery.
func (m *Matcher) FailAll(err error) {
	m.mutex.Lock()
	waiters := m.waiters
	m.waiters = make(map[uint64]*waiter)
	m.mutex.Unlock()

	for _, w := range waiters {
		w.notify <- matchResult{err: err}
		close(w.notify)
	}
}
