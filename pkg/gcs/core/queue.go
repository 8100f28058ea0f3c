package core

import (
	"sync"

	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

// ReceiveQueue is the bounded FIFO handoff from the delivery worker to
// the application's Recv calls (C5). Recv blocks when empty; Enqueue
// blocks when full, giving the flow controller (C6) a depth signal to
// react to. Close drains pending waiters and makes every further Recv
// return end-of-stream.
type ReceiveQueue struct {
	mutex    sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []types.Action
	capacity int
	closed   bool
}

// NewReceiveQueue builds a queue bounded at capacity items.
func NewReceiveQueue(capacity int) *ReceiveQueue {
	q := &ReceiveQueue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mutex)
	q.notFull = sync.NewCond(&q.mutex)
	return q
}

// Enqueue appends action, blocking while the queue is full. Returns
// false if the queue was closed while waiting or before the call.
func (q *ReceiveQueue) Enqueue(action types.Action) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for len(q.items) >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return false
	}
	q.items = append(q.items, action)
	q.notEmpty.Signal()
	return true
}

// Dequeue blocks until an action is available or the queue is closed,
// in which case ok is false (end-of-stream).
func (q *ReceiveQueue) Dequeue() (action types.Action, ok bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 && q.closed {
		return types.Action{}, false
	}
	action = q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return action, true
}

// Len reports the current queue depth, for the flow controller.
func (q *ReceiveQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

// Close drains the queue and wakes every blocked Enqueue/Dequeue call;
// subsequent Dequeue calls observe end-of-stream. Idempotent.
func (q *ReceiveQueue) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}
