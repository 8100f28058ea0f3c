package core

import (
	"sync/atomic"
	"time"

	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

// Fragmenter splits an outbound action into packet-sized WireMessages.
// local_action_id is unique per sender and monotonic, satisfying the
// ordering invariant that the fragments of one action from one sender
// are observed contiguously by every receiver.
type Fragmenter struct {
	sender    types.SenderID
	nextID    uint64
	pktSize   int64 // atomic
	timestamp int32 // atomic bool: self-timestamping on/off
}

// NewFragmenter builds a fragmenter for the given sender identity with
// the default packet size.
func NewFragmenter(sender types.SenderID) *Fragmenter {
	f := &Fragmenter{sender: sender}
	atomic.StoreInt64(&f.pktSize, int64(types.DefaultPacketSize))
	return f
}

// SetPacketSize changes the fragmentation target; it takes effect for
// subsequent Fragment calls only.
func (f *Fragmenter) SetPacketSize(size int) error {
	if size <= 0 {
		return types.ErrInvalidPacketSize
	}
	atomic.StoreInt64(&f.pktSize, int64(size))
	return nil
}

func (f *Fragmenter) packetSize() int {
	return int(atomic.LoadInt64(&f.pktSize))
}

// SetSelfTimestamp turns wall-clock stamping of this sender's outbound
// fragments on or off, returning the new state.
func (f *Fragmenter) SetSelfTimestamp(value bool) bool {
	if value {
		atomic.StoreInt32(&f.timestamp, 1)
	} else {
		atomic.StoreInt32(&f.timestamp, 0)
	}
	return value
}

// Fragment splits data into ceil(len/P) WireMessages under a freshly
// allocated local_action_id, returning the id and the ordered fragment
// list to submit to the backend back-to-back.
func (f *Fragmenter) Fragment(actionType types.ActionType, data []byte) (uint64, []types.WireMessage) {
	id := atomic.AddUint64(&f.nextID, 1)
	p := f.packetSize()

	var stamp int64
	if atomic.LoadInt32(&f.timestamp) == 1 {
		stamp = time.Now().UnixNano()
	}

	total := len(data)
	fragCount := (total + p - 1) / p
	if fragCount == 0 {
		fragCount = 1 // zero-size actions still need exactly one fragment
	}

	messages := make([]types.WireMessage, 0, fragCount)
	for i := 0; i < fragCount; i++ {
		start := i * p
		end := start + p
		if end > total {
			end = total
		}
		payload := make([]byte, end-start)
		copy(payload, data[start:end])
		messages = append(messages, types.WireMessage{
			Sender:        f.sender,
			LocalActionID: id,
			FragIndex:     uint32(i),
			FragCount:     uint32(fragCount),
			ActionType:    actionType,
			TotalSize:     uint32(total),
			Payload:       payload,
			Timestamp:     stamp,
		})
	}
	return id, messages
}

// partial is the reassembly-table entry for one (sender, local_action_id).
type partial struct {
	actionType types.ActionType
	fragCount  uint32
	received   uint32
	buf        []byte
	timestamp  int64
}

// Defragmenter reassembles per-sender inbound fragments into whole
// actions. Touched only by the delivery worker — no locking needed
// beyond what the caller already serializes with.
//
// Invariant: reassembly never crosses a view boundary. The node glue
// calls Reset at every view change; DropSender discards the partial
// actions of a single sender.
type Defragmenter struct {
	tables map[types.SenderID]map[uint64]*partial
}

// NewDefragmenter builds an empty reassembly table.
func NewDefragmenter() *Defragmenter {
	return &Defragmenter{tables: make(map[types.SenderID]map[uint64]*partial)}
}

// Accept appends msg's payload to its action's partial buffer and
// returns the whole action, plus the local_action_id it was assembled
// from (needed by the replication matcher to find a self-originated
// waiter), once the last fragment has arrived.
func (d *Defragmenter) Accept(msg types.WireMessage) (types.Action, uint64, bool) {
	bySender, ok := d.tables[msg.Sender]
	if !ok {
		bySender = make(map[uint64]*partial)
		d.tables[msg.Sender] = bySender
	}

	p, ok := bySender[msg.LocalActionID]
	if !ok {
		p = &partial{
			actionType: msg.ActionType,
			fragCount:  msg.FragCount,
			buf:        make([]byte, 0, msg.TotalSize),
			timestamp:  msg.Timestamp,
		}
		bySender[msg.LocalActionID] = p
	}

	// The backend delivers one sender's fragments of one action
	// contiguously and in order (spec invariant: no interleaving from
	// that sender within the action), so appending in arrival order
	// reconstructs the action without needing an explicit offset.
	p.buf = append(p.buf, msg.Payload...)
	p.received++

	if p.received < p.fragCount {
		return types.Action{}, 0, false
	}

	delete(bySender, msg.LocalActionID)
	return types.Action{Type: p.actionType, Data: p.buf, Timestamp: p.timestamp}, msg.LocalActionID, true
}

// Reset discards every in-flight partial action from every sender. A
// fragment sequence can never complete across a view boundary (the
// sender would have to resubmit in the new view regardless), so the
// node glue calls this on every view change rather than trying to map
// backend membership identifiers back to senders.
func (d *Defragmenter) Reset() {
	d.tables = make(map[types.SenderID]map[uint64]*partial)
}

// DropSender discards every partial action in flight from sender and
// returns the local_action_ids that were discarded. The node glue does
// not call it (it uses Reset instead).
func (d *Defragmenter) DropSender(sender types.SenderID) []uint64 {
	bySender, ok := d.tables[sender]
	if !ok {
		return nil
	}
	ids := make([]uint64, 0, len(bySender))
	for id := range bySender {
		ids = append(ids, id)
	}
	delete(d.tables, sender)
	return ids
}
