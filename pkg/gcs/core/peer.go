package core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

// queueCapacity bounds the receive queue between the delivery worker
// and the application's Recv calls.
const queueCapacity = 4096

// Node is the glue wiring one backend connection to the fragmenter,
// sequencer, replication matcher, receive queue, flow controller and
// state machine: a single delivery worker goroutine (run) drains the
// backend's event channel and drives every other component, structured
// as a single poller over one channel rather than a pool of readers, so
// total order from the backend is never reordered by concurrent
// dispatch.
type Node struct {
	logPtr  atomic.Value // types.Logger, swappable at runtime via SetLogger
	backend Backend
	self    types.SenderID

	frag    *Fragmenter
	defrag  *Defragmenter
	seq     *Sequencer
	matcher *Matcher
	queue   *ReceiveQueue
	flow    *FlowController
	sm      *StateMachine

	invoker Invoker

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// Quorum vote collection for the view currently being resolved.
	// voteView is cleared once quorum resolves, so late or duplicate
	// SERVICE votes for an already-resolved view are ignored.
	voteMu   sync.Mutex
	voteView *types.View
	votes    map[types.SenderID]types.ServicePayload
}

// NewNode builds a Node over an already-joined backend. log must not be
// nil; invoker defaults to InvokerInstance() if nil.
func NewNode(backend Backend, log types.Logger, watermarks FlowWatermarks, reg prometheus.Registerer, invoker Invoker) *Node {
	if invoker == nil {
		invoker = InvokerInstance()
	}
	self := backend.Self()
	n := &Node{
		backend: backend,
		self:    self,
		frag:    NewFragmenter(self),
		defrag:  NewDefragmenter(),
		seq:     NewSequencer(types.SeqNoNil),
		matcher: NewMatcher(),
		queue:   NewReceiveQueue(queueCapacity),
		sm:      NewStateMachine(),
		invoker: invoker,
		votes:   make(map[types.SenderID]types.ServicePayload),
	}
	n.logPtr.Store(log)
	n.flow = NewFlowController(n.queue, watermarks, reg, n.emitFlow)
	return n
}

// log returns the logger currently in effect, swappable at runtime by
// SetLogger without the delivery worker needing its own synchronization.
func (n *Node) log() types.Logger { return n.logPtr.Load().(types.Logger) }

// SetLogger replaces the log sink used by this node from this point on.
func (n *Node) SetLogger(log types.Logger) { n.logPtr.Store(log) }

// ToggleDebug flips the active logger's verbosity, returning the new
// state.
func (n *Node) ToggleDebug(value bool) bool { return n.log().ToggleDebug(value) }

// SetWatermarks overrides the flow-control pause/resume thresholds from
// this point on.
func (n *Node) SetWatermarks(w FlowWatermarks) { n.flow.SetWatermarks(w) }

// ToggleSelfTimestamp turns wall-clock stamping of outbound actions on
// or off, returning the new state.
func (n *Node) ToggleSelfTimestamp(value bool) bool { return n.frag.SetSelfTimestamp(value) }

// Self reports the sender identity this node's backend delivers under.
func (n *Node) Self() types.SenderID { return n.self }

// BackendName reports the underlying transport variant.
func (n *Node) BackendName() string { return n.backend.Name() }

// Snapshot reports a consistent read of the node's lifecycle state.
func (n *Node) Snapshot() Snapshot { return n.sm.Snapshot() }

// Init seeds the node's history position, before Open.
func (n *Node) Init(seqno types.SeqNo, uuid types.UUID) error {
	if err := n.sm.Init(seqno, uuid); err != nil {
		return err
	}
	n.seq = NewSequencer(seqno)
	return nil
}

// Open transitions CLOSED -> OPEN and starts the delivery worker.
func (n *Node) Open() error {
	if err := n.sm.Open(); err != nil {
		return err
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.done = make(chan struct{})
	n.invoker.Spawn(n.run)
	return nil
}

// Close tears the node down: the delivery worker stops, every
// outstanding repl() waiter fails with ErrShutdown, and Recv starts
// returning end-of-stream. Idempotent.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
		}
		err = n.backend.Close()
		n.matcher.FailAll(types.ErrShutdown)
		n.queue.Close()
		n.sm.Close()
		if n.done != nil {
			<-n.done
		}
	})
	return err
}

// Recv blocks for the next delivered action, returning ok=false once
// the node is closed and the queue has drained.
func (n *Node) Recv() (types.Action, bool) {
	return n.queue.Dequeue()
}

// Wait implements the wait() flow-control predicate.
func (n *Node) Wait() bool { return n.flow.Wait() }

// SetPktSize reconfigures the fragmentation target for subsequent
// Send/Repl calls.
func (n *Node) SetPktSize(size int) error { return n.frag.SetPacketSize(size) }

// Caused returns the last local seqno the delivery worker has assigned,
// whether or not the application has yet taken that action from Recv.
func (n *Node) Caused() types.SeqNo { return n.seq.Local() }

func (n *Node) assertSendable() error {
	switch n.sm.State() {
	case StateJoiner, StateDonor, StateJoined, StateSynced:
		return nil
	case StateClosed:
		return types.ErrShutdown
	default:
		return types.ErrNotPrimary
	}
}

// Send submits actionType/data for total-order delivery without
// waiting for it to come back around.
func (n *Node) Send(actionType types.ActionType, data []byte) error {
	if !actionType.Sendable() {
		return types.ErrNotSendable
	}
	if err := n.assertSendable(); err != nil {
		return err
	}
	return n.sendInternal(actionType, data)
}

// Repl submits actionType/data and blocks until this node's own action
// is delivered back, returning the seqnos it was assigned.
func (n *Node) Repl(actionType types.ActionType, data []byte) (types.SeqNo, types.SeqNo, error) {
	if !actionType.Sendable() {
		return 0, 0, types.ErrNotSendable
	}
	if err := n.assertSendable(); err != nil {
		return 0, 0, err
	}

	id, frags := n.frag.Fragment(actionType, data)
	notify := n.matcher.Register(id, actionType)
	for _, wm := range frags {
		wm.ProtocolVersion = LatestProtocolVersion
		enc, err := wm.Encode()
		if err != nil {
			n.matcher.Unregister(id)
			return 0, 0, err
		}
		if err := n.backend.SendMessage(enc); err != nil {
			n.matcher.Unregister(id)
			return 0, 0, types.ErrTransport
		}
	}

	res := <-notify
	if res.err != nil {
		return 0, 0, res.err
	}
	return res.global, res.local, nil
}

// sendInternal fragments and submits data under actionType without
// registering a matcher waiter: used both by the public Send and by
// every library-generated broadcast (SERVICE, FLOW, JOIN, SYNC).
func (n *Node) sendInternal(actionType types.ActionType, data []byte) error {
	_, frags := n.frag.Fragment(actionType, data)
	for _, wm := range frags {
		wm.ProtocolVersion = LatestProtocolVersion
		enc, err := wm.Encode()
		if err != nil {
			return err
		}
		if err := n.backend.SendMessage(enc); err != nil {
			return types.ErrTransport
		}
	}
	return nil
}

// RequestStateTransfer broadcasts a STATE_REQ action (via Repl, so this
// node's own seqnos are known once it comes back) and then picks a
// donor from the resulting membership.
func (n *Node) RequestStateTransfer(data []byte) (int, types.SeqNo, error) {
	global, local, err := n.Repl(types.STATEREQ, data)
	if err != nil {
		return 0, 0, err
	}
	donor, err := n.sm.BeginStateTransfer(global)
	return donor, local, err
}

// BecomeDonor marks this node as servicing someone else's state
// transfer, decided out-of-band by the host; the library itself does
// not notify the selected donor.
func (n *Node) BecomeDonor() { n.sm.BecomeDonor() }

// Join broadcasts the outcome of a state transfer this node performed
// as donor (or on its own behalf) for the most recently delivered
// STATE_REQ.
func (n *Node) Join(status int64) error {
	snap := n.sm.Snapshot()
	payload := types.JoinPayload{
		Status:       status,
		RequestSeqno: n.sm.LastStateReqSeqno(),
		Donor:        snap.MyIdx,
	}
	data, err := types.EncodePayload(payload)
	if err != nil {
		return err
	}
	return n.sendInternal(types.JOIN, data)
}

// SetLastApplied records the application's applied-seqno progress; once
// it reaches this node's history target, a SYNC action is broadcast
// exactly once per JOINED episode.
func (n *Node) SetLastApplied(seqno types.SeqNo) {
	n.flow.SetLastApplied(seqno)
	if n.sm.ShouldAnnounceSync(seqno) {
		payload := types.SyncPayload{Node: n.self}
		data, err := types.EncodePayload(payload)
		if err != nil {
			n.log().Errorf("failed encoding SYNC payload: %v", err)
			return
		}
		if err := n.sendInternal(types.SYNC, data); err != nil {
			n.log().Warnf("failed broadcasting SYNC: %v", err)
		}
	}
}

// run is the single delivery worker: it drains the backend's event
// channel, synthesizing CONF actions from view changes and routing
// delivered messages through the fragmenter, sequencer and matcher.
func (n *Node) run() {
	defer close(n.done)
	for {
		select {
		case <-n.ctx.Done():
			return
		case ev, ok := <-n.backend.RecvEvent():
			if !ok {
				return
			}
			if ev.View != nil {
				n.handleView(*ev.View)
			}
			if ev.Message != nil {
				n.handleMessage(*ev.Message)
			}
		}
	}
}

// handleView reacts to a backend view change: in-flight reassembly and
// outstanding waiters cannot survive a view boundary (see Defragmenter
// and Matcher doc comments), so both are cleared unconditionally rather
// than trying to map backend membership identifiers back to senders. A
// non-primary view resolves immediately to NON_PRIMARY with no quorum
// exchange possible; a primary view starts one by broadcasting this
// node's own (uuid, seqno) vote.
func (n *Node) handleView(view types.View) {
	n.defrag.Reset()
	n.matcher.FailAll(types.ErrViewChange)
	n.flow.Reset()

	if !view.Primary {
		payload, _ := n.sm.ResolveQuorum(view, n.sm.UUID(), n.sm.HistorySeqno())
		n.deliverConf(payload)
		return
	}

	n.voteMu.Lock()
	viewCopy := view
	n.voteView = &viewCopy
	n.votes = make(map[types.SenderID]types.ServicePayload)
	n.voteMu.Unlock()

	snap := n.sm.Snapshot()
	vote := types.ServicePayload{UUID: snap.UUID, Seqno: snap.HistorySeqno, ConfID: view.ConfID}
	n.recordVote(n.self, vote)
	n.broadcastVote(vote)
}

// broadcastVote sends this node's quorum vote asynchronously: it must
// not block the delivery worker, since this node's own vote (and every
// other member's) arrives back through the very event channel run()
// reads, and a synchronous send here could deadlock against a backend
// whose SendMessage blocks on a full pipe.
func (n *Node) broadcastVote(vote types.ServicePayload) {
	data, err := types.EncodePayload(vote)
	if err != nil {
		n.log().Errorf("failed encoding quorum vote: %v", err)
		return
	}
	n.invoker.Spawn(func() {
		if err := n.sendInternal(types.SERVICE, data); err != nil {
			n.log().Warnf("failed broadcasting quorum vote: %v", err)
		}
	})
}

// recordVote adds sender's vote to the in-progress quorum exchange and
// resolves it once every current member has voted. Votes for a view
// other than the one currently being resolved (stale retransmits, or a
// duplicate after resolution already happened) are ignored.
func (n *Node) recordVote(sender types.SenderID, payload types.ServicePayload) {
	n.voteMu.Lock()
	if n.voteView == nil || payload.ConfID != n.voteView.ConfID {
		n.voteMu.Unlock()
		return
	}
	n.votes[sender] = payload
	ready := len(n.votes) >= len(n.voteView.Members)

	var view types.View
	var resolved map[types.SenderID]types.ServicePayload
	if ready {
		view = *n.voteView
		resolved = n.votes
		n.voteView = nil
	}
	n.voteMu.Unlock()

	if ready {
		n.resolveQuorum(view, resolved)
	}
}

// resolveQuorum picks the dominant (uuid, seqno) across the collected
// votes - the one with the highest seqno - and applies it to the state
// machine, then synthesizes and delivers the resulting CONF.
func (n *Node) resolveQuorum(view types.View, votes map[types.SenderID]types.ServicePayload) {
	var dominantUUID types.UUID
	dominantSeqno := types.SeqNoIllegal
	for _, v := range votes {
		if v.Seqno > dominantSeqno {
			dominantSeqno = v.Seqno
			dominantUUID = v.UUID
		}
	}
	if dominantSeqno == types.SeqNoIllegal {
		dominantSeqno = types.SeqNoNil
	}

	n.seq.AdoptGlobal(dominantSeqno)
	payload, _ := n.sm.ResolveQuorum(view, dominantUUID, dominantSeqno)
	n.deliverConf(payload)
}

// deliverConf synthesizes a CONF action from payload, assigns it a
// local seqno and pushes it to the application's receive queue, then
// re-announces this node's current pause status: a FLOW announcement
// can be lost across the very view change that just happened, and it
// is not idempotent, so every survivor re-derives it fresh at CONF.
func (n *Node) deliverConf(payload types.ConfPayload) {
	data, err := types.EncodePayload(payload)
	if err != nil {
		n.log().Errorf("failed encoding CONF payload: %v", err)
		return
	}
	_, local := n.seq.Next(false)
	action := types.Action{
		Type:        types.CONF,
		Data:        data,
		GlobalSeqNo: types.SeqNoIllegal,
		LocalSeqNo:  local,
		Sender:      n.self,
	}
	n.queue.Enqueue(action)
	n.flow.Reannounce()
}

// handleMessage completes fragment reassembly and, once an action is
// whole, assigns it seqnos and routes it to the application queue or
// consumes it internally, depending on its type.
func (n *Node) handleMessage(msg types.WireMessage) {
	if err := checkProtocolVersion(msg.ProtocolVersion); err != nil {
		n.log().Errorf("dropping message from sender %d: %v", msg.Sender, err)
		return
	}

	action, localID, complete := n.defrag.Accept(msg)
	if !complete {
		return
	}
	action.Sender = msg.Sender

	switch action.Type {
	case types.TORDERED, types.COMMITCUT, types.STATEREQ:
		global, local := n.seq.Next(true)
		action.GlobalSeqNo, action.LocalSeqNo = global, local
		if action.Type == types.STATEREQ {
			n.sm.RecordStateReq(global)
		}
		if msg.Sender == n.self && n.matcher.Match(localID, global, local) {
			// This action completes our own repl() call; the caller
			// observes it through that return, not through Recv.
			return
		}
		if n.queue.Enqueue(action) {
			n.flow.Observe()
		}

	case types.JOIN:
		var payload types.JoinPayload
		if err := types.DecodePayload(action.Data, &payload); err != nil {
			n.log().Errorf("dropping malformed JOIN action: %v", err)
			return
		}
		n.sm.ApplyJoin(payload, msg.Sender == n.self)
		_, local := n.seq.Next(false)
		action.LocalSeqNo = local
		action.GlobalSeqNo = types.SeqNoIllegal
		n.queue.Enqueue(action)

	case types.SYNC:
		var payload types.SyncPayload
		if err := types.DecodePayload(action.Data, &payload); err != nil {
			n.log().Errorf("dropping malformed SYNC action: %v", err)
			return
		}
		if payload.Node == n.self {
			n.sm.ApplySync()
		}
		_, local := n.seq.Next(false)
		action.LocalSeqNo = local
		action.GlobalSeqNo = types.SeqNoIllegal
		n.queue.Enqueue(action)

	case types.FLOW:
		var payload types.FlowPayload
		if err := types.DecodePayload(action.Data, &payload); err != nil {
			n.log().Errorf("dropping malformed FLOW action: %v", err)
			return
		}
		n.flow.OnRemoteFlow(msg.Sender, payload)

	case types.SERVICE:
		var payload types.ServicePayload
		if err := types.DecodePayload(action.Data, &payload); err != nil {
			n.log().Errorf("dropping malformed SERVICE action: %v", err)
			return
		}
		n.recordVote(msg.Sender, payload)

	default:
		n.log().Warnf("dropping action with unhandled type %s from sender %d", action.Type, msg.Sender)
	}
}

// emitFlow is FlowController's broadcast hook: it runs inside the
// delivery worker (via Observe) so, like broadcastVote, it must not
// block it.
func (n *Node) emitFlow(payload types.FlowPayload) {
	payload.Node = n.self
	data, err := types.EncodePayload(payload)
	if err != nil {
		n.log().Errorf("failed encoding FLOW payload: %v", err)
		return
	}
	n.invoker.Spawn(func() {
		if err := n.sendInternal(types.FLOW, data); err != nil {
			n.log().Warnf("failed broadcasting flow signal: %v", err)
		}
	})
}
