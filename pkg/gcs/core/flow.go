package core

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

// FlowWatermarks configures when the flow controller pauses and
// resumes the group.
type FlowWatermarks struct {
	Low  int
	High int
}

// DefaultWatermarks is a conservative default for hosts that don't tune
// flow control themselves.
var DefaultWatermarks = FlowWatermarks{Low: 10, High: 100}

// FlowController is C6: it watches local applier lag against the
// receive queue depth, emits FLOW pause/resume actions, and answers the
// wait() predicate. Senders are encouraged, not forced, to call Wait
// before repl/send/join.
type FlowController struct {
	watermarks FlowWatermarks

	queue *ReceiveQueue

	lastApplied int64 // atomic types.SeqNo
	paused      int32 // atomic bool: this node's own pause state

	// remotePaused tracks whether any other member announced itself
	// paused; FLOW actions from other nodes update this.
	mutex        sync.Mutex
	remotePaused map[types.SenderID]bool

	// emit is called with a FLOW payload whenever this node's pause
	// state flips; the node glue wires it to broadcast through the
	// normal action pipeline.
	emit func(types.FlowPayload)

	depthGauge   prometheus.Gauge
	pausedGauge  prometheus.Gauge
	appliedGauge prometheus.Gauge
}

// NewFlowController builds a flow controller over queue, announcing
// pause/resume transitions through emit. reg may be nil, in which case
// metrics registration is a no-op (the dummy/test path does not need a
// Prometheus registry).
func NewFlowController(queue *ReceiveQueue, watermarks FlowWatermarks, reg prometheus.Registerer, emit func(types.FlowPayload)) *FlowController {
	fc := &FlowController{
		watermarks:   watermarks,
		queue:        queue,
		remotePaused: make(map[types.SenderID]bool),
		emit:         emit,
		depthGauge:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "gcs_queue_depth", Help: "Pending actions in the receive queue."}),
		pausedGauge:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "gcs_flow_paused", Help: "1 if this node has announced a flow-control pause."}),
		appliedGauge: prometheus.NewGauge(prometheus.GaugeOpts{Name: "gcs_last_applied_seqno", Help: "Last local seqno the application reported as applied."}),
	}
	if reg != nil {
		reg.MustRegister(fc.depthGauge, fc.pausedGauge, fc.appliedGauge)
	}
	return fc
}

// Observe is called by the delivery worker after every enqueue, to
// react to growing lag.
func (f *FlowController) Observe() {
	depth := f.queue.Len()
	f.depthGauge.Set(float64(depth))

	lag := depth // unapplied count approximates queue depth directly
	if lag >= f.currentWatermarks().High && atomic.CompareAndSwapInt32(&f.paused, 0, 1) {
		f.pausedGauge.Set(1)
		f.announce(true)
	}
}

// SetLastApplied informs the flow controller of application progress;
// if lag has dropped to or below the low watermark, the pause is lifted.
func (f *FlowController) SetLastApplied(seqno types.SeqNo) {
	atomic.StoreInt64(&f.lastApplied, int64(seqno))
	f.appliedGauge.Set(float64(seqno))

	depth := f.queue.Len()
	if depth <= f.currentWatermarks().Low && atomic.CompareAndSwapInt32(&f.paused, 1, 0) {
		f.pausedGauge.Set(0)
		f.announce(false)
	}
}

// currentWatermarks returns the watermarks in effect, guarded by the
// same mutex SetWatermarks uses so a concurrent runtime override is
// never read half-applied.
func (f *FlowController) currentWatermarks() FlowWatermarks {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.watermarks
}

// SetWatermarks overrides the pause/resume thresholds from this point
// on, for hosts that want to retune flow control without reopening the
// connection.
func (f *FlowController) SetWatermarks(w FlowWatermarks) {
	f.mutex.Lock()
	f.watermarks = w
	f.mutex.Unlock()
}

func (f *FlowController) announce(paused bool) {
	if f.emit != nil {
		f.emit(types.FlowPayload{Paused: paused})
	}
}

// Reannounce re-broadcasts this node's current pause state. Called at
// every CONF, since a FLOW message is not idempotent and can be lost
// across the very view change that just happened.
func (f *FlowController) Reannounce() {
	if atomic.LoadInt32(&f.paused) == 1 {
		f.announce(true)
	}
}

// LastApplied returns the last seqno the application reported.
func (f *FlowController) LastApplied() types.SeqNo {
	return types.SeqNo(atomic.LoadInt64(&f.lastApplied))
}

// OnRemoteFlow records another node's pause announcement. FLOW messages
// are not idempotent and may be lost across a view change; Reset
// should be called at every CONF so each node re-announces its current
// state and stale entries do not linger forever.
func (f *FlowController) OnRemoteFlow(sender types.SenderID, payload types.FlowPayload) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if payload.Paused {
		f.remotePaused[sender] = true
	} else {
		delete(f.remotePaused, sender)
	}
}

// Reset clears remote pause state at a view boundary, since a lost FLOW
// must be re-derived from the post-view state rather than assumed
// stale-but-true forever.
func (f *FlowController) Reset() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.remotePaused = make(map[types.SenderID]bool)
}

// Wait implements the wait() predicate: true ("defer") if this node or
// any member currently known to be paused, false otherwise.
func (f *FlowController) Wait() bool {
	if atomic.LoadInt32(&f.paused) == 1 {
		return true
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.remotePaused) > 0
}
