// Package gcs is the public facade (C8): a connection handle over a
// pluggable virtually synchronous backend, exposing the action pipeline
// and node lifecycle described in the package's design documentation.
package gcs

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/jabolina/go-gcs/pkg/gcs/core"
	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

// Re-exported so callers never need to import pkg/gcs/types directly
// for the common vocabulary.
type (
	Action   = types.Action
	ActionType = types.ActionType
	SeqNo    = types.SeqNo
	UUID     = types.UUID
	SenderID = types.SenderID
	Logger   = types.Logger
)

const (
	TORDERED  = types.TORDERED
	COMMITCUT = types.COMMITCUT
	STATEREQ  = types.STATEREQ
	CONF      = types.CONF
	JOIN      = types.JOIN
	SYNC      = types.SYNC
	FLOW      = types.FLOW
)

// Conn is a connection handle: created closed, seeded by Init, joined
// to a channel by Open, released by Destroy. A zero Conn is not usable;
// obtain one from Create.
type Conn struct {
	mutex sync.Mutex

	scheme  string
	address string
	cfg     Config

	seeded    bool
	seedSeqno types.SeqNo
	seedUUID  types.UUID

	node      *core.Node
	destroyed bool
}

// Create parses backend_url as "type://address" and returns a closed
// connection handle bound to that backend variant. Recognized schemes
// are "dummy" (in-process loopback, address ignored) and "relt",
// "spread", "gcomm" (see DESIGN.md for why the latter two resolve to
// the same real transport this library carries). The backend itself is
// not contacted until Open.
func Create(backendURL string, opts ...Option) (*Conn, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("gcs: invalid backend url %q: %w", backendURL, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("gcs: backend url %q missing a type:// scheme", backendURL)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	address := u.Host
	if u.Path != "" {
		address += u.Path
	}

	return &Conn{
		scheme:  strings.ToLower(u.Scheme),
		address: address,
		cfg:     cfg,
	}, nil
}

// Init seeds the connection's history position. Valid only before Open
// or after Close; returns ErrBusy otherwise.
func (c *Conn) Init(seqno types.SeqNo, uuid types.UUID) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.destroyed {
		return types.ErrBadFD
	}
	if c.node != nil && c.node.Snapshot().State != core.StateClosed {
		return types.ErrBusy
	}
	c.seeded = true
	c.seedSeqno = seqno
	c.seedUUID = uuid
	return nil
}

// Open joins channel on the configured backend and starts the delivery
// worker. Idempotent once already open; after Close it joins again.
func (c *Conn) Open(channel string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.destroyed {
		return types.ErrBadFD
	}
	if c.node != nil && c.node.Snapshot().State != core.StateClosed {
		return nil
	}

	backend, err := c.buildBackend(channel)
	if err != nil {
		return err
	}

	node := core.NewNode(backend, c.cfg.Logger, c.cfg.Watermarks, c.cfg.Registerer, c.cfg.Invoker)
	if c.seeded {
		if err := node.Init(c.seedSeqno, c.seedUUID); err != nil {
			return err
		}
	}
	if err := node.Open(); err != nil {
		return err
	}
	c.node = node
	return nil
}

func (c *Conn) buildBackend(channel string) (core.Backend, error) {
	switch c.scheme {
	case "dummy":
		return core.DummyNetworkFor(c.address).Join(channel), nil
	case "relt", "spread", "gcomm":
		return core.NewReltBackend(c.address, channel, c.cfg.Logger)
	default:
		return nil, fmt.Errorf("gcs: unsupported backend scheme %q", c.scheme)
	}
}

// Close leaves the channel: the delivery worker stops, outstanding
// repl() waiters fail with a closed-connection error, and Recv starts
// returning end-of-stream. Idempotent.
func (c *Conn) Close() error {
	c.mutex.Lock()
	node := c.node
	c.mutex.Unlock()
	if node == nil {
		return nil
	}
	return node.Close()
}

// Destroy releases the handle. Legal only once CLOSED (before the
// first Open, or after Close has completed).
func (c *Conn) Destroy() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.destroyed {
		return types.ErrBadFD
	}
	if c.node != nil && c.node.Snapshot().State != core.StateClosed {
		return types.ErrBusy
	}
	c.destroyed = true
	return nil
}

func (c *Conn) activeNode() (*core.Node, error) {
	c.mutex.Lock()
	n := c.node
	destroyed := c.destroyed
	c.mutex.Unlock()
	if destroyed {
		return nil, types.ErrBadFD
	}
	if n == nil {
		return nil, types.ErrNotOpen
	}
	return n, nil
}

// Send submits actionType/data for total-order delivery without
// waiting for it to come back around. actionType must be one of
// TORDERED, COMMITCUT, STATEREQ.
func (c *Conn) Send(actionType types.ActionType, data []byte) error {
	n, err := c.activeNode()
	if err != nil {
		return err
	}
	return n.Send(actionType, data)
}

// Repl submits actionType/data and blocks until this node's own copy is
// delivered back, returning the global and local seqnos it was
// assigned.
func (c *Conn) Repl(actionType types.ActionType, data []byte) (types.SeqNo, types.SeqNo, error) {
	n, err := c.activeNode()
	if err != nil {
		return types.SeqNoIllegal, types.SeqNoIllegal, err
	}
	return n.Repl(actionType, data)
}

// Recv blocks for the next delivered action. ok is false once the
// connection is closed and the queue has drained (end-of-stream).
func (c *Conn) Recv() (types.Action, bool) {
	n, err := c.activeNode()
	if err != nil {
		return types.Action{}, false
	}
	return n.Recv()
}

// Wait reports whether the application should defer sending: true if
// this node or any peer is currently signaling flow-control pause.
func (c *Conn) Wait() bool {
	n, err := c.activeNode()
	if err != nil {
		return false
	}
	return n.Wait()
}

// RequestStateTransfer broadcasts a STATE_REQ action and returns the
// donor index selected for it plus the local seqno this node's own
// request was assigned. The requester must not separately apply its
// own STATE_REQ: it is never delivered back through Recv (see
// DESIGN.md's resolution of the self-skip open question).
func (c *Conn) RequestStateTransfer(data []byte) (int, types.SeqNo, error) {
	n, err := c.activeNode()
	if err != nil {
		return 0, types.SeqNoIllegal, err
	}
	return n.RequestStateTransfer(data)
}

// BecomeDonor marks this connection as servicing another node's state
// transfer. The decision of which node that is happens outside this
// library; the host calls this once it has made that decision, before
// performing the transfer and calling Join.
func (c *Conn) BecomeDonor() error {
	n, err := c.activeNode()
	if err != nil {
		return err
	}
	n.BecomeDonor()
	return nil
}

// Join broadcasts the outcome of a state transfer this connection
// performed, as donor, for the most recently delivered STATE_REQ.
func (c *Conn) Join(status int64) error {
	n, err := c.activeNode()
	if err != nil {
		return err
	}
	return n.Join(status)
}

// Caused reports the last local seqno this connection's delivery worker
// has assigned, whether or not the application has yet taken that
// action from Recv.
func (c *Conn) Caused() types.SeqNo {
	n, err := c.activeNode()
	if err != nil {
		return types.SeqNoIllegal
	}
	return n.Caused()
}

// SetLastApplied reports the application's applied-seqno progress to
// the flow controller and, once this connection has caught its history
// target, broadcasts a SYNC action.
func (c *Conn) SetLastApplied(seqno types.SeqNo) error {
	n, err := c.activeNode()
	if err != nil {
		return err
	}
	n.SetLastApplied(seqno)
	return nil
}

// SetPktSize changes the fragmentation target; it takes effect for
// subsequent Send/Repl calls only.
func (c *Conn) SetPktSize(size int) error {
	n, err := c.activeNode()
	if err != nil {
		return err
	}
	return n.SetPktSize(size)
}

// SetWatermarks overrides the flow-control pause/resume thresholds from
// this point on, without needing to reopen the connection.
func (c *Conn) SetWatermarks(watermarks core.FlowWatermarks) error {
	n, err := c.activeNode()
	if err != nil {
		return err
	}
	n.SetWatermarks(watermarks)
	return nil
}

// SetLogger replaces the log sink this connection's node logs through,
// from this point on.
func (c *Conn) SetLogger(logger types.Logger) error {
	n, err := c.activeNode()
	if err != nil {
		return err
	}
	n.SetLogger(logger)
	return nil
}

// ToggleDebug flips the active logger between info and debug verbosity,
// returning the new state.
func (c *Conn) ToggleDebug(value bool) (bool, error) {
	n, err := c.activeNode()
	if err != nil {
		return false, err
	}
	return n.ToggleDebug(value), nil
}

// ToggleSelfTimestamp turns wall-clock stamping of this connection's
// outbound actions on or off, returning the new state. A stamped
// action's Timestamp (UnixNano) is carried through to the Action every
// member takes from Recv, the sender included for Send; Repl returns
// only seqnos, so a repl'd action's timestamp reaches other members
// only.
func (c *Conn) ToggleSelfTimestamp(value bool) (bool, error) {
	n, err := c.activeNode()
	if err != nil {
		return false, err
	}
	return n.ToggleSelfTimestamp(value), nil
}

// Self reports the sender identity this connection's backend delivers
// messages under.
func (c *Conn) Self() types.SenderID {
	n, err := c.activeNode()
	if err != nil {
		return 0
	}
	return n.Self()
}

// BackendName reports the underlying transport variant, e.g. "dummy"
// or "relt".
func (c *Conn) BackendName() string {
	n, err := c.activeNode()
	if err != nil {
		return ""
	}
	return n.BackendName()
}

// Snapshot reports a consistent read of the connection's lifecycle
// state, useful for tests and operational introspection.
func (c *Conn) Snapshot() core.Snapshot {
	n, err := c.activeNode()
	if err != nil {
		return core.Snapshot{State: core.StateClosed}
	}
	return n.Snapshot()
}
