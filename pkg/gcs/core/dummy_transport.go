package core

import (
	"fmt"
	"sync"

	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

// DummyNetwork is the shared registry all DummyBackend instances on a
// channel register into, so Send from one reaches every other member
// in the same total order. It is the in-process loopback the backend
// URL scheme "dummy" resolves to, used by the integration and fuzzy
// test suites.
type DummyNetwork struct {
	mutex   sync.Mutex
	members map[string][]*DummyBackend
	next    uint64
	epoch   map[string]int64
}

var networks = struct {
	mutex sync.Mutex
	byName map[string]*DummyNetwork
}{byName: make(map[string]*DummyNetwork)}

// DummyNetworkFor returns the shared network registered under the given
// name, creating it on first use. Conn passes the address of a dummy://
// URL, so connections created with the same address share one network,
// and Join separates channels within it. Tests that want an isolated
// network should construct a DummyNetwork directly with NewDummyNetwork
// instead.
func DummyNetworkFor(channel string) *DummyNetwork {
	networks.mutex.Lock()
	defer networks.mutex.Unlock()
	n, ok := networks.byName[channel]
	if !ok {
		n = NewDummyNetwork()
		networks.byName[channel] = n
	}
	return n
}

// NewDummyNetwork creates a fresh, empty in-process broker.
func NewDummyNetwork() *DummyNetwork {
	return &DummyNetwork{members: make(map[string][]*DummyBackend), epoch: make(map[string]int64)}
}

// Join registers a new member and returns its backend handle, after
// queueing a view-change event announcing the new membership to every
// member, itself included.
func (n *DummyNetwork) Join(channel string) *DummyBackend {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.next++
	b := &DummyBackend{
		network: n,
		channel: channel,
		self:    types.SenderID(n.next),
		events:  make(chan types.Event, 65536),
	}
	n.members[channel] = append(n.members[channel], b)
	n.announceLocked(channel)
	return b
}

// leave removes a member (on Close) and re-announces the new view to
// the survivors.
func (n *DummyNetwork) leave(b *DummyBackend) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	members := n.members[b.channel]
	for i, m := range members {
		if m == b {
			n.members[b.channel] = append(members[:i], members[i+1:]...)
			break
		}
	}
	n.announceLocked(b.channel)
}

// announceLocked delivers a view-change event to every current member
// of channel. Must be called with n.mutex held.
//
// ConfID is a per-channel counter bumped on every reconfiguration, not
// the member count: it is the sole correlation key the quorum-vote
// exchange (peer.go's recordVote) uses to reject a vote left over from
// an earlier, already-resolved round, and membership counts repeat
// across non-consecutive views (3 -> 2 -> 3) while the counter never
// does.
func (n *DummyNetwork) announceLocked(channel string) {
	members := n.members[channel]
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = fmt.Sprintf("node-%d", m.self)
	}

	n.epoch[channel]++
	confID := n.epoch[channel]

	for i, m := range members {
		view := types.View{
			ConfID:  confID,
			Members: names,
			MyIndex: i,
			Primary: len(names) > 0,
		}
		if !view.Primary {
			view.ConfID = -1
		}
		ev := types.Event{View: &view, Sender: m.self}
		select {
		case m.events <- ev:
		default:
		}
	}
}

// broadcast delivers data, as a message from sender, to every member of
// channel including the sender itself (total order within this single
// broker goroutine-free critical section: all sends happen while
// holding the network mutex, so every member observes the same order).
func (n *DummyNetwork) broadcast(channel string, sender types.SenderID, data []byte) error {
	msg, err := types.DecodeWireMessage(data)
	if err != nil {
		return err
	}

	n.mutex.Lock()
	defer n.mutex.Unlock()

	for _, m := range n.members[channel] {
		ev := types.Event{Message: &msg, Sender: sender}
		select {
		case m.events <- ev:
		default:
			// Slow consumer: the dummy backend has no backpressure of
			// its own, drop rather than block the whole broadcast.
		}
	}
	return nil
}

// DummyBackend is the in-process loopback Backend, for tests and for
// hosts that want to run a single-process group for development.
type DummyBackend struct {
	network *DummyNetwork
	channel string
	self    types.SenderID
	events  chan types.Event
	closed  bool
	mutex   sync.Mutex
}

var _ Backend = (*DummyBackend)(nil)

func (d *DummyBackend) SendMessage(data []byte) error {
	return d.network.broadcast(d.channel, d.self, data)
}

func (d *DummyBackend) RecvEvent() <-chan types.Event { return d.events }

func (d *DummyBackend) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.network.leave(d)
	close(d.events)
	return nil
}

func (d *DummyBackend) Name() string { return "dummy" }

func (d *DummyBackend) Self() types.SenderID { return d.self }
