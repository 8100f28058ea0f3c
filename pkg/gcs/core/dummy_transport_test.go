package core

import (
	"testing"
	"time"

	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

func TestDummyNetwork_JoinAnnouncesViewToAllMembers(t *testing.T) {
	net := NewDummyNetwork()
	a := net.Join("chan")

	evA := waitEvent(t, a)
	if evA.View == nil || !evA.View.Primary || len(evA.View.Members) != 1 {
		t.Fatalf("expected a's solo view to be primary with one member, got %+v", evA.View)
	}

	b := net.Join("chan")
	evA2 := waitEvent(t, a)
	evB := waitEvent(t, b)
	if len(evA2.View.Members) != 2 || len(evB.View.Members) != 2 {
		t.Fatalf("expected both members to see a 2-member view, got a=%v b=%v", evA2.View.Members, evB.View.Members)
	}
	if evA2.View.MyIndex == evB.View.MyIndex {
		t.Error("expected distinct member indices for a and b")
	}
}

func TestDummyNetwork_BroadcastReachesSenderAndPeers(t *testing.T) {
	net := NewDummyNetwork()
	a := net.Join("chan")
	drainView(t, a)
	b := net.Join("chan")
	drainView(t, a)
	drainView(t, b)

	frag := NewFragmenter(a.Self())
	_, msgs := frag.Fragment(types.TORDERED, []byte("hi"))
	enc, err := msgs[0].Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := a.SendMessage(enc); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	evA := waitEvent(t, a)
	evB := waitEvent(t, b)
	if evA.Message == nil || evB.Message == nil {
		t.Fatal("expected both sender and peer to receive the broadcast message")
	}
	if string(evA.Message.Payload) != "hi" || string(evB.Message.Payload) != "hi" {
		t.Errorf("payload mismatch: a=%q b=%q", evA.Message.Payload, evB.Message.Payload)
	}
}

func TestDummyNetwork_LeaveReannouncesView(t *testing.T) {
	net := NewDummyNetwork()
	a := net.Join("chan")
	drainView(t, a)
	b := net.Join("chan")
	drainView(t, a)
	drainView(t, b)

	if err := b.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	ev := waitEvent(t, a)
	if ev.View == nil || len(ev.View.Members) != 1 {
		t.Fatalf("expected a solo view after b left, got %+v", ev.View)
	}
}

// TestDummyNetwork_ConfIDNeverRepeatsAcrossNonConsecutiveReconfigurations
// guards the quorum-vote correlation key: member count alone would
// repeat for a 3 -> 2 -> 3 membership swing, letting a stale SERVICE
// vote from the first 3-member round be miscounted into the second.
func TestDummyNetwork_ConfIDNeverRepeatsAcrossNonConsecutiveReconfigurations(t *testing.T) {
	net := NewDummyNetwork()

	a := net.Join("chan")
	ev1 := waitEvent(t, a) // 1 member

	b := net.Join("chan")
	ev2 := waitEvent(t, a) // 2 members
	drainView(t, b)

	c := net.Join("chan")
	ev3 := waitEvent(t, a) // 3 members
	drainView(t, b)
	drainView(t, c)

	if err := c.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	ev4 := waitEvent(t, a) // back to 2 members
	drainView(t, b)

	d := net.Join("chan")
	ev5 := waitEvent(t, a) // back to 3 members
	drainView(t, b)
	drainView(t, d)

	confIDs := []int64{ev1.View.ConfID, ev2.View.ConfID, ev3.View.ConfID, ev4.View.ConfID, ev5.View.ConfID}
	for i := 1; i < len(confIDs); i++ {
		if confIDs[i] <= confIDs[i-1] {
			t.Fatalf("expected strictly increasing ConfIDs, got %v", confIDs)
		}
	}
	if ev2.View.ConfID == ev4.View.ConfID {
		t.Errorf("2-member views at different epochs must not share a ConfID: %d", ev2.View.ConfID)
	}
	if ev3.View.ConfID == ev5.View.ConfID {
		t.Errorf("3-member views at different epochs must not share a ConfID: %d", ev3.View.ConfID)
	}
}

func waitEvent(t *testing.T, b *DummyBackend) types.Event {
	t.Helper()
	select {
	case ev := <-b.RecvEvent():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for an event")
		return types.Event{}
	}
}

func drainView(t *testing.T, b *DummyBackend) {
	t.Helper()
	waitEvent(t, b)
}
