package core

import (
	"testing"

	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

func TestMatcher_MatchWakesRegisteredWaiter(t *testing.T) {
	m := NewMatcher()
	notify := m.Register(42, types.TORDERED)

	if !m.Match(42, 5, 9) {
		t.Fatal("expected Match to find the registered waiter")
	}

	res := <-notify
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if res.global != 5 || res.local != 9 {
		t.Errorf("unexpected seqnos: global=%d local=%d", res.global, res.local)
	}
}

func TestMatcher_MatchUnknownIDReturnsFalse(t *testing.T) {
	m := NewMatcher()
	if m.Match(999, 1, 1) {
		t.Error("expected Match to report false for an id nobody registered")
	}
}

func TestMatcher_UnregisterPreventsLaterMatch(t *testing.T) {
	m := NewMatcher()
	m.Register(1, types.TORDERED)
	m.Unregister(1)
	if m.Match(1, 1, 1) {
		t.Error("expected Match to fail after Unregister")
	}
}

func TestMatcher_FailDeliversError(t *testing.T) {
	m := NewMatcher()
	notify := m.Register(1, types.TORDERED)
	m.Fail(1, types.ErrViewChange)

	res := <-notify
	if res.err != types.ErrViewChange {
		t.Errorf("expected ErrViewChange, got %v", res.err)
	}
}

func TestMatcher_FailAllDeliversErrorToEveryWaiter(t *testing.T) {
	m := NewMatcher()
	var notifies []<-chan matchResult
	for i := uint64(1); i <= 3; i++ {
		notifies = append(notifies, m.Register(i, types.TORDERED))
	}

	m.FailAll(types.ErrShutdown)

	for _, n := range notifies {
		res := <-n
		if res.err != types.ErrShutdown {
			t.Errorf("expected ErrShutdown, got %v", res.err)
		}
	}

	// A subsequent Match against any of those ids must find nothing:
	// FailAll clears the table.
	if m.Match(1, 1, 1) {
		t.Error("expected the waiter table to be empty after FailAll")
	}
}
