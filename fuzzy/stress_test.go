package fuzzy

import (
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jabolina/go-gcs/pkg/gcs"
	"github.com/jabolina/go-gcs/test"
)

// alphabet gives one request per letter, enough to exercise a full
// round of ordering without the test itself taking long to converge.
var alphabet = []string{
	"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m",
	"n", "o", "p", "q", "r", "s", "t", "u", "v", "w", "x", "y", "z",
}

// Test_SequentialCommands replicates one letter at a time across a
// three-node cluster, verifying every node observes the same total
// order and no goroutine the library spawned is still running once the
// cluster winds down.
func Test_SequentialCommands(t *testing.T) {
	invoker := test.NewInvoker()
	cluster := newInvokedCluster(t, 3, "alphabet", invoker)
	defer func() {
		cluster.Close()
		if !test.WaitThisOrTimeout(invoker.Stop, 30*time.Second) {
			t.Error("failed shutdown cluster")
			test.PrintStackTrace(t)
		}
		goleak.VerifyNone(t)
	}()

	for _, c := range cluster.Conns {
		if !test.AwaitMembership(t, c, len(cluster.Conns)) {
			t.Fatal("expected initial CONF")
		}
	}

	sender := cluster.Next()
	for _, letter := range alphabet {
		log.Printf("sending %s", letter)
		if _, _, err := sender.Repl(gcs.TORDERED, []byte(letter)); err != nil {
			t.Fatalf("repl failed for %q: %v", letter, err)
		}
	}

	for _, c := range cluster.Conns {
		if c == sender {
			continue
		}
		for i, want := range alphabet {
			action, ok := test.RecvWithin(t, c, 3*time.Second)
			if !ok {
				t.Fatalf("node missed action %d (%q)", i, want)
			}
			if string(action.Data) != want {
				t.Errorf("position %d: got %q, want %q", i, action.Data, want)
			}
		}
	}
}

// Test_ConcurrentCommands fires every letter from every node at once,
// then checks that all nodes still converge on one identical total
// order, without leaking goroutines.
func Test_ConcurrentCommands(t *testing.T) {
	invoker := test.NewInvoker()
	cluster := newInvokedCluster(t, 3, "concurrent", invoker)
	defer func() {
		cluster.Close()
		if !test.WaitThisOrTimeout(invoker.Stop, 30*time.Second) {
			t.Error("failed shutdown cluster")
			test.PrintStackTrace(t)
		}
		goleak.VerifyNone(t)
	}()

	for _, c := range cluster.Conns {
		if !test.AwaitMembership(t, c, len(cluster.Conns)) {
			t.Fatal("expected initial CONF")
		}
	}

	group := sync.WaitGroup{}
	write := func(idx int, val string) {
		defer group.Done()
		c := cluster.Next()
		log.Printf("sending %s", val)
		// Send, not Repl: a node's own repl'd action is delivered only
		// through the repl() return, never re-enqueued to its own Recv
		// queue, so asserting every node observes all alphabet via Recv
		// below requires the fire-and-forget path instead.
		if err := c.Send(gcs.TORDERED, []byte(fmt.Sprintf("%d:%s", idx, val))); err != nil {
			t.Errorf("send failed for %q: %v", val, err)
		}
	}

	for i, letter := range alphabet {
		group.Add(1)
		go write(i, letter)
	}

	if !test.WaitThisOrTimeout(group.Wait, 30*time.Second) {
		t.Fatal("not finished all after 30 seconds")
	}

	var reference []string
	for i, c := range cluster.Conns {
		var seen []string
		for range alphabet {
			action, ok := test.RecvWithin(t, c, 5*time.Second)
			if !ok {
				t.Fatalf("node %d: recv timed out before seeing all actions", i)
			}
			seen = append(seen, string(action.Data))
		}
		if i == 0 {
			reference = seen
			continue
		}
		for j := range reference {
			if reference[j] != seen[j] {
				t.Fatalf("node %d disagrees with node 0 at position %d: %q != %q", i, j, seen[j], reference[j])
			}
		}
	}
}

// newInvokedCluster builds a cluster wired to invoker so every spawned
// delivery-worker goroutine is tracked for the goleak check above.
func newInvokedCluster(t *testing.T, size int, channel string, invoker *test.TestInvoker) *test.GroupCluster {
	t.Helper()
	cluster := &test.GroupCluster{T: t, Channel: channel}
	for i := 0; i < size; i++ {
		conn, err := gcs.Create(fmt.Sprintf("dummy://fuzzy-%s", channel), gcs.WithInvoker(invoker))
		if err != nil {
			t.Fatalf("failed creating connection %d: %v", i, err)
		}
		if err := conn.Open(channel); err != nil {
			t.Fatalf("failed opening connection %d: %v", i, err)
		}
		cluster.Conns = append(cluster.Conns, conn)
	}
	return cluster
}
