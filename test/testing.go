package test

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jabolina/go-gcs/pkg/gcs"
	"github.com/jabolina/go-gcs/pkg/gcs/core"
	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

// TestInvoker tracks every goroutine the library spawns through it, so
// a stress test can wait for the whole cluster to wind down and assert
// goleak sees nothing left running.
type TestInvoker struct {
	group sync.WaitGroup
}

func NewInvoker() *TestInvoker {
	return &TestInvoker{}
}

func (t *TestInvoker) Spawn(f func()) {
	t.group.Add(1)
	go func() {
		defer t.group.Done()
		f()
	}()
}

func (t *TestInvoker) Stop() {
	t.group.Wait()
}

var _ core.Invoker = (*TestInvoker)(nil)

var clusterCounter int64

// GroupCluster is a set of connections sharing one in-process dummy
// network, isolated from other tests running concurrently by a unique
// network address.
type GroupCluster struct {
	T       *testing.T
	Channel string
	Conns   []*gcs.Conn

	mutex sync.Mutex
	index int
}

// NewCluster creates size connections, opens them all onto the same
// fresh dummy channel, and fails the test immediately on any error.
func NewCluster(t *testing.T, size int, channel string) *GroupCluster {
	t.Helper()
	address := fmt.Sprintf("test-net-%d", atomic.AddInt64(&clusterCounter, 1))

	c := &GroupCluster{T: t, Channel: channel}
	for i := 0; i < size; i++ {
		conn, err := gcs.Create(fmt.Sprintf("dummy://%s", address))
		if err != nil {
			t.Fatalf("failed creating connection %d: %v", i, err)
		}
		if err := conn.Open(channel); err != nil {
			t.Fatalf("failed opening connection %d: %v", i, err)
		}
		c.Conns = append(c.Conns, conn)
	}
	return c
}

// NewConn creates, without opening, a single connection on a fresh
// dummy network of its own, for tests that need fine control over Init
// before Open.
func NewConn(t *testing.T) *gcs.Conn {
	t.Helper()
	address := fmt.Sprintf("test-net-%d", atomic.AddInt64(&clusterCounter, 1))
	conn, err := gcs.Create(fmt.Sprintf("dummy://%s", address))
	if err != nil {
		t.Fatalf("failed creating connection: %v", err)
	}
	return conn
}

// Next round-robins across the cluster's connections.
func (c *GroupCluster) Next() *gcs.Conn {
	c.mutex.Lock()
	defer func() {
		c.index++
		c.mutex.Unlock()
	}()
	if c.index >= len(c.Conns) {
		c.index = 0
	}
	return c.Conns[c.index]
}

// Close shuts every connection in the cluster down.
func (c *GroupCluster) Close() {
	for _, conn := range c.Conns {
		_ = conn.Close()
		_ = conn.Destroy()
	}
}

// PrintStackTrace dumps every goroutine's stack as a test failure,
// useful when a cluster fails to wind down within its deadline.
func PrintStackTrace(t *testing.T) {
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, true)
	t.Errorf("%s", buf[:n])
}

// WaitThisOrTimeout runs cb and reports whether it finished within
// duration.
func WaitThisOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan bool, 1)
	go func() {
		cb()
		done <- true
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}

// AwaitMembership receives CONF actions on conn until one announces a
// view of size members. A node that joined before the others sees one
// CONF per view change it resolved, so how many CONFs precede the
// full-membership one differs from node to node. It reports false if
// anything other than a decodable CONF arrives first.
func AwaitMembership(t *testing.T, conn *gcs.Conn, size int) bool {
	t.Helper()
	for {
		action, ok := RecvWithin(t, conn, 3*time.Second)
		if !ok || action.Type != types.CONF {
			return false
		}
		var payload types.ConfPayload
		if err := types.DecodePayload(action.Data, &payload); err != nil {
			return false
		}
		if len(payload.Members) == size {
			return true
		}
	}
}

// RecvWithin blocks on conn.Recv, failing the test if nothing arrives
// within duration.
func RecvWithin(t *testing.T, conn *gcs.Conn, duration time.Duration) (gcs.Action, bool) {
	t.Helper()
	type result struct {
		action gcs.Action
		ok     bool
	}
	out := make(chan result, 1)
	go func() {
		a, ok := conn.Recv()
		out <- result{a, ok}
	}()
	select {
	case r := <-out:
		return r.action, r.ok
	case <-time.After(duration):
		t.Fatalf("recv timed out after %s", duration)
		return gcs.Action{}, false
	}
}
