package connection

import (
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	msgType int
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgType = messageType
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	a, b := &fakeConn{}, &fakeConn{}

	r.Add("1", a)
	r.Add("2", b)
	if r.Len() != 2 {
		t.Fatalf("expected 2 connections, got %d", r.Len())
	}

	r.Remove("1", a)
	if r.Len() != 1 {
		t.Fatalf("expected 1 connection, got %d", r.Len())
	}
}

func TestRegistry_ReplaceClosesPrevious(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	old, cur := &fakeConn{}, &fakeConn{}

	r.Add("1", old)
	r.Add("1", cur)
	if !old.closed {
		t.Fatal("expected replaced connection to be closed")
	}

	// the stale handler must not evict the new connection
	r.Remove("1", old)
	if r.Len() != 1 {
		t.Fatal("stale remove evicted the current connection")
	}
}

func TestRegistry_Drain(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	conns := []*fakeConn{{}, {}, {}}
	for i, c := range conns {
		r.Add(string(rune('a'+i)), c)
	}

	if n := r.Drain(time.Second); n != 3 {
		t.Fatalf("expected 3 drained, got %d", n)
	}
	if r.Len() != 0 {
		t.Fatal("registry should be empty after drain")
	}

	want := string(websocket.FormatCloseMessage(websocket.CloseGoingAway, ShutdownReason))
	for i, c := range conns {
		if !c.closed || c.msgType != websocket.CloseMessage || len(c.frames) != 1 || string(c.frames[0]) != want {
			t.Fatalf("conn %d not drained properly: %+v", i, c)
		}
	}
}
