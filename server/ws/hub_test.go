package ws

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClient is a Client with a bounded queue.
type fakeClient struct {
	id   string
	mu   sync.Mutex
	got  [][]byte
	limit int
	seen atomic.Int64
}

func newFakeClient(id string, capacity int) *fakeClient {
	return &fakeClient{id: id, limit: capacity}
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 && len(c.got) >= c.limit {
		return false
	}
	c.got = append(c.got, data)
	c.seen.Add(1)
	return true
}

func (c *fakeClient) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.got))
	for _, b := range c.got {
		out = append(out, string(b))
	}
	return out
}

func TestHub_BroadcastIsScopedToRoom(t *testing.T) {
	h := NewHub(testLogger())
	a := newFakeClient("a", 0)
	b := newFakeClient("b", 0)
	other := newFakeClient("other", 0)
	h.Join("p1", a)
	h.Join("p1", b)
	h.Join("p2", other)

	if n := h.Broadcast("p1", []byte("hello")); n != 2 {
		t.Errorf("Broadcast delivered to %d, want 2", n)
	}
	if got := a.messages(); !slices.Equal(got, []string{"hello"}) {
		t.Errorf("a got %v", got)
	}
	if got := other.messages(); len(got) != 0 {
		t.Errorf("client in another room got %v", got)
	}
	if n := h.Broadcast("empty", []byte("x")); n != 0 {
		t.Errorf("Broadcast to empty room = %d, want 0", n)
	}
}

func TestHub_LeaveIsIdempotentAndRemovesEmptyRooms(t *testing.T) {
	h := NewHub(testLogger())
	a := newFakeClient("a", 0)
	b := newFakeClient("b", 0)
	leaveA := h.Join("p1", a)
	leaveB := h.Join("p1", b)

	leaveA()
	leaveA()
	if got := h.RoomSize("p1"); got != 1 {
		t.Fatalf("RoomSize = %d, want 1", got)
	}
	h.Broadcast("p1", []byte("after-leave"))
	if got := a.messages(); len(got) != 0 {
		t.Errorf("departed client got %v", got)
	}

	leaveB()
	if got := h.Rooms(); len(got) != 0 {
		t.Errorf("Rooms = %v, want none", got)
	}

	// The room comes back on the next join.
	h.Join("p1", a)
	if got := h.RoomSize("p1"); got != 1 {
		t.Errorf("RoomSize after rejoin = %d, want 1", got)
	}
}

func TestHub_SlowClientDoesNotBlockOthers(t *testing.T) {
	h := NewHub(testLogger())
	slow := newFakeClient("slow", 1)
	fast := newFakeClient("fast", 0)
	h.Join("p1", slow)
	h.Join("p1", fast)

	for i := 0; i < 5; i++ {
		h.Broadcast("p1", []byte(fmt.Sprintf("m%d", i)))
	}
	if got := len(slow.messages()); got != 1 {
		t.Errorf("slow client got %d messages, want 1", got)
	}
	if got := len(fast.messages()); got != 5 {
		t.Errorf("fast client got %d messages, want 5", got)
	}
}

func TestHub_ConcurrentJoinLeaveBroadcast(t *testing.T) {
	h := NewHub(testLogger())
	stay := newFakeClient("stay", 0)
	h.Join("p0", stay)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			project := fmt.Sprintf("p%d", i%4)
			for j := 0; j < 50; j++ {
				c := newFakeClient(fmt.Sprintf("c%d-%d", i, j), 0)
				leave := h.Join(project, c)
				h.Broadcast(project, []byte("x"))
				leave()
			}
		}(i)
	}
	wg.Wait()

	if got := h.RoomSize("p0"); got != 1 {
		t.Errorf("RoomSize(p0) = %d, want 1", got)
	}
	if got := h.Rooms(); !slices.Equal(got, []string{"p0"}) {
		t.Errorf("Rooms = %v, want [p0]", got)
	}
	if stay.seen.Load() == 0 {
		t.Error("long-lived client received nothing")
	}
}

func TestHub_Close(t *testing.T) {
	h := NewHub(testLogger())
	a := newFakeClient("a", 0)
	leave := h.Join("p1", a)
	h.Close()
	leave() // safe after Close
	if n := h.Broadcast("p1", []byte("x")); n != 0 {
		t.Errorf("Broadcast after Close = %d, want 0", n)
	}
}
