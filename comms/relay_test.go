package comms

import (
	"context"
	"sync"
	"testing"
)

type recordingRooms struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (r *recordingRooms) Broadcast(projectID string, data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = make(map[string][]string)
	}
	r.sent[projectID] = append(r.sent[projectID], string(data))
	return 1
}

func (r *recordingRooms) count(projectID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent[projectID])
}

func TestRelay_StartOnlyOnce(t *testing.T) {
	rooms := &recordingRooms{}
	relay := NewRelay(NewInMemoryBus(), rooms, "me", discard())

	var wg sync.WaitGroup
	var mu sync.Mutex
	starts := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if relay.Start(context.Background()) {
				mu.Lock()
				starts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if starts != 1 {
		t.Fatalf("Start succeeded %d times, want 1", starts)
	}

	if err := relay.Publish(context.Background(), "p1", "snapshot", []byte(`{"type":"snapshot"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := rooms.count("p1"); got != 1 {
		t.Errorf("room got %d events, want exactly 1", got)
	}
}

func TestRelay_StopAndRestart(t *testing.T) {
	rooms := &recordingRooms{}
	relay := NewRelay(NewInMemoryBus(), rooms, "", discard())
	if relay.Origin() == "" {
		t.Fatal("relay without origin did not generate one")
	}
	relay.Start(context.Background())
	relay.Stop()
	if relay.Running() {
		t.Error("Running = true after Stop")
	}
	_ = relay.Publish(context.Background(), "p1", "x", []byte(`{}`))
	if got := rooms.count("p1"); got != 0 {
		t.Errorf("stopped relay delivered %d events", got)
	}
	if !relay.Start(context.Background()) {
		t.Error("restart after Stop refused")
	}
	_ = relay.Publish(context.Background(), "p1", "x", []byte(`{}`))
	if got := rooms.count("p1"); got != 1 {
		t.Errorf("room got %d events after restart, want 1", got)
	}
}
