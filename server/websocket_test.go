package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GoCodeAlone/teamboard/access"
	"github.com/GoCodeAlone/teamboard/board"
	"github.com/GoCodeAlone/teamboard/server/ws"
	"github.com/GoCodeAlone/teamboard/task"
)

type liveServer struct {
	*Server
	url string
	hub *ws.Hub
}

func newLiveServer(t *testing.T) *liveServer {
	t.Helper()
	ctx := context.Background()
	s := newTestServer(t)

	gate := access.NewStaticGate()
	if err := gate.CreateProject(ctx, access.Project{ID: "p1", OwnerID: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := access.Grant(ctx, gate, "p1", "bob"); err != nil {
		t.Fatal(err)
	}
	store := task.NewMemoryStore()
	hub := ws.NewHub(s.logger)
	s.SetGate(gate)
	s.SetTaskStore(store)
	s.SetEngine(board.New(board.Options{Store: store, Gate: gate, Rooms: hub, Logger: s.logger}))

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &liveServer{Server: s, url: "ws" + strings.TrimPrefix(ts.URL, "http"), hub: hub}
}

func (l *liveServer) dial(t *testing.T, id access.Identity, projectID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	token, err := l.IssueToken(id)
	if err != nil {
		t.Fatal(err)
	}
	c, resp, err := websocket.DefaultDialer.Dial(l.url+"/ws?project_id="+projectID+"&token="+token, nil)
	if err == nil {
		t.Cleanup(func() { c.Close() })
	}
	return c, resp, err
}

type received struct {
	board.Envelope
	raw []byte
}

func readEvent(t *testing.T, c *websocket.Conn) received {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var r received
	if err := json.Unmarshal(data, &r.Envelope); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	r.raw = data
	return r
}

func expect(t *testing.T, c *websocket.Conn, want board.EventType) received {
	t.Helper()
	r := readEvent(t, c)
	if r.Type != want {
		t.Fatalf("got %s (%s), want %s", r.Type, r.raw, want)
	}
	return r
}

func TestWebsocketCreateBroadcast(t *testing.T) {
	l := newLiveServer(t)
	alice, _, err := l.dial(t, access.Identity{ID: "alice", Kind: access.KindUser}, "p1")
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	bob, _, err := l.dial(t, access.Identity{ID: "bob", Kind: access.KindAgent}, "p1")
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	expect(t, alice, board.EventConnected)
	expect(t, bob, board.EventConnected)

	msg := `{"type":"create_task","request_id":"r1","task_id":"T1","description":"Write plan"}`
	if err := alice.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatal(err)
	}
	expect(t, alice, board.EventTaskCreated)
	ack := expect(t, alice, board.EventTaskCreatedAck)
	if ack.RequestID != "r1" {
		t.Errorf("ack request_id = %q", ack.RequestID)
	}
	var created board.TaskEventPayload
	if err := json.Unmarshal(expect(t, bob, board.EventTaskCreated).raw, &created); err != nil {
		t.Fatal(err)
	}
	if created.Task == nil || created.Task.TaskID != "T1" || created.Task.Version != 0 {
		t.Errorf("created = %+v", created.Task)
	}

	if err := bob.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	expect(t, bob, board.EventPong)
}

func TestWebsocketDeniedClosesWithPolicyViolation(t *testing.T) {
	l := newLiveServer(t)
	c, _, err := l.dial(t, access.Identity{ID: "mallory", Kind: access.KindUser}, "p1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("read = %q, %v; want close 1008", data, err)
	}
	if n := l.hub.RoomSize("p1"); n != 0 {
		t.Errorf("RoomSize = %d, want 0", n)
	}
}

func TestWebsocketRejectsBeforeUpgrade(t *testing.T) {
	l := newLiveServer(t)
	_, resp, err := websocket.DefaultDialer.Dial(l.url+"/ws?project_id=p1", nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}

	token, _ := l.IssueToken(access.Identity{ID: "alice"})
	_, resp, err = websocket.DefaultDialer.Dial(l.url+"/ws?token="+token, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing project_id: err %v response %v, want 400", err, resp)
	}
}

func TestWebsocketDisconnectLeavesRoom(t *testing.T) {
	l := newLiveServer(t)
	c, _, err := l.dial(t, access.Identity{ID: "alice", Kind: access.KindUser}, "p1")
	if err != nil {
		t.Fatal(err)
	}
	expect(t, c, board.EventConnected)
	if n := l.hub.RoomSize("p1"); n != 1 {
		t.Fatalf("RoomSize = %d, want 1", n)
	}
	c.Close()

	deadline := time.Now().Add(5 * time.Second)
	for l.hub.RoomSize("p1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session still in room after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
