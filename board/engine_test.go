package board

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/GoCodeAlone/teamboard/access"
	"github.com/GoCodeAlone/teamboard/comms"
	"github.com/GoCodeAlone/teamboard/server/ws"
	"github.com/GoCodeAlone/teamboard/task"
)

const testProject = "proj-1"

type frame struct {
	Envelope
	raw []byte
}

// fakeConn records every frame queued for the connection, broadcasts and
// replies alike, in order.
type fakeConn struct {
	mu     sync.Mutex
	frames []frame
	refuse bool
}

func (c *fakeConn) record(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		panic(err)
	}
	c.frames = append(c.frames, frame{Envelope: env, raw: data})
}

func (c *fakeConn) Deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refuse {
		return false
	}
	c.record(data)
	return true
}

func (c *fakeConn) Reply(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(data)
	return nil
}

// take returns the frames recorded so far and forgets them.
func (c *fakeConn) take() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.frames
	c.frames = nil
	return out
}

func types(frames []frame) []EventType {
	out := make([]EventType, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func payload[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(f.raw, &v); err != nil {
		t.Fatalf("decode %s: %v", f.Type, err)
	}
	return v
}

type fixture struct {
	engine *Engine
	store  *task.MemoryStore
	gate   *access.StaticGate
	hub    *ws.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		store: task.NewMemoryStore(),
		gate:  access.NewStaticGate(),
		hub:   ws.NewHub(logger),
	}
	if err := f.gate.CreateProject(ctx, access.Project{ID: testProject, Name: "Test", OwnerID: "alice"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := access.Grant(ctx, f.gate, testProject, "bob"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	f.engine = New(Options{Store: f.store, Gate: f.gate, Rooms: f.hub, Logger: logger})
	return f
}

// connect subscribes id and drops the connected event.
func (f *fixture) connect(t *testing.T, id access.Identity) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s := NewSession(id, testProject, conn)
	if err := f.engine.Subscribe(context.Background(), s); err != nil {
		t.Fatalf("Subscribe(%s): %v", id, err)
	}
	if got := types(conn.take()); !slices.Equal(got, []EventType{EventConnected}) {
		t.Fatalf("after subscribe got %v, want [connected]", got)
	}
	return s, conn
}

func send(t *testing.T, e *Engine, s *Session, msg map[string]any) {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := e.Handle(context.Background(), s, raw); err != nil {
		t.Fatalf("Handle(%s): %v", msg["type"], err)
	}
}

// only asserts that conn received exactly the given event types.
func only(t *testing.T, conn *fakeConn, want ...EventType) []frame {
	t.Helper()
	frames := conn.take()
	if got := types(frames); !slices.Equal(got, want) {
		t.Fatalf("got events %v, want %v", got, want)
	}
	return frames
}

var (
	alice = access.Identity{ID: "alice", Kind: access.KindUser}
	bob   = access.Identity{ID: "bob", Kind: access.KindAgent}
)

func TestSubscribeSendsConnected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.CreateTask(ctx, testProject, task.NewTask{TaskID: "T1", Description: "one"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.UpdateTask(ctx, testProject, "T1", 0, task.Patch{Description: ptr("one!")}); err != nil {
		t.Fatal(err)
	}

	conn := &fakeConn{}
	s := NewSession(alice, testProject, conn)
	if err := f.engine.Subscribe(ctx, s); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	frames := only(t, conn, EventConnected)
	got := payload[ConnectedPayload](t, frames[0])
	if got.ProjectID != testProject || got.MaxVersion != 1 || got.SessionID != s.ID() {
		t.Errorf("connected = %+v, want project %s max_version 1 session %s", got, testProject, s.ID())
	}
	if frames[0].Timestamp.IsZero() {
		t.Error("connected event has no timestamp")
	}
	if s.State() != StateSubscribed {
		t.Errorf("state = %s, want subscribed", s.State())
	}
	if n := f.hub.RoomSize(testProject); n != 1 {
		t.Errorf("RoomSize = %d, want 1", n)
	}
}

func TestSubscribeDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.CreateTask(ctx, testProject, task.NewTask{TaskID: "T1", Description: "secret"}); err != nil {
		t.Fatal(err)
	}

	conn := &fakeConn{}
	s := NewSession(access.Identity{ID: "mallory", Kind: access.KindUser}, testProject, conn)
	if err := f.engine.Subscribe(ctx, s); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Subscribe err = %v, want ErrAccessDenied", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %s, want closed", s.State())
	}
	if n := f.hub.RoomSize(testProject); n != 0 {
		t.Errorf("RoomSize = %d, want 0", n)
	}

	// Later broadcasts and requests must not reach the denied connection.
	sa, _ := f.connect(t, alice)
	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "T2", "description": "x"})
	if err := f.engine.Handle(ctx, s, []byte(`{"type":"sync_request","since_version":0}`)); err == nil {
		t.Error("Handle on a denied session succeeded")
	}
	if frames := conn.take(); len(frames) != 0 {
		t.Errorf("denied connection received %v", types(frames))
	}
}

type errGate struct{}

func (errGate) CanAccessProject(context.Context, access.Identity, string) (bool, error) {
	return false, errors.New("gate offline")
}

func TestSubscribeGateErrorDenies(t *testing.T) {
	f := newFixture(t)
	e := New(Options{Store: f.store, Gate: errGate{}, Rooms: f.hub, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	conn := &fakeConn{}
	s := NewSession(alice, testProject, conn)
	if err := e.Subscribe(context.Background(), s); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Subscribe err = %v, want ErrAccessDenied", err)
	}
	if frames := conn.take(); len(frames) != 0 {
		t.Errorf("received %v, want nothing", types(frames))
	}
}

func TestCreateAndStatusChange(t *testing.T) {
	f := newFixture(t)
	sa, ca := f.connect(t, alice)
	_, cb := f.connect(t, bob)

	send(t, f.engine, sa, map[string]any{"type": "create_task", "request_id": "r1", "task_id": "T1", "description": "Write plan"})
	frames := only(t, ca, EventTaskCreated, EventTaskCreatedAck)
	ack := payload[TaskAck](t, frames[1])
	if ack.TaskID != "T1" || ack.Version != 0 || ack.ID == "" {
		t.Errorf("ack = %+v, want task_id T1 version 0 with id", ack)
	}
	if frames[1].RequestID != "r1" {
		t.Errorf("ack request_id = %q, want r1", frames[1].RequestID)
	}
	if frames[0].RequestID != "" {
		t.Errorf("broadcast carries request_id %q", frames[0].RequestID)
	}
	created := payload[TaskEventPayload](t, only(t, cb, EventTaskCreated)[0])
	if created.Task.Status != task.StatusPending || created.Task.CreatedBy != "alice" {
		t.Errorf("created task = %+v", created.Task)
	}
	if created.Agent != nil || created.Activity.AgentID != "" {
		t.Errorf("user action attributed to agent %+v", created.Agent)
	}

	send(t, f.engine, sa, map[string]any{"type": "update_task", "task_id": "T1", "version": 0, "status": "in_progress"})
	frames = only(t, ca, EventTaskStatusChanged, EventTaskUpdatedAck)
	if got := payload[TaskAck](t, frames[1]).Version; got != 1 {
		t.Errorf("update ack version = %d, want 1", got)
	}
	changed := payload[TaskEventPayload](t, only(t, cb, EventTaskStatusChanged)[0])
	if changed.Task.Status != task.StatusInProgress || changed.Task.Version != 1 {
		t.Errorf("status_changed task = %s v%d", changed.Task.Status, changed.Task.Version)
	}
	if changed.Activity.EventType != EventTaskStatusChanged {
		t.Errorf("activity.event_type = %s", changed.Activity.EventType)
	}

	send(t, f.engine, sa, map[string]any{"type": "update_task", "task_id": "T1", "description": "Write the plan"})
	only(t, ca, EventTaskUpdated, EventTaskUpdatedAck)
	only(t, cb, EventTaskUpdated)
}

func TestStaleUpdateConflicts(t *testing.T) {
	f := newFixture(t)
	sa, ca := f.connect(t, alice)
	sb, cb := f.connect(t, bob)

	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "T1", "description": "d"})
	send(t, f.engine, sa, map[string]any{"type": "update_task", "task_id": "T1", "status": "in_progress"})
	ca.take()
	cb.take()

	send(t, f.engine, sa, map[string]any{"type": "update_task", "task_id": "T1", "version": 1, "description": "from A"})
	only(t, ca, EventTaskUpdated, EventTaskUpdatedAck)
	only(t, cb, EventTaskUpdated)

	send(t, f.engine, sb, map[string]any{"type": "update_task", "request_id": "b1", "task_id": "T1", "version": 1, "status": "completed"})
	frames := only(t, cb, EventConflict)
	if frames[0].RequestID != "b1" {
		t.Errorf("conflict request_id = %q, want b1", frames[0].RequestID)
	}
	got := payload[ConflictPayload](t, frames[0])
	if got.TaskID != "T1" || got.ServerVersion != 2 || got.ClientVersion != 1 {
		t.Errorf("conflict = %+v, want T1 server 2 client 1", got)
	}
	if got.ServerTask == nil || got.ServerTask.Description != "from A" || got.ServerTask.Status != task.StatusInProgress {
		t.Errorf("server_task = %+v, want A's state", got.ServerTask)
	}
	only(t, ca)

	stored, err := f.store.GetTask(context.Background(), testProject, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Version != 2 || stored.Status != task.StatusInProgress {
		t.Errorf("stored = v%d %s, want v2 in_progress", stored.Version, stored.Status)
	}
}

func TestSyncAfterReconnect(t *testing.T) {
	f := newFixture(t)
	sa, ca := f.connect(t, alice)

	bump := func(id string, times int) {
		for range times {
			send(t, f.engine, sa, map[string]any{"type": "update_task", "task_id": id, "description": "again"})
		}
	}
	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "T1", "description": "d"})
	bump("T1", 3)

	sb, cb := f.connect(t, bob)
	f.engine.Close(sb)
	if n := f.hub.RoomSize(testProject); n != 1 {
		t.Fatalf("RoomSize after close = %d, want 1", n)
	}

	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "T2", "description": "d"})
	bump("T2", 7)
	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "T3", "description": "d"})
	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "T4", "description": "d"})
	bump("T4", 5)
	ca.take()
	if frames := cb.take(); len(frames) != 0 {
		t.Fatalf("closed session received %v", types(frames))
	}

	sb, cb = f.connect(t, bob)
	send(t, f.engine, sb, map[string]any{"type": "sync_request", "since_version": 3})
	got := payload[SyncResponsePayload](t, only(t, cb, EventSyncResponse)[0])
	if got.MaxVersion != 7 {
		t.Errorf("max_version = %d, want 7", got.MaxVersion)
	}
	var ids []string
	for _, tk := range got.Tasks {
		ids = append(ids, tk.TaskID)
	}
	if want := []string{"T2", "T4"}; !slices.Equal(ids, want) {
		t.Errorf("tasks = %v, want %v", ids, want)
	}
	only(t, ca)

	send(t, f.engine, sb, map[string]any{"type": "sync_request", "since_version": 0})
	got = payload[SyncResponsePayload](t, only(t, cb, EventSyncResponse)[0])
	if len(got.Tasks) != 4 {
		t.Errorf("full sync returned %d tasks, want 4", len(got.Tasks))
	}
}

func TestRejectedRequestsAreNotBroadcast(t *testing.T) {
	f := newFixture(t)
	sa, ca := f.connect(t, alice)
	_, cb := f.connect(t, bob)

	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "T1"})
	errp := payload[ErrorPayload](t, only(t, ca, EventError)[0])
	if errp.Code != CodeValidation || len(errp.Fields) != 1 || errp.Fields[0].Field != "description" {
		t.Errorf("create error = %+v, want validation on description", errp)
	}

	send(t, f.engine, sa, map[string]any{"type": "update_task", "task_id": "missing", "status": "completed"})
	errp = payload[ErrorPayload](t, only(t, ca, EventError)[0])
	if errp.Code != CodeNotFound || errp.TaskID != "missing" {
		t.Errorf("update error = %+v, want not_found for missing", errp)
	}

	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "T1", "description": "ok"})
	ca.take()
	cb.take()

	send(t, f.engine, sa, map[string]any{"type": "update_task", "task_id": "T1", "status": "bogus"})
	errp = payload[ErrorPayload](t, only(t, ca, EventError)[0])
	if errp.Code != CodeValidation || errp.TaskID != "T1" {
		t.Errorf("invalid patch error = %+v", errp)
	}

	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "T1", "description": "dup"})
	errp = payload[ErrorPayload](t, only(t, ca, EventError)[0])
	if errp.Code != CodeValidation || len(errp.Fields) == 0 || errp.Fields[0].Field != "task_id" {
		t.Errorf("duplicate error = %+v, want validation on task_id", errp)
	}

	send(t, f.engine, sa, map[string]any{"type": "update_task", "status": "completed"})
	only(t, ca, EventError)

	only(t, cb)
}

func TestProtocolErrors(t *testing.T) {
	f := newFixture(t)
	sa, ca := f.connect(t, alice)

	tests := []struct {
		name      string
		raw       string
		code      ErrorCode
		requestID string
	}{
		{"malformed", `{"type":`, CodeBadRequest, ""},
		{"missing type", `{"request_id":"x1"}`, CodeBadRequest, "x1"},
		{"unknown type", `{"type":"delete_task","request_id":"x2"}`, CodeBadRequest, "x2"},
		{"bad payload", `{"type":"sync_request","since_version":"three","request_id":"x3"}`, CodeBadRequest, "x3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.engine.Handle(context.Background(), sa, []byte(tt.raw)); err != nil {
				t.Fatalf("Handle: %v", err)
			}
			frames := only(t, ca, EventError)
			if got := payload[ErrorPayload](t, frames[0]).Code; got != tt.code {
				t.Errorf("code = %s, want %s", got, tt.code)
			}
			if frames[0].RequestID != tt.requestID {
				t.Errorf("request_id = %q, want %q", frames[0].RequestID, tt.requestID)
			}
		})
	}
}

func TestHandleBeforeSubscribe(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConn{}
	s := NewSession(alice, testProject, conn)
	if err := f.engine.Handle(context.Background(), s, []byte(`{"type":"ping","request_id":"p"}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	frames := only(t, conn, EventError)
	if got := payload[ErrorPayload](t, frames[0]).Code; got != CodeNotSubscribed {
		t.Errorf("code = %s, want not_subscribed", got)
	}
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	sa, ca := f.connect(t, alice)
	_, cb := f.connect(t, bob)
	send(t, f.engine, sa, map[string]any{"type": "ping", "request_id": "p1"})
	frames := only(t, ca, EventPong)
	if frames[0].RequestID != "p1" || frames[0].Timestamp.IsZero() {
		t.Errorf("pong = %+v", frames[0].Envelope)
	}
	only(t, cb)
}

func TestAgentRegistrationAndAttribution(t *testing.T) {
	f := newFixture(t)
	sa, ca := f.connect(t, alice)
	_, cb := f.connect(t, bob)

	send(t, f.engine, sa, map[string]any{"type": "agent_registered", "agent_id": "code-reviewer"})
	frames := only(t, ca, EventAgentRegistered, EventAgentRegisteredAck)
	if got := payload[AgentPayload](t, frames[1]); got.DisplayName != "Code Reviewer" {
		t.Errorf("ack display_name = %q, want Code Reviewer", got.DisplayName)
	}
	only(t, cb, EventAgentRegistered)

	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "T1", "description": "d"})
	created := payload[TaskEventPayload](t, only(t, cb, EventTaskCreated)[0])
	if created.Agent == nil || created.Agent.ID != "code-reviewer" || created.Agent.Name != "Code Reviewer" {
		t.Errorf("agent = %+v, want code-reviewer", created.Agent)
	}
	if created.Activity.AgentID != "code-reviewer" || created.Task.CreatedBy != "code-reviewer" {
		t.Errorf("activity %+v created_by %q", created.Activity, created.Task.CreatedBy)
	}

	send(t, f.engine, sa, map[string]any{"type": "update_task", "task_id": "T1", "status": "in_progress", "agent_id": "planner", "agent_name": "Planner Bot"})
	changed := payload[TaskEventPayload](t, only(t, cb, EventTaskStatusChanged)[0])
	if changed.Agent == nil || changed.Agent.Name != "Planner Bot" || changed.Task.UpdatedBy != "planner" {
		t.Errorf("agent = %+v updated_by %q", changed.Agent, changed.Task.UpdatedBy)
	}
	ca.take()

	send(t, f.engine, sa, map[string]any{"type": "agent_registered"})
	only(t, ca, EventError)
	only(t, cb)
}

func TestAgentIdentityAttribution(t *testing.T) {
	f := newFixture(t)
	sb, cb := f.connect(t, bob)
	send(t, f.engine, sb, map[string]any{"type": "create_task", "task_id": "T1", "description": "d"})
	created := payload[TaskEventPayload](t, only(t, cb, EventTaskCreated, EventTaskCreatedAck)[0])
	if created.Agent == nil || created.Agent.ID != "bob" {
		t.Errorf("agent = %+v, want bob", created.Agent)
	}
}

func TestBroadcastCarriesMilestone(t *testing.T) {
	f := newFixture(t)
	sa, _ := f.connect(t, alice)
	_, cb := f.connect(t, bob)

	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "M1", "description": "milestone"})
	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "C1", "description": "a", "parent_task_id": "M1"})
	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "C2", "description": "b", "parent_task_id": "M1"})
	frames := only(t, cb, EventTaskCreated, EventTaskCreated, EventTaskCreated)
	if m := payload[TaskEventPayload](t, frames[0]).Milestone; m != nil {
		t.Errorf("root task carries milestone %+v", m)
	}

	send(t, f.engine, sa, map[string]any{"type": "update_task", "task_id": "C1", "status": "completed"})
	m := payload[TaskEventPayload](t, only(t, cb, EventTaskStatusChanged)[0]).Milestone
	if m == nil {
		t.Fatal("no milestone on child update")
	}
	if m.TaskID != "M1" || m.SubtaskCount != 2 || m.CompletedSubtaskCount != 1 || m.ProgressPercent != 50 {
		t.Errorf("milestone = %+v, want M1 1/2 50%%", m)
	}
}

func TestBroadcastThroughRelay(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := newFixture(t)
	bus := comms.NewInMemoryBus()
	relay := comms.NewRelay(bus, f.hub, "node-a", logger)
	relay.Start(context.Background())
	defer relay.Stop()
	f.engine = New(Options{Store: f.store, Gate: f.gate, Rooms: f.hub, Publisher: relay, Logger: logger})

	sa, _ := f.connect(t, alice)
	_, cb := f.connect(t, bob)
	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "T1", "description": "d"})
	only(t, cb, EventTaskCreated)

	err := f.engine.Broadcast(context.Background(), testProject, Event{Type: "snapshot", Payload: map[string]int{"tasks": 1}})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	frames := only(t, cb, "snapshot")
	if got := payload[map[string]any](t, frames[0])["tasks"]; got != float64(1) {
		t.Errorf("snapshot tasks = %v", got)
	}
}

func TestSessionHoldsEarlyBroadcasts(t *testing.T) {
	conn := &fakeConn{}
	s := NewSession(alice, testProject, conn)
	if !s.Deliver([]byte(`{"type":"task.created","timestamp":"2026-01-01T00:00:00Z"}`)) {
		t.Fatal("Deliver while connecting refused")
	}
	if frames := conn.take(); len(frames) != 0 {
		t.Fatalf("delivered before connected: %v", types(frames))
	}
	left := false
	if !s.activate([]byte(`{"type":"connected","timestamp":"2026-01-01T00:00:00Z"}`), func() { left = true }) {
		t.Fatal("activate failed")
	}
	only(t, conn, EventConnected, EventTaskCreated)

	e := &Engine{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	e.Close(s)
	if !left || s.State() != StateClosed {
		t.Errorf("after Close: left=%v state=%s", left, s.State())
	}
	if s.Deliver([]byte(`{}`)) {
		t.Error("closed session accepted a broadcast")
	}
}

func TestConcurrentUpdatesOneWins(t *testing.T) {
	f := newFixture(t)
	sa, ca := f.connect(t, alice)
	sb, cb := f.connect(t, bob)
	send(t, f.engine, sa, map[string]any{"type": "create_task", "task_id": "T1", "description": "d"})
	send(t, f.engine, sa, map[string]any{"type": "update_task", "task_id": "T1", "description": "v1"})
	ca.take()
	cb.take()

	var wg sync.WaitGroup
	for _, s := range []*Session{sa, sb} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw := []byte(`{"type":"update_task","task_id":"T1","version":1,"description":"` + s.Identity().ID + `"}`)
			if err := f.engine.Handle(context.Background(), s, raw); err != nil {
				t.Errorf("Handle: %v", err)
			}
		}()
	}
	wg.Wait()

	replies := map[EventType]int{}
	for _, c := range []*fakeConn{ca, cb} {
		for _, fr := range c.take() {
			replies[fr.Type]++
		}
	}
	// One ack and one conflict; the winner's update is broadcast to both.
	if replies[EventTaskUpdatedAck] != 1 || replies[EventConflict] != 1 || replies[EventTaskUpdated] != 2 {
		t.Errorf("replies = %v", replies)
	}
	stored, _ := f.store.GetTask(context.Background(), testProject, "T1")
	if stored.Version != 2 {
		t.Errorf("version = %d, want 2", stored.Version)
	}
}

func ptr[T any](v T) *T { return &v }
