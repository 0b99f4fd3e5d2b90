// Package board implements the team board sync protocol: per-connection
// sessions, inbound message dispatch, and the room broadcasts that follow a
// successful mutation.
package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/teamboard/access"
	"github.com/GoCodeAlone/teamboard/agent"
	"github.com/GoCodeAlone/teamboard/server/ws"
	"github.com/GoCodeAlone/teamboard/task"
)

// ErrAccessDenied is returned by Subscribe when the gate refuses the identity.
var ErrAccessDenied = errors.New("access denied")

// Rooms attaches sessions to project rooms and fans events out to them.
type Rooms interface {
	Join(projectID string, c ws.Client) (leave func())
	Broadcast(projectID string, data []byte) int
}

// Publisher carries an encoded event to the room of a project, possibly on
// other instances too.
type Publisher interface {
	Publish(ctx context.Context, projectID, eventType string, data []byte) error
}

// Options configures an Engine.
type Options struct {
	Store     task.Store
	Gate      access.Gate
	Rooms     Rooms
	Publisher Publisher // nil broadcasts straight to Rooms
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine runs the protocol for every session of a daemon.
type Engine struct {
	store     task.Store
	index     *task.Index
	gate      access.Gate
	rooms     Rooms
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		store:     opts.Store,
		index:     task.NewIndex(opts.Store),
		gate:      opts.Gate,
		rooms:     opts.Rooms,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Subscribe authorizes s and attaches it to its project room. On denial the
// session is closed and nothing is sent. On success the first thing the
// connection receives is the connected event.
func (e *Engine) Subscribe(ctx context.Context, s *Session) error {
	ok, err := access.Allowed(ctx, e.gate, s.Identity(), s.ProjectID())
	if err != nil {
		e.logger.Warn("access check failed",
			slog.String("identity", s.Identity().String()),
			slog.String("project_id", s.ProjectID()),
			slog.Any("err", err),
		)
	}
	if !ok {
		s.close()
		return ErrAccessDenied
	}

	// Join before reading max_version so no mutation falls between the two;
	// broadcasts that arrive meanwhile are held by the session.
	leave := e.rooms.Join(s.ProjectID(), s)
	maxVersion, err := e.store.MaxVersion(ctx, s.ProjectID())
	if err != nil {
		leave()
		s.close()
		return fmt.Errorf("subscribe %s: %w", s.ProjectID(), err)
	}
	data, err := e.encode(Event{Type: EventConnected, Payload: ConnectedPayload{
		ProjectID:  s.ProjectID(),
		MaxVersion: maxVersion,
		SessionID:  s.ID(),
	}})
	if err != nil {
		leave()
		s.close()
		return err
	}
	if !s.activate(data, leave) {
		leave()
		s.close()
		return errSessionClosed
	}
	e.logger.Info("session subscribed",
		slog.String("session", s.ID()),
		slog.String("identity", s.Identity().String()),
		slog.String("project_id", s.ProjectID()),
		slog.Int64("max_version", maxVersion),
	)
	return nil
}

// Close detaches s from its room. Further messages on s are rejected.
func (e *Engine) Close(s *Session) {
	if leave := s.close(); leave != nil {
		leave()
		e.logger.Info("session closed",
			slog.String("session", s.ID()),
			slog.String("project_id", s.ProjectID()),
		)
	}
}

// Handle processes one inbound frame and sends exactly one reply to s. The
// returned error is non-nil only when the reply could not be queued.
func (e *Engine) Handle(ctx context.Context, s *Session, raw []byte) error {
	in, err := Decode(raw)
	var reply Event
	switch {
	case err != nil:
		reply = errorEvent(CodeBadRequest, err.Error())
	case s.State() != StateSubscribed:
		reply = errorEvent(CodeNotSubscribed, "session is not subscribed")
	default:
		reply = e.dispatch(ctx, s, in)
	}
	reply.RequestID = in.RequestID
	e.logger.Debug("handled message",
		slog.String("session", s.ID()),
		slog.String("type", string(in.Type)),
		slog.String("reply", string(reply.Type)),
	)
	return e.send(ctx, s, reply)
}

func (e *Engine) dispatch(ctx context.Context, s *Session, in Inbound) Event {
	switch req := in.Request.(type) {
	case *CreateTaskRequest:
		return e.createTask(ctx, s, req)
	case *UpdateTaskRequest:
		return e.updateTask(ctx, s, req)
	case *SyncRequest:
		return e.sync(ctx, s, req)
	case *PingRequest:
		return Event{Type: EventPong}
	case *AgentRegisteredRequest:
		return e.agentRegistered(ctx, s, req)
	}
	return errorEvent(CodeBadRequest, fmt.Sprintf("unsupported message type %q", in.Type))
}

func (e *Engine) createTask(ctx context.Context, s *Session, req *CreateTaskRequest) Event {
	actor, ref := e.attribution(s, req.AgentID, req.AgentName)
	t, err := e.store.CreateTask(ctx, s.ProjectID(), req.newTask(actor))
	if err != nil {
		var verr *task.ValidationError
		if errors.As(err, &verr) {
			ev := validationEvent(verr)
			ev.Payload = withTaskID(ev.Payload, req.TaskID)
			return ev
		}
		return e.internal("create task", s, err)
	}
	e.broadcastTask(ctx, EventTaskCreated, t, ref)
	return Event{Type: EventTaskCreatedAck, Payload: TaskAck{TaskID: t.TaskID, ID: t.ID, Version: t.Version}}
}

func (e *Engine) updateTask(ctx context.Context, s *Session, req *UpdateTaskRequest) Event {
	if req.TaskID == "" {
		return validationEvent(&task.ValidationError{Fields: []task.FieldError{{Field: "task_id", Message: "required"}}})
	}
	actor, ref := e.attribution(s, req.AgentID, req.AgentName)
	res, err := e.store.UpdateTask(ctx, s.ProjectID(), req.TaskID, req.Version, req.patch(actor))
	if err != nil {
		return e.internal("update task", s, err)
	}
	switch res.Outcome {
	case task.OutcomeNotFound:
		return Event{Type: EventError, Payload: ErrorPayload{
			Code:    CodeNotFound,
			Message: task.ErrNotFound.Error(),
			TaskID:  req.TaskID,
		}}
	case task.OutcomeInvalid:
		ev := validationEvent(res.Invalid)
		ev.Payload = withTaskID(ev.Payload, req.TaskID)
		return ev
	case task.OutcomeConflict:
		return Event{Type: EventConflict, Payload: ConflictPayload{
			TaskID:        req.TaskID,
			ServerVersion: res.Task.Version,
			ClientVersion: req.Version,
			ServerTask:    res.Task,
		}}
	case task.OutcomeApplied:
		typ := EventTaskUpdated
		if res.StatusChanged {
			typ = EventTaskStatusChanged
		}
		e.broadcastTask(ctx, typ, res.Task, ref)
		return Event{Type: EventTaskUpdatedAck, Payload: TaskAck{
			TaskID:  res.Task.TaskID,
			ID:      res.Task.ID,
			Version: res.Task.Version,
		}}
	}
	return e.internal("update task", s, fmt.Errorf("unexpected outcome %s", res.Outcome))
}

func (e *Engine) sync(ctx context.Context, s *Session, req *SyncRequest) Event {
	// Read the ceiling first so max_version never runs ahead of the tasks.
	maxVersion, err := e.store.MaxVersion(ctx, s.ProjectID())
	if err != nil {
		return e.internal("sync", s, err)
	}
	tasks, err := e.store.ListSince(ctx, s.ProjectID(), req.SinceVersion)
	if err != nil {
		return e.internal("sync", s, err)
	}
	for _, t := range tasks {
		maxVersion = max(maxVersion, t.Version)
	}
	return Event{Type: EventSyncResponse, Payload: SyncResponsePayload{Tasks: tasks, MaxVersion: maxVersion}}
}

func (e *Engine) agentRegistered(ctx context.Context, s *Session, req *AgentRegisteredRequest) Event {
	p := agent.Presence{
		AgentID:        req.AgentID,
		DisplayName:    req.DisplayName,
		IsNamedPersona: req.IsNamedPersona,
	}.Normalize()
	if p.AgentID == "" {
		return validationEvent(&task.ValidationError{Fields: []task.FieldError{{Field: "agent_id", Message: "required"}}})
	}
	s.setPresence(p)
	payload := AgentPayload{AgentID: p.AgentID, DisplayName: p.DisplayName, IsNamedPersona: p.IsNamedPersona}
	if err := e.Broadcast(ctx, s.ProjectID(), Event{Type: EventAgentRegistered, Payload: payload}); err != nil {
		e.logger.Warn("agent broadcast failed",
			slog.String("project_id", s.ProjectID()),
			slog.String("agent_id", p.AgentID),
			slog.Any("err", err),
		)
	}
	return Event{Type: EventAgentRegisteredAck, Payload: payload}
}

// attribution picks the acting id and the agent shown on broadcasts: the
// agent named in the request, else the presence announced on the session,
// else an agent identity. Users act as themselves with no agent ref.
func (e *Engine) attribution(s *Session, agentID, agentName string) (string, *agent.Ref) {
	presence, announced := s.Presence()
	switch {
	case agentID != "":
		name := agentName
		if name == "" && announced && presence.AgentID == agentID {
			name = presence.DisplayName
		}
		if name == "" {
			name = agent.DisplayName(agentID)
		}
		return agentID, &agent.Ref{ID: agentID, Name: name}
	case announced:
		return presence.AgentID, &agent.Ref{ID: presence.AgentID, Name: presence.DisplayName}
	case s.Identity().Kind == access.KindAgent:
		id := s.Identity().ID
		return id, &agent.Ref{ID: id, Name: agent.DisplayName(id)}
	}
	return s.Identity().ID, nil
}

func (e *Engine) broadcastTask(ctx context.Context, typ EventType, t *task.Task, ref *agent.Ref) {
	milestone, ok, err := e.index.MilestoneContext(ctx, t)
	if err != nil {
		e.logger.Warn("milestone context", slog.String("task_id", t.TaskID), slog.Any("err", err))
	}
	if !ok {
		milestone = nil
	}
	payload := TaskEventPayload{
		Task:      t,
		Activity:  Activity{LastActivity: t.UpdatedAt, EventType: typ},
		Agent:     ref,
		Milestone: milestone,
	}
	if ref != nil {
		payload.Activity.AgentID = ref.ID
	}
	if err := e.Broadcast(ctx, t.ProjectID, Event{Type: typ, Payload: payload}); err != nil {
		e.logger.Warn("task broadcast failed",
			slog.String("project_id", t.ProjectID),
			slog.String("task_id", t.TaskID),
			slog.Int64("version", t.Version),
			slog.Any("err", err),
		)
	}
}

// Broadcast sends ev to every session in the room of projectID. It is the
// entry point for collaborators outside the protocol, such as background
// jobs announcing a snapshot.
func (e *Engine) Broadcast(ctx context.Context, projectID string, ev Event) error {
	data, err := e.encode(ev)
	if err != nil {
		return err
	}
	if e.publisher == nil {
		e.rooms.Broadcast(projectID, data)
		return nil
	}
	return e.publisher.Publish(ctx, projectID, string(ev.Type), data)
}

func (e *Engine) send(ctx context.Context, s *Session, ev Event) error {
	data, err := e.encode(ev)
	if err != nil {
		e.logger.Error("encode reply", slog.String("type", string(ev.Type)), slog.Any("err", err))
		data, err = e.encode(Event{Type: EventError, RequestID: ev.RequestID, Payload: ErrorPayload{
			Code:    CodeInternal,
			Message: "internal error",
		}})
		if err != nil {
			return err
		}
	}
	return s.reply(ctx, data)
}

func (e *Engine) encode(ev Event) ([]byte, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return data, nil
}

func (e *Engine) internal(op string, s *Session, err error) Event {
	e.logger.Error(op,
		slog.String("session", s.ID()),
		slog.String("project_id", s.ProjectID()),
		slog.Any("err", err),
	)
	return errorEvent(CodeInternal, "internal error")
}

func withTaskID(payload any, taskID string) any {
	if p, ok := payload.(ErrorPayload); ok {
		p.TaskID = taskID
		return p
	}
	return payload
}
