package board

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/GoCodeAlone/teamboard/agent"
	"github.com/GoCodeAlone/teamboard/task"
)

// EventType discriminates outbound events.
type EventType string

const (
	EventConnected          EventType = "connected"
	EventTaskCreated        EventType = "task.created"
	EventTaskCreatedAck     EventType = "task.created.ack"
	EventTaskUpdated        EventType = "task.updated"
	EventTaskUpdatedAck     EventType = "task.updated.ack"
	EventTaskStatusChanged  EventType = "task.status_changed"
	EventConflict           EventType = "conflict"
	EventSyncResponse       EventType = "sync.response"
	EventPong               EventType = "pong"
	EventAgentRegistered    EventType = "agent.registered"
	EventAgentRegisteredAck EventType = "agent.registered.ack"
	EventError              EventType = "error"
)

// ErrorCode classifies an error event.
type ErrorCode string

const (
	CodeValidation    ErrorCode = "validation"
	CodeNotFound      ErrorCode = "not_found"
	CodeBadRequest    ErrorCode = "bad_request"
	CodeNotSubscribed ErrorCode = "not_subscribed"
	CodeInternal      ErrorCode = "internal"
)

// Event is one outbound message. It encodes flat:
// {"type": ..., "timestamp": ..., "request_id": ..., <payload fields>}.
type Event struct {
	Type      EventType
	Timestamp time.Time
	RequestID string
	Payload   any // must encode to a JSON object, or be nil
}

// Reserved keys a payload may not use.
const (
	keyType      = "type"
	keyTimestamp = "timestamp"
	keyRequestID = "request_id"
)

// MarshalJSON merges the envelope keys into the payload object.
func (e Event) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", e.Type, err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%s payload is not an object: %w", e.Type, err)
		}
		if fields == nil { // payload encoded as null
			fields = map[string]json.RawMessage{}
		}
	}
	typ, _ := json.Marshal(e.Type)
	ts, err := json.Marshal(e.Timestamp.UTC())
	if err != nil {
		return nil, err
	}
	fields[keyType] = typ
	fields[keyTimestamp] = ts
	if e.RequestID != "" {
		rid, _ := json.Marshal(e.RequestID)
		fields[keyRequestID] = rid
	} else {
		delete(fields, keyRequestID)
	}
	return json.Marshal(fields)
}

// Envelope is the part of an outbound event every consumer reads first.
type Envelope struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// ConnectedPayload confirms a subscription.
type ConnectedPayload struct {
	ProjectID  string `json:"project_id"`
	MaxVersion int64  `json:"max_version"`
	SessionID  string `json:"session_id"`
}

// Activity describes the mutation behind a task broadcast.
type Activity struct {
	LastActivity time.Time `json:"last_activity"`
	EventType    EventType `json:"event_type"`
	AgentID      string    `json:"agent_id,omitempty"`
}

// TaskEventPayload is carried by task.created, task.updated and
// task.status_changed.
type TaskEventPayload struct {
	Task      *task.Task      `json:"task"`
	Activity  Activity        `json:"activity"`
	Agent     *agent.Ref      `json:"agent,omitempty"`
	Milestone *task.Milestone `json:"milestone,omitempty"`
}

// TaskAck acknowledges a create or update to its sender.
type TaskAck struct {
	TaskID  string `json:"task_id"`
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// ConflictPayload tells a writer its version was stale.
type ConflictPayload struct {
	TaskID        string     `json:"task_id"`
	ServerVersion int64      `json:"server_version"`
	ClientVersion int64      `json:"client_version"`
	ServerTask    *task.Task `json:"server_task"`
}

// SyncResponsePayload answers a sync_request.
type SyncResponsePayload struct {
	Tasks      []*task.Task `json:"tasks"`
	MaxVersion int64        `json:"max_version"`
}

// AgentPayload is carried by agent.registered and its ack.
type AgentPayload struct {
	AgentID        string `json:"agent_id"`
	DisplayName    string `json:"display_name"`
	IsNamedPersona bool   `json:"is_named_persona"`
}

// ErrorPayload reports a rejected request to its sender.
type ErrorPayload struct {
	Code    ErrorCode         `json:"code"`
	Message string            `json:"message"`
	Fields  []task.FieldError `json:"fields,omitempty"`
	TaskID  string            `json:"task_id,omitempty"`
}

func errorEvent(code ErrorCode, msg string) Event {
	return Event{Type: EventError, Payload: ErrorPayload{Code: code, Message: msg}}
}

func validationEvent(verr *task.ValidationError) Event {
	return Event{Type: EventError, Payload: ErrorPayload{
		Code:    CodeValidation,
		Message: verr.Error(),
		Fields:  verr.Fields,
	}}
}
