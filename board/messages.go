package board

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/teamboard/task"
)

// MessageType discriminates inbound messages.
type MessageType string

const (
	TypeCreateTask      MessageType = "create_task"
	TypeUpdateTask      MessageType = "update_task"
	TypeSyncRequest     MessageType = "sync_request"
	TypePing            MessageType = "ping"
	TypeAgentRegistered MessageType = "agent_registered"
)

// Request is implemented by every inbound payload.
type Request interface {
	MessageType() MessageType
}

// Inbound is a decoded inbound message.
type Inbound struct {
	Type      MessageType
	RequestID string
	Request   Request
}

// CreateTaskRequest is the create_task payload.
type CreateTaskRequest struct {
	TaskID        string   `json:"task_id"`
	Description   string   `json:"description"`
	Status        string   `json:"status,omitempty"`
	Dependency    string   `json:"dependency,omitempty"`
	Scope         string   `json:"scope,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	BlockedBy     []string `json:"blocked_by,omitempty"`
	AssigneeID    string   `json:"assignee_id,omitempty"`
	ArtifactPath  string   `json:"artifact_path,omitempty"`
	RemoteURL     string   `json:"remote_url,omitempty"`
	ExternalID    string   `json:"external_id,omitempty"`
	ParentTaskID  string   `json:"parent_task_id,omitempty"`
	SynthesisNote string   `json:"synthesis_note,omitempty"`
	AgentID       string   `json:"agent_id,omitempty"`
	AgentName     string   `json:"agent_name,omitempty"`
}

func (*CreateTaskRequest) MessageType() MessageType { return TypeCreateTask }

func (r *CreateTaskRequest) newTask(actorID string) task.NewTask {
	return task.NewTask{
		TaskID:        r.TaskID,
		Description:   r.Description,
		Status:        task.Status(r.Status),
		Dependency:    task.Dependency(r.Dependency),
		Scope:         r.Scope,
		Priority:      task.Priority(r.Priority),
		Tags:          r.Tags,
		BlockedBy:     r.BlockedBy,
		Assignee:      r.AssigneeID,
		ArtifactPath:  r.ArtifactPath,
		RemoteURL:     r.RemoteURL,
		ExternalID:    r.ExternalID,
		ParentTaskID:  r.ParentTaskID,
		CreatedBy:     actorID,
		SynthesisNote: r.SynthesisNote,
	}
}

// UpdateTaskRequest is the update_task payload. Absent fields are left
// unchanged; a Version of 0 skips the version check.
type UpdateTaskRequest struct {
	TaskID        string    `json:"task_id"`
	Version       int64     `json:"version,omitempty"`
	Description   *string   `json:"description,omitempty"`
	Status        *string   `json:"status,omitempty"`
	Dependency    *string   `json:"dependency,omitempty"`
	Scope         *string   `json:"scope,omitempty"`
	Priority      *string   `json:"priority,omitempty"`
	Tags          *[]string `json:"tags,omitempty"`
	BlockedBy     *[]string `json:"blocked_by,omitempty"`
	AssigneeID    *string   `json:"assignee_id,omitempty"`
	ArtifactPath  *string   `json:"artifact_path,omitempty"`
	RemoteURL     *string   `json:"remote_url,omitempty"`
	ExternalID    *string   `json:"external_id,omitempty"`
	ParentTaskID  *string   `json:"parent_task_id,omitempty"`
	SynthesisNote string    `json:"synthesis_note,omitempty"`
	AgentID       string    `json:"agent_id,omitempty"`
	AgentName     string    `json:"agent_name,omitempty"`
}

func (*UpdateTaskRequest) MessageType() MessageType { return TypeUpdateTask }

func (r *UpdateTaskRequest) patch(actorID string) task.Patch {
	p := task.Patch{
		Description:   r.Description,
		Scope:         r.Scope,
		Tags:          r.Tags,
		BlockedBy:     r.BlockedBy,
		Assignee:      r.AssigneeID,
		ArtifactPath:  r.ArtifactPath,
		RemoteURL:     r.RemoteURL,
		ExternalID:    r.ExternalID,
		ParentTaskID:  r.ParentTaskID,
		SynthesisNote: r.SynthesisNote,
		UpdatedBy:     actorID,
	}
	if r.Status != nil {
		s := task.Status(*r.Status)
		p.Status = &s
	}
	if r.Dependency != nil {
		d := task.Dependency(*r.Dependency)
		p.Dependency = &d
	}
	if r.Priority != nil {
		pr := task.Priority(*r.Priority)
		p.Priority = &pr
	}
	return p
}

// SyncRequest asks for every task newer than SinceVersion.
type SyncRequest struct {
	SinceVersion int64 `json:"since_version"`
}

func (*SyncRequest) MessageType() MessageType { return TypeSyncRequest }

// PingRequest is a liveness probe.
type PingRequest struct{}

func (*PingRequest) MessageType() MessageType { return TypePing }

// AgentRegisteredRequest announces an agent's presence to the room.
type AgentRegisteredRequest struct {
	AgentID        string `json:"agent_id"`
	DisplayName    string `json:"display_name,omitempty"`
	IsNamedPersona bool   `json:"is_named_persona,omitempty"`
}

func (*AgentRegisteredRequest) MessageType() MessageType { return TypeAgentRegistered }

var errNoType = errors.New("message has no type")

// Decode parses one inbound frame. On error the returned Inbound still
// carries whatever request_id could be read, so the error can be correlated.
func Decode(raw []byte) (Inbound, error) {
	var env struct {
		Type      MessageType `json:"type"`
		RequestID string      `json:"request_id"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, fmt.Errorf("malformed message: %w", err)
	}
	in := Inbound{Type: env.Type, RequestID: env.RequestID}

	var req Request
	switch env.Type {
	case TypeCreateTask:
		req = &CreateTaskRequest{}
	case TypeUpdateTask:
		req = &UpdateTaskRequest{}
	case TypeSyncRequest:
		req = &SyncRequest{}
	case TypePing:
		in.Request = &PingRequest{}
		return in, nil
	case TypeAgentRegistered:
		req = &AgentRegisteredRequest{}
	case "":
		return in, errNoType
	default:
		return in, fmt.Errorf("unknown message type %q", env.Type)
	}
	if err := json.Unmarshal(raw, req); err != nil {
		return in, fmt.Errorf("malformed %s payload: %w", env.Type, err)
	}
	in.Request = req
	return in, nil
}
