// Package task defines the board task model, its versioned stores and the
// hierarchy index used to enrich task events.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// Dependency says who can carry a task forward.
type Dependency string

const (
	DependencyAgentCapable Dependency = "AGENT_CAPABLE"
	DependencyUserRequired Dependency = "USER_REQUIRED"
)

// Valid reports whether d is a known dependency kind.
func (d Dependency) Valid() bool {
	return d == DependencyAgentCapable || d == DependencyUserRequired
}

// Priority determines how urgent a task is. Any non-blank label is accepted;
// the constants are the ones clients use by convention.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a usable priority label.
func (p Priority) Valid() bool {
	return strings.TrimSpace(string(p)) != ""
}

// DefaultScope is applied to tasks created without a scope.
const DefaultScope = "global"

// Note is one entry of a task's append-only synthesis log.
type Note struct {
	Text      string    `json:"text"`
	AgentID   string    `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is a unit of work on a project board.
type Task struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	TaskID         string     `json:"task_id"`
	Description    string     `json:"description"`
	Status         Status     `json:"status"`
	Dependency     Dependency `json:"dependency"`
	Scope          string     `json:"scope"`
	Priority       Priority   `json:"priority"`
	Tags           []string   `json:"tags"`
	BlockedBy      []string   `json:"blocked_by"`
	Assignee       string     `json:"assignee_id,omitempty"`
	ArtifactPath   string     `json:"artifact_path,omitempty"`
	RemoteURL      string     `json:"remote_url,omitempty"`
	ExternalID     string     `json:"external_id,omitempty"`
	ParentTaskID   string     `json:"parent_task_id,omitempty"`
	CreatedBy      string     `json:"created_by,omitempty"`
	UpdatedBy      string     `json:"updated_by,omitempty"`
	SynthesisNotes []Note     `json:"synthesis_notes"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	c.Tags = append([]string{}, t.Tags...)
	c.BlockedBy = append([]string{}, t.BlockedBy...)
	c.SynthesisNotes = append([]Note{}, t.SynthesisNotes...)
	return &c
}

// NewTask is the input to CreateTask. Empty enum fields take their defaults.
type NewTask struct {
	TaskID        string
	Description   string
	Status        Status
	Dependency    Dependency
	Scope         string
	Priority      Priority
	Tags          []string
	BlockedBy     []string
	Assignee      string
	ArtifactPath  string
	RemoteURL     string
	ExternalID    string
	ParentTaskID  string
	CreatedBy     string
	SynthesisNote string // optional first entry of the synthesis log
}

// Patch is a partial update. Nil fields are left unchanged; a non-nil slice
// pointer replaces the whole list.
type Patch struct {
	Description   *string
	Status        *Status
	Dependency    *Dependency
	Scope         *string
	Priority      *Priority
	Tags          *[]string
	BlockedBy     *[]string
	Assignee      *string
	ArtifactPath  *string
	RemoteURL     *string
	ExternalID    *string
	ParentTaskID  *string
	SynthesisNote string // appended in the same write when non-empty
	UpdatedBy     string
}

// changesEdges reports whether applying p may alter the project's task graph.
func (p Patch) changesEdges() bool {
	return p.ParentTaskID != nil || p.BlockedBy != nil
}

// Outcome classifies the result of UpdateTask.
type Outcome int

const (
	OutcomeApplied Outcome = iota + 1
	OutcomeConflict
	OutcomeNotFound
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeConflict:
		return "conflict"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeInvalid:
		return "invalid"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// UpdateResult is returned by UpdateTask.
//
// Task holds the new state when Applied and the unchanged server state when
// Conflict. Invalid is set only for OutcomeInvalid.
type UpdateResult struct {
	Outcome       Outcome
	Task          *Task
	Invalid       *ValidationError
	StatusChanged bool
}

var (
	// ErrNotFound is returned when a task does not exist in the project.
	ErrNotFound = errors.New("task not found")
	// ErrDuplicateTaskID is wrapped by the ValidationError for a task_id collision.
	ErrDuplicateTaskID = errors.New("task_id already exists")
)

// FieldError names one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that made a request invalid.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid task: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrDuplicateTaskID) match a task_id collision.
func (e *ValidationError) Is(target error) bool {
	if target != ErrDuplicateTaskID {
		return false
	}
	for _, f := range e.Fields {
		if f.Field == "task_id" && f.Message == ErrDuplicateTaskID.Error() {
			return true
		}
	}
	return false
}

// FieldNames returns the names of the failing fields in order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return names
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// orNil returns e when it carries at least one field error.
func (e *ValidationError) orNil() *ValidationError {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Reader is the read side of a store, enough to derive hierarchy context.
type Reader interface {
	// GetTask returns the task addressed by taskID or ErrNotFound.
	GetTask(ctx context.Context, projectID, taskID string) (*Task, error)

	// ListChildren returns the direct subtasks of parentTaskID ordered by task_id.
	ListChildren(ctx context.Context, projectID, parentTaskID string) ([]*Task, error)
}

// Store persists versioned tasks.
type Store interface {
	Reader

	// CreateTask validates n, applies defaults and persists it at version 0.
	// Invalid input yields a *ValidationError.
	CreateTask(ctx context.Context, projectID string, n NewTask) (*Task, error)

	// UpdateTask applies p under the optimistic version check. A
	// clientVersion <= 0 skips the check. The error is reserved for storage
	// failures; every protocol outcome is reported in the result.
	UpdateTask(ctx context.Context, projectID, taskID string, clientVersion int64, p Patch) (UpdateResult, error)

	// ListSince returns every task with version > since ordered by task_id.
	// Versions start at 0, so since <= 0 means the full snapshot.
	ListSince(ctx context.Context, projectID string, since int64) ([]*Task, error)

	// MaxVersion returns the highest task version in the project, 0 if empty.
	MaxVersion(ctx context.Context, projectID string) (int64, error)
}

// AppendSynthesisNote records a note on its own as one versioned mutation.
func AppendSynthesisNote(ctx context.Context, s Store, projectID, taskID, text, agentID string) (*Task, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Fields: []FieldError{{Field: "synthesis_note", Message: "required"}}}
	}
	res, err := s.UpdateTask(ctx, projectID, taskID, 0, Patch{SynthesisNote: text, UpdatedBy: agentID})
	if err != nil {
		return nil, err
	}
	switch res.Outcome {
	case OutcomeApplied:
		return res.Task, nil
	case OutcomeNotFound:
		return nil, fmt.Errorf("append note to %s: %w", taskID, ErrNotFound)
	case OutcomeInvalid:
		return nil, res.Invalid
	}
	return nil, fmt.Errorf("append note to %s: unexpected %s", taskID, res.Outcome)
}

// build validates n and turns it into a task at version 0.
func (n NewTask) build(projectID, id string, now time.Time) (*Task, *ValidationError) {
	verr := &ValidationError{}
	taskID := strings.TrimSpace(n.TaskID)
	if taskID == "" {
		verr.add("task_id", "required")
	}
	if strings.TrimSpace(n.Description) == "" {
		verr.add("description", "required")
	}
	t := &Task{
		ID:             id,
		ProjectID:      projectID,
		TaskID:         taskID,
		Description:    n.Description,
		Status:         n.Status,
		Dependency:     n.Dependency,
		Scope:          n.Scope,
		Priority:       n.Priority,
		Tags:           normalizeSet(n.Tags),
		BlockedBy:      normalizeSet(n.BlockedBy),
		Assignee:       n.Assignee,
		ArtifactPath:   n.ArtifactPath,
		RemoteURL:      n.RemoteURL,
		ExternalID:     n.ExternalID,
		ParentTaskID:   strings.TrimSpace(n.ParentTaskID),
		CreatedBy:      n.CreatedBy,
		UpdatedBy:      n.CreatedBy,
		SynthesisNotes: []Note{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Dependency == "" {
		t.Dependency = DependencyAgentCapable
	}
	if t.Scope == "" {
		t.Scope = DefaultScope
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	checkEnums(verr, t.Status, t.Dependency, t.Priority)
	if n.SynthesisNote != "" {
		t.SynthesisNotes = append(t.SynthesisNotes, Note{Text: n.SynthesisNote, AgentID: n.CreatedBy, Timestamp: now})
	}
	return t, verr.orNil()
}

// validate checks the fields of p that can be judged without the store.
func (p Patch) validate() *ValidationError {
	verr := &ValidationError{}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		verr.add("description", "must not be empty")
	}
	var (
		s   Status     = StatusPending
		d   Dependency = DependencyAgentCapable
		pri Priority   = PriorityNormal
	)
	if p.Status != nil {
		s = *p.Status
	}
	if p.Dependency != nil {
		d = *p.Dependency
	}
	if p.Priority != nil {
		pri = *p.Priority
	}
	checkEnums(verr, s, d, pri)
	return verr.orNil()
}

// apply writes p onto t and reports whether the status changed.
func (p Patch) apply(t *Task, now time.Time) bool {
	before := t.Status
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Dependency != nil {
		t.Dependency = *p.Dependency
	}
	if p.Scope != nil {
		t.Scope = *p.Scope
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Tags != nil {
		t.Tags = normalizeSet(*p.Tags)
	}
	if p.BlockedBy != nil {
		t.BlockedBy = normalizeSet(*p.BlockedBy)
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	if p.ArtifactPath != nil {
		t.ArtifactPath = *p.ArtifactPath
	}
	if p.RemoteURL != nil {
		t.RemoteURL = *p.RemoteURL
	}
	if p.ExternalID != nil {
		t.ExternalID = *p.ExternalID
	}
	if p.ParentTaskID != nil {
		t.ParentTaskID = strings.TrimSpace(*p.ParentTaskID)
	}
	if p.UpdatedBy != "" {
		t.UpdatedBy = p.UpdatedBy
	}
	if p.SynthesisNote != "" {
		t.SynthesisNotes = append(t.SynthesisNotes, Note{Text: p.SynthesisNote, AgentID: p.UpdatedBy, Timestamp: now})
	}
	t.Version++
	t.UpdatedAt = now
	return t.Status != before
}

// edgesAfter returns the parent and blocked_by lists t would carry after p.
func (p Patch) edgesAfter(t *Task) (string, []string) {
	parent, blockedBy := t.ParentTaskID, t.BlockedBy
	if p.ParentTaskID != nil {
		parent = strings.TrimSpace(*p.ParentTaskID)
	}
	if p.BlockedBy != nil {
		blockedBy = normalizeSet(*p.BlockedBy)
	}
	return parent, blockedBy
}

func checkEnums(verr *ValidationError, s Status, d Dependency, p Priority) {
	if !s.Valid() {
		verr.add("status", fmt.Sprintf("unknown status %q", s))
	}
	if !d.Valid() {
		verr.add("dependency", fmt.Sprintf("unknown dependency %q", d))
	}
	if !p.Valid() {
		verr.add("priority", "must not be empty")
	}
}

// normalizeSet trims entries, drops blanks and duplicates and keeps first-seen order.
func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
