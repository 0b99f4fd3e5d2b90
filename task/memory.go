package task

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps tasks in process memory.
//
// Lock order: project.edges, then project.mu, then a single memTask.mu.
// Version checks run under the task's own mutex, so writes to different
// tasks never wait on each other.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*memProject
	now      func() time.Time
}

type memProject struct {
	edges sync.Mutex   // serializes creates and graph-changing updates
	mu    sync.RWMutex // guards tasks
	tasks map[string]*memTask
}

type memTask struct {
	mu sync.Mutex
	t  *Task
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]*memProject),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) project(projectID string, create bool) *memProject {
	s.mu.RLock()
	p := s.projects[projectID]
	s.mu.RUnlock()
	if p != nil || !create {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p = s.projects[projectID]; p == nil {
		p = &memProject{tasks: make(map[string]*memTask)}
		s.projects[projectID] = p
	}
	return p
}

func (p *memProject) get(taskID string) *memTask {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tasks[taskID]
}

func (p *memProject) all() []*memTask {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*memTask, 0, len(p.tasks))
	for _, mt := range p.tasks {
		out = append(out, mt)
	}
	return out
}

// snapshot copies the task under its lock.
func (mt *memTask) snapshot() *Task {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.t.Clone()
}

// graph must be called with p.edges held.
func (p *memProject) graph() *graph {
	g := newGraph()
	for _, mt := range p.all() {
		mt.mu.Lock()
		g.add(mt.t.TaskID, mt.t.ParentTaskID, mt.t.BlockedBy)
		mt.mu.Unlock()
	}
	return g
}

// CreateTask persists a new task at version 0.
func (s *MemoryStore) CreateTask(_ context.Context, projectID string, n NewTask) (*Task, error) {
	t, verr := n.build(projectID, uuid.New().String(), s.now())
	if verr != nil {
		return nil, verr
	}
	p := s.project(projectID, true)
	p.edges.Lock()
	defer p.edges.Unlock()

	if p.get(t.TaskID) != nil {
		return nil, &ValidationError{Fields: []FieldError{{Field: "task_id", Message: ErrDuplicateTaskID.Error()}}}
	}
	if verr := p.graph().checkEdges(t.TaskID, t.ParentTaskID, t.BlockedBy); verr != nil {
		return nil, verr
	}
	p.mu.Lock()
	p.tasks[t.TaskID] = &memTask{t: t}
	p.mu.Unlock()
	return t.Clone(), nil
}

// UpdateTask applies p under the optimistic version check.
func (s *MemoryStore) UpdateTask(_ context.Context, projectID, taskID string, clientVersion int64, patch Patch) (UpdateResult, error) {
	p := s.project(projectID, false)
	if p == nil {
		return UpdateResult{Outcome: OutcomeNotFound}, nil
	}
	mt := p.get(taskID)
	if mt == nil {
		return UpdateResult{Outcome: OutcomeNotFound}, nil
	}
	if verr := patch.validate(); verr != nil {
		return UpdateResult{Outcome: OutcomeInvalid, Invalid: verr}, nil
	}

	var g *graph
	if patch.changesEdges() {
		p.edges.Lock()
		defer p.edges.Unlock()
		g = p.graph()
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()
	cur := mt.t
	if clientVersion > 0 && clientVersion < cur.Version {
		return UpdateResult{Outcome: OutcomeConflict, Task: cur.Clone()}, nil
	}
	if g != nil {
		parent, blockedBy := patch.edgesAfter(cur)
		if verr := g.checkEdges(cur.TaskID, parent, blockedBy); verr != nil {
			return UpdateResult{Outcome: OutcomeInvalid, Invalid: verr}, nil
		}
	}
	next := cur.Clone()
	changed := patch.apply(next, s.now())
	mt.t = next
	return UpdateResult{Outcome: OutcomeApplied, Task: next.Clone(), StatusChanged: changed}, nil
}

// GetTask returns a copy of the task addressed by taskID.
func (s *MemoryStore) GetTask(_ context.Context, projectID, taskID string) (*Task, error) {
	p := s.project(projectID, false)
	if p == nil {
		return nil, ErrNotFound
	}
	mt := p.get(taskID)
	if mt == nil {
		return nil, ErrNotFound
	}
	return mt.snapshot(), nil
}

// ListChildren returns the direct subtasks of parentTaskID.
func (s *MemoryStore) ListChildren(_ context.Context, projectID, parentTaskID string) ([]*Task, error) {
	return s.filter(projectID, func(t *Task) bool { return t.ParentTaskID == parentTaskID }), nil
}

// ListSince returns every task with version > since ordered by task_id.
// A since of 0 or less returns the whole project.
func (s *MemoryStore) ListSince(_ context.Context, projectID string, since int64) ([]*Task, error) {
	return s.filter(projectID, func(t *Task) bool { return since <= 0 || t.Version > since }), nil
}

// MaxVersion returns the highest version in the project.
func (s *MemoryStore) MaxVersion(_ context.Context, projectID string) (int64, error) {
	p := s.project(projectID, false)
	if p == nil {
		return 0, nil
	}
	var highest int64
	for _, mt := range p.all() {
		mt.mu.Lock()
		if mt.t.Version > highest {
			highest = mt.t.Version
		}
		mt.mu.Unlock()
	}
	return highest, nil
}

func (s *MemoryStore) filter(projectID string, keep func(*Task) bool) []*Task {
	p := s.project(projectID, false)
	if p == nil {
		return []*Task{}
	}
	out := []*Task{}
	for _, mt := range p.all() {
		if t := mt.snapshot(); keep(t) {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *Task) int { return strings.Compare(a.TaskID, b.TaskID) })
	return out
}
