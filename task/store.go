package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL,
	task_id         TEXT NOT NULL,
	description     TEXT NOT NULL,
	status          TEXT NOT NULL,
	dependency      TEXT NOT NULL,
	scope           TEXT NOT NULL DEFAULT 'global',
	priority        TEXT NOT NULL DEFAULT 'normal',
	tags            TEXT NOT NULL DEFAULT '[]',
	blocked_by      TEXT NOT NULL DEFAULT '[]',
	assignee_id     TEXT NOT NULL DEFAULT '',
	artifact_path   TEXT NOT NULL DEFAULT '',
	remote_url      TEXT NOT NULL DEFAULT '',
	external_id     TEXT NOT NULL DEFAULT '',
	parent_task_id  TEXT NOT NULL DEFAULT '',
	created_by      TEXT NOT NULL DEFAULT '',
	updated_by      TEXT NOT NULL DEFAULT '',
	synthesis_notes TEXT NOT NULL DEFAULT '[]',
	version         INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	UNIQUE (project_id, task_id)
);
CREATE INDEX IF NOT EXISTS idx_tasks_project_version ON tasks(project_id, version);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(project_id, parent_task_id);
`

const taskColumns = `id, project_id, task_id, description, status, dependency, scope, priority,
	tags, blocked_by, assignee_id, artifact_path, remote_url, external_id, parent_task_id,
	created_by, updated_by, synthesis_notes, version, created_at, updated_at`

// SQLiteStore persists tasks in a SQLite database. The version check is a
// conditional UPDATE; a writer that loses the race re-reads and re-evaluates.
type SQLiteStore struct {
	db    *sql.DB
	edges projectLocks
	now   func() time.Time
}

// NewSQLiteStore ensures the tasks table exists in db. The caller owns db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create tasks schema: %w", err)
	}
	return &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateTask persists a new task at version 0.
func (s *SQLiteStore) CreateTask(ctx context.Context, projectID string, n NewTask) (*Task, error) {
	t, verr := n.build(projectID, uuid.New().String(), s.now())
	if verr != nil {
		return nil, verr
	}
	unlock := s.edges.lock(projectID)
	defer unlock()

	g, err := s.loadGraph(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if g.has(t.TaskID) {
		return nil, &ValidationError{Fields: []FieldError{{Field: "task_id", Message: ErrDuplicateTaskID.Error()}}}
	}
	if verr := g.checkEdges(t.TaskID, t.ParentTaskID, t.BlockedBy); verr != nil {
		return nil, verr
	}

	tags, _ := json.Marshal(t.Tags)
	blockedBy, _ := json.Marshal(t.BlockedBy)
	notes, _ := json.Marshal(t.SynthesisNotes)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.TaskID, t.Description, string(t.Status), string(t.Dependency),
		t.Scope, string(t.Priority), string(tags), string(blockedBy),
		t.Assignee, t.ArtifactPath, t.RemoteURL, t.ExternalID, t.ParentTaskID,
		t.CreatedBy, t.UpdatedBy, string(notes), t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task %s: %w", t.TaskID, err)
	}
	return t, nil
}

// UpdateTask applies p under the optimistic version check.
func (s *SQLiteStore) UpdateTask(ctx context.Context, projectID, taskID string, clientVersion int64, p Patch) (UpdateResult, error) {
	if p.changesEdges() {
		unlock := s.edges.lock(projectID)
		defer unlock()
	}
	for {
		if err := ctx.Err(); err != nil {
			return UpdateResult{}, err
		}
		cur, err := s.GetTask(ctx, projectID, taskID)
		if errors.Is(err, ErrNotFound) {
			return UpdateResult{Outcome: OutcomeNotFound}, nil
		}
		if err != nil {
			return UpdateResult{}, err
		}
		if verr := p.validate(); verr != nil {
			return UpdateResult{Outcome: OutcomeInvalid, Invalid: verr}, nil
		}
		if clientVersion > 0 && clientVersion < cur.Version {
			return UpdateResult{Outcome: OutcomeConflict, Task: cur}, nil
		}
		if p.changesEdges() {
			g, err := s.loadGraph(ctx, projectID)
			if err != nil {
				return UpdateResult{}, err
			}
			parent, blockedBy := p.edgesAfter(cur)
			if verr := g.checkEdges(cur.TaskID, parent, blockedBy); verr != nil {
				return UpdateResult{Outcome: OutcomeInvalid, Invalid: verr}, nil
			}
		}

		next := cur.Clone()
		changed := p.apply(next, s.now())
		ok, err := s.compareAndSwap(ctx, cur.Version, next)
		if err != nil {
			return UpdateResult{}, err
		}
		if ok {
			return UpdateResult{Outcome: OutcomeApplied, Task: next, StatusChanged: changed}, nil
		}
		// Another writer moved the version; re-read and decide again.
	}
}

// compareAndSwap writes next only if the stored version is still observed.
func (s *SQLiteStore) compareAndSwap(ctx context.Context, observed int64, next *Task) (bool, error) {
	tags, _ := json.Marshal(next.Tags)
	blockedBy, _ := json.Marshal(next.BlockedBy)
	notes, _ := json.Marshal(next.SynthesisNotes)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			description=?, status=?, dependency=?, scope=?, priority=?, tags=?, blocked_by=?,
			assignee_id=?, artifact_path=?, remote_url=?, external_id=?, parent_task_id=?,
			updated_by=?, synthesis_notes=?, updated_at=?, version = version + 1
		WHERE id = ? AND version = ?`,
		next.Description, string(next.Status), string(next.Dependency), next.Scope,
		string(next.Priority), string(tags), string(blockedBy),
		next.Assignee, next.ArtifactPath, next.RemoteURL, next.ExternalID, next.ParentTaskID,
		next.UpdatedBy, string(notes), next.UpdatedAt,
		next.ID, observed,
	)
	if err != nil {
		return false, fmt.Errorf("update task %s: %w", next.TaskID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// GetTask retrieves a task by its project-scoped task_id.
func (s *SQLiteStore) GetTask(ctx context.Context, projectID, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? AND task_id = ?`, projectID, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return t, nil
}

// ListChildren returns the direct subtasks of parentTaskID.
func (s *SQLiteStore) ListChildren(ctx context.Context, projectID, parentTaskID string) ([]*Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE project_id = ? AND parent_task_id = ? ORDER BY task_id`, projectID, parentTaskID)
}

// ListSince returns every task with version > since ordered by task_id.
// A since of 0 or less returns the whole project.
func (s *SQLiteStore) ListSince(ctx context.Context, projectID string, since int64) ([]*Task, error) {
	if since <= 0 {
		since = -1
	}
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE project_id = ? AND version > ? ORDER BY task_id`, projectID, since)
}

// MaxVersion returns the highest version in the project.
func (s *SQLiteStore) MaxVersion(ctx context.Context, projectID string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM tasks WHERE project_id = ?`, projectID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("max version %s: %w", projectID, err)
	}
	return v, nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// loadGraph must be called with the project's edge lock held.
func (s *SQLiteStore) loadGraph(ctx context.Context, projectID string) (*graph, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, parent_task_id, blocked_by FROM tasks WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load task graph: %w", err)
	}
	defer rows.Close()

	g := newGraph()
	for rows.Next() {
		var taskID, parent, blockedByJSON string
		if err := rows.Scan(&taskID, &parent, &blockedByJSON); err != nil {
			return nil, err
		}
		var blockedBy []string
		_ = json.Unmarshal([]byte(blockedByJSON), &blockedBy)
		g.add(taskID, parent, blockedBy)
	}
	return g, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var status, dependency, priority, tagsJSON, blockedByJSON, notesJSON string

	err := s.Scan(
		&t.ID, &t.ProjectID, &t.TaskID, &t.Description, &status, &dependency, &t.Scope, &priority,
		&tagsJSON, &blockedByJSON, &t.Assignee, &t.ArtifactPath, &t.RemoteURL, &t.ExternalID,
		&t.ParentTaskID, &t.CreatedBy, &t.UpdatedBy, &notesJSON, &t.Version,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.Dependency = Dependency(dependency)
	t.Priority = Priority(priority)

	t.Tags, t.BlockedBy, t.SynthesisNotes = []string{}, []string{}, []Note{}
	_ = json.Unmarshal([]byte(tagsJSON), &t.Tags)
	_ = json.Unmarshal([]byte(blockedByJSON), &t.BlockedBy)
	_ = json.Unmarshal([]byte(notesJSON), &t.SynthesisNotes)
	return &t, nil
}

// projectLocks hands out one mutex per project.
type projectLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *projectLocks) lock(projectID string) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	m, ok := l.m[projectID]
	if !ok {
		m = &sync.Mutex{}
		l.m[projectID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
