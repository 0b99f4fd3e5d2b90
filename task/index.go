package task

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Milestone is the progress summary of a task's parent, attached to task
// broadcasts.
type Milestone struct {
	ID                    string `json:"id"`
	TaskID                string `json:"task_id"`
	Description           string `json:"description"`
	Status                Status `json:"status"`
	ProgressPercent       int    `json:"progress_percent"`
	SubtaskCount          int    `json:"subtask_count"`
	CompletedSubtaskCount int    `json:"completed_subtask_count"`
}

// Index derives parent/child and blocked_by views from a store on demand.
// It keeps no state of its own.
type Index struct {
	r Reader
}

// NewIndex returns an index reading through r.
func NewIndex(r Reader) *Index {
	return &Index{r: r}
}

// MilestoneContext resolves t's parent and summarizes the progress of its
// subtasks. ok is false when t has no parent or the parent is gone.
func (x *Index) MilestoneContext(ctx context.Context, t *Task) (*Milestone, bool, error) {
	if t == nil || t.ParentTaskID == "" {
		return nil, false, nil
	}
	parent, err := x.r.GetTask(ctx, t.ProjectID, t.ParentTaskID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load parent %s: %w", t.ParentTaskID, err)
	}
	children, err := x.r.ListChildren(ctx, t.ProjectID, parent.TaskID)
	if err != nil {
		return nil, false, fmt.Errorf("list children of %s: %w", parent.TaskID, err)
	}
	total, done := childProgress(children)
	return &Milestone{
		ID:                    parent.ID,
		TaskID:                parent.TaskID,
		Description:           parent.Description,
		Status:                parent.Status,
		ProgressPercent:       progressPercent(done, total),
		SubtaskCount:          total,
		CompletedSubtaskCount: done,
	}, true, nil
}

// Blockers resolves t's blocked_by references. Unknown references are skipped.
func (x *Index) Blockers(ctx context.Context, t *Task) ([]*Task, error) {
	out := make([]*Task, 0, len(t.BlockedBy))
	for _, id := range t.BlockedBy {
		b, err := x.r.GetTask(ctx, t.ProjectID, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load blocker %s: %w", id, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func childProgress(children []*Task) (total, done int) {
	for _, c := range children {
		total++
		if c.Status == StatusCompleted {
			done++
		}
	}
	return total, done
}

func progressPercent(done, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(done) * 100 / float64(total)))
}

// graph is a snapshot of one project's edges keyed by task_id. Stores build
// it while holding the project's edge lock.
type graph struct {
	parent    map[string]string
	blockedBy map[string][]string
}

func newGraph() *graph {
	return &graph{parent: map[string]string{}, blockedBy: map[string][]string{}}
}

func (g *graph) add(taskID, parent string, blockedBy []string) {
	g.parent[taskID] = parent
	g.blockedBy[taskID] = blockedBy
}

func (g *graph) has(taskID string) bool {
	_, ok := g.parent[taskID]
	return ok
}

// checkEdges validates the parent and blocked_by lists taskID would carry.
// The project must stay a forest and blocked_by must stay acyclic.
func (g *graph) checkEdges(taskID, parent string, blockedBy []string) *ValidationError {
	verr := &ValidationError{}
	if parent != "" {
		switch {
		case parent == taskID:
			verr.add("parent_task_id", "task cannot be its own parent")
		case !g.has(parent):
			verr.add("parent_task_id", fmt.Sprintf("unknown task %q", parent))
		case g.parentCycle(taskID, parent):
			verr.add("parent_task_id", fmt.Sprintf("parent %q would create a cycle", parent))
		}
	}
	for _, dep := range blockedBy {
		switch {
		case dep == taskID:
			verr.add("blocked_by", "task cannot block itself")
		case !g.has(dep):
			verr.add("blocked_by", fmt.Sprintf("unknown task %q", dep))
		case g.wouldCycle(taskID, dep):
			verr.add("blocked_by", fmt.Sprintf("%q would create a dependency cycle", dep))
		}
	}
	return verr.orNil()
}

// parentCycle reports whether taskID is an ancestor of parent.
func (g *graph) parentCycle(taskID, parent string) bool {
	seen := map[string]struct{}{}
	for cur := parent; cur != ""; cur = g.parent[cur] {
		if cur == taskID {
			return true
		}
		if _, loop := seen[cur]; loop {
			return true
		}
		seen[cur] = struct{}{}
	}
	return false
}

// wouldCycle reports whether making taskID wait on dep closes a loop,
// i.e. dep already waits on taskID transitively.
func (g *graph) wouldCycle(taskID, dep string) bool {
	return g.canReach(dep, taskID)
}

func (g *graph) canReach(from, target string) bool {
	visited := map[string]struct{}{from: {}}
	queue := []string{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.blockedBy[current] {
			if next == target {
				return true
			}
			if _, seen := visited[next]; !seen {
				visited[next] = struct{}{}
				queue = append(queue, next)
			}
		}
	}
	return false
}
