// Package tasks implements the task sub-server domain: tasks and
// subtasks persisted as graph entities with HAS_SUBTASK and typed
// dependency edges.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cortexhub/cortexhub/internal/errs"
	"github.com/cortexhub/cortexhub/internal/graph"
)

// Graph labels and relationship types for the task domain. Dependency
// edges use the dependency type constants below as their edge type.
const (
	LabelTask     = "Task"
	RelHasSubtask = "HAS_SUBTASK"
)

// Task statuses. completed and cancelled are terminal.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusDeferred   = "deferred"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Priorities.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Dependency types.
const (
	DepMustCompleteBefore   = "MUST_COMPLETE_BEFORE"
	DepShouldCompleteBefore = "SHOULD_COMPLETE_BEFORE"
	DepBlocks               = "BLOCKS"
)

var validStatuses = map[string]bool{
	StatusPending: true, StatusInProgress: true, StatusBlocked: true,
	StatusDeferred: true, StatusCompleted: true, StatusCancelled: true,
}

var validPriorities = map[string]bool{
	PriorityLow: true, PriorityMedium: true, PriorityHigh: true, PriorityCritical: true,
}

var validDepTypes = map[string]bool{
	DepMustCompleteBefore: true, DepShouldCompleteBefore: true, DepBlocks: true,
}

// Task is one unit of tracked work.
type Task struct {
	ID          string   `json:"task_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	Progress    int      `json:"progress"`
	Assignee    string   `json:"assignee,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	Result      string   `json:"result,omitempty"`
	ParentID    string   `json:"parent_task_id,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	CompletedAt string   `json:"completed_at,omitempty"`

	Subtasks []Summary `json:"subtasks,omitempty"`
}

// Summary is the shallow subtask view attached to a parent.
type Summary struct {
	ID       string `json:"task_id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Progress int    `json:"progress"`
}

// Terminal reports whether the status accepts no further completion.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// Dependency is one typed edge between tasks.
type Dependency struct {
	TaskID      string `json:"task_id"`
	DependsOnID string `json:"depends_on_id"`
	Type        string `json:"type"`
}

// CreateRequest carries the caller-settable fields of a new task.
type CreateRequest struct {
	Title       string
	Description string
	Priority    string
	Assignee    string
	Tags        []string
	DueDate     string
	ParentID    string
}

// ListFilter combines the equality filters of a list query. Tags are
// any-match and applied after the backend filter.
type ListFilter struct {
	Status   string
	Priority string
	Assignee string
	Tags     []string
	ParentID string
	Limit    int
}

// Manager owns task persistence.
type Manager struct {
	store  graph.Store
	logger *slog.Logger
}

// NewManager wires the task manager.
func NewManager(store graph.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

func stamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// Create persists a new task; with ParentID set it also writes the
// HAS_SUBTASK edge.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	const op = "tasks: create"
	if req.Title == "" {
		return nil, errs.New(errs.KindInvalidInput, op, "title is required")
	}
	if req.Priority == "" {
		req.Priority = PriorityMedium
	}
	if !validPriorities[req.Priority] {
		return nil, errs.Newf(errs.KindInvalidInput, op, "unknown priority %q", req.Priority)
	}
	if req.ParentID != "" {
		if _, err := m.store.GetEntity(ctx, LabelTask, req.ParentID); err != nil {
			return nil, err
		}
	}

	now := stamp()
	t := &Task{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Status:      StatusPending,
		Priority:    req.Priority,
		Assignee:    req.Assignee,
		Tags:        req.Tags,
		DueDate:     req.DueDate,
		ParentID:    req.ParentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := m.store.CreateEntity(ctx, LabelTask, taskProps(t)); err != nil {
		return nil, err
	}
	if req.ParentID != "" {
		_, err := m.store.CreateRelationship(ctx,
			graph.Ref{Label: LabelTask, ID: req.ParentID}, RelHasSubtask,
			graph.Ref{Label: LabelTask, ID: t.ID}, nil)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Get returns a task, optionally with shallow subtask summaries from
// its outgoing HAS_SUBTASK set.
func (m *Manager) Get(ctx context.Context, id string, includeSubtasks bool) (*Task, error) {
	ent, err := m.store.GetEntity(ctx, LabelTask, id)
	if err != nil {
		return nil, err
	}
	t := taskFromProps(ent.Props)
	if !includeSubtasks {
		return t, nil
	}

	neighbors, err := m.store.Relationships(ctx, LabelTask, id, graph.DirOut, RelHasSubtask)
	if err != nil {
		return nil, err
	}
	for _, n := range neighbors {
		sub := taskFromProps(n.Other.Props)
		t.Subtasks = append(t.Subtasks, Summary{
			ID: sub.ID, Title: sub.Title, Status: sub.Status,
			Priority: sub.Priority, Progress: sub.Progress,
		})
	}
	return t, nil
}

// Update merges the supplied fields. A transition to completed always
// forces progress=100 and sets completed_at.
func (m *Manager) Update(ctx context.Context, id string, fields map[string]any) (*Task, error) {
	const op = "tasks: update"
	if len(fields) == 0 {
		return nil, errs.New(errs.KindInvalidInput, op, "no fields to update")
	}

	props := graph.Props{}
	for k, v := range fields {
		switch k {
		case "title", "description", "assignee", "due_date", "result":
			props[k] = v
		case "status":
			status, _ := v.(string)
			if !validStatuses[status] {
				return nil, errs.Newf(errs.KindInvalidInput, op, "unknown status %q", status)
			}
			props["status"] = status
			if status == StatusCompleted {
				props["progress"] = 100
				props["completed_at"] = stamp()
			}
		case "priority":
			priority, _ := v.(string)
			if !validPriorities[priority] {
				return nil, errs.Newf(errs.KindInvalidInput, op, "unknown priority %q", priority)
			}
			props["priority"] = priority
		case "progress":
			p := int(asFloat(v))
			if p < 0 || p > 100 {
				return nil, errs.Newf(errs.KindInvalidInput, op, "progress %d out of range", p)
			}
			props["progress"] = p
		case "tags":
			props["tags"] = v
		default:
			return nil, errs.Newf(errs.KindInvalidInput, op, "unknown field %q", k)
		}
	}
	// completed always pins progress, even when the caller also sent a
	// progress value.
	if s, ok := props["status"].(string); ok && s == StatusCompleted {
		props["progress"] = 100
	}

	ent, err := m.store.UpdateEntity(ctx, LabelTask, id, props)
	if err != nil {
		return nil, err
	}
	return taskFromProps(ent.Props), nil
}

// Complete is the update({status: completed, result}) shortcut. It
// refuses to pull a task out of cancelled.
func (m *Manager) Complete(ctx context.Context, id, result string) (*Task, error) {
	const op = "tasks: complete"
	current, err := m.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusCancelled {
		return nil, errs.Newf(errs.KindInvalidInput, op, "task %s is cancelled", id)
	}
	if current.Status == StatusCompleted {
		return current, nil
	}
	fields := map[string]any{"status": StatusCompleted}
	if result != "" {
		fields["result"] = result
	}
	return m.Update(ctx, id, fields)
}

// Delete removes a task. With deleteSubtasks the outgoing HAS_SUBTASK
// set goes first; without it subtasks survive as orphans.
func (m *Manager) Delete(ctx context.Context, id string, deleteSubtasks bool) (int, error) {
	deleted := 0
	if deleteSubtasks {
		neighbors, err := m.store.Relationships(ctx, LabelTask, id, graph.DirOut, RelHasSubtask)
		if err != nil {
			return 0, err
		}
		for _, n := range neighbors {
			ok, err := m.store.DeleteEntity(ctx, LabelTask, n.Other.ID)
			if err != nil {
				return deleted, err
			}
			if ok {
				deleted++
			}
		}
	}
	ok, err := m.store.DeleteEntity(ctx, LabelTask, id)
	if err != nil {
		return deleted, err
	}
	if !ok {
		return deleted, errs.Newf(errs.KindNotFound, "tasks: delete", "task %s", id)
	}
	return deleted + 1, nil
}

// List combines equality filters in the backend and post-filters for
// tags (any-match) and parent membership.
func (m *Manager) List(ctx context.Context, f ListFilter) ([]*Task, error) {
	const op = "tasks: list"
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, errs.Newf(errs.KindInvalidInput, op, "unknown status %q", f.Status)
	}
	if f.Priority != "" && !validPriorities[f.Priority] {
		return nil, errs.Newf(errs.KindInvalidInput, op, "unknown priority %q", f.Priority)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	match := graph.Props{}
	if f.Status != "" {
		match["status"] = f.Status
	}
	if f.Priority != "" {
		match["priority"] = f.Priority
	}
	if f.Assignee != "" {
		match["assignee"] = f.Assignee
	}

	// Over-fetch before post-filtering so the limit applies to the
	// final result.
	fetch := limit
	if len(f.Tags) > 0 || f.ParentID != "" {
		fetch = limit * 4
	}
	ents, err := m.store.FindEntities(ctx, LabelTask, match, fetch)
	if err != nil {
		return nil, err
	}

	var out []*Task
	for _, e := range ents {
		t := taskFromProps(e.Props)
		if f.ParentID != "" && t.ParentID != f.ParentID {
			continue
		}
		if len(f.Tags) > 0 && !anyTagMatch(t.Tags, f.Tags) {
			continue
		}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AddSubtask creates a child task under parent.
func (m *Manager) AddSubtask(ctx context.Context, parentID string, req CreateRequest) (*Task, error) {
	req.ParentID = parentID
	return m.Create(ctx, req)
}

// SetDependency records a typed dependency edge task → depends_on.
func (m *Manager) SetDependency(ctx context.Context, taskID, dependsOnID, depType string) (*Dependency, error) {
	const op = "tasks: set dependency"
	if depType == "" {
		depType = DepMustCompleteBefore
	}
	if !validDepTypes[depType] {
		return nil, errs.Newf(errs.KindInvalidInput, op, "unknown dependency type %q", depType)
	}
	if taskID == dependsOnID {
		return nil, errs.New(errs.KindInvalidInput, op, "a task cannot depend on itself")
	}
	// The dependency type is the edge type itself, so two dependencies
	// of different types between the same pair coexist and graph-level
	// queries see MUST_COMPLETE_BEFORE / SHOULD_COMPLETE_BEFORE / BLOCKS
	// edges directly.
	_, err := m.store.CreateRelationship(ctx,
		graph.Ref{Label: LabelTask, ID: taskID}, depType,
		graph.Ref{Label: LabelTask, ID: dependsOnID}, nil)
	if err != nil {
		return nil, err
	}
	return &Dependency{TaskID: taskID, DependsOnID: dependsOnID, Type: depType}, nil
}

// GetDependencies lists dependency edges for a task. Direction "out"
// is what the task depends on, "in" is what depends on it, anything
// else means both.
func (m *Manager) GetDependencies(ctx context.Context, taskID, direction string) ([]Dependency, error) {
	dir := graph.DirBoth
	switch direction {
	case "out":
		dir = graph.DirOut
	case "in":
		dir = graph.DirIn
	}
	var out []Dependency
	for _, depType := range []string{DepMustCompleteBefore, DepShouldCompleteBefore, DepBlocks} {
		neighbors, err := m.store.Relationships(ctx, LabelTask, taskID, dir, depType)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			out = append(out, Dependency{
				TaskID:      n.Relationship.From.ID,
				DependsOnID: n.Relationship.To.ID,
				Type:        n.Relationship.Type,
			})
		}
	}
	return out, nil
}

// ─── Persistence mapping ─────────────────────────────────────────────────────

func taskProps(t *Task) graph.Props {
	p := graph.Props{
		"id":         t.ID,
		"title":      t.Title,
		"status":     t.Status,
		"priority":   t.Priority,
		"progress":   t.Progress,
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt,
	}
	if t.Description != "" {
		p["description"] = t.Description
	}
	if t.Assignee != "" {
		p["assignee"] = t.Assignee
	}
	if len(t.Tags) > 0 {
		p["tags"] = t.Tags
	}
	if t.DueDate != "" {
		p["due_date"] = t.DueDate
	}
	if t.ParentID != "" {
		p["parent_task_id"] = t.ParentID
	}
	return p
}

func taskFromProps(p graph.Props) *Task {
	t := &Task{
		ID:          asString(p["id"]),
		Title:       asString(p["title"]),
		Description: asString(p["description"]),
		Status:      asString(p["status"]),
		Priority:    asString(p["priority"]),
		Assignee:    asString(p["assignee"]),
		DueDate:     asString(p["due_date"]),
		Result:      asString(p["result"]),
		ParentID:    asString(p["parent_task_id"]),
		CreatedAt:   asString(p["created_at"]),
		UpdatedAt:   asString(p["updated_at"]),
		CompletedAt: asString(p["completed_at"]),
	}
	t.Progress = int(asFloat(p["progress"]))
	t.Tags = asStringSlice(p["tags"])
	return t
}

func anyTagMatch(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func asStringSlice(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
