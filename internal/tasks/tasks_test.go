package tasks

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cortexhub/cortexhub/internal/errs"
	"github.com/cortexhub/cortexhub/internal/graph"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := graph.OpenSQLite(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	return NewManager(store, nil)
}

func TestCreateDefaults(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.Create(ctx, CreateRequest{Title: "write docs"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.Status != StatusPending || task.Priority != PriorityMedium || task.Progress != 0 {
		t.Errorf("defaults: %+v", task)
	}
	if task.ID == "" || task.CreatedAt == "" {
		t.Errorf("identity: %+v", task)
	}

	if _, err := m.Create(ctx, CreateRequest{}); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Errorf("missing title: got %v", err)
	}
	if _, err := m.Create(ctx, CreateRequest{Title: "x", Priority: "urgent"}); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Errorf("bad priority: got %v", err)
	}
	if _, err := m.Create(ctx, CreateRequest{Title: "x", ParentID: "ghost"}); !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("missing parent: got %v", err)
	}
}

func TestCompletedForcesProgress(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, _ := m.Create(ctx, CreateRequest{Title: "deploy"})

	// Even with an explicit lower progress, completed pins it to 100.
	updated, err := m.Update(ctx, task.ID, map[string]any{"status": StatusCompleted, "progress": 10})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Progress != 100 {
		t.Errorf("progress = %d, want 100", updated.Progress)
	}
	if updated.CompletedAt == "" {
		t.Error("completed_at must be set on completion")
	}
}

func TestUpdateValidation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	task, _ := m.Create(ctx, CreateRequest{Title: "x"})

	bad := []map[string]any{
		{"status": "done"},
		{"priority": "urgent"},
		{"progress": 150},
		{"unknown_field": 1},
		{},
	}
	for _, fields := range bad {
		if _, err := m.Update(ctx, task.ID, fields); !errs.IsKind(err, errs.KindInvalidInput) {
			t.Errorf("Update(%v): got %v", fields, err)
		}
	}

	updated, err := m.Update(ctx, task.ID, map[string]any{
		"status": StatusInProgress, "progress": 40, "assignee": "ada",
	})
	if err != nil {
		t.Fatalf("valid update: %v", err)
	}
	if updated.Status != StatusInProgress || updated.Progress != 40 || updated.Assignee != "ada" {
		t.Errorf("updated = %+v", updated)
	}
}

func TestCompleteShortcut(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, _ := m.Create(ctx, CreateRequest{Title: "ship"})
	done, err := m.Complete(ctx, task.ID, "shipped v1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != StatusCompleted || done.Result != "shipped v1" || done.Progress != 100 {
		t.Errorf("done = %+v", done)
	}

	// Completing again is a no-op.
	again, err := m.Complete(ctx, task.ID, "other result")
	if err != nil {
		t.Fatalf("re-complete: %v", err)
	}
	if again.Result != "shipped v1" {
		t.Errorf("re-complete must not overwrite: %+v", again)
	}

	// Cancelled cannot be completed.
	cancelled, _ := m.Create(ctx, CreateRequest{Title: "dropped"})
	m.Update(ctx, cancelled.ID, map[string]any{"status": StatusCancelled})
	if _, err := m.Complete(ctx, cancelled.ID, ""); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Errorf("complete cancelled: got %v", err)
	}

	// But update may still set any state explicitly.
	revived, err := m.Update(ctx, cancelled.ID, map[string]any{"status": StatusPending})
	if err != nil {
		t.Fatalf("explicit revive: %v", err)
	}
	if revived.Status != StatusPending {
		t.Errorf("status = %s", revived.Status)
	}
}

func TestSubtasks(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	parent, _ := m.Create(ctx, CreateRequest{Title: "epic"})
	sub1, err := m.AddSubtask(ctx, parent.ID, CreateRequest{Title: "part one"})
	if err != nil {
		t.Fatalf("AddSubtask: %v", err)
	}
	m.AddSubtask(ctx, parent.ID, CreateRequest{Title: "part two", Priority: PriorityHigh})

	got, err := m.Get(ctx, parent.ID, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Subtasks) != 2 {
		t.Fatalf("subtasks = %+v", got.Subtasks)
	}

	// Subtask knows its parent.
	child, _ := m.Get(ctx, sub1.ID, false)
	if child.ParentID != parent.ID {
		t.Errorf("parent_task_id = %q", child.ParentID)
	}

	// Shallow summaries only; a Get without the flag omits them.
	slim, _ := m.Get(ctx, parent.ID, false)
	if len(slim.Subtasks) != 0 {
		t.Error("include_subtasks=false must omit subtasks")
	}
}

func TestDeleteWithSubtasks(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	parent, _ := m.Create(ctx, CreateRequest{Title: "epic"})
	m.AddSubtask(ctx, parent.ID, CreateRequest{Title: "a"})
	m.AddSubtask(ctx, parent.ID, CreateRequest{Title: "b"})

	n, err := m.Delete(ctx, parent.ID, true)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}

	if _, err := m.Get(ctx, parent.ID, false); !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("parent survived: %v", err)
	}
	if _, err := m.Delete(ctx, parent.ID, false); !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("second delete: got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a, _ := m.Create(ctx, CreateRequest{Title: "one", Priority: PriorityHigh, Tags: []string{"infra"}})
	m.Create(ctx, CreateRequest{Title: "two", Priority: PriorityLow, Tags: []string{"docs"}})
	m.Create(ctx, CreateRequest{Title: "three", Priority: PriorityHigh})
	m.Update(ctx, a.ID, map[string]any{"status": StatusInProgress})

	high, err := m.List(ctx, ListFilter{Priority: PriorityHigh})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(high) != 2 {
		t.Errorf("high = %d", len(high))
	}

	active, err := m.List(ctx, ListFilter{Status: StatusInProgress})
	if err != nil {
		t.Fatalf("List status: %v", err)
	}
	if len(active) != 1 || active[0].Title != "one" {
		t.Errorf("active = %+v", active)
	}

	tagged, err := m.List(ctx, ListFilter{Tags: []string{"infra", "nonexistent"}})
	if err != nil {
		t.Fatalf("List tags: %v", err)
	}
	if len(tagged) != 1 || tagged[0].Title != "one" {
		t.Errorf("tagged = %+v", tagged)
	}

	if _, err := m.List(ctx, ListFilter{Status: "bogus"}); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Errorf("bad status filter: got %v", err)
	}
}

func TestListByParent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	parent, _ := m.Create(ctx, CreateRequest{Title: "epic"})
	m.AddSubtask(ctx, parent.ID, CreateRequest{Title: "a"})
	m.AddSubtask(ctx, parent.ID, CreateRequest{Title: "b"})
	m.Create(ctx, CreateRequest{Title: "unrelated"})

	children, err := m.List(ctx, ListFilter{ParentID: parent.ID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(children) != 2 {
		t.Errorf("children = %+v", children)
	}
}

func TestDependencies(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	build, _ := m.Create(ctx, CreateRequest{Title: "build"})
	test, _ := m.Create(ctx, CreateRequest{Title: "test"})
	deploy, _ := m.Create(ctx, CreateRequest{Title: "deploy"})

	if _, err := m.SetDependency(ctx, test.ID, build.ID, DepMustCompleteBefore); err != nil {
		t.Fatalf("SetDependency: %v", err)
	}
	if _, err := m.SetDependency(ctx, deploy.ID, test.ID, DepBlocks); err != nil {
		t.Fatalf("SetDependency: %v", err)
	}

	// Default type applies when empty.
	dep, err := m.SetDependency(ctx, deploy.ID, build.ID, "")
	if err != nil {
		t.Fatalf("SetDependency default: %v", err)
	}
	if dep.Type != DepMustCompleteBefore {
		t.Errorf("default type = %s", dep.Type)
	}

	out, err := m.GetDependencies(ctx, deploy.ID, "out")
	if err != nil {
		t.Fatalf("GetDependencies: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("deploy deps = %+v", out)
	}

	in, err := m.GetDependencies(ctx, build.ID, "in")
	if err != nil {
		t.Fatalf("GetDependencies in: %v", err)
	}
	if len(in) != 2 {
		t.Errorf("dependents of build = %+v", in)
	}
	for _, d := range in {
		if d.DependsOnID != build.ID {
			t.Errorf("incoming edge shape: %+v", d)
		}
	}

	if _, err := m.SetDependency(ctx, build.ID, build.ID, DepBlocks); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Errorf("self dependency: got %v", err)
	}
	if _, err := m.SetDependency(ctx, build.ID, test.ID, "SOMETIME"); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Errorf("bad type: got %v", err)
	}
}

func TestDependencyTypesAreDistinctEdges(t *testing.T) {
	store, err := graph.OpenSQLite(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	m := NewManager(store, nil)
	ctx := context.Background()

	a, _ := m.Create(ctx, CreateRequest{Title: "a"})
	b, _ := m.Create(ctx, CreateRequest{Title: "b"})

	// Two dependencies of different types between the same pair must
	// both survive.
	if _, err := m.SetDependency(ctx, a.ID, b.ID, DepMustCompleteBefore); err != nil {
		t.Fatalf("SetDependency: %v", err)
	}
	if _, err := m.SetDependency(ctx, a.ID, b.ID, DepBlocks); err != nil {
		t.Fatalf("SetDependency: %v", err)
	}

	deps, err := m.GetDependencies(ctx, a.ID, "out")
	if err != nil {
		t.Fatalf("GetDependencies: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("deps = %+v, want both types", deps)
	}
	types := map[string]bool{}
	for _, d := range deps {
		types[d.Type] = true
	}
	if !types[DepMustCompleteBefore] || !types[DepBlocks] {
		t.Errorf("types = %v", types)
	}

	// Graph-level consumers see the typed edges directly.
	for _, depType := range []string{DepMustCompleteBefore, DepBlocks} {
		neighbors, err := store.Relationships(ctx, LabelTask, a.ID, graph.DirOut, depType)
		if err != nil {
			t.Fatalf("Relationships(%s): %v", depType, err)
		}
		if len(neighbors) != 1 || neighbors[0].Relationship.Type != depType {
			t.Errorf("edge %s = %+v", depType, neighbors)
		}
	}
}
