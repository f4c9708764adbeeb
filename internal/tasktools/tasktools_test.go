package tasktools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexhub/cortexhub/internal/graph"
	"github.com/cortexhub/cortexhub/internal/subserver"
	"github.com/cortexhub/cortexhub/internal/tasks"
)

func newTestServer(t *testing.T) *subserver.SubServer {
	t.Helper()
	store, err := graph.OpenSQLite(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	return NewSubServer(tasks.NewManager(store, nil))
}

func callJSON(t *testing.T, sub *subserver.SubServer, tool string, args map[string]any) map[string]any {
	t.Helper()
	res := sub.Call(context.Background(), tool, args)
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T", res.Content[0])
	}
	if res.IsError {
		t.Fatalf("%s returned error envelope: %s", tool, tc.Text)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(tc.Text), &out); err != nil {
		t.Fatalf("%s result is not JSON: %v\n%s", tool, err, tc.Text)
	}
	return out
}

func taskField(t *testing.T, out map[string]any, field string) any {
	t.Helper()
	task, ok := out["task"].(map[string]any)
	if !ok {
		t.Fatalf("no task in %v", out)
	}
	return task[field]
}

func TestCreateCompleteDeleteCascade(t *testing.T) {
	sub := newTestServer(t)

	parent := callJSON(t, sub, "create_task", map[string]any{"title": "P"})
	parentID := taskField(t, parent, "task_id").(string)

	child := callJSON(t, sub, "add_subtask", map[string]any{"parentTaskId": parentID, "title": "S"})
	childID := taskField(t, child, "task_id").(string)

	done := callJSON(t, sub, "complete_task", map[string]any{"taskId": childID})
	if taskField(t, done, "status") != tasks.StatusCompleted || taskField(t, done, "progress").(float64) != 100 {
		t.Errorf("completed subtask: %v", done)
	}

	del := callJSON(t, sub, "delete_task", map[string]any{"taskId": parentID, "deleteSubtasks": true})
	if del["deleted"].(float64) != 2 {
		t.Errorf("deleted: %v", del)
	}

	res := sub.Call(context.Background(), "get_task", map[string]any{"taskId": childID})
	if !res.IsError {
		t.Fatal("cascaded subtask must be gone")
	}
	if text := res.Content[0].(mcp.TextContent).Text; !strings.Contains(text, "not_found") {
		t.Errorf("envelope = %s", text)
	}
}

func TestUpdateThroughTool(t *testing.T) {
	sub := newTestServer(t)
	created := callJSON(t, sub, "create_task", map[string]any{"title": "x"})
	id := taskField(t, created, "task_id").(string)

	updated := callJSON(t, sub, "update_task", map[string]any{
		"taskId": id,
		"fields": map[string]any{"status": tasks.StatusInProgress, "progress": 40},
	})
	if taskField(t, updated, "progress").(float64) != 40 {
		t.Errorf("update: %v", updated)
	}

	res := sub.Call(context.Background(), "update_task", map[string]any{
		"taskId": id, "fields": map[string]any{"bogus": 1},
	})
	if !res.IsError {
		t.Error("unknown field must fail")
	}
}

func TestListAndSubtaskSummaries(t *testing.T) {
	sub := newTestServer(t)
	parent := callJSON(t, sub, "create_task", map[string]any{"title": "epic", "tags": []any{"infra"}})
	parentID := taskField(t, parent, "task_id").(string)
	callJSON(t, sub, "add_subtask", map[string]any{"parentTaskId": parentID, "title": "a"})
	callJSON(t, sub, "add_subtask", map[string]any{"parentTaskId": parentID, "title": "b"})
	callJSON(t, sub, "create_task", map[string]any{"title": "unrelated"})

	got := callJSON(t, sub, "get_task", map[string]any{"taskId": parentID})
	if subs := taskField(t, got, "subtasks").([]any); len(subs) != 2 {
		t.Errorf("subtasks: %v", subs)
	}

	children := callJSON(t, sub, "list_tasks", map[string]any{"parentTaskId": parentID})
	if children["count"].(float64) != 2 {
		t.Errorf("children: %v", children)
	}

	tagged := callJSON(t, sub, "list_tasks", map[string]any{"tags": []any{"infra"}})
	if tagged["count"].(float64) != 1 {
		t.Errorf("tagged: %v", tagged)
	}
}

func TestDependenciesThroughTools(t *testing.T) {
	sub := newTestServer(t)
	build := taskField(t, callJSON(t, sub, "create_task", map[string]any{"title": "build"}), "task_id").(string)
	test := taskField(t, callJSON(t, sub, "create_task", map[string]any{"title": "test"}), "task_id").(string)

	dep := callJSON(t, sub, "set_dependency", map[string]any{"taskId": test, "dependsOnId": build})
	if dep["dependency"].(map[string]any)["type"] != tasks.DepMustCompleteBefore {
		t.Errorf("default type: %v", dep)
	}

	out := callJSON(t, sub, "get_dependencies", map[string]any{"taskId": test, "direction": "out"})
	if out["count"].(float64) != 1 {
		t.Errorf("deps: %v", out)
	}
}
