// Package tasktools exposes hierarchical tasks as the "task-manager"
// MCP sub-server.
package tasktools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexhub/cortexhub/internal/subserver"
	"github.com/cortexhub/cortexhub/internal/tasks"
)

// ServerName is the sub-server this package registers under.
const ServerName = "task-manager"

type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, args map[string]any) (any, error)
}

// NewSubServer wires every task tool onto a fresh sub-server backed
// by manager.
func NewSubServer(manager *tasks.Manager) *subserver.SubServer {
	sub := subserver.New(ServerName, "Hierarchical tasks with typed dependencies persisted in the graph")

	for _, t := range []tool{
		NewCreateTaskTool(manager),
		NewGetTaskTool(manager),
		NewUpdateTaskTool(manager),
		NewCompleteTaskTool(manager),
		NewDeleteTaskTool(manager),
		NewListTasksTool(manager),
		NewAddSubtaskTool(manager),
		NewSetDependencyTool(manager),
		NewGetDependenciesTool(manager),
	} {
		sub.AddTool(t.Definition(), t.Handle)
	}
	return sub
}

func createRequest(a subserver.Args) tasks.CreateRequest {
	return tasks.CreateRequest{
		Title:       a.String("title", ""),
		Description: a.String("description", ""),
		Priority:    a.String("priority", ""),
		Assignee:    a.String("assignee", ""),
		Tags:        a.StringSlice("tags"),
		DueDate:     a.String("dueDate", ""),
		ParentID:    a.String("parentTaskId", ""),
	}
}

// CreateTaskTool handles the create_task MCP tool.
type CreateTaskTool struct {
	manager *tasks.Manager
}

func NewCreateTaskTool(manager *tasks.Manager) *CreateTaskTool {
	return &CreateTaskTool{manager: manager}
}

func (t *CreateTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("create_task",
		mcp.WithDescription("Create a task. With parentTaskId it becomes a subtask."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
		mcp.WithString("description", mcp.Description("Longer description")),
		mcp.WithString("priority", mcp.Description("critical, high, medium or low (default medium)"),
			mcp.Enum(tasks.PriorityCritical, tasks.PriorityHigh, tasks.PriorityMedium, tasks.PriorityLow)),
		mcp.WithString("assignee", mcp.Description("Who owns the task")),
		mcp.WithArray("tags", mcp.Description("Free-form tags")),
		mcp.WithString("dueDate", mcp.Description("Due date")),
		mcp.WithString("parentTaskId", mcp.Description("Parent task id")),
	)
}

func (t *CreateTaskTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	task, err := t.manager.Create(ctx, createRequest(subserver.Args(args)))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "task": task}, nil
}

// GetTaskTool handles the get_task MCP tool.
type GetTaskTool struct {
	manager *tasks.Manager
}

func NewGetTaskTool(manager *tasks.Manager) *GetTaskTool {
	return &GetTaskTool{manager: manager}
}

func (t *GetTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("get_task",
		mcp.WithDescription("Fetch one task, optionally with shallow subtask summaries."),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("Task id")),
		mcp.WithBoolean("includeSubtasks", mcp.Description("Include subtask summaries (default true)")),
	)
}

func (t *GetTaskTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	task, err := t.manager.Get(ctx, a.String("taskId", ""), a.Bool("includeSubtasks", true))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "task": task}, nil
}

// UpdateTaskTool handles the update_task MCP tool.
type UpdateTaskTool struct {
	manager *tasks.Manager
}

func NewUpdateTaskTool(manager *tasks.Manager) *UpdateTaskTool {
	return &UpdateTaskTool{manager: manager}
}

func (t *UpdateTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("update_task",
		mcp.WithDescription("Merge fields into a task. Setting status to completed pins progress to 100."),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("Task id")),
		mcp.WithObject("fields", mcp.Required(), mcp.Description("Fields to merge: title, description, assignee, due_date, result, status, priority, progress, tags")),
	)
}

func (t *UpdateTaskTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	task, err := t.manager.Update(ctx, a.String("taskId", ""), a.Map("fields"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "task": task}, nil
}

// CompleteTaskTool handles the complete_task MCP tool.
type CompleteTaskTool struct {
	manager *tasks.Manager
}

func NewCompleteTaskTool(manager *tasks.Manager) *CompleteTaskTool {
	return &CompleteTaskTool{manager: manager}
}

func (t *CompleteTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("complete_task",
		mcp.WithDescription("Mark a task completed, optionally recording its result."),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("result", mcp.Description("Outcome summary")),
	)
}

func (t *CompleteTaskTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	task, err := t.manager.Complete(ctx, a.String("taskId", ""), a.String("result", ""))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "task": task}, nil
}

// DeleteTaskTool handles the delete_task MCP tool.
type DeleteTaskTool struct {
	manager *tasks.Manager
}

func NewDeleteTaskTool(manager *tasks.Manager) *DeleteTaskTool {
	return &DeleteTaskTool{manager: manager}
}

func (t *DeleteTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task, optionally cascading to its subtasks."),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("Task id")),
		mcp.WithBoolean("deleteSubtasks", mcp.Description("Also delete every subtask (default false)")),
	)
}

func (t *DeleteTaskTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	n, err := t.manager.Delete(ctx, a.String("taskId", ""), a.Bool("deleteSubtasks", false))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "deleted": n}, nil
}

// ListTasksTool handles the list_tasks MCP tool.
type ListTasksTool struct {
	manager *tasks.Manager
}

func NewListTasksTool(manager *tasks.Manager) *ListTasksTool {
	return &ListTasksTool{manager: manager}
}

func (t *ListTasksTool) Definition() mcp.Tool {
	return mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks matching the given filters."),
		mcp.WithString("status", mcp.Description("Filter by status"),
			mcp.Enum(tasks.StatusPending, tasks.StatusInProgress, tasks.StatusBlocked,
				tasks.StatusDeferred, tasks.StatusCompleted, tasks.StatusCancelled)),
		mcp.WithString("priority", mcp.Description("Filter by priority"),
			mcp.Enum(tasks.PriorityCritical, tasks.PriorityHigh, tasks.PriorityMedium, tasks.PriorityLow)),
		mcp.WithString("assignee", mcp.Description("Filter by assignee")),
		mcp.WithArray("tags", mcp.Description("Any-match tag filter")),
		mcp.WithString("parentTaskId", mcp.Description("Only subtasks of this parent")),
		mcp.WithNumber("limit", mcp.Description("Maximum results, default 20")),
	)
}

func (t *ListTasksTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	list, err := t.manager.List(ctx, tasks.ListFilter{
		Status:   a.String("status", ""),
		Priority: a.String("priority", ""),
		Assignee: a.String("assignee", ""),
		Tags:     a.StringSlice("tags"),
		ParentID: a.String("parentTaskId", ""),
		Limit:    a.Int("limit", 20),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "count": len(list), "tasks": list}, nil
}

// AddSubtaskTool handles the add_subtask MCP tool.
type AddSubtaskTool struct {
	manager *tasks.Manager
}

func NewAddSubtaskTool(manager *tasks.Manager) *AddSubtaskTool {
	return &AddSubtaskTool{manager: manager}
}

func (t *AddSubtaskTool) Definition() mcp.Tool {
	return mcp.NewTool("add_subtask",
		mcp.WithDescription("Create a task under an existing parent."),
		mcp.WithString("parentTaskId", mcp.Required(), mcp.Description("Parent task id")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Subtask title")),
		mcp.WithString("description", mcp.Description("Longer description")),
		mcp.WithString("priority", mcp.Description("critical, high, medium or low (default medium)"),
			mcp.Enum(tasks.PriorityCritical, tasks.PriorityHigh, tasks.PriorityMedium, tasks.PriorityLow)),
		mcp.WithString("assignee", mcp.Description("Who owns the subtask")),
		mcp.WithArray("tags", mcp.Description("Free-form tags")),
	)
}

func (t *AddSubtaskTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	req := createRequest(a)
	req.ParentID = ""
	task, err := t.manager.AddSubtask(ctx, a.String("parentTaskId", ""), req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "task": task}, nil
}

// SetDependencyTool handles the set_dependency MCP tool.
type SetDependencyTool struct {
	manager *tasks.Manager
}

func NewSetDependencyTool(manager *tasks.Manager) *SetDependencyTool {
	return &SetDependencyTool{manager: manager}
}

func (t *SetDependencyTool) Definition() mcp.Tool {
	return mcp.NewTool("set_dependency",
		mcp.WithDescription("Declare that one task depends on another."),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("The dependent task")),
		mcp.WithString("dependsOnId", mcp.Required(), mcp.Description("The task it depends on")),
		mcp.WithString("type", mcp.Description("Dependency type (default MUST_COMPLETE_BEFORE)"),
			mcp.Enum(tasks.DepMustCompleteBefore, tasks.DepShouldCompleteBefore, tasks.DepBlocks)),
	)
}

func (t *SetDependencyTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	dep, err := t.manager.SetDependency(ctx, a.String("taskId", ""), a.String("dependsOnId", ""), a.String("type", ""))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "dependency": dep}, nil
}

// GetDependenciesTool handles the get_dependencies MCP tool.
type GetDependenciesTool struct {
	manager *tasks.Manager
}

func NewGetDependenciesTool(manager *tasks.Manager) *GetDependenciesTool {
	return &GetDependenciesTool{manager: manager}
}

func (t *GetDependenciesTool) Definition() mcp.Tool {
	return mcp.NewTool("get_dependencies",
		mcp.WithDescription("List a task's dependencies and/or dependents."),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("direction", mcp.Description("out (dependencies), in (dependents) or both (default both)"),
			mcp.Enum("out", "in", "both")),
	)
}

func (t *GetDependenciesTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	deps, err := t.manager.GetDependencies(ctx, a.String("taskId", ""), a.String("direction", "both"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "count": len(deps), "dependencies": deps}, nil
}
