package graphtools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexhub/cortexhub/internal/graph"
	"github.com/cortexhub/cortexhub/internal/subserver"
)

// CreateEntityTool handles the create_entity MCP tool.
type CreateEntityTool struct {
	store graph.Store
}

func NewCreateEntityTool(store graph.Store) *CreateEntityTool {
	return &CreateEntityTool{store: store}
}

func (t *CreateEntityTool) Definition() mcp.Tool {
	return mcp.NewTool("create_entity",
		mcp.WithDescription("Create a graph entity under a label. The id must be unique within the label."),
		mcp.WithString("label", mcp.Required(), mcp.Description("Entity label, e.g. Person")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Identifier unique within the label")),
		mcp.WithObject("properties", mcp.Description("Entity properties")),
	)
}

func (t *CreateEntityTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	props := graph.Props(a.Map("properties")).Clone()
	if props == nil {
		props = graph.Props{}
	}
	props["id"] = a.String("id", "")

	ent, err := t.store.CreateEntity(ctx, a.String("label", ""), props)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "entity": ent}, nil
}

// GetEntityTool handles the get_entity MCP tool.
type GetEntityTool struct {
	store graph.Store
}

func NewGetEntityTool(store graph.Store) *GetEntityTool {
	return &GetEntityTool{store: store}
}

func (t *GetEntityTool) Definition() mcp.Tool {
	return mcp.NewTool("get_entity",
		mcp.WithDescription("Fetch one entity by label and id."),
		mcp.WithString("label", mcp.Required(), mcp.Description("Entity label")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id")),
	)
}

func (t *GetEntityTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	ent, err := t.store.GetEntity(ctx, a.String("label", ""), a.String("id", ""))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "entity": ent}, nil
}

// FindEntitiesTool handles the find_entities MCP tool.
type FindEntitiesTool struct {
	store graph.Store
}

func NewFindEntitiesTool(store graph.Store) *FindEntitiesTool {
	return &FindEntitiesTool{store: store}
}

func (t *FindEntitiesTool) Definition() mcp.Tool {
	return mcp.NewTool("find_entities",
		mcp.WithDescription("Find entities of a label whose properties equal the given match map. Also supports case-insensitive text search over named fields."),
		mcp.WithString("label", mcp.Required(), mcp.Description("Entity label")),
		mcp.WithObject("properties", mcp.Description("Equality match on these properties")),
		mcp.WithString("query", mcp.Description("Substring text search instead of equality match")),
		mcp.WithArray("fields", mcp.Description("Property fields scanned by the text search")),
		mcp.WithNumber("limit", mcp.Description("Maximum results, default 20")),
	)
}

func (t *FindEntitiesTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	label := a.String("label", "")
	limit := a.Int("limit", 20)

	var (
		ents []graph.Entity
		err  error
	)
	if q := a.String("query", ""); q != "" {
		fields := a.StringSlice("fields")
		if len(fields) == 0 {
			fields = []string{"name", "title", "description"}
		}
		ents, err = t.store.SearchByText(ctx, label, q, fields, limit)
	} else {
		ents, err = t.store.FindEntities(ctx, label, graph.Props(a.Map("properties")), limit)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "count": len(ents), "entities": ents}, nil
}

// UpdateEntityTool handles the update_entity MCP tool.
type UpdateEntityTool struct {
	store graph.Store
}

func NewUpdateEntityTool(store graph.Store) *UpdateEntityTool {
	return &UpdateEntityTool{store: store}
}

func (t *UpdateEntityTool) Definition() mcp.Tool {
	return mcp.NewTool("update_entity",
		mcp.WithDescription("Merge properties into an existing entity."),
		mcp.WithString("label", mcp.Required(), mcp.Description("Entity label")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id")),
		mcp.WithObject("properties", mcp.Required(), mcp.Description("Properties to merge")),
	)
}

func (t *UpdateEntityTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	ent, err := t.store.UpdateEntity(ctx, a.String("label", ""), a.String("id", ""), graph.Props(a.Map("properties")))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "entity": ent}, nil
}

// DeleteEntityTool handles the delete_entity MCP tool.
type DeleteEntityTool struct {
	store graph.Store
}

func NewDeleteEntityTool(store graph.Store) *DeleteEntityTool {
	return &DeleteEntityTool{store: store}
}

func (t *DeleteEntityTool) Definition() mcp.Tool {
	return mcp.NewTool("delete_entity",
		mcp.WithDescription("Delete an entity and every relationship touching it."),
		mcp.WithString("label", mcp.Required(), mcp.Description("Entity label")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id")),
	)
}

func (t *DeleteEntityTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	removed, err := t.store.DeleteEntity(ctx, a.String("label", ""), a.String("id", ""))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "deleted": removed}, nil
}

// CountEntitiesTool handles the count_entities MCP tool.
type CountEntitiesTool struct {
	store graph.Store
}

func NewCountEntitiesTool(store graph.Store) *CountEntitiesTool {
	return &CountEntitiesTool{store: store}
}

func (t *CountEntitiesTool) Definition() mcp.Tool {
	return mcp.NewTool("count_entities",
		mcp.WithDescription("Count entities under a label."),
		mcp.WithString("label", mcp.Required(), mcp.Description("Entity label")),
	)
}

func (t *CountEntitiesTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	label := a.String("label", "")
	n, err := t.store.CountEntities(ctx, label)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "label": label, "count": n}, nil
}
