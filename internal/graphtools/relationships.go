package graphtools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexhub/cortexhub/internal/errs"
	"github.com/cortexhub/cortexhub/internal/graph"
	"github.com/cortexhub/cortexhub/internal/subserver"
)

// CreateRelationshipTool handles the create_relationship MCP tool.
type CreateRelationshipTool struct {
	store graph.Store
}

func NewCreateRelationshipTool(store graph.Store) *CreateRelationshipTool {
	return &CreateRelationshipTool{store: store}
}

func (t *CreateRelationshipTool) Definition() mcp.Tool {
	return mcp.NewTool("create_relationship",
		mcp.WithDescription("Create a directed, typed relationship between two existing entities."),
		mcp.WithString("fromLabel", mcp.Required(), mcp.Description("Source entity label")),
		mcp.WithString("fromId", mcp.Required(), mcp.Description("Source entity id")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Relationship type, conventionally UPPER_SNAKE")),
		mcp.WithString("toLabel", mcp.Required(), mcp.Description("Target entity label")),
		mcp.WithString("toId", mcp.Required(), mcp.Description("Target entity id")),
		mcp.WithObject("properties", mcp.Description("Relationship properties")),
	)
}

func (t *CreateRelationshipTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	rel, err := t.store.CreateRelationship(ctx,
		graph.Ref{Label: a.String("fromLabel", ""), ID: a.String("fromId", "")},
		a.String("type", ""),
		graph.Ref{Label: a.String("toLabel", ""), ID: a.String("toId", "")},
		graph.Props(a.Map("properties")))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "relationship": rel}, nil
}

// GetRelationshipsTool handles the get_relationships MCP tool.
type GetRelationshipsTool struct {
	store graph.Store
}

func NewGetRelationshipsTool(store graph.Store) *GetRelationshipsTool {
	return &GetRelationshipsTool{store: store}
}

func (t *GetRelationshipsTool) Definition() mcp.Tool {
	return mcp.NewTool("get_relationships",
		mcp.WithDescription("List relationships touching an entity, with the entity on the far side of each."),
		mcp.WithString("label", mcp.Required(), mcp.Description("Entity label")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id")),
		mcp.WithString("direction", mcp.Description("in, out or both (default both)"), mcp.Enum("in", "out", "both")),
		mcp.WithString("type", mcp.Description("Restrict to one relationship type")),
	)
}

func (t *GetRelationshipsTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	dir := graph.Direction(a.String("direction", string(graph.DirBoth)))
	switch dir {
	case graph.DirIn, graph.DirOut, graph.DirBoth:
	default:
		return nil, errs.Newf(errs.KindInvalidInput, "graphtools: get relationships", "invalid direction %q", dir)
	}

	neighbors, err := t.store.Relationships(ctx, a.String("label", ""), a.String("id", ""), dir, a.String("type", ""))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "count": len(neighbors), "relationships": neighbors}, nil
}
