package graphtools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexhub/cortexhub/internal/errs"
	"github.com/cortexhub/cortexhub/internal/graph"
	"github.com/cortexhub/cortexhub/internal/subserver"
)

// QueryGraphTool handles the query_graph MCP tool. One entry point,
// three traversal modes.
type QueryGraphTool struct {
	store graph.Store
}

func NewQueryGraphTool(store graph.Store) *QueryGraphTool {
	return &QueryGraphTool{store: store}
}

func (t *QueryGraphTool) Definition() mcp.Tool {
	return mcp.NewTool("query_graph",
		mcp.WithDescription("Traverse the graph from an entity: connected set, bounded paths to a target, or a relationship census."),
		mcp.WithString("mode", mcp.Required(), mcp.Description("connected, path or stats"), mcp.Enum("connected", "path", "stats")),
		mcp.WithString("label", mcp.Required(), mcp.Description("Start entity label")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Start entity id")),
		mcp.WithString("toLabel", mcp.Description("Target label (path mode)")),
		mcp.WithString("toId", mcp.Description("Target id (path mode)")),
		mcp.WithNumber("maxDepth", mcp.Description("Traversal bound, default 3")),
		mcp.WithNumber("limit", mcp.Description("Maximum paths in path mode, default 10")),
	)
}

func (t *QueryGraphTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	const op = "graphtools: query graph"
	a := subserver.Args(args)
	from := graph.Ref{Label: a.String("label", ""), ID: a.String("id", "")}
	depth := a.Int("maxDepth", 3)

	switch mode := a.String("mode", ""); mode {
	case "connected":
		ents, err := t.store.Connected(ctx, from.Label, from.ID, depth)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "mode": mode, "count": len(ents), "entities": ents}, nil

	case "path":
		to := graph.Ref{Label: a.String("toLabel", ""), ID: a.String("toId", "")}
		if to.Label == "" || to.ID == "" {
			return nil, errs.New(errs.KindInvalidInput, op, "path mode requires toLabel and toId")
		}
		paths, err := t.store.AllPaths(ctx, from, to, depth, a.Int("limit", 10))
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "mode": mode, "count": len(paths), "paths": paths}, nil

	case "stats":
		stats, err := t.store.RelStats(ctx, from.Label, from.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "mode": mode, "stats": stats}, nil

	default:
		return nil, errs.Newf(errs.KindInvalidInput, op, "invalid mode %q", mode)
	}
}

// FindShortestPathTool handles the find_shortest_path MCP tool.
type FindShortestPathTool struct {
	store graph.Store
}

func NewFindShortestPathTool(store graph.Store) *FindShortestPathTool {
	return &FindShortestPathTool{store: store}
}

func (t *FindShortestPathTool) Definition() mcp.Tool {
	return mcp.NewTool("find_shortest_path",
		mcp.WithDescription("Find the shortest path between two entities within a depth bound."),
		mcp.WithString("fromLabel", mcp.Required(), mcp.Description("Source entity label")),
		mcp.WithString("fromId", mcp.Required(), mcp.Description("Source entity id")),
		mcp.WithString("toLabel", mcp.Required(), mcp.Description("Target entity label")),
		mcp.WithString("toId", mcp.Required(), mcp.Description("Target entity id")),
		mcp.WithNumber("maxDepth", mcp.Description("Traversal bound, default 5")),
	)
}

func (t *FindShortestPathTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	path, err := t.store.ShortestPath(ctx,
		graph.Ref{Label: a.String("fromLabel", ""), ID: a.String("fromId", "")},
		graph.Ref{Label: a.String("toLabel", ""), ID: a.String("toId", "")},
		a.Int("maxDepth", 5))
	if err != nil {
		return nil, err
	}
	if path == nil {
		return map[string]any{"success": true, "found": false}, nil
	}
	return map[string]any{"success": true, "found": true, "path": path}, nil
}
