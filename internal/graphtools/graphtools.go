// Package graphtools exposes the graph store as the "graph-memory"
// MCP sub-server.
package graphtools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexhub/cortexhub/internal/errs"
	"github.com/cortexhub/cortexhub/internal/graph"
	"github.com/cortexhub/cortexhub/internal/subserver"
)

// ServerName is the sub-server this package registers under.
const ServerName = "graph-memory"

type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, args map[string]any) (any, error)
}

// NewSubServer wires every graph tool onto a fresh sub-server backed
// by store.
func NewSubServer(store graph.Store) *subserver.SubServer {
	sub := subserver.New(ServerName, "Entity and relationship memory backed by the property graph").
		WithHealth(func(ctx context.Context) error {
			h := store.Health(ctx)
			if !h.Healthy {
				return errs.Newf(errs.KindBackendUnavailable, "graphtools: health", "%s", h.Reason)
			}
			return nil
		})

	for _, t := range []tool{
		NewCreateEntityTool(store),
		NewGetEntityTool(store),
		NewFindEntitiesTool(store),
		NewUpdateEntityTool(store),
		NewDeleteEntityTool(store),
		NewCountEntitiesTool(store),
		NewCreateRelationshipTool(store),
		NewGetRelationshipsTool(store),
		NewQueryGraphTool(store),
		NewFindShortestPathTool(store),
	} {
		sub.AddTool(t.Definition(), t.Handle)
	}
	return sub
}
