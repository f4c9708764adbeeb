// Package subserver holds the hub's tool plumbing: per-sub-server
// registries of tools and resources, the transport-agnostic
// dispatcher, the process-wide discovery registry, and the sink hooks
// observing every dispatch.
package subserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexhub/cortexhub/internal/errs"
)

// ToolHandler executes one tool invocation with already-validated
// arguments. The returned value is stringified into the envelope.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// ResourceHandler materializes one resource read.
type ResourceHandler func(ctx context.Context) (mcp.TextResourceContents, error)

type registeredTool struct {
	def    mcp.Tool
	handle ToolHandler
}

type registeredResource struct {
	def  mcp.Resource
	read ResourceHandler
}

// SubServer is one named tool surface with a private registry. Tools
// and resources are registered during wiring, before any dispatch, so
// lookups after startup are lock-free.
type SubServer struct {
	name        string
	description string

	tools  []*registeredTool
	byName map[string]*registeredTool

	resources []*registeredResource
	byURI     map[string]*registeredResource

	health func(ctx context.Context) error
}

// New creates an empty sub-server.
func New(name, description string) *SubServer {
	return &SubServer{
		name:        name,
		description: description,
		byName:      map[string]*registeredTool{},
		byURI:       map[string]*registeredResource{},
	}
}

func (s *SubServer) Name() string        { return s.name }
func (s *SubServer) Description() string { return s.description }

// WithHealth attaches a backend probe used by discovery.
func (s *SubServer) WithHealth(fn func(ctx context.Context) error) *SubServer {
	s.health = fn
	return s
}

// AddTool registers a tool. A duplicate name replaces the handler but
// keeps the original list position.
func (s *SubServer) AddTool(def mcp.Tool, handle ToolHandler) {
	if existing, ok := s.byName[def.Name]; ok {
		existing.def = def
		existing.handle = handle
		return
	}
	t := &registeredTool{def: def, handle: handle}
	s.tools = append(s.tools, t)
	s.byName[def.Name] = t
}

// AddResource registers a readable resource keyed by URI.
func (s *SubServer) AddResource(def mcp.Resource, read ResourceHandler) {
	if existing, ok := s.byURI[def.URI]; ok {
		existing.def = def
		existing.read = read
		return
	}
	r := &registeredResource{def: def, read: read}
	s.resources = append(s.resources, r)
	s.byURI[def.URI] = r
}

// Tools returns the definitions in registration order.
func (s *SubServer) Tools() []mcp.Tool {
	out := make([]mcp.Tool, len(s.tools))
	for i, t := range s.tools {
		out[i] = t.def
	}
	return out
}

// Resources returns the resource definitions in registration order.
func (s *SubServer) Resources() []mcp.Resource {
	out := make([]mcp.Resource, len(s.resources))
	for i, r := range s.resources {
		out[i] = r.def
	}
	return out
}

// HasTool reports whether the sub-server offers the named tool.
func (s *SubServer) HasTool(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Call runs the envelope protocol: lookup, required-field validation,
// handler invocation, uniform wrapping. It never returns a Go error —
// every failure becomes an isError envelope.
func (s *SubServer) Call(ctx context.Context, tool string, args map[string]any) *mcp.CallToolResult {
	t, ok := s.byName[tool]
	if !ok {
		return mcp.NewToolResultError("tool not found")
	}

	if err := validateRequired(t.def, args); err != nil {
		return errorEnvelope(tool, err)
	}

	out, err := t.handle(ctx, args)
	if err != nil {
		return errorEnvelope(tool, err)
	}
	return mcp.NewToolResultText(stringify(out))
}

// ReadResource materializes one resource by URI.
func (s *SubServer) ReadResource(ctx context.Context, uri string) (mcp.TextResourceContents, error) {
	const op = "subserver: read resource"
	r, ok := s.byURI[uri]
	if !ok {
		return mcp.TextResourceContents{}, errs.Newf(errs.KindNotFound, op, "resource %q", uri)
	}
	return r.read(ctx)
}

// Probe runs the attached health check; servers without one are
// considered healthy.
func (s *SubServer) Probe(ctx context.Context) error {
	if s.health == nil {
		return nil
	}
	return s.health(ctx)
}

// validateRequired checks the schema's required-field list before the
// handler runs.
func validateRequired(def mcp.Tool, args map[string]any) error {
	const op = "subserver: validate arguments"
	for _, field := range def.InputSchema.Required {
		v, ok := args[field]
		if !ok || v == nil {
			return errs.Newf(errs.KindInvalidInput, op, "missing required argument %q", field)
		}
		if str, isStr := v.(string); isStr && str == "" {
			return errs.Newf(errs.KindInvalidInput, op, "required argument %q is empty", field)
		}
	}
	return nil
}

// errorEnvelope wraps a failure as text-encoded JSON carrying the
// error, its kind, and the tool name.
func errorEnvelope(tool string, err error) *mcp.CallToolResult {
	payload, marshalErr := json.Marshal(map[string]string{
		"error": err.Error(),
		"kind":  errs.KindOf(err).String(),
		"tool":  tool,
	})
	if marshalErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(payload))
}

// stringify renders a handler result for the text envelope. Strings
// pass through; everything else becomes indented JSON.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "ok"
	case string:
		return val
	default:
		raw, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	}
}
