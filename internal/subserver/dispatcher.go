package subserver

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexhub/cortexhub/internal/errs"
	"github.com/cortexhub/cortexhub/internal/governance"
)

// DispatchEvent is what sinks observe for every tool call.
type DispatchEvent struct {
	Server   string
	Tool     string
	Outcome  string // success, error, blocked
	Err      error
	Duration time.Duration
}

// Sink receives dispatch events out-of-band. Implementations must be
// cheap and non-blocking.
type Sink interface {
	Observe(DispatchEvent)
}

// Dispatcher multiplexes the four logical operations over the
// discovery registry, wrapping every tool call in the governance
// pipeline and notifying sinks. It is re-entrant; calls may execute
// concurrently.
type Dispatcher struct {
	registry *Registry
	omega    *governance.Omega
	sinks    []Sink
	logger   *slog.Logger
}

// NewDispatcher wires the dispatcher. omega may be nil for ungoverned
// test setups.
func NewDispatcher(registry *Registry, omega *governance.Omega, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, omega: omega, sinks: sinks, logger: logger}
}

// ToolsList returns tool definitions. An empty server name lists every
// sub-server's tools in registration order.
func (d *Dispatcher) ToolsList(server string) ([]mcp.Tool, error) {
	if server == "" {
		var out []mcp.Tool
		for _, name := range d.registry.Servers() {
			sub, _ := d.registry.Get(name)
			out = append(out, sub.Tools()...)
		}
		return out, nil
	}
	sub, ok := d.registry.Get(server)
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "dispatcher: tools list", "sub-server %q", server)
	}
	return sub.Tools(), nil
}

// ToolsCall resolves the target sub-server (routing by tool name when
// server is empty), runs the governed call, and returns the envelope.
// Failures of any kind — unknown tool, governance block, handler
// panic — become isError envelopes; the dispatcher never lets a
// dispatch take the process down.
func (d *Dispatcher) ToolsCall(ctx context.Context, server, tool string, args map[string]any) *mcp.CallToolResult {
	start := time.Now()

	var sub *SubServer
	if server == "" {
		routed, ok := d.registry.RouteTool(tool)
		if !ok {
			d.emit(DispatchEvent{Server: server, Tool: tool, Outcome: "error", Duration: time.Since(start)})
			return mcp.NewToolResultError("tool not found")
		}
		sub = routed
		server = sub.Name()
	} else {
		found, ok := d.registry.Get(server)
		if !ok {
			d.emit(DispatchEvent{Server: server, Tool: tool, Outcome: "error", Duration: time.Since(start)})
			return errorEnvelope(tool, errs.Newf(errs.KindNotFound, "dispatcher: tools call", "sub-server %q", server))
		}
		sub = found
	}

	result, outcome := d.governedCall(ctx, sub, server, tool, args)
	d.emit(DispatchEvent{Server: server, Tool: tool, Outcome: outcome, Duration: time.Since(start)})
	return result
}

func (d *Dispatcher) governedCall(ctx context.Context, sub *SubServer, server, tool string, args map[string]any) (result *mcp.CallToolResult, outcome string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool handler panicked", "server", server, "tool", tool,
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			result = errorEnvelope(tool, errs.Newf(errs.KindInternal, "dispatcher: tools call", "panic: %v", r))
			outcome = "error"
		}
	}()

	if d.omega == nil {
		res := sub.Call(ctx, tool, args)
		if res.IsError {
			return res, "error"
		}
		return res, "success"
	}

	out, err := d.omega.Govern(ctx, "tool_call", server, tool, dataFromArgs(args),
		func(ctx context.Context) (any, error) {
			res := sub.Call(ctx, tool, args)
			if res.IsError {
				return res, errs.New(errs.KindInternal, "dispatcher: tools call", envelopeText(res))
			}
			return res, nil
		})

	if res, ok := out.(*mcp.CallToolResult); ok && res != nil {
		if res.IsError {
			return res, "error"
		}
		return res, "success"
	}
	// No envelope came back: governance blocked before the handler ran.
	return errorEnvelope(tool, err), "blocked"
}

// dataFromArgs records which arguments were supplied without copying
// their values into the governance log.
func dataFromArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	return map[string]any{"context": map[string]any{"arguments": keys}}
}

func envelopeText(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return "tool error"
}

// ResourcesList flattens every sub-server's resources in registration
// order.
func (d *Dispatcher) ResourcesList() []mcp.Resource {
	var out []mcp.Resource
	for _, name := range d.registry.Servers() {
		sub, _ := d.registry.Get(name)
		out = append(out, sub.Resources()...)
	}
	return out
}

// ResourcesRead finds the owning sub-server by URI and reads.
func (d *Dispatcher) ResourcesRead(ctx context.Context, uri string) (mcp.TextResourceContents, error) {
	for _, name := range d.registry.Servers() {
		sub, _ := d.registry.Get(name)
		for _, def := range sub.Resources() {
			if def.URI == uri {
				return sub.ReadResource(ctx, uri)
			}
		}
	}
	return mcp.TextResourceContents{}, errs.Newf(errs.KindNotFound, "dispatcher: resources read", "resource %q", uri)
}

func (d *Dispatcher) emit(ev DispatchEvent) {
	for _, s := range d.sinks {
		s.Observe(ev)
	}
}
