// Package hub wires every subsystem and creates the MCP server.
//
// This is the composition root: it opens the graph backend, builds
// the vault, governance pipeline, model router and domain managers,
// registers the sub-servers, and bridges the dispatcher onto the MCP
// transport. No business logic lives here — only wiring.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cortexhub/cortexhub/internal/chains"
	"github.com/cortexhub/cortexhub/internal/chaintools"
	"github.com/cortexhub/cortexhub/internal/config"
	"github.com/cortexhub/cortexhub/internal/governance"
	"github.com/cortexhub/cortexhub/internal/graph"
	"github.com/cortexhub/cortexhub/internal/graphtools"
	"github.com/cortexhub/cortexhub/internal/metrics"
	"github.com/cortexhub/cortexhub/internal/model"
	"github.com/cortexhub/cortexhub/internal/modeltools"
	"github.com/cortexhub/cortexhub/internal/nbtools"
	"github.com/cortexhub/cortexhub/internal/notebook"
	"github.com/cortexhub/cortexhub/internal/prompts"
	"github.com/cortexhub/cortexhub/internal/subserver"
	"github.com/cortexhub/cortexhub/internal/tasks"
	"github.com/cortexhub/cortexhub/internal/tasktools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Hub holds every wired subsystem for the lifetime of the process.
type Hub struct {
	cfg    config.Config
	logger *slog.Logger

	store      graph.Store
	vault      *notebook.Vault
	omega      *governance.Omega
	router     *model.Router
	registry   *subserver.Registry
	dispatcher *subserver.Dispatcher
	metrics    *metrics.Sink

	// inflight tracks dispatches for the shutdown drain.
	inflight sync.WaitGroup
	mu       sync.Mutex
	draining bool
}

// New wires the hub from config. The graph backend is chosen by the
// config's backend rule: an embedded sqlite store when no bolt
// endpoint is configured, the bolt driver otherwise.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store graph.Store
		err   error
	)
	switch backend := cfg.Graph.EffectiveBackend(); backend {
	case config.GraphBackendEmbedded:
		store, err = graph.OpenSQLite(cfg.Graph.EmbeddedPath)
	case "bolt":
		store, err = graph.OpenBolt(ctx, graph.BoltOptions{
			URI:                cfg.Graph.URI,
			User:               cfg.Graph.User,
			Password:           cfg.Graph.Password,
			Database:           cfg.Graph.Database,
			PoolSize:           cfg.Graph.PoolSize,
			MaxRetryTime:       cfg.Graph.MaxRetryTime,
			AcquisitionTimeout: cfg.Graph.AcquisitionTimeout,
		})
	default:
		return nil, fmt.Errorf("hub: unknown graph backend %q", backend)
	}
	if err != nil {
		return nil, fmt.Errorf("hub: open graph backend: %w", err)
	}
	logger.Info("graph backend ready", "backend", cfg.Graph.EffectiveBackend())

	vault := notebook.NewVault(cfg.Notebook.VaultRoot, cfg.Notebook.LogsFolder, Version)
	omega := governance.New(cfg.Governance, vault, logger)
	router := model.NewRouter(model.NewClient(cfg.Model.BaseURL(), cfg.Model.Timeout), cfg.Model, logger)

	chainManager := chains.NewManager(store, vault, logger)
	taskManager := tasks.NewManager(store, logger)

	registry := subserver.NewRegistry(logger)
	registry.Register(graphtools.NewSubServer(store), "entities", "relationships", "traversal")
	registry.Register(nbtools.NewSubServer(vault), "notes", "daily-log")
	registry.Register(modeltools.NewSubServer(router), "routing", "inventory")
	registry.Register(chaintools.NewSubServer(chainManager), "reasoning", "branching")
	registry.Register(tasktools.NewSubServer(taskManager), "tasks", "dependencies")

	sink := metrics.NewSink()
	dispatcher := subserver.NewDispatcher(registry, omega, logger, sink)

	return &Hub{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		vault:      vault,
		omega:      omega,
		router:     router,
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    sink,
	}, nil
}

// Dispatcher exposes the governed dispatcher for transports.
func (h *Hub) Dispatcher() *subserver.Dispatcher { return h.dispatcher }

// Registry exposes the sub-server directory.
func (h *Hub) Registry() *subserver.Registry { return h.registry }

// Store exposes the graph backend for health probes.
func (h *Hub) Store() graph.Store { return h.store }

// Router exposes the model router for health probes.
func (h *Hub) Router() *model.Router { return h.router }

// Omega exposes the governance pipeline for transport hooks.
func (h *Hub) Omega() *governance.Omega { return h.omega }

// Metrics exposes the Prometheus sink.
func (h *Hub) Metrics() *metrics.Sink { return h.metrics }

// Dispatch runs one governed tool call, tracking it for the shutdown
// drain. After Shutdown begins, new dispatches are refused.
func (h *Hub) Dispatch(ctx context.Context, serverName, tool string, args map[string]any) *mcp.CallToolResult {
	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		return mcp.NewToolResultError("hub is shutting down")
	}
	h.inflight.Add(1)
	h.mu.Unlock()
	defer h.inflight.Done()

	return h.dispatcher.ToolsCall(ctx, serverName, tool, args)
}

// MCPServer builds the MCP transport surface: every registered tool,
// resource and prompt, with calls bridged through the governed
// dispatcher.
func (h *Hub) MCPServer() *server.MCPServer {
	s := server.NewMCPServer(
		"cortexhub",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	for _, owner := range h.registry.DiscoverTools() {
		sub, ok := h.registry.Get(owner.Server)
		if !ok {
			continue
		}
		var def mcp.Tool
		for _, d := range sub.Tools() {
			if d.Name == owner.Tool {
				def = d
				break
			}
		}
		serverName, toolName := owner.Server, owner.Tool
		s.AddTool(def, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return h.Dispatch(ctx, serverName, toolName, req.GetArguments()), nil
		})
	}

	for _, def := range h.dispatcher.ResourcesList() {
		uri := def.URI
		s.AddResource(def, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			contents, err := h.dispatcher.ResourcesRead(ctx, uri)
			if err != nil {
				return nil, err
			}
			return []mcp.ResourceContents{contents}, nil
		})
	}

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	rememberPrompt := prompts.NewRememberPrompt()
	s.AddPrompt(rememberPrompt.Definition(), rememberPrompt.Handle)

	return s
}

// ServeStdio runs the point-to-point transport until the client
// disconnects. Logs must already be on stderr: stdout belongs to the
// protocol.
func (h *Hub) ServeStdio() error {
	return server.ServeStdio(h.MCPServer())
}

// Shutdown stops accepting dispatches, waits up to the drain timeout
// for in-flight handlers, then runs teardown callbacks in parallel.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(drained)
	}()

	drain := h.cfg.HTTP.DrainTimeout
	if drain <= 0 {
		drain = 30 * time.Second
	}
	select {
	case <-drained:
	case <-time.After(drain):
		h.logger.Warn("drain timeout exceeded, forcing teardown")
	case <-ctx.Done():
		h.logger.Warn("shutdown context cancelled, forcing teardown")
	}

	var wg sync.WaitGroup
	errc := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.store.Close(closeCtx); err != nil {
			select {
			case errc <- err:
			default:
			}
		}
	}()
	wg.Wait()

	select {
	case err := <-errc:
		return err
	default:
		return nil
	}
}

func serverInstructions() string {
	return `You have access to Cortex Hub, a memory-and-reasoning MCP server.

It exposes five sub-servers:

- graph-memory: durable entity/relationship memory. Use create_entity,
  create_relationship and get_relationships to store facts; query_graph
  and find_shortest_path to explore how facts connect.
- notebook: markdown notes in the shared vault. Every governed action
  is also mirrored into the daily log (resource cortex://log/today).
- model-router: routes prompts to local models by task class. Use
  reasoning for hard problems, coding for code, chat for conversation.
- reasoning-chain: records your step-by-step thinking. Call
  start_thinking before working on a hard problem, add_step as you go,
  and conclude when done — concluded chains are exported to the vault.
- task-manager: hierarchical tasks with dependencies. Keep long-running
  work here so other sessions can pick it up.

Guidelines:

1. Search graph memory before answering questions about prior work.
2. Record non-obvious decisions as entities and relate them to the
   things they affect.
3. Use reasoning chains for multi-step problems — they persist across
   sessions and other agents can branch them.
4. Every call is logged by the governance pipeline. If a call fails
   with governance_blocked, the vault is not writable; tell the user
   instead of retrying.`
}
