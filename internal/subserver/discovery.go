package subserver

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Server status values maintained by health probes.
const (
	StatusActive      = "active"
	StatusUnreachable = "unreachable"
)

// ServerInfo is a point-in-time view of one registry entry.
type ServerInfo struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Tools        []string `json:"tools"`
	Capabilities []string `json:"capabilities"`
	Status       string   `json:"status"`
	RegisteredAt string   `json:"registered_at"`
}

// ToolOwner pairs a tool with its owning sub-server.
type ToolOwner struct {
	Server      string `json:"server"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
}

type registryEntry struct {
	sub          *SubServer
	capabilities []string
	status       string
	registeredAt time.Time
}

// Registry is the process-wide sub-server directory. Mutations are
// rare (wiring and probes); a single mutex keeps lookups simple.
type Registry struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*registryEntry
	logger  *slog.Logger
}

// NewRegistry creates an empty discovery registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{entries: map[string]*registryEntry{}, logger: logger}
}

// Register adds a sub-server. A name collision warns and returns the
// existing registration unchanged.
func (r *Registry) Register(sub *SubServer, capabilities ...string) *SubServer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[sub.Name()]; ok {
		r.logger.Warn("sub-server already registered", "name", sub.Name())
		return existing.sub
	}
	r.entries[sub.Name()] = &registryEntry{
		sub:          sub,
		capabilities: capabilities,
		status:       StatusActive,
		registeredAt: time.Now().UTC(),
	}
	r.order = append(r.order, sub.Name())
	r.logger.Info("sub-server registered", "name", sub.Name(), "tools", len(sub.Tools()))
	return sub
}

// Unregister removes a sub-server by name.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a sub-server by name.
func (r *Registry) Get(name string) (*SubServer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.sub, true
}

// Servers returns the registered names in registration order.
func (r *Registry) Servers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// DiscoverTools flattens every tool with its owning sub-server,
// ordered by registration then tool order.
func (r *Registry) DiscoverTools() []ToolOwner {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ToolOwner
	for _, name := range r.order {
		for _, def := range r.entries[name].sub.Tools() {
			out = append(out, ToolOwner{Server: name, Tool: def.Name, Description: def.Description})
		}
	}
	return out
}

// RouteTool finds the first sub-server offering the tool,
// deterministic by registration order.
func (r *Registry) RouteTool(tool string) (*SubServer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.order {
		if r.entries[name].sub.HasTool(tool) {
			return r.entries[name].sub, true
		}
	}
	return nil, false
}

// Probe runs every sub-server's health check and updates statuses.
func (r *Registry) Probe(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.Unlock()

	for _, name := range names {
		sub, ok := r.Get(name)
		if !ok {
			continue
		}
		status := StatusActive
		if err := sub.Probe(ctx); err != nil {
			status = StatusUnreachable
			r.logger.Warn("sub-server probe failed", "name", name, "error", err)
		}
		r.mu.Lock()
		if e, ok := r.entries[name]; ok {
			e.status = status
		}
		r.mu.Unlock()
	}
}

// Snapshot returns the full registry view in registration order.
func (r *Registry) Snapshot() []ServerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServerInfo, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		var tools []string
		for _, def := range e.sub.Tools() {
			tools = append(tools, def.Name)
		}
		out = append(out, ServerInfo{
			Name:         name,
			Description:  e.sub.Description(),
			Tools:        tools,
			Capabilities: e.capabilities,
			Status:       e.status,
			RegisteredAt: e.registeredAt.Format("2006-01-02T15:04:05.000Z"),
		})
	}
	return out
}
