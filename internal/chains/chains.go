// Package chains implements the reasoning-chain sub-server domain: a
// per-chain state machine (in_progress → completed | failed) persisted
// in the graph, mirrored to the notebook on conclusion, with a
// write-through live cache for chains under active mutation.
package chains

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexhub/cortexhub/internal/errs"
	"github.com/cortexhub/cortexhub/internal/graph"
	"github.com/cortexhub/cortexhub/internal/notebook"
)

// Graph labels and relationship types for the chain domain.
const (
	LabelChain    = "ReasoningChain"
	LabelStep     = "ReasoningStep"
	RelHasStep    = "HAS_STEP"
	RelBranchedTo = "BRANCHED_TO"
)

// Chain statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Step is one ordered reasoning step. Numbers start at 1 and are
// strictly monotonic within a chain.
type Step struct {
	Number     int            `json:"step_number"`
	Thought    string         `json:"thought"`
	Type       string         `json:"step_type,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// Chain is a reasoning chain with its steps in order.
type Chain struct {
	ID         string   `json:"chain_id"`
	Prompt     string   `json:"prompt"`
	Context    string   `json:"context,omitempty"`
	Goal       string   `json:"goal,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Status     string   `json:"status"`
	Conclusion string   `json:"conclusion,omitempty"`
	Success    bool     `json:"success,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	BranchFrom string   `json:"branch_from,omitempty"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
	Steps      []Step   `json:"steps,omitempty"`
}

// Terminal reports whether the chain accepts no further steps.
func (c *Chain) Terminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusFailed
}

func (c *Chain) clone() *Chain {
	out := *c
	out.Tags = append([]string(nil), c.Tags...)
	out.Steps = append([]Step(nil), c.Steps...)
	return &out
}

// Manager owns the chain lifecycle. Mutations on one chain are
// serialized by a per-chain lock; chains under active mutation live in
// a write-through cache that is hydrated from the graph on a cold hit
// and evicted once the chain goes terminal.
type Manager struct {
	store  graph.Store
	vault  *notebook.Vault
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	live  map[string]*Chain
}

// NewManager wires the chain manager. vault may be nil to disable
// exports (tests that only exercise the graph side).
func NewManager(store graph.Store, vault *notebook.Vault, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		vault:  vault,
		logger: logger,
		locks:  map[string]*sync.Mutex{},
		live:   map[string]*Chain{},
	}
}

func (m *Manager) chainLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func stamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// StartThinking creates a new chain. With branchFrom set, a
// BRANCHED_TO edge links parent to child.
func (m *Manager) StartThinking(ctx context.Context, prompt, contextText, goal string, tags []string, branchFrom string) (*Chain, error) {
	const op = "chains: start thinking"
	if prompt == "" {
		return nil, errs.New(errs.KindInvalidInput, op, "prompt is required")
	}
	if branchFrom != "" {
		if _, err := m.store.GetEntity(ctx, LabelChain, branchFrom); err != nil {
			return nil, err
		}
	}

	now := stamp()
	c := &Chain{
		ID:         uuid.NewString(),
		Prompt:     prompt,
		Context:    contextText,
		Goal:       goal,
		Tags:       tags,
		Status:     StatusInProgress,
		BranchFrom: branchFrom,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := m.store.CreateEntity(ctx, LabelChain, chainProps(c)); err != nil {
		return nil, err
	}
	if branchFrom != "" {
		_, err := m.store.CreateRelationship(ctx,
			graph.Ref{Label: LabelChain, ID: branchFrom}, RelBranchedTo,
			graph.Ref{Label: LabelChain, ID: c.ID}, nil)
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.live[c.ID] = c
	m.mu.Unlock()
	return c.clone(), nil
}

// AddStep appends the next step. Terminal chains reject further steps.
func (m *Manager) AddStep(ctx context.Context, chainID, thought, stepType string, confidence float64, data map[string]any) (*Chain, error) {
	const op = "chains: add step"
	if thought == "" {
		return nil, errs.New(errs.KindInvalidInput, op, "thought is required")
	}

	l := m.chainLock(chainID)
	l.Lock()
	defer l.Unlock()

	c, err := m.loadLocked(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if c.Terminal() {
		return nil, errs.Newf(errs.KindInvalidInput, op, "chain %s is %s and accepts no more steps", chainID, c.Status)
	}

	step := Step{
		Number:     len(c.Steps) + 1,
		Thought:    thought,
		Type:       stepType,
		Confidence: confidence,
		Data:       data,
		CreatedAt:  stamp(),
	}

	if _, err := m.store.CreateEntity(ctx, LabelStep, stepProps(chainID, step)); err != nil {
		return nil, err
	}
	_, err = m.store.CreateRelationship(ctx,
		graph.Ref{Label: LabelChain, ID: chainID}, RelHasStep,
		graph.Ref{Label: LabelStep, ID: stepID(chainID, step.Number)},
		graph.Props{"order": step.Number})
	if err != nil {
		return nil, err
	}

	c.Steps = append(c.Steps, step)
	c.UpdatedAt = stamp()
	if _, err := m.store.UpdateEntity(ctx, LabelChain, chainID, graph.Props{"updated_at": c.UpdatedAt}); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.live[chainID] = c
	m.mu.Unlock()
	return c.clone(), nil
}

// Conclude moves a chain to its terminal status and mirrors it to the
// notebook. Re-concluding with the same conclusion is idempotent;
// conflicting conclusions are rejected. The export is opportunistic —
// its failure never blocks the terminal response.
func (m *Manager) Conclude(ctx context.Context, chainID, conclusion string, success bool, confidence float64) (*Chain, error) {
	const op = "chains: conclude"
	if conclusion == "" {
		return nil, errs.New(errs.KindInvalidInput, op, "conclusion is required")
	}

	l := m.chainLock(chainID)
	l.Lock()
	defer l.Unlock()

	c, err := m.loadLocked(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if c.Terminal() {
		if c.Conclusion == conclusion {
			return c.clone(), nil
		}
		return nil, errs.Newf(errs.KindInvalidInput, op, "chain %s already concluded with a different conclusion", chainID)
	}

	c.Conclusion = conclusion
	c.Success = success
	c.Confidence = confidence
	c.Status = StatusCompleted
	if !success {
		c.Status = StatusFailed
	}
	c.UpdatedAt = stamp()

	_, err = m.store.UpdateEntity(ctx, LabelChain, chainID, graph.Props{
		"status":     c.Status,
		"conclusion": c.Conclusion,
		"success":    c.Success,
		"confidence": c.Confidence,
		"updated_at": c.UpdatedAt,
	})
	if err != nil {
		return nil, err
	}

	m.export(c)

	// Terminal chains leave the live cache; later reads hydrate from
	// the graph.
	m.mu.Lock()
	delete(m.live, chainID)
	m.mu.Unlock()
	return c.clone(), nil
}

// Get returns a chain, optionally with its steps.
func (m *Manager) Get(ctx context.Context, chainID string, includeSteps bool) (*Chain, error) {
	m.mu.Lock()
	if c, ok := m.live[chainID]; ok {
		out := c.clone()
		m.mu.Unlock()
		if !includeSteps {
			out.Steps = nil
		}
		return out, nil
	}
	m.mu.Unlock()

	c, err := m.hydrate(ctx, chainID, includeSteps)
	if err != nil {
		return nil, err
	}
	m.ensureExported(ctx, c, includeSteps)
	return c, nil
}

// List returns chains filtered by status, newest first.
func (m *Manager) List(ctx context.Context, status string, limit int) ([]*Chain, error) {
	const op = "chains: list"
	if status != "" && status != StatusInProgress && status != StatusCompleted && status != StatusFailed {
		return nil, errs.Newf(errs.KindInvalidInput, op, "unknown status %q", status)
	}
	match := graph.Props{}
	if status != "" {
		match["status"] = status
	}
	ents, err := m.store.FindEntities(ctx, LabelChain, match, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Chain, 0, len(ents))
	for _, e := range ents {
		out = append(out, chainFromProps(e.Props))
	}
	return out, nil
}

// Branch copies steps 1..atStep (or all with atStep <= 0) into a new
// chain tagged "branch". The original is untouched; branching a
// terminal chain is permitted.
func (m *Manager) Branch(ctx context.Context, chainID string, atStep int) (*Chain, error) {
	const op = "chains: branch"

	parent, err := m.Get(ctx, chainID, true)
	if err != nil {
		return nil, err
	}
	if atStep < 0 || atStep > len(parent.Steps) {
		return nil, errs.Newf(errs.KindInvalidInput, op, "at_step %d out of range (chain has %d steps)", atStep, len(parent.Steps))
	}
	cut := atStep
	if cut == 0 {
		cut = len(parent.Steps)
	}

	tags := append(append([]string(nil), parent.Tags...), "branch")
	child, err := m.StartThinking(ctx, parent.Prompt, parent.Context, parent.Goal, tags, chainID)
	if err != nil {
		return nil, err
	}

	for _, s := range parent.Steps[:cut] {
		child, err = m.AddStep(ctx, child.ID, s.Thought, s.Type, s.Confidence, s.Data)
		if err != nil {
			return nil, err
		}
	}
	return child, nil
}

// loadLocked returns the live chain or hydrates it under the caller's
// per-chain lock.
func (m *Manager) loadLocked(ctx context.Context, chainID string) (*Chain, error) {
	m.mu.Lock()
	if c, ok := m.live[chainID]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	c, err := m.hydrate(ctx, chainID, true)
	if err != nil {
		return nil, err
	}
	if !c.Terminal() {
		m.mu.Lock()
		m.live[chainID] = c
		m.mu.Unlock()
	}
	m.ensureExported(ctx, c, true)
	return c, nil
}

// hydrate rebuilds a chain from the graph.
func (m *Manager) hydrate(ctx context.Context, chainID string, includeSteps bool) (*Chain, error) {
	ent, err := m.store.GetEntity(ctx, LabelChain, chainID)
	if err != nil {
		return nil, err
	}
	c := chainFromProps(ent.Props)
	if !includeSteps {
		return c, nil
	}

	neighbors, err := m.store.Relationships(ctx, LabelChain, chainID, graph.DirOut, RelHasStep)
	if err != nil {
		return nil, err
	}
	for _, n := range neighbors {
		c.Steps = append(c.Steps, stepFromProps(n.Other.Props))
	}
	sort.Slice(c.Steps, func(i, j int) bool { return c.Steps[i].Number < c.Steps[j].Number })
	return c, nil
}

// ─── Persistence mapping ─────────────────────────────────────────────────────

func stepID(chainID string, number int) string {
	return fmt.Sprintf("%s:step:%d", chainID, number)
}

func chainProps(c *Chain) graph.Props {
	p := graph.Props{
		"id":         c.ID,
		"prompt":     c.Prompt,
		"status":     c.Status,
		"created_at": c.CreatedAt,
		"updated_at": c.UpdatedAt,
	}
	if c.Context != "" {
		p["context"] = c.Context
	}
	if c.Goal != "" {
		p["goal"] = c.Goal
	}
	if len(c.Tags) > 0 {
		p["tags"] = c.Tags
	}
	if c.BranchFrom != "" {
		p["branch_from"] = c.BranchFrom
	}
	return p
}

func chainFromProps(p graph.Props) *Chain {
	c := &Chain{
		ID:         asString(p["id"]),
		Prompt:     asString(p["prompt"]),
		Context:    asString(p["context"]),
		Goal:       asString(p["goal"]),
		Status:     asString(p["status"]),
		Conclusion: asString(p["conclusion"]),
		BranchFrom: asString(p["branch_from"]),
		CreatedAt:  asString(p["created_at"]),
		UpdatedAt:  asString(p["updated_at"]),
	}
	if b, ok := p["success"].(bool); ok {
		c.Success = b
	}
	c.Confidence = asFloat(p["confidence"])
	c.Tags = asStringSlice(p["tags"])
	return c
}

func stepProps(chainID string, s Step) graph.Props {
	p := graph.Props{
		"id":          stepID(chainID, s.Number),
		"chain_id":    chainID,
		"step_number": s.Number,
		"thought":     s.Thought,
		"created_at":  s.CreatedAt,
	}
	if s.Type != "" {
		p["step_type"] = s.Type
	}
	if s.Confidence > 0 {
		p["confidence"] = s.Confidence
	}
	// data goes in as a JSON string: node properties must stay scalar
	// for the bolt backend, which rejects map-valued properties.
	if len(s.Data) > 0 {
		if raw, err := json.Marshal(s.Data); err == nil {
			p["data"] = string(raw)
		}
	}
	return p
}

func stepFromProps(p graph.Props) Step {
	s := Step{
		Thought:    asString(p["thought"]),
		Type:       asString(p["step_type"]),
		CreatedAt:  asString(p["created_at"]),
		Confidence: asFloat(p["confidence"]),
	}
	s.Number = int(asFloat(p["step_number"]))
	switch d := p["data"].(type) {
	case string:
		if d != "" {
			var decoded map[string]any
			if json.Unmarshal([]byte(d), &decoded) == nil {
				s.Data = decoded
			}
		}
	case map[string]any:
		// Rows written before data was stored as a JSON string.
		s.Data = d
	}
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func asStringSlice(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
