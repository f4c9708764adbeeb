package chains

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cortexhub/cortexhub/internal/errs"
	"github.com/cortexhub/cortexhub/internal/graph"
	"github.com/cortexhub/cortexhub/internal/notebook"
)

func newTestManager(t *testing.T) (*Manager, *notebook.Vault, graph.Store) {
	t.Helper()
	store, err := graph.OpenSQLite(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	vault := notebook.NewVault(t.TempDir(), "Logs", "test")
	return NewManager(store, vault, nil), vault, store
}

func TestStartThinkingCreatesChain(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	c, err := m.StartThinking(ctx, "Capital of France?", "", "answer geography question", []string{"geo"}, "")
	if err != nil {
		t.Fatalf("StartThinking: %v", err)
	}
	if c.ID == "" || c.Status != StatusInProgress {
		t.Fatalf("chain = %+v", c)
	}

	// Persisted, not just cached.
	ent, err := store.GetEntity(ctx, LabelChain, c.ID)
	if err != nil {
		t.Fatalf("chain entity: %v", err)
	}
	if ent.Props["prompt"] != "Capital of France?" {
		t.Errorf("prompt = %v", ent.Props["prompt"])
	}

	if _, err := m.StartThinking(ctx, "", "", "", nil, ""); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Errorf("empty prompt: got %v", err)
	}
}

func TestAddStepNumbering(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	c, err := m.StartThinking(ctx, "Capital of France?", "", "", nil, "")
	if err != nil {
		t.Fatalf("StartThinking: %v", err)
	}

	c, err = m.AddStep(ctx, c.ID, "Recall facts", "analysis", 0, nil)
	if err != nil {
		t.Fatalf("AddStep 1: %v", err)
	}
	c, err = m.AddStep(ctx, c.ID, "Paris is the capital", "deduction", 0.9, nil)
	if err != nil {
		t.Fatalf("AddStep 2: %v", err)
	}

	if len(c.Steps) != 2 || c.Steps[0].Number != 1 || c.Steps[1].Number != 2 {
		t.Fatalf("steps = %+v", c.Steps)
	}

	// Each step is its own entity linked by an ordered HAS_STEP edge.
	neighbors, err := store.Relationships(ctx, LabelChain, c.ID, graph.DirOut, RelHasStep)
	if err != nil {
		t.Fatalf("Relationships: %v", err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("edges = %d", len(neighbors))
	}
	for _, n := range neighbors {
		if n.Relationship.Props["order"] == nil {
			t.Error("HAS_STEP edge must carry its order")
		}
	}

	if _, err := m.AddStep(ctx, "no-such-chain", "x", "", 0, nil); !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("unknown chain: got %v", err)
	}
}

func TestConcludeExportsAndTerminates(t *testing.T) {
	m, vault, _ := newTestManager(t)
	ctx := context.Background()

	c, _ := m.StartThinking(ctx, "Capital of France?", "", "", nil, "")
	m.AddStep(ctx, c.ID, "Recall facts", "", 0, nil)
	m.AddStep(ctx, c.ID, "Paris is the capital", "", 0, nil)

	done, err := m.Conclude(ctx, c.ID, "Paris", true, 0.95)
	if err != nil {
		t.Fatalf("Conclude: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("status = %s", done.Status)
	}

	name := ExportName(c.ID, time.Now())
	fm, body, err := vault.Read(name)
	if err != nil {
		t.Fatalf("export %s missing: %v", name, err)
	}
	if fm["status"] != StatusCompleted || fm["chain_id"] != c.ID {
		t.Errorf("export frontmatter = %v", fm)
	}
	if !strings.Contains(body, "## Conclusion") || !strings.Contains(body, "Paris") {
		t.Errorf("export body:\n%s", body)
	}
	if !strings.Contains(body, "### Step 1:") || !strings.Contains(body, "### Step 2:") {
		t.Errorf("export missing step sections:\n%s", body)
	}

	// Terminal chains accept no more steps.
	if _, err := m.AddStep(ctx, c.ID, "too late", "", 0, nil); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Errorf("step after conclude: got %v", err)
	}
}

func TestConcludeIdempotency(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	c, _ := m.StartThinking(ctx, "q", "", "", nil, "")
	if _, err := m.Conclude(ctx, c.ID, "answer", true, 0); err != nil {
		t.Fatalf("Conclude: %v", err)
	}

	// Same conclusion: idempotent success.
	again, err := m.Conclude(ctx, c.ID, "answer", true, 0)
	if err != nil {
		t.Fatalf("re-conclude same: %v", err)
	}
	if again.Status != StatusCompleted {
		t.Errorf("status = %s", again.Status)
	}

	// Different conclusion: rejected.
	if _, err := m.Conclude(ctx, c.ID, "other answer", true, 0); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Errorf("conflicting conclude: got %v", err)
	}
}

func TestConcludeFailureStatus(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	c, _ := m.StartThinking(ctx, "q", "", "", nil, "")
	done, err := m.Conclude(ctx, c.ID, "could not determine", false, 0)
	if err != nil {
		t.Fatalf("Conclude: %v", err)
	}
	if done.Status != StatusFailed {
		t.Errorf("status = %s, want failed", done.Status)
	}
}

func TestGetHydratesAfterEviction(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	c, _ := m.StartThinking(ctx, "q", "", "", []string{"a", "b"}, "")
	m.AddStep(ctx, c.ID, "first", "", 0, nil)
	m.AddStep(ctx, c.ID, "second", "", 0, map[string]any{"k": "v"})
	m.Conclude(ctx, c.ID, "done", true, 0)

	// The conclude evicted the live entry; this read comes from the
	// graph.
	got, err := m.Get(ctx, c.ID, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted || got.Conclusion != "done" {
		t.Errorf("chain = %+v", got)
	}
	if len(got.Steps) != 2 || got.Steps[0].Thought != "first" || got.Steps[1].Thought != "second" {
		t.Errorf("steps = %+v", got.Steps)
	}
	if len(got.Tags) != 2 {
		t.Errorf("tags = %v", got.Tags)
	}

	slim, err := m.Get(ctx, c.ID, false)
	if err != nil {
		t.Fatalf("Get without steps: %v", err)
	}
	if len(slim.Steps) != 0 {
		t.Error("include_steps=false must omit steps")
	}
}

func TestStepDataStoredAsScalarProperty(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	payload := map[string]any{"candidates": []any{"Paris", "Lyon"}, "score": 0.9}
	c, _ := m.StartThinking(ctx, "q", "", "", nil, "")
	if _, err := m.AddStep(ctx, c.ID, "weigh candidates", "analysis", 0, payload); err != nil {
		t.Fatalf("AddStep: %v", err)
	}

	// The node property must be a JSON string, never a nested map: map
	// values are not valid node properties on every backend.
	ent, err := store.GetEntity(ctx, LabelStep, stepID(c.ID, 1))
	if err != nil {
		t.Fatalf("step entity: %v", err)
	}
	raw, ok := ent.Props["data"].(string)
	if !ok {
		t.Fatalf("data prop = %T, want JSON string", ent.Props["data"])
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("data prop not valid JSON: %v", err)
	}
	if decoded["score"] != 0.9 {
		t.Errorf("decoded = %v", decoded)
	}

	// Hydration decodes it back into the step.
	m.Conclude(ctx, c.ID, "Paris", true, 0)
	got, err := m.Get(ctx, c.ID, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Steps) != 1 || got.Steps[0].Data["score"] != 0.9 {
		t.Errorf("hydrated steps = %+v", got.Steps)
	}

	// Branching copies the payload through the same round-trip.
	child, err := m.Branch(ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("Branch: %v", err)
	}
	if len(child.Steps) != 1 || child.Steps[0].Data["score"] != 0.9 {
		t.Errorf("branched steps = %+v", child.Steps)
	}
}

func TestMissingExportRestoredOnAccess(t *testing.T) {
	m, vault, _ := newTestManager(t)
	ctx := context.Background()

	c, _ := m.StartThinking(ctx, "q", "", "", nil, "")
	m.AddStep(ctx, c.ID, "only step", "", 0, nil)
	if _, err := m.Conclude(ctx, c.ID, "fin", true, 0); err != nil {
		t.Fatalf("Conclude: %v", err)
	}

	name := ExportName(c.ID, time.Now())
	if !vault.Exists(name) {
		t.Fatalf("export %s missing after conclude", name)
	}
	if err := os.Remove(filepath.Join(vault.Root(), name)); err != nil {
		t.Fatalf("remove export: %v", err)
	}

	// The next read heals the mirror.
	if _, err := m.Get(ctx, c.ID, false); err != nil {
		t.Fatalf("Get: %v", err)
	}
	_, body, err := vault.Read(name)
	if err != nil {
		t.Fatalf("export not restored: %v", err)
	}
	if !strings.Contains(body, "only step") || !strings.Contains(body, "fin") {
		t.Errorf("restored export body:\n%s", body)
	}
}

func TestListByStatus(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	a, _ := m.StartThinking(ctx, "one", "", "", nil, "")
	m.StartThinking(ctx, "two", "", "", nil, "")
	m.Conclude(ctx, a.ID, "fin", true, 0)

	open, err := m.List(ctx, StatusInProgress, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(open) != 1 || open[0].Prompt != "two" {
		t.Errorf("open = %+v", open)
	}

	all, err := m.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d", len(all))
	}

	if _, err := m.List(ctx, "bogus", 10); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Errorf("bad status: got %v", err)
	}
}

func TestBranchCopiesPrefix(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	parent, _ := m.StartThinking(ctx, "q", "", "goal", []string{"geo"}, "")
	m.AddStep(ctx, parent.ID, "one", "", 0, nil)
	m.AddStep(ctx, parent.ID, "two", "", 0, nil)
	m.AddStep(ctx, parent.ID, "three", "", 0, nil)

	child, err := m.Branch(ctx, parent.ID, 2)
	if err != nil {
		t.Fatalf("Branch: %v", err)
	}
	if child.Status != StatusInProgress {
		t.Errorf("child status = %s", child.Status)
	}
	if len(child.Steps) != 2 || child.Steps[1].Thought != "two" {
		t.Errorf("child steps = %+v", child.Steps)
	}
	hasBranchTag := false
	for _, tag := range child.Tags {
		if tag == "branch" {
			hasBranchTag = true
		}
	}
	if !hasBranchTag {
		t.Errorf("child tags = %v, want branch tag", child.Tags)
	}

	// Parent is unmodified and linked by BRANCHED_TO.
	got, _ := m.Get(ctx, parent.ID, true)
	if len(got.Steps) != 3 {
		t.Errorf("parent steps = %d", len(got.Steps))
	}
	rel, err := store.FindRelationship(ctx,
		graph.Ref{Label: LabelChain, ID: parent.ID}, RelBranchedTo,
		graph.Ref{Label: LabelChain, ID: child.ID})
	if err != nil || rel == nil {
		t.Errorf("BRANCHED_TO edge missing: %v", err)
	}
}

func TestBranchTerminalChain(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	parent, _ := m.StartThinking(ctx, "q", "", "", nil, "")
	m.AddStep(ctx, parent.ID, "one", "", 0, nil)
	m.Conclude(ctx, parent.ID, "fin", true, 0)

	child, err := m.Branch(ctx, parent.ID, 0)
	if err != nil {
		t.Fatalf("Branch terminal: %v", err)
	}
	if child.Status != StatusInProgress {
		t.Errorf("branch of terminal chain must start in_progress, got %s", child.Status)
	}
	if len(child.Steps) != 1 {
		t.Errorf("child steps = %d, want all parent steps", len(child.Steps))
	}

	if _, err := m.Branch(ctx, parent.ID, 5); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Errorf("out-of-range at_step: got %v", err)
	}
}
