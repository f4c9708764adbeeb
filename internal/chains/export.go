package chains

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cortexhub/cortexhub/internal/notebook"
)

// ExportName returns the notebook filename for a chain concluded at t.
func ExportName(chainID string, t time.Time) string {
	id8 := chainID
	if len(id8) > 8 {
		id8 = id8[:8]
	}
	return fmt.Sprintf("reasoning-%s-%s.md", t.UTC().Format("2006-01-02"), id8)
}

// concludedAt recovers the conclusion time from the terminal update
// stamp, so the export name stays stable across re-exports.
func concludedAt(c *Chain) time.Time {
	if t, err := time.Parse("2006-01-02T15:04:05.000Z", c.UpdatedAt); err == nil {
		return t
	}
	return time.Now()
}

// ensureExported re-runs the vault mirror for a terminal chain whose
// export is missing — a conclusion whose export failed (or whose file
// was removed) heals on the next read. hasSteps tells whether c already
// carries its steps; without them the chain is rehydrated first so the
// export is complete.
func (m *Manager) ensureExported(ctx context.Context, c *Chain, hasSteps bool) {
	if m.vault == nil || !c.Terminal() {
		return
	}
	if m.vault.Exists(ExportName(c.ID, concludedAt(c))) {
		return
	}
	full := c
	if !hasSteps {
		var err error
		full, err = m.hydrate(ctx, c.ID, true)
		if err != nil {
			m.logger.Warn("chain re-export skipped", "chain", c.ID, "error", err)
			return
		}
	}
	m.export(full)
}

// export mirrors a concluded chain into the vault. Failure is logged,
// never returned: the terminal response does not depend on the mirror.
func (m *Manager) export(c *Chain) {
	if m.vault == nil {
		return
	}
	name := ExportName(c.ID, concludedAt(c))
	fm := notebook.NewFrontmatter().
		Set("title", "Reasoning Chain "+shortID(c.ID)).
		Set("chain_id", c.ID).
		Set("status", c.Status).
		Set("created", c.CreatedAt)
	if c.Goal != "" {
		fm.Set("goal", c.Goal)
	}
	if len(c.Tags) > 0 {
		fm.Set("tags", c.Tags)
	}

	if err := m.vault.Write(name, exportBody(c), fm); err != nil {
		m.logger.Warn("chain export failed", "chain", c.ID, "file", name, "error", err)
		return
	}
	m.logger.Info("chain exported", "chain", c.ID, "file", name)
}

func exportBody(c *Chain) string {
	var b strings.Builder

	b.WriteString("## Prompt\n\n")
	b.WriteString(c.Prompt)
	b.WriteString("\n")
	if c.Context != "" {
		b.WriteString("\n**Context:** ")
		b.WriteString(c.Context)
		b.WriteString("\n")
	}

	b.WriteString("\n## Reasoning Steps\n")
	for _, s := range c.Steps {
		stepType := s.Type
		if stepType == "" {
			stepType = "thought"
		}
		fmt.Fprintf(&b, "\n### Step %d: %s\n\n", s.Number, stepType)
		b.WriteString(s.Thought)
		b.WriteString("\n")
		if s.Confidence > 0 {
			fmt.Fprintf(&b, "\n*Confidence: %g*\n", s.Confidence)
		}
		if len(s.Data) > 0 {
			if raw, err := json.MarshalIndent(s.Data, "", "  "); err == nil {
				fmt.Fprintf(&b, "\n```json\n%s\n```\n", raw)
			}
		}
	}

	b.WriteString("\n## Conclusion\n\n")
	b.WriteString(c.Conclusion)
	b.WriteString("\n")
	if c.Confidence > 0 {
		fmt.Fprintf(&b, "\n*Confidence: %g*\n", c.Confidence)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
