package nbtools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexhub/cortexhub/internal/notebook"
	"github.com/cortexhub/cortexhub/internal/subserver"
)

func newTestServer(t *testing.T) (*subserver.SubServer, *notebook.Vault) {
	t.Helper()
	vault := notebook.NewVault(t.TempDir(), "Logs", "test")
	return NewSubServer(vault), vault
}

func callJSON(t *testing.T, sub *subserver.SubServer, tool string, args map[string]any) map[string]any {
	t.Helper()
	res := sub.Call(context.Background(), tool, args)
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T", res.Content[0])
	}
	if res.IsError {
		t.Fatalf("%s returned error envelope: %s", tool, tc.Text)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(tc.Text), &out); err != nil {
		t.Fatalf("%s result is not JSON: %v\n%s", tool, err, tc.Text)
	}
	return out
}

func TestWriteAndReadNote(t *testing.T) {
	sub, _ := newTestServer(t)

	callJSON(t, sub, "write_note", map[string]any{
		"name": "ideas", "content": "remember the milk",
		"frontmatter": map[string]any{"title": "Ideas", "tags": []any{"todo"}},
	})

	got := callJSON(t, sub, "read_note", map[string]any{"name": "ideas"})
	if got["content"] != "remember the milk" {
		t.Errorf("content = %v", got["content"])
	}
	fm := got["frontmatter"].(map[string]any)
	if fm["title"] != "Ideas" {
		t.Errorf("frontmatter = %v", fm)
	}
}

func TestReadMissingNote(t *testing.T) {
	sub, _ := newTestServer(t)
	res := sub.Call(context.Background(), "read_note", map[string]any{"name": "ghost"})
	if !res.IsError {
		t.Fatal("missing note must fail")
	}
	if text := res.Content[0].(mcp.TextContent).Text; !strings.Contains(text, "not_found") {
		t.Errorf("envelope = %s", text)
	}
}

func TestAppendNote(t *testing.T) {
	sub, vault := newTestServer(t)

	callJSON(t, sub, "append_note", map[string]any{"name": "journal", "content": "day one"})
	callJSON(t, sub, "append_note", map[string]any{"name": "journal", "content": "day two"})

	_, body, err := vault.Read("journal")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if body != "day one\n\nday two" {
		t.Errorf("body = %q", body)
	}
}

func TestListAndSearchNotes(t *testing.T) {
	sub, _ := newTestServer(t)
	callJSON(t, sub, "write_note", map[string]any{"name": "meeting-notes", "content": "the plan is simple"})
	callJSON(t, sub, "write_note", map[string]any{"name": "recipes", "content": "two eggs"})

	list := callJSON(t, sub, "list_notes", map[string]any{})
	if list["count"].(float64) != 2 {
		t.Errorf("list: %v", list)
	}

	byName := callJSON(t, sub, "search_notes", map[string]any{"query": "meeting"})
	if byName["count"].(float64) != 1 {
		t.Errorf("name search: %v", byName)
	}

	byBody := callJSON(t, sub, "search_notes", map[string]any{"query": "eggs", "searchBody": true})
	if byBody["count"].(float64) != 1 {
		t.Errorf("body search: %v", byBody)
	}
}

func TestTodayLogResource(t *testing.T) {
	sub, vault := newTestServer(t)

	rec := notebook.LogRecord{
		Timestamp: "2026-08-25T12:00:00.000Z",
		Type:      "tool_call",
		Source:    "notebook",
		Action:    "write_note",
	}
	if err := vault.LogEntry(rec); err != nil {
		t.Fatalf("LogEntry: %v", err)
	}

	contents, err := sub.ReadResource(context.Background(), TodayLogResourceURI)
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if !strings.Contains(contents.Text, "WRITE_NOTE") {
		t.Errorf("resource:\n%s", contents.Text)
	}
}
