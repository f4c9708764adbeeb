package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func messageText(t *testing.T, res *mcp.GetPromptResult) string {
	t.Helper()
	if len(res.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(res.Messages))
	}
	tc, ok := res.Messages[0].Content.(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", res.Messages[0].Content)
	}
	return tc.Text
}

func TestStatusPrompt(t *testing.T) {
	p := NewStatusPrompt()

	def := p.Definition()
	if def.Name != "hub-status" {
		t.Errorf("name = %q, want hub-status", def.Name)
	}

	res, err := p.Handle(context.Background(), mcp.GetPromptRequest{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	text := messageText(t, res)
	for _, want := range []string{"list_models", "list_chains", "list_tasks", "cortex://log/today"} {
		if !strings.Contains(text, want) {
			t.Errorf("status prompt missing %q", want)
		}
	}
}

func TestRememberPrompt(t *testing.T) {
	p := NewRememberPrompt()

	def := p.Definition()
	if def.Name != "hub-remember" {
		t.Errorf("name = %q, want hub-remember", def.Name)
	}
	if len(def.Arguments) != 1 || def.Arguments[0].Name != "fact" {
		t.Errorf("arguments = %+v, want one 'fact' argument", def.Arguments)
	}

	req := mcp.GetPromptRequest{}
	req.Params.Arguments = map[string]string{"fact": "Alice leads the storage team"}
	res, err := p.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	text := messageText(t, res)
	if !strings.Contains(text, "Alice leads the storage team") {
		t.Errorf("prompt missing the fact: %s", text)
	}
	for _, want := range []string{"create_entity", "create_relationship"} {
		if !strings.Contains(text, want) {
			t.Errorf("remember prompt missing %q", want)
		}
	}
}
