// Package prompts implements MCP prompt handlers for the hub.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the hub-status MCP prompt.
// It instructs the AI to survey the hub's sub-servers and backends.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("hub-status",
		mcp.WithPromptDescription(
			"Check the current state of the memory hub. "+
				"Surveys the registered sub-servers, graph and model backends, "+
				"open reasoning chains, and pending tasks.",
		),
	)
}

// Handle processes the hub-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Memory Hub Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please survey the memory hub for me:\n\n" +
						"1. Run `list_models` and tell me which models are available\n" +
						"2. Run `list_chains` with status='in_progress' and summarize any open reasoning\n" +
						"3. Run `list_tasks` with status='pending' and status='in_progress' and list what's outstanding\n" +
						"4. Read the `cortex://log/today` resource and summarize today's activity\n\n" +
						"Present the result as a short status report.",
				),
			},
		},
	}, nil
}

// RememberPrompt handles the hub-remember MCP prompt.
// It guides the AI through persisting a fact as graph memory.
type RememberPrompt struct{}

// NewRememberPrompt creates a RememberPrompt.
func NewRememberPrompt() *RememberPrompt {
	return &RememberPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *RememberPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("hub-remember",
		mcp.WithPromptDescription(
			"Store a fact in graph memory. "+
				"Creates the entities involved and the relationships between them.",
		),
		mcp.WithArgument("fact",
			mcp.ArgumentDescription("The fact to remember, in plain language"),
		),
	)
}

// Handle processes the hub-remember prompt request.
func (p *RememberPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	fact := "the fact I describe next"
	if args := req.Params.Arguments; args != nil {
		if f, ok := args["fact"]; ok && f != "" {
			fact = f
		}
	}

	return &mcp.GetPromptResult{
		Description: "Remember a fact",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want you to remember this: %s\n\n"+
						"Please:\n"+
						"1. Identify the entities in the fact and pick a label and stable id for each\n"+
						"2. Run `create_entity` for any entity that `get_entity` does not already know\n"+
						"3. Run `create_relationship` for each relation the fact implies\n"+
						"4. Confirm what you stored, listing the (label, id) pairs and relationship types",
					fact,
				)),
			},
		},
	}, nil
}
