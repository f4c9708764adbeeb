// Package chaintools exposes reasoning chains as the
// "reasoning-chain" MCP sub-server.
package chaintools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexhub/cortexhub/internal/chains"
	"github.com/cortexhub/cortexhub/internal/subserver"
)

// ServerName is the sub-server this package registers under.
const ServerName = "reasoning-chain"

// ChainsResourceURI lists recent chains as JSON.
const ChainsResourceURI = "cortex://chains"

type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, args map[string]any) (any, error)
}

// NewSubServer wires every chain tool onto a fresh sub-server backed
// by manager.
func NewSubServer(manager *chains.Manager) *subserver.SubServer {
	sub := subserver.New(ServerName, "Ordered reasoning chains with branching and notebook export")

	for _, t := range []tool{
		NewStartThinkingTool(manager),
		NewAddStepTool(manager),
		NewConcludeTool(manager),
		NewGetChainTool(manager),
		NewListChainsTool(manager),
		NewBranchChainTool(manager),
	} {
		sub.AddTool(t.Definition(), t.Handle)
	}

	sub.AddResource(
		mcp.NewResource(ChainsResourceURI, "reasoning-chains",
			mcp.WithResourceDescription("Recent reasoning chains, newest first"),
			mcp.WithMIMEType("application/json")),
		func(ctx context.Context) (mcp.TextResourceContents, error) {
			list, err := manager.List(ctx, "", 50)
			if err != nil {
				return mcp.TextResourceContents{}, err
			}
			raw, err := json.MarshalIndent(list, "", "  ")
			if err != nil {
				return mcp.TextResourceContents{}, err
			}
			return mcp.TextResourceContents{
				URI:      ChainsResourceURI,
				MIMEType: "application/json",
				Text:     string(raw),
			}, nil
		})
	return sub
}

// StartThinkingTool handles the start_thinking MCP tool.
type StartThinkingTool struct {
	manager *chains.Manager
}

func NewStartThinkingTool(manager *chains.Manager) *StartThinkingTool {
	return &StartThinkingTool{manager: manager}
}

func (t *StartThinkingTool) Definition() mcp.Tool {
	return mcp.NewTool("start_thinking",
		mcp.WithDescription("Open a new reasoning chain for a prompt."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The question or problem under consideration")),
		mcp.WithString("context", mcp.Description("Background the chain should assume")),
		mcp.WithString("goal", mcp.Description("What a successful conclusion looks like")),
		mcp.WithArray("tags", mcp.Description("Free-form tags")),
		mcp.WithString("branchFrom", mcp.Description("Parent chain id when forking")),
	)
}

func (t *StartThinkingTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	c, err := t.manager.StartThinking(ctx,
		a.String("prompt", ""), a.String("context", ""), a.String("goal", ""),
		a.StringSlice("tags"), a.String("branchFrom", ""))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "chainId": c.ID, "status": c.Status}, nil
}

// AddStepTool handles the add_step MCP tool.
type AddStepTool struct {
	manager *chains.Manager
}

func NewAddStepTool(manager *chains.Manager) *AddStepTool {
	return &AddStepTool{manager: manager}
}

func (t *AddStepTool) Definition() mcp.Tool {
	return mcp.NewTool("add_step",
		mcp.WithDescription("Append the next reasoning step to an in-progress chain."),
		mcp.WithString("chainId", mcp.Required(), mcp.Description("Chain id")),
		mcp.WithString("thought", mcp.Required(), mcp.Description("The step's content")),
		mcp.WithString("stepType", mcp.Description("observation, analysis, inference, conclusion, question or hypothesis"),
			mcp.Enum("observation", "analysis", "inference", "conclusion", "question", "hypothesis")),
		mcp.WithNumber("confidence", mcp.Description("Confidence in [0,1]")),
		mcp.WithObject("data", mcp.Description("Structured payload attached to the step")),
	)
}

func (t *AddStepTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	c, err := t.manager.AddStep(ctx,
		a.String("chainId", ""), a.String("thought", ""), a.String("stepType", ""),
		a.Float("confidence", 0), a.Map("data"))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":    true,
		"chainId":    c.ID,
		"stepNumber": len(c.Steps),
		"stepCount":  len(c.Steps),
	}, nil
}

// ConcludeTool handles the conclude MCP tool.
type ConcludeTool struct {
	manager *chains.Manager
}

func NewConcludeTool(manager *chains.Manager) *ConcludeTool {
	return &ConcludeTool{manager: manager}
}

func (t *ConcludeTool) Definition() mcp.Tool {
	return mcp.NewTool("conclude",
		mcp.WithDescription("Close a chain with its conclusion and export it to the notebook."),
		mcp.WithString("chainId", mcp.Required(), mcp.Description("Chain id")),
		mcp.WithString("conclusion", mcp.Required(), mcp.Description("The chain's final answer")),
		mcp.WithBoolean("success", mcp.Description("Whether the reasoning succeeded (default true)")),
		mcp.WithNumber("confidence", mcp.Description("Confidence in [0,1]")),
	)
}

func (t *ConcludeTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	c, err := t.manager.Conclude(ctx,
		a.String("chainId", ""), a.String("conclusion", ""),
		a.Bool("success", true), a.Float("confidence", 0))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":   true,
		"chainId":   c.ID,
		"status":    c.Status,
		"stepCount": len(c.Steps),
	}, nil
}

// GetChainTool handles the get_chain MCP tool.
type GetChainTool struct {
	manager *chains.Manager
}

func NewGetChainTool(manager *chains.Manager) *GetChainTool {
	return &GetChainTool{manager: manager}
}

func (t *GetChainTool) Definition() mcp.Tool {
	return mcp.NewTool("get_chain",
		mcp.WithDescription("Fetch one chain, optionally with its steps."),
		mcp.WithString("chainId", mcp.Required(), mcp.Description("Chain id")),
		mcp.WithBoolean("includeSteps", mcp.Description("Include ordered steps (default true)")),
	)
}

func (t *GetChainTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	c, err := t.manager.Get(ctx, a.String("chainId", ""), a.Bool("includeSteps", true))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "chain": c}, nil
}

// ListChainsTool handles the list_chains MCP tool.
type ListChainsTool struct {
	manager *chains.Manager
}

func NewListChainsTool(manager *chains.Manager) *ListChainsTool {
	return &ListChainsTool{manager: manager}
}

func (t *ListChainsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_chains",
		mcp.WithDescription("List chains, optionally filtered by status."),
		mcp.WithString("status", mcp.Description("in_progress, completed or failed"),
			mcp.Enum(chains.StatusInProgress, chains.StatusCompleted, chains.StatusFailed)),
		mcp.WithNumber("limit", mcp.Description("Maximum results, default 20")),
	)
}

func (t *ListChainsTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	list, err := t.manager.List(ctx, a.String("status", ""), a.Int("limit", 20))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "count": len(list), "chains": list}, nil
}

// BranchChainTool handles the branch_chain MCP tool.
type BranchChainTool struct {
	manager *chains.Manager
}

func NewBranchChainTool(manager *chains.Manager) *BranchChainTool {
	return &BranchChainTool{manager: manager}
}

func (t *BranchChainTool) Definition() mcp.Tool {
	return mcp.NewTool("branch_chain",
		mcp.WithDescription("Fork a chain into a new in-progress chain copying the first steps."),
		mcp.WithString("chainId", mcp.Required(), mcp.Description("Parent chain id")),
		mcp.WithNumber("atStep", mcp.Description("Copy steps 1..atStep; 0 copies all")),
	)
}

func (t *BranchChainTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	c, err := t.manager.Branch(ctx, a.String("chainId", ""), a.Int("atStep", 0))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":    true,
		"chainId":    c.ID,
		"branchFrom": c.BranchFrom,
		"stepCount":  len(c.Steps),
	}, nil
}
