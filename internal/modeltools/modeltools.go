// Package modeltools exposes the model router as the "model-router"
// MCP sub-server.
package modeltools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexhub/cortexhub/internal/errs"
	"github.com/cortexhub/cortexhub/internal/model"
	"github.com/cortexhub/cortexhub/internal/subserver"
)

// ServerName is the sub-server this package registers under.
const ServerName = "model-router"

// ModelsResourceURI lists the cached model inventory as JSON.
const ModelsResourceURI = "cortex://models"

type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, args map[string]any) (any, error)
}

// NewSubServer wires every model tool onto a fresh sub-server backed
// by router.
func NewSubServer(router *model.Router) *subserver.SubServer {
	sub := subserver.New(ServerName, "Task-class model routing over the local runtime").
		WithHealth(func(ctx context.Context) error {
			_, err := router.List(ctx, false)
			return err
		})

	for _, t := range []tool{
		NewChatTool(router),
		NewCompleteTool(router),
		NewEmbedTool(router),
		NewVisionTool(router),
		NewListModelsTool(router),
		NewGetModelInfoTool(router),
		NewPullModelTool(router),
		NewSetDefaultModelTool(router),
		NewReasoningTool(router),
		NewCodingTool(router),
	} {
		sub.AddTool(t.Definition(), t.Handle)
	}

	sub.AddResource(
		mcp.NewResource(ModelsResourceURI, "model-inventory",
			mcp.WithResourceDescription("Locally available models"),
			mcp.WithMIMEType("application/json")),
		func(ctx context.Context) (mcp.TextResourceContents, error) {
			models, err := router.List(ctx, false)
			if err != nil {
				return mcp.TextResourceContents{}, err
			}
			raw, err := json.MarshalIndent(models, "", "  ")
			if err != nil {
				return mcp.TextResourceContents{}, err
			}
			return mcp.TextResourceContents{
				URI:      ModelsResourceURI,
				MIMEType: "application/json",
				Text:     string(raw),
			}, nil
		})
	return sub
}

func routeResponse(res model.RouteResult) map[string]any {
	out := map[string]any{
		"success":     true,
		"model":       res.Model,
		"response":    res.Content,
		"duration_ms": res.DurationMS,
	}
	if res.PromptEvalCount > 0 {
		out["prompt_eval_count"] = res.PromptEvalCount
	}
	if res.EvalCount > 0 {
		out["eval_count"] = res.EvalCount
	}
	if res.Downgraded {
		out["model_downgraded"] = true
		out["requested_model"] = res.RequestedModel
	}
	return out
}

// ChatTool handles the chat MCP tool.
type ChatTool struct {
	router *model.Router
}

func NewChatTool(router *model.Router) *ChatTool {
	return &ChatTool{router: router}
}

func (t *ChatTool) Definition() mcp.Tool {
	return mcp.NewTool("chat",
		mcp.WithDescription("Multi-turn chat with the routed chat model."),
		mcp.WithArray("messages", mcp.Required(), mcp.Description("Conversation as [{role, content}]")),
		mcp.WithString("model", mcp.Description("Override the routed model")),
		mcp.WithString("system", mcp.Description("System prompt prepended to the conversation")),
	)
}

func (t *ChatTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	raw, _ := args["messages"].([]any)
	messages := make([]model.Message, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, errs.New(errs.KindInvalidInput, "modeltools: chat", "messages must be objects with role and content")
		}
		msg := model.Message{
			Role:    subserver.Args(m).String("role", "user"),
			Content: subserver.Args(m).String("content", ""),
		}
		messages = append(messages, msg)
	}

	res, err := t.router.Chat(ctx, messages, model.RouteOptions{
		Model:  a.String("model", ""),
		System: a.String("system", ""),
	})
	if err != nil {
		return nil, err
	}
	return routeResponse(res), nil
}

// CompleteTool handles the complete MCP tool.
type CompleteTool struct {
	router *model.Router
}

func NewCompleteTool(router *model.Router) *CompleteTool {
	return &CompleteTool{router: router}
}

func (t *CompleteTool) Definition() mcp.Tool {
	return mcp.NewTool("complete",
		mcp.WithDescription("Single-shot completion with the general model."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The prompt")),
		mcp.WithString("model", mcp.Description("Override the routed model")),
		mcp.WithString("system", mcp.Description("System prompt")),
	)
}

func (t *CompleteTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	res, err := t.router.Route(ctx, model.ClassGeneral, a.String("prompt", ""), model.RouteOptions{
		Model:  a.String("model", ""),
		System: a.String("system", ""),
	})
	if err != nil {
		return nil, err
	}
	return routeResponse(res), nil
}

// EmbedTool handles the embed MCP tool.
type EmbedTool struct {
	router *model.Router
}

func NewEmbedTool(router *model.Router) *EmbedTool {
	return &EmbedTool{router: router}
}

func (t *EmbedTool) Definition() mcp.Tool {
	return mcp.NewTool("embed",
		mcp.WithDescription("Embed text with the routed embedding model."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to embed")),
		mcp.WithString("model", mcp.Description("Override the routed model")),
	)
}

func (t *EmbedTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	vec, usedModel, err := t.router.Embed(ctx, a.String("text", ""), a.String("model", ""))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":    true,
		"model":      usedModel,
		"dimensions": len(vec),
		"embedding":  vec,
	}, nil
}

// VisionTool handles the vision MCP tool.
type VisionTool struct {
	router *model.Router
}

func NewVisionTool(router *model.Router) *VisionTool {
	return &VisionTool{router: router}
}

func (t *VisionTool) Definition() mcp.Tool {
	return mcp.NewTool("vision",
		mcp.WithDescription("Describe or analyze a base64-encoded image with the routed vision model."),
		mcp.WithString("image", mcp.Required(), mcp.Description("Base64-encoded image")),
		mcp.WithString("prompt", mcp.Description("What to do with the image")),
		mcp.WithString("model", mcp.Description("Override the routed model")),
	)
}

func (t *VisionTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	res, err := t.router.Vision(ctx, a.String("image", ""), a.String("prompt", ""), a.String("model", ""))
	if err != nil {
		return nil, err
	}
	return routeResponse(res), nil
}

// ListModelsTool handles the list_models MCP tool.
type ListModelsTool struct {
	router *model.Router
}

func NewListModelsTool(router *model.Router) *ListModelsTool {
	return &ListModelsTool{router: router}
}

func (t *ListModelsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_models",
		mcp.WithDescription("List locally available models from the cached inventory."),
		mcp.WithBoolean("forceRefresh", mcp.Description("Bypass the inventory cache")),
	)
}

func (t *ListModelsTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	models, err := t.router.List(ctx, subserver.Args(args).Bool("forceRefresh", false))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "count": len(models), "models": models}, nil
}

// GetModelInfoTool handles the get_model_info MCP tool.
type GetModelInfoTool struct {
	router *model.Router
}

func NewGetModelInfoTool(router *model.Router) *GetModelInfoTool {
	return &GetModelInfoTool{router: router}
}

func (t *GetModelInfoTool) Definition() mcp.Tool {
	return mcp.NewTool("get_model_info",
		mcp.WithDescription("Fetch detailed information about one model."),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model name")),
	)
}

func (t *GetModelInfoTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	info, err := t.router.Info(ctx, subserver.Args(args).String("model", ""))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "info": info}, nil
}

// PullModelTool handles the pull_model MCP tool.
type PullModelTool struct {
	router *model.Router
}

func NewPullModelTool(router *model.Router) *PullModelTool {
	return &PullModelTool{router: router}
}

func (t *PullModelTool) Definition() mcp.Tool {
	return mcp.NewTool("pull_model",
		mcp.WithDescription("Pull a model into the local runtime and refresh the inventory."),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model name")),
	)
}

func (t *PullModelTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	name := subserver.Args(args).String("model", "")
	if err := t.router.Pull(ctx, name); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "model": name}, nil
}

// SetDefaultModelTool handles the set_default_model MCP tool.
type SetDefaultModelTool struct {
	router *model.Router
}

func NewSetDefaultModelTool(router *model.Router) *SetDefaultModelTool {
	return &SetDefaultModelTool{router: router}
}

func (t *SetDefaultModelTool) Definition() mcp.Tool {
	classes := make([]string, len(model.Classes))
	for i, c := range model.Classes {
		classes[i] = string(c)
	}
	return mcp.NewTool("set_default_model",
		mcp.WithDescription("Override the default model for a task class in this process."),
		mcp.WithString("taskClass", mcp.Required(), mcp.Description("Task class"), mcp.Enum(classes...)),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model name")),
	)
}

func (t *SetDefaultModelTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	class := model.TaskClass(a.String("taskClass", ""))
	name := a.String("model", "")
	if err := t.router.SetDefault(class, name); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "taskClass": class, "model": name}, nil
}

// ReasoningTool handles the reasoning MCP tool.
type ReasoningTool struct {
	router *model.Router
}

func NewReasoningTool(router *model.Router) *ReasoningTool {
	return &ReasoningTool{router: router}
}

func (t *ReasoningTool) Definition() mcp.Tool {
	return mcp.NewTool("reasoning",
		mcp.WithDescription("Route a prompt to the reasoning model."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The problem to reason about")),
		mcp.WithString("model", mcp.Description("Override the routed model")),
	)
}

func (t *ReasoningTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	res, err := t.router.Route(ctx, model.ClassReasoning, a.String("prompt", ""), model.RouteOptions{
		Model: a.String("model", ""),
	})
	if err != nil {
		return nil, err
	}
	return routeResponse(res), nil
}

// CodingTool handles the coding MCP tool.
type CodingTool struct {
	router *model.Router
}

func NewCodingTool(router *model.Router) *CodingTool {
	return &CodingTool{router: router}
}

func (t *CodingTool) Definition() mcp.Tool {
	return mcp.NewTool("coding",
		mcp.WithDescription("Route a prompt to the coding model, optionally hinting the language."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The coding task")),
		mcp.WithString("language", mcp.Description("Programming language hint")),
		mcp.WithString("model", mcp.Description("Override the routed model")),
	)
}

func (t *CodingTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	prompt := a.String("prompt", "")
	if lang := a.String("language", ""); lang != "" && prompt != "" {
		prompt = fmt.Sprintf("Language: %s\n\n%s", lang, prompt)
	}
	res, err := t.router.Route(ctx, model.ClassCoding, prompt, model.RouteOptions{
		Model: a.String("model", ""),
	})
	if err != nil {
		return nil, err
	}
	return routeResponse(res), nil
}
