// Package nbtools exposes the markdown vault as the "notebook" MCP
// sub-server.
package nbtools

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexhub/cortexhub/internal/notebook"
	"github.com/cortexhub/cortexhub/internal/subserver"
)

// ServerName is the sub-server this package registers under.
const ServerName = "notebook"

// TodayLogResourceURI exposes today's governance log.
const TodayLogResourceURI = "cortex://log/today"

type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, args map[string]any) (any, error)
}

// NewSubServer wires every notebook tool onto a fresh sub-server
// backed by vault.
func NewSubServer(vault *notebook.Vault) *subserver.SubServer {
	sub := subserver.New(ServerName, "Markdown notes with frontmatter in the vault").
		WithHealth(func(ctx context.Context) error { return vault.EnsureWritable() })

	for _, t := range []tool{
		NewWriteNoteTool(vault),
		NewAppendNoteTool(vault),
		NewReadNoteTool(vault),
		NewListNotesTool(vault),
		NewSearchNotesTool(vault),
	} {
		sub.AddTool(t.Definition(), t.Handle)
	}

	sub.AddResource(
		mcp.NewResource(TodayLogResourceURI, "todays-log",
			mcp.WithResourceDescription("Today's action log"),
			mcp.WithMIMEType("text/markdown")),
		func(ctx context.Context) (mcp.TextResourceContents, error) {
			_, body, err := vault.Read(vault.TodayLogName())
			if err != nil {
				return mcp.TextResourceContents{}, err
			}
			return mcp.TextResourceContents{
				URI:      TodayLogResourceURI,
				MIMEType: "text/markdown",
				Text:     body,
			}, nil
		})
	return sub
}

// WriteNoteTool handles the write_note MCP tool.
type WriteNoteTool struct {
	vault *notebook.Vault
}

func NewWriteNoteTool(vault *notebook.Vault) *WriteNoteTool {
	return &WriteNoteTool{vault: vault}
}

func (t *WriteNoteTool) Definition() mcp.Tool {
	return mcp.NewTool("write_note",
		mcp.WithDescription("Create or replace a note, optionally with frontmatter."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Note name, .md appended when missing")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown body")),
		mcp.WithObject("frontmatter", mcp.Description("Frontmatter keys, emitted in sorted order")),
	)
}

func (t *WriteNoteTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	name := a.String("name", "")

	var fm *notebook.Frontmatter
	if raw := a.Map("frontmatter"); len(raw) > 0 {
		fm = notebook.NewFrontmatter()
		for _, k := range sortedKeys(raw) {
			fm.Set(k, raw[k])
		}
	}
	if err := t.vault.Write(name, a.String("content", ""), fm); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "name": name}, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AppendNoteTool handles the append_note MCP tool.
type AppendNoteTool struct {
	vault *notebook.Vault
}

func NewAppendNoteTool(vault *notebook.Vault) *AppendNoteTool {
	return &AppendNoteTool{vault: vault}
}

func (t *AppendNoteTool) Definition() mcp.Tool {
	return mcp.NewTool("append_note",
		mcp.WithDescription("Append to a note, creating it when absent."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Note name")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown to append")),
	)
}

func (t *AppendNoteTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	name := a.String("name", "")
	if err := t.vault.Append(name, a.String("content", "")); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "name": name}, nil
}

// ReadNoteTool handles the read_note MCP tool.
type ReadNoteTool struct {
	vault *notebook.Vault
}

func NewReadNoteTool(vault *notebook.Vault) *ReadNoteTool {
	return &ReadNoteTool{vault: vault}
}

func (t *ReadNoteTool) Definition() mcp.Tool {
	return mcp.NewTool("read_note",
		mcp.WithDescription("Read a note's frontmatter and body."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Note name")),
	)
}

func (t *ReadNoteTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	name := subserver.Args(args).String("name", "")
	fm, body, err := t.vault.Read(name)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":     true,
		"name":        name,
		"frontmatter": fm,
		"content":     body,
	}, nil
}

// ListNotesTool handles the list_notes MCP tool.
type ListNotesTool struct {
	vault *notebook.Vault
}

func NewListNotesTool(vault *notebook.Vault) *ListNotesTool {
	return &ListNotesTool{vault: vault}
}

func (t *ListNotesTool) Definition() mcp.Tool {
	return mcp.NewTool("list_notes",
		mcp.WithDescription("List notes in the vault."),
		mcp.WithNumber("limit", mcp.Description("Maximum results, default 50")),
		mcp.WithString("order", mcp.Description("newest or oldest (default newest)"), mcp.Enum("newest", "oldest")),
	)
}

func (t *ListNotesTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	notes, err := t.vault.List(a.Int("limit", 50), a.String("order", "newest"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "count": len(notes), "notes": notes}, nil
}

// SearchNotesTool handles the search_notes MCP tool.
type SearchNotesTool struct {
	vault *notebook.Vault
}

func NewSearchNotesTool(vault *notebook.Vault) *SearchNotesTool {
	return &SearchNotesTool{vault: vault}
}

func (t *SearchNotesTool) Definition() mcp.Tool {
	return mcp.NewTool("search_notes",
		mcp.WithDescription("Search notes by filename, optionally scanning contents."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Case-insensitive substring")),
		mcp.WithBoolean("searchBody", mcp.Description("Also scan note contents (default false)")),
		mcp.WithNumber("limit", mcp.Description("Maximum results, default 20")),
	)
}

func (t *SearchNotesTool) Handle(ctx context.Context, args map[string]any) (any, error) {
	a := subserver.Args(args)
	notes, err := t.vault.Search(a.String("query", ""), a.Bool("searchBody", false), a.Int("limit", 20))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "count": len(notes), "notes": notes}, nil
}
