// Package model wraps a local model runtime (an Ollama-compatible
// HTTP API) and routes requests by task class with inventory-aware
// fallback and bounded retry.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cortexhub/cortexhub/internal/errs"
)

// Client talks to the runtime's HTTP API. All requests are
// non-streaming; the hub returns complete responses to its callers.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a runtime client. timeout bounds each request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Message is one turn of a chat conversation. Images carry
// base64-encoded payloads for vision models.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ChatResponse is the runtime's reply plus its evaluation counters.
type ChatResponse struct {
	Model           string `json:"model"`
	Content         string `json:"content"`
	DurationMS      int64  `json:"duration_ms"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

// ModelDetails describes a model's build parameters.
type ModelDetails struct {
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// ModelInfo is one inventory entry from the runtime.
type ModelInfo struct {
	Name       string       `json:"name"`
	Size       int64        `json:"size"`
	ModifiedAt string       `json:"modified_at"`
	Details    ModelDetails `json:"details"`
}

type chatAPIRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatAPIResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	TotalDuration   int64   `json:"total_duration"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

type generateAPIRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateAPIResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	TotalDuration   int64  `json:"total_duration"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

type embedAPIRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedAPIResponse struct {
	Embedding []float64 `json:"embedding"`
}

type tagsAPIResponse struct {
	Models []ModelInfo `json:"models"`
}

// Chat sends a multi-turn conversation.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, options map[string]any) (ChatResponse, error) {
	const op = "model: chat"
	var out chatAPIResponse
	err := c.post(ctx, op, "/api/chat", chatAPIRequest{
		Model: model, Messages: messages, Stream: false, Options: options,
	}, &out)
	if err != nil {
		return ChatResponse{}, err
	}
	return ChatResponse{
		Model:           out.Model,
		Content:         out.Message.Content,
		DurationMS:      out.TotalDuration / int64(time.Millisecond),
		PromptEvalCount: out.PromptEvalCount,
		EvalCount:       out.EvalCount,
	}, nil
}

// Generate sends a single-shot completion prompt.
func (c *Client) Generate(ctx context.Context, model, prompt, system string, options map[string]any) (ChatResponse, error) {
	const op = "model: generate"
	var out generateAPIResponse
	err := c.post(ctx, op, "/api/generate", generateAPIRequest{
		Model: model, Prompt: prompt, System: system, Stream: false, Options: options,
	}, &out)
	if err != nil {
		return ChatResponse{}, err
	}
	return ChatResponse{
		Model:           out.Model,
		Content:         out.Response,
		DurationMS:      out.TotalDuration / int64(time.Millisecond),
		PromptEvalCount: out.PromptEvalCount,
		EvalCount:       out.EvalCount,
	}, nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float64, error) {
	const op = "model: embed"
	var out embedAPIResponse
	if err := c.post(ctx, op, "/api/embeddings", embedAPIRequest{Model: model, Prompt: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, errs.New(errs.KindInternal, op, "runtime returned an empty embedding")
	}
	return out.Embedding, nil
}

// Tags lists the models the runtime has locally.
func (c *Client) Tags(ctx context.Context) ([]ModelInfo, error) {
	const op = "model: tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, op, err)
	}
	var out tagsAPIResponse
	if err := c.do(op, req, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Show returns the runtime's metadata for one model.
func (c *Client) Show(ctx context.Context, model string) (map[string]any, error) {
	const op = "model: show"
	var out map[string]any
	if err := c.post(ctx, op, "/api/show", map[string]string{"name": model}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Pull asks the runtime to download a model. The runtime streams
// progress lines; only the terminal status matters here.
func (c *Client) Pull(ctx context.Context, model string) error {
	const op = "model: pull"
	body, err := json.Marshal(map[string]any{"name": model, "stream": false})
	if err != nil {
		return errs.Wrap(errs.KindInternal, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	var out map[string]any
	return c.do(op, req, &out)
}

func (c *Client) post(ctx context.Context, op, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.KindInternal, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return translateTransport(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return translateTransport(op, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errs.Newf(errs.KindNotFound, op, "%s", apiErrorText(raw))
	case resp.StatusCode >= 500:
		return errs.Newf(errs.KindBackendUnavailable, op, "runtime status %d: %s", resp.StatusCode, apiErrorText(raw))
	case resp.StatusCode >= 400:
		return errs.Newf(errs.KindInvalidInput, op, "runtime status %d: %s", resp.StatusCode, apiErrorText(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.Wrap(errs.KindInternal, op, err)
	}
	return nil
}

func apiErrorText(raw []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}

// translateTransport maps connection-level failures onto the retryable
// kinds: deadline overruns to Timeout, refused or reset connections to
// BackendUnavailable.
func translateTransport(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errs.Wrap(errs.KindTimeout, op, err)
	case isTimeout(err):
		return errs.Wrap(errs.KindTimeout, op, err)
	case isConnectionError(err):
		return errs.Wrap(errs.KindBackendUnavailable, op, err)
	default:
		return errs.Wrap(errs.KindInternal, op, err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset")
}
