package model

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cortexhub/cortexhub/internal/config"
	"github.com/cortexhub/cortexhub/internal/errs"
)

// TaskClass selects which configured model serves a request.
type TaskClass string

const (
	ClassReasoning TaskClass = "reasoning"
	ClassCoding    TaskClass = "coding"
	ClassVision    TaskClass = "vision"
	ClassChat      TaskClass = "chat"
	ClassEmbedding TaskClass = "embedding"
	ClassGeneral   TaskClass = "general"
)

// Classes lists every routable task class.
var Classes = []TaskClass{ClassReasoning, ClassCoding, ClassVision, ClassChat, ClassEmbedding, ClassGeneral}

// RouteOptions tunes a single routed request.
type RouteOptions struct {
	// Model overrides the class table when set.
	Model   string
	System  string
	Options map[string]any
}

// RouteResult is the outcome of one routed invocation.
type RouteResult struct {
	ChatResponse
	RequestedModel string `json:"requested_model,omitempty"`
	Downgraded     bool   `json:"model_downgraded,omitempty"`
}

// Router maps task classes onto runtime models. It keeps one cached
// inventory guarded by a mutex; readers work on a snapshot so a
// refresh never blocks in-flight routing decisions.
type Router struct {
	client *Client
	cfg    config.ModelConfig
	logger *slog.Logger

	mu        sync.Mutex
	overrides map[TaskClass]string
	inventory []ModelInfo
	fetchedAt time.Time

	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(time.Duration)
}

// NewRouter wires a router over the runtime client.
func NewRouter(client *Client, cfg config.ModelConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		client:    client,
		cfg:       cfg,
		logger:    logger,
		overrides: map[TaskClass]string{},
		sleep:     time.Sleep,
	}
}

// ModelFor resolves the primary model for a class, honoring
// per-process overrides.
func (r *Router) ModelFor(class TaskClass) string {
	r.mu.Lock()
	if m, ok := r.overrides[class]; ok {
		r.mu.Unlock()
		return m
	}
	r.mu.Unlock()

	switch class {
	case ClassReasoning:
		return r.cfg.ReasoningModel
	case ClassCoding:
		return r.cfg.CodingModel
	case ClassVision:
		return r.cfg.VisionModel
	case ClassChat:
		return r.cfg.ChatModel
	case ClassEmbedding:
		return r.cfg.EmbeddingModel
	default:
		return r.cfg.GeneralModel
	}
}

// SetDefault installs a per-process model override for a class.
func (r *Router) SetDefault(class TaskClass, model string) error {
	const op = "model: set default"
	if !validClass(class) {
		return errs.Newf(errs.KindInvalidInput, op, "unknown task class %q", class)
	}
	if model == "" {
		return errs.New(errs.KindInvalidInput, op, "model name is required")
	}
	r.mu.Lock()
	r.overrides[class] = model
	r.mu.Unlock()
	r.logger.Info("model default overridden", "class", string(class), "model", model)
	return nil
}

func validClass(class TaskClass) bool {
	for _, c := range Classes {
		if c == class {
			return true
		}
	}
	return false
}

// List returns the inventory snapshot, refreshing when stale or when
// forced.
func (r *Router) List(ctx context.Context, forceRefresh bool) ([]ModelInfo, error) {
	r.mu.Lock()
	stale := forceRefresh || time.Since(r.fetchedAt) > r.cfg.InventoryTTL || r.inventory == nil
	if !stale {
		snap := make([]ModelInfo, len(r.inventory))
		copy(snap, r.inventory)
		r.mu.Unlock()
		return snap, nil
	}
	r.mu.Unlock()

	models, err := r.client.Tags(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.inventory = models
	r.fetchedAt = time.Now()
	snap := make([]ModelInfo, len(models))
	copy(snap, models)
	r.mu.Unlock()
	return snap, nil
}

// Info returns runtime metadata for a model.
func (r *Router) Info(ctx context.Context, model string) (map[string]any, error) {
	if model == "" {
		return nil, errs.New(errs.KindInvalidInput, "model: info", "model name is required")
	}
	return r.client.Show(ctx, model)
}

// Pull downloads a model and refreshes the inventory on success.
// Pulling an already-present model is a no-op on the runtime side.
func (r *Router) Pull(ctx context.Context, model string) error {
	if model == "" {
		return errs.New(errs.KindInvalidInput, "model: pull", "model name is required")
	}
	if err := r.client.Pull(ctx, model); err != nil {
		return err
	}
	_, err := r.List(ctx, true)
	return err
}

// available reports whether the inventory lists the model. Inventory
// failure degrades to "assume available" so a flaky tags endpoint
// cannot take routing down.
func (r *Router) available(ctx context.Context, model string) bool {
	models, err := r.List(ctx, false)
	if err != nil {
		r.logger.Warn("inventory refresh failed, assuming model available", "model", model, "error", err)
		return true
	}
	for _, m := range models {
		if m.Name == model {
			return true
		}
	}
	return false
}

// resolve picks the serving model and reports a downgrade when the
// requested one is absent from the inventory.
func (r *Router) resolve(ctx context.Context, class TaskClass, override string) (model string, downgraded bool, requested string) {
	requested = override
	if requested == "" {
		requested = r.ModelFor(class)
	}
	if requested == "" {
		requested = r.cfg.FallbackModel
	}
	if r.available(ctx, requested) || requested == r.cfg.FallbackModel {
		return requested, false, requested
	}
	r.logger.Warn("model unavailable, substituting fallback",
		"requested", requested, "fallback", r.cfg.FallbackModel, "class", string(class))
	return r.cfg.FallbackModel, true, requested
}

// Route runs a single-shot prompt on the class's model.
func (r *Router) Route(ctx context.Context, class TaskClass, prompt string, opts RouteOptions) (RouteResult, error) {
	const op = "model: route"
	if prompt == "" {
		return RouteResult{}, errs.New(errs.KindInvalidInput, op, "prompt is required")
	}
	if !validClass(class) {
		return RouteResult{}, errs.Newf(errs.KindInvalidInput, op, "unknown task class %q", class)
	}

	model, downgraded, requested := r.resolve(ctx, class, opts.Model)
	resp, err := r.withRetry(ctx, func() (ChatResponse, error) {
		return r.client.Generate(ctx, model, prompt, opts.System, opts.Options)
	})
	if err != nil {
		return RouteResult{}, err
	}
	return routeResult(resp, requested, downgraded), nil
}

// Chat runs a multi-turn conversation, defaulting to the chat class.
func (r *Router) Chat(ctx context.Context, messages []Message, opts RouteOptions) (RouteResult, error) {
	const op = "model: chat route"
	if len(messages) == 0 {
		return RouteResult{}, errs.New(errs.KindInvalidInput, op, "messages are required")
	}
	model, downgraded, requested := r.resolve(ctx, ClassChat, opts.Model)
	resp, err := r.withRetry(ctx, func() (ChatResponse, error) {
		return r.client.Chat(ctx, model, messages, opts.Options)
	})
	if err != nil {
		return RouteResult{}, err
	}
	return routeResult(resp, requested, downgraded), nil
}

// Embed returns the embedding vector for text.
func (r *Router) Embed(ctx context.Context, text, override string) ([]float64, string, error) {
	const op = "model: embed route"
	if text == "" {
		return nil, "", errs.New(errs.KindInvalidInput, op, "text is required")
	}
	model, _, _ := r.resolve(ctx, ClassEmbedding, override)
	var vec []float64
	_, err := r.withRetry(ctx, func() (ChatResponse, error) {
		v, err := r.client.Embed(ctx, model, text)
		if err != nil {
			return ChatResponse{}, err
		}
		vec = v
		return ChatResponse{Model: model}, nil
	})
	if err != nil {
		return nil, "", err
	}
	return vec, model, nil
}

// Vision analyses a base64-encoded image with the vision model.
func (r *Router) Vision(ctx context.Context, imageB64, prompt, override string) (RouteResult, error) {
	const op = "model: vision route"
	if imageB64 == "" {
		return RouteResult{}, errs.New(errs.KindInvalidInput, op, "image is required")
	}
	if prompt == "" {
		prompt = "Describe this image."
	}
	model, downgraded, requested := r.resolve(ctx, ClassVision, override)
	messages := []Message{{Role: "user", Content: prompt, Images: []string{imageB64}}}
	resp, err := r.withRetry(ctx, func() (ChatResponse, error) {
		return r.client.Chat(ctx, model, messages, nil)
	})
	if err != nil {
		return RouteResult{}, err
	}
	return routeResult(resp, requested, downgraded), nil
}

// withRetry invokes fn up to cfg.Retries times with 2^k second delays,
// retrying only kinds the taxonomy marks retryable.
func (r *Router) withRetry(ctx context.Context, fn func() (ChatResponse, error)) (ChatResponse, error) {
	attempts := r.cfg.Retries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for k := 0; k < attempts; k++ {
		if k > 0 {
			delay := time.Duration(math.Pow(2, float64(k))) * time.Second
			r.logger.Warn("retrying model request", "attempt", k+1, "delay", delay.String(), "error", lastErr)
			select {
			case <-ctx.Done():
				return ChatResponse{}, errs.Wrap(errs.KindTimeout, "model: retry", ctx.Err())
			default:
			}
			r.sleep(delay)
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errs.Retryable(err) {
			return ChatResponse{}, err
		}
	}
	return ChatResponse{}, lastErr
}

func routeResult(resp ChatResponse, requested string, downgraded bool) RouteResult {
	out := RouteResult{ChatResponse: resp, Downgraded: downgraded}
	if downgraded {
		out.RequestedModel = requested
	}
	return out
}
