package modeltools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexhub/cortexhub/internal/config"
	"github.com/cortexhub/cortexhub/internal/model"
	"github.com/cortexhub/cortexhub/internal/subserver"
)

// fakeRuntime mimics the local model runtime's HTTP API with a fixed
// inventory.
func fakeRuntime(t *testing.T, available ...string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		models := make([]map[string]any, 0, len(available))
		for _, name := range available {
			models = append(models, map[string]any{"name": name})
		}
		json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]any{
			"model": req["model"], "response": "stubbed answer", "done": true,
			"eval_count": 7,
		})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]any{
			"model": req["model"], "done": true,
			"message": map[string]any{"role": "assistant", "content": "chat answer"},
		})
	})
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	})
	mux.HandleFunc("/api/show", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"parameters": "num_ctx 4096"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, available ...string) *subserver.SubServer {
	t.Helper()
	srv := fakeRuntime(t, available...)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse stub url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	cfg := config.ModelConfig{
		Host: u.Hostname(), Port: port,
		Timeout: 5 * time.Second, Retries: 1,
		ReasoningModel: "qwq-reasoning",
		CodingModel:    "coder-model",
		ChatModel:      "llama-chat",
		EmbeddingModel: "embed-model",
		GeneralModel:   "llama-general",
		FallbackModel:  "llama-fallback",
		InventoryTTL:   time.Minute,
	}
	router := model.NewRouter(model.NewClient(cfg.BaseURL(), cfg.Timeout), cfg, nil)
	return NewSubServer(router)
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

func TestReasoningFallsBackWhenPrimaryMissing(t *testing.T) {
	sub := newTestServer(t, "llama-fallback")

	out := callJSON(t, sub, "reasoning", map[string]any{"prompt": "why is the sky blue?"})
	if out["model"] != "llama-fallback" {
		t.Errorf("model = %v", out["model"])
	}
	if out["model_downgraded"] != true || out["requested_model"] != "qwq-reasoning" {
		t.Errorf("downgrade markers missing: %v", out)
	}
}

func TestReasoningUsesPrimaryWhenAvailable(t *testing.T) {
	sub := newTestServer(t, "qwq-reasoning", "llama-fallback")

	out := callJSON(t, sub, "reasoning", map[string]any{"prompt": "p"})
	if out["model"] != "qwq-reasoning" {
		t.Errorf("model = %v", out["model"])
	}
	if out["model_downgraded"] == true {
		t.Errorf("unexpected downgrade: %v", out)
	}
}

func TestCodingPrependsLanguageHint(t *testing.T) {
	sub := newTestServer(t, "coder-model")

	out := callJSON(t, sub, "coding", map[string]any{
		"prompt": "reverse a list", "language": "Go",
	})
	if out["model"] != "coder-model" {
		t.Errorf("model = %v", out["model"])
	}
	if out["response"] != "stubbed answer" {
		t.Errorf("response = %v", out["response"])
	}
}

func TestChatTool(t *testing.T) {
	sub := newTestServer(t, "llama-chat")

	out := callJSON(t, sub, "chat", map[string]any{
		"messages": []any{map[string]any{"role": "user", "content": "hi"}},
	})
	if out["response"] != "chat answer" {
		t.Errorf("chat: %v", out)
	}

	res := sub.Call(context.Background(), "chat", map[string]any{"messages": []any{"not an object"}})
	if !res.IsError {
		t.Error("malformed messages must fail")
	}
}

func TestEmbedTool(t *testing.T) {
	sub := newTestServer(t, "embed-model")

	out := callJSON(t, sub, "embed", map[string]any{"text": "hello"})
	if out["dimensions"].(float64) != 3 {
		t.Errorf("embed: %v", out)
	}
}

func TestListModelsAndInfo(t *testing.T) {
	sub := newTestServer(t, "llama-chat", "coder-model")

	list := callJSON(t, sub, "list_models", map[string]any{})
	if list["count"].(float64) != 2 {
		t.Errorf("list: %v", list)
	}

	info := callJSON(t, sub, "get_model_info", map[string]any{"model": "llama-chat"})
	if info["info"].(map[string]any)["parameters"] == nil {
		t.Errorf("info: %v", info)
	}
}

func TestSetDefaultModelTool(t *testing.T) {
	sub := newTestServer(t, "other-model")

	callJSON(t, sub, "set_default_model", map[string]any{
		"taskClass": "reasoning", "model": "other-model",
	})
	out := callJSON(t, sub, "reasoning", map[string]any{"prompt": "p"})
	if out["model"] != "other-model" {
		t.Errorf("override ignored: %v", out)
	}

	res := sub.Call(context.Background(), "set_default_model", map[string]any{
		"taskClass": "sorcery", "model": "x",
	})
	if !res.IsError {
		t.Error("unknown class must fail")
	}
}

func TestModelsResource(t *testing.T) {
	sub := newTestServer(t, "llama-chat")

	contents, err := sub.ReadResource(context.Background(), ModelsResourceURI)
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	var models []map[string]any
	if err := json.Unmarshal([]byte(contents.Text), &models); err != nil {
		t.Fatalf("resource is not JSON: %v", err)
	}
	if len(models) != 1 || models[0]["name"] != "llama-chat" {
		t.Errorf("models = %v", models)
	}
}
