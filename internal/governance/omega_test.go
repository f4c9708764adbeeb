package governance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cortexhub/cortexhub/internal/config"
	"github.com/cortexhub/cortexhub/internal/errs"
	"github.com/cortexhub/cortexhub/internal/notebook"
)

func allOnConfig() config.GovernanceConfig {
	return config.GovernanceConfig{
		EnforceLogging:   true,
		BlockOnFailure:   true,
		RequireTimestamp: true,
		RequireSource:    true,
		RequireAction:    true,
		ISO8601Strict:    true,
		ValidateSchema:   true,
	}
}

func newTestOmega(t *testing.T) (*Omega, *notebook.Vault) {
	t.Helper()
	vault := notebook.NewVault(t.TempDir(), "Logs", "test")
	return New(allOnConfig(), vault, nil), vault
}

// unwritableVault returns a vault whose root path is occupied by a
// regular file, so EnsureWritable cannot create the directory.
func unwritableVault(t *testing.T) *notebook.Vault {
	t.Helper()
	blocker := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	return notebook.NewVault(blocker, "Logs", "test")
}

func TestValidateTimestampFormats(t *testing.T) {
	o, _ := newTestOmega(t)

	valid := []string{
		"2026-08-25T10:00:00Z",
		"2026-08-25T10:00:00.5Z",
		"2026-08-25T10:00:00.123Z",
	}
	for _, ts := range valid {
		rec := notebook.LogRecord{Timestamp: ts, Type: "t", Source: "s", Action: "a"}
		if err := o.Validate(rec); err != nil {
			t.Errorf("Validate(%q): %v", ts, err)
		}
	}

	invalid := []string{
		"",
		"2026-08-25 10:00:00Z",        // space separator
		"2026-08-25T10:00:00",         // missing Z
		"2026-08-25T10:00:00+02:00",   // offset instead of Z
		"2026-08-25T10:00:00.1234Z",   // too many fraction digits
		"2026-13-25T10:00:00Z",        // matches shape, fails parse
		"not a timestamp",
	}
	for _, ts := range invalid {
		rec := notebook.LogRecord{Timestamp: ts, Type: "t", Source: "s", Action: "a"}
		if err := o.Validate(rec); !errs.IsKind(err, errs.KindGovernanceInvalidFormat) {
			t.Errorf("Validate(%q): got %v, want governance_invalid_format", ts, err)
		}
	}
}

func TestValidateRequiredFields(t *testing.T) {
	o, _ := newTestOmega(t)
	base := notebook.LogRecord{Timestamp: Stamp(), Type: "t", Source: "s", Action: "a"}

	cases := map[string]notebook.LogRecord{
		"type":   {Timestamp: base.Timestamp, Source: "s", Action: "a"},
		"source": {Timestamp: base.Timestamp, Type: "t", Action: "a"},
		"action": {Timestamp: base.Timestamp, Type: "t", Source: "s"},
	}
	for name, rec := range cases {
		if err := o.Validate(rec); !errs.IsKind(err, errs.KindGovernanceInvalidFormat) {
			t.Errorf("missing %s: got %v", name, err)
		}
	}
	if err := o.Validate(base); err != nil {
		t.Errorf("complete record: %v", err)
	}
}

func TestValidateKnobsOff(t *testing.T) {
	cfg := allOnConfig()
	cfg.ValidateSchema = false
	o := New(cfg, notebook.NewVault(t.TempDir(), "Logs", "test"), nil)

	if err := o.Validate(notebook.LogRecord{}); err != nil {
		t.Errorf("validation disabled must accept anything: %v", err)
	}
}

func TestGovernWritesPreAndPostRecords(t *testing.T) {
	o, vault := newTestOmega(t)

	ran := false
	out, err := o.Govern(context.Background(), "tool_call", "graph-memory", "create_entity", nil,
		func(ctx context.Context) (any, error) {
			ran = true
			return "Person/p1", nil
		})
	if err != nil {
		t.Fatalf("Govern: %v", err)
	}
	if !ran || out != "Person/p1" {
		t.Fatalf("action outcome: ran=%v out=%v", ran, out)
	}

	_, body, err := vault.Read(vault.TodayLogName())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(body, ":: CREATE_ENTITY\n") {
		t.Error("missing pre-record")
	}
	if !strings.Contains(body, ":: CREATE_ENTITY_RESULT") {
		t.Error("missing post-record")
	}
	if !strings.Contains(body, "status: success") {
		t.Error("result record must summarize the outcome")
	}
}

func TestGovernRecordsFailures(t *testing.T) {
	o, vault := newTestOmega(t)

	_, err := o.Govern(context.Background(), "tool_call", "graph-memory", "get_entity", nil,
		func(ctx context.Context) (any, error) {
			return nil, errs.New(errs.KindNotFound, "graph: get entity", "Person/ghost")
		})
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("action error must propagate: %v", err)
	}

	_, body, err := vault.Read(vault.TodayLogName())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(body, "status: error") || !strings.Contains(body, "kind: not_found") {
		t.Errorf("result record must carry the failure:\n%s", body)
	}
}

func TestGovernBlocksWhenVaultUnwritable(t *testing.T) {
	o := New(allOnConfig(), unwritableVault(t), nil)

	ran := false
	_, err := o.Govern(context.Background(), "tool_call", "graph-memory", "create_entity", nil,
		func(ctx context.Context) (any, error) {
			ran = true
			return nil, nil
		})
	if !errs.IsKind(err, errs.KindGovernanceBlocked) {
		t.Fatalf("got %v, want governance_blocked", err)
	}
	if ran {
		t.Fatal("blocked action must never execute")
	}
}

func TestGovernContinuesWhenBlockingDisabled(t *testing.T) {
	cfg := allOnConfig()
	cfg.BlockOnFailure = false
	cfg.EnforceLogging = false
	o := New(cfg, unwritableVault(t), nil)

	ran := false
	_, err := o.Govern(context.Background(), "tool_call", "graph-memory", "create_entity", nil,
		func(ctx context.Context) (any, error) {
			ran = true
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("Govern with blocking off: %v", err)
	}
	if !ran {
		t.Fatal("action must run when blocking is disabled")
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	o, vault := newTestOmega(t)

	handler := o.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	req := httptest.NewRequest(http.MethodPost, "/tools/call", nil)
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	if rw.Code != http.StatusCreated {
		t.Fatalf("status = %d", rw.Code)
	}

	_, body, err := vault.Read(vault.TodayLogName())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(body, "POST /tools/call") {
		t.Error("missing request record")
	}
	if !strings.Contains(body, "_RESULT") || !strings.Contains(body, "status: 201") {
		t.Errorf("missing result record with status:\n%s", body)
	}
}

func TestMiddlewareBlocksOnUnwritableVault(t *testing.T) {
	o := New(allOnConfig(), unwritableVault(t), nil)

	ran := false
	handler := o.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
	}))
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/anything", nil))

	if rw.Code != http.StatusLocked {
		t.Fatalf("status = %d, want 423", rw.Code)
	}
	if ran {
		t.Fatal("handler must not run when governance blocks")
	}
}
