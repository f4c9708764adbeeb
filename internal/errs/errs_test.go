package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified", New(KindNotFound, "graph: get entity", "no such node"), KindNotFound},
		{"wrapped classified", fmt.Errorf("outer: %w", New(KindDuplicate, "graph: create entity", "exists")), KindDuplicate},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), KindTimeout},
		{"plain", errors.New("boom"), KindInternal},
		{"nil chain wrap", Wrap(KindBackendUnavailable, "graph: connect", errors.New("refused")), KindBackendUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(KindInternal, "op", nil); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("call failed: %w", Newf(KindTimeout, "model: chat", "deadline after %d attempts", 3))
	if !errors.Is(err, New(KindTimeout, "", "")) {
		t.Fatal("expected errors.Is to match by kind")
	}
	if errors.Is(err, New(KindNotFound, "", "")) {
		t.Fatal("kinds must not cross-match")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(New(KindTimeout, "model: chat", "")) {
		t.Fatal("timeout must be retryable")
	}
	if !Retryable(New(KindBackendUnavailable, "model: chat", "")) {
		t.Fatal("backend unavailable must be retryable")
	}
	if Retryable(New(KindInvalidInput, "model: chat", "")) {
		t.Fatal("invalid input must not be retryable")
	}
	if Retryable(nil) {
		t.Fatal("nil must not be retryable")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidInput, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindGovernanceBlocked, http.StatusLocked},
		{KindBackendUnavailable, http.StatusServiceUnavailable},
		{KindTimeout, http.StatusServiceUnavailable},
		{KindDuplicate, http.StatusInternalServerError},
		{KindGovernanceInvalidFormat, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.kind); got != tt.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	e := &Error{Kind: KindNotFound, Op: "graph: get entity", Msg: "Person/p1", Err: errors.New("no rows")}
	want := "graph: get entity: Person/p1: no rows"
	if e.Error() != want {
		t.Fatalf("Error() = %q, want %q", e.Error(), want)
	}
}
