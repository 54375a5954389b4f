// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("connection refused")
	he := New(CodeTransport, "peer unreachable", cause)

	if he.Code != CodeTransport {
		t.Errorf("expected CodeTransport, got %v", he.Code)
	}
	if he.Message != "peer unreachable" {
		t.Errorf("expected message 'peer unreachable', got %q", he.Message)
	}
	if !errors.Is(he, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
	if !he.Recoverable {
		t.Errorf("expected transport errors to be recoverable by default")
	}
}

func TestWithContext(t *testing.T) {
	he := New(CodeStore, "insert failed", nil).
		WithContext("backend", "sqlite").
		WithContext("name", "Bakery1")

	if he.Context["backend"] != "sqlite" {
		t.Errorf("expected context backend to be 'sqlite'")
	}
	if he.Context["name"] != "Bakery1" {
		t.Errorf("expected context name to be set")
	}
}

func TestWithRecoverable(t *testing.T) {
	he := New(CodeProtocol, "bad reply", nil)
	if he.Recoverable {
		t.Fatalf("expected protocol errors to be non-recoverable by default")
	}
	he.WithRecoverable(true)
	if !IsRecoverable(he) {
		t.Fatalf("expected recoverable after WithRecoverable(true)")
	}
}

func TestAsThroughWrapping(t *testing.T) {
	inner := New(CodeNotFound, "agent not found", nil)
	wrapped := fmt.Errorf("activation: %w", inner)

	he, ok := As(wrapped)
	if !ok || he != inner {
		t.Fatalf("expected As to find the wrapped HubnetError")
	}
	if CodeOf(wrapped) != CodeNotFound {
		t.Fatalf("expected CodeNotFound, got %s", CodeOf(wrapped))
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Fatalf("expected CodeInternal for foreign errors")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	he := New(CodeTimeout, "slow", nil)
	if Wrap(he) != he {
		t.Fatalf("expected Wrap to keep existing HubnetError")
	}
	w := Wrap(errors.New("boom"))
	if w.Code != CodeInternal {
		t.Fatalf("expected CodeInternal, got %s", w.Code)
	}
}

func TestStatusCodes(t *testing.T) {
	cases := map[ErrorCode]int{
		CodeNotFound:      http.StatusNotFound,
		CodeAlreadyExists: http.StatusConflict,
		CodeUnauthorized:  http.StatusForbidden,
		CodeInvalidInput:  http.StatusBadRequest,
		CodeTimeout:       http.StatusGatewayTimeout,
		CodeTransport:     http.StatusBadGateway,
		CodeInternal:      http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := New(code, "x", nil).StatusCode; got != want {
			t.Errorf("%s: expected %d, got %d", code, want, got)
		}
	}
}

func TestMarshalJSON(t *testing.T) {
	he := New(CodeMatcher, "unparsable output", errors.New("eof")).WithContext("hub", "Hub1")
	data, err := json.Marshal(he)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["code"] != "MATCHER_ERROR" {
		t.Errorf("expected code MATCHER_ERROR, got %v", out["code"])
	}
	if out["error"] != "eof" {
		t.Errorf("expected error eof, got %v", out["error"])
	}
}
