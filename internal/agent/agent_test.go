package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// handleHealth never touches the worker, so a Server with an unstarted
// (nil-process) worker still reports healthy — the point of REDESIGN
// FLAG 1: liveness is independent of the worker's state.
func TestHandleHealthIgnoresWorkerState(t *testing.T) {
	s := New(Config{Addr: ":0", WorkDir: t.TempDir()})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want %q", body["status"], "ok")
	}
}

func TestHandleExecuteRejectsNonPost(t *testing.T) {
	s := New(Config{Addr: ":0", WorkDir: t.TempDir()})

	req := httptest.NewRequest(http.MethodGet, "/execute", nil)
	rec := httptest.NewRecorder()
	s.handleExecute(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleExecuteRejectsMalformedBody(t *testing.T) {
	s := New(Config{Addr: ":0", WorkDir: t.TempDir()})

	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	s.handleExecute(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
