package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cortexdata/cortex/internal/backend"
	"github.com/cortexdata/cortex/internal/domain"
	"github.com/cortexdata/cortex/internal/policy"
)

// fakeBackend is an in-memory backend.Backend: OpenSession/DropSession
// just count calls, RunInSession returns a scripted result. Grounded
// on the teacher's executor_payload_test.go capture-sink pattern.
type fakeBackend struct {
	mu         sync.Mutex
	opens      int
	drops      int
	stages     int
	runResult  domain.ResultEnvelope
	runErr     error
	lastRunReq backend.SessionRunRequest
}

func (f *fakeBackend) RunOneShot(context.Context, backend.OneShotRequest) (domain.ResultEnvelope, error) {
	return domain.ResultEnvelope{}, backend.ErrSessionModeUnsupported
}

func (f *fakeBackend) OpenSession(_ context.Context, sessionID string) (*backend.Sandbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return &backend.Sandbox{ID: sessionID, Endpoint: "127.0.0.1:0"}, nil
}

func (f *fakeBackend) StageData(_ context.Context, _ *backend.Sandbox, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages++
	return "/staged/data.parquet", nil
}

func (f *fakeBackend) RunInSession(_ context.Context, _ *backend.Sandbox, req backend.SessionRunRequest) (domain.ResultEnvelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRunReq = req
	return f.runResult, f.runErr
}

func (f *fakeBackend) DropSession(context.Context, *backend.Sandbox) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drops++
	return nil
}

func testValidator() *policy.Validator {
	return policy.New(domain.Policy{
		AllowedImports: map[string]struct{}{"pandas": {}},
		DeniedTokens:   map[string]struct{}{},
		MaxCodeBytes:   domain.MaxCodeBytes,
	})
}

func TestRunOpensSessionOnFirstCall(t *testing.T) {
	be := &fakeBackend{runResult: domain.ResultEnvelope{Success: true}}
	ex := New(Config{}, be, testValidator(), nil)

	_, err := ex.Run(context.Background(), "sess1", domain.ExecutionRequest{Code: "x = 1"})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if be.opens != 1 {
		t.Fatalf("OpenSession called %d times, want 1", be.opens)
	}

	_, err = ex.Run(context.Background(), "sess1", domain.ExecutionRequest{Code: "y = 2"})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if be.opens != 1 {
		t.Fatalf("OpenSession called %d times on second run, want still 1 (sandbox reused)", be.opens)
	}
}

func TestRunRejectsInvalidCode(t *testing.T) {
	be := &fakeBackend{}
	ex := New(Config{}, be, testValidator(), nil)

	_, err := ex.Run(context.Background(), "sess1", domain.ExecutionRequest{Code: "import os"})
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("Run() = %v, want ErrPolicyViolation", err)
	}
	if be.opens != 0 {
		t.Fatalf("Run() opened a sandbox despite a policy violation")
	}
}

func TestRunRestartsSandboxOnTimeout(t *testing.T) {
	be := &fakeBackend{runErr: domain.Timeoutf("exceeded")}
	ex := New(Config{}, be, testValidator(), nil)

	_, err := ex.Run(context.Background(), "sess1", domain.ExecutionRequest{Code: "while True: pass"})
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("Run() = %v, want ErrTimeout", err)
	}
	if be.drops != 1 {
		t.Fatalf("DropSession called %d times after a timeout, want 1 (restart)", be.drops)
	}
	if be.opens != 2 {
		t.Fatalf("OpenSession called %d times, want 2 (initial open + restart)", be.opens)
	}
}

func TestRunRejectsBeyondQueueDepth(t *testing.T) {
	block := make(chan struct{})
	be := &blockingBackend{fakeBackend: fakeBackend{runResult: domain.ResultEnvelope{Success: true}}, unblock: block, entered: make(chan struct{}, 2)}
	ex := New(Config{QueueDepth: 1}, be, testValidator(), nil)

	done := make(chan struct{}, 2)
	run := func(code string) {
		_, _ = ex.Run(context.Background(), "sess1", domain.ExecutionRequest{Code: code})
		done <- struct{}{}
	}

	// Wait until the first call is running inside the sandbox.
	go run("x = 1")
	<-be.entered

	// Wait until the second call holds the session's one waiting slot.
	go run("y = 2")
	for queued(ex, "sess1") < 2 {
		time.Sleep(time.Millisecond)
	}

	_, err := ex.Run(context.Background(), "sess1", domain.ExecutionRequest{Code: "z = 3"})
	if !errors.Is(err, domain.ErrSessionBusy) {
		t.Fatalf("Run() = %v, want ErrSessionBusy while one call runs and one waits", err)
	}

	close(block)
	<-done
	<-done
}

// queued reports how many admitted calls (running plus waiting) hold a
// slot in sessionID's queue.
func queued(ex *Executor, sessionID string) int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return len(ex.sessions[sessionID].queue)
}

func TestDropTearsDownSandbox(t *testing.T) {
	be := &fakeBackend{runResult: domain.ResultEnvelope{Success: true}}
	ex := New(Config{}, be, testValidator(), nil)

	if _, err := ex.Run(context.Background(), "sess1", domain.ExecutionRequest{Code: "x = 1"}); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if err := ex.Drop(context.Background(), "sess1"); err != nil {
		t.Fatalf("Drop() = %v", err)
	}
	if be.drops != 1 {
		t.Fatalf("DropSession called %d times, want 1", be.drops)
	}
	if ex.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0 after Drop", ex.ActiveCount())
	}
}

func TestDropUnknownSessionIsNoop(t *testing.T) {
	be := &fakeBackend{}
	ex := New(Config{}, be, testValidator(), nil)
	if err := ex.Drop(context.Background(), "never-opened"); err != nil {
		t.Fatalf("Drop() = %v, want nil for an unknown session", err)
	}
}

// blockingBackend holds RunInSession open until unblock is closed, so
// concurrent Run calls can observe the session's queue slots as held.
// Each call sends on entered (buffered by the test) as it starts.
type blockingBackend struct {
	fakeBackend
	unblock chan struct{}
	entered chan struct{}
}

func (b *blockingBackend) RunInSession(ctx context.Context, sb *backend.Sandbox, req backend.SessionRunRequest) (domain.ResultEnvelope, error) {
	b.entered <- struct{}{}
	<-b.unblock
	return b.fakeBackend.RunInSession(ctx, sb, req)
}
