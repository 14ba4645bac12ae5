package oneshot

import (
	"context"
	"errors"
	"testing"

	"github.com/cortexdata/cortex/internal/backend"
	"github.com/cortexdata/cortex/internal/dataref"
	"github.com/cortexdata/cortex/internal/domain"
	"github.com/cortexdata/cortex/internal/policy"
)

// fakeBackend captures the last RunOneShot request it received and
// returns a scripted envelope/error, grounded on the teacher's
// executor_payload_test.go capture-sink pattern.
type fakeBackend struct {
	lastReq backend.OneShotRequest
	result  domain.ResultEnvelope
	err     error
}

func (f *fakeBackend) RunOneShot(_ context.Context, req backend.OneShotRequest) (domain.ResultEnvelope, error) {
	f.lastReq = req
	return f.result, f.err
}
func (f *fakeBackend) OpenSession(context.Context, string) (*backend.Sandbox, error) {
	return nil, backend.ErrSessionModeUnsupported
}
func (f *fakeBackend) StageData(context.Context, *backend.Sandbox, []byte) (string, error) {
	return "", backend.ErrSessionModeUnsupported
}
func (f *fakeBackend) RunInSession(context.Context, *backend.Sandbox, backend.SessionRunRequest) (domain.ResultEnvelope, error) {
	return domain.ResultEnvelope{}, backend.ErrSessionModeUnsupported
}
func (f *fakeBackend) DropSession(context.Context, *backend.Sandbox) error {
	return backend.ErrSessionModeUnsupported
}

func testValidator() *policy.Validator {
	return policy.New(domain.Policy{
		AllowedImports: map[string]struct{}{"pandas": {}},
		DeniedTokens:   map[string]struct{}{},
		MaxCodeBytes:   domain.MaxCodeBytes,
	})
}

func TestRunRejectsInvalidCodeWithoutTouchingBackend(t *testing.T) {
	be := &fakeBackend{}
	ex := New(be, testValidator(), nil)

	_, err := ex.Run(context.Background(), domain.ExecutionRequest{Code: "import os"})
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("Run() = %v, want ErrPolicyViolation", err)
	}
	if be.lastReq.Code != "" {
		t.Fatalf("Run() dispatched to the backend despite a policy violation")
	}
}

func TestRunBoundsSuccessfulResult(t *testing.T) {
	rows := make([]map[string]any, domain.PreviewRowLimit+5)
	be := &fakeBackend{result: domain.ResultEnvelope{
		Success: true,
		Variables: map[string]domain.SerializedValue{
			"df": {Kind: domain.KindTable, TablePreview: rows},
		},
	}}
	ex := New(be, testValidator(), nil)

	env, err := ex.Run(context.Background(), domain.ExecutionRequest{Code: "x = 1"})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got := len(env.Variables["df"].TablePreview); got != domain.PreviewRowLimit {
		t.Fatalf("TablePreview length = %d, want %d (Run() must bound via serializer)", got, domain.PreviewRowLimit)
	}
}

func TestRunPropagatesBackendTimeout(t *testing.T) {
	be := &fakeBackend{err: domain.Timeoutf("exceeded 30s")}
	ex := New(be, testValidator(), nil)

	_, err := ex.Run(context.Background(), domain.ExecutionRequest{Code: "while True: pass"})
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("Run() = %v, want ErrTimeout", err)
	}
}

func TestRunResolvesAndStagesData(t *testing.T) {
	be := &fakeBackend{result: domain.ResultEnvelope{Success: true}}
	resolver := stubResolver{data: []byte("a,b\n1,2\n")}
	ex := New(be, testValidator(), resolver)

	_, err := ex.Run(context.Background(), domain.ExecutionRequest{
		Code: "x = 1",
		Data: &domain.TableHandle{URI: "file://d.csv"},
	})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if be.lastReq.DataPath == "" {
		t.Fatalf("Run() did not stage resolved data before dispatching to the backend")
	}
}

func TestRunWithoutResolverFailsWhenDataRequested(t *testing.T) {
	be := &fakeBackend{}
	ex := New(be, testValidator(), nil)

	_, err := ex.Run(context.Background(), domain.ExecutionRequest{
		Code: "x = 1",
		Data: &domain.TableHandle{URI: "file://d.csv"},
	})
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("Run() = %v, want ErrDataUnavailable", err)
	}
}

type stubResolver struct {
	data []byte
	err  error
}

func (s stubResolver) Resolve(context.Context, domain.TableHandle) ([]byte, error) {
	return s.data, s.err
}

var _ dataref.Resolver = stubResolver{}
