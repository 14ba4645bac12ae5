// Package subprocess implements the bare-subprocess sandbox backend:
// the second of spec.md §9's "dual executor variants," used only for
// one-shot execution. Grounded on
// original_source/backend/app/services/process_executor.py (restricted
// env, temp-dir-per-call, result.json contract) and
// code_wrapper.py (prelude/postlude script rendering), re-expressed as
// Go process management in the teacher's subprocess-launch idiom.
//
// The spec's sandbox configuration contract restricts this backend's
// mode to "no network at all," which rules out the loopback agent
// socket session mode depends on — this backend implements only
// RunOneShot; OpenSession/RunInSession/DropSession return
// backend.ErrSessionModeUnsupported.
package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cortexdata/cortex/internal/backend"
	"github.com/cortexdata/cortex/internal/domain"
	"github.com/cortexdata/cortex/internal/logging"
)

// Config holds bare-subprocess backend configuration.
type Config struct {
	PythonBin     string
	WorkDir       string
	RunAsUID      int
	RunAsGID      int
	MemoryLimitMB int64
}

// Backend runs one-shot code execution as a restricted child process
// on the host, for environments without a container runtime.
type Backend struct {
	cfg Config
}

// New constructs a subprocess backend, verifying the interpreter binary
// resolves. Per spec.md §4.4, an executor whose provider is unavailable
// must fail fast with SandboxUnavailable.
func New(cfg Config) (*Backend, error) {
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	if _, err := exec.LookPath(cfg.PythonBin); err != nil {
		return nil, domain.SandboxUnavailablef("python interpreter %q not found: %v", cfg.PythonBin, err)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &Backend{cfg: cfg}, nil
}

var _ backend.Backend = (*Backend)(nil)

// RunOneShot renders the user code into a prelude/postlude-wrapped
// script, runs it as a restricted child with a hard time limit, and
// always removes the working directory before returning.
func (b *Backend) RunOneShot(ctx context.Context, req backend.OneShotRequest) (domain.ResultEnvelope, error) {
	workDir := filepath.Join(b.cfg.WorkDir, uuid.NewString())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return domain.ResultEnvelope{}, fmt.Errorf("create one-shot work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	dataFile := ""
	if req.DataPath != "" {
		dataFile = filepath.Join(workDir, "data.parquet")
		data, err := os.ReadFile(req.DataPath)
		if err != nil {
			return domain.ResultEnvelope{}, domain.DataUnavailablef("reading staged data: %v", err)
		}
		if err := os.WriteFile(dataFile, data, 0o644); err != nil {
			return domain.ResultEnvelope{}, fmt.Errorf("stage data into work dir: %w", err)
		}
	}

	scriptPath := filepath.Join(workDir, "script.py")
	script := RenderScript(req.Code, dataFile != "")
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return domain.ResultEnvelope{}, fmt.Errorf("write script: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.cfg.PythonBin, "script.py")
	cmd.Dir = workDir
	cmd.Env = restrictedEnv()
	applyIsolation(cmd, b.cfg.RunAsUID, b.cfg.RunAsGID)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Op().Debug("starting one-shot subprocess", "work_dir", workDir, "timeout", timeout)

	err := cmd.Run()
	if runCtx.Err() != nil {
		killProcessGroup(cmd)
		return domain.ResultEnvelope{}, domain.Timeoutf("one-shot execution exceeded %s", timeout)
	}
	if err != nil {
		return domain.ResultEnvelope{}, domain.RuntimeFailuref("%s", stderr.String())
	}

	resultPath := filepath.Join(workDir, "result.json")
	envelope := domain.ResultEnvelope{Success: true, Stdout: stdout.String(), Stderr: stderr.String(), Variables: map[string]domain.SerializedValue{}}
	if raw, err := os.ReadFile(resultPath); err == nil {
		var parsed struct {
			Variables      map[string]domain.SerializedValue `json:"variables"`
			Visualizations []domain.Figure                   `json:"visualizations"`
		}
		if err := json.Unmarshal(raw, &parsed); err == nil {
			envelope.Variables = parsed.Variables
			envelope.Visualizations = parsed.Visualizations
		}
	}
	// Absence of result.json on a zero exit code leaves the envelope
	// above as is: successful, with the captured stdout/stderr and no
	// variables or visualizations.
	return envelope, nil
}

func (b *Backend) OpenSession(context.Context, string) (*backend.Sandbox, error) {
	return nil, backend.ErrSessionModeUnsupported
}

func (b *Backend) StageData(context.Context, *backend.Sandbox, []byte) (string, error) {
	return "", backend.ErrSessionModeUnsupported
}

func (b *Backend) RunInSession(context.Context, *backend.Sandbox, backend.SessionRunRequest) (domain.ResultEnvelope, error) {
	return domain.ResultEnvelope{}, backend.ErrSessionModeUnsupported
}

func (b *Backend) DropSession(context.Context, *backend.Sandbox) error {
	return backend.ErrSessionModeUnsupported
}

// restrictedEnv builds a strict allowlisted environment, grounded on
// process_executor.py's _get_restricted_env: prevents ambient secrets
// in the host environment from leaking into submitted code.
func restrictedEnv() []string {
	allowed := map[string]bool{
		"PATH": true, "LANG": true, "LC_ALL": true, "HOME": true,
		"USER": true, "TZ": true, "PYTHONPATH": true, "LD_LIBRARY_PATH": true,
	}
	var env []string
	for _, kv := range os.Environ() {
		for k := range allowed {
			if len(kv) > len(k) && kv[:len(k)+1] == k+"=" {
				env = append(env, kv)
				break
			}
		}
	}
	env = append(env, "PYTHONHASHSEED=0", "PYTHONDONTWRITEBYTECODE=1")
	return env
}
