// Package docker implements the container sandbox backend: the
// Docker-based half of spec.md's "dual executor variants" (§9), used
// by both the One-Shot Executor (C4) and the Session Executor (C5).
//
// Grounded on the teacher's internal/docker/manager.go container
// lifecycle (docker run / stop / rm, port allocation, agent-ready
// polling) but talks to the in-sandbox agent over plain HTTP+JSON
// (spec.md §6's wire protocol) instead of the teacher's vsock-style
// framed TCP protocol, since that protocol is specific to the
// teacher's own function-invocation agent.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cortexdata/cortex/internal/backend"
	"github.com/cortexdata/cortex/internal/backend/subprocess"
	"github.com/cortexdata/cortex/internal/domain"
	"github.com/cortexdata/cortex/internal/logging"
	"github.com/cortexdata/cortex/internal/metrics"
)

const agentPort = 5000

// Config holds Docker sandbox backend configuration.
type Config struct {
	ImagePrefix  string
	Network      string
	CodeDir      string
	PortRangeMin int
	PortRangeMax int
	AgentTimeout time.Duration
	SessionMemMB int64
	SessionCPU   float64
	OneShotMemMB int64
	OneShotCPU   float64
}

// Backend is the Docker-container sandbox provider. It implements
// internal/backend.Backend in full (one-shot and session roles).
type Backend struct {
	cfg      Config
	client   *http.Client
	nextPort int32

	mu        sync.Mutex
	workDirOf map[string]string // sandbox id -> host code dir, for cleanup
}

// New constructs a Docker backend, verifying the docker CLI is
// reachable. Per spec.md §4.4/§4.5, a provider that is unavailable at
// startup must fail every request with SandboxUnavailable rather than
// silently falling back to an in-process evaluator.
func New(cfg Config) (*Backend, error) {
	if err := os.MkdirAll(cfg.CodeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create code dir: %w", err)
	}
	if err := exec.Command("docker", "version").Run(); err != nil {
		return nil, domain.SandboxUnavailablef("docker not reachable: %v", err)
	}
	return &Backend{
		cfg:       cfg,
		client:    &http.Client{},
		nextPort:  int32(cfg.PortRangeMin),
		workDirOf: make(map[string]string),
	}, nil
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) allocatePort() int {
	p := atomic.AddInt32(&b.nextPort, 1) - 1
	if int(p) > b.cfg.PortRangeMax {
		atomic.StoreInt32(&b.nextPort, int32(b.cfg.PortRangeMin))
		p = int32(b.cfg.PortRangeMin)
	}
	return int(p)
}

// RunOneShot renders the user code into a prelude/postlude-wrapped
// script and runs it in a fresh, network-isolated container that exits
// on completion, per spec.md §4.5's "one-shot mode uses no network at
// all" — the loopback-agent HTTP path startContainer/post use for
// sessions would require a published port this mode must not have.
// Mirrors internal/backend/subprocess.RunOneShot's on-disk
// script.py/result.json protocol instead.
func (b *Backend) RunOneShot(ctx context.Context, req backend.OneShotRequest) (domain.ResultEnvelope, error) {
	id := "oneshot-" + uuid.NewString()[:8]
	codeDir := filepath.Join(b.cfg.CodeDir, id)
	if err := os.MkdirAll(codeDir, 0o755); err != nil {
		return domain.ResultEnvelope{}, fmt.Errorf("create one-shot work dir: %w", err)
	}
	defer os.RemoveAll(codeDir)

	hasData := false
	if req.DataPath != "" {
		data, err := os.ReadFile(req.DataPath)
		if err != nil {
			return domain.ResultEnvelope{}, domain.DataUnavailablef("reading staged data: %v", err)
		}
		if err := os.WriteFile(filepath.Join(codeDir, "data.parquet"), data, 0o644); err != nil {
			return domain.ResultEnvelope{}, fmt.Errorf("stage data into work dir: %w", err)
		}
		hasData = true
	}

	script := subprocess.RenderScript(req.Code, hasData)
	if err := os.WriteFile(filepath.Join(codeDir, "script.py"), []byte(script), 0o644); err != nil {
		return domain.ResultEnvelope{}, fmt.Errorf("write script: %w", err)
	}

	return b.runScriptContainer(ctx, id, codeDir, req.Timeout)
}

// runScriptContainer runs codeDir/script.py to completion inside a
// --network none container scoped to the one-shot memory/CPU limits,
// then reads back codeDir/result.json. Unlike startContainer, this
// container is not long-lived: docker run blocks until the script
// exits and --rm removes it immediately after.
func (b *Backend) runScriptContainer(ctx context.Context, id, codeDir string, timeout time.Duration) (domain.ResultEnvelope, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	containerName := "cortex-" + id
	image := b.cfg.ImagePrefix + "-python"
	args := []string{
		"run", "--rm",
		"--name", containerName,
		"-v", fmt.Sprintf("%s:/work:rw", codeDir),
		"-w", "/work",
		"--memory", fmt.Sprintf("%dm", b.cfg.OneShotMemMB),
		"--cpus", strconv.FormatFloat(b.cfg.OneShotCPU, 'f', 2, 64),
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--user", "10001:10001",
		"--network", "none",
		"--entrypoint", "python3",
		image, "script.py",
	}

	logging.Op().Debug("starting one-shot container", "image", image, "name", containerName)

	cmd := exec.CommandContext(runCtx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	metrics.Global().RecordVMCreated()
	err := cmd.Run()
	metrics.Global().RecordVMStopped()

	if runCtx.Err() != nil {
		// exec.CommandContext only kills the docker CLI, not the
		// container it started; kill it explicitly so --rm can reap it.
		_ = exec.Command("docker", "kill", containerName).Run()
		return domain.ResultEnvelope{}, domain.Timeoutf("one-shot execution exceeded %s", timeout)
	}
	if err != nil {
		return domain.ResultEnvelope{}, domain.RuntimeFailuref("%s", stderr.String())
	}

	resultPath := filepath.Join(codeDir, "result.json")
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

// OpenSession provisions a long-lived container for sessionID.
func (b *Backend) OpenSession(ctx context.Context, sessionID string) (*backend.Sandbox, error) {
	sb, codeDir, err := b.startContainer(ctx, "session-"+sessionID, b.cfg.SessionMemMB, b.cfg.SessionCPU)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.workDirOf[sb.ID] = codeDir
	b.mu.Unlock()
	return sb, nil
}

// StageData copies data into the sandbox's bind-mounted directory at
// a well-known path and returns the in-sandbox path. Writing the same
// bytes twice is a no-op overwrite — staging is naturally idempotent
// because it is just a file write.
func (b *Backend) StageData(_ context.Context, sb *backend.Sandbox, data []byte) (string, error) {
	b.mu.Lock()
	codeDir := b.workDirOf[sb.ID]
	b.mu.Unlock()
	if codeDir == "" {
		return "", domain.BackendFailuref("unknown sandbox %s", sb.ID)
	}
	hostPath := filepath.Join(codeDir, "data.parquet")
	if err := os.WriteFile(hostPath, data, 0o644); err != nil {
		return "", domain.BackendFailuref("staging data: %v", err)
	}
	return "/work/data.parquet", nil
}

// RunInSession posts code to the sandbox's already-running agent.
func (b *Backend) RunInSession(ctx context.Context, sb *backend.Sandbox, req backend.SessionRunRequest) (domain.ResultEnvelope, error) {
	// req.DataPath is set only when data was (re)staged for this call,
	// so the agent loads it exactly then.
	return b.post(ctx, sb, req.Code, req.DataPath, req.Timeout)
}

// DropSession stops and removes the container, per spec.md §4.5's
// "a crashed or unresponsive sandbox is always torn down, never reused."
func (b *Backend) DropSession(_ context.Context, sb *backend.Sandbox) error {
	b.mu.Lock()
	codeDir := b.workDirOf[sb.ID]
	delete(b.workDirOf, sb.ID)
	b.mu.Unlock()
	b.teardown(sb, codeDir)
	return nil
}

func (b *Backend) startContainer(ctx context.Context, namePrefix string, memMB int64, cpu float64) (*backend.Sandbox, string, error) {
	id := namePrefix + "-" + uuid.NewString()[:8]
	port := b.allocatePort()
	codeDir := filepath.Join(b.cfg.CodeDir, id)
	if err := os.MkdirAll(codeDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create work dir: %w", err)
	}

	containerName := "cortex-" + id
	image := b.cfg.ImagePrefix + "-python"

	args := []string{
		"run", "-d",
		"--name", containerName,
		"-p", fmt.Sprintf("127.0.0.1:%d:%d", port, agentPort),
		"-v", fmt.Sprintf("%s:/work:rw", codeDir),
		"--memory", fmt.Sprintf("%dm", memMB),
		"--cpus", strconv.FormatFloat(cpu, 'f', 2, 64),
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--user", "10001:10001",
		"--network", networkOrDefault(b.cfg.Network),
	}
	args = append(args, image)

	logging.Op().Debug("starting sandbox container", "image", image, "name", containerName, "port", port)

	cmd := exec.CommandContext(ctx, "docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.RemoveAll(codeDir)
		return nil, "", domain.SandboxUnavailablef("docker run failed: %v: %s", err, out)
	}

	sb := &backend.Sandbox{ID: id, Endpoint: fmt.Sprintf("127.0.0.1:%d", port)}

	timeout := b.cfg.AgentTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if err := waitForAgent(ctx, sb.Endpoint, timeout); err != nil {
		b.teardown(sb, codeDir)
		return nil, "", domain.SandboxUnavailablef("agent not ready: %v", err)
	}

	metrics.Global().RecordVMCreated()
	return sb, codeDir, nil
}

func (b *Backend) teardown(sb *backend.Sandbox, codeDir string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	containerName := "cortex-" + sb.ID
	_ = exec.CommandContext(ctx, "docker", "stop", "-t", "2", containerName).Run()
	_ = exec.CommandContext(ctx, "docker", "rm", "-f", containerName).Run()
	if codeDir != "" {
		os.RemoveAll(codeDir)
	}
	metrics.Global().RecordVMStopped()
}

func networkOrDefault(n string) string {
	if n == "" {
		return "bridge"
	}
	return n
}

func waitForAgent(ctx context.Context, addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 300*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
	}
	return fmt.Errorf("timeout waiting for agent on %s", addr)
}

// execRequest/execResponse mirror spec.md §6's agent wire protocol.
type execRequest struct {
	Code     string `json:"code"`
	DataPath string `json:"data_path,omitempty"`
}

type execResponse struct {
	Success        bool                               `json:"success"`
	Stdout         string                             `json:"stdout"`
	Stderr         string                             `json:"stderr"`
	Variables      map[string]domain.SerializedValue  `json:"variables"`
	Visualizations []domain.Figure                    `json:"visualizations"`
}

func (b *Backend) post(ctx context.Context, sb *backend.Sandbox, code, dataPath string, timeout time.Duration) (domain.ResultEnvelope, error) {
	body, _ := json.Marshal(execRequest{Code: code, DataPath: dataPath})

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, "http://"+sb.Endpoint+"/execute", bytes.NewReader(body))
	if err != nil {
		return domain.ResultEnvelope{}, domain.BackendFailuref("building request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if reqCtx.Err() != nil {
			return domain.ResultEnvelope{}, domain.Timeoutf("sandbox %s exceeded %s", sb.ID, timeout)
		}
		return domain.ResultEnvelope{}, domain.BackendFailuref("posting to agent: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ResultEnvelope{}, domain.BackendFailuref("reading agent response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.ResultEnvelope{}, domain.BackendFailuref("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var er execResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		return domain.ResultEnvelope{}, domain.BackendFailuref("decoding agent response: %v", err)
	}

	return domain.ResultEnvelope{
		Success:        er.Success,
		Variables:      er.Variables,
		Visualizations: er.Visualizations,
		Stdout:         er.Stdout,
		Stderr:         er.Stderr,
	}, nil
}
