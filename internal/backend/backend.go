// Package backend defines the polymorphic sandbox-provider role that
// spec.md's Design Notes call for: a single interface covering both
// one-shot and session-bound execution, so the Coordinator and the
// two executors (C4, C5) never care whether the sandbox underneath is
// a Docker container or a bare subprocess.
package backend

import (
	"context"
	"time"

	"github.com/cortexdata/cortex/internal/domain"
)

// OneShotRequest is what the One-Shot Executor (C4) hands to a backend.
type OneShotRequest struct {
	Code     string
	DataPath string // host path to a staged dataset file, empty if none
	Timeout  time.Duration
}

// Sandbox is a live sandbox handle, owned exclusively by the Session
// Executor (C5) once opened. Nothing outside that owner may start,
// stop, or reach into the sandbox it references.
type Sandbox struct {
	ID       string
	Endpoint string // loopback host:port of the in-sandbox agent
}

// SessionRunRequest is what the Session Executor hands to a backend
// for an already-open sandbox.
type SessionRunRequest struct {
	Code       string
	DataPath   string // in-sandbox path to a previously staged dataset
	ReloadData bool
	Timeout    time.Duration
}

// Backend is the sandbox-provider role: {run_one_shot, open_session,
// run_in_session, drop_session}. Selection between concrete
// implementations (Docker, subprocess) is configuration, per spec.md
// §9's "dual executor variants" note.
type Backend interface {
	// RunOneShot provisions a fresh sandbox, runs code exactly once,
	// and tears the sandbox down unconditionally before returning —
	// even on panic or context cancellation.
	RunOneShot(ctx context.Context, req OneShotRequest) (domain.ResultEnvelope, error)

	// OpenSession provisions a long-lived sandbox for sessionID and
	// blocks until its agent reports healthy.
	OpenSession(ctx context.Context, sessionID string) (*Sandbox, error)

	// StageData copies data into the sandbox filesystem at a
	// well-known path. Idempotent: repeated calls with identical
	// content are safe; the caller decides when to re-stage.
	StageData(ctx context.Context, sb *Sandbox, data []byte) (path string, err error)

	// RunInSession posts code to an already-open sandbox's agent.
	RunInSession(ctx context.Context, sb *Sandbox, req SessionRunRequest) (domain.ResultEnvelope, error)

	// DropSession stops the sandbox and releases any resources (ports,
	// working directories) associated with it.
	DropSession(ctx context.Context, sb *Sandbox) error
}

// ErrSessionModeUnsupported is returned by backends that implement
// only the one-shot role (e.g. the bare-subprocess backend, which the
// spec's sandbox configuration contract restricts to no network at
// all — incompatible with a loopback agent socket).
var ErrSessionModeUnsupported = domain.SandboxUnavailablef("backend does not support session mode")
