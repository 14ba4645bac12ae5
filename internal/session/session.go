// Package session implements the Session Executor (C5): a long-lived
// sandbox per session_id with serialized execution, bounded queueing,
// and restart-on-timeout/fault. Grounded on spec.md §4.5's session
// lifecycle and the teacher's own per-resource-mutex pattern for
// serializing concurrent access to one stateful handle (simpler than
// the teacher's warm-pool/singleflight machinery in internal/pool,
// which solves a cold-start problem this spec does not have).
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cortexdata/cortex/internal/backend"
	"github.com/cortexdata/cortex/internal/dataref"
	"github.com/cortexdata/cortex/internal/domain"
	"github.com/cortexdata/cortex/internal/metrics"
	"github.com/cortexdata/cortex/internal/policy"
	"github.com/cortexdata/cortex/internal/serializer"
)

// Config configures the Session Executor.
type Config struct {
	// QueueDepth bounds how many callers may be waiting for a session's
	// turn before further submissions are rejected with
	// domain.ErrSessionBusy (REDESIGN FLAG: bounded queue depth 1 by
	// default, an explicit decision rather than an unbounded backlog).
	QueueDepth int

	// IdleTimeout evicts a session's sandbox after this long without a
	// run, via Sweep.
	IdleTimeout time.Duration
}

type entry struct {
	sandbox    *backend.Sandbox
	stagedHash string
	queue      chan struct{} // buffered to QueueDepth+1: the running call plus QueueDepth waiting ones
	run        sync.Mutex    // held for the duration of one in-sandbox call
	lastUsed   time.Time
	state      domain.SessionState
}

// Executor owns every live session's sandbox binding. Nothing outside
// it may start, stop, or reach into a sandbox it manages.
type Executor struct {
	cfg       Config
	Backend   backend.Backend
	Validator *policy.Validator
	Resolver  dataref.Resolver

	mu       sync.Mutex
	sessions map[string]*entry
}

// New builds a Session Executor.
func New(cfg Config, be backend.Backend, v *policy.Validator, resolver dataref.Resolver) *Executor {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Minute
	}
	return &Executor{
		cfg: cfg, Backend: be, Validator: v, Resolver: resolver,
		sessions: make(map[string]*entry),
	}
}

// Run validates req.Code and dispatches it to sessionID's sandbox,
// opening one if this is the session's first call. A session's calls
// are always serialized; if QueueDepth callers are already waiting,
// Run returns domain.ErrSessionBusy immediately rather than queueing
// further.
func (e *Executor) Run(ctx context.Context, sessionID string, req domain.ExecutionRequest) (domain.ResultEnvelope, error) {
	if err := e.Validator.Validate(req.Code); err != nil {
		metrics.Global().RecordPolicyRejection()
		return domain.ResultEnvelope{}, err
	}

	ent, err := e.acquire(ctx, sessionID)
	if err != nil {
		return domain.ResultEnvelope{}, err
	}
	select {
	case ent.queue <- struct{}{}:
	default:
		metrics.Global().RecordSessionBusy()
		return domain.ResultEnvelope{}, domain.SessionBusyf("session %s already has %d execution(s) queued", sessionID, e.cfg.QueueDepth)
	}
	defer func() { <-ent.queue }()
	ent.run.Lock()
	defer ent.run.Unlock()

	start := time.Now()
	dataPath, err := e.stageIfNeeded(ctx, ent, req)
	if err != nil {
		return domain.ResultEnvelope{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	envelope, runErr := e.Backend.RunInSession(ctx, ent.sandbox, backend.SessionRunRequest{
		Code: req.Code, DataPath: dataPath, ReloadData: req.ReloadData, Timeout: timeout,
	})
	elapsed := time.Since(start)

	e.mu.Lock()
	ent.lastUsed = time.Now()
	e.mu.Unlock()

	status := domain.StatusSuccess
	if runErr != nil {
		status = domain.StatusFailed
		switch {
		case errors.Is(runErr, domain.ErrTimeout):
			status = domain.StatusTimeout
			metrics.Global().RecordSessionTimeout()
			e.restart(sessionID, ent)
		case errors.Is(runErr, domain.ErrBackendFailure), errors.Is(runErr, domain.ErrSandboxUnavailable):
			metrics.Global().RecordSandboxFault()
			e.restart(sessionID, ent)
		}
		metrics.Global().RecordExecution(string(domain.ModeSession), string(status), elapsed)
		return domain.ResultEnvelope{}, runErr
	}

	metrics.Global().RecordExecution(string(domain.ModeSession), string(status), elapsed)
	return serializer.Bound(envelope), nil
}

// Drop tears down sessionID's sandbox and forgets it, per the
// Coordinator's drop_session operation.
func (e *Executor) Drop(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	ent, ok := e.sessions[sessionID]
	delete(e.sessions, sessionID)
	metrics.Global().SetActiveSessions(len(e.sessions))
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return e.Backend.DropSession(ctx, ent.sandbox)
}

// Sweep tears down any session whose sandbox has been idle longer than
// cfg.IdleTimeout. Intended to be called periodically by the daemon.
func (e *Executor) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-e.cfg.IdleTimeout)

	e.mu.Lock()
	stale := make([]string, 0)
	for id, ent := range e.sessions {
		if ent.lastUsed.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	e.mu.Unlock()

	for _, id := range stale {
		_ = e.Drop(ctx, id)
	}
}

// ActiveCount reports the number of live sessions, for metrics.
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *Executor) acquire(ctx context.Context, sessionID string) (*entry, error) {
	e.mu.Lock()
	ent, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if ok {
		return ent, nil
	}

	sb, err := e.Backend.OpenSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.sessions[sessionID]; ok {
		// Lost the race to another goroutine opening the same session;
		// tear down our redundant sandbox and use theirs.
		go e.Backend.DropSession(context.Background(), sb)
		return existing, nil
	}
	ent = &entry{
		sandbox:  sb,
		queue:    make(chan struct{}, e.cfg.QueueDepth+1),
		lastUsed: time.Now(),
		state:    domain.SessionReady,
	}
	e.sessions[sessionID] = ent
	metrics.Global().SetActiveSessions(len(e.sessions))
	return ent, nil
}

func (e *Executor) stageIfNeeded(ctx context.Context, ent *entry, req domain.ExecutionRequest) (string, error) {
	if req.Data == nil {
		return "", nil
	}
	if e.Resolver == nil {
		return "", domain.DataUnavailablef("no data resolver configured")
	}
	raw, err := e.Resolver.Resolve(ctx, *req.Data)
	if err != nil {
		return "", err
	}

	hash := dataref.Hash(raw)
	e.mu.Lock()
	alreadyStaged := ent.stagedHash == hash
	e.mu.Unlock()
	if alreadyStaged && !req.ReloadData {
		return "", nil
	}

	path, err := e.Backend.StageData(ctx, ent.sandbox, raw)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	ent.stagedHash = hash
	e.mu.Unlock()
	return path, nil
}

// restart replaces ent's sandbox with a fresh one after a timeout or
// fault, per spec.md §4.5: a session's sandbox is never reused once it
// has misbehaved, but the session_id itself survives.
func (e *Executor) restart(sessionID string, ent *entry) {
	e.mu.Lock()
	current, ok := e.sessions[sessionID]
	if !ok || current != ent {
		e.mu.Unlock()
		return
	}
	current.state = domain.SessionFaulted
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = e.Backend.DropSession(ctx, ent.sandbox)

	sb, err := e.Backend.OpenSession(ctx, sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if current, ok := e.sessions[sessionID]; ok && current == ent {
		if err != nil {
			delete(e.sessions, sessionID)
			metrics.Global().SetActiveSessions(len(e.sessions))
			return
		}
		ent.sandbox = sb
		ent.stagedHash = ""
		ent.state = domain.SessionReady
	}
}
