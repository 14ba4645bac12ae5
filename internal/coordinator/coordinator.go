// Package coordinator implements the Execution Coordinator (C6): the
// sole writer of domain.ExecutionRecord and the public entry point
// callers use (submit, get, validate, drop_session). It owns no
// sandbox state itself — that belongs to oneshot.Executor and
// session.Executor — only the record lifecycle and the choice between
// them.
package coordinator

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cortexdata/cortex/internal/dataref"
	"github.com/cortexdata/cortex/internal/domain"
	"github.com/cortexdata/cortex/internal/observability"
	"github.com/cortexdata/cortex/internal/oneshot"
	"github.com/cortexdata/cortex/internal/policy"
	"github.com/cortexdata/cortex/internal/recordstore"
	"github.com/cortexdata/cortex/internal/session"
)

// Quota is a caller-side admission hook the Coordinator consults before
// dispatch. original_source's rate_limiter.py is out of scope (an
// external collaborator per spec.md §1), but this no-op-by-default hook
// lets a caller wire one in without touching submit's internals.
type Quota interface {
	Allow(ctx context.Context, userID string) error
}

// AllowAll is the default Quota: it never rejects.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, string) error { return nil }

// Coordinator is the C6 public contract.
type Coordinator struct {
	Records   recordstore.Store
	Validator *policy.Validator
	Resolver  dataref.Resolver
	OneShot   *oneshot.Executor
	Sessions  *session.Executor
	Quota     Quota

	DefaultTimeout time.Duration
}

// New builds a Coordinator. quota may be nil, in which case AllowAll is used.
func New(records recordstore.Store, v *policy.Validator, resolver dataref.Resolver,
	oneShot *oneshot.Executor, sessions *session.Executor, quota Quota, defaultTimeout time.Duration) *Coordinator {
	if quota == nil {
		quota = AllowAll{}
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Coordinator{
		Records: records, Validator: v, Resolver: resolver,
		OneShot: oneShot, Sessions: sessions, Quota: quota, DefaultTimeout: defaultTimeout,
	}
}

// Submit runs the full C6 lifecycle described in spec.md §4.6: create
// the pending record, validate, resolve data, dispatch to the chosen
// executor, and persist exactly one terminal transition.
func (c *Coordinator) Submit(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionRecord, error) {
	ctx, span := observability.StartSpan(ctx, "coordinator.submit",
		observability.AttrMode.String(string(req.Mode)))
	defer span.End()

	executionID := newID()
	rec := domain.ExecutionRecord{
		ExecutionID: executionID,
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		Code:        req.Code,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now(),
	}
	if err := c.Records.Put(ctx, rec); err != nil {
		return domain.ExecutionRecord{}, err
	}

	if err := c.Quota.Allow(ctx, req.UserID); err != nil {
		c.fail(ctx, executionID, err)
		return c.Records.Get(ctx, executionID)
	}

	// Policy validation and a data-availability probe are independent of
	// each other; run them concurrently (errgroup, per the domain
	// stack's concurrent-pre-fetch wiring) so a DataUnavailable dataset
	// fails exactly as fast as a policy violation would. The probed
	// bytes are discarded; the executor performs its own resolve
	// immediately before staging, since the probe and the dispatch may
	// be arbitrarily far apart in time for session executions.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Validator.Validate(req.Code)
	})
	if req.Data != nil {
		g.Go(func() error {
			_, err := c.Resolver.Resolve(gctx, *req.Data)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		c.fail(ctx, executionID, err)
		return c.Records.Get(ctx, executionID)
	}

	now := time.Now()
	if err := c.Records.UpdateStatus(ctx, executionID, recordstore.StatusUpdate{
		Status: domain.StatusRunning, StartedAt: &now,
	}); err != nil {
		return domain.ExecutionRecord{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.DefaultTimeout
	}
	runReq := req
	runReq.Timeout = timeout

	var envelope domain.ResultEnvelope
	var runErr error
	if req.SessionID != "" {
		envelope, runErr = c.Sessions.Run(ctx, req.SessionID, runReq)
	} else {
		envelope, runErr = c.OneShot.Run(ctx, runReq)
	}

	completed := time.Now()
	elapsed := completed.Sub(now).Milliseconds()

	if runErr != nil {
		status := domain.StatusFailed
		if errors.Is(runErr, domain.ErrTimeout) {
			status = domain.StatusTimeout
		}
		stderr := runErr.Error()
		_ = c.Records.UpdateStatus(ctx, executionID, recordstore.StatusUpdate{
			Status: status, Stderr: &stderr, ElapsedMs: &elapsed, CompletedAt: &completed,
		})
		observability.SetSpanError(span, runErr)
		return c.Records.Get(ctx, executionID)
	}

	stdout, stderr := envelope.Stdout, envelope.Stderr
	_ = c.Records.UpdateStatus(ctx, executionID, recordstore.StatusUpdate{
		Status: domain.StatusSuccess, Stdout: &stdout, Stderr: &stderr,
		Result: &envelope, Visualizations: envelope.Visualizations,
		ElapsedMs: &elapsed, CompletedAt: &completed,
	})
	observability.SetSpanOK(span)
	return c.Records.Get(ctx, executionID)
}

// Get returns the current ExecutionRecord for executionID.
func (c *Coordinator) Get(ctx context.Context, executionID string) (domain.ExecutionRecord, error) {
	return c.Records.Get(ctx, executionID)
}

// Validate runs only the Policy Validator (C1), per spec.md §6.
func (c *Coordinator) Validate(code string) domain.ValidationResult {
	if err := c.Validator.Validate(code); err != nil {
		return domain.ValidationResult{Valid: false, Error: err.Error()}
	}
	return domain.ValidationResult{Valid: true}
}

// DropSession tears down a session's sandbox and forgets its handle.
func (c *Coordinator) DropSession(ctx context.Context, sessionID string) error {
	return c.Sessions.Drop(ctx, sessionID)
}

func (c *Coordinator) fail(ctx context.Context, executionID string, err error) {
	now := time.Now()
	stderr := err.Error()
	_ = c.Records.UpdateStatus(ctx, executionID, recordstore.StatusUpdate{
		Status: domain.StatusFailed, Stderr: &stderr, CompletedAt: &now,
	})
}
