// Package oneshot implements the One-Shot Executor (C4): validate,
// provision a fresh sandbox, run exactly once, tear the sandbox down
// unconditionally, and return the bounded result envelope.
package oneshot

import (
	"context"
	"errors"
	"time"

	"github.com/cortexdata/cortex/internal/backend"
	"github.com/cortexdata/cortex/internal/dataref"
	"github.com/cortexdata/cortex/internal/domain"
	"github.com/cortexdata/cortex/internal/metrics"
	"github.com/cortexdata/cortex/internal/policy"
	"github.com/cortexdata/cortex/internal/serializer"
)

// Executor runs one-shot executions against a Backend.
type Executor struct {
	Backend   backend.Backend
	Validator *policy.Validator
	Resolver  dataref.Resolver
}

// New builds a one-shot Executor.
func New(be backend.Backend, v *policy.Validator, resolver dataref.Resolver) *Executor {
	return &Executor{Backend: be, Validator: v, Resolver: resolver}
}

// Run validates req.Code, resolves req.Data if present, and dispatches
// to the backend. The backend guarantees sandbox teardown regardless
// of outcome (spec.md §4.4): RunOneShot's own defer handles that, so
// this layer only needs to stage data and classify the result.
func (e *Executor) Run(ctx context.Context, req domain.ExecutionRequest) (domain.ResultEnvelope, error) {
	start := time.Now()

	if err := e.Validator.Validate(req.Code); err != nil {
		metrics.Global().RecordPolicyRejection()
		return domain.ResultEnvelope{}, err
	}

	dataPath := ""
	if req.Data != nil {
		if e.Resolver == nil {
			return domain.ResultEnvelope{}, domain.DataUnavailablef("no data resolver configured")
		}
		raw, err := e.Resolver.Resolve(ctx, *req.Data)
		if err != nil {
			return domain.ResultEnvelope{}, err
		}
		dataPath, err = stageTemp(raw)
		if err != nil {
			return domain.ResultEnvelope{}, domain.DataUnavailablef("staging resolved data: %v", err)
		}
		defer cleanupTemp(dataPath)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	envelope, err := e.Backend.RunOneShot(ctx, backend.OneShotRequest{
		Code: req.Code, DataPath: dataPath, Timeout: timeout,
	})
	elapsed := time.Since(start)

	status := domain.StatusSuccess
	if err != nil {
		status = domain.StatusFailed
		if isTimeout(err) {
			status = domain.StatusTimeout
		} else if errors.Is(err, domain.ErrBackendFailure) || errors.Is(err, domain.ErrSandboxUnavailable) {
			metrics.Global().RecordSandboxFault()
		}
		metrics.Global().RecordExecution(string(domain.ModeOneShot), string(status), elapsed)
		return domain.ResultEnvelope{}, err
	}

	metrics.Global().RecordExecution(string(domain.ModeOneShot), string(status), elapsed)
	return serializer.Bound(envelope), nil
}
