// Package domain holds the core data model for the execution core:
// requests, persisted execution records, the result envelope and its
// tagged value variants, sessions, and policy configuration.
package domain

import (
	"encoding/json"
	"time"
)

// Mode selects which backend handles an execution.
type Mode string

const (
	ModeOneShot Mode = "one_shot"
	ModeSession Mode = "session"
)

func (m Mode) IsValid() bool {
	switch m {
	case ModeOneShot, ModeSession:
		return true
	}
	return false
}

// Status is the lifecycle state of an ExecutionRecord. Transitions are
// monotonic: pending -> running -> {success, failed, timeout}.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// TableHandle references a columnar dataset resolvable to bytes by a
// dataref.Resolver. The core never interprets the contents itself.
type TableHandle struct {
	URI         string `json:"uri"`
	ContentType string `json:"content_type,omitempty"`
}

// ExecutionRequest is the caller-facing input to the Coordinator.
type ExecutionRequest struct {
	UserID     string       `json:"user_id"`
	Code       string       `json:"code"`
	Data       *TableHandle `json:"data,omitempty"`
	SessionID  string       `json:"session_id,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	Mode       Mode         `json:"mode"`
	ReloadData bool         `json:"reload_data"`
}

// MaxCodeBytes is the hard ceiling on submitted code size (spec: ≤100 KiB).
const MaxCodeBytes = 100 * 1024

// ExecutionRecord is the persisted lifecycle row. The Coordinator is its
// sole writer: created in StatusPending before dispatch, finalized after
// the backend returns.
type ExecutionRecord struct {
	ExecutionID    string     `json:"execution_id"`
	UserID         string     `json:"user_id"`
	SessionID      string     `json:"session_id,omitempty"`
	Code           string     `json:"code"`
	Status         Status     `json:"status"`
	Stdout         string     `json:"stdout,omitempty"`
	Stderr         string     `json:"stderr,omitempty"`
	Result         *ResultEnvelope `json:"result_envelope,omitempty"`
	Visualizations []Figure   `json:"visualizations,omitempty"`
	ElapsedMs      *int64     `json:"elapsed_ms,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the record has reached one of the three
// terminal statuses.
func (r *ExecutionRecord) Terminal() bool {
	switch r.Status {
	case StatusSuccess, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// ValueKind tags the variant held by a SerializedValue.
type ValueKind string

const (
	KindScalar ValueKind = "scalar"
	KindTable  ValueKind = "table"
	KindSeries ValueKind = "series"
	KindArray  ValueKind = "array"
	KindOpaque ValueKind = "opaque"
)

// PreviewRowLimit and PreviewFlatLimit bound Table/Series and Array
// previews respectively, per spec.
const (
	PreviewRowLimit  = 10
	PreviewFlatLimit = 20
)

// SerializedValue is a tagged variant produced by the Result Serializer
// (C2) for one bound variable in the agent's persistent environment.
// Exactly one of the Scalar/Table/Series/Array/Opaque fields is set,
// selected by Kind.
type SerializedValue struct {
	Kind ValueKind `json:"kind"`

	Scalar json.RawMessage `json:"scalar,omitempty"`

	TableShape   []int             `json:"table_shape,omitempty"`
	TableColumns []string          `json:"table_columns,omitempty"`
	TablePreview []map[string]any  `json:"table_preview,omitempty"`

	SeriesLength  int   `json:"series_length,omitempty"`
	SeriesPreview []any `json:"series_preview,omitempty"`

	ArrayShape       []int `json:"array_shape,omitempty"`
	ArrayPreviewFlat []any `json:"array_preview_flat,omitempty"`

	Opaque string `json:"opaque,omitempty"`
}

// FigureKind distinguishes a raster capture from a vector spec.
type FigureKind string

const (
	FigureRaster FigureKind = "raster"
	FigureVector FigureKind = "vector"
)

// Figure is a captured visualization. Raster figures carry base64 PNG
// bytes; vector figures carry an opaque structured spec (e.g. a plotly
// figure-to-json document).
type Figure struct {
	Kind      FigureKind      `json:"kind"`
	Format    string          `json:"format,omitempty"` // "png" for raster
	Base64    string          `json:"base64,omitempty"`
	SpecJSON  json.RawMessage `json:"spec_json,omitempty"`
}

// ResultEnvelope is the bounded, JSON-shaped output of one execution,
// returned by the Agent (C3) and renormalized by the Coordinator (C6)
// through the serializer (C2).
type ResultEnvelope struct {
	Success        bool                       `json:"success"`
	Variables      map[string]SerializedValue `json:"variables"`
	Visualizations []Figure                   `json:"visualizations"`
	Stdout         string                     `json:"stdout"`
	Stderr         string                     `json:"stderr"`
}

// SessionState is the lifecycle state of a live sandbox binding.
type SessionState string

const (
	SessionWarming SessionState = "warming"
	SessionReady   SessionState = "ready"
	SessionEvicted SessionState = "evicted"
	SessionFaulted SessionState = "faulted"
)

// Session binds a caller-visible session_id to exactly one live
// sandbox. Owned exclusively by the Session Executor (C5); nothing
// outside it may start, stop, or reach into the sandbox it references.
type Session struct {
	SessionID     string
	SandboxHandle string
	Endpoint      string
	CreatedAt     time.Time
	LastUsedAt    time.Time
	State         SessionState
}

// Policy is immutable configuration consulted by the Policy Validator
// (C1) and the backends it advises.
type Policy struct {
	AllowedImports   map[string]struct{}
	DeniedTokens     map[string]struct{}
	MaxCodeBytes     int
	DefaultTimeout   time.Duration
	MemoryLimitBytes int64
	CPUQuotaFraction float64
}

// ValidationResult is the outcome of running C1 alone, as exposed by
// the Coordinator's validate() operation.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}
