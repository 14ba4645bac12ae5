// Package serializer implements the Coordinator-side half of the
// Result Serializer (C2): a defense-in-depth bound check over whatever
// JSON envelope the in-sandbox agent returns. The agent applies the
// same bounding rules when it builds the envelope; this package
// re-applies them so a misbehaving or compromised agent can never hand
// the Coordinator an unbounded payload.
package serializer

import (
	"encoding/json"

	"github.com/cortexdata/cortex/internal/domain"
)

// MaxScalarBytes bounds the JSON size of a value before it collapses
// from Scalar to Opaque.
const MaxScalarBytes = 8 * 1024

// Bound re-normalizes a ResultEnvelope returned by the agent,
// truncating previews and collapsing oversized scalars. It never
// mutates its input; it returns a new envelope.
func Bound(env domain.ResultEnvelope) domain.ResultEnvelope {
	out := domain.ResultEnvelope{
		Success:        env.Success,
		Stdout:         env.Stdout,
		Stderr:         env.Stderr,
		Variables:      make(map[string]domain.SerializedValue, len(env.Variables)),
		Visualizations: make([]domain.Figure, 0, len(env.Visualizations)),
	}

	for name, v := range env.Variables {
		// Identifiers beginning with "_" are never serialized (spec.md
		// §4.2); module/function objects never reach this layer because
		// the agent omits them before returning.
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		out.Variables[name] = boundValue(v)
	}

	for _, fig := range env.Visualizations {
		out.Visualizations = append(out.Visualizations, fig)
	}

	return out
}

func boundValue(v domain.SerializedValue) domain.SerializedValue {
	switch v.Kind {
	case domain.KindScalar:
		if len(v.Scalar) > MaxScalarBytes {
			return domain.SerializedValue{Kind: domain.KindOpaque, Opaque: string(v.Scalar)}
		}
		return v
	case domain.KindTable:
		if len(v.TablePreview) > domain.PreviewRowLimit {
			v.TablePreview = v.TablePreview[:domain.PreviewRowLimit]
		}
		return v
	case domain.KindSeries:
		if len(v.SeriesPreview) > domain.PreviewRowLimit {
			v.SeriesPreview = v.SeriesPreview[:domain.PreviewRowLimit]
		}
		return v
	case domain.KindArray:
		if len(v.ArrayPreviewFlat) > domain.PreviewFlatLimit {
			v.ArrayPreviewFlat = v.ArrayPreviewFlat[:domain.PreviewFlatLimit]
		}
		return v
	default:
		return v
	}
}

// ScalarOrOpaque classifies a raw JSON value as Scalar when it fits
// within MaxScalarBytes, or Opaque (its repr) otherwise.
func ScalarOrOpaque(raw json.RawMessage) domain.SerializedValue {
	if len(raw) <= MaxScalarBytes {
		return domain.SerializedValue{Kind: domain.KindScalar, Scalar: raw}
	}
	return domain.SerializedValue{Kind: domain.KindOpaque, Opaque: string(raw)}
}
