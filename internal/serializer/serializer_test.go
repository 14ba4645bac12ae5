package serializer

import (
	"encoding/json"
	"testing"

	"github.com/cortexdata/cortex/internal/domain"
)

func TestBoundDropsUnderscoreNames(t *testing.T) {
	env := domain.ResultEnvelope{
		Variables: map[string]domain.SerializedValue{
			"x":  {Kind: domain.KindScalar, Scalar: json.RawMessage(`1`)},
			"_y": {Kind: domain.KindScalar, Scalar: json.RawMessage(`2`)},
		},
	}
	out := Bound(env)
	if _, ok := out.Variables["_y"]; ok {
		t.Fatalf("Bound() kept underscore-prefixed name")
	}
	if _, ok := out.Variables["x"]; !ok {
		t.Fatalf("Bound() dropped a legitimate name")
	}
}

func TestBoundTruncatesTablePreview(t *testing.T) {
	rows := make([]map[string]any, domain.PreviewRowLimit+5)
	for i := range rows {
		rows[i] = map[string]any{"a": i}
	}
	env := domain.ResultEnvelope{
		Variables: map[string]domain.SerializedValue{
			"df": {Kind: domain.KindTable, TablePreview: rows},
		},
	}
	out := Bound(env)
	if got := len(out.Variables["df"].TablePreview); got != domain.PreviewRowLimit {
		t.Fatalf("TablePreview length = %d, want %d", got, domain.PreviewRowLimit)
	}
}

func TestBoundTruncatesArrayPreview(t *testing.T) {
	flat := make([]any, domain.PreviewFlatLimit+10)
	env := domain.ResultEnvelope{
		Variables: map[string]domain.SerializedValue{
			"arr": {Kind: domain.KindArray, ArrayPreviewFlat: flat},
		},
	}
	out := Bound(env)
	if got := len(out.Variables["arr"].ArrayPreviewFlat); got != domain.PreviewFlatLimit {
		t.Fatalf("ArrayPreviewFlat length = %d, want %d", got, domain.PreviewFlatLimit)
	}
}

func TestBoundCollapsesOversizedScalar(t *testing.T) {
	big := make([]byte, MaxScalarBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	env := domain.ResultEnvelope{
		Variables: map[string]domain.SerializedValue{
			"s": {Kind: domain.KindScalar, Scalar: json.RawMessage(big)},
		},
	}
	out := Bound(env)
	v := out.Variables["s"]
	if v.Kind != domain.KindOpaque {
		t.Fatalf("Kind = %v, want KindOpaque for an oversized scalar", v.Kind)
	}
}

func TestBoundDoesNotMutateInput(t *testing.T) {
	rows := make([]map[string]any, domain.PreviewRowLimit+1)
	env := domain.ResultEnvelope{
		Variables: map[string]domain.SerializedValue{
			"df": {Kind: domain.KindTable, TablePreview: rows},
		},
	}
	_ = Bound(env)
	if got := len(env.Variables["df"].TablePreview); got != domain.PreviewRowLimit+1 {
		t.Fatalf("Bound() mutated its input envelope")
	}
}

func TestScalarOrOpaque(t *testing.T) {
	small := json.RawMessage(`42`)
	if v := ScalarOrOpaque(small); v.Kind != domain.KindScalar {
		t.Fatalf("Kind = %v, want KindScalar for a small value", v.Kind)
	}

	big := make([]byte, MaxScalarBytes+1)
	if v := ScalarOrOpaque(big); v.Kind != domain.KindOpaque {
		t.Fatalf("Kind = %v, want KindOpaque for an oversized value", v.Kind)
	}
}
