package policy

import (
	"errors"
	"strings"
	"testing"

	"github.com/cortexdata/cortex/internal/domain"
)

func testPolicy() domain.Policy {
	return domain.Policy{
		AllowedImports: map[string]struct{}{
			"pandas": {}, "numpy": {}, "matplotlib": {},
		},
		DeniedTokens: map[string]struct{}{},
		MaxCodeBytes: domain.MaxCodeBytes,
	}
}

func TestValidateBasicArithmetic(t *testing.T) {
	v := New(testPolicy())
	if err := v.Validate("z = 10 + 20"); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsDisallowedImport(t *testing.T) {
	v := New(testPolicy())
	err := v.Validate("import os\nos.system('ls')")
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("Validate() = %v, want ErrPolicyViolation", err)
	}
}

func TestValidateRejectsDeniedCall(t *testing.T) {
	v := New(testPolicy())
	err := v.Validate("eval('1+1')")
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("Validate() = %v, want ErrPolicyViolation", err)
	}
}

func TestValidateRejectsDeniedAttribute(t *testing.T) {
	v := New(testPolicy())
	err := v.Validate("x = __builtins__")
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("Validate() = %v, want ErrPolicyViolation", err)
	}
}

func TestValidateAllowsAllowedImport(t *testing.T) {
	v := New(testPolicy())
	if err := v.Validate("import pandas as pd\ndf = pd.DataFrame()"); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsUnbalancedBrackets(t *testing.T) {
	v := New(testPolicy())
	err := v.Validate("x = (1 + 2")
	if !errors.Is(err, domain.ErrInvalidSyntax) {
		t.Fatalf("Validate() = %v, want ErrInvalidSyntax", err)
	}
}

func TestValidateRejectsUnterminatedString(t *testing.T) {
	v := New(testPolicy())
	err := v.Validate("x = 'unterminated")
	if !errors.Is(err, domain.ErrInvalidSyntax) {
		t.Fatalf("Validate() = %v, want ErrInvalidSyntax", err)
	}
}

func TestValidateRejectsOversizedCode(t *testing.T) {
	p := testPolicy()
	p.MaxCodeBytes = 10
	v := New(p)
	err := v.Validate(strings.Repeat("x", 100))
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("Validate() = %v, want ErrPolicyViolation", err)
	}
}

func TestValidateStripsNullBytes(t *testing.T) {
	v := New(testPolicy())
	if err := v.Validate("x = 1\x00\x00"); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateIgnoresDeniedTokenInComment(t *testing.T) {
	v := New(testPolicy())
	if err := v.Validate("# eval is mentioned here only in prose\nx = 1"); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateNoAllowlistPermitsAnyImport(t *testing.T) {
	p := domain.Policy{MaxCodeBytes: domain.MaxCodeBytes}
	v := New(p)
	if err := v.Validate("import json\njson.dumps({})"); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}
