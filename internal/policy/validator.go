// Package policy implements the Policy Validator (C1): a static,
// pre-sandbox check of submitted code against an allow/deny policy.
package policy

import (
	"strings"
	"unicode/utf8"

	"github.com/cortexdata/cortex/internal/domain"
)

// defaultDeniedTokens is the closed blocklist of free-function names
// and builtin attributes that are never permitted regardless of
// policy configuration: process spawning, raw sockets, dynamic-eval
// primitives, and reflection into the host builtins namespace. It names
// no filesystem functions; those are denied only when the policy's own
// DeniedTokens lists them.
var defaultDeniedTokens = []string{
	"eval", "exec", "compile", "__import__",
	"os.system", "os.popen", "os.fork", "os.exec",
	"subprocess", "socket", "ctypes",
	"__builtins__", "__globals__", "__subclasses__", "__bases__",
}

// Validator runs the C1 structural check against a fixed Policy.
type Validator struct {
	policy domain.Policy
	denied map[string]struct{}
}

// New builds a Validator from policy, folding in the closed blocklist
// of defaultDeniedTokens on top of whatever the policy itself denies.
func New(p domain.Policy) *Validator {
	denied := make(map[string]struct{}, len(p.DeniedTokens)+len(defaultDeniedTokens))
	for tok := range p.DeniedTokens {
		denied[tok] = struct{}{}
	}
	for _, tok := range defaultDeniedTokens {
		denied[tok] = struct{}{}
	}
	return &Validator{policy: p, denied: denied}
}

// Validate performs C1's two passes: sanitize + parse, then walk.
// It returns a classified domain error (ErrInvalidSyntax or
// ErrPolicyViolation) on failure, nil on success.
func (v *Validator) Validate(code string) error {
	clean, err := sanitize(code, v.maxCodeBytes())
	if err != nil {
		return err
	}

	if err := checkSyntax(clean); err != nil {
		return err
	}

	for _, module := range scanImports(clean) {
		if !v.importAllowed(module) {
			return domain.PolicyViolationf("import of %q is not in allowed_imports", module)
		}
	}

	for _, ident := range scanIdentifiers(clean) {
		if _, ok := v.denied[ident]; ok {
			return domain.PolicyViolationf("reference to denied token %q", ident)
		}
	}

	for _, call := range scanCalls(clean) {
		if _, ok := v.denied[call]; ok {
			return domain.PolicyViolationf("call to denied function %q", call)
		}
	}

	return nil
}

func (v *Validator) maxCodeBytes() int {
	if v.policy.MaxCodeBytes > 0 {
		return v.policy.MaxCodeBytes
	}
	return domain.MaxCodeBytes
}

func (v *Validator) importAllowed(module string) bool {
	if len(v.policy.AllowedImports) == 0 {
		// No allowlist configured: fall back to denying nothing beyond
		// the closed blocklist, which already covers the dangerous set.
		return true
	}
	_, ok := v.policy.AllowedImports[module]
	return ok
}

// sanitize strips null bytes and truncation-guards code length, the
// same normalization original_source's sanitizer applies before the
// structural check runs. A code body that is still over the limit
// after stripping is rejected outright rather than silently truncated,
// since truncating user code changes its meaning.
func sanitize(code string, maxBytes int) (string, error) {
	clean := strings.ReplaceAll(code, "\x00", "")
	if !utf8.ValidString(clean) {
		return "", domain.InvalidSyntaxf(0, 0, "code is not valid UTF-8")
	}
	if len(clean) > maxBytes {
		return "", domain.PolicyViolationf("code length %d exceeds max_code_bytes %d", len(clean), maxBytes)
	}
	return clean, nil
}

// checkSyntax performs a lightweight structural parse: balanced
// brackets and quotes. It is not a full Python grammar, but it catches
// the InvalidSyntax case the spec calls out (malformed code that would
// fail to parse) without needing a Python-aware parser dependency that
// does not exist anywhere in the pack this validator was grounded on.
func checkSyntax(code string) error {
	var stack []byte
	inString := byte(0)
	line, col := 1, 0
	escaped := false

	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}

	for i := 0; i < len(code); i++ {
		c := code[i]
		col++
		if c == '\n' {
			line++
			col = 0
		}

		if inString != 0 {
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == inString {
				inString = 0
			}
			continue
		}

		switch c {
		case '\'', '"':
			inString = c
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return domain.InvalidSyntaxf(line, col, "unmatched %q", string(c))
			}
			stack = stack[:len(stack)-1]
		}
	}

	if inString != 0 {
		return domain.InvalidSyntaxf(line, col, "unterminated string literal")
	}
	if len(stack) > 0 {
		return domain.InvalidSyntaxf(line, col, "unclosed %q", string(stack[len(stack)-1]))
	}
	return nil
}
