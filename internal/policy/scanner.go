package policy

import (
	"regexp"
	"strings"
)

// importPattern matches "import x", "import x.y as z" and
// "from x.y import a, b" at statement start. It is intentionally
// line-oriented: the validator is advisory defense-in-depth ahead of
// an isolated sandbox, not a full parser, so it only needs to find the
// top-level module name on an import statement, not reconstruct the
// whole syntax tree.
var importPattern = regexp.MustCompile(`(?m)^\s*(?:from\s+([A-Za-z_][A-Za-z0-9_.]*)\s+import|import\s+([A-Za-z_][A-Za-z0-9_.]*))`)

// callPattern matches a bare identifier or dotted attribute access
// immediately followed by "(", e.g. "os.system(" or "eval(".
var callPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.]*)\s*\(`)

// identifierPattern matches any standalone dotted identifier reference,
// used to catch denied tokens referenced without a call, e.g.
// "os.environ" or "__builtins__".
var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_.]*`)

// commentStripPattern removes Python "# ..." line comments so denied
// tokens appearing only in comments don't trigger false positives, and
// so they can't be used to smuggle a real statement past a naive
// substring check on a later line.
var commentStripPattern = regexp.MustCompile(`#[^\n]*`)

// topLevelModule returns the first dotted component of a dotted name,
// e.g. "os.path" -> "os".
func topLevelModule(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// scanImports returns the top-level module name of every import
// statement found in code.
func scanImports(code string) []string {
	matches := importPattern.FindAllStringSubmatch(code, -1)
	modules := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		modules = append(modules, topLevelModule(name))
	}
	return modules
}

// scanIdentifiers returns every dotted identifier referenced in code,
// call or not, deduplicated. Used to check against denied_tokens.
func scanIdentifiers(code string) []string {
	stripped := commentStripPattern.ReplaceAllString(code, "")
	seen := make(map[string]struct{})
	var out []string
	for _, m := range identifierPattern.FindAllString(stripped, -1) {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// scanCalls returns the callee name of every call expression found in
// code, e.g. "eval(" -> "eval".
func scanCalls(code string) []string {
	stripped := commentStripPattern.ReplaceAllString(code, "")
	matches := callPattern.FindAllStringSubmatch(stripped, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
