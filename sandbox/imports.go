package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// importListExpr matches "a", "a as b" and comma lists of those on one line.
// The gate and the rewriter both read import lists through it.
const importListExpr = `[\w.]+(?:[ \t]+as[ \t]+\w+)?(?:[ \t]*,[ \t]*[\w.]+(?:[ \t]+as[ \t]+\w+)?)*`

var (
	importStmt = regexp.MustCompile(`^(\s*)import\s+(.+)$`)
	fromStmt   = regexp.MustCompile(`^(\s*)from\s+([\w.]+)\s+import\s+(.+)$`)
	importItem = regexp.MustCompile(`^([\w.]+)(?:\s+as\s+(\w+))?$`)
)

type importSpec struct {
	name  string
	alias string
}

// parseImportList splits "a, b as c" into its items. It reports false when
// any item is malformed.
func parseImportList(s string) ([]importSpec, bool) {
	var specs []importSpec
	for _, item := range splitItems(s) {
		m := importItem.FindStringSubmatch(item)
		if m == nil {
			return nil, false
		}
		specs = append(specs, importSpec{name: m[1], alias: m[2]})
	}
	return specs, len(specs) > 0
}

// rewriteImports turns Python-style import statements into plain bindings
// against the environment, since Starlark has no import statement. Modules
// are already predeclared, so "import math" becomes a no-op, "import numpy as
// np" becomes "np = numpy" and "from math import sqrt" becomes
// "sqrt = math.sqrt". Importing anything that is not loaded raises at the
// point of the import. Lines that do not parse as a single-line import are
// left untouched and fail in the Starlark parser instead.
func rewriteImports(code string, env *Environment) string {
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		if rewritten, ok := rewriteImportLine(line, env); ok {
			lines[i] = rewritten
		}
	}
	return strings.Join(lines, "\n")
}

func rewriteImportLine(line string, env *Environment) (string, bool) {
	body, comment := splitComment(line)

	if m := fromStmt.FindStringSubmatch(body); m != nil {
		indent, module, names := m[1], m[2], strings.TrimSpace(m[3])
		if strings.HasPrefix(names, "(") && strings.HasSuffix(names, ")") {
			names = names[1 : len(names)-1]
		}
		if !env.HasModule(module) {
			return indent + missingModuleCall(module) + comment, true
		}

		specs, ok := parseImportList(names)
		if !ok {
			return "", false
		}
		stmts := make([]string, 0, len(specs))
		for _, spec := range specs {
			if strings.Contains(spec.name, ".") {
				return "", false
			}
			target := spec.name
			if spec.alias != "" {
				target = spec.alias
			}
			stmts = append(stmts, fmt.Sprintf("%s = %s.%s", target, module, spec.name))
		}
		return indent + strings.Join(stmts, "; ") + comment, true
	}

	if m := importStmt.FindStringSubmatch(body); m != nil {
		indent := m[1]
		specs, ok := parseImportList(m[2])
		if !ok {
			return "", false
		}
		stmts := make([]string, 0, len(specs))
		for _, spec := range specs {
			module, alias := spec.name, spec.alias
			switch {
			case !env.HasModule(module):
				stmts = append(stmts, missingModuleCall(module))
			case alias == "" || alias == module:
				stmts = append(stmts, "pass")
			default:
				stmts = append(stmts, fmt.Sprintf("%s = %s", alias, module))
			}
		}
		return indent + strings.Join(stmts, "; ") + comment, true
	}

	return "", false
}

func missingModuleCall(module string) string {
	return fmt.Sprintf("%s(%q)", missingModuleBuiltin, module)
}

func splitItems(s string) []string {
	var items []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

// splitComment separates a trailing # comment. Import lines never contain
// string literals, so the first # starts the comment.
func splitComment(line string) (body, comment string) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return strings.TrimRight(line[:i], " \t"), "  " + line[i:]
	}
	return strings.TrimRight(line, " \t\r"), ""
}
