package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/isdmx/snippetbox/policy"
)

// Security gate rule names
const (
	RuleModuleNotWhitelisted = "module_not_whitelisted"
	RuleDeniedIdentifier     = "denied_identifier"
)

// maxReportedToken bounds how much of a snippet ends up in an error message.
const maxReportedToken = 64

// importPattern is deliberately loose: it matches anywhere in the text,
// including inside strings and comments. The from-branch swallows a trailing
// "import" so that the imported names are not mistaken for modules. The
// import-branch takes the whole comma list, aliases included.
var importPattern = regexp.MustCompile(`from\s+(\w+)(?:\s+import)?|import\s+(` + importListExpr + `)`)

// Finding is a single reason the gate rejected a snippet.
type Finding struct {
	Rule  string `json:"rule"`
	Token string `json:"token"`
}

// Gate screens raw snippet text before any worker is spawned.
type Gate struct {
	policy     *policy.Policy
	collectAll bool
}

// NewGate creates a gate over pol. With collectAll the gate reports every
// finding instead of stopping at the first one; either way a single finding
// rejects the snippet.
func NewGate(pol *policy.Policy, collectAll bool) *Gate {
	return &Gate{policy: pol, collectAll: collectAll}
}

// Screen returns the findings for code. An empty result means the snippet may
// proceed to execution.
func (g *Gate) Screen(code string) []Finding {
	var findings []Finding

	for _, module := range importedModules(code) {
		if g.policy.AllowsModule(module) {
			continue
		}
		findings = append(findings, Finding{Rule: RuleModuleNotWhitelisted, Token: module})
		if !g.collectAll {
			return findings
		}
	}

	lowered := strings.ToLower(code)
	for _, denied := range g.policy.DeniedIdentifiers() {
		if !strings.Contains(lowered, denied) {
			continue
		}
		findings = append(findings, Finding{Rule: RuleDeniedIdentifier, Token: denied})
		if !g.collectAll {
			return findings
		}
	}

	return findings
}

// importedModules lists every module name code appears to import, in order
// of appearance.
func importedModules(code string) []string {
	var modules []string
	for _, match := range importPattern.FindAllStringSubmatch(code, -1) {
		if match[1] != "" {
			modules = append(modules, match[1])
			continue
		}
		specs, _ := parseImportList(match[2])
		for _, spec := range specs {
			modules = append(modules, spec.name)
		}
	}
	return modules
}

// Message renders the user-facing rejection text for findings.
func (g *Gate) Message(findings []Finding) string {
	msgs := make([]string, 0, len(findings))
	for _, f := range findings {
		token := maskToken(f.Token)
		switch f.Rule {
		case RuleModuleNotWhitelisted:
			msgs = append(msgs, fmt.Sprintf("Security: Module '%s' is not whitelisted. Allowed: %s",
				token, strings.Join(g.policy.AllowedModules(), ", ")))
		case RuleDeniedIdentifier:
			msgs = append(msgs, fmt.Sprintf("Security: '%s' is not allowed in code execution.", token))
		default:
			msgs = append(msgs, fmt.Sprintf("Security: rule %s rejected the code.", f.Rule))
		}
	}
	return strings.Join(msgs, "; ")
}

func maskToken(token string) string {
	if len(token) <= maxReportedToken {
		return token
	}
	return token[:maxReportedToken] + "..."
}
