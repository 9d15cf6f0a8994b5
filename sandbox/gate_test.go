package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/snippetbox/policy"
)

func defaultPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	pol, err := policy.Default()
	require.NoError(t, err)
	return pol
}

func TestGateScreen(t *testing.T) {
	gate := NewGate(defaultPolicy(t), false)

	tests := []struct {
		name string
		code string
		want []Finding
	}{
		{"Arithmetic", "print(2 + 2)", nil},
		{"AllowedImport", "import math\nprint(math.sqrt(16))", nil},
		{"AllowedFromImport", "from statistics import mean", nil},
		{"FromWithoutImport", "# from here on", []Finding{{RuleModuleNotWhitelisted, "here"}}},
		{"DisallowedImport", "import os", []Finding{{RuleModuleNotWhitelisted, "os"}}},
		{"AllowedImportList", "import math, json as j, random", nil},
		{"DisallowedInImportList", "import math, urllib", []Finding{{RuleModuleNotWhitelisted, "urllib"}}},
		{"DisallowedAfterAlias", "import math as m, urllib", []Finding{{RuleModuleNotWhitelisted, "urllib"}}},
		{"DisallowedFirstInList", "import urllib as u, math", []Finding{{RuleModuleNotWhitelisted, "urllib"}}},
		{"DottedImport", "import os.path", []Finding{{RuleModuleNotWhitelisted, "os.path"}}},
		{"ListStopsAtLineEnd", "import math\nurllib = 1", nil},
		{"DisallowedFromImport", "from pathlib import Path", []Finding{{RuleModuleNotWhitelisted, "pathlib"}}},
		{"DeniedIdentifier", "x = eval('1')", []Finding{{RuleDeniedIdentifier, "eval"}}},
		{"CaseInsensitive", "X = EVAL('1')", []Finding{{RuleDeniedIdentifier, "eval"}}},
		{"DunderImport", "__import__('math')", []Finding{{RuleDeniedIdentifier, "__import__"}}},
		{"SubstringFalsePositive", "cost = 3", []Finding{{RuleDeniedIdentifier, "os"}}},
		{"CommentFalsePositive", "# open the door\nprint(1)", []Finding{{RuleDeniedIdentifier, "open"}}},
		{"ImportInsideString", "s = 'import pathlib'", []Finding{{RuleModuleNotWhitelisted, "pathlib"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.Screen(tt.code))
		})
	}
}

func TestGateImportCheckedBeforeDenyList(t *testing.T) {
	gate := NewGate(defaultPolicy(t), false)

	findings := gate.Screen("import os")
	require.Len(t, findings, 1)
	assert.Equal(t, RuleModuleNotWhitelisted, findings[0].Rule)
}

func TestGateCollectAll(t *testing.T) {
	gate := NewGate(defaultPolicy(t), true)

	findings := gate.Screen("import pathlib\nimport math, socket\nx = eval('1')")
	assert.Equal(t, []Finding{
		{RuleModuleNotWhitelisted, "pathlib"},
		{RuleModuleNotWhitelisted, "socket"},
		{RuleDeniedIdentifier, "eval"},
		{RuleDeniedIdentifier, "socket"},
	}, findings)
}

func TestGateMessage(t *testing.T) {
	pol := defaultPolicy(t)
	gate := NewGate(pol, false)

	t.Run("Module", func(t *testing.T) {
		msg := gate.Message(gate.Screen("import os"))
		assert.Equal(t, "Security: Module 'os' is not whitelisted. Allowed: "+strings.Join(pol.AllowedModules(), ", "), msg)
	})

	t.Run("Identifier", func(t *testing.T) {
		msg := gate.Message(gate.Screen("exec('x')"))
		assert.Equal(t, "Security: 'exec' is not allowed in code execution.", msg)
	})

	t.Run("LongTokenIsTruncated", func(t *testing.T) {
		long := strings.Repeat("a", 200)
		msg := gate.Message([]Finding{{RuleModuleNotWhitelisted, long}})
		assert.Contains(t, msg, "'"+strings.Repeat("a", maxReportedToken)+"...'")
		assert.NotContains(t, msg, strings.Repeat("a", maxReportedToken+1))
	})

	t.Run("Joined", func(t *testing.T) {
		msg := gate.Message([]Finding{{RuleDeniedIdentifier, "eval"}, {RuleDeniedIdentifier, "exec"}})
		assert.Equal(t, "Security: 'eval' is not allowed in code execution.; Security: 'exec' is not allowed in code execution.", msg)
	})
}
