package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/snippetbox/policy"
)

func TestBuildEnvironment(t *testing.T) {
	env := BuildEnvironment(defaultPolicy(t))

	assert.Equal(t, []string{"json", "math", "random", "re", "statistics", "string", "time"}, env.Modules())
	assert.Equal(t,
		[]string{"collections", "datetime", "difflib", "functools", "itertools", "numpy", "pandas", "scipy", "textwrap"},
		env.UnavailableModules())

	callables := env.Callables()
	for _, name := range []string{"len", "print", "sorted", "sum", "map", "round", "hex"} {
		assert.Contains(t, callables, name)
	}
	for _, name := range []string{"getattr", "dir", "fail", "isinstance", "eval"} {
		assert.NotContains(t, callables, name)
	}

	assert.True(t, env.IsUniversal("True"))
	assert.True(t, env.IsUniversal("len"))
	assert.False(t, env.IsUniversal("getattr"))

	predeclared := env.Predeclared()
	assert.True(t, predeclared.Has("math"))
	assert.True(t, predeclared.Has(missingModuleBuiltin))
	assert.False(t, predeclared.Has("np"), "aliases of unavailable modules are not bound")
}

func TestBuildEnvironmentAliases(t *testing.T) {
	pol, err := policy.New(policy.Document{
		AllowedModules:  []string{"statistics"},
		ModuleAliases:   map[string][]string{"statistics": {"st"}},
		AllowedBuiltins: []string{"print"},
	})
	require.NoError(t, err)

	env := BuildEnvironment(pol)
	assert.Same(t, env.Namespaces["statistics"], env.Namespaces["st"])
	assert.Equal(t, []string{"print"}, env.Callables())
}

func TestBuildEnvironmentIsFresh(t *testing.T) {
	pol := defaultPolicy(t)
	first := BuildEnvironment(pol)
	second := BuildEnvironment(pol)

	assert.NotSame(t, first.Namespaces["random"], second.Namespaces["random"])
}
