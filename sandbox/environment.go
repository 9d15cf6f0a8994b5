package sandbox

import (
	"fmt"
	"slices"

	"go.starlark.net/starlark"

	"github.com/isdmx/snippetbox/policy"
)

// missingModuleBuiltin is what an import of an allow-listed but unavailable
// module is rewritten into.
const missingModuleBuiltin = "_missing_module"

// alwaysUniversal are Starlark constants, not callables; no policy can remove them.
var alwaysUniversal = []string{"True", "False", "None"}

// Environment is the restricted namespace a snippet runs against.
type Environment struct {
	// Builtins holds allow-listed builtins implemented outside the Starlark universe.
	Builtins starlark.StringDict
	// Namespaces holds library modules under their canonical and alias names.
	Namespaces starlark.StringDict

	universal   map[string]bool
	modules     map[string]bool // canonical names that were loaded
	unavailable map[string]bool // allow-listed canonical names that are not compiled in
}

// BuildEnvironment constructs a fresh environment from pol. It must run in
// the worker process; nothing it returns is shared with another request.
func BuildEnvironment(pol *policy.Policy) *Environment {
	env := &Environment{
		Builtins:    starlark.StringDict{},
		Namespaces:  starlark.StringDict{},
		universal:   make(map[string]bool),
		modules:     make(map[string]bool),
		unavailable: make(map[string]bool),
	}

	for _, name := range alwaysUniversal {
		env.universal[name] = true
	}

	for _, name := range pol.AllowedBuiltins() {
		if _, ok := starlark.Universe[name]; ok {
			env.universal[name] = true
			continue
		}
		if b, ok := extensionBuiltins[name]; ok {
			env.Builtins[name] = b
		}
		// Neither in the universe nor implemented: silently omitted.
	}

	for _, name := range pol.AllowedModules() {
		load, ok := moduleRegistry[name]
		if !ok {
			env.unavailable[name] = true
			continue
		}
		module := load()
		env.modules[name] = true
		env.Namespaces[name] = module
		for _, alias := range pol.Aliases(name) {
			env.Namespaces[alias] = module
		}
	}

	return env
}

// Predeclared returns the names installed in the snippet's global scope. It
// includes an internal helper used by rewritten import statements.
func (e *Environment) Predeclared() starlark.StringDict {
	out := make(starlark.StringDict, len(e.Builtins)+len(e.Namespaces)+1)
	for k, v := range e.Builtins {
		out[k] = v
	}
	for k, v := range e.Namespaces {
		out[k] = v
	}
	out[missingModuleBuiltin] = starlark.NewBuiltin(missingModuleBuiltin, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
			return nil, err
		}
		return nil, &importError{module: name}
	})
	return out
}

// importError is raised by rewritten imports of modules that are not loaded.
type importError struct {
	module string
}

func (e *importError) Error() string {
	return fmt.Sprintf("ImportError: No module named '%s'", e.module)
}

// IsUniversal reports whether name resolves to an allowed Starlark universe entry.
func (e *Environment) IsUniversal(name string) bool {
	return e.universal[name]
}

// HasModule reports whether the canonical module name was loaded.
func (e *Environment) HasModule(name string) bool {
	return e.modules[name]
}

// Modules returns the loaded canonical module names.
func (e *Environment) Modules() []string {
	return sortedSet(e.modules)
}

// UnavailableModules returns allow-listed modules that are not compiled in.
func (e *Environment) UnavailableModules() []string {
	return sortedSet(e.unavailable)
}

// Callables returns every callable name a snippet can reach directly.
func (e *Environment) Callables() []string {
	names := make([]string, 0, len(e.universal)+len(e.Builtins))
	for name := range e.universal {
		if _, ok := starlark.Universe[name].(starlark.Callable); ok {
			names = append(names, name)
		}
	}
	for name := range e.Builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
