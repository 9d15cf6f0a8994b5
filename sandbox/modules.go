package sandbox

import (
	"fmt"
	"math"
	"math/rand/v2"
	"regexp"
	"slices"
	"strings"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"gonum.org/v1/gonum/stat"
)

// moduleRegistry is the compiled-in set of namespaces a snippet can reach.
// Only names that are also in the policy allow-list are ever installed. Each
// constructor runs once per environment so no state crosses requests.
var moduleRegistry = map[string]func() starlark.Value{
	"json":       jsonModule,
	"math":       func() starlark.Value { return starlarkmath.Module },
	"random":     randomModule,
	"re":         reModule,
	"statistics": statisticsModule,
	"string":     stringModule,
	"time":       func() starlark.Value { return starlarktime.Module },
}

// RegisteredModules returns the names of the compiled-in namespaces.
func RegisteredModules() []string {
	names := make([]string, 0, len(moduleRegistry))
	for name := range moduleRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func jsonModule() starlark.Value {
	members := starlark.StringDict{}
	for k, v := range starlarkjson.Module.Members {
		members[k] = v
	}
	// Python spellings
	members["dumps"] = starlarkjson.Module.Members["encode"]
	members["loads"] = starlarkjson.Module.Members["decode"]
	return &starlarkstruct.Module{Name: "json", Members: members}
}

func stringModule() starlark.Value {
	const (
		lower  = "abcdefghijklmnopqrstuvwxyz"
		upper  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
		digits = "0123456789"
		punct  = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
		space  = " \t\n\r\x0b\x0c"
	)
	return &starlarkstruct.Module{
		Name: "string",
		Members: starlark.StringDict{
			"ascii_letters":   starlark.String(lower + upper),
			"ascii_lowercase": starlark.String(lower),
			"ascii_uppercase": starlark.String(upper),
			"digits":          starlark.String(digits),
			"hexdigits":       starlark.String(digits + "abcdefABCDEF"),
			"octdigits":       starlark.String("01234567"),
			"punctuation":     starlark.String(punct),
			"whitespace":      starlark.String(space),
			"printable":       starlark.String(digits + lower + upper + punct + space),
		},
	}
}

// --- statistics ---

func statisticsModule() starlark.Value {
	return &starlarkstruct.Module{
		Name: "statistics",
		Members: starlark.StringDict{
			"mean":      starlark.NewBuiltin("statistics.mean", statsFunc(1, unweighted(stat.Mean))),
			"median":    starlark.NewBuiltin("statistics.median", statsFunc(1, median)),
			"pvariance": starlark.NewBuiltin("statistics.pvariance", statsFunc(1, unweighted(stat.PopVariance))),
			"variance":  starlark.NewBuiltin("statistics.variance", statsFunc(2, unweighted(stat.Variance))),
			"pstdev":    starlark.NewBuiltin("statistics.pstdev", statsFunc(1, unweighted(stat.PopStdDev))),
			"stdev":     starlark.NewBuiltin("statistics.stdev", statsFunc(2, unweighted(stat.StdDev))),
			"mode":      starlark.NewBuiltin("statistics.mode", statsMode),
		},
	}
}

func statsFunc(minPoints int, fn func([]float64) float64) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var data starlark.Iterable
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &data); err != nil {
			return nil, err
		}
		values, err := floats(b.Name(), data)
		if err != nil {
			return nil, err
		}
		if len(values) < minPoints {
			return nil, fmt.Errorf("%s: requires at least %d data point(s)", b.Name(), minPoints)
		}
		return starlark.Float(fn(values)), nil
	}
}

func floats(name string, data starlark.Iterable) ([]float64, error) {
	iter := data.Iterate()
	defer iter.Done()

	var out []float64
	var x starlark.Value
	for iter.Next(&x) {
		f, ok := starlark.AsFloat(x)
		if !ok {
			return nil, fmt.Errorf("%s: got %s, want number", name, x.Type())
		}
		out = append(out, f)
	}
	return out, nil
}

func unweighted(fn func(x, weights []float64) float64) func([]float64) float64 {
	return func(d []float64) float64 { return fn(d, nil) }
}

// median averages the two middle points of an even-sized sample.
func median(d []float64) float64 {
	sorted := slices.Clone(d)
	slices.Sort(sorted)
	n := len(sorted)
	return stat.Mean(sorted[(n-1)/2:n/2+1], nil)
}

func statsMode(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &data); err != nil {
		return nil, err
	}

	counts := starlark.NewDict(0)
	var best starlark.Value
	bestCount := 0

	iter := data.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		n := 0
		if v, found, err := counts.Get(x); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		} else if found {
			if err := starlark.AsInt(v, &n); err != nil {
				return nil, err
			}
		}
		n++
		if err := counts.SetKey(x, starlark.MakeInt(n)); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		// First value to reach the highest count wins, as in Python.
		if n > bestCount {
			best, bestCount = x, n
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%s: no mode for empty data", b.Name())
	}
	return best, nil
}

// --- random ---

func randomModule() starlark.Value {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	return &starlarkstruct.Module{
		Name: "random",
		Members: starlark.StringDict{
			"seed": starlark.NewBuiltin("random.seed", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var seed int
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &seed); err != nil {
					return nil, err
				}
				*rng = *rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
				return starlark.None, nil
			}),
			"random": starlark.NewBuiltin("random.random", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
					return nil, err
				}
				return starlark.Float(rng.Float64()), nil
			}),
			"uniform": starlark.NewBuiltin("random.uniform", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var loArg, hiArg starlark.Value
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &loArg, &hiArg); err != nil {
					return nil, err
				}
				lo, okLo := starlark.AsFloat(loArg)
				hi, okHi := starlark.AsFloat(hiArg)
				if !okLo || !okHi {
					return nil, fmt.Errorf("%s: bounds must be numbers", b.Name())
				}
				return starlark.Float(lo + (hi-lo)*rng.Float64()), nil
			}),
			"randint": starlark.NewBuiltin("random.randint", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var lo, hi int
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &lo, &hi); err != nil {
					return nil, err
				}
				if hi < lo {
					return nil, fmt.Errorf("%s: empty range (%d, %d)", b.Name(), lo, hi)
				}
				if span := uint64(hi) - uint64(lo); span >= math.MaxInt64 {
					return nil, fmt.Errorf("%s: range (%d, %d) is too wide", b.Name(), lo, hi)
				}
				return starlark.MakeInt(lo + rng.IntN(hi-lo+1)), nil
			}),
			"choice": starlark.NewBuiltin("random.choice", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var seq starlark.Indexable
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &seq); err != nil {
					return nil, err
				}
				if seq.Len() == 0 {
					return nil, fmt.Errorf("%s: cannot choose from an empty sequence", b.Name())
				}
				return seq.Index(rng.IntN(seq.Len())), nil
			}),
			"shuffle": starlark.NewBuiltin("random.shuffle", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var list *starlark.List
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &list); err != nil {
					return nil, err
				}
				var err error
				rng.Shuffle(list.Len(), func(i, j int) {
					if err != nil {
						return
					}
					a, c := list.Index(i), list.Index(j)
					if err = list.SetIndex(i, c); err == nil {
						err = list.SetIndex(j, a)
					}
				})
				if err != nil {
					return nil, fmt.Errorf("%s: %w", b.Name(), err)
				}
				return starlark.None, nil
			}),
		},
	}
}

// --- re ---

// Patterns use RE2 syntax. Python-style \1 backreferences in replacement
// strings are translated; backreferences inside patterns are not supported.
var pyBackref = regexp.MustCompile(`\\(\d+)`)

func reModule() starlark.Value {
	return &starlarkstruct.Module{
		Name: "re",
		Members: starlark.StringDict{
			"search":    starlark.NewBuiltin("re.search", reMatcher(func(re *regexp.Regexp, s string) []int { return re.FindStringSubmatchIndex(s) })),
			"match":     starlark.NewBuiltin("re.match", reMatcher(anchoredMatch(false))),
			"fullmatch": starlark.NewBuiltin("re.fullmatch", reMatcher(anchoredMatch(true))),
			"findall":   starlark.NewBuiltin("re.findall", reFindall),
			"sub":       starlark.NewBuiltin("re.sub", reSub),
			"split":     starlark.NewBuiltin("re.split", reSplit),
		},
	}
}

func compilePattern(name, pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return re, nil
}

func anchoredMatch(full bool) func(*regexp.Regexp, string) []int {
	return func(re *regexp.Regexp, s string) []int {
		expr := `^(?:` + re.String() + `)`
		if full {
			expr += `$`
		}
		return regexp.MustCompile(expr).FindStringSubmatchIndex(s)
	}
}

func reMatcher(find func(*regexp.Regexp, string) []int) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var pattern, s string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "string", &s); err != nil {
			return nil, err
		}
		re, err := compilePattern(b.Name(), pattern)
		if err != nil {
			return nil, err
		}
		loc := find(re, s)
		if loc == nil {
			return starlark.None, nil
		}
		return newMatch(s, loc), nil
	}
}

func newMatch(s string, loc []int) starlark.Value {
	group := func(i int) starlark.Value {
		if loc[2*i] < 0 {
			return starlark.None
		}
		return starlark.String(s[loc[2*i]:loc[2*i+1]])
	}
	ngroups := len(loc)/2 - 1

	groups := make(starlark.Tuple, 0, ngroups)
	for i := 1; i <= ngroups; i++ {
		groups = append(groups, group(i))
	}

	return starlarkstruct.FromStringDict(starlark.String("match"), starlark.StringDict{
		"group": starlark.NewBuiltin("group", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			i := 0
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &i); err != nil {
				return nil, err
			}
			if i < 0 || i > ngroups {
				return nil, fmt.Errorf("group: no such group %d", i)
			}
			return group(i), nil
		}),
		"groups": starlark.NewBuiltin("groups", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return groups, nil
		}),
		"start": starlark.MakeInt(loc[0]),
		"end":   starlark.MakeInt(loc[1]),
	})
}

func reFindall(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, s string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "string", &s); err != nil {
		return nil, err
	}
	re, err := compilePattern(b.Name(), pattern)
	if err != nil {
		return nil, err
	}

	var out []starlark.Value
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		switch len(m) {
		case 1:
			out = append(out, starlark.String(m[0]))
		case 2:
			out = append(out, starlark.String(m[1]))
		default:
			tuple := make(starlark.Tuple, 0, len(m)-1)
			for _, g := range m[1:] {
				tuple = append(tuple, starlark.String(g))
			}
			out = append(out, tuple)
		}
	}
	return starlark.NewList(out), nil
}

func reSub(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, repl, s string
	count := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "repl", &repl, "string", &s, "count?", &count); err != nil {
		return nil, err
	}
	re, err := compilePattern(b.Name(), pattern)
	if err != nil {
		return nil, err
	}
	template := pyBackref.ReplaceAllString(strings.ReplaceAll(repl, "$", "$$"), "$${$1}")

	if count <= 0 {
		return starlark.String(re.ReplaceAllString(s, template)), nil
	}

	var sb strings.Builder
	last := 0
	for _, loc := range re.FindAllStringSubmatchIndex(s, count) {
		sb.WriteString(s[last:loc[0]])
		sb.Write(re.ExpandString(nil, template, s, loc))
		last = loc[1]
	}
	sb.WriteString(s[last:])
	return starlark.String(sb.String()), nil
}

func reSplit(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, s string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "string", &s); err != nil {
		return nil, err
	}
	re, err := compilePattern(b.Name(), pattern)
	if err != nil {
		return nil, err
	}

	parts := re.Split(s, -1)
	out := make([]starlark.Value, len(parts))
	for i, p := range parts {
		out[i] = starlark.String(p)
	}
	return starlark.NewList(out), nil
}
