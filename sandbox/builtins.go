package sandbox

import (
	"fmt"
	"math"
	"math/big"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// extensionBuiltins fills in the allow-listed builtins the Starlark universe
// does not provide. Allow-listed names found in neither place are omitted.
var extensionBuiltins = map[string]*starlark.Builtin{
	"bin":    starlark.NewBuiltin("bin", intFormatter(2, "0b")),
	"divmod": starlark.NewBuiltin("divmod", builtinDivmod),
	"filter": starlark.NewBuiltin("filter", builtinFilter),
	"hex":    starlark.NewBuiltin("hex", intFormatter(16, "0x")),
	"map":    starlark.NewBuiltin("map", builtinMap),
	"oct":    starlark.NewBuiltin("oct", intFormatter(8, "0o")),
	"pow":    starlark.NewBuiltin("pow", builtinPow),
	"round":  starlark.NewBuiltin("round", builtinRound),
	"sum":    starlark.NewBuiltin("sum", builtinSum),
}

func builtinSum(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	acc := start
	var x starlark.Value
	for iter.Next(&x) {
		next, err := starlark.Binary(syntax.PLUS, acc, x)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		acc = next
	}
	return acc, nil
}

func builtinMap(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &iterable); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	var out []starlark.Value
	var x starlark.Value
	for iter.Next(&x) {
		y, err := starlark.Call(thread, fn, starlark.Tuple{x}, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, y)
	}
	return starlark.NewList(out), nil
}

func builtinFilter(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Value
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &iterable); err != nil {
		return nil, err
	}

	var callable starlark.Callable
	if fn != starlark.None {
		c, ok := fn.(starlark.Callable)
		if !ok {
			return nil, fmt.Errorf("%s: got %s, want callable or None", b.Name(), fn.Type())
		}
		callable = c
	}

	iter := iterable.Iterate()
	defer iter.Done()

	var out []starlark.Value
	var x starlark.Value
	for iter.Next(&x) {
		keep := x
		if callable != nil {
			y, err := starlark.Call(thread, callable, starlark.Tuple{x}, nil)
			if err != nil {
				return nil, err
			}
			keep = y
		}
		if keep.Truth() {
			out = append(out, x)
		}
	}
	return starlark.NewList(out), nil
}

func builtinDivmod(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
		return nil, err
	}
	q, err := starlark.Binary(syntax.SLASHSLASH, x, y)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	r, err := starlark.Binary(syntax.PERCENT, x, y)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.Tuple{q, r}, nil
}

func builtinPow(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var base, exp starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &base, &exp); err != nil {
		return nil, err
	}

	bi, baseIsInt := base.(starlark.Int)
	ei, expIsInt := exp.(starlark.Int)
	if baseIsInt && expIsInt && ei.Sign() >= 0 {
		if ei.BigInt().BitLen() > 32 {
			return nil, fmt.Errorf("%s: exponent too large", b.Name())
		}
		return starlark.MakeBigInt(new(big.Int).Exp(bi.BigInt(), ei.BigInt(), nil)), nil
	}

	bf, ok := starlark.AsFloat(base)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want number", b.Name(), base.Type())
	}
	ef, ok := starlark.AsFloat(exp)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want number", b.Name(), exp.Type())
	}
	return starlark.Float(math.Pow(bf, ef)), nil
}

// builtinRound rounds half to even, like Python.
func builtinRound(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	var ndigits starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "number", &x, "ndigits?", &ndigits); err != nil {
		return nil, err
	}

	if ndigits == starlark.None {
		if i, ok := x.(starlark.Int); ok {
			return i, nil
		}
		f, ok := starlark.AsFloat(x)
		if !ok {
			return nil, fmt.Errorf("%s: got %s, want number", b.Name(), x.Type())
		}
		return starlark.NumberToInt(starlark.Float(math.RoundToEven(f)))
	}

	var digits int
	if err := starlark.AsInt(ndigits, &digits); err != nil {
		return nil, fmt.Errorf("%s: ndigits: %w", b.Name(), err)
	}
	if i, ok := x.(starlark.Int); ok {
		if digits >= 0 {
			return i, nil
		}
		return roundInt(i, -digits), nil
	}
	f, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want number", b.Name(), x.Type())
	}
	scale := math.Pow(10, float64(digits))
	return starlark.Float(math.RoundToEven(f*scale) / scale), nil
}

// roundInt rounds i to a multiple of 10^places, ties to even.
func roundInt(i starlark.Int, places int) starlark.Int {
	n := i.BigInt()
	if len(new(big.Int).Abs(n).String()) < places {
		return starlark.MakeInt(0)
	}

	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(places)), nil)
	q, m := new(big.Int).DivMod(n, pow, new(big.Int))
	switch m.Lsh(m, 1).Cmp(pow) {
	case 1:
		q.Add(q, big.NewInt(1))
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, big.NewInt(1))
		}
	}
	return starlark.MakeBigInt(q.Mul(q, pow))
}

func intFormatter(base int, prefix string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Int
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		n := x.BigInt()
		sign := ""
		if n.Sign() < 0 {
			sign = "-"
			n.Neg(n)
		}
		return starlark.String(sign + prefix + n.Text(base)), nil
	}
}
