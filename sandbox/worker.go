package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/isdmx/snippetbox/policy"
)

// ResultFD is the file descriptor on which a worker writes its result.
const ResultFD = 3

// ReturnValueName is the global a snippet binds to hand back a value.
const ReturnValueName = "result"

const (
	snippetFilename = "<snippet>"
	maxRequestBytes = 16 << 20
)

// snippetFileOptions enables the Python constructs snippets commonly use.
var snippetFileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// WorkerRequest is the single message a worker reads from stdin.
type WorkerRequest struct {
	Code           string          `json:"code"`
	Policy         policy.Document `json:"policy"`
	MaxOutputBytes int             `json:"max_output_bytes"`
	MaxSteps       uint64          `json:"max_steps,omitempty"`
	MemoryMB       int             `json:"memory_mb,omitempty"`
}

// RunWorkerProcess is the entry point of a worker process. It reads the
// request from stdin and writes the result to ResultFD, returning the process
// exit code.
func RunWorkerProcess() int {
	out := os.NewFile(ResultFD, "result")
	if out == nil {
		fmt.Fprintln(os.Stderr, "worker: result descriptor is not open")
		return 2
	}
	defer out.Close()

	if err := ServeWorker(os.Stdin, out); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		return 1
	}
	return 0
}

// ServeWorker decodes one WorkerRequest from in, evaluates it and encodes the
// ExecutionResult to out. Any error return means no result was written.
func ServeWorker(in io.Reader, out io.Writer) error {
	var req WorkerRequest
	if err := json.NewDecoder(io.LimitReader(in, maxRequestBytes)).Decode(&req); err != nil {
		return fmt.Errorf("failed to decode worker request: %w", err)
	}

	if req.MemoryMB > 0 {
		if err := applyMemoryLimit(req.MemoryMB); err != nil {
			return fmt.Errorf("failed to apply memory limit: %w", err)
		}
	}

	pol, err := policy.New(req.Policy)
	if err != nil {
		return fmt.Errorf("invalid policy in worker request: %w", err)
	}

	result := Evaluate(req.Code, BuildEnvironment(pol), EvalOptions{
		MaxOutputBytes: req.MaxOutputBytes,
		MaxSteps:       req.MaxSteps,
		Diagnostics:    os.Stderr,
	})

	if err := json.NewEncoder(out).Encode(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

// EvalOptions bounds a single evaluation.
type EvalOptions struct {
	MaxOutputBytes int    // <= 0 means unbounded
	MaxSteps       uint64 // 0 means unbounded

	// Diagnostics receives host-side detail such as panic stacks that must
	// not reach the snippet's caller. Nil discards it.
	Diagnostics io.Writer
}

// Evaluate runs code against env in the current process. Callers outside a
// worker process get no isolation from it.
func Evaluate(code string, env *Environment, opts EvalOptions) (result ExecutionResult) {
	output := &limitedBuffer{limit: opts.MaxOutputBytes}

	defer func() {
		if r := recover(); r != nil {
			if opts.Diagnostics != nil {
				fmt.Fprintf(opts.Diagnostics, "worker: panic during evaluation: %v\n%s", r, debug.Stack())
			}
			result = ExecutionResult{
				Output:    output.String(),
				Error:     fmt.Sprintf("InternalError: %v", r),
				ErrorKind: ErrorKindRuntime,
			}
		}
	}()

	source := rewriteImports(code, env)
	predeclared := env.Predeclared()

	if err := check(source, predeclared, env); err != nil {
		return ExecutionResult{Output: output.String(), Error: err.Error(), ErrorKind: ErrorKindRuntime}
	}

	thread := &starlark.Thread{
		Name: "snippet",
		Print: func(_ *starlark.Thread, msg string) {
			output.WriteString(msg)
			output.WriteString("\n")
		},
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load is disabled: %s", module)
		},
	}
	if opts.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(opts.MaxSteps)
	}

	globals, err := starlark.ExecFileOptions(snippetFileOptions, thread, snippetFilename, source, predeclared)
	if err != nil {
		return ExecutionResult{Output: output.String(), Error: describeError(err), ErrorKind: ErrorKindRuntime}
	}

	return ExecutionResult{
		Success:     true,
		Output:      output.String(),
		ReturnValue: returnValue(thread, globals),
	}
}

// check parses and resolves source with only the allowed universe names
// visible, so that references to excluded builtins fail before anything runs.
func check(source string, predeclared starlark.StringDict, env *Environment) error {
	f, err := snippetFileOptions.Parse(snippetFilename, source, 0)
	if err != nil {
		return fmt.Errorf("SyntaxError: %v", err)
	}
	if err := resolve.File(f, predeclared.Has, env.IsUniversal); err != nil {
		var list resolve.ErrorList
		if errors.As(err, &list) && len(list) > 0 {
			return fmt.Errorf("NameError: %v", list[0])
		}
		return fmt.Errorf("NameError: %v", err)
	}
	return nil
}

func describeError(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		var impErr *importError
		if errors.As(err, &impErr) {
			return fmt.Sprintf("%s\n%s", impErr.Error(), evalErr.Backtrace())
		}
		return fmt.Sprintf("EvalError: %s\n%s", evalErr.Msg, evalErr.Backtrace())
	}
	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		return fmt.Sprintf("SyntaxError: %v", syntaxErr)
	}
	return fmt.Sprintf("Error: %v", err)
}

// returnValue encodes the snippet's "result" global, if any, as JSON.
func returnValue(thread *starlark.Thread, globals starlark.StringDict) json.RawMessage {
	v, ok := globals[ReturnValueName]
	if !ok {
		return nil
	}
	encoded, err := starlark.Call(thread, starlarkjson.Module.Members["encode"], starlark.Tuple{v}, nil)
	if err == nil {
		if s, ok := starlark.AsString(encoded); ok {
			return json.RawMessage(s)
		}
	}
	fallback, err := json.Marshal(v.String())
	if err != nil {
		return nil
	}
	return fallback
}
