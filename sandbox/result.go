package sandbox

import (
	"encoding/json"
	"fmt"
)

// DefaultTimeoutSec is used when neither the request nor the configuration
// names a timeout.
const DefaultTimeoutSec = 30

// ErrorKind classifies why an execution did not succeed.
type ErrorKind string

// Error kinds reported in ExecutionResult.ErrorKind
const (
	ErrorKindSecurityRejected ErrorKind = "security_rejected"
	ErrorKindRuntime          ErrorKind = "runtime_error"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindNoResult         ErrorKind = "no_result"
	ErrorKindHostDispatch     ErrorKind = "host_dispatch"
)

// ExecuteRequest represents the parameters for snippet execution
type ExecuteRequest struct {
	Code       string
	TimeoutSec int // <= 0 selects the configured default
}

// ExecutionResult represents the outcome of one snippet execution.
// Success == false always comes with a non-empty Error.
type ExecutionResult struct {
	Success     bool            `json:"success"`
	Output      string          `json:"output"`
	Error       string          `json:"error"`
	ReturnValue json.RawMessage `json:"return_value"`
	ErrorKind   ErrorKind       `json:"error_kind,omitempty"`
}

// ExecutionStats are the executor's running counters.
type ExecutionStats struct {
	Total     uint64 `json:"total"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
}

func failure(kind ErrorKind, msg string) ExecutionResult {
	return ExecutionResult{Success: false, Error: msg, ErrorKind: kind}
}

func timeoutResult(timeoutSec int) ExecutionResult {
	return failure(ErrorKindTimeout, fmt.Sprintf("Execution timed out after %d seconds.", timeoutSec))
}

func noResult() ExecutionResult {
	return failure(ErrorKindNoResult, "No result returned from execution.")
}

func hostDispatch(err error) ExecutionResult {
	return failure(ErrorKindHostDispatch, fmt.Sprintf("Host dispatch error: %v", err))
}

// normalize enforces the success/error invariant on results that crossed the
// process boundary.
func normalize(r ExecutionResult) ExecutionResult {
	if r.Success {
		r.ErrorKind = ""
		return r
	}
	if r.Error == "" {
		r.Error = "Execution failed without an error message."
	}
	if r.ErrorKind == "" {
		r.ErrorKind = ErrorKindRuntime
	}
	return r
}
