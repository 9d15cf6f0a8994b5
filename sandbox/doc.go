// Package sandbox provides secure snippet execution capabilities.
//
// The sandbox package implements the execution engine for running untrusted
// Starlark snippets. Every request is screened by a static security gate,
// then evaluated in a freshly spawned worker process whose namespace only
// contains what the policy allows. The parent supervises the worker with a
// deadline and reads back exactly one result over a dedicated pipe.
//
// The security gate is a textual heuristic, not a parser. It rejects
// legitimate snippets that merely mention a denied word (for example "os"
// inside "cost" or inside a comment), and it cannot see access built up
// indirectly. The real containment comes from the worker process boundary and
// the restricted namespace; the gate only turns away obvious attempts early.
//
// Usage:
//
//	pol, _ := policy.Default()
//	executor, err := sandbox.NewExecutor(logger, &sandbox.Config{TimeoutSec: 30}, pol)
//	result := executor.Run(ctx, "print(2 + 2)", 5)
//	fmt.Print(result.Output) // 4
package sandbox
