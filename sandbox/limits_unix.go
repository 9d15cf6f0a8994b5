//go:build unix

package sandbox

import "golang.org/x/sys/unix"

const memoryLimitSupported = true

// applyMemoryLimit caps the worker's address space. The Go runtime itself
// counts against the limit, so very small values stop the worker from
// starting at all.
func applyMemoryLimit(mb int) error {
	limit := uint64(mb) << 20
	return unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: limit, Max: limit})
}
