//go:build !unix

package sandbox

import "errors"

const memoryLimitSupported = false

func applyMemoryLimit(int) error {
	return errors.New("memory limits are not supported on this platform")
}
