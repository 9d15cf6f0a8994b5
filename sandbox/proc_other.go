//go:build !unix

package sandbox

import (
	"errors"
	"os"
	"os/exec"
)

func configureProcess(*exec.Cmd) {}

// Without process groups or SIGTERM there is no graceful stop.
func terminateProcess(p *os.Process) error {
	return killProcess(p)
}

func killProcess(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
