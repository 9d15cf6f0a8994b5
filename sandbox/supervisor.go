package sandbox

import "time"

// Supervise waits for w to exit within timeout. On expiry it sends SIGTERM,
// waits up to grace, then SIGKILLs and waits for the reap. It reports whether
// the worker finished on its own. There are no retries.
func Supervise(w Worker, timeout, grace time.Duration) (completed bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case <-w.Done():
		return true
	case <-deadline.C:
	}

	_ = w.Terminate()

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case <-w.Done():
		return false
	case <-graceTimer.C:
	}

	_ = w.Kill()
	<-w.Done()
	return false
}
