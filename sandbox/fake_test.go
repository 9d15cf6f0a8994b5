package sandbox

import (
	"sync"
	"sync/atomic"
)

type fakeWorker struct {
	done     chan struct{}
	exitOnce sync.Once

	result    ExecutionResult
	resultErr error

	exitOnTerminate bool
	terminated      atomic.Bool
	killed          atomic.Bool
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{done: make(chan struct{})}
}

// finished returns a worker that has already exited with result.
func finished(result ExecutionResult) *fakeWorker {
	w := newFakeWorker()
	w.result = result
	w.exit()
	return w
}

func (w *fakeWorker) exit() {
	w.exitOnce.Do(func() { close(w.done) })
}

func (w *fakeWorker) PID() int { return 4242 }

func (w *fakeWorker) Done() <-chan struct{} { return w.done }

func (w *fakeWorker) Terminate() error {
	w.terminated.Store(true)
	if w.exitOnTerminate {
		w.exit()
	}
	return nil
}

func (w *fakeWorker) Kill() error {
	w.killed.Store(true)
	w.exit()
	return nil
}

func (w *fakeWorker) Result() (ExecutionResult, error) {
	<-w.done
	return w.result, w.resultErr
}

func (w *fakeWorker) Diagnostics() string { return "fake worker" }

type fakeSpawner struct {
	mu       sync.Mutex
	requests []WorkerRequest
	spawn    func(WorkerRequest) (Worker, error)
}

func (s *fakeSpawner) Spawn(req WorkerRequest) (Worker, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.spawn(req)
}

func (s *fakeSpawner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
