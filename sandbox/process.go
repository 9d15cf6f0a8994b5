package sandbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrNoResult means a worker exited without writing a result.
var ErrNoResult = errors.New("no result returned from worker")

const (
	defaultMaxResultBytes = 8 << 20
	maxDiagnosticBytes    = 16 << 10
	defaultWaitDelay      = time.Second
)

// Worker is a running isolated worker.
type Worker interface {
	PID() int
	// Done is closed once the worker has exited and been reaped.
	Done() <-chan struct{}
	// Terminate asks the worker to stop; Kill forces it.
	Terminate() error
	Kill() error
	// Result returns the worker's single result. Only valid after Done.
	Result() (ExecutionResult, error)
	// Diagnostics describes how the worker exited, for logging.
	Diagnostics() string
}

// Spawner starts workers.
type Spawner interface {
	Spawn(req WorkerRequest) (Worker, error)
}

// ProcessSpawner starts each worker as a fresh OS process running Path with
// Args. The child gets an empty environment plus Env, the request on stdin
// and the result pipe as ResultFD.
type ProcessSpawner struct {
	Path           string
	Args           []string
	Env            []string
	MaxResultBytes int64
	WaitDelay      time.Duration
}

// NewProcessSpawner creates a spawner for the worker binary at path.
func NewProcessSpawner(path string, args, env []string) *ProcessSpawner {
	return &ProcessSpawner{
		Path:           path,
		Args:           args,
		Env:            env,
		MaxResultBytes: defaultMaxResultBytes,
		WaitDelay:      defaultWaitDelay,
	}
}

// SelfSpawner re-executes the running binary with the "worker" command.
func SelfSpawner() (*ProcessSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate own executable: %w", err)
	}
	return NewProcessSpawner(exe, []string{"worker"}, nil), nil
}

// Spawn starts a worker process for req.
func (s *ProcessSpawner) Spawn(req WorkerRequest) (Worker, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode worker request: %w", err)
	}

	resultR, resultW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create result pipe: %w", err)
	}

	diag := &syncBuffer{limitedBuffer: limitedBuffer{limit: maxDiagnosticBytes}}

	cmd := exec.Command(s.Path, s.Args...) //nolint:gosec // Worker binary comes from configuration
	cmd.Env = append([]string{}, s.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = diag
	cmd.Stderr = diag
	cmd.ExtraFiles = []*os.File{resultW}
	cmd.WaitDelay = s.WaitDelay
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		resultR.Close()
		resultW.Close()
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	// Only the child holds the write end now, so the read end hits EOF
	// exactly when the child is gone.
	resultW.Close()

	maxResult := s.MaxResultBytes
	if maxResult <= 0 {
		maxResult = defaultMaxResultBytes
	}

	w := &processWorker{
		cmd:       cmd,
		results:   resultR,
		diag:      diag,
		maxResult: maxResult,
		readDelay: s.WaitDelay,
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	go w.read()
	go w.wait()
	return w, nil
}

type processWorker struct {
	cmd       *exec.Cmd
	results   *os.File
	diag      *syncBuffer
	maxResult int64
	readDelay time.Duration

	done    chan struct{}
	waitErr error

	readDone chan struct{}
	payload  []byte
	readErr  error
}

func (w *processWorker) wait() {
	w.waitErr = w.cmd.Wait()
	close(w.done)
}

func (w *processWorker) read() {
	defer close(w.readDone)
	w.payload, w.readErr = io.ReadAll(io.LimitReader(w.results, w.maxResult))
	// Keep draining so an oversized writer is not blocked on a full pipe.
	_, _ = io.Copy(io.Discard, w.results)
}

func (w *processWorker) PID() int {
	return w.cmd.Process.Pid
}

func (w *processWorker) Done() <-chan struct{} {
	return w.done
}

func (w *processWorker) Terminate() error {
	if w.exited() {
		return nil
	}
	return terminateProcess(w.cmd.Process)
}

func (w *processWorker) Kill() error {
	if w.exited() {
		return nil
	}
	return killProcess(w.cmd.Process)
}

func (w *processWorker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *processWorker) Result() (ExecutionResult, error) {
	<-w.done

	delay := time.NewTimer(w.readDelay)
	defer delay.Stop()
	select {
	case <-w.readDone:
	case <-delay.C:
		// Someone else still holds the write end; give up on it.
		w.results.Close()
		<-w.readDone
	}
	w.results.Close()

	if w.readErr != nil && len(w.payload) == 0 {
		return ExecutionResult{}, fmt.Errorf("%w: %v", ErrNoResult, w.readErr)
	}
	if len(bytes.TrimSpace(w.payload)) == 0 {
		return ExecutionResult{}, ErrNoResult
	}

	// Only the first document counts; anything after it is ignored.
	var result ExecutionResult
	if err := json.NewDecoder(bytes.NewReader(w.payload)).Decode(&result); err != nil {
		return ExecutionResult{}, fmt.Errorf("%w: malformed result: %v", ErrNoResult, err)
	}
	return result, nil
}

func (w *processWorker) Diagnostics() string {
	state := "running"
	if w.exited() {
		state = "exited"
		if w.cmd.ProcessState != nil {
			state = w.cmd.ProcessState.String()
		}
		if w.waitErr != nil && !errors.As(w.waitErr, new(*exec.ExitError)) {
			state += ": " + w.waitErr.Error()
		}
	}
	if out := w.diag.String(); out != "" {
		return state + "; output: " + out
	}
	return state
}

// syncBuffer guards a limitedBuffer shared by the stdout and stderr copiers.
type syncBuffer struct {
	mu sync.Mutex
	limitedBuffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limitedBuffer.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limitedBuffer.String()
}
