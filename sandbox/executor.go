package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/isdmx/snippetbox/policy"
)

const defaultGracePeriod = time.Second

// Config holds configuration for the Executor
type Config struct {
	TimeoutSec         int
	MaxTimeoutSec      int // 0 disables clamping
	GracePeriod        time.Duration
	MaxConcurrent      int // 0 means no limit
	MaxOutputKB        int
	MaxSteps           uint64
	MemoryMB           int
	CollectAllFindings bool
}

// SnippetExecutor defines the interface for snippet execution
type SnippetExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) ExecutionResult
	Stats() ExecutionStats
}

// Executor screens snippets, runs each in a fresh worker process under a
// deadline and keeps execution statistics. It is safe for concurrent use.
type Executor struct {
	logger  *zap.Logger
	config  *Config
	policy  *policy.Policy
	gate    *Gate
	spawner Spawner
	slots   *semaphore.Weighted

	nextID atomic.Uint64

	mu         sync.Mutex
	stats      ExecutionStats
	generation uint64 // bumped by Reset so in-flight runs do not count twice
}

// ExecutorOption defines a functional option for Executor
type ExecutorOption func(*Executor)

// WithSpawner sets the Spawner used to start worker processes
func WithSpawner(spawner Spawner) ExecutorOption {
	return func(e *Executor) {
		e.spawner = spawner
	}
}

// NewExecutor creates a new Executor. Without WithSpawner, workers are started
// by re-executing the running binary.
func NewExecutor(logger *zap.Logger, config *Config, pol *policy.Policy, opts ...ExecutorOption) (*Executor, error) {
	if pol == nil {
		return nil, errors.New("policy is required")
	}
	if config.MemoryMB > 0 && !memoryLimitSupported {
		return nil, errors.New("memory limits are not supported on this platform")
	}

	executor := &Executor{
		logger: logger,
		config: config,
		policy: pol,
		gate:   NewGate(pol, config.CollectAllFindings),
	}
	if config.MaxConcurrent > 0 {
		executor.slots = semaphore.NewWeighted(int64(config.MaxConcurrent))
	}

	for _, opt := range opts {
		opt(executor)
	}

	if executor.spawner == nil {
		spawner, err := SelfSpawner()
		if err != nil {
			return nil, err
		}
		executor.spawner = spawner
	}

	return executor, nil
}

// Run executes code with a timeout in seconds; timeoutSec <= 0 selects the
// configured default.
func (e *Executor) Run(ctx context.Context, code string, timeoutSec int) ExecutionResult {
	return e.Execute(ctx, ExecuteRequest{Code: code, TimeoutSec: timeoutSec})
}

// Execute screens and runs one snippet. It always returns a well-formed
// result; failures of any kind are reported through it. ctx only bounds the
// wait for a concurrency slot. Once a worker runs, the timeout alone ends it.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (result ExecutionResult) {
	id := e.nextID.Add(1)
	start := time.Now()
	gen := e.countStarted()

	defer func() {
		if r := recover(); r != nil {
			result = hostDispatch(fmt.Errorf("panic: %v", r))
		}
		e.finish(id, gen, result, time.Since(start))
	}()

	if findings := e.gate.Screen(req.Code); len(findings) > 0 {
		for _, f := range findings {
			SecurityFindingsTotal.WithLabelValues(f.Rule).Inc()
		}
		e.logger.Warn("snippet rejected by security gate",
			zap.Uint64("execution_id", id),
			zap.Int("findings", len(findings)),
			zap.String("rule", findings[0].Rule))
		return failure(ErrorKindSecurityRejected, e.gate.Message(findings))
	}

	if e.slots != nil {
		if err := e.slots.Acquire(ctx, 1); err != nil {
			return hostDispatch(fmt.Errorf("waiting for a worker slot: %w", err))
		}
		defer e.slots.Release(1)
	}

	return e.dispatch(id, req.Code, e.effectiveTimeout(req.TimeoutSec))
}

func (e *Executor) dispatch(id uint64, code string, timeoutSec int) ExecutionResult {
	worker, err := e.spawner.Spawn(WorkerRequest{
		Code:           code,
		Policy:         e.policy.Document(),
		MaxOutputBytes: e.config.MaxOutputKB * 1024,
		MaxSteps:       e.config.MaxSteps,
		MemoryMB:       e.config.MemoryMB,
	})
	if err != nil {
		e.logger.Error("failed to spawn worker", zap.Uint64("execution_id", id), zap.Error(err))
		return hostDispatch(err)
	}

	ActiveWorkers.Inc()
	defer ActiveWorkers.Dec()

	e.logger.Debug("worker started",
		zap.Uint64("execution_id", id),
		zap.Int("pid", worker.PID()),
		zap.Int("timeout_sec", timeoutSec))

	if !Supervise(worker, time.Duration(timeoutSec)*time.Second, e.gracePeriod()) {
		e.logger.Warn("worker timed out",
			zap.Uint64("execution_id", id),
			zap.Int("pid", worker.PID()),
			zap.Int("timeout_sec", timeoutSec))
		// Whatever a killed worker wrote is discarded; this releases the pipe.
		_, _ = worker.Result()
		return timeoutResult(timeoutSec)
	}

	result, err := worker.Result()
	if err != nil {
		e.logger.Warn("worker returned no result",
			zap.Uint64("execution_id", id),
			zap.Int("pid", worker.PID()),
			zap.String("worker", worker.Diagnostics()),
			zap.Error(err))
		return noResult()
	}
	return normalize(result)
}

func (e *Executor) effectiveTimeout(requested int) int {
	timeout := requested
	if timeout <= 0 {
		timeout = e.config.TimeoutSec
	}
	if timeout <= 0 {
		timeout = DefaultTimeoutSec
	}
	if e.config.MaxTimeoutSec > 0 && timeout > e.config.MaxTimeoutSec {
		timeout = e.config.MaxTimeoutSec
	}
	return timeout
}

func (e *Executor) gracePeriod() time.Duration {
	if e.config.GracePeriod > 0 {
		return e.config.GracePeriod
	}
	return defaultGracePeriod
}

func (e *Executor) countStarted() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Total++
	return e.generation
}

func (e *Executor) finish(id, gen uint64, result ExecutionResult, elapsed time.Duration) {
	if result.Success {
		e.mu.Lock()
		if gen == e.generation {
			e.stats.Succeeded++
		}
		e.mu.Unlock()
	}

	outcome := outcomeLabel(result)
	ExecutionsTotal.WithLabelValues(outcome).Inc()
	ExecutionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())

	e.logger.Info("code execution completed",
		zap.Uint64("execution_id", id),
		zap.Bool("success", result.Success),
		zap.String("error_kind", string(result.ErrorKind)),
		zap.Int("output_len", len(result.Output)),
		zap.Duration("duration", elapsed))
}

// Stats returns a snapshot of the execution counters.
func (e *Executor) Stats() ExecutionStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stats
	s.Failed = s.Total - s.Succeeded
	return s
}

// Reset zeroes the execution counters.
func (e *Executor) Reset() {
	e.mu.Lock()
	e.stats = ExecutionStats{}
	e.generation++
	e.mu.Unlock()
}

// Policy returns the trust boundary the executor enforces.
func (e *Executor) Policy() *policy.Policy {
	return e.policy
}
