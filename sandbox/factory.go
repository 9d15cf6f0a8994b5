package sandbox

import (
	"go.uber.org/zap"

	"github.com/isdmx/snippetbox/config"
	"github.com/isdmx/snippetbox/policy"
)

// NewFromConfig creates an Executor from the application configuration
func NewFromConfig(logger *zap.Logger, cfg *config.Config, pol *policy.Policy) (*Executor, error) {
	sc := cfg.Sandbox
	executorConfig := Config{
		TimeoutSec:         sc.TimeoutSec,
		MaxTimeoutSec:      sc.MaxTimeoutSec,
		GracePeriod:        cfg.GetGracePeriod(),
		MaxConcurrent:      sc.MaxConcurrent,
		MaxOutputKB:        sc.MaxOutputKB,
		MaxSteps:           sc.MaxSteps,
		MemoryMB:           sc.MemoryMB,
		CollectAllFindings: sc.CollectAllFindings,
	}

	var opts []ExecutorOption
	if sc.WorkerPath != "" {
		opts = append(opts, WithSpawner(NewProcessSpawner(sc.WorkerPath, []string{"worker"}, nil)))
	}

	return NewExecutor(logger, &executorConfig, pol, opts...)
}
