package service

import (
	"fmt"

	"coderunner/config"
	"coderunner/executor"
	"coderunner/internal"
	"coderunner/lang"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// Build assembles the validator, process runner, engines and queue described
// by cfg. The returned service has not been started.
func Build(cfg config.Config, logger *zap.Logger, runLog *logrus.Logger, violations ViolationRecorder, events EventSink) (*ExecutionService, error) {
	validator, err := internal.NewSecurityValidator(cfg.BlockedPatterns)
	if err != nil {
		return nil, fmt.Errorf("building security validator: %w", err)
	}

	runner := executor.NewProcessRunner(cfg.MaxOutputSize, runLog)
	scheduler := executor.NewQueueScheduler(executor.SchedulerConfig{
		MaxQueueSize:    cfg.MaxQueueSize,
		InterJobDelay:   cfg.InterJobDelay,
		CleanupInterval: cfg.CleanupInterval,
		JobMaxAge:       cfg.QueueJobMaxAge,
	}, runLog)

	opts := Options{
		Limits:         lang.Limits{DefaultTimeout: cfg.DefaultTimeout, MaxTimeout: cfg.MaxTimeout},
		MaxMemoryBytes: cfg.MaxMemoryBytes,
		Violations:     violations,
		Events:         events,
	}
	return NewExecutionService(runner, scheduler, logger, opts,
		lang.NewJavaScriptEngine(validator, cfg.NodeCommand),
		lang.NewPythonEngine(validator, cfg.PythonCommand),
	), nil
}
