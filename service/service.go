package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coderunner/executor"
	"coderunner/lang"
	"coderunner/model"

	"go.uber.org/zap"
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

// Scheduler is the backlog the service queues work on.
type Scheduler interface {
	Enqueue(req model.ExecutionRequest, priority int) (string, error)
	Start(dispatch executor.Dispatcher)
	Events() <-chan executor.Event
	Status() model.QueueStatus
	Clear() int
	Shutdown()
}

// ViolationRecorder persists rejected submissions.
type ViolationRecorder interface {
	Record(ctx context.Context, v model.SecurityViolation) error
}

// EventSink receives queue lifecycle events.
type EventSink interface {
	Publish(ev model.JobEvent) error
}

type Options struct {
	Limits         lang.Limits
	MaxMemoryBytes int64
	Violations     ViolationRecorder
	Events         EventSink
}

// ExecutionService routes requests to language engines, directly or through
// the queue.
type ExecutionService struct {
	engines   map[string]lang.Engine
	order     []string
	runner    lang.Runner
	scheduler Scheduler
	opts      Options
	logger    *zap.Logger
	done      chan struct{}
	stopOnce  sync.Once
}

func NewExecutionService(runner lang.Runner, scheduler Scheduler, logger *zap.Logger, opts Options, engines ...lang.Engine) *ExecutionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ExecutionService{
		engines:   make(map[string]lang.Engine, len(engines)),
		runner:    runner,
		scheduler: scheduler,
		opts:      opts,
		logger:    logger,
		done:      make(chan struct{}),
	}
	for _, e := range engines {
		if _, dup := s.engines[e.Language()]; dup {
			continue
		}
		s.engines[e.Language()] = e
		s.order = append(s.order, e.Language())
		logger.Info("Registered language engine", zap.String("language", e.Language()))
	}
	return s
}

// Start begins draining the queue.
func (s *ExecutionService) Start() {
	s.scheduler.Start(s.dispatch)
	go s.consumeEvents()
}

// Shutdown stops the queue worker. Pending jobs are discarded.
func (s *ExecutionService) Shutdown() {
	s.stopOnce.Do(func() {
		s.scheduler.Shutdown()
		close(s.done)
	})
}

func (s *ExecutionService) dispatch(ctx context.Context, job *model.QueueJob) model.ExecutionResult {
	return s.ExecuteDirectly(ctx, job.Request)
}

// ExecuteDirectly runs req now and returns its result. It never panics.
func (s *ExecutionService) ExecuteDirectly(ctx context.Context, req model.ExecutionRequest) (result model.ExecutionResult) {
	engine, ok := s.engines[req.Language]
	if !ok {
		return model.ExecutionResult{Error: "Unsupported language: " + req.Language}
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Execution panicked", zap.String("language", req.Language), zap.Any("panic", rec))
			result = model.ExecutionResult{
				Error:           fmt.Sprintf("Execution failed: %v", rec),
				ExecutionTimeMs: time.Since(start).Milliseconds(),
			}
		}
	}()

	s.logger.Debug("Executing code",
		zap.String("language", req.Language),
		zap.Int("codeLength", len(req.Code)),
		zap.Int("timeout", req.TimeoutMs))

	result = lang.Execute(ctx, engine, s.runner, s.opts.Limits, req)

	if lang.IsSecurityRejection(result) {
		// the validator is deterministic, so this yields the issues that rejected req
		s.recordViolation(ctx, req, engine.Validate(req.Code).Issues)
	}

	s.logger.Info("Execution finished",
		zap.String("language", req.Language),
		zap.Bool("success", result.Success),
		zap.Int64("executionTime", result.ExecutionTimeMs))
	return result
}

func (s *ExecutionService) recordViolation(ctx context.Context, req model.ExecutionRequest, issues []string) {
	clientIP := ClientIP(ctx)
	snippet := req.Code
	if r := []rune(snippet); len(r) > 100 {
		snippet = string(r[:100])
	}

	s.logger.Warn("Security violation detected",
		zap.String("clientIp", clientIP),
		zap.String("language", req.Language),
		zap.Strings("issues", issues),
		zap.String("codeSnippet", snippet))

	if s.opts.Violations == nil {
		return
	}
	err := s.opts.Violations.Record(context.WithoutCancel(ctx), model.SecurityViolation{
		ClientIP:    clientIP,
		Language:    req.Language,
		Issues:      issues,
		CodeSnippet: snippet,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("Failed to record security violation", zap.Error(err))
	}
}

// ExecuteWithQueue validates the language and queues req, returning the job id.
func (s *ExecutionService) ExecuteWithQueue(req model.ExecutionRequest, priority int) (string, error) {
	if _, ok := s.engines[req.Language]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}
	id, err := s.scheduler.Enqueue(req, priority)
	if err != nil {
		return "", fmt.Errorf("failed to queue execution: %w", err)
	}
	return id, nil
}

// SupportedLanguages lists registered languages in registration order.
func (s *ExecutionService) SupportedLanguages() []string {
	return append([]string(nil), s.order...)
}

func (s *ExecutionService) Status() model.ServiceStatus {
	q := s.scheduler.Status()
	return model.ServiceStatus{
		SupportedLanguages: s.SupportedLanguages(),
		QueueSize:          q.QueueSize,
		Processing:         q.Processing,
		MaxQueueSize:       q.MaxQueueSize,
		MaxMemoryBytes:     s.opts.MaxMemoryBytes,
	}
}

func (s *ExecutionService) QueueStatus() model.QueueStatus {
	return s.scheduler.Status()
}

func (s *ExecutionService) ClearQueue() int {
	n := s.scheduler.Clear()
	s.logger.Warn("Queue cleared", zap.Int("clearedJobs", n))
	return n
}

func (s *ExecutionService) consumeEvents() {
	events := s.scheduler.Events()
	for {
		select {
		case ev := <-events:
			s.handleEvent(ev)
		case <-s.done:
			return
		}
	}
}

func (s *ExecutionService) handleEvent(ev executor.Event) {
	out := model.JobEvent{
		Type:     string(ev.Type),
		JobID:    ev.Job.ID,
		Language: ev.Job.Request.Language,
		Priority: ev.Job.Priority,
	}
	fields := []zap.Field{
		zap.String("event", out.Type),
		zap.String("jobId", out.JobID),
		zap.String("language", out.Language),
	}
	if ev.Result != nil {
		success := ev.Result.Success
		out.Success = &success
		out.ExecutionTimeMs = ev.Result.ExecutionTimeMs
		out.Error = ev.Result.Error
		fields = append(fields, zap.Bool("success", success))
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
		fields = append(fields, zap.Error(ev.Err))
	}

	if ev.Type == executor.EventJobError {
		s.logger.Error("Queued job failed", fields...)
	} else {
		s.logger.Debug("Queue event", fields...)
	}

	if s.opts.Events != nil {
		if err := s.opts.Events.Publish(out); err != nil {
			s.logger.Warn("Failed to publish queue event", zap.String("jobId", out.JobID), zap.Error(err))
		}
	}
}
