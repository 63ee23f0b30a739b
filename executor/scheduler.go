package executor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"coderunner/model"

	"github.com/rs/xid"
	logrus "github.com/sirupsen/logrus"
)

var ErrQueueFull = errors.New("queue is full")

// Dispatcher runs one dequeued job to completion.
type Dispatcher func(ctx context.Context, job *model.QueueJob) model.ExecutionResult

// QueueScheduler holds a priority-ordered backlog drained by a single worker.
type QueueScheduler struct {
	cfg    SchedulerConfig
	logger *logrus.Logger
	now    func() time.Time

	mu         sync.Mutex
	backlog    []*model.QueueJob
	processing bool
	counter    uint64

	wake         chan struct{}
	events       chan Event
	shutdownChan chan struct{}
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	startOnce    sync.Once
	stopOnce     sync.Once
}

// NewQueueScheduler initializes an idle scheduler; call Start to begin draining.
func NewQueueScheduler(cfg SchedulerConfig, logger *logrus.Logger) *QueueScheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &QueueScheduler{
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
		wake:         make(chan struct{}, 1),
		events:       make(chan Event, cfg.EventBuffer),
		shutdownChan: make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Enqueue adds a job to the backlog and returns its id.
func (s *QueueScheduler) Enqueue(req model.ExecutionRequest, priority int) (string, error) {
	s.mu.Lock()
	if len(s.backlog) >= s.cfg.MaxQueueSize {
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"language": req.Language,
			"capacity": s.cfg.MaxQueueSize,
		}).Warn("Queue full, rejecting job")
		return "", ErrQueueFull
	}

	s.counter++
	job := &model.QueueJob{
		ID:         fmt.Sprintf("job_%d_%s", s.counter, xid.New().String()),
		Request:    req,
		EnqueuedAt: s.now(),
		Priority:   priority,
	}
	s.backlog = append(s.backlog, job)
	slices.SortStableFunc(s.backlog, byPriority)
	size := len(s.backlog)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"jobId":     job.ID,
		"language":  req.Language,
		"priority":  priority,
		"queueSize": size,
	}).Info("Job enqueued")

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return job.ID, nil
}

// byPriority orders higher priority first, then earlier enqueue time.
func byPriority(a, b *model.QueueJob) int {
	if a.Priority != b.Priority {
		return cmp.Compare(b.Priority, a.Priority)
	}
	return a.EnqueuedAt.Compare(b.EnqueuedAt)
}

// Start launches the drain worker and the age sweep. Calling it again is a no-op.
func (s *QueueScheduler) Start(dispatch Dispatcher) {
	s.startOnce.Do(func() {
		s.wg.Add(2)
		go s.worker(dispatch)
		go s.sweeper()
		s.logger.WithFields(logrus.Fields{
			"maxQueueSize":  s.cfg.MaxQueueSize,
			"interJobDelay": s.cfg.InterJobDelay,
		}).Info("Queue scheduler started")
	})
}

// worker drains the backlog one job at a time
func (s *QueueScheduler) worker(dispatch Dispatcher) {
	defer s.wg.Done()

	for {
		job := s.next()
		if job == nil {
			select {
			case <-s.wake:
				continue
			case <-s.shutdownChan:
				return
			}
		}

		s.runJob(dispatch, job)

		select {
		case <-time.After(s.cfg.InterJobDelay):
		case <-s.shutdownChan:
			s.setProcessing(false)
			return
		}
	}
}

// next removes the head of the backlog, or marks the worker idle when empty.
func (s *QueueScheduler) next() *model.QueueJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.backlog) == 0 {
		s.processing = false
		return nil
	}
	job := s.backlog[0]
	s.backlog[0] = nil
	s.backlog = s.backlog[1:]
	s.processing = true
	return job
}

func (s *QueueScheduler) setProcessing(v bool) {
	s.mu.Lock()
	s.processing = v
	s.mu.Unlock()
}

func (s *QueueScheduler) runJob(dispatch Dispatcher, job *model.QueueJob) {
	fields := logrus.Fields{
		"jobId":    job.ID,
		"language": job.Request.Language,
		"priority": job.Priority,
	}

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("dispatch panicked: %v", rec)
			s.logger.WithFields(fields).WithError(err).Error("Job failed")
			s.emit(Event{Type: EventJobError, Job: *job, Err: err, At: s.now()})
		}
	}()

	s.logger.WithFields(fields).Info("Processing job")
	s.emit(Event{Type: EventJobStart, Job: *job, At: s.now()})

	result := dispatch(s.ctx, job)

	fields["success"] = result.Success
	fields["executionTime"] = result.ExecutionTimeMs
	s.logger.WithFields(fields).Info("Job completed")
	s.emit(Event{Type: EventJobComplete, Job: *job, Result: &result, At: s.now()})
}

func (s *QueueScheduler) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.WithFields(logrus.Fields{
			"jobId": ev.Job.ID,
			"event": ev.Type,
		}).Debug("Event buffer full, dropping event")
	}
}

// Events streams lifecycle events. Events are dropped when nobody reads.
func (s *QueueScheduler) Events() <-chan Event {
	return s.events
}

func (s *QueueScheduler) sweeper() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cleanup(s.cfg.JobMaxAge)
		case <-s.shutdownChan:
			return
		}
	}
}

// Cleanup drops pending jobs older than maxAge and returns how many were removed.
func (s *QueueScheduler) Cleanup(maxAge time.Duration) int {
	now := s.now()

	s.mu.Lock()
	kept := s.backlog[:0]
	for _, job := range s.backlog {
		if now.Sub(job.EnqueuedAt) <= maxAge {
			kept = append(kept, job)
		}
	}
	removed := len(s.backlog) - len(kept)
	clear(s.backlog[len(kept):])
	s.backlog = kept
	s.mu.Unlock()

	if removed > 0 {
		s.logger.WithFields(logrus.Fields{
			"removed": removed,
			"maxAge":  maxAge,
		}).Info("Cleaned up expired jobs")
	}
	return removed
}

// Clear empties the backlog. A job already running is not affected.
func (s *QueueScheduler) Clear() int {
	s.mu.Lock()
	n := len(s.backlog)
	clear(s.backlog)
	s.backlog = s.backlog[:0]
	s.mu.Unlock()

	s.logger.WithField("cleared", n).Info("Queue cleared")
	return n
}

// Status reports the backlog size and whether the worker is draining.
func (s *QueueScheduler) Status() model.QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.QueueStatus{
		QueueSize:    len(s.backlog),
		Processing:   s.processing,
		MaxQueueSize: s.cfg.MaxQueueSize,
	}
}

func (s *QueueScheduler) pending() []model.QueueJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.QueueJob, len(s.backlog))
	for i, job := range s.backlog {
		out[i] = *job
	}
	return out
}

// Shutdown gracefully stops the worker and the sweep. Pending jobs are left
// in the backlog.
func (s *QueueScheduler) Shutdown() {
	s.stopOnce.Do(func() {
		s.logger.Info("Shutting down queue scheduler...")
		close(s.shutdownChan)
		s.cancel()
		s.wg.Wait()
		s.logger.WithField("pending", s.Status().QueueSize).Info("Queue scheduler shutdown complete")
	})
}
