package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"coderunner/model"

	logrus "github.com/sirupsen/logrus"
)

const (
	msgOverflow  = "Output size exceeded maximum limit"
	msgKilled    = "Process was killed (timeout or resource limit)"
	truncatedTag = "... (truncated)"

	// waitDelay bounds how long Wait keeps reading pipes held open by
	// grandchildren after the direct child is gone.
	waitDelay = 2 * time.Second
)

// ProcessRunner spawns one child process per Run and enforces the wall-clock
// and output ceilings on it.
type ProcessRunner struct {
	maxOutput int
	logger    *logrus.Logger
	spawned   atomic.Int64
}

// NewProcessRunner creates a runner whose stdout and stderr ceilings are
// maxOutput bytes each.
func NewProcessRunner(maxOutput int, logger *logrus.Logger) *ProcessRunner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ProcessRunner{maxOutput: maxOutput, logger: logger}
}

// Spawned reports how many processes have been started.
func (r *ProcessRunner) Spawned() int64 {
	return r.spawned.Load()
}

// resolver keeps the first outcome offered to it.
type resolver struct {
	once   sync.Once
	result Result
}

func (r *resolver) resolve(res Result) bool {
	won := false
	r.once.Do(func() {
		r.result = res
		won = true
	})
	return won
}

// Run executes the launch spec with source and returns exactly one outcome.
// Cancelling ctx kills the process and reports it as killed.
func (r *ProcessRunner) Run(ctx context.Context, spec LaunchSpec, source string, timeout time.Duration) Result {
	start := time.Now()
	timeoutMs := timeout.Milliseconds()
	res := &resolver{}

	args := append([]string(nil), spec.Args...)
	if spec.SourceAsArg {
		args = append(args, source)
	}

	cmd := exec.Command(spec.Command, args...)
	if !spec.SourceAsArg {
		cmd.Stdin = strings.NewReader(source)
	}
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	setProcessGroup(cmd)

	stdout := newCappedBuffer(r.maxOutput)
	stderr := newCappedBuffer(r.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := cmd.Start(); err != nil {
		r.logger.WithFields(logrus.Fields{
			"command": spec.Command,
			"error":   err,
		}).Error("Failed to spawn process")
		res.resolve(Result{
			ExecutionResult: model.ExecutionResult{
				Error:           fmt.Sprintf("Process error: %v", err),
				ExecutionTimeMs: time.Since(start).Milliseconds(),
			},
			Outcome: OutcomeSpawnError,
		})
		return res.result
	}
	r.spawned.Add(1)

	pid := cmd.Process.Pid
	r.logger.WithFields(logrus.Fields{
		"command": spec.Command,
		"pid":     pid,
		"timeout": timeout,
	}).Debug("Process started")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-stdout.overflowed:
		if res.resolve(failure(OutcomeOverflow, msgOverflow, time.Since(start).Milliseconds())) {
			r.logger.WithFields(logrus.Fields{"pid": pid, "limit": r.maxOutput}).Warn("Output limit exceeded, killing process")
		}
		killProcessGroup(cmd)
		waitErr = <-done
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			res.resolve(failure(OutcomeTimeout, fmt.Sprintf("Execution timeout after %dms", timeoutMs), timeoutMs))
			r.logger.WithFields(logrus.Fields{"pid": pid, "timeout": timeout}).Warn("Execution timeout, killing process")
		} else {
			res.resolve(failure(OutcomeKilled, msgKilled, timeoutMs))
			r.logger.WithFields(logrus.Fields{"pid": pid}).Warn("Run cancelled, killing process")
		}
		killProcessGroup(cmd)
		waitErr = <-done
	}

	elapsed := time.Since(start).Milliseconds()
	state := cmd.ProcessState

	switch {
	case state == nil:
		res.resolve(failure(OutcomeSpawnError, fmt.Sprintf("Process error: %v", waitErr), elapsed))
	case stdout.hasOverflowed():
		// overflow observed after the process already exited
		res.resolve(failure(OutcomeOverflow, msgOverflow, elapsed))
	case killedBySignal(state):
		res.resolve(failure(OutcomeKilled, msgKilled, timeoutMs))
	default:
		code := state.ExitCode()
		res.resolve(Result{
			ExecutionResult: model.ExecutionResult{
				Success:         code == 0,
				Output:          stdout.String(),
				Error:           stderr.String(),
				ExitCode:        model.IntPtr(code),
				ExecutionTimeMs: elapsed,
			},
			Outcome: OutcomeExited,
		})
	}

	r.logger.WithFields(logrus.Fields{
		"pid":      pid,
		"outcome":  res.result.Outcome.String(),
		"duration": elapsed,
	}).Debug("Process finished")
	return res.result
}

func failure(outcome Outcome, msg string, ms int64) Result {
	return Result{
		ExecutionResult: model.ExecutionResult{Error: msg, ExecutionTimeMs: ms},
		Outcome:         outcome,
	}
}

// cappedBuffer collects at most limit bytes. Writes past the limit are
// discarded so the child never blocks on a full pipe; the first one closes
// overflowed.
type cappedBuffer struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	limit      int
	truncated  bool
	overflowed chan struct{}
	once       sync.Once
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit, overflowed: make(chan struct{})}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return len(p), nil
	}
	if room := b.limit - b.buf.Len(); len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		b.once.Do(func() { close(b.overflowed) })
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) hasOverflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// String returns the captured text, marked when it was cut short.
func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + truncatedTag
	}
	return b.buf.String()
}
