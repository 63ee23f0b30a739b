package lang

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"coderunner/executor"
	"coderunner/model"
)

const securityPrefix = "Security validation failed: "

// Validator checks code against a denylist.
type Validator interface {
	Check(language, code string) model.SecurityVerdict
}

// Runner runs prepared source in a child process.
type Runner interface {
	Run(ctx context.Context, spec executor.LaunchSpec, source string, timeout time.Duration) executor.Result
}

// Engine is one supported language: its denylist, harness and interpreter.
type Engine interface {
	Language() string
	Validate(code string) model.SecurityVerdict
	Prepare(code, input string) (string, error)
	Launch() executor.LaunchSpec
}

// Limits bounds the wall-clock time of a run.
type Limits struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

type baseEngine struct {
	language  string
	validator Validator
	launch    executor.LaunchSpec
}

func (b baseEngine) Language() string {
	return b.language
}

func (b baseEngine) Validate(code string) model.SecurityVerdict {
	return b.validator.Check(b.language, code)
}

func (b baseEngine) Launch() executor.LaunchSpec {
	return b.launch
}

// interpreterEnv is the environment interpreters start with: the parent's PATH
// so the command resolves, a scratch HOME, and the given extras. Nothing else
// from the server environment is passed on.
func interpreterEnv(extra ...string) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.TempDir(),
		"LANG=C.UTF-8",
	}
	return append(env, extra...)
}

// EffectiveTimeout is the requested timeout (or the default when none was
// given) capped at the maximum.
func EffectiveTimeout(requestedMs int, limits Limits) time.Duration {
	timeout := limits.DefaultTimeout
	if requestedMs > 0 {
		timeout = time.Duration(requestedMs) * time.Millisecond
	}
	if limits.MaxTimeout > 0 && timeout > limits.MaxTimeout {
		timeout = limits.MaxTimeout
	}
	return timeout
}

// Execute validates, prepares and runs a request on engine. It never returns
// an error or panics; every failure is reported in the result.
func Execute(ctx context.Context, engine Engine, runner Runner, limits Limits, req model.ExecutionRequest) (result model.ExecutionResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = model.ExecutionResult{
				Error:           fmt.Sprintf("Execution failed: %v", rec),
				ExecutionTimeMs: time.Since(start).Milliseconds(),
			}
		}
	}()

	verdict := engine.Validate(req.Code)
	if !verdict.IsValid {
		return model.ExecutionResult{
			Error:           securityPrefix + strings.Join(verdict.Issues, ", "),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}

	source, err := engine.Prepare(req.Code, req.Input)
	if err != nil {
		return model.ExecutionResult{
			Error:           fmt.Sprintf("Execution failed: %v", err),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}

	res := runner.Run(ctx, engine.Launch(), source, EffectiveTimeout(req.TimeoutMs, limits))
	out := res.ExecutionResult
	// timeout and kill results report the effective timeout
	if res.Outcome != executor.OutcomeTimeout && res.Outcome != executor.OutcomeKilled {
		out.ExecutionTimeMs = time.Since(start).Milliseconds()
	}
	return out
}

// IsSecurityRejection reports whether result came from a failed validation.
func IsSecurityRejection(result model.ExecutionResult) bool {
	return !result.Success && strings.HasPrefix(result.Error, securityPrefix)
}

// inputLines splits replayed input into lines. Empty input yields none.
func inputLines(input string) []string {
	if input == "" {
		return []string{}
	}
	lines := strings.Split(input, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
