package pkg

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"coderunner/model"
)

const (
	MaxCodeLength = 100000
	MinTimeoutMs  = 1000
	MaxTimeoutMs  = 10000
)

var (
	ErrInvalidRequest       = errors.New("invalid request parameters")
	ErrLanguageNotSupported = errors.New("language not supported")
)

// ValidationError names the request field that failed.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidRequest
}

// NormalizeRequest validates req and returns the cleaned copy that should be
// executed: code and input trimmed, input sanitized, timeout defaulted.
func NormalizeRequest(req model.ExecutionRequest, supported []string, defaultTimeoutMs int) (model.ExecutionRequest, error) {
	req.Language = strings.TrimSpace(req.Language)
	if req.Language == "" {
		return req, &ValidationError{Field: "language", Message: "is required"}
	}
	if !slices.Contains(supported, req.Language) {
		return req, &ValidationError{
			Field:   "language",
			Message: "must be one of: " + strings.Join(supported, ", "),
			Err:     ErrLanguageNotSupported,
		}
	}

	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		return req, &ValidationError{Field: "code", Message: "is required"}
	}
	if utf8.RuneCountInString(req.Code) > MaxCodeLength {
		return req, &ValidationError{Field: "code", Message: fmt.Sprintf("must be at most %d characters", MaxCodeLength)}
	}

	req.Input = strings.TrimSpace(req.Input)
	if utf8.RuneCountInString(req.Input) > MaxInputLength {
		return req, &ValidationError{Field: "input", Message: fmt.Sprintf("must be at most %d characters", MaxInputLength)}
	}
	req.Input = SanitizeInput(req.Input)

	switch {
	case req.TimeoutMs == 0:
		req.TimeoutMs = defaultTimeoutMs
	case req.TimeoutMs < MinTimeoutMs || req.TimeoutMs > MaxTimeoutMs:
		return req, &ValidationError{Field: "timeout", Message: fmt.Sprintf("must be between %d and %d", MinTimeoutMs, MaxTimeoutMs)}
	}
	return req, nil
}

// ClampTimeout keeps ms within [MinTimeoutMs, ceiling].
func ClampTimeout(ms, ceiling int) int {
	return min(max(ms, MinTimeoutMs), ceiling)
}
