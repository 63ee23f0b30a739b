package model

import "time"

// ExecutionRequest represents the request structure for code execution
type ExecutionRequest struct {
	Language  string `json:"language" binding:"required"`
	Code      string `json:"code" binding:"required"`
	Input     string `json:"input,omitempty"`
	TimeoutMs int    `json:"timeout,omitempty"`
}

// ExecutionResult represents the outcome of a single execution.
// Output and Error are omitted when empty; ExitCode is nil when the process
// never reported one (timeouts, kills, spawn failures, validation rejects).
type ExecutionResult struct {
	Success         bool   `json:"success"`
	Output          string `json:"output,omitempty"`
	Error           string `json:"error,omitempty"`
	ExitCode        *int   `json:"exitCode,omitempty"`
	ExecutionTimeMs int64  `json:"executionTime"`
}

// SecurityVerdict is the result of a denylist check over submitted code.
type SecurityVerdict struct {
	IsValid bool     `json:"isValid"`
	Issues  []string `json:"issues"`
}

// QueueJob is a request waiting in the scheduler backlog.
type QueueJob struct {
	ID         string           `json:"id"`
	Request    ExecutionRequest `json:"request"`
	EnqueuedAt time.Time        `json:"enqueuedAt"`
	Priority   int              `json:"priority"`
}

// QueueStatus describes the scheduler backlog.
type QueueStatus struct {
	QueueSize    int  `json:"queueSize"`
	Processing   bool `json:"processing"`
	MaxQueueSize int  `json:"maxQueueSize"`
}

// ServiceStatus is the orchestrator status snapshot.
type ServiceStatus struct {
	SupportedLanguages []string `json:"supportedLanguages"`
	QueueSize          int      `json:"queueSize"`
	Processing         bool     `json:"processing"`
	MaxQueueSize       int      `json:"maxQueueSize"`
	MaxMemoryBytes     int64    `json:"maxMemoryBytes"`
}

// QueueRequest is the body of a queued execution over NATS. A missing
// priority means 1; an explicit 0 is kept.
type QueueRequest struct {
	Request  ExecutionRequest `json:"request"`
	Priority *int             `json:"priority,omitempty"`
}

// QueueReply answers a queued execution over NATS.
type QueueReply struct {
	JobID string `json:"jobId,omitempty"`
	Error string `json:"error,omitempty"`
}

// JobEvent is published for every scheduler lifecycle transition.
type JobEvent struct {
	Type            string `json:"type"`
	JobID           string `json:"jobId"`
	Language        string `json:"language"`
	Priority        int    `json:"priority"`
	Success         *bool  `json:"success,omitempty"`
	ExecutionTimeMs int64  `json:"executionTime,omitempty"`
	Error           string `json:"error,omitempty"`
}

// SecurityViolation is an audited validation rejection.
type SecurityViolation struct {
	ID          int64     `json:"id"`
	ClientIP    string    `json:"clientIp"`
	Language    string    `json:"language"`
	Issues      []string  `json:"issues"`
	CodeSnippet string    `json:"codeSnippet"`
	CreatedAt   time.Time `json:"createdAt"`
}

// APIResponse is the envelope for every HTTP reply.
type APIResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
