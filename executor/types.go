package executor

import (
	"time"

	"coderunner/model"
)

// Outcome is the way a run ended. Exactly one is reported per run.
type Outcome int

const (
	OutcomeExited Outcome = iota
	OutcomeTimeout
	OutcomeOverflow
	OutcomeKilled
	OutcomeSpawnError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExited:
		return "exited"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeOverflow:
		return "overflow"
	case OutcomeKilled:
		return "killed"
	case OutcomeSpawnError:
		return "spawn_error"
	default:
		return "unknown"
	}
}

// LaunchSpec describes how to start an interpreter. By default the prepared
// source is written to stdin; with SourceAsArg it is appended to Args.
type LaunchSpec struct {
	Command     string
	Args        []string
	SourceAsArg bool
	Env         []string
}

// Result contains the output of a single process run
type Result struct {
	model.ExecutionResult
	Outcome Outcome
}

// EventType names a scheduler lifecycle transition.
type EventType string

const (
	EventJobStart    EventType = "jobStart"
	EventJobComplete EventType = "jobComplete"
	EventJobError    EventType = "jobError"
)

// Event is emitted by the scheduler worker for every dispatched job.
type Event struct {
	Type   EventType
	Job    model.QueueJob
	Result *model.ExecutionResult
	Err    error
	At     time.Time
}
