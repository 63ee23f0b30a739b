package executor

import "time"

// SchedulerConfig defines the backlog limits and timings of a QueueScheduler
type SchedulerConfig struct {
	MaxQueueSize    int
	InterJobDelay   time.Duration
	CleanupInterval time.Duration
	JobMaxAge       time.Duration
	EventBuffer     int
}

// DefaultSchedulerConfig holds the production queue settings
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxQueueSize:    100,
		InterJobDelay:   100 * time.Millisecond,
		CleanupInterval: time.Minute,
		JobMaxAge:       5 * time.Minute,
		EventBuffer:     64,
	}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	def := DefaultSchedulerConfig()
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.InterJobDelay < 0 {
		c.InterJobDelay = 0
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.JobMaxAge <= 0 {
		c.JobMaxAge = def.JobMaxAge
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	return c
}
