package scheduler

import (
	"context"
	"fmt"
	"time"
)

// ==========================================================================
// Task names and default intervals
// ==========================================================================

const (
	TaskPMSSync               = "pms_sync"
	TaskNotificationPromotion = "notification_promotion"
	TaskNotificationCleanup   = "notification_cleanup"
	TaskDeviceLiveness        = "device_liveness"
	TaskHealthCheck           = "health_check"
)

const (
	DefaultPMSSyncInterval     = 5 * time.Minute
	DefaultPromotionInterval   = time.Minute
	DefaultCleanupInterval     = 24 * time.Hour
	DefaultLivenessInterval    = 10 * time.Minute
	DefaultHealthCheckInterval = time.Hour
)

// Trigger records what started an invocation.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// ==========================================================================
// Tasks
// ==========================================================================

// Task is a named unit of recurring work.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// TaskStats is the observable state of one task.
type TaskStats struct {
	Name           string     `json:"name"`
	IntervalMs     int64      `json:"interval_ms"`
	Running        bool       `json:"running"`
	LastRunAt      *time.Time `json:"last_run_at"`
	LastDurationMs int64      `json:"last_duration_ms"`
	LastError      *string    `json:"last_error"`
	LastTrigger    Trigger    `json:"last_trigger,omitempty"`
	RunCount       int64      `json:"run_count"`
	FailureCount   int64      `json:"failure_count"`
	NextRunAt      *time.Time `json:"next_run_at"`
}

// ==========================================================================
// Errors
// ==========================================================================

// TaskNotFoundError is returned for an unregistered task name.
type TaskNotFoundError struct {
	Name string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.Name)
}
