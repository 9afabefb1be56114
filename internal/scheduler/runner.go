package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/strefethen/hotel-hub-go/internal/metrics"
)

// now is replaced in tests.
var now = time.Now

// invoke runs one task invocation. Panics become errors, and failures are
// recorded without affecting future runs of this or any other task.
func (s *Service) invoke(ctx context.Context, entry *registeredTask, trigger Trigger) (err error) {
	name := entry.task.Name

	s.mu.Lock()
	entry.running++
	s.mu.Unlock()

	started := now()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("task %s panicked: %v", name, recovered)
			s.logger.Error("scheduled task panicked",
				zap.String("task", name),
				zap.Any("panic", recovered),
				zap.ByteString("stack", debug.Stack()),
			)
		}
		duration := now().Sub(started)
		s.record(entry, trigger, started, duration, err)
	}()

	err = entry.task.Run(ctx)
	return err
}

func (s *Service) record(entry *registeredTask, trigger Trigger, started time.Time, duration time.Duration, err error) {
	name := entry.task.Name
	startedUTC := started.UTC()

	s.mu.Lock()
	entry.running--
	entry.stats.LastRunAt = &startedUTC
	entry.stats.LastDurationMs = duration.Milliseconds()
	entry.stats.LastTrigger = trigger
	entry.stats.RunCount++
	if err != nil {
		message := err.Error()
		entry.stats.LastError = &message
		entry.stats.FailureCount++
	} else {
		entry.stats.LastError = nil
	}
	s.mu.Unlock()

	metrics.SchedulerDuration.WithLabelValues(name).Observe(duration.Seconds())
	if err != nil {
		metrics.SchedulerRuns.WithLabelValues(name, "failure").Inc()
		s.logger.Error("scheduled task failed",
			zap.String("task", name),
			zap.String("trigger", string(trigger)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}
	metrics.SchedulerRuns.WithLabelValues(name, "success").Inc()
	s.logger.Debug("scheduled task completed",
		zap.String("task", name),
		zap.String("trigger", string(trigger)),
		zap.Duration("duration", duration),
	)
}
