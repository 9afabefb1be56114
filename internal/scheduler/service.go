// Package scheduler runs the hub's named recurring tasks on fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrAlreadyStarted is returned by Register once timers are running.
var ErrAlreadyStarted = errors.New("scheduler already started")

type registeredTask struct {
	task    Task
	entryID cron.EntryID
	stats   TaskStats
	running int
}

// Service owns the cron instance and per-task statistics.
type Service struct {
	logger *zap.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	tasks   map[string]*registeredTask
	order   []string
	started bool
}

// NewService creates a scheduler. Tasks are added with Register before Start.
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger: logger,
		cron:   cron.New(cron.WithLogger(cronLogger{logger: logger.Sugar()})),
		tasks:  make(map[string]*registeredTask),
	}
}

// Register adds a task. Names must be unique and intervals positive.
func (s *Service) Register(task Task) error {
	if task.Name == "" || task.Run == nil {
		return errors.New("task requires a name and a run function")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", task.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("task %s already registered", task.Name)
	}

	entry := &registeredTask{
		task: task,
		stats: TaskStats{
			Name:       task.Name,
			IntervalMs: task.Interval.Milliseconds(),
		},
	}
	entryID, err := s.cron.AddFunc("@every "+task.Interval.String(), func() {
		_ = s.invoke(context.Background(), entry, TriggerSchedule)
	})
	if err != nil {
		return fmt.Errorf("schedule task %s: %w", task.Name, err)
	}
	entry.entryID = entryID

	s.tasks[task.Name] = entry
	s.order = append(s.order, task.Name)
	return nil
}

// Start begins firing timers. Calling it again is a logged no-op.
func (s *Service) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.logger.Warn("scheduler already started")
		return
	}
	s.started = true
	count := len(s.tasks)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("tasks", count))
}

// Stop halts timers and waits for invocations in progress. Stopping an
// unstarted scheduler is a logged no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		s.logger.Warn("scheduler not started")
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether timers are active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// RunNow executes a task synchronously outside its timer. The schedule of
// that task and of every other task is unaffected.
func (s *Service) RunNow(ctx context.Context, name string) (TaskStats, error) {
	s.mu.Lock()
	entry, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return TaskStats{}, &TaskNotFoundError{Name: name}
	}

	runErr := s.invoke(ctx, entry, TriggerManual)
	stats, _ := s.Stats(name)
	return stats, runErr
}

// Stats returns the statistics of one task.
func (s *Service) Stats(name string) (TaskStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tasks[name]
	if !ok {
		return TaskStats{}, &TaskNotFoundError{Name: name}
	}
	return s.statsLocked(entry), nil
}

// Jobs lists every task in registration order.
func (s *Service) Jobs() []TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]TaskStats, 0, len(s.order))
	for _, name := range s.order {
		jobs = append(jobs, s.statsLocked(s.tasks[name]))
	}
	return jobs
}

func (s *Service) statsLocked(entry *registeredTask) TaskStats {
	stats := entry.stats
	stats.Running = entry.running > 0
	if s.started {
		if next := s.cron.Entry(entry.entryID).Next; !next.IsZero() {
			next = next.UTC()
			stats.NextRunAt = &next
		}
	}
	return stats
}

// =============================================================================
// cron.Logger adapter
// =============================================================================

type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}

var _ cron.Logger = cronLogger{}
