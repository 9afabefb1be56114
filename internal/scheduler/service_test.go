package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/strefethen/hotel-hub-go/internal/pms"
)

func countingTask(name string, interval time.Duration, counter *atomic.Int32, run func() error) Task {
	return Task{
		Name:     name,
		Interval: interval,
		Run: func(context.Context) error {
			counter.Add(1)
			if run != nil {
				return run()
			}
			return nil
		},
	}
}

func TestRegisterValidation(t *testing.T) {
	service := NewService(nil)
	var calls atomic.Int32

	require.NoError(t, service.Register(countingTask("a", time.Minute, &calls, nil)))
	assert.Error(t, service.Register(countingTask("a", time.Minute, &calls, nil)))
	assert.Error(t, service.Register(countingTask("b", 0, &calls, nil)))
	assert.Error(t, service.Register(Task{Name: "c", Interval: time.Minute}))

	service.Start()
	t.Cleanup(service.Stop)
	assert.ErrorIs(t, service.Register(countingTask("d", time.Minute, &calls, nil)), ErrAlreadyStarted)
}

func TestRunNowRecordsStats(t *testing.T) {
	service := NewService(nil)
	var calls atomic.Int32
	fail := atomic.Bool{}
	require.NoError(t, service.Register(countingTask("flaky", time.Hour, &calls, func() error {
		if fail.Load() {
			return errors.New("upstream down")
		}
		return nil
	})))

	stats, err := service.RunNow(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RunCount)
	assert.Zero(t, stats.FailureCount)
	assert.Nil(t, stats.LastError)
	assert.Equal(t, TriggerManual, stats.LastTrigger)
	require.NotNil(t, stats.LastRunAt)
	assert.Nil(t, stats.NextRunAt)
	assert.False(t, stats.Running)

	fail.Store(true)
	stats, err = service.RunNow(context.Background(), "flaky")
	require.Error(t, err)
	assert.Equal(t, int64(2), stats.RunCount)
	assert.Equal(t, int64(1), stats.FailureCount)
	require.NotNil(t, stats.LastError)
	assert.Equal(t, "upstream down", *stats.LastError)

	fail.Store(false)
	stats, err = service.RunNow(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Nil(t, stats.LastError)
	assert.Equal(t, int64(1), stats.FailureCount)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunNowUnknownTask(t *testing.T) {
	service := NewService(nil)
	_, err := service.RunNow(context.Background(), "missing")

	var notFound *TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.Name)

	_, err = service.Stats("missing")
	assert.ErrorAs(t, err, &notFound)
}

func TestPanicIsRecoveredAndRecorded(t *testing.T) {
	service := NewService(nil)
	var calls atomic.Int32
	require.NoError(t, service.Register(countingTask("explodes", time.Hour, &calls, func() error {
		panic("nil map")
	})))

	stats, err := service.RunNow(context.Background(), "explodes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map")
	assert.Equal(t, int64(1), stats.FailureCount)
	assert.False(t, stats.Running)

	_, err = service.RunNow(context.Background(), "explodes")
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPanickingTaskDoesNotStopOthers(t *testing.T) {
	service := NewService(nil)
	var panics, healthy atomic.Int32
	require.NoError(t, service.Register(countingTask("explodes", time.Second, &panics, func() error {
		panic("boom")
	})))
	require.NoError(t, service.Register(countingTask("healthy", time.Second, &healthy, nil)))

	service.Start()
	t.Cleanup(service.Stop)

	require.Eventually(t, func() bool {
		return panics.Load() >= 2 && healthy.Load() >= 2
	}, 5*time.Second, 50*time.Millisecond)

	stats, err := service.Stats("explodes")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.FailureCount, int64(2))
	assert.Equal(t, TriggerSchedule, stats.LastTrigger)
	assert.NotNil(t, stats.NextRunAt)

	stats, err = service.Stats("healthy")
	require.NoError(t, err)
	assert.Zero(t, stats.FailureCount)
}

func TestStartStopAreIdempotent(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	service := NewService(zap.New(core))

	service.Stop()
	assert.Equal(t, 1, logs.FilterMessage("scheduler not started").Len())
	assert.False(t, service.IsRunning())

	service.Start()
	service.Start()
	assert.Equal(t, 1, logs.FilterMessage("scheduler already started").Len())
	assert.True(t, service.IsRunning())

	service.Stop()
	service.Stop()
	assert.Equal(t, 2, logs.FilterMessage("scheduler not started").Len())
	assert.False(t, service.IsRunning())
}

func TestStopWaitsForRunningInvocation(t *testing.T) {
	service := NewService(nil)
	entered := make(chan struct{}, 1)
	var finished atomic.Bool
	require.NoError(t, service.Register(Task{
		Name:     "slow",
		Interval: time.Second,
		Run: func(context.Context) error {
			select {
			case entered <- struct{}{}:
			default:
			}
			time.Sleep(200 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	}))
	service.Start()

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("task never fired")
	}
	service.Stop()
	assert.True(t, finished.Load())
}

func TestJobsKeepsRegistrationOrder(t *testing.T) {
	service := NewService(nil)
	var calls atomic.Int32
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, service.Register(countingTask(name, time.Minute, &calls, nil)))
	}

	jobs := service.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "zeta", jobs[0].Name)
	assert.Equal(t, "alpha", jobs[1].Name)
	assert.Equal(t, "mid", jobs[2].Name)
	assert.Equal(t, time.Minute.Milliseconds(), jobs[0].IntervalMs)
}

// ==========================================================================
// Hub tasks
// ==========================================================================

type fakeSyncer struct {
	result *pms.SyncResult
	err    error
	calls  atomic.Int32
}

func (f *fakeSyncer) Sync(context.Context) (*pms.SyncResult, error) {
	f.calls.Add(1)
	return f.result, f.err
}

type fakeMaintainer struct {
	promoted, cleaned atomic.Int32
	promoteErr        error
}

func (f *fakeMaintainer) ProcessScheduledNotifications(context.Context) (int64, error) {
	f.promoted.Add(1)
	return 2, f.promoteErr
}

func (f *fakeMaintainer) CleanupOldNotifications(context.Context) (int64, error) {
	f.cleaned.Add(1)
	return 0, nil
}

type fakeSweeper struct{ calls atomic.Int32 }

func (f *fakeSweeper) SweepLiveness(context.Context) (int, error) {
	f.calls.Add(1)
	return 1, nil
}

type fakeHealth struct{ calls atomic.Int32 }

func (f *fakeHealth) ReportHealth(context.Context) error {
	f.calls.Add(1)
	return nil
}

func TestHubTasks(t *testing.T) {
	syncer := &fakeSyncer{result: &pms.SyncResult{Skipped: true, Reason: pms.ReasonNotConfigured}}
	maintainer := &fakeMaintainer{promoteErr: errors.New("database is locked")}
	sweeper := &fakeSweeper{}
	health := &fakeHealth{}

	tasks := HubTasks(TaskDeps{
		PMS:           syncer,
		Notifications: maintainer,
		Devices:       sweeper,
		Health:        health,
		Intervals:     Intervals{Liveness: 30 * time.Second},
	})

	service := NewService(nil)
	intervals := map[string]time.Duration{}
	for _, task := range tasks {
		require.NoError(t, service.Register(task))
		intervals[task.Name] = task.Interval
	}
	assert.Equal(t, map[string]time.Duration{
		TaskPMSSync:               DefaultPMSSyncInterval,
		TaskNotificationPromotion: DefaultPromotionInterval,
		TaskNotificationCleanup:   DefaultCleanupInterval,
		TaskDeviceLiveness:        30 * time.Second,
		TaskHealthCheck:           DefaultHealthCheckInterval,
	}, intervals)

	ctx := context.Background()
	_, err := service.RunNow(ctx, TaskPMSSync)
	require.NoError(t, err)
	_, err = service.RunNow(ctx, TaskNotificationPromotion)
	require.ErrorContains(t, err, "promote notifications")
	_, err = service.RunNow(ctx, TaskNotificationCleanup)
	require.NoError(t, err)
	_, err = service.RunNow(ctx, TaskDeviceLiveness)
	require.NoError(t, err)
	_, err = service.RunNow(ctx, TaskHealthCheck)
	require.NoError(t, err)

	assert.Equal(t, int32(1), syncer.calls.Load())
	assert.Equal(t, int32(1), maintainer.promoted.Load())
	assert.Equal(t, int32(1), maintainer.cleaned.Load())
	assert.Equal(t, int32(1), sweeper.calls.Load())
	assert.Equal(t, int32(1), health.calls.Load())

	syncer.err = errors.New("settings unreadable")
	stats, err := service.RunNow(ctx, TaskPMSSync)
	require.Error(t, err)
	assert.Equal(t, int64(1), stats.FailureCount)
}

// ==========================================================================
// Routes
// ==========================================================================

func TestRoutes(t *testing.T) {
	service := NewService(nil)
	var calls atomic.Int32
	require.NoError(t, service.Register(countingTask("pms_sync", time.Minute, &calls, nil)))
	require.NoError(t, service.Register(countingTask("broken", time.Minute, &calls, func() error {
		return errors.New("nope")
	})))

	router := chi.NewRouter()
	RegisterRoutes(router, service)

	t.Run("list jobs", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/scheduler/jobs", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Object string           `json:"object"`
			Data   []map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "list", body.Object)
		require.Len(t, body.Data, 2)
		assert.Equal(t, "pms_sync", body.Data[0]["name"])
		assert.Equal(t, "scheduler_job", body.Data[0]["object"])
		assert.Nil(t, body.Data[0]["last_run_at"])
	})

	t.Run("run job", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/scheduler/jobs/pms_sync/run", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(1), body["run_count"])
		assert.Equal(t, "manual", body["last_trigger"])
		assert.NotNil(t, body["last_run_at"])
	})

	t.Run("failed run is reported in the body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/scheduler/jobs/broken/run", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "nope", body["last_error"])
	})

	t.Run("unknown job", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/scheduler/jobs/nope/run", nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "TASK_NOT_FOUND")
	})
}

func TestMaintenanceTasksDoNotLogCounts(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	tasks := HubTasks(TaskDeps{
		PMS:           &fakeSyncer{result: &pms.SyncResult{}},
		Notifications: &fakeMaintainer{},
		Devices:       &fakeSweeper{},
		Health:        &fakeHealth{},
		Logger:        zap.New(core),
	})

	ctx := context.Background()
	for _, task := range tasks {
		if task.Name != TaskNotificationPromotion && task.Name != TaskNotificationCleanup {
			continue
		}
		require.NoError(t, task.Run(ctx))
	}
	assert.Zero(t, logs.Len())
}
