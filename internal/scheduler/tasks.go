package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/strefethen/hotel-hub-go/internal/pms"
)

// PMSSyncer runs a PMS reconciliation sweep.
type PMSSyncer interface {
	Sync(ctx context.Context) (*pms.SyncResult, error)
}

// NotificationMaintainer promotes and prunes notifications.
type NotificationMaintainer interface {
	ProcessScheduledNotifications(ctx context.Context) (int64, error)
	CleanupOldNotifications(ctx context.Context) (int64, error)
}

// LivenessSweeper flips stale devices offline.
type LivenessSweeper interface {
	SweepLiveness(ctx context.Context) (int, error)
}

// HealthReporter runs the aggregate health check.
type HealthReporter interface {
	ReportHealth(ctx context.Context) error
}

// Intervals overrides the default task cadence. Zero values keep defaults.
type Intervals struct {
	PMSSync     time.Duration
	Promotion   time.Duration
	Cleanup     time.Duration
	Liveness    time.Duration
	HealthCheck time.Duration
}

// TaskDeps are the components driven by the standard tasks.
type TaskDeps struct {
	PMS           PMSSyncer
	Notifications NotificationMaintainer
	Devices       LivenessSweeper
	Health        HealthReporter
	Intervals     Intervals
	Logger        *zap.Logger
}

// HubTasks builds the hub's recurring tasks.
func HubTasks(deps TaskDeps) []Task {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	intervals := deps.Intervals.withDefaults()

	return []Task{
		{
			Name:     TaskPMSSync,
			Interval: intervals.PMSSync,
			Run: func(ctx context.Context) error {
				result, err := deps.PMS.Sync(ctx)
				if err != nil {
					return err
				}
				if result.Skipped {
					logger.Debug("pms sync skipped", zap.String("reason", result.Reason))
				}
				return nil
			},
		},
		{
			Name:     TaskNotificationPromotion,
			Interval: intervals.Promotion,
			Run: func(ctx context.Context) error {
				if _, err := deps.Notifications.ProcessScheduledNotifications(ctx); err != nil {
					return fmt.Errorf("promote notifications: %w", err)
				}
				return nil
			},
		},
		{
			Name:     TaskNotificationCleanup,
			Interval: intervals.Cleanup,
			Run: func(ctx context.Context) error {
				if _, err := deps.Notifications.CleanupOldNotifications(ctx); err != nil {
					return fmt.Errorf("clean up notifications: %w", err)
				}
				return nil
			},
		},
		{
			Name:     TaskDeviceLiveness,
			Interval: intervals.Liveness,
			Run: func(ctx context.Context) error {
				_, err := deps.Devices.SweepLiveness(ctx)
				return err
			},
		},
		{
			Name:     TaskHealthCheck,
			Interval: intervals.HealthCheck,
			Run:      deps.Health.ReportHealth,
		},
	}
}

func (i Intervals) withDefaults() Intervals {
	if i.PMSSync <= 0 {
		i.PMSSync = DefaultPMSSyncInterval
	}
	if i.Promotion <= 0 {
		i.Promotion = DefaultPromotionInterval
	}
	if i.Cleanup <= 0 {
		i.Cleanup = DefaultCleanupInterval
	}
	if i.Liveness <= 0 {
		i.Liveness = DefaultLivenessInterval
	}
	if i.HealthCheck <= 0 {
		i.HealthCheck = DefaultHealthCheckInterval
	}
	return i
}
