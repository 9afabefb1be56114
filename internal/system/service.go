// Package system reports hub health and runtime information.
package system

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/strefethen/hotel-hub-go/internal/cache"
	"github.com/strefethen/hotel-hub-go/internal/devices"
	"github.com/strefethen/hotel-hub-go/internal/pms"
)

// Version is the hub version, set at build time or defaulted.
var Version = "1.0.0"

const (
	EventHealth = "system_health"
	Topic       = "system"

	healthProbeKey = "system:health:probe"
)

// Overall health states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// SchedulerStatusProvider provides scheduler running status.
type SchedulerStatusProvider interface {
	IsRunning() bool
}

// PMSStatusProvider exposes the PMS integration state.
type PMSStatusProvider interface {
	Status() pms.Status
}

// ConnectionCounter reports live realtime connections.
type ConnectionCounter interface {
	ConnectionCount() int
}

// DeviceCounter summarizes the device fleet.
type DeviceCounter interface {
	Counts(ctx context.Context) (devices.Counts, error)
}

// Broadcaster publishes health reports to console clients.
type Broadcaster interface {
	Broadcast(eventType string, payload any, topic string)
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Deps wires the components a health check inspects.
type Deps struct {
	DB          DBPair
	Cache       cache.Cache
	PMS         PMSStatusProvider
	Scheduler   SchedulerStatusProvider
	Realtime    ConnectionCounter
	Devices     DeviceCounter
	Broadcaster Broadcaster
	Logger      *zap.Logger
}

// Service provides system information and health checks.
// Uses reader connection only as this service only performs SELECT queries.
type Service struct {
	deps      Deps
	reader    *sql.DB
	logger    *zap.Logger
	startTime time.Time
}

// NewService creates a new system service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		deps:      deps,
		reader:    deps.DB.Reader(),
		logger:    logger,
		startTime: time.Now(),
	}
}

// ComponentCheck is the result of probing one dependency.
type ComponentCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health is the aggregate health report.
type Health struct {
	Status              string                    `json:"status"`
	CheckedAt           time.Time                 `json:"checked_at"`
	Components          map[string]ComponentCheck `json:"components"`
	PMSConnectionStatus pms.ConnectionStatus      `json:"pms_connection_status"`
	SchedulerRunning    bool                      `json:"scheduler_running"`
	RealtimeConnections int                       `json:"realtime_connections"`
}

// SystemInfo holds runtime information for the console.
type SystemInfo struct {
	HubVersion       string         `json:"hub_version"`
	Uptime           int64          `json:"uptime_seconds"`
	MemoryUsageMB    float64        `json:"memory_mb"`
	Goroutines       int            `json:"goroutines"`
	SQLiteConnected  bool           `json:"sqlite_connected"`
	Devices          devices.Counts `json:"devices"`
	SchedulerRunning bool           `json:"scheduler_running"`
}

// CheckHealth probes the database and cache and collects the state of the
// PMS integration, scheduler and realtime hub. A database failure makes the
// hub unhealthy; any other problem degrades it.
func (s *Service) CheckHealth(ctx context.Context) Health {
	health := Health{
		Status:     StatusHealthy,
		CheckedAt:  time.Now().UTC(),
		Components: make(map[string]ComponentCheck, 3),
	}

	if err := s.reader.PingContext(ctx); err != nil {
		health.Components["database"] = ComponentCheck{Status: StatusUnhealthy, Message: err.Error()}
		health.Status = StatusUnhealthy
	} else {
		health.Components["database"] = ComponentCheck{Status: StatusHealthy}
	}

	if err := s.probeCache(ctx); err != nil {
		health.Components["cache"] = ComponentCheck{Status: StatusDegraded, Message: err.Error()}
		health.degrade()
	} else {
		health.Components["cache"] = ComponentCheck{Status: StatusHealthy}
	}

	if s.deps.PMS != nil {
		status := s.deps.PMS.Status()
		health.PMSConnectionStatus = status.ConnectionStatus
		switch status.ConnectionStatus {
		case pms.ConnectionFailed, pms.ConnectionError:
			health.Components["pms"] = ComponentCheck{Status: StatusDegraded, Message: "last sweep " + string(status.ConnectionStatus)}
			health.degrade()
		default:
			health.Components["pms"] = ComponentCheck{Status: StatusHealthy}
		}
	}

	if s.deps.Scheduler != nil {
		health.SchedulerRunning = s.deps.Scheduler.IsRunning()
	}
	if s.deps.Realtime != nil {
		health.RealtimeConnections = s.deps.Realtime.ConnectionCount()
	}

	return health
}

func (h *Health) degrade() {
	if h.Status == StatusHealthy {
		h.Status = StatusDegraded
	}
}

func (s *Service) probeCache(ctx context.Context) error {
	if s.deps.Cache == nil {
		return nil
	}
	if err := s.deps.Cache.Set(ctx, healthProbeKey, []byte("ok"), 10*time.Second); err != nil {
		return err
	}
	if _, _, err := s.deps.Cache.Get(ctx, healthProbeKey); err != nil {
		return err
	}
	return s.deps.Cache.Delete(ctx, healthProbeKey)
}

// ReportHealth runs a health check, logs it and broadcasts it on the system topic.
func (s *Service) ReportHealth(ctx context.Context) error {
	health := s.CheckHealth(ctx)

	fields := []zap.Field{
		zap.String("status", health.Status),
		zap.String("pms_connection_status", string(health.PMSConnectionStatus)),
		zap.Bool("scheduler_running", health.SchedulerRunning),
		zap.Int("realtime_connections", health.RealtimeConnections),
	}
	if health.Status == StatusHealthy {
		s.logger.Info("health check", fields...)
	} else {
		s.logger.Warn("health check", append(fields, zap.Any("components", health.Components))...)
	}

	if s.deps.Broadcaster != nil {
		s.deps.Broadcaster.Broadcast(EventHealth, formatHealth(health), Topic)
	}
	return nil
}

// Ready reports whether the hub can serve requests.
func (s *Service) Ready(ctx context.Context) error {
	return s.reader.PingContext(ctx)
}

// GetSystemInfo returns current system information.
func (s *Service) GetSystemInfo(ctx context.Context) (*SystemInfo, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	info := &SystemInfo{
		HubVersion:      Version,
		Uptime:          int64(time.Since(s.startTime).Seconds()),
		MemoryUsageMB:   float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:      runtime.NumGoroutine(),
		SQLiteConnected: s.reader.PingContext(ctx) == nil,
	}
	if s.deps.Scheduler != nil {
		info.SchedulerRunning = s.deps.Scheduler.IsRunning()
	}
	if s.deps.Devices != nil {
		counts, err := s.deps.Devices.Counts(ctx)
		if err != nil {
			return nil, err
		}
		info.Devices = counts
	}
	return info, nil
}
