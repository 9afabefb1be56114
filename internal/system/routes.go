package system

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/strefethen/hotel-hub-go/internal/api"
	"github.com/strefethen/hotel-hub-go/internal/apperrors"
	"github.com/strefethen/hotel-hub-go/internal/db"
)

// RegisterRoutes wires admin system routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/system/info", api.Handler(getSystemInfo(service)))
	router.Method(http.MethodGet, "/v1/system/health", api.Handler(getSystemHealth(service)))
}

// RegisterHealthRoutes wires the public probes.
func RegisterHealthRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"service":   "hotel-hub",
			"version":   Version,
			"timestamp": db.NowISO(),
		})
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if err := service.Ready(r.Context()); err != nil {
			service.logger.Warn("readiness probe failed", zap.Error(err))
			return apperrors.NewServiceUnavailableError(apperrors.ErrorCodeServiceUnavailable, "Database unavailable")
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}

// getSystemInfo handles GET /v1/system/info
func getSystemInfo(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		info, err := service.GetSystemInfo(r.Context())
		if err != nil {
			service.logger.Error("failed to get system info", zap.Error(err))
			return apperrors.NewInternalError("Failed to get system info")
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":            "system_info",
			"hub_version":       info.HubVersion,
			"uptime_seconds":    info.Uptime,
			"memory_mb":         info.MemoryUsageMB,
			"goroutines":        info.Goroutines,
			"sqlite_connected":  info.SQLiteConnected,
			"devices_total":     info.Devices.Total,
			"devices_active":    info.Devices.Active,
			"devices_online":    info.Devices.Online,
			"scheduler_running": info.SchedulerRunning,
		})
	}
}

// getSystemHealth handles GET /v1/system/health. An unhealthy hub answers 503
// with the same body.
func getSystemHealth(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		health := service.CheckHealth(r.Context())
		status := http.StatusOK
		if health.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		return api.WriteResource(w, status, formatHealth(health))
	}
}

func formatHealth(health Health) map[string]any {
	return map[string]any{
		"object":                "system_health",
		"status":                health.Status,
		"checked_at":            db.FormatTime(health.CheckedAt),
		"components":            health.Components,
		"pms_connection_status": health.PMSConnectionStatus,
		"scheduler_running":     health.SchedulerRunning,
		"realtime_connections":  health.RealtimeConnections,
	}
}
