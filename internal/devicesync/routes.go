package devicesync

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/strefethen/hotel-hub-go/internal/api"
	"github.com/strefethen/hotel-hub-go/internal/apperrors"
	"github.com/strefethen/hotel-hub-go/internal/devices"
	"github.com/strefethen/hotel-hub-go/internal/notifications"
)

// RegisterRoutes wires the device-facing endpoints. They sit outside admin
// auth and are rate limited per client IP.
func RegisterRoutes(router chi.Router, service *Service, requestsPerMinute int, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	router.Group(func(r chi.Router) {
		if requestsPerMinute > 0 {
			r.Use(RateLimit(requestsPerMinute))
		}
		r.Method(http.MethodPost, "/device/sync", api.Handler(syncDevice(service, logger)))
		r.Method(http.MethodPost, "/device/notification-status", api.Handler(updateNotificationStatus(service, logger)))
		r.Method(http.MethodPost, "/device/clear-status", api.Handler(clearStatus(service, logger)))
	})
}

// RegisterAdminRoutes wires admin views of device sync state.
func RegisterAdminRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/devices/{device_id}/last-sync", api.Handler(getLastSync(service)))
}

// RateLimit limits requests per client IP and answers 429 in the API error format.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			api.WriteError(w, r, apperrors.NewAppError(apperrors.ErrorCodeRateLimited,
				"Too many requests", http.StatusTooManyRequests, nil))
		}),
	)
}

type syncRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
}

// syncDevice handles POST /device/sync
func syncDevice(service *Service, logger *zap.Logger) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req syncRequest
		if err := api.DecodeJSON(r, &req); err != nil {
			return err
		}
		deviceID := strings.TrimSpace(req.DeviceID)
		if deviceID == "" {
			return apperrors.NewValidationError("device_id is required", nil)
		}

		response, err := service.Sync(r.Context(), deviceID)
		if err != nil {
			logger.Error("device sync failed", zap.String("device_id", deviceID), zap.Error(err))
			return apperrors.NewInternalError("Sync failed")
		}
		return api.WriteResource(w, http.StatusOK, response)
	}
}

type notificationStatusRequest struct {
	DeviceID       string `json:"device_id" validate:"required"`
	NotificationID string `json:"notification_id" validate:"required"`
	Status         string `json:"status" validate:"required,oneof=viewed dismissed"`
}

// updateNotificationStatus handles POST /device/notification-status
func updateNotificationStatus(service *Service, logger *zap.Logger) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req notificationStatusRequest
		if err := api.DecodeJSON(r, &req); err != nil {
			return err
		}

		result, err := service.Acknowledge(r.Context(), req.DeviceID, req.NotificationID, notifications.Status(req.Status))
		if err != nil {
			var notFound *notifications.NotificationNotFoundError
			if errors.As(err, &notFound) {
				return apperrors.NewNotFoundError(apperrors.ErrorCodeNotificationMissing, "Notification not found",
					map[string]any{"notification_id": req.NotificationID})
			}
			logger.Error("notification status update failed",
				zap.String("device_id", req.DeviceID),
				zap.String("notification_id", req.NotificationID),
				zap.Error(err),
			)
			return apperrors.NewInternalError("Failed to update notification")
		}

		return api.WriteAction(w, http.StatusOK, map[string]any{
			"object":          "notification_status",
			"updated":         result.Updated,
			"notification_id": req.NotificationID,
			"status":          result.Notification.Status,
		})
	}
}

type clearStatusRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
}

// clearStatus handles POST /device/clear-status
func clearStatus(service *Service, logger *zap.Logger) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req clearStatusRequest
		if err := api.DecodeJSON(r, &req); err != nil {
			return err
		}

		device, err := service.ClearStatus(r.Context(), req.DeviceID)
		if err != nil {
			var notFound *devices.DeviceNotFoundError
			if errors.As(err, &notFound) {
				return apperrors.NewNotFoundError(apperrors.ErrorCodeDeviceNotFound, "Device not found",
					map[string]any{"device_id": req.DeviceID})
			}
			logger.Error("clear status failed", zap.String("device_id", req.DeviceID), zap.Error(err))
			return apperrors.NewInternalError("Failed to clear status")
		}

		return api.WriteAction(w, http.StatusOK, map[string]any{
			"object":            "device_status",
			"device_id":         device.DeviceID,
			"is_room_evacuated": device.IsRoomEvacuated,
		})
	}
}

// getLastSync handles GET /v1/devices/{device_id}/last-sync
func getLastSync(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		deviceID := chi.URLParam(r, "device_id")

		payload, found, err := service.LastSync(r.Context(), deviceID)
		if err != nil {
			return apperrors.NewInternalError("Failed to read sync cache")
		}
		if !found {
			return apperrors.NewNotFoundError(apperrors.ErrorCodeNotFound, "No cached sync for device",
				map[string]any{"device_id": deviceID})
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":    "device_last_sync",
			"device_id": deviceID,
			"payload":   payload,
		})
	}
}
