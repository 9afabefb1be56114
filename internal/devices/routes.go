package devices

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/hotel-hub-go/internal/api"
	"github.com/strefethen/hotel-hub-go/internal/apperrors"
	"github.com/strefethen/hotel-hub-go/internal/db"
)

// RegisterRoutes wires admin device routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/devices", api.Handler(listDevices(service)))
	router.Method(http.MethodGet, "/v1/devices/{device_id}", api.Handler(getDevice(service)))
	router.Method(http.MethodPatch, "/v1/devices/{device_id}", api.Handler(updateDevice(service)))
}

func listDevices(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		limit := 100
		offset := 0

		query := r.URL.Query()
		if l := query.Get("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
				limit = parsed
			}
		}
		if o := query.Get("offset"); o != "" {
			if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
				offset = parsed
			}
		}

		filter := ListFilter{RoomNumber: query.Get("room_number")}
		switch status := query.Get("status"); status {
		case "":
		case string(StatusActive), string(StatusInactive):
			filter.Status = Status(status)
		default:
			return apperrors.NewValidationError("status must be one of: inactive, active", nil)
		}
		if online := query.Get("online"); online != "" {
			parsed, err := strconv.ParseBool(online)
			if err != nil {
				return apperrors.NewValidationError("online must be true or false", nil)
			}
			filter.Online = &parsed
		}

		devices, total, err := service.List(r.Context(), filter, limit, offset)
		if err != nil {
			return apperrors.NewInternalError("Failed to list devices")
		}

		formatted := make([]map[string]any, 0, len(devices))
		for i := range devices {
			formatted = append(formatted, FormatDevice(&devices[i]))
		}

		hasMore := offset+len(devices) < total
		return api.WriteList(w, "/v1/devices", formatted, hasMore)
	}
}

func getDevice(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		deviceID := chi.URLParam(r, "device_id")

		device, err := service.Get(r.Context(), deviceID)
		if err != nil {
			return apperrors.NewInternalError("Failed to load device")
		}
		if device == nil {
			return apperrors.NewNotFoundError(apperrors.ErrorCodeDeviceNotFound, "Device not found", map[string]any{"device_id": deviceID})
		}

		return api.WriteResource(w, http.StatusOK, FormatDevice(device))
	}
}

func updateDevice(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		deviceID := chi.URLParam(r, "device_id")

		var input UpdateInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		if input.IsEmpty() {
			return apperrors.NewValidationError("at least one field is required", nil)
		}

		device, err := service.Update(r.Context(), deviceID, input)
		if err != nil {
			var notFound *DeviceNotFoundError
			var activation *ActivationError
			switch {
			case errors.As(err, &notFound):
				return apperrors.NewNotFoundError(apperrors.ErrorCodeDeviceNotFound, "Device not found", map[string]any{"device_id": deviceID})
			case errors.As(err, &activation):
				return apperrors.NewValidationError("room_number is required to activate a device", map[string]any{"device_id": deviceID})
			}
			return apperrors.NewInternalError("Failed to update device")
		}

		return api.WriteResource(w, http.StatusOK, FormatDevice(device))
	}
}

// FormatDevice renders a device as an API resource.
func FormatDevice(device *Device) map[string]any {
	var lastSync any
	if device.LastSync != nil {
		lastSync = db.FormatTime(*device.LastSync)
	}
	return map[string]any{
		"object":             "device",
		"device_id":          device.DeviceID,
		"room_number":        device.RoomNumber,
		"status":             device.Status,
		"is_online":          device.IsOnline,
		"last_sync":          lastSync,
		"assigned_bundle_id": device.AssignedBundleID,
		"is_room_evacuated":  device.IsRoomEvacuated,
		"created_at":         db.FormatTime(device.CreatedAt),
		"updated_at":         db.FormatTime(device.UpdatedAt),
	}
}
