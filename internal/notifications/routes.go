package notifications

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/hotel-hub-go/internal/api"
	"github.com/strefethen/hotel-hub-go/internal/apperrors"
	"github.com/strefethen/hotel-hub-go/internal/db"
)

// RegisterRoutes wires admin notification routes to the router.
func RegisterRoutes(router chi.Router, engine *Engine) {
	router.Method(http.MethodGet, "/v1/notifications", api.Handler(listNotifications(engine)))
	router.Method(http.MethodPost, "/v1/notifications", api.Handler(sendManual(engine)))
	router.Method(http.MethodPost, "/v1/notifications/system", api.Handler(sendSystem(engine)))
	router.Method(http.MethodDelete, "/v1/notifications/{notification_id}", api.Handler(deleteNotification(engine)))
}

func listNotifications(engine *Engine) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		query := r.URL.Query()
		limit := 50
		offset := 0
		if l := query.Get("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
				limit = parsed
			}
		}
		if o := query.Get("offset"); o != "" {
			if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
				offset = parsed
			}
		}

		filter := ListFilter{
			DeviceID:   query.Get("device_id"),
			RoomNumber: query.Get("room_number"),
		}
		switch status := Status(query.Get("status")); status {
		case "", StatusNew, StatusSent, StatusViewed, StatusDismissed:
			filter.Status = status
		default:
			return apperrors.NewValidationError("status must be one of: new, sent, viewed, dismissed", nil)
		}
		switch kind := Type(query.Get("type")); kind {
		case "", TypeWelcome, TypeFarewell, TypeManual, TypeSystem:
			filter.Type = kind
		default:
			return apperrors.NewValidationError("type must be one of: welcome, farewell, manual, system", nil)
		}

		rows, total, err := engine.Repository().List(r.Context(), filter, limit, offset)
		if err != nil {
			return apperrors.NewInternalError("Failed to list notifications")
		}

		formatted := make([]map[string]any, 0, len(rows))
		for i := range rows {
			formatted = append(formatted, FormatNotification(&rows[i]))
		}
		return api.WriteList(w, "/v1/notifications", formatted, offset+len(rows) < total)
	}
}

func sendManual(engine *Engine) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var input ManualInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}

		count, err := engine.SendManualNotification(r.Context(), input)
		if err != nil {
			var empty *EmptyTargetError
			var unknown *UnknownDevicesError
			switch {
			case errors.As(err, &empty):
				return apperrors.NewValidationError(empty.Error(), nil)
			case errors.As(err, &unknown):
				return apperrors.NewValidationError(unknown.Error(), map[string]any{"device_ids": unknown.DeviceIDs})
			}
			return apperrors.NewInternalError("Failed to create notifications")
		}

		return api.WriteAction(w, http.StatusCreated, map[string]any{
			"object":  "notification_batch",
			"created": count,
		})
	}
}

func sendSystem(engine *Engine) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var input SystemInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}

		count, err := engine.SendSystemNotification(r.Context(), input)
		if err != nil {
			return apperrors.NewInternalError("Failed to create notifications")
		}

		return api.WriteAction(w, http.StatusCreated, map[string]any{
			"object":  "notification_batch",
			"created": count,
		})
	}
}

func deleteNotification(engine *Engine) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		notificationID := chi.URLParam(r, "notification_id")

		found, err := engine.Repository().Delete(r.Context(), notificationID)
		if err != nil {
			return apperrors.NewInternalError("Failed to delete notification")
		}
		if !found {
			return apperrors.NewNotFoundError(apperrors.ErrorCodeNotificationMissing, "Notification not found",
				map[string]any{"notification_id": notificationID})
		}

		return api.WriteAction(w, http.StatusOK, map[string]any{
			"object":          "notification",
			"notification_id": notificationID,
			"deleted":         true,
		})
	}
}

// FormatNotification renders a notification for admin and device responses.
func FormatNotification(n *Notification) map[string]any {
	return map[string]any{
		"object":            "notification",
		"notification_id":   n.NotificationID,
		"device_id":         n.DeviceID,
		"room_number":       n.RoomNumber,
		"title":             n.Title,
		"body":              n.Body,
		"notification_type": n.Type,
		"guest_name":        n.GuestName,
		"status":            n.Status,
		"scheduled_for":     db.NullableTime(n.ScheduledFor),
		"created_at":        db.FormatTime(n.CreatedAt),
		"sent_at":           db.NullableTime(n.SentAt),
		"viewed_at":         db.NullableTime(n.ViewedAt),
		"dismissed_at":      db.NullableTime(n.DismissedAt),
	}
}
