package pms

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/hotel-hub-go/internal/api"
	"github.com/strefethen/hotel-hub-go/internal/apperrors"
	"github.com/strefethen/hotel-hub-go/internal/db"
)

// RegisterRoutes wires PMS admin routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/v1/pms/test-connection", api.Handler(testConnection(service)))
	router.Method(http.MethodPost, "/v1/pms/sync", api.Handler(triggerSync(service)))
	router.Method(http.MethodGet, "/v1/pms/status", api.Handler(getStatus(service)))
}

type testConnectionRequest struct {
	BaseURL    string `json:"base_url" validate:"omitempty,url"`
	APIKey     string `json:"api_key"`
	PropertyID string `json:"property_id"`
}

// testConnection handles POST /v1/pms/test-connection. Blank fields fall back
// to the stored configuration so the console can re-test without the secret.
func testConnection(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req testConnectionRequest
		if r.ContentLength != 0 {
			if err := api.DecodeJSON(r, &req); err != nil {
				return err
			}
		}

		creds := Credentials{
			BaseURL:    strings.TrimSpace(req.BaseURL),
			APIKey:     strings.TrimSpace(req.APIKey),
			PropertyID: strings.TrimSpace(req.PropertyID),
		}
		if strings.HasPrefix(creds.APIKey, "****") {
			creds.APIKey = ""
		}
		if stored := service.Credentials(); stored != nil {
			if creds.BaseURL == "" {
				creds.BaseURL = stored.BaseURL
			}
			if creds.APIKey == "" {
				creds.APIKey = stored.APIKey
			}
			if creds.PropertyID == "" {
				creds.PropertyID = stored.PropertyID
			}
		}
		if !creds.Complete() {
			return apperrors.NewValidationError("base_url, api_key and property_id are required", nil)
		}

		result := service.TestConnection(r.Context(), creds)
		return api.WriteAction(w, http.StatusOK, map[string]any{
			"object":     "pms_connection_test",
			"success":    result.Success,
			"status":     result.Status,
			"category":   result.Category,
			"message":    result.Message,
			"latency_ms": result.LatencyMs,
		})
	}
}

// triggerSync handles POST /v1/pms/sync. The sweep outlives the request.
func triggerSync(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		result, err := service.Sync(context.WithoutCancel(r.Context()))
		if err != nil {
			return apperrors.NewInternalError("PMS sync failed")
		}
		return api.WriteAction(w, http.StatusOK, formatSyncResult(result))
	}
}

// getStatus handles GET /v1/pms/status
func getStatus(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		status := service.Status()
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":           "pms_status",
			"isInitialized":    status.IsInitialized,
			"syncInProgress":   status.SyncInProgress,
			"lastSyncTime":     db.NullableTime(status.LastSyncTime),
			"connectionStatus": status.ConnectionStatus,
		})
	}
}

func formatSyncResult(result *SyncResult) map[string]any {
	formatted := map[string]any{
		"object":  "pms_sync",
		"skipped": result.Skipped,
		"errors":  result.Errors,
	}
	if result.Skipped {
		formatted["reason"] = result.Reason
		return formatted
	}
	formatted["started_at"] = db.FormatTime(result.StartedAt)
	formatted["finished_at"] = db.FormatTime(result.FinishedAt)
	formatted["rooms_total"] = result.RoomsTotal
	formatted["rooms_synced"] = result.RoomsSynced
	formatted["rooms_cached"] = result.RoomsCached
	formatted["rooms_failed"] = result.RoomsFailed
	formatted["welcomes_created"] = result.Welcomes
	formatted["farewells_created"] = result.Farewells
	formatted["connection_status"] = result.Status
	return formatted
}
