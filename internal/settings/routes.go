package settings

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/hotel-hub-go/internal/api"
	"github.com/strefethen/hotel-hub-go/internal/apperrors"
	"github.com/strefethen/hotel-hub-go/internal/db"
)

// RegisterRoutes wires settings routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/settings", api.Handler(getSettings(service)))
	router.Method(http.MethodPut, "/v1/settings", api.Handler(updateSettings(service)))
}

// getSettings handles GET /v1/settings
func getSettings(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		settings, err := service.Get(r.Context())
		if err != nil {
			return apperrors.NewInternalError("Failed to get settings")
		}
		return api.WriteResource(w, http.StatusOK, formatSettings(settings))
	}
}

// updateSettings handles PUT /v1/settings
func updateSettings(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var input UpdateInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}

		if input.PMSBaseURL != nil {
			if raw := strings.TrimSpace(*input.PMSBaseURL); raw != "" {
				parsed, err := url.Parse(raw)
				if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
					return apperrors.NewValidationError("pms_base_url must be an http(s) URL", nil)
				}
			}
		}
		// A masked key echoed back by the console means "unchanged".
		if input.PMSAPIKey != nil && strings.HasPrefix(*input.PMSAPIKey, "****") {
			input.PMSAPIKey = nil
		}

		settings, err := service.Update(r.Context(), input)
		if err != nil {
			return apperrors.NewInternalError("Failed to update settings")
		}
		return api.WriteResource(w, http.StatusOK, formatSettings(settings))
	}
}

func formatSettings(settings *Settings) map[string]any {
	return map[string]any{
		"object":                "settings",
		"hotel_name":            settings.HotelName,
		"hotel_logo_url":        settings.HotelLogoURL,
		"welcome_message":       settings.WelcomeMessage,
		"wifi_ssid":             settings.WifiSSID,
		"wifi_password":         settings.WifiPassword,
		"front_desk_phone":      settings.FrontDeskPhone,
		"pms_base_url":          settings.PMSBaseURL,
		"pms_api_key":           MaskSecret(settings.PMSAPIKey),
		"pms_property_id":       settings.PMSPropertyID,
		"pms_connection_status": settings.PMSConnectionStatus,
		"updated_at":            db.FormatTime(settings.UpdatedAt),
	}
}
