package settings

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/strefethen/hotel-hub-go/internal/db"
)

// Settings is the singleton system configuration row.
type Settings struct {
	HotelName           string
	HotelLogoURL        string
	WelcomeMessage      string
	WifiSSID            string
	WifiPassword        string
	FrontDeskPhone      string
	PMSBaseURL          string
	PMSAPIKey           string
	PMSPropertyID       string
	PMSConnectionStatus string
	UpdatedAt           time.Time
}

// HotelInfo is the display subset sent to devices.
type HotelInfo struct {
	HotelName      string `json:"hotel_name"`
	HotelLogoURL   string `json:"hotel_logo_url"`
	WelcomeMessage string `json:"welcome_message"`
	WifiSSID       string `json:"wifi_ssid"`
	WifiPassword   string `json:"wifi_password"`
	FrontDeskPhone string `json:"front_desk_phone"`
}

// HotelInfo extracts the device-facing fields.
func (s *Settings) HotelInfo() HotelInfo {
	return HotelInfo{
		HotelName:      s.HotelName,
		HotelLogoURL:   s.HotelLogoURL,
		WelcomeMessage: s.WelcomeMessage,
		WifiSSID:       s.WifiSSID,
		WifiPassword:   s.WifiPassword,
		FrontDeskPhone: s.FrontDeskPhone,
	}
}

// UpdateInput represents the request body for updating settings.
// Nil fields are left unchanged.
type UpdateInput struct {
	HotelName      *string `json:"hotel_name"`
	HotelLogoURL   *string `json:"hotel_logo_url"`
	WelcomeMessage *string `json:"welcome_message"`
	WifiSSID       *string `json:"wifi_ssid"`
	WifiPassword   *string `json:"wifi_password"`
	FrontDeskPhone *string `json:"front_desk_phone"`
	PMSBaseURL     *string `json:"pms_base_url"`
	PMSAPIKey      *string `json:"pms_api_key"`
	PMSPropertyID  *string `json:"pms_property_id"`
}

// touchesPMS reports whether the update changes PMS material.
func (in UpdateInput) touchesPMS() bool {
	return in.PMSBaseURL != nil || in.PMSAPIKey != nil || in.PMSPropertyID != nil
}

// ChangeListener is notified after settings that affect PMS access change.
type ChangeListener func(ctx context.Context, updated *Settings)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Service provides settings management functionality.
// Uses separate reader/writer connections for optimal SQLite concurrency.
type Service struct {
	reader *sql.DB
	writer *sql.DB
	logger *zap.Logger

	listenersMu sync.RWMutex
	listeners   []ChangeListener
}

// NewService creates a new settings service.
func NewService(dbPair DBPair, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		reader: dbPair.Reader(),
		writer: dbPair.Writer(),
		logger: logger,
	}
}

// OnPMSChange registers a listener invoked after PMS fields are updated.
func (s *Service) OnPMSChange(listener ChangeListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Get retrieves the settings row.
func (s *Service) Get(ctx context.Context) (*Settings, error) {
	var (
		settings  Settings
		updatedAt string
	)
	err := s.reader.QueryRowContext(ctx, `
		SELECT hotel_name, hotel_logo_url, welcome_message, wifi_ssid, wifi_password,
			front_desk_phone, pms_base_url, pms_api_key, pms_property_id,
			pms_connection_status, updated_at
		FROM system_settings
		WHERE id = 1
	`).Scan(&settings.HotelName, &settings.HotelLogoURL, &settings.WelcomeMessage,
		&settings.WifiSSID, &settings.WifiPassword, &settings.FrontDeskPhone,
		&settings.PMSBaseURL, &settings.PMSAPIKey, &settings.PMSPropertyID,
		&settings.PMSConnectionStatus, &updatedAt)
	if err != nil {
		return nil, err
	}
	settings.UpdatedAt, _ = db.ParseTime(updatedAt)
	return &settings, nil
}

// Update applies input and notifies PMS listeners when PMS material changed.
func (s *Service) Update(ctx context.Context, input UpdateInput) (*Settings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	apply(&current.HotelName, input.HotelName)
	apply(&current.HotelLogoURL, input.HotelLogoURL)
	apply(&current.WelcomeMessage, input.WelcomeMessage)
	apply(&current.WifiSSID, input.WifiSSID)
	apply(&current.WifiPassword, input.WifiPassword)
	apply(&current.FrontDeskPhone, input.FrontDeskPhone)
	apply(&current.PMSBaseURL, input.PMSBaseURL)
	apply(&current.PMSAPIKey, input.PMSAPIKey)
	apply(&current.PMSPropertyID, input.PMSPropertyID)
	current.PMSBaseURL = strings.TrimRight(current.PMSBaseURL, "/")

	now := time.Now()
	_, err = s.writer.ExecContext(ctx, `
		UPDATE system_settings SET
			hotel_name = ?, hotel_logo_url = ?, welcome_message = ?, wifi_ssid = ?,
			wifi_password = ?, front_desk_phone = ?, pms_base_url = ?, pms_api_key = ?,
			pms_property_id = ?, updated_at = ?
		WHERE id = 1
	`, current.HotelName, current.HotelLogoURL, current.WelcomeMessage, current.WifiSSID,
		current.WifiPassword, current.FrontDeskPhone, current.PMSBaseURL, current.PMSAPIKey,
		current.PMSPropertyID, db.FormatTime(now))
	if err != nil {
		return nil, err
	}
	current.UpdatedAt = now.UTC()

	if input.touchesPMS() {
		s.logger.Info("PMS settings changed", zap.String("pms_base_url", current.PMSBaseURL))
		s.listenersMu.RLock()
		listeners := append([]ChangeListener(nil), s.listeners...)
		s.listenersMu.RUnlock()
		for _, listener := range listeners {
			listener(ctx, current)
		}
	}

	return current, nil
}

// SetPMSConnectionStatus persists the outcome of the latest PMS sweep.
func (s *Service) SetPMSConnectionStatus(ctx context.Context, status string) error {
	_, err := s.writer.ExecContext(ctx,
		`UPDATE system_settings SET pms_connection_status = ? WHERE id = 1`, status)
	return err
}

// MaskSecret hides all but the last four characters of a credential.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
