// Package devicesync implements the pull contract used by in-room devices.
package devicesync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/strefethen/hotel-hub-go/internal/cache"
	"github.com/strefethen/hotel-hub-go/internal/content"
	"github.com/strefethen/hotel-hub-go/internal/db"
	"github.com/strefethen/hotel-hub-go/internal/devices"
	"github.com/strefethen/hotel-hub-go/internal/guests"
	"github.com/strefethen/hotel-hub-go/internal/metrics"
	"github.com/strefethen/hotel-hub-go/internal/notifications"
	"github.com/strefethen/hotel-hub-go/internal/settings"
)

const inactiveMessage = "Device registered. Waiting for activation by hotel staff."

// GuestSource reads the PMS-mirrored state of a room.
type GuestSource interface {
	CurrentStay(ctx context.Context, room string) (*guests.Stay, error)
	Bills(ctx context.Context, room string) ([]guests.Bill, error)
}

// ContentSource reads the media and app catalogs.
type ContentSource interface {
	BundleMedia(ctx context.Context, bundleID string) ([]content.MediaItem, error)
	AllowedApps(ctx context.Context) ([]content.App, error)
}

// SettingsSource reads hotel display settings.
type SettingsSource interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// Response is one of the two sync shapes a device can receive.
type Response interface {
	SyncStatus() devices.Status
}

// InactiveResponse is returned to devices that are unknown or not yet active.
type InactiveResponse struct {
	Status   devices.Status `json:"status"`
	DeviceID string         `json:"device_id"`
	Message  string         `json:"message"`
}

func (r *InactiveResponse) SyncStatus() devices.Status { return r.Status }

// ActiveResponse carries the full room configuration.
type ActiveResponse struct {
	Status          devices.Status       `json:"status"`
	DeviceID        string               `json:"device_id"`
	RoomNumber      string               `json:"room_number"`
	HotelInfo       settings.HotelInfo   `json:"hotel_info"`
	GuestData       *GuestData           `json:"guest_data"`
	Bills           []BillLine           `json:"bills"`
	Media           []content.MediaItem  `json:"media"`
	Apps            []content.App        `json:"apps"`
	Notifications   []DeviceNotification `json:"notifications"`
	IsRoomEvacuated bool                 `json:"is_room_evacuated"`
	ServerTime      string               `json:"server_time"`
}

func (r *ActiveResponse) SyncStatus() devices.Status { return r.Status }

type GuestData struct {
	GuestName string  `json:"guest_name"`
	CheckIn   string  `json:"check_in"`
	CheckOut  *string `json:"check_out"`
}

type BillLine struct {
	Label    string  `json:"label"`
	Amount   float64 `json:"amount"`
	BillDate string  `json:"bill_date"`
}

// DeviceNotification is the device-facing view of a notification.
type DeviceNotification struct {
	NotificationID string  `json:"notification_id"`
	Title          string  `json:"title"`
	Body           string  `json:"body"`
	Type           string  `json:"notification_type"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
	SentAt         *string `json:"sent_at"`
}

// Service assembles sync payloads and applies device acknowledgements.
type Service struct {
	devices  *devices.Service
	engine   *notifications.Engine
	guests   GuestSource
	content  ContentSource
	settings SettingsSource
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// Deps groups the collaborators of Service.
type Deps struct {
	Devices  *devices.Service
	Engine   *notifications.Engine
	Guests   GuestSource
	Content  ContentSource
	Settings SettingsSource
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   *zap.Logger
}

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		devices:  deps.Devices,
		engine:   deps.Engine,
		guests:   deps.Guests,
		content:  deps.Content,
		settings: deps.Settings,
		cache:    deps.Cache,
		cacheTTL: ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Sync answers a device poll. Unknown devices are registered as inactive.
// For active devices every deliverable notification in status new is claimed
// and moved to sent before the payload is returned.
func (s *Service) Sync(ctx context.Context, deviceID string) (Response, error) {
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if device == nil {
		if _, _, err := s.devices.Register(ctx, deviceID); err != nil {
			return nil, fmt.Errorf("register device: %w", err)
		}
		metrics.DeviceSyncs.WithLabelValues("registered").Inc()
		return inactive(deviceID), nil
	}

	if err := s.devices.RecordSync(ctx, deviceID); err != nil {
		return nil, fmt.Errorf("record sync: %w", err)
	}
	if !device.IsActive() {
		metrics.DeviceSyncs.WithLabelValues(string(devices.StatusInactive)).Inc()
		return inactive(deviceID), nil
	}

	payload, err := s.assemble(ctx, device)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, cache.DeviceSyncKey(deviceID), payload, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache sync payload", zap.String("device_id", deviceID), zap.Error(err))
	}
	metrics.DeviceSyncs.WithLabelValues(string(devices.StatusActive)).Inc()
	return payload, nil
}

func inactive(deviceID string) *InactiveResponse {
	return &InactiveResponse{Status: devices.StatusInactive, DeviceID: deviceID, Message: inactiveMessage}
}

func (s *Service) assemble(ctx context.Context, device *devices.Device) (*ActiveResponse, error) {
	room := device.Room()

	current, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	stay, err := s.guests.CurrentStay(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("load guest stay: %w", err)
	}
	bills, err := s.guests.Bills(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("load bills: %w", err)
	}
	bundleID := ""
	if device.AssignedBundleID != nil {
		bundleID = *device.AssignedBundleID
	}
	media, err := s.content.BundleMedia(ctx, bundleID)
	if err != nil {
		return nil, fmt.Errorf("load media: %w", err)
	}
	apps, err := s.content.AllowedApps(ctx)
	if err != nil {
		return nil, fmt.Errorf("load apps: %w", err)
	}
	delivered, err := s.engine.DeliverToDevice(ctx, device.DeviceID, room)
	if err != nil {
		return nil, fmt.Errorf("deliver notifications: %w", err)
	}

	payload := &ActiveResponse{
		Status:          devices.StatusActive,
		DeviceID:        device.DeviceID,
		RoomNumber:      room,
		HotelInfo:       current.HotelInfo(),
		Bills:           make([]BillLine, 0, len(bills)),
		Media:           media,
		Apps:            apps,
		Notifications:   make([]DeviceNotification, 0, len(delivered)),
		IsRoomEvacuated: device.IsRoomEvacuated,
		ServerTime:      db.FormatTime(s.now()),
	}
	if payload.Media == nil {
		payload.Media = []content.MediaItem{}
	}
	if payload.Apps == nil {
		payload.Apps = []content.App{}
	}
	if stay != nil {
		payload.GuestData = &GuestData{
			GuestName: stay.GuestName,
			CheckIn:   db.FormatTime(stay.CheckIn),
		}
		if stay.CheckOut != nil {
			checkOut := db.FormatTime(*stay.CheckOut)
			payload.GuestData.CheckOut = &checkOut
		}
	}
	for _, bill := range bills {
		payload.Bills = append(payload.Bills, BillLine{
			Label:    bill.Label,
			Amount:   bill.Amount,
			BillDate: db.FormatTime(bill.BillDate),
		})
	}
	for _, n := range delivered {
		view := DeviceNotification{
			NotificationID: n.NotificationID,
			Title:          n.Title,
			Body:           n.Body,
			Type:           string(n.Type),
			Status:         string(n.Status),
			CreatedAt:      db.FormatTime(n.CreatedAt),
		}
		if n.SentAt != nil {
			sentAt := db.FormatTime(*n.SentAt)
			view.SentAt = &sentAt
		}
		payload.Notifications = append(payload.Notifications, view)
	}
	return payload, nil
}

// Acknowledge forwards a viewed or dismissed report to the notification engine.
func (s *Service) Acknowledge(ctx context.Context, deviceID, notificationID string, status notifications.Status) (notifications.AckResult, error) {
	return s.engine.Acknowledge(ctx, deviceID, notificationID, status)
}

// ClearStatus resets the evacuation flag of the device's room display.
func (s *Service) ClearStatus(ctx context.Context, deviceID string) (*devices.Device, error) {
	return s.devices.ClearEvacuation(ctx, deviceID)
}

// LastSync returns the most recent cached payload for a device.
func (s *Service) LastSync(ctx context.Context, deviceID string) (json.RawMessage, bool, error) {
	raw, found, err := s.cache.Get(ctx, cache.DeviceSyncKey(deviceID))
	if err != nil || !found {
		return nil, false, err
	}
	return json.RawMessage(raw), true, nil
}
