// Package notifications owns the notification state machine: generation from
// guest lifecycle events, promotion of scheduled rows, delivery through device
// sync, device acknowledgements and age-based cleanup.
package notifications

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strefethen/hotel-hub-go/internal/devices"
	"github.com/strefethen/hotel-hub-go/internal/metrics"
	"github.com/strefethen/hotel-hub-go/internal/settings"
)

// Broadcaster receives state-change events for admin sessions.
type Broadcaster interface {
	Broadcast(eventType string, payload any, topic string)
}

// DeviceDirectory resolves notification recipients.
type DeviceDirectory interface {
	ListActive(ctx context.Context, rooms []string) ([]devices.Device, error)
	FilterExisting(ctx context.Context, deviceIDs []string) ([]string, error)
}

// SettingsSource supplies hotel wording for generated messages.
type SettingsSource interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

type seenKey struct {
	room  string
	guest string
}

// Engine generates and transitions notifications.
type Engine struct {
	repo        *Repository
	devices     DeviceDirectory
	settings    SettingsSource
	broadcaster Broadcaster
	logger      *zap.Logger
	now         func() time.Time

	// lastSeen holds the newest check-in observed per (room, guest). It is a
	// fast path only; the storage dedup query is authoritative.
	seenMu   sync.Mutex
	lastSeen map[seenKey]time.Time
}

func NewEngine(repo *Repository, directory DeviceDirectory, settingsSource SettingsSource, broadcaster Broadcaster, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		repo:        repo,
		devices:     directory,
		settings:    settingsSource,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
		lastSeen:    make(map[seenKey]time.Time),
	}
}

// Repository exposes the store to the route layer.
func (e *Engine) Repository() *Repository {
	return e.repo
}

// =============================================================================
// Guest lifecycle
// =============================================================================

// ProcessGuestCheckinCheckout derives welcome and farewell notifications from
// the PMS snapshot of room. A nil snapshot means the room has no guest.
func (e *Engine) ProcessGuestCheckinCheckout(ctx context.Context, room string, snapshot *GuestSnapshot) (ProcessResult, error) {
	var result ProcessResult
	if snapshot == nil || strings.TrimSpace(snapshot.GuestName) == "" {
		return result, nil
	}

	now := e.now().UTC()
	key := seenKey{room: room, guest: snapshot.GuestName}

	e.seenMu.Lock()
	previous, seen := e.lastSeen[key]
	e.seenMu.Unlock()
	isNewCheckin := !seen || snapshot.CheckIn.After(previous)

	targets, err := e.roomTargets(ctx, room)
	if err != nil {
		return result, err
	}

	var created []Notification

	if isNewCheckin {
		title, body := e.welcomeText(ctx, snapshot.GuestName)
		for _, target := range targets {
			exists, err := e.repo.HasRecentWelcome(ctx, target, room, snapshot.GuestName, now.Add(-welcomeDedupWindow))
			if err != nil {
				return result, err
			}
			if exists {
				continue
			}
			created = append(created, e.newNotification(target, room, TypeWelcome, title, body, &snapshot.GuestName, nil, now))
			result.WelcomesCreated++
		}
	}

	if snapshot.CheckOut != nil {
		farewellAt := snapshot.CheckOut.Add(-farewellLeadTime).UTC()
		if farewellAt.After(now) {
			title, body := e.farewellText(snapshot.GuestName)
			for _, target := range targets {
				exists, err := e.repo.HasScheduledFarewell(ctx, target, room, snapshot.GuestName)
				if err != nil {
					return result, err
				}
				if exists {
					continue
				}
				at := farewellAt
				created = append(created, e.newNotification(target, room, TypeFarewell, title, body, &snapshot.GuestName, &at, now))
				result.FarewellsCreated++
			}
		}
	}

	if err := e.store(ctx, created); err != nil {
		return ProcessResult{}, err
	}
	if len(created) > 0 {
		e.logger.Info("guest notifications created",
			zap.String("room_number", room),
			zap.String("guest_name", snapshot.GuestName),
			zap.Int("welcomes", result.WelcomesCreated),
			zap.Int("farewells", result.FarewellsCreated),
		)
	}
	e.markSeen(key, snapshot.CheckIn)
	return result, nil
}

// markSeen records a completed pass. Failed passes leave the map untouched so
// the next sweep retries the welcome.
func (e *Engine) markSeen(key seenKey, checkIn time.Time) {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	if current, ok := e.lastSeen[key]; !ok || checkIn.After(current) {
		e.lastSeen[key] = checkIn
	}
}

// roomTargets returns one entry per active device in room, or a single nil
// entry meaning "the room" when no device is active there yet.
func (e *Engine) roomTargets(ctx context.Context, room string) ([]*string, error) {
	active, err := e.devices.ListActive(ctx, []string{room})
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return []*string{nil}, nil
	}
	targets := make([]*string, 0, len(active))
	for i := range active {
		id := active[i].DeviceID
		targets = append(targets, &id)
	}
	return targets, nil
}

func (e *Engine) welcomeText(ctx context.Context, guest string) (string, string) {
	title := "Welcome, " + guest
	body := "We hope you enjoy your stay."
	if e.settings == nil {
		return title, body
	}
	current, err := e.settings.Get(ctx)
	if err != nil {
		e.logger.Warn("settings unavailable for welcome text", zap.Error(err))
		return title, body
	}
	if current.HotelName != "" {
		title = fmt.Sprintf("Welcome to %s, %s", current.HotelName, guest)
	}
	if current.WelcomeMessage != "" {
		body = current.WelcomeMessage
	}
	return title, body
}

func (e *Engine) farewellText(guest string) (string, string) {
	return "Thank you for staying with us",
		fmt.Sprintf("Check-out is in 15 minutes. Safe travels, %s.", guest)
}

// =============================================================================
// Sweeps
// =============================================================================

// ProcessScheduledNotifications promotes every new notification whose
// scheduled time is at or before now.
func (e *Engine) ProcessScheduledNotifications(ctx context.Context) (int64, error) {
	promoted, err := e.repo.PromoteDue(ctx, e.now())
	if err != nil {
		return 0, err
	}
	if promoted > 0 {
		e.logger.Info("scheduled notifications promoted", zap.Int64("count", promoted))
	}
	return promoted, nil
}

// CleanupOldNotifications deletes viewed/dismissed rows older than the retention period.
func (e *Engine) CleanupOldNotifications(ctx context.Context) (int64, error) {
	deleted, err := e.repo.DeleteTerminalBefore(ctx, e.now().Add(-terminalRetention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		e.logger.Info("old notifications deleted", zap.Int64("count", deleted))
	}
	return deleted, nil
}

// =============================================================================
// Admin fan-out
// =============================================================================

// SendSystemNotification creates one system notification per active device,
// optionally limited to rooms. Returns how many were created.
func (e *Engine) SendSystemNotification(ctx context.Context, input SystemInput) (int, error) {
	active, err := e.devices.ListActive(ctx, dedupe(input.RoomNumbers))
	if err != nil {
		return 0, err
	}

	now := e.now().UTC()
	created := make([]Notification, 0, len(active))
	for i := range active {
		id := active[i].DeviceID
		room := active[i].Room()
		created = append(created, e.newNotification(&id, room, TypeSystem, input.Title, input.Body, nil, nil, now))
	}
	if err := e.store(ctx, created); err != nil {
		return 0, err
	}
	return len(created), nil
}

// SendManualNotification creates manual notifications for explicit devices and
// rooms. A room without active devices gets one room-level notification that
// the first device to sync there claims.
func (e *Engine) SendManualNotification(ctx context.Context, input ManualInput) (int, error) {
	deviceIDs := dedupe(input.DeviceIDs)
	rooms := dedupe(input.RoomNumbers)
	if len(deviceIDs) == 0 && len(rooms) == 0 {
		return 0, &EmptyTargetError{}
	}

	existing, err := e.devices.FilterExisting(ctx, deviceIDs)
	if err != nil {
		return 0, err
	}
	if len(existing) != len(deviceIDs) {
		return 0, &UnknownDevicesError{DeviceIDs: missing(deviceIDs, existing)}
	}

	now := e.now().UTC()
	var scheduledFor *time.Time
	if input.ScheduledFor != nil && input.ScheduledFor.After(now) {
		at := input.ScheduledFor.UTC()
		scheduledFor = &at
	}

	seen := make(map[string]struct{})
	var created []Notification
	for _, id := range deviceIDs {
		seen[id] = struct{}{}
		deviceID := id
		created = append(created, e.newNotification(&deviceID, "", TypeManual, input.Title, input.Body, nil, scheduledFor, now))
	}

	if len(rooms) > 0 {
		active, err := e.devices.ListActive(ctx, rooms)
		if err != nil {
			return 0, err
		}
		covered := make(map[string]struct{})
		for i := range active {
			covered[active[i].Room()] = struct{}{}
			if _, dup := seen[active[i].DeviceID]; dup {
				continue
			}
			seen[active[i].DeviceID] = struct{}{}
			deviceID := active[i].DeviceID
			created = append(created, e.newNotification(&deviceID, active[i].Room(), TypeManual, input.Title, input.Body, nil, scheduledFor, now))
		}
		for _, room := range rooms {
			if _, ok := covered[room]; ok {
				continue
			}
			created = append(created, e.newNotification(nil, room, TypeManual, input.Title, input.Body, nil, scheduledFor, now))
		}
	}

	if err := e.store(ctx, created); err != nil {
		return 0, err
	}
	return len(created), nil
}

// =============================================================================
// Device delivery
// =============================================================================

// DeliverToDevice returns everything the device should display and claims
// each new row for it. Rows claimed concurrently by another device are dropped.
func (e *Engine) DeliverToDevice(ctx context.Context, deviceID, room string) ([]Notification, error) {
	rows, err := e.repo.Deliverable(ctx, deviceID, room)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	delivered := make([]Notification, 0, len(rows))
	for _, n := range rows {
		if n.Status == StatusNew {
			ok, err := e.repo.MarkSent(ctx, n.NotificationID, deviceID, room, now)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			id := deviceID
			sentAt := now
			n.Status = StatusSent
			n.DeviceID = &id
			n.SentAt = &sentAt
			metrics.NotificationsDelivered.Inc()
		}
		delivered = append(delivered, n)
	}
	return delivered, nil
}

// Acknowledge records that the device showed (viewed) or closed (dismissed)
// a notification. Unknown ids and rows owned by another device produce
// *NotificationNotFoundError. Already-terminal rows return Updated=false.
func (e *Engine) Acknowledge(ctx context.Context, deviceID, notificationID string, status Status) (AckResult, error) {
	if status != StatusViewed && status != StatusDismissed {
		return AckResult{}, fmt.Errorf("invalid acknowledgement status %q", status)
	}

	current, err := e.repo.GetByID(ctx, notificationID)
	if err != nil {
		return AckResult{}, err
	}
	if current == nil || current.DeviceID == nil || *current.DeviceID != deviceID {
		return AckResult{}, &NotificationNotFoundError{NotificationID: notificationID}
	}

	updated, err := e.repo.Acknowledge(ctx, notificationID, deviceID, status, e.now())
	if err != nil {
		return AckResult{}, err
	}
	if !updated {
		return AckResult{Updated: false, Notification: current}, nil
	}

	after, err := e.repo.GetByID(ctx, notificationID)
	if err != nil {
		return AckResult{}, err
	}
	e.broadcast(EventNotificationStatusChanged, map[string]any{
		"notification_id": notificationID,
		"device_id":       deviceID,
		"status":          status,
	})
	return AckResult{Updated: true, Notification: after}, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (e *Engine) newNotification(deviceID *string, room string, kind Type, title, body string, guest *string, scheduledFor *time.Time, now time.Time) Notification {
	var roomPtr *string
	if room != "" {
		r := room
		roomPtr = &r
	}
	return Notification{
		NotificationID: uuid.NewString(),
		DeviceID:       deviceID,
		RoomNumber:     roomPtr,
		Title:          title,
		Body:           body,
		Type:           kind,
		GuestName:      guest,
		Status:         StatusNew,
		ScheduledFor:   scheduledFor,
		CreatedAt:      now,
	}
}

func (e *Engine) store(ctx context.Context, created []Notification) error {
	if len(created) == 0 {
		return nil
	}
	if err := e.repo.Insert(ctx, created); err != nil {
		return err
	}

	byType := make(map[Type]int)
	ids := make([]string, 0, len(created))
	for _, n := range created {
		byType[n.Type]++
		ids = append(ids, n.NotificationID)
	}
	for kind, count := range byType {
		metrics.NotificationsCreated.WithLabelValues(string(kind)).Add(float64(count))
	}
	e.broadcast(EventNotificationsCreated, map[string]any{
		"count":            len(created),
		"by_type":          byType,
		"notification_ids": ids,
	})
	return nil
}

func (e *Engine) broadcast(eventType string, payload any) {
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(eventType, payload, Topic)
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

func missing(wanted, found []string) []string {
	present := make(map[string]struct{}, len(found))
	for _, id := range found {
		present[id] = struct{}{}
	}
	var result []string
	for _, id := range wanted {
		if _, ok := present[id]; !ok {
			result = append(result, id)
		}
	}
	sort.Strings(result)
	return result
}
