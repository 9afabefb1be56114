package notifications

import (
	"fmt"
	"strings"
	"time"
)

// Status is the delivery state of a notification. Transitions only move
// forward: new -> sent -> viewed | dismissed.
type Status string

const (
	StatusNew       Status = "new"
	StatusSent      Status = "sent"
	StatusViewed    Status = "viewed"
	StatusDismissed Status = "dismissed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusViewed || s == StatusDismissed
}

// Type identifies the rule that produced a notification.
type Type string

const (
	TypeWelcome  Type = "welcome"
	TypeFarewell Type = "farewell"
	TypeManual   Type = "manual"
	TypeSystem   Type = "system"
)

const (
	EventNotificationsCreated      = "notifications_created"
	EventNotificationStatusChanged = "notification_status_changed"

	Topic = "notifications"
)

const (
	welcomeDedupWindow = 24 * time.Hour
	farewellLeadTime   = 15 * time.Minute
	terminalRetention  = 7 * 24 * time.Hour
)

// Notification is a message shown on a guest-room device.
type Notification struct {
	NotificationID string     `json:"notification_id"`
	DeviceID       *string    `json:"device_id"`
	RoomNumber     *string    `json:"room_number"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	Type           Type       `json:"notification_type"`
	GuestName      *string    `json:"guest_name"`
	Status         Status     `json:"status"`
	ScheduledFor   *time.Time `json:"scheduled_for"`
	CreatedAt      time.Time  `json:"created_at"`
	SentAt         *time.Time `json:"sent_at"`
	ViewedAt       *time.Time `json:"viewed_at"`
	DismissedAt    *time.Time `json:"dismissed_at"`
}

// GuestSnapshot is the PMS view of the current guest in a room.
type GuestSnapshot struct {
	GuestName string     `json:"guest_name"`
	CheckIn   time.Time  `json:"check_in"`
	CheckOut  *time.Time `json:"check_out"`
}

// ProcessResult counts what a guest snapshot produced.
type ProcessResult struct {
	WelcomesCreated  int `json:"welcomes_created"`
	FarewellsCreated int `json:"farewells_created"`
}

// ManualInput is an admin-authored notification.
type ManualInput struct {
	Title        string     `json:"title" validate:"required"`
	Body         string     `json:"body" validate:"required"`
	DeviceIDs    []string   `json:"device_ids"`
	RoomNumbers  []string   `json:"room_numbers"`
	ScheduledFor *time.Time `json:"scheduled_for"`
}

// SystemInput is a hotel-wide announcement, optionally limited to rooms.
type SystemInput struct {
	Title       string   `json:"title" validate:"required"`
	Body        string   `json:"body" validate:"required"`
	RoomNumbers []string `json:"room_numbers"`
}

// ListFilter narrows admin listings.
type ListFilter struct {
	DeviceID   string
	RoomNumber string
	Status     Status
	Type       Type
}

// AckResult is the outcome of a device acknowledgement.
type AckResult struct {
	Updated      bool          `json:"updated"`
	Notification *Notification `json:"notification"`
}

// NotificationNotFoundError is returned when the id is unknown or owned by another device.
type NotificationNotFoundError struct {
	NotificationID string
}

func (e *NotificationNotFoundError) Error() string {
	return fmt.Sprintf("notification not found: %s", e.NotificationID)
}

// UnknownDevicesError lists device ids that do not exist.
type UnknownDevicesError struct {
	DeviceIDs []string
}

func (e *UnknownDevicesError) Error() string {
	return "unknown device ids: " + strings.Join(e.DeviceIDs, ", ")
}

// EmptyTargetError is returned when a manual notification names no recipient.
type EmptyTargetError struct{}

func (e *EmptyTargetError) Error() string {
	return "device_ids or room_numbers is required"
}
