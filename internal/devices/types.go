package devices

import (
	"fmt"
	"time"
)

// Status is the admin-controlled activation state of a device.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
)

// Broadcast event types emitted by this package.
const (
	EventDeviceRegistered = "device_registered"
	EventDeviceUpdated    = "device_updated"
	EventDevicesOffline   = "devices_offline"

	Topic = "devices"
)

// Device is a guest-room unit that polls the hub.
type Device struct {
	DeviceID         string     `json:"device_id"`
	RoomNumber       *string    `json:"room_number"`
	Status           Status     `json:"status"`
	IsOnline         bool       `json:"is_online"`
	LastSync         *time.Time `json:"last_sync"`
	AssignedBundleID *string    `json:"assigned_bundle_id"`
	IsRoomEvacuated  bool       `json:"is_room_evacuated"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsActive reports whether the device receives full sync payloads.
func (d *Device) IsActive() bool {
	return d.Status == StatusActive && d.RoomNumber != nil
}

// Room returns the room number or "" when unassigned.
func (d *Device) Room() string {
	if d.RoomNumber == nil {
		return ""
	}
	return *d.RoomNumber
}

// UpdateInput holds admin edits. Nil fields are left unchanged; an empty
// room_number or assigned_bundle_id clears the column.
type UpdateInput struct {
	RoomNumber       *string `json:"room_number"`
	Status           *string `json:"status" validate:"omitempty,oneof=inactive active"`
	AssignedBundleID *string `json:"assigned_bundle_id"`
	IsRoomEvacuated  *bool   `json:"is_room_evacuated"`
}

// IsEmpty reports whether no field was supplied.
func (in UpdateInput) IsEmpty() bool {
	return in.RoomNumber == nil && in.Status == nil && in.AssignedBundleID == nil && in.IsRoomEvacuated == nil
}

// ListFilter narrows admin device listings.
type ListFilter struct {
	Status     Status
	RoomNumber string
	Online     *bool
}

// Counts summarizes the fleet for health and info endpoints.
type Counts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Online int `json:"online"`
}

// DeviceNotFoundError is returned when a device id does not exist.
type DeviceNotFoundError struct {
	DeviceID string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("device not found: %s", e.DeviceID)
}

// ActivationError is returned when an edit would leave an active device without a room.
type ActivationError struct {
	DeviceID string
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("device %s cannot be active without a room_number", e.DeviceID)
}
