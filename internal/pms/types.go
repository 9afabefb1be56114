// Package pms talks to the hotel Property Management System and reconciles
// its guest and folio data into local state.
package pms

import (
	"strings"
	"time"

	"github.com/strefethen/hotel-hub-go/internal/guests"
	"github.com/strefethen/hotel-hub-go/internal/notifications"
)

// ConnectionStatus is persisted in system settings after every sweep.
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionError        ConnectionStatus = "error"
	ConnectionFailed       ConnectionStatus = "failed"
)

const (
	EventSyncCompleted = "pms_sync_completed"
	Topic              = "pms"
)

// Skip reasons reported in SyncResult.Reason.
const (
	ReasonNotConfigured = "not_configured"
	ReasonInProgress    = "in_progress"
)

// Credentials address one PMS property.
type Credentials struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
	PropertyID string `json:"property_id"`
}

// Complete reports whether every field is present.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.BaseURL) != "" &&
		strings.TrimSpace(c.APIKey) != "" &&
		strings.TrimSpace(c.PropertyID) != ""
}

// RoomSnapshot is the PMS state of one room. Guest is nil for a vacant room.
type RoomSnapshot struct {
	RoomNumber string                       `json:"room_number"`
	Guest      *notifications.GuestSnapshot `json:"guest"`
	Bills      []guests.Bill                `json:"bills"`
	FetchedAt  time.Time                    `json:"fetched_at"`
}

// RoomError records a per-room sweep failure.
type RoomError struct {
	Room     string   `json:"room_number"`
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

// SyncResult summarizes one reconciliation sweep.
type SyncResult struct {
	Skipped     bool             `json:"skipped"`
	Reason      string           `json:"reason,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	RoomsTotal  int              `json:"rooms_total"`
	RoomsSynced int              `json:"rooms_synced"`
	RoomsCached int              `json:"rooms_cached"`
	RoomsFailed int              `json:"rooms_failed"`
	Welcomes    int              `json:"welcomes_created"`
	Farewells   int              `json:"farewells_created"`
	Status      ConnectionStatus `json:"connection_status,omitempty"`
	Errors      []RoomError      `json:"errors"`
}

// TestConnectionResult is the outcome of a one-shot connectivity probe.
type TestConnectionResult struct {
	Success   bool             `json:"success"`
	Status    ConnectionStatus `json:"status"`
	Category  Category         `json:"category,omitempty"`
	Message   string           `json:"message"`
	LatencyMs int64            `json:"latency_ms"`
}

// Status is the in-memory view of the reconciliation service.
type Status struct {
	IsInitialized    bool             `json:"isInitialized"`
	SyncInProgress   bool             `json:"syncInProgress"`
	LastSyncTime     *time.Time       `json:"lastSyncTime"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
}
