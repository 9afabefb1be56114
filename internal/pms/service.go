package pms

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/strefethen/hotel-hub-go/internal/cache"
	"github.com/strefethen/hotel-hub-go/internal/guests"
	"github.com/strefethen/hotel-hub-go/internal/metrics"
	"github.com/strefethen/hotel-hub-go/internal/notifications"
	"github.com/strefethen/hotel-hub-go/internal/settings"
)

// RoomSource lists rooms that need reconciliation.
type RoomSource interface {
	ActiveRooms(ctx context.Context) ([]string, error)
}

// RoomStore persists a room's guest and folio.
type RoomStore interface {
	ReplaceRoom(ctx context.Context, room string, stay *guests.Stay, bills []guests.Bill, syncedAt time.Time) error
}

// GuestProcessor turns guest snapshots into notifications.
type GuestProcessor interface {
	ProcessGuestCheckinCheckout(ctx context.Context, room string, snapshot *notifications.GuestSnapshot) (notifications.ProcessResult, error)
}

// SettingsStore reads PMS material and records connection status.
type SettingsStore interface {
	Get(ctx context.Context) (*settings.Settings, error)
	SetPMSConnectionStatus(ctx context.Context, status string) error
}

// Broadcaster receives state-change events for admin sessions.
type Broadcaster interface {
	Broadcast(eventType string, payload any, topic string)
}

// Service reconciles PMS state for every room with an active device.
type Service struct {
	client      Client
	cache       cache.Cache
	rooms       RoomSource
	store       RoomStore
	processor   GuestProcessor
	settings    SettingsStore
	broadcaster Broadcaster
	logger      *zap.Logger
	cacheTTL    time.Duration
	now         func() time.Time

	// creds is an immutable snapshot; nil means not configured.
	creds            atomic.Pointer[Credentials]
	initialized      atomic.Bool
	inFlight         atomic.Bool
	lastSync         atomic.Pointer[time.Time]
	connectionStatus atomic.Value
}

// Deps groups the collaborators of Service.
type Deps struct {
	Client      Client
	Cache       cache.Cache
	Rooms       RoomSource
	Store       RoomStore
	Processor   GuestProcessor
	Settings    SettingsStore
	Broadcaster Broadcaster
	Logger      *zap.Logger
	CacheTTL    time.Duration
}

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	s := &Service{
		client:      deps.Client,
		cache:       deps.Cache,
		rooms:       deps.Rooms,
		store:       deps.Store,
		processor:   deps.Processor,
		settings:    deps.Settings,
		broadcaster: deps.Broadcaster,
		logger:      logger,
		cacheTTL:    ttl,
		now:         time.Now,
	}
	s.connectionStatus.Store(ConnectionDisconnected)
	return s
}

// =============================================================================
// Configuration
// =============================================================================

// LoadConfiguration reads PMS material from settings. Missing fields leave the
// service unconfigured without returning an error.
func (s *Service) LoadConfiguration(ctx context.Context) error {
	current, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load PMS settings: %w", err)
	}
	s.apply(current)
	if current.PMSConnectionStatus != "" {
		s.connectionStatus.Store(ConnectionStatus(current.PMSConnectionStatus))
	}
	return nil
}

// UpdateConfiguration swaps in the PMS material of updated settings and
// resets the connection status until the next sweep proves it.
func (s *Service) UpdateConfiguration(ctx context.Context, updated *settings.Settings) {
	s.apply(updated)
	s.setConnectionStatus(ctx, ConnectionDisconnected)
}

func (s *Service) apply(current *settings.Settings) {
	creds := Credentials{
		BaseURL:    current.PMSBaseURL,
		APIKey:     current.PMSAPIKey,
		PropertyID: current.PMSPropertyID,
	}
	s.initialized.Store(true)
	if !creds.Complete() {
		s.creds.Store(nil)
		s.logger.Debug("PMS not configured")
		return
	}
	s.creds.Store(&creds)
	s.logger.Info("PMS configuration loaded",
		zap.String("base_url", creds.BaseURL),
		zap.String("property_id", creds.PropertyID),
	)
}

// Credentials returns the active configuration snapshot, or nil.
func (s *Service) Credentials() *Credentials {
	return s.creds.Load()
}

// Status reports the in-memory state of the service.
func (s *Service) Status() Status {
	return Status{
		IsInitialized:    s.initialized.Load() && s.creds.Load() != nil,
		SyncInProgress:   s.inFlight.Load(),
		LastSyncTime:     s.lastSync.Load(),
		ConnectionStatus: s.connectionStatus.Load().(ConnectionStatus),
	}
}

// =============================================================================
// Sweep
// =============================================================================

// Sync reconciles every room that has an active device. It is a no-op when
// the PMS is not configured or another sweep is running; concurrent calls are
// dropped, not queued. Per-room failures are recorded in the result and never
// abort the sweep. The returned error is reserved for failures of the sweep as
// a whole.
func (s *Service) Sync(ctx context.Context) (*SyncResult, error) {
	creds := s.creds.Load()
	if creds == nil {
		s.logger.Debug("PMS sync skipped: not configured")
		metrics.PMSSweeps.WithLabelValues("skipped").Inc()
		return &SyncResult{Skipped: true, Reason: ReasonNotConfigured, Errors: []RoomError{}}, nil
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("PMS sync skipped: already in progress")
		metrics.PMSSweeps.WithLabelValues("skipped").Inc()
		return &SyncResult{Skipped: true, Reason: ReasonInProgress, Errors: []RoomError{}}, nil
	}
	defer s.inFlight.Store(false)

	result := &SyncResult{StartedAt: s.now().UTC(), Errors: []RoomError{}}

	rooms, err := s.rooms.ActiveRooms(ctx)
	if err != nil {
		metrics.PMSSweeps.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list active rooms: %w", err)
	}
	result.RoomsTotal = len(rooms)

	var failures *multierror.Error
	for _, room := range rooms {
		cached, processed, err := s.syncRoom(ctx, *creds, room)
		if err != nil {
			category := CategoryOf(err)
			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				category = CategoryInternal
			}
			result.RoomsFailed++
			result.Errors = append(result.Errors, RoomError{Room: room, Category: category, Message: category.Describe()})
			failures = multierror.Append(failures, fmt.Errorf("room %s: %w", room, err))
			metrics.PMSRoomFailures.WithLabelValues(string(category)).Inc()
			continue
		}
		result.Welcomes += processed.WelcomesCreated
		result.Farewells += processed.FarewellsCreated
		if cached {
			result.RoomsCached++
			continue
		}
		result.RoomsSynced++
	}

	status := ConnectionConnected
	switch {
	case result.RoomsTotal > 0 && result.RoomsFailed == result.RoomsTotal:
		status = ConnectionFailed
	case result.RoomsFailed > 0:
		status = ConnectionError
	}
	result.Status = status
	s.setConnectionStatus(ctx, status)

	finished := s.now().UTC()
	result.FinishedAt = finished
	s.lastSync.Store(&finished)

	if err := failures.ErrorOrNil(); err != nil {
		s.logger.Warn("PMS sync completed with failures",
			zap.Int("rooms_total", result.RoomsTotal),
			zap.Int("rooms_failed", result.RoomsFailed),
			zap.Error(err),
		)
	} else {
		s.logger.Info("PMS sync completed",
			zap.Int("rooms_total", result.RoomsTotal),
			zap.Int("rooms_synced", result.RoomsSynced),
			zap.Int("rooms_cached", result.RoomsCached),
		)
	}
	metrics.PMSSweeps.WithLabelValues(string(status)).Inc()

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(EventSyncCompleted, result, Topic)
	}
	return result, nil
}

// syncRoom reconciles one room. cached is true when a fresh snapshot was
// already in the cache and nothing was fetched. Cached snapshots are still
// written and processed.
func (s *Service) syncRoom(ctx context.Context, creds Credentials, room string) (bool, notifications.ProcessResult, error) {
	var none notifications.ProcessResult

	snapshot, cached, err := s.roomSnapshot(ctx, creds, room)
	if err != nil {
		return false, none, err
	}

	var stay *guests.Stay
	if snapshot.Guest != nil {
		stay = &guests.Stay{
			RoomNumber: room,
			GuestName:  snapshot.Guest.GuestName,
			CheckIn:    snapshot.Guest.CheckIn,
			CheckOut:   snapshot.Guest.CheckOut,
		}
	}
	if err := s.store.ReplaceRoom(ctx, room, stay, snapshot.Bills, s.now()); err != nil {
		return false, none, fmt.Errorf("store room state: %w", err)
	}

	processed, err := s.processor.ProcessGuestCheckinCheckout(ctx, room, snapshot.Guest)
	if err != nil {
		return false, none, fmt.Errorf("process guest events: %w", err)
	}
	return cached, processed, nil
}

// roomSnapshot returns the cached snapshot for room or fetches and caches a new one.
func (s *Service) roomSnapshot(ctx context.Context, creds Credentials, room string) (*RoomSnapshot, bool, error) {
	key := cache.PMSRoomKey(room)

	var cachedSnapshot RoomSnapshot
	hit, err := cache.GetJSON(ctx, s.cache, key, &cachedSnapshot)
	if err != nil {
		s.logger.Warn("PMS cache read failed", zap.String("room_number", room), zap.Error(err))
	}
	if hit {
		metrics.PMSCacheLookups.WithLabelValues("hit").Inc()
		return &cachedSnapshot, true, nil
	}
	metrics.PMSCacheLookups.WithLabelValues("miss").Inc()

	snapshot, err := s.client.FetchRoom(ctx, creds, room)
	if err != nil {
		s.logger.Warn("PMS room fetch failed",
			zap.String("room_number", room),
			zap.String("category", string(CategoryOf(err))),
			zap.Error(err),
		)
		return nil, false, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, snapshot, s.cacheTTL); err != nil {
		s.logger.Warn("PMS cache write failed", zap.String("room_number", room), zap.Error(err))
	}
	return snapshot, false, nil
}

func (s *Service) setConnectionStatus(ctx context.Context, status ConnectionStatus) {
	s.connectionStatus.Store(status)
	if err := s.settings.SetPMSConnectionStatus(ctx, string(status)); err != nil {
		s.logger.Error("failed to persist PMS connection status", zap.Error(err))
	}
}

// =============================================================================
// Connection test
// =============================================================================

// TestConnection probes the PMS with creds. Stored state is never modified.
func (s *Service) TestConnection(ctx context.Context, creds Credentials) TestConnectionResult {
	started := s.now()
	err := s.client.Ping(ctx, creds)
	latency := s.now().Sub(started).Milliseconds()

	if err != nil {
		category := CategoryOf(err)
		s.logger.Info("PMS connection test failed", zap.String("category", string(category)), zap.Error(err))
		return TestConnectionResult{
			Success:   false,
			Status:    ConnectionFailed,
			Category:  category,
			Message:   category.Describe(),
			LatencyMs: latency,
		}
	}
	return TestConnectionResult{
		Success:   true,
		Status:    ConnectionConnected,
		Message:   "Connected to PMS",
		LatencyMs: latency,
	}
}
