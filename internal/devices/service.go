package devices

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Broadcaster receives state-change events for admin sessions.
type Broadcaster interface {
	Broadcast(eventType string, payload any, topic string)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, any, string) {}

// Service owns device registration, admin edits and the liveness sweep.
type Service struct {
	repo            *Repository
	broadcaster     Broadcaster
	logger          *zap.Logger
	onlineThreshold time.Duration
	now             func() time.Time
}

func NewService(repo *Repository, broadcaster Broadcaster, logger *zap.Logger, onlineThreshold time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	if onlineThreshold <= 0 {
		onlineThreshold = 10 * time.Minute
	}
	return &Service{
		repo:            repo,
		broadcaster:     broadcaster,
		logger:          logger,
		onlineThreshold: onlineThreshold,
		now:             time.Now,
	}
}

// Repository exposes the store for collaborators that need raw queries.
func (s *Service) Repository() *Repository {
	return s.repo
}

// OnlineThreshold is how long a device stays online after its last sync.
func (s *Service) OnlineThreshold() time.Duration {
	return s.onlineThreshold
}

func (s *Service) Get(ctx context.Context, deviceID string) (*Device, error) {
	return s.repo.GetByID(ctx, deviceID)
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]Device, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

func (s *Service) Counts(ctx context.Context) (Counts, error) {
	return s.repo.Counts(ctx)
}

// Register creates an inactive device for an unknown id and announces it.
// The returned bool is false when another request registered it first.
func (s *Service) Register(ctx context.Context, deviceID string) (*Device, bool, error) {
	created, err := s.repo.CreateInactive(ctx, deviceID, s.now())
	if err != nil {
		return nil, false, err
	}
	device, err := s.repo.GetByID(ctx, deviceID)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info("device registered", zap.String("device_id", deviceID))
		// every admin session hears about new devices, subscribed or not
		s.broadcaster.Broadcast(EventDeviceRegistered, device, "")
	}
	return device, created, nil
}

// Update applies an admin edit. Activating a device without a room fails with
// *ActivationError before anything is written.
func (s *Service) Update(ctx context.Context, deviceID string, input UpdateInput) (*Device, error) {
	current, err := s.repo.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &DeviceNotFoundError{DeviceID: deviceID}
	}

	if input.RoomNumber != nil {
		trimmed := strings.TrimSpace(*input.RoomNumber)
		input.RoomNumber = &trimmed
	}

	status := current.Status
	if input.Status != nil {
		status = Status(*input.Status)
	}
	room := current.Room()
	if input.RoomNumber != nil {
		room = *input.RoomNumber
	}
	if status == StatusActive && room == "" {
		return nil, &ActivationError{DeviceID: deviceID}
	}

	if err := s.repo.Update(ctx, deviceID, input, s.now()); err != nil {
		return nil, err
	}
	updated, err := s.repo.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("device updated",
		zap.String("device_id", deviceID),
		zap.String("status", string(updated.Status)),
		zap.String("room_number", updated.Room()),
	)
	s.broadcaster.Broadcast(EventDeviceUpdated, updated, Topic)
	return updated, nil
}

// RecordSync marks the device online with a fresh last_sync.
func (s *Service) RecordSync(ctx context.Context, deviceID string) error {
	return s.repo.MarkSynced(ctx, deviceID, s.now())
}

// ClearEvacuation resets the evacuation flag on behalf of the device itself.
func (s *Service) ClearEvacuation(ctx context.Context, deviceID string) (*Device, error) {
	found, err := s.repo.ClearEvacuation(ctx, deviceID, s.now())
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &DeviceNotFoundError{DeviceID: deviceID}
	}
	device, err := s.repo.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	s.broadcaster.Broadcast(EventDeviceUpdated, device, Topic)
	return device, nil
}

// SweepLiveness flips devices offline whose last sync is older than the online
// threshold. Returns how many were flipped.
func (s *Service) SweepLiveness(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.repo.MarkStaleOffline(ctx, now.Add(-s.onlineThreshold), now)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	s.logger.Info("devices marked offline", zap.Int("count", len(stale)), zap.Strings("device_ids", stale))
	s.broadcaster.Broadcast(EventDevicesOffline, map[string]any{
		"device_ids": stale,
		"count":      len(stale),
	}, Topic)
	return len(stale), nil
}
