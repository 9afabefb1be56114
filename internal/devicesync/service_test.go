package devicesync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/hotel-hub-go/internal/cache"
	"github.com/strefethen/hotel-hub-go/internal/content"
	"github.com/strefethen/hotel-hub-go/internal/db"
	"github.com/strefethen/hotel-hub-go/internal/devices"
	"github.com/strefethen/hotel-hub-go/internal/guests"
	"github.com/strefethen/hotel-hub-go/internal/notifications"
	"github.com/strefethen/hotel-hub-go/internal/settings"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) Broadcast(eventType string, _ any, _ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *recordingBroadcaster) has(eventType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, event := range b.events {
		if event == eventType {
			return true
		}
	}
	return false
}

type fixture struct {
	service     *Service
	devices     *devices.Service
	engine      *notifications.Engine
	guests      *guests.Repository
	cache       *cache.MemoryCache
	broadcaster *recordingBroadcaster
	router      chi.Router
}

func newFixture(t *testing.T, pair devices.DBPair, rateLimit int) *fixture {
	t.Helper()
	f := &fixture{
		cache:       cache.NewMemoryCache(),
		broadcaster: &recordingBroadcaster{},
	}
	t.Cleanup(func() { f.cache.Close() })

	settingsService := settings.NewService(pair, nil)
	deviceRepo := devices.NewRepository(pair)
	f.devices = devices.NewService(deviceRepo, f.broadcaster, nil, 10*time.Minute)
	f.engine = notifications.NewEngine(notifications.NewRepository(pair), deviceRepo, settingsService, f.broadcaster, nil)
	f.guests = guests.NewRepository(pair)
	f.service = NewService(Deps{
		Devices:  f.devices,
		Engine:   f.engine,
		Guests:   f.guests,
		Content:  content.NewRepository(pair),
		Settings: settingsService,
		Cache:    f.cache,
	})

	router := chi.NewRouter()
	RegisterRoutes(router, f.service, rateLimit, nil)
	RegisterAdminRoutes(router, f.service)
	f.router = router
	return f
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })
	return newFixture(t, dbPair, 0)
}

func (f *fixture) post(t *testing.T, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.7:5555"
	f.router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func (f *fixture) activate(t *testing.T, deviceID, room string) {
	t.Helper()
	status := string(devices.StatusActive)
	_, err := f.devices.Update(context.Background(), deviceID, devices.UpdateInput{RoomNumber: &room, Status: &status})
	require.NoError(t, err)
}

func TestUnknownDeviceBecomesActiveAndReceivesRoomNotification(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, body := f.post(t, "/device/sync", `{"device_id":"tv-42"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "inactive", body["status"])
	assert.Equal(t, "tv-42", body["device_id"])
	assert.True(t, f.broadcaster.has(devices.EventDeviceRegistered))

	// queued for the room before any device there is active
	count, err := f.engine.SendManualNotification(ctx, notifications.ManualInput{
		Title: "Pool closed", Body: "The pool is closed today.", RoomNumbers: []string{"301"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	f.activate(t, "tv-42", "301")

	rec, body = f.post(t, "/device/sync", `{"device_id":"tv-42"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, "301", body["room_number"])
	assert.Contains(t, body, "hotel_info")
	assert.Nil(t, body["guest_data"])
	assert.Equal(t, []any{}, body["bills"])
	assert.Equal(t, []any{}, body["media"])
	assert.NotEmpty(t, body["server_time"])

	delivered := body["notifications"].([]any)
	require.Len(t, delivered, 1)
	first := delivered[0].(map[string]any)
	assert.Equal(t, "Pool closed", first["title"])
	assert.Equal(t, "sent", first["status"])

	rows, _, err := f.engine.Repository().List(ctx, notifications.ListFilter{DeviceID: "tv-42"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, notifications.StatusSent, rows[0].Status)
}

func TestSentNotificationsRedeliveredUntilAcknowledged(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, _, err := f.devices.Register(ctx, "tv-1")
	require.NoError(t, err)
	f.activate(t, "tv-1", "301")

	_, err = f.engine.SendManualNotification(ctx, notifications.ManualInput{
		Title: "Hello", Body: "Welcome aboard", DeviceIDs: []string{"tv-1"},
	})
	require.NoError(t, err)

	var notificationID string
	for i := 0; i < 3; i++ {
		_, body := f.post(t, "/device/sync", `{"device_id":"tv-1"}`)
		delivered := body["notifications"].([]any)
		require.Len(t, delivered, 1, "sync %d", i)
		notificationID = delivered[0].(map[string]any)["notification_id"].(string)
	}

	rec, body := f.post(t, "/device/notification-status",
		`{"device_id":"tv-1","notification_id":"`+notificationID+`","status":"viewed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["updated"])
	assert.True(t, f.broadcaster.has(notifications.EventNotificationStatusChanged))

	_, body = f.post(t, "/device/sync", `{"device_id":"tv-1"}`)
	assert.Empty(t, body["notifications"])

	// a second acknowledgement is a no-op
	rec, body = f.post(t, "/device/notification-status",
		`{"device_id":"tv-1","notification_id":"`+notificationID+`","status":"dismissed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["updated"])
	assert.Equal(t, "viewed", body["status"])
}

func TestSyncShapeFollowsStoredStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, _, err := f.devices.Register(ctx, "tv-1")
	require.NoError(t, err)

	_, body := f.post(t, "/device/sync", `{"device_id":"tv-1"}`)
	assert.Equal(t, "inactive", body["status"])

	f.activate(t, "tv-1", "301")
	_, body = f.post(t, "/device/sync", `{"device_id":"tv-1"}`)
	assert.Equal(t, "active", body["status"])

	status := string(devices.StatusInactive)
	_, err = f.devices.Update(ctx, "tv-1", devices.UpdateInput{Status: &status})
	require.NoError(t, err)
	_, body = f.post(t, "/device/sync", `{"device_id":"tv-1"}`)
	assert.Equal(t, "inactive", body["status"])
}

func TestSyncIncludesGuestAndBills(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, _, err := f.devices.Register(ctx, "tv-1")
	require.NoError(t, err)
	f.activate(t, "tv-1", "301")

	checkIn := time.Date(2026, 6, 10, 13, 0, 0, 0, time.UTC)
	require.NoError(t, f.guests.ReplaceRoom(ctx, "301",
		&guests.Stay{RoomNumber: "301", GuestName: "A. Smith", CheckIn: checkIn},
		[]guests.Bill{{Label: "Minibar", Amount: 9.5, BillDate: checkIn}},
		time.Now()))

	response, err := f.service.Sync(ctx, "tv-1")
	require.NoError(t, err)
	active, ok := response.(*ActiveResponse)
	require.True(t, ok)
	require.NotNil(t, active.GuestData)
	assert.Equal(t, "A. Smith", active.GuestData.GuestName)
	assert.Nil(t, active.GuestData.CheckOut)
	require.Len(t, active.Bills, 1)
	assert.Equal(t, "Minibar", active.Bills[0].Label)

	// the payload is cached for the admin view
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/devices/tv-1/last-sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var cached map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cached))
	payload := cached["payload"].(map[string]any)
	assert.Equal(t, "active", payload["status"])

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/devices/tv-9/last-sync", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncRejectsMissingDeviceID(t *testing.T) {
	f := setup(t)

	for _, body := range []string{`{}`, `{"device_id":"   "}`, ``} {
		rec, _ := f.post(t, "/device/sync", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestNotificationStatusValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for _, id := range []string{"tv-1", "tv-2"} {
		_, _, err := f.devices.Register(ctx, id)
		require.NoError(t, err)
		f.activate(t, id, "301")
	}
	_, err := f.engine.SendManualNotification(ctx, notifications.ManualInput{
		Title: "Hi", Body: "There", DeviceIDs: []string{"tv-1"},
	})
	require.NoError(t, err)
	_, err = f.service.Sync(ctx, "tv-1")
	require.NoError(t, err)

	rows, _, err := f.engine.Repository().List(ctx, notifications.ListFilter{DeviceID: "tv-1"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	id := rows[0].NotificationID

	rec, _ := f.post(t, "/device/notification-status",
		`{"device_id":"tv-1","notification_id":"`+id+`","status":"sent"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := f.post(t, "/device/notification-status",
		`{"device_id":"tv-2","notification_id":"`+id+`","status":"viewed"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOTIFICATION_NOT_FOUND", body["error"].(map[string]any)["code"])

	rec, _ = f.post(t, "/device/notification-status",
		`{"device_id":"tv-1","notification_id":"missing","status":"viewed"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	after, err := f.engine.Repository().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notifications.StatusSent, after.Status)
}

func TestClearStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, _, err := f.devices.Register(ctx, "tv-1")
	require.NoError(t, err)
	evacuated := true
	_, err = f.devices.Update(ctx, "tv-1", devices.UpdateInput{IsRoomEvacuated: &evacuated})
	require.NoError(t, err)

	rec, body := f.post(t, "/device/clear-status", `{"device_id":"tv-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["is_room_evacuated"])

	device, err := f.devices.Get(ctx, "tv-1")
	require.NoError(t, err)
	assert.False(t, device.IsRoomEvacuated)

	rec, _ = f.post(t, "/device/clear-status", `{"device_id":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeviceEndpointsAreRateLimited(t *testing.T) {
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })
	f := newFixture(t, dbPair, 2)

	for i := 0; i < 2; i++ {
		rec, _ := f.post(t, "/device/sync", `{"device_id":"tv-1"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, body := f.post(t, "/device/sync", `{"device_id":"tv-1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", body["error"].(map[string]any)["code"])
}

type mockPair struct {
	conn *sql.DB
}

func (p mockPair) Reader() *sql.DB { return p.conn }
func (p mockPair) Writer() *sql.DB { return p.conn }

func TestPersistenceFaultIsOpaque(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	mock.ExpectQuery("SELECT .* FROM devices").WillReturnError(errors.New("database disk image is malformed"))

	f := newFixture(t, mockPair{conn: conn}, 0)
	rec, body := f.post(t, "/device/sync", `{"device_id":"tv-1"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	errBody := body["error"].(map[string]any)
	assert.Equal(t, "INTERNAL_ERROR", errBody["code"])
	assert.NotContains(t, errBody["message"], "malformed")
	assert.NoError(t, mock.ExpectationsWereMet())
}
