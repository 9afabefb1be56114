package system

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/hotel-hub-go/internal/cache"
	"github.com/strefethen/hotel-hub-go/internal/db"
	"github.com/strefethen/hotel-hub-go/internal/devices"
	"github.com/strefethen/hotel-hub-go/internal/pms"
)

type stubPMS struct{ status pms.ConnectionStatus }

func (s stubPMS) Status() pms.Status {
	return pms.Status{IsInitialized: true, ConnectionStatus: s.status}
}

type stubScheduler struct{ running bool }

func (s stubScheduler) IsRunning() bool { return s.running }

type stubHub struct{ count int }

func (s stubHub) ConnectionCount() int { return s.count }

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}
func (brokenCache) Delete(context.Context, string) error { return nil }
func (brokenCache) Close() error                         { return nil }

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
	topics []string
}

func (b *recordingBroadcaster) Broadcast(eventType string, _ any, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
	b.topics = append(b.topics, topic)
}

func newTestService(t *testing.T, deps Deps) (*Service, *db.DBPair) {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	deps.DB = dbPair
	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryCache()
	}
	if deps.Devices == nil {
		deps.Devices = devices.NewService(devices.NewRepository(dbPair), nil, nil, time.Minute)
	}
	return NewService(deps), dbPair
}

func TestCheckHealthHealthy(t *testing.T) {
	memory := cache.NewMemoryCache()
	service, _ := newTestService(t, Deps{
		Cache:     memory,
		PMS:       stubPMS{status: pms.ConnectionConnected},
		Scheduler: stubScheduler{running: true},
		Realtime:  stubHub{count: 3},
	})

	health := service.CheckHealth(context.Background())
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Equal(t, StatusHealthy, health.Components["database"].Status)
	assert.Equal(t, StatusHealthy, health.Components["cache"].Status)
	assert.Equal(t, StatusHealthy, health.Components["pms"].Status)
	assert.Equal(t, pms.ConnectionConnected, health.PMSConnectionStatus)
	assert.True(t, health.SchedulerRunning)
	assert.Equal(t, 3, health.RealtimeConnections)
	assert.Zero(t, memory.Len(), "probe key is removed after the round trip")
}

func TestCheckHealthDegraded(t *testing.T) {
	t.Run("pms failing", func(t *testing.T) {
		service, _ := newTestService(t, Deps{PMS: stubPMS{status: pms.ConnectionFailed}})
		health := service.CheckHealth(context.Background())
		assert.Equal(t, StatusDegraded, health.Status)
		assert.Equal(t, StatusDegraded, health.Components["pms"].Status)
	})

	t.Run("cache failing", func(t *testing.T) {
		service, _ := newTestService(t, Deps{Cache: brokenCache{}})
		health := service.CheckHealth(context.Background())
		assert.Equal(t, StatusDegraded, health.Status)
		assert.Equal(t, "connection refused", health.Components["cache"].Message)
	})
}

func TestCheckHealthUnhealthyWhenDatabaseClosed(t *testing.T) {
	service, dbPair := newTestService(t, Deps{Cache: brokenCache{}})
	require.NoError(t, dbPair.Close())

	health := service.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, health.Status)
	assert.Equal(t, StatusUnhealthy, health.Components["database"].Status)
	assert.Error(t, service.Ready(context.Background()))
}

func TestReportHealthBroadcasts(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	service, _ := newTestService(t, Deps{Broadcaster: broadcaster})

	require.NoError(t, service.ReportHealth(context.Background()))
	assert.Equal(t, []string{EventHealth}, broadcaster.events)
	assert.Equal(t, []string{Topic}, broadcaster.topics)
}

func TestGetSystemInfo(t *testing.T) {
	service, dbPair := newTestService(t, Deps{Scheduler: stubScheduler{running: true}})
	repo := devices.NewRepository(dbPair)
	_, err := repo.CreateInactive(context.Background(), "tv-1", time.Now())
	require.NoError(t, err)

	info, err := service.GetSystemInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Version, info.HubVersion)
	assert.True(t, info.SQLiteConnected)
	assert.True(t, info.SchedulerRunning)
	assert.Equal(t, 1, info.Devices.Total)
	assert.Zero(t, info.Devices.Active)
	assert.Positive(t, info.Goroutines)
}

func TestRoutes(t *testing.T) {
	service, dbPair := newTestService(t, Deps{PMS: stubPMS{status: pms.ConnectionConnected}})
	router := chi.NewRouter()
	RegisterRoutes(router, service)
	RegisterHealthRoutes(router, service)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	for _, path := range []string{"/v1/health", "/v1/health/live", "/v1/health/ready", "/v1/system/info"} {
		assert.Equal(t, http.StatusOK, get(path).Code, path)
	}

	rec := get("/v1/system/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "system_health", body["object"])
	assert.Equal(t, StatusHealthy, body["status"])
	assert.Equal(t, "connected", body["pms_connection_status"])

	require.NoError(t, dbPair.Close())
	assert.Equal(t, http.StatusServiceUnavailable, get("/v1/health/ready").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/v1/system/health").Code)
	assert.Equal(t, http.StatusOK, get("/v1/health/live").Code)
}
