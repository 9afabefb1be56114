package settings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/hotel-hub-go/internal/db"
)

func setupService(t *testing.T) *Service {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })
	return NewService(dbPair, nil)
}

func strPtr(s string) *string { return &s }

func TestDefaults(t *testing.T) {
	service := setupService(t)

	settings, err := service.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "disconnected", settings.PMSConnectionStatus)
	assert.Empty(t, settings.PMSBaseURL)
}

func TestUpdateNotifiesOnlyForPMSChanges(t *testing.T) {
	service := setupService(t)
	ctx := context.Background()

	var calls int
	var seen *Settings
	service.OnPMSChange(func(_ context.Context, updated *Settings) {
		calls++
		seen = updated
	})

	_, err := service.Update(ctx, UpdateInput{HotelName: strPtr("Grand Budapest")})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)

	_, err = service.Update(ctx, UpdateInput{
		PMSBaseURL:    strPtr("https://pms.example.com/"),
		PMSAPIKey:     strPtr(" key-123456 "),
		PMSPropertyID: strPtr("prop-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	require.NotNil(t, seen)
	assert.Equal(t, "https://pms.example.com", seen.PMSBaseURL)
	assert.Equal(t, "key-123456", seen.PMSAPIKey)
	assert.Equal(t, "Grand Budapest", seen.HotelName)
}

func TestSetPMSConnectionStatus(t *testing.T) {
	service := setupService(t)
	ctx := context.Background()

	require.NoError(t, service.SetPMSConnectionStatus(ctx, "error"))
	settings, err := service.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "error", settings.PMSConnectionStatus)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "****3456", MaskSecret("key-123456"))
}

func TestRoutesMaskKeyAndValidateURL(t *testing.T) {
	service := setupService(t)
	router := chi.NewRouter()
	RegisterRoutes(router, service)

	req := httptest.NewRequest(http.MethodPut, "/v1/settings", strings.NewReader(`{"pms_base_url":"ftp://nope"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/v1/settings", strings.NewReader(`{"pms_api_key":"secret-9876","hotel_name":"Overlook"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-9876")
	assert.Contains(t, rec.Body.String(), `"pms_api_key":"****9876"`)

	// echoing the masked key back leaves the stored key alone
	req = httptest.NewRequest(http.MethodPut, "/v1/settings", strings.NewReader(`{"pms_api_key":"****9876"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	settings, err := service.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret-9876", settings.PMSAPIKey)
}
