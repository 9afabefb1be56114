package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/hotel-hub-go/internal/config"
	"github.com/strefethen/hotel-hub-go/internal/db"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:                "0123456789abcdef0123456789abcdef",
		JWTAccessTokenExpirySec:  3600,
		JWTRefreshTokenExpirySec: 7200,
		NodeEnv:                  "development",
		AdminUsername:            "frontdesk",
		AdminPassword:            "s3cret-pass",
	}
}

func setupService(t *testing.T) *Service {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	service := NewService(testConfig(), NewAdminStore(dbPair), nil)
	require.NoError(t, service.EnsureBootstrapAdmin(context.Background()))
	return service
}

func TestTokenPairRoundTrip(t *testing.T) {
	cfg := testConfig()
	tokens, err := GenerateTokenPair(cfg, TokenPayload{Sub: "admin-1", Username: "frontdesk"})
	require.NoError(t, err)

	payload, err := VerifyToken(cfg, tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", payload.Sub)
	assert.Equal(t, "frontdesk", payload.Username)
	assert.Equal(t, TokenTypeAccess, payload.Type)

	_, refreshed, err := RefreshAccessToken(cfg, tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", refreshed.Sub)

	_, _, err = RefreshAccessToken(cfg, tokens.AccessToken)
	assert.ErrorIs(t, err, ErrTokenType)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	cfg := testConfig()
	tokens, err := GenerateTokenPair(cfg, TokenPayload{Sub: "admin-1", Username: "frontdesk"})
	require.NoError(t, err)

	other := cfg
	other.JWTSecret = "ffffffffffffffffffffffffffffffff"
	_, err = VerifyToken(other, tokens.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyTokenExpired(t *testing.T) {
	cfg := testConfig()
	cfg.JWTAccessTokenExpirySec = -10
	tokens, err := GenerateTokenPair(cfg, TokenPayload{Sub: "admin-1", Username: "frontdesk"})
	require.NoError(t, err)

	_, err = VerifyToken(cfg, tokens.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestBootstrapAdminOnlyOnce(t *testing.T) {
	service := setupService(t)
	ctx := context.Background()

	require.NoError(t, service.EnsureBootstrapAdmin(ctx))
	count, err := service.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLogin(t *testing.T) {
	service := setupService(t)
	ctx := context.Background()

	tokens, admin, err := service.Login(ctx, "frontdesk", "s3cret-pass")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.Equal(t, "frontdesk", admin.Username)

	_, _, err = service.Login(ctx, "frontdesk", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = service.Login(ctx, "nobody", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, service.Store().SetActive(ctx, admin.AdminID, false))
	_, _, err = service.Login(ctx, "frontdesk", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func newTestRouter(service *Service, cfg config.Config) http.Handler {
	router := chi.NewRouter()
	router.Use(Middleware(cfg, service.Store()))
	RegisterRoutes(router, service, cfg)
	router.Get("/v1/devices", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Get("/device/sync", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return router
}

func TestLoginRouteAndProtectedAccess(t *testing.T) {
	service := setupService(t)
	cfg := testConfig()
	router := newTestRouter(service, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"username":"frontdesk","password":"s3cret-pass"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	accessToken := body["access_token"].(string)

	req = httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"frontdesk"`)
}

func TestLoginRouteRejectsBadPassword(t *testing.T) {
	service := setupService(t)
	router := newTestRouter(service, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"username":"frontdesk","password":"nope"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "AUTH_INVALID_CREDENTIALS")
}

func TestMiddlewareRequiresToken(t *testing.T) {
	service := setupService(t)
	router := newTestRouter(service, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/devices", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/device/sync", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRejectsDisabledAdmin(t *testing.T) {
	service := setupService(t)
	cfg := testConfig()
	router := newTestRouter(service, cfg)
	ctx := context.Background()

	tokens, admin, err := service.Login(ctx, "frontdesk", "s3cret-pass")
	require.NoError(t, err)
	require.NoError(t, service.Store().SetActive(ctx, admin.AdminID, false))

	req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareTestModeBypass(t *testing.T) {
	service := setupService(t)
	cfg := testConfig()

	req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
	req.Header.Set("x-test-mode", "true")

	rec := httptest.NewRecorder()
	newTestRouter(service, cfg).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "test mode disabled by default")

	cfg.AllowTestMode = true
	rec = httptest.NewRecorder()
	newTestRouter(service, cfg).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
