package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/strefethen/hotel-hub-go/internal/api"
	"github.com/strefethen/hotel-hub-go/internal/apperrors"
	"github.com/strefethen/hotel-hub-go/internal/config"
)

// AdminLookup reports whether a token subject is still an enabled admin.
type AdminLookup interface {
	IsActive(ctx context.Context, adminID string) (bool, error)
}

var publicRoutes = map[string]struct{}{
	"/v1/auth/login":   {},
	"/v1/auth/refresh": {},
	"/metrics":         {},
	"/ws":              {},
}

// Device endpoints are addressed by device_id and never carry admin tokens.
var publicPrefixes = []string{
	"/v1/health",
	"/v1/openapi",
	"/device/",
}

// Middleware validates JWT tokens for protected routes.
func Middleware(cfg config.Config, lookup AdminLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if isTestModeRequest(r, cfg) {
				user := User{
					AdminID:  "test-admin",
					Username: "test",
					Type:     TokenTypeAccess,
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Missing Authorization header"))
				return
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid Authorization header format"))
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == "" {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid Authorization header format"))
				return
			}

			user, err := Authenticate(r.Context(), cfg, lookup, token)
			if err != nil {
				api.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// Authenticate validates an access token and confirms the admin is still active.
// The websocket endpoint uses it directly since browsers cannot set headers there.
func Authenticate(ctx context.Context, cfg config.Config, lookup AdminLookup, token string) (User, error) {
	payload, err := VerifyToken(cfg, token)
	if err != nil {
		if err == ErrTokenExpired {
			return User{}, apperrors.NewUnauthorizedError("Token has expired", apperrors.ErrorCodeAuthTokenExpired)
		}
		return User{}, apperrors.NewUnauthorizedError("Invalid token", apperrors.ErrorCodeAuthTokenInvalid)
	}
	if payload.Type != TokenTypeAccess {
		return User{}, apperrors.NewUnauthorizedError("Invalid token type", apperrors.ErrorCodeAuthTokenInvalid)
	}

	if lookup != nil {
		active, err := lookup.IsActive(ctx, payload.Sub)
		if err != nil {
			return User{}, err
		}
		if !active {
			return User{}, apperrors.NewUnauthorizedError("Account is disabled", apperrors.ErrorCodeAuthTokenInvalid)
		}
	}

	return User{
		AdminID:  payload.Sub,
		Username: payload.Username,
		Type:     payload.Type,
	}, nil
}

func isPublicRoute(path string) bool {
	if _, ok := publicRoutes[path]; ok {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isTestModeRequest(r *http.Request, cfg config.Config) bool {
	if !cfg.AllowTestMode {
		return false
	}
	if cfg.NodeEnv != "development" {
		return false
	}
	return r.Header.Get("x-test-mode") == "true"
}
