package auth

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/hotel-hub-go/internal/api"
	"github.com/strefethen/hotel-hub-go/internal/apperrors"
	"github.com/strefethen/hotel-hub-go/internal/config"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// RegisterRoutes wires auth routes to the router.
func RegisterRoutes(router chi.Router, service *Service, cfg config.Config) {
	router.Method(http.MethodPost, "/v1/auth/login", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body loginRequest
		if err := api.DecodeJSON(r, &body); err != nil {
			return err
		}

		tokens, admin, err := service.Login(r.Context(), body.Username, body.Password)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				return apperrors.NewUnauthorizedError("Invalid username or password", apperrors.ErrorCodeAuthInvalidLogin)
			}
			return err
		}

		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":         "token_pair",
			"access_token":   tokens.AccessToken,
			"refresh_token":  tokens.RefreshToken,
			"expires_in_sec": tokens.ExpiresInSec,
			"admin":          admin,
		})
	}))

	router.Method(http.MethodPost, "/v1/auth/refresh", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body refreshRequest
		if err := api.DecodeJSON(r, &body); err != nil {
			return err
		}

		accessToken, payload, err := RefreshAccessToken(cfg, body.RefreshToken)
		if err != nil {
			switch err {
			case ErrTokenExpired:
				return apperrors.NewUnauthorizedError("Refresh token has expired", apperrors.ErrorCodeAuthTokenExpired)
			case ErrTokenType:
				return apperrors.NewUnauthorizedError("Invalid token: expected refresh token", apperrors.ErrorCodeAuthTokenInvalid)
			default:
				return apperrors.NewUnauthorizedError("Invalid refresh token", apperrors.ErrorCodeAuthTokenInvalid)
			}
		}

		active, err := service.Store().IsActive(r.Context(), payload.Sub)
		if err != nil {
			return err
		}
		if !active {
			return apperrors.NewUnauthorizedError("Account is disabled", apperrors.ErrorCodeAuthTokenInvalid)
		}

		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":         "token_refresh",
			"access_token":   accessToken,
			"expires_in_sec": cfg.JWTAccessTokenExpirySec,
		})
	}))

	router.Method(http.MethodGet, "/v1/auth/me", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		user, ok := UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Not authenticated")
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":   "admin",
			"admin_id": user.AdminID,
			"username": user.Username,
		})
	}))
}
