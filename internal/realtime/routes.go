package realtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/strefethen/hotel-hub-go/internal/api"
	"github.com/strefethen/hotel-hub-go/internal/apperrors"
	"github.com/strefethen/hotel-hub-go/internal/auth"
)

// Authenticator resolves a bearer token to an active admin.
type Authenticator func(ctx context.Context, token string) (auth.User, error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // admin console may be served from another origin; the token gates access
	},
}

// RegisterRoutes wires the admin websocket endpoint.
func RegisterRoutes(router chi.Router, hub *Hub, authenticate Authenticator) {
	router.HandleFunc("/ws", websocketHandler(hub, authenticate))
}

// websocketHandler verifies the token before upgrading. A rejected handshake
// is a plain 401 response and the connection is never upgraded.
func websocketHandler(hub *Hub, authenticate Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		if token == "" {
			api.WriteError(w, r, apperrors.NewUnauthorizedError("Missing token"))
			return
		}
		user, err := authenticate(r.Context(), token)
		if err != nil {
			appErr := apperrors.EnsureAppError(err)
			if appErr.StatusCode != http.StatusUnauthorized {
				appErr = apperrors.NewUnauthorizedError("Invalid token", apperrors.ErrorCodeAuthTokenInvalid)
			}
			api.WriteError(w, r, appErr)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade failed - error already written to response
			return
		}
		hub.Register(conn, user)
	}
}
