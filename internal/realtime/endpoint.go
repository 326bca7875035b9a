package realtime

import (
	"net/http"
	"strings"

	"fleetsync/internal/model"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // adjust for prod
	},
}

// ServeWS upgrades one realtime client connection. With a secret
// configured the client must present an HS256 bearer token either as a
// `token` query parameter or an Authorization header. Each connection gets
// its own read/write goroutine pair; the hub owns the subscription state.
func ServeWS(hub *Hub, secret string, w http.ResponseWriter, r *http.Request) {
	userID := "anonymous"

	if secret != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader != "" {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}
		if token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := VerifyToken(secret, token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		if sub := claimString(claims, "sub"); sub != "" {
			userID = sub
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, hub, userID)
	hub.Connect(client)
	hub.logger.Infow("client connected", "user", userID, "remote", conn.RemoteAddr())

	go client.WritePump()

	// Cold-start baseline at the default level; the client can re-request
	// after changing its subscription.
	client.sendJSON(model.SnapshotMessage{
		Type:      model.TypeSnapshot,
		Equipment: hub.SnapshotFor(hub.SubscriptionOf(client)),
	})

	client.ReadPump()
}
