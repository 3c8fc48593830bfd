package events

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Session tokens are unguessable; the feed carries no secrets
		// beyond what the token already grants.
		return true
	},
}

// ServeWS upgrades a request on /ws/sessions/{token} and subscribes the
// connection to that session's room.
func ServeWS(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		if token == "" {
			http.Error(w, "missing session token", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			logger.Warn("websocket upgrade failed",
				slog.String("token", token),
				slog.Any("error", err))
			return
		}

		client := &Client{
			Hub:  hub,
			Conn: conn,
			Send: make(chan []byte, 256),
			Room: SessionRoom(token),
		}
		client.Hub.Register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}
