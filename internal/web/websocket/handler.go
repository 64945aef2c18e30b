package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The panel is served from the same host and carries no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades the request and attaches the connection to hub.
func Handler(hub *Hub, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.WithFields(logrus.Fields{
				"component": "ws_handler",
				"remote":    c.ClientIP(),
			}).WithError(err).Error("Failed to upgrade connection to WebSocket")
			return
		}

		client := newClient(uuid.NewString(), hub)
		hub.register <- client

		go writePump(client, conn, log)
		go readPump(client, conn, log)
	}
}

// readPump discards client frames and detects disconnects.
func readPump(client *Client, conn *websocket.Conn, log *logrus.Logger) {
	defer func() {
		client.Close()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithFields(logrus.Fields{
					"component": "ws_handler",
					"client_id": client.ID,
				}).WithError(err).Warn("WebSocket read error")
			}
			return
		}
	}
}

// writePump sends hub messages, one per frame, and keeps the connection
// alive with pings.
func writePump(client *Client, conn *websocket.Conn, log *logrus.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	entry := log.WithFields(logrus.Fields{
		"component": "ws_handler",
		"client_id": client.ID,
	})

	for {
		select {
		case message, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				entry.WithError(err).Debug("Failed to write message")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				entry.WithError(err).Debug("Failed to send ping")
				return
			}
		case <-client.closeCh:
			return
		}
	}
}
