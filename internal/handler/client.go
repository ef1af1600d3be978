package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"queuewatch/internal/logger"
	hub "queuewatch/internal/service/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsWebsocketHandler subscribes a dashboard connection to the events of
// its session: detections, alerts and video job progress.
func EventsWebsocketHandler(events *hub.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logger)
		if !ok {
			return
		}

		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		events.Register(connection, s.ID)
		defer events.Unregister(connection)

		logger.Info("Dashboard connected for session %s", s.ID)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Dashboard disconnected normally")
				} else {
					logger.Debug("Dashboard disconnected: %v", err)
				}
				return
			}
		}
	}
}
