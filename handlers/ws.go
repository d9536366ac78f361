package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/CrowderSoup/taskflow/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the token already scopes the connection
	},
}

// HandleWebSocket subscribes the caller to one board's events
func (h *DataHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}

	boardID := r.URL.Query().Get("boardId")
	if _, err := h.authorize(r.Context(), boardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		log.WithError(err).Warn("Error upgrading to WebSocket")
		return
	}

	// A user may hold several connections, one per tab or device
	client := services.NewClient(h.hub, conn, boardID, id.UserID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
