package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/kanban"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Inbound messages are only control frames, so keep them small
	maxMessageSize = 4 * 1024

	sendBufferSize = 256
)

// Client is one websocket subscribed to one board.
type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	BoardID string
	UserID  string

	// control carries replies to the client's own messages. Unlike Send it
	// is never closed by the hub.
	control chan []byte
}

func NewClient(hub *Hub, conn *websocket.Conn, boardID, userID string) *Client {
	return &Client{
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, sendBufferSize),
		BoardID: boardID,
		UserID:  userID,
		control: make(chan []byte, 1),
	}
}

// WebSocketMessage is the control message format clients may send.
type WebSocketMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ReadPump reads control messages until the connection closes. Board changes
// go through the REST API, so anything other than a ping is ignored.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	log := c.Hub.log.WithFields(logrus.Fields{"board_id": c.BoardID, "user_id": c.UserID})
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).Warn("WebSocket error")
			}
			break
		}

		var wsMessage WebSocketMessage
		if err := json.Unmarshal(message, &wsMessage); err != nil {
			log.WithError(err).Debug("Error unmarshalling WebSocket message")
			continue
		}

		if wsMessage.Type != "ping" {
			log.WithField("type", wsMessage.Type).Debug("Ignoring client message")
			continue
		}

		pong, err := json.Marshal(WebSocketMessage{
			Type: "pong",
			Data: map[string]string{"timestamp": time.Now().UTC().Format(time.RFC3339)},
		})
		if err != nil {
			continue
		}
		select {
		case c.control <- pong:
		default:
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one event per frame so clients can decode each frame on its own
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case message := <-c.control:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var ErrHubStopped = errors.New("hub stopped")

type roomMessage struct {
	boardID string
	data    []byte
}

type countRequest struct {
	boardID string
	reply   chan int
}

// Hub keeps one room of clients per board and fans events out to the room.
type Hub struct {
	rooms      map[string]map[*Client]bool
	broadcast  chan roomMessage
	register   chan *Client
	unregister chan *Client
	counts     chan countRequest
	done       chan struct{}
	log        logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan roomMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		counts:     make(chan countRequest),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Register adds a client to its board's room
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister removes a client from its room
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish delivers an event to every subscriber of its board, the sender's
// own connections included. Receivers drop their own echoes by origin.
func (h *Hub) Publish(ctx context.Context, ev kanban.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	select {
	case h.broadcast <- roomMessage{boardID: ev.BoardID, data: data}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribers returns how many clients are watching a board.
func (h *Hub) Subscribers(boardID string) int {
	req := countRequest{boardID: boardID, reply: make(chan int, 1)}
	select {
	case h.counts <- req:
		return <-req.reply
	case <-h.done:
		return 0
	}
}

// Run starts the hub's main loop. It returns when ctx is cancelled, closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for _, room := range h.rooms {
			for client := range room {
				close(client.Send)
			}
		}
		h.rooms = make(map[string]map[*Client]bool)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			room, ok := h.rooms[client.BoardID]
			if !ok {
				room = make(map[*Client]bool)
				h.rooms[client.BoardID] = room
			}
			room[client] = true
			h.log.WithFields(logrus.Fields{"board_id": client.BoardID, "user_id": client.UserID}).Info("Client connected")
		case client := <-h.unregister:
			h.remove(client)
		case req := <-h.counts:
			req.reply <- len(h.rooms[req.boardID])
		case msg := <-h.broadcast:
			room := h.rooms[msg.boardID]
			h.log.WithFields(logrus.Fields{"board_id": msg.boardID, "clients": len(room)}).Debug("Broadcasting event")
			for client := range room {
				select {
				case client.Send <- msg.data:
				default:
					// Client's send buffer is full, assume disconnected
					h.log.WithFields(logrus.Fields{"board_id": client.BoardID, "user_id": client.UserID}).Warn("Client send buffer full, removing client")
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	room, ok := h.rooms[client.BoardID]
	if !ok {
		return
	}
	if _, ok := room[client]; !ok {
		return
	}
	delete(room, client)
	close(client.Send)
	if len(room) == 0 {
		delete(h.rooms, client.BoardID)
	}
	h.log.WithFields(logrus.Fields{"board_id": client.BoardID, "user_id": client.UserID}).Info("Client disconnected")
}
