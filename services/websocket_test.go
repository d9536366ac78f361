package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/kanban"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func hubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, r.URL.Query().Get("boardId"), "user-1")
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, boardID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?boardId=" + boardID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubDeliversToBoardRoomOnly(t *testing.T) {
	hub, _ := startHub(t)
	srv := hubServer(t, hub)
	conn := dial(t, srv, "board-1")
	waitFor(t, func() bool { return hub.Subscribers("board-1") == 1 })

	ctx := context.Background()
	other, _ := kanban.NewEvent(kanban.EventListCreated, "board-2", "user-2", "o-2", nil)
	mine, _ := kanban.NewEvent(kanban.EventListDeleted, "board-1", "user-2", "o-1", kanban.ListDeletedPayload{ListID: "l-1"})
	if err := hub.Publish(ctx, other); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := hub.Publish(ctx, mine); err != nil {
		t.Fatalf("publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got kanban.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.BoardID != "board-1" || got.Type != kanban.EventListDeleted || got.Origin != "o-1" {
		t.Fatalf("unexpected event %+v", got)
	}
	var payload kanban.ListDeletedPayload
	if err := got.Decode(&payload); err != nil || payload.ListID != "l-1" {
		t.Fatalf("unexpected payload %+v %v", payload, err)
	}
}

func TestHubAnswersPing(t *testing.T) {
	hub, _ := startHub(t)
	srv := hubServer(t, hub)
	conn := dial(t, srv, "board-1")

	if err := conn.WriteJSON(WebSocketMessage{Type: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "pong" {
		t.Fatalf("expected pong, got %s (%v)", data, err)
	}
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub, _ := startHub(t)
	srv := hubServer(t, hub)
	conn := dial(t, srv, "board-1")
	waitFor(t, func() bool { return hub.Subscribers("board-1") == 1 })

	conn.Close()
	waitFor(t, func() bool { return hub.Subscribers("board-1") == 0 })
}

func TestHubStopsWithContext(t *testing.T) {
	hub, cancel := startHub(t)
	srv := hubServer(t, hub)
	conn := dial(t, srv, "board-1")
	waitFor(t, func() bool { return hub.Subscribers("board-1") == 1 })

	cancel()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to close")
	}
	ev, _ := kanban.NewEvent(kanban.EventCardCreated, "board-1", "u", "", nil)
	if err := hub.Publish(context.Background(), ev); err != ErrHubStopped {
		t.Fatalf("expected ErrHubStopped, got %v", err)
	}
}
