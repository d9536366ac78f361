package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/kanban"
	"github.com/CrowderSoup/taskflow/reorder"
)

// Sink consumes board events. *reorder.Session is the usual sink.
type Sink interface {
	ApplyRemote(ctx context.Context, ev kanban.Event) error
}

// refresher is implemented by sinks that can reload the board after a gap in
// the event stream.
type refresher interface {
	Refresh(ctx context.Context) error
}

// Subscriber streams one board's events into a Sink, reconnecting when the
// connection drops.
type Subscriber struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	log     logrus.FieldLogger
	backoff time.Duration
}

// Subscriber returns a websocket subscriber for boardID authenticated with
// the client's token.
func (c *Client) Subscriber(boardID string, log logrus.FieldLogger) *Subscriber {
	base := c.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}
	return &Subscriber{
		url:     base + "/api/ws?boardId=" + url.QueryEscape(boardID),
		header:  header,
		dialer:  websocket.DefaultDialer,
		log:     log.WithField("board_id", boardID),
		backoff: time.Second,
	}
}

// Run delivers events until ctx is cancelled or the sink is closed. The sink
// is refreshed after every connect, since events may have been missed before
// it, including between loading the board and the first dial.
func (s *Subscriber) Run(ctx context.Context, sink Sink) error {
	for {
		conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err == nil {
			if r, ok := sink.(refresher); ok {
				if err := r.Refresh(ctx); err != nil {
					if errors.Is(err, reorder.ErrClosed) {
						conn.Close()
						return nil
					}
					s.log.WithError(err).Warn("Refresh after connect failed")
				}
			}
			err = s.consume(ctx, conn, sink)
			if errors.Is(err, reorder.ErrClosed) {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		s.log.WithError(err).Warn("Board subscription lost, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.backoff):
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, conn *websocket.Conn, sink Sink) error {
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev kanban.Event
		if err := json.Unmarshal(message, &ev); err != nil {
			s.log.WithError(err).Debug("Ignoring undecodable message")
			continue
		}
		if ev.Type == "" || ev.Type == "pong" {
			continue
		}

		if err := sink.ApplyRemote(ctx, ev); err != nil {
			if errors.Is(err, reorder.ErrClosed) {
				return err
			}
			s.log.WithError(err).WithField("event", ev.Type).Warn("Failed to apply event")
		}
	}
}
