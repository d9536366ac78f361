package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/kanban"
)

// Publisher fans a board event out to the board's subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev kanban.Event) error
}

// RedisBroker relays board events through a redis channel so every server
// instance delivers them to its own websocket clients.
type RedisBroker struct {
	rc      *redis.Client
	channel string
	local   Publisher
	log     logrus.FieldLogger
	backoff time.Duration
}

func NewRedisBroker(rc *redis.Client, channel string, local Publisher, log logrus.FieldLogger) *RedisBroker {
	return &RedisBroker{
		rc:      rc,
		channel: channel,
		local:   local,
		log:     log.WithField("channel", channel),
		backoff: time.Second,
	}
}

// Publish sends the event to every instance, this one included.
func (b *RedisBroker) Publish(ctx context.Context, ev kanban.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.rc.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Run subscribes to the channel and hands each event to the local hub until
// ctx is cancelled. A dropped subscription is re-established.
func (b *RedisBroker) Run(ctx context.Context) {
	for {
		b.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		b.log.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.backoff):
		}
	}
}

func (b *RedisBroker) consume(ctx context.Context) {
	sub := b.rc.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			b.log.WithError(err).Error("subscribe failed")
		}
		return
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev kanban.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.WithError(err).Warn("unable to parse event")
				continue
			}
			if err := b.local.Publish(ctx, ev); err != nil {
				b.log.WithError(err).WithField("board_id", ev.BoardID).Warn("local delivery failed")
			}
		}
	}
}
