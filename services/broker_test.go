package services

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/CrowderSoup/taskflow/kanban"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []kanban.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev kanban.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) received() []kanban.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kanban.Event(nil), p.events...)
}

func TestRedisBrokerRelaysEvents(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	local := &recordingPublisher{}
	broker := NewRedisBroker(rc, "board-events", local, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		broker.Run(ctx)
		close(done)
	}()
	waitFor(t, func() bool { return m.PubSubNumSub("board-events")["board-events"] == 1 })

	ev, _ := kanban.NewEvent(kanban.EventCardsReorder, "board-1", "user-1", "origin-1", kanban.CardsReorderPayload{
		Cards: []kanban.CardPosition{{ID: "c1", ListID: "l1", Order: 0}},
	})
	if err := broker.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// garbage on the channel is skipped
	if err := rc.Publish(context.Background(), "board-events", "{not json").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := broker.Publish(context.Background(), kanban.Event{Type: kanban.EventListCreated, BoardID: "board-2"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return len(local.received()) == 2 })
	got := local.received()
	if got[0].Origin != "origin-1" || got[0].BoardID != "board-1" {
		t.Fatalf("unexpected first event %+v", got[0])
	}
	var payload kanban.CardsReorderPayload
	if err := got[0].Decode(&payload); err != nil || len(payload.Cards) != 1 {
		t.Fatalf("payload lost: %+v %v", payload, err)
	}
	if got[1].BoardID != "board-2" {
		t.Fatalf("unexpected second event %+v", got[1])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broker did not exit")
	}
}

func TestRedisBrokerPublishFailure(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1})
	defer rc.Close()
	m.Close()

	broker := NewRedisBroker(rc, "board-events", &recordingPublisher{}, quietLogger())
	if err := broker.Publish(context.Background(), kanban.Event{Type: kanban.EventListCreated}); err == nil {
		t.Fatal("expected publish error with redis down")
	}
}
