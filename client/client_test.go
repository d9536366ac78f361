package client

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/database"
	"github.com/CrowderSoup/taskflow/handlers"
	"github.com/CrowderSoup/taskflow/kanban"
	"github.com/CrowderSoup/taskflow/reorder"
	"github.com/CrowderSoup/taskflow/services"
	"github.com/CrowderSoup/taskflow/workload"
)

type testServer struct {
	url  string
	auth *services.AuthService
	hub  *services.Hub
	log  *logrus.Logger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := database.InitDB(filepath.Join(t.TempDir(), "taskflow.db"), log)
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	data := database.NewDataService(db)

	hub := services.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	auth := services.NewAuthService("test-secret")
	router := handlers.NewRouter(
		handlers.NewAuthHandler(auth, data, false, log),
		handlers.NewDataHandler(data, workload.NewEngine(data, log), hub, nil, nil, log),
		handlers.NewAuthMiddleware(auth, log),
		log,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{url: srv.URL, auth: auth, hub: hub, log: log}
}

func (s *testServer) client(t *testing.T, userID, name string) *Client {
	t.Helper()
	token, err := s.auth.CreateJWT(services.Identity{UserID: userID, Name: name})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	return New(s.url, token)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type countingFetcher struct {
	reorder.Fetcher
	n atomic.Int32
}

func (f *countingFetcher) FetchBoard(ctx context.Context, boardID string) (*kanban.Board, error) {
	b, err := f.Fetcher.FetchBoard(ctx, boardID)
	f.n.Add(1)
	return b, err
}

func (f *countingFetcher) count() int { return int(f.n.Load()) }

func cardIDs(l kanban.List) []string {
	ids := make([]string, len(l.Cards))
	for i, c := range l.Cards {
		ids[i] = c.ID
	}
	return ids
}

func TestAPIErrorsUnwrapToKanbanErrors(t *testing.T) {
	srv := newTestServer(t)
	c := srv.client(t, "owner", "Owner")
	ctx := context.Background()

	_, err := c.FetchBoard(ctx, "missing")
	if !errors.Is(err, kanban.ErrNotFound) {
		t.Errorf("fetch missing board: %v", err)
	}

	board, err := c.CreateBoard(ctx, "Roadmap", "")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	err = c.PersistCards(ctx, board.ID, "origin-1", []kanban.CardPosition{{ID: "", ListID: "x"}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !errors.Is(err, kanban.ErrInvalidInput) {
		t.Errorf("invalid batch: %v", err)
	}

	unauthenticated := New(srv.url, "")
	if _, err := unauthenticated.FetchBoard(ctx, board.ID); !errors.As(err, &apiErr) || apiErr.Status != 401 {
		t.Errorf("no token: %v", err)
	}
}

func TestReorderPropagatesBetweenSessions(t *testing.T) {
	srv := newTestServer(t)
	owner := srv.client(t, "owner", "Owner")
	member := srv.client(t, "member", "Member")
	ctx := context.Background()

	board, err := owner.CreateBoard(ctx, "Roadmap", "")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	if err := owner.AddMember(ctx, board.ID, "member", "Member"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	todo, err := owner.CreateList(ctx, board.ID, "Todo")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	doing, err := owner.CreateList(ctx, board.ID, "Doing")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	first, err := owner.CreateCard(ctx, todo.ID, "first", "")
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	second, err := owner.CreateCard(ctx, todo.ID, "second", kanban.PriorityUrgent)
	if err != nil {
		t.Fatalf("create card: %v", err)
	}

	ownerBoard, err := owner.FetchBoard(ctx, board.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	memberBoard, err := member.FetchBoard(ctx, board.ID)
	if err != nil {
		t.Fatalf("member fetch: %v", err)
	}

	ownerFetches := &countingFetcher{Fetcher: owner}
	memberFetches := &countingFetcher{Fetcher: member}
	mine := reorder.NewSession(*ownerBoard, reorder.Identity{UserID: "owner", Name: "Owner"}, owner,
		reorder.WithFetcher(ownerFetches), reorder.WithLogger(srv.log))
	theirs := reorder.NewSession(*memberBoard, reorder.Identity{UserID: "member", Name: "Member"}, member,
		reorder.WithFetcher(memberFetches), reorder.WithLogger(srv.log))
	defer mine.Close()
	defer theirs.Close()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 2)
	go func() { done <- owner.Subscriber(board.ID, srv.log).Run(subCtx, mine) }()
	go func() { done <- member.Subscriber(board.ID, srv.log).Run(subCtx, theirs) }()
	waitFor(t, func() bool { return srv.hub.Subscribers(board.ID) == 2 })
	// Each subscriber refreshes its session once the first connection is up.
	waitFor(t, func() bool { return ownerFetches.count() >= 1 && memberFetches.count() >= 1 })

	started, err := mine.DragStart(reorder.Active{Kind: reorder.KindCard, ID: first.ID}, 20)
	if err != nil || !started {
		t.Fatalf("drag start: %v %v", started, err)
	}
	mine.DragOver(reorder.Target{Kind: reorder.KindList, ID: doing.ID})
	if err := mine.DragEnd(ctx, &reorder.Target{Kind: reorder.KindList, ID: doing.ID}); err != nil {
		t.Fatalf("drag end: %v", err)
	}

	waitFor(t, func() bool {
		b := theirs.Board()
		i := b.FindList(doing.ID)
		return i >= 0 && len(b.Lists[i].Cards) == 1 && b.Lists[i].Cards[0].ID == first.ID
	})

	got := theirs.Board()
	if ids := cardIDs(got.Lists[got.FindList(todo.ID)]); len(ids) != 1 || ids[0] != second.ID {
		t.Errorf("member's todo = %v", ids)
	}
	moved := got.Lists[got.FindList(doing.ID)].Cards[0]
	if moved.Title != "first" || moved.ListID != doing.ID {
		t.Errorf("moved card = %+v", moved)
	}

	// The owner's own view stays as it was after the drop.
	view := mine.Board()
	if ids := cardIDs(view.Lists[view.FindList(doing.ID)]); len(ids) != 1 || ids[0] != first.ID {
		t.Errorf("owner's doing = %v", ids)
	}

	// A list created through the API reaches both sessions through a
	// refresh, including the session of the user who created it.
	if _, err := owner.CreateList(ctx, board.ID, "Done"); err != nil {
		t.Fatalf("create list: %v", err)
	}
	waitFor(t, func() bool { return len(theirs.Board().Lists) == 3 })
	waitFor(t, func() bool { return len(mine.Board().Lists) == 3 })

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("subscriber returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber did not stop")
		}
	}
}
