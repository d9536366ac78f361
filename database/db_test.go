package database

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/kanban"
)

func newTestService(t *testing.T) *DataService {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	db, err := InitDB(filepath.Join(t.TempDir(), "taskflow.db"), log)
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewDataService(db)
}

// seedBoard creates a board with two lists: A holding a1..a3 and B holding b1..b2.
func seedBoard(t *testing.T, s *DataService) (board *kanban.Board, cards map[string]string) {
	t.Helper()
	ctx := context.Background()
	board, err := s.CreateBoard(ctx, "owner", "Owner", "Roadmap", "")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	listA, err := s.CreateList(ctx, board.ID, "A", "")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	listB, err := s.CreateList(ctx, board.ID, "B", "")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	cards = map[string]string{"A": listA.ID, "B": listB.ID}
	for _, name := range []string{"a1", "a2", "a3"} {
		c, err := s.CreateCard(ctx, NewCard{ListID: listA.ID, Title: name})
		if err != nil {
			t.Fatalf("create card: %v", err)
		}
		cards[name] = c.ID
	}
	for _, name := range []string{"b1", "b2"} {
		c, err := s.CreateCard(ctx, NewCard{ListID: listB.ID, Title: name})
		if err != nil {
			t.Fatalf("create card: %v", err)
		}
		cards[name] = c.ID
	}
	return board, cards
}

func titles(l kanban.List) []string {
	var out []string
	for _, c := range l.Cards {
		out = append(out, c.Title)
	}
	return out
}

func orders(l kanban.List) []int {
	var out []int
	for _, c := range l.Cards {
		out = append(out, c.Order)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCreateAssignsTrailingOrder(t *testing.T) {
	s := newTestService(t)
	board, _ := seedBoard(t, s)

	got, err := s.GetBoard(context.Background(), board.ID)
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if len(got.Lists) != 2 || got.Lists[0].Title != "A" || got.Lists[1].Order != 1 {
		t.Fatalf("unexpected lists %+v", got.Lists)
	}
	if !equalStrings(titles(got.Lists[0]), []string{"a1", "a2", "a3"}) || !equalInts(orders(got.Lists[0]), []int{0, 1, 2}) {
		t.Fatalf("unexpected cards %v %v", titles(got.Lists[0]), orders(got.Lists[0]))
	}
	if got.Lists[0].Cards[0].Priority != kanban.PriorityMedium {
		t.Fatalf("expected default priority, got %q", got.Lists[0].Cards[0].Priority)
	}
	if got.Lists[0].Status != kanban.ListStatusNotStarted {
		t.Fatalf("expected derived status, got %q", got.Lists[0].Status)
	}
}

func TestGetBoardNotFound(t *testing.T) {
	s := newTestService(t)
	if _, err := s.GetBoard(context.Background(), "missing"); !errors.Is(err, kanban.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReorderCardsMovesAcrossLists(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	board, ids := seedBoard(t, s)

	// a2 moves to index 1 of B
	positions := []kanban.CardPosition{
		{ID: ids["a1"], ListID: ids["A"], Order: 0},
		{ID: ids["a3"], ListID: ids["A"], Order: 1},
		{ID: ids["b1"], ListID: ids["B"], Order: 0},
		{ID: ids["a2"], ListID: ids["B"], Order: 1},
		{ID: ids["b2"], ListID: ids["B"], Order: 2},
	}
	applied, err := s.ReorderCards(ctx, board.ID, positions)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if len(applied) != 5 {
		t.Fatalf("expected 5 applied positions, got %d", len(applied))
	}

	got, err := s.GetBoard(ctx, board.ID)
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if !equalStrings(titles(got.Lists[0]), []string{"a1", "a3"}) || !equalInts(orders(got.Lists[0]), []int{0, 1}) {
		t.Fatalf("unexpected list A %v %v", titles(got.Lists[0]), orders(got.Lists[0]))
	}
	if !equalStrings(titles(got.Lists[1]), []string{"b1", "a2", "b2"}) || !equalInts(orders(got.Lists[1]), []int{0, 1, 2}) {
		t.Fatalf("unexpected list B %v %v", titles(got.Lists[1]), orders(got.Lists[1]))
	}
	if got.Lists[1].Cards[1].ListID != ids["B"] {
		t.Fatalf("moved card kept old list reference")
	}
}

func TestReorderCardsNormalizesDuplicateOrders(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	board, ids := seedBoard(t, s)

	// a partial batch claiming slot 0 in A collides with a1, which keeps its place after
	_, err := s.ReorderCards(ctx, board.ID, []kanban.CardPosition{{ID: ids["b1"], ListID: ids["A"], Order: 0}})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	got, err := s.GetBoard(ctx, board.ID)
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if !equalStrings(titles(got.Lists[0]), []string{"b1", "a1", "a2", "a3"}) || !equalInts(orders(got.Lists[0]), []int{0, 1, 2, 3}) {
		t.Fatalf("unexpected list A %v %v", titles(got.Lists[0]), orders(got.Lists[0]))
	}
	if !equalStrings(titles(got.Lists[1]), []string{"b2"}) || !equalInts(orders(got.Lists[1]), []int{0}) {
		t.Fatalf("unexpected list B %v %v", titles(got.Lists[1]), orders(got.Lists[1]))
	}
}

func TestReorderCardsIsAllOrNothing(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	board, ids := seedBoard(t, s)
	other, _ := seedBoard(t, s)
	before, _ := s.GetBoard(ctx, board.ID)

	cases := map[string][]kanban.CardPosition{
		"unknown card": {
			{ID: ids["a1"], ListID: ids["B"], Order: 0},
			{ID: "nope", ListID: ids["A"], Order: 0},
		},
		"foreign list": {
			{ID: ids["a1"], ListID: ids["B"], Order: 0},
			{ID: ids["a2"], ListID: other.Lists[0].ID, Order: 0},
		},
	}
	for name, positions := range cases {
		if _, err := s.ReorderCards(ctx, board.ID, positions); !errors.Is(err, kanban.ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
	if _, err := s.ReorderCards(ctx, board.ID, []kanban.CardPosition{{ID: ids["a1"], ListID: ids["B"], Order: -3}}); !errors.Is(err, kanban.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	after, _ := s.GetBoard(ctx, board.ID)
	for i := range before.Lists {
		if !equalStrings(titles(before.Lists[i]), titles(after.Lists[i])) {
			t.Fatalf("list %d changed after failed batch: %v -> %v", i, titles(before.Lists[i]), titles(after.Lists[i]))
		}
	}
}

func TestReorderLists(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	board, ids := seedBoard(t, s)
	listC, err := s.CreateList(ctx, board.ID, "C", "")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}

	applied, err := s.ReorderLists(ctx, board.ID, []kanban.ListPosition{{ID: listC.ID, Order: 0}, {ID: ids["A"], Order: 1}})
	if err != nil {
		t.Fatalf("reorder lists: %v", err)
	}
	want := []kanban.ListPosition{{ID: listC.ID, Order: 0}, {ID: ids["A"], Order: 1}, {ID: ids["B"], Order: 2}}
	for i := range want {
		if applied[i] != want[i] {
			t.Fatalf("position %d: expected %+v, got %+v", i, want[i], applied[i])
		}
	}

	got, _ := s.GetBoard(ctx, board.ID)
	if got.Lists[0].Title != "C" || got.Lists[1].Title != "A" || got.Lists[2].Title != "B" {
		t.Fatalf("unexpected list order %s %s %s", got.Lists[0].Title, got.Lists[1].Title, got.Lists[2].Title)
	}

	if _, err := s.ReorderLists(ctx, board.ID, []kanban.ListPosition{{ID: "ghost", Order: 0}}); !errors.Is(err, kanban.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAndCopyList(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	board, ids := seedBoard(t, s)
	if _, err := s.AddAssignee(ctx, ids["a1"], "u1", "Ada"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	copied, err := s.CopyList(ctx, ids["A"])
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if copied.Title != "A (Copy)" || copied.Order != 2 || len(copied.Cards) != 3 {
		t.Fatalf("unexpected copy %+v", copied)
	}

	if err := s.DeleteList(ctx, ids["A"]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteList(ctx, ids["A"]); !errors.Is(err, kanban.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.CardBoardID(ctx, ids["a1"]); !errors.Is(err, kanban.ErrNotFound) {
		t.Fatalf("card of deleted list still present: %v", err)
	}

	got, _ := s.GetBoard(ctx, board.ID)
	if len(got.Lists) != 2 || got.Lists[1].ID != copied.ID {
		t.Fatalf("unexpected lists after delete %+v", got.Lists)
	}
	for i, l := range got.Lists {
		if l.Order != i {
			t.Fatalf("list %s has order %d, want %d", l.Title, l.Order, i)
		}
	}
	if !equalStrings(titles(got.Lists[1]), []string{"a1", "a2", "a3"}) {
		t.Fatalf("unexpected copied cards %v", titles(got.Lists[1]))
	}
	if len(got.Lists[1].Cards[0].Assignees) != 0 {
		t.Fatalf("assignees should not be copied")
	}

	// a list created after the delete lands directly after the survivors
	next, err := s.CreateList(ctx, board.ID, "C", "")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if next.Order != 2 {
		t.Fatalf("new list order = %d, want 2", next.Order)
	}
}

func TestGetBoardLoadsFullGraph(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	board, ids := seedBoard(t, s)
	if _, err := s.AddAssignee(ctx, ids["b2"], "u2", "Grace"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := s.AddAssignee(ctx, ids["b2"], "u1", "Ada"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	got, err := s.GetBoard(ctx, board.ID)
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if got.Title != "Roadmap" || len(got.Lists) != 2 {
		t.Fatalf("unexpected board %+v", got)
	}
	if !equalStrings(titles(got.Lists[0]), []string{"a1", "a2", "a3"}) || !equalStrings(titles(got.Lists[1]), []string{"b1", "b2"}) {
		t.Fatalf("unexpected cards %v %v", titles(got.Lists[0]), titles(got.Lists[1]))
	}
	assignees := got.Lists[1].Cards[1].Assignees
	if len(assignees) != 2 || assignees[0].UserName != "Ada" || assignees[1].UserName != "Grace" {
		t.Fatalf("unexpected assignees %+v", assignees)
	}

	// the read transaction is released, so writes still go through
	if _, err := s.CreateList(ctx, board.ID, "C", ""); err != nil {
		t.Fatalf("create list after read: %v", err)
	}
}

func TestUpdateCardAndAssignments(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	board, ids := seedBoard(t, s)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	hours := 3.5
	due := fixed.Add(48 * time.Hour)
	done := true
	prio := kanban.PriorityUrgent
	card, err := s.UpdateCard(ctx, ids["a2"], CardUpdate{EstimatedHours: &hours, DueDate: &due, Completed: &done, Priority: &prio})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if card.CompletedAt == nil || !card.CompletedAt.Equal(fixed) || !card.DueDate.Equal(due) || *card.EstimatedHours != 3.5 || card.Priority != prio {
		t.Fatalf("unexpected card %+v", card)
	}

	open := false
	card, err = s.UpdateCard(ctx, ids["a2"], CardUpdate{Completed: &open, ClearDueDate: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if card.CompletedAt != nil || card.DueDate != nil {
		t.Fatalf("expected cleared fields, got %+v", card)
	}

	if _, err := s.AddAssignee(ctx, ids["a2"], "u1", "Ada"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := s.AddAssignee(ctx, ids["b1"], "u1", "Ada L."); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := s.AddAssignee(ctx, "missing", "u1", "Ada"); !errors.Is(err, kanban.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	assignments, err := s.UserAssignments(ctx, "u1", board.ID)
	if err != nil {
		t.Fatalf("assignments: %v", err)
	}
	if len(assignments) != 2 || assignments[0].Card.Title != "a2" || assignments[0].List.Title != "A" || assignments[1].UserName != "Ada L." {
		t.Fatalf("unexpected assignments %+v", assignments)
	}
	if *assignments[0].Card.EstimatedHours != 3.5 {
		t.Fatalf("estimate not loaded")
	}
}

func TestMembers(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	board, _ := seedBoard(t, s)

	if role, err := s.MemberRole(ctx, board.ID, "owner"); err != nil || role != kanban.RoleOwner {
		t.Fatalf("unexpected owner role %q %v", role, err)
	}
	if _, err := s.MemberRole(ctx, board.ID, "stranger"); !errors.Is(err, kanban.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.AddMember(ctx, board.ID, "u2", "Grace"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	m, err := s.AddMember(ctx, board.ID, "owner", "Renamed")
	if err != nil || m.Role != kanban.RoleOwner {
		t.Fatalf("re-adding owner changed role: %+v %v", m, err)
	}
	if _, err := s.AddMember(ctx, "missing", "u2", "Grace"); !errors.Is(err, kanban.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	members, err := s.ListMembers(ctx, board.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 || members[0].UserID != "owner" || members[1].UserName != "Grace" {
		t.Fatalf("unexpected members %+v", members)
	}

	boards, err := s.ListBoards(ctx, "u2")
	if err != nil || len(boards) != 1 || boards[0].ID != board.ID {
		t.Fatalf("unexpected boards %+v %v", boards, err)
	}
}

func TestReportsAreAppendOnly(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	board, _ := seedBoard(t, s)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, day := range []int{0, 10, 20} {
		r := &kanban.BoardReport{
			BoardID:              board.ID,
			ReportDate:           base.Add(time.Duration(day) * 24 * time.Hour),
			TotalCards:           i,
			PriorityDistribution: map[kanban.Priority]int{kanban.PriorityHigh: i},
			CompletionRate:       12.5,
		}
		if err := s.CreateBoardReport(ctx, r); err != nil {
			t.Fatalf("create report: %v", err)
		}
		if r.ID == "" {
			t.Fatalf("report id not assigned")
		}
	}

	reports, err := s.ListBoardReports(ctx, board.ID, base.Add(5*24*time.Hour))
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(reports) != 2 || reports[0].TotalCards != 1 || reports[1].TotalCards != 2 {
		t.Fatalf("unexpected reports %+v", reports)
	}
	if reports[1].PriorityDistribution[kanban.PriorityHigh] != 2 || reports[1].CompletionRate != 12.5 {
		t.Fatalf("metrics column not restored: %+v", reports[1])
	}
}

func TestActivityNewestFirst(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	board, _ := seedBoard(t, s)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, action := range []string{"CREATE", "UPDATE", "DELETE"} {
		a := &kanban.Activity{BoardID: board.ID, Action: action, EntityType: "CARD", EntityID: "c", UserID: "u", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.RecordActivity(ctx, a); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := s.ListActivity(ctx, board.ID, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Action != "DELETE" || got[1].Action != "UPDATE" {
		t.Fatalf("unexpected activity %+v", got)
	}
}
