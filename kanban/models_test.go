package kanban

import (
	"errors"
	"testing"
	"time"
)

func TestListInProgress(t *testing.T) {
	cases := []struct {
		list List
		want bool
	}{
		{List{Title: "In Progress"}, true},
		{List{Title: "WORK IN PROGRESS"}, true},
		{List{Title: "Doing"}, false},
		{List{Title: "Doing", Status: ListStatusInProgress}, true},
		{List{Title: "In Progress", Status: ListStatusDone}, false},
	}
	for _, tc := range cases {
		if got := tc.list.InProgress(); got != tc.want {
			t.Fatalf("%q/%q: expected %v, got %v", tc.list.Title, tc.list.Status, tc.want, got)
		}
	}
}

func TestStatusFromTitle(t *testing.T) {
	if got := StatusFromTitle("In progress"); got != ListStatusInProgress {
		t.Fatalf("unexpected status %q", got)
	}
	if got := StatusFromTitle("Done"); got != ListStatusDone {
		t.Fatalf("unexpected status %q", got)
	}
	if got := StatusFromTitle("Backlog"); got != ListStatusNotStarted {
		t.Fatalf("unexpected status %q", got)
	}
}

func TestParsePriority(t *testing.T) {
	if p, err := ParsePriority("urgent"); err != nil || p != PriorityUrgent {
		t.Fatalf("unexpected %q %v", p, err)
	}
	if p, err := ParsePriority(""); err != nil || p != PriorityMedium {
		t.Fatalf("unexpected %q %v", p, err)
	}
	if _, err := ParsePriority("critical"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	due := time.Now()
	b := Board{Lists: []List{{ID: "l", Cards: []Card{{ID: "c", DueDate: &due, Assignees: []Assignee{{UserID: "u"}}}}}}}
	cp := b.Clone()
	cp.Lists[0].Cards[0].Title = "changed"
	cp.Lists[0].Cards[0].Assignees[0].UserID = "v"
	*cp.Lists[0].Cards[0].DueDate = due.Add(time.Hour)
	if b.Lists[0].Cards[0].Title != "" || b.Lists[0].Cards[0].Assignees[0].UserID != "u" || !b.Lists[0].Cards[0].DueDate.Equal(due) {
		t.Fatalf("clone shares memory with original")
	}
}
