package kanban

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Priority is the urgency of a card.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Priorities lists every priority in ascending urgency.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// ParsePriority accepts any casing. An empty value means MEDIUM.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return PriorityMedium, nil
	}
	for _, p := range Priorities {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown priority %q: %w", s, ErrInvalidInput)
}

// ListStatus is the coarse workflow stage a list represents.
type ListStatus string

const (
	ListStatusUnset      ListStatus = ""
	ListStatusNotStarted ListStatus = "NOT_STARTED"
	ListStatusInProgress ListStatus = "IN_PROGRESS"
	ListStatusDone       ListStatus = "DONE"
)

// ParseListStatus accepts any casing. An empty value stays unset.
func ParseListStatus(s string) (ListStatus, error) {
	switch ListStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case ListStatusUnset:
		return ListStatusUnset, nil
	case ListStatusNotStarted:
		return ListStatusNotStarted, nil
	case ListStatusInProgress:
		return ListStatusInProgress, nil
	case ListStatusDone:
		return ListStatusDone, nil
	}
	return "", fmt.Errorf("unknown list status %q: %w", s, ErrInvalidInput)
}

// StatusFromTitle derives a status for a new list whose creator did not pick one.
func StatusFromTitle(title string) ListStatus {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "progress"):
		return ListStatusInProgress
	case strings.Contains(t, "done"):
		return ListStatusDone
	default:
		return ListStatusNotStarted
	}
}

type Board struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Lists       []List    `json:"lists"`
}

type List struct {
	ID        string     `json:"id"`
	BoardID   string     `json:"boardId"`
	Title     string     `json:"title"`
	Order     int        `json:"order"`
	Status    ListStatus `json:"status,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	Cards     []Card     `json:"cards"`
}

// InProgress reports whether cards in this list count as in progress. Rows
// created before lists carried a status fall back to matching the title.
func (l List) InProgress() bool {
	if l.Status != ListStatusUnset {
		return l.Status == ListStatusInProgress
	}
	return strings.Contains(strings.ToLower(l.Title), "progress")
}

type Card struct {
	ID             string     `json:"id"`
	ListID         string     `json:"listId"`
	Order          int        `json:"order"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Priority       Priority   `json:"priority"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	EstimatedHours *float64   `json:"estimatedHours,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	Assignees      []Assignee `json:"assignees,omitempty"`
}

// Completed reports whether the card carries a completion timestamp.
func (c Card) Completed() bool {
	return c.CompletedAt != nil
}

type Assignee struct {
	CardID   string `json:"cardId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

type Member struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Role     string `json:"role"`
}

// BoardReport is a point-in-time copy of a board's metrics. Rows are only ever
// inserted.
type BoardReport struct {
	ID                   string           `json:"id"`
	BoardID              string           `json:"boardId"`
	ReportDate           time.Time        `json:"reportDate"`
	TotalLists           int              `json:"totalLists"`
	TotalCards           int              `json:"totalCards"`
	CompletedCards       int              `json:"completedCards"`
	InProgressCards      int              `json:"inProgressCards"`
	OverdueCards         int              `json:"overdueCards"`
	CardsCreatedToday    int              `json:"cardsCreatedToday"`
	CardsCompletedToday  int              `json:"cardsCompletedToday"`
	ActiveMembers        int              `json:"activeMembers"`
	AverageCardAge       float64          `json:"averageCardAge"`
	VelocityScore        int              `json:"velocityScore"`
	PriorityDistribution map[Priority]int `json:"priorityDistribution"`
	CompletionRate       float64          `json:"completionRate"`
}

type Activity struct {
	ID         string    `json:"id"`
	BoardID    string    `json:"boardId"`
	Action     string    `json:"action"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Cards returns every card on the board in list order.
func (b Board) Cards() []Card {
	var out []Card
	for _, l := range b.Lists {
		out = append(out, l.Cards...)
	}
	return out
}

// FindList returns the index of the list with the given id, or -1.
func (b Board) FindList(id string) int {
	for i, l := range b.Lists {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// FindCard returns the list and card indexes of the card with the given id.
func (b Board) FindCard(id string) (listIdx, cardIdx int, ok bool) {
	for i, l := range b.Lists {
		for j, c := range l.Cards {
			if c.ID == id {
				return i, j, true
			}
		}
	}
	return -1, -1, false
}

// Clone returns a deep copy suitable for snapshotting.
func (b Board) Clone() Board {
	out := b
	out.Lists = make([]List, len(b.Lists))
	for i, l := range b.Lists {
		out.Lists[i] = l.Clone()
	}
	return out
}

func (l List) Clone() List {
	out := l
	if l.Cards != nil {
		out.Cards = make([]Card, len(l.Cards))
		for i, c := range l.Cards {
			out.Cards[i] = c.Clone()
		}
	}
	return out
}

func (c Card) Clone() Card {
	out := c
	if c.DueDate != nil {
		t := *c.DueDate
		out.DueDate = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	if c.EstimatedHours != nil {
		h := *c.EstimatedHours
		out.EstimatedHours = &h
	}
	if c.Assignees != nil {
		out.Assignees = append([]Assignee(nil), c.Assignees...)
	}
	return out
}

// SortByOrder sorts lists, and the cards of each list, by their order values.
func (b *Board) SortByOrder() {
	sort.SliceStable(b.Lists, func(i, j int) bool { return b.Lists[i].Order < b.Lists[j].Order })
	for i := range b.Lists {
		cards := b.Lists[i].Cards
		sort.SliceStable(cards, func(x, y int) bool { return cards[x].Order < cards[y].Order })
	}
}
