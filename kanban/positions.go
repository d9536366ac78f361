package kanban

import (
	"fmt"
	"sort"
)

// CardPosition places one card inside one list.
type CardPosition struct {
	ID     string `json:"id"`
	Order  int    `json:"order"`
	ListID string `json:"listId"`
}

// ListPosition places one list on its board.
type ListPosition struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// ValidateCardPositions rejects empty ids, negative orders and duplicate cards.
func ValidateCardPositions(positions []CardPosition) error {
	seen := make(map[string]struct{}, len(positions))
	for i, p := range positions {
		if p.ID == "" || p.ListID == "" {
			return fmt.Errorf("card position %d: id and listId are required: %w", i, ErrInvalidInput)
		}
		if p.Order < 0 {
			return fmt.Errorf("card %s: negative order: %w", p.ID, ErrInvalidInput)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("card %s listed twice: %w", p.ID, ErrInvalidInput)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// ValidateListPositions rejects empty ids, negative orders and duplicate lists.
func ValidateListPositions(positions []ListPosition) error {
	seen := make(map[string]struct{}, len(positions))
	for i, p := range positions {
		if p.ID == "" {
			return fmt.Errorf("list position %d: id is required: %w", i, ErrInvalidInput)
		}
		if p.Order < 0 {
			return fmt.Errorf("list %s: negative order: %w", p.ID, ErrInvalidInput)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("list %s listed twice: %w", p.ID, ErrInvalidInput)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// NormalizeCardPositions re-sequences every list's cards to 0..n-1. Cards keep
// their relative order; ties on order fall back to submission order, so two
// writers that both claimed the same slot never leave duplicate values behind.
// Lists appear in the output in order of first appearance.
func NormalizeCardPositions(positions []CardPosition) []CardPosition {
	type entry struct {
		pos CardPosition
		idx int
	}
	var listOrder []string
	byList := make(map[string][]entry)
	for i, p := range positions {
		if _, ok := byList[p.ListID]; !ok {
			listOrder = append(listOrder, p.ListID)
		}
		byList[p.ListID] = append(byList[p.ListID], entry{pos: p, idx: i})
	}

	out := make([]CardPosition, 0, len(positions))
	for _, listID := range listOrder {
		entries := byList[listID]
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].pos.Order != entries[j].pos.Order {
				return entries[i].pos.Order < entries[j].pos.Order
			}
			return entries[i].idx < entries[j].idx
		})
		for order, e := range entries {
			p := e.pos
			p.Order = order
			out = append(out, p)
		}
	}
	return out
}

// NormalizeListPositions re-sequences lists to 0..n-1 in the same manner.
func NormalizeListPositions(positions []ListPosition) []ListPosition {
	out := append([]ListPosition(nil), positions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	for i := range out {
		out[i].Order = i
	}
	return out
}

// CardPositions flattens a board into one position per card, using each card's
// index within its current list as its order.
func CardPositions(b Board) []CardPosition {
	var out []CardPosition
	for _, l := range b.Lists {
		for i, c := range l.Cards {
			out = append(out, CardPosition{ID: c.ID, Order: i, ListID: l.ID})
		}
	}
	return out
}

// ListPositions uses each list's index on the board as its order.
func ListPositions(b Board) []ListPosition {
	out := make([]ListPosition, len(b.Lists))
	for i, l := range b.Lists {
		out[i] = ListPosition{ID: l.ID, Order: i}
	}
	return out
}
