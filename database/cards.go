package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CrowderSoup/taskflow/kanban"
)

// NewCard holds the fields a card is created with.
type NewCard struct {
	ListID         string
	Title          string
	Description    string
	Priority       kanban.Priority
	DueDate        *time.Time
	EstimatedHours *float64
}

// CardUpdate changes only the fields that are set.
type CardUpdate struct {
	Title          *string
	Description    *string
	Priority       *kanban.Priority
	DueDate        *time.Time
	ClearDueDate   bool
	EstimatedHours *float64
	Completed      *bool
}

func insertCard(ctx context.Context, tx *sql.Tx, c kanban.Card) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cards (id, list_id, ord, title, description, priority, due_date, completed_at, estimated_hours, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ListID, c.Order, c.Title, c.Description, string(c.Priority),
		nullTime(c.DueDate), nullTime(c.CompletedAt), nullFloat(c.EstimatedHours), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert card: %w", err)
	}
	return nil
}

// CardBoardID returns the board a card is on.
func (s *DataService) CardBoardID(ctx context.Context, cardID string) (string, error) {
	var boardID string
	err := s.db.QueryRowContext(ctx, `
		SELECT l.board_id FROM cards c JOIN lists l ON l.id = c.list_id WHERE c.id = ?
	`, cardID).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("card %s: %w", cardID, kanban.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query card: %w", err)
	}
	return boardID, nil
}

// GetCard loads one card with its assignees.
func (s *DataService) GetCard(ctx context.Context, cardID string) (*kanban.Card, error) {
	c, err := scanCard(s.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards c WHERE c.id = ?`, cardID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %s: %w", cardID, kanban.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query card: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT card_id, user_id, user_name FROM card_assignees WHERE card_id = ? ORDER BY user_name, user_id
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignees: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a kanban.Assignee
		if err := rows.Scan(&a.CardID, &a.UserID, &a.UserName); err != nil {
			return nil, fmt.Errorf("failed to scan assignee: %w", err)
		}
		c.Assignees = append(c.Assignees, a)
	}
	return &c, rows.Err()
}

// CreateCard appends a card to a list. Its order is the number of cards
// already in the list.
func (s *DataService) CreateCard(ctx context.Context, in NewCard) (*kanban.Card, error) {
	if in.Priority == "" {
		in.Priority = kanban.PriorityMedium
	}
	now := s.stamp()
	card := &kanban.Card{
		ID:             uuid.NewString(),
		ListID:         in.ListID,
		Title:          in.Title,
		Description:    in.Description,
		Priority:       in.Priority,
		DueDate:        in.DueDate,
		EstimatedHours: in.EstimatedHours,
		CreatedAt:      now,
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var boardID string
		err := tx.QueryRowContext(ctx, `SELECT board_id FROM lists WHERE id = ?`, in.ListID).Scan(&boardID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("list %s: %w", in.ListID, kanban.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query list: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE list_id = ?`, in.ListID).Scan(&card.Order); err != nil {
			return fmt.Errorf("failed to count cards: %w", err)
		}
		if err := insertCard(ctx, tx, *card); err != nil {
			return err
		}
		return touchBoard(ctx, tx, boardID, now)
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// UpdateCard applies the set fields of upd. Marking a card completed stamps
// the completion time once; marking it open clears it.
func (s *DataService) UpdateCard(ctx context.Context, cardID string, upd CardUpdate) (*kanban.Card, error) {
	now := s.stamp()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		c, err := scanCard(tx.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards c WHERE c.id = ?`, cardID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("card %s: %w", cardID, kanban.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query card: %w", err)
		}

		if upd.Title != nil {
			c.Title = *upd.Title
		}
		if upd.Description != nil {
			c.Description = *upd.Description
		}
		if upd.Priority != nil {
			c.Priority = *upd.Priority
		}
		if upd.ClearDueDate {
			c.DueDate = nil
		} else if upd.DueDate != nil {
			c.DueDate = upd.DueDate
		}
		if upd.EstimatedHours != nil {
			c.EstimatedHours = upd.EstimatedHours
		}
		if upd.Completed != nil {
			switch {
			case *upd.Completed && c.CompletedAt == nil:
				c.CompletedAt = &now
			case !*upd.Completed:
				c.CompletedAt = nil
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE cards SET title = ?, description = ?, priority = ?, due_date = ?, completed_at = ?, estimated_hours = ?
			WHERE id = ?
		`, c.Title, c.Description, string(c.Priority), nullTime(c.DueDate), nullTime(c.CompletedAt),
			nullFloat(c.EstimatedHours), cardID); err != nil {
			return fmt.Errorf("failed to update card: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetCard(ctx, cardID)
}

// AddAssignee assigns a user to a card, refreshing the stored display name.
func (s *DataService) AddAssignee(ctx context.Context, cardID, userID, userName string) (kanban.Assignee, error) {
	if _, err := s.CardBoardID(ctx, cardID); err != nil {
		return kanban.Assignee{}, err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO card_assignees (card_id, user_id, user_name) VALUES (?, ?, ?)
		ON CONFLICT(card_id, user_id) DO UPDATE SET user_name = excluded.user_name
	`, cardID, userID, userName)
	if err != nil {
		return kanban.Assignee{}, fmt.Errorf("failed to insert assignee: %w", err)
	}
	return kanban.Assignee{CardID: cardID, UserID: userID, UserName: userName}, nil
}

// ReorderCards applies a batch of card positions atomically: either every
// card moves or none does. Every card and target list must belong to the
// board. Cards of touched lists that are missing from the batch keep their
// relative place, and every touched list is re-sequenced 0..n-1. The
// positions actually written are returned.
func (s *DataService) ReorderCards(ctx context.Context, boardID string, positions []kanban.CardPosition) ([]kanban.CardPosition, error) {
	if err := kanban.ValidateCardPositions(positions); err != nil {
		return nil, err
	}

	var applied []kanban.CardPosition
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		lists := make(map[string]struct{})
		listRows, err := tx.QueryContext(ctx, `SELECT id FROM lists WHERE board_id = ?`, boardID)
		if err != nil {
			return fmt.Errorf("failed to query lists: %w", err)
		}
		for listRows.Next() {
			var id string
			if err := listRows.Scan(&id); err != nil {
				listRows.Close()
				return fmt.Errorf("failed to scan list: %w", err)
			}
			lists[id] = struct{}{}
		}
		listRows.Close()
		if err := listRows.Err(); err != nil {
			return fmt.Errorf("failed to read lists: %w", err)
		}

		cardRows, err := tx.QueryContext(ctx, `
			SELECT c.id, c.ord, c.list_id FROM cards c JOIN lists l ON l.id = c.list_id
			WHERE l.board_id = ? ORDER BY c.list_id, c.ord, c.created_at
		`, boardID)
		if err != nil {
			return fmt.Errorf("failed to query cards: %w", err)
		}
		var current []kanban.CardPosition
		for cardRows.Next() {
			var p kanban.CardPosition
			if err := cardRows.Scan(&p.ID, &p.Order, &p.ListID); err != nil {
				cardRows.Close()
				return fmt.Errorf("failed to scan card: %w", err)
			}
			current = append(current, p)
		}
		cardRows.Close()
		if err := cardRows.Err(); err != nil {
			return fmt.Errorf("failed to read cards: %w", err)
		}

		known := make(map[string]kanban.CardPosition, len(current))
		for _, p := range current {
			known[p.ID] = p
		}
		touched := make(map[string]struct{})
		submitted := make(map[string]struct{}, len(positions))
		for _, p := range positions {
			prev, ok := known[p.ID]
			if !ok {
				return fmt.Errorf("card %s on board %s: %w", p.ID, boardID, kanban.ErrNotFound)
			}
			if _, ok := lists[p.ListID]; !ok {
				return fmt.Errorf("list %s on board %s: %w", p.ListID, boardID, kanban.ErrNotFound)
			}
			submitted[p.ID] = struct{}{}
			touched[p.ListID] = struct{}{}
			touched[prev.ListID] = struct{}{}
		}

		merged := append([]kanban.CardPosition(nil), positions...)
		for _, p := range current {
			if _, moved := submitted[p.ID]; moved {
				continue
			}
			if _, ok := touched[p.ListID]; ok {
				merged = append(merged, p)
			}
		}

		applied = kanban.NormalizeCardPositions(merged)
		for _, p := range applied {
			if _, err := tx.ExecContext(ctx, `UPDATE cards SET ord = ?, list_id = ? WHERE id = ?`, p.Order, p.ListID, p.ID); err != nil {
				return fmt.Errorf("failed to update card %s: %w", p.ID, err)
			}
		}
		return touchBoard(ctx, tx, boardID, s.stamp())
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// UserAssignments returns every card on a board assigned to a user, with the
// list holding each card and the assignment's display name.
func (s *DataService) UserAssignments(ctx context.Context, userID, boardID string) ([]kanban.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cardColumns+`, l.id, l.board_id, l.title, l.ord, l.status, a.user_name
		FROM card_assignees a
		JOIN cards c ON c.id = a.card_id
		JOIN lists l ON l.id = c.list_id
		WHERE a.user_id = ? AND l.board_id = ?
		ORDER BY l.ord, c.ord
	`, userID, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var out []kanban.Assignment
	for rows.Next() {
		a := kanban.Assignment{UserID: userID}
		var status string
		card, err := scanCard(rows, &a.List.ID, &a.List.BoardID, &a.List.Title, &a.List.Order, &status, &a.UserName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.Card = card
		a.List.Status = kanban.ListStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}
