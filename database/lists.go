package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/CrowderSoup/taskflow/kanban"
)

// ListBoardID returns the board owning a list.
func (s *DataService) ListBoardID(ctx context.Context, listID string) (string, error) {
	var boardID string
	err := s.db.QueryRowContext(ctx, `SELECT board_id FROM lists WHERE id = ?`, listID).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("list %s: %w", listID, kanban.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query list: %w", err)
	}
	return boardID, nil
}

// CreateList appends a list to a board. Its order is the number of lists
// already on the board. An unset status is derived from the title.
func (s *DataService) CreateList(ctx context.Context, boardID, title string, status kanban.ListStatus) (*kanban.List, error) {
	if status == kanban.ListStatusUnset {
		status = kanban.StatusFromTitle(title)
	}
	now := s.stamp()
	list := &kanban.List{
		ID:        uuid.NewString(),
		BoardID:   boardID,
		Title:     title,
		Status:    status,
		CreatedAt: now,
		Cards:     []kanban.Card{},
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM boards WHERE id = ?`, boardID).Scan(new(int)); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("board %s: %w", boardID, kanban.ErrNotFound)
			}
			return fmt.Errorf("failed to query board: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM lists WHERE board_id = ?`, boardID).Scan(&list.Order); err != nil {
			return fmt.Errorf("failed to count lists: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lists (id, board_id, title, ord, status, created_at) VALUES (?, ?, ?, ?, ?, ?)
		`, list.ID, boardID, title, list.Order, string(status), now); err != nil {
			return fmt.Errorf("failed to insert list: %w", err)
		}
		return touchBoard(ctx, tx, boardID, now)
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// DeleteList removes a list together with its cards and their assignments.
func (s *DataService) DeleteList(ctx context.Context, listID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var boardID string
		err := tx.QueryRowContext(ctx, `SELECT board_id FROM lists WHERE id = ?`, listID).Scan(&boardID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("list %s: %w", listID, kanban.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query list: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM card_assignees WHERE card_id IN (SELECT id FROM cards WHERE list_id = ?)
		`, listID); err != nil {
			return fmt.Errorf("failed to delete assignees: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE list_id = ?`, listID); err != nil {
			return fmt.Errorf("failed to delete cards: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE id = ?`, listID); err != nil {
			return fmt.Errorf("failed to delete list: %w", err)
		}
		if err := resequenceLists(ctx, tx, boardID); err != nil {
			return err
		}
		return touchBoard(ctx, tx, boardID, s.stamp())
	})
}

// resequenceLists closes the gaps in a board's list orders.
func resequenceLists(ctx context.Context, tx *sql.Tx, boardID string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, ord FROM lists WHERE board_id = ? ORDER BY ord, created_at`, boardID)
	if err != nil {
		return fmt.Errorf("failed to query lists: %w", err)
	}
	var current []kanban.ListPosition
	for rows.Next() {
		var p kanban.ListPosition
		if err := rows.Scan(&p.ID, &p.Order); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan list: %w", err)
		}
		current = append(current, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read lists: %w", err)
	}

	for _, p := range kanban.NormalizeListPositions(current) {
		if _, err := tx.ExecContext(ctx, `UPDATE lists SET ord = ? WHERE id = ?`, p.Order, p.ID); err != nil {
			return fmt.Errorf("failed to update list %s: %w", p.ID, err)
		}
	}
	return nil
}

// CopyList duplicates a list and its cards at the end of the same board.
// Completion state and assignees are not copied.
func (s *DataService) CopyList(ctx context.Context, listID string) (*kanban.List, error) {
	now := s.stamp()
	var copied *kanban.List

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var src kanban.List
		var status string
		err := tx.QueryRowContext(ctx, `
			SELECT id, board_id, title, status FROM lists WHERE id = ?
		`, listID).Scan(&src.ID, &src.BoardID, &src.Title, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("list %s: %w", listID, kanban.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query list: %w", err)
		}

		var maxOrder sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(ord) FROM lists WHERE board_id = ?`, src.BoardID).Scan(&maxOrder); err != nil {
			return fmt.Errorf("failed to query list order: %w", err)
		}

		copied = &kanban.List{
			ID:        uuid.NewString(),
			BoardID:   src.BoardID,
			Title:     src.Title + " (Copy)",
			Order:     int(maxOrder.Int64) + 1,
			Status:    kanban.ListStatus(status),
			CreatedAt: now,
			Cards:     []kanban.Card{},
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lists (id, board_id, title, ord, status, created_at) VALUES (?, ?, ?, ?, ?, ?)
		`, copied.ID, copied.BoardID, copied.Title, copied.Order, status, now); err != nil {
			return fmt.Errorf("failed to insert list: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT `+cardColumns+` FROM cards c WHERE c.list_id = ? ORDER BY c.ord, c.created_at
		`, listID)
		if err != nil {
			return fmt.Errorf("failed to query cards: %w", err)
		}
		var originals []kanban.Card
		for rows.Next() {
			c, err := scanCard(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan card: %w", err)
			}
			originals = append(originals, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read cards: %w", err)
		}

		for i, c := range originals {
			card := kanban.Card{
				ID:             uuid.NewString(),
				ListID:         copied.ID,
				Order:          i,
				Title:          c.Title,
				Description:    c.Description,
				Priority:       c.Priority,
				DueDate:        c.DueDate,
				EstimatedHours: c.EstimatedHours,
				CreatedAt:      now,
			}
			if err := insertCard(ctx, tx, card); err != nil {
				return err
			}
			copied.Cards = append(copied.Cards, card)
		}
		return touchBoard(ctx, tx, src.BoardID, now)
	})
	if err != nil {
		return nil, err
	}
	return copied, nil
}

// ReorderLists applies a batch of list positions atomically. Lists of the
// board missing from the batch keep their relative place; the final orders
// are re-sequenced 0..n-1 and returned.
func (s *DataService) ReorderLists(ctx context.Context, boardID string, positions []kanban.ListPosition) ([]kanban.ListPosition, error) {
	if err := kanban.ValidateListPositions(positions); err != nil {
		return nil, err
	}

	var applied []kanban.ListPosition
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, ord FROM lists WHERE board_id = ? ORDER BY ord, created_at`, boardID)
		if err != nil {
			return fmt.Errorf("failed to query lists: %w", err)
		}
		var current []kanban.ListPosition
		for rows.Next() {
			var p kanban.ListPosition
			if err := rows.Scan(&p.ID, &p.Order); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan list: %w", err)
			}
			current = append(current, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read lists: %w", err)
		}

		known := make(map[string]struct{}, len(current))
		for _, p := range current {
			known[p.ID] = struct{}{}
		}
		submitted := make(map[string]struct{}, len(positions))
		merged := make([]kanban.ListPosition, 0, len(current))
		for _, p := range positions {
			if _, ok := known[p.ID]; !ok {
				return fmt.Errorf("list %s on board %s: %w", p.ID, boardID, kanban.ErrNotFound)
			}
			submitted[p.ID] = struct{}{}
			merged = append(merged, p)
		}
		for _, p := range current {
			if _, ok := submitted[p.ID]; !ok {
				merged = append(merged, p)
			}
		}

		applied = kanban.NormalizeListPositions(merged)
		for _, p := range applied {
			if _, err := tx.ExecContext(ctx, `UPDATE lists SET ord = ? WHERE id = ?`, p.Order, p.ID); err != nil {
				return fmt.Errorf("failed to update list %s: %w", p.ID, err)
			}
		}
		return touchBoard(ctx, tx, boardID, s.stamp())
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}
