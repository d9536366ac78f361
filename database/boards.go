package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/CrowderSoup/taskflow/kanban"
)

// UpsertUser records the display name last seen for a user.
func (s *DataService) UpsertUser(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, id, name)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// CreateBoard creates a board and makes its creator the owner.
func (s *DataService) CreateBoard(ctx context.Context, ownerID, ownerName, title, description string) (*kanban.Board, error) {
	now := s.stamp()
	board := &kanban.Board{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Lists:       []kanban.List{},
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO boards (id, title, description, owner_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, board.ID, board.Title, board.Description, board.OwnerID, now, now); err != nil {
			return fmt.Errorf("failed to insert board: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO board_members (board_id, user_id, user_name, role) VALUES (?, ?, ?, ?)
		`, board.ID, ownerID, ownerName, kanban.RoleOwner); err != nil {
			return fmt.Errorf("failed to insert owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return board, nil
}

// ListBoards returns the boards a user owns or is a member of, most recently
// updated first. Lists are not loaded.
func (s *DataService) ListBoards(ctx context.Context, userID string) ([]kanban.Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.title, b.description, b.owner_id, b.created_at, b.updated_at
		FROM boards b JOIN board_members m ON m.board_id = b.id
		WHERE m.user_id = ?
		ORDER BY b.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query boards: %w", err)
	}
	defer rows.Close()

	boards := []kanban.Board{}
	for rows.Next() {
		var b kanban.Board
		if err := rows.Scan(&b.ID, &b.Title, &b.Description, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan board: %w", err)
		}
		b.Lists = []kanban.List{}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// ListBoardIDs returns the id of every board.
func (s *DataService) ListBoardIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM boards ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query boards: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan board id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetBoard loads the full board graph: lists, their cards and the cards'
// assignees, all in display order. Every read runs in one transaction so the
// graph is a single snapshot.
func (s *DataService) GetBoard(ctx context.Context, boardID string) (*kanban.Board, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var b kanban.Board
	err = tx.QueryRowContext(ctx, `
		SELECT id, title, description, owner_id, created_at, updated_at FROM boards WHERE id = ?
	`, boardID).Scan(&b.ID, &b.Title, &b.Description, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("board %s: %w", boardID, kanban.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query board: %w", err)
	}

	lists, err := boardLists(ctx, tx, boardID)
	if err != nil {
		return nil, err
	}
	cards, err := boardCards(ctx, tx, boardID)
	if err != nil {
		return nil, err
	}
	assignees, err := boardAssignees(ctx, tx, boardID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	index := make(map[string]int, len(lists))
	for i := range lists {
		index[lists[i].ID] = i
	}
	for _, c := range cards {
		c.Assignees = assignees[c.ID]
		if i, ok := index[c.ListID]; ok {
			lists[i].Cards = append(lists[i].Cards, c)
		}
	}
	b.Lists = lists
	return &b, nil
}

func boardLists(ctx context.Context, tx *sql.Tx, boardID string) ([]kanban.List, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, board_id, title, ord, status, created_at FROM lists
		WHERE board_id = ? ORDER BY ord, created_at
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lists: %w", err)
	}
	defer rows.Close()

	lists := []kanban.List{}
	for rows.Next() {
		var l kanban.List
		var status string
		if err := rows.Scan(&l.ID, &l.BoardID, &l.Title, &l.Order, &status, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan list: %w", err)
		}
		l.Status = kanban.ListStatus(status)
		l.Cards = []kanban.Card{}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

const cardColumns = `c.id, c.list_id, c.ord, c.title, c.description, c.priority,
	c.due_date, c.completed_at, c.estimated_hours, c.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner, extra ...any) (kanban.Card, error) {
	var c kanban.Card
	var priority string
	var due, completed sql.NullTime
	var hours sql.NullFloat64
	dest := append([]any{&c.ID, &c.ListID, &c.Order, &c.Title, &c.Description, &priority,
		&due, &completed, &hours, &c.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return kanban.Card{}, err
	}
	c.Priority = kanban.Priority(priority)
	c.DueDate = timePtr(due)
	c.CompletedAt = timePtr(completed)
	c.EstimatedHours = floatPtr(hours)
	return c, nil
}

func boardCards(ctx context.Context, tx *sql.Tx, boardID string) ([]kanban.Card, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards c JOIN lists l ON l.id = c.list_id
		WHERE l.board_id = ? ORDER BY c.list_id, c.ord, c.created_at
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []kanban.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func boardAssignees(ctx context.Context, tx *sql.Tx, boardID string) (map[string][]kanban.Assignee, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT a.card_id, a.user_id, a.user_name
		FROM card_assignees a
		JOIN cards c ON c.id = a.card_id
		JOIN lists l ON l.id = c.list_id
		WHERE l.board_id = ? ORDER BY a.user_name, a.user_id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignees: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]kanban.Assignee)
	for rows.Next() {
		var a kanban.Assignee
		if err := rows.Scan(&a.CardID, &a.UserID, &a.UserName); err != nil {
			return nil, fmt.Errorf("failed to scan assignee: %w", err)
		}
		out[a.CardID] = append(out[a.CardID], a)
	}
	return out, rows.Err()
}

// MemberRole returns the caller's role on a board. Boards the user cannot see
// report kanban.ErrNotFound.
func (s *DataService) MemberRole(ctx context.Context, boardID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM board_members WHERE board_id = ? AND user_id = ?
	`, boardID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("board %s: %w", boardID, kanban.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query membership: %w", err)
	}
	return role, nil
}

// AddMember adds a user to a board, or renames an existing member.
func (s *DataService) AddMember(ctx context.Context, boardID, userID, userName string) (kanban.Member, error) {
	var role string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM boards WHERE id = ?`, boardID).Scan(new(int)); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("board %s: %w", boardID, kanban.ErrNotFound)
			}
			return fmt.Errorf("failed to query board: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO board_members (board_id, user_id, user_name, role) VALUES (?, ?, ?, ?)
			ON CONFLICT(board_id, user_id) DO UPDATE SET user_name = excluded.user_name
		`, boardID, userID, userName, kanban.RoleMember); err != nil {
			return fmt.Errorf("failed to insert member: %w", err)
		}
		return tx.QueryRowContext(ctx, `
			SELECT role FROM board_members WHERE board_id = ? AND user_id = ?
		`, boardID, userID).Scan(&role)
	})
	if err != nil {
		return kanban.Member{}, err
	}
	return kanban.Member{UserID: userID, UserName: userName, Role: role}, nil
}

// ListMembers returns the owner first, then members by name.
func (s *DataService) ListMembers(ctx context.Context, boardID string) ([]kanban.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, user_name, role FROM board_members WHERE board_id = ?
		ORDER BY CASE role WHEN 'owner' THEN 0 ELSE 1 END, user_name, user_id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	members := []kanban.Member{}
	for rows.Next() {
		var m kanban.Member
		if err := rows.Scan(&m.UserID, &m.UserName, &m.Role); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func touchBoard(ctx context.Context, tx *sql.Tx, boardID string, now any) error {
	if _, err := tx.ExecContext(ctx, `UPDATE boards SET updated_at = ? WHERE id = ?`, now, boardID); err != nil {
		return fmt.Errorf("failed to touch board: %w", err)
	}
	return nil
}

// BoardTitle returns the title of a board.
func (s *DataService) BoardTitle(ctx context.Context, boardID string) (string, error) {
	var title string
	err := s.db.QueryRowContext(ctx, `SELECT title FROM boards WHERE id = ?`, boardID).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("board %s: %w", boardID, kanban.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query board: %w", err)
	}
	return title, nil
}
