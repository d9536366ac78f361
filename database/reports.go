package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CrowderSoup/taskflow/kanban"
)

// reportExtras is stored in the metrics column.
type reportExtras struct {
	PriorityDistribution map[kanban.Priority]int `json:"priorityDistribution"`
	CompletionRate       float64                 `json:"completionRate"`
}

// CreateBoardReport inserts a new report row. Reports are never updated.
func (s *DataService) CreateBoardReport(ctx context.Context, r *kanban.BoardReport) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ReportDate.IsZero() {
		r.ReportDate = s.stamp()
	}
	extras, err := json.Marshal(reportExtras{
		PriorityDistribution: r.PriorityDistribution,
		CompletionRate:       r.CompletionRate,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal report metrics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO board_reports (
			id, board_id, report_date, total_lists, total_cards, completed_cards, in_progress_cards,
			overdue_cards, cards_created_today, cards_completed_today, active_members,
			average_card_age, velocity_score, metrics
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.BoardID, r.ReportDate.UTC(), r.TotalLists, r.TotalCards, r.CompletedCards, r.InProgressCards,
		r.OverdueCards, r.CardsCreatedToday, r.CardsCompletedToday, r.ActiveMembers,
		r.AverageCardAge, r.VelocityScore, string(extras))
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

// ListBoardReports returns the reports of a board dated at or after since,
// oldest first.
func (s *DataService) ListBoardReports(ctx context.Context, boardID string, since time.Time) ([]kanban.BoardReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, report_date, total_lists, total_cards, completed_cards, in_progress_cards,
			overdue_cards, cards_created_today, cards_completed_today, active_members,
			average_card_age, velocity_score, metrics
		FROM board_reports
		WHERE board_id = ? AND report_date >= ?
		ORDER BY report_date
	`, boardID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := []kanban.BoardReport{}
	for rows.Next() {
		var r kanban.BoardReport
		var metrics string
		if err := rows.Scan(&r.ID, &r.BoardID, &r.ReportDate, &r.TotalLists, &r.TotalCards, &r.CompletedCards,
			&r.InProgressCards, &r.OverdueCards, &r.CardsCreatedToday, &r.CardsCompletedToday,
			&r.ActiveMembers, &r.AverageCardAge, &r.VelocityScore, &metrics); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		var extras reportExtras
		if err := json.Unmarshal([]byte(metrics), &extras); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report metrics: %w", err)
		}
		r.PriorityDistribution = extras.PriorityDistribution
		r.CompletionRate = extras.CompletionRate
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// RecordActivity appends an entry to a board's activity log.
func (s *DataService) RecordActivity(ctx context.Context, a *kanban.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.stamp()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (id, board_id, action, entity_type, entity_id, user_id, user_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.BoardID, a.Action, a.EntityType, a.EntityID, a.UserID, a.UserName, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

// ListActivity returns the most recent activity of a board, newest first.
func (s *DataService) ListActivity(ctx context.Context, boardID string, limit int) ([]kanban.Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, action, entity_type, entity_id, user_id, user_name, created_at
		FROM activities WHERE board_id = ? ORDER BY created_at DESC LIMIT ?
	`, boardID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	out := []kanban.Activity{}
	for rows.Next() {
		var a kanban.Activity
		if err := rows.Scan(&a.ID, &a.BoardID, &a.Action, &a.EntityType, &a.EntityID, &a.UserID, &a.UserName, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
