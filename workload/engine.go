package workload

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/kanban"
)

// historyWindow is how far back BoardAnalytics reaches for stored reports.
const historyWindow = 30 * day

// Store is the read/write surface the engine needs from persistence.
type Store interface {
	GetBoard(ctx context.Context, boardID string) (*kanban.Board, error)
	UserAssignments(ctx context.Context, userID, boardID string) ([]kanban.Assignment, error)
	CreateBoardReport(ctx context.Context, report *kanban.BoardReport) error
	ListBoardReports(ctx context.Context, boardID string, since time.Time) ([]kanban.BoardReport, error)
}

// Engine computes workload and board metrics on demand. It keeps no state
// between calls.
type Engine struct {
	store Store
	log   logrus.FieldLogger
	now   func() time.Time
	loc   *time.Location
}

func NewEngine(store Store, log logrus.FieldLogger) *Engine {
	return &Engine{
		store: store,
		log:   log,
		now:   time.Now,
		loc:   time.Local,
	}
}

// CalculateUserWorkload never fails for an unknown user or board; both yield a
// zero snapshot.
func (e *Engine) CalculateUserWorkload(ctx context.Context, userID, boardID string) (WorkloadSnapshot, error) {
	assignments, err := e.store.UserAssignments(ctx, userID, boardID)
	if err != nil {
		return WorkloadSnapshot{}, fmt.Errorf("load assignments for %s: %w", userID, err)
	}
	return UserWorkload(userID, assignments, e.now()), nil
}

// CalculateBoardMetrics returns kanban.ErrNotFound when the board does not exist.
func (e *Engine) CalculateBoardMetrics(ctx context.Context, boardID string) (BoardMetrics, error) {
	board, err := e.store.GetBoard(ctx, boardID)
	if err != nil {
		return BoardMetrics{}, fmt.Errorf("load board %s: %w", boardID, err)
	}
	return BoardMetricsFor(board, e.now(), e.loc), nil
}

// GenerateBoardReport computes metrics and appends them as a new report row.
func (e *Engine) GenerateBoardReport(ctx context.Context, boardID string) (kanban.BoardReport, error) {
	board, err := e.store.GetBoard(ctx, boardID)
	if err != nil {
		return kanban.BoardReport{}, fmt.Errorf("load board %s: %w", boardID, err)
	}
	now := e.now()
	report := Report(boardID, BoardMetricsFor(board, now, e.loc), now)
	if err := e.store.CreateBoardReport(ctx, &report); err != nil {
		return kanban.BoardReport{}, fmt.Errorf("store report for %s: %w", boardID, err)
	}
	e.log.WithFields(logrus.Fields{
		"board_id":    boardID,
		"report_id":   report.ID,
		"total_cards": report.TotalCards,
	}).Debug("board report generated")
	return report, nil
}

// Analytics is everything the board dashboard shows.
type Analytics struct {
	BoardMetrics      BoardMetrics         `json:"boardMetrics"`
	Workloads         []WorkloadSnapshot   `json:"workloads"`
	HistoricalReports []kanban.BoardReport `json:"historicalReports"`
}

// BoardAnalytics computes metrics, one workload per distinct member and the
// reports of the last 30 days. Members without a named assignment keep the
// name from the roster.
func (e *Engine) BoardAnalytics(ctx context.Context, boardID string, members []kanban.Member) (Analytics, error) {
	metrics, err := e.CalculateBoardMetrics(ctx, boardID)
	if err != nil {
		return Analytics{}, err
	}

	out := Analytics{BoardMetrics: metrics, Workloads: []WorkloadSnapshot{}}
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, dup := seen[m.UserID]; dup {
			continue
		}
		seen[m.UserID] = struct{}{}
		snap, err := e.CalculateUserWorkload(ctx, m.UserID, boardID)
		if err != nil {
			return Analytics{}, err
		}
		if snap.UserName == UnknownUserName && m.UserName != "" {
			snap.UserName = m.UserName
		}
		out.Workloads = append(out.Workloads, snap)
	}

	reports, err := e.store.ListBoardReports(ctx, boardID, e.now().Add(-historyWindow))
	if err != nil {
		return Analytics{}, fmt.Errorf("load reports for %s: %w", boardID, err)
	}
	out.HistoricalReports = reports
	if out.HistoricalReports == nil {
		out.HistoricalReports = []kanban.BoardReport{}
	}
	return out, nil
}
