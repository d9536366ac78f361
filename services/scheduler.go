package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/kanban"
)

// ReportGenerator snapshots one board's metrics.
type ReportGenerator interface {
	GenerateBoardReport(ctx context.Context, boardID string) (kanban.BoardReport, error)
}

// BoardLister enumerates every board.
type BoardLister interface {
	ListBoardIDs(ctx context.Context) ([]string, error)
}

// ReportScheduler takes a report of every board on a fixed interval.
type ReportScheduler struct {
	boards    BoardLister
	generator ReportGenerator
	interval  time.Duration
	log       logrus.FieldLogger
}

func NewReportScheduler(boards BoardLister, generator ReportGenerator, interval time.Duration, log logrus.FieldLogger) *ReportScheduler {
	return &ReportScheduler{
		boards:    boards,
		generator: generator,
		interval:  interval,
		log:       log.WithField("component", "report_scheduler"),
	}
}

// Run generates reports every interval until ctx is cancelled. A zero
// interval disables the scheduler.
func (s *ReportScheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("Report scheduler disabled")
		return
	}

	s.log.WithField("interval", s.interval.String()).Info("Starting report scheduler")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.WithError(err).Error("Report run failed")
			}
		case <-ctx.Done():
			s.log.Info("Report scheduler stopped")
			return
		}
	}
}

// RunOnce reports on every board and returns how many reports were written.
// A failing board is logged and skipped.
func (s *ReportScheduler) RunOnce(ctx context.Context) (int, error) {
	ids, err := s.boards.ListBoardIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list boards: %w", err)
	}

	written := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		if _, err := s.generator.GenerateBoardReport(ctx, id); err != nil {
			s.log.WithError(err).WithField("board_id", id).Warn("Failed to generate report")
			continue
		}
		written++
	}
	s.log.WithFields(logrus.Fields{"boards": len(ids), "reports": written}).Info("Generated board reports")
	return written, nil
}
