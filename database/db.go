package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS board_members (
		board_id TEXT NOT NULL REFERENCES boards(id),
		user_id TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		PRIMARY KEY (board_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS lists (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id),
		title TEXT NOT NULL,
		ord INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS lists_board_idx ON lists (board_id, ord)`,
	`CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		list_id TEXT NOT NULL REFERENCES lists(id),
		ord INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT 'MEDIUM',
		due_date TIMESTAMP NULL,
		completed_at TIMESTAMP NULL,
		estimated_hours REAL NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS cards_list_idx ON cards (list_id, ord)`,
	`CREATE TABLE IF NOT EXISTS card_assignees (
		card_id TEXT NOT NULL REFERENCES cards(id),
		user_id TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (card_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS card_assignees_user_idx ON card_assignees (user_id)`,
	`CREATE TABLE IF NOT EXISTS board_reports (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id),
		report_date TIMESTAMP NOT NULL,
		total_lists INTEGER NOT NULL,
		total_cards INTEGER NOT NULL,
		completed_cards INTEGER NOT NULL,
		in_progress_cards INTEGER NOT NULL,
		overdue_cards INTEGER NOT NULL,
		cards_created_today INTEGER NOT NULL,
		cards_completed_today INTEGER NOT NULL,
		active_members INTEGER NOT NULL,
		average_card_age REAL NOT NULL,
		velocity_score INTEGER NOT NULL,
		metrics TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS board_reports_date_idx ON board_reports (board_id, report_date)`,
	`CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS activities_board_idx ON activities (board_id, created_at)`,
}

// InitDB opens the sqlite database at path and creates any missing tables.
func InitDB(path string, log logrus.FieldLogger) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	log.WithField("path", path).Info("Database initialized successfully")
	return db, nil
}

// DataService handles database operations for boards, lists and cards.
type DataService struct {
	db  *sql.DB
	now func() time.Time
}

func NewDataService(db *sql.DB) *DataService {
	return &DataService{db: db, now: time.Now}
}

// Ping checks that the database is reachable.
func (s *DataService) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// timestamps are stored in UTC so string comparison in sqlite orders them
func (s *DataService) stamp() time.Time {
	return s.now().UTC()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

// inTx runs fn inside a transaction, committing only when fn succeeds.
func (s *DataService) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
