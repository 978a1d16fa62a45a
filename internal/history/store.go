// Package history records every render attempt in a SQLite database so flaky
// cases can be tracked across batches.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Attempt is one recorded render attempt.
type Attempt struct {
	ID        int64
	BatchID   string
	TestGroup string
	CaseName  string
	Attempt   int
	Status    string
	TimedOut  bool
	Duration  time.Duration
	StartedAt time.Time
	Message   string
}

// CaseStats aggregates a case's history.
type CaseStats struct {
	CaseName    string
	Attempts    int
	Successes   int
	Crashes     int
	Timeouts    int
	LastStatus  string
	LastBatchID string
	AvgDuration time.Duration
}

// Store manages the attempt history database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if needed) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	// busy_timeout first so the rest wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	version, err := store.LatestVersion()
	if err != nil {
		db.Close()
		return nil, err
	}
	if known := migrations[len(migrations)-1].Version; version > known {
		db.Close()
		return nil, fmt.Errorf("history database schema v%d is newer than supported v%d", version, known)
	}
	return store, nil
}

// execWithRetry retries a statement with exponential backoff while the
// database is locked.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.dbPath
}

// RecordAttempt inserts a and sets its ID.
func (s *Store) RecordAttempt(ctx context.Context, a *Attempt) error {
	query := `INSERT INTO attempts
		(batch_id, test_group, case_name, attempt, status, timed_out, duration_ms, started_at, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		a.BatchID,
		a.TestGroup,
		a.CaseName,
		a.Attempt,
		a.Status,
		a.TimedOut,
		a.Duration.Milliseconds(),
		a.StartedAt.UTC(),
		a.Message,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	a.ID = id
	return nil
}

// RecentAttempts returns up to limit attempts, newest first. An empty
// caseName matches every case.
func (s *Store) RecentAttempts(ctx context.Context, caseName string, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, batch_id, test_group, case_name, attempt, status, timed_out, duration_ms, started_at, message
		FROM attempts
		WHERE (? = '' OR case_name = ?)
		ORDER BY id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, caseName, caseName, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		a := &Attempt{}
		var durationMs int64
		var message sql.NullString
		if err := rows.Scan(&a.ID, &a.BatchID, &a.TestGroup, &a.CaseName, &a.Attempt,
			&a.Status, &a.TimedOut, &durationMs, &a.StartedAt, &message); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Duration = time.Duration(durationMs) * time.Millisecond
		a.Message = message.String
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

// Stats summarizes the recorded history of caseName. It returns nil when
// nothing has been recorded for the case.
func (s *Store) Stats(ctx context.Context, caseName string) (*CaseStats, error) {
	query := `SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'crash' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN timed_out THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM attempts WHERE case_name = ?`

	stats := &CaseStats{CaseName: caseName}
	var avgMs float64
	if err := s.db.QueryRowContext(ctx, query, caseName).Scan(
		&stats.Attempts, &stats.Successes, &stats.Crashes, &stats.Timeouts, &avgMs); err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	if stats.Attempts == 0 {
		return nil, nil
	}
	stats.AvgDuration = time.Duration(avgMs * float64(time.Millisecond))

	last := `SELECT status, batch_id FROM attempts WHERE case_name = ? ORDER BY id DESC LIMIT 1`
	if err := s.db.QueryRowContext(ctx, last, caseName).Scan(&stats.LastStatus, &stats.LastBatchID); err != nil {
		return nil, fmt.Errorf("query last attempt: %w", err)
	}
	return stats, nil
}
