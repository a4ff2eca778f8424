package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dueDateLayout is the storage format for due dates. Canvas due times are
// reduced to a date before they reach the store.
const dueDateLayout = "2006-01-02"

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init opens the database, enables WAL mode, and verifies connectivity.
// The parent directory is created if it does not exist.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// The engine is a single sequential writer; a small pool covers
	// concurrent status readers.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded migration files.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

const recordColumns = `course_id, assignment_id, task_id, last_seen_submission_state,
		last_seen_due_date, last_seen_title, last_synced_at, is_archived, created_at`

// Get performs a point lookup by identity.
func (s *SQLiteStore) Get(ctx context.Context, key Key) (*SyncRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM sync_records
		WHERE course_id = ? AND assignment_id = ?
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, key.CourseID, key.AssignmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync record %s: %w", key, err)
	}

	return rec, nil
}

// GetByTaskID resolves a record from its destination task id.
func (s *SQLiteStore) GetByTaskID(ctx context.Context, taskID string) (*SyncRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM sync_records
		WHERE task_id = ?
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync record by task id: %w", err)
	}

	return rec, nil
}

// Upsert atomically writes the full record, last-write-wins on the key.
func (s *SQLiteStore) Upsert(ctx context.Context, rec *SyncRecord) error {
	query := `
		INSERT INTO sync_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (course_id, assignment_id) DO UPDATE SET
			task_id = excluded.task_id,
			last_seen_submission_state = excluded.last_seen_submission_state,
			last_seen_due_date = excluded.last_seen_due_date,
			last_seen_title = excluded.last_seen_title,
			last_synced_at = excluded.last_synced_at,
			is_archived = excluded.is_archived
	`

	var taskID *string
	if rec.TaskID != "" {
		taskID = &rec.TaskID
	}

	var dueDate *string
	if rec.LastSeenDueDate != nil {
		d := rec.LastSeenDueDate.UTC().Format(dueDateLayout)
		dueDate = &d
	}

	archived := 0
	if rec.IsArchived {
		archived = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.Key.CourseID,
		rec.Key.AssignmentID,
		taskID,
		rec.LastSeenSubmissionState,
		dueDate,
		rec.LastSeenTitle,
		rec.LastSyncedAt.UTC().Format(time.RFC3339Nano),
		archived,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync record %s: %w", rec.Key, err)
	}

	return nil
}

// ListActive returns all non-archived records ordered by key.
func (s *SQLiteStore) ListActive(ctx context.Context) ([]*SyncRecord, error) {
	return s.list(ctx, false)
}

// ListAll returns every record, archived included, ordered by key.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]*SyncRecord, error) {
	return s.list(ctx, true)
}

func (s *SQLiteStore) list(ctx context.Context, includeArchived bool) ([]*SyncRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM sync_records
	`
	if !includeArchived {
		query += ` WHERE is_archived = 0`
	}
	query += ` ORDER BY course_id, assignment_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync records: %w", err)
	}
	defer rows.Close()

	records := []*SyncRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync records: %w", err)
	}

	return records, nil
}

// SyncedKeys returns the identities with a destination task that are not
// archived.
func (s *SQLiteStore) SyncedKeys(ctx context.Context) (map[Key]struct{}, error) {
	query := `
		SELECT course_id, assignment_id
		FROM sync_records
		WHERE task_id IS NOT NULL AND is_archived = 0
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list synced keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[Key]struct{})
	for rows.Next() {
		var key Key
		if err := rows.Scan(&key.CourseID, &key.AssignmentID); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys[key] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}

	return keys, nil
}

// Counts aggregates record counts for status output.
func (s *SQLiteStore) Counts(ctx context.Context) (*Counts, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_archived = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_archived = 0 AND last_seen_submission_state = 'submitted' THEN 1 ELSE 0 END), 0)
		FROM sync_records
	`

	c := &Counts{}
	var submitted int
	if err := s.db.QueryRowContext(ctx, query).Scan(&c.Total, &c.Active, &submitted); err != nil {
		return nil, fmt.Errorf("failed to count sync records: %w", err)
	}

	c.Archived = c.Total - c.Active
	c.Submitted = submitted
	c.Pending = c.Active - submitted
	return c, nil
}

// Clear removes every record.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_records`); err != nil {
		return fmt.Errorf("failed to clear sync records: %w", err)
	}
	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*SyncRecord, error) {
	var (
		rec      SyncRecord
		taskID   sql.NullString
		dueDate  sql.NullString
		synced   string
		created  string
		archived int
	)

	err := row.Scan(
		&rec.Key.CourseID,
		&rec.Key.AssignmentID,
		&taskID,
		&rec.LastSeenSubmissionState,
		&dueDate,
		&rec.LastSeenTitle,
		&synced,
		&archived,
		&created,
	)
	if err != nil {
		return nil, err
	}

	if taskID.Valid {
		rec.TaskID = taskID.String
	}

	if dueDate.Valid {
		d, err := time.ParseInLocation(dueDateLayout, dueDate.String, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("invalid due date %q: %w", dueDate.String, err)
		}
		rec.LastSeenDueDate = &d
	}

	rec.LastSyncedAt, err = time.Parse(time.RFC3339Nano, synced)
	if err != nil {
		return nil, fmt.Errorf("invalid last_synced_at %q: %w", synced, err)
	}

	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", created, err)
	}

	rec.IsArchived = archived != 0

	return &rec, nil
}
