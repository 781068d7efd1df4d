// Package storage keeps the archive ledger: one row per archive run and one
// row per file placed in a verified container, so an interrupted delete step
// can be finished safely on the next run.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olegiv/evtx-archiver/internal/logging"
	_ "modernc.org/sqlite"
)

// Storage handles database operations
type Storage struct {
	db  *sql.DB
	log *logging.SecureLogger
}

// RunStatus is the last state an archive run reached.
type RunStatus string

// Run statuses.
const (
	RunStatusBuilding  RunStatus = "building"
	RunStatusEmpty     RunStatus = "empty"
	RunStatusAborted   RunStatus = "aborted"
	RunStatusFailed    RunStatus = "failed"
	RunStatusVerified  RunStatus = "verified"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
)

// FileStatus tracks an archived source file through deletion.
type FileStatus string

// File statuses.
const (
	// FileStatusPending: in a verified container, original not yet removed.
	FileStatusPending FileStatus = "pending"
	FileStatusDeleted FileStatus = "deleted"
	// FileStatusStale: the original changed after archiving and was kept.
	FileStatusStale FileStatus = "stale"
)

// Run is one archive invocation.
type Run struct {
	ID             int64
	StartedAt      time.Time
	FinishedAt     time.Time
	InputDir       string
	OutputDir      string
	ArchivePath    string
	Status         RunStatus
	Candidates     int
	Missing        int
	Deleted        int
	DeleteFailures int
	MissingNames   []string
	Error          string
}

// ArchivedFile is one source file stored in a run's container.
type ArchivedFile struct {
	ID         int64
	RunID      int64
	SourcePath string
	EntryName  string
	Size       int64
	ModTime    time.Time
	Status     FileStatus
}

// PendingFile is an archived file whose original still has to be deleted,
// together with the container that holds it.
type PendingFile struct {
	ArchivedFile
	ArchivePath string
}

// Database configuration constants
const (
	// busyTimeoutMs is how long SQLite waits when database is locked (5 seconds)
	busyTimeoutMs = 5000
	// maxOpenConns limits concurrent connections (SQLite works best with 1)
	maxOpenConns = 1
	// maxIdleConns is the number of idle connections to keep
	maxIdleConns = 1
	// connMaxLifetime is how long a connection can be reused
	connMaxLifetime = 30 * time.Minute
)

// New opens (and if needed creates) the ledger at dbPath.
func New(dbPath string, log *logging.SecureLogger) (*Storage, error) {
	if log == nil {
		log = logging.Nop()
	}

	// Owner only
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=%d", dbPath, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storage := &Storage{db: db, log: log}

	if err := storage.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// currentSchemaVersion is the latest schema version.
// Increment this when adding new migrations.
const currentSchemaVersion = 2

// initSchema creates the database schema if it doesn't exist
func (s *Storage) initSchema() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	if err := s.migrateSchema(s.getSchemaVersion()); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// getSchemaVersion returns the current schema version (0 if not set)
func (s *Storage) getSchemaVersion() int {
	var version int
	if err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		return 0
	}
	return version
}

func (s *Storage) setSchemaVersion(version int) error {
	if _, err := s.db.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version)
	return err
}

// migrateSchema runs migrations from currentVersion to latest
func (s *Storage) migrateSchema(currentVersion int) error {
	if currentVersion >= currentSchemaVersion {
		return nil
	}

	s.log.Debug().
		Int("from", currentVersion).
		Int("to", currentSchemaVersion).
		Msg("Migrating ledger schema")

	if currentVersion < 1 {
		if err := s.migrateV1(); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	}

	if currentVersion < 2 {
		if err := s.migrateV2(); err != nil {
			return fmt.Errorf("migration v2 failed: %w", err)
		}
	}

	if err := s.setSchemaVersion(currentSchemaVersion); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return nil
}

// migrateV1 creates the runs table.
func (s *Storage) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL DEFAULT '',
		input_dir TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		archive_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		candidates INTEGER DEFAULT 0,
		missing INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		delete_failures INTEGER DEFAULT 0,
		missing_names TEXT NOT NULL DEFAULT '[]',
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_input_dir ON runs(input_dir);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrateV2 creates the per-file table used to resume deletion.
func (s *Storage) migrateV2() error {
	schema := `
	CREATE TABLE IF NOT EXISTS archived_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		source_path TEXT NOT NULL,
		entry_name TEXT NOT NULL,
		size INTEGER NOT NULL,
		mod_time TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_archived_files_status ON archived_files(status);
	CREATE INDEX IF NOT EXISTS idx_archived_files_run ON archived_files(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts a run and sets its ID.
func (s *Storage) SaveRun(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	missingJSON, err := json.Marshal(nonNil(run.MissingNames))
	if err != nil {
		return fmt.Errorf("failed to marshal missing names: %w", err)
	}

	result, err := s.db.Exec(`
		INSERT INTO runs (
			started_at, finished_at, input_dir, output_dir, archive_path, status,
			candidates, missing, deleted, delete_failures, missing_names, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.InputDir,
		run.OutputDir,
		run.ArchivePath,
		string(run.Status),
		run.Candidates,
		run.Missing,
		run.Deleted,
		run.DeleteFailures,
		string(missingJSON),
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateRun stores the current state of a saved run.
func (s *Storage) UpdateRun(run *Run) error {
	if run.ID == 0 {
		return fmt.Errorf("failed to update run: run has not been saved")
	}

	missingJSON, err := json.Marshal(nonNil(run.MissingNames))
	if err != nil {
		return fmt.Errorf("failed to marshal missing names: %w", err)
	}

	result, err := s.db.Exec(`
		UPDATE runs SET
			finished_at = ?, archive_path = ?, status = ?, candidates = ?,
			missing = ?, deleted = ?, delete_failures = ?, missing_names = ?, error = ?
		WHERE id = ?
	`,
		formatTime(run.FinishedAt),
		run.ArchivePath,
		string(run.Status),
		run.Candidates,
		run.Missing,
		run.Deleted,
		run.DeleteFailures,
		string(missingJSON),
		run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run %d: %w", run.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update run %d: not found", run.ID)
	}
	return nil
}

// RecordArchivedFiles stores the files of a verified container as pending,
// all or nothing, and sets their IDs.
func (s *Storage) RecordArchivedFiles(runID int64, files []*ArchivedFile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO archived_files (run_id, source_path, entry_name, size, mod_time, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := formatTime(time.Now())
	for _, f := range files {
		status := f.Status
		if status == "" {
			status = FileStatusPending
		}
		result, err := stmt.Exec(runID, f.SourcePath, f.EntryName, f.Size,
			f.ModTime.UTC().Format(time.RFC3339Nano), string(status), now)
		if err != nil {
			return fmt.Errorf("failed to insert archived file %s: %w", f.SourcePath, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		f.ID = id
		f.RunID = runID
		f.Status = status
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archived files: %w", err)
	}
	return nil
}

// MarkFile sets the status of an archived file.
func (s *Storage) MarkFile(id int64, status FileStatus) error {
	result, err := s.db.Exec(`UPDATE archived_files SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark archived file %d: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to mark archived file %d: not found", id)
	}
	return nil
}

// PendingFiles returns files archived from inputDir whose originals have not
// been deleted yet, oldest run first.
func (s *Storage) PendingFiles(inputDir string) ([]*PendingFile, error) {
	rows, err := s.db.Query(`
		SELECT f.id, f.run_id, f.source_path, f.entry_name, f.size, f.mod_time, f.status, r.archive_path
		FROM archived_files f
		JOIN runs r ON r.id = f.run_id
		WHERE f.status = ? AND r.input_dir = ?
		ORDER BY f.run_id, f.id
	`, string(FileStatusPending), inputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending files: %w", err)
	}
	defer s.closeRows(rows)

	var pending []*PendingFile
	for rows.Next() {
		var (
			p       PendingFile
			modTime string
			status  string
		)
		if err := rows.Scan(&p.ID, &p.RunID, &p.SourcePath, &p.EntryName, &p.Size,
			&modTime, &status, &p.ArchivePath); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		p.ModTime, err = time.Parse(time.RFC3339Nano, modTime)
		if err != nil {
			return nil, fmt.Errorf("failed to parse mod_time: %w", err)
		}
		p.Status = FileStatus(status)
		pending = append(pending, &p)
	}
	return pending, rows.Err()
}

// GetRecentRuns retrieves runs started in the last N days, newest first.
func (s *Storage) GetRecentRuns(days int) ([]*Run, error) {
	cutoff := formatTime(time.Now().AddDate(0, 0, -days))

	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, input_dir, output_dir, archive_path, status,
		       candidates, missing, deleted, delete_failures, missing_names, error
		FROM runs
		WHERE started_at >= ?
		ORDER BY started_at DESC, id DESC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer s.closeRows(rows)

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CleanupOldRuns deletes runs older than N days together with their file
// rows. Runs that still have pending files are kept.
func (s *Storage) CleanupOldRuns(days int) (int64, error) {
	cutoff := formatTime(time.Now().AddDate(0, 0, -days))

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const oldRuns = `
		SELECT id FROM runs
		WHERE started_at < ?
		AND NOT EXISTS (
			SELECT 1 FROM archived_files f WHERE f.run_id = runs.id AND f.status = ?
		)`

	if _, err := tx.Exec(`DELETE FROM archived_files WHERE run_id IN (`+oldRuns+`)`,
		cutoff, string(FileStatusPending)); err != nil {
		return 0, fmt.Errorf("failed to cleanup archived files: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM runs WHERE id IN (`+oldRuns+`)`,
		cutoff, string(FileStatusPending))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old runs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return affected, nil
}

// GetStatistics returns ledger totals.
func (s *Storage) GetStatistics() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, err
	}
	stats["total_runs"] = total

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows)

	statusDist := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		statusDist[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats["status_distribution"] = statusDist

	fileCounts := make(map[string]int)
	for _, status := range []FileStatus{FileStatusPending, FileStatusDeleted, FileStatusStale} {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM archived_files WHERE status = ?`,
			string(status)).Scan(&count); err != nil {
			return nil, err
		}
		fileCounts[string(status)] = count
	}
	stats["files"] = fileCounts

	var archivedBytes int64
	if err := s.db.QueryRow(`SELECT COALESCE(SUM(size), 0) FROM archived_files`).Scan(&archivedBytes); err != nil {
		return nil, err
	}
	stats["archived_bytes"] = archivedBytes

	return stats, nil
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var (
		run                   Run
		startedAt, finishedAt string
		status, missingJSON   string
	)
	err := rows.Scan(
		&run.ID, &startedAt, &finishedAt, &run.InputDir, &run.OutputDir, &run.ArchivePath, &status,
		&run.Candidates, &run.Missing, &run.Deleted, &run.DeleteFailures, &missingJSON, &run.Error,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if run.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(missingJSON), &run.MissingNames); err != nil {
		return nil, fmt.Errorf("failed to unmarshal missing names: %w", err)
	}
	run.Status = RunStatus(status)
	return &run, nil
}

func (s *Storage) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close database rows")
	}
}

// Timestamps are stored as UTC RFC 3339 so lexical order is time order.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
