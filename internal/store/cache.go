// Package store provides a SQLite-backed cache of per-session metadata so
// discovery can skip re-parsing transcripts that have not changed.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"agentwatch/internal/event"

	_ "modernc.org/sqlite" // register sqlite driver
)

// Cache provides SQLite-backed session caching. It is a read-mostly store
// that other engine instances may read concurrently; every write is an
// INSERT OR REPLACE so a corrupt entry heals on the next parse.
type Cache struct {
	db *sql.DB
}

// Open opens or creates the cache database at the given path.
func Open(dbPath string) (*Cache, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Cache{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if version != 0 && version != schemaVersion {
		// Stale schema: everything is rebuildable, so start over.
		if _, err := db.Exec("DROP TABLE IF EXISTS sessions; DROP TABLE IF EXISTS file_tracker"); err != nil {
			return fmt.Errorf("dropping stale schema: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("setting schema version: %w", err)
	}
	return nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// FileInfo holds the tracked mtime and size for a file. A cached record is
// valid only while both match the file on disk.
type FileInfo struct {
	MtimeNs   int64
	SizeBytes int64
}

// GetTrackedFiles returns a map of file_path -> FileInfo for all tracked
// files.
func (c *Cache) GetTrackedFiles() (map[string]FileInfo, error) {
	rows, err := c.db.Query("SELECT file_path, mtime_ns, size_bytes FROM file_tracker")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]FileInfo)
	for rows.Next() {
		var path string
		var fi FileInfo
		if err := rows.Scan(&path, &fi.MtimeNs, &fi.SizeBytes); err != nil {
			return nil, err
		}
		result[path] = fi
	}
	return result, rows.Err()
}

// SaveSession stores a session record and its file tracking info.
func (c *Cache) SaveSession(s event.Session, mtimeNs, sizeBytes int64) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)

	hasCompletion := 0
	if s.HasCompletion {
		hasCompletion = 1
	}

	_, err = tx.Exec(`INSERT OR REPLACE INTO sessions
		(session_id, source, project, project_path, file_path, agent_depth,
		 parent_session, created_at, last_modified, status, status_reason,
		 event_count, last_action, has_completion, file_mtime_ns, file_size, parsed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.Source), s.Project, s.ProjectPath, s.FilePath, s.AgentDepth,
		s.ParentSession, timeStr(s.CreatedAt), timeStr(s.LastModified),
		string(s.Status), s.StatusReason,
		s.EventCount, s.LastAction, hasCompletion, mtimeNs, sizeBytes, now,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`INSERT OR REPLACE INTO file_tracker (file_path, mtime_ns, size_bytes)
		VALUES (?, ?, ?)`, s.FilePath, mtimeNs, sizeBytes)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetSession reads one cached session by id.
func (c *Cache) GetSession(sessionID string) (event.Session, bool, error) {
	row := c.db.QueryRow(sessionSelect+" WHERE session_id = ?", sessionID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return event.Session{}, false, nil
	}
	if err != nil {
		return event.Session{}, false, err
	}
	return s, true, nil
}

// LoadAllSessions reads all cached sessions.
func (c *Cache) LoadAllSessions() ([]event.Session, error) {
	rows, err := c.db.Query(sessionSelect)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []event.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session record.
func (c *Cache) DeleteSession(sessionID string) error {
	_, err := c.db.Exec("DELETE FROM sessions WHERE session_id = ?", sessionID)
	return err
}

// DeleteFileTracker removes a file tracking entry.
func (c *Cache) DeleteFileTracker(filePath string) error {
	_, err := c.db.Exec("DELETE FROM file_tracker WHERE file_path = ?", filePath)
	return err
}

// SessionCount returns the number of cached sessions.
func (c *Cache) SessionCount() (int, error) {
	var count int
	err := c.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count)
	return count, err
}

const sessionSelect = `SELECT
	session_id, source, project, project_path, file_path, agent_depth,
	parent_session, created_at, last_modified, status, status_reason,
	event_count, last_action, has_completion, file_size
	FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (event.Session, error) {
	var s event.Session
	var source, status string
	var project, projectPath, parentSession, createdAt, lastModified, statusReason, lastAction sql.NullString
	var hasCompletion int

	err := row.Scan(
		&s.ID, &source, &project, &projectPath, &s.FilePath, &s.AgentDepth,
		&parentSession, &createdAt, &lastModified, &status, &statusReason,
		&s.EventCount, &lastAction, &hasCompletion, &s.FileSize,
	)
	if err != nil {
		return s, err
	}

	s.Source = event.Source(source)
	s.Status = event.Status(status)
	s.Project = project.String
	s.ProjectPath = projectPath.String
	s.ParentSession = parentSession.String
	s.StatusReason = statusReason.String
	s.LastAction = lastAction.String
	s.HasCompletion = hasCompletion != 0
	s.CreatedAt = parseTime(createdAt.String)
	s.LastModified = parseTime(lastModified.String)
	return s, nil
}

func timeStr(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
