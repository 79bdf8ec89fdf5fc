package store

// schemaVersion bumps whenever the cached record shape changes; a version
// mismatch drops and recreates the tables rather than attempting migration,
// since every record can be rebuilt from the transcripts.
const schemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id           TEXT PRIMARY KEY,
    source               TEXT NOT NULL,
    project              TEXT,
    project_path         TEXT,
    file_path            TEXT NOT NULL,
    agent_depth          INTEGER NOT NULL DEFAULT 0,
    parent_session       TEXT,
    created_at           TEXT,
    last_modified        TEXT,
    status               TEXT,
    status_reason        TEXT,
    event_count          INTEGER,
    last_action          TEXT,
    has_completion       INTEGER NOT NULL DEFAULT 0,
    file_mtime_ns        INTEGER NOT NULL,
    file_size            INTEGER NOT NULL,
    parsed_at            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_tracker (
    file_path            TEXT PRIMARY KEY,
    mtime_ns             INTEGER NOT NULL,
    size_bytes           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_source ON sessions(source);
CREATE INDEX IF NOT EXISTS idx_sessions_modified ON sessions(last_modified);
`
