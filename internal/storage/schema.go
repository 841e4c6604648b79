package storage

import "fmt"

const schemaRecordings = `
CREATE TABLE IF NOT EXISTS recordings (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	start_time INTEGER NOT NULL CHECK (start_time > 0),
	end_time INTEGER NOT NULL CHECK (end_time > 0),
	media_url TEXT NOT NULL,
	created_at INTEGER NOT NULL
);`

const schemaRecordingEntries = `
CREATE TABLE IF NOT EXISTS recording_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recording_id TEXT NOT NULL,
	at INTEGER NOT NULL,
	kind TEXT NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (recording_id) REFERENCES recordings(id) ON DELETE CASCADE
);`

const schemaRecordingIndexes = `
CREATE INDEX IF NOT EXISTS idx_recordings_start_time ON recordings(start_time DESC);
CREATE INDEX IF NOT EXISTS idx_recording_entries_at ON recording_entries(recording_id, at);`

const schemaAuthUsers = `
CREATE TABLE IF NOT EXISTS auth_users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_admin INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	last_login INTEGER
);`

const schemaAuthSessions = `
CREATE TABLE IF NOT EXISTS auth_sessions (
	token TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	username TEXT NOT NULL,
	is_admin INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	FOREIGN KEY (user_id) REFERENCES auth_users(id) ON DELETE CASCADE
);`

const schemaAuthIndexes = `
CREATE INDEX IF NOT EXISTS idx_auth_sessions_user_id ON auth_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_auth_sessions_expires_at ON auth_sessions(expires_at);`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY
);`

type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		statements: []string{
			schemaRecordings,
			schemaRecordingEntries,
			schemaRecordingIndexes,
		},
	},
	{
		version: 2,
		statements: []string{
			schemaAuthUsers,
			schemaAuthSessions,
			schemaAuthIndexes,
		},
	},
}

// SchemaVersion is the version MigrateSchema brings a database to.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// MigrateSchema applies every migration newer than the recorded version,
// each in its own transaction.
func (s *Store) MigrateSchema() error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	if _, err := s.db.Exec(schemaMigrations); err != nil {
		return fmt.Errorf("storage: create schema_migrations table: %w", err)
	}

	current, err := s.currentSchemaVersion()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) currentSchemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("storage: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) applyMigration(m migration) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: start migration %d: %w", m.version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, statement := range m.statements {
		if _, err = tx.Exec(statement); err != nil {
			return fmt.Errorf("storage: migration %d failed: %w", m.version, err)
		}
	}
	if _, err = tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
		return fmt.Errorf("storage: record migration %d: %w", m.version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit migration %d: %w", m.version, err)
	}
	return nil
}
