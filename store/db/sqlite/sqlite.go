package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/datasage-io/datasage/internal/profile"
	"github.com/datasage-io/datasage/store"
)

// DB is the SQLite store driver. SQLite is intended for development and
// single-user deployments; similarity ranking happens in the application
// layer over float32 BLOB columns.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the database at the profile's DSN with WAL journaling and
// a single pooled connection, which is optimal for SQLite under WAL.
func NewDB(p *profile.Profile) (store.Driver, error) {
	if p.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// modernc.org/sqlite expects pragmas as _pragma= query parameters.
	sqliteDB, err := sql.Open("sqlite", p.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", p.DSN)
	}

	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB, profile: p}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const latestSchema = `
CREATE TABLE IF NOT EXISTS session (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	agent_name TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	created_ts BIGINT NOT NULL,
	expires_ts BIGINT NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS conversation_message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	turn INTEGER NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	confidence REAL,
	processing_time_ms BIGINT,
	created_ts BIGINT NOT NULL,
	UNIQUE (session_id, turn)
);
CREATE INDEX IF NOT EXISTS idx_message_session_created ON conversation_message (session_id, created_ts);

CREATE TABLE IF NOT EXISTS context_entry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	type TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL DEFAULT 0,
	access_count INTEGER NOT NULL DEFAULT 0,
	expires_ts BIGINT NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL,
	UNIQUE (session_id, type, key)
);

CREATE TABLE IF NOT EXISTS memory_embedding (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	source_text TEXT NOT NULL DEFAULT '',
	embedding BLOB NOT NULL,
	similarity_threshold REAL NOT NULL DEFAULT 0.8,
	created_ts BIGINT NOT NULL,
	expires_ts BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memory_embedding_session ON memory_embedding (session_id, kind);

CREATE TABLE IF NOT EXISTS vector_record (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chunk_id TEXT NOT NULL UNIQUE,
	source_id TEXT NOT NULL,
	span_start INTEGER NOT NULL,
	span_end INTEGER NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	embedding BLOB NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	version INTEGER NOT NULL DEFAULT 1,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vector_record_source ON vector_record (source_id);
`

// Migrate applies the latest schema. Statements are idempotent, so the
// call is safe on every startup.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, latestSchema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}
