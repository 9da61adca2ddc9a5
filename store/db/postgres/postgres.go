package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	// Import the Postgres driver.
	_ "github.com/lib/pq"

	"github.com/datasage-io/datasage/internal/profile"
	"github.com/datasage-io/datasage/store"
)

// DB is the PostgreSQL store driver. Similarity search runs in the
// database through the pgvector extension's cosine-distance operator.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a connection pool against the profile's DSN.
func NewDB(p *profile.Profile) (store.Driver, error) {
	if p.DSN == "" {
		return nil, errors.New("dsn required")
	}

	pgDB, err := sql.Open("postgres", p.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", p.DSN)
	}

	pgDB.SetMaxOpenConns(25)
	pgDB.SetMaxIdleConns(5)

	return &DB{db: pgDB, profile: p}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// placeholder returns the n-th positional parameter, e.g. $1.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}

const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS session (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	agent_name TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	created_ts BIGINT NOT NULL,
	expires_ts BIGINT NOT NULL DEFAULT 0,
	metadata JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS conversation_message (
	id BIGSERIAL PRIMARY KEY,
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
	id BIGSERIAL PRIMARY KEY,
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
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	source_text TEXT NOT NULL DEFAULT '',
	embedding vector(%d) NOT NULL,
	similarity_threshold REAL NOT NULL DEFAULT 0.8,
	created_ts BIGINT NOT NULL,
	expires_ts BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memory_embedding_session ON memory_embedding (session_id, kind);

CREATE TABLE IF NOT EXISTS vector_record (
	id BIGSERIAL PRIMARY KEY,
	chunk_id TEXT NOT NULL UNIQUE,
	source_id TEXT NOT NULL,
	span_start INTEGER NOT NULL,
	span_end INTEGER NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	embedding vector(%d) NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	version INTEGER NOT NULL DEFAULT 1,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vector_record_source ON vector_record (source_id);
`

// Migrate applies the latest schema. The vector column width is fixed to
// the deployment's embedding dimension.
func (d *DB) Migrate(ctx context.Context) error {
	dim := d.profile.EmbeddingDimensions
	schema := fmt.Sprintf(schemaTemplate, dim, dim)
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}
