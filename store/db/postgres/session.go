package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/datasage-io/datasage/store"
)

func (d *DB) CreateSession(ctx context.Context, create *store.Session) (*store.Session, error) {
	metadata, err := json.Marshal(create.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal session metadata")
	}

	stmt := `INSERT INTO session (id, user_id, agent_name, type, status, created_ts, expires_ts, metadata)
		VALUES (` + placeholders(8) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.UserID,
		create.AgentName,
		create.Type,
		create.Status,
		create.CreatedTs,
		create.ExpiresTs,
		string(metadata),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}
	return create, nil
}

func (d *DB) GetSession(ctx context.Context, id string) (*store.Session, error) {
	stmt := `SELECT id, user_id, agent_name, type, status, created_ts, expires_ts, metadata
		FROM session WHERE id = ` + placeholder(1)

	var session store.Session
	var metadata string
	err := d.db.QueryRowContext(ctx, stmt, id).Scan(
		&session.ID,
		&session.UserID,
		&session.AgentName,
		&session.Type,
		&session.Status,
		&session.CreatedTs,
		&session.ExpiresTs,
		&metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get session")
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &session.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal session metadata")
		}
	}
	return &session, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	if update.Status != nil {
		stmt := `UPDATE session SET status = $1 WHERE id = $2`
		result, err := d.db.ExecContext(ctx, stmt, *update.Status, update.ID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to update session")
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return nil, store.ErrSessionNotFound
		}
	}
	return d.GetSession(ctx, update.ID)
}

// DeleteExpiredSessions removes sessions past their TTL together with
// their owned messages, context entries, and cached embeddings.
func (d *DB) DeleteExpiredSessions(ctx context.Context, nowTs int64) (*store.CleanupCounts, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin cleanup tx")
	}
	defer func() { _ = tx.Rollback() }()

	counts := &store.CleanupCounts{}
	expired := `SELECT id FROM session WHERE expires_ts > 0 AND expires_ts <= $1`

	cascades := []struct {
		stmt  string
		count *int
	}{
		{`DELETE FROM conversation_message WHERE session_id IN (` + expired + `)`, &counts.Messages},
		{`DELETE FROM context_entry WHERE session_id IN (` + expired + `)`, &counts.ContextEntries},
		{`DELETE FROM memory_embedding WHERE session_id IN (` + expired + `)`, &counts.Embeddings},
		{`DELETE FROM session WHERE expires_ts > 0 AND expires_ts <= $1`, &counts.Sessions},
	}
	for _, c := range cascades {
		result, err := tx.ExecContext(ctx, c.stmt, nowTs)
		if err != nil {
			return nil, errors.Wrap(err, "failed to delete expired rows")
		}
		n, _ := result.RowsAffected()
		*c.count = int(n)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit cleanup tx")
	}
	return counts, nil
}
