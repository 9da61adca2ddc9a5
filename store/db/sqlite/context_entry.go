package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/datasage-io/datasage/store"
)

func (d *DB) UpsertContextEntry(ctx context.Context, upsert *store.ContextEntry) (*store.ContextEntry, error) {
	stmt := `INSERT INTO context_entry (session_id, type, key, value, priority, access_count, expires_ts, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT (session_id, type, key) DO UPDATE SET
			value = excluded.value,
			priority = excluded.priority,
			expires_ts = excluded.expires_ts,
			updated_ts = excluded.updated_ts
		RETURNING id, access_count, created_ts, updated_ts`

	err := d.db.QueryRowContext(ctx, stmt,
		upsert.SessionID,
		upsert.Type,
		upsert.Key,
		upsert.Value,
		upsert.Priority,
		upsert.ExpiresTs,
		upsert.CreatedTs,
		upsert.UpdatedTs,
	).Scan(&upsert.ID, &upsert.AccessCount, &upsert.CreatedTs, &upsert.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert context entry")
	}
	return upsert, nil
}

// GetContextEntry returns a context entry and bumps its access count.
// A missing entry returns nil without error.
func (d *DB) GetContextEntry(ctx context.Context, sessionID string, typ store.ContextType, key string) (*store.ContextEntry, error) {
	stmt := `UPDATE context_entry SET access_count = access_count + 1
		WHERE session_id = ? AND type = ? AND key = ?
		RETURNING id, session_id, type, key, value, priority, access_count, expires_ts, created_ts, updated_ts`

	var entry store.ContextEntry
	err := d.db.QueryRowContext(ctx, stmt, sessionID, typ, key).Scan(
		&entry.ID,
		&entry.SessionID,
		&entry.Type,
		&entry.Key,
		&entry.Value,
		&entry.Priority,
		&entry.AccessCount,
		&entry.ExpiresTs,
		&entry.CreatedTs,
		&entry.UpdatedTs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get context entry")
	}
	return &entry, nil
}

func (d *DB) ListContextEntries(ctx context.Context, find *store.FindContextEntries) ([]*store.ContextEntry, error) {
	where, args := []string{"session_id = ?"}, []any{find.SessionID}
	if find.Type != nil {
		where, args = append(where, "type = ?"), append(args, *find.Type)
	}
	if find.NotExpiredAt > 0 {
		where, args = append(where, "(expires_ts = 0 OR expires_ts > ?)"), append(args, find.NotExpiredAt)
	}

	query := `SELECT id, session_id, type, key, value, priority, access_count, expires_ts, created_ts, updated_ts
		FROM context_entry
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY priority DESC, updated_ts DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list context entries")
	}
	defer rows.Close()

	list := []*store.ContextEntry{}
	for rows.Next() {
		var entry store.ContextEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.SessionID,
			&entry.Type,
			&entry.Key,
			&entry.Value,
			&entry.Priority,
			&entry.AccessCount,
			&entry.ExpiresTs,
			&entry.CreatedTs,
			&entry.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan context entry")
		}
		list = append(list, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) DeleteExpiredContextEntries(ctx context.Context, nowTs int64) (int, error) {
	stmt := `DELETE FROM context_entry WHERE expires_ts > 0 AND expires_ts <= ?`
	result, err := d.db.ExecContext(ctx, stmt, nowTs)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired context entries")
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}
