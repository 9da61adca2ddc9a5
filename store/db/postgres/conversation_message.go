package postgres

import (
	"context"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/datasage-io/datasage/store"
)

const appendRetries = 5

// uniqueViolation is the Postgres error code for unique constraint hits.
const uniqueViolation = "23505"

// AppendConversationMessage inserts a message with the next turn number
// for its session. Concurrent appenders racing to the same turn trip the
// UNIQUE (session_id, turn) constraint; the loser retries, keeping turn
// numbers gapless and strictly increasing.
func (d *DB) AppendConversationMessage(ctx context.Context, create *store.ConversationMessage) (*store.ConversationMessage, error) {
	stmt := `INSERT INTO conversation_message (session_id, turn, type, content, confidence, processing_time_ms, created_ts)
		VALUES ($1, (SELECT COALESCE(MAX(turn), 0) + 1 FROM conversation_message WHERE session_id = $1), $2, $3, $4, $5, $6)
		RETURNING id, turn`

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err := d.db.QueryRowContext(ctx, stmt,
			create.SessionID,
			create.Type,
			create.Content,
			create.Confidence,
			create.ProcessingTimeMs,
			create.CreatedTs,
		).Scan(&create.ID, &create.Turn)
		if err == nil {
			return create, nil
		}
		var pqErr *pq.Error
		if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolation {
			return nil, errors.Wrap(err, "failed to append conversation message")
		}
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, "failed to append conversation message after retries")
}

func (d *DB) ListConversationMessages(ctx context.Context, find *store.FindConversationMessages) ([]*store.ConversationMessage, error) {
	where, args := []string{"session_id = $1"}, []any{find.SessionID}
	if find.CreatedAfter > 0 {
		where = append(where, "created_ts >= "+placeholder(len(args)+1))
		args = append(args, find.CreatedAfter)
	}

	limit := find.Limit
	if limit <= 0 {
		limit = store.DefaultRecentTurns
	}
	args = append(args, limit)

	query := `SELECT id, session_id, turn, type, content, confidence, processing_time_ms, created_ts
		FROM (
			SELECT id, session_id, turn, type, content, confidence, processing_time_ms, created_ts
			FROM conversation_message
			WHERE ` + strings.Join(where, " AND ") + `
			ORDER BY turn DESC
			LIMIT ` + placeholder(len(args)) + `
		) recent ORDER BY turn ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversation messages")
	}
	defer rows.Close()

	list := []*store.ConversationMessage{}
	for rows.Next() {
		var message store.ConversationMessage
		if err := rows.Scan(
			&message.ID,
			&message.SessionID,
			&message.Turn,
			&message.Type,
			&message.Content,
			&message.Confidence,
			&message.ProcessingTimeMs,
			&message.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation message")
		}
		list = append(list, &message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
