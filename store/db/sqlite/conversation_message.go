package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/datasage-io/datasage/store"
)

// appendRetries bounds the optimistic retry loop for turn assignment.
const appendRetries = 5

// AppendConversationMessage inserts a message with the next turn number
// for its session. The turn is computed inside the INSERT, and the
// UNIQUE (session_id, turn) constraint catches the race when two callers
// compute the same turn; the loser retries with a fresh number, so turn
// numbers stay gapless and strictly increasing.
func (d *DB) AppendConversationMessage(ctx context.Context, create *store.ConversationMessage) (*store.ConversationMessage, error) {
	stmt := `INSERT INTO conversation_message (session_id, turn, type, content, confidence, processing_time_ms, created_ts)
		VALUES (?, (SELECT COALESCE(MAX(turn), 0) + 1 FROM conversation_message WHERE session_id = ?), ?, ?, ?, ?, ?)
		RETURNING id, turn`

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err := d.db.QueryRowContext(ctx, stmt,
			create.SessionID,
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
		if !strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, errors.Wrap(err, "failed to append conversation message")
		}
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, "failed to append conversation message after retries")
}

func (d *DB) ListConversationMessages(ctx context.Context, find *store.FindConversationMessages) ([]*store.ConversationMessage, error) {
	where, args := []string{"session_id = ?"}, []any{find.SessionID}
	if find.CreatedAfter > 0 {
		where, args = append(where, "created_ts >= ?"), append(args, find.CreatedAfter)
	}

	limit := find.Limit
	if limit <= 0 {
		limit = store.DefaultRecentTurns
	}

	// Select the most recent N turns, then return them oldest-first.
	query := `SELECT id, session_id, turn, type, content, confidence, processing_time_ms, created_ts
		FROM (
			SELECT id, session_id, turn, type, content, confidence, processing_time_ms, created_ts
			FROM conversation_message
			WHERE ` + strings.Join(where, " AND ") + `
			ORDER BY turn DESC
			LIMIT ?
		) ORDER BY turn ASC`
	args = append(args, limit)

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
