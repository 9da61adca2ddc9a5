package sqlite

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/datasage-io/datasage/store"
)

func (d *DB) SaveMemoryEmbedding(ctx context.Context, create *store.MemoryEmbedding) (*store.MemoryEmbedding, error) {
	stmt := `INSERT INTO memory_embedding (session_id, kind, source_text, embedding, similarity_threshold, created_ts, expires_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	err := d.db.QueryRowContext(ctx, stmt,
		create.SessionID,
		create.Kind,
		create.SourceText,
		float32ArrayToBLOB(create.Embedding),
		create.SimilarityThreshold,
		create.CreatedTs,
		create.ExpiresTs,
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to save memory embedding")
	}
	return create, nil
}

// SearchMemoryEmbeddings ranks cached embeddings by cosine similarity in
// the application layer. Candidate volume is per-session, so the O(n)
// scan stays small. Rows past their own expiry are never candidates.
func (d *DB) SearchMemoryEmbeddings(ctx context.Context, opts *store.MemorySearchOptions) ([]*store.MemoryEmbeddingWithScore, error) {
	where, args := []string{"(expires_ts = 0 OR expires_ts > ?)"}, []any{time.Now().Unix()}
	if opts.SessionID != "" {
		where, args = append(where, "session_id = ?"), append(args, opts.SessionID)
	}
	if opts.Kind != nil {
		where, args = append(where, "kind = ?"), append(args, *opts.Kind)
	}

	query := `SELECT id, session_id, kind, source_text, embedding, similarity_threshold, created_ts, expires_ts
		FROM memory_embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search memory embeddings")
	}
	defer rows.Close()

	results := []*store.MemoryEmbeddingWithScore{}
	for rows.Next() {
		embedding, err := scanMemoryEmbedding(rows)
		if err != nil {
			return nil, err
		}

		score := cosineSimilarity(opts.Vector, embedding.Embedding)
		if score < opts.Threshold {
			continue
		}
		results = append(results, &store.MemoryEmbeddingWithScore{Embedding: embedding, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Embedding.CreatedTs > results[j].Embedding.CreatedTs
	})
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// ListMemoryEmbeddings lists non-expired cached embeddings, newest
// first.
func (d *DB) ListMemoryEmbeddings(ctx context.Context, find *store.FindMemoryEmbeddings) ([]*store.MemoryEmbedding, error) {
	where, args := []string{"(expires_ts = 0 OR expires_ts > ?)"}, []any{time.Now().Unix()}
	if find.SessionID != "" {
		where, args = append(where, "session_id = ?"), append(args, find.SessionID)
	}
	if find.CreatedAfter > 0 {
		where, args = append(where, "created_ts >= ?"), append(args, find.CreatedAfter)
	}

	query := `SELECT id, session_id, kind, source_text, embedding, similarity_threshold, created_ts, expires_ts
		FROM memory_embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`
	if find.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory embeddings")
	}
	defer rows.Close()

	list := []*store.MemoryEmbedding{}
	for rows.Next() {
		embedding, err := scanMemoryEmbedding(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, embedding)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// DeleteExpiredMemoryEmbeddings removes cached embeddings past their own
// TTL, independent of the owning session's lifecycle.
func (d *DB) DeleteExpiredMemoryEmbeddings(ctx context.Context, nowTs int64) (int, error) {
	result, err := d.db.ExecContext(ctx,
		`DELETE FROM memory_embedding WHERE expires_ts > 0 AND expires_ts <= ?`, nowTs)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired memory embeddings")
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryEmbedding(row rowScanner) (*store.MemoryEmbedding, error) {
	var embedding store.MemoryEmbedding
	var blob []byte
	if err := row.Scan(
		&embedding.ID,
		&embedding.SessionID,
		&embedding.Kind,
		&embedding.SourceText,
		&blob,
		&embedding.SimilarityThreshold,
		&embedding.CreatedTs,
		&embedding.ExpiresTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan memory embedding")
	}
	vec, err := blobToFloat32Array(blob)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode embedding BLOB")
	}
	embedding.Embedding = vec
	return &embedding, nil
}
