package postgres

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/datasage-io/datasage/store"
)

func (d *DB) SaveMemoryEmbedding(ctx context.Context, create *store.MemoryEmbedding) (*store.MemoryEmbedding, error) {
	stmt := `INSERT INTO memory_embedding (session_id, kind, source_text, embedding, similarity_threshold, created_ts, expires_ts)
		VALUES (` + placeholders(7) + `)
		RETURNING id`

	err := d.db.QueryRowContext(ctx, stmt,
		create.SessionID,
		create.Kind,
		create.SourceText,
		pgvector.NewVector(create.Embedding),
		create.SimilarityThreshold,
		create.CreatedTs,
		create.ExpiresTs,
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to save memory embedding")
	}
	return create, nil
}

// SearchMemoryEmbeddings ranks cached embeddings with pgvector's cosine
// distance operator. <=> returns distance, so similarity = 1 - distance.
// Rows past their own expiry are never candidates.
func (d *DB) SearchMemoryEmbeddings(ctx context.Context, opts *store.MemorySearchOptions) ([]*store.MemoryEmbeddingWithScore, error) {
	vector := pgvector.NewVector(opts.Vector)
	args := []any{time.Now().Unix()}
	where := []string{"(expires_ts = 0 OR expires_ts > $1)"}
	if opts.SessionID != "" {
		where = append(where, "session_id = "+placeholder(len(args)+1))
		args = append(args, opts.SessionID)
	}
	if opts.Kind != nil {
		where = append(where, "kind = "+placeholder(len(args)+1))
		args = append(args, *opts.Kind)
	}

	args = append(args, vector)
	scoreExpr := "1 - (embedding <=> " + placeholder(len(args)) + ")"
	args = append(args, opts.Threshold)
	where = append(where, scoreExpr+" >= "+placeholder(len(args)))

	limit := opts.Limit
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}
	args = append(args, limit)

	query := `SELECT id, session_id, kind, source_text, embedding, similarity_threshold, created_ts, expires_ts, ` + scoreExpr + ` AS score
		FROM memory_embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY score DESC, created_ts DESC
		LIMIT ` + placeholder(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search memory embeddings")
	}
	defer rows.Close()

	results := []*store.MemoryEmbeddingWithScore{}
	for rows.Next() {
		var embedding store.MemoryEmbedding
		var vec pgvector.Vector
		var score float32
		if err := rows.Scan(
			&embedding.ID,
			&embedding.SessionID,
			&embedding.Kind,
			&embedding.SourceText,
			&vec,
			&embedding.SimilarityThreshold,
			&embedding.CreatedTs,
			&embedding.ExpiresTs,
			&score,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory embedding")
		}
		embedding.Embedding = vec.Slice()
		results = append(results, &store.MemoryEmbeddingWithScore{Embedding: &embedding, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// ListMemoryEmbeddings lists non-expired cached embeddings, newest
// first.
func (d *DB) ListMemoryEmbeddings(ctx context.Context, find *store.FindMemoryEmbeddings) ([]*store.MemoryEmbedding, error) {
	args := []any{time.Now().Unix()}
	where := []string{"(expires_ts = 0 OR expires_ts > $1)"}
	if find.SessionID != "" {
		where = append(where, "session_id = "+placeholder(len(args)+1))
		args = append(args, find.SessionID)
	}
	if find.CreatedAfter > 0 {
		where = append(where, "created_ts >= "+placeholder(len(args)+1))
		args = append(args, find.CreatedAfter)
	}

	query := `SELECT id, session_id, kind, source_text, embedding, similarity_threshold, created_ts, expires_ts
		FROM memory_embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += ` LIMIT ` + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory embeddings")
	}
	defer rows.Close()

	list := []*store.MemoryEmbedding{}
	for rows.Next() {
		var embedding store.MemoryEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(
			&embedding.ID,
			&embedding.SessionID,
			&embedding.Kind,
			&embedding.SourceText,
			&vec,
			&embedding.SimilarityThreshold,
			&embedding.CreatedTs,
			&embedding.ExpiresTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory embedding")
		}
		embedding.Embedding = vec.Slice()
		list = append(list, &embedding)
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
		`DELETE FROM memory_embedding WHERE expires_ts > 0 AND expires_ts <= $1`, nowTs)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired memory embeddings")
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// UpsertVectorRecords writes the batch inside one transaction so that a
// failing record rejects the whole batch.
func (d *DB) UpsertVectorRecords(ctx context.Context, records []*store.VectorRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin vector upsert tx")
	}
	defer func() { _ = tx.Rollback() }()

	stmt := `INSERT INTO vector_record (chunk_id, source_id, span_start, span_end, text, embedding, metadata, version, created_ts)
		VALUES (` + placeholders(9) + `)
		ON CONFLICT (chunk_id) DO UPDATE SET
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			created_ts = EXCLUDED.created_ts
		RETURNING id`

	for _, record := range records {
		metadata, err := json.Marshal(record.Metadata)
		if err != nil {
			return 0, errors.Wrap(err, "failed to marshal record metadata")
		}
		if err := tx.QueryRowContext(ctx, stmt,
			record.ChunkID,
			record.SourceID,
			record.Span.Start,
			record.Span.End,
			record.Text,
			pgvector.NewVector(record.Embedding),
			string(metadata),
			record.Version,
			record.CreatedTs,
		).Scan(&record.ID); err != nil {
			return 0, errors.Wrapf(err, "failed to upsert vector record %s", record.ChunkID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit vector upsert tx")
	}
	return len(records), nil
}

// VectorSearch ranks records by cosine similarity in the database,
// descending score with recency as the tie-break.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.ScoredChunk, error) {
	vector := pgvector.NewVector(opts.Vector)
	where, args := []string{"1 = 1"}, []any{}
	if opts.SourceID != "" {
		where = append(where, "source_id = "+placeholder(len(args)+1))
		args = append(args, opts.SourceID)
	}

	args = append(args, vector)
	scoreExpr := "1 - (embedding <=> " + placeholder(len(args)) + ")"
	args = append(args, opts.MinSimilarity)
	where = append(where, scoreExpr+" >= "+placeholder(len(args)))
	args = append(args, opts.Limit)

	query := `SELECT id, chunk_id, source_id, span_start, span_end, text, embedding, metadata, version, created_ts, ` + scoreExpr + ` AS score
		FROM vector_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY score DESC, created_ts DESC
		LIMIT ` + placeholder(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	results := []*store.ScoredChunk{}
	for rows.Next() {
		var record store.VectorRecord
		var vec pgvector.Vector
		var metadata string
		var score float32
		if err := rows.Scan(
			&record.ID,
			&record.ChunkID,
			&record.SourceID,
			&record.Span.Start,
			&record.Span.End,
			&record.Text,
			&vec,
			&metadata,
			&record.Version,
			&record.CreatedTs,
			&score,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector search result")
		}
		record.Embedding = vec.Slice()
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &record.Metadata); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal record metadata")
			}
		}
		results = append(results, &store.ScoredChunk{Record: &record, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// CountVectorRecords counts records for one source, or across all
// sources when sourceID is empty, mirroring VectorSearch's filter
// semantics.
func (d *DB) CountVectorRecords(ctx context.Context, sourceID string) (int, error) {
	query, args := `SELECT COUNT(*) FROM vector_record`, []any{}
	if sourceID != "" {
		query, args = query+` WHERE source_id = $1`, append(args, sourceID)
	}

	var count int
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count vector records")
	}
	return count, nil
}

func (d *DB) DeleteVectorRecords(ctx context.Context, sourceID string) (int, error) {
	result, err := d.db.ExecContext(ctx,
		`DELETE FROM vector_record WHERE source_id = $1`, sourceID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete vector records")
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func (d *DB) MaxVectorVersion(ctx context.Context, sourceID string) (int, error) {
	var version int
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM vector_record WHERE source_id = $1`, sourceID,
	).Scan(&version)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get max vector version")
	}
	return version, nil
}
