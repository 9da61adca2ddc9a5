package sqlite

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/datasage-io/datasage/store"
)

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chunk_id) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			created_ts = excluded.created_ts
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
			float32ArrayToBLOB(record.Embedding),
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

// VectorSearch ranks records by cosine similarity computed in the
// application layer, descending score with recency as the tie-break.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.ScoredChunk, error) {
	where, args := []string{"1 = 1"}, []any{}
	if opts.SourceID != "" {
		where, args = append(where, "source_id = ?"), append(args, opts.SourceID)
	}

	query := `SELECT id, chunk_id, source_id, span_start, span_end, text, embedding, metadata, version, created_ts
		FROM vector_record
		WHERE ` + strings.Join(where, " AND ")

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query vector records")
	}
	defer rows.Close()

	results := []*store.ScoredChunk{}
	for rows.Next() {
		var record store.VectorRecord
		var blob []byte
		var metadata string
		if err := rows.Scan(
			&record.ID,
			&record.ChunkID,
			&record.SourceID,
			&record.Span.Start,
			&record.Span.End,
			&record.Text,
			&blob,
			&metadata,
			&record.Version,
			&record.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector record")
		}
		vec, err := blobToFloat32Array(blob)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode embedding BLOB")
		}
		record.Embedding = vec
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &record.Metadata); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal record metadata")
			}
		}

		score := cosineSimilarity(opts.Vector, vec)
		if score < opts.MinSimilarity {
			continue
		}
		results = append(results, &store.ScoredChunk{Record: &record, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.CreatedTs > results[j].Record.CreatedTs
	})
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// CountVectorRecords counts records for one source, or across all
// sources when sourceID is empty, mirroring VectorSearch's filter
// semantics.
func (d *DB) CountVectorRecords(ctx context.Context, sourceID string) (int, error) {
	query, args := `SELECT COUNT(*) FROM vector_record`, []any{}
	if sourceID != "" {
		query, args = query+` WHERE source_id = ?`, append(args, sourceID)
	}

	var count int
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count vector records")
	}
	return count, nil
}

func (d *DB) DeleteVectorRecords(ctx context.Context, sourceID string) (int, error) {
	result, err := d.db.ExecContext(ctx,
		`DELETE FROM vector_record WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete vector records")
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func (d *DB) MaxVectorVersion(ctx context.Context, sourceID string) (int, error) {
	var version int
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM vector_record WHERE source_id = ?`, sourceID,
	).Scan(&version)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get max vector version")
	}
	return version, nil
}
