// Package agents implements the specialized agents the orchestrator
// dispatches to.
package agents

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/datasage-io/datasage/ai/chunker"
	"github.com/datasage-io/datasage/ai/embedding"
	"github.com/datasage-io/datasage/ai/guard"
	"github.com/datasage-io/datasage/ai/metrics"
	"github.com/datasage-io/datasage/store"
)

const (
	// DefaultRowChunkSize is the number of rows per chunk.
	DefaultRowChunkSize = 100

	// embedBatchSize is the number of chunk texts sent per
	// embeddings request.
	embedBatchSize = 128

	// upsertBatchSize is the number of vector records written per
	// store call.
	upsertBatchSize = 256

	// embedConcurrency bounds in-flight embedding requests.
	embedConcurrency = 4
)

// IngestPolicy controls re-ingestion of an already-known source.
type IngestPolicy string

const (
	// PolicyOverwrite deletes the source's existing chunks and
	// writes version 1.
	PolicyOverwrite IngestPolicy = "overwrite"

	// PolicyVersion keeps existing chunks and writes a new
	// version.
	PolicyVersion IngestPolicy = "version"
)

// IngestionConfig configures the ingestion agent.
type IngestionConfig struct {
	Policy       IngestPolicy
	RowChunkSize int
	RowOverlap   int
	// EmbedRateLimit caps embedding requests per second. Zero
	// means unlimited.
	EmbedRateLimit float64
}

// IngestRequest asks the agent to ingest one tabular source.
type IngestRequest struct {
	SourceID string
	Data     io.Reader
}

// IngestResult summarizes a completed ingestion.
type IngestResult struct {
	SourceID string
	Rows     int
	Chunks   int
	Version  int
}

// IngestionAgent is the only component allowed to touch raw dataset
// rows. It chunks, embeds and stores them.
type IngestionAgent struct {
	store    *store.Store
	provider embedding.Provider
	auth     *guard.Authorizer
	exporter *metrics.PrometheusExporter
	cfg      IngestionConfig
	limiter  *rate.Limiter
}

// NewIngestionAgent creates the ingestion agent.
func NewIngestionAgent(s *store.Store, p embedding.Provider, auth *guard.Authorizer, exporter *metrics.PrometheusExporter, cfg IngestionConfig) *IngestionAgent {
	if cfg.Policy == "" {
		cfg.Policy = PolicyOverwrite
	}
	if cfg.RowChunkSize <= 0 {
		cfg.RowChunkSize = DefaultRowChunkSize
	}
	var limiter *rate.Limiter
	if cfg.EmbedRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EmbedRateLimit), 1)
	}
	return &IngestionAgent{
		store:    s,
		provider: p,
		auth:     auth,
		exporter: exporter,
		cfg:      cfg,
		limiter:  limiter,
	}
}

// Ingest reads a CSV source, chunks it by rows, embeds the chunks and
// upserts them into the vector store. Re-ingesting the same source is
// idempotent under the configured policy.
func (a *IngestionAgent) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	if err := a.auth.AuthorizeRawAccess(guard.IngestionPipeline, req.SourceID); err != nil {
		if a.exporter != nil {
			a.exporter.RecordGuardDenial(string(guard.IngestionPipeline))
		}
		return nil, err
	}

	header, rows, err := readCSV(req.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "read source %q", req.SourceID)
	}

	version := 1
	switch a.cfg.Policy {
	case PolicyOverwrite:
		deleted, err := a.store.DeleteVectorRecords(ctx, req.SourceID)
		if err != nil {
			return nil, errors.Wrap(err, "delete previous chunks")
		}
		if deleted > 0 {
			slog.Info("ingestion: replaced previous chunks",
				"source_id", req.SourceID,
				"deleted", deleted,
			)
		}
	case PolicyVersion:
		maxVersion, err := a.store.MaxVectorVersion(ctx, req.SourceID)
		if err != nil {
			return nil, errors.Wrap(err, "resolve source version")
		}
		version = maxVersion + 1
	default:
		return nil, errors.Errorf("ingestion: unknown policy %q", a.cfg.Policy)
	}

	if len(rows) == 0 {
		slog.Warn("ingestion: source has no rows", "source_id", req.SourceID)
		return &IngestResult{SourceID: req.SourceID, Version: version}, nil
	}

	ck, err := chunker.New(chunker.Config{
		Strategy:  chunker.RowBased,
		ChunkSize: a.cfg.RowChunkSize,
		Overlap:   a.cfg.RowOverlap,
	})
	if err != nil {
		return nil, err
	}
	chunks, err := ck.ChunkRows(header, rows)
	if err != nil {
		return nil, err
	}

	vectors, err := a.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	records := make([]*store.VectorRecord, len(chunks))
	for i, ch := range chunks {
		span := store.Span{Start: ch.Start, End: ch.End}
		records[i] = &store.VectorRecord{
			ChunkID:   store.ChunkKey(req.SourceID, span, version),
			SourceID:  req.SourceID,
			Span:      span,
			Text:      ch.Text,
			Embedding: vectors[i],
			Metadata:  ch.Metadata,
			Version:   version,
			CreatedTs: now,
		}
	}

	var stored int
	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		n, err := a.store.UpsertVectorRecords(ctx, records[start:end])
		if err != nil {
			return nil, errors.Wrapf(err, "upsert chunks %d-%d", start, end-1)
		}
		stored += n
	}

	if a.exporter != nil {
		a.exporter.RecordChunksIngested("csv", stored)
	}
	slog.Info("ingestion: source stored",
		"source_id", req.SourceID,
		"rows", len(rows),
		"chunks", stored,
		"version", version,
	)
	return &IngestResult{
		SourceID: req.SourceID,
		Rows:     len(rows),
		Chunks:   stored,
		Version:  version,
	}, nil
}

// embedChunks embeds chunk texts in batches with bounded concurrency.
// The result is index-aligned with chunks.
func (a *IngestionAgent) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	var mu sync.Mutex
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		start, end := start, end
		g.Go(func() error {
			if a.limiter != nil {
				if err := a.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = chunks[i].Text
			}
			batch, err := a.provider.EmbedBatch(gctx, texts)
			if err != nil {
				return errors.Wrapf(err, "embed chunks %d-%d", start, end-1)
			}
			mu.Lock()
			copy(vectors[start:end], batch)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func readCSV(r io.Reader) (header []string, rows [][]string, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err = reader.Read()
	if err == io.EOF {
		return nil, nil, errors.New("empty input")
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "read header")
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, fmt.Sprintf("read line %d", line))
		}
		rows = append(rows, record)
	}
	return header, rows, nil
}
