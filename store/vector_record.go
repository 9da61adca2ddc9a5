package store

import "fmt"

// Span identifies the slice of the source a chunk covers. For row-based
// chunking Start and End are row indices (inclusive); for text chunking
// they are character offsets (End exclusive).
type Span struct {
	Start int
	End   int
}

func (s Span) String() string {
	return fmt.Sprintf("%d-%d", s.Start, s.End)
}

// VectorRecord is one embedded chunk persisted by the ingestion pipeline.
// Records are dataset-scoped and outlive any session. Immutable once
// written; re-ingestion either overwrites or versions per policy.
type VectorRecord struct {
	ID        int64
	ChunkID   string
	SourceID  string
	Span      Span
	Text      string
	Embedding []float32
	Metadata  map[string]string
	Version   int
	CreatedTs int64
}

// ChunkKey derives the deterministic chunk id for a source, span and
// version. Re-ingesting identical data under overwrite policy produces
// identical keys, so duplicates are impossible by construction.
func ChunkKey(sourceID string, span Span, version int) string {
	return fmt.Sprintf("%s:%s:v%d", sourceID, span, version)
}

// VectorSearchOptions configures nearest-neighbor search over vector
// records.
type VectorSearchOptions struct {
	Vector   []float32
	SourceID string // optional filter
	Limit    int
	// MinSimilarity is the similarity floor; records scoring below it are
	// never returned. Callers wanting looser recall must lower it
	// explicitly.
	MinSimilarity float32
}

// ScoredChunk is a vector search hit.
type ScoredChunk struct {
	Record *VectorRecord
	Score  float32
}
