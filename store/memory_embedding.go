package store

// EmbeddingKind classifies what a cached memory embedding represents.
type EmbeddingKind string

const (
	EmbeddingQuery    EmbeddingKind = "query"
	EmbeddingResponse EmbeddingKind = "response"
	EmbeddingContext  EmbeddingKind = "context"
	EmbeddingDocument EmbeddingKind = "document"
)

// MemoryEmbedding is a cached embedding owned by a session. Rows carry
// their own TTL in ExpiresTs and are also removed when the owning
// session is cleaned up, whichever comes first.
type MemoryEmbedding struct {
	ID                  int64
	SessionID           string
	Kind                EmbeddingKind
	SourceText          string
	Embedding           []float32
	SimilarityThreshold float32
	CreatedTs           int64
	ExpiresTs           int64
}

// FindMemoryEmbeddings filters cached embeddings for listing.
type FindMemoryEmbeddings struct {
	SessionID    string
	CreatedAfter int64
	Limit        int
}

// MemorySearchOptions configures similarity search over cached memory
// embeddings.
type MemorySearchOptions struct {
	Vector    []float32
	SessionID string
	Kind      *EmbeddingKind
	Threshold float32
	Limit     int
}

// MemoryEmbeddingWithScore pairs a memory embedding with its cosine
// similarity against the query vector.
type MemoryEmbeddingWithScore struct {
	Embedding *MemoryEmbedding
	Score     float32
}
