package store

import (
	"context"
	"database/sql"
)

// CleanupCounts reports how many rows a cleanup pass removed.
type CleanupCounts struct {
	Sessions       int
	Messages       int
	ContextEntries int
	Embeddings     int
}

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error

	// Session methods.
	CreateSession(ctx context.Context, create *Session) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error)
	DeleteExpiredSessions(ctx context.Context, nowTs int64) (*CleanupCounts, error)

	// ConversationMessage methods. AppendConversationMessage assigns the
	// next turn number atomically.
	AppendConversationMessage(ctx context.Context, create *ConversationMessage) (*ConversationMessage, error)
	ListConversationMessages(ctx context.Context, find *FindConversationMessages) ([]*ConversationMessage, error)

	// ContextEntry methods.
	UpsertContextEntry(ctx context.Context, upsert *ContextEntry) (*ContextEntry, error)
	GetContextEntry(ctx context.Context, sessionID string, typ ContextType, key string) (*ContextEntry, error)
	ListContextEntries(ctx context.Context, find *FindContextEntries) ([]*ContextEntry, error)
	DeleteExpiredContextEntries(ctx context.Context, nowTs int64) (int, error)

	// MemoryEmbedding methods.
	SaveMemoryEmbedding(ctx context.Context, create *MemoryEmbedding) (*MemoryEmbedding, error)
	SearchMemoryEmbeddings(ctx context.Context, opts *MemorySearchOptions) ([]*MemoryEmbeddingWithScore, error)
	ListMemoryEmbeddings(ctx context.Context, find *FindMemoryEmbeddings) ([]*MemoryEmbedding, error)
	DeleteExpiredMemoryEmbeddings(ctx context.Context, nowTs int64) (int, error)

	// VectorRecord methods. UpsertVectorRecords is all-or-nothing for the
	// given batch.
	UpsertVectorRecords(ctx context.Context, records []*VectorRecord) (int, error)
	VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*ScoredChunk, error)
	CountVectorRecords(ctx context.Context, sourceID string) (int, error)
	DeleteVectorRecords(ctx context.Context, sourceID string) (int, error)
	MaxVectorVersion(ctx context.Context, sourceID string) (int, error)
}
