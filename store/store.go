package store

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/datasage-io/datasage/internal/profile"
	"github.com/datasage-io/datasage/store/cache"
)

// Defaults for the memory and vector stores.
const (
	DefaultSessionTTL      = 24 * time.Hour
	DefaultRecentTurns     = 50
	DefaultSearchLimit     = 10
	DefaultMinSimilarity   = 0.8
	MaxContextValueBytes   = 1 << 20 // 1 MiB budget per context entry
	contextCacheDefaultTTL = 5 * time.Minute
)

// Sentinel errors surfaced by the store facade.
var (
	// ErrDimensionMismatch is returned when a vector's dimension differs
	// from the deployment's fixed dimension D. Fatal for the whole batch.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrSessionTerminal is returned when a caller attempts to move a
	// session out of a terminal state.
	ErrSessionTerminal = errors.New("session is in a terminal state")

	// ErrSessionNotFound is returned when the session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
)

// CacheMetrics receives context-cache hit and miss signals. The
// Prometheus exporter satisfies it.
type CacheMetrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// Store provides database access to all raw objects: sessions,
// conversation turns, context entries, cached memory embeddings, and the
// dataset-scoped vector records.
type Store struct {
	driver     Driver
	profile    *profile.Profile
	dimensions int
	sessionTTL time.Duration

	// contextCache is an LRU front for GetContext reads. The database
	// remains the source of truth; writes invalidate.
	contextCache *cache.Cache[string, *ContextEntry]
	cacheMetrics CacheMetrics
}

// New creates a new instance of Store.
func New(driver Driver, p *profile.Profile) *Store {
	ttl := DefaultSessionTTL
	if p.SessionTTLHours > 0 {
		ttl = time.Duration(p.SessionTTLHours) * time.Hour
	}
	return &Store{
		driver:     driver,
		profile:    p,
		dimensions: p.EmbeddingDimensions,
		sessionTTL: ttl,
		contextCache: cache.New[string, *ContextEntry](cache.Config{
			MaxItems:   1000,
			DefaultTTL: contextCacheDefaultTTL,
		}),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

// SetCacheMetrics wires context-cache reads to a metrics sink.
func (s *Store) SetCacheMetrics(m CacheMetrics) {
	s.cacheMetrics = m
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Dimensions returns the deployment's fixed embedding dimension D.
func (s *Store) Dimensions() int {
	return s.dimensions
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession persists a new active session. Missing fields are filled
// with defaults; a missing id gets a fresh UUID.
func (s *Store) CreateSession(ctx context.Context, create *Session) (*Session, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	if create.ExpiresTs == 0 {
		create.ExpiresTs = create.CreatedTs + int64(s.sessionTTL.Seconds())
	}
	if create.Status == "" {
		create.Status = SessionActive
	}
	return s.driver.CreateSession(ctx, create)
}

// GetSession returns the session with the given id, or ErrSessionNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	return s.driver.GetSession(ctx, id)
}

// TransitionSession moves a session through its lifecycle. Transitions
// out of a terminal state are rejected; re-applying the current status is
// a no-op.
func (s *Store) TransitionSession(ctx context.Context, id string, status SessionStatus) (*Session, error) {
	current, err := s.driver.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}
	if current.Status.IsTerminal() {
		return nil, ErrSessionTerminal
	}
	return s.driver.UpdateSession(ctx, &UpdateSession{ID: id, Status: &status})
}

// ---------------------------------------------------------------------------
// Conversation messages
// ---------------------------------------------------------------------------

// AppendMessage appends a conversation turn. The driver assigns the next
// turn number atomically; callers never supply one.
func (s *Store) AppendMessage(ctx context.Context, create *ConversationMessage) (*ConversationMessage, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	return s.driver.AppendConversationMessage(ctx, create)
}

// ListMessages lists conversation messages for a session.
func (s *Store) ListMessages(ctx context.Context, find *FindConversationMessages) ([]*ConversationMessage, error) {
	return s.driver.ListConversationMessages(ctx, find)
}

// RecentContext bundles what the orchestrator needs to rebuild a
// session's working context.
type RecentContext struct {
	Messages       []*ConversationMessage
	ContextEntries []*ContextEntry
	Embeddings     []*MemoryEmbedding
}

// GetRecentContext merges the last DefaultRecentTurns conversation turns
// within the hoursBack window with all non-expired context entries,
// ordered by priority then recency, plus the session's cached memory
// embeddings from the same window.
func (s *Store) GetRecentContext(ctx context.Context, sessionID string, hoursBack int) (*RecentContext, error) {
	if hoursBack <= 0 {
		hoursBack = 24
	}
	now := time.Now()
	after := now.Add(-time.Duration(hoursBack) * time.Hour).Unix()

	messages, err := s.driver.ListConversationMessages(ctx, &FindConversationMessages{
		SessionID:    sessionID,
		CreatedAfter: after,
		Limit:        DefaultRecentTurns,
	})
	if err != nil {
		return nil, err
	}

	entries, err := s.driver.ListContextEntries(ctx, &FindContextEntries{
		SessionID:    sessionID,
		NotExpiredAt: now.Unix(),
	})
	if err != nil {
		return nil, err
	}

	embeddings, err := s.driver.ListMemoryEmbeddings(ctx, &FindMemoryEmbeddings{
		SessionID:    sessionID,
		CreatedAfter: after,
		Limit:        DefaultRecentTurns,
	})
	if err != nil {
		return nil, err
	}

	return &RecentContext{Messages: messages, ContextEntries: entries, Embeddings: embeddings}, nil
}

// ---------------------------------------------------------------------------
// Context entries
// ---------------------------------------------------------------------------

// SaveContext upserts a keyed context blob. Values beyond the byte budget
// are truncated with a logged warning, never rejected.
func (s *Store) SaveContext(ctx context.Context, upsert *ContextEntry) (*ContextEntry, error) {
	if len(upsert.Value) > MaxContextValueBytes {
		slog.Warn("context entry exceeds byte budget, truncating",
			"session_id", upsert.SessionID,
			"key", upsert.Key,
			"size", len(upsert.Value),
			"budget", MaxContextValueBytes,
		)
		// Back off to a rune boundary so the clipped value stays
		// valid UTF-8.
		cut := MaxContextValueBytes
		for cut > 0 && !utf8.RuneStart(upsert.Value[cut]) {
			cut--
		}
		upsert.Value = upsert.Value[:cut]
	}
	now := time.Now().Unix()
	if upsert.CreatedTs == 0 {
		upsert.CreatedTs = now
	}
	upsert.UpdatedTs = now

	entry, err := s.driver.UpsertContextEntry(ctx, upsert)
	if err != nil {
		return nil, err
	}
	s.contextCache.Remove(contextCacheKey(entry.SessionID, entry.Type, entry.Key))
	return entry, nil
}

// GetContext returns a context entry, serving repeated reads from the
// LRU front. Each durable read bumps the entry's access count.
func (s *Store) GetContext(ctx context.Context, sessionID string, typ ContextType, key string) (*ContextEntry, error) {
	cacheKey := contextCacheKey(sessionID, typ, key)
	if entry, ok := s.contextCache.Get(cacheKey); ok {
		if s.cacheMetrics != nil {
			s.cacheMetrics.RecordCacheHit("context")
		}
		return entry, nil
	}
	if s.cacheMetrics != nil {
		s.cacheMetrics.RecordCacheMiss("context")
	}
	entry, err := s.driver.GetContextEntry(ctx, sessionID, typ, key)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		s.contextCache.Set(cacheKey, entry, 0)
	}
	return entry, nil
}

// ListContextEntries lists context entries for a session.
func (s *Store) ListContextEntries(ctx context.Context, find *FindContextEntries) ([]*ContextEntry, error) {
	return s.driver.ListContextEntries(ctx, find)
}

func contextCacheKey(sessionID string, typ ContextType, key string) string {
	return sessionID + "/" + string(typ) + "/" + key
}

// ---------------------------------------------------------------------------
// Memory embeddings
// ---------------------------------------------------------------------------

// SaveEmbedding caches an embedding for a session. Vectors of mismatched
// dimension are a hard error. A missing expiry defaults to the session
// TTL, so cached embeddings age out even if their session lingers.
func (s *Store) SaveEmbedding(ctx context.Context, create *MemoryEmbedding) (*MemoryEmbedding, error) {
	if len(create.Embedding) != s.dimensions {
		return nil, ErrDimensionMismatch
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	if create.ExpiresTs == 0 {
		create.ExpiresTs = create.CreatedTs + int64(s.sessionTTL.Seconds())
	}
	return s.driver.SaveMemoryEmbedding(ctx, create)
}

// ListEmbeddings lists a session's cached memory embeddings, newest
// first.
func (s *Store) ListEmbeddings(ctx context.Context, find *FindMemoryEmbeddings) ([]*MemoryEmbedding, error) {
	return s.driver.ListMemoryEmbeddings(ctx, find)
}

// SearchSimilar ranks cached memory embeddings by cosine similarity.
func (s *Store) SearchSimilar(ctx context.Context, opts *MemorySearchOptions) ([]*MemoryEmbeddingWithScore, error) {
	if len(opts.Vector) != s.dimensions {
		return nil, ErrDimensionMismatch
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultMinSimilarity
	}
	return s.driver.SearchMemoryEmbeddings(ctx, opts)
}

// ---------------------------------------------------------------------------
// Vector records
// ---------------------------------------------------------------------------

// UpsertVectorRecords writes a batch of embedded chunks. The batch is
// all-or-nothing: one mismatched vector rejects every record.
func (s *Store) UpsertVectorRecords(ctx context.Context, records []*VectorRecord) (int, error) {
	now := time.Now().Unix()
	for _, r := range records {
		if len(r.Embedding) != s.dimensions {
			return 0, ErrDimensionMismatch
		}
		if r.CreatedTs == 0 {
			r.CreatedTs = now
		}
	}
	return s.driver.UpsertVectorRecords(ctx, records)
}

// VectorSearch performs cosine nearest-neighbor search over vector
// records. Results below MinSimilarity are never returned.
func (s *Store) VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*ScoredChunk, error) {
	if len(opts.Vector) != s.dimensions {
		return nil, ErrDimensionMismatch
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	return s.driver.VectorSearch(ctx, opts)
}

// CountVectorRecords returns how many records exist for a source id, or
// across all sources when sourceID is empty.
func (s *Store) CountVectorRecords(ctx context.Context, sourceID string) (int, error) {
	return s.driver.CountVectorRecords(ctx, sourceID)
}

// DeleteVectorRecords removes every record for a source id.
func (s *Store) DeleteVectorRecords(ctx context.Context, sourceID string) (int, error) {
	return s.driver.DeleteVectorRecords(ctx, sourceID)
}

// MaxVectorVersion returns the highest ingested version for a source id,
// zero when the source has never been ingested.
func (s *Store) MaxVectorVersion(ctx context.Context, sourceID string) (int, error) {
	return s.driver.MaxVectorVersion(ctx, sourceID)
}

// ---------------------------------------------------------------------------
// Cleanup
// ---------------------------------------------------------------------------

// CleanupExpired removes rows already past their expiry. Idempotent and
// safe to run concurrently with live traffic.
func (s *Store) CleanupExpired(ctx context.Context) (*CleanupCounts, error) {
	now := time.Now().Unix()

	counts, err := s.driver.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return nil, err
	}
	expired, err := s.driver.DeleteExpiredContextEntries(ctx, now)
	if err != nil {
		return nil, err
	}
	counts.ContextEntries += expired

	expiredEmbeddings, err := s.driver.DeleteExpiredMemoryEmbeddings(ctx, now)
	if err != nil {
		return nil, err
	}
	counts.Embeddings += expiredEmbeddings

	slog.Debug("cleanup pass finished",
		"sessions", counts.Sessions,
		"messages", counts.Messages,
		"context_entries", counts.ContextEntries,
		"embeddings", counts.Embeddings,
	)
	return counts, nil
}
