package store

// ContextType classifies a keyed context blob.
type ContextType string

const (
	ContextData            ContextType = "data"
	ContextUserPreference  ContextType = "user_preference"
	ContextAnalysisCache   ContextType = "analysis_cache"
	ContextSearchCache     ContextType = "search_cache"
	ContextLearningPattern ContextType = "learning_pattern"
)

// ContextEntry is a keyed context blob owned by a session.
// Unique on (session_id, type, key) with upsert semantics.
type ContextEntry struct {
	ID          int64
	SessionID   string
	Type        ContextType
	Key         string
	Value       string
	Priority    int
	AccessCount int
	// ExpiresTs is the unix timestamp after which the entry is eligible
	// for cleanup. Zero means the entry never expires.
	ExpiresTs int64
	CreatedTs int64
	UpdatedTs int64
}

// FindContextEntries filters context entry listings.
type FindContextEntries struct {
	SessionID string
	Type      *ContextType
	// NotExpiredAt excludes entries whose ExpiresTs is at or before the
	// given unix timestamp. Zero disables the filter.
	NotExpiredAt int64
}
