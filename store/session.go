package store

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionExpired    SessionStatus = "expired"
	SessionTerminated SessionStatus = "terminated"
)

// IsTerminal reports whether the status is a terminal state.
// Terminal sessions never transition back to active.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionExpired || s == SessionTerminated
}

// Session is a bounded-lifetime container for one user's conversation
// turns and cached context. Created lazily on first interaction.
type Session struct {
	ID        string
	UserID    string
	AgentName string
	Type      string
	Status    SessionStatus
	CreatedTs int64
	ExpiresTs int64
	Metadata  map[string]string
}

// Expired reports whether the session TTL has elapsed at the given time.
func (s *Session) Expired(nowTs int64) bool {
	return s.ExpiresTs > 0 && nowTs >= s.ExpiresTs
}

// UpdateSession holds a partial session update.
type UpdateSession struct {
	ID     string
	Status *SessionStatus
}
