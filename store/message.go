package store

// MessageType classifies a conversation message.
type MessageType string

const (
	MessageQuery    MessageType = "query"
	MessageResponse MessageType = "response"
	MessageSystem   MessageType = "system"
	MessageError    MessageType = "error"
)

// ConversationMessage is one append-only turn in a session.
// Turn numbers are assigned by the driver and are strictly increasing
// per session with no gaps, even under concurrent writers.
type ConversationMessage struct {
	ID               int64
	SessionID        string
	Turn             int
	Type             MessageType
	Content          string
	Confidence       *float32
	ProcessingTimeMs *int64
	CreatedTs        int64
}

// FindConversationMessages filters message listings.
type FindConversationMessages struct {
	SessionID string
	// CreatedAfter limits results to messages created at or after the
	// given unix timestamp. Zero means no lower bound.
	CreatedAfter int64
	// Limit caps the number of most recent messages returned.
	// Zero means driver default.
	Limit int
}
