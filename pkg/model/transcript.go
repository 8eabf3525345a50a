package model

import (
	"time"

	"github.com/google/uuid"
)

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// TranscriptEntry is one displayed turn of a chat session
type TranscriptEntry struct {
	Role      Role     `json:"role"`
	Content   string   `json:"content"`
	Image     string   `json:"image,omitempty"`
	Score     float64  `json:"score,omitempty"`
	Reasoning string   `json:"reasoning,omitempty"`
	Sources   []string `json:"sources,omitempty"`

	// ImageSuppressed is set when the user asked not to see photos in this turn
	ImageSuppressed bool `json:"image_suppressed,omitempty"`
}

// Transcript is the ordered, session-local conversation. It is never written to the vector store in this form.
type Transcript struct {
	ID        SessionID          `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Entries   []*TranscriptEntry `json:"entries"`
}
