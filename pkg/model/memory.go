package model

import (
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var ErrInvalidRole = goerr.New("invalid role")

type Role string

const (
	RoleUser         Role = "user"
	RoleAssistant    Role = "assistant"
	RoleSystemReport Role = "system_report"
)

// Validate checks if the role is valid
func (r Role) Validate() error {
	switch r {
	case RoleUser, RoleAssistant, RoleSystemReport:
		return nil
	default:
		return goerr.Wrap(ErrInvalidRole, "unknown role", goerr.V("role", r))
	}
}

// ConversationalRoles are the roles removed when a new scenario starts.
// system_report memories are base knowledge and always survive.
var ConversationalRoles = []Role{RoleUser, RoleAssistant}

const (
	PayloadChatText = "chat_text"
	PayloadRole     = "role"
)

// NewPointID generates a new unique point identifier
func NewPointID() string {
	return uuid.New().String()
}

// MemoryPoint is one entry of the text memory collection
type MemoryPoint struct {
	ID       string
	Vector   []float32
	ChatText string
	Role     Role
}

// NewMemoryPoint creates a MemoryPoint with a fresh ID
func NewMemoryPoint(text string, role Role, vector []float32) *MemoryPoint {
	return &MemoryPoint{
		ID:       NewPointID(),
		Vector:   vector,
		ChatText: text,
		Role:     role,
	}
}

// Point converts the memory to a generic vector store point
func (m *MemoryPoint) Point() *Point {
	return &Point{
		ID:     m.ID,
		Vector: m.Vector,
		Payload: Payload{
			PayloadChatText: m.ChatText,
			PayloadRole:     string(m.Role),
		},
	}
}

// ConversationalFilter matches user and assistant memories
func ConversationalFilter() *Filter {
	f := &Filter{Key: PayloadRole}
	for _, r := range ConversationalRoles {
		f.Any = append(f.Any, string(r))
	}
	return f
}
