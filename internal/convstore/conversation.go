// Package convstore implements crash-safe JSON persistence for Conversation
// records: atomic save/load, an index for O(1) listing, and archive/restore,
// with self-healing quarantine of any file that fails to parse.
package convstore

import (
	"time"

	"github.com/google/uuid"
)

// ConversationStatus tags a Conversation's lifecycle state.
type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusArchived ConversationStatus = "archived"
)

// Message is one turn in a Conversation's (or Branch's) ordered history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Branch is an alternative continuation with its own ordered message list.
type Branch struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Messages    []Message `json:"messages"`
}

// Checkpoint marks a restorable point in a Conversation's history.
type Checkpoint struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProjectContext is the optional project the conversation is scoped to.
type ProjectContext struct {
	Name string `json:"name"`
	Root string `json:"root,omitempty"`
	Type string `json:"type,omitempty"`
}

// Conversation is the durable unit of Core B: everything persisted to
// `<uuid>.json` under the store's base directory.
type Conversation struct {
	ID             uuid.UUID          `json:"id"`
	Title          string             `json:"title"`
	CreatedAt      time.Time          `json:"created_at"`
	LastActiveAt   time.Time          `json:"last_active_at"`
	WorkspaceID    string             `json:"workspace_id,omitempty"`
	Status         ConversationStatus `json:"status"`
	Messages       []Message          `json:"messages"`
	Branches       []Branch           `json:"branches,omitempty"`
	Checkpoints    []Checkpoint       `json:"checkpoints,omitempty"`
	Tags           []string           `json:"tags,omitempty"`
	ProjectContext *ProjectContext    `json:"project_context,omitempty"`
}

// NewConversation builds a fresh Active conversation with both timestamps
// set to now.
func NewConversation(title string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:           uuid.New(),
		Title:        title,
		CreatedAt:    now,
		LastActiveAt: now,
		Status:       StatusActive,
	}
}
