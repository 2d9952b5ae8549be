package convstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/toolmind/pkg/harnessports"
)

// HarnessAdapter exposes a Store through the teacher's harnessports.ConversationStore
// port, so a generation harness that only knows about Turns and tool
// artifacts can read and write the same conversation files this package
// persists, without depending on convstore's richer Conversation type.
type HarnessAdapter struct {
	store *Store
}

// NewHarnessAdapter wraps store for harnessports.ConversationStore use.
func NewHarnessAdapter(store *Store) *HarnessAdapter {
	return &HarnessAdapter{store: store}
}

// SaveTurn implements harnessports.ConversationStore: appends turn as a
// Message, creating the conversation if conversationID is not yet known.
func (a *HarnessAdapter) SaveTurn(_ context.Context, conversationID string, turn harnessports.Turn) error {
	id, err := uuid.Parse(conversationID)
	if err != nil {
		return fmt.Errorf("harness adapter: conversation id must be a uuid: %w", err)
	}

	c, err := a.store.Load(id)
	if err != nil {
		return err
	}
	if c == nil {
		c = NewConversation(conversationID)
		c.ID = id
	}

	timestamp := turn.CreatedAt
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	c.Messages = append(c.Messages, Message{Role: turn.Role, Content: turn.Content, Timestamp: timestamp})
	c.LastActiveAt = timestamp

	return a.store.Save(c)
}

// LoadContext implements harnessports.ConversationStore: the last k messages,
// oldest first.
func (a *HarnessAdapter) LoadContext(_ context.Context, conversationID string, k int) ([]harnessports.Turn, error) {
	id, err := uuid.Parse(conversationID)
	if err != nil {
		return nil, fmt.Errorf("harness adapter: conversation id must be a uuid: %w", err)
	}

	c, err := a.store.Load(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}

	start := 0
	if k > 0 && len(c.Messages) > k {
		start = len(c.Messages) - k
	}

	turns := make([]harnessports.Turn, 0, len(c.Messages)-start)
	for _, m := range c.Messages[start:] {
		turns = append(turns, harnessports.Turn{Role: m.Role, Content: m.Content, CreatedAt: m.Timestamp})
	}
	return turns, nil
}

// AppendToolArtifact implements harnessports.ConversationStore: recorded as
// a "tool" role message so it flows through the same message history and
// chunking path as any other turn.
func (a *HarnessAdapter) AppendToolArtifact(ctx context.Context, conversationID, name string, payload []byte) error {
	return a.SaveTurn(ctx, conversationID, harnessports.Turn{
		Role:      "tool",
		Content:   fmt.Sprintf("%s: %s", name, string(payload)),
		CreatedAt: time.Now().UTC(),
	})
}

var _ harnessports.ConversationStore = (*HarnessAdapter)(nil)
