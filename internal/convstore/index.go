package convstore

import (
	"sync"
	"time"

	radix "github.com/armon/go-radix"
	"github.com/google/uuid"
)

// ConversationIndexEntry is the §3 projection of a Conversation stored in
// index.json for O(1) listing without opening every conversation file.
type ConversationIndexEntry struct {
	ID           uuid.UUID          `json:"id"`
	Title        string             `json:"title"`
	WorkspaceID  string             `json:"workspace_id,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActiveAt time.Time          `json:"last_active_at"`
	Status       ConversationStatus `json:"status"`
	MessageCount int                `json:"message_count"`
	Tags         []string           `json:"tags,omitempty"`
}

func entryFromConversation(c *Conversation) ConversationIndexEntry {
	return ConversationIndexEntry{
		ID:           c.ID,
		Title:        c.Title,
		WorkspaceID:  c.WorkspaceID,
		CreatedAt:    c.CreatedAt,
		LastActiveAt: c.LastActiveAt,
		Status:       c.Status,
		MessageCount: len(c.Messages),
		Tags:         c.Tags,
	}
}

// ConversationIndex is the on-disk (and in-memory) secondary index: active
// and archived entries keyed by UUID string, plus a schema version for
// future migrations.
type ConversationIndex struct {
	Active   map[string]ConversationIndexEntry `json:"active"`
	Archived map[string]ConversationIndexEntry `json:"archived"`
	Version  int                               `json:"version"`
}

func newConversationIndex() *ConversationIndex {
	return &ConversationIndex{
		Active:   make(map[string]ConversationIndexEntry),
		Archived: make(map[string]ConversationIndexEntry),
		Version:  1,
	}
}

// workspaceRadix is a rebuildable prefix index over "workspaceID/id" used to
// serve workspace-scoped listings in sorted order without a linear map scan
// on every query. It is derived state, never itself persisted.
type workspaceRadix struct {
	mu   sync.RWMutex
	tree *radix.Tree
}

func newWorkspaceRadix() *workspaceRadix {
	return &workspaceRadix{tree: radix.New()}
}

func workspaceKey(workspaceID, id string) string {
	return workspaceID + "/" + id
}

func (w *workspaceRadix) rebuild(index *ConversationIndex) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tree = radix.New()
	for id, entry := range index.Active {
		w.tree.Insert(workspaceKey(entry.WorkspaceID, id), entry.ID)
	}
}

func (w *workspaceRadix) insert(entry ConversationIndexEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tree.Insert(workspaceKey(entry.WorkspaceID, entry.ID.String()), entry.ID)
}

func (w *workspaceRadix) remove(workspaceID, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tree.Delete(workspaceKey(workspaceID, id))
}

// listByWorkspace returns conversation IDs whose workspace matches
// workspaceID, in radix (lexicographic) order.
func (w *workspaceRadix) listByWorkspace(workspaceID string) []uuid.UUID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var ids []uuid.UUID
	w.tree.WalkPrefix(workspaceID+"/", func(_ string, v interface{}) bool {
		ids = append(ids, v.(uuid.UUID))
		return false
	})
	return ids
}
