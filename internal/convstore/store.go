package convstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	activeDirName    = "conversations"
	archiveDirName   = "archive"
	corruptedDirName = "corrupted"
	indexFileName    = "index.json"
)

// Store is the durable conversation persistence layer: atomic save/load,
// archive/restore, and a self-healing secondary index. One Store is shared
// by reference per process, guarded by an InstanceLock at its base
// directory.
type Store struct {
	baseDir     string
	activeDir   string
	archiveDir  string
	corruptDir  string
	indexPath   string
	lock        InstanceLock
	logger      zerolog.Logger

	mu    sync.RWMutex
	index *ConversationIndex
	radix *workspaceRadix
}

// Open creates the store's directory tree (if missing), acquires its
// instance lock, and loads (or self-heals) its index.
func Open(ctx context.Context, baseDir string, lock InstanceLock, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		baseDir:    baseDir,
		activeDir:  filepath.Join(baseDir, activeDirName),
		archiveDir: filepath.Join(baseDir, archiveDirName),
		corruptDir: filepath.Join(baseDir, corruptedDirName),
		indexPath:  filepath.Join(baseDir, indexFileName),
		lock:       lock,
		logger:     logger.With().Str("component", "convstore").Logger(),
		radix:      newWorkspaceRadix(),
	}

	for _, dir := range []string{s.activeDir, s.archiveDir, s.corruptDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
	}

	if lock != nil {
		if err := lock.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	s.index = s.loadIndexOrHeal()
	s.radix.rebuild(s.index)
	return s, nil
}

// Close releases the store's instance lock.
func (s *Store) Close() error {
	if s.lock != nil {
		return s.lock.Release()
	}
	return nil
}

// loadIndexOrHeal parses index.json, quarantining it and starting fresh on
// any parse failure (spec.md §4.3 "Index corruption").
func (s *Store) loadIndexOrHeal() *ConversationIndex {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Msg("failed to read index.json; starting with an empty index")
		}
		return newConversationIndex()
	}

	var idx ConversationIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		s.logger.Warn().Err(err).Msg("index.json failed to parse; quarantining and starting with an empty index")
		corruptPath := s.indexPath + ".corrupted"
		if renameErr := os.Rename(s.indexPath, corruptPath); renameErr != nil {
			s.logger.Warn().Err(renameErr).Msg("failed to quarantine corrupt index.json")
		}
		return newConversationIndex()
	}

	if idx.Active == nil {
		idx.Active = make(map[string]ConversationIndexEntry)
	}
	if idx.Archived == nil {
		idx.Archived = make(map[string]ConversationIndexEntry)
	}
	return &idx
}

// writeIndexLocked persists the index using temp-then-rename, matching the
// conversation save protocol. Caller must hold s.mu for writing.
func (s *Store) writeIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	return atomicWrite(s.indexPath, data)
}

// atomicWrite implements the §4.3 save protocol: write to a .tmp sibling,
// fsync, then atomic rename over the destination.
func atomicWrite(path string, data []byte) error {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (s *Store) conversationPath(id uuid.UUID) string {
	return filepath.Join(s.activeDir, id.String()+".json")
}

func (s *Store) archivePath(id uuid.UUID) string {
	return filepath.Join(s.archiveDir, id.String()+".json")
}

func (s *Store) corruptedPath(id uuid.UUID) string {
	return filepath.Join(s.corruptDir, id.String()+".json.corrupted")
}

// Save persists a Conversation: write+fsync+rename to its file, then update
// and persist the index the same way. A reader observing the file always
// observes a complete write; the index may trail transiently.
func (s *Store) Save(c *Conversation) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	dest := s.conversationPath(c.ID)
	if c.Status == StatusArchived {
		dest = s.archivePath(c.ID)
	}
	if err := atomicWrite(dest, data); err != nil {
		return fmt.Errorf("save conversation %s: %w", c.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := entryFromConversation(c)
	idStr := c.ID.String()
	if c.Status == StatusArchived {
		delete(s.index.Active, idStr)
		s.index.Archived[idStr] = entry
		s.radix.remove(entry.WorkspaceID, idStr)
	} else {
		delete(s.index.Archived, idStr)
		s.index.Active[idStr] = entry
		s.radix.insert(entry)
	}

	return s.writeIndexLocked()
}

// Load reads and parses a conversation by ID. A parse failure quarantines
// the file and removes the ID from the index; both cases return
// (nil, nil) — "not found" — never a parse error, per spec.md §4.3.
func (s *Store) Load(id uuid.UUID) (*Conversation, error) {
	path := s.conversationPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			path = s.archivePath(id)
			data, err = os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, nil
				}
				return nil, fmt.Errorf("read conversation %s: %w", id, err)
			}
		} else {
			return nil, fmt.Errorf("read conversation %s: %w", id, err)
		}
	}

	var c Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", id.String()).Msg("conversation file failed to parse; quarantining")
		if renameErr := os.Rename(path, s.corruptedPath(id)); renameErr != nil {
			s.logger.Warn().Err(renameErr).Msg("failed to quarantine corrupt conversation file")
		}

		s.mu.Lock()
		idStr := id.String()
		delete(s.index.Active, idStr)
		delete(s.index.Archived, idStr)
		_ = s.writeIndexLocked()
		s.mu.Unlock()

		return nil, nil
	}

	return &c, nil
}

// Delete removes a conversation file (active or archived) and its index
// entry.
func (s *Store) Delete(id uuid.UUID) error {
	idStr := id.String()
	_ = os.Remove(s.conversationPath(id))
	_ = os.Remove(s.archivePath(id))

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.index.Active[idStr]; ok {
		s.radix.remove(entry.WorkspaceID, idStr)
	}
	delete(s.index.Active, idStr)
	delete(s.index.Archived, idStr)
	return s.writeIndexLocked()
}

// Archive moves a conversation from active to archived storage via rename,
// then updates the index to match.
func (s *Store) Archive(id uuid.UUID) error {
	return s.move(id, s.conversationPath(id), s.archivePath(id), StatusArchived)
}

// Restore moves a conversation from archived back to active storage.
func (s *Store) Restore(id uuid.UUID) error {
	return s.move(id, s.archivePath(id), s.conversationPath(id), StatusActive)
}

func (s *Store) move(id uuid.UUID, from, to string, newStatus ConversationStatus) error {
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("move conversation %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idStr := id.String()
	var entry ConversationIndexEntry
	if newStatus == StatusArchived {
		entry = s.index.Active[idStr]
		delete(s.index.Active, idStr)
	} else {
		entry = s.index.Archived[idStr]
		delete(s.index.Archived, idStr)
	}
	entry.Status = newStatus

	if newStatus == StatusArchived {
		s.index.Archived[idStr] = entry
		s.radix.remove(entry.WorkspaceID, idStr)
	} else {
		s.index.Active[idStr] = entry
		s.radix.insert(entry)
	}
	return s.writeIndexLocked()
}

// ListIDs returns the IDs of every active conversation, optionally filtered
// to a workspace.
func (s *Store) ListIDs(workspaceID string) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if workspaceID != "" {
		return s.radix.listByWorkspace(workspaceID)
	}

	ids := make([]uuid.UUID, 0, len(s.index.Active))
	for _, entry := range s.index.Active {
		ids = append(ids, entry.ID)
	}
	return ids
}

// ListArchivedIDs returns the IDs of every archived conversation.
func (s *Store) ListArchivedIDs() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(s.index.Archived))
	for _, entry := range s.index.Archived {
		ids = append(ids, entry.ID)
	}
	return ids
}
