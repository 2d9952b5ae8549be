package convstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(context.Background(), dir, NewFileInstanceLock(dir), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Property 7: save/load round-trip.
func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)

	c := NewConversation("Rust")
	c.Messages = append(c.Messages, Message{Role: "user", Content: "hello"})

	require.NoError(t, store.Save(c))

	loaded, err := store.Load(c.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, c.ID, loaded.ID)
	assert.Equal(t, c.Title, loaded.Title)
	assert.Equal(t, c.Messages, loaded.Messages)
}

// E4 / Property 8: truncated file self-heals to "not found" and removes
// the ID from the index, quarantining the original file.
func TestStore_CorruptedFileSelfHeals(t *testing.T) {
	store := openTestStore(t)

	c := NewConversation("Rust")
	require.NoError(t, store.Save(c))

	path := store.conversationPath(c.ID)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-1], 0o644))

	loaded, err := store.Load(c.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	ids := store.ListIDs("")
	assert.NotContains(t, ids, c.ID)

	_, statErr := os.Stat(filepath.Join(store.corruptDir, c.ID.String()+".json.corrupted"))
	assert.NoError(t, statErr)
}

func TestStore_CorruptedIndexSelfHeals(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, activeDirName), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, archiveDirName), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, corruptedDirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFileName), []byte("{not json"), 0o644))

	store, err := Open(context.Background(), dir, nil, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	assert.Empty(t, store.ListIDs(""))
	_, statErr := os.Stat(filepath.Join(dir, indexFileName+".corrupted"))
	assert.NoError(t, statErr)
}

// E5: archive then restore round-trips list membership.
func TestStore_ArchiveRestoreCycle(t *testing.T) {
	store := openTestStore(t)

	c := NewConversation("Rust")
	require.NoError(t, store.Save(c))

	assert.ElementsMatch(t, []interface{}{c.ID}, toInterfaceSlice(store.ListIDs("")))
	assert.Empty(t, store.ListArchivedIDs())

	require.NoError(t, store.Archive(c.ID))
	assert.Empty(t, store.ListIDs(""))
	assert.ElementsMatch(t, []interface{}{c.ID}, toInterfaceSlice(store.ListArchivedIDs()))

	require.NoError(t, store.Restore(c.ID))
	assert.ElementsMatch(t, []interface{}{c.ID}, toInterfaceSlice(store.ListIDs("")))
	assert.Empty(t, store.ListArchivedIDs())
}

func TestStore_WorkspaceFilteredListing(t *testing.T) {
	store := openTestStore(t)

	a := NewConversation("A")
	a.WorkspaceID = "ws1"
	b := NewConversation("B")
	b.WorkspaceID = "ws2"

	require.NoError(t, store.Save(a))
	require.NoError(t, store.Save(b))

	ws1 := store.ListIDs("ws1")
	assert.ElementsMatch(t, []interface{}{a.ID}, toInterfaceSlice(ws1))
}

// Archiving must drop a conversation from its workspace-filtered listing,
// restoring must bring it back, and deleting an archived conversation must
// not leave a stale radix entry behind for a later active conversation in
// the same workspace to collide with.
func TestStore_ArchiveExcludesFromWorkspaceFilteredListing(t *testing.T) {
	store := openTestStore(t)

	a := NewConversation("A")
	a.WorkspaceID = "ws1"
	b := NewConversation("B")
	b.WorkspaceID = "ws1"

	require.NoError(t, store.Save(a))
	require.NoError(t, store.Save(b))
	assert.ElementsMatch(t, []interface{}{a.ID, b.ID}, toInterfaceSlice(store.ListIDs("ws1")))

	require.NoError(t, store.Archive(a.ID))
	assert.ElementsMatch(t, []interface{}{b.ID}, toInterfaceSlice(store.ListIDs("ws1")))

	require.NoError(t, store.Restore(a.ID))
	assert.ElementsMatch(t, []interface{}{a.ID, b.ID}, toInterfaceSlice(store.ListIDs("ws1")))

	require.NoError(t, store.Archive(a.ID))
	require.NoError(t, store.Delete(a.ID))
	assert.ElementsMatch(t, []interface{}{b.ID}, toInterfaceSlice(store.ListIDs("ws1")))
	assert.Empty(t, store.ListArchivedIDs())
}

// A conversation saved directly in StatusArchived (not via Archive) must
// not appear in a workspace-filtered listing either — Save itself must
// keep the radix in sync, not just the move() path.
func TestStore_SaveArchivedStatusExcludesFromWorkspaceListing(t *testing.T) {
	store := openTestStore(t)

	c := NewConversation("A")
	c.WorkspaceID = "ws1"
	c.Status = StatusArchived

	require.NoError(t, store.Save(c))
	assert.Empty(t, store.ListIDs("ws1"))
	assert.ElementsMatch(t, []interface{}{c.ID}, toInterfaceSlice(store.ListArchivedIDs()))
}

func toInterfaceSlice(ids []uuid.UUID) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
