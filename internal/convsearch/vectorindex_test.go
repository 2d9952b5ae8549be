package convsearch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func openTestVectorIndex(t *testing.T) VectorIndex {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.db")
	idx, err := OpenLocalVectorIndex(path, "conversations", 4, zerolog.Nop())
	require.NoError(t, err)
	return idx
}

func TestLocalVectorIndex_SearchFiltersByStatusAndProjectType(t *testing.T) {
	idx := openTestVectorIndex(t)
	ctx := context.Background()

	points := []Point{
		{ID: "a", Vector: []float32{1, 0, 0, 0}, ConversationID: "conv-a", WorkspaceID: "ws1", Status: "active", ProjectType: "rust"},
		{ID: "b", Vector: []float32{1, 0, 0, 0}, ConversationID: "conv-b", WorkspaceID: "ws1", Status: "archived", ProjectType: "rust"},
		{ID: "c", Vector: []float32{1, 0, 0, 0}, ConversationID: "conv-c", WorkspaceID: "ws1", Status: "active", ProjectType: "go"},
	}
	require.NoError(t, idx.Upsert(ctx, points))

	activeOnly, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, Filter{WorkspaceID: "ws1", Status: "active"})
	require.NoError(t, err)
	require.Len(t, activeOnly, 2)
	for _, h := range activeOnly {
		require.Equal(t, "active", h.Point.Status)
	}

	rustOnly, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, Filter{WorkspaceID: "ws1", ProjectType: "rust"})
	require.NoError(t, err)
	require.Len(t, rustOnly, 2)
	for _, h := range rustOnly {
		require.Equal(t, "rust", h.Point.ProjectType)
	}

	activeRust, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, Filter{WorkspaceID: "ws1", Status: "active", ProjectType: "rust"})
	require.NoError(t, err)
	require.Len(t, activeRust, 1)
	require.Equal(t, "a", activeRust[0].Point.ID)
}

func TestLocalVectorIndex_SearchRoundTripsTimestamp(t *testing.T) {
	idx := openTestVectorIndex(t)
	ctx := context.Background()

	ts := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, idx.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0, 0, 0}, ConversationID: "conv-a", Timestamp: ts},
	}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.True(t, hits[0].Point.Timestamp.Equal(ts))
}
