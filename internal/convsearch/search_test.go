package convsearch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/toolmind/internal/convstore"
)

type fakeEmbedder struct {
	dim int
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(i + 1)
		out[i] = v
	}
	return out, nil
}

type fakeVectorIndex struct {
	points map[string]Point
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{points: make(map[string]Point)}
}

func (f *fakeVectorIndex) Upsert(_ context.Context, points []Point) error {
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}

func (f *fakeVectorIndex) DeleteByConversationID(_ context.Context, conversationID string) error {
	for id, p := range f.points {
		if p.ConversationID == conversationID {
			delete(f.points, id)
		}
	}
	return nil
}

func (f *fakeVectorIndex) Search(_ context.Context, _ []float32, topK int, filter Filter) ([]ScoredPoint, error) {
	var hits []ScoredPoint
	for _, p := range f.points {
		if filter.WorkspaceID != "" && p.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.ProjectType != "" && p.ProjectType != filter.ProjectType {
			continue
		}
		hits = append(hits, ScoredPoint{Point: p, Score: 1.0})
	}
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func sampleConversation() *convstore.Conversation {
	c := convstore.NewConversation("Rust")
	c.Messages = []convstore.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}
	c.Tags = []string{"rust", "async"}
	return c
}

func TestExtractChunks_OrderMatchesSpec(t *testing.T) {
	c := sampleConversation()
	chunks := ExtractChunks(c)

	require.Len(t, chunks, 4)
	assert.Equal(t, "Title: Rust", chunks[0].Content)
	assert.Equal(t, "Message 1: hi", chunks[1].Content)
	assert.Equal(t, "Message 2: hello", chunks[2].Content)
	assert.Equal(t, "Tags: rust, async", chunks[3].Content)
}

func TestPointID_Scheme(t *testing.T) {
	assert.Equal(t, "abc_0", PointID("abc", 0))
	assert.Equal(t, "abc_3", PointID("abc", 3))
}

// Property 10: delete by conversation ID removes exactly the matching points.
func TestSemanticSearchEngine_DeleteByConversationIDIsFilterBased(t *testing.T) {
	index := newFakeVectorIndex()
	engine := NewSemanticSearchEngine(index, &fakeEmbedder{dim: 4}, zerolog.Nop())

	c1 := sampleConversation()
	c2 := sampleConversation()

	require.NoError(t, engine.IndexConversation(context.Background(), c1))
	require.NoError(t, engine.IndexConversation(context.Background(), c2))
	assert.Len(t, index.points, 8)

	require.NoError(t, engine.RemoveConversation(context.Background(), c1.ID.String()))

	for _, p := range index.points {
		assert.NotEqual(t, c1.ID.String(), p.ConversationID)
	}
	assert.Len(t, index.points, 4)
}

func TestSemanticSearchEngine_SearchGroupsByConversationID(t *testing.T) {
	index := newFakeVectorIndex()
	engine := NewSemanticSearchEngine(index, &fakeEmbedder{dim: 4}, zerolog.Nop())

	c := sampleConversation()
	require.NoError(t, engine.IndexConversation(context.Background(), c))

	hits, err := engine.Search(context.Background(), Query{Text: "hello", TopK: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, c.ID.String(), hits[0].ConversationID)
}

// Property: date-range filtering applies client-side on both the vector
// and lexical search paths.
func TestSemanticSearchEngine_DateRangeFilterAppliesToVectorPath(t *testing.T) {
	index := newFakeVectorIndex()
	engine := NewSemanticSearchEngine(index, &fakeEmbedder{dim: 4}, zerolog.Nop())

	old := sampleConversation()
	old.LastActiveAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := sampleConversation()
	recent.LastActiveAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, engine.IndexConversation(context.Background(), old))
	require.NoError(t, engine.IndexConversation(context.Background(), recent))

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	hits, err := engine.Search(context.Background(), Query{Text: "hello", TopK: 5, DateFrom: &from})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, recent.ID.String(), hits[0].ConversationID)
}

func TestSemanticSearchEngine_DateRangeFilterAppliesToLexicalPath(t *testing.T) {
	engine := NewSemanticSearchEngine(nil, &fakeEmbedder{dim: 4}, zerolog.Nop())

	old := sampleConversation()
	old.LastActiveAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := sampleConversation()
	recent.LastActiveAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, engine.IndexConversation(context.Background(), old))
	require.NoError(t, engine.IndexConversation(context.Background(), recent))

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	hits, err := engine.Search(context.Background(), Query{Text: "Rust", TopK: 5, DateFrom: &from})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, recent.ID.String(), hits[0].ConversationID)
}
