package convsearch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/toolmind/internal/convstore"
)

// EmbeddingClient is the capability SemanticSearchEngine needs from Core C;
// internal/embedpool.Pool satisfies it structurally.
type EmbeddingClient interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// clearer is implemented by VectorIndex backends that support a full-clear
// (the local implementation does); external engines may instead implement
// Clear via a match-everything filtered delete.
type clearer interface {
	Clear(ctx context.Context) error
}

// ConversationHit is one deduplicated, scored search result.
type ConversationHit struct {
	ConversationID string
	Title          string
	Score          float64
	Snippets       []string
}

// Query describes a search request: embed-once text plus server-side and
// client-side filters, per §4.4.
type Query struct {
	Text        string
	WorkspaceID string
	Status      string
	ProjectType string
	Tags        []string
	DateFrom    *time.Time
	DateTo      *time.Time
	TopK        int
}

// SemanticSearchEngine keeps a VectorIndex collection synchronized with the
// active conversation set and serves similarity queries with a lexical
// fallback when no vector index is configured or the query has no text.
type SemanticSearchEngine struct {
	index    VectorIndex
	lexical  *LexicalIndex
	embedder EmbeddingClient
	logger   zerolog.Logger
}

// NewSemanticSearchEngine wires a VectorIndex (may be nil, lexical-only) and
// an EmbeddingClient into a ready search engine.
func NewSemanticSearchEngine(index VectorIndex, embedder EmbeddingClient, logger zerolog.Logger) *SemanticSearchEngine {
	return &SemanticSearchEngine{
		index:    index,
		lexical:  NewLexicalIndex(),
		embedder: embedder,
		logger:   logger.With().Str("component", "convsearch").Logger(),
	}
}

// IndexConversation chunks a conversation, embeds every chunk in one
// batched call, and upserts all resulting points as a single operation.
func (e *SemanticSearchEngine) IndexConversation(ctx context.Context, c *convstore.Conversation) error {
	e.lexical.Index(c)

	if e.index == nil {
		return nil
	}

	chunks := ExtractChunks(c)
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	vectors, err := e.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed conversation %s: %w", c.ID, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embed conversation %s: got %d vectors for %d chunks", c.ID, len(vectors), len(chunks))
	}

	var projectType string
	if c.ProjectContext != nil {
		projectType = c.ProjectContext.Type
	}

	convID := c.ID.String()
	points := make([]Point, len(chunks))
	for i, ch := range chunks {
		points[i] = Point{
			ID:             PointID(convID, i),
			Vector:         vectors[i],
			ConversationID: convID,
			ChunkIndex:     i,
			Title:          ch.Title,
			Content:        ch.Content,
			WorkspaceID:    c.WorkspaceID,
			Tags:           c.Tags,
			Status:         string(c.Status),
			ProjectType:    projectType,
			Timestamp:      c.LastActiveAt,
		}
	}

	if err := e.index.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upsert conversation %s: %w", c.ID, err)
	}
	return nil
}

// RemoveConversation deletes every point belonging to conversationID via a
// filter-based delete, and drops it from the lexical index.
func (e *SemanticSearchEngine) RemoveConversation(ctx context.Context, conversationID string) error {
	e.lexical.Remove(conversationID)
	if e.index == nil {
		return nil
	}
	if err := e.index.DeleteByConversationID(ctx, conversationID); err != nil {
		return fmt.Errorf("remove conversation %s: %w", conversationID, err)
	}
	return nil
}

// Search embeds the query text once (when present), issues a single vector
// search with server-side filters, applies date-range and tag filters
// client-side, groups by conversation_id taking the max score, and returns
// results sorted descending. With no query text or no vector index
// configured, it falls back to the lexical path.
func (e *SemanticSearchEngine) Search(ctx context.Context, q Query) ([]ConversationHit, error) {
	if e.index == nil || q.Text == "" {
		return e.lexicalSearch(q), nil
	}

	vectors, err := e.embedder.EmbedTexts(ctx, []string{q.Text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vectors))
	}

	filter := Filter{WorkspaceID: q.WorkspaceID, Status: q.Status, ProjectType: q.ProjectType}
	hits, err := e.index.Search(ctx, vectors[0], maxInt(q.TopK*4, q.TopK), filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	grouped := make(map[string]*ConversationHit)
	var order []string
	for _, hit := range hits {
		if len(q.Tags) > 0 && !containsAllTags(hit.Point.Tags, q.Tags) {
			continue
		}
		if !inDateRange(hit.Point.Timestamp, q.DateFrom, q.DateTo) {
			continue
		}

		existing, ok := grouped[hit.Point.ConversationID]
		if !ok {
			grouped[hit.Point.ConversationID] = &ConversationHit{
				ConversationID: hit.Point.ConversationID,
				Title:          hit.Point.Title,
				Score:          hit.Score,
				Snippets:       []string{hit.Point.Content},
			}
			order = append(order, hit.Point.ConversationID)
			continue
		}
		existing.Snippets = append(existing.Snippets, hit.Point.Content)
		if hit.Score > existing.Score {
			existing.Score = hit.Score
		}
	}

	results := make([]ConversationHit, 0, len(order))
	for _, id := range order {
		results = append(results, *grouped[id])
	}
	sortHitsDescending(results)

	if q.TopK > 0 && len(results) > q.TopK {
		results = results[:q.TopK]
	}
	return results, nil
}

func (e *SemanticSearchEngine) lexicalSearch(q Query) []ConversationHit {
	lexResults := e.lexical.Search(q.Text, q.Tags, q.DateFrom, q.DateTo, q.TopK)
	results := make([]ConversationHit, len(lexResults))
	for i, r := range lexResults {
		results[i] = ConversationHit{ConversationID: r.ConversationID, Title: r.Title, Score: r.Score}
	}
	return results
}

// Rebuild clears the vector index and reindexes every conversation from
// scratch. Only backends that implement Clear are cleared; on any other
// backend existing points are left in place and reindexing upserts over
// them, so points of conversations absent from the list are not removed.
func (e *SemanticSearchEngine) Rebuild(ctx context.Context, conversations []*convstore.Conversation) error {
	if e.index != nil {
		if c, ok := e.index.(clearer); ok {
			if err := c.Clear(ctx); err != nil {
				return fmt.Errorf("clear vector index: %w", err)
			}
		}
	}

	for _, c := range conversations {
		if err := e.IndexConversation(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func containsAllTags(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

func sortHitsDescending(hits []ConversationHit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
