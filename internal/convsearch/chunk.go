// Package convsearch keeps a vector-index collection synchronized with the
// active conversation set and serves similarity queries with lexical-style
// filters, alongside a pure-lexical fallback path.
package convsearch

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/toolmind/internal/convstore"
)

// Chunk is the unit of embedding: a short string plus the metadata needed
// to reconstruct its point ID and payload.
type Chunk struct {
	Content string
	Title   string
}

// ExtractChunks produces the ordered chunk sequence for a conversation:
// Title, per top-level message, per branch (title/description/messages),
// per checkpoint (title/description), Tags, then Project — in that order,
// matching the original implementation's extract_semantic_content.
func ExtractChunks(c *convstore.Conversation) []Chunk {
	var chunks []Chunk

	chunks = append(chunks, Chunk{Content: fmt.Sprintf("Title: %s", c.Title), Title: c.Title})

	for i, m := range c.Messages {
		chunks = append(chunks, Chunk{
			Content: fmt.Sprintf("Message %d: %s", i+1, m.Content),
			Title:   c.Title,
		})
	}

	for _, branch := range c.Branches {
		chunks = append(chunks, Chunk{Content: branch.Title, Title: c.Title})
		if branch.Description != "" {
			chunks = append(chunks, Chunk{Content: branch.Description, Title: c.Title})
		}
		for _, m := range branch.Messages {
			chunks = append(chunks, Chunk{Content: m.Content, Title: c.Title})
		}
	}

	for _, cp := range c.Checkpoints {
		chunks = append(chunks, Chunk{Content: cp.Title, Title: c.Title})
		if cp.Description != "" {
			chunks = append(chunks, Chunk{Content: cp.Description, Title: c.Title})
		}
	}

	if len(c.Tags) > 0 {
		chunks = append(chunks, Chunk{Content: fmt.Sprintf("Tags: %s", strings.Join(c.Tags, ", ")), Title: c.Title})
	}

	if c.ProjectContext != nil {
		chunks = append(chunks, Chunk{Content: projectChunkContent(c.ProjectContext), Title: c.Title})
	}

	return chunks
}

func projectChunkContent(p *convstore.ProjectContext) string {
	if p.Type != "" {
		return fmt.Sprintf("Project: %s (%s)", p.Name, p.Type)
	}
	return fmt.Sprintf("Project: %s", p.Name)
}

// PointID builds the stable point identifier for chunk index i of
// conversation id, matching the "C_0 … C_{N-1}" scheme.
func PointID(conversationID string, index int) string {
	return fmt.Sprintf("%s_%d", conversationID, index)
}
