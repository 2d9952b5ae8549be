package convsearch

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/ZanzyTHEbar/toolmind/internal/convstore"
)

// LexicalResult is one hit from the lexical fallback path.
type LexicalResult struct {
	ConversationID string
	Title          string
	Score          float64
}

// LexicalIndex serves whole-token overlap queries over cached
// conversation titles and tags, without any embedding calls. It is used
// when no VectorIndex is configured, or a query carries no text, supplying
// the "lexical" half of spec.md's OVERVIEW that §4.4 leaves undetailed.
type LexicalIndex struct {
	mu         sync.RWMutex
	titles     map[string]string    // conversationID -> title
	tags       map[string][]string  // conversationID -> tags
	lastActive map[string]time.Time // conversationID -> last_active_at, for date-range filtering
	ordinals   []string             // conversationID in insertion order, for stable bitmap positions
	position   map[string]uint32
	tagPostings map[string]*roaring.Bitmap // tag -> bitmap of ordinal positions
}

// NewLexicalIndex builds an empty lexical index.
func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{
		titles:      make(map[string]string),
		tags:        make(map[string][]string),
		lastActive:  make(map[string]time.Time),
		position:    make(map[string]uint32),
		tagPostings: make(map[string]*roaring.Bitmap),
	}
}

// Index (or reindexes) one conversation's title, tags, and last-active
// timestamp.
func (l *LexicalIndex) Index(c *convstore.Conversation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := c.ID.String()
	if _, ok := l.position[id]; !ok {
		l.position[id] = uint32(len(l.ordinals))
		l.ordinals = append(l.ordinals, id)
	}
	pos := l.position[id]

	for _, tag := range l.tags[id] {
		if bm, ok := l.tagPostings[tag]; ok {
			bm.Remove(pos)
		}
	}

	l.titles[id] = c.Title
	l.tags[id] = c.Tags
	l.lastActive[id] = c.LastActiveAt

	for _, tag := range c.Tags {
		bm, ok := l.tagPostings[tag]
		if !ok {
			bm = roaring.New()
			l.tagPostings[tag] = bm
		}
		bm.Add(pos)
	}
}

// Remove deletes a conversation from the lexical index.
func (l *LexicalIndex) Remove(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.position[conversationID]
	if !ok {
		return
	}
	for _, tag := range l.tags[conversationID] {
		if bm, ok := l.tagPostings[tag]; ok {
			bm.Remove(pos)
		}
	}
	delete(l.titles, conversationID)
	delete(l.tags, conversationID)
	delete(l.lastActive, conversationID)
	delete(l.position, conversationID)
}

// Search scores conversations by token overlap between query and title,
// restricted to conversations carrying every tag in requiredTags (computed
// via roaring bitmap intersection over the tag postings) and whose
// last-active timestamp falls within [dateFrom, dateTo].
func (l *LexicalIndex) Search(query string, requiredTags []string, dateFrom, dateTo *time.Time, topK int) []LexicalResult {
	l.mu.RLock()
	defer l.mu.RUnlock()

	allowed := l.allowedPositionsLocked(requiredTags)

	queryTokens := tokenize(query)
	var results []LexicalResult
	for id, title := range l.titles {
		pos, ok := l.position[id]
		if !ok {
			continue
		}
		if allowed != nil && !allowed.Contains(pos) {
			continue
		}
		if !inDateRange(l.lastActive[id], dateFrom, dateTo) {
			continue
		}
		score := tokenOverlapScore(queryTokens, tokenize(title))
		if score <= 0 && query != "" {
			continue
		}
		results = append(results, LexicalResult{ConversationID: id, Title: title, Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// allowedPositionsLocked intersects the postings for every required tag,
// returning nil (meaning "no restriction") when requiredTags is empty.
func (l *LexicalIndex) allowedPositionsLocked(requiredTags []string) *roaring.Bitmap {
	if len(requiredTags) == 0 {
		return nil
	}
	result := roaring.New()
	for i, tag := range requiredTags {
		bm, ok := l.tagPostings[tag]
		if !ok {
			return roaring.New() // one required tag has zero matches
		}
		if i == 0 {
			result = bm.Clone()
			continue
		}
		result.And(bm)
	}
	return result
}

func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(s)) {
		tokens[field] = struct{}{}
	}
	return tokens
}

func tokenOverlapScore(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	overlap := 0
	for t := range a {
		if _, ok := b[t]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(a))
}

// inDateRange reports whether t falls within [from, to]; a nil bound is
// unconstrained on that side. Used by both the vector and lexical search
// paths' client-side filter pass, alongside the tag filter.
func inDateRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}
