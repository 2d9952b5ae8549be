package convsearch

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
	"gonum.org/v1/gonum/floats"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Point is one vector-index entry: an embedding plus the payload fields the
// core's query path filters and groups on.
type Point struct {
	ID             string
	Vector         []float32
	ConversationID string
	ChunkIndex     int
	Title          string
	Content        string
	WorkspaceID    string
	Tags           []string
	Status         string
	ProjectType    string
	Timestamp      time.Time
}

// Filter restricts a vector search to points whose payload matches.
// Zero-value fields are treated as "unconstrained."
type Filter struct {
	WorkspaceID string
	Status      string
	ProjectType string
}

// ScoredPoint is one vector search hit.
type ScoredPoint struct {
	Point Point
	Score float64
}

// VectorIndex is the external contract of §6: a single named collection, a
// named dense vector, fixed dimension, cosine distance, and exactly three
// operations.
type VectorIndex interface {
	Upsert(ctx context.Context, points []Point) error
	DeleteByConversationID(ctx context.Context, conversationID string) error
	Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]ScoredPoint, error)
}

// localVectorIndex is the in-process default: a single libsql table storing
// each point's payload fields in their own columns (tags JSON-encoded) and
// its vector as a JSON-encoded float array, scored by brute-force cosine similarity via gonum — grounded on
// the teacher's flat_index.go shape, with the hand-rolled distance loop
// replaced by gonum/floats.
type localVectorIndex struct {
	db         *sql.DB
	collection string
	dim        int
}

// OpenLocalVectorIndex opens (creating if needed) a libsql-backed vector
// index file at path, scoped to collection and a fixed dimension. Grounded
// on the teacher's embedded-libsql connector: ensures the containing
// directory and file exist, then opens with WAL journaling and a private
// page cache, tuned for a single-process embedded store rather than a
// shared server.
func OpenLocalVectorIndex(path, collection string, dim int, logger zerolog.Logger) (VectorIndex, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector index directory %s: %w", dir, err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info().Str("path", path).Msg("vector index database not found, creating")
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create vector index db at %s: %w", path, err)
		}
		f.Close()
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000&_temp_store=memory", path)

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open vector index db: %w", err)
	}

	idx := &localVectorIndex{db: db, collection: collection, dim: dim}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// migrate runs the embedded goose migrations against the collection's
// database. The collection is a single named table ("points"), matching
// §6's "single named collection" contract — one libsql file per
// collection, rather than a table-per-collection scheme.
func (idx *localVectorIndex) migrate() error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(idx.db, "migrations"); err != nil {
		return fmt.Errorf("run vector index migrations: %w", err)
	}
	return nil
}

// Upsert implements VectorIndex.
func (idx *localVectorIndex) Upsert(ctx context.Context, points []Point) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO points (id, conversation_id, chunk_index, title, content, workspace_id, tags, vector, status, project_type, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id=excluded.conversation_id,
			chunk_index=excluded.chunk_index,
			title=excluded.title,
			content=excluded.content,
			workspace_id=excluded.workspace_id,
			tags=excluded.tags,
			vector=excluded.vector,
			status=excluded.status,
			project_type=excluded.project_type,
			last_active_at=excluded.last_active_at
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if len(p.Vector) != idx.dim {
			return fmt.Errorf("vector index: point %s has dimension %d, expected %d", p.ID, len(p.Vector), idx.dim)
		}
		tagsJSON, err := json.Marshal(p.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
		vecJSON, err := json.Marshal(p.Vector)
		if err != nil {
			return fmt.Errorf("marshal vector: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.ConversationID, p.ChunkIndex, p.Title, p.Content, p.WorkspaceID, string(tagsJSON), string(vecJSON), p.Status, p.ProjectType, p.Timestamp.Unix()); err != nil {
			return fmt.Errorf("upsert point %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteByConversationID implements VectorIndex: a filter-based delete, not
// an enumeration, matching the §4.4 point-deletion contract.
func (idx *localVectorIndex) DeleteByConversationID(ctx context.Context, conversationID string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM points WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("delete by conversation_id: %w", err)
	}
	return nil
}

// Clear deletes every point in the collection, the mechanism the retrieval
// engine's Rebuild uses to implement "clear then reindex."
func (idx *localVectorIndex) Clear(ctx context.Context) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM points`)
	if err != nil {
		return fmt.Errorf("clear vector index: %w", err)
	}
	return nil
}

// Search implements VectorIndex: server-side filtering on workspace_id,
// status, and project_type, brute-force cosine ranking via gonum, returned
// sorted descending.
func (idx *localVectorIndex) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]ScoredPoint, error) {
	if len(vector) != idx.dim {
		return nil, fmt.Errorf("vector index: query dimension %d, expected %d", len(vector), idx.dim)
	}

	query := `SELECT id, conversation_id, chunk_index, title, content, workspace_id, tags, vector, status, project_type, last_active_at FROM points`
	var conds []string
	var args []interface{}
	if filter.WorkspaceID != "" {
		conds = append(conds, `workspace_id = ?`)
		args = append(args, filter.WorkspaceID)
	}
	if filter.Status != "" {
		conds = append(conds, `status = ?`)
		args = append(args, filter.Status)
	}
	if filter.ProjectType != "" {
		conds = append(conds, `project_type = ?`)
		args = append(args, filter.ProjectType)
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}

	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search vector index: %w", err)
	}
	defer rows.Close()

	queryVec := toFloat64(vector)
	queryNorm := floats.Norm(queryVec, 2)

	var hits []ScoredPoint
	for rows.Next() {
		var (
			p           Point
			tagsJSON    string
			vecJSON     string
			status      sql.NullString
			projectType sql.NullString
			lastActive  sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.ConversationID, &p.ChunkIndex, &p.Title, &p.Content, &p.WorkspaceID, &tagsJSON, &vecJSON, &status, &projectType, &lastActive); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		_ = json.Unmarshal([]byte(tagsJSON), &p.Tags)
		if err := json.Unmarshal([]byte(vecJSON), &p.Vector); err != nil {
			continue
		}
		p.Status = status.String
		p.ProjectType = projectType.String
		if lastActive.Valid {
			p.Timestamp = time.Unix(lastActive.Int64, 0).UTC()
		}

		candidate := toFloat64(p.Vector)
		score := cosineSimilarity(queryVec, queryNorm, candidate)
		hits = append(hits, ScoredPoint{Point: p, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// cosineSimilarity computes 1 - cosine distance between a and b, where
// aNorm is the precomputed L2 norm of a (reused across every candidate in
// a single search call).
func cosineSimilarity(a []float64, aNorm float64, b []float64) float64 {
	bNorm := floats.Norm(b, 2)
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	return floats.Dot(a, b) / (aNorm * bNorm)
}
