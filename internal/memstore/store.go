package memstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL,
    scope       TEXT NOT NULL,
    type        TEXT NOT NULL,
    content     TEXT NOT NULL,
    why         TEXT,
    context     TEXT,
    tags        TEXT,
    source      TEXT NOT NULL,
    confidence  REAL NOT NULL,
    importance  REAL NOT NULL,
    use_count   INTEGER NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL,
    last_used   DATETIME,
    source_file TEXT,
    embedding   BLOB
);

CREATE INDEX IF NOT EXISTS idx_memories_project_id ON memories(project_id);
CREATE INDEX IF NOT EXISTS idx_memories_type        ON memories(type);
CREATE INDEX IF NOT EXISTS idx_memories_importance  ON memories(importance);
CREATE INDEX IF NOT EXISTS idx_memories_last_used    ON memories(last_used);
`

// Store persists Memory rows in a per-project SQLite database.
type Store struct {
	db       *sql.DB
	provider EmbeddingProvider
}

// EmbeddingProvider generates a single embedding vector for text, kept as
// a minimal slice of internal/embedding.EmbeddingProvider so callers can
// pass that provider directly.
type EmbeddingProvider interface {
	Embed(texts []string) ([][]float64, error)
}

// Open creates or opens the memory database at path with WAL journaling,
// foreign keys, a 5 s busy timeout and synchronous=NORMAL.
func Open(path string, provider EmbeddingProvider) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create memory data directory: %w", err)
		}
	}

	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize memory schema: %w", err)
	}

	return &Store{db: db, provider: provider}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert redacts and length-caps content, optionally embeds it, and
// persists the Memory. It fills ID/CreatedAt/Importance when unset.
func (s *Store) Insert(ctx context.Context, m Memory) (Memory, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Content = TruncateContent(Redact(m.Content))
	m.Why = Redact(m.Why)
	m.Context = Redact(m.Context)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Importance == 0 {
		if def, ok := DefaultImportance[m.Type]; ok {
			m.Importance = def
		}
	}

	if len(m.Embedding) == 0 && s.provider != nil {
		vectors, err := s.provider.Embed([]string{m.Content})
		if err == nil && len(vectors) == 1 {
			m.Embedding = vectors[0]
		}
	}

	var embeddingBlob []byte
	if len(m.Embedding) > 0 {
		embeddingBlob = encodeVector(m.Embedding)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, project_id, scope, type, content, why, context, tags,
			source, confidence, importance, use_count, created_at, last_used,
			source_file, embedding
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, string(m.Scope), string(m.Type), m.Content, m.Why, m.Context,
		strings.Join(m.Tags, ","), string(m.Source), m.Confidence, m.Importance, m.UseCount,
		m.CreatedAt, nullTime(m.LastUsed), m.SourceFile, embeddingBlob)
	if err != nil {
		return Memory{}, fmt.Errorf("insert memory: %w", err)
	}
	return m, nil
}

// Recall merges a keyword LIKE search over content/why/context (constant
// score 0.5 per hit) with an in-process cosine-similarity search over
// stored embeddings, taking the higher score per id, sorted desc,
// truncated to limit. typeFilter is optional.
func (s *Store) Recall(ctx context.Context, query string, limit int, typeFilter []Type) ([]Scored, error) {
	if limit <= 0 {
		limit = 10
	}

	scores := make(map[string]float64)
	rows := make(map[string]Memory)

	keywordHits, err := s.keywordSearch(ctx, query, typeFilter)
	if err != nil {
		return nil, err
	}
	for _, m := range keywordHits {
		scores[m.ID] = 0.5
		rows[m.ID] = m
	}

	if strings.TrimSpace(query) != "" && s.provider != nil {
		vectors, err := s.provider.Embed([]string{query})
		if err == nil && len(vectors) == 1 {
			semanticHits, err := s.semanticSearch(ctx, vectors[0], 2*limit, typeFilter)
			if err == nil {
				for _, sh := range semanticHits {
					if cur, ok := scores[sh.ID]; !ok || sh.Score > cur {
						scores[sh.ID] = sh.Score
					}
					rows[sh.ID] = sh.Memory
				}
			}
		}
	}

	merged := make([]Scored, 0, len(rows))
	for id, m := range rows {
		merged = append(merged, Scored{Memory: m, Score: scores[id]})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (s *Store) keywordSearch(ctx context.Context, query string, typeFilter []Type) ([]Memory, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	pattern := "%" + query + "%"

	sqlQuery := `
		SELECT id, project_id, scope, type, content, why, context, tags,
		       source, confidence, importance, use_count, created_at, last_used,
		       source_file, embedding
		FROM memories
		WHERE (content LIKE ? OR why LIKE ? OR context LIKE ?)`
	args := []any{pattern, pattern, pattern}
	sqlQuery, args = appendTypeFilter(sqlQuery, args, typeFilter)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) semanticSearch(ctx context.Context, queryVec []float64, limit int, typeFilter []Type) ([]Scored, error) {
	sqlQuery := `
		SELECT id, project_id, scope, type, content, why, context, tags,
		       source, confidence, importance, use_count, created_at, last_used,
		       source_file, embedding
		FROM memories
		WHERE embedding IS NOT NULL`
	var args []any
	sqlQuery, args = appendTypeFilter(sqlQuery, args, typeFilter)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()

	var out []Scored
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		if len(m.Embedding) == 0 {
			continue
		}
		out = append(out, Scored{Memory: m, Score: cosineSimilarity(queryVec, m.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func appendTypeFilter(query string, args []any, typeFilter []Type) (string, []any) {
	if len(typeFilter) == 0 {
		return query, args
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(typeFilter)), ",")
	query += fmt.Sprintf(" AND type IN (%s)", placeholders)
	for _, t := range typeFilter {
		args = append(args, string(t))
	}
	return query, args
}

// List returns memories ordered by importance desc, then last_used desc.
func (s *Store) List(ctx context.Context, limit int, typeFilter []Type) ([]Memory, error) {
	sqlQuery := `
		SELECT id, project_id, scope, type, content, why, context, tags,
		       source, confidence, importance, use_count, created_at, last_used,
		       source_file, embedding
		FROM memories WHERE 1=1`
	var args []any
	sqlQuery, args = appendTypeFilter(sqlQuery, args, typeFilter)
	sqlQuery += ` ORDER BY importance DESC, last_used DESC`
	if limit > 0 {
		sqlQuery += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkUsed bumps use_count and last_used for every id, in one transaction.
func (s *Store) MarkUsed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark_used transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE memories SET use_count = use_count + 1, last_used = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare mark_used: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, now, id); err != nil {
			return fmt.Errorf("mark_used %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Delete removes one memory row.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}

func scanMemory(rows *sql.Rows) (Memory, error) {
	var m Memory
	var scope, typ, source, tags string
	var lastUsed sql.NullTime
	var embeddingBlob []byte
	err := rows.Scan(
		&m.ID, &m.ProjectID, &scope, &typ, &m.Content, &m.Why, &m.Context, &tags,
		&source, &m.Confidence, &m.Importance, &m.UseCount, &m.CreatedAt, &lastUsed,
		&m.SourceFile, &embeddingBlob,
	)
	if err != nil {
		return Memory{}, fmt.Errorf("scan memory: %w", err)
	}
	m.Scope = Scope(scope)
	m.Type = Type(typ)
	m.Source = Source(source)
	if tags != "" {
		m.Tags = strings.Split(tags, ",")
	}
	if lastUsed.Valid {
		m.LastUsed = lastUsed.Time
	}
	if len(embeddingBlob) > 0 {
		m.Embedding = decodeVector(embeddingBlob)
	}
	return m, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// encodeVector/decodeVector store embeddings as little-endian f32 bytes,
// per spec §4.5.
func encodeVector(vec []float64) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	}
	return buf
}

func decodeVector(buf []byte) []float64 {
	n := len(buf) / 4
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(buf[i*4:])
		out[i] = float64(math.Float32frombits(bits))
	}
	return out
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
