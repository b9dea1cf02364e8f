package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// KnowledgeChunk is one passage of the FAQ knowledge base.
type KnowledgeChunk struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	URL       string    `json:"url,omitempty"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
	Rank      float64   `json:"rank,omitempty"` // bm25 score, search results only
}

// KnowledgeStore manages knowledge chunks with full-text search via SQLite FTS5.
type KnowledgeStore struct {
	db *DB
}

// NewKnowledgeStore creates a knowledge store using the given database.
func NewKnowledgeStore(db *DB) *KnowledgeStore {
	return &KnowledgeStore{db: db}
}

// Store inserts or updates a chunk.
func (k *KnowledgeStore) Store(ctx context.Context, chunk KnowledgeChunk) (*KnowledgeChunk, error) {
	if chunk.ID == "" {
		chunk.ID = uuid.New().String()
	}
	if chunk.Category == "" {
		chunk.Category = "general"
	}
	now := time.Now().UTC()
	chunk.CreatedAt = now

	_, err := k.db.sql.ExecContext(ctx,
		`INSERT INTO knowledge_chunks (id, title, content, url, category, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   content = excluded.content,
		   url = excluded.url,
		   category = excluded.category,
		   updated_at = excluded.updated_at`,
		chunk.ID, chunk.Title, chunk.Content, chunk.URL, chunk.Category,
		now.Format(time.DateTime), now.Format(time.DateTime),
	)
	if err != nil {
		return nil, fmt.Errorf("store chunk: %w", err)
	}
	return &chunk, nil
}

// Search returns the chunks best matching query, title matches weighted
// twice. Free text is tokenized so callers need not know FTS5 syntax.
// Limit of 0 defaults to 3.
func (k *KnowledgeStore) Search(ctx context.Context, query string, limit int) ([]KnowledgeChunk, error) {
	if limit <= 0 {
		limit = 3
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := k.db.sql.QueryContext(ctx,
		`SELECT kc.id, kc.title, kc.content, kc.url, kc.category, kc.created_at,
		        bm25(knowledge_fts, 2.0, 1.0) AS score
		 FROM knowledge_fts
		 JOIN knowledge_chunks kc ON kc.rowid = knowledge_fts.rowid
		 WHERE knowledge_fts MATCH ?
		 ORDER BY score
		 LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var chunks []KnowledgeChunk
	for rows.Next() {
		var c KnowledgeChunk
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Title, &c.Content, &c.URL, &c.Category, &createdAt, &c.Rank); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Count returns the number of stored chunks.
func (k *KnowledgeStore) Count(ctx context.Context) (int, error) {
	var n int
	err := k.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_chunks`).Scan(&n)
	return n, err
}

// Delete removes a chunk by ID.
func (k *KnowledgeStore) Delete(ctx context.Context, id string) error {
	_, err := k.db.sql.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE id = ?`, id)
	return err
}

type knowledgeLine struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	ChunkText string `json:"chunk_text"`
	Content   string `json:"content"`
	URL       string `json:"url"`
	Category  string `json:"category"`
}

// ImportJSONL loads one chunk per line. Blank lines are skipped; a line
// that is not valid JSON or has no text aborts the import.
func (k *KnowledgeStore) ImportJSONL(ctx context.Context, r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	n, lineNo := 0, 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var kl knowledgeLine
		if err := json.Unmarshal([]byte(line), &kl); err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		text := kl.ChunkText
		if text == "" {
			text = kl.Content
		}
		if strings.TrimSpace(text) == "" {
			return n, fmt.Errorf("line %d: missing chunk_text", lineNo)
		}
		if _, err := k.Store(ctx, KnowledgeChunk{
			ID:       kl.ID,
			Title:    kl.Title,
			Content:  text,
			URL:      kl.URL,
			Category: kl.Category,
		}); err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		n++
	}
	return n, sc.Err()
}

// ftsQuery turns free text into an OR of quoted terms.
func ftsQuery(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "can": true, "do": true,
	"does": true, "for": true, "how": true, "i": true, "in": true, "is": true,
	"it": true, "my": true, "of": true, "on": true, "or": true, "the": true,
	"to": true, "what": true, "when": true, "where": true, "with": true, "you": true,
}
