// Package menu provides semantic search over the restaurant's dishes.
//
// Dishes live in the vector_store table in PostgreSQL with pgvector
// embeddings. Queries are embedded with the same embedder used at ingestion
// and matched by cosine similarity.
package menu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/delaight/waiter/internal/log"
)

var (
	// ErrEmptyQuery indicates a search with no query text.
	ErrEmptyQuery = errors.New("empty search query")

	// ErrNoEmbedding indicates the embedder returned no vector.
	ErrNoEmbedding = errors.New("embedder returned no embedding")
)

// Document is a dish entry in the vector store.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is a search hit with its cosine similarity score in [0, 1].
type Result struct {
	Document
	Score float64 `json:"score"`
}

// Name returns the dish name from metadata, falling back to the content.
func (d Document) Name() string {
	if name := d.Metadata["Name"]; name != "" {
		return name
	}
	return d.Content
}

// Querier is the database surface the store needs.
// *pgxpool.Pool satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store searches and ingests dishes.
type Store struct {
	q        Querier
	embedder ai.Embedder
	logger   log.Logger
}

// New creates a menu store.
func New(q Querier, embedder ai.Embedder, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{q: q, embedder: embedder, logger: logger}
}

const searchSQL = `
SELECT id::text, content, metadata, 1 - (embedding <=> $1) AS score
FROM vector_store
ORDER BY embedding <=> $1
LIMIT $2`

// Search returns up to topK dishes matching the query, best first.
// Hits scoring below minScore are dropped. No matches is not an error.
func (s *Store) Search(ctx context.Context, query string, topK int, minScore float64) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = 4
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.q.Query(ctx, searchSQL, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("searching dishes: %w", err)
	}
	defer rows.Close()

	results, err := rowsToResults(rows, minScore)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("dish search", "query", query, "hits", len(results))
	return results, nil
}

const insertSQL = `
INSERT INTO vector_store (id, content, metadata, embedding)
VALUES (gen_random_uuid(), $1, $2, $3)`

// Add embeds and stores a dish.
func (s *Store) Add(ctx context.Context, doc Document) error {
	if strings.TrimSpace(doc.Content) == "" {
		return errors.New("empty document content")
	}

	vec, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document: %w", err)
	}

	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	if _, err := s.q.Exec(ctx, insertSQL, doc.Content, meta, pgvector.NewVector(vec)); err != nil {
		return fmt.Errorf("inserting dish: %w", err)
	}
	return nil
}

// Count reports the number of stored dishes.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.q.QueryRow(ctx, "SELECT count(*) FROM vector_store").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting dishes: %w", err)
	}
	return count, nil
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, ErrNoEmbedding
	}
	return resp.Embeddings[0].Embedding, nil
}

func rowsToResults(rows pgx.Rows, minScore float64) ([]Result, error) {
	var results []Result
	for rows.Next() {
		var (
			r    Result
			meta []byte
		)
		if err := rows.Scan(&r.ID, &r.Content, &meta, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning dish row: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decoding dish metadata: %w", err)
			}
		}
		if r.Score < minScore {
			continue
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading dish rows: %w", err)
	}
	return results, nil
}
