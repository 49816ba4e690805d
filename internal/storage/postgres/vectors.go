package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/store-agent/backend/internal/storage/models"
	"github.com/store-agent/backend/internal/vector"
)

// Corpus tables share the layout (id, category, title, content, embedding vector(1536));
// Migrate adds doc_id for ingested chunks.
var corpusTables = map[vector.Corpus]string{
	vector.CorpusManuals:  "manuals",
	vector.CorpusPolicies: "policies",
}

const searchCorpusSQL = `SELECT id::text, COALESCE(title, ''), COALESCE(category, ''), content,
	(embedding <=> $1::vector)::float8 AS distance
FROM %s
ORDER BY distance
LIMIT $2`

const (
	insertCorpusSQL = `INSERT INTO %s (doc_id, category, title, content, embedding) VALUES ($1, $2, $3, $4, $5::vector)`
	deleteCorpusSQL = `DELETE FROM %s WHERE doc_id = $1`
)

// Search runs a cosine-distance query against the pgvector table for corpus.
func (s *Store) Search(ctx context.Context, corpus vector.Corpus, embedding []float32, topK int) ([]vector.Match, error) {
	table, ok := corpusTables[corpus]
	if !ok {
		return nil, fmt.Errorf("unknown corpus %q", corpus)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, fmt.Sprintf(searchCorpusSQL, table), vectorLiteral(embedding), vector.ClampTopK(topK))
	if err != nil {
		return nil, wrap(err, "postgres: search "+table)
	}
	defer rows.Close()

	var matches []vector.Match
	for rows.Next() {
		m := vector.Match{Corpus: corpus}
		if err := rows.Scan(&m.ID, &m.Title, &m.Category, &m.Content, &m.Distance); err != nil {
			return nil, wrap(err, "postgres: scan "+table)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "postgres: search "+table)
	}

	vector.SortByDistance(matches)
	return matches, nil
}

// Insert writes document chunks into their corpus tables.
func (s *Store) Insert(ctx context.Context, chunks []models.DocumentChunk) error {
	for _, chunk := range chunks {
		table, ok := corpusTables[vector.Corpus(chunk.Corpus)]
		if !ok {
			return fmt.Errorf("unknown corpus %q", chunk.Corpus)
		}

		ctx, cancel := s.withTimeout(ctx)
		_, err := s.pool.Exec(ctx, fmt.Sprintf(insertCorpusSQL, table),
			chunk.DocID, chunk.Category, chunk.Title, chunk.Text, vectorLiteral(chunk.Embedding))
		cancel()
		if err != nil {
			return wrap(err, "postgres: insert "+table)
		}
	}
	return nil
}

// DeleteDocument removes the chunks previously ingested for docID.
func (s *Store) DeleteDocument(ctx context.Context, corpus vector.Corpus, docID string) error {
	table, ok := corpusTables[corpus]
	if !ok {
		return fmt.Errorf("unknown corpus %q", corpus)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, fmt.Sprintf(deleteCorpusSQL, table), docID)
	return wrap(err, "postgres: delete "+table+" document")
}

// vectorLiteral renders v in pgvector text form, e.g. [0.1,0.2].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
