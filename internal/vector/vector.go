// Package vector holds the types shared by the similarity-search backends
// (Milvus/Zilliz collections and pgvector tables).
package vector

import (
	"context"
	"sort"

	"github.com/store-agent/backend/internal/storage/models"
)

type Corpus string

const (
	CorpusManuals  Corpus = "manuals"
	CorpusPolicies Corpus = "policies"
)

// MaxCosineDistance is the largest possible cosine distance. It stands in
// for the best distance when a search returns nothing.
const MaxCosineDistance = 2.0

const (
	DefaultTopK = 3
	MaxTopK     = 5
)

func (c Corpus) Valid() bool {
	return c == CorpusManuals || c == CorpusPolicies
}

type Match struct {
	ID       string
	Title    string
	Category string
	Content  string
	Corpus   Corpus
	Distance float64
}

type Searcher interface {
	Search(ctx context.Context, corpus Corpus, embedding []float32, topK int) ([]Match, error)
}

// Writer stores document chunks. DeleteDocument drops every chunk of docID
// so a new version can be inserted without leaving stale chunks behind.
type Writer interface {
	DeleteDocument(ctx context.Context, corpus Corpus, docID string) error
	Insert(ctx context.Context, chunks []models.DocumentChunk) error
}

type Store interface {
	Searcher
	Writer
}

// ClampTopK maps k into [1, MaxTopK], treating non-positive values as DefaultTopK.
func ClampTopK(k int) int {
	switch {
	case k <= 0:
		return DefaultTopK
	case k > MaxTopK:
		return MaxTopK
	default:
		return k
	}
}

// SortByDistance orders matches closest first. Ties keep backend order.
func SortByDistance(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
}
