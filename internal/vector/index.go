// Package vector provides vector storage and similarity search over
// narrative section embeddings.
package vector

import "context"

// Index defines vector storage and nearest-neighbor search. IDs are
// "{envelopeID}|{anchorID}" keys so a hit maps straight back to a section.
type Index interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*Result, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// Result is a single vector search hit.
type Result struct {
	ID    string
	Score float64 // inner product; cosine similarity for normalized vectors
}
