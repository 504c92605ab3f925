// Package embedding produces vector embeddings for envelope sections and
// retrieval queries, via ONNX runtime when available or a deterministic
// hash embedder otherwise.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
