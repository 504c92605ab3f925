// Package keyword provides the Bleve-backed structured entity index.
package keyword

import (
	"context"

	"github.com/hyperjump/tsutsumi/internal/models"
	"github.com/hyperjump/tsutsumi/internal/retrieval"
)

// EntityResult is one structured match from the entity index.
type EntityResult struct {
	ID         string  // index document ID
	EnvelopeID string
	Score      float64
	Entity     models.Entity
}

// EntityIndex is the interface for structured entity search backends.
type EntityIndex interface {
	// IndexEnvelope indexes all entities of an envelope, replacing any
	// previous entries for the same envelope.
	IndexEnvelope(ctx context.Context, env *models.Envelope) error
	// Search finds entities matching the query text, optionally filtered.
	Search(ctx context.Context, query string, filters *retrieval.Filters, limit int) ([]*EntityResult, error)
	// DeleteEnvelope removes all entities belonging to an envelope.
	DeleteEnvelope(ctx context.Context, envelopeID string) error
	// DocCount returns the number of indexed entities.
	DocCount() (uint64, error)
	// Close releases index resources.
	Close() error
}
