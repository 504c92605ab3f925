// Package storage defines the persistence interface for envelopes, anchors,
// and entities.
package storage

import (
	"context"

	"github.com/hyperjump/tsutsumi/internal/models"
)

// EntityRecord is an entity row joined with its owning envelope ID, returned
// by cross-envelope entity queries.
type EntityRecord struct {
	EnvelopeID        string         `json:"envelope_id"`
	Type              string         `json:"type"`
	AnchorRef         string         `json:"anchor_ref,omitempty"`
	Properties        map[string]any `json:"properties"`
	BindingConfidence float64        `json:"binding_confidence"`
}

// Stats summarizes the stored corpus.
type Stats struct {
	Envelopes     int64            `json:"envelopes"`
	Anchors       int64            `json:"anchors"`
	Entities      int64            `json:"entities"`
	AvgNoiseScore float64          `json:"avg_noise_score"`
	TotalTokens   int64            `json:"total_tokens"`
	EntityTypes   map[string]int64 `json:"entity_types"`
}

// Storage defines envelope persistence operations. StoreEnvelope replaces any
// previous version of the same envelope, including its anchor and entity rows.
type Storage interface {
	StoreEnvelope(ctx context.Context, env *models.Envelope) error
	GetEnvelope(ctx context.Context, envelopeID string) (*models.Envelope, error)
	DeleteEnvelope(ctx context.Context, envelopeID string) (bool, error)
	ListEnvelopeIDs(ctx context.Context, offset, limit int) ([]string, error)
	FindBySourceURI(ctx context.Context, sourceURI string) ([]string, error)

	GetAnchorContent(ctx context.Context, envelopeID, anchorID string) (string, bool, error)
	GetAnchor(ctx context.Context, envelopeID, anchorID string) (*models.Anchor, string, error)

	GetEntitiesByType(ctx context.Context, entityType string, limit int) ([]EntityRecord, error)
	GetEntitiesByAnchor(ctx context.Context, envelopeID, anchorID string) ([]models.Entity, error)
	SearchEntities(ctx context.Context, query, entityType string, limit int) ([]EntityRecord, error)

	GetStats(ctx context.Context) (*Stats, error)

	Close() error
}
