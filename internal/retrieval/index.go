// Package retrieval routes queries to the optimal retrieval path and
// assembles the results into a model-ready context block.
package retrieval

import (
	"context"

	"github.com/hyperjump/tsutsumi/internal/models"
)

// PriceRange filters entities by numeric value.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Filters narrow structure queries by constraint values found in the query.
type Filters struct {
	PriceRange *PriceRange `json:"price_range,omitempty"`
	Dates      []string    `json:"dates,omitempty"`
	Versions   []string    `json:"versions,omitempty"`
}

// EntityHit is a structured entity returned by a structure query, with the
// envelope it belongs to and the match score.
type EntityHit struct {
	Entity     models.Entity `json:"entity"`
	EnvelopeID string        `json:"envelope_id"`
	Score      float64       `json:"score"`
}

// NarrativeHit is a narrative match, anchored when the matched content
// falls inside an anchor's range.
type NarrativeHit struct {
	EnvelopeID string  `json:"envelope_id"`
	AnchorID   string  `json:"anchor_id,omitempty"`
	Content    string  `json:"content"`
	LineStart  int     `json:"line_start"`
	Score      float64 `json:"score"`
}

// AnchorSection is the full narrative section behind an anchor.
type AnchorSection struct {
	EnvelopeID string `json:"envelope_id"`
	AnchorID   string `json:"anchor_id"`
	Title      string `json:"title,omitempty"`
	Content    string `json:"content"`
	LineStart  int    `json:"line_start"`
	LineEnd    int    `json:"line_end"`
}

// Index is the backend the router queries. Implementations may be backed by
// any combination of keyword, vector, and relational stores.
type Index interface {
	// QueryStructure searches the structured entity index.
	QueryStructure(ctx context.Context, query string, filters *Filters, limit int) ([]EntityHit, error)
	// QueryNarrative searches narrative content semantically.
	QueryNarrative(ctx context.Context, query string, limit int) ([]NarrativeHit, error)
	// GetByAnchor returns the narrative section behind an anchor, or nil
	// when the anchor does not exist.
	GetByAnchor(ctx context.Context, envelopeID, anchorID string) (*AnchorSection, error)
	// GetEntitiesByAnchor returns entities bound to an anchor.
	GetEntitiesByAnchor(ctx context.Context, envelopeID, anchorID string) ([]models.Entity, error)
}
