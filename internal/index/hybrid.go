// Package index combines the envelope store, the structured entity index,
// and the vector index into the single retrieval backend the router queries.
package index

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/tsutsumi/internal/embedding"
	"github.com/hyperjump/tsutsumi/internal/keyword"
	"github.com/hyperjump/tsutsumi/internal/models"
	"github.com/hyperjump/tsutsumi/internal/retrieval"
	"github.com/hyperjump/tsutsumi/internal/storage"
	"github.com/hyperjump/tsutsumi/internal/vector"
)

// vectorIndex is the subset of vector index operations the hybrid index
// needs, including prefix eviction for envelope replacement.
type vectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*vector.Result, error)
	RemovePrefix(prefix string)
}

// HybridIndex implements retrieval.Index. Structure queries go to the bleve
// entity index, narrative queries to the vector index, and anchor lookups to
// SQLite. Envelopes are indexed into all three together so the backends never
// disagree about which envelope version is current.
type HybridIndex struct {
	store    storage.Storage
	entities keyword.EntityIndex
	vectors  vectorIndex
	embedder embedding.Embedder
	logger   *zap.Logger
}

// Option configures a HybridIndex.
type Option func(*HybridIndex)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *HybridIndex) {
		h.logger = l
	}
}

// NewHybridIndex creates a hybrid index over the given backends.
func NewHybridIndex(store storage.Storage, entities keyword.EntityIndex, vectors vectorIndex, embedder embedding.Embedder, opts ...Option) *HybridIndex {
	h := &HybridIndex{
		store:    store,
		entities: entities,
		vectors:  vectors,
		embedder: embedder,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// IndexEnvelope stores the envelope and indexes its entities and anchor
// sections, replacing any previous version.
func (h *HybridIndex) IndexEnvelope(ctx context.Context, env *models.Envelope) error {
	if err := h.store.StoreEnvelope(ctx, env); err != nil {
		return fmt.Errorf("failed to store envelope: %w", err)
	}
	if err := h.entities.IndexEnvelope(ctx, env); err != nil {
		return fmt.Errorf("failed to index entities: %w", err)
	}

	h.vectors.RemovePrefix(env.ID + "|")

	ids := make([]string, 0, len(env.Anchors))
	texts := make([]string, 0, len(env.Anchors))
	for anchorID := range env.Anchors {
		section, ok := env.SectionByAnchor(anchorID)
		if !ok || section == "" {
			continue
		}
		ids = append(ids, env.ID+"|"+anchorID)
		texts = append(texts, section)
	}
	if len(ids) == 0 {
		return nil
	}

	vecs, err := h.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed sections: %w", err)
	}
	if err := h.vectors.Add(ctx, ids, vecs); err != nil {
		return fmt.Errorf("failed to add vectors: %w", err)
	}

	h.logger.Debug("indexed envelope",
		zap.String("envelope_id", env.ID),
		zap.Int("anchors", len(env.Anchors)),
		zap.Int("entities", len(env.Entities)))
	return nil
}

// RemoveEnvelope deletes the envelope from all backends. Returns false when
// the envelope was not stored.
func (h *HybridIndex) RemoveEnvelope(ctx context.Context, envelopeID string) (bool, error) {
	deleted, err := h.store.DeleteEnvelope(ctx, envelopeID)
	if err != nil {
		return false, fmt.Errorf("failed to delete envelope: %w", err)
	}
	if err := h.entities.DeleteEnvelope(ctx, envelopeID); err != nil {
		return deleted, fmt.Errorf("failed to delete entities: %w", err)
	}
	h.vectors.RemovePrefix(envelopeID + "|")
	return deleted, nil
}

// RemoveBySource deletes every envelope built from the given source URI and
// returns the removed envelope IDs.
func (h *HybridIndex) RemoveBySource(ctx context.Context, sourceURI string) ([]string, error) {
	ids, err := h.store.FindBySourceURI(ctx, sourceURI)
	if err != nil {
		return nil, fmt.Errorf("failed to find envelopes for %s: %w", sourceURI, err)
	}
	for _, id := range ids {
		if _, err := h.RemoveEnvelope(ctx, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// QueryStructure searches the entity index.
func (h *HybridIndex) QueryStructure(ctx context.Context, query string, filters *retrieval.Filters, limit int) ([]retrieval.EntityHit, error) {
	results, err := h.entities.Search(ctx, query, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	hits := make([]retrieval.EntityHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, retrieval.EntityHit{
			Entity:     r.Entity,
			EnvelopeID: r.EnvelopeID,
			Score:      r.Score,
		})
	}
	return hits, nil
}

// QueryNarrative embeds the query and searches anchor sections by vector
// similarity.
func (h *HybridIndex) QueryNarrative(ctx context.Context, query string, limit int) ([]retrieval.NarrativeHit, error) {
	qvec, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := h.vectors.Search(ctx, qvec, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	hits := make([]retrieval.NarrativeHit, 0, len(results))
	for _, r := range results {
		envelopeID, anchorID, ok := splitSectionID(r.ID)
		if !ok {
			continue
		}
		anchor, content, err := h.store.GetAnchor(ctx, envelopeID, anchorID)
		if err != nil {
			return nil, err
		}
		if anchor == nil {
			// Vector entry outlived its envelope; skip rather than fail.
			continue
		}
		hits = append(hits, retrieval.NarrativeHit{
			EnvelopeID: envelopeID,
			AnchorID:   anchorID,
			Content:    content,
			LineStart:  anchor.LineStart,
			Score:      r.Score,
		})
	}
	return hits, nil
}

// GetByAnchor returns the narrative section behind an anchor, or nil when
// the anchor does not exist.
func (h *HybridIndex) GetByAnchor(ctx context.Context, envelopeID, anchorID string) (*retrieval.AnchorSection, error) {
	anchor, content, err := h.store.GetAnchor(ctx, envelopeID, anchorID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, nil
	}
	return &retrieval.AnchorSection{
		EnvelopeID: envelopeID,
		AnchorID:   anchor.ID,
		Title:      anchor.Title,
		Content:    content,
		LineStart:  anchor.LineStart,
		LineEnd:    anchor.LineEnd,
	}, nil
}

// GetEntitiesByAnchor returns entities bound to the anchor.
func (h *HybridIndex) GetEntitiesByAnchor(ctx context.Context, envelopeID, anchorID string) ([]models.Entity, error) {
	return h.store.GetEntitiesByAnchor(ctx, envelopeID, anchorID)
}

func splitSectionID(id string) (envelopeID, anchorID string, ok bool) {
	i := strings.IndexByte(id, '|')
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}
