package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/tsutsumi/internal/intent"
	"github.com/hyperjump/tsutsumi/internal/models"
)

// Router classifies queries and dispatches them to the strategy matching
// their intent. Fact queries hit the structure index directly; explanation
// queries search the narrative and expand to whole sections.
type Router struct {
	index      Index
	classifier *intent.Classifier
	logger     *zap.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger.
func WithRouterLogger(l *zap.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a router over the given index backend.
func NewRouter(index Index, opts ...RouterOption) *Router {
	r := &Router{
		index:      index,
		classifier: intent.NewClassifier(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve classifies the query and runs the matching strategy. Set
// expandSections to replace matched fragments with their full sections.
func (r *Router) Retrieve(ctx context.Context, query string, limit int, expandSections bool) ([]models.RetrievalResult, intent.Classified, error) {
	classified := r.classifier.Classify(query)
	results, err := r.dispatch(ctx, classified, classified.Strategy, limit, expandSections)
	if err != nil {
		return nil, classified, err
	}

	r.logger.Debug("retrieved",
		zap.String("query", query),
		zap.String("intent", string(classified.Intent)),
		zap.String("strategy", string(classified.Strategy)),
		zap.Int("results", len(results)))
	return results, classified, nil
}

// RetrieveWithStrategy bypasses classification and forces a strategy.
func (r *Router) RetrieveWithStrategy(ctx context.Context, query string, strategy intent.Strategy, limit int, expandSections bool) ([]models.RetrievalResult, error) {
	classified := r.classifier.Classify(query)
	return r.dispatch(ctx, classified, strategy, limit, expandSections)
}

func (r *Router) dispatch(ctx context.Context, classified intent.Classified, strategy intent.Strategy, limit int, expand bool) ([]models.RetrievalResult, error) {
	switch strategy {
	case intent.StructureFirst:
		return r.structureFirst(ctx, classified, limit, expand)
	case intent.NarrativeFirst:
		return r.narrativeFirst(ctx, classified, limit, expand)
	case intent.HybridParallel:
		return r.hybridParallel(ctx, classified, limit, expand)
	case intent.StructureAggregate:
		return r.structureAggregate(ctx, classified, limit, expand)
	case intent.StructureVerify:
		return r.structureVerify(ctx, classified, limit, expand)
	case intent.NarrativeOrdered:
		return r.narrativeOrdered(ctx, classified, limit, expand)
	case intent.HybridBalanced:
		return r.hybridBalanced(ctx, classified, limit, expand)
	default:
		return nil, fmt.Errorf("unknown strategy: %s", strategy)
	}
}

// queryStructure wraps the index call so a failing backend degrades to an
// empty result set instead of aborting the whole retrieval.
func (r *Router) queryStructure(ctx context.Context, query string, filters *Filters, limit int) []EntityHit {
	hits, err := r.index.QueryStructure(ctx, query, filters, limit)
	if err != nil {
		r.logger.Warn("structure query degraded to empty", zap.String("query", query), zap.Error(err))
		return nil
	}
	return hits
}

// queryNarrative wraps the narrative index call with the same degradation.
func (r *Router) queryNarrative(ctx context.Context, query string, limit int) []NarrativeHit {
	chunks, err := r.index.QueryNarrative(ctx, query, limit)
	if err != nil {
		r.logger.Warn("narrative query degraded to empty", zap.String("query", query), zap.Error(err))
		return nil
	}
	return chunks
}

// structureFirst queries the entity index, then pulls the narrative section
// behind each entity's anchor for context.
func (r *Router) structureFirst(ctx context.Context, classified intent.Classified, limit int, expand bool) ([]models.RetrievalResult, error) {
	hits := r.queryStructure(ctx, classified.Query, buildFilters(classified.Constraint), limit)

	results := make([]models.RetrievalResult, 0, len(hits))
	for _, hit := range hits {
		result := models.RetrievalResult{
			Type:     models.ResultStructured,
			SourceID: hit.EnvelopeID,
			AnchorID: hit.Entity.AnchorRef,
			Score:    hit.Score,
			Entities: []models.Entity{hit.Entity},
			Metadata: map[string]any{"strategy": string(intent.StructureFirst)},
		}
		if hit.Entity.AnchorRef != "" && expand {
			anchorID := strings.TrimPrefix(hit.Entity.AnchorRef, "#")
			if section, err := r.index.GetByAnchor(ctx, hit.EnvelopeID, anchorID); err == nil && section != nil {
				result.Content = section.Content
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// narrativeFirst over-fetches narrative matches, dedupes them by section,
// and expands each surviving match to its full section so the reader never
// sees fragments.
func (r *Router) narrativeFirst(ctx context.Context, classified intent.Classified, limit int, expand bool) ([]models.RetrievalResult, error) {
	chunks := r.queryNarrative(ctx, classified.Query, limit*2)

	var results []models.RetrievalResult
	seen := make(map[string]bool)
	for _, chunk := range chunks {
		key := chunk.EnvelopeID + ":" + chunk.AnchorID
		if seen[key] {
			continue
		}
		seen[key] = true

		content := chunk.Content
		if expand && chunk.AnchorID != "" {
			if section, err := r.index.GetByAnchor(ctx, chunk.EnvelopeID, chunk.AnchorID); err == nil && section != nil {
				content = section.Content
			}
		}

		var entities []models.Entity
		if chunk.AnchorID != "" {
			entities, _ = r.index.GetEntitiesByAnchor(ctx, chunk.EnvelopeID, chunk.AnchorID)
		}

		results = append(results, models.RetrievalResult{
			Type:     models.ResultNarrative,
			SourceID: chunk.EnvelopeID,
			AnchorID: chunk.AnchorID,
			Content:  content,
			Score:    chunk.Score,
			Entities: entities,
			Metadata: map[string]any{"strategy": string(intent.NarrativeFirst)},
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// hybridParallel retrieves each comparison target separately so both sides
// get equal context depth. With fewer than two targets there is nothing to
// compare and the balanced strategy takes over.
func (r *Router) hybridParallel(ctx context.Context, classified intent.Classified, limit int, expand bool) ([]models.RetrievalResult, error) {
	targets := classified.Entities
	if len(targets) < 2 {
		return r.hybridBalanced(ctx, classified, limit, expand)
	}

	perTargetLimit := limit / len(targets)
	if perTargetLimit < 2 {
		perTargetLimit = 2
	}

	var results []models.RetrievalResult
	for _, target := range targets[:2] {
		hits := r.queryStructure(ctx, target, nil, perTargetLimit)
		for _, hit := range hits {
			result := models.RetrievalResult{
				Type:     models.ResultHybrid,
				SourceID: hit.EnvelopeID,
				AnchorID: hit.Entity.AnchorRef,
				Score:    hit.Score,
				Entities: []models.Entity{hit.Entity},
				Metadata: map[string]any{
					"strategy":          string(intent.HybridParallel),
					"comparison_target": target,
				},
			}
			if hit.Entity.AnchorRef != "" && expand {
				anchorID := strings.TrimPrefix(hit.Entity.AnchorRef, "#")
				if section, err := r.index.GetByAnchor(ctx, hit.EnvelopeID, anchorID); err == nil && section != nil {
					result.Content = section.Content
				}
			}
			results = append(results, result)
		}
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// structureAggregate groups entity matches by type, one aggregate result
// per type, with the backing sections joined for context.
func (r *Router) structureAggregate(ctx context.Context, classified intent.Classified, limit int, expand bool) ([]models.RetrievalResult, error) {
	hits := r.queryStructure(ctx, classified.Query, nil, limit*3)

	byType := make(map[string][]EntityHit)
	var typeOrder []string
	for _, hit := range hits {
		entityType := hit.Entity.Type
		if entityType == "" {
			entityType = "Thing"
		}
		if _, ok := byType[entityType]; !ok {
			typeOrder = append(typeOrder, entityType)
		}
		byType[entityType] = append(byType[entityType], hit)
	}

	var results []models.RetrievalResult
	for _, entityType := range typeOrder {
		typeHits := byType[entityType]
		var contentParts []string
		var entities []models.Entity

		capped := typeHits
		if len(capped) > limit {
			capped = capped[:limit]
		}
		for _, hit := range capped {
			entities = append(entities, hit.Entity)
			if hit.Entity.AnchorRef != "" && expand {
				anchorID := strings.TrimPrefix(hit.Entity.AnchorRef, "#")
				if section, err := r.index.GetByAnchor(ctx, hit.EnvelopeID, anchorID); err == nil && section != nil {
					contentParts = append(contentParts, section.Content)
				}
			}
		}

		results = append(results, models.RetrievalResult{
			Type:     models.ResultAggregate,
			SourceID: "aggregate",
			Content:  strings.Join(contentParts, "\n\n---\n\n"),
			Score:    1.0,
			Entities: entities,
			Metadata: map[string]any{
				"strategy":    string(intent.StructureAggregate),
				"entity_type": entityType,
				"count":       len(typeHits),
			},
		})
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// structureVerify is structureFirst plus a flag telling the consumer the
// narrative source must be checked against the claimed fact.
func (r *Router) structureVerify(ctx context.Context, classified intent.Classified, limit int, expand bool) ([]models.RetrievalResult, error) {
	results, err := r.structureFirst(ctx, classified, limit, expand)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Metadata["strategy"] = string(intent.StructureVerify)
		results[i].Metadata["verification_required"] = true
	}
	return results, nil
}

// narrativeOrdered returns narrative matches in document order, for
// procedural content where step sequence matters more than match score.
func (r *Router) narrativeOrdered(ctx context.Context, classified intent.Classified, limit int, expand bool) ([]models.RetrievalResult, error) {
	chunks := r.queryNarrative(ctx, classified.Query, limit*2)

	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].EnvelopeID != chunks[j].EnvelopeID {
			return chunks[i].EnvelopeID < chunks[j].EnvelopeID
		}
		return chunks[i].LineStart < chunks[j].LineStart
	})

	var results []models.RetrievalResult
	seen := make(map[string]bool)
	for _, chunk := range chunks {
		key := chunk.EnvelopeID + ":" + chunk.AnchorID
		if seen[key] {
			continue
		}
		seen[key] = true

		content := chunk.Content
		if expand && chunk.AnchorID != "" {
			if section, err := r.index.GetByAnchor(ctx, chunk.EnvelopeID, chunk.AnchorID); err == nil && section != nil {
				content = section.Content
			}
		}

		results = append(results, models.RetrievalResult{
			Type:     models.ResultNarrative,
			SourceID: chunk.EnvelopeID,
			AnchorID: chunk.AnchorID,
			Content:  content,
			Score:    chunk.Score,
			Metadata: map[string]any{
				"strategy": string(intent.NarrativeOrdered),
				"position": chunk.LineStart,
			},
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// hybridBalanced splits the limit between structure and narrative, then
// interleaves the two result sets with dedup by section.
func (r *Router) hybridBalanced(ctx context.Context, classified intent.Classified, limit int, expand bool) ([]models.RetrievalResult, error) {
	half := limit / 2
	if half < 1 {
		half = 1
	}

	structureResults, err := r.structureFirst(ctx, classified, half, expand)
	if err != nil {
		return nil, err
	}
	narrativeResults, err := r.narrativeFirst(ctx, classified, half, expand)
	if err != nil {
		return nil, err
	}

	var results []models.RetrievalResult
	seen := make(map[string]bool)
	add := func(result models.RetrievalResult) {
		key := result.SourceID + ":" + result.AnchorID
		if seen[key] {
			return
		}
		seen[key] = true
		result.Metadata["strategy"] = string(intent.HybridBalanced)
		results = append(results, result)
	}

	n := len(structureResults)
	if len(narrativeResults) < n {
		n = len(narrativeResults)
	}
	for i := 0; i < n; i++ {
		add(structureResults[i])
		add(narrativeResults[i])
	}
	for _, result := range append(structureResults, narrativeResults...) {
		add(result)
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// buildFilters turns query constraints into index filters. Price bounds get
// a 20% margin in both directions so near-misses still surface.
func buildFilters(c intent.Constraints) *Filters {
	var f Filters
	if len(c.Prices) > 0 {
		minPrice, maxPrice := c.Prices[0], c.Prices[0]
		for _, p := range c.Prices[1:] {
			if p < minPrice {
				minPrice = p
			}
			if p > maxPrice {
				maxPrice = p
			}
		}
		f.PriceRange = &PriceRange{Min: minPrice * 0.8, Max: maxPrice * 1.2}
	}
	f.Dates = c.Dates
	f.Versions = c.Versions

	if f.PriceRange == nil && len(f.Dates) == 0 && len(f.Versions) == 0 {
		return nil
	}
	return &f
}
