package keyword

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/tsutsumi/internal/models"
	"github.com/hyperjump/tsutsumi/internal/retrieval"
)

// entityDoc is the Bleve document for one bound entity. Properties are
// stored as JSON so the full entity can be reconstructed from a hit.
type entityDoc struct {
	EnvelopeID string  `json:"envelope_id"`
	EntityType string  `json:"entity_type"`
	AnchorRef  string  `json:"anchor_ref"`
	Text       string  `json:"text"`
	Value      float64 `json:"value"`
	Properties string  `json:"properties"`
	SourceText string  `json:"source_text"`
	Confidence float64 `json:"binding_confidence"`
	Method     string  `json:"binding_method"`
	Line       float64 `json:"line_number"`
}

// BleveIndex implements EntityIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func buildMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so queries match
	// exact words in entity text.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("source_text", textFieldMapping)

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("envelope_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("entity_type", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("anchor_ref", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("properties", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("binding_method", keywordFieldMapping)

	numericFieldMapping := bleve.NewNumericFieldMapping()
	docMapping.AddFieldMappingsAt("value", numericFieldMapping)
	docMapping.AddFieldMappingsAt("binding_confidence", numericFieldMapping)
	docMapping.AddFieldMappingsAt("line_number", numericFieldMapping)

	im.AddDocumentMapping("entity", docMapping)
	im.DefaultType = "entity"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve entity index at path. An existing
// index is reused so unchanged envelopes are not re-indexed. If the mapping
// changes in code, remove the index directory to force a rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := buildMapping()

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryIndex creates an in-memory entity index, for tests and
// short-lived runs.
func NewMemoryIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexEnvelope replaces the envelope's entities in the index. Document IDs
// are "{envelopeID}|{position}" so deletion by envelope is a term query away.
func (b *BleveIndex) IndexEnvelope(ctx context.Context, env *models.Envelope) error {
	if err := b.DeleteEnvelope(ctx, env.ID); err != nil {
		return err
	}

	batch := b.index.NewBatch()
	for i, entity := range env.Entities {
		doc, err := toEntityDoc(env.ID, entity)
		if err != nil {
			return err
		}
		docID := fmt.Sprintf("%s|%d", env.ID, i)
		if err := batch.Index(docID, doc); err != nil {
			return fmt.Errorf("failed to batch entity %s: %w", docID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index entities for %s: %w", env.ID, err)
	}
	return nil
}

func toEntityDoc(envelopeID string, entity models.Entity) (*entityDoc, error) {
	propsJSON, err := json.Marshal(entity.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity properties: %w", err)
	}

	// Searchable text: the verbatim source plus every scalar property value.
	var textParts []string
	if entity.SourceText != "" {
		textParts = append(textParts, entity.SourceText)
	}
	textParts = append(textParts, entity.Type)
	for _, v := range entity.Properties {
		switch val := v.(type) {
		case string:
			textParts = append(textParts, val)
		case map[string]any:
			for _, nested := range val {
				if s, ok := nested.(string); ok {
					textParts = append(textParts, s)
				}
			}
		}
	}

	doc := &entityDoc{
		EnvelopeID: envelopeID,
		EntityType: entity.Type,
		AnchorRef:  entity.AnchorRef,
		Text:       strings.Join(textParts, " "),
		Properties: string(propsJSON),
		SourceText: entity.SourceText,
		Confidence: entity.BindingConfidence,
		Method:     entity.BindingMethod,
		Line:       float64(entity.LineNumber),
	}
	if v, ok := entity.Properties["value"].(float64); ok {
		doc.Value = v
	}
	return doc, nil
}

// Search runs a match query over entity text, narrowed by constraint
// filters when present.
func (b *BleveIndex) Search(ctx context.Context, query string, filters *retrieval.Filters, limit int) ([]*EntityResult, error) {
	var parts []blevequery.Query

	mq := bleve.NewMatchQuery(query)
	parts = append(parts, mq)

	if filters != nil {
		if pr := filters.PriceRange; pr != nil {
			rq := bleve.NewNumericRangeQuery(&pr.Min, &pr.Max)
			rq.SetField("value")
			parts = append(parts, rq)
		}
		for _, d := range filters.Dates {
			dq := bleve.NewMatchQuery(d)
			dq.SetField("text")
			parts = append(parts, dq)
		}
		for _, v := range filters.Versions {
			vq := bleve.NewMatchQuery(v)
			vq.SetField("text")
			parts = append(parts, vq)
		}
	}

	var q blevequery.Query = parts[0]
	if len(parts) > 1 {
		q = bleve.NewConjunctionQuery(parts...)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"*"}
	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]*EntityResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		entity, envelopeID, err := fromHitFields(hit.Fields)
		if err != nil {
			continue
		}
		out = append(out, &EntityResult{
			ID:         hit.ID,
			EnvelopeID: envelopeID,
			Score:      hit.Score,
			Entity:     entity,
		})
	}
	return out, nil
}

func fromHitFields(fields map[string]interface{}) (models.Entity, string, error) {
	entity := models.Entity{}
	envelopeID, _ := fields["envelope_id"].(string)
	entity.Type, _ = fields["entity_type"].(string)
	entity.AnchorRef, _ = fields["anchor_ref"].(string)
	entity.SourceText, _ = fields["source_text"].(string)
	entity.BindingMethod, _ = fields["binding_method"].(string)
	if c, ok := fields["binding_confidence"].(float64); ok {
		entity.BindingConfidence = c
	}
	if l, ok := fields["line_number"].(float64); ok {
		entity.LineNumber = int(l)
	}

	propsJSON, _ := fields["properties"].(string)
	if propsJSON == "" {
		return entity, envelopeID, fmt.Errorf("hit missing properties field")
	}
	if err := json.Unmarshal([]byte(propsJSON), &entity.Properties); err != nil {
		return entity, envelopeID, fmt.Errorf("failed to parse entity properties: %w", err)
	}
	return entity, envelopeID, nil
}

// DeleteEnvelope removes every entity document of an envelope.
func (b *BleveIndex) DeleteEnvelope(ctx context.Context, envelopeID string) error {
	tq := bleve.NewTermQuery(envelopeID)
	tq.SetField("envelope_id")
	req := bleve.NewSearchRequest(tq)
	req.Size = 10000

	results, err := b.index.Search(req)
	if err != nil {
		return fmt.Errorf("failed to find entities for %s: %w", envelopeID, err)
	}
	batch := b.index.NewBatch()
	for _, hit := range results.Hits {
		batch.Delete(hit.ID)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete entities for %s: %w", envelopeID, err)
	}
	return nil
}

// DocCount returns the total number of indexed entities.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
