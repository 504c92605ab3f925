package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingSource is returned by Build when no source was set.
	ErrMissingSource = errors.New("envelope requires a source")
	// ErrMissingNarrative is returned by Build when no narrative was set.
	ErrMissingNarrative = errors.New("envelope requires a narrative")
)

// Builder assembles an envelope step by step. Build computes the ID and
// integrity hashes from whatever was provided, so the same narrative content
// always produces the same envelope ID.
type Builder struct {
	source    *Source
	narrative *Narrative
	anchors   map[string]Anchor
	entities  []Entity
}

// NewBuilder returns an empty envelope builder.
func NewBuilder() *Builder {
	return &Builder{anchors: make(map[string]Anchor)}
}

// WithSource sets the envelope source.
func (b *Builder) WithSource(s Source) *Builder {
	b.source = &s
	return b
}

// WithNarrative sets the clean narrative content.
func (b *Builder) WithNarrative(n Narrative) *Builder {
	b.narrative = &n
	return b
}

// WithAnchor adds a single anchor. Anchors with duplicate IDs overwrite.
func (b *Builder) WithAnchor(a Anchor) *Builder {
	b.anchors[a.ID] = a
	return b
}

// WithAnchors adds all anchors from the slice.
func (b *Builder) WithAnchors(anchors []Anchor) *Builder {
	for _, a := range anchors {
		b.anchors[a.ID] = a
	}
	return b
}

// WithEntities appends extracted entities in order.
func (b *Builder) WithEntities(entities []Entity) *Builder {
	b.entities = append(b.entities, entities...)
	return b
}

// Build validates required parts and assembles the final envelope.
func (b *Builder) Build() (*Envelope, error) {
	if b.source == nil {
		return nil, ErrMissingSource
	}
	if b.narrative == nil {
		return nil, ErrMissingNarrative
	}

	env := &Envelope{
		ID:        "doc-" + ShortHash(b.narrative.Content),
		Version:   EnvelopeVersion,
		Source:    *b.source,
		Narrative: *b.narrative,
		Anchors:   b.anchors,
		Entities:  b.entities,
	}

	structureHash, err := hashStructure(b.entities)
	if err != nil {
		return nil, fmt.Errorf("failed to hash structure: %w", err)
	}
	env.Integrity = Integrity{
		NarrativeHash: HashContent(b.narrative.Content),
		StructureHash: structureHash,
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	return env, nil
}

// hashStructure hashes the entity property maps. encoding/json emits map keys
// in sorted order, so the hash is stable across runs.
func hashStructure(entities []Entity) (string, error) {
	props := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		props = append(props, e.Properties)
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return HashContent(string(data)), nil
}
