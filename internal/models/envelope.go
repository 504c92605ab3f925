// Package models defines core data structures for envelopes, queries, and retrieval results.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// EnvelopeVersion is the schema version written into every envelope.
const EnvelopeVersion = "1.0"

// AnchorType identifies the kind of content block an anchor spans.
type AnchorType string

const (
	AnchorSection   AnchorType = "section"
	AnchorParagraph AnchorType = "paragraph"
	AnchorList      AnchorType = "list"
	AnchorTable     AnchorType = "table"
	AnchorCode      AnchorType = "code"
)

// Source describes where the content came from. Immutable once set.
type Source struct {
	URI       string `json:"uri"`
	Type      string `json:"type"` // web, pdf, markdown, api, ...
	FetchedAt string `json:"fetched_at"`
}

// NewSource returns a Source stamped with the current UTC time.
func NewSource(uri, sourceType string) Source {
	return Source{
		URI:       uri,
		Type:      sourceType,
		FetchedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Narrative is the clean, noise-free view of the content.
// NoiseScore is in [0,1]: 0 = no noise removed, 1 = all content was noise.
type Narrative struct {
	Format     string  `json:"format"` // markdown, plaintext
	Content    string  `json:"content"`
	TokenCount int     `json:"token_count"`
	NoiseScore float64 `json:"noise_score"`
}

// Anchor is a stable reference point within the narrative.
// LineStart and LineEnd are inclusive zero-based line indices; LineStart <= LineEnd.
type Anchor struct {
	ID          string     `json:"id"`
	LineStart   int        `json:"line_start"`
	LineEnd     int        `json:"line_end"`
	Type        AnchorType `json:"type"`
	Title       string     `json:"title,omitempty"`
	ContentHash string     `json:"content_hash,omitempty"`
}

// Entity is a structured fact extracted from content. AnchorRef is a weak link
// ("#anchor-..." form) into the owning envelope's anchor map; empty means unbound.
type Entity struct {
	Type              string         `json:"@type"`
	Properties        map[string]any `json:"properties"`
	AnchorRef         string         `json:"anchor_ref,omitempty"`
	BindingConfidence float64        `json:"binding_confidence"`
	BindingMethod     string         `json:"binding_method,omitempty"`
	SourceText        string         `json:"source_text,omitempty"`
	LineNumber        int            `json:"line_number"`
}

// Integrity holds content-addressed hashes for tamper detection.
type Integrity struct {
	NarrativeHash string `json:"narrative_hash"`
	StructureHash string `json:"structure_hash"`
	GeneratedAt   string `json:"generated_at"`
}

// Envelope is the unit of storage and transfer: one source, one narrative,
// anchors keyed by ID, entities in extraction order, and integrity hashes.
// Built once per document version; updates replace the whole envelope.
type Envelope struct {
	ID        string            `json:"id"`
	Version   string            `json:"envelope_version"`
	Source    Source            `json:"source"`
	Narrative Narrative         `json:"narrative"`
	Anchors   map[string]Anchor `json:"anchors"`
	Entities  []Entity          `json:"entities"`
	Integrity Integrity         `json:"integrity"`
}

// SectionByAnchor returns the narrative text spanned by the anchor, or empty
// string and false when the anchor does not exist. A leading '#' is tolerated.
func (e *Envelope) SectionByAnchor(anchorID string) (string, bool) {
	anchorID = strings.TrimPrefix(anchorID, "#")
	a, ok := e.Anchors[anchorID]
	if !ok {
		return "", false
	}
	lines := strings.Split(e.Narrative.Content, "\n")
	if a.LineStart >= len(lines) {
		return "", true
	}
	end := a.LineEnd
	if end >= len(lines) {
		end = len(lines) - 1
	}
	return strings.Join(lines[a.LineStart:end+1], "\n"), true
}

// EntitiesByAnchor returns all entities whose AnchorRef points at anchorID.
func (e *Envelope) EntitiesByAnchor(anchorID string) []Entity {
	ref := anchorID
	if !strings.HasPrefix(ref, "#") {
		ref = "#" + ref
	}
	var out []Entity
	for _, ent := range e.Entities {
		if ent.AnchorRef == ref {
			out = append(out, ent)
		}
	}
	return out
}

// VerifyIntegrity recomputes the narrative hash and compares it to the stored
// value. False means the narrative was mutated without rebuilding, or a
// storage bug corrupted the content.
func (e *Envelope) VerifyIntegrity() bool {
	return HashContent(e.Narrative.Content) == e.Integrity.NarrativeHash
}

// HashContent returns the content-addressed hash of s in "sha256:{hex}" form.
func HashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ShortHash returns the first 8 hex characters of the SHA-256 of s.
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}
