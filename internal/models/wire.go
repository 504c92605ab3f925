package models

import (
	"encoding/json"
	"fmt"
)

// ToMap renders the envelope in its canonical wire shape. Entity properties
// are flattened alongside "@type" so consumers read facts without an extra
// indirection, and anchors are keyed by ID with the ID elided from the value.
func (e *Envelope) ToMap() map[string]any {
	anchors := make(map[string]any, len(e.Anchors))
	for id, a := range e.Anchors {
		av := map[string]any{
			"line_start": a.LineStart,
			"line_end":   a.LineEnd,
			"type":       string(a.Type),
		}
		if a.Title != "" {
			av["title"] = a.Title
		}
		if a.ContentHash != "" {
			av["content_hash"] = a.ContentHash
		}
		anchors[id] = av
	}

	entities := make([]map[string]any, 0, len(e.Entities))
	for _, ent := range e.Entities {
		entities = append(entities, ent.toMap())
	}

	return map[string]any{
		"envelope_version": e.Version,
		"id":               e.ID,
		"source": map[string]any{
			"uri":        e.Source.URI,
			"type":       e.Source.Type,
			"fetched_at": e.Source.FetchedAt,
		},
		"narrative": map[string]any{
			"format":      e.Narrative.Format,
			"content":     e.Narrative.Content,
			"token_count": e.Narrative.TokenCount,
			"noise_score": e.Narrative.NoiseScore,
		},
		"anchors": anchors,
		"structure": map[string]any{
			"entities": entities,
		},
		"integrity": map[string]any{
			"narrative_hash": e.Integrity.NarrativeHash,
			"structure_hash": e.Integrity.StructureHash,
			"generated_at":   e.Integrity.GeneratedAt,
		},
	}
}

func (ent Entity) toMap() map[string]any {
	m := make(map[string]any, len(ent.Properties)+4)
	m["@type"] = ent.Type
	for k, v := range ent.Properties {
		m[k] = v
	}
	if ent.AnchorRef != "" {
		m["anchor_ref"] = ent.AnchorRef
	} else {
		m["anchor_ref"] = nil
	}
	m["binding_confidence"] = ent.BindingConfidence
	if ent.SourceText != "" || ent.BindingMethod != "" {
		m["_source"] = map[string]any{
			"text":   ent.SourceText,
			"line":   ent.LineNumber,
			"method": ent.BindingMethod,
		}
	}
	return m
}

// MarshalWire serializes the envelope's wire shape as JSON.
func (e *Envelope) MarshalWire() ([]byte, error) {
	return json.Marshal(e.ToMap())
}

// UnmarshalWire parses an envelope from its canonical wire-shape JSON.
func UnmarshalWire(data []byte) (*Envelope, error) {
	var raw struct {
		Version string `json:"envelope_version"`
		ID      string `json:"id"`
		Source  Source `json:"source"`
		Narrative struct {
			Format     string  `json:"format"`
			Content    string  `json:"content"`
			TokenCount int     `json:"token_count"`
			NoiseScore float64 `json:"noise_score"`
		} `json:"narrative"`
		Anchors map[string]struct {
			LineStart   int    `json:"line_start"`
			LineEnd     int    `json:"line_end"`
			Type        string `json:"type"`
			Title       string `json:"title"`
			ContentHash string `json:"content_hash"`
		} `json:"anchors"`
		Structure struct {
			Entities []map[string]any `json:"entities"`
		} `json:"structure"`
		Integrity Integrity `json:"integrity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}

	env := &Envelope{
		ID:      raw.ID,
		Version: raw.Version,
		Source:  raw.Source,
		Narrative: Narrative{
			Format:     raw.Narrative.Format,
			Content:    raw.Narrative.Content,
			TokenCount: raw.Narrative.TokenCount,
			NoiseScore: raw.Narrative.NoiseScore,
		},
		Anchors:   make(map[string]Anchor, len(raw.Anchors)),
		Integrity: raw.Integrity,
	}
	for id, a := range raw.Anchors {
		env.Anchors[id] = Anchor{
			ID:          id,
			LineStart:   a.LineStart,
			LineEnd:     a.LineEnd,
			Type:        AnchorType(a.Type),
			Title:       a.Title,
			ContentHash: a.ContentHash,
		}
	}
	for _, em := range raw.Structure.Entities {
		env.Entities = append(env.Entities, entityFromMap(em))
	}
	return env, nil
}

func entityFromMap(m map[string]any) Entity {
	ent := Entity{Properties: make(map[string]any)}
	for k, v := range m {
		switch k {
		case "@type":
			ent.Type, _ = v.(string)
		case "anchor_ref":
			if s, ok := v.(string); ok {
				ent.AnchorRef = s
			}
		case "binding_confidence":
			if f, ok := v.(float64); ok {
				ent.BindingConfidence = f
			}
		case "_source":
			if src, ok := v.(map[string]any); ok {
				ent.SourceText, _ = src["text"].(string)
				ent.BindingMethod, _ = src["method"].(string)
				if line, ok := src["line"].(float64); ok {
					ent.LineNumber = int(line)
				}
			}
		default:
			ent.Properties[k] = v
		}
	}
	return ent
}
