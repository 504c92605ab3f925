package models

// ResultType tells consumers what kind of content a retrieval result carries.
type ResultType string

const (
	ResultStructured ResultType = "structured"
	ResultNarrative  ResultType = "narrative"
	ResultHybrid     ResultType = "hybrid"
	ResultAggregate  ResultType = "aggregate"
)

// RetrievalResult is one unit returned by the router. Content is the text
// handed to the context assembler; Entities carry the structured facts that
// back it, when the strategy produced any.
type RetrievalResult struct {
	Type     ResultType     `json:"type"`
	SourceID string         `json:"source_id"` // envelope ID, or "aggregate"
	AnchorID string         `json:"anchor_id,omitempty"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Entities []Entity       `json:"entities,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
