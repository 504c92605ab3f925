// Package bind links extracted entities to narrative anchors and validates
// the result. Explicit binding is what prevents fact-mixing: a price found
// near one plan must never be attributed to another.
package bind

import (
	"sort"
	"strings"

	"github.com/hyperjump/tsutsumi/internal/models"
)

// Binding methods, in descending confidence order.
const (
	MethodLineMatch    = "line_match"
	MethodContentMatch = "content_match"
	MethodProximity    = "proximity"
	MethodUnbound      = "unbound"
)

// Binder assigns an anchor_ref to each entity using four strategies tried
// in order: line match (confidence 1.0), content match (0.9), proximity
// (0.8 decaying with distance, floor 0.5), and finally unbound (0.0).
type Binder struct {
	proximityThreshold int
}

// Option configures a Binder.
type Option func(*Binder)

// WithProximityThreshold sets the max line distance for proximity binding.
func WithProximityThreshold(lines int) Option {
	return func(b *Binder) {
		if lines > 0 {
			b.proximityThreshold = lines
		}
	}
}

// NewBinder creates a binder with a proximity threshold of 5 lines.
func NewBinder(opts ...Option) *Binder {
	b := &Binder{proximityThreshold: 5}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind returns a copy of the entities with anchor refs, confidences, and
// methods filled in. Input order is preserved.
func (b *Binder) Bind(entities []models.Entity, anchors map[string]models.Anchor, narrative string) []models.Entity {
	lines := strings.Split(narrative, "\n")
	ordered := orderedAnchors(anchors)

	bound := make([]models.Entity, len(entities))
	for i, entity := range entities {
		bound[i] = b.bindOne(entity, ordered, lines)
	}
	return bound
}

// orderedAnchors returns anchors sorted by line start, then ID. Map
// iteration order is random, and ties between overlapping anchors must
// resolve the same way on every run.
func orderedAnchors(anchors map[string]models.Anchor) []models.Anchor {
	out := make([]models.Anchor, 0, len(anchors))
	for _, a := range anchors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LineStart != out[j].LineStart {
			return out[i].LineStart < out[j].LineStart
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (b *Binder) bindOne(entity models.Entity, anchors []models.Anchor, lines []string) models.Entity {
	for _, a := range anchors {
		if a.LineStart <= entity.LineNumber && entity.LineNumber <= a.LineEnd {
			entity.AnchorRef = "#" + a.ID
			entity.BindingConfidence = 1.0
			entity.BindingMethod = MethodLineMatch
			return entity
		}
	}

	if entity.SourceText != "" {
		for _, a := range anchors {
			if strings.Contains(anchorContent(a, lines), entity.SourceText) {
				entity.AnchorRef = "#" + a.ID
				entity.BindingConfidence = 0.9
				entity.BindingMethod = MethodContentMatch
				return entity
			}
		}
	}

	if nearest, distance, ok := nearestAnchor(entity.LineNumber, anchors); ok && distance <= b.proximityThreshold {
		confidence := 0.8 - float64(distance)*0.05
		if confidence < 0.5 {
			confidence = 0.5
		}
		entity.AnchorRef = "#" + nearest.ID
		entity.BindingConfidence = confidence
		entity.BindingMethod = MethodProximity
		return entity
	}

	entity.AnchorRef = ""
	entity.BindingConfidence = 0.0
	entity.BindingMethod = MethodUnbound
	return entity
}

// nearestAnchor finds the anchor closest to the line. Distance is zero
// inside an anchor's range, otherwise the gap to the nearer edge. Ties keep
// the earlier anchor in the sorted order.
func nearestAnchor(line int, anchors []models.Anchor) (models.Anchor, int, bool) {
	var nearest models.Anchor
	minDistance := -1
	for _, a := range anchors {
		var distance int
		switch {
		case line < a.LineStart:
			distance = a.LineStart - line
		case line > a.LineEnd:
			distance = line - a.LineEnd
		default:
			distance = 0
		}
		if minDistance < 0 || distance < minDistance {
			minDistance = distance
			nearest = a
		}
	}
	return nearest, minDistance, minDistance >= 0
}

func anchorContent(a models.Anchor, lines []string) string {
	start, end := a.LineStart, a.LineEnd
	if start < 0 || start >= len(lines) {
		return ""
	}
	if end >= len(lines) {
		end = len(lines) - 1
	}
	return strings.Join(lines[start:end+1], "\n")
}

// Report summarizes binding quality for one document.
type Report struct {
	Total           int             `json:"total"`
	Bound           int             `json:"bound"`
	Unbound         int             `json:"unbound"`
	AvgConfidence   float64         `json:"avg_confidence"`
	ByMethod        map[string]int  `json:"by_method,omitempty"`
	UnboundEntities []UnboundEntity `json:"unbound_entities,omitempty"`
}

// UnboundEntity identifies an entity the binder could not place.
type UnboundEntity struct {
	Type       string `json:"type"`
	SourceText string `json:"source_text"`
	Line       int    `json:"line"`
}

// BindingReport aggregates binding statistics over bound entities.
func BindingReport(entities []models.Entity) Report {
	report := Report{Total: len(entities)}
	if report.Total == 0 {
		return report
	}

	report.ByMethod = make(map[string]int)
	var confidenceSum float64
	for _, e := range entities {
		report.ByMethod[e.BindingMethod]++
		confidenceSum += e.BindingConfidence
		if e.AnchorRef == "" {
			report.Unbound++
			report.UnboundEntities = append(report.UnboundEntities, UnboundEntity{
				Type:       e.Type,
				SourceText: e.SourceText,
				Line:       e.LineNumber,
			})
		}
	}
	report.Bound = report.Total - report.Unbound
	report.AvgConfidence = confidenceSum / float64(report.Total)
	return report
}
