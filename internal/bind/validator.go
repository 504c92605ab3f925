package bind

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/tsutsumi/internal/models"
)

// Issue types reported by the validator.
const (
	IssueInvalidAnchorRef = "invalid_anchor_ref"
	IssueContentMismatch  = "content_mismatch"
)

// Issue is a single cross-layer inconsistency.
type Issue struct {
	Type       string `json:"type"`
	EntityType string `json:"entity_type"`
	AnchorRef  string `json:"anchor_ref,omitempty"`
	SourceText string `json:"source_text,omitempty"`
	Message    string `json:"message"`
}

// ValidationReport is the outcome of a cross-layer validation pass.
// UnlinkedAnchors is informational; anchors without entities usually just
// mean narrative-only sections, not errors.
type ValidationReport struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
	Stats  struct {
		TotalEntities   int      `json:"total_entities"`
		TotalAnchors    int      `json:"total_anchors"`
		LinkedAnchors   int      `json:"linked_anchors"`
		UnlinkedAnchors []string `json:"unlinked_anchors"`
	} `json:"stats"`
}

// Validator checks that the structure and narrative layers agree: every
// anchor ref resolves, and non-proximity bindings really contain their
// entity's source text.
type Validator struct{}

// NewValidator creates a cross-layer validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate inspects bound entities against the anchors and narrative they
// claim to reference.
func (v *Validator) Validate(entities []models.Entity, anchors map[string]models.Anchor, narrative string) ValidationReport {
	var report ValidationReport
	lines := strings.Split(narrative, "\n")

	for _, e := range entities {
		if e.AnchorRef == "" {
			continue
		}
		anchorID := strings.TrimPrefix(e.AnchorRef, "#")
		a, ok := anchors[anchorID]
		if !ok {
			report.Issues = append(report.Issues, Issue{
				Type:       IssueInvalidAnchorRef,
				EntityType: e.Type,
				AnchorRef:  e.AnchorRef,
				Message:    fmt.Sprintf("entity references non-existent anchor: %s", e.AnchorRef),
			})
			continue
		}

		// Proximity bindings are near, not inside, their anchor, so the
		// source text is not expected to appear in its content.
		if e.BindingMethod == MethodProximity || e.SourceText == "" {
			continue
		}
		if !strings.Contains(anchorContent(a, lines), e.SourceText) {
			report.Issues = append(report.Issues, Issue{
				Type:       IssueContentMismatch,
				EntityType: e.Type,
				AnchorRef:  e.AnchorRef,
				SourceText: e.SourceText,
				Message:    "entity source_text not found in referenced anchor",
			})
		}
	}

	linked := make(map[string]bool)
	for _, e := range entities {
		if e.AnchorRef != "" {
			linked[strings.TrimPrefix(e.AnchorRef, "#")] = true
		}
	}
	var unlinked []string
	for id := range anchors {
		if !linked[id] {
			unlinked = append(unlinked, id)
		}
	}
	sort.Strings(unlinked)

	report.Valid = len(report.Issues) == 0
	report.Stats.TotalEntities = len(entities)
	report.Stats.TotalAnchors = len(anchors)
	report.Stats.LinkedAnchors = len(linked)
	report.Stats.UnlinkedAnchors = unlinked
	return report
}
