// Package pipeline orchestrates envelope construction: noise stripping,
// anchor generation, entity extraction, binding, validation, and assembly.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/tsutsumi/internal/anchor"
	"github.com/hyperjump/tsutsumi/internal/bind"
	"github.com/hyperjump/tsutsumi/internal/models"
	"github.com/hyperjump/tsutsumi/internal/strip"
	"github.com/hyperjump/tsutsumi/internal/structure"
)

// Pipeline turns raw content into envelopes. Safe for concurrent use; all
// stages are stateless after construction.
type Pipeline struct {
	stripper  *strip.Stripper
	anchors   *anchor.Generator
	extractor *structure.Extractor
	binder    *bind.Binder
	validator *bind.Validator
	logger    *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStripper replaces the default noise stripper.
func WithStripper(s *strip.Stripper) Option {
	return func(p *Pipeline) { p.stripper = s }
}

// WithGranularAnchors enables paragraph and list anchors.
func WithGranularAnchors(granular bool) Option {
	return func(p *Pipeline) { p.anchors = anchor.NewGenerator(anchor.WithGranular(granular)) }
}

// WithProximityThreshold sets the binder's max proximity distance in lines.
func WithProximityThreshold(lines int) Option {
	return func(p *Pipeline) { p.binder = bind.NewBinder(bind.WithProximityThreshold(lines)) }
}

// WithValidation toggles the cross-layer validation stage.
func WithValidation(enabled bool) Option {
	return func(p *Pipeline) {
		if enabled {
			p.validator = bind.NewValidator()
		} else {
			p.validator = nil
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline with default stages and validation on.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		stripper:  strip.NewStripper(),
		anchors:   anchor.NewGenerator(),
		extractor: structure.NewExtractor(),
		binder:    bind.NewBinder(),
		validator: bind.NewValidator(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Report carries per-stage metrics for one processed document.
type Report struct {
	NoiseStripping struct {
		OriginalTokens int     `json:"original_tokens"`
		FinalTokens    int     `json:"final_tokens"`
		TokensRemoved  int     `json:"tokens_removed"`
		NoiseScore     float64 `json:"noise_score"`
	} `json:"noise_stripping"`
	Anchors struct {
		Total  int            `json:"total"`
		ByType map[string]int `json:"by_type"`
	} `json:"anchors"`
	Entities struct {
		Total  int            `json:"total"`
		ByType map[string]int `json:"by_type"`
	} `json:"entities"`
	Binding    bind.Report            `json:"binding"`
	Validation *bind.ValidationReport `json:"validation,omitempty"`
}

// ProcessHTML strips raw HTML and builds an envelope for it.
func (p *Pipeline) ProcessHTML(ctx context.Context, rawHTML, sourceURL, sourceType string) (*models.Envelope, *Report, error) {
	if sourceType == "" {
		sourceType = "web"
	}
	stripped, err := p.stripper.StripHTML(rawHTML)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to strip HTML: %w", err)
	}
	return p.assemble(ctx, stripped, sourceURL, sourceType)
}

// ProcessMarkdown cleans markdown and builds an envelope. Markdown still
// goes through boilerplate removal before anchoring.
func (p *Pipeline) ProcessMarkdown(ctx context.Context, markdown, sourceURI, sourceType string) (*models.Envelope, *Report, error) {
	if sourceType == "" {
		sourceType = "markdown"
	}
	return p.assemble(ctx, p.stripper.StripMarkdown(markdown), sourceURI, sourceType)
}

// ProcessText handles plain text sources.
func (p *Pipeline) ProcessText(ctx context.Context, text, sourceURI, sourceType string) (*models.Envelope, *Report, error) {
	if sourceType == "" {
		sourceType = "text"
	}
	return p.assemble(ctx, p.stripper.StripText(text), sourceURI, sourceType)
}

// assemble runs the post-strip stages. Anchor generation and entity
// extraction are independent reads of the same narrative, so they run in
// parallel.
func (p *Pipeline) assemble(ctx context.Context, stripped *strip.Result, sourceURI, sourceType string) (*models.Envelope, *Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	narrative := stripped.Content

	var (
		wg       sync.WaitGroup
		anchors  map[string]models.Anchor
		entities []models.Entity
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		anchors = p.anchors.Generate(narrative)
	}()
	go func() {
		defer wg.Done()
		entities = p.extractor.Extract(narrative)
	}()
	wg.Wait()

	bound := p.binder.Bind(entities, anchors, narrative)

	report := &Report{}
	report.NoiseStripping.OriginalTokens = stripped.OriginalTokens
	report.NoiseStripping.FinalTokens = stripped.TokenCount
	report.NoiseStripping.TokensRemoved = stripped.OriginalTokens - stripped.TokenCount
	report.NoiseStripping.NoiseScore = stripped.NoiseScore
	report.Anchors.Total = len(anchors)
	report.Anchors.ByType = countAnchorTypes(anchors)
	report.Entities.Total = len(bound)
	report.Entities.ByType = countEntityTypes(bound)
	report.Binding = bind.BindingReport(bound)

	if p.validator != nil {
		validation := p.validator.Validate(bound, anchors, narrative)
		report.Validation = &validation
		if !validation.Valid {
			p.logger.Warn("cross-layer validation found issues",
				zap.String("source", sourceURI),
				zap.Int("issues", len(validation.Issues)))
		}
	}

	anchorList := make([]models.Anchor, 0, len(anchors))
	for _, a := range anchors {
		anchorList = append(anchorList, a)
	}

	env, err := models.NewBuilder().
		WithSource(models.NewSource(sourceURI, sourceType)).
		WithNarrative(models.Narrative{
			Format:     stripped.Format,
			Content:    narrative,
			TokenCount: stripped.TokenCount,
			NoiseScore: stripped.NoiseScore,
		}).
		WithAnchors(anchorList).
		WithEntities(bound).
		Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build envelope: %w", err)
	}

	p.logger.Info("processed document",
		zap.String("envelope_id", env.ID),
		zap.String("source", sourceURI),
		zap.Int("anchors", len(anchors)),
		zap.Int("entities", len(bound)),
		zap.Int("unbound", report.Binding.Unbound))
	return env, report, nil
}

func countAnchorTypes(anchors map[string]models.Anchor) map[string]int {
	counts := make(map[string]int)
	for _, a := range anchors {
		counts[string(a.Type)]++
	}
	return counts
}

func countEntityTypes(entities []models.Entity) map[string]int {
	counts := make(map[string]int)
	for _, e := range entities {
		counts[e.Type]++
	}
	return counts
}
