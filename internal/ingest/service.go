// Package ingest turns documents into indexed envelopes: extraction, the
// envelope pipeline, and indexing into all retrieval backends.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/tsutsumi/internal/extract"
	"github.com/hyperjump/tsutsumi/internal/index"
	"github.com/hyperjump/tsutsumi/internal/models"
	"github.com/hyperjump/tsutsumi/internal/pipeline"
)

// Service ingests documents end to end.
type Service struct {
	pipeline  *pipeline.Pipeline
	index     *index.HybridIndex
	extractor *extract.Extractor
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService creates an ingest service over the given pipeline and index.
func NewService(p *pipeline.Pipeline, idx *index.HybridIndex, opts ...Option) *Service {
	s := &Service{
		pipeline:  p,
		index:     idx,
		extractor: extract.NewExtractor(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestContent processes raw content into an envelope and indexes it.
// format selects the pipeline entry point: "html", "markdown", or anything
// else for plain text. sourceType defaults by format when empty.
func (s *Service) IngestContent(ctx context.Context, content, sourceURI, format, sourceType string) (*models.Envelope, *pipeline.Report, error) {
	var (
		env    *models.Envelope
		report *pipeline.Report
		err    error
	)
	switch format {
	case "html":
		env, report, err = s.pipeline.ProcessHTML(ctx, content, sourceURI, sourceType)
	case "markdown":
		env, report, err = s.pipeline.ProcessMarkdown(ctx, content, sourceURI, sourceType)
	default:
		env, report, err = s.pipeline.ProcessText(ctx, content, sourceURI, sourceType)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to process content: %w", err)
	}

	if err := s.index.IndexEnvelope(ctx, env); err != nil {
		return nil, nil, fmt.Errorf("failed to index envelope: %w", err)
	}

	s.logger.Info("ingested content",
		zap.String("envelope_id", env.ID),
		zap.String("source_uri", sourceURI),
		zap.Int("anchors", len(env.Anchors)),
		zap.Int("entities", len(env.Entities)))
	return env, report, nil
}

// IngestFile extracts the file at path and ingests it. The source URI is
// "file://{abs path}".
func (s *Service) IngestFile(ctx context.Context, path string) (*models.Envelope, *pipeline.Report, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	content, format, err := s.extractor.ExtractFile(abs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to extract %s: %w", abs, err)
	}

	return s.IngestContent(ctx, content, "file://"+abs, string(format), "file")
}

// DeleteFile removes envelopes previously ingested from the file at path.
// Returns the removed envelope IDs.
func (s *Service) DeleteFile(ctx context.Context, path string) ([]string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	ids, err := s.index.RemoveBySource(ctx, "file://"+abs)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.logger.Info("deleted file envelopes",
			zap.String("path", abs),
			zap.Strings("envelope_ids", ids))
	}
	return ids, nil
}

// Delete removes the envelope from all backends.
func (s *Service) Delete(ctx context.Context, envelopeID string) (bool, error) {
	deleted, err := s.index.RemoveEnvelope(ctx, envelopeID)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info("deleted envelope", zap.String("envelope_id", envelopeID))
	}
	return deleted, nil
}
