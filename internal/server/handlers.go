package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/tsutsumi/internal/config"
	"github.com/hyperjump/tsutsumi/internal/intent"
	"github.com/hyperjump/tsutsumi/internal/models"
	"github.com/hyperjump/tsutsumi/internal/pipeline"
)

// batchConcurrency bounds how many documents a batch request processes at once.
const batchConcurrency = 4

type processRequest struct {
	Content    string `json:"content"`
	SourceURI  string `json:"source_uri"`
	Format     string `json:"format,omitempty"`      // html, markdown, text
	SourceType string `json:"source_type,omitempty"` // web, file, api, ...
}

type processResponse struct {
	Envelope *models.Envelope `json:"envelope"`
	Report   *pipeline.Report `json:"report"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		s.respondError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.SourceURI == "" {
		s.respondError(w, http.StatusBadRequest, "source_uri is required")
		return
	}

	env, report, err := s.ingest.IngestContent(r.Context(), req.Content, req.SourceURI, req.Format, req.SourceType)
	if err != nil {
		s.logger.Error("processing failed", zap.String("source_uri", req.SourceURI), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, processResponse{Envelope: env, Report: report})
}

type batchRequest struct {
	Documents []processRequest `json:"documents"`
}

type batchItem struct {
	SourceURI  string `json:"source_uri"`
	EnvelopeID string `json:"envelope_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		s.respondError(w, http.StatusBadRequest, "documents is required")
		return
	}

	batchID := uuid.New().String()
	items := make([]batchItem, len(req.Documents))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(batchConcurrency)
	for i, doc := range req.Documents {
		i, doc := i, doc
		g.Go(func() error {
			items[i].SourceURI = doc.SourceURI
			if doc.Content == "" || doc.SourceURI == "" {
				items[i].Error = "content and source_uri are required"
				return nil
			}
			env, _, err := s.ingest.IngestContent(ctx, doc.Content, doc.SourceURI, doc.Format, doc.SourceType)
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			items[i].EnvelopeID = env.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	processed := 0
	for _, item := range items {
		if item.Error == "" {
			processed++
		}
	}
	s.logger.Info("batch processed",
		zap.String("batch_id", batchID),
		zap.Int("processed", processed),
		zap.Int("failed", len(items)-processed))
	s.respondJSON(w, http.StatusOK, map[string]any{
		"batch_id":  batchID,
		"processed": processed,
		"failed":    len(items) - processed,
		"results":   items,
	})
}

type retrieveResponse struct {
	Query    string                    `json:"query"`
	Intent   *intent.Classified        `json:"intent,omitempty"`
	Results  []models.RetrievalResult  `json:"results"`
	Count    int                       `json:"count"`
	Context  *retrievalContextResponse `json:"context,omitempty"`
	Strategy string                    `json:"strategy"`
}

type retrievalContextResponse struct {
	FormattedContext string `json:"formatted_context"`
	TotalTokens      int    `json:"total_tokens"`
	SourceCount      int    `json:"source_count"`
	Citations        any    `json:"citations"`
	IntegrityStatus  any    `json:"integrity_status"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req models.RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(s.config.Retrieval.DefaultLimit, s.config.Retrieval.MaxLimit); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	expand := s.config.Retrieval.ExpandSectionsOrDefault()
	resp := retrieveResponse{Query: req.Query}

	if req.Strategy != "" {
		results, err := s.router.RetrieveWithStrategy(r.Context(), req.Query, intent.Strategy(req.Strategy), req.Limit, expand)
		if err != nil {
			s.logger.Error("retrieval failed", zap.String("query", req.Query), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Results = results
		resp.Strategy = req.Strategy
	} else {
		results, classified, err := s.router.Retrieve(r.Context(), req.Query, req.Limit, expand)
		if err != nil {
			s.logger.Error("retrieval failed", zap.String("query", req.Query), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Results = results
		resp.Intent = &classified
		resp.Strategy = string(classified.Strategy)
	}
	resp.Count = len(resp.Results)

	if req.IncludeContext {
		assembled := s.assembler.Assemble(resp.Results, req.Query, true)
		resp.Context = &retrievalContextResponse{
			FormattedContext: assembled.FormattedContext,
			TotalTokens:      assembled.TotalTokens,
			SourceCount:      assembled.SourceCount,
			Citations:        assembled.Citations,
			IntegrityStatus:  assembled.IntegrityStatus,
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetEnvelope(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	env, err := s.storage.GetEnvelope(r.Context(), id)
	if err != nil {
		s.logger.Error("get envelope failed", zap.String("envelope_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if env == nil {
		s.respondError(w, http.StatusNotFound, "envelope not found")
		return
	}
	s.respondJSON(w, http.StatusOK, env.ToMap())
}

func (s *Server) handleDeleteEnvelope(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := s.ingest.Delete(r.Context(), id)
	if err != nil {
		s.logger.Error("delete envelope failed", zap.String("envelope_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		s.respondError(w, http.StatusNotFound, "envelope not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"envelope_id": id, "status": "deleted"})
}

func (s *Server) handleGetAnchor(w http.ResponseWriter, r *http.Request) {
	envelopeID := chi.URLParam(r, "envelopeID")
	anchorID := chi.URLParam(r, "anchorID")

	anchor, content, err := s.storage.GetAnchor(r.Context(), envelopeID, anchorID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if anchor == nil {
		s.respondError(w, http.StatusNotFound, "anchor not found")
		return
	}
	entities, err := s.storage.GetEntitiesByAnchor(r.Context(), envelopeID, anchorID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"envelope_id": envelopeID,
		"anchor":      anchor,
		"content":     content,
		"entities":    entities,
	})
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("type")
	query := r.URL.Query().Get("q")
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if entityType == "" && query == "" {
		s.respondError(w, http.StatusBadRequest, "type or q is required")
		return
	}

	var (
		records any
		count   int
	)
	if query != "" {
		recs, err := s.storage.SearchEntities(r.Context(), query, entityType, limit)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		records, count = recs, len(recs)
	} else {
		recs, err := s.storage.GetEntitiesByType(r.Context(), entityType, limit)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		records, count = recs, len(recs)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"entities": records, "count": count})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.GetStats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWatchList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}

	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add failed", zap.String("path", abs), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove failed", zap.String("path", abs), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.watchConfigM.Lock()
	s.config.Watch.Directories = s.watch.Directories()
	err := config.Save(s.configPath, s.config)
	s.watchConfigM.Unlock()
	if err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
