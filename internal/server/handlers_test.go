package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/tsutsumi/internal/config"
	"github.com/hyperjump/tsutsumi/internal/embedding"
	"github.com/hyperjump/tsutsumi/internal/index"
	"github.com/hyperjump/tsutsumi/internal/ingest"
	"github.com/hyperjump/tsutsumi/internal/keyword"
	"github.com/hyperjump/tsutsumi/internal/pipeline"
	"github.com/hyperjump/tsutsumi/internal/retrieval"
	"github.com/hyperjump/tsutsumi/internal/storage"
	"github.com/hyperjump/tsutsumi/internal/vector"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "envelopes.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	entities, err := keyword.NewMemoryIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { entities.Close() })

	embedder := embedding.NewHashEmbedder(64)
	vectors, err := vector.NewMemoryIndex(embedder.Dimensions())
	if err != nil {
		t.Fatal(err)
	}

	idx := index.NewHybridIndex(store, entities, vectors, embedder)
	svc := ingest.NewService(pipeline.NewPipeline(), idx)
	router := retrieval.NewRouter(idx)
	assembler := retrieval.NewAssembler()

	cfg := &config.Config{
		Server:    config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Retrieval: config.RetrievalConfig{DefaultLimit: 5, MaxLimit: 50, MaxContextTokens: 4000},
	}
	return NewServer(svc, router, assembler, store, cfg, zap.NewNop())
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

const pricingDoc = "# Pricing\n\nThe Pro plan is $49.99/month.\n"

func processDoc(t *testing.T, h http.Handler, uri string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/process", processRequest{
		Content:   pricingDoc,
		SourceURI: uri,
		Format:    "markdown",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("process status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Envelope struct {
			ID string `json:"id"`
		} `json:"envelope"`
	}
	decode(t, rec, &resp)
	if resp.Envelope.ID == "" {
		t.Fatal("no envelope ID in process response")
	}
	return resp.Envelope.ID
}

func TestHealth(t *testing.T) {
	h := newTestServer(t).Routes()
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestProcessAndGetEnvelope(t *testing.T) {
	h := newTestServer(t).Routes()
	id := processDoc(t, h, "https://example.com/pricing")

	rec := doJSON(t, h, http.MethodGet, "/api/v1/envelope/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var env map[string]any
	decode(t, rec, &env)
	if env["id"] != id {
		t.Errorf("id = %v", env["id"])
	}
	if _, ok := env["anchors"]; !ok {
		t.Error("envelope missing anchors")
	}
}

func TestProcessValidation(t *testing.T) {
	h := newTestServer(t).Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/process", processRequest{SourceURI: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing content: status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/process", processRequest{Content: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing source_uri: status = %d", rec.Code)
	}
}

func TestGetEnvelopeNotFound(t *testing.T) {
	h := newTestServer(t).Routes()
	rec := doJSON(t, h, http.MethodGet, "/api/v1/envelope/doc-missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestBatch(t *testing.T) {
	h := newTestServer(t).Routes()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/batch", batchRequest{
		Documents: []processRequest{
			{Content: pricingDoc, SourceURI: "https://example.com/a", Format: "markdown"},
			{Content: "# Docs\n\nSome documentation.\n", SourceURI: "https://example.com/b", Format: "markdown"},
			{SourceURI: "https://example.com/broken"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		BatchID   string      `json:"batch_id"`
		Processed int         `json:"processed"`
		Failed    int         `json:"failed"`
		Results   []batchItem `json:"results"`
	}
	decode(t, rec, &resp)
	if resp.Processed != 2 || resp.Failed != 1 {
		t.Errorf("processed = %d, failed = %d", resp.Processed, resp.Failed)
	}
	if resp.BatchID == "" {
		t.Error("expected batch_id in response")
	}
	if resp.Results[2].Error == "" {
		t.Error("expected error for document without content")
	}
}

func TestRetrieve(t *testing.T) {
	h := newTestServer(t).Routes()
	processDoc(t, h, "https://example.com/pricing")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/retrieve", map[string]any{
		"query":           "What is the price of the Pro plan in USD?",
		"include_context": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Query  string `json:"query"`
		Intent *struct {
			Intent   string `json:"intent"`
			Strategy string `json:"strategy"`
		} `json:"intent"`
		Results []map[string]any `json:"results"`
		Count   int              `json:"count"`
		Context *struct {
			FormattedContext string `json:"formatted_context"`
		} `json:"context"`
	}
	decode(t, rec, &resp)
	if resp.Intent == nil {
		t.Fatal("missing intent")
	}
	if resp.Intent.Strategy != "structure_first" {
		t.Errorf("strategy = %s", resp.Intent.Strategy)
	}
	if resp.Count == 0 {
		t.Fatal("no results")
	}
	if resp.Context == nil || !strings.Contains(resp.Context.FormattedContext, "## Retrieved Context") {
		t.Error("missing assembled context")
	}
}

func TestRetrieveForcedStrategy(t *testing.T) {
	h := newTestServer(t).Routes()
	processDoc(t, h, "https://example.com/pricing")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/retrieve", map[string]any{
		"query":    "pricing details",
		"strategy": "narrative_first",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp retrieveResponse
	decode(t, rec, &resp)
	if resp.Strategy != "narrative_first" {
		t.Errorf("strategy = %s", resp.Strategy)
	}
	if resp.Intent != nil {
		t.Error("forced strategy should skip intent classification")
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	h := newTestServer(t).Routes()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/retrieve", map[string]any{"query": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetAnchor(t *testing.T) {
	h := newTestServer(t).Routes()
	id := processDoc(t, h, "https://example.com/pricing")

	rec := doJSON(t, h, http.MethodGet, "/api/v1/envelope/"+id, nil)
	var env struct {
		Anchors map[string]any `json:"anchors"`
	}
	decode(t, rec, &env)
	if len(env.Anchors) == 0 {
		t.Fatal("no anchors")
	}
	var anchorID string
	for k := range env.Anchors {
		anchorID = k
		break
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/anchor/"+id+"/"+anchorID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Content  string           `json:"content"`
		Entities []map[string]any `json:"entities"`
	}
	decode(t, rec, &resp)
	if resp.Content == "" {
		t.Error("empty anchor content")
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/anchor/"+id+"/anchor-nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing anchor: status = %d", rec.Code)
	}
}

func TestEntities(t *testing.T) {
	h := newTestServer(t).Routes()
	processDoc(t, h, "https://example.com/pricing")

	rec := doJSON(t, h, http.MethodGet, "/api/v1/entities?type=PriceSpecification", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	decode(t, rec, &resp)
	if resp.Count == 0 {
		t.Error("no entities by type")
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/entities?q=USD", nil)
	decode(t, rec, &resp)
	if resp.Count == 0 {
		t.Error("no entities by search")
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/entities", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no params: status = %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	h := newTestServer(t).Routes()
	processDoc(t, h, "https://example.com/pricing")

	rec := doJSON(t, h, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats storage.Stats
	decode(t, rec, &stats)
	if stats.Envelopes != 1 {
		t.Errorf("envelopes = %d", stats.Envelopes)
	}
}

func TestDeleteEnvelope(t *testing.T) {
	h := newTestServer(t).Routes()
	id := processDoc(t, h, "https://example.com/pricing")

	rec := doJSON(t, h, http.MethodDelete, "/api/v1/envelope/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/v1/envelope/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d", rec.Code)
	}
}

func TestWatchNotEnabled(t *testing.T) {
	h := newTestServer(t).Routes()
	rec := doJSON(t, h, http.MethodGet, "/api/v1/watch/directories", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d", rec.Code)
	}
}
