// Package main is the Tsutsumi CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/tsutsumi/internal/cli"
	"github.com/hyperjump/tsutsumi/internal/config"
	"github.com/hyperjump/tsutsumi/internal/embedding"
	"github.com/hyperjump/tsutsumi/internal/extract"
	"github.com/hyperjump/tsutsumi/internal/index"
	"github.com/hyperjump/tsutsumi/internal/ingest"
	"github.com/hyperjump/tsutsumi/internal/intent"
	"github.com/hyperjump/tsutsumi/internal/keyword"
	"github.com/hyperjump/tsutsumi/internal/models"
	"github.com/hyperjump/tsutsumi/internal/pipeline"
	"github.com/hyperjump/tsutsumi/internal/retrieval"
	"github.com/hyperjump/tsutsumi/internal/server"
	"github.com/hyperjump/tsutsumi/internal/storage"
	"github.com/hyperjump/tsutsumi/internal/vector"
	"github.com/hyperjump/tsutsumi/internal/watcher"
	"github.com/hyperjump/tsutsumi/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/tsutsumi/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "tsutsumi server" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "query":
		runQuery()
	case "process":
		runProcess()
	case "envelope":
		runEnvelope()
	case "delete":
		runDelete()
	case "watch":
		runWatch()
	case "stats":
		runStats()
	case "version", "--version", "-v":
		fmt.Printf("tsutsumi version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (directory changes, file processing, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	svc := components.Ingest
	watchOpts := []watcher.Option{watcher.WithExtensions(cfg.Watch.Extensions)}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.RecursiveOrDefault(),
		func(path string) {
			if _, _, err := svc.IngestFile(context.Background(), path); err != nil {
				logger.Warn("watch ingest file failed", zap.String("path", path), zap.Error(err))
			}
		},
		func(path string) {
			if _, err := svc.DeleteFile(context.Background(), path); err != nil {
				logger.Warn("watch delete by path failed", zap.String("path", path), zap.Error(err))
			}
		},
		watchOpts...,
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		components.Ingest,
		components.Router,
		components.Assembler,
		components.Storage,
		cfg,
		logger,
		server.WithWatcher(watchSvc, resolvedConfigPath),
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if cfg.Storage.VectorIndexPath != "" && components.Vectors != nil {
		if err := components.Vectors.Save(cfg.Storage.VectorIndexPath); err != nil {
			logger.Warn("vector index save failed", zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
		}
	}
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// printQueryUsage prints query subcommand usage and routing hints.
func printQueryUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: tsutsumi query [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
The query is classified by intent and routed to a retrieval strategy
(entity lookup, narrative search, or a blend of both).
  • Use --strategy to override routing (structure_first, narrative_first,
    hybrid_parallel, structure_aggregate, structure_verify, narrative_ordered,
    hybrid_balanced).
  • Use --context to also assemble a citation-backed context block.

Examples:
  tsutsumi query how do refunds work
  tsutsumi query "pro plan price"                    # same as above
  tsutsumi query --strategy narrative_first "setup guide"
  tsutsumi query --context --limit 10 your query
`)
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting (e.g. "pro plan" vs pro plan).
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// queryConfigPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func queryConfigPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// queryLimitDefaultFromConfig loads config at path and returns the default result limit.
// On load failure, returns 5.
func queryLimitDefaultFromConfig(path string) int {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil {
		return 5
	}
	return cfg.Retrieval.DefaultLimit
}

// queryArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "tsutsumi query \"pro plan\" -limit 10"
// would otherwise leave -limit unparsed.
func queryArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runQuery() {
	queryArgs := queryArgsReorder(os.Args[2:])
	configPath := queryConfigPathFromArgs(queryArgs, defaultConfigPath)
	defaultLimit := queryLimitDefaultFromConfig(configPath)

	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPathFlag := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage when server is not running)")
	limit := fs.Int("limit", defaultLimit, "number of results")
	strategy := fs.String("strategy", "", "force a retrieval strategy instead of intent routing")
	withContext := fs.Bool("context", false, "assemble a citation-backed context block from the results")
	outputFormat := fs.String("output", "text", "output format: text (human-readable), compact (one result per line), or json (parseable)")
	fs.Usage = func() { printQueryUsage(fs) }
	_ = fs.Parse(queryArgs)

	if fs.NArg() < 1 {
		printQueryUsage(fs)
		os.Exit(1)
	}
	queryStr := buildQuery(fs.Args())
	if queryStr == "" {
		printQueryUsage(fs)
		os.Exit(1)
	}

	format := cli.OutputText
	switch *outputFormat {
	case "json":
		format = cli.OutputJSON
	case "text":
		format = cli.OutputText
	case "compact":
		format = cli.OutputCompact
	default:
		fmt.Printf("Unknown output format %q; use text, compact, or json\n", *outputFormat)
		os.Exit(1)
	}

	req := models.RetrieveRequest{
		Query:          queryStr,
		Limit:          *limit,
		IncludeContext: *withContext,
		Strategy:       *strategy,
	}

	if *serverURL != "" {
		// Use HTTP API when server is running (avoids Bleve/SQLite lock conflict).
		response, err := retrieveViaHTTP(*serverURL, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteRetrieveResults(os.Stdout, response, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Direct storage access (when server is not running).
	cfg, _, err := loadConfig(*configPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	if err := req.Validate(cfg.Retrieval.DefaultLimit, cfg.Retrieval.MaxLimit); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid query: %v\n", err)
		os.Exit(1)
	}
	expand := cfg.Retrieval.ExpandSectionsOrDefault()

	ctx := context.Background()
	response := &cli.RetrieveResponse{Query: queryStr}
	if req.Strategy != "" {
		results, err := components.Router.RetrieveWithStrategy(ctx, queryStr, intent.Strategy(req.Strategy), req.Limit, expand)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
		response.Results = results
		response.Strategy = req.Strategy
	} else {
		results, classified, err := components.Router.Retrieve(ctx, queryStr, req.Limit, expand)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
		response.Results = results
		response.Intent = &classified
		response.Strategy = string(classified.Strategy)
	}
	response.Count = len(response.Results)
	if req.IncludeContext {
		assembled := components.Assembler.Assemble(response.Results, queryStr, true)
		response.Context = &cli.ContextBlock{
			FormattedContext: assembled.FormattedContext,
			TotalTokens:      assembled.TotalTokens,
			SourceCount:      assembled.SourceCount,
		}
	}
	if err := cli.WriteRetrieveResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func retrieveViaHTTP(serverURL string, req models.RetrieveRequest) (*cli.RetrieveResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/retrieve", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response cli.RetrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runProcess() {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: tsutsumi process [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		n, err := processDirectory(ctx, components.Ingest, path, cfg.Watch.Extensions)
		if err != nil {
			fmt.Printf("Processing directory failed: %v\n", err)
			os.Exit(1)
		}
		persistVectors(cfg, components, logger)
		fmt.Printf("Processed %d file(s) from %s\n", n, path)
		return
	}
	env, report, err := components.Ingest.IngestFile(ctx, path)
	if err != nil {
		fmt.Printf("Processing failed: %v\n", err)
		os.Exit(1)
	}
	persistVectors(cfg, components, logger)
	fmt.Printf("Envelope built: %s (%d anchors, %d entities, noise score %.2f)\n",
		env.ID, report.Anchors.Total, report.Entities.Total, report.NoiseStripping.NoiseScore)
}

// processDirectory walks root and ingests every file whose extension is in exts
// (or any supported extension when exts is empty). Returns the number of files processed.
func processDirectory(ctx context.Context, svc *ingest.Service, root string, exts []string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !extensionAccepted(path, exts) {
			return nil
		}
		if _, _, err := svc.IngestFile(ctx, path); err != nil {
			fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", path, err)
			return nil
		}
		count++
		return nil
	})
	return count, err
}

// extensionAccepted reports whether path's extension is in exts, or is a
// supported document type when exts is empty.
func extensionAccepted(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if len(exts) == 0 {
		return extract.Supported(ext)
	}
	for _, e := range exts {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// persistVectors saves the in-memory vector index so a later server start sees
// the embeddings produced by this run.
func persistVectors(cfg *config.Config, components *Components, logger *zap.Logger) {
	if cfg.Storage.VectorIndexPath == "" || components.Vectors == nil {
		return
	}
	if err := components.Vectors.Save(cfg.Storage.VectorIndexPath); err != nil {
		logger.Warn("vector index save failed", zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
	}
}

func runEnvelope() {
	fs := flag.NewFlagSet("envelope", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: tsutsumi envelope [flags] <envelope-id>")
		os.Exit(1)
	}
	envelopeID := fs.Arg(0)

	if *serverURL != "" {
		resp, err := http.Get(*serverURL + "/api/v1/envelope/" + url.PathEscape(envelopeID))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "Fetch failed (%d): %s\n", resp.StatusCode, string(body))
			os.Exit(1)
		}
		var indented bytes.Buffer
		if err := json.Indent(&indented, body, "", "  "); err != nil {
			fmt.Println(string(body))
			return
		}
		fmt.Println(indented.String())
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	env, err := store.GetEnvelope(context.Background(), envelopeID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fetch failed: %v\n", err)
		os.Exit(1)
	}
	if env == nil {
		fmt.Fprintf(os.Stderr, "Envelope not found: %s\n", envelopeID)
		os.Exit(1)
	}
	data, err := json.MarshalIndent(env.ToMap(), "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Marshal failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: tsutsumi delete [flags] <envelope-id>")
		os.Exit(1)
	}
	envelopeID := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	removed, err := components.Ingest.Delete(context.Background(), envelopeID)
	if err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	if !removed {
		fmt.Printf("Envelope not found: %s\n", envelopeID)
		os.Exit(1)
	}
	persistVectors(cfg, components, logger)
	fmt.Printf("Envelope deleted: %s\n", envelopeID)
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: tsutsumi watch <add|remove|list> [path]")
		fmt.Println("  tsutsumi watch add <path>     Add directory to watch")
		fmt.Println("  tsutsumi watch remove <path>  Remove directory from watch")
		fmt.Println("  tsutsumi watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[3:])
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: tsutsumi watch add <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body, _ := json.Marshal(map[string]interface{}{"path": path, "sync": true})
		resp, err := http.Post(*serverURL+"/api/v1/watch/directories", "application/json", bytes.NewReader(body))
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("Add failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: tsutsumi watch remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/watch/directories?path="+url.QueryEscape(path), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("Remove failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		resp, err := http.Get(*serverURL + "/api/v1/watch/directories")
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("List failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Printf("Parse failed: %v\n", err)
			os.Exit(1)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

// statsConfigResponse holds configuration info printed with direct-storage stats.
type statsConfigResponse struct {
	EmbeddingDimensions int    `json:"embedding_dimensions,omitempty"`
	DatabasePath        string `json:"database_path,omitempty"`
	BleveIndexPath      string `json:"bleve_index_path,omitempty"`
	VectorIndexPath     string `json:"vector_index_path,omitempty"`
}

// statsResponse is the shape of GET /api/v1/stats plus optional local config info.
type statsResponse struct {
	Envelopes     int64                `json:"envelopes"`
	Anchors       int64                `json:"anchors"`
	Entities      int64                `json:"entities"`
	AvgNoiseScore float64              `json:"avg_noise_score"`
	TotalTokens   int64                `json:"total_tokens"`
	EntityTypes   map[string]int64     `json:"entity_types"`
	Config        *statsConfigResponse `json:"config,omitempty"`
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var stats statsResponse
	if *serverURL != "" {
		res, err := statsViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
			os.Exit(1)
		}
		stats = *res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		s, err := store.GetStats(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
			os.Exit(1)
		}
		stats = statsResponse{
			Envelopes:     s.Envelopes,
			Anchors:       s.Anchors,
			Entities:      s.Entities,
			AvgNoiseScore: s.AvgNoiseScore,
			TotalTokens:   s.TotalTokens,
			EntityTypes:   s.EntityTypes,
			Config: &statsConfigResponse{
				EmbeddingDimensions: cfg.Embedding.Dimensions,
				DatabasePath:        cfg.Storage.DatabasePath,
				BleveIndexPath:      cfg.Storage.BleveIndexPath,
				VectorIndexPath:     cfg.Storage.VectorIndexPath,
			},
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("envelopes:        %d   # count of stored envelopes\n", stats.Envelopes)
		fmt.Printf("anchors:          %d   # count of narrative anchors\n", stats.Anchors)
		fmt.Printf("entities:         %d   # count of bound entities\n", stats.Entities)
		fmt.Printf("avg_noise_score:  %.3f # average stripped-noise fraction\n", stats.AvgNoiseScore)
		fmt.Printf("total_tokens:     %d   # token estimate across narratives\n", stats.TotalTokens)
		if len(stats.EntityTypes) > 0 {
			fmt.Println()
			fmt.Println("# entities by type")
			for entityType, n := range stats.EntityTypes {
				fmt.Printf("%-24s %d\n", entityType+":", n)
			}
		}
		if stats.Config != nil {
			fmt.Println()
			fmt.Println("# configuration")
			if stats.Config.EmbeddingDimensions > 0 {
				fmt.Printf("embedding_dims:   %d\n", stats.Config.EmbeddingDimensions)
			}
			if stats.Config.DatabasePath != "" {
				fmt.Printf("database_path:    %s\n", stats.Config.DatabasePath)
			}
			if stats.Config.BleveIndexPath != "" {
				fmt.Printf("bleve_index_path: %s\n", stats.Config.BleveIndexPath)
			}
			if stats.Config.VectorIndexPath != "" {
				fmt.Printf("vector_index_path: %s\n", stats.Config.VectorIndexPath)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statsViaHTTP(serverURL string) (*statsResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/stats")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Storage   storage.Storage
	Embedder  embedding.Embedder
	Vectors   *vector.MemoryIndex
	Keywords  *keyword.BleveIndex
	Hybrid    *index.HybridIndex
	Ingest    *ingest.Service
	Router    *retrieval.Router
	Assembler *retrieval.Assembler
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Vectors != nil {
		_ = c.Vectors.Close()
	}
	if c.Keywords != nil {
		_ = c.Keywords.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var embedder embedding.Embedder
	onnxEmbedder, err := embedding.NewONNXEmbedder(
		cfg.Embedding.ModelPath,
		cfg.Embedding.Dimensions,
		cfg.Embedding.MaxTokens,
		cfg.Embedding.CacheSize,
	)
	if err != nil {
		if logger != nil {
			logger.Warn("ONNX embedder unavailable, using deterministic hash embedder", zap.Error(err))
		}
		embedder = embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	} else {
		embedder = onnxEmbedder
	}

	vectorIndex, err := vector.NewMemoryIndex(cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if cfg.Storage.VectorIndexPath != "" {
		if loadErr := vectorIndex.Load(cfg.Storage.VectorIndexPath); loadErr != nil && logger != nil {
			logger.Warn("vector index load skipped (reprocess to rebuild)", zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(loadErr))
		}
	}

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	hybridOpts := []index.Option{}
	if debug && logger != nil {
		hybridOpts = append(hybridOpts, index.WithLogger(logger))
	}
	hybrid := index.NewHybridIndex(store, keywordIndex, vectorIndex, embedder, hybridOpts...)

	pipeOpts := []pipeline.Option{
		pipeline.WithGranularAnchors(cfg.Pipeline.GranularAnchors),
		pipeline.WithProximityThreshold(cfg.Pipeline.ProximityThreshold),
		pipeline.WithValidation(cfg.Pipeline.ValidateBindingsOrDefault()),
	}
	if debug && logger != nil {
		pipeOpts = append(pipeOpts, pipeline.WithLogger(logger))
	}
	pipe := pipeline.NewPipeline(pipeOpts...)

	ingestOpts := []ingest.Option{}
	if debug && logger != nil {
		ingestOpts = append(ingestOpts, ingest.WithLogger(logger))
	}
	svc := ingest.NewService(pipe, hybrid, ingestOpts...)

	routerOpts := []retrieval.RouterOption{}
	if debug && logger != nil {
		routerOpts = append(routerOpts, retrieval.WithRouterLogger(logger))
	}
	router := retrieval.NewRouter(hybrid, routerOpts...)

	assembler := retrieval.NewAssembler(
		retrieval.WithMaxTokens(cfg.Retrieval.MaxContextTokens),
		retrieval.WithTokensPerWord(cfg.Pipeline.TokensPerWord),
		retrieval.WithIntegrityVerifier(func(sourceID string) bool {
			env, err := store.GetEnvelope(context.Background(), sourceID)
			return err == nil && env != nil && env.VerifyIntegrity()
		}),
	)

	return &Components{
		Storage:   store,
		Embedder:  embedder,
		Vectors:   vectorIndex,
		Keywords:  keywordIndex,
		Hybrid:    hybrid,
		Ingest:    svc,
		Router:    router,
		Assembler: assembler,
	}, nil
}

func printUsage() {
	fmt.Println(`tsutsumi - Envelope construction and intent-aware retrieval for LLM context

Usage:
  tsutsumi server [flags]             Start the HTTP server
  tsutsumi query [flags] <query>      Retrieve context for a query
  tsutsumi process [flags] <file>     Build an envelope from a document
  tsutsumi envelope [flags] <id>      Show a stored envelope
  tsutsumi delete [flags] <id>        Delete an envelope
  tsutsumi stats [flags]              Show storage/index statistics
  tsutsumi watch <add|remove|list>    Manage watched directories
  tsutsumi version                    Show version
  tsutsumi help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/tsutsumi/config.yaml)
  --debug            Enable debug logging (directory changes, file processing, etc.)

Query Flags:
  --config string    Config file path (for direct storage mode; also used for default limit)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") to use direct storage when server is not running.
  --limit int        Number of results (default from config, or 5)
  --strategy string  Force a retrieval strategy instead of intent routing
  --context          Assemble a citation-backed context block from the results
  --output string    Output format: text, compact, or json (default: text)

Process Flags:
  --config string    Config file path

Envelope Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.

Stats Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Watch Flags:
  --server string    Server URL (default: http://localhost:8080)

Examples:
  tsutsumi server
  tsutsumi query "pro plan price"
  tsutsumi query --context "how do refunds work"
  tsutsumi query --output json "query"   # structured JSON for other apps
  tsutsumi query --strategy narrative_first "setup guide"
  tsutsumi process document.md
  tsutsumi delete doc-1a2b3c4d
  tsutsumi stats
  tsutsumi stats --output json
  tsutsumi watch add /path/to/docs
  tsutsumi watch list`)
}
