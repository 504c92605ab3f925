// Package cli provides output formatting for the Tsutsumi command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/tsutsumi/internal/intent"
	"github.com/hyperjump/tsutsumi/internal/models"
	"github.com/hyperjump/tsutsumi/pkg/utils"
)

// OutputFormat is the format for retrieval result output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputCompact is one result per line, for piping into other tools.
	OutputCompact OutputFormat = "compact"
)

// ContextBlock mirrors the assembled-context section of a retrieve response.
type ContextBlock struct {
	FormattedContext string                     `json:"formatted_context"`
	TotalTokens      int                        `json:"total_tokens"`
	SourceCount      int                        `json:"source_count"`
	IntegrityStatus  map[string]json.RawMessage `json:"integrity_status,omitempty"`
}

// RetrieveResponse is the wire shape of POST /api/v1/retrieve, decodable by
// CLI clients without importing the server package.
type RetrieveResponse struct {
	Query    string                   `json:"query"`
	Intent   *intent.Classified       `json:"intent,omitempty"`
	Results  []models.RetrievalResult `json:"results"`
	Count    int                      `json:"count"`
	Context  *ContextBlock            `json:"context,omitempty"`
	Strategy string                   `json:"strategy"`
}

// WriteRetrieveResults writes retrieval results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteRetrieveResults(w io.Writer, response *RetrieveResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	case OutputCompact:
		writeRetrieveResultsCompact(w, response)
		return nil
	default:
		writeRetrieveResultsText(w, response)
		return nil
	}
}

func writeRetrieveResultsText(w io.Writer, response *RetrieveResponse) {
	fmt.Fprintf(w, "\nFound %d results (strategy: %s)\n", response.Count, response.Strategy)
	if response.Intent != nil {
		fmt.Fprintf(w, "Intent: %s (confidence %.2f)\n", response.Intent.Intent, response.Intent.Confidence)
	}
	fmt.Fprintln(w)
	for i, result := range response.Results {
		writeOneResult(w, &result, i+1)
	}
	if response.Context != nil {
		fmt.Fprintln(w, "--- Assembled context ---")
		fmt.Fprintf(w, "(%d tokens from %d sources)\n\n", response.Context.TotalTokens, response.Context.SourceCount)
		fmt.Fprintln(w, response.Context.FormattedContext)
	}
}

func writeOneResult(w io.Writer, result *models.RetrievalResult, rank int) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "[%s] Rank: %d | Score: %.4f\n", result.Type, rank, result.Score)
	fmt.Fprintf(w, "Source: %s", result.SourceID)
	if result.AnchorID != "" {
		fmt.Fprintf(w, " %s", result.AnchorID)
	}
	fmt.Fprintln(w)
	if len(result.Entities) > 0 {
		fmt.Fprintf(w, "Entities: %d\n", len(result.Entities))
	}
	fmt.Fprintf(w, "\n%s\n", utils.Truncate(result.Content, 200))
	fmt.Fprintln(w)
}

func writeRetrieveResultsCompact(w io.Writer, response *RetrieveResponse) {
	for _, result := range response.Results {
		content := strings.ReplaceAll(result.Content, "\n", " ")
		fmt.Fprintf(w, "%.4f\t%s\t%s\t%s\t%s\n",
			result.Score, result.Type, result.SourceID, result.AnchorID, utils.Truncate(content, 120))
	}
}
