// Package structure extracts typed, JSON-LD compatible entities (prices,
// dates, contacts, URLs, versions, products) from narrative content.
package structure

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/tsutsumi/internal/models"
)

var (
	pricePatterns = []*regexp.Regexp{
		// $49.99, $49, $49.99/month
		regexp.MustCompile(`(?i)\$(\d+(?:,\d{3})*(?:\.\d{2})?)\s*(?:/\s*(month|year|mo|yr|week|day))?`),
		// 49.99 USD, 49 EUR
		regexp.MustCompile(`(?i)(\d+(?:,\d{3})*(?:\.\d{2})?)\s*(USD|EUR|GBP|CAD|AUD|JPY|CNY)`),
		// €49.99, £49.99
		regexp.MustCompile(`(?i)[€£](\d+(?:,\d{3})*(?:\.\d{2})?)`),
	}
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d{4}[-/]\d{1,2}[-/]\d{1,2})`),
		regexp.MustCompile(`(?i)((?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4})`),
		regexp.MustCompile(`(?i)(\d{1,2}\s+(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{4})`),
	}
	emailPattern   = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)
	urlPattern     = regexp.MustCompile(`https?://[^\s<>\[\]()"']+`)
	versionPattern = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?(?:-[\w.]+)?)`)
	periodPattern  = regexp.MustCompile(`(?i)/(month|year|mo|yr|week|day)`)
	productHeader  = regexp.MustCompile(`^#{1,3}\s+(.+)$`)
)

var versionContexts = []string{"version", "v.", "release", "update"}

var productIndicators = []string{"plan", "tier", "package", "edition", "version", "pricing"}

var dateFormats = []string{
	"2006-1-2",
	"2006/1/2",
	"January 2, 2006",
	"January 2 2006",
	"2 January 2006",
}

// Extractor scans markdown for structured facts. Extraction order is
// deterministic: per-line pattern scan first, then a multi-line pass for
// composite Product entities. Nothing is deduplicated here; the same fact
// found by two patterns yields two entities.
type Extractor struct{}

// NewExtractor creates a structure extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns all entities found in the markdown, in discovery order.
// Line numbers are zero-based. Entities come back unbound; the binder links
// them to anchors afterwards.
func (e *Extractor) Extract(markdown string) []models.Entity {
	var entities []models.Entity
	lines := strings.Split(markdown, "\n")

	for i, line := range lines {
		entities = append(entities, extractPrices(line, i)...)
		entities = append(entities, extractDates(line, i)...)
		entities = append(entities, extractEmails(line, i)...)
		entities = append(entities, extractURLs(line, i)...)
		entities = append(entities, extractVersions(line, i)...)
	}

	entities = append(entities, extractProducts(lines)...)
	return entities
}

func extractPrices(line string, lineNum int) []models.Entity {
	var entities []models.Entity
	for _, pattern := range pricePatterns {
		for _, m := range pattern.FindAllStringSubmatch(line, -1) {
			amount, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
			if err != nil {
				continue
			}

			full := m[0]
			var currency string
			switch {
			case strings.Contains(full, "$"):
				currency = "USD"
			case strings.Contains(full, "€"):
				currency = "EUR"
			case strings.Contains(full, "£"):
				currency = "GBP"
			case len(m) > 2 && m[2] != "":
				currency = strings.ToUpper(m[2])
			default:
				currency = "USD"
			}

			props := map[string]any{
				"value":    amount,
				"currency": currency,
			}
			if pm := periodPattern.FindStringSubmatch(full); pm != nil {
				period := strings.ToLower(pm[1])
				switch period {
				case "mo":
					period = "month"
				case "yr":
					period = "year"
				}
				props["period"] = period
			}

			entities = append(entities, models.Entity{
				Type:       "PriceSpecification",
				Properties: props,
				SourceText: full,
				LineNumber: lineNum,
			})
		}
	}
	return entities
}

func extractDates(line string, lineNum int) []models.Entity {
	var entities []models.Entity
	for _, pattern := range datePatterns {
		for _, m := range pattern.FindAllStringSubmatch(line, -1) {
			dateStr := m[1]
			props := map[string]any{"value": dateStr}
			if t, ok := parseDate(dateStr); ok {
				props["iso"] = t.Format("2006-01-02T15:04:05")
			} else {
				props["iso"] = nil
			}
			entities = append(entities, models.Entity{
				Type:       "Date",
				Properties: props,
				SourceText: dateStr,
				LineNumber: lineNum,
			})
		}
	}
	return entities
}

func extractEmails(line string, lineNum int) []models.Entity {
	var entities []models.Entity
	for _, email := range emailPattern.FindAllString(line, -1) {
		entities = append(entities, models.Entity{
			Type: "ContactPoint",
			Properties: map[string]any{
				"contactType": "email",
				"email":       email,
			},
			SourceText: email,
			LineNumber: lineNum,
		})
	}
	return entities
}

func extractURLs(line string, lineNum int) []models.Entity {
	var entities []models.Entity
	for _, url := range urlPattern.FindAllString(line, -1) {
		entities = append(entities, models.Entity{
			Type:       "URL",
			Properties: map[string]any{"url": url},
			SourceText: url,
			LineNumber: lineNum,
		})
	}
	return entities
}

// extractVersions only fires on lines that mention a version-like context,
// otherwise bare "1.2" floats would flood the output.
func extractVersions(line string, lineNum int) []models.Entity {
	lower := strings.ToLower(line)
	inContext := false
	for _, ctx := range versionContexts {
		if strings.Contains(lower, ctx) {
			inContext = true
			break
		}
	}
	if !inContext {
		return nil
	}

	var entities []models.Entity
	for _, m := range versionPattern.FindAllStringSubmatch(line, -1) {
		entities = append(entities, models.Entity{
			Type:       "SoftwareVersion",
			Properties: map[string]any{"version": m[1]},
			SourceText: m[0],
			LineNumber: lineNum,
		})
	}
	return entities
}

// extractProducts finds plan/tier style headers and scans the following ten
// lines for the first price. Products without a nearby price keep just
// their name.
func extractProducts(lines []string) []models.Entity {
	var entities []models.Entity
	for i, line := range lines {
		m := productHeader.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		title := m[1]
		lower := strings.ToLower(title)

		isProduct := false
		for _, ind := range productIndicators {
			if strings.Contains(lower, ind) {
				isProduct = true
				break
			}
		}
		if !isProduct {
			continue
		}

		end := i + 10
		if end > len(lines) {
			end = len(lines)
		}
		searchText := strings.Join(lines[i:end], "\n")

		props := map[string]any{"name": title}
		for _, pattern := range pricePatterns {
			pm := pattern.FindStringSubmatch(searchText)
			if pm == nil {
				continue
			}
			if amount, err := strconv.ParseFloat(strings.ReplaceAll(pm[1], ",", ""), 64); err == nil {
				props["price"] = map[string]any{
					"value":    amount,
					"currency": "USD",
				}
			}
			break
		}

		entities = append(entities, models.Entity{
			Type:       "Product",
			Properties: props,
			SourceText: title,
			LineNumber: i,
		})
	}
	return entities
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ToJSONLD renders entities with flattened properties plus extraction
// provenance, suitable for export.
func ToJSONLD(entities []models.Entity) []map[string]any {
	out := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		m := make(map[string]any, len(e.Properties)+2)
		m["@type"] = e.Type
		for k, v := range e.Properties {
			m[k] = v
		}
		m["_extraction"] = map[string]any{
			"source_text": e.SourceText,
			"line_number": e.LineNumber,
		}
		out = append(out, m)
	}
	return out
}
