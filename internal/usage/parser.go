package usage

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Category is one row of the context usage breakdown.
type Category struct {
	Name       string  `json:"name"`
	Tokens     int     `json:"tokens"`
	Percentage float64 `json:"percentage"`
}

// ContextUsage is the parsed reply to the /context command.
type ContextUsage struct {
	Model         string     `json:"model"`
	TotalTokens   int        `json:"total_tokens"`
	ContextWindow int        `json:"context_window"`
	Percentage    float64    `json:"percentage"`
	Categories    []Category `json:"categories"`
	ReportedAt    time.Time  `json:"reported_at"`
}

// Patterns for the /context reply
var (
	// Matches patterns like: "Model: claude-sonnet-4-5-20250929" or "**Model:** claude-opus-4"
	modelPattern = regexp.MustCompile(`(?mi)^[ \t>*_]*model[*_]*:[*_]*[ \t]*([^\s|*]+)`)

	// Matches patterns like: "Tokens: 47.6k / 200.0k (24%)"
	tokensPattern = regexp.MustCompile(`(?i)tokens[*_]*:[*_]*[ \t]*([0-9]+(?:\.[0-9]+)?)k[ \t]*/[ \t]*([0-9]+(?:\.[0-9]+)?)k[ \t]*\(([0-9]+(?:\.[0-9]+)?)%\)`)

	// Matches table rows like: "| Messages | 24.1k | 12.0% |"
	categoryRowPattern = regexp.MustCompile(`^\|[ \t]*([^|]+?)[ \t]*\|[ \t]*([0-9]+(?:\.[0-9]+)?)k[ \t]*\|[ \t]*([0-9]+(?:\.[0-9]+)?)%[ \t]*\|$`)
)

// ParseContextUsage extracts the model, aggregate token usage and category
// table from the /context reply. It returns nil unless the model, the
// Tokens line and at least one category row are all present.
func ParseContextUsage(text string) *ContextUsage {
	model := modelPattern.FindStringSubmatch(text)
	if len(model) < 2 {
		return nil
	}
	tokens := tokensPattern.FindStringSubmatch(text)
	if len(tokens) < 4 {
		return nil
	}

	used, ok := parseThousands(tokens[1])
	if !ok {
		return nil
	}
	window, ok := parseThousands(tokens[2])
	if !ok {
		return nil
	}
	percent, ok := parsePercent(tokens[3])
	if !ok {
		return nil
	}

	categories := parseCategoryRows(text)
	if len(categories) == 0 {
		return nil
	}

	return &ContextUsage{
		Model:         model[1],
		TotalTokens:   used,
		ContextWindow: window,
		Percentage:    percent,
		Categories:    categories,
		ReportedAt:    time.Now().UTC(),
	}
}

func parseCategoryRows(text string) []Category {
	var categories []Category
	inTable := false

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if match := categoryRowPattern.FindStringSubmatch(line); len(match) == 4 {
			tokens, okTokens := parseThousands(match[2])
			percent, okPercent := parsePercent(match[3])
			if okTokens && okPercent {
				categories = append(categories, Category{Name: match[1], Tokens: tokens, Percentage: percent})
				inTable = true
				continue
			}
		}
		// Header and separator rows
		if strings.HasPrefix(line, "|") {
			continue
		}
		if inTable {
			break
		}
	}

	return categories
}

// Values in the reply are always expressed in thousands.
func parseThousands(value string) (int, bool) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return int(math.Round(f * 1000)), true
}

func parsePercent(value string) (float64, bool) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func usageEqual(a, b *ContextUsage) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Model != b.Model ||
		a.TotalTokens != b.TotalTokens ||
		a.ContextWindow != b.ContextWindow ||
		a.Percentage != b.Percentage ||
		len(a.Categories) != len(b.Categories) {
		return false
	}
	for i := range a.Categories {
		if a.Categories[i] != b.Categories[i] {
			return false
		}
	}
	return true
}
