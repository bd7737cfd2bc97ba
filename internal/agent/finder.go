package agent

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"sqlagent/internal/llm"
	"sqlagent/internal/schema"

	"github.com/sirupsen/logrus"
)

// Candidate is a table ranked by relevance to a question.
type Candidate struct {
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Description string  `json:"description,omitempty"`
	Columns     int     `json:"columns"`
	Rows        int64   `json:"rows"`
}

// TableFinder ranks warehouse tables by relevance to a question. Small
// catalogs are ranked with keyword heuristics; large ones are handed to the
// LLM with the heuristics as fallback.
type TableFinder struct {
	schemas      *schema.Manager
	client       llm.Client
	defaultTable string
	logger       *logrus.Logger
}

// NewTableFinder creates a table finder. defaultTable, when set and present
// among the candidates, is promoted to the top of the heuristic ranking.
func NewTableFinder(schemas *schema.Manager, client llm.Client, defaultTable string, logger *logrus.Logger) *TableFinder {
	return &TableFinder{schemas: schemas, client: client, defaultTable: defaultTable, logger: logger}
}

// Find returns candidate tables sorted by descending relevance.
func (f *TableFinder) Find(ctx context.Context, question string) ([]Candidate, error) {
	tables, err := f.schemas.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, nil
	}

	if len(tables) > 10 && f.client != nil {
		if ranked, err := f.rankWithLLM(ctx, question, tables); err == nil {
			return ranked, nil
		} else {
			f.logger.WithError(err).Warn("LLM table ranking failed, falling back to heuristics")
		}
	}

	return promoteDefault(RankByKeywords(question, tables), f.defaultTable), nil
}

// promoteDefault moves the configured default table to the front of the
// ranking when the heuristics matched it at all.
func promoteDefault(candidates []Candidate, defaultTable string) []Candidate {
	if defaultTable == "" {
		return candidates
	}
	for i, c := range candidates {
		if c.Name == defaultTable && i > 0 {
			promoted := append([]Candidate{c}, candidates[:i]...)
			return append(promoted, candidates[i+1:]...)
		}
	}
	return candidates
}

// RankByKeywords scores tables by keyword overlap between the question and
// the table/column names and descriptions. Tables with no overlap at all are
// dropped so that an empty result can fall through to the default table.
func RankByKeywords(question string, tables []schema.Table) []Candidate {
	keywords := extractKeywords(question)

	candidates := make([]Candidate, 0, len(tables))
	for _, tbl := range tables {
		score := 0.0

		score += overlap(keywords, identifierWords(tbl.Name)) * 2
		score += overlap(keywords, identifierWords(tbl.Description))

		for _, col := range tbl.Columns {
			score += overlap(keywords, identifierWords(col.Name)) * 1.5
			score += overlap(keywords, identifierWords(col.Description)) * 0.5
		}

		if score == 0 {
			continue
		}

		// Tables with real data edge out empty ones on ties.
		if tbl.Rows > 100 {
			score += 0.5
		}

		candidates = append(candidates, Candidate{
			Name:        tbl.Name,
			Score:       score,
			Description: tbl.Description,
			Columns:     len(tbl.Columns),
			Rows:        tbl.Rows,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

func (f *TableFinder) rankWithLLM(ctx context.Context, question string, tables []schema.Table) ([]Candidate, error) {
	byName := make(map[string]schema.Table, len(tables))
	var b strings.Builder
	b.WriteString("Available tables:\n")
	for _, tbl := range tables {
		byName[tbl.Name] = tbl
		fmt.Fprintf(&b, "- %s (%d columns", tbl.Name, len(tbl.Columns))
		if tbl.Description != "" {
			fmt.Fprintf(&b, ", %s", tbl.Description)
		}
		b.WriteString(")\n")
	}

	system := fmt.Sprintf(`You are a database expert. Given a user question and a list of tables,
return the names of the most relevant tables, best match first, as a comma-separated
list with no other text.

%s`, b.String())

	prompt := llm.MakeLlama3Prompt(question, system)
	result, err := f.client.Generate(ctx, prompt, llm.GenerateOptions{
		MaxNewTokens: 150,
		Stage:        "find_tables",
	})
	if err != nil {
		return nil, err
	}

	var ranked []Candidate
	for i, part := range strings.Split(result, ",") {
		name := strings.TrimSpace(part)
		tbl, ok := byName[name]
		if !ok {
			continue
		}
		ranked = append(ranked, Candidate{
			Name:        tbl.Name,
			Score:       float64(len(byName) - i),
			Description: tbl.Description,
			Columns:     len(tbl.Columns),
			Rows:        tbl.Rows,
		})
	}
	if len(ranked) == 0 {
		return nil, fmt.Errorf("LLM ranking returned no known tables (response: %.100s)", result)
	}
	return ranked, nil
}

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "with": true,
	"by": true, "about": true, "from": true, "of": true, "over": true, "under": true,
	"then": true, "here": true, "there": true, "when": true, "where": true,
	"why": true, "how": true, "all": true, "any": true, "both": true, "each": true,
	"few": true, "more": true, "most": true, "other": true, "some": true,
	"such": true, "no": true, "not": true, "only": true, "same": true, "so": true,
	"than": true, "too": true, "very": true, "can": true, "will": true, "just": true,
	"what": true, "which": true, "who": true, "this": true, "that": true,
	"these": true, "those": true, "it": true, "its": true, "they": true,
	"them": true, "their": true, "show": true, "get": true, "find": true,
	"me": true, "my": true, "we": true, "our": true, "you": true, "your": true,
}

// extractKeywords lowercases the question and strips stop words.
func extractKeywords(question string) map[string]bool {
	keywords := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(question), -1) {
		if !stopWords[w] {
			keywords[w] = true
		}
	}
	return keywords
}

// identifierWords splits an identifier or description into lowercase words.
// Underscores and case changes both act as separators, so "sales_data" and
// "SalesAmount" each yield two words.
func identifierWords(s string) map[string]bool {
	// Break camelCase before lowering.
	var spaced strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			spaced.WriteByte(' ')
		}
		spaced.WriteRune(r)
	}

	words := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(spaced.String()), -1) {
		words[w] = true
	}
	return words
}

func overlap(keywords, words map[string]bool) float64 {
	count := 0
	for w := range keywords {
		if words[w] {
			count++
		}
	}
	return float64(count)
}
