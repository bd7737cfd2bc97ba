package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sqlagent/internal/llm"

	"github.com/sirupsen/logrus"
)

// Summarizer turns query results into a short natural-language summary.
type Summarizer struct {
	client  llm.Client
	maxRows int
	logger  *logrus.Logger
}

// NewSummarizer creates a result summarizer. maxRows caps how many result
// rows are included in the prompt.
func NewSummarizer(client llm.Client, maxRows int, logger *logrus.Logger) *Summarizer {
	if maxRows <= 0 {
		maxRows = 15
	}
	return &Summarizer{client: client, maxRows: maxRows, logger: logger}
}

// Summarize produces a 3-5 sentence markdown summary of the results. Both the
// original and the enhanced question are given to the model. A model failure
// degrades to an explanatory summary string; the run itself still completes
// with its rows.
func (s *Summarizer) Summarize(ctx context.Context, original, enhanced string, results []map[string]any) string {
	if enhanced == "" {
		enhanced = original
	}

	system := fmt.Sprintf(`You are a data analyst presenting query results to business users.
Summarize the following query results in 3-5 sentences of clear, plain language.
Focus on the key findings and numbers that answer the question.
Use markdown formatting for emphasis where it helps readability.
Do not repeat the raw data verbatim; interpret it.

Original Question: %s
Enhanced Question: %s

Results:
%s`, original, enhanced, FormatRows(results, s.maxRows))

	prompt := llm.MakeLlama3Prompt("Summarize these results.", system)
	result, err := s.client.Generate(ctx, prompt, llm.GenerateOptions{
		MaxNewTokens: 300,
		Stage:        "summarize",
	})
	if err != nil {
		s.logger.WithError(err).Warn("Summary generation failed")
		return fmt.Sprintf("Failed to generate summary: %v", err)
	}

	summary := strings.TrimSpace(result)
	if summary == "" {
		s.logger.Warn("LLM returned an empty summary")
		return "Failed to generate summary: empty response from model"
	}

	s.logger.WithField("length", len(summary)).Debug("Generated summary")
	return summary
}

// FormatRows renders result rows as "key: value" lines for the prompt,
// capped at maxRows with a truncation notice.
func FormatRows(results []map[string]any, maxRows int) string {
	if len(results) == 0 {
		return "No results returned."
	}

	shown := results
	truncated := 0
	if len(shown) > maxRows {
		truncated = len(shown) - maxRows
		shown = shown[:maxRows]
	}

	var b strings.Builder
	for i, row := range shown {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", k, row[k]))
		}
		fmt.Fprintf(&b, "Row %d: %s\n", i+1, strings.Join(parts, ", "))
	}
	if truncated > 0 {
		fmt.Fprintf(&b, "... and %d more rows\n", truncated)
	}
	return b.String()
}
