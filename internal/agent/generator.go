package agent

import (
	"context"
	"fmt"
	"strings"

	"sqlagent/internal/llm"
	"sqlagent/internal/schema"

	"github.com/sirupsen/logrus"
)

// Generator turns a natural-language question plus a table schema into a SQL
// query via the LLM.
type Generator struct {
	client  llm.Client
	dialect string
	logger  *logrus.Logger
}

// NewGenerator creates a query generator for the given SQL dialect
// ("sqlite" or "postgres").
func NewGenerator(client llm.Client, dialect string, logger *logrus.Logger) *Generator {
	return &Generator{client: client, dialect: dialect, logger: logger}
}

// Generate produces a validated SQL query for the question. If the first
// completion fails validation, one corrective attempt is made with the
// validation error fed back into the prompt.
func (g *Generator) Generate(ctx context.Context, question string, tbl schema.Table) (string, error) {
	systemPrompt := g.systemPrompt(tbl)

	query, err := g.generateOnce(ctx, question, systemPrompt)
	if err != nil {
		return "", err
	}

	if vErr := ValidateReadOnly(query); vErr != nil {
		g.logger.WithError(vErr).Warn("Generated query failed validation, attempting to fix")

		fixPrompt := fmt.Sprintf("%s\n\nYour previous query was rejected: %s\nPrevious query:\n%s\nGenerate a corrected query.",
			systemPrompt, vErr.Error(), query)
		query, err = g.generateOnce(ctx, question, fixPrompt)
		if err != nil {
			return "", err
		}
		if vErr := ValidateReadOnly(query); vErr != nil {
			return "", fmt.Errorf("generated query failed validation: %w", vErr)
		}
	}

	return query, nil
}

func (g *Generator) generateOnce(ctx context.Context, question, systemPrompt string) (string, error) {
	prompt := llm.MakeLlama3Prompt(question, systemPrompt)

	raw, err := g.client.Generate(ctx, prompt, llm.GenerateOptions{
		OutputField:  "sql_query",
		MaxNewTokens: 600,
		Stage:        "generate",
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate SQL query: %w", err)
	}

	query := CleanQuery(raw)
	if query == "" {
		return "", fmt.Errorf("LLM returned an empty query")
	}
	return query, nil
}

// systemPrompt builds the schema-driven generation prompt.
func (g *Generator) systemPrompt(tbl schema.Table) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a financial analyst with 15 years of experience writing SQL queries for a %s database.\n\n", g.dialectName())
	fmt.Fprintf(&b, "The %s table has the following schema:\n%s\n", tbl.Name, tbl.PromptText())
	fmt.Fprintf(&b, `Write a %s SQL query to answer the following question. Follow these rules:

- Use only the fields that are necessary to answer the question
- Make sure to use proper %s syntax
- Do not use SELECT * except for very simple queries
- Always include appropriate filters to make results meaningful
- If aggregating data, include appropriate GROUP BY clauses
- If sorting is implied by the question, include ORDER BY clauses
- Use appropriate LIMIT clauses to prevent excessive results
- If the query looks for recent data, consider filtering by date fields
- Format the SQL query for readability with proper indentation

Provide ONLY the SQL query as your response, with no explanations or other text.
`, g.dialectName(), g.dialectName())

	return b.String()
}

func (g *Generator) dialectName() string {
	switch g.dialect {
	case "postgres":
		return "PostgreSQL"
	case "sqlite", "sqlite3":
		return "SQLite"
	default:
		return g.dialect
	}
}

// CleanQuery strips markdown fences and other completion noise from a
// generated SQL statement.
func CleanQuery(raw string) string {
	query := strings.TrimSpace(raw)

	query = strings.TrimPrefix(query, "```sql")
	query = strings.TrimPrefix(query, "```SQL")
	query = strings.TrimPrefix(query, "```")
	query = strings.TrimSuffix(query, "```")
	query = strings.TrimSpace(query)
	query = strings.TrimSuffix(query, ";")

	return strings.TrimSpace(query)
}
