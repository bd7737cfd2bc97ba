package agent

import (
	"context"
	"fmt"
	"testing"

	"sqlagent/internal/llm"
	"sqlagent/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient drives LLM-dependent tests with canned responses.
type stubClient struct {
	responses []string
	err       error
	calls     int
	prompts   []string
	options   []llm.GenerateOptions
}

func (c *stubClient) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	c.prompts = append(c.prompts, prompt)
	c.options = append(c.options, opts)
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	idx := c.calls - 1
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	return c.responses[idx], nil
}

func TestCleanQuery(t *testing.T) {
	cases := map[string]string{
		"SELECT 1":                          "SELECT 1",
		"```sql\nSELECT 1\n```":             "SELECT 1",
		"```SQL\nSELECT 1\n```":             "SELECT 1",
		"```\nSELECT 1\n```":                "SELECT 1",
		"  SELECT 1;  ":                     "SELECT 1",
		"```sql\nSELECT a\nFROM t;\n```\n":  "SELECT a\nFROM t",
	}

	for raw, want := range cases {
		assert.Equal(t, want, CleanQuery(raw), "raw: %q", raw)
	}
}

func TestGenerateCleansAndValidates(t *testing.T) {
	client := &stubClient{responses: []string{"```sql\nSELECT Region FROM sales_data\n```"}}
	gen := NewGenerator(client, "sqlite", setupTestLogger())

	query, err := gen.Generate(context.Background(), "sales by region", schema.DefaultSalesTable())
	require.NoError(t, err)
	assert.Equal(t, "SELECT Region FROM sales_data", query)
	assert.Equal(t, 1, client.calls)

	// Generation must request the structured sql_query field
	assert.Equal(t, "sql_query", client.options[0].OutputField)
	assert.Equal(t, 600, client.options[0].MaxNewTokens)
}

func TestGenerateRetriesOnInvalidQuery(t *testing.T) {
	client := &stubClient{responses: []string{
		"DROP TABLE sales_data",
		"SELECT Region FROM sales_data",
	}}
	gen := NewGenerator(client, "sqlite", setupTestLogger())

	query, err := gen.Generate(context.Background(), "sales by region", schema.DefaultSalesTable())
	require.NoError(t, err)
	assert.Equal(t, "SELECT Region FROM sales_data", query)
	assert.Equal(t, 2, client.calls)

	// The second prompt carries the rejection back to the model
	assert.Contains(t, client.prompts[1], "rejected")
}

func TestGenerateFailsWhenRetryStillInvalid(t *testing.T) {
	client := &stubClient{responses: []string{"DELETE FROM sales_data"}}
	gen := NewGenerator(client, "sqlite", setupTestLogger())

	_, err := gen.Generate(context.Background(), "wipe everything", schema.DefaultSalesTable())
	assert.ErrorContains(t, err, "failed validation")
}

func TestGeneratePropagatesClientError(t *testing.T) {
	client := &stubClient{err: fmt.Errorf("api unavailable")}
	gen := NewGenerator(client, "postgres", setupTestLogger())

	_, err := gen.Generate(context.Background(), "sales by region", schema.DefaultSalesTable())
	assert.ErrorContains(t, err, "failed to generate SQL query")
}

func TestSystemPromptNamesDialectAndSchema(t *testing.T) {
	gen := NewGenerator(&stubClient{responses: []string{"SELECT 1"}}, "postgres", setupTestLogger())

	prompt := gen.systemPrompt(schema.DefaultSalesTable())
	assert.Contains(t, prompt, "PostgreSQL")
	assert.Contains(t, prompt, "sales_data")
	assert.Contains(t, prompt, "Sales_Amount")
	assert.Contains(t, prompt, "ONLY the SQL query")
}
