package service

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"sqlagent/internal/config"
	"sqlagent/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupArtifactWriter(t *testing.T) (*FileArtifactWriter, string) {
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store, err := storage.NewLocalStorage(storage.LocalConfig{
		BasePath:   dir,
		CreateDirs: true,
	}, logger)
	require.NoError(t, err)

	paths := config.Paths{Queries: "sql_queries", Output: "output"}
	return NewFileArtifactWriter(store, paths, logger), dir
}

func TestWriteQueryFormat(t *testing.T) {
	w, dir := setupArtifactWriter(t)

	err := w.WriteQuery(context.Background(), "which day had the most sales",
		"SELECT Sale_Date, SUM(Sales_Amount) AS Total_Sales\nFROM sales_data\nGROUP BY Sale_Date\nORDER BY Total_Sales DESC\nLIMIT 5")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "sql_queries", "last_query.sql"))
	require.NoError(t, err)

	want := "-- which day had the most sales\n" +
		"SELECT Sale_Date, SUM(Sales_Amount) AS Total_Sales\nFROM sales_data\nGROUP BY Sale_Date\nORDER BY Total_Sales DESC\nLIMIT 5\n"
	assert.Equal(t, want, string(data))
}

func TestWriteQueryFlattensMultilineQuestion(t *testing.T) {
	w, dir := setupArtifactWriter(t)

	err := w.WriteQuery(context.Background(), "line one\nline two", "SELECT 1")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "sql_queries", "last_query.sql"))
	require.NoError(t, err)
	assert.Equal(t, "-- line one line two\nSELECT 1\n", string(data))
}

func TestWriteSummaryFormat(t *testing.T) {
	w, dir := setupArtifactWriter(t)

	err := w.WriteSummary(context.Background(), "which day had the most sales",
		"The best day was **2023-10-20**.")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "output", "last_summary.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Summary for: which day had the most sales\n\nThe best day was **2023-10-20**.\n", string(data))
}

func TestWriteResultJSON(t *testing.T) {
	w, dir := setupArtifactWriter(t)

	rows := []map[string]any{
		{"Sale_Date": "2023-10-20", "Total_Sales": 3850.75},
	}
	err := w.WriteResultJSON(context.Background(), rows)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "output", "query_result.json"))
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "2023-10-20", decoded[0]["Sale_Date"])
}

func TestWriteResultJSONNilRows(t *testing.T) {
	w, dir := setupArtifactWriter(t)

	require.NoError(t, w.WriteResultJSON(context.Background(), nil))

	data, err := os.ReadFile(filepath.Join(dir, "output", "query_result.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestReadArtifactRoundTrip(t *testing.T) {
	w, _ := setupArtifactWriter(t)
	ctx := context.Background()

	require.NoError(t, w.WriteSummary(ctx, "best day", "It was **2023-10-20**."))

	reader, err := w.Read(ctx, "last_summary.md")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "# Summary for: best day\n\nIt was **2023-10-20**.\n", string(data))
}

func TestReadUnknownArtifact(t *testing.T) {
	w, _ := setupArtifactWriter(t)

	_, err := w.Read(context.Background(), "secrets.txt")
	assert.ErrorContains(t, err, "unknown artifact")
}

func TestArtifactNames(t *testing.T) {
	assert.Equal(t, []string{"last_query.sql", "query_result.json", "last_summary.md"}, ArtifactNames())
}

func TestListArtifacts(t *testing.T) {
	w, _ := setupArtifactWriter(t)
	ctx := context.Background()

	empty, err := w.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, w.WriteQuery(ctx, "best day", "SELECT 1"))
	require.NoError(t, w.WriteResultJSON(ctx, nil))
	require.NoError(t, w.WriteSummary(ctx, "best day", "It was **2023-10-20**."))

	infos, err := w.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "last_query.sql", infos[0].Name)
	assert.Equal(t, "sql_queries/last_query.sql", infos[0].Key)
	assert.Equal(t, "query_result.json", infos[1].Name)
	assert.Equal(t, "last_summary.md", infos[2].Name)
	assert.Greater(t, infos[0].Size, int64(0))
	assert.False(t, infos[0].LastModified.IsZero())
}

func TestArtifactsOverwritePrevious(t *testing.T) {
	w, dir := setupArtifactWriter(t)
	ctx := context.Background()

	require.NoError(t, w.WriteQuery(ctx, "first question", "SELECT 1"))
	require.NoError(t, w.WriteQuery(ctx, "second question", "SELECT 2"))

	data, err := os.ReadFile(filepath.Join(dir, "sql_queries", "last_query.sql"))
	require.NoError(t, err)
	assert.Equal(t, "-- second question\nSELECT 2\n", string(data))
}
