package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"sqlagent/internal/config"
	"sqlagent/internal/storage"

	"github.com/sirupsen/logrus"
)

const (
	queryFileName   = "last_query.sql"
	resultFileName  = "query_result.json"
	summaryFileName = "last_summary.md"
)

// FileArtifactWriter writes the latest-run artifacts through the storage
// layer: the SQL query with the question as a leading comment, the raw
// result rows as JSON, and the markdown summary.
type FileArtifactWriter struct {
	storage    storage.Storage
	queriesDir string
	outputDir  string
	logger     *logrus.Logger
}

// NewFileArtifactWriter creates an artifact writer using the configured
// artifact directories.
func NewFileArtifactWriter(store storage.Storage, paths config.Paths, logger *logrus.Logger) *FileArtifactWriter {
	return &FileArtifactWriter{
		storage:    store,
		queriesDir: paths.Queries,
		outputDir:  paths.Output,
		logger:     logger,
	}
}

// WriteQuery writes the generated SQL with the original question as a
// comment on the first line.
func (w *FileArtifactWriter) WriteQuery(ctx context.Context, question, sqlText string) error {
	content := fmt.Sprintf("-- %s\n%s\n", sanitizeComment(question), sqlText)
	key := w.storage.JoinPath(w.queriesDir, queryFileName)
	return w.save(ctx, key, content)
}

// WriteResultJSON writes the result rows as indented JSON.
func (w *FileArtifactWriter) WriteResultJSON(ctx context.Context, rows []map[string]any) error {
	if rows == nil {
		rows = []map[string]any{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result rows: %w", err)
	}
	key := w.storage.JoinPath(w.outputDir, resultFileName)
	return w.save(ctx, key, string(data)+"\n")
}

// WriteSummary writes the markdown summary with a heading naming the question.
func (w *FileArtifactWriter) WriteSummary(ctx context.Context, question, summary string) error {
	content := fmt.Sprintf("# Summary for: %s\n\n%s\n", strings.TrimSpace(question), strings.TrimSpace(summary))
	key := w.storage.JoinPath(w.outputDir, summaryFileName)
	return w.save(ctx, key, content)
}

// ArtifactNames lists the artifact files the writer maintains.
func ArtifactNames() []string {
	return []string{queryFileName, resultFileName, summaryFileName}
}

// ArtifactInfo describes one stored artifact file.
type ArtifactInfo struct {
	Name         string    `json:"name"`
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// List returns the artifact files that currently exist in storage, in the
// ArtifactNames order.
func (w *FileArtifactWriter) List(ctx context.Context) ([]ArtifactInfo, error) {
	infos := make([]ArtifactInfo, 0, 3)
	for _, name := range ArtifactNames() {
		key, err := w.keyFor(name)
		if err != nil {
			return nil, err
		}
		files, err := w.storage.List(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to list artifact %s: %w", name, err)
		}
		for _, f := range files {
			if f.Key != key {
				continue
			}
			infos = append(infos, ArtifactInfo{
				Name:         name,
				Key:          f.Key,
				Size:         f.Size,
				LastModified: f.LastModified,
			})
		}
	}
	return infos, nil
}

// Read returns a stored artifact by file name.
func (w *FileArtifactWriter) Read(ctx context.Context, name string) (io.ReadCloser, error) {
	key, err := w.keyFor(name)
	if err != nil {
		return nil, err
	}
	return w.storage.Get(ctx, key)
}

func (w *FileArtifactWriter) keyFor(name string) (string, error) {
	switch name {
	case queryFileName:
		return w.storage.JoinPath(w.queriesDir, queryFileName), nil
	case resultFileName:
		return w.storage.JoinPath(w.outputDir, resultFileName), nil
	case summaryFileName:
		return w.storage.JoinPath(w.outputDir, summaryFileName), nil
	}
	return "", fmt.Errorf("unknown artifact: %s", name)
}

func (w *FileArtifactWriter) save(ctx context.Context, key, content string) error {
	if err := w.storage.Save(ctx, key, strings.NewReader(content)); err != nil {
		return fmt.Errorf("failed to save artifact %s: %w", key, err)
	}
	w.logger.WithField("key", key).Debug("Artifact written")
	return nil
}

// sanitizeComment keeps the question on a single comment line.
func sanitizeComment(question string) string {
	return strings.Join(strings.Fields(question), " ")
}
