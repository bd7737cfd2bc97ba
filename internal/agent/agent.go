package agent

import (
	"context"
	"fmt"
	"time"

	"sqlagent/internal/llm"
	"sqlagent/internal/metrics"
	"sqlagent/internal/schema"

	"github.com/sirupsen/logrus"
)

// Result holds the outcome of one full pipeline run.
type Result struct {
	Question         string           `json:"question"`
	EnhancedQuestion string           `json:"enhanced_question"`
	Table            string           `json:"table"`
	SQL              string           `json:"sql"`
	Rows             []map[string]any `json:"rows"`
	Summary          string           `json:"summary"`
	Attempts         int              `json:"attempts"`
	Duration         time.Duration    `json:"duration"`
}

// Agent runs the question-to-summary pipeline: enhance the question, pick a
// table, generate SQL, execute it and summarize the results. Generation and
// execution are retried together, feeding the execution error back into the
// next generation attempt.
type Agent struct {
	enhancer     *Enhancer
	finder       *TableFinder
	schemas      *schema.Manager
	generator    *Generator
	executor     *Executor
	summarizer   *Summarizer
	maxRetries   int
	retryDelay   time.Duration
	defaultTable string
	logger       *logrus.Logger
}

// Options configures pipeline behavior.
type Options struct {
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultTable string
	SummaryRows  int
}

// New wires the pipeline stages into an agent.
func New(client llm.Client, schemas *schema.Manager, executor *Executor, dialect string, opts Options, logger *logrus.Logger) *Agent {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.SummaryRows <= 0 {
		opts.SummaryRows = 15
	}
	return &Agent{
		enhancer:     NewEnhancer(client, logger),
		finder:       NewTableFinder(schemas, client, opts.DefaultTable, logger),
		schemas:      schemas,
		generator:    NewGenerator(client, dialect, logger),
		executor:     executor,
		summarizer:   NewSummarizer(client, opts.SummaryRows, logger),
		maxRetries:   opts.MaxRetries,
		retryDelay:   opts.RetryDelay,
		defaultTable: opts.DefaultTable,
		logger:       logger,
	}
}

// Run executes the full pipeline for a question. tableOverride forces a
// specific table; when empty the finder picks one.
func (a *Agent) Run(ctx context.Context, question, tableOverride string) (*Result, error) {
	metrics.ActivePipelines.Inc()
	defer metrics.ActivePipelines.Dec()

	start := time.Now()
	result := &Result{Question: question}

	enhanced, original := a.enhancer.Enhance(ctx, question)
	result.Question = original
	result.EnhancedQuestion = enhanced

	tableName := tableOverride
	if tableName == "" {
		candidates, err := a.finder.Find(ctx, enhanced)
		if err != nil {
			return nil, fmt.Errorf("table selection failed: %w", err)
		}
		switch {
		case len(candidates) > 0:
			tableName = candidates[0].Name
		case a.defaultTable != "":
			tableName = a.defaultTable
		default:
			return nil, fmt.Errorf("no tables available in the warehouse")
		}
	}
	result.Table = tableName

	tbl, err := a.schemas.Get(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema for %s: %w", tableName, err)
	}

	var lastErr error
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		result.Attempts = attempt

		genQuestion := enhanced
		if lastErr != nil {
			genQuestion = fmt.Sprintf("%s\n\nThe previous query failed with: %s\nGenerate a corrected query.", enhanced, lastErr)
		}

		query, err := a.generator.Generate(ctx, genQuestion, tbl)
		if err != nil {
			lastErr = err
		} else {
			result.SQL = query
			rows, err := a.executor.Execute(ctx, query)
			if err == nil {
				result.Rows = rows
				result.Summary = a.summarizer.Summarize(ctx, original, enhanced, rows)
				result.Duration = time.Since(start)

				metrics.QueriesTotal.WithLabelValues("completed").Inc()
				metrics.QueryDuration.Observe(result.Duration.Seconds())

				a.logger.WithFields(logrus.Fields{
					"table":    tableName,
					"attempts": attempt,
					"rows":     len(rows),
					"duration": result.Duration,
				}).Info("Pipeline completed")
				return result, nil
			}
			lastErr = err
		}

		a.logger.WithError(lastErr).WithField("attempt", attempt).Warn("Pipeline attempt failed")

		if attempt < a.maxRetries {
			select {
			case <-ctx.Done():
				metrics.QueriesTotal.WithLabelValues("canceled").Inc()
				return nil, ctx.Err()
			case <-time.After(a.retryDelay):
			}
		}
	}

	metrics.QueriesTotal.WithLabelValues("failed").Inc()
	return nil, fmt.Errorf("pipeline failed after %d attempts: %w", a.maxRetries, lastErr)
}
