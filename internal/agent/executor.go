package agent

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Executor runs generated SQL against the warehouse and returns rows as maps.
type Executor struct {
	db      *sql.DB
	maxRows int
	logger  *logrus.Logger
}

// NewExecutor creates an executor over the warehouse connection.
func NewExecutor(db *sql.DB, maxRows int, logger *logrus.Logger) *Executor {
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &Executor{db: db, maxRows: maxRows, logger: logger}
}

// Execute executes a query and returns rows as a slice of map. The statement
// must pass the read-only guard; result sets are capped at maxRows.
func (e *Executor) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	if err := ValidateReadOnly(query); err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0)
	truncated := false
	for rows.Next() {
		if len(results) >= e.maxRows {
			truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range ptrs {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rowMap := make(map[string]any)
		for i, col := range cols {
			// Drivers hand back []byte for text columns; normalize to string
			// so rows serialize cleanly to JSON and prompts.
			if b, ok := vals[i].([]byte); ok {
				rowMap[col] = string(b)
			} else {
				rowMap[col] = vals[i]
			}
		}
		results = append(results, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"rows":      len(results),
		"truncated": truncated,
		"duration":  time.Since(start),
	}).Info("Executed query")

	return results, nil
}
