package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// QueryRunStatus represents the lifecycle state of a query run
type QueryRunStatus string

const (
	StatusPending   QueryRunStatus = "pending"
	StatusRunning   QueryRunStatus = "running"
	StatusCompleted QueryRunStatus = "completed"
	StatusFailed    QueryRunStatus = "failed"
	StatusCanceled  QueryRunStatus = "canceled"
)

// CanTransitionTo reports whether the status may move to the target state
func (s QueryRunStatus) CanTransitionTo(target QueryRunStatus) bool {
	switch s {
	case StatusPending:
		return target == StatusRunning || target == StatusCanceled || target == StatusFailed
	case StatusRunning:
		return target == StatusCompleted || target == StatusFailed || target == StatusCanceled
	default:
		return false
	}
}

// QueryRun represents one natural-language question processed by the agent
type QueryRun struct {
	ID               uint           `json:"id" gorm:"primarykey"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
	Question         string         `json:"question" gorm:"size:2000;not null"`
	EnhancedQuestion string         `json:"enhanced_question,omitempty" gorm:"size:2000"`
	Table            string         `json:"table" gorm:"column:table_name;size:255"`
	SQLText          string         `json:"sql" gorm:"column:sql_text;size:8000"`
	Status           QueryRunStatus `json:"status" gorm:"size:50;not null;default:'pending'"`
	RowCount         int            `json:"row_count"`
	Attempts         int            `json:"attempts"`
	DurationMS       int64          `json:"duration_ms"`
	Summary          string         `json:"summary,omitempty" gorm:"size:8000"`
	ResultKey        string         `json:"result_key,omitempty" gorm:"size:255"`
	ResultSample     Rows           `json:"result_sample,omitempty" gorm:"type:jsonb"`
	Error            string         `json:"error,omitempty" gorm:"size:2000"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// Rows is a JSON column type holding a sample of result rows
type Rows []map[string]interface{}

// Value implements the driver.Valuer interface for Rows
func (r Rows) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

// Scan implements the sql.Scanner interface for Rows
func (r *Rows) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Rows", value)
	}

	return json.Unmarshal(bytes, r)
}

// TableName specifies the table name for the QueryRun model
func (QueryRun) TableName() string {
	return "query_runs"
}

// IsCompleted returns true if the run finished successfully
func (q *QueryRun) IsCompleted() bool {
	return q.Status == StatusCompleted
}

// IsFailed returns true if the run failed
func (q *QueryRun) IsFailed() bool {
	return q.Status == StatusFailed
}

// IsTerminal returns true if the run reached a final state
func (q *QueryRun) IsTerminal() bool {
	return q.Status == StatusCompleted || q.Status == StatusFailed || q.Status == StatusCanceled
}

// HasResultFile returns true if an exported result file exists for the run
func (q *QueryRun) HasResultFile() bool {
	return q.ResultKey != ""
}
