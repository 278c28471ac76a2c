package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a jsonb (Postgres) or text (SQLite) JSON column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// ResearchRun is the durable record of one research workflow execution.
type ResearchRun struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Query        string     `db:"query" json:"query"`
	Status       string     `db:"status" json:"status"`
	Iterations   int        `db:"iterations" json:"iterations"`
	Report       *string    `db:"report" json:"report,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	ReportPath   *string    `db:"report_path" json:"report_path,omitempty"`
	Metadata     JSONB      `db:"metadata" json:"metadata,omitempty"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	DurationMs   *int64     `db:"duration_ms" json:"duration_ms,omitempty"`
}

// RunCompletion carries the final fields of a run.
type RunCompletion struct {
	Status       string
	Iterations   int
	Report       string
	ErrorMessage string
	CompletedAt  time.Time
	Duration     time.Duration
}
