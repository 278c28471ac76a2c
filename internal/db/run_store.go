package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrRunNotFound is returned when no record matches the run ID.
var ErrRunNotFound = errors.New("research run not found")

const schema = `
CREATE TABLE IF NOT EXISTS research_runs (
	id            VARCHAR(36) PRIMARY KEY,
	query         TEXT NOT NULL,
	status        VARCHAR(16) NOT NULL,
	iterations    INTEGER NOT NULL DEFAULT 0,
	report        TEXT,
	error_message TEXT,
	report_path   TEXT,
	metadata      TEXT,
	started_at    TIMESTAMP NOT NULL,
	completed_at  TIMESTAMP,
	duration_ms   BIGINT
)`

const runColumns = `id, query, status, iterations, report, error_message, report_path, metadata, started_at, completed_at, duration_ms`

// RunStore persists research run records.
type RunStore struct {
	db *sqlx.DB
}

// NewRunStore wraps an open database handle.
func NewRunStore(db *sqlx.DB) *RunStore {
	return &RunStore{db: db}
}

// EnsureSchema creates the research_runs table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure research_runs schema: %w", err)
	}
	return nil
}

// CreateRun inserts a new record, normally in the running state.
func (s *RunStore) CreateRun(ctx context.Context, run *ResearchRun) error {
	q := s.db.Rebind(`INSERT INTO research_runs (id, query, status, iterations, metadata, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q,
		run.ID.String(), run.Query, run.Status, run.Iterations, run.Metadata, run.StartedAt,
	); err != nil {
		return fmt.Errorf("insert research run: %w", err)
	}
	return nil
}

// CompleteRun records the outcome of a run.
func (s *RunStore) CompleteRun(ctx context.Context, id uuid.UUID, c RunCompletion) error {
	q := s.db.Rebind(`UPDATE research_runs
		SET status = ?, iterations = ?, report = ?, error_message = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q,
		c.Status, c.Iterations, nullable(c.Report), nullable(c.ErrorMessage),
		c.CompletedAt, c.Duration.Milliseconds(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("complete research run: %w", err)
	}
	return expectOne(res, id)
}

// SetReportPath records where the markdown report was written.
func (s *RunStore) SetReportPath(ctx context.Context, id uuid.UUID, path string) error {
	q := s.db.Rebind(`UPDATE research_runs SET report_path = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, path, id.String())
	if err != nil {
		return fmt.Errorf("set report path: %w", err)
	}
	return expectOne(res, id)
}

// GetRun loads one record.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (*ResearchRun, error) {
	var run ResearchRun
	q := s.db.Rebind(`SELECT ` + runColumns + ` FROM research_runs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &run, q, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("get research run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]ResearchRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	runs := []ResearchRun{}
	q := s.db.Rebind(`SELECT ` + runColumns + ` FROM research_runs ORDER BY started_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &runs, q, limit); err != nil {
		return nil, fmt.Errorf("list research runs: %w", err)
	}
	return runs, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func expectOne(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}
