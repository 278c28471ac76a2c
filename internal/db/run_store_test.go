package db

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*RunStore, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return NewRunStore(sqlx.NewDb(raw, "postgres")), mock
}

func TestCreateRun(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO research_runs")).
		WithArgs(id.String(), "Compare X and Y", RunStatusRunning, 0, `{"source":"cli"}`, started).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.CreateRun(context.Background(), &ResearchRun{
		ID:        id,
		Query:     "Compare X and Y",
		Status:    RunStatusRunning,
		Metadata:  JSONB{"source": "cli"},
		StartedAt: started,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunUsesPostgresPlaceholders(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	done := time.Now()

	update := regexp.QuoteMeta("UPDATE research_runs") + `.*\$7`
	mock.ExpectExec(update).
		WithArgs(RunStatusCompleted, 1, "final body", nil, done, int64(1500), id.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CompleteRun(context.Background(), id, RunCompletion{
		Status:      RunStatusCompleted,
		Iterations:  1,
		Report:      "final body",
		CompletedAt: done,
		Duration:    1500 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE research_runs").WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.CompleteRun(context.Background(), uuid.New(), RunCompletion{Status: RunStatusFailed})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestGetRun(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	started := time.Now().UTC()
	report := "# Report"

	rows := sqlmock.NewRows([]string{
		"id", "query", "status", "iterations", "report", "error_message",
		"report_path", "metadata", "started_at", "completed_at", "duration_ms",
	}).AddRow(id.String(), "q", RunStatusCompleted, 2, report, nil, nil, []byte(`{"model":"m"}`), started, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, query")).WithArgs(id.String()).WillReturnRows(rows)

	run, err := store.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, 2, run.Iterations)
	require.NotNil(t, run.Report)
	assert.Equal(t, report, *run.Report)
	assert.Equal(t, "m", run.Metadata["model"])
	assert.Nil(t, run.CompletedAt)
}

func TestGetRunNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err := store.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRunsClampsLimit(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .* FROM research_runs ORDER BY started_at DESC").
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "query", "status"}))
	runs, err := store.ListRuns(context.Background(), 1000)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestJSONBScan(t *testing.T) {
	var j JSONB
	require.NoError(t, j.Scan(`{"a":1}`))
	assert.Equal(t, float64(1), j["a"])
	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j)
	assert.Error(t, j.Scan(42))
}

func TestSQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	dbx, err := sqlx.Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	dbx.SetMaxOpenConns(1)
	defer dbx.Close()

	store := NewRunStore(dbx)
	require.NoError(t, store.EnsureSchema(ctx))

	id := uuid.New()
	require.NoError(t, store.CreateRun(ctx, &ResearchRun{ID: id, Query: "q", Status: RunStatusRunning, StartedAt: time.Now().UTC()}))
	require.NoError(t, store.CompleteRun(ctx, id, RunCompletion{Status: RunStatusFailed, ErrorMessage: "boom", CompletedAt: time.Now().UTC()}))
	require.NoError(t, store.SetReportPath(ctx, id, "/tmp/report.md"))

	run, err := store.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "boom", *run.ErrorMessage)
	require.NotNil(t, run.ReportPath)

	runs, err := store.ListRuns(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
