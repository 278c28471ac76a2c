// Package state holds the per-run key/value store shared by research stages.
//
// Values are stored as JSON so that the in-memory and Redis backends behave
// identically: Get always decodes into a fresh destination and a Set fully
// replaces the previous value.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Well-known keys.
const (
	KeyResearchPlan          = "research_plan"
	KeyLatestResearchReport  = "latest_research_report"
	KeyIterationCount        = "iteration_count"
	KeyLatestReportCitations = "latest_report_citations"
)

// ErrNotFound is returned by Get when a key has never been set or was deleted.
var ErrNotFound = errors.New("state: key not found")

// Validatable values are checked before they are written.
type Validatable interface {
	Validate() error
}

// Store is a run-scoped key/value store.
type Store interface {
	// Get decodes the value stored under key into dst, or returns ErrNotFound.
	Get(ctx context.Context, key string, dst any) error
	// Set replaces the value stored under key.
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	// Clear discards every key of the run.
	Clear(ctx context.Context) error
}

// Metadata describes the write history of one key.
type Metadata struct {
	UpdatedAt   time.Time `json:"updated_at"`
	UpdateCount int       `json:"update_count"`
}

func encode(key string, value any) ([]byte, error) {
	if v, ok := value.(Validatable); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("state %q: validation failed: %w", key, err)
		}
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("state %q: marshal: %w", key, err)
	}
	return b, nil
}

func decode(key string, raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("state %q: unmarshal: %w", key, err)
	}
	return nil
}

// GetString reads a string value.
func GetString(ctx context.Context, s Store, key string) (string, error) {
	var v string
	if err := s.Get(ctx, key, &v); err != nil {
		return "", err
	}
	return v, nil
}

// GetInt reads an integer value, returning def when the key is absent.
func GetInt(ctx context.Context, s Store, key string, def int) (int, error) {
	var v int
	err := s.Get(ctx, key, &v)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}
