// Package report persists finished research reports as markdown files.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileNameLayout is the time layout used in report file names.
const FileNameLayout = "2006-01-02-150405"

// Config controls where reports are written.
type Config struct {
	OutputDir     string `mapstructure:"output_dir"`
	AppendSources bool   `mapstructure:"append_sources"`
}

// Writer saves reports into a directory.
type Writer struct {
	dir string
	now func() time.Time
}

// NewWriter creates a writer for dir. An empty dir means the working directory.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "."
	}
	return &Writer{dir: dir, now: time.Now}
}

// FileName returns the report file name for t.
func FileName(t time.Time) string {
	return fmt.Sprintf("report_%s.md", t.Format(FileNameLayout))
}

// Save writes body to report_YYYY-MM-DD-HHMMSS.md and returns the path.
func (w *Writer) Save(body string) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(w.dir, FileName(w.now()))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
