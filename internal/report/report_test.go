package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveUsesTimestampedName(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(filepath.Join(dir, "out"))
	w.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local) }

	path, err := w.Save("# Title\n\nbody")
	require.NoError(t, err)
	assert.Equal(t, "report_2025-01-02-030405.md", filepath.Base(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbody", string(b))
}

func TestFormatWithSourcesRebuildsSection(t *testing.T) {
	body := "Intro cites [1].\n\n## Sources\n[1] stale entry"
	out := FormatWithSources(body, []Source{
		{Title: "Alpha", URL: "https://www.example.com/a/"},
		{Title: "Alpha again", URL: "https://example.com/a?utm_source=x"},
		{Title: "Beta", URL: "https://beta.dev/b"},
	})

	assert.Equal(t, "Intro cites [1].\n\n## Sources\n"+
		"[1] Alpha, https://www.example.com/a/ - Used inline\n"+
		"[2] Beta, https://beta.dev/b - Additional source", out)
}

func TestFormatWithSourcesWithoutSources(t *testing.T) {
	assert.Equal(t, "Body only", FormatWithSources("Body only\n\n## Sources\nold", nil))
	assert.Equal(t, "", FormatWithSources("", []Source{{URL: "https://x.io"}}))
}

func TestNormalizeURL(t *testing.T) {
	got, err := NormalizeURL("HTTPS://WWW.Example.com/path/?utm_campaign=z&id=7#frag")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/path?id=7", got)
}
