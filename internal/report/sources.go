package report

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Source is one citation listed under the report's Sources section.
type Source struct {
	Title string
	URL   string
}

var inlineCitation = regexp.MustCompile(`\[(\d{1,3})\]`)

// FormatWithSources replaces any trailing "## Sources" section of body with
// one rebuilt from sources, numbered in order and marked by whether the body
// cites them inline. Sources pointing at the same normalized URL are listed once.
func FormatWithSources(body string, sources []Source) string {
	s := strings.TrimSpace(body)
	if s == "" {
		return body
	}

	used := map[int]bool{}
	for _, m := range inlineCitation.FindAllStringSubmatch(s, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			used[n] = true
		}
	}

	// The last occurrence is the trailing section; earlier mentions are body text.
	cut := s
	if idx := strings.LastIndex(strings.ToLower(s), "## sources"); idx != -1 {
		cut = strings.TrimSpace(s[:idx])
	}

	unique := DedupeSources(sources)
	if len(unique) == 0 {
		return cut
	}

	var b strings.Builder
	if cut != "" {
		b.WriteString(cut)
		b.WriteString("\n\n")
	}
	b.WriteString("## Sources\n")
	for i, src := range unique {
		n := i + 1
		label := "Additional source"
		if used[n] {
			label = "Used inline"
		}
		title := src.Title
		if title == "" {
			title = src.URL
		}
		fmt.Fprintf(&b, "[%d] %s, %s - %s\n", n, title, src.URL, label)
	}
	return strings.TrimRight(b.String(), "\n")
}

// DedupeSources drops sources whose normalized URL was already seen.
func DedupeSources(sources []Source) []Source {
	out := make([]Source, 0, len(sources))
	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		if src.URL == "" {
			continue
		}
		key, err := NormalizeURL(src.URL)
		if err != nil {
			key = src.URL
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, src)
	}
	return out
}

var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "msclkid",
	"ref", "source",
}

// NormalizeURL lowercases scheme and host, drops a leading "www.", the
// fragment, tracking query parameters and any trailing slash.
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	parsed.Fragment = ""
	if parsed.RawQuery != "" {
		q := parsed.Query()
		for _, p := range trackingParams {
			q.Del(p)
		}
		parsed.RawQuery = q.Encode()
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return parsed.String(), nil
}
