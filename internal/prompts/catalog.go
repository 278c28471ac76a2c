// Package prompts holds the system instructions for each research role.
package prompts

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Role names a research capability with its own instructions.
type Role string

const (
	RolePlanner    Role = "planner"
	RoleSearch     Role = "search"
	RoleSummary    Role = "summary"
	RoleReport     Role = "report"
	RolePeerReview Role = "peer_review"
)

// Roles lists every role a catalog must define.
var Roles = []Role{RolePlanner, RoleSearch, RoleSummary, RoleReport, RolePeerReview}

//go:embed default.yaml
var defaultCatalog []byte

// Variables are the plan-shaping numbers exposed to templates.
type Variables struct {
	MinSubtopics          int `yaml:"min_subtopics"`
	MinQueriesPerSubtopic int `yaml:"min_queries_per_subtopic"`
	MinSuccessCriteria    int `yaml:"min_success_criteria"`
	MinRelatedTopics      int `yaml:"min_related_topics"`
}

// RoleSpec is the catalog entry for one role.
type RoleSpec struct {
	Instructions string `yaml:"instructions"`
}

// Catalog is the decoded YAML document.
type Catalog struct {
	Version   string            `yaml:"version"`
	Variables Variables         `yaml:"variables"`
	Roles     map[Role]RoleSpec `yaml:"roles"`
}

type templateData struct {
	Variables
	Date string
}

// Decode parses a catalog and compiles its templates.
func Decode(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode prompt catalog: %w", err)
	}
	for _, role := range Roles {
		rs, ok := c.Roles[role]
		if !ok || rs.Instructions == "" {
			return nil, fmt.Errorf("prompt catalog: role %q has no instructions", role)
		}
		if _, err := template.New(string(role)).Option("missingkey=error").Parse(rs.Instructions); err != nil {
			return nil, fmt.Errorf("prompt catalog: role %q: %w", role, err)
		}
	}
	return &c, nil
}

type entry struct {
	catalog   *Catalog
	templates map[Role]*template.Template
	source    string
	hash      string
	loadedAt  time.Time
}

// Registry serves role instructions and can be reloaded in place.
type Registry struct {
	mu     sync.RWMutex
	cur    *entry
	path   string
	now    func() time.Time
	logger *zap.Logger
}

// NewRegistry loads the catalog at path, or the embedded default when path is
// empty.
func NewRegistry(path string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{path: path, now: time.Now, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the catalog source. On failure the previous catalog stays
// active.
func (r *Registry) Reload() error {
	r.mu.RLock()
	path := r.path
	r.mu.RUnlock()

	data, source := defaultCatalog, "embedded"
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read prompt catalog %s: %w", path, err)
		}
		data, source = b, path
	}
	c, err := Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}

	tpls := make(map[Role]*template.Template, len(Roles))
	for _, role := range Roles {
		tpls[role] = template.Must(template.New(string(role)).Option("missingkey=error").Parse(c.Roles[role].Instructions))
	}
	sum := sha256.Sum256(data)
	e := &entry{
		catalog:   c,
		templates: tpls,
		source:    source,
		hash:      hex.EncodeToString(sum[:]),
		loadedAt:  r.now(),
	}

	r.mu.Lock()
	prev := r.cur
	r.cur = e
	r.mu.Unlock()

	if prev == nil || prev.hash != e.hash {
		r.logger.Info("Prompt catalog loaded",
			zap.String("source", source),
			zap.String("version", c.Version),
			zap.String("hash", e.hash[:12]),
		)
	}
	return nil
}

// SetPath switches the catalog source and reloads.
func (r *Registry) SetPath(path string) error {
	r.mu.Lock()
	old := r.path
	r.path = path
	r.mu.Unlock()
	if err := r.Reload(); err != nil {
		r.mu.Lock()
		r.path = old
		r.mu.Unlock()
		return err
	}
	return nil
}

// System renders the instructions for role with today's date.
func (r *Registry) System(role Role) (string, error) {
	r.mu.RLock()
	e := r.cur
	r.mu.RUnlock()

	tpl, ok := e.templates[role]
	if !ok {
		return "", fmt.Errorf("unknown prompt role %q", role)
	}
	var buf bytes.Buffer
	data := templateData{Variables: e.catalog.Variables, Date: r.now().Format("2006-01-02")}
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s instructions: %w", role, err)
	}
	return buf.String(), nil
}

// Hash identifies the active catalog content.
func (r *Registry) Hash() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur.hash
}

// Source is the path of the active catalog, or "embedded".
func (r *Registry) Source() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur.source
}
