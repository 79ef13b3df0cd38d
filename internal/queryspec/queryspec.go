// Package queryspec loads saved funnel query definitions from YAML files.
// Definitions are loaded once at startup, validated eagerly, and
// fingerprinted for cache keying — no hot reload.
package queryspec

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/converge-lab/project-converge/internal/core/funnel"
)

// Definition is one named, validated funnel query.
type Definition struct {
	Name        string
	Spec        funnel.QuerySpec
	Fingerprint string // SHA-256 of the raw YAML file; computed at load time
}

// rawQuery is the on-disk YAML shape. Step indices are implicit: steps are
// numbered by their position in the list.
type rawQuery struct {
	Name           string         `yaml:"name"`
	Mode           string         `yaml:"mode"`
	Window         string         `yaml:"window"`
	DateFrom       time.Time      `yaml:"date_from"`
	DateTo         time.Time      `yaml:"date_to"`
	Interval       string         `yaml:"interval"`
	FromStep       int            `yaml:"from_step"`
	ToStep         int            `yaml:"to_step"`
	SamplingFactor float64        `yaml:"sampling_factor"`
	Steps          []rawStep      `yaml:"steps"`
	Exclusions     []rawExclusion `yaml:"exclusions"`
	Breakdown      *rawBreakdown  `yaml:"breakdown"`
}

type rawStep struct {
	Event      string      `yaml:"event"`
	Name       string      `yaml:"name"`
	Properties []rawFilter `yaml:"properties"`
}

type rawFilter struct {
	Key      string   `yaml:"key"`
	Operator string   `yaml:"operator"`
	Values   []string `yaml:"values"`
}

type rawExclusion struct {
	Event      string      `yaml:"event"`
	Properties []rawFilter `yaml:"properties"`
	FromStep   int         `yaml:"from_step"`
	ToStep     int         `yaml:"to_step"`
}

type rawBreakdown struct {
	Properties      []string `yaml:"properties"`
	Cohorts         []string `yaml:"cohorts"`
	Attribution     string   `yaml:"attribution"`
	AttributionStep int      `yaml:"attribution_step"`
	Limit           int      `yaml:"limit"`
}

// FileSystemRepository loads funnel query definitions from *.yaml files in a
// directory. Each file contains exactly one definition at the top level.
type FileSystemRepository struct {
	dir  string
	defs map[string]Definition // keyed by Name
}

// NewFileSystemRepository creates a new repository and eagerly loads all
// definitions from dir. Returns an error if any file is malformed or invalid.
func NewFileSystemRepository(dir string) (*FileSystemRepository, error) {
	repo := &FileSystemRepository{
		dir:  dir,
		defs: make(map[string]Definition),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no queries directory — valid (zero definitions configured)
	}
	if err != nil {
		return fmt.Errorf("query definition dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("query definition path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading query definition dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading query file %s: %w", path, err)
		}

		var raw rawQuery
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing query file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // skip empty / comment-only files
		}

		spec, err := buildSpec(raw)
		if err != nil {
			return fmt.Errorf("query %q: %w", raw.Name, err)
		}

		if _, exists := r.defs[raw.Name]; exists {
			return fmt.Errorf("query %q: duplicate query name (check multiple YAML files)", raw.Name)
		}

		r.defs[raw.Name] = Definition{
			Name:        raw.Name,
			Spec:        *spec,
			Fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
		}
	}

	return nil
}

func buildSpec(raw rawQuery) (*funnel.QuerySpec, error) {
	window, err := funnel.ParseWindow(raw.Window)
	if err != nil {
		return nil, err
	}

	mode := raw.Mode
	if mode == "" {
		mode = funnel.ModeSteps
	}

	spec := &funnel.QuerySpec{
		Window:         window,
		DateFrom:       raw.DateFrom,
		DateTo:         raw.DateTo,
		Mode:           mode,
		Interval:       raw.Interval,
		FromStep:       raw.FromStep,
		ToStep:         raw.ToStep,
		SamplingFactor: raw.SamplingFactor,
	}

	for i, s := range raw.Steps {
		spec.Steps = append(spec.Steps, funnel.StepSpec{
			Index:      i,
			Event:      s.Event,
			Name:       s.Name,
			Properties: buildFilters(s.Properties),
		})
	}

	for _, ex := range raw.Exclusions {
		spec.Exclusions = append(spec.Exclusions, funnel.ExclusionSpec{
			Event:      ex.Event,
			Properties: buildFilters(ex.Properties),
			FromStep:   ex.FromStep,
			ToStep:     ex.ToStep,
		})
	}

	if raw.Breakdown != nil {
		spec.Breakdown = &funnel.BreakdownSpec{
			Properties:      raw.Breakdown.Properties,
			Cohorts:         raw.Breakdown.Cohorts,
			Attribution:     raw.Breakdown.Attribution,
			AttributionStep: raw.Breakdown.AttributionStep,
			Limit:           raw.Breakdown.Limit,
		}
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func buildFilters(raw []rawFilter) []funnel.PropertyFilter {
	if len(raw) == 0 {
		return nil
	}
	filters := make([]funnel.PropertyFilter, 0, len(raw))
	for _, f := range raw {
		filters = append(filters, funnel.PropertyFilter{
			Key:      f.Key,
			Operator: f.Operator,
			Values:   f.Values,
		})
	}
	return filters
}

// Get returns the definition with the given name.
func (r *FileSystemRepository) Get(name string) (*Definition, error) {
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("query %q not found in %s", name, r.dir)
	}
	return &def, nil
}

// List returns all loaded definitions sorted by name.
func (r *FileSystemRepository) List() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
