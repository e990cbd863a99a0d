// Package plans holds the catalog of patch plans applied to FSP images after
// the build, one plan per FSP component.
package plans

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/muurk/fspbuild/internal/patch"
)

//go:embed catalog/plans.yaml
var catalogYAML []byte

// DefaultSet is the plan set used when none is configured.
const DefaultSet = "qemu-fsp"

// Params are the build parameters plan lines are rendered with.
type Params struct {
	// BuildType is 1 for RELEASE builds and 0 for DEBUG builds
	BuildType int
	// FspArch is 4 for X64 builds and 0 for IA32 builds
	FspArch int
}

// ParamsFor derives the template parameters from a build target ("DEBUG",
// "RELEASE") and an architecture ("ia32", "x64").
func ParamsFor(target, arch string) Params {
	var p Params
	if strings.EqualFold(target, "RELEASE") {
		p.BuildType = 1
	}
	if strings.EqualFold(arch, "x64") {
		p.FspArch = 4
	}
	return p
}

// Entry is the unrendered plan for one component.
type Entry struct {
	// Component is the FSP component letter: T, M, S or R
	Component string `yaml:"component"`
	// Volume is the FV the plan patches, e.g. "FSP-T"
	Volume string `yaml:"fv"`
	// Lines are plan lines, possibly holding template actions
	Lines []string `yaml:"lines"`
}

// Set is a named group of component plans.
type Set struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Plans       []Entry `yaml:"plans"`
}

// TemplateError represents a plan line that failed to render.
type TemplateError struct {
	// Plan is the set and component, e.g. "qemu-fsp/T"
	Plan string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("failed to render plan %q: %v", e.Plan, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Catalog is an indexed collection of plan sets.
type Catalog struct {
	Sets  []*Set `yaml:"sets"`
	index map[string]*Set
}

var (
	// builtin is the embedded catalog, parsed on first use
	builtin     *Catalog
	builtinOnce sync.Once
	builtinErr  error
)

// Builtin returns the embedded plan catalog. It is parsed only once.
func Builtin() (*Catalog, error) {
	builtinOnce.Do(func() {
		builtin, builtinErr = Parse(catalogYAML)
	})
	return builtin, builtinErr
}

// Parse reads a catalog from YAML data.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse plan catalog: %w", err)
	}
	c.index = make(map[string]*Set, len(c.Sets))
	for _, s := range c.Sets {
		if s.Name == "" {
			return nil, fmt.Errorf("plan set without a name")
		}
		if _, ok := c.index[s.Name]; ok {
			return nil, fmt.Errorf("duplicate plan set %q", s.Name)
		}
		seen := map[string]bool{}
		for _, e := range s.Plans {
			if seen[e.Component] {
				return nil, fmt.Errorf("plan set %q lists component %q twice", s.Name, e.Component)
			}
			seen[e.Component] = true
		}
		c.index[s.Name] = s
	}
	return &c, nil
}

// Load reads a catalog file, falling back to the embedded catalog when path
// is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Builtin()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan catalog: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog: %w", err)
	}
	return Parse(data)
}

// Get returns the named set.
func (c *Catalog) Get(name string) (*Set, bool) {
	s, ok := c.index[name]
	return s, ok
}

// Names returns the set names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.index))
	for name := range c.index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entry returns the plan for a component of the set.
func (s *Set) Entry(component string) (*Entry, bool) {
	for i := range s.Plans {
		if strings.EqualFold(s.Plans[i].Component, component) {
			return &s.Plans[i], true
		}
	}
	return nil, false
}

// Components returns the component letters in catalog order.
func (s *Set) Components() []string {
	out := make([]string, len(s.Plans))
	for i, e := range s.Plans {
		out[i] = e.Component
	}
	return out
}

// Plan renders and parses the plan for one component.
func (s *Set) Plan(component string, p Params) (*patch.Plan, error) {
	e, ok := s.Entry(component)
	if !ok {
		return nil, fmt.Errorf("plan set %q has no plan for component %q", s.Name, component)
	}
	return e.Render(s.Name, p)
}

// RenderAll renders every plan of the set in catalog order.
func (s *Set) RenderAll(p Params) ([]*patch.Plan, error) {
	out := make([]*patch.Plan, 0, len(s.Plans))
	for i := range s.Plans {
		plan, err := s.Plans[i].Render(s.Name, p)
		if err != nil {
			return nil, err
		}
		out = append(out, plan)
	}
	return out, nil
}

// Render expands template actions in the plan lines and parses them. The
// returned plan is named after the FV it patches.
func (e *Entry) Render(set string, p Params) (*patch.Plan, error) {
	name := set + "/" + e.Component
	lines := make([]string, len(e.Lines))
	for i, line := range e.Lines {
		tmpl, err := template.New(name).Option("missingkey=error").Parse(line)
		if err != nil {
			return nil, &TemplateError{Plan: name, Err: err}
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, p); err != nil {
			return nil, &TemplateError{Plan: name, Err: err}
		}
		lines[i] = buf.String()
	}
	return patch.ParsePlan(e.Volume, lines)
}
