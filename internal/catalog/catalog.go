// Package catalog is the closed table of transferable resource kinds and the
// include/ignore expansion over it.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Level tells which node of the hierarchy a resource belongs to.
type Level int

const (
	ExperimentLevel Level = iota
	ProjectLevel
)

// Spec describes one resource name. Only meta-resources have ExpandsTo.
type Spec struct {
	Name      string
	Meta      bool
	ExpandsTo []string
	Level     Level
}

// Resource names.
const (
	System          = "system"
	Others          = "others"
	Parameters      = "parameters"
	Metadata        = "metadata"
	Metrics         = "metrics"
	Assets          = "assets"
	HTML            = "html"
	Code            = "code"
	Requirements    = "requirements"
	Git             = "git"
	Output          = "output"
	Graph           = "graph"
	ProjectMetadata = "project_metadata"
	ProjectNotes    = "project_notes"

	Run     = "run"
	Project = "project"
)

var specs = []Spec{
	{Name: System},
	{Name: Others},
	{Name: Parameters},
	{Name: Metadata},
	{Name: Metrics},
	{Name: Assets},
	{Name: HTML},
	{Name: Code},
	{Name: Requirements},
	{Name: Git},
	{Name: Output},
	{Name: Graph},
	{Name: ProjectMetadata, Level: ProjectLevel},
	{Name: ProjectNotes, Level: ProjectLevel},
	{Name: Run, Meta: true, ExpandsTo: []string{Code, Requirements, Git, Output, Graph}},
	{Name: Project, Meta: true, ExpandsTo: []string{ProjectMetadata, ProjectNotes}, Level: ProjectLevel},
}

var byName = func() map[string]Spec {
	m := make(map[string]Spec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return m
}()

// DefaultSet is used when no resources are requested.
var DefaultSet = []string{System, Run, Others, Parameters, Metadata, Metrics, Assets, HTML, Project}

// Lookup returns the spec for name.
func Lookup(name string) (Spec, bool) {
	s, ok := byName[name]
	return s, ok
}

// Names returns every valid resource name, sorted.
func Names() []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Name)
	}
	sort.Strings(out)
	return out
}

// Concrete returns the non-meta names at the given level, in table order.
func Concrete(level Level) []string {
	var out []string
	for _, s := range specs {
		if !s.Meta && s.Level == level {
			out = append(out, s.Name)
		}
	}
	return out
}

// UnknownError reports resource names missing from the catalog.
type UnknownError struct {
	Unknown []string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown resource(s) %s; valid names are: %s",
		strings.Join(e.Unknown, ", "), strings.Join(Names(), ", "))
}

// Expand turns an include/ignore pair into the set of concrete resource
// names, preserving request order. Ignored names are removed before
// meta-resources are expanded, so ignoring a meta-resource drops all of its
// children. Names in ignore that are not resources are allowed. Any unknown
// name left in include fails the whole expansion.
func Expand(include, ignore []string) ([]string, error) {
	if len(include) == 0 {
		include = DefaultSet
	}
	ignored := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		ignored[name] = true
	}

	seen := make(map[string]bool)
	var out []string
	var unknown []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range include {
		if ignored[name] {
			continue
		}
		spec, ok := byName[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if !spec.Meta {
			add(name)
			continue
		}
		for _, child := range spec.ExpandsTo {
			if !ignored[child] {
				add(child)
			}
		}
	}
	if len(unknown) > 0 {
		return nil, &UnknownError{Unknown: unknown}
	}
	return out, nil
}

// Split partitions expanded names by level.
func Split(names []string) (experiment, project []string) {
	for _, name := range names {
		if byName[name].Level == ProjectLevel {
			project = append(project, name)
		} else {
			experiment = append(experiment, name)
		}
	}
	return experiment, project
}
