// Package store defines the canonical on-disk layout for migrated resources
// and the read/write primitives over it.
package store

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/user/expmirror/pkg/tracking"
)

// File names of the canonical layout.
const (
	MetadataFile       = "metadata.json"
	ParametersFile     = "parameters.json"
	OthersFile         = "others.jsonl"
	MetricsFile        = "metrics.jsonl"
	MetricsSummaryFile = "metrics_summary.jsonl"
	MetricsDir         = "metrics"
	SystemDetailsFile  = "system_details.json"
	HTMLFile           = "experiment.html"
	MarkdownFile       = "experiment.md"
	RunDir             = "run"
	ScriptFile         = "script.py"
	RequirementsFile   = "requirements.txt"
	OutputFile         = "output.txt"
	GraphFile          = "graph_definition.txt"
	GitMetadataFile    = "git_metadata.json"
	GitPatchFile       = "git_diff.patch"
	GitReadmeFile      = "README.md"
	AssetsDir          = "assets"
	AssetsMetadataFile = "assets_metadata.jsonl"

	ProjectMetadataFile = "project_metadata.json"
	ProjectNotesFile    = "project_notes.md"
)

// Layout maps experiments and resources to paths. It is a pure function of
// its fields and the arguments.
type Layout struct {
	Root    string
	UseName bool
	Flat    bool
}

// ExperimentFolder is the directory name used for e.
func (l Layout) ExperimentFolder(e tracking.Experiment) string {
	if l.UseName {
		return e.DisplayName()
	}
	return e.Key
}

// ExperimentDir is root/workspace/project/experiment, or root when flat.
func (l Layout) ExperimentDir(e tracking.Experiment) string {
	if l.Flat {
		return l.Root
	}
	return filepath.Join(l.Root, e.Workspace, e.Project, l.ExperimentFolder(e))
}

// ProjectDir is root/workspace/project.
func (l Layout) ProjectDir(workspace, project string) string {
	return filepath.Join(l.Root, workspace, project)
}

// Path places name under dir inside the experiment directory. Flat layouts
// drop dir.
func (l Layout) Path(e tracking.Experiment, dir, name string) string {
	if l.Flat {
		return filepath.Join(l.Root, filepath.FromSlash(name))
	}
	return filepath.Join(l.ExperimentDir(e), filepath.FromSlash(dir), filepath.FromSlash(name))
}

// AssetDir is the store-relative directory holding assets of assetType.
func (l Layout) AssetDir(assetType string) string {
	if l.Flat {
		return ""
	}
	if assetType == "" {
		assetType = "asset"
	}
	return AssetsDir + "/" + assetType
}

// RegistryDir is root/workspace/<kind>/name, or root when flat.
func (l Layout) RegistryDir(kind tracking.RegistryKind, workspace, name string) string {
	if l.Flat {
		return l.Root
	}
	return filepath.Join(l.Root, workspace, string(kind), name)
}

// Sanitize makes a source-supplied file name safe to join under a
// directory: no empty, "." or ".." segments, no leading slash, and ":"
// replaced by "-".
func Sanitize(name string) string {
	name = strings.ReplaceAll(filepath.ToSlash(name), ":", "-")
	var keep []string
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		keep = append(keep, seg)
	}
	if len(keep) == 0 {
		return "unnamed"
	}
	return strings.Join(keep, "/")
}

// Policy decides whether a path should be (re)written.
type Policy struct {
	Overwrite bool
	Filter    *regexp.Regexp
}

// ShouldWrite applies, in order: the filename filter when set, then the
// overwrite flag, then existence of the path.
func (p Policy) ShouldWrite(path string) bool {
	if p.Filter != nil {
		return p.Filter.MatchString(path)
	}
	if p.Overwrite {
		return true
	}
	return !Exists(path)
}
