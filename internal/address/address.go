// Package address parses hierarchical transfer targets such as
// workspace/project/experiment and workspace/artifacts/name/version.
package address

import (
	"fmt"
	"strings"

	"github.com/user/expmirror/pkg/tracking"
)

// Kind says what an address points at.
type Kind int

const (
	KindExperiment Kind = iota
	KindArtifact
	KindModel
)

func (k Kind) String() string {
	switch k {
	case KindArtifact:
		return string(tracking.Artifacts)
	case KindModel:
		return string(tracking.Models)
	default:
		return "experiment"
	}
}

// Address is a parsed path. For experiments, Workspace, Project and
// Experiment are filled left to right; for registry kinds, Name and Version.
type Address struct {
	Workspace  string
	Project    string
	Experiment string
	Kind       Kind
	Name       string
	Version    string
}

// Depth returns the number of experiment-hierarchy segments present.
func (a Address) Depth() int {
	switch {
	case a.Workspace == "":
		return 0
	case a.Project == "":
		return 1
	case a.Experiment == "":
		return 2
	default:
		return 3
	}
}

// RegistryKind maps an artifact or model address to its registry.
func (a Address) RegistryKind() tracking.RegistryKind {
	if a.Kind == KindModel {
		return tracking.Models
	}
	return tracking.Artifacts
}

func (a Address) String() string {
	var parts []string
	switch a.Kind {
	case KindArtifact, KindModel:
		parts = []string{a.Workspace, a.Kind.String(), a.Name, a.Version}
	default:
		parts = []string{a.Workspace, a.Project, a.Experiment}
	}
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// Clean strips leading and trailing slashes and collapses repeated ones.
func Clean(raw string) string {
	var b strings.Builder
	prevSlash := true
	for _, r := range strings.TrimSpace(raw) {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return strings.TrimSuffix(b.String(), "/")
}

// ShapeError is returned for a path with the wrong number of segments.
type ShapeError struct {
	Path string
	Want string
}

func (e *ShapeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("use `%s`", e.Want)
	}
	return fmt.Sprintf("invalid path %q: use `%s`", e.Path, e.Want)
}

// Parse splits raw into an Address. Registry paths may omit the name so
// they can be listed; Validate rejects them for transfers.
func Parse(raw string) (Address, error) {
	clean := Clean(raw)
	if clean == "" {
		return Address{}, nil
	}
	segs := strings.Split(clean, "/")

	if len(segs) > 1 && (segs[1] == string(tracking.Artifacts) || segs[1] == string(tracking.Models)) {
		kind := KindArtifact
		if segs[1] == string(tracking.Models) {
			kind = KindModel
		}
		if len(segs) > 4 {
			return Address{}, &ShapeError{Path: clean, Want: transferShape(kind)}
		}
		a := Address{Workspace: segs[0], Kind: kind}
		if len(segs) > 2 {
			a.Name = segs[2]
		}
		if len(segs) > 3 {
			a.Version = segs[3]
		}
		return a, nil
	}

	if len(segs) > 3 {
		return Address{}, &ShapeError{Path: clean, Want: "workspace[/project[/experiment]]"}
	}
	a := Address{Workspace: segs[0]}
	if len(segs) > 1 {
		a.Project = segs[1]
	}
	if len(segs) > 2 {
		a.Experiment = segs[2]
	}
	return a, nil
}

func transferShape(kind Kind) string {
	if kind == KindModel {
		return "workspace/model-registry/name[/version_or_stage]"
	}
	return "workspace/artifacts/name[/version_or_alias]"
}

// Validate checks that a registry address names an item to transfer.
func (a Address) Validate() error {
	if (a.Kind == KindArtifact || a.Kind == KindModel) && a.Name == "" {
		return &ShapeError{Path: a.String(), Want: transferShape(a.Kind)}
	}
	return nil
}
