package address

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/user/expmirror/pkg/tracking"
)

// Mode selects the sub-engine that handles a target.
type Mode int

const (
	ModeWorkspaces Mode = iota
	ModeWorkspace
	ModeProject
	ModeExperiment
	ModeArtifact
	ModeModel
)

func (m Mode) String() string {
	return [...]string{"workspaces", "workspace", "project", "experiment", "artifact", "model"}[m]
}

// Lookup is the part of a source platform needed to resolve addresses.
type Lookup interface {
	ListWorkspaces(ctx context.Context) ([]string, error)
	GetExperiment(ctx context.Context, workspace, project, nameOrKey string) (*tracking.Experiment, error)
	GetExperimentByKey(ctx context.Context, key string) (*tracking.Experiment, error)
}

// Target is a resolved address. Experiment is set for ModeExperiment.
type Target struct {
	Mode       Mode
	Address    Address
	Experiment *tracking.Experiment
}

// Resolve parses raw and decides which engine should run. A single segment
// is a workspace if the source knows it, otherwise it is tried as a global
// experiment key before being assumed to be a workspace.
func Resolve(ctx context.Context, src Lookup, raw string) (Target, error) {
	a, err := Parse(raw)
	if err != nil {
		return Target{}, err
	}

	switch a.Kind {
	case KindArtifact:
		return Target{Mode: ModeArtifact, Address: a}, nil
	case KindModel:
		return Target{Mode: ModeModel, Address: a}, nil
	}

	switch a.Depth() {
	case 0:
		return Target{Mode: ModeWorkspaces}, nil
	case 1:
		return resolveSingle(ctx, src, a)
	case 2:
		return Target{Mode: ModeProject, Address: a}, nil
	default:
		exp, err := src.GetExperiment(ctx, a.Workspace, a.Project, a.Experiment)
		if err != nil {
			if errors.Is(err, tracking.ErrNotFound) {
				return Target{}, fmt.Errorf("no such experiment: %q", a.String())
			}
			return Target{}, fmt.Errorf("resolve experiment: %w", err)
		}
		return Target{Mode: ModeExperiment, Address: a, Experiment: exp}, nil
	}
}

func resolveSingle(ctx context.Context, src Lookup, a Address) (Target, error) {
	workspaces, err := src.ListWorkspaces(ctx)
	if err != nil {
		return Target{}, fmt.Errorf("list workspaces: %w", err)
	}
	if slices.Contains(workspaces, a.Workspace) {
		return Target{Mode: ModeWorkspace, Address: a}, nil
	}

	exp, err := src.GetExperimentByKey(ctx, a.Workspace)
	if err == nil && exp != nil {
		return Target{
			Mode:       ModeExperiment,
			Address:    Address{Workspace: exp.Workspace, Project: exp.Project, Experiment: exp.Key},
			Experiment: exp,
		}, nil
	}
	if err != nil && !errors.Is(err, tracking.ErrNotFound) {
		return Target{}, fmt.Errorf("lookup experiment key: %w", err)
	}
	return Target{Mode: ModeWorkspace, Address: a}, nil
}
