// Package prune deletes experiment assets of a given type from a platform.
package prune

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/user/expmirror/internal/address"
	"github.com/user/expmirror/internal/query"
	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
)

// AllTypes selects every asset regardless of type.
const AllTypes = "all"

// Resource is the summary row counting deleted assets.
const Resource = "assets deleted"

// Pruner removes assets from the experiments an address selects.
type Pruner struct {
	Source  tracking.Source
	Deleter tracking.AssetDeleter
	// Type is an asset type name or AllTypes.
	Type  string
	Query *query.Filter
	Out   io.Writer
}

// Run resolves raw, then deletes matching assets through the scheduler of
// mc. Individual delete failures are counted in the summary.
func (p *Pruner) Run(ctx context.Context, raw string, mc *transfer.MigrationContext) error {
	if p.Type == "" {
		return transfer.Configf("an asset type is required; use %q to delete every asset", AllTypes)
	}
	target, err := address.Resolve(ctx, p.Source, raw)
	if err != nil {
		return transfer.AsFatal(err)
	}
	exps, err := p.experiments(ctx, target)
	if err != nil {
		return err
	}

	for _, exp := range exps {
		if mc.Scheduler.Canceled() {
			return transfer.ErrCanceled
		}
		if p.Out != nil {
			fmt.Fprintf(p.Out, "Looking in %s/%s/%s...\n", exp.Workspace, exp.Project, exp.Key)
		}
		assets, err := p.Source.GetAssetList(ctx, exp.Key, p.Type)
		if err != nil {
			mc.Summary.Fail()
			continue
		}
		for _, a := range assets {
			key, id := exp.Key, a.AssetID
			err := mc.Scheduler.Submit(Resource, func(ctx context.Context) (transfer.Outcome, error) {
				if err := p.Deleter.DeleteAsset(ctx, key, id); err != nil {
					return transfer.Outcome{}, fmt.Errorf("delete asset %s of %s: %w", id, key, err)
				}
				return transfer.Outcome{Count: 1}, nil
			})
			if errors.Is(err, transfer.ErrCanceled) {
				return err
			}
		}
	}
	return nil
}

func (p *Pruner) experiments(ctx context.Context, t address.Target) ([]tracking.Experiment, error) {
	switch t.Mode {
	case address.ModeExperiment:
		return []tracking.Experiment{*t.Experiment}, nil
	case address.ModeProject:
		return p.project(ctx, t.Address.Workspace, t.Address.Project)
	case address.ModeWorkspace:
		projects, err := p.Source.ListProjects(ctx, t.Address.Workspace)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		var out []tracking.Experiment
		for _, proj := range projects {
			exps, err := p.project(ctx, t.Address.Workspace, proj.Name)
			if err != nil {
				return nil, err
			}
			out = append(out, exps...)
		}
		return out, nil
	case address.ModeWorkspaces:
		return nil, transfer.Configf("a workspace, project or experiment is required")
	}
	return nil, transfer.Configf("cannot delete assets of %s", t.Mode)
}

func (p *Pruner) project(ctx context.Context, workspace, project string) ([]tracking.Experiment, error) {
	exps, err := p.Source.ListExperiments(ctx, workspace, project)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return query.Select(ctx, p.Query, p.Source, exps)
}
