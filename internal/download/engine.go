// Package download extracts experiments, projects, workspaces, artifacts and
// registry models from a source platform into the canonical store.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/user/expmirror/internal/address"
	"github.com/user/expmirror/internal/catalog"
	"github.com/user/expmirror/internal/query"
	"github.com/user/expmirror/internal/store"
	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
)

// Options configures one download. It is built once and not modified.
type Options struct {
	Layout       store.Layout
	Policy       store.Policy
	Include      []string
	Ignore       []string
	AssetType    string
	Skip         bool
	Force        bool
	Query        *query.Filter
	SplitMetrics bool
	HTMLMarkdown bool
	Version      string
}

// Engine pulls resources from a source into the canonical store.
type Engine struct {
	src     tracking.Source
	opts    Options
	mc      *transfer.MigrationContext
	confirm Confirmer

	experimentResources []string
	projectResources    []string
}

// New validates the resource selection. Unknown names are fatal.
func New(src tracking.Source, opts Options, mc *transfer.MigrationContext, confirm Confirmer) (*Engine, error) {
	names, err := catalog.Expand(opts.Include, opts.Ignore)
	if err != nil {
		return nil, transfer.AsFatal(err)
	}
	exp, proj := catalog.Split(names)
	if confirm == nil {
		confirm = Always(true)
	}
	return &Engine{
		src:                 src,
		opts:                opts,
		mc:                  mc,
		confirm:             confirm,
		experimentResources: exp,
		projectResources:    proj,
	}, nil
}

var errFlatMulti = errors.New("--flat cannot be used with multiple experiment downloads")

// Download resolves raw and transfers the target. Configuration errors are
// returned before any transfer starts; per-resource failures are logged and
// counted but do not stop the run.
func (e *Engine) Download(ctx context.Context, raw string) error {
	a, err := address.Parse(raw)
	if err != nil {
		return transfer.AsFatal(err)
	}
	if err := a.Validate(); err != nil {
		return transfer.AsFatal(err)
	}
	if e.opts.Layout.Flat && a.Kind == address.KindExperiment && a.Depth() == 2 {
		return transfer.AsFatal(errFlatMulti)
	}

	target, err := address.Resolve(ctx, e.src, raw)
	if err != nil {
		return transfer.AsFatal(err)
	}
	multi := target.Mode == address.ModeWorkspace || target.Mode == address.ModeProject
	if e.opts.Layout.Flat && multi {
		return transfer.AsFatal(errFlatMulti)
	}

	switch target.Mode {
	case address.ModeWorkspaces:
		return transfer.Configf("use `expmirror download WORKSPACE`, or `expmirror list` to see workspaces")
	case address.ModeArtifact, address.ModeModel:
		return e.downloadRegistry(ctx, target.Address)
	}

	if len(e.experimentResources)+len(e.projectResources) == 0 {
		slog.Warn("no experiment resources given")
		return nil
	}

	switch target.Mode {
	case address.ModeWorkspace:
		return e.downloadWorkspace(ctx, target.Address.Workspace)
	case address.ModeProject:
		return e.downloadProject(ctx, target.Address.Workspace, target.Address.Project, true)
	default:
		e.downloadExperiment(ctx, *target.Experiment)
		return nil
	}
}

func (e *Engine) downloadWorkspace(ctx context.Context, workspace string) error {
	projects, err := e.src.ListProjects(ctx, workspace)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	if len(projects) == 0 {
		return nil
	}
	if !e.opts.Force {
		total, err := e.countExperiments(ctx, workspace, projects)
		if err != nil {
			return err
		}
		ok, err := e.confirmed(total)
		if err != nil || !ok {
			return err
		}
	}
	for _, p := range projects {
		if e.mc.Scheduler.Canceled() {
			return transfer.ErrCanceled
		}
		if err := e.downloadProject(ctx, workspace, p.Name, false); err != nil {
			slog.Error("project download failed", "workspace", workspace, "project", p.Name, "error", err)
			e.mc.Summary.Fail()
		}
	}
	return nil
}

// countExperiments sums the experiment count of every project, fetching
// project details concurrently.
func (e *Engine) countExperiments(ctx context.Context, workspace string, projects []tracking.Project) (int, error) {
	counts := make([]int, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.mc.Scheduler.Workers())
	for i, p := range projects {
		g.Go(func() error {
			details, err := e.src.GetProject(gctx, workspace, p.Name)
			if err != nil {
				return fmt.Errorf("get project %s: %w", p.Name, err)
			}
			counts[i] = details.NumberOfExperiments
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

func (e *Engine) downloadProject(ctx context.Context, workspace, project string, topLevel bool) error {
	e.downloadProjectResources(ctx, workspace, project)
	if len(e.experimentResources) == 0 {
		return nil
	}

	exps, err := e.src.ListExperiments(ctx, workspace, project)
	if err != nil {
		return fmt.Errorf("list experiments: %w", err)
	}
	exps, err = query.Select(ctx, e.opts.Query, e.src, exps)
	if err != nil {
		return err
	}
	if topLevel {
		ok, err := e.confirmed(len(exps))
		if err != nil || !ok {
			return err
		}
	}
	for _, exp := range exps {
		if e.mc.Scheduler.Canceled() {
			return transfer.ErrCanceled
		}
		e.downloadExperiment(ctx, exp)
	}
	return nil
}

func (e *Engine) downloadProjectResources(ctx context.Context, workspace, project string) {
	for _, name := range e.projectResources {
		fetch := projectFetchers[name]
		out, err := fetch(ctx, e, workspace, project)
		e.record(name, out, err, "workspace", workspace, "project", project)
	}
}

// downloadExperiment runs every selected resource fetcher for exp. With
// Skip set, an existing experiment folder short-circuits all source calls.
func (e *Engine) downloadExperiment(ctx context.Context, exp tracking.Experiment) {
	if e.opts.Skip && !e.opts.Layout.Flat && store.Exists(e.opts.Layout.ExperimentDir(exp)) {
		slog.Info("skipping existing experiment", "path", filepath.ToSlash(e.opts.Layout.ExperimentDir(exp)))
		return
	}
	slog.Info("downloading experiment", "workspace", exp.Workspace, "project", exp.Project, "experiment", exp.DisplayName())
	for _, name := range e.experimentResources {
		fetch := experimentFetchers[name]
		out, err := fetch(ctx, e, exp)
		e.record(name, out, err, "experiment", exp.Key)
	}
}

// record applies one synchronous resource result to the summary.
func (e *Engine) record(resource string, out transfer.Outcome, err error, attrs ...any) {
	if err != nil {
		slog.Error("resource download failed", append([]any{"resource", resource, "error", err}, attrs...)...)
		e.mc.Summary.Fail()
		return
	}
	if out.Resource == "" {
		out.Resource = resource
	}
	e.mc.Summary.Add(out.Resource, out.Count)
	e.mc.Summary.AddBytes(out.Bytes)
}
