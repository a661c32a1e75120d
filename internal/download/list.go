package download

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/user/expmirror/internal/address"
	"github.com/user/expmirror/internal/query"
	"github.com/user/expmirror/pkg/tracking"
)

// Lister prints the contents of any address without transferring anything.
type Lister struct {
	Source  tracking.Source
	Out     io.Writer
	UseName bool
	Query   *query.Filter
}

// List resolves raw and prints what lives there.
func (l *Lister) List(ctx context.Context, raw string) error {
	a, err := address.Parse(raw)
	if err != nil {
		return err
	}
	if a.Kind != address.KindExperiment {
		if a.Name == "" {
			return l.listRegistry(ctx, a.RegistryKind(), a.Workspace)
		}
		return l.listVersions(ctx, a.RegistryKind(), a.Workspace, a.Name)
	}

	target, err := address.Resolve(ctx, l.Source, raw)
	if err != nil {
		return err
	}
	switch target.Mode {
	case address.ModeWorkspaces:
		return l.listWorkspaces(ctx)
	case address.ModeWorkspace:
		return l.listProjects(ctx, target.Address.Workspace)
	case address.ModeProject:
		return l.listExperiments(ctx, target.Address.Workspace, target.Address.Project)
	default:
		exp := target.Experiment
		fmt.Fprintf(l.Out, "%s/%s/%s\n", exp.Workspace, exp.Project, l.name(*exp))
		return nil
	}
}

func (l *Lister) name(e tracking.Experiment) string {
	if l.UseName {
		return e.DisplayName()
	}
	return e.Key
}

func (l *Lister) listWorkspaces(ctx context.Context) error {
	workspaces, err := l.Source.ListWorkspaces(ctx)
	if err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}
	for _, ws := range workspaces {
		fmt.Fprintln(l.Out, ws)
	}
	return nil
}

func (l *Lister) listProjects(ctx context.Context, workspace string) error {
	projects, err := l.Source.ListProjects(ctx, workspace)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	w := tabwriter.NewWriter(l.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tEXPERIMENTS\tPUBLIC\tDESCRIPTION")
	for _, p := range projects {
		fmt.Fprintf(w, "%s/%s\t%d\t%v\t%s\n", workspace, p.Name, p.NumberOfExperiments, p.Public, p.Description)
	}
	return w.Flush()
}

func (l *Lister) listExperiments(ctx context.Context, workspace, project string) error {
	exps, err := l.Source.ListExperiments(ctx, workspace, project)
	if err != nil {
		return fmt.Errorf("list experiments: %w", err)
	}
	exps, err = query.Select(ctx, l.Query, l.Source, exps)
	if err != nil {
		return err
	}
	for _, e := range exps {
		fmt.Fprintf(l.Out, "%s/%s/%s\n", workspace, project, l.name(e))
	}
	return nil
}

func (l *Lister) listRegistry(ctx context.Context, kind tracking.RegistryKind, workspace string) error {
	items, err := l.Source.ListRegistry(ctx, kind, workspace)
	if err != nil {
		return fmt.Errorf("list %s: %w", kind, err)
	}
	for _, it := range items {
		fmt.Fprintf(l.Out, "%s/%s/%s\n", workspace, kind, it.Name)
	}
	return nil
}

func (l *Lister) listVersions(ctx context.Context, kind tracking.RegistryKind, workspace, name string) error {
	details, err := l.Source.GetRegistryDetails(ctx, kind, workspace, name)
	if err != nil {
		return fmt.Errorf("get %s details: %w", kind, err)
	}
	label := "ALIASES"
	if kind == tracking.Models {
		label = "STAGES"
	}
	w := tabwriter.NewWriter(l.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "VERSION\t%s\n", label)
	for _, v := range details.Versions {
		labels := v.Aliases
		if kind == tracking.Models {
			labels = v.Stages
		}
		fmt.Fprintf(w, "%s\t%s\n", v.Version, strings.Join(labels, ", "))
	}
	return w.Flush()
}
