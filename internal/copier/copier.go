// Package copier reconstructs experiments from the canonical store into a
// destination platform, re-uploading assets and remapping the asset
// references held by composite payloads.
package copier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/user/expmirror/internal/address"
	"github.com/user/expmirror/internal/catalog"
	"github.com/user/expmirror/internal/download"
	"github.com/user/expmirror/internal/offline"
	"github.com/user/expmirror/internal/store"
	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
)

// Ignore names accepted in addition to catalog resources and asset types.
const (
	IgnoreExperiments   = "experiments"
	IgnoreSystemMetrics = "system-metrics"
)

// Options configures one copy. It is built once and not modified.
type Options struct {
	// Root is the canonical store the source address is read from.
	Root    string
	Ignore  []string
	Symlink bool
	// Offline packages each experiment locally and uploads the package.
	Offline    bool
	OfflineDir string
	Version    string
}

// Engine copies canonical experiments into a destination.
type Engine struct {
	dest     tracking.Destination
	uploader tracking.ArchiveUploader
	opts     Options
	mc       *transfer.MigrationContext
	out      io.Writer

	resources map[string]bool
	ignored   map[string]bool
}

// New validates the options. uploader may be nil unless Offline is set.
func New(dest tracking.Destination, uploader tracking.ArchiveUploader, opts Options, mc *transfer.MigrationContext, out io.Writer) (*Engine, error) {
	if opts.Offline && uploader == nil {
		return nil, transfer.Configf("offline copy needs a destination that accepts packaged experiments")
	}
	names, err := catalog.Expand(nil, opts.Ignore)
	if err != nil {
		return nil, transfer.AsFatal(err)
	}
	resources := make(map[string]bool, len(names))
	for _, n := range names {
		resources[n] = true
	}
	ignored := make(map[string]bool, len(opts.Ignore))
	for _, n := range opts.Ignore {
		ignored[n] = true
	}
	if out == nil {
		out = io.Discard
	}
	return &Engine{
		dest:      dest,
		uploader:  uploader,
		opts:      opts,
		mc:        mc,
		out:       out,
		resources: resources,
		ignored:   ignored,
	}, nil
}

// ParseDestination splits "workspace[/project]".
func ParseDestination(raw string) (workspace, project string, err error) {
	segs := strings.Split(address.Clean(raw), "/")
	switch {
	case len(segs) == 1 && segs[0] != "":
		return segs[0], "", nil
	case len(segs) == 2:
		return segs[0], segs[1], nil
	}
	return "", "", transfer.Configf("invalid destination %q: use `workspace[/project]`", raw)
}

// Copy copies the canonical folders named by source ("workspace",
// "workspace/project" or "workspace/project/experiment", relative to Root)
// into destination.
func (e *Engine) Copy(ctx context.Context, source, destination string) error {
	if e.opts.Symlink {
		return transfer.Configf("--symlink needs a source platform")
	}
	wsDst, projDst, err := ParseDestination(destination)
	if err != nil {
		return err
	}
	src, err := address.Parse(source)
	if err != nil {
		return transfer.AsFatal(err)
	}
	if src.Kind != address.KindExperiment || src.Depth() == 0 {
		return transfer.Configf("invalid source %q: use `workspace[/project[/experiment]]`", source)
	}
	folders, err := experimentFolders(e.opts.Root, src)
	if err != nil {
		return err
	}
	if len(folders) == 0 {
		return transfer.Configf("nothing to copy under %s", filepath.Join(e.opts.Root, filepath.FromSlash(src.String())))
	}

	projects, err := e.destinationProjects(ctx, wsDst)
	if err != nil {
		return err
	}
	for _, f := range folders {
		if e.mc.Scheduler.Canceled() {
			return transfer.ErrCanceled
		}
		project := projDst
		if project == "" {
			project = f.project
		}
		if err := e.ensureProject(ctx, projects, wsDst, project, filepath.Join(e.opts.Root, f.workspace, f.project)); err != nil {
			slog.Error("create destination project failed", "workspace", wsDst, "project", project, "error", err)
			e.mc.Summary.Fail()
			continue
		}
		if e.ignored[IgnoreExperiments] {
			continue
		}
		e.copyExperiment(ctx, f, wsDst, project)
	}
	return nil
}

// CopyFromPlatform downloads source from a live platform into a private
// temporary canonical root and copies it from there.
func (e *Engine) CopyFromPlatform(ctx context.Context, src tracking.Source, source, destination string) error {
	if e.opts.Symlink {
		return e.Symlink(ctx, src, source, destination)
	}
	if _, _, err := ParseDestination(destination); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp("", "expmirror-copy-*")
	if err != nil {
		return fmt.Errorf("create staging root: %w", err)
	}
	defer os.RemoveAll(tmp)

	dl := transfer.NewMigrationContext(ctx, e.mc.Scheduler.Workers(), "Download Summary", "Download Count")
	engine, err := download.New(src, download.Options{
		Layout:  store.Layout{Root: tmp},
		Ignore:  e.opts.Ignore,
		Force:   true,
		Version: e.opts.Version,
	}, dl, nil)
	if err != nil {
		return err
	}
	if err := engine.Download(ctx, source); err != nil {
		return fmt.Errorf("stage %s: %w", source, err)
	}
	staged := dl.Finish(nil)
	slog.Info("staged source", "source", source, "resources", staged.Total(), "failed", staged.Failed())

	local := *e
	local.opts.Root = tmp
	target, err := resolveStaged(tmp, source)
	if err != nil {
		return err
	}
	return local.Copy(ctx, target, destination)
}

// resolveStaged maps a platform address to the folder it was staged in. A
// bare experiment key resolves to wherever the download placed it.
func resolveStaged(root, source string) (string, error) {
	a, err := address.Parse(source)
	if err != nil {
		return "", transfer.AsFatal(err)
	}
	if a.Depth() != 1 || store.Exists(filepath.Join(root, a.Workspace)) {
		return a.String(), nil
	}
	matches, err := filepath.Glob(filepath.Join(root, "*", "*", a.Workspace))
	if err != nil || len(matches) == 0 {
		return a.String(), nil
	}
	rel, err := filepath.Rel(root, matches[0])
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Symlink makes the experiments at source visible in the destination
// project without copying them.
func (e *Engine) Symlink(ctx context.Context, src tracking.Source, source, destination string) error {
	wsDst, projDst, err := ParseDestination(destination)
	if err != nil {
		return err
	}
	target, err := address.Resolve(ctx, src, source)
	if err != nil {
		return transfer.AsFatal(err)
	}

	var exps []tracking.Experiment
	switch target.Mode {
	case address.ModeExperiment:
		exps = []tracking.Experiment{*target.Experiment}
	case address.ModeProject:
		exps, err = src.ListExperiments(ctx, target.Address.Workspace, target.Address.Project)
	case address.ModeWorkspace:
		var projects []tracking.Project
		projects, err = src.ListProjects(ctx, target.Address.Workspace)
		for _, p := range projects {
			if err != nil {
				break
			}
			var more []tracking.Experiment
			more, err = src.ListExperiments(ctx, target.Address.Workspace, p.Name)
			exps = append(exps, more...)
		}
	default:
		return transfer.Configf("cannot symlink %q", source)
	}
	if err != nil {
		return fmt.Errorf("list source experiments: %w", err)
	}

	projects, err := e.destinationProjects(ctx, wsDst)
	if err != nil {
		return err
	}
	for _, exp := range exps {
		project := projDst
		if project == "" {
			project = exp.Project
		}
		if err := e.ensureProject(ctx, projects, wsDst, project, ""); err != nil {
			slog.Error("create destination project failed", "project", project, "error", err)
			e.mc.Summary.Fail()
			continue
		}
		if err := e.dest.Symlink(ctx, exp.Key, wsDst, project); err != nil {
			slog.Error("symlink failed", "experiment", exp.Key, "error", err)
			e.mc.Summary.Fail()
			continue
		}
		fmt.Fprintf(e.out, "Symlinked %s/%s/%s into %s/%s\n", exp.Workspace, exp.Project, exp.Key, wsDst, project)
		e.mc.Summary.Add("symlinks", 1)
	}
	return nil
}

// destinationProjects checks the workspace exists and returns its project
// names.
func (e *Engine) destinationProjects(ctx context.Context, workspace string) (map[string]bool, error) {
	workspaces, err := e.dest.ListWorkspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("list destination workspaces: %w", err)
	}
	if !slices.Contains(workspaces, workspace) {
		return nil, transfer.Configf("%s does not exist; create it on the destination first", workspace)
	}
	projects, err := e.dest.ListProjects(ctx, workspace)
	if err != nil {
		return nil, fmt.Errorf("list destination projects: %w", err)
	}
	names := make(map[string]bool, len(projects))
	for _, p := range projects {
		names[p.Name] = true
	}
	return names, nil
}

// ensureProject creates project when missing, taking its description and
// visibility from project_metadata.json under srcDir when present.
func (e *Engine) ensureProject(ctx context.Context, known map[string]bool, workspace, project, srcDir string) error {
	if known[project] {
		return nil
	}
	var meta tracking.Project
	if srcDir != "" && e.resources[catalog.ProjectMetadata] {
		path := filepath.Join(srcDir, store.ProjectMetadataFile)
		if store.Exists(path) {
			if err := store.ReadJSON(path, &meta); err != nil {
				slog.Warn("unreadable project metadata", "path", path, "error", err)
			}
		}
	}
	if err := e.dest.CreateProject(ctx, workspace, project, meta.Description, meta.Public); err != nil {
		return err
	}
	known[project] = true
	slog.Info("created destination project", "workspace", workspace, "project", project)
	return nil
}

// newWriter creates the destination experiment, offline or live.
func (e *Engine) newWriter(ctx context.Context, workspace, project string) (tracking.ExperimentWriter, error) {
	if !e.opts.Offline {
		return e.dest.CreateExperiment(ctx, workspace, project)
	}
	dir := e.opts.OfflineDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "expmirror-offline")
	}
	return offline.New(dir, workspace, project)
}

// experimentFolder is one experiment directory of the canonical store.
type experimentFolder struct {
	workspace string
	project   string
	name      string
	dir       string
}

// experimentFolders lists the experiment directories below the source
// address. Registry folders and files are skipped.
func experimentFolders(root string, a address.Address) ([]experimentFolder, error) {
	var projects []string
	if a.Project != "" {
		projects = []string{a.Project}
	} else {
		entries, err := os.ReadDir(filepath.Join(root, a.Workspace))
		if err != nil {
			return nil, fmt.Errorf("read workspace folder: %w", err)
		}
		for _, en := range entries {
			name := en.Name()
			if en.IsDir() && name != string(tracking.Artifacts) && name != string(tracking.Models) {
				projects = append(projects, name)
			}
		}
	}

	var out []experimentFolder
	for _, p := range projects {
		if a.Experiment != "" {
			dir := filepath.Join(root, a.Workspace, p, a.Experiment)
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				return nil, transfer.Configf("no such experiment folder: %s", dir)
			}
			out = append(out, experimentFolder{a.Workspace, p, a.Experiment, dir})
			continue
		}
		entries, err := os.ReadDir(filepath.Join(root, a.Workspace, p))
		if err != nil {
			return nil, fmt.Errorf("read project folder: %w", err)
		}
		for _, en := range entries {
			if !en.IsDir() || strings.HasSuffix(en.Name(), "~") {
				continue
			}
			out = append(out, experimentFolder{a.Workspace, p, en.Name(), filepath.Join(root, a.Workspace, p, en.Name())})
		}
	}
	return out, nil
}
