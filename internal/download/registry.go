package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/user/expmirror/internal/address"
	"github.com/user/expmirror/internal/store"
	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
)

// downloadRegistry places every file of one artifact or registry model
// version. The kind counts once when all of its files were placed.
func (e *Engine) downloadRegistry(ctx context.Context, a address.Address) error {
	kind := a.RegistryKind()
	details, err := e.src.GetRegistryDetails(ctx, kind, a.Workspace, a.Name)
	if err != nil {
		return fmt.Errorf("get %s details: %w", kind, err)
	}
	version, err := SelectVersion(kind, details, a.Version)
	if err != nil {
		return transfer.AsFatal(err)
	}
	files, err := e.src.ListRegistryFiles(ctx, kind, a.Workspace, a.Name, version)
	if err != nil {
		return fmt.Errorf("list %s files: %w", kind, err)
	}

	dir := e.opts.Layout.RegistryDir(kind, a.Workspace, a.Name)
	slog.Info("downloading registry item", "kind", kind, "workspace", a.Workspace, "name", a.Name, "version", version, "files", len(files))

	batch := transfer.NewBatch[int64](e.mc.Scheduler)
	queued := 0
	for _, f := range files {
		path := filepath.Join(dir, filepath.FromSlash(store.Sanitize(f.FileName)))
		if !e.opts.Policy.ShouldWrite(path) {
			continue
		}
		name := f.FileName
		if !batch.Go(func(ctx context.Context) (int64, error) {
			return store.Place(ctx, path, func(ctx context.Context) (io.ReadCloser, error) {
				return e.src.GetRegistryFile(ctx, kind, a.Workspace, a.Name, version, name)
			})
		}) {
			return transfer.ErrCanceled
		}
		queued++
	}

	failed := 0
	for _, r := range batch.Wait() {
		if r.Err != nil {
			failed++
			slog.Error("registry file download failed", "kind", kind, "name", a.Name, "error", r.Err)
			e.mc.Summary.Fail()
			continue
		}
		e.mc.Summary.AddBytes(r.Value)
	}
	if queued > 0 && failed == 0 {
		e.mc.Summary.Add(string(kind), 1)
	}
	return nil
}

// SelectVersion picks the version to download. An explicit selector matches
// a version, or an alias (artifacts) or stage (models), case-insensitively.
// Without one, the latest version is used.
func SelectVersion(kind tracking.RegistryKind, d *tracking.RegistryDetails, selector string) (string, error) {
	if selector == "" {
		return latestVersion(d)
	}
	for _, v := range d.Versions {
		if strings.EqualFold(v.Version, selector) {
			return v.Version, nil
		}
	}
	for _, v := range d.Versions {
		labels := v.Aliases
		if kind == tracking.Models {
			labels = v.Stages
		}
		for _, label := range labels {
			if strings.EqualFold(label, selector) {
				return v.Version, nil
			}
		}
	}
	what := "version or alias"
	if kind == tracking.Models {
		what = "version or stage"
	}
	return "", fmt.Errorf("cannot find %s: %q", what, selector)
}

// latestVersion prefers the platform's latestVersion, then the greatest
// semantic version. Unparseable versions rank below every parseable one.
func latestVersion(d *tracking.RegistryDetails) (string, error) {
	if d.LatestVersion != "" {
		return d.LatestVersion, nil
	}
	if len(d.Versions) == 0 {
		return "", fmt.Errorf("%s has no versions", d.Name)
	}

	type ranked struct {
		v   *semver.Version
		raw string
	}
	var parsed []ranked
	for _, v := range d.Versions {
		sv, err := semver.NewVersion(v.Version)
		if err != nil {
			continue
		}
		parsed = append(parsed, ranked{v: sv, raw: v.Version})
	}
	if len(parsed) == 0 {
		return d.Versions[len(d.Versions)-1].Version, nil
	}
	sort.Slice(parsed, func(i, j int) bool {
		return parsed[i].v.GreaterThan(parsed[j].v)
	})
	return parsed[0].raw, nil
}
