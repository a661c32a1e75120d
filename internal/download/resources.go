package download

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/expmirror/internal/catalog"
	"github.com/user/expmirror/internal/store"
	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
)

type experimentFetcher func(ctx context.Context, e *Engine, exp tracking.Experiment) (transfer.Outcome, error)

type projectFetcher func(ctx context.Context, e *Engine, workspace, project string) (transfer.Outcome, error)

// experimentFetchers holds one fetcher per concrete experiment-level
// catalog name.
var experimentFetchers = map[string]experimentFetcher{
	catalog.System:       fetchSystem,
	catalog.Others:       fetchOthers,
	catalog.Parameters:   fetchParameters,
	catalog.Metadata:     fetchMetadata,
	catalog.Metrics:      fetchMetrics,
	catalog.Assets:       fetchAssets,
	catalog.HTML:         fetchHTML,
	catalog.Code:         fetchCode,
	catalog.Requirements: fetchRequirements,
	catalog.Git:          fetchGit,
	catalog.Output:       fetchOutput,
	catalog.Graph:        fetchGraph,
}

var projectFetchers = map[string]projectFetcher{
	catalog.ProjectMetadata: fetchProjectMetadata,
	catalog.ProjectNotes:    fetchProjectNotes,
}

// written is the outcome of one file written for a resource.
func written(n int64) transfer.Outcome {
	return transfer.Outcome{Count: 1, Bytes: n}
}

func fetchMetadata(ctx context.Context, e *Engine, exp tracking.Experiment) (transfer.Outcome, error) {
	path := e.opts.Layout.Path(exp, "", store.MetadataFile)
	if !e.opts.Policy.ShouldWrite(path) {
		return transfer.Outcome{}, nil
	}
	md, err := e.src.GetMetadata(ctx, exp.Key)
	if err != nil {
		return transfer.Outcome{}, fmt.Errorf("get metadata: %w", err)
	}
	tags, err := e.src.GetTags(ctx, exp.Key)
	if err != nil {
		return transfer.Outcome{}, fmt.Errorf("get tags: %w", err)
	}
	md = maps.Clone(md)
	if md == nil {
		md = make(map[string]any)
	}
	if tags == nil {
		tags = []string{}
	}
	md["tags"] = tags
	md["downloadVersion"] = e.opts.Version
	n, err := store.WriteJSON(path, md)
	if err != nil {
		return transfer.Outcome{}, err
	}
	return written(n), nil
}

func fetchMetrics(ctx context.Context, e *Engine, exp tracking.Experiment) (transfer.Outcome, error) {
	dir := e.opts.Layout.ExperimentDir(exp)
	path := e.opts.Layout.Path(exp, "", store.MetricsFile)
	if e.opts.SplitMetrics {
		path = e.opts.Layout.Path(exp, "", store.MetricsSummaryFile)
	}
	if !e.opts.Policy.ShouldWrite(path) {
		return transfer.Outcome{}, nil
	}
	points, err := e.src.GetMetrics(ctx, exp.Key)
	if err != nil {
		return transfer.Outcome{}, fmt.Errorf("get metrics: %w", err)
	}
	if len(points) == 0 {
		return transfer.Outcome{}, nil
	}
	var n int64
	if e.opts.SplitMetrics {
		n, err = store.WriteSplitMetrics(dir, points)
	} else {
		n, err = store.WriteJSONL(path, points)
	}
	if err != nil {
		return transfer.Outcome{}, err
	}
	return written(n), nil
}

func fetchParameters(ctx context.Context, e *Engine, exp tracking.Experiment) (transfer.Outcome, error) {
	path := e.opts.Layout.Path(exp, "", store.ParametersFile)
	if !e.opts.Policy.ShouldWrite(path) {
		return transfer.Outcome{}, nil
	}
	params, err := e.src.GetParametersSummary(ctx, exp.Key)
	if err != nil {
		return transfer.Outcome{}, fmt.Errorf("get parameters: %w", err)
	}
	if params == nil {
		params = []tracking.ValueSummary{}
	}
	n, err := store.WriteJSON(path, params)
	if err != nil {
		return transfer.Outcome{}, err
	}
	return written(n), nil
}

func fetchOthers(ctx context.Context, e *Engine, exp tracking.Experiment) (transfer.Outcome, error) {
	path := e.opts.Layout.Path(exp, "", store.OthersFile)
	if !e.opts.Policy.ShouldWrite(path) {
		return transfer.Outcome{}, nil
	}
	others, err := e.src.GetOthersSummary(ctx, exp.Key)
	if err != nil {
		return transfer.Outcome{}, fmt.Errorf("get others: %w", err)
	}
	if len(others) == 0 {
		return transfer.Outcome{}, nil
	}
	n, err := store.WriteJSONL(path, others)
	if err != nil {
		return transfer.Outcome{}, err
	}
	return written(n), nil
}

// Package lists are stored in requirements.txt, not in system_details.json.
const (
	installedPackagesKey = "installedPackages"
	osPackagesKey        = "osPackages"
)

func fetchSystem(ctx context.Context, e *Engine, exp tracking.Experiment) (transfer.Outcome, error) {
	path := e.opts.Layout.Path(exp, "", store.SystemDetailsFile)
	if !e.opts.Policy.ShouldWrite(path) {
		return transfer.Outcome{}, nil
	}
	details, err := e.src.GetSystemDetails(ctx, exp.Key)
	if err != nil {
		return transfer.Outcome{}, fmt.Errorf("get system details: %w", err)
	}
	details = maps.Clone(details)
	if details == nil {
		details = make(map[string]any)
	}
	delete(details, installedPackagesKey)
	delete(details, osPackagesKey)
	n, err := store.WriteJSON(path, details)
	if err != nil {
		return transfer.Outcome{}, err
	}
	return written(n), nil
}

func fetchRequirements(ctx context.Context, e *Engine, exp tracking.Experiment) (transfer.Outcome, error) {
	path := e.opts.Layout.Path(exp, store.RunDir, store.RequirementsFile)
	if !e.opts.Policy.ShouldWrite(path) {
		return transfer.Outcome{}, nil
	}
	details, err := e.src.GetSystemDetails(ctx, exp.Key)
	if err != nil {
		return transfer.Outcome{}, fmt.Errorf("get system details: %w", err)
	}
	packages := stringList(details[installedPackagesKey])
	if len(packages) == 0 {
		packages = stringList(details[osPackagesKey])
	}
	if len(packages) == 0 {
		return transfer.Outcome{}, nil
	}
	n, err := store.WriteText(path, strings.Join(packages, "\n"))
	if err != nil {
		return transfer.Outcome{}, err
	}
	return written(n), nil
}

// stringList accepts the JSON shapes a package list can arrive in.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// textFetcher writes the non-empty text returned by get to dir/name.
func textFetcher(dir, name, what string, get func(tracking.Source, context.Context, string) (string, error)) experimentFetcher {
	return func(ctx context.Context, e *Engine, exp tracking.Experiment) (transfer.Outcome, error) {
		path := e.opts.Layout.Path(exp, dir, name)
		if !e.opts.Policy.ShouldWrite(path) {
			return transfer.Outcome{}, nil
		}
		text, err := get(e.src, ctx, exp.Key)
		if err != nil {
			return transfer.Outcome{}, fmt.Errorf("get %s: %w", what, err)
		}
		if text == "" {
			return transfer.Outcome{}, nil
		}
		n, err := store.WriteText(path, text)
		if err != nil {
			return transfer.Outcome{}, err
		}
		return written(n), nil
	}
}

var (
	fetchCode   = textFetcher(store.RunDir, store.ScriptFile, "code", tracking.Source.GetCode)
	fetchOutput = textFetcher(store.RunDir, store.OutputFile, "output", tracking.Source.GetOutput)
	fetchGraph  = textFetcher(store.RunDir, store.GraphFile, "model graph", tracking.Source.GetModelGraph)
)

// fetchHTML writes experiment.html and, when enabled, a markdown rendering
// next to it.
func fetchHTML(ctx context.Context, e *Engine, exp tracking.Experiment) (transfer.Outcome, error) {
	path := e.opts.Layout.Path(exp, "", store.HTMLFile)
	if !e.opts.Policy.ShouldWrite(path) {
		return transfer.Outcome{}, nil
	}
	html, err := e.src.GetHTML(ctx, exp.Key)
	if err != nil {
		return transfer.Outcome{}, fmt.Errorf("get html: %w", err)
	}
	if html == "" {
		return transfer.Outcome{}, nil
	}
	n, err := store.WriteText(path, html)
	if err != nil {
		return transfer.Outcome{}, err
	}
	out := written(n)
	if e.opts.HTMLMarkdown {
		md, err := htmltomarkdown.ConvertString(html)
		if err != nil {
			slog.Warn("html to markdown conversion failed", "experiment", exp.Key, "error", err)
			return out, nil
		}
		m, err := store.WriteText(e.opts.Layout.Path(exp, "", store.MarkdownFile), md)
		if err != nil {
			return out, nil
		}
		out.Bytes += m
	}
	return out, nil
}

// projectMetadata is the document written to project_metadata.json.
type projectMetadata struct {
	tracking.Project
	DownloadVersion string `json:"downloadVersion,omitempty"`
}

func fetchProjectMetadata(ctx context.Context, e *Engine, workspace, project string) (transfer.Outcome, error) {
	path := filepath.Join(e.opts.Layout.ProjectDir(workspace, project), store.ProjectMetadataFile)
	if !e.opts.Policy.ShouldWrite(path) {
		return transfer.Outcome{}, nil
	}
	p, err := e.src.GetProject(ctx, workspace, project)
	if err != nil {
		return transfer.Outcome{}, fmt.Errorf("get project: %w", err)
	}
	n, err := store.WriteJSON(path, projectMetadata{Project: *p, DownloadVersion: e.opts.Version})
	if err != nil {
		return transfer.Outcome{}, err
	}
	return written(n), nil
}

func fetchProjectNotes(ctx context.Context, e *Engine, workspace, project string) (transfer.Outcome, error) {
	path := filepath.Join(e.opts.Layout.ProjectDir(workspace, project), store.ProjectNotesFile)
	if !e.opts.Policy.ShouldWrite(path) {
		return transfer.Outcome{}, nil
	}
	notes, err := e.src.GetProjectNotes(ctx, workspace, project)
	if err != nil {
		return transfer.Outcome{}, fmt.Errorf("get project notes: %w", err)
	}
	if notes == "" {
		return transfer.Outcome{}, nil
	}
	n, err := store.WriteText(path, notes)
	if err != nil {
		return transfer.Outcome{}, err
	}
	return written(n), nil
}
