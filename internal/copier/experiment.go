package copier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/expmirror/internal/catalog"
	"github.com/user/expmirror/internal/store"
	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
)

// populateStep writes one resource from an experiment folder. A zero
// Outcome with a nil error means there was nothing to write.
type populateStep func(ctx context.Context, e *Engine, dir string, w tracking.ExperimentWriter) (transfer.Outcome, error)

// populateOrder is the order resources are written in. Assets run last
// because composite payloads need the IDs of the simple ones.
var populateOrder = []string{
	catalog.Metadata,
	catalog.Parameters,
	catalog.Others,
	catalog.Metrics,
	catalog.System,
	catalog.Requirements,
	catalog.Git,
	catalog.Code,
	catalog.Output,
	catalog.Graph,
	catalog.HTML,
	catalog.Assets,
}

var populateSteps = map[string]populateStep{
	catalog.Metadata:     populateMetadata,
	catalog.Parameters:   populateParameters,
	catalog.Others:       populateOthers,
	catalog.Metrics:      populateMetrics,
	catalog.System:       populateSystem,
	catalog.Requirements: populateRequirements,
	catalog.Git:          populateGit,
	catalog.Code:         populateCode,
	catalog.Output:       populateOutput,
	catalog.Graph:        populateGraph,
	catalog.HTML:         populateHTML,
	catalog.Assets:       populateAssets,
}

// nameOther is the others entry that holds an experiment's display name.
const nameOther = "Name"

func one() transfer.Outcome { return transfer.Outcome{Count: 1} }

// copyExperiment creates one destination experiment from folder f. Step
// failures are counted and do not stop the remaining steps.
func (e *Engine) copyExperiment(ctx context.Context, f experimentFolder, workspace, project string) {
	label := f.label()
	log := slog.With("experiment", f.name, "workspace", workspace, "project", project)
	if label.name != "" {
		log = log.With("name", label.name)
	}
	fmt.Fprintf(e.out, "Copying from %s\n", label)
	w, err := e.newWriter(ctx, workspace, project)
	if err != nil {
		log.Error("create destination experiment failed", "error", err)
		e.mc.Summary.Fail()
		return
	}
	log.Info("copying experiment", "source", f.dir, "key", w.Key())

	for _, name := range populateOrder {
		if !e.resources[name] {
			continue
		}
		if e.mc.Scheduler.Canceled() {
			break
		}
		out, err := populateSteps[name](ctx, e, f.dir, w)
		if err != nil {
			log.Error("copy resource failed", "resource", name, "error", err)
			e.mc.Summary.Fail()
			continue
		}
		if out.Count > 0 {
			e.mc.Summary.Add(name, out.Count)
			e.mc.Summary.AddBytes(out.Bytes)
		}
	}

	url, err := w.End(ctx)
	if err != nil {
		log.Error("finalize experiment failed", "error", err)
		e.mc.Summary.Fail()
		return
	}
	if e.opts.Offline {
		path := url
		url, err = e.uploader.UploadOfflineArchive(ctx, path)
		if err != nil {
			log.Error("upload offline package failed", "path", path, "error", err)
			e.mc.Summary.Fail()
			return
		}
		os.Remove(path)
	}
	e.mc.Summary.Add("experiments", 1)
	fmt.Fprintf(e.out, "Copied %s to %s\n", label, url)
}

// experimentLabel names an experiment folder in progress output.
type experimentLabel struct {
	dir  string
	name string
}

func (l experimentLabel) String() string {
	if l.name == "" {
		return l.dir
	}
	return fmt.Sprintf("%s (%q)", l.dir, l.name)
}

// label reads the "Name" other logged with the experiment, if any.
func (f experimentFolder) label() experimentLabel {
	l := experimentLabel{dir: f.dir}
	others, err := store.ReadJSONL[tracking.ValueSummary](filepath.Join(f.dir, store.OthersFile))
	if err != nil {
		slog.Debug("read others for label", "path", f.dir, "error", err)
		return l
	}
	for _, o := range others {
		if o.Name == nameOther && o.ValueCurrent != nil {
			l.name = fmt.Sprint(o.ValueCurrent)
			break
		}
	}
	return l
}

func populateMetadata(ctx context.Context, e *Engine, dir string, w tracking.ExperimentWriter) (transfer.Outcome, error) {
	path := filepath.Join(dir, store.MetadataFile)
	if !store.Exists(path) {
		return transfer.Outcome{}, nil
	}
	var md struct {
		FileName string   `json:"fileName"`
		Tags     []string `json:"tags"`
	}
	if err := store.ReadJSON(path, &md); err != nil {
		return transfer.Outcome{}, err
	}
	if len(md.Tags) > 0 {
		if err := w.AddTags(ctx, md.Tags); err != nil {
			return transfer.Outcome{}, fmt.Errorf("add tags: %w", err)
		}
	}
	if md.FileName != "" {
		if err := w.SetFilename(ctx, md.FileName); err != nil {
			return transfer.Outcome{}, fmt.Errorf("set filename: %w", err)
		}
	}
	return one(), nil
}

// populateParameters logs every parameter in one call. Dotted names are
// nested back into objects unless a prefix is itself a scalar parameter,
// in which case the dotted name is kept as is.
func populateParameters(ctx context.Context, e *Engine, dir string, w tracking.ExperimentWriter) (transfer.Outcome, error) {
	path := filepath.Join(dir, store.ParametersFile)
	if !store.Exists(path) {
		return transfer.Outcome{}, nil
	}
	var params []tracking.ValueSummary
	if err := store.ReadJSON(path, &params); err != nil {
		return transfer.Outcome{}, err
	}
	if len(params) == 0 {
		return transfer.Outcome{}, nil
	}
	if err := w.LogParameters(ctx, nestParameters(params)); err != nil {
		return transfer.Outcome{}, fmt.Errorf("log parameters: %w", err)
	}
	return transfer.Outcome{Count: len(params)}, nil
}

func nestParameters(params []tracking.ValueSummary) map[string]any {
	out := make(map[string]any, len(params))
	for _, p := range params {
		if !strings.Contains(p.Name, ".") {
			out[p.Name] = p.ValueCurrent
		}
	}
	for _, p := range params {
		if !strings.Contains(p.Name, ".") {
			continue
		}
		if !insertNested(out, strings.Split(p.Name, "."), p.ValueCurrent) {
			out[p.Name] = p.ValueCurrent
		}
	}
	return out
}

// insertNested sets value at segs below m. It reports false when a prefix
// or the leaf is already taken.
func insertNested(m map[string]any, segs []string, value any) bool {
	for _, s := range segs {
		if s == "" {
			return false
		}
	}
	node := m
	for _, s := range segs[:len(segs)-1] {
		switch child := node[s].(type) {
		case nil:
			next := make(map[string]any)
			node[s] = next
			node = next
		case map[string]any:
			node = child
		default:
			return false
		}
	}
	leaf := segs[len(segs)-1]
	if _, taken := node[leaf]; taken {
		return false
	}
	node[leaf] = value
	return true
}

func populateOthers(ctx context.Context, e *Engine, dir string, w tracking.ExperimentWriter) (transfer.Outcome, error) {
	others, err := store.ReadJSONL[tracking.ValueSummary](filepath.Join(dir, store.OthersFile))
	if err != nil {
		return transfer.Outcome{}, err
	}
	var out transfer.Outcome
	for _, o := range others {
		if err := w.LogOther(ctx, o.Name, o.ValueCurrent); err != nil {
			return out, fmt.Errorf("log other %s: %w", o.Name, err)
		}
		out.Count++
	}
	return out, nil
}

func populateMetrics(ctx context.Context, e *Engine, dir string, w tracking.ExperimentWriter) (transfer.Outcome, error) {
	points, err := store.ReadMetrics(dir)
	if err != nil {
		return transfer.Outcome{}, err
	}
	skipSystem := e.ignored[IgnoreSystemMetrics]
	var out transfer.Outcome
	for _, p := range points {
		if skipSystem && strings.HasPrefix(p.MetricName, "sys.") {
			continue
		}
		if err := w.LogMetric(ctx, p); err != nil {
			return out, fmt.Errorf("log metric %s: %w", p.MetricName, err)
		}
		out.Count++
	}
	return out, nil
}

func populateSystem(ctx context.Context, e *Engine, dir string, w tracking.ExperimentWriter) (transfer.Outcome, error) {
	path := filepath.Join(dir, store.SystemDetailsFile)
	if !store.Exists(path) {
		return transfer.Outcome{}, nil
	}
	var details map[string]any
	if err := store.ReadJSON(path, &details); err != nil {
		return transfer.Outcome{}, err
	}
	if err := w.LogSystemDetails(ctx, details); err != nil {
		return transfer.Outcome{}, fmt.Errorf("log system details: %w", err)
	}
	return one(), nil
}

func populateRequirements(ctx context.Context, e *Engine, dir string, w tracking.ExperimentWriter) (transfer.Outcome, error) {
	text, ok, err := readText(filepath.Join(dir, store.RunDir, store.RequirementsFile))
	if !ok || err != nil {
		return transfer.Outcome{}, err
	}
	var packages []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			packages = append(packages, line)
		}
	}
	if len(packages) == 0 {
		return transfer.Outcome{}, nil
	}
	if err := w.LogInstalledPackages(ctx, packages); err != nil {
		return transfer.Outcome{}, fmt.Errorf("log installed packages: %w", err)
	}
	return one(), nil
}

// populateGit replays git metadata and the patch. Either one may be absent.
func populateGit(ctx context.Context, e *Engine, dir string, w tracking.ExperimentWriter) (transfer.Outcome, error) {
	var out transfer.Outcome
	metaPath := filepath.Join(dir, store.RunDir, store.GitMetadataFile)
	if store.Exists(metaPath) {
		var meta tracking.GitMetadata
		if err := store.ReadJSON(metaPath, &meta); err != nil {
			return out, err
		}
		if err := w.SetGitMetadata(ctx, meta); err != nil {
			return out, fmt.Errorf("set git metadata: %w", err)
		}
		out.Count++
	}
	patchPath := filepath.Join(dir, store.RunDir, store.GitPatchFile)
	if store.Exists(patchPath) {
		patch, err := os.ReadFile(patchPath)
		if err != nil {
			return out, fmt.Errorf("read git patch: %w", err)
		}
		if err := w.LogGitPatch(ctx, patch); err != nil {
			return out, fmt.Errorf("log git patch: %w", err)
		}
		out.Count++
		out.Bytes += int64(len(patch))
	}
	return out, nil
}

func populateCode(ctx context.Context, e *Engine, dir string, w tracking.ExperimentWriter) (transfer.Outcome, error) {
	code, ok, err := readText(filepath.Join(dir, store.RunDir, store.ScriptFile))
	if !ok || err != nil {
		return transfer.Outcome{}, err
	}
	if err := w.LogCode(ctx, code, store.ScriptFile); err != nil {
		return transfer.Outcome{}, fmt.Errorf("log code: %w", err)
	}
	return transfer.Outcome{Count: 1, Bytes: int64(len(code))}, nil
}

func populateOutput(ctx context.Context, e *Engine, dir string, w tracking.ExperimentWriter) (transfer.Outcome, error) {
	text, ok, err := readText(filepath.Join(dir, store.RunDir, store.OutputFile))
	if !ok || err != nil {
		return transfer.Outcome{}, err
	}
	if err := w.LogOutput(ctx, text); err != nil {
		return transfer.Outcome{}, fmt.Errorf("log output: %w", err)
	}
	return transfer.Outcome{Count: 1, Bytes: int64(len(text))}, nil
}

func populateGraph(ctx context.Context, e *Engine, dir string, w tracking.ExperimentWriter) (transfer.Outcome, error) {
	graph, ok, err := readText(filepath.Join(dir, store.RunDir, store.GraphFile))
	if !ok || err != nil {
		return transfer.Outcome{}, err
	}
	if err := w.SetModelGraph(ctx, graph); err != nil {
		return transfer.Outcome{}, fmt.Errorf("set model graph: %w", err)
	}
	return transfer.Outcome{Count: 1, Bytes: int64(len(graph))}, nil
}

func populateHTML(ctx context.Context, e *Engine, dir string, w tracking.ExperimentWriter) (transfer.Outcome, error) {
	html, ok, err := readText(filepath.Join(dir, store.HTMLFile))
	if !ok || err != nil {
		return transfer.Outcome{}, err
	}
	if err := w.LogHTML(ctx, html); err != nil {
		return transfer.Outcome{}, fmt.Errorf("log html: %w", err)
	}
	return transfer.Outcome{Count: 1, Bytes: int64(len(html))}, nil
}

// readText returns the file content, with ok false when it does not exist
// or is empty.
func readText(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return string(data), len(data) > 0, nil
}
