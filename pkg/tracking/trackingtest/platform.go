// Package trackingtest provides an in-memory tracking platform for tests.
package trackingtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/user/expmirror/pkg/tracking"
)

// ExperimentData is everything a source platform holds for one experiment.
type ExperimentData struct {
	Experiment tracking.Experiment
	Metadata   map[string]any
	Tags       []string
	Metrics    []tracking.MetricPoint
	Parameters []tracking.ValueSummary
	Others     []tracking.ValueSummary
	System     map[string]any
	Git        *tracking.GitMetadata
	GitPatch   []byte
	Code       string
	Output     string
	Graph      string
	HTML       string
	Assets     []tracking.Asset
	AssetBytes map[string][]byte
}

// RegistryData holds one artifact or model with its files per version.
type RegistryData struct {
	Item    tracking.RegistryItem
	Details tracking.RegistryDetails
	Files   map[string]map[string][]byte
}

// Platform is a thread-safe in-memory Source and Destination.
type Platform struct {
	mu          sync.Mutex
	workspaces  []string
	projects    map[string][]tracking.Project
	notes       map[string]string
	experiments map[string]*ExperimentData
	order       []string
	registries  map[string]*RegistryData

	// Fail makes the named Source method return the error.
	Fail map[string]error

	calls    atomic.Int64
	created  []*Recorder
	symlinks []string
	uploads  []string
	deleted  []string
}

// New returns an empty platform.
func New() *Platform {
	return &Platform{
		projects:    make(map[string][]tracking.Project),
		notes:       make(map[string]string),
		experiments: make(map[string]*ExperimentData),
		registries:  make(map[string]*RegistryData),
		Fail:        make(map[string]error),
	}
}

// AddWorkspace registers a workspace.
func (p *Platform) AddWorkspace(ws string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addWorkspaceLocked(ws)
}

func (p *Platform) addWorkspaceLocked(ws string) {
	for _, w := range p.workspaces {
		if w == ws {
			return
		}
	}
	p.workspaces = append(p.workspaces, ws)
}

// AddProject registers a project, creating its workspace.
func (p *Platform) AddProject(proj tracking.Project, notes string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addWorkspaceLocked(proj.Workspace)
	p.projects[proj.Workspace] = append(p.projects[proj.Workspace], proj)
	p.notes[proj.Workspace+"/"+proj.Name] = notes
}

// AddExperiment registers an experiment under its workspace and project,
// creating both when missing.
func (p *Platform) AddExperiment(data *ExperimentData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := data.Experiment
	p.addWorkspaceLocked(e.Workspace)
	found := false
	for i, proj := range p.projects[e.Workspace] {
		if proj.Name == e.Project {
			p.projects[e.Workspace][i].NumberOfExperiments++
			found = true
		}
	}
	if !found {
		p.projects[e.Workspace] = append(p.projects[e.Workspace], tracking.Project{
			Name: e.Project, Workspace: e.Workspace, NumberOfExperiments: 1,
		})
	}
	p.experiments[e.Key] = data
	p.order = append(p.order, e.Key)
}

// AddRegistry registers an artifact or model.
func (p *Platform) AddRegistry(kind tracking.RegistryKind, workspace string, data *RegistryData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addWorkspaceLocked(workspace)
	p.registries[registryKey(kind, workspace, data.Item.Name)] = data
}

func registryKey(kind tracking.RegistryKind, ws, name string) string {
	return string(kind) + "/" + ws + "/" + name
}

// Calls returns the number of Source calls made so far.
func (p *Platform) Calls() int64 {
	return p.calls.Load()
}

// Created returns the experiments written through the Destination side.
func (p *Platform) Created() []*Recorder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Recorder(nil), p.created...)
}

// Symlinks returns "key->ws/project" for every symlink call.
func (p *Platform) Symlinks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.symlinks...)
}

// Uploads returns the paths of uploaded offline archives.
func (p *Platform) Uploads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.uploads...)
}

// Deleted returns the asset IDs removed with DeleteAsset.
func (p *Platform) Deleted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

func (p *Platform) call(name string) error {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Fail[name]
}

func (p *Platform) experiment(key string) (*ExperimentData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.experiments[key]
	if !ok {
		return nil, fmt.Errorf("experiment %s: %w", key, tracking.ErrNotFound)
	}
	return data, nil
}

func (p *Platform) ListWorkspaces(ctx context.Context) ([]string, error) {
	if err := p.call("ListWorkspaces"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.workspaces...), nil
}

func (p *Platform) ListProjects(ctx context.Context, workspace string) ([]tracking.Project, error) {
	if err := p.call("ListProjects"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tracking.Project(nil), p.projects[workspace]...), nil
}

func (p *Platform) GetProject(ctx context.Context, workspace, project string) (*tracking.Project, error) {
	if err := p.call("GetProject"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, proj := range p.projects[workspace] {
		if proj.Name == project {
			cp := proj
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("project %s/%s: %w", workspace, project, tracking.ErrNotFound)
}

func (p *Platform) GetProjectNotes(ctx context.Context, workspace, project string) (string, error) {
	if err := p.call("GetProjectNotes"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notes[workspace+"/"+project], nil
}

func (p *Platform) ListExperiments(ctx context.Context, workspace, project string) ([]tracking.Experiment, error) {
	if err := p.call("ListExperiments"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []tracking.Experiment
	for _, key := range p.order {
		e := p.experiments[key].Experiment
		if e.Workspace == workspace && e.Project == project {
			out = append(out, e)
		}
	}
	return out, nil
}

func (p *Platform) GetExperiment(ctx context.Context, workspace, project, nameOrKey string) (*tracking.Experiment, error) {
	exps, err := p.ListExperiments(ctx, workspace, project)
	if err != nil {
		return nil, err
	}
	for _, e := range exps {
		if e.Key == nameOrKey || e.Name == nameOrKey {
			cp := e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("experiment %s: %w", nameOrKey, tracking.ErrNotFound)
}

func (p *Platform) GetExperimentByKey(ctx context.Context, key string) (*tracking.Experiment, error) {
	if err := p.call("GetExperimentByKey"); err != nil {
		return nil, err
	}
	data, err := p.experiment(key)
	if err != nil {
		return nil, err
	}
	e := data.Experiment
	return &e, nil
}

// get runs the named call and returns the experiment data for key.
func (p *Platform) get(name, key string) (*ExperimentData, error) {
	if err := p.call(name); err != nil {
		return nil, err
	}
	return p.experiment(key)
}

func (p *Platform) GetMetadata(ctx context.Context, key string) (map[string]any, error) {
	d, err := p.get("GetMetadata", key)
	if err != nil {
		return nil, err
	}
	return d.Metadata, nil
}

func (p *Platform) GetTags(ctx context.Context, key string) ([]string, error) {
	d, err := p.get("GetTags", key)
	if err != nil {
		return nil, err
	}
	return d.Tags, nil
}

func (p *Platform) GetMetrics(ctx context.Context, key string) ([]tracking.MetricPoint, error) {
	d, err := p.get("GetMetrics", key)
	if err != nil {
		return nil, err
	}
	return d.Metrics, nil
}

func (p *Platform) GetParametersSummary(ctx context.Context, key string) ([]tracking.ValueSummary, error) {
	d, err := p.get("GetParametersSummary", key)
	if err != nil {
		return nil, err
	}
	return d.Parameters, nil
}

func (p *Platform) GetOthersSummary(ctx context.Context, key string) ([]tracking.ValueSummary, error) {
	d, err := p.get("GetOthersSummary", key)
	if err != nil {
		return nil, err
	}
	return d.Others, nil
}

func (p *Platform) GetSystemDetails(ctx context.Context, key string) (map[string]any, error) {
	d, err := p.get("GetSystemDetails", key)
	if err != nil {
		return nil, err
	}
	return d.System, nil
}

func (p *Platform) GetGitMetadata(ctx context.Context, key string) (*tracking.GitMetadata, error) {
	d, err := p.get("GetGitMetadata", key)
	if err != nil {
		return nil, err
	}
	if d.Git == nil {
		return &tracking.GitMetadata{}, nil
	}
	return d.Git, nil
}

func (p *Platform) GetGitPatch(ctx context.Context, key string) ([]byte, error) {
	d, err := p.get("GetGitPatch", key)
	if err != nil {
		return nil, err
	}
	return d.GitPatch, nil
}

func (p *Platform) GetCode(ctx context.Context, key string) (string, error) {
	d, err := p.get("GetCode", key)
	if err != nil {
		return "", err
	}
	return d.Code, nil
}

func (p *Platform) GetOutput(ctx context.Context, key string) (string, error) {
	d, err := p.get("GetOutput", key)
	if err != nil {
		return "", err
	}
	return d.Output, nil
}

func (p *Platform) GetModelGraph(ctx context.Context, key string) (string, error) {
	d, err := p.get("GetModelGraph", key)
	if err != nil {
		return "", err
	}
	return d.Graph, nil
}

func (p *Platform) GetHTML(ctx context.Context, key string) (string, error) {
	d, err := p.get("GetHTML", key)
	if err != nil {
		return "", err
	}
	return d.HTML, nil
}

func (p *Platform) GetAssetList(ctx context.Context, key, assetType string) ([]tracking.Asset, error) {
	d, err := p.get("GetAssetList", key)
	if err != nil {
		return nil, err
	}
	var out []tracking.Asset
	for _, a := range d.Assets {
		if assetType == "" || assetType == "all" || a.Type == assetType {
			out = append(out, a)
		}
	}
	return out, nil
}

func (p *Platform) GetAsset(ctx context.Context, key, assetID string) (io.ReadCloser, error) {
	d, err := p.get("GetAsset", key)
	if err != nil {
		return nil, err
	}
	data, ok := d.AssetBytes[assetID]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", assetID, tracking.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (p *Platform) ListRegistry(ctx context.Context, kind tracking.RegistryKind, workspace string) ([]tracking.RegistryItem, error) {
	if err := p.call("ListRegistry"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := string(kind) + "/" + workspace + "/"
	var out []tracking.RegistryItem
	for k, r := range p.registries {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, r.Item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *Platform) registry(kind tracking.RegistryKind, ws, name string) (*RegistryData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.registries[registryKey(kind, ws, name)]
	if !ok {
		return nil, fmt.Errorf("%s %s/%s: %w", kind, ws, name, tracking.ErrNotFound)
	}
	return r, nil
}

func (p *Platform) GetRegistryDetails(ctx context.Context, kind tracking.RegistryKind, workspace, name string) (*tracking.RegistryDetails, error) {
	if err := p.call("GetRegistryDetails"); err != nil {
		return nil, err
	}
	r, err := p.registry(kind, workspace, name)
	if err != nil {
		return nil, err
	}
	d := r.Details
	return &d, nil
}

func (p *Platform) ListRegistryFiles(ctx context.Context, kind tracking.RegistryKind, workspace, name, version string) ([]tracking.RegistryFile, error) {
	if err := p.call("ListRegistryFiles"); err != nil {
		return nil, err
	}
	r, err := p.registry(kind, workspace, name)
	if err != nil {
		return nil, err
	}
	var out []tracking.RegistryFile
	for fileName, data := range r.Files[version] {
		out = append(out, tracking.RegistryFile{FileName: fileName, FileSize: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

func (p *Platform) GetRegistryFile(ctx context.Context, kind tracking.RegistryKind, workspace, name, version, fileName string) (io.ReadCloser, error) {
	if err := p.call("GetRegistryFile"); err != nil {
		return nil, err
	}
	r, err := p.registry(kind, workspace, name)
	if err != nil {
		return nil, err
	}
	data, ok := r.Files[version][fileName]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", fileName, tracking.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (p *Platform) CreateProject(ctx context.Context, workspace, name, description string, public bool) error {
	p.AddProject(tracking.Project{Name: name, Workspace: workspace, Description: description, Public: public}, "")
	return nil
}

func (p *Platform) CreateExperiment(ctx context.Context, workspace, project string) (tracking.ExperimentWriter, error) {
	r := &Recorder{
		Workspace:  workspace,
		Project:    project,
		key:        uuid.NewString(),
		Parameters: map[string]any{},
		Others:     map[string]any{},
	}
	p.mu.Lock()
	p.created = append(p.created, r)
	p.mu.Unlock()
	return r, nil
}

func (p *Platform) Symlink(ctx context.Context, experimentKey, workspace, project string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.symlinks = append(p.symlinks, experimentKey+"->"+workspace+"/"+project)
	return nil
}

func (p *Platform) UploadOfflineArchive(ctx context.Context, path string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads = append(p.uploads, path)
	return "https://tracking.test/offline/" + uuid.NewString(), nil
}

func (p *Platform) DeleteAsset(ctx context.Context, experimentKey, assetID string) error {
	d, err := p.experiment(experimentKey)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, a := range d.Assets {
		if a.AssetID == assetID {
			d.Assets = append(d.Assets[:i], d.Assets[i+1:]...)
			p.deleted = append(p.deleted, assetID)
			return nil
		}
	}
	return fmt.Errorf("asset %s: %w", assetID, tracking.ErrNotFound)
}

var (
	_ tracking.Source          = (*Platform)(nil)
	_ tracking.Destination     = (*Platform)(nil)
	_ tracking.ArchiveUploader = (*Platform)(nil)
	_ tracking.AssetDeleter    = (*Platform)(nil)
)
