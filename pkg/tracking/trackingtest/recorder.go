package trackingtest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/user/expmirror/pkg/tracking"
)

// UploadedAsset is an asset received by a Recorder.
type UploadedAsset struct {
	tracking.UploadAsset
	ID   string
	Body []byte
}

// Recorder is an ExperimentWriter that keeps everything written to it.
type Recorder struct {
	mu sync.Mutex

	Workspace  string
	Project    string
	key        string
	Metrics    []tracking.MetricPoint
	Parameters map[string]any
	Others     map[string]any
	Tags       []string
	Filename   string
	System     map[string]any
	Packages   []string
	Output     string
	Graph      string
	HTML       string
	Git        *tracking.GitMetadata
	Patch      []byte
	Code       string
	Assets     []UploadedAsset
	Ended      bool
}

func (r *Recorder) Key() string { return r.key }

func (r *Recorder) LogMetric(ctx context.Context, m tracking.MetricPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Metrics = append(r.Metrics, m)
	return nil
}

func (r *Recorder) LogParameters(ctx context.Context, params map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range params {
		r.Parameters[k] = v
	}
	return nil
}

func (r *Recorder) LogOther(ctx context.Context, name string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Others[name] = value
	return nil
}

func (r *Recorder) AddTags(ctx context.Context, tags []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Tags = append(r.Tags, tags...)
	return nil
}

func (r *Recorder) SetFilename(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Filename = name
	return nil
}

func (r *Recorder) LogSystemDetails(ctx context.Context, details map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.System = details
	return nil
}

func (r *Recorder) LogInstalledPackages(ctx context.Context, packages []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Packages = packages
	return nil
}

func (r *Recorder) LogOutput(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Output += text
	return nil
}

func (r *Recorder) SetModelGraph(ctx context.Context, graph string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Graph = graph
	return nil
}

func (r *Recorder) LogHTML(ctx context.Context, html string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.HTML = html
	return nil
}

func (r *Recorder) SetGitMetadata(ctx context.Context, meta tracking.GitMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Git = &meta
	return nil
}

func (r *Recorder) LogGitPatch(ctx context.Context, patch []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Patch = patch
	return nil
}

func (r *Recorder) LogCode(ctx context.Context, code, fileName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Code = code
	return nil
}

func (r *Recorder) LogAsset(ctx context.Context, asset tracking.UploadAsset, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := fmt.Sprintf("%s-%d", r.key, len(r.Assets)+1)
	r.Assets = append(r.Assets, UploadedAsset{UploadAsset: asset, ID: id, Body: data})
	return id, nil
}

func (r *Recorder) End(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Ended = true
	return "https://tracking.test/" + r.Workspace + "/" + r.Project + "/" + r.key, nil
}

// AssetByName returns the uploaded asset with the given file name.
func (r *Recorder) AssetByName(name string) (UploadedAsset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.Assets {
		if a.FileName == name {
			return a, true
		}
	}
	return UploadedAsset{}, false
}
