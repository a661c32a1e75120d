// Package offline builds an experiment as a local zip package that a
// destination platform can ingest in one upload.
package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"github.com/user/expmirror/pkg/tracking"
)

// Entry names inside a package.
const (
	ManifestFile = "experiment.json"
	MessagesFile = "messages.jsonl"
	AssetsDir    = "assets"
)

// Manifest identifies the packaged experiment.
type Manifest struct {
	Key       string `json:"experimentKey"`
	Workspace string `json:"workspaceName"`
	Project   string `json:"projectName"`
	Created   int64  `json:"createdAt"`
	Ended     int64  `json:"endedAt"`
}

// Message is one recorded writer call. Payload shape depends on Type.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Message types.
const (
	TypeMetric            = "metric"
	TypeParameters        = "parameters"
	TypeOther             = "other"
	TypeTags              = "tags"
	TypeFilename          = "filename"
	TypeSystemDetails     = "system_details"
	TypeInstalledPackages = "installed_packages"
	TypeOutput            = "output"
	TypeGraph             = "graph"
	TypeHTML              = "html"
	TypeGitMetadata       = "git_metadata"
	TypeGitPatch          = "git_patch"
	TypeCode              = "code"
	TypeAsset             = "asset"
)

// AssetRecord is the payload of an asset message. Path is the entry name
// of the asset body inside the package.
type AssetRecord struct {
	AssetID  string `json:"assetId"`
	Type     string `json:"type"`
	FileName string `json:"fileName"`
	Step     *int   `json:"step,omitempty"`
	Epoch    *int   `json:"epoch,omitempty"`
	Metadata string `json:"metadata,omitempty"`
	Path     string `json:"path"`
}

// Writer records an experiment into a staging directory and packages it on
// End. It is safe for concurrent use.
type Writer struct {
	mu       sync.Mutex
	dir      string
	staging  string
	manifest Manifest
	messages bytes.Buffer
	enc      *json.Encoder
	ended    bool
}

// New starts a package for a new experiment in workspace/project. The
// archive is written to dir on End.
func New(dir, workspace, project string) (*Writer, error) {
	id := uuid.New()
	key := fmt.Sprintf("%x", id[:])
	staging := filepath.Join(dir, key)
	if err := os.MkdirAll(filepath.Join(staging, AssetsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	w := &Writer{
		dir:     dir,
		staging: staging,
		manifest: Manifest{
			Key:       key,
			Workspace: workspace,
			Project:   project,
			Created:   time.Now().UnixMilli(),
		},
	}
	w.enc = json.NewEncoder(&w.messages)
	w.enc.SetEscapeHTML(false)
	return w, nil
}

func (w *Writer) Key() string { return w.manifest.Key }

func (w *Writer) record(typ string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		return fmt.Errorf("record %s: experiment already ended", typ)
	}
	return w.enc.Encode(Message{Type: typ, Payload: raw})
}

func (w *Writer) LogMetric(_ context.Context, m tracking.MetricPoint) error {
	return w.record(TypeMetric, m)
}

func (w *Writer) LogParameters(_ context.Context, params map[string]any) error {
	return w.record(TypeParameters, params)
}

func (w *Writer) LogOther(_ context.Context, name string, value any) error {
	return w.record(TypeOther, tracking.ValueSummary{Name: name, ValueCurrent: value})
}

func (w *Writer) AddTags(_ context.Context, tags []string) error {
	return w.record(TypeTags, tags)
}

func (w *Writer) SetFilename(_ context.Context, name string) error {
	return w.record(TypeFilename, name)
}

func (w *Writer) LogSystemDetails(_ context.Context, details map[string]any) error {
	return w.record(TypeSystemDetails, details)
}

func (w *Writer) LogInstalledPackages(_ context.Context, packages []string) error {
	return w.record(TypeInstalledPackages, packages)
}

func (w *Writer) LogOutput(_ context.Context, text string) error {
	return w.record(TypeOutput, text)
}

func (w *Writer) SetModelGraph(_ context.Context, graph string) error {
	return w.record(TypeGraph, graph)
}

func (w *Writer) LogHTML(_ context.Context, html string) error {
	return w.record(TypeHTML, html)
}

func (w *Writer) SetGitMetadata(_ context.Context, meta tracking.GitMetadata) error {
	return w.record(TypeGitMetadata, meta)
}

// LogGitPatch stores the patch as a zip with a single git_diff.patch
// member, the form sources hand patches out in.
func (w *Writer) LogGitPatch(_ context.Context, patch []byte) error {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("git_diff.patch")
	if err != nil {
		return fmt.Errorf("create patch member: %w", err)
	}
	if _, err := f.Write(patch); err != nil {
		return fmt.Errorf("write patch member: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close patch zip: %w", err)
	}
	return w.record(TypeGitPatch, buf.Bytes())
}

func (w *Writer) LogCode(_ context.Context, code, fileName string) error {
	return w.record(TypeCode, map[string]string{"code": code, "fileName": fileName})
}

// LogAsset copies body into the staging directory under a fresh asset ID.
func (w *Writer) LogAsset(_ context.Context, asset tracking.UploadAsset, body io.Reader) (string, error) {
	id := uuid.New()
	assetID := fmt.Sprintf("%x", id[:])
	entry := AssetsDir + "/" + assetID

	f, err := os.Create(filepath.Join(w.staging, filepath.FromSlash(entry)))
	if err != nil {
		return "", fmt.Errorf("create asset file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return "", fmt.Errorf("write asset %s: %w", asset.FileName, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close asset %s: %w", asset.FileName, err)
	}

	err = w.record(TypeAsset, AssetRecord{
		AssetID:  assetID,
		Type:     asset.Type,
		FileName: asset.FileName,
		Step:     asset.Step,
		Epoch:    asset.Epoch,
		Metadata: asset.Metadata,
		Path:     entry,
	})
	if err != nil {
		return "", err
	}
	return assetID, nil
}

// End writes the package to <dir>/<key>.zip, removes the staging directory
// and returns the archive path.
func (w *Writer) End(_ context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		return "", fmt.Errorf("experiment %s already ended", w.manifest.Key)
	}
	w.ended = true
	w.manifest.Ended = time.Now().UnixMilli()

	path := filepath.Join(w.dir, w.manifest.Key+".zip")
	if err := w.writeArchive(path); err != nil {
		os.Remove(path)
		return "", err
	}
	if err := os.RemoveAll(w.staging); err != nil {
		return path, fmt.Errorf("remove staging dir: %w", err)
	}
	return path, nil
}

func (w *Writer) writeArchive(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	manifest, err := json.Marshal(w.manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := addBytes(zw, ManifestFile, manifest); err != nil {
		return err
	}
	if err := addBytes(zw, MessagesFile, w.messages.Bytes()); err != nil {
		return err
	}

	entries, err := os.ReadDir(filepath.Join(w.staging, AssetsDir))
	if err != nil {
		return fmt.Errorf("read staged assets: %w", err)
	}
	for _, e := range entries {
		if err := addFile(zw, AssetsDir+"/"+e.Name(), filepath.Join(w.staging, AssetsDir, e.Name())); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return out.Close()
}

func addBytes(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func addFile(zw *zip.Writer, name, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer src.Close()
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

var _ tracking.ExperimentWriter = (*Writer)(nil)
