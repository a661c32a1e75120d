package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/user/expmirror/pkg/tracking"
)

func (c *Client) CreateProject(ctx context.Context, workspace, name, description string, public bool) error {
	body := map[string]any{
		"workspaceName":      workspace,
		"projectName":        name,
		"projectDescription": description,
		"isPublic":           public,
	}
	if err := c.postJSON(ctx, "/write/project/create", body, nil); err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (c *Client) CreateExperiment(ctx context.Context, workspace, project string) (tracking.ExperimentWriter, error) {
	var resp struct {
		Key  string `json:"experimentKey"`
		Link string `json:"link"`
	}
	body := map[string]string{"workspaceName": workspace, "projectName": project}
	if err := c.postJSON(ctx, "/write/experiment/create", body, &resp); err != nil {
		return nil, fmt.Errorf("create experiment: %w", err)
	}
	return &experimentWriter{client: c, key: resp.Key, link: resp.Link}, nil
}

func (c *Client) Symlink(ctx context.Context, experimentKey, workspace, project string) error {
	body := map[string]string{"experimentKey": experimentKey, "workspaceName": workspace, "projectName": project}
	if err := c.postJSON(ctx, "/write/project/symlink", body, nil); err != nil {
		return fmt.Errorf("symlink experiment: %w", err)
	}
	return nil
}

// UploadOfflineArchive uploads a packaged offline experiment and returns its URL.
func (c *Client) UploadOfflineArchive(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var resp struct {
		Link string `json:"link"`
	}
	if err := c.postFile(ctx, "/write/experiment/upload-offline", nil, filepath.Base(path), f, &resp); err != nil {
		return "", fmt.Errorf("upload offline archive: %w", err)
	}
	return resp.Link, nil
}

func (c *Client) DeleteAsset(ctx context.Context, experimentKey, assetID string) error {
	body := map[string]string{"experimentKey": experimentKey, "assetId": assetID}
	if err := c.postJSON(ctx, "/write/experiment/asset/delete", body, nil); err != nil {
		return fmt.Errorf("delete asset %s: %w", assetID, err)
	}
	return nil
}

// experimentWriter writes into a live destination experiment.
type experimentWriter struct {
	client *Client
	key    string
	link   string
}

func (w *experimentWriter) Key() string { return w.key }

func (w *experimentWriter) post(ctx context.Context, path string, fields map[string]any) error {
	fields["experimentKey"] = w.key
	return w.client.postJSON(ctx, "/write/experiment/"+path, fields, nil)
}

func (w *experimentWriter) LogMetric(ctx context.Context, m tracking.MetricPoint) error {
	fields := map[string]any{
		"metricName":  m.MetricName,
		"metricValue": m.MetricValue,
		"timestamp":   m.Timestamp,
	}
	if m.Step != nil {
		fields["step"] = *m.Step
	}
	if m.Epoch != nil {
		fields["epoch"] = *m.Epoch
	}
	if m.RunContext != "" {
		fields["context"] = m.RunContext
	}
	return w.post(ctx, "metric", fields)
}

func (w *experimentWriter) LogParameters(ctx context.Context, params map[string]any) error {
	return w.post(ctx, "parameters", map[string]any{"parameters": params})
}

func (w *experimentWriter) LogOther(ctx context.Context, name string, value any) error {
	return w.post(ctx, "log-other", map[string]any{"key": name, "value": value})
}

func (w *experimentWriter) AddTags(ctx context.Context, tags []string) error {
	return w.post(ctx, "tags", map[string]any{"addedTags": tags})
}

func (w *experimentWriter) SetFilename(ctx context.Context, name string) error {
	return w.post(ctx, "file-path", map[string]any{"fileName": name})
}

func (w *experimentWriter) LogSystemDetails(ctx context.Context, details map[string]any) error {
	return w.post(ctx, "system-details", map[string]any{"details": details})
}

func (w *experimentWriter) LogInstalledPackages(ctx context.Context, packages []string) error {
	return w.post(ctx, "installed-packages", map[string]any{"packages": packages})
}

func (w *experimentWriter) LogOutput(ctx context.Context, text string) error {
	return w.post(ctx, "output", map[string]any{"output": text})
}

func (w *experimentWriter) SetModelGraph(ctx context.Context, graph string) error {
	return w.post(ctx, "graph", map[string]any{"graph": graph})
}

func (w *experimentWriter) LogHTML(ctx context.Context, html string) error {
	return w.post(ctx, "html", map[string]any{"html": html, "override": true})
}

func (w *experimentWriter) SetGitMetadata(ctx context.Context, meta tracking.GitMetadata) error {
	return w.post(ctx, "git/metadata", map[string]any{
		"user":   meta.User,
		"root":   meta.Root,
		"branch": meta.Branch,
		"parent": meta.Parent,
		"origin": meta.Origin,
	})
}

func (w *experimentWriter) LogGitPatch(ctx context.Context, patch []byte) error {
	q := url.Values{"experimentKey": {w.key}}
	return w.client.postFile(ctx, "/write/experiment/git/patch", q, "git_diff.patch", bytes.NewReader(patch), nil)
}

func (w *experimentWriter) LogCode(ctx context.Context, code, fileName string) error {
	return w.post(ctx, "code", map[string]any{"code": code, "fileName": fileName})
}

func (w *experimentWriter) LogAsset(ctx context.Context, asset tracking.UploadAsset, body io.Reader) (string, error) {
	q := url.Values{
		"experimentKey": {w.key},
		"type":          {asset.Type},
		"fileName":      {asset.FileName},
	}
	if asset.Step != nil {
		q.Set("step", strconv.Itoa(*asset.Step))
	}
	if asset.Epoch != nil {
		q.Set("epoch", strconv.Itoa(*asset.Epoch))
	}
	if asset.Metadata != "" {
		q.Set("metadata", asset.Metadata)
	}
	var resp struct {
		AssetID string `json:"assetId"`
	}
	if err := w.client.postFile(ctx, "/write/experiment/upload-asset", q, asset.FileName, body, &resp); err != nil {
		return "", fmt.Errorf("upload asset %s: %w", asset.FileName, err)
	}
	return resp.AssetID, nil
}

func (w *experimentWriter) End(ctx context.Context) (string, error) {
	if err := w.post(ctx, "end", map[string]any{}); err != nil {
		return "", fmt.Errorf("end experiment: %w", err)
	}
	return w.link, nil
}

var (
	_ tracking.Destination     = (*Client)(nil)
	_ tracking.ArchiveUploader = (*Client)(nil)
	_ tracking.AssetDeleter    = (*Client)(nil)
)
