package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/user/expmirror/pkg/tracking"
)

// mapNotFound turns a 404 into tracking.ErrNotFound.
func mapNotFound(err error) error {
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("%s: %w", se.Path, tracking.ErrNotFound)
	}
	return err
}

func (c *Client) ListWorkspaces(ctx context.Context) ([]string, error) {
	var resp struct {
		Workspaces []string `json:"workspaceNames"`
	}
	if err := c.getJSON(ctx, "/workspaces", nil, &resp); err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return resp.Workspaces, nil
}

func (c *Client) ListProjects(ctx context.Context, workspace string) ([]tracking.Project, error) {
	var resp struct {
		Projects []tracking.Project `json:"projects"`
	}
	q := url.Values{"workspaceName": {workspace}}
	if err := c.getJSON(ctx, "/projects", q, &resp); err != nil {
		return nil, fmt.Errorf("list projects: %w", mapNotFound(err))
	}
	return resp.Projects, nil
}

func (c *Client) GetProject(ctx context.Context, workspace, project string) (*tracking.Project, error) {
	var p tracking.Project
	q := url.Values{"workspaceName": {workspace}, "projectName": {project}}
	if err := c.getJSON(ctx, "/project", q, &p); err != nil {
		return nil, fmt.Errorf("get project: %w", mapNotFound(err))
	}
	return &p, nil
}

func (c *Client) GetProjectNotes(ctx context.Context, workspace, project string) (string, error) {
	var resp struct {
		Notes string `json:"notes"`
	}
	q := url.Values{"workspaceName": {workspace}, "projectName": {project}}
	if err := c.getJSON(ctx, "/project/notes", q, &resp); err != nil {
		return "", fmt.Errorf("get project notes: %w", mapNotFound(err))
	}
	return resp.Notes, nil
}

func (c *Client) ListExperiments(ctx context.Context, workspace, project string) ([]tracking.Experiment, error) {
	var resp struct {
		Experiments []tracking.Experiment `json:"experiments"`
	}
	q := url.Values{"workspaceName": {workspace}, "projectName": {project}}
	if err := c.getJSON(ctx, "/experiments", q, &resp); err != nil {
		return nil, fmt.Errorf("list experiments: %w", mapNotFound(err))
	}
	for i := range resp.Experiments {
		resp.Experiments[i].Workspace = workspace
		resp.Experiments[i].Project = project
	}
	return resp.Experiments, nil
}

// GetExperiment finds an experiment in a project by key, then by name.
func (c *Client) GetExperiment(ctx context.Context, workspace, project, nameOrKey string) (*tracking.Experiment, error) {
	exps, err := c.ListExperiments(ctx, workspace, project)
	if err != nil {
		return nil, err
	}
	for i := range exps {
		if exps[i].Key == nameOrKey {
			return &exps[i], nil
		}
	}
	for i := range exps {
		if exps[i].Name == nameOrKey {
			return &exps[i], nil
		}
	}
	return nil, fmt.Errorf("experiment %s/%s/%s: %w", workspace, project, nameOrKey, tracking.ErrNotFound)
}

func (c *Client) GetExperimentByKey(ctx context.Context, key string) (*tracking.Experiment, error) {
	var e tracking.Experiment
	if err := c.getJSON(ctx, "/experiment", keyQuery(key), &e); err != nil {
		return nil, fmt.Errorf("get experiment: %w", mapNotFound(err))
	}
	if e.Key == "" {
		return nil, fmt.Errorf("experiment %s: %w", key, tracking.ErrNotFound)
	}
	return &e, nil
}

func (c *Client) GetMetadata(ctx context.Context, key string) (map[string]any, error) {
	var m map[string]any
	if err := c.getJSON(ctx, "/experiment/metadata", keyQuery(key), &m); err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	return m, nil
}

func (c *Client) GetTags(ctx context.Context, key string) ([]string, error) {
	var resp struct {
		Tags []string `json:"tags"`
	}
	if err := c.getJSON(ctx, "/experiment/tags", keyQuery(key), &resp); err != nil {
		return nil, fmt.Errorf("get tags: %w", err)
	}
	return resp.Tags, nil
}

func (c *Client) GetMetrics(ctx context.Context, key string) ([]tracking.MetricPoint, error) {
	var resp struct {
		Metrics []tracking.MetricPoint `json:"metrics"`
	}
	if err := c.getJSON(ctx, "/experiment/metrics", keyQuery(key), &resp); err != nil {
		return nil, fmt.Errorf("get metrics: %w", err)
	}
	return resp.Metrics, nil
}

func (c *Client) GetParametersSummary(ctx context.Context, key string) ([]tracking.ValueSummary, error) {
	var resp struct {
		Values []tracking.ValueSummary `json:"values"`
	}
	if err := c.getJSON(ctx, "/experiment/parameters", keyQuery(key), &resp); err != nil {
		return nil, fmt.Errorf("get parameters: %w", err)
	}
	return resp.Values, nil
}

func (c *Client) GetOthersSummary(ctx context.Context, key string) ([]tracking.ValueSummary, error) {
	var resp struct {
		Values []tracking.ValueSummary `json:"values"`
	}
	if err := c.getJSON(ctx, "/experiment/log-other", keyQuery(key), &resp); err != nil {
		return nil, fmt.Errorf("get others: %w", err)
	}
	return resp.Values, nil
}

func (c *Client) GetSystemDetails(ctx context.Context, key string) (map[string]any, error) {
	var m map[string]any
	if err := c.getJSON(ctx, "/experiment/system-details", keyQuery(key), &m); err != nil {
		return nil, fmt.Errorf("get system details: %w", err)
	}
	return m, nil
}

func (c *Client) GetGitMetadata(ctx context.Context, key string) (*tracking.GitMetadata, error) {
	var g tracking.GitMetadata
	if err := c.getJSON(ctx, "/experiment/git/metadata", keyQuery(key), &g); err != nil {
		return nil, fmt.Errorf("get git metadata: %w", err)
	}
	return &g, nil
}

func (c *Client) GetGitPatch(ctx context.Context, key string) ([]byte, error) {
	data, err := c.getBytes(ctx, "/experiment/git/patch", keyQuery(key))
	if err != nil {
		return nil, fmt.Errorf("get git patch: %w", err)
	}
	return data, nil
}

func (c *Client) getText(ctx context.Context, path, field, key string) (string, error) {
	var resp map[string]any
	if err := c.getJSON(ctx, path, keyQuery(key), &resp); err != nil {
		return "", err
	}
	s, _ := resp[field].(string)
	return s, nil
}

func (c *Client) GetCode(ctx context.Context, key string) (string, error) {
	s, err := c.getText(ctx, "/experiment/code", "code", key)
	if err != nil {
		return "", fmt.Errorf("get code: %w", err)
	}
	return s, nil
}

func (c *Client) GetOutput(ctx context.Context, key string) (string, error) {
	s, err := c.getText(ctx, "/experiment/output", "output", key)
	if err != nil {
		return "", fmt.Errorf("get output: %w", err)
	}
	return s, nil
}

func (c *Client) GetModelGraph(ctx context.Context, key string) (string, error) {
	s, err := c.getText(ctx, "/experiment/graph", "graph", key)
	if err != nil {
		return "", fmt.Errorf("get model graph: %w", err)
	}
	return s, nil
}

func (c *Client) GetHTML(ctx context.Context, key string) (string, error) {
	s, err := c.getText(ctx, "/experiment/html", "html", key)
	if err != nil {
		return "", fmt.Errorf("get html: %w", err)
	}
	return s, nil
}

func (c *Client) GetAssetList(ctx context.Context, key, assetType string) ([]tracking.Asset, error) {
	if assetType == "" {
		assetType = "all"
	}
	var resp struct {
		Assets []tracking.Asset `json:"assets"`
	}
	q := keyQuery(key)
	q.Set("type", assetType)
	if err := c.getJSON(ctx, "/experiment/asset/list", q, &resp); err != nil {
		return nil, fmt.Errorf("get asset list: %w", err)
	}
	return resp.Assets, nil
}

func (c *Client) GetAsset(ctx context.Context, key, assetID string) (io.ReadCloser, error) {
	q := keyQuery(key)
	q.Set("assetId", assetID)
	rc, err := c.stream(ctx, "/experiment/asset/get-asset", q)
	if err != nil {
		return nil, fmt.Errorf("get asset %s: %w", assetID, mapNotFound(err))
	}
	return rc, nil
}

func registryPath(kind tracking.RegistryKind, suffix string) string {
	return "/registry/" + string(kind) + suffix
}

func (c *Client) ListRegistry(ctx context.Context, kind tracking.RegistryKind, workspace string) ([]tracking.RegistryItem, error) {
	var resp struct {
		Items []tracking.RegistryItem `json:"items"`
	}
	q := url.Values{"workspaceName": {workspace}}
	if err := c.getJSON(ctx, registryPath(kind, ""), q, &resp); err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, mapNotFound(err))
	}
	return resp.Items, nil
}

func (c *Client) GetRegistryDetails(ctx context.Context, kind tracking.RegistryKind, workspace, name string) (*tracking.RegistryDetails, error) {
	var d tracking.RegistryDetails
	q := url.Values{"workspaceName": {workspace}, "name": {name}}
	if err := c.getJSON(ctx, registryPath(kind, "/details"), q, &d); err != nil {
		return nil, fmt.Errorf("get %s details: %w", kind, mapNotFound(err))
	}
	return &d, nil
}

func (c *Client) ListRegistryFiles(ctx context.Context, kind tracking.RegistryKind, workspace, name, version string) ([]tracking.RegistryFile, error) {
	var resp struct {
		Files []tracking.RegistryFile `json:"files"`
	}
	q := url.Values{"workspaceName": {workspace}, "name": {name}, "version": {version}}
	if err := c.getJSON(ctx, registryPath(kind, "/files"), q, &resp); err != nil {
		return nil, fmt.Errorf("list %s files: %w", kind, mapNotFound(err))
	}
	return resp.Files, nil
}

func (c *Client) GetRegistryFile(ctx context.Context, kind tracking.RegistryKind, workspace, name, version, fileName string) (io.ReadCloser, error) {
	q := url.Values{"workspaceName": {workspace}, "name": {name}, "version": {version}, "fileName": {fileName}}
	rc, err := c.stream(ctx, registryPath(kind, "/download"), q)
	if err != nil {
		return nil, fmt.Errorf("download %s file %s: %w", kind, fileName, mapNotFound(err))
	}
	return rc, nil
}

var _ tracking.Source = (*Client)(nil)
