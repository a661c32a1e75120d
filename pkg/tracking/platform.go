package tracking

import (
	"context"
	"io"
)

// Source is a read-only view of a tracking platform.
type Source interface {
	ListWorkspaces(ctx context.Context) ([]string, error)
	ListProjects(ctx context.Context, workspace string) ([]Project, error)
	GetProject(ctx context.Context, workspace, project string) (*Project, error)
	GetProjectNotes(ctx context.Context, workspace, project string) (string, error)
	ListExperiments(ctx context.Context, workspace, project string) ([]Experiment, error)
	GetExperiment(ctx context.Context, workspace, project, nameOrKey string) (*Experiment, error)
	GetExperimentByKey(ctx context.Context, key string) (*Experiment, error)

	GetMetadata(ctx context.Context, key string) (map[string]any, error)
	GetTags(ctx context.Context, key string) ([]string, error)
	GetMetrics(ctx context.Context, key string) ([]MetricPoint, error)
	GetParametersSummary(ctx context.Context, key string) ([]ValueSummary, error)
	GetOthersSummary(ctx context.Context, key string) ([]ValueSummary, error)
	GetSystemDetails(ctx context.Context, key string) (map[string]any, error)
	GetGitMetadata(ctx context.Context, key string) (*GitMetadata, error)
	GetGitPatch(ctx context.Context, key string) ([]byte, error)
	GetCode(ctx context.Context, key string) (string, error)
	GetOutput(ctx context.Context, key string) (string, error)
	GetModelGraph(ctx context.Context, key string) (string, error)
	GetHTML(ctx context.Context, key string) (string, error)
	// GetAssetList lists assets of the given type, or all assets when
	// assetType is "all" or empty.
	GetAssetList(ctx context.Context, key, assetType string) ([]Asset, error)
	GetAsset(ctx context.Context, key, assetID string) (io.ReadCloser, error)

	ListRegistry(ctx context.Context, kind RegistryKind, workspace string) ([]RegistryItem, error)
	GetRegistryDetails(ctx context.Context, kind RegistryKind, workspace, name string) (*RegistryDetails, error)
	ListRegistryFiles(ctx context.Context, kind RegistryKind, workspace, name, version string) ([]RegistryFile, error)
	GetRegistryFile(ctx context.Context, kind RegistryKind, workspace, name, version, fileName string) (io.ReadCloser, error)
}

// Destination is a writable tracking platform.
type Destination interface {
	ListWorkspaces(ctx context.Context) ([]string, error)
	ListProjects(ctx context.Context, workspace string) ([]Project, error)
	CreateProject(ctx context.Context, workspace, name, description string, public bool) error
	CreateExperiment(ctx context.Context, workspace, project string) (ExperimentWriter, error)
	// Symlink makes an existing experiment visible in another project.
	Symlink(ctx context.Context, experimentKey, workspace, project string) error
}

// ExperimentWriter records resources into one destination experiment.
type ExperimentWriter interface {
	Key() string
	LogMetric(ctx context.Context, m MetricPoint) error
	LogParameters(ctx context.Context, params map[string]any) error
	LogOther(ctx context.Context, name string, value any) error
	AddTags(ctx context.Context, tags []string) error
	SetFilename(ctx context.Context, name string) error
	LogSystemDetails(ctx context.Context, details map[string]any) error
	LogInstalledPackages(ctx context.Context, packages []string) error
	LogOutput(ctx context.Context, text string) error
	SetModelGraph(ctx context.Context, graph string) error
	LogHTML(ctx context.Context, html string) error
	SetGitMetadata(ctx context.Context, meta GitMetadata) error
	LogGitPatch(ctx context.Context, patch []byte) error
	LogCode(ctx context.Context, code, fileName string) error
	// LogAsset uploads the asset body and returns the identity it was given.
	LogAsset(ctx context.Context, asset UploadAsset, body io.Reader) (string, error)
	// End finalizes the experiment. Live writers return the experiment URL,
	// offline writers the path of the packaged archive.
	End(ctx context.Context) (string, error)
}

// ArchiveUploader turns a packaged offline experiment into a live one.
type ArchiveUploader interface {
	UploadOfflineArchive(ctx context.Context, path string) (string, error)
}

// AssetDeleter removes single assets from an experiment.
type AssetDeleter interface {
	DeleteAsset(ctx context.Context, experimentKey, assetID string) error
}
