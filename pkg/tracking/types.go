// Package tracking defines the data model and the platform contracts that the
// migration engine reads from and writes to.
package tracking

import "errors"

// ErrNotFound is returned by platform lookups that find nothing.
var ErrNotFound = errors.New("not found")

// Experiment identifies a single run on a tracking platform.
type Experiment struct {
	Key       string `json:"experimentKey"`
	Name      string `json:"experimentName,omitempty"`
	Workspace string `json:"workspaceName"`
	Project   string `json:"projectName"`
}

// DisplayName returns the experiment name, or its key when it has none.
func (e Experiment) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Key
}

// Project describes a project within a workspace.
type Project struct {
	ID                  string `json:"projectId,omitempty"`
	Name                string `json:"projectName"`
	Workspace           string `json:"workspaceName"`
	Description         string `json:"projectDescription,omitempty"`
	Public              bool   `json:"public"`
	NumberOfExperiments int    `json:"numberOfExperiments"`
	LastUpdated         int64  `json:"lastUpdated,omitempty"`
}

// MetricPoint is one sample of a logged metric, as streamed by the source.
type MetricPoint struct {
	MetricName  string `json:"metricName"`
	MetricValue any    `json:"metricValue"`
	Step        *int   `json:"step"`
	Epoch       *int   `json:"epoch"`
	Timestamp   int64  `json:"timestamp"`
	RunContext  string `json:"runContext,omitempty"`
}

// ValueSummary is the current value of a parameter or an "other" entry.
type ValueSummary struct {
	Name         string `json:"name"`
	ValueCurrent any    `json:"valueCurrent"`
}

// GitMetadata is the repository state recorded alongside an experiment.
type GitMetadata struct {
	User   string `json:"user,omitempty"`
	Root   string `json:"root,omitempty"`
	Branch string `json:"branch,omitempty"`
	Parent string `json:"parent,omitempty"`
	Origin string `json:"origin,omitempty"`
}

// IsZero reports whether no git information was recorded.
func (g GitMetadata) IsZero() bool {
	return g == GitMetadata{}
}

// Asset is one entry of an experiment's asset list. Dir is filled in by the
// download engine with the store-relative directory holding the file.
type Asset struct {
	AssetID  string `json:"assetId"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	Type     string `json:"type"`
	Step     *int   `json:"step"`
	Epoch    *int   `json:"epoch"`
	Metadata string `json:"metadata,omitempty"`
	Dir      string `json:"dir,omitempty"`
}

// UploadAsset carries the attributes of an asset written to a destination.
type UploadAsset struct {
	Type     string
	FileName string
	Step     *int
	Epoch    *int
	Metadata string
}

// RegistryKind selects between the artifact store and the model registry.
type RegistryKind string

const (
	Artifacts RegistryKind = "artifacts"
	Models    RegistryKind = "model-registry"
)

// RegistryItem is an artifact or registered model listed in a workspace.
type RegistryItem struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// RegistryVersion is one published version. Aliases apply to artifacts and
// Stages to registry models; both act as selectors.
type RegistryVersion struct {
	Version string   `json:"version"`
	Aliases []string `json:"alias,omitempty"`
	Stages  []string `json:"stages,omitempty"`
}

// RegistryDetails lists every version of a registry item.
type RegistryDetails struct {
	Name          string            `json:"name"`
	LatestVersion string            `json:"latestVersion,omitempty"`
	Versions      []RegistryVersion `json:"versions"`
}

// RegistryFile is one file belonging to a registry version.
type RegistryFile struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}
