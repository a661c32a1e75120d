package prune

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/expmirror/internal/query"
	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
	"github.com/user/expmirror/pkg/tracking/trackingtest"
)

func experiment(key, project string, tags ...string) *trackingtest.ExperimentData {
	return &trackingtest.ExperimentData{
		Experiment: tracking.Experiment{Key: key, Name: key, Workspace: "ws", Project: project},
		Tags:       tags,
		Assets: []tracking.Asset{
			{AssetID: key + "-img", FileName: "a.png", Type: "image"},
			{AssetID: key + "-txt", FileName: "b.txt", Type: "text-sample"},
		},
	}
}

func platform() *trackingtest.Platform {
	p := trackingtest.New()
	p.AddExperiment(experiment("e1", "p1", "keep"))
	p.AddExperiment(experiment("e2", "p1"))
	p.AddExperiment(experiment("e3", "p2"))
	return p
}

func run(t *testing.T, p *trackingtest.Platform, pr *Pruner, raw string) (*transfer.Summary, error) {
	t.Helper()
	pr.Source, pr.Deleter = p, p
	mc := transfer.NewMigrationContext(context.Background(), 2, "Delete Summary", "Count")
	err := pr.Run(context.Background(), raw, mc)
	return mc.Finish(nil), err
}

func TestDeleteByTypeInProject(t *testing.T) {
	p := platform()
	var out bytes.Buffer
	sum, err := run(t, p, &Pruner{Type: "image", Out: &out}, "ws/p1")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"e1-img", "e2-img"}, p.Deleted())
	assert.Equal(t, 2, sum.Count(Resource))
	assert.Contains(t, out.String(), "Looking in ws/p1/e1...")
}

func TestDeleteAllInWorkspace(t *testing.T) {
	p := platform()
	sum, err := run(t, p, &Pruner{Type: AllTypes}, "ws")
	require.NoError(t, err)
	assert.Len(t, p.Deleted(), 6)
	assert.Equal(t, 6, sum.Count(Resource))
}

func TestDeleteSingleExperiment(t *testing.T) {
	p := platform()
	_, err := run(t, p, &Pruner{Type: "text-sample"}, "ws/p2/e3")
	require.NoError(t, err)
	assert.Equal(t, []string{"e3-txt"}, p.Deleted())
}

func TestDeleteWithQuery(t *testing.T) {
	p := platform()
	f, err := query.Compile(`"keep" in tags`)
	require.NoError(t, err)
	_, err = run(t, p, &Pruner{Type: AllTypes, Query: f}, "ws/p1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e1-img", "e1-txt"}, p.Deleted())
}

func TestDeleteConfigurationErrors(t *testing.T) {
	for name, tc := range map[string]struct {
		typ, raw string
	}{
		"missing type":     {"", "ws/p1"},
		"no workspace":     {"image", ""},
		"registry address": {"image", "ws/artifacts/data"},
	} {
		t.Run(name, func(t *testing.T) {
			p := platform()
			_, err := run(t, p, &Pruner{Type: tc.typ}, tc.raw)
			require.Error(t, err)
			assert.True(t, transfer.IsFatal(err), "expected fatal error, got %v", err)
			assert.Empty(t, p.Deleted())
		})
	}
}

func TestListFailureIsCounted(t *testing.T) {
	p := platform()
	p.Fail["GetAssetList"] = errors.New("boom")
	sum, err := run(t, p, &Pruner{Type: AllTypes}, "ws/p1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Failed())
	assert.Empty(t, p.Deleted())
}
