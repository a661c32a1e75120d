package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/expmirror/pkg/tracking"
	"github.com/user/expmirror/pkg/tracking/trackingtest"
)

func platform() *trackingtest.Platform {
	p := trackingtest.New()
	p.AddExperiment(&trackingtest.ExperimentData{
		Experiment: tracking.Experiment{Key: "e1", Name: "baseline", Workspace: "ws", Project: "p"},
		Tags:       []string{"prod"},
		Parameters: []tracking.ValueSummary{{Name: "lr", ValueCurrent: "0.01"}},
	})
	p.AddExperiment(&trackingtest.ExperimentData{
		Experiment: tracking.Experiment{Key: "e2", Name: "sweep", Workspace: "ws", Project: "p"},
		Parameters: []tracking.ValueSummary{{Name: "lr", ValueCurrent: "0.1"}},
	})
	return p
}

func TestSelectByParamAndTag(t *testing.T) {
	ctx := context.Background()
	p := platform()
	exps, err := p.ListExperiments(ctx, "ws", "p")
	require.NoError(t, err)

	f, err := Compile(`params.lr == "0.01" && "prod" in tags`)
	require.NoError(t, err)
	got, err := Select(ctx, f, p, exps)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].Key)
}

func TestSelectByNameFetchesNothing(t *testing.T) {
	ctx := context.Background()
	p := platform()
	exps, _ := p.ListExperiments(ctx, "ws", "p")
	before := p.Calls()

	f, err := Compile(`experiment.name.startsWith("sw")`)
	require.NoError(t, err)
	got, err := Select(ctx, f, p, exps)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].Key)
	assert.Equal(t, before, p.Calls())
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile(`params.lr ==`)
	assert.Error(t, err)
	_, err = Compile(`unknown_var == 1`)
	assert.Error(t, err)
}

func TestNonBooleanResult(t *testing.T) {
	f, err := Compile(`experiment.key`)
	require.NoError(t, err)
	_, err = f.Match(context.Background(), platform(), tracking.Experiment{Key: "e1"})
	assert.ErrorContains(t, err, "boolean")
}

func TestNilFilterSelectsAll(t *testing.T) {
	exps := []tracking.Experiment{{Key: "a"}, {Key: "b"}}
	got, err := Select(context.Background(), nil, nil, exps)
	require.NoError(t, err)
	assert.Equal(t, exps, got)
}
