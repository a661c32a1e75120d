package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func metaNames() []string {
	var out []string
	for _, s := range specs {
		if s.Meta {
			out = append(out, s.Name)
		}
	}
	return out
}

func TestExpandDefault(t *testing.T) {
	got, err := Expand(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		System, Code, Requirements, Git, Output, Graph,
		Others, Parameters, Metadata, Metrics, Assets, HTML,
		ProjectMetadata, ProjectNotes,
	}, got)
}

func TestExpandMetaClosure(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		meta := rapid.SampledFrom(metaNames()).Draw(t, "meta")
		spec, _ := Lookup(meta)

		got, err := Expand([]string{meta}, nil)
		if err != nil {
			t.Fatalf("expand %s: %v", meta, err)
		}
		if len(got) != len(spec.ExpandsTo) {
			t.Fatalf("expand %s = %v, want %v", meta, got, spec.ExpandsTo)
		}
		for i, name := range got {
			if name == meta {
				t.Fatalf("expansion of %s contains itself", meta)
			}
			if name != spec.ExpandsTo[i] {
				t.Fatalf("expand %s = %v, want %v", meta, got, spec.ExpandsTo)
			}
		}
	})
}

func TestIgnoredChildIsDropped(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		meta := rapid.SampledFrom(metaNames()).Draw(t, "meta")
		spec, _ := Lookup(meta)
		child := rapid.SampledFrom(spec.ExpandsTo).Draw(t, "child")

		got, err := Expand([]string{meta}, []string{child})
		if err != nil {
			t.Fatalf("expand: %v", err)
		}
		for _, name := range got {
			if name == child {
				t.Fatalf("ignored %s still present in %v", child, got)
			}
		}
		if len(got) != len(spec.ExpandsTo)-1 {
			t.Fatalf("expected %d names, got %v", len(spec.ExpandsTo)-1, got)
		}
	})
}

func TestIgnoringMetaDropsAllChildren(t *testing.T) {
	got, err := Expand([]string{Run, Metrics}, []string{Run})
	require.NoError(t, err)
	assert.Equal(t, []string{Metrics}, got)
}

func TestUnknownNameFailsWithValidList(t *testing.T) {
	_, err := Expand([]string{Metrics, "bogus"}, nil)
	var ue *UnknownError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, []string{"bogus"}, ue.Unknown)
	assert.Contains(t, err.Error(), "project_metadata")
}

func TestUnknownIgnoreNamesAreAllowed(t *testing.T) {
	got, err := Expand([]string{Assets}, []string{"image", "experiments"})
	require.NoError(t, err)
	assert.Equal(t, []string{Assets}, got)
}

func TestMetaResourcesDoNotNest(t *testing.T) {
	for _, s := range specs {
		for _, child := range s.ExpandsTo {
			c, ok := Lookup(child)
			require.True(t, ok, "%s expands to unknown %s", s.Name, child)
			assert.False(t, c.Meta, "%s expands to meta %s", s.Name, child)
		}
		if !s.Meta {
			assert.Empty(t, s.ExpandsTo, s.Name)
		}
	}
}

func TestSplitByLevel(t *testing.T) {
	exp, proj := Split([]string{Metrics, ProjectNotes, Git})
	assert.Equal(t, []string{Metrics, Git}, exp)
	assert.Equal(t, []string{ProjectNotes}, proj)
}
