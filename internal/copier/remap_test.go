package copier

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
)

func embeddings() tracking.CompositeKind {
	return tracking.KindOf(tracking.TypeEmbeddings).(tracking.CompositeKind)
}

func TestRemapURLAndFields(t *testing.T) {
	ids := transfer.IdMap{"a1": "n1", "a2": "n2"}
	r := NewRemapper(embeddings(), ids, "newexp")

	in := `{"embeddings":[{"tensorPath":"/api/asset/download?assetId=a1&experimentKey=old",` +
		`"sprite":{"imageId":"a2"},"count":12345678901234567890}]}`
	out, err := r.Payload([]byte(in))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	item := doc["embeddings"].([]any)[0].(map[string]any)
	assert.Equal(t, "/api/asset/download?assetId=n1&experimentKey=newexp", item["tensorPath"])
	assert.Equal(t, "n2", item["sprite"].(map[string]any)["imageId"])
	assert.Contains(t, string(out), "12345678901234567890", "large numbers are kept verbatim")
	assert.Empty(t, r.Unmapped)
}

func TestRemapLeavesUnknownReferences(t *testing.T) {
	r := NewRemapper(embeddings(), transfer.IdMap{}, "")
	out, err := r.Payload([]byte(`{"url":"x?assetId=gone&experimentKey=old"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"x?assetId=gone&experimentKey=old"}`, string(out))
	assert.Equal(t, []string{"gone"}, r.Unmapped)
}

func TestRemapMetadata(t *testing.T) {
	r := NewRemapper(embeddings(), transfer.IdMap{"a1": "n1"}, "")
	got, err := r.Metadata("")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.Metadata(`{"assetId":"a1"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"assetId":"n1"}`, got)

	_, err = r.Metadata("not json")
	assert.Error(t, err)
}

func TestRemapEveryRecordedID(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		ids := make(transfer.IdMap, n)
		var urls []any
		for i := range n {
			old := fmt.Sprintf("old%d", i)
			ids.Record(old, fmt.Sprintf("new%d", i))
			param := rapid.SampledFrom([]string{"assetId", "imageId"}).Draw(t, "param")
			urls = append(urls, fmt.Sprintf("/api/asset/download?%s=%s", param, old))
		}
		payload, err := json.Marshal(map[string]any{"urls": urls})
		if err != nil {
			t.Fatal(err)
		}

		r := NewRemapper(embeddings(), ids, "")
		out, err := r.Payload(payload)
		if err != nil {
			t.Fatal(err)
		}
		var doc struct {
			URLs []string `json:"urls"`
		}
		if err := json.Unmarshal(out, &doc); err != nil {
			t.Fatal(err)
		}
		for i, u := range doc.URLs {
			want := fmt.Sprintf("=new%d", i)
			if len(u) < len(want) || u[len(u)-len(want):] != want {
				t.Fatalf("url %d = %q, want suffix %q", i, u, want)
			}
		}
		if len(r.Unmapped) != 0 {
			t.Fatalf("unexpected unmapped ids %v", r.Unmapped)
		}
	})
}
