package copier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/expmirror/internal/address"
	"github.com/user/expmirror/internal/offline"
	"github.com/user/expmirror/internal/store"
	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
	"github.com/user/expmirror/pkg/tracking/trackingtest"
)

func newCopier(t *testing.T, dst *trackingtest.Platform, opts Options) (*Engine, *transfer.MigrationContext) {
	t.Helper()
	mc := transfer.NewMigrationContext(context.Background(), 1, "Copy Summary", "Count")
	e, err := New(dst, dst, opts, mc, nil)
	require.NoError(t, err)
	return e, mc
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	_, err := store.WriteText(path, content)
	require.NoError(t, err)
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	_, err := store.WriteJSON(path, v)
	require.NoError(t, err)
}

func writeAssets(t *testing.T, dir string, assets []tracking.Asset, bodies map[string]string) {
	t.Helper()
	for i := range assets {
		assets[i].Dir = "assets/" + assets[i].Type
		writeFile(t, filepath.Join(dir, "assets", assets[i].Type, assets[i].FileName), bodies[assets[i].FileName])
	}
	_, err := store.WriteJSONL(filepath.Join(dir, store.AssetsDir, store.AssetsMetadataFile), assets)
	require.NoError(t, err)
}

// canonicalExperiment writes a complete experiment folder at
// root/ws/proj/exp001 and returns its path.
func canonicalExperiment(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, "ws", "proj", "exp001")
	writeJSON(t, filepath.Join(dir, store.MetadataFile), map[string]any{
		"fileName": "train.py",
		"tags":     []string{"baseline", "gpu"},
	})
	writeJSON(t, filepath.Join(dir, store.ParametersFile), []tracking.ValueSummary{
		{Name: "optimizer.lr", ValueCurrent: 0.01},
		{Name: "optimizer.name", ValueCurrent: "adam"},
		{Name: "epochs", ValueCurrent: 3},
	})
	_, err := store.WriteJSONL(filepath.Join(dir, store.OthersFile), []tracking.ValueSummary{
		{Name: "Name", ValueCurrent: "first"},
	})
	require.NoError(t, err)
	step := 1
	_, err = store.WriteJSONL(filepath.Join(dir, store.MetricsFile), []tracking.MetricPoint{
		{MetricName: "loss", MetricValue: 0.5, Step: &step},
		{MetricName: "sys.cpu.percent", MetricValue: 12.0, Step: &step},
	})
	require.NoError(t, err)
	writeJSON(t, filepath.Join(dir, store.SystemDetailsFile), map[string]any{"hostname": "box"})
	writeFile(t, filepath.Join(dir, store.RunDir, store.RequirementsFile), " numpy==2.0 \n\ntorch==2.3\n")
	writeJSON(t, filepath.Join(dir, store.RunDir, store.GitMetadataFile), tracking.GitMetadata{Branch: "main", Origin: "git@host:team/repo.git"})
	writeFile(t, filepath.Join(dir, store.RunDir, store.GitPatchFile), "diff --git a b\n")
	writeFile(t, filepath.Join(dir, store.RunDir, store.ScriptFile), "print('hi')\n")
	writeFile(t, filepath.Join(dir, store.RunDir, store.OutputFile), "epoch 1\n")
	writeFile(t, filepath.Join(dir, store.RunDir, store.GraphFile), "Linear(3, 1)")
	writeFile(t, filepath.Join(dir, store.HTMLFile), "<h1>Notes</h1>")
	return dir
}

func onlyRecorder(t *testing.T, dst *trackingtest.Platform) *trackingtest.Recorder {
	t.Helper()
	created := dst.Created()
	require.Len(t, created, 1)
	return created[0]
}

func TestCopyPopulatesExperiment(t *testing.T) {
	root := t.TempDir()
	canonicalExperiment(t, root)
	dst := trackingtest.New()
	dst.AddWorkspace("team")

	var out bytes.Buffer
	mc := transfer.NewMigrationContext(context.Background(), 1, "Copy Summary", "Count")
	e, err := New(dst, dst, Options{Root: root}, mc, &out)
	require.NoError(t, err)
	require.NoError(t, e.Copy(context.Background(), "ws/proj", "team"))

	rec := onlyRecorder(t, dst)
	assert.Contains(t, out.String(), `Copying from `+filepath.Join(root, "ws", "proj", "exp001")+` ("first")`)
	assert.Contains(t, out.String(), `("first") to https://tracking.test/team/proj/`+rec.Key())
	assert.Equal(t, "proj", rec.Project)
	assert.True(t, rec.Ended)
	assert.Equal(t, []string{"baseline", "gpu"}, rec.Tags)
	assert.Equal(t, "train.py", rec.Filename)
	assert.Equal(t, map[string]any{"lr": json.Number("0.01"), "name": "adam"}, rec.Parameters["optimizer"])
	assert.Equal(t, json.Number("3"), rec.Parameters["epochs"])
	assert.Equal(t, "first", rec.Others["Name"])
	assert.Len(t, rec.Metrics, 2)
	assert.Equal(t, []string{"numpy==2.0", "torch==2.3"}, rec.Packages)
	require.NotNil(t, rec.Git)
	assert.Equal(t, "main", rec.Git.Branch)
	assert.Equal(t, []byte("diff --git a b\n"), rec.Patch)
	assert.Equal(t, "print('hi')\n", rec.Code)
	assert.Equal(t, "epoch 1\n", rec.Output)
	assert.Equal(t, "Linear(3, 1)", rec.Graph)
	assert.Equal(t, "<h1>Notes</h1>", rec.HTML)

	summary := mc.Finish(nil)
	assert.Equal(t, 1, summary.Count("experiments"))
	assert.Equal(t, 3, summary.Count("parameters"))
	assert.Equal(t, 2, summary.Count("git"))
	assert.Zero(t, summary.Failed())
}

func TestCompositeAssetsReferenceNewIDs(t *testing.T) {
	root := t.TempDir()
	dir := canonicalExperiment(t, root)
	writeAssets(t, dir, []tracking.Asset{
		{AssetID: "a1", FileName: "a1.png", Type: "image"},
		{AssetID: "a2", FileName: "a2.png", Type: "image"},
		{AssetID: "a3", FileName: "a3.png", Type: "image"},
		{AssetID: "e1", FileName: "template.json", Type: tracking.TypeEmbeddings, Metadata: `{"imageId":"a3"}`},
	}, map[string]string{
		"a1.png":        "one",
		"a2.png":        "two",
		"a3.png":        "three",
		"template.json": `{"sprite":"/api/asset/download?assetId=a2&experimentKey=old"}`,
	})
	dst := trackingtest.New()
	dst.AddWorkspace("team")

	e, mc := newCopier(t, dst, Options{Root: root})
	require.NoError(t, e.Copy(context.Background(), "ws/proj/exp001", "team/proj"))

	rec := onlyRecorder(t, dst)
	require.Len(t, rec.Assets, 4)
	a2, ok := rec.AssetByName("a2.png")
	require.True(t, ok)
	a3, ok := rec.AssetByName("a3.png")
	require.True(t, ok)
	emb, ok := rec.AssetByName("template.json")
	require.True(t, ok)
	assert.Equal(t, rec.Assets[3].ID, emb.ID, "composite assets upload after simple ones")

	var payload map[string]string
	require.NoError(t, json.Unmarshal(emb.Body, &payload))
	assert.Equal(t, "/api/asset/download?assetId="+a2.ID+"&experimentKey="+rec.Key(), payload["sprite"])
	assert.JSONEq(t, `{"imageId":"`+a3.ID+`"}`, emb.Metadata)

	assert.Equal(t, 4, mc.Finish(nil).Count("assets"))
}

func TestPooledAssetCopyRemapsEveryID(t *testing.T) {
	root := t.TempDir()
	dir := canonicalExperiment(t, root)
	assets := []tracking.Asset{
		{AssetID: "m1", FileName: "matrix.json", Type: tracking.TypeConfusionMatrix},
	}
	bodies := map[string]string{}
	var cells []string
	for i := range 8 {
		id := fmt.Sprintf("s%d", i)
		name := id + ".png"
		assets = append(assets, tracking.Asset{AssetID: id, FileName: name, Type: "image"})
		bodies[name] = id
		key := "assetId"
		if i%2 == 1 {
			key = "imageId"
		}
		cells = append(cells, fmt.Sprintf(`{%q:%q}`, key, id))
	}
	bodies["matrix.json"] = `{"sampleMatrix":[[` + strings.Join(cells, ",") + `]],"total":12345678901234567890}`
	writeAssets(t, dir, assets, bodies)

	dst := trackingtest.New()
	dst.AddWorkspace("team")
	w, err := dst.CreateExperiment(context.Background(), "team", "proj")
	require.NoError(t, err)
	mc := transfer.NewMigrationContext(context.Background(), 4, "Copy Summary", "Count")
	e, err := New(dst, dst, Options{Root: root}, mc, nil)
	require.NoError(t, err)

	ids := make(transfer.IdMap)
	out, err := copyAssets(context.Background(), e, dir, w, ids)
	require.NoError(t, err)
	assert.Equal(t, 9, out.Count)
	require.Len(t, ids, 9, "composite assets record their own new ID too")

	rec := onlyRecorder(t, dst)
	matrix, ok := rec.AssetByName("matrix.json")
	require.True(t, ok)
	assert.Equal(t, matrix.ID, ids["m1"])
	body := string(matrix.Body)
	for i := range 8 {
		old := fmt.Sprintf("s%d", i)
		uploaded, ok := rec.AssetByName(old + ".png")
		require.True(t, ok)
		assert.Equal(t, uploaded.ID, ids[old])
		assert.Contains(t, body, `"`+uploaded.ID+`"`)
		assert.NotContains(t, body, `"`+old+`"`)
	}
	assert.Contains(t, body, "12345678901234567890")
}

func TestMissingAssetFileIsSkipped(t *testing.T) {
	root := t.TempDir()
	dir := canonicalExperiment(t, root)
	writeAssets(t, dir, []tracking.Asset{
		{AssetID: "a1", FileName: "kept.png", Type: "image"},
		{AssetID: "a2", FileName: "gone.png", Type: "image"},
	}, map[string]string{"kept.png": "x", "gone.png": "y"})
	require.NoError(t, os.Remove(filepath.Join(dir, "assets", "image", "gone.png")))
	dst := trackingtest.New()
	dst.AddWorkspace("team")

	e, mc := newCopier(t, dst, Options{Root: root})
	require.NoError(t, e.Copy(context.Background(), "ws", "team"))

	rec := onlyRecorder(t, dst)
	require.Len(t, rec.Assets, 1)
	assert.Equal(t, "kept.png", rec.Assets[0].FileName)
	summary := mc.Finish(nil)
	assert.Zero(t, summary.Failed())
	assert.Equal(t, 1, summary.Count("experiments"))
}

func TestIgnoreNames(t *testing.T) {
	t.Run("system metrics and asset types", func(t *testing.T) {
		root := t.TempDir()
		dir := canonicalExperiment(t, root)
		writeAssets(t, dir, []tracking.Asset{
			{AssetID: "a1", FileName: "cat.png", Type: "image"},
			{AssetID: "a2", FileName: "notes.txt", Type: "text-sample"},
		}, map[string]string{"cat.png": "x", "notes.txt": "y"})
		dst := trackingtest.New()
		dst.AddWorkspace("team")

		e, _ := newCopier(t, dst, Options{Root: root, Ignore: []string{IgnoreSystemMetrics, "image", "html"}})
		require.NoError(t, e.Copy(context.Background(), "ws/proj", "team"))

		rec := onlyRecorder(t, dst)
		require.Len(t, rec.Metrics, 1)
		assert.Equal(t, "loss", rec.Metrics[0].MetricName)
		require.Len(t, rec.Assets, 1)
		assert.Equal(t, "notes.txt", rec.Assets[0].FileName)
		assert.Empty(t, rec.HTML)
	})

	t.Run("experiments", func(t *testing.T) {
		root := t.TempDir()
		canonicalExperiment(t, root)
		dst := trackingtest.New()
		dst.AddWorkspace("team")

		e, _ := newCopier(t, dst, Options{Root: root, Ignore: []string{IgnoreExperiments}})
		require.NoError(t, e.Copy(context.Background(), "ws", "team"))

		assert.Empty(t, dst.Created())
		projects, err := dst.ListProjects(context.Background(), "team")
		require.NoError(t, err)
		require.Len(t, projects, 1)
		assert.Equal(t, "proj", projects[0].Name)
	})
}

func TestCreatesProjectFromMetadata(t *testing.T) {
	root := t.TempDir()
	canonicalExperiment(t, root)
	writeJSON(t, filepath.Join(root, "ws", "proj", store.ProjectMetadataFile), tracking.Project{
		Name: "proj", Workspace: "ws", Description: "first runs", Public: true,
	})
	dst := trackingtest.New()
	dst.AddWorkspace("team")

	e, _ := newCopier(t, dst, Options{Root: root})
	require.NoError(t, e.Copy(context.Background(), "ws/proj", "team"))

	projects, err := dst.ListProjects(context.Background(), "team")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "first runs", projects[0].Description)
	assert.True(t, projects[0].Public)
}

func TestCopyRejectsBadDestinations(t *testing.T) {
	root := t.TempDir()
	canonicalExperiment(t, root)
	dst := trackingtest.New()
	e, _ := newCopier(t, dst, Options{Root: root})

	err := e.Copy(context.Background(), "ws/proj", "team")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "team does not exist")
	assert.True(t, transfer.IsFatal(err))

	err = e.Copy(context.Background(), "ws/proj", "a/b/c")
	assert.True(t, transfer.IsFatal(err))

	dst.AddWorkspace("team")
	err = e.Copy(context.Background(), "ws/nope", "team")
	assert.Error(t, err)
}

func TestSkipsTildeAndRegistryFolders(t *testing.T) {
	root := t.TempDir()
	canonicalExperiment(t, root)
	writeFile(t, filepath.Join(root, "ws", "proj", "exp001~", store.HTMLFile), "old")
	writeFile(t, filepath.Join(root, "ws", "artifacts", "data", "file.csv"), "a,b")
	writeFile(t, filepath.Join(root, "ws", "proj", store.ProjectNotesFile), "notes")

	a, err := address.Parse("ws")
	require.NoError(t, err)
	folders, err := experimentFolders(root, a)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "exp001", folders[0].name)
}

func TestOfflineCopyUploadsPackage(t *testing.T) {
	root := t.TempDir()
	dir := canonicalExperiment(t, root)
	writeAssets(t, dir, []tracking.Asset{{AssetID: "a1", FileName: "cat.png", Type: "image"}},
		map[string]string{"cat.png": "png"})
	dst := trackingtest.New()
	dst.AddWorkspace("team")

	var out bytes.Buffer
	mc := transfer.NewMigrationContext(context.Background(), 1, "Copy Summary", "Count")
	e, err := New(dst, dst, Options{Root: root, Offline: true, OfflineDir: t.TempDir()}, mc, &out)
	require.NoError(t, err)
	require.NoError(t, e.Copy(context.Background(), "ws/proj", "team"))

	assert.Empty(t, dst.Created(), "offline copies never open a live experiment")
	uploads := dst.Uploads()
	require.Len(t, uploads, 1)
	assert.NoFileExists(t, uploads[0], "package is removed once uploaded")
	assert.Contains(t, out.String(), "https://tracking.test/offline/")
	assert.Equal(t, 1, mc.Finish(nil).Count("experiments"))
}

func TestOfflineWriterReceivesRemappedAssets(t *testing.T) {
	root := t.TempDir()
	dir := canonicalExperiment(t, root)
	writeAssets(t, dir, []tracking.Asset{
		{AssetID: "a1", FileName: "cat.png", Type: "image"},
		{AssetID: "m1", FileName: "matrix.json", Type: tracking.TypeConfusionMatrix},
	}, map[string]string{"cat.png": "png", "matrix.json": `{"sampleMatrix":[[{"assetId":"a1"}]]}`})

	w, err := offline.New(t.TempDir(), "team", "proj")
	require.NoError(t, err)
	e, _ := newCopier(t, trackingtest.New(), Options{Root: root})
	out, err := populateAssets(context.Background(), e, dir, w)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)

	path, err := w.End(context.Background())
	require.NoError(t, err)
	pkg, err := offline.Read(path)
	require.NoError(t, err)

	var records []offline.AssetRecord
	for _, m := range pkg.Of(offline.TypeAsset) {
		var rec offline.AssetRecord
		require.NoError(t, json.Unmarshal(m.Payload, &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)
	assert.JSONEq(t, `{"sampleMatrix":[[{"assetId":"`+records[0].AssetID+`"}]]}`, string(pkg.Assets[records[1].Path]))
}

func TestCopyFromPlatform(t *testing.T) {
	src := trackingtest.New()
	step := 2
	src.AddExperiment(&trackingtest.ExperimentData{
		Experiment: tracking.Experiment{Key: "exp001", Name: "first", Workspace: "ws", Project: "proj"},
		Metadata:   map[string]any{"fileName": "train.py"},
		Metrics:    []tracking.MetricPoint{{MetricName: "acc", MetricValue: 0.9, Step: &step}},
		Parameters: []tracking.ValueSummary{{Name: "seed", ValueCurrent: 7}},
		Assets:     []tracking.Asset{{AssetID: "a1", FileName: "cat.png", Type: "image"}},
		AssetBytes: map[string][]byte{"a1": []byte("png")},
	})
	dst := trackingtest.New()
	dst.AddWorkspace("team")

	e, mc := newCopier(t, dst, Options{})
	require.NoError(t, e.CopyFromPlatform(context.Background(), src, "exp001", "team/mirror"))

	rec := onlyRecorder(t, dst)
	assert.Equal(t, "mirror", rec.Project)
	assert.Equal(t, "train.py", rec.Filename)
	assert.Len(t, rec.Metrics, 1)
	assert.Contains(t, rec.Parameters, "seed")
	body, ok := rec.AssetByName("cat.png")
	require.True(t, ok)
	assert.Equal(t, []byte("png"), body.Body)
	assert.Equal(t, 1, mc.Finish(nil).Count("experiments"))
}

func TestSymlink(t *testing.T) {
	src := trackingtest.New()
	for _, key := range []string{"exp001", "exp002"} {
		src.AddExperiment(&trackingtest.ExperimentData{
			Experiment: tracking.Experiment{Key: key, Workspace: "ws", Project: "proj"},
		})
	}
	dst := trackingtest.New()
	dst.AddWorkspace("team")

	e, mc := newCopier(t, dst, Options{Symlink: true})
	require.NoError(t, e.CopyFromPlatform(context.Background(), src, "ws/proj", "team/shared"))

	assert.Equal(t, []string{"exp001->team/shared", "exp002->team/shared"}, dst.Symlinks())
	assert.Empty(t, dst.Created())
	assert.Equal(t, 2, mc.Finish(nil).Count("symlinks"))

	err := e.Copy(context.Background(), "ws/proj", "team")
	assert.True(t, transfer.IsFatal(err), "symlinks need a live source")
}

func TestParseDestination(t *testing.T) {
	tests := []struct {
		raw      string
		ws, proj string
		wantErr  bool
	}{
		{raw: "team", ws: "team"},
		{raw: "/team/proj/", ws: "team", proj: "proj"},
		{raw: "", wantErr: true},
		{raw: "a/b/c", wantErr: true},
	}
	for _, tt := range tests {
		ws, proj, err := ParseDestination(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.ws, ws)
		assert.Equal(t, tt.proj, proj)
	}
}

func TestNestParameters(t *testing.T) {
	got := nestParameters([]tracking.ValueSummary{
		{Name: "model.layers", ValueCurrent: 4},
		{Name: "model", ValueCurrent: "resnet"},
		{Name: "data.train.path", ValueCurrent: "/d"},
		{Name: "data.train", ValueCurrent: "x"},
		{Name: "bad..name", ValueCurrent: 1},
	})
	assert.Equal(t, map[string]any{
		"model":        "resnet",
		"model.layers": 4,
		"data":         map[string]any{"train": map[string]any{"path": "/d"}},
		"data.train":   "x",
		"bad..name":    1,
	}, got)
}
