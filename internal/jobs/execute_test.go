package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/expmirror/internal/catalog"
	"github.com/user/expmirror/internal/store"
	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
	"github.com/user/expmirror/pkg/tracking/trackingtest"
)

func sourcePlatform() *trackingtest.Platform {
	p := trackingtest.New()
	step := 1
	p.AddExperiment(&trackingtest.ExperimentData{
		Experiment: tracking.Experiment{Key: "exp001", Name: "first", Workspace: "ws", Project: "proj"},
		Metadata:   map[string]any{"experimentKey": "exp001"},
		Metrics:    []tracking.MetricPoint{{MetricName: "loss", MetricValue: 0.5, Step: &step}},
		Parameters: []tracking.ValueSummary{{Name: "lr", ValueCurrent: 0.01}},
	})
	return p
}

func TestExecuteDownload(t *testing.T) {
	root := t.TempDir()
	x := &EngineExecutor{Source: sourcePlatform(), Workers: 1}
	job := &Job{Name: "dl", Kind: KindDownload, Source: "ws/proj", Output: root,
		Resources: []string{catalog.Metrics, catalog.Parameters}}

	summary, err := x.Execute(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Count(catalog.Metrics) == 0 {
		t.Errorf("expected metrics in summary, got total %d", summary.Total())
	}
	if _, err := os.Stat(filepath.Join(root, "ws", "proj", "exp001", store.MetricsFile)); err != nil {
		t.Errorf("expected metrics file: %v", err)
	}
}

func TestExecuteCopyFromCanonicalRoot(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "ws", "proj", "exp001")
	if _, err := store.WriteJSON(filepath.Join(dir, store.MetadataFile), map[string]any{"fileName": "train.py"}); err != nil {
		t.Fatal(err)
	}

	dst := trackingtest.New()
	dst.AddWorkspace("team")
	x := &EngineExecutor{Destination: dst, Uploader: dst, Workers: 1}
	job := &Job{Name: "cp", Kind: KindCopy, Source: "ws/proj", Destination: "team/proj", Output: root}

	summary, err := x.Execute(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(dst.Created()); n != 1 {
		t.Fatalf("expected 1 created experiment, got %d", n)
	}
	if summary.Count("experiments") != 1 {
		t.Errorf("expected 1 experiment in summary, got %d", summary.Count("experiments"))
	}
}

func TestExecuteCopyFromPlatform(t *testing.T) {
	dst := trackingtest.New()
	dst.AddWorkspace("team")
	x := &EngineExecutor{Source: sourcePlatform(), Destination: dst, Uploader: dst, Workers: 1}
	job := &Job{Name: "cp", Kind: KindCopy, Source: "ws/proj", Destination: "team/proj"}

	if _, err := x.Execute(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if n := len(dst.Created()); n != 1 {
		t.Fatalf("expected 1 created experiment, got %d", n)
	}
}

func TestExecuteMissingPlatforms(t *testing.T) {
	x := &EngineExecutor{}
	for _, job := range []*Job{
		{Name: "dl", Kind: KindDownload, Source: "ws", Output: t.TempDir()},
		{Name: "cp", Kind: KindCopy, Source: "ws/proj", Destination: "team/proj"},
	} {
		_, err := x.Execute(context.Background(), job)
		var terr *transfer.Error
		if !errors.As(err, &terr) {
			t.Errorf("%s: expected configuration error, got %v", job.Name, err)
		}
	}
}
