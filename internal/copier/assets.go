package copier

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/user/expmirror/internal/store"
	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
)

// populateAssets uploads the experiment's assets in two phases. Simple
// assets go first and their new IDs are recorded; composite assets are
// then rewritten against that map before they are uploaded.
func populateAssets(ctx context.Context, e *Engine, dir string, w tracking.ExperimentWriter) (transfer.Outcome, error) {
	return copyAssets(ctx, e, dir, w, make(transfer.IdMap))
}

// copyAssets records every uploaded asset, composite ones included, in ids.
func copyAssets(ctx context.Context, e *Engine, dir string, w tracking.ExperimentWriter, ids transfer.IdMap) (transfer.Outcome, error) {
	assets, err := store.ReadJSONL[tracking.Asset](filepath.Join(dir, store.AssetsDir, store.AssetsMetadataFile))
	if err != nil {
		return transfer.Outcome{}, err
	}

	var simple []tracking.Asset
	var composite []tracking.Asset
	kinds := make(map[string]tracking.CompositeKind)
	for _, a := range assets {
		if e.ignored[a.Type] {
			continue
		}
		switch k := tracking.KindOf(a.Type).(type) {
		case tracking.SimpleKind:
			simple = append(simple, a)
		case tracking.CompositeKind:
			composite = append(composite, a)
			kinds[a.Type] = k
		}
	}

	var out transfer.Outcome

	batch := transfer.NewBatch[string](e.mc.Scheduler)
	var queued []tracking.Asset
	for _, a := range simple {
		path := assetPath(dir, a)
		if !store.Exists(path) {
			slog.Warn("missing asset file; skipping", "asset", a.FileName, "path", path)
			continue
		}
		queued = append(queued, a)
		if !batch.Go(func(ctx context.Context) (string, error) {
			return uploadFile(ctx, w, a, path)
		}) {
			return out, transfer.ErrCanceled
		}
	}
	for i, r := range batch.Wait() {
		if r.Err != nil {
			slog.Error("upload asset failed", "asset", queued[i].FileName, "error", r.Err)
			e.mc.Summary.Fail()
			continue
		}
		ids.Record(queued[i].AssetID, r.Value)
		out.Count++
	}

	batch = transfer.NewBatch[string](e.mc.Scheduler)
	queued = queued[:0]
	for _, a := range composite {
		path := assetPath(dir, a)
		if !store.Exists(path) {
			slog.Warn("missing asset file; skipping", "asset", a.FileName, "path", path)
			continue
		}
		remap := NewRemapper(kinds[a.Type], ids, w.Key())
		queued = append(queued, a)
		if !batch.Go(func(ctx context.Context) (string, error) {
			return uploadComposite(ctx, w, a, path, remap)
		}) {
			return out, transfer.ErrCanceled
		}
	}
	for i, r := range batch.Wait() {
		if r.Err != nil {
			slog.Error("upload asset failed", "asset", queued[i].FileName, "error", r.Err)
			e.mc.Summary.Fail()
			continue
		}
		ids.Record(queued[i].AssetID, r.Value)
		out.Count++
	}
	return out, nil
}

// assetPath is where the download engine placed a.
func assetPath(dir string, a tracking.Asset) string {
	sub := a.Dir
	if sub == "" {
		sub = store.AssetsDir + "/" + tracking.KindOf(a.Type).TypeName()
	}
	return filepath.Join(dir, filepath.FromSlash(sub), filepath.FromSlash(store.Sanitize(a.FileName)))
}

func uploadAsset(a tracking.Asset) tracking.UploadAsset {
	return tracking.UploadAsset{
		Type:     a.Type,
		FileName: a.FileName,
		Step:     a.Step,
		Epoch:    a.Epoch,
		Metadata: a.Metadata,
	}
}

func uploadFile(ctx context.Context, w tracking.ExperimentWriter, a tracking.Asset, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open asset: %w", err)
	}
	defer f.Close()
	return w.LogAsset(ctx, uploadAsset(a), f)
}

func uploadComposite(ctx context.Context, w tracking.ExperimentWriter, a tracking.Asset, path string, remap *Remapper) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read asset: %w", err)
	}
	payload, err := remap.Payload(data)
	if err != nil {
		return "", fmt.Errorf("remap %s: %w", a.FileName, err)
	}
	up := uploadAsset(a)
	if up.Metadata, err = remap.Metadata(a.Metadata); err != nil {
		return "", fmt.Errorf("remap %s: %w", a.FileName, err)
	}
	if len(remap.Unmapped) > 0 {
		slog.Warn("asset references left unchanged", "asset", a.FileName, "ids", remap.Unmapped)
	}
	return w.LogAsset(ctx, up, bytes.NewReader(payload))
}
