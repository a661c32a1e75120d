package download

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/user/expmirror/internal/catalog"
	"github.com/user/expmirror/internal/store"
	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
)

// fetchAssets writes assets_metadata.jsonl synchronously and hands every
// distinct asset file to the scheduler. File counts arrive through the
// scheduler's outcomes.
func fetchAssets(ctx context.Context, e *Engine, exp tracking.Experiment) (transfer.Outcome, error) {
	assetType := e.opts.AssetType
	if assetType == "" {
		assetType = "all"
	}
	assets, err := e.src.GetAssetList(ctx, exp.Key, assetType)
	if err != nil {
		return transfer.Outcome{}, fmt.Errorf("list assets: %w", err)
	}
	if len(assets) == 0 {
		return transfer.Outcome{}, nil
	}
	for i := range assets {
		assets[i].Dir = e.opts.Layout.AssetDir(assets[i].Type)
	}

	var out transfer.Outcome
	metaPath := e.opts.Layout.Path(exp, store.AssetsDir, store.AssetsMetadataFile)
	if e.opts.Policy.ShouldWrite(metaPath) {
		n, err := store.WriteJSONL(metaPath, assets)
		if err != nil {
			return transfer.Outcome{}, err
		}
		out = written(n)
	}

	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		path := e.opts.Layout.Path(exp, a.Dir, store.Sanitize(a.FileName))
		if seen[path] || !e.opts.Policy.ShouldWrite(path) {
			continue
		}
		seen[path] = true

		key, id := exp.Key, a.AssetID
		err := e.mc.Scheduler.Submit(catalog.Assets, func(ctx context.Context) (transfer.Outcome, error) {
			n, err := store.Place(ctx, path, func(ctx context.Context) (io.ReadCloser, error) {
				return e.src.GetAsset(ctx, key, id)
			})
			if err != nil {
				return transfer.Outcome{}, fmt.Errorf("asset %s: %w", id, err)
			}
			return written(n), nil
		})
		if errors.Is(err, transfer.ErrCanceled) {
			break
		}
	}
	return out, nil
}
