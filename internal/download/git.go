package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/user/expmirror/internal/store"
	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
)

const readmeTemplate = `
Reproduce git commands
---------------------------
%s
To return to git branch and restore work in progress:

` + "```" + `
git checkout %s
git checkout %s
%s
` + "```" + `
`

const cloneTemplate = `
To restore the original git:

` + "```" + `
git clone %s
cd %s
` + "```" + `
`

// fetchGit writes git_metadata.json, git_diff.patch and a README.md with
// restore commands. Each file counts once; one failing part does not stop
// the others.
func fetchGit(ctx context.Context, e *Engine, exp tracking.Experiment) (transfer.Outcome, error) {
	var (
		out      transfer.Outcome
		meta     *tracking.GitMetadata
		patch    []byte
		metaDone bool
		pDone    bool
	)
	loadMeta := func() {
		if metaDone {
			return
		}
		metaDone = true
		m, err := e.src.GetGitMetadata(ctx, exp.Key)
		if err != nil {
			slog.Warn("git metadata unavailable", "experiment", exp.Key, "error", err)
			return
		}
		meta = m
	}
	loadPatch := func() {
		if pDone {
			return
		}
		pDone = true
		raw, err := e.src.GetGitPatch(ctx, exp.Key)
		if err != nil {
			slog.Warn("git patch unavailable", "experiment", exp.Key, "error", err)
			return
		}
		patch = unzipPatch(raw)
	}

	var firstErr error
	add := func(n int64, err error) {
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		out.Count++
		out.Bytes += n
	}

	if path := e.opts.Layout.Path(exp, store.RunDir, store.GitMetadataFile); e.opts.Policy.ShouldWrite(path) {
		loadMeta()
		if meta != nil && !meta.IsZero() {
			add(store.WriteJSON(path, meta))
		}
	}
	if path := e.opts.Layout.Path(exp, store.RunDir, store.GitPatchFile); e.opts.Policy.ShouldWrite(path) {
		loadPatch()
		if len(patch) > 0 {
			add(store.WriteBytes(path, patch))
		}
	}
	if path := e.opts.Layout.Path(exp, store.RunDir, store.GitReadmeFile); e.opts.Policy.ShouldWrite(path) {
		loadMeta()
		if meta != nil && meta.Origin != "" {
			loadPatch()
			add(store.WriteText(path, gitReadme(*meta, len(patch) > 0)))
		}
	}

	if out.Count == 0 && firstErr != nil {
		return transfer.Outcome{}, firstErr
	}
	if firstErr != nil {
		slog.Warn("git resource partially written", "experiment", exp.Key, "error", firstErr)
	}
	return out, nil
}

// unzipPatch returns the git_diff.patch member of a zipped patch, or raw
// itself when it is not a zip archive.
func unzipPatch(raw []byte) []byte {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return raw
	}
	for _, f := range zr.File {
		if f.Name != store.GitPatchFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return raw
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return raw
		}
		return data
	}
	slog.Debug("zipped patch has no patch member")
	return raw
}

func gitReadme(meta tracking.GitMetadata, hasPatch bool) string {
	directory := meta.Origin[strings.LastIndex(meta.Origin, "/")+1:]
	directory, _, _ = strings.Cut(directory, ".")
	branch := meta.Branch[strings.LastIndex(meta.Branch, "/")+1:]
	patchText := ""
	if hasPatch {
		patchText = "git apply " + store.GitPatchFile
	}
	clone := fmt.Sprintf(cloneTemplate, meta.Origin, directory)
	return fmt.Sprintf(readmeTemplate, clone, branch, meta.Parent, patchText)
}
