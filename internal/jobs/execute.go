package jobs

import (
	"context"
	"fmt"
	"io"

	"github.com/user/expmirror/internal/copier"
	"github.com/user/expmirror/internal/download"
	"github.com/user/expmirror/internal/store"
	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
)

// EngineExecutor runs jobs with the download and copy engines.
type EngineExecutor struct {
	Source      tracking.Source
	Destination tracking.Destination
	Uploader    tracking.ArchiveUploader
	Workers     int
	Version     string
	// Out receives engine progress lines. Defaults to io.Discard.
	Out io.Writer
}

// Execute runs job to completion. Per-resource failures are reported
// through the summary; only configuration errors and cancellation are
// returned.
func (x *EngineExecutor) Execute(ctx context.Context, job *Job) (*transfer.Summary, error) {
	switch job.Kind {
	case KindDownload:
		return x.download(ctx, job)
	case KindCopy:
		return x.copy(ctx, job)
	}
	return nil, transfer.Configf("job %s: unknown kind %q", job.Name, job.Kind)
}

func (x *EngineExecutor) download(ctx context.Context, job *Job) (*transfer.Summary, error) {
	if x.Source == nil {
		return nil, transfer.Configf("no source platform configured")
	}
	mc := transfer.NewMigrationContext(ctx, x.Workers, "Download Summary", "Download Count")
	engine, err := download.New(x.Source, download.Options{
		Layout:  store.Layout{Root: job.Output},
		Include: job.Resources,
		Ignore:  job.Ignore,
		Force:   true,
		Version: x.Version,
	}, mc, download.Always(true))
	if err != nil {
		return nil, err
	}
	err = engine.Download(ctx, job.Source)
	summary := mc.Finish(nil)
	if err != nil {
		return summary, fmt.Errorf("download %s: %w", job.Source, err)
	}
	return summary, nil
}

func (x *EngineExecutor) copy(ctx context.Context, job *Job) (*transfer.Summary, error) {
	if x.Destination == nil {
		return nil, transfer.Configf("no destination platform configured")
	}
	out := x.Out
	if out == nil {
		out = io.Discard
	}
	mc := transfer.NewMigrationContext(ctx, x.Workers, "Copy Summary", "Copy Count")
	engine, err := copier.New(x.Destination, x.Uploader, copier.Options{
		Root:    job.Output,
		Ignore:  job.Ignore,
		Version: x.Version,
	}, mc, out)
	if err != nil {
		return nil, err
	}
	if job.Output != "" {
		err = engine.Copy(ctx, job.Source, job.Destination)
	} else if x.Source == nil {
		err = transfer.Configf("copy job %s has no output root and no source platform is configured", job.Name)
	} else {
		err = engine.CopyFromPlatform(ctx, x.Source, job.Source, job.Destination)
	}
	summary := mc.Finish(nil)
	if err != nil {
		return summary, fmt.Errorf("copy %s to %s: %w", job.Source, job.Destination, err)
	}
	return summary, nil
}
