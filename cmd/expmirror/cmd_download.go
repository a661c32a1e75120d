package main

import (
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/expmirror/internal/catalog"
	"github.com/user/expmirror/internal/download"
	"github.com/user/expmirror/internal/query"
	"github.com/user/expmirror/internal/store"
	"github.com/user/expmirror/internal/transfer"
)

func init() {
	rootCmd.AddCommand(downloadCmd)

	f := downloadCmd.Flags()
	f.StringSlice("ignore", nil, "resource names or asset types to skip")
	f.String("output", "", "canonical root to write into (default from config)")
	f.Bool("use-name", false, "name experiment folders by experiment name instead of key")
	f.Bool("flat", false, "write a single experiment's files directly under the output root")
	f.Bool("force", false, "do not ask before downloading many experiments")
	f.String("filename", "", "only write files whose path matches this regular expression")
	f.String("asset-type", "", "only download assets of this type")
	f.Bool("overwrite", false, "replace files that already exist")
	f.Bool("skip", false, "skip experiments whose folder already exists")
	f.String("query", "", "only download experiments matching this CEL expression")
	f.Bool("split-metrics", false, "write one metrics file per metric name")
	f.Bool("html-markdown", false, "also write the experiment HTML as markdown")
	f.Int("workers", 0, "parallel transfers (default from config, then CPU-based)")
}

var downloadCmd = &cobra.Command{
	Use:   "download [PATH] [RESOURCE...]",
	Short: "Download experiments, projects, artifacts or models into the canonical store",
	Long: "Download PATH (WORKSPACE, WORKSPACE/PROJECT, WORKSPACE/PROJECT/EXPERIMENT,\n" +
		"WORKSPACE/artifacts/NAME[/VERSION] or WORKSPACE/model-registry/NAME[/VERSION]).\n" +
		"Resources default to every experiment resource; valid names are:\n  " + strings.Join(catalog.Names(), ", "),
	RunE: runDownload,
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	src := sourceClient(cfg)
	f := cmd.Flags()

	useName, _ := f.GetBool("use-name")
	queryExpr, _ := f.GetString("query")
	var filter *query.Filter
	if queryExpr != "" {
		var err error
		if filter, err = query.Compile(queryExpr); err != nil {
			return err
		}
	}

	if len(args) == 0 {
		l := &download.Lister{Source: src, Out: os.Stdout, UseName: useName, Query: filter}
		return l.List(cmd.Context(), "")
	}

	ignore, _ := f.GetStringSlice("ignore")
	output, _ := f.GetString("output")
	if output == "" {
		output = cfg.Output
	}
	flat, _ := f.GetBool("flat")
	force, _ := f.GetBool("force")
	overwrite, _ := f.GetBool("overwrite")
	skip, _ := f.GetBool("skip")
	assetType, _ := f.GetString("asset-type")
	splitMetrics, _ := f.GetBool("split-metrics")
	htmlMarkdown, _ := f.GetBool("html-markdown")
	n, _ := f.GetInt("workers")

	policy := store.Policy{Overwrite: overwrite}
	if pattern, _ := f.GetString("filename"); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return transfer.Configf("invalid --filename pattern: %v", err)
		}
		policy.Filter = re
	}

	mc := transfer.NewMigrationContext(cmd.Context(), workers(n, cfg), "Download Summary", "Download Count")
	engine, err := download.New(src, download.Options{
		Layout:       store.Layout{Root: output, UseName: useName, Flat: flat},
		Policy:       policy,
		Include:      args[1:],
		Ignore:       ignore,
		AssetType:    assetType,
		Skip:         skip,
		Force:        force,
		Query:        filter,
		SplitMetrics: splitMetrics,
		HTMLMarkdown: htmlMarkdown,
		Version:      version,
	}, mc, download.NewTerminalConfirmer())
	if err != nil {
		return err
	}
	err = engine.Download(cmd.Context(), args[0])
	mc.Finish(os.Stdout)
	return err
}
