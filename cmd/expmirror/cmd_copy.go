package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/user/expmirror/internal/copier"
	"github.com/user/expmirror/internal/transfer"
)

func init() {
	rootCmd.AddCommand(copyCmd)

	f := copyCmd.Flags()
	f.String("path", "", "canonical root holding SOURCE (default from config)")
	f.StringSlice("ignore", nil, "resource names, asset types, experiments or system-metrics to skip")
	f.Bool("symlink", false, "link the source experiments into DESTINATION instead of copying")
	f.Bool("offline", false, "package each experiment locally and upload the package")
	f.Bool("from-platform", false, "read SOURCE from the source platform instead of the canonical root")
	f.Int("workers", 0, "parallel uploads (default from config, then CPU-based)")
}

var copyCmd = &cobra.Command{
	Use:   "copy SOURCE DESTINATION",
	Short: "Copy experiments into a destination WORKSPACE or WORKSPACE/PROJECT",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		f := cmd.Flags()

		root, _ := f.GetString("path")
		if root == "" {
			root = cfg.Output
		}
		ignore, _ := f.GetStringSlice("ignore")
		symlink, _ := f.GetBool("symlink")
		offline, _ := f.GetBool("offline")
		fromPlatform, _ := f.GetBool("from-platform")
		n, _ := f.GetInt("workers")

		dst := destinationClient(cfg)
		mc := transfer.NewMigrationContext(cmd.Context(), workers(n, cfg), "Copy Summary", "Copy Count")
		engine, err := copier.New(dst, dst, copier.Options{
			Root:    root,
			Ignore:  ignore,
			Symlink: symlink,
			Offline: offline,
			Version: version,
		}, mc, os.Stdout)
		if err != nil {
			return err
		}

		if symlink || fromPlatform {
			err = engine.CopyFromPlatform(cmd.Context(), sourceClient(cfg), args[0], args[1])
		} else {
			err = engine.Copy(cmd.Context(), args[0], args[1])
		}
		mc.Finish(os.Stdout)
		return err
	},
}
