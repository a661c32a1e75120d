package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/expmirror/internal/prune"
	"github.com/user/expmirror/internal/query"
	"github.com/user/expmirror/internal/transfer"
)

func init() {
	rootCmd.AddCommand(deleteAssetsCmd)
	deleteAssetsCmd.Flags().String("type", "", `asset type to delete, or "all" (required)`)
	deleteAssetsCmd.Flags().String("query", "", "only touch experiments matching this CEL expression")
	_ = deleteAssetsCmd.MarkFlagRequired("type")
}

var deleteAssetsCmd = &cobra.Command{
	Use:   "delete-assets PATH",
	Short: "Delete experiment assets of a type from the source platform",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		assetType, _ := cmd.Flags().GetString("type")
		queryExpr, _ := cmd.Flags().GetString("query")

		client := sourceClient(cfg)
		p := &prune.Pruner{Source: client, Deleter: client, Type: assetType, Out: os.Stdout}
		if queryExpr != "" {
			f, err := query.Compile(queryExpr)
			if err != nil {
				return err
			}
			p.Query = f
		}

		mc := transfer.NewMigrationContext(cmd.Context(), cfg.Workers, "Delete Summary", "Delete Count")
		err := p.Run(cmd.Context(), args[0], mc)
		summary := mc.Finish(nil)
		fmt.Fprintf(os.Stdout, "Deleted %d assets of type %q\n", summary.Count(prune.Resource), assetType)
		if summary.Failed() > 0 {
			fmt.Fprintf(os.Stdout, "%d deletions failed\n", summary.Failed())
		}
		return err
	},
}
