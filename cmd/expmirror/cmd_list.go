package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/user/expmirror/internal/download"
	"github.com/user/expmirror/internal/query"
)

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Bool("use-name", false, "show experiment names instead of keys")
	listCmd.Flags().String("query", "", "only list experiments matching this CEL expression")
}

var listCmd = &cobra.Command{
	Use:   "list [PATH]",
	Short: "List workspaces, projects, experiments, artifacts or models",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		useName, _ := cmd.Flags().GetBool("use-name")
		queryExpr, _ := cmd.Flags().GetString("query")

		l := &download.Lister{Source: sourceClient(cfg), Out: os.Stdout, UseName: useName}
		if queryExpr != "" {
			f, err := query.Compile(queryExpr)
			if err != nil {
				return err
			}
			l.Query = f
		}
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		return l.List(cmd.Context(), path)
	},
}
