package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/user/expmirror/internal/config"
	"github.com/user/expmirror/internal/jobs"
)

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobAddCmd, jobListCmd, jobRemoveCmd, jobEnableCmd, jobDisableCmd, jobRunCmd)

	f := jobAddCmd.Flags()
	f.String("name", "", "job name (required)")
	f.String("kind", string(jobs.KindDownload), "download or copy")
	f.String("source", "", "address to read (required)")
	f.String("destination", "", "WORKSPACE or WORKSPACE/PROJECT to copy into")
	f.String("output", "", "canonical root to download into or copy from")
	f.StringSlice("resource", nil, "resources to download (default: all)")
	f.StringSlice("ignore", nil, "resources or asset types to skip")
	f.String("schedule", "", "cron schedule expression")
	f.String("notify", "", "delivery target for run reports, e.g. telegram:<chat id>")
	f.Bool("disabled", false, "add the job disabled")
	_ = jobAddCmd.MarkFlagRequired("name")
	_ = jobAddCmd.MarkFlagRequired("source")
}

func jobStorePath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "jobs.json")
}

func jobStore() *jobs.Store {
	return jobs.NewStore(jobStorePath(loadConfig()))
}

// newExecutor wires the configured platforms into the job engines.
func newExecutor(cfg *config.Config) *jobs.EngineExecutor {
	dst := destinationClient(cfg)
	return &jobs.EngineExecutor{
		Source:      sourceClient(cfg),
		Destination: dst,
		Uploader:    dst,
		Workers:     cfg.Workers,
		Version:     version,
	}
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage scheduled mirror jobs",
}

var jobAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		job := &jobs.Job{}
		job.Name, _ = f.GetString("name")
		kind, _ := f.GetString("kind")
		job.Kind = jobs.Kind(kind)
		job.Source, _ = f.GetString("source")
		job.Destination, _ = f.GetString("destination")
		job.Output, _ = f.GetString("output")
		job.Resources, _ = f.GetStringSlice("resource")
		job.Ignore, _ = f.GetStringSlice("ignore")
		job.Schedule, _ = f.GetString("schedule")
		job.Notify, _ = f.GetString("notify")
		disabled, _ := f.GetBool("disabled")
		job.Enabled = !disabled

		if job.Output != "" {
			abs, err := filepath.Abs(job.Output)
			if err != nil {
				return fmt.Errorf("resolve output: %w", err)
			}
			job.Output = abs
		}

		if err := jobStore().Add(job); err != nil {
			return fmt.Errorf("add job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q added.\n", job.Name)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := jobStore().List()
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No jobs configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tSOURCE\tDESTINATION\tSCHEDULE\tENABLED\tLAST RUN")
		for _, j := range list {
			last := "never"
			if j.LastRun != nil {
				last = fmt.Sprintf("%s %s", j.LastRun.Status, humanize.Time(j.LastRun.Finished))
			}
			dest := j.Destination
			if j.Kind == jobs.KindDownload {
				dest = j.Output
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\t%s\n",
				j.Name, j.Kind, j.Source, dest, j.Schedule, j.Enabled, last)
		}
		return w.Flush()
	},
}

var jobRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := jobStore().Remove(args[0]); err != nil {
			return fmt.Errorf("remove job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q removed.\n", args[0])
		return nil
	},
}

var jobEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := jobStore().SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q enabled.\n", args[0])
		return nil
	},
}

var jobDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := jobStore().SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q disabled.\n", args[0])
		return nil
	},
}

var jobRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a job now in the foreground",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store := jobs.NewStore(jobStorePath(cfg))
		job, err := store.Get(args[0])
		if err != nil {
			return err
		}

		rec := jobs.RunRecord{ID: uuid.NewString(), Trigger: "cli", Started: time.Now()}
		summary, runErr := newExecutor(cfg).Execute(cmd.Context(), job)
		rec.Finished = time.Now()
		rec.Status = jobs.StatusOK
		if summary != nil {
			rec.Resources = summary.Total()
			rec.Failed = summary.Failed()
		}
		if runErr != nil {
			rec.Status = jobs.StatusFailed
			rec.Error = runErr.Error()
		}
		if err := store.RecordRun(job.Name, rec); err != nil {
			return fmt.Errorf("record run: %w", err)
		}

		fmt.Fprintln(os.Stdout, jobs.Report(job, rec, summary))
		return runErr
	},
}
