package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. Each sub-command loads configuration,
// runs one stage and closes the database.
func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
		a        *app
	)

	root := &cobra.Command{
		Use:           "mangarank",
		Short:         "Rank manga by how many review blogs mention them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			a, err = newApp(cfgFile, logLevel, cmd.ErrOrStderr())
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a == nil {
				return nil
			}
			return a.Close()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or ./config/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	// stageCmd wraps a stage that needs nothing but the context.
	stageCmd := func(use, short string, run func(a *app, ctx context.Context) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(a, cmd.Context())
			},
		}
	}

	var exportDir string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write items.json, tags.json and entries.json to a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runExport(cmd.Context(), exportDir)
		},
	}
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "output directory (default export.dir)")

	var runNow bool
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the full pipeline on the configured cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := a.runSchedule(cmd.Context(), runNow)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	scheduleCmd.Flags().BoolVar(&runNow, "now", false, "also run the pipeline once at startup")

	root.AddCommand(
		stageCmd("groups", "Discover blogs from the group directory", (*app).runGroups),
		stageCmd("sites", "Collect entries from every known blog", (*app).runSites),
		stageCmd("entries", "Extract product references from uncrawled entries", (*app).runEntries),
		stageCmd("catalog", "Classify and tag products with catalog data", (*app).runCatalog),
		stageCmd("score", "Recompute product scores and tag counts", (*app).runScore),
		exportCmd,
		stageCmd("upload", "Upload the export to the data bucket", (*app).runUpload),
		stageCmd("backup", "Upload a database snapshot to the backup bucket", (*app).runBackup),
		stageCmd("clean-backup", "Delete backups older than the retention window", (*app).runCleanBackup),
		stageCmd("request-build", "Trigger the static site build", (*app).runRequestBuild),
		stageCmd("all", "Run every stage in order", (*app).runAll),
		scheduleCmd,
	)
	return root
}
