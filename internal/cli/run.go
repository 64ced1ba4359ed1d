package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/outletwatch/internal/model"
)

func newRunCommand(gf *globalFlags) *cobra.Command {
	var (
		concurrency int
		maxRuntime  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Check every outlet once and deliver the report",
		Long: `Run one batch synchronously. Outlets that could not be checked are
reported with a failure label; the command only fails when the batch itself
could not run (for example an unreadable outlet list).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Scheduling.Concurrency = concurrency
			}
			if cmd.Flags().Changed("max-runtime") {
				cfg.Scheduling.MaxRuntime = maxRuntime
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.engine.RunOnce(cmd.Context(), model.TriggerCLI)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s %s: %d/%d outlets checked\n",
				run.ID, run.Status, run.TotalChecked, run.TotalOutlets)
			return nil
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "maximum outlets checked at once")
	cmd.Flags().DurationVar(&maxRuntime, "max-runtime", 0, "global runtime limit for the batch")
	return cmd
}
