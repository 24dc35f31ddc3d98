package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/syncprobe/pkg/engine"
)

func newGCCommand(version string) *cobra.Command {
	var (
		maxAge       time.Duration
		bestEffort   bool
		orphanGroups bool
	)

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete resources left behind by earlier runs",
		Long: `Delete connectors, destinations and run groups older than the retention
threshold (15 minutes by default). A resource whose creation time cannot be
parsed is treated as old. A destination is deleted together with its group.`,
		Example: `  # Sweep with the configured threshold
  syncprobe gc

  # Sweep everything older than an hour and keep going past failures
  syncprobe gc --max-age 1h --best-effort`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, version, needs{api: true, store: true})
			if err != nil {
				return err
			}
			defer a.close()

			if cmd.Flags().Changed("max-age") {
				a.cfg.Run.MaxAge = maxAge
			}
			if bestEffort {
				a.cfg.Run.BestEffort = true
			}
			if orphanGroups {
				a.cfg.Run.SweepOrphanGroups = true
			}

			report, err := a.sweep(ctx)
			if report != nil {
				if rerr := render(cmd.OutOrStdout(), outputFormat, report, sweepText(report)); rerr != nil {
					return rerr
				}
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", engine.DefaultMaxAge, "retention threshold")
	cmd.Flags().BoolVar(&bestEffort, "best-effort", false, "attempt every deletion and report all failures")
	cmd.Flags().BoolVar(&orphanGroups, "orphan-groups", false, "also delete old run groups without a destination")

	return cmd
}

func sweepText(report *engine.SweepReport) func(io.Writer) error {
	return func(w io.Writer) error {
		if len(report.Deleted) == 0 {
			fmt.Fprintf(w, "Nothing to sweep (%d resources kept)\n", report.Kept)
		} else {
			rows := make([][]string, 0, len(report.Deleted))
			for _, d := range report.Deleted {
				rows = append(rows, []string{string(d.Kind), d.ID, orDash(d.CreatedAt)})
			}
			if err := table(w, []string{"KIND", "ID", "CREATED"}, rows); err != nil {
				return err
			}
			fmt.Fprintf(w, "\n%d deleted, %d kept in %s\n", len(report.Deleted), report.Kept, report.Elapsed.Round(time.Millisecond))
		}
		for _, f := range report.Failures {
			fmt.Fprintf(w, "failed: %s\n", f)
		}
		return nil
	}
}
