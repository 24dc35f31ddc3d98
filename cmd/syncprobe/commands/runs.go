package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/syncprobe/pkg/stores"
)

// runDetail is what runs show prints.
type runDetail struct {
	Run       *stores.Run        `json:"run" yaml:"run"`
	Resources []*stores.Resource `json:"resources" yaml:"resources"`
	Events    []*stores.Event    `json:"events" yaml:"events"`
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run ledger",
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsAuditCommand())
	cmd.AddCommand(newRunsLiveCommand())
	cmd.AddCommand(newRunsDeleteCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, "", needs{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			runs, err := a.store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), outputFormat, runs, func(w io.Writer) error {
				if len(runs) == 0 {
					fmt.Fprintln(w, "No runs")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						r.ID,
						r.GroupName,
						string(r.Status),
						orDash(string(r.SyncOutcome)),
						r.StartedAt.Local().Format(time.DateTime),
						runDuration(r),
					})
				}
				return table(w, []string{"ID", "GROUP", "STATUS", "SYNC", "STARTED", "DURATION"}, rows)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	var eventLimit int

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its resources and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]

			a, err := newApp(ctx, "", needs{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			run, err := a.store.GetRun(ctx, runID)
			if errors.Is(err, stores.ErrNotFound) {
				return fmt.Errorf("run %s is not in the ledger", runID)
			}
			if err != nil {
				return err
			}
			resources, err := a.store.ListResourcesByRun(ctx, runID)
			if err != nil {
				return err
			}
			events, err := a.store.GetEvents(ctx, &runID, nil, eventLimit, 0)
			if err != nil {
				return err
			}

			detail := &runDetail{Run: run, Resources: resources, Events: events}
			return render(cmd.OutOrStdout(), outputFormat, detail, detail.text)
		},
	}

	cmd.Flags().IntVar(&eventLimit, "events", 100, "maximum number of events")

	return cmd
}

func newRunsAuditCommand() *cobra.Command {
	var (
		action string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List sweeps and teardowns",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, "", needs{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			var filter *string
			if action != "" {
				filter = &action
			}
			entries, err := a.store.ListAuditEntries(ctx, filter, limit, 0)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), outputFormat, entries, func(w io.Writer) error {
				if len(entries) == 0 {
					fmt.Fprintln(w, "No audit entries")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					target := ""
					if e.TargetID != nil {
						target = *e.TargetID
					}
					rows = append(rows, []string{
						e.Timestamp.Local().Format(time.DateTime),
						e.Action,
						e.Actor,
						orDash(target),
					})
				}
				return table(w, []string{"TIME", "ACTION", "ACTOR", "TARGET"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "only show this action (sweep or teardown)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")

	return cmd
}

func newRunsLiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "List resources the ledger has not seen deleted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, "", needs{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			resources, err := a.store.ListLiveResources(ctx)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), outputFormat, resources, func(w io.Writer) error {
				if len(resources) == 0 {
					fmt.Fprintln(w, "No live resources")
					return nil
				}
				rows := make([][]string, 0, len(resources))
				for _, res := range resources {
					rows = append(rows, []string{
						string(res.Kind),
						res.ResourceID,
						res.RunID,
						res.CreatedAt.Local().Format(time.DateTime),
					})
				}
				return table(w, []string{"KIND", "ID", "RUN", "CREATED"}, rows)
			})
		},
	}
}

func newRunsDeleteCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Remove a run and its history from the ledger",
		Long: `Remove a run with its resources and events from the ledger. Nothing is
deleted on the platform. A run that still has live resources is refused
unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]

			a, err := newApp(ctx, "", needs{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			if !force {
				resources, err := a.store.ListResourcesByRun(ctx, runID)
				if err != nil {
					return err
				}
				for _, res := range resources {
					if res.Live() {
						return fmt.Errorf("run %s still has live %s %s; tear it down first or use --force",
							runID, res.Kind, res.ResourceID)
					}
				}
			}

			err = a.store.DeleteRun(ctx, runID)
			if errors.Is(err, stores.ErrNotFound) {
				return fmt.Errorf("run %s is not in the ledger", runID)
			}
			if err != nil {
				return err
			}
			a.audit(ctx, "forget", runID, nil)

			fmt.Fprintf(cmd.OutOrStdout(), "Removed run %s from the ledger\n", runID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "remove the run even if resources are still live")

	return cmd
}

func runDuration(r *stores.Run) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func (d *runDetail) text(w io.Writer) error {
	r := d.Run
	fmt.Fprintf(w, "Run:      %s\n", r.ID)
	fmt.Fprintf(w, "Group:    %s\n", r.GroupName)
	fmt.Fprintf(w, "Status:   %s\n", r.Status)
	fmt.Fprintf(w, "Sync:     %s\n", orDash(string(r.SyncOutcome)))
	fmt.Fprintf(w, "Started:  %s\n", r.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Duration: %s\n", runDuration(r))
	if r.Error != nil {
		fmt.Fprintf(w, "Error:    %s\n", *r.Error)
	}

	if len(d.Resources) > 0 {
		fmt.Fprintln(w)
		rows := make([][]string, 0, len(d.Resources))
		for _, res := range d.Resources {
			state := "live"
			if !res.Live() {
				state = "deleted " + res.DeletedAt.Local().Format(time.TimeOnly)
			}
			rows = append(rows, []string{string(res.Kind), res.ResourceID, state})
		}
		if err := table(w, []string{"KIND", "ID", "STATE"}, rows); err != nil {
			return err
		}
	}

	if len(d.Events) > 0 {
		fmt.Fprintln(w)
		rows := make([][]string, 0, len(d.Events))
		for _, e := range d.Events {
			rows = append(rows, []string{
				e.Timestamp.Local().Format(time.TimeOnly),
				string(e.Level),
				e.Type,
				e.Message,
			})
		}
		return table(w, []string{"TIME", "LEVEL", "TYPE", "MESSAGE"}, rows)
	}
	return nil
}
