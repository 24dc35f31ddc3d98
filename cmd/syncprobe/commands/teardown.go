package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/syncprobe/pkg/engine"
	"github.com/openfroyo/syncprobe/pkg/stores"
)

func newTeardownCommand(version string) *cobra.Command {
	var (
		runID       string
		groupID     string
		destination string
		connector   string
		bestEffort  bool
	)

	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Delete the resources of a run",
		Long: `Delete the connectors, destination and group of a run, in that order.

With --run the live resources are read from the run ledger. Otherwise the
ids are given explicitly; connectors of the group are listed and deleted
first. Resources that no longer exist count as deleted.`,
		Example: `  # Tear down a run kept with --keep
  syncprobe teardown --run 3f0c...

  # Tear down by id
  syncprobe teardown --group grp_1 --destination grp_1 --connector conn_1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if runID == "" && groupID == "" && destination == "" && connector == "" {
				return errors.New("either --run or at least one resource id is required")
			}
			if runID != "" && (groupID != "" || destination != "" || connector != "") {
				return errors.New("--run cannot be combined with resource ids")
			}

			a, err := newApp(ctx, version, needs{api: true, store: true})
			if err != nil {
				return err
			}
			defer a.close()

			if bestEffort {
				a.cfg.Run.BestEffort = true
			}

			target := engine.Provisioned{GroupID: groupID, DestinationID: destination, ConnectorID: connector}
			if runID != "" {
				target, err = a.store.ProvisionedForRun(ctx, runID)
				if errors.Is(err, stores.ErrNotFound) {
					return fmt.Errorf("run %s is not in the ledger", runID)
				}
				if err != nil {
					return err
				}
			}

			if target.IsEmpty() {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to tear down")
				return nil
			}

			err = a.orchestrator().Teardown(ctx, target)
			a.audit(ctx, "teardown", firstNonEmpty(runID, target.GroupID), target)

			status := "ok"
			if err != nil {
				status = err.Error()
			}
			out := struct {
				Provisioned engine.Provisioned `json:"provisioned" yaml:"provisioned"`
				Status      string             `json:"status" yaml:"status"`
			}{target, status}

			if rerr := render(cmd.OutOrStdout(), outputFormat, out, func(w io.Writer) error {
				fmt.Fprintf(w, "Group:       %s\n", orDash(target.GroupID))
				fmt.Fprintf(w, "Destination: %s\n", orDash(target.DestinationID))
				fmt.Fprintf(w, "Connector:   %s\n", orDash(target.ConnectorID))
				fmt.Fprintf(w, "Teardown:    %s\n", status)
				return nil
			}); rerr != nil {
				return rerr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run id from the ledger")
	cmd.Flags().StringVar(&groupID, "group", "", "group id")
	cmd.Flags().StringVar(&destination, "destination", "", "destination id")
	cmd.Flags().StringVar(&connector, "connector", "", "connector id")
	cmd.Flags().BoolVar(&bestEffort, "best-effort", false, "attempt every deletion and report all failures")

	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
