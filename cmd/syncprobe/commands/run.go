package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/syncprobe/pkg/engine"
	"github.com/openfroyo/syncprobe/pkg/policy"
	"github.com/openfroyo/syncprobe/pkg/transports/ssh"
	"github.com/openfroyo/syncprobe/pkg/verify"
)

// teardownTimeout bounds teardown after a run, including after Ctrl-C.
const teardownTimeout = 5 * time.Minute

// runReport is what the run command prints.
type runReport struct {
	Result   *engine.RunResult   `json:"result" yaml:"result"`
	Sweep    *engine.SweepReport `json:"sweep,omitempty" yaml:"sweep,omitempty"`
	Kept     bool                `json:"kept" yaml:"kept"`
	Teardown string              `json:"teardown,omitempty" yaml:"teardown,omitempty"`
}

func newRunCommand(version string) *cobra.Command {
	var (
		keep      bool
		skipSweep bool
		runID     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one end-to-end validation",
		Long: `Run one end-to-end validation.

The run sweeps resources left by earlier runs, publishes the local databases
through the SSH tunnel when it is enabled, provisions a group, destination
and connector, waits for the connector setup, submits the schema with the
policy exclusions, runs a historical sync and verifies the destination.
Resources are deleted afterwards unless --keep is given.

A failed sync or verification exits with status 2.`,
		Example: `  # Validate using syncprobe.yaml
  syncprobe run -c syncprobe.yaml

  # Keep the resources for inspection and print JSON
  syncprobe run -c syncprobe.yaml --keep -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, version, needs{api: true, databases: true, store: true})
			if err != nil {
				return err
			}
			defer a.close()

			if keep {
				a.cfg.Run.KeepResources = true
			}
			if skipSweep {
				a.cfg.Run.SkipSweep = true
			}

			report, err := executeRun(ctx, a, runID)
			if report != nil && report.Result != nil {
				if rerr := render(cmd.OutOrStdout(), outputFormat, report, report.text); rerr != nil {
					a.logger.Warn().Err(rerr).Msg("Failed to print run report")
				}
			}
			if err != nil {
				return err
			}
			if !report.Result.Succeeded() {
				return withExitCode(exitRunFailed, fmt.Errorf("run %s %s", report.Result.RunID, report.Result.Status))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keep, "keep", false, "keep provisioned resources after the run")
	cmd.Flags().BoolVar(&skipSweep, "skip-sweep", false, "do not sweep old resources before the run")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (default: generated)")

	return cmd
}

func executeRun(ctx context.Context, a *app, runID string) (*runReport, error) {
	cfg := a.cfg
	report := &runReport{Kept: cfg.Run.KeepResources}

	if !cfg.Run.SkipSweep {
		sweep, err := a.sweep(ctx)
		report.Sweep = sweep
		if err != nil {
			return report, fmt.Errorf("sweep failed: %w", err)
		}
	}

	sourceEndpoint, destEndpoint := cfg.SourceEndpoint(), cfg.DestinationEndpoint()
	if cfg.Tunnel.Enabled {
		tunnel, err := ssh.NewTunnel(&cfg.Tunnel.SSH, ssh.WithLogger(a.logger))
		if err != nil {
			return report, err
		}
		defer func() {
			if err := tunnel.Close(); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to close tunnel")
			}
		}()

		if sourceEndpoint, err = tunnel.Expose(ctx, cfg.Source.LocalAddress); err != nil {
			return report, fmt.Errorf("failed to expose source: %w", err)
		}
		if destEndpoint, err = tunnel.Expose(ctx, cfg.Destination.LocalAddress); err != nil {
			return report, fmt.Errorf("failed to expose destination: %w", err)
		}

		info := tunnel.Info()
		a.logger.Info().
			Str("tunnel_host", info.Host).
			Int("forwards", info.Forwards).
			Str("source", sourceEndpoint.String()).
			Str("destination", destEndpoint.String()).
			Msg("Local databases exposed through tunnel")
	}

	destSpec, err := cfg.DestinationSpec(destEndpoint)
	if err != nil {
		return report, err
	}

	policies, err := newPolicyEngine(ctx, a)
	if err != nil {
		return report, err
	}

	options := []engine.OrchestratorOption{engine.WithExclusions(policies)}
	if !cfg.Verify.Skip {
		catalog, err := verify.Connect(ctx, verify.Config{
			Address:        cfg.VerifyAddress(),
			User:           cfg.Destination.User,
			Password:       cfg.Destination.Password,
			Database:       cfg.Destination.Database,
			SSLMode:        cfg.Verify.SSLMode,
			ConnectTimeout: cfg.Verify.ConnectTimeout,
		})
		if err != nil {
			return report, fmt.Errorf("failed to connect to destination for verification: %w", err)
		}
		defer catalog.Close()
		options = append(options, engine.WithVerifier(verify.New(catalog, verify.WithLogger(a.logger))))
	}

	orch := a.orchestrator(options...)
	result, runErr := orch.Run(ctx, engine.RunRequest{
		RunID:       runID,
		Destination: destSpec,
		Source:      cfg.SourceSpec(sourceEndpoint),
	})
	report.Result = result

	if cfg.Run.KeepResources {
		a.logger.Info().Interface("provisioned", result.Provisioned).Msg("Keeping provisioned resources")
		return report, runErr
	}

	// Teardown must survive a cancelled run context.
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	tdErr := orch.Teardown(tctx, result.Provisioned)
	a.audit(tctx, "teardown", result.RunID, result.Provisioned)
	if tdErr != nil {
		report.Teardown = tdErr.Error()
	} else if !result.Provisioned.IsEmpty() {
		report.Teardown = "ok"
	}

	return report, errors.Join(runErr, tdErr)
}

// newPolicyEngine builds the exclusion policy engine from the configuration.
func newPolicyEngine(ctx context.Context, a *app) (*policy.Engine, error) {
	cfg := a.cfg.Policy

	eng, err := policy.NewEngine(a.logger, policy.WithStaticExclusions(cfg.Exclude...))
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(cfg.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, cfg.Paths); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	for _, name := range cfg.Disabled {
		if err := eng.DisablePolicy(name); err != nil {
			return nil, fmt.Errorf("failed to disable policy %s: %w", name, err)
		}
	}
	return eng, nil
}

func (r *runReport) text(w io.Writer) error {
	res := r.Result

	if r.Sweep != nil {
		fmt.Fprintf(w, "Sweep:        %d deleted, %d kept\n", len(r.Sweep.Deleted), r.Sweep.Kept)
	}
	fmt.Fprintf(w, "Run:          %s\n", res.RunID)
	fmt.Fprintf(w, "Group:        %s (%s)\n", res.GroupName, orDash(res.Provisioned.GroupID))
	fmt.Fprintf(w, "Destination:  %s\n", orDash(res.Provisioned.DestinationID))
	fmt.Fprintf(w, "Connector:    %s\n", orDash(res.Provisioned.ConnectorID))
	fmt.Fprintf(w, "Status:       %s\n", res.Status)
	if res.FailedPhase != "" {
		fmt.Fprintf(w, "Failed phase: %s\n", res.FailedPhase)
	}
	if res.Error != "" {
		fmt.Fprintf(w, "Error:        %s\n", res.Error)
	}
	fmt.Fprintf(w, "Columns:      %d enabled, %d excluded\n", res.Summary.EnabledColumns, res.Summary.DisabledColumns)
	if res.Sync != nil {
		fmt.Fprintf(w, "Sync:         %s\n", res.Sync.Outcome)
	}
	if v := res.Verification; v != nil {
		fmt.Fprintf(w, "Verification: passed=%t checked=%d\n", v.Passed, v.Checked)
		for _, p := range v.Problems {
			fmt.Fprintf(w, "  - %s\n", p)
		}
	}
	switch {
	case r.Kept:
		fmt.Fprintln(w, "Teardown:     skipped (--keep)")
	case r.Teardown != "":
		fmt.Fprintf(w, "Teardown:     %s\n", r.Teardown)
	}
	return nil
}
