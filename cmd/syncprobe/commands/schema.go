package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
	"github.com/openfroyo/syncprobe/pkg/policy"
	"github.com/openfroyo/syncprobe/pkg/schemafilter"
)

// schemaPreview is what schema preview prints.
type schemaPreview struct {
	Summary   schemafilter.Summary          `json:"summary" yaml:"summary"`
	Changes   []schemafilter.Change         `json:"changes" yaml:"changes"`
	Decisions []policy.Decision             `json:"decisions" yaml:"decisions"`
	Static    int                           `json:"static" yaml:"static"`
	Policies  []string                      `json:"evaluated_policies" yaml:"evaluated_policies"`
	Request   *fivetran.SchemaUpdateRequest `json:"request,omitempty" yaml:"request,omitempty"`
}

func newSchemaCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect connector schemas",
	}

	cmd.AddCommand(newSchemaPreviewCommand(version))

	return cmd
}

func newSchemaPreviewCommand(version string) *cobra.Command {
	var (
		connectorID string
		fromFile    string
		reload      bool
		showRequest bool
		watch       bool
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show which columns the exclusion policies disable",
		Long: `Evaluate the exclusion policies against a discovered schema and show the
columns that would be disabled, without changing anything.

The schema is read from a live connector (--connector) or from a file holding
the JSON schema config as returned by the API (--from-file). With --watch the
preview is printed again whenever a policy file changes.`,
		Example: `  # Preview against a saved schema
  syncprobe schema preview --from-file schema.json

  # Reload a connector schema first and print the request body as JSON
  syncprobe schema preview --connector conn_1 --reload --request -o json

  # Re-evaluate while editing policies
  syncprobe schema preview --from-file schema.json --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if (connectorID == "") == (fromFile == "") {
				return errors.New("exactly one of --connector or --from-file is required")
			}
			if reload && connectorID == "" {
				return errors.New("--reload requires --connector")
			}

			a, err := newApp(ctx, version, needs{api: connectorID != ""})
			if err != nil {
				return err
			}
			defer a.close()

			var discovered *fivetran.SchemaConfig
			switch {
			case fromFile != "":
				discovered, err = readSchemaFile(fromFile)
			case reload:
				discovered, err = a.client.ReloadSchema(ctx, connectorID)
			default:
				discovered, err = a.client.GetSchema(ctx, connectorID)
			}
			if err != nil {
				return err
			}

			eng, err := newPolicyEngine(ctx, a)
			if err != nil {
				return err
			}

			handling := fivetran.SchemaChangeHandling(a.cfg.Run.SchemaChangeHandling)
			show := func() error {
				preview, err := previewSchema(ctx, eng, discovered, handling)
				if err != nil {
					return err
				}
				if !showRequest {
					preview.Request = nil
				}
				return render(cmd.OutOrStdout(), outputFormat, preview, preview.text)
			}

			if err := show(); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			if len(a.cfg.Policy.Paths) == 0 {
				return errors.New("--watch requires policy.paths")
			}

			loader := policy.NewLoader(a.logger)
			err = loader.Watch(ctx, a.cfg.Policy.Paths, func(policies []policy.Policy) error {
				if err := eng.ReplacePolicies(ctx, policies); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\n--- %s: policies reloaded\n", time.Now().Format(time.TimeOnly))
				if err := show(); err != nil {
					a.logger.Warn().Err(err).Msg("Failed to evaluate reloaded policies")
				}
				return nil
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := loader.StopWatching(); err != nil {
					a.logger.Warn().Err(err).Msg("Failed to stop policy watcher")
				}
			}()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&connectorID, "connector", "", "read the schema of this connector")
	cmd.Flags().StringVar(&fromFile, "from-file", "", "read the schema from a JSON file")
	cmd.Flags().BoolVar(&reload, "reload", false, "reload the connector schema from the source first")
	cmd.Flags().BoolVar(&showRequest, "request", false, "include the schema update request body")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-evaluate when policy files change")

	return cmd
}

func previewSchema(ctx context.Context, eng *policy.Engine, discovered *fivetran.SchemaConfig, handling fivetran.SchemaChangeHandling) (*schemaPreview, error) {
	result, err := eng.Evaluate(ctx, discovered)
	if err != nil {
		return nil, err
	}

	req := schemafilter.BuildRequest(discovered, result.Exclusions, handling)
	return &schemaPreview{
		Summary:   schemafilter.Summarize(req.Schemas),
		Changes:   schemafilter.Diff(discovered, req.Schemas),
		Decisions: result.Decisions,
		Static:    result.Static,
		Policies:  result.EvaluatedPolicies,
		Request:   req,
	}, nil
}

// readSchemaFile accepts either a bare schema config or the API envelope
// around one.
func readSchemaFile(path string) (*fivetran.SchemaConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	var envelope struct {
		Data *fivetran.SchemaConfig `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Data != nil && envelope.Data.Schemas != nil {
		return envelope.Data, nil
	}

	var schema fivetran.SchemaConfig
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	if schema.Schemas == nil {
		return nil, fmt.Errorf("schema file %s has no schemas", path)
	}
	return &schema, nil
}

func (p *schemaPreview) text(w io.Writer) error {
	s := p.Summary
	fmt.Fprintf(w, "Schemas: %d  Tables: %d  Columns: %d (%d enabled, %d excluded)\n",
		s.Schemas, s.Tables, s.Columns, s.EnabledColumns, s.DisabledColumns)
	fmt.Fprintf(w, "Policies: %d evaluated, %d static exclusions\n\n", len(p.Policies), p.Static)

	if len(p.Changes) == 0 {
		fmt.Fprintln(w, "No columns change")
	} else {
		rows := make([][]string, 0, len(p.Changes))
		for _, c := range p.Changes {
			rows = append(rows, []string{c.Schema, c.Table, c.Column, onOff(c.Before), onOff(c.After)})
		}
		if err := table(w, []string{"SCHEMA", "TABLE", "COLUMN", "BEFORE", "AFTER"}, rows); err != nil {
			return err
		}
	}

	if len(p.Decisions) > 0 {
		fmt.Fprintln(w)
		rows := make([][]string, 0, len(p.Decisions))
		for _, d := range p.Decisions {
			rows = append(rows, []string{d.Policy, d.Schema + "." + d.Table + "." + d.Column, orDash(d.Reason)})
		}
		if err := table(w, []string{"POLICY", "COLUMN", "REASON"}, rows); err != nil {
			return err
		}
	}

	if p.Request != nil {
		fmt.Fprintln(w)
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p.Request)
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
