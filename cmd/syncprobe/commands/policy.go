package commands

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openfroyo/syncprobe/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect exclusion policies",
	}

	cmd.AddCommand(newPolicyListCommand())

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in and configured policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, "", needs{})
			if err != nil {
				return err
			}
			defer a.close()

			eng, err := newPolicyEngine(ctx, a)
			if err != nil {
				return err
			}
			policies := eng.ListPolicies()

			return render(cmd.OutOrStdout(), outputFormat, policies, func(w io.Writer) error {
				return policyTable(w, policies)
			})
		},
	}
}

func policyTable(w io.Writer, policies []policy.Policy) error {
	if len(policies) == 0 {
		_, err := fmt.Fprintln(w, "No policies")
		return err
	}

	rows := make([][]string, 0, len(policies))
	for _, p := range policies {
		source := p.Source
		if p.Builtin {
			source = "builtin"
		}
		rows = append(rows, []string{
			p.Name,
			orDash(p.Package),
			strconv.FormatBool(p.Enabled),
			orDash(source),
			orDash(p.Description),
		})
	}
	return table(w, []string{"NAME", "PACKAGE", "ENABLED", "SOURCE", "DESCRIPTION"}, rows)
}
