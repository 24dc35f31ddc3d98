package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/syncprobe/pkg/config"
)

// validationResult is what validate-config prints.
type validationResult struct {
	Valid    bool                     `json:"valid" yaml:"valid"`
	File     string                   `json:"file,omitempty" yaml:"file,omitempty"`
	Problems []config.ValidationError `json:"problems,omitempty" yaml:"problems,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var (
		requireAPI       bool
		requireDatabases bool
	)

	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Check a configuration file",
		Long: `Load a configuration file with its environment overrides and report every
problem found. By default credentials and database endpoints are not
required; --require-api and --require-databases check them as the run
command would.

Exits with status 3 when the configuration is invalid.`,
		Example: `  syncprobe validate-config -c syncprobe.yaml
  syncprobe validate-config -c syncprobe.yaml --require-api --require-databases -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result := checkConfig(configPath, requireAPI, requireDatabases)

			if err := render(cmd.OutOrStdout(), outputFormat, result, result.text); err != nil {
				return err
			}
			if !result.Valid {
				return withExitCode(exitInvalidConf, fmt.Errorf("configuration has %d problem(s)", len(result.Problems)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&requireAPI, "require-api", false, "require API credentials")
	cmd.Flags().BoolVar(&requireDatabases, "require-databases", false, "require source and destination endpoints")

	return cmd
}

func checkConfig(path string, requireAPI, requireDatabases bool) *validationResult {
	result := &validationResult{File: path}

	cfg, err := config.Load(path)
	if err != nil {
		result.Problems = problemsOf(err, path)
		return result
	}

	if requireAPI {
		if err := cfg.RequireAPI(); err != nil {
			result.Problems = append(result.Problems, problemsOf(err, path)...)
		}
	}
	if requireDatabases {
		if err := cfg.RequireDatabases(); err != nil {
			result.Problems = append(result.Problems, problemsOf(err, path)...)
		}
	}

	result.Valid = len(result.Problems) == 0
	return result
}

func problemsOf(err error, path string) []config.ValidationError {
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs
	}
	return []config.ValidationError{{File: path, Message: err.Error(), Severity: "error"}}
}

func (r *validationResult) text(w io.Writer) error {
	name := r.File
	if name == "" {
		name = "environment"
	}
	if r.Valid {
		_, err := fmt.Fprintf(w, "%s: configuration is valid\n", name)
		return err
	}
	for _, p := range r.Problems {
		fmt.Fprintf(w, "%s [%s]\n", p.String(), p.Severity)
	}
	return nil
}
