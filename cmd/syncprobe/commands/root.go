package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath   string
	verbose      bool
	outputFormat string
)

// Exit codes
const (
	exitError       = 1
	exitRunFailed   = 2
	exitInvalidConf = 3
)

// codedError carries a process exit code through cobra.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

// ExitCode returns the process exit code for an error returned by Execute.
func ExitCode(err error) int {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitError
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "syncprobe",
		Short: "syncprobe - end-to-end validation of database replication",
		Long: `syncprobe validates a replication pipeline end to end.

A run provisions a throwaway group, a postgres warehouse destination and a
postgres connector, waits for the connector setup, excludes columns by
policy, runs a historical sync to completion and checks the destination.
Everything a run creates is deleted afterwards, and leftovers older than
the retention threshold are swept before each run.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validateOutputFormat(outputFormat)
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default: environment only)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatText, "output format (text, json, yaml)")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newGCCommand(version))
	rootCmd.AddCommand(newTeardownCommand(version))
	rootCmd.AddCommand(newSchemaCommand(version))
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
