package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/report"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	stateDir   string
	verbose    bool
	jsonOutput bool

	// version is reported as the telemetry service version.
	version string
}

// exitError carries a process exit code out of a command whose output has
// already been rendered.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, version, commit, buildDate string) int {
	rootCmd := newRootCommand(version, commit, buildDate)

	return exitCodeOf(rootCmd.ExecuteContext(ctx))
}

func exitCodeOf(err error) int {
	if err == nil {
		return engine.ExitSuccess
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	// Flag and argument errors never reach a command.
	log.Error().Err(err).Msg("Command execution failed")
	return engine.ExitInputError
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	flags := &globalFlags{version: version}

	rootCmd := &cobra.Command{
		Use:   "endstate",
		Short: "endstate - declarative software reconciliation",
		Long: `endstate brings a machine to the software set declared in a manifest.

Each run:
  - Loads the manifest and resolves its includes
  - Checks every app with the package manager or a custom detection rule
  - Installs what is missing and upgrades what is below its constraint
  - Verifies the result and records it in the state document`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "settings file path")
	rootCmd.PersistentFlags().StringVar(&flags.stateDir, "state-dir", "", "directory holding the state document and run history")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newApplyCommand(flags))
	rootCmd.AddCommand(newVerifyCommand(flags))
	rootCmd.AddCommand(newPlanCommand(flags))
	rootCmd.AddCommand(newReportCommand(flags))
	rootCmd.AddCommand(newDiffCommand(flags))
	rootCmd.AddCommand(newStateCommand(flags))
	rootCmd.AddCommand(newValidateCommand(flags))
	rootCmd.AddCommand(newHistoryCommand(flags))
	rootCmd.AddCommand(newVersionCommand(flags, version, commit, buildDate))

	return rootCmd
}

// render writes doc to the command's output in the selected format.
func render(cmd *cobra.Command, flags *globalFlags, doc report.Document) error {
	if flags.jsonOutput {
		return report.RenderJSON(cmd.OutOrStdout(), doc)
	}
	return report.RenderText(cmd.OutOrStdout(), doc)
}

// finish renders doc and turns a non-zero exit code into an exitError.
func finish(cmd *cobra.Command, flags *globalFlags, doc report.Document, exitCode int) error {
	if err := render(cmd, flags, doc); err != nil {
		log.Error().Err(err).Msg("Failed to render output")
		return &exitError{code: engine.ExitFailure}
	}
	if exitCode != engine.ExitSuccess {
		return &exitError{code: exitCode}
	}
	return nil
}

// fail renders err as the command's output and returns its exit code.
func fail(cmd *cobra.Command, flags *globalFlags, command string, err error) error {
	log.Debug().Err(err).Str("command", command).Msg("Command failed")
	return finish(cmd, flags, report.ErrorDocument(command, err), engine.ExitCode(err))
}
