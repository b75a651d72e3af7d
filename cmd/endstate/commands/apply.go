package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/report"
	"github.com/openfroyo/endstate/pkg/telemetry"
)

func newApplyCommand(flags *globalFlags) *cobra.Command {
	var (
		manifestPath string
		dryRun       bool
		skipVerify   bool
		only         []string
		eventsPath   string
		eventsLevel  string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile this machine with a manifest",
		Long: `Install what the manifest declares and this machine lacks.

This command:
  - Loads the manifest and checks it against the manifest policies
  - Checks every app, in manifest order
  - Installs missing apps and upgrades apps below their version constraint
  - Verifies the result (unless --skip-verify)
  - Writes the state document once, atomically

A dry run reports what would happen without installing anything or writing
state.`,
		Example: `  # Apply a manifest
  endstate apply --manifest machine.yaml

  # Show what would change
  endstate apply --manifest machine.yaml --dry-run

  # Apply two apps only and stream events as JSON lines to stderr
  endstate apply -m machine.yaml --only git,vscode --events -

  # Stream only failures to a file
  endstate apply -m machine.yaml --events events.jsonl --events-level error`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			filter, err := eventLevelFilter(eventsLevel)
			if err != nil {
				return fail(cmd, flags, "apply", engine.NewInputError("EVENTS_LEVEL_INVALID", "invalid event level", err))
			}

			sess, err := openSession(ctx, flags)
			if err != nil {
				return fail(cmd, flags, "apply", err)
			}
			defer sess.close()

			if eventsPath != "" {
				w, closeEvents, err := openEventStream(cmd, eventsPath)
				if err != nil {
					return fail(cmd, flags, "apply", engine.NewInputError("EVENTS_UNWRITABLE", "cannot open event stream", err))
				}
				defer closeEvents()
				sess.telemetry.Events.Subscribe(telemetry.JSONLinesSubscriber(w), filter)
			}

			eng, err := sess.newEngine(ctx, manifestPath)
			if err != nil {
				return fail(cmd, flags, "apply", err)
			}

			log.Info().
				Str("manifest", manifestPath).
				Bool("dry_run", dryRun).
				Strs("only", only).
				Msg("Applying manifest")

			res, err := eng.Apply(ctx, manifestPath, engine.ApplyOptions{
				DryRun:     dryRun,
				SkipVerify: skipVerify,
				Only:       only,
			})
			if err != nil {
				if res == nil {
					return fail(cmd, flags, "apply", err)
				}
				// The pass ran; its result stays authoritative.
				log.Error().Err(err).Msg("Apply did not complete")
			}

			return finish(cmd, flags, report.ApplyDocument(res), res.ExitCode)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "manifest file to apply")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without changing anything")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "skip the verification pass")
	cmd.Flags().StringSliceVar(&only, "only", nil, "restrict the run to these app ids")
	cmd.Flags().StringVar(&eventsPath, "events", "", "write run events as JSON lines to this file (- for stderr)")
	cmd.Flags().StringVar(&eventsLevel, "events-level", telemetry.EventLevelInfo, "lowest event level to stream (info, warning, error)")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

// openEventStream opens the JSON-lines event destination. "-" is stderr, so
// stdout keeps carrying only the command result.
func openEventStream(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "-" {
		return cmd.ErrOrStderr(), func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, func() {
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to close event stream")
		}
	}, nil
}

func eventLevelFilter(level string) (telemetry.EventFilter, error) {
	switch level {
	case telemetry.EventLevelInfo:
		return nil, nil
	case telemetry.EventLevelWarning, telemetry.EventLevelError:
		return telemetry.FilterByLevel(level), nil
	default:
		return nil, fmt.Errorf("unknown event level %q", level)
	}
}
