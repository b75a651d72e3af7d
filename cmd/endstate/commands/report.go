package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/drift"
	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/manifest"
	"github.com/openfroyo/endstate/pkg/report"
)

func newReportCommand(flags *globalFlags) *cobra.Command {
	var (
		manifestPath string
		live         bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the recorded state",
		Long: `Show the state document: the last apply, the last verification and
what each run saw of every app.

With --manifest the report also shows the drift between the manifest and
the apps the last run observed. --live computes that drift from the package
manager instead. A machine that was never applied reports hasState=false.`,
		Example: `  # Show the recorded state
  endstate report

  # Compare the recorded state with a manifest
  endstate report --manifest machine.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := openSession(ctx, flags)
			if err != nil {
				return fail(cmd, flags, "report", err)
			}
			defer sess.close()

			state, err := sess.state.Read()
			if err != nil {
				return fail(cmd, flags, "report", engine.FromStateError(err))
			}

			var (
				m *manifest.Manifest
				d *drift.Report
			)
			if manifestPath != "" {
				loader, err := manifestLoader()
				if err != nil {
					return fail(cmd, flags, "report", err)
				}
				if m, err = loader.Load(manifestPath); err != nil {
					return fail(cmd, flags, "report", engine.FromManifestError(err))
				}

				computed := report.ObservedDrift(state, m)
				if live {
					computed, err = liveDrift(cmd, sess, manifestPath, m)
					if err != nil {
						return fail(cmd, flags, "report", err)
					}
				}
				d = &computed
			}

			return finish(cmd, flags, report.ReportDocument(report.Build(state, m, d)), engine.ExitSuccess)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "manifest to compare the state with")
	cmd.Flags().BoolVar(&live, "live", false, "compute drift from the package manager instead of the recorded state")

	return cmd
}

// liveDrift compares m with the package manager's current installed list.
func liveDrift(cmd *cobra.Command, sess *session, manifestPath string, m *manifest.Manifest) (drift.Report, error) {
	dispatcher, err := sess.dispatcher(sess.settings.EngineConfig(manifestPath))
	if err != nil {
		return drift.Report{}, err
	}

	observed, err := dispatcher.Observed(cmd.Context())
	if err != nil {
		return drift.Report{}, engine.NewFatalError(engine.ErrCodeDriverUnavailable, "cannot list installed software", err)
	}
	log.Debug().Int("installed", len(observed)).Msg("Listed installed software")

	return drift.Compute(m, observed, dispatcher.InstallableID), nil
}
