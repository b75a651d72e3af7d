package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/report"
)

func newVerifyCommand(flags *globalFlags) *cobra.Command {
	var (
		manifestPath string
		only         []string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check this machine against a manifest",
		Long: `Check every app in the manifest without installing anything.

Apps are reported ok, missing, or below their version constraint. An app
whose installed version cannot be determined never satisfies a constraint.
Installed software the manifest does not mention is listed as extra.

The result is recorded as the state document's lastVerify.`,
		Example: `  # Verify a manifest
  endstate verify --manifest machine.yaml

  # Machine-readable result
  endstate verify -m machine.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := openSession(ctx, flags)
			if err != nil {
				return fail(cmd, flags, "verify", err)
			}
			defer sess.close()

			eng, err := sess.newEngine(ctx, manifestPath)
			if err != nil {
				return fail(cmd, flags, "verify", err)
			}

			log.Info().Str("manifest", manifestPath).Msg("Verifying manifest")

			res, err := eng.Verify(ctx, manifestPath, engine.VerifyOptions{Only: only})
			if err != nil {
				if res == nil {
					return fail(cmd, flags, "verify", err)
				}
				// The pass ran; its result stays authoritative.
				log.Error().Err(err).Msg("Verify did not complete")
			}

			return finish(cmd, flags, report.VerifyDocument(res), res.ExitCode)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "manifest file to verify")
	cmd.Flags().StringSliceVar(&only, "only", nil, "restrict the check to these app ids")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}
