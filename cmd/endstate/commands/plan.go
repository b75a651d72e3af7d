package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/report"
)

func newPlanCommand(flags *globalFlags) *cobra.Command {
	var (
		manifestPath string
		outFile      string
		only         []string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Save what an apply would do",
		Long: `Run a dry-run apply and save the outcome as a plan artifact.

Nothing is installed and no state is written. Two plans taken at different
times can be compared with "endstate diff".`,
		Example: `  # Save a plan
  endstate plan --manifest machine.yaml --out plan.json

  # Compare with an older plan
  endstate diff plan-yesterday.json plan.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := openSession(ctx, flags)
			if err != nil {
				return fail(cmd, flags, "plan", err)
			}
			defer sess.close()

			eng, err := sess.newEngine(ctx, manifestPath)
			if err != nil {
				return fail(cmd, flags, "plan", err)
			}

			plan, err := eng.Plan(ctx, manifestPath, engine.ApplyOptions{Only: only})
			if err != nil {
				return fail(cmd, flags, "plan", err)
			}

			if outFile != "" {
				if err := writePlan(outFile, plan); err != nil {
					return fail(cmd, flags, "plan", engine.NewFatalError(engine.ErrCodeInternal, "cannot save plan", err))
				}
				log.Info().Str("out", outFile).Str("run_id", plan.RunID).Msg("Plan saved")
			}

			return finish(cmd, flags, report.PlanDocument(plan), engine.ExitSuccess)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "manifest file to plan")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the plan artifact to this file")
	cmd.Flags().StringSliceVar(&only, "only", nil, "restrict the plan to these app ids")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

func writePlan(path string, plan *engine.Plan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}
