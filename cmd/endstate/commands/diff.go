package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/report"
)

func newDiffCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <left> <right>",
		Short: "Compare two run artifacts",
		Long: `Compare two JSON run artifacts field by field, such as two saved plans
or two "--json" outputs of apply or verify.

Items are matched by app id, so reordering a manifest does not show up as a
change.`,
		Example: `  endstate diff plan-yesterday.json plan.json`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			left, err := os.ReadFile(args[0])
			if err != nil {
				return fail(cmd, flags, "diff", engine.NewInputError("ARTIFACT_UNREADABLE", "cannot read "+args[0], err))
			}
			right, err := os.ReadFile(args[1])
			if err != nil {
				return fail(cmd, flags, "diff", engine.NewInputError("ARTIFACT_UNREADABLE", "cannot read "+args[1], err))
			}

			delta, err := report.Diff(left, right)
			if err != nil {
				return fail(cmd, flags, "diff", engine.NewInputError("ARTIFACT_INVALID", "cannot compare artifacts", err))
			}

			return finish(cmd, flags, report.DiffDocument(args[0], args[1], delta), engine.ExitSuccess)
		},
	}

	return cmd
}
