package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/report"
	"github.com/openfroyo/endstate/pkg/stores"
)

func newHistoryCommand(flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List recorded apply and verify runs, newest first.

Dry runs and plans are not recorded.`,
		Example: `  endstate history --limit 5`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := openSession(ctx, flags)
			if err != nil {
				return fail(cmd, flags, "history", err)
			}
			defer sess.close()

			if sess.history == nil {
				return fail(cmd, flags, "history", engine.NewInputError("HISTORY_DISABLED", "run history is not available", errors.New("history is disabled or could not be opened")))
			}

			runs, err := sess.history.ListRuns(ctx, limit, 0)
			if err != nil {
				return fail(cmd, flags, "history", engine.NewStateError(engine.ErrCodeStateIO, "cannot read run history", err))
			}

			return finish(cmd, flags, report.HistoryDocument(runs), engine.ExitSuccess)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")

	cmd.AddCommand(newHistoryDeleteCommand(flags))

	return cmd
}

func newHistoryDeleteCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete a recorded run",
		Long: `Delete a recorded run together with its items and events.

The deletion is recorded in the audit trail.`,
		Example: `  endstate history delete 3f2b8c1e-7d4a-4e0b-9a51-2c6f0d8e4b17`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]

			sess, err := openSession(ctx, flags)
			if err != nil {
				return fail(cmd, flags, "history delete", err)
			}
			defer sess.close()

			if sess.history == nil {
				return fail(cmd, flags, "history delete", engine.NewInputError("HISTORY_DISABLED", "run history is not available", errors.New("history is disabled or could not be opened")))
			}

			if err := sess.history.DeleteRun(ctx, runID); err != nil {
				if errors.Is(err, stores.ErrRunNotFound) {
					return fail(cmd, flags, "history delete", engine.NewInputError("RUN_NOT_FOUND", "no such run", err))
				}
				return fail(cmd, flags, "history delete", engine.NewStateError(engine.ErrCodeStateIO, "cannot delete run", err))
			}
			sess.audit(ctx, "history.delete", runID, nil)

			return finish(cmd, flags, report.MessageDocument("history delete",
				report.NewField("run", runID),
				report.NewField("result", "success"),
			), engine.ExitSuccess)
		},
	}
}
