package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/report"
	"github.com/openfroyo/endstate/pkg/stores"
)

func newStateCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Manage the state document",
		Long: `Reset, export or import the state document.

State operations are recorded in the run history audit trail.`,
	}

	cmd.AddCommand(newStateResetCommand(flags))
	cmd.AddCommand(newStateExportCommand(flags))
	cmd.AddCommand(newStateImportCommand(flags))

	return cmd
}

func newStateResetCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the state document",
		Long: `Delete the state document. The next report shows hasState=false.
Resetting a machine without state is not an error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := openSession(ctx, flags)
			if err != nil {
				return fail(cmd, flags, "state reset", err)
			}
			defer sess.close()

			if err := sess.state.Reset(); err != nil {
				return fail(cmd, flags, "state reset", engine.FromStateError(err))
			}
			sess.audit(ctx, "state.reset", sess.state.Path(), nil)
			log.Info().Str("path", sess.state.Path()).Msg("State reset")

			return finish(cmd, flags, report.MessageDocument("state reset",
				report.NewField("state path", sess.state.Path()),
				report.NewField("result", "success"),
			), engine.ExitSuccess)
		},
	}
}

func newStateExportCommand(flags *globalFlags) *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the state document to a file",
		Long: `Write the state document to a file. A machine without state exports an
empty document, so the export can always be imported.`,
		Example: `  endstate state export --out machine-state.json`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := openSession(ctx, flags)
			if err != nil {
				return fail(cmd, flags, "state export", err)
			}
			defer sess.close()

			if err := sess.state.Export(outFile); err != nil {
				return fail(cmd, flags, "state export", engine.FromStateError(err))
			}
			sess.audit(ctx, "state.export", outFile, map[string]string{"source": sess.state.Path()})

			return finish(cmd, flags, report.MessageDocument("state export",
				report.NewField("state path", sess.state.Path()),
				report.NewField("out", outFile),
				report.NewField("result", "success"),
			), engine.ExitSuccess)
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "file to write")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func newStateImportCommand(flags *globalFlags) *cobra.Command {
	var (
		inFile string
		mode   string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a state document from a file",
		Long: `Load a state document from a file.

merge (the default) keeps the newer of each lastApplied and lastVerify
record and overlays the imported app observations. replace backs up the
current document next to it and overwrites it.

The imported document is validated before anything is written; a document
with a missing or unsupported schemaVersion is rejected.`,
		Example: `  # Merge a state document into the current one
  endstate state import --in machine-state.json

  # Replace the current document
  endstate state import --in machine-state.json --mode replace`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			importMode := stores.ImportMode(mode)
			if err := importMode.Validate(); err != nil {
				return fail(cmd, flags, "state import", engine.NewInputError("IMPORT_MODE_INVALID", "invalid import mode", err))
			}

			sess, err := openSession(ctx, flags)
			if err != nil {
				return fail(cmd, flags, "state import", err)
			}
			defer sess.close()

			res, err := sess.state.Import(inFile, importMode)
			if err != nil {
				return fail(cmd, flags, "state import", engine.FromStateError(err))
			}
			sess.audit(ctx, "state.import", sess.state.Path(), map[string]string{
				"source": inFile,
				"mode":   string(res.Mode),
				"backup": res.BackupPath,
			})

			fields := []report.Field{
				report.NewField("state path", sess.state.Path()),
				report.NewField("in", inFile),
				report.NewField("mode", res.Mode),
			}
			if res.BackupPath != "" {
				fields = append(fields, report.NewField("backup", res.BackupPath))
			}
			fields = append(fields,
				report.NewField("apps", len(res.State.AppsObserved)),
				report.NewField("result", "success"),
			)

			return finish(cmd, flags, report.MessageDocument("state import", fields...), engine.ExitSuccess)
		},
	}

	cmd.Flags().StringVarP(&inFile, "in", "i", "", "state document to import")
	cmd.Flags().StringVar(&mode, "mode", string(stores.ImportMerge), "import mode (merge or replace)")
	_ = cmd.MarkFlagRequired("in")

	return cmd
}
