package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/report"
)

func newVersionCommand(flags *globalFlags, version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return finish(cmd, flags, report.MessageDocument("endstate",
				report.NewField("version", version),
				report.NewField("commit", commit),
				report.NewField("built", buildDate),
				report.NewField("platform", runtime.GOOS+"/"+runtime.GOARCH),
			), engine.ExitSuccess)
		},
	}
}
