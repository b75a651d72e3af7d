package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/manifest"
	"github.com/openfroyo/endstate/pkg/report"
)

func newValidateCommand(flags *globalFlags) *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a manifest without touching the machine",
		Long: `Check a manifest without calling any package manager.

This command checks:
  - Syntax (YAML, JSON or JSON with comments)
  - Includes, which must resolve without cycles
  - Schema conformance and duplicate app ids
  - Manifest policies (built-in and from the policy directory)`,
		Example: `  endstate validate --manifest machine.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := openSession(ctx, flags)
			if err != nil {
				return fail(cmd, flags, "validate", err)
			}
			defer sess.close()

			loader, err := manifestLoader()
			if err != nil {
				return fail(cmd, flags, "validate", err)
			}
			m, err := loader.Load(manifestPath)
			if err != nil {
				return fail(cmd, flags, "validate", engine.FromManifestError(err))
			}
			hash, err := loader.Hash(manifestPath)
			if err != nil {
				return fail(cmd, flags, "validate", engine.NewInputError(engine.ErrCodeManifestUnreadable, "cannot hash manifest", err))
			}

			pe, err := sess.policyEngine(ctx, sess.settings.EngineConfig(manifestPath))
			if err != nil {
				return fail(cmd, flags, "validate", err)
			}
			result, err := pe.EvaluateManifest(ctx, m, "validate")
			if err != nil {
				return fail(cmd, flags, "validate", engine.NewFatalError(engine.ErrCodeInternal, "policy evaluation failed", err))
			}
			if !result.Allowed {
				denied := make([]string, 0, len(result.Violations))
				for _, v := range result.Violations {
					denied = append(denied, v.String())
				}
				return fail(cmd, flags, "validate", engine.NewPolicyError("manifest denied by policy", denied))
			}

			fields := []report.Field{
				report.NewField("manifest", m.Path),
				report.NewField("hash", hash),
				report.NewField("apps", len(m.Apps)),
				report.NewField("policies", len(result.EvaluatedPolicies)),
				report.NewField("warnings", len(result.Warnings)),
			}
			for _, w := range result.Warnings {
				fields = append(fields, report.NewField("warning "+w.Policy, w.String()))
			}
			fields = append(fields, report.NewField("result", "success"))

			return finish(cmd, flags, report.MessageDocument("validate", fields...), engine.ExitSuccess)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "manifest file to validate")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

func manifestLoader() (*manifest.Loader, error) {
	loader, err := manifest.NewLoader()
	if err != nil {
		return nil, engine.NewFatalError(engine.ErrCodeInternal, "cannot initialize manifest loader", err)
	}
	return loader, nil
}
